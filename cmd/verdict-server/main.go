// Package main initializes and runs the Verdict decision evaluation service.
//
// It acts as the composition root: it wires PostgreSQL, Redis, the timeline
// notifier and the HTTP API together and handles the server lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aevum/verdict/internal/api"
	"github.com/aevum/verdict/internal/cache"
	"github.com/aevum/verdict/internal/clock"
	"github.com/aevum/verdict/internal/config"
	"github.com/aevum/verdict/internal/database"
	"github.com/aevum/verdict/internal/evaluation"
	"github.com/aevum/verdict/internal/logger"
	"github.com/aevum/verdict/internal/observability"
	"github.com/aevum/verdict/internal/ruleengine"
	"github.com/aevum/verdict/internal/rules"
	"github.com/aevum/verdict/internal/store"
	"github.com/aevum/verdict/internal/timeline"
)

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	ctx := context.Background()

	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.New(&cfg.App)
	slog.SetDefault(appLogger)
	cfg.LogConfig(appLogger)

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------

	dbPool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer dbPool.Close()

	// Redis is optional. Without it, rule lookups hit PostgreSQL directly.
	var ruleCache cache.Service = cache.Noop{}
	checkers := []observability.Checker{database.NewHealthChecker(dbPool)}

	if cfg.Redis.IsConfigured() {
		redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		ruleCache = cache.NewRedisRuleCache(redisClient, &cfg.Redis)
		checkers = append(checkers, cache.NewHealthChecker(redisClient))
	} else {
		appLogger.Warn("redis not configured, rule caching disabled")
	}
	defer ruleCache.Close()

	// The timeline notifier is also optional; evaluation never depends on it.
	var notifier timeline.Notifier = timeline.NoopNotifier{}
	if cfg.Timeline.IsConfigured() {
		notifier = timeline.NewClient(&cfg.Timeline, appLogger)
	} else {
		appLogger.Warn("timeline not configured, decision notifications disabled")
	}

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------

	ruleStore := store.NewPostgresRuleStore(dbPool)
	decisionStore := store.NewPostgresDecisionStore(dbPool)

	evaluator := ruleengine.NewEvaluator(appLogger)
	clk := clock.System{}

	ruleService := rules.NewService(ruleStore, ruleCache, clk, appLogger)
	evalService := evaluation.NewService(
		ruleStore, decisionStore, ruleCache, evaluator, clk, notifier, appLogger)

	restAPI := api.NewAPI(ruleService, evalService, appLogger)

	// -------------------------------------------------------------------------
	// 4. Observability Server
	// -------------------------------------------------------------------------

	var obsServer *observability.Server
	if cfg.Observability.Enabled {
		obsServer = observability.NewServer(appLogger, &cfg.Observability, checkers...)
		obsServer.Start()
	}

	// -------------------------------------------------------------------------
	// 5. HTTP Server
	// -------------------------------------------------------------------------

	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           http.MaxBytesHandler(restAPI.Router, cfg.Server.MaxBodyBytes),
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		appLogger.Info("starting http server", slog.String("addr", server.Addr))

		var serveErr error
		if cfg.Server.TLSEnabled {
			serveErr = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server failed: %w", serveErr)
		}
	}()

	// -------------------------------------------------------------------------
	// 6. Graceful Shutdown
	// -------------------------------------------------------------------------

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		appLogger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	if obsServer != nil {
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("observability server shutdown failed", slog.Any("error", err))
		}
	}

	appLogger.Info("service exited successfully")
	return nil
}
