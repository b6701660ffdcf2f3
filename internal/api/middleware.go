package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aevum/verdict/internal/logger"
	"github.com/aevum/verdict/internal/observability"
)

// injectLogger places a request-scoped logger into the context so every layer
// below the handler logs with the request id attached.
func (a *API) injectLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := middleware.GetReqID(r.Context())
		log := a.logger.With(slog.String("request_id", reqID))
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), log)))
	})
}

// RequestLogger creates a middleware that logs the start and end of each request.
// It integrates with slog to provide structured logs including RequestID, Method, Path, Status, and Duration.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := middleware.GetReqID(r.Context())

		// Wrap the ResponseWriter to capture the status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		// Info for success, Warn for 4xx, Error for 5xx
		level := slog.LevelInfo
		status := ww.Status()

		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		logger.FromContext(r.Context()).Log(r.Context(), level, "HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", duration.String(),
			"request_id", reqID,
			"remote_ip", r.RemoteAddr,
		)

		// Label metrics with the route pattern ("/api/v1/rules/{id}") instead
		// of the raw path to keep cardinality bounded.
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		observability.HTTPReqDuration.WithLabelValues(r.Method, pattern).Observe(duration.Seconds())
		observability.HTTPReqTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(status)).Inc()
	})
}
