// Package api implements the REST API for the decision evaluation service.
// It handles HTTP routing, request decoding, validation, and response formatting.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/aevum/verdict/internal/evaluation"
	"github.com/aevum/verdict/internal/rules"
)

// API holds dependencies and the router for the REST surface.
// It follows the dependency injection pattern to facilitate testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// rules is the rule lifecycle manager.
	rules *rules.Service

	// evaluations is the evaluation orchestrator.
	evaluations *evaluation.Service

	// logger is injected into every request context by the middleware stack.
	logger *slog.Logger
}

// NewAPI creates a new API instance.
//
// Panics if ruleSvc or evalSvc are nil.
func NewAPI(ruleSvc *rules.Service, evalSvc *evaluation.Service, log *slog.Logger) *API {
	if ruleSvc == nil {
		panic("api: rule service cannot be nil")
	}
	if evalSvc == nil {
		panic("api: evaluation service cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	api := &API{
		Router:      chi.NewRouter(),
		rules:       ruleSvc,
		evaluations: evalSvc,
		logger:      log,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// RequestID: adds a unique ID to each request context (essential for tracing).
	a.Router.Use(middleware.RequestID)
	// RealIP: correctly sets the IP if behind a proxy/LB.
	a.Router.Use(middleware.RealIP)
	// Inject the request-scoped logger before anything logs.
	a.Router.Use(a.injectLogger)
	a.Router.Use(RequestLogger)
	// Recoverer: prevents the server from crashing on panics, returning 500 instead.
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Route("/rules", func(r chi.Router) {
			r.Post("/", a.handleCreateRule)
			r.Get("/", a.handleListRules)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetRule)
				r.Put("/", a.handleUpdateRule)
				r.Delete("/", a.handleDeleteRule)
				r.Post("/activate", a.handleActivateRule)
				r.Post("/deactivate", a.handleDeactivateRule)
				r.Get("/decisions", a.handleListRuleDecisions)
			})
		})

		r.Post("/evaluations", a.handleEvaluate)

		r.Route("/decisions", func(r chi.Router) {
			r.Get("/", a.handleGetDecisionByRequestID)
			r.Get("/{id}", a.handleGetDecision)
		})
	})
}

// handleHealthCheck reports HTTP serving capability. Deep dependency checks
// live on the observability server's readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
