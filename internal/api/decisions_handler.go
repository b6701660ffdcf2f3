package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/aevum/verdict/internal/evaluation"
	"github.com/aevum/verdict/internal/logger"
	"github.com/aevum/verdict/internal/ruleengine"
)

// handleEvaluate processes POST /api/v1/evaluations.
//
// Replays of an already-seen request id return the stored decision with
// 200 OK; a fresh evaluation answers 201 Created. Both carry the same body
// shape, so idempotent clients can treat them uniformly.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req EvaluateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	decision, replayed, err := a.evaluations.EvaluateRule(r.Context(), evaluation.Request{
		RuleID:      req.RuleID,
		RuleVersion: req.RuleVersion,
		RequestID:   req.RequestID,
		Data:        req.Context,
		Metadata:    req.Metadata,
	})
	if err != nil {
		renderError(w, r, err)
		return
	}

	// The orchestrator reports replays itself, covering both the fast path
	// and a lost insert race against a concurrent caller.
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	render.Status(r, status)
	render.JSON(w, r, decision)
}

// handleGetDecision processes GET /api/v1/decisions/{id}.
func (a *API) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	decision, err := a.evaluations.GetDecision(r.Context(), id)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if decision == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_DECISION_NOT_FOUND",
			Message: "No decision with this id",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, decision)
}

// handleGetDecisionByRequestID processes GET /api/v1/decisions?request_id=...
func (a *API) handleGetDecisionByRequestID(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: "query parameter 'request_id' is required",
		})
		return
	}

	decision, err := a.evaluations.GetDecisionByRequestID(r.Context(), requestID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if decision == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_DECISION_NOT_FOUND",
			Message: "No decision recorded for this request id",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, decision)
}

// handleListRuleDecisions processes GET /api/v1/rules/{id}/decisions.
func (a *API) handleListRuleDecisions(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	decisions, err := a.evaluations.ListDecisionsByRule(r.Context(), ruleID)
	if err != nil {
		renderError(w, r, err)
		return
	}

	if decisions == nil {
		decisions = []ruleengine.Decision{}
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, decisions)
}
