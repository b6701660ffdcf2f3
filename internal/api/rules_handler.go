package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/aevum/verdict/internal/logger"
	"github.com/aevum/verdict/internal/ruleengine"
)

// handleCreateRule processes POST /api/v1/rules.
//
// The new rule is created at version 1 in Draft status; activation is a
// separate, explicit step.
func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req RuleRequest
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

	created, err := a.rules.CreateRule(r.Context(), req.ToRule(), req.Actor)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, created)
}

// handleGetRule processes GET /api/v1/rules/{id}. The optional "version"
// query parameter pins a version; absent or 0 means the latest.
func (a *API) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	version, err := parseOptionalInt(r, "version", 0)
	if err != nil || version < 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: "parameter 'version' must be a non-negative integer",
		})
		return
	}

	rule, err := a.rules.GetRule(r.Context(), id, version)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, rule)
}

// handleListRules processes GET /api/v1/rules. The optional "status" query
// parameter filters by lifecycle state; the default lists Active rules.
func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	var (
		listed []ruleengine.Rule
		err    error
	)
	if status == "" {
		listed, err = a.rules.ListActiveRules(r.Context())
	} else {
		listed, err = a.rules.ListRulesByStatus(r.Context(), ruleengine.RuleStatus(status))
	}
	if err != nil {
		renderError(w, r, err)
		return
	}

	if listed == nil {
		listed = []ruleengine.Rule{}
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, listed)
}

// handleUpdateRule processes PUT /api/v1/rules/{id}. The update appends a new
// version; the request body carries the complete new content.
func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req RuleRequest
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
	req.ID = chi.URLParam(r, "id")
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	updated, err := a.rules.UpdateRule(r.Context(), req.ToRule(), req.Actor)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, updated)
}

// handleActivateRule processes POST /api/v1/rules/{id}/activate.
func (a *API) handleActivateRule(w http.ResponseWriter, r *http.Request) {
	a.handleStatusChange(w, r, a.rules.ActivateRule)
}

// handleDeactivateRule processes POST /api/v1/rules/{id}/deactivate.
func (a *API) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	a.handleStatusChange(w, r, a.rules.DeactivateRule)
}

type statusChangeFn func(ctx context.Context, id, actor string) (*ruleengine.Rule, error)

func (a *API) handleStatusChange(w http.ResponseWriter, r *http.Request, change statusChangeFn) {
	id := chi.URLParam(r, "id")
	actor := r.URL.Query().Get("actor")

	rule, err := change(r.Context(), id, actor)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, rule)
}

// handleDeleteRule processes DELETE /api/v1/rules/{id}.
func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := a.rules.DeleteRule(r.Context(), id); err != nil {
		renderError(w, r, err)
		return
	}

	render.NoContent(w, r)
}

// parseOptionalInt extracts an integer from the query string.
// If the parameter is missing, it returns the defaultValue.
// It only returns an error if the parameter is present but malformed.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}
