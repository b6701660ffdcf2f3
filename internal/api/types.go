package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"

	"github.com/aevum/verdict/internal/evaluation"
	"github.com/aevum/verdict/internal/logger"
	"github.com/aevum/verdict/internal/ruleengine"
	"github.com/aevum/verdict/internal/store"
)

// RuleRequest defines the payload for creating a rule or appending a version.
type RuleRequest struct {
	// ID is optional on create (generated when blank) and taken from the
	// URL on update.
	ID string `json:"id,omitempty"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Conditions []ruleengine.RuleCondition `json:"conditions"`
	Actions    []ruleengine.RuleAction    `json:"actions"`

	Priority int               `json:"priority"`
	Metadata map[string]string `json:"metadata,omitempty"`

	EffectiveFrom  *time.Time `json:"effective_from,omitempty"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`

	// Actor identifies who performs the change, for audit stamps.
	Actor string `json:"actor,omitempty"`
}

// Sanitize cleans up input data by trimming whitespace.
func (r *RuleRequest) Sanitize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.Actor = strings.TrimSpace(r.Actor)
}

// Validate performs the surface-level checks; structural rule validation
// (operators, nesting depth) happens in the domain layer.
func (r *RuleRequest) Validate() *ErrorResponse {
	if r.Name == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Name is required",
		}
	}
	if len(r.Name) > 255 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Name must be less than 255 characters",
		}
	}
	return nil
}

// ToRule maps the DTO onto the domain entity. Lifecycle fields (version,
// status, stamps) are owned by the service layer.
func (r *RuleRequest) ToRule() *ruleengine.Rule {
	return &ruleengine.Rule{
		ID:             r.ID,
		Name:           r.Name,
		Description:    r.Description,
		Conditions:     r.Conditions,
		Actions:        r.Actions,
		Priority:       r.Priority,
		Metadata:       r.Metadata,
		EffectiveFrom:  r.EffectiveFrom,
		EffectiveUntil: r.EffectiveUntil,
	}
}

// EvaluateRequest defines the payload for POST /api/v1/evaluations.
type EvaluateRequest struct {
	RuleID string `json:"rule_id"`

	// RuleVersion pins a version; 0 or omitted evaluates the latest.
	RuleVersion int `json:"rule_version,omitempty"`

	// RequestID is the caller-supplied idempotency key. Required.
	RequestID string `json:"request_id"`

	// Context holds the fields conditions are matched against.
	Context map[string]ruleengine.Value `json:"context"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Sanitize trims identifier fields.
func (r *EvaluateRequest) Sanitize() {
	r.RuleID = strings.TrimSpace(r.RuleID)
	r.RequestID = strings.TrimSpace(r.RequestID)
}

// Validate checks the evaluation request surface.
func (r *EvaluateRequest) Validate() *ErrorResponse {
	if r.RuleID == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "rule_id is required",
		}
	}
	if r.RequestID == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "request_id is required",
		}
	}
	if r.RuleVersion < 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "rule_version cannot be negative",
		}
	}
	return nil
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`
}

// renderError maps domain errors onto HTTP status codes and the structured
// error body. Unknown errors become opaque 500s; the details stay in the log.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case ruleengine.IsNotFound(err):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Code: "ERR_RULE_NOT_FOUND", Message: err.Error()})

	case ruleengine.IsInvalidRule(err):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_RULE", Message: err.Error()})

	case ruleengine.IsEvaluationError(err):
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, ErrorResponse{Code: "ERR_EVALUATION_FAILED", Message: err.Error()})

	case errors.Is(err, store.ErrVersionConflict):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, ErrorResponse{Code: "ERR_VERSION_CONFLICT", Message: err.Error()})

	case errors.Is(err, evaluation.ErrMissingRequestID):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: err.Error()})

	default:
		logger.FromContext(r.Context()).Error("request failed", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Internal server error"})
	}
}
