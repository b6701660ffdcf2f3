// Package evaluation orchestrates rule evaluation: idempotency, rule
// retrieval, running the evaluator, persisting the decision and notifying
// the event timeline.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aevum/verdict/internal/cache"
	"github.com/aevum/verdict/internal/clock"
	"github.com/aevum/verdict/internal/logger"
	"github.com/aevum/verdict/internal/observability"
	"github.com/aevum/verdict/internal/ruleengine"
	"github.com/aevum/verdict/internal/store"
	"github.com/aevum/verdict/internal/timeline"
	"github.com/aevum/verdict/internal/validation"
)

// ErrMissingRequestID is returned when an evaluation request carries no
// idempotency key.
var ErrMissingRequestID = errors.New("request id is required")

// notifyTimeout bounds the detached timeline notification, which runs on a
// context disconnected from the HTTP request.
const notifyTimeout = 20 * time.Second

// Request is one evaluation request.
type Request struct {
	// RuleID identifies the rule to evaluate.
	RuleID string

	// RuleVersion pins a version; 0 evaluates the latest.
	RuleVersion int

	// RequestID is the caller-supplied idempotency key.
	RequestID string

	// Data is the context payload conditions are matched against.
	Data map[string]ruleengine.Value

	Metadata map[string]string
}

// Service is the evaluation orchestrator. It guarantees at most one Decision
// per request id, delegating the race to the store's uniqueness constraint
// rather than in-process locking, so the guarantee holds across replicas.
type Service struct {
	rules     store.RuleRepository
	decisions store.DecisionRepository
	ruleCache cache.Service
	evaluator *ruleengine.Evaluator
	clk       clock.Clock
	notifier  timeline.Notifier
	logger    *slog.Logger
}

// NewService wires the orchestrator dependencies.
func NewService(
	rules store.RuleRepository,
	decisions store.DecisionRepository,
	ruleCache cache.Service,
	evaluator *ruleengine.Evaluator,
	clk clock.Clock,
	notifier timeline.Notifier,
	log *slog.Logger,
) *Service {
	validation.AssertNotNil(evaluator, "evaluator")
	if rules == nil {
		panic("evaluation: rule repository cannot be nil")
	}
	if decisions == nil {
		panic("evaluation: decision repository cannot be nil")
	}
	if ruleCache == nil {
		ruleCache = cache.Noop{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if notifier == nil {
		notifier = timeline.NoopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		rules:     rules,
		decisions: decisions,
		ruleCache: ruleCache,
		evaluator: evaluator,
		clk:       clk,
		notifier:  notifier,
		logger:    log,
	}
}

// EvaluateRule evaluates a rule against the request context and records the
// decision. Replays of an already-seen request id return the stored decision
// without re-evaluating, with replayed set to true; a request that loses the
// insert race to a concurrent caller is a replay too. Evaluation failures
// propagate and persist nothing.
func (s *Service) EvaluateRule(ctx context.Context, req Request) (decision *ruleengine.Decision, replayed bool, err error) {
	if req.RequestID == "" {
		return nil, false, ErrMissingRequestID
	}

	log := logger.FromContext(ctx).With(
		slog.String("rule_id", req.RuleID),
		slog.String("request_id", req.RequestID),
	)

	// Fast path: the request id was already decided.
	existing, err := s.decisions.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		log.Info("returning existing decision for request",
			slog.String("decision_id", existing.ID))
		observability.EvaluationsTotal.WithLabelValues("replayed").Inc()
		return existing, true, nil
	}

	rule, err := s.getRule(ctx, req.RuleID, req.RuleVersion)
	if err != nil {
		return nil, false, err
	}

	evalCtx := ruleengine.EvaluationContext{
		Data:      req.Data,
		RequestID: req.RequestID,
		Timestamp: s.clk.Now(),
		Metadata:  req.Metadata,
	}

	started := time.Now()
	result, err := s.evaluator.Evaluate(*rule, evalCtx)
	if err != nil {
		// Nothing is persisted for a failed evaluation; a retry with the
		// same request id starts from a clean slate.
		log.Warn("rule evaluation failed", slog.Any("error", err))
		observability.EvaluationsTotal.WithLabelValues("error").Inc()
		return nil, false, err
	}

	decision = &ruleengine.Decision{
		ID:                   uuid.NewString(),
		RuleID:               rule.ID,
		RuleVersion:          rule.Version,
		RequestID:            req.RequestID,
		Status:               result.Status,
		InputContext:         req.Data,
		MatchedConditions:    result.MatchedConditions,
		ExecutedActions:      result.ActionsToExecute,
		EvaluatedAt:          evalCtx.Timestamp,
		DeterministicHash:    result.DeterministicHash,
		OutputData:           result.OutputData,
		EvaluationDurationMs: time.Since(started).Milliseconds(),
	}

	if err := s.decisions.Create(ctx, decision); err != nil {
		if errors.Is(err, store.ErrDuplicateRequestID) {
			// Lost the race: another request with the same id committed
			// first. Its decision is the authoritative one.
			winner, readErr := s.decisions.GetByRequestID(ctx, req.RequestID)
			if readErr != nil {
				return nil, false, fmt.Errorf("failed to read winning decision: %w", readErr)
			}
			if winner == nil {
				return nil, false, fmt.Errorf("decision for request %q vanished after conflict", req.RequestID)
			}
			log.Info("lost idempotency race, returning stored decision",
				slog.String("decision_id", winner.ID))
			return winner, true, nil
		}
		return nil, false, fmt.Errorf("failed to persist decision: %w", err)
	}

	log.Info("decision recorded",
		slog.String("decision_id", decision.ID),
		slog.String("status", string(decision.Status)),
		slog.String("hash", decision.DeterministicHash),
	)
	observability.EvaluationsTotal.WithLabelValues(string(decision.Status)).Inc()
	observability.EvaluationDuration.Observe(time.Since(started).Seconds())

	s.notifyTimelineAsync(log, decision)

	return decision, false, nil
}

// GetDecision fetches a decision by id, nil when absent.
func (s *Service) GetDecision(ctx context.Context, id string) (*ruleengine.Decision, error) {
	return s.decisions.GetByID(ctx, id)
}

// GetDecisionByRequestID fetches the decision for an idempotency key, nil when absent.
func (s *Service) GetDecisionByRequestID(ctx context.Context, requestID string) (*ruleengine.Decision, error) {
	return s.decisions.GetByRequestID(ctx, requestID)
}

// ListDecisionsByRule lists the most recent decisions for a rule.
func (s *Service) ListDecisionsByRule(ctx context.Context, ruleID string) ([]ruleengine.Decision, error) {
	return s.decisions.GetByRuleID(ctx, ruleID)
}

// getRule resolves a rule through the cache, falling back to the store.
func (s *Service) getRule(ctx context.Context, id string, version int) (*ruleengine.Rule, error) {
	if cached, err := s.ruleCache.GetRule(ctx, id, version); err == nil && cached != nil {
		return cached, nil
	}

	rule, err := s.rules.GetByID(ctx, id, version)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %q: %w", id, err)
	}
	if rule == nil {
		return nil, ruleengine.NewRuleNotFound(id, version)
	}

	// Best effort: a cache write failure never blocks the evaluation.
	if err := s.ruleCache.SetRule(ctx, rule, version == 0); err != nil {
		logger.FromContext(ctx).Warn("failed to cache rule",
			slog.String("rule_id", id), slog.Any("error", err))
	}
	return rule, nil
}

// DecisionEvent is the timeline payload: a summary identifying the decision,
// never the full record. The input context and trace stay internal.
type DecisionEvent struct {
	DecisionID        string                    `json:"decision_id"`
	RuleID            string                    `json:"rule_id"`
	RuleVersion       int                       `json:"rule_version"`
	Status            ruleengine.DecisionStatus `json:"status"`
	EvaluatedAt       time.Time                 `json:"evaluated_at"`
	DeterministicHash string                    `json:"deterministic_hash"`
}

// notifyTimelineAsync publishes a decision summary to the event timeline on a
// detached goroutine. The notifier owns retries and circuit breaking; here we
// only detach from the request lifecycle.
func (s *Service) notifyTimelineAsync(log *slog.Logger, decision *ruleengine.Decision) {
	event := DecisionEvent{
		DecisionID:        decision.ID,
		RuleID:            decision.RuleID,
		RuleVersion:       decision.RuleVersion,
		Status:            decision.Status,
		EvaluatedAt:       decision.EvaluatedAt,
		DeterministicHash: decision.DeterministicHash,
	}

	go func() {
		// Context disconnected from the HTTP request.
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		streamID := "decision-" + event.DecisionID
		if ok := s.notifier.IngestEvent(ctx, streamID, "decision.evaluated", event); !ok {
			log.Error("failed to publish decision to timeline",
				slog.String("decision_id", event.DecisionID))
		}
	}()
}
