// Package rules implements the rule lifecycle manager: creation, append-only
// versioned updates, activation state changes and deletion.
package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aevum/verdict/internal/cache"
	"github.com/aevum/verdict/internal/clock"
	"github.com/aevum/verdict/internal/logger"
	"github.com/aevum/verdict/internal/ruleengine"
	"github.com/aevum/verdict/internal/store"
)

// Service manages rule lifecycle on top of the versioned rule store.
type Service struct {
	rules     store.RuleRepository
	ruleCache cache.Service
	clk       clock.Clock
	logger    *slog.Logger
}

// NewService wires the lifecycle manager dependencies.
func NewService(rules store.RuleRepository, ruleCache cache.Service, clk clock.Clock, log *slog.Logger) *Service {
	if rules == nil {
		panic("rules: rule repository cannot be nil")
	}
	if ruleCache == nil {
		ruleCache = cache.Noop{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{rules: rules, ruleCache: ruleCache, clk: clk, logger: log}
}

// CreateRule validates and persists a brand-new rule at version 1 in Draft
// status. A missing id is generated.
func (s *Service) CreateRule(ctx context.Context, rule *ruleengine.Rule, createdBy string) (*ruleengine.Rule, error) {
	if rule == nil {
		return nil, fmt.Errorf("rule cannot be nil")
	}

	now := s.clk.Now()

	created := *rule
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	created.Version = 1
	created.Status = ruleengine.RuleStatusDraft
	created.CreatedAt = now
	created.UpdatedAt = now
	created.CreatedBy = createdBy
	created.UpdatedBy = createdBy

	if err := ruleengine.ValidateRule(&created); err != nil {
		return nil, err
	}

	if err := s.rules.Create(ctx, &created); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("rule created",
		slog.String("rule_id", created.ID),
		slog.String("name", created.Name),
	)
	return &created, nil
}

// UpdateRule appends a new version carrying the updated content. The prior
// versions remain untouched and retrievable. When two updates race from the
// same latest version, the store's uniqueness constraint fails the loser with
// store.ErrVersionConflict.
func (s *Service) UpdateRule(ctx context.Context, updated *ruleengine.Rule, updatedBy string) (*ruleengine.Rule, error) {
	if updated == nil {
		return nil, fmt.Errorf("rule cannot be nil")
	}

	current, err := s.rules.GetByID(ctx, updated.ID, 0)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ruleengine.NewRuleNotFound(updated.ID, 0)
	}

	now := s.clk.Now()

	next := *updated
	next.Version = current.Version + 1
	// Creation provenance is carried forward across versions.
	next.CreatedAt = current.CreatedAt
	next.CreatedBy = current.CreatedBy
	next.UpdatedAt = now
	next.UpdatedBy = updatedBy
	if next.Status == "" {
		next.Status = current.Status
	}

	if err := ruleengine.ValidateRule(&next); err != nil {
		return nil, err
	}

	if err := s.rules.Create(ctx, &next); err != nil {
		return nil, err
	}

	s.invalidate(ctx, next.ID, next.Version)

	logger.FromContext(ctx).Info("rule version appended",
		slog.String("rule_id", next.ID),
		slog.Int("version", next.Version),
	)
	return &next, nil
}

// ActivateRule marks the latest version of a rule Active.
func (s *Service) ActivateRule(ctx context.Context, id, updatedBy string) (*ruleengine.Rule, error) {
	return s.setStatus(ctx, id, ruleengine.RuleStatusActive, updatedBy)
}

// DeactivateRule marks the latest version of a rule Inactive.
func (s *Service) DeactivateRule(ctx context.Context, id, updatedBy string) (*ruleengine.Rule, error) {
	return s.setStatus(ctx, id, ruleengine.RuleStatusInactive, updatedBy)
}

// DeleteRule removes every version of the rule. Decisions referencing the
// rule are audit records and deliberately survive.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	current, err := s.rules.GetByID(ctx, id, 0)
	if err != nil {
		return err
	}
	if current == nil {
		return ruleengine.NewRuleNotFound(id, 0)
	}

	if err := s.rules.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, id, current.Version)

	logger.FromContext(ctx).Info("rule deleted", slog.String("rule_id", id))
	return nil
}

// GetRule fetches one rule, latest version when version is 0.
func (s *Service) GetRule(ctx context.Context, id string, version int) (*ruleengine.Rule, error) {
	rule, err := s.rules.GetByID(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ruleengine.NewRuleNotFound(id, version)
	}
	return rule, nil
}

// ListActiveRules lists the latest version of every Active rule, highest
// priority first.
func (s *Service) ListActiveRules(ctx context.Context) ([]ruleengine.Rule, error) {
	return s.rules.GetActive(ctx)
}

// ListRulesByStatus lists the latest version of every rule in the status.
func (s *Service) ListRulesByStatus(ctx context.Context, status ruleengine.RuleStatus) ([]ruleengine.Rule, error) {
	if !status.Valid() {
		return nil, &ruleengine.InvalidRuleError{
			Violations: []string{fmt.Sprintf("unknown status %q", status)},
		}
	}
	return s.rules.GetByStatus(ctx, status)
}

func (s *Service) setStatus(ctx context.Context, id string, status ruleengine.RuleStatus, updatedBy string) (*ruleengine.Rule, error) {
	current, err := s.rules.GetByID(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ruleengine.NewRuleNotFound(id, 0)
	}

	current.Status = status
	current.UpdatedAt = s.clk.Now()
	current.UpdatedBy = updatedBy

	if err := s.rules.Update(ctx, current); err != nil {
		return nil, err
	}

	s.invalidate(ctx, id, current.Version)

	logger.FromContext(ctx).Info("rule status changed",
		slog.String("rule_id", id),
		slog.String("status", string(status)),
	)
	return current, nil
}

// invalidate drops cached copies; failures are logged, never propagated.
func (s *Service) invalidate(ctx context.Context, id string, version int) {
	if err := s.ruleCache.Invalidate(ctx, id, version); err != nil {
		logger.FromContext(ctx).Warn("failed to invalidate rule cache",
			slog.String("rule_id", id), slog.Any("error", err))
	}
}
