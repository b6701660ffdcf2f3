// Package store provides the data access layer for rules and decisions,
// backed by PostgreSQL through the pgx driver.
//
// The rules table is an append-only version log: every content change
// inserts a new (rule_id, version) row and prior versions stay retrievable
// forever. "Latest" is always a query (max version for the id), never a
// pointer held in memory.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aevum/verdict/internal/ruleengine"
)

// pgUniqueViolation is the PostgreSQL error code for unique_violation.
const pgUniqueViolation = "23505"

// ErrVersionConflict is returned when an insert collides with an existing
// (rule_id, version) pair. Two concurrent updates that read the same latest
// version race to the same next number; the unique index makes the loser
// fail loudly instead of silently duplicating a version.
var ErrVersionConflict = errors.New("rule version already exists")

// Compile-time check that PostgresRuleStore implements RuleRepository.
var _ RuleRepository = (*PostgresRuleStore)(nil)

// RuleRepository defines the persistence operations for versioned rules.
// Implementations must be safe for concurrent use.
type RuleRepository interface {
	// GetByID fetches one rule. version 0 means the latest version.
	// A missing rule returns (nil, nil).
	GetByID(ctx context.Context, id string, version int) (*ruleengine.Rule, error)

	// GetLatestVersion returns the highest stored version for the id,
	// or 0 when the rule does not exist.
	GetLatestVersion(ctx context.Context, id string) (int, error)

	// GetActive lists the latest version of every Active rule,
	// highest priority first.
	GetActive(ctx context.Context) ([]ruleengine.Rule, error)

	// GetByStatus lists the latest version of every rule in the given
	// status, most recently updated first.
	GetByStatus(ctx context.Context, status ruleengine.RuleStatus) ([]ruleengine.Rule, error)

	// Create appends a new rule version. It fails with ErrVersionConflict
	// when the (id, version) pair already exists.
	Create(ctx context.Context, rule *ruleengine.Rule) error

	// Update rewrites the status, updated_at and updated_by of an existing
	// (id, version) row. Content fields are immutable; lifecycle state is
	// the only thing that changes in place.
	Update(ctx context.Context, rule *ruleengine.Rule) error

	// Delete removes every version of the rule.
	Delete(ctx context.Context, id string) error
}

// PostgresRuleStore is the RuleRepository implementation backed by PostgreSQL.
type PostgresRuleStore struct {
	db *pgxpool.Pool
}

// NewPostgresRuleStore creates a rule store on the given connection pool.
func NewPostgresRuleStore(db *pgxpool.Pool) *PostgresRuleStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `rule_id, version, name, description, conditions, actions,
	status, priority, created_at, updated_at, created_by, updated_by,
	metadata, effective_from, effective_until`

// GetByID fetches a rule by id, either a specific version or the latest.
func (s *PostgresRuleStore) GetByID(ctx context.Context, id string, version int) (*ruleengine.Rule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM rules
		WHERE rule_id = $1 AND ($2 = 0 OR version = $2)
		ORDER BY version DESC
		LIMIT 1
	`, ruleColumns)

	row := s.db.QueryRow(ctx, query, id, version)
	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %q: %w", id, err)
	}
	return rule, nil
}

// GetLatestVersion returns max(version) for the rule id, 0 when absent.
func (s *PostgresRuleStore) GetLatestVersion(ctx context.Context, id string) (int, error) {
	var version int
	query := `SELECT COALESCE(MAX(version), 0) FROM rules WHERE rule_id = $1`

	if err := s.db.QueryRow(ctx, query, id).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get latest version of rule %q: %w", id, err)
	}
	return version, nil
}

// GetActive lists the latest version of every Active rule, highest priority first.
func (s *PostgresRuleStore) GetActive(ctx context.Context) ([]ruleengine.Rule, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (rule_id) %s FROM rules
		WHERE status = $1
		ORDER BY rule_id, version DESC
	`, ruleColumns)

	rules, err := s.queryRules(ctx, query, ruleengine.RuleStatusActive)
	if err != nil {
		return nil, err
	}

	// DISTINCT ON fixes the per-rule ordering; re-sort by priority here
	// rather than nesting the query.
	sortRulesByPriority(rules)
	return rules, nil
}

// GetByStatus lists the latest version of every rule in the given status.
func (s *PostgresRuleStore) GetByStatus(ctx context.Context, status ruleengine.RuleStatus) ([]ruleengine.Rule, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (rule_id) %s FROM rules
		WHERE status = $1
		ORDER BY rule_id, version DESC
	`, ruleColumns)

	rules, err := s.queryRules(ctx, query, status)
	if err != nil {
		return nil, err
	}

	sortRulesByUpdatedAt(rules)
	return rules, nil
}

// Create appends a new rule version.
func (s *PostgresRuleStore) Create(ctx context.Context, rule *ruleengine.Rule) error {
	conditions, actions, metadata, err := marshalRuleFields(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rules (rule_id, version, name, description, conditions, actions,
			status, priority, created_at, updated_at, created_by, updated_by,
			metadata, effective_from, effective_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = s.db.Exec(ctx, query,
		rule.ID, rule.Version, rule.Name, rule.Description,
		conditions, actions,
		string(rule.Status), rule.Priority,
		rule.CreatedAt, rule.UpdatedAt,
		nullable(rule.CreatedBy), nullable(rule.UpdatedBy),
		metadata, rule.EffectiveFrom, rule.EffectiveUntil,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("rule %q version %d: %w", rule.ID, rule.Version, ErrVersionConflict)
		}
		return fmt.Errorf("failed to insert rule %q version %d: %w", rule.ID, rule.Version, err)
	}
	return nil
}

// Update rewrites lifecycle state of an existing version.
func (s *PostgresRuleStore) Update(ctx context.Context, rule *ruleengine.Rule) error {
	query := `
		UPDATE rules
		SET status = $3, updated_at = $4, updated_by = $5
		WHERE rule_id = $1 AND version = $2
	`

	tag, err := s.db.Exec(ctx, query,
		rule.ID, rule.Version,
		string(rule.Status), rule.UpdatedAt, nullable(rule.UpdatedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to update rule %q version %d: %w", rule.ID, rule.Version, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update rule %q version %d: no such row", rule.ID, rule.Version)
	}
	return nil
}

// Delete removes all versions of the rule.
func (s *PostgresRuleStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM rules WHERE rule_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete rule %q: %w", id, err)
	}
	return nil
}

// --- Private helpers ---

func (s *PostgresRuleStore) queryRules(ctx context.Context, query string, status ruleengine.RuleStatus) ([]ruleengine.Rule, error) {
	rows, err := s.db.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []ruleengine.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return rules, nil
}

// scanRule maps a row onto the domain entity, decoding the JSONB columns.
func scanRule(row pgx.Row) (*ruleengine.Rule, error) {
	var (
		rule                 ruleengine.Rule
		status               string
		conditionsJSON       []byte
		actionsJSON          []byte
		metadataJSON         []byte
		createdBy, updatedBy *string
	)

	err := row.Scan(
		&rule.ID, &rule.Version, &rule.Name, &rule.Description,
		&conditionsJSON, &actionsJSON,
		&status, &rule.Priority,
		&rule.CreatedAt, &rule.UpdatedAt,
		&createdBy, &updatedBy,
		&metadataJSON, &rule.EffectiveFrom, &rule.EffectiveUntil,
	)
	if err != nil {
		return nil, err
	}

	rule.Status = ruleengine.RuleStatus(status)
	if createdBy != nil {
		rule.CreatedBy = *createdBy
	}
	if updatedBy != nil {
		rule.UpdatedBy = *updatedBy
	}
	if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
		return nil, fmt.Errorf("corrupt conditions column: %w", err)
	}
	if err := json.Unmarshal(actionsJSON, &rule.Actions); err != nil {
		return nil, fmt.Errorf("corrupt actions column: %w", err)
	}
	if err := json.Unmarshal(metadataJSON, &rule.Metadata); err != nil {
		return nil, fmt.Errorf("corrupt metadata column: %w", err)
	}
	return &rule, nil
}

func marshalRuleFields(rule *ruleengine.Rule) (conditions, actions, metadata []byte, err error) {
	if conditions, err = json.Marshal(emptyIfNilConditions(rule.Conditions)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	if actions, err = json.Marshal(emptyIfNilActions(rule.Actions)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	meta := rule.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	if metadata, err = json.Marshal(meta); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return conditions, actions, metadata, nil
}

func emptyIfNilConditions(c []ruleengine.RuleCondition) []ruleengine.RuleCondition {
	if c == nil {
		return []ruleengine.RuleCondition{}
	}
	return c
}

func emptyIfNilActions(a []ruleengine.RuleAction) []ruleengine.RuleAction {
	if a == nil {
		return []ruleengine.RuleAction{}
	}
	return a
}

// nullable maps the empty string onto SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sortRulesByPriority(rules []ruleengine.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
}

func sortRulesByUpdatedAt(rules []ruleengine.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].UpdatedAt.After(rules[j].UpdatedAt)
	})
}
