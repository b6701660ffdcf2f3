package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aevum/verdict/internal/ruleengine"
)

// ErrDuplicateRequestID is returned when an insert collides with an existing
// decision for the same request id. The unique index on request_id is the
// idempotency barrier: under concurrent duplicate requests exactly one insert
// wins and every loser surfaces this error.
var ErrDuplicateRequestID = errors.New("decision already exists for request id")

// decisionListLimit bounds GetByRuleID result sets.
const decisionListLimit = 100

// Compile-time check that PostgresDecisionStore implements DecisionRepository.
var _ DecisionRepository = (*PostgresDecisionStore)(nil)

// DecisionRepository defines the persistence operations for decisions.
// Decisions are append-only: there is no update or delete.
type DecisionRepository interface {
	// GetByID fetches one decision. A missing decision returns (nil, nil).
	GetByID(ctx context.Context, id string) (*ruleengine.Decision, error)

	// GetByRequestID fetches the decision recorded for an idempotency key,
	// or (nil, nil) when none exists yet.
	GetByRequestID(ctx context.Context, requestID string) (*ruleengine.Decision, error)

	// GetByRuleID lists decisions produced by any version of the rule,
	// most recent first, capped at 100.
	GetByRuleID(ctx context.Context, ruleID string) ([]ruleengine.Decision, error)

	// Create inserts a decision. It fails with ErrDuplicateRequestID when a
	// decision for the same request id already exists.
	Create(ctx context.Context, decision *ruleengine.Decision) error
}

// PostgresDecisionStore is the DecisionRepository implementation backed by PostgreSQL.
type PostgresDecisionStore struct {
	db *pgxpool.Pool
}

// NewPostgresDecisionStore creates a decision store on the given connection pool.
func NewPostgresDecisionStore(db *pgxpool.Pool) *PostgresDecisionStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresDecisionStore{db: db}
}

const decisionColumns = `decision_id, rule_id, rule_version, request_id, status,
	input_context, matched_conditions, executed_actions, evaluated_at,
	deterministic_hash, error_message, output_data, evaluation_duration_ms`

// GetByID fetches a decision by its id.
func (s *PostgresDecisionStore) GetByID(ctx context.Context, id string) (*ruleengine.Decision, error) {
	query := fmt.Sprintf(`SELECT %s FROM decisions WHERE decision_id = $1`, decisionColumns)

	decision, err := scanDecision(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision %q: %w", id, err)
	}
	return decision, nil
}

// GetByRequestID fetches the decision recorded for an idempotency key.
func (s *PostgresDecisionStore) GetByRequestID(ctx context.Context, requestID string) (*ruleengine.Decision, error) {
	query := fmt.Sprintf(`SELECT %s FROM decisions WHERE request_id = $1`, decisionColumns)

	decision, err := scanDecision(s.db.QueryRow(ctx, query, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision for request %q: %w", requestID, err)
	}
	return decision, nil
}

// GetByRuleID lists decisions for a rule, most recent first.
func (s *PostgresDecisionStore) GetByRuleID(ctx context.Context, ruleID string) ([]ruleengine.Decision, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM decisions
		WHERE rule_id = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, decisionColumns)

	rows, err := s.db.Query(ctx, query, ruleID, decisionListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions for rule %q: %w", ruleID, err)
	}
	defer rows.Close()

	var decisions []ruleengine.Decision
	for rows.Next() {
		decision, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		decisions = append(decisions, *decision)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return decisions, nil
}

// Create inserts a decision record.
func (s *PostgresDecisionStore) Create(ctx context.Context, decision *ruleengine.Decision) error {
	inputContext, err := json.Marshal(decision.InputContext)
	if err != nil {
		return fmt.Errorf("failed to marshal input context: %w", err)
	}
	matched, err := json.Marshal(emptyIfNilStrings(decision.MatchedConditions))
	if err != nil {
		return fmt.Errorf("failed to marshal matched conditions: %w", err)
	}
	executed, err := json.Marshal(emptyIfNilActions(decision.ExecutedActions))
	if err != nil {
		return fmt.Errorf("failed to marshal executed actions: %w", err)
	}
	output, err := json.Marshal(decision.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}

	query := `
		INSERT INTO decisions (decision_id, rule_id, rule_version, request_id, status,
			input_context, matched_conditions, executed_actions, evaluated_at,
			deterministic_hash, error_message, output_data, evaluation_duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = s.db.Exec(ctx, query,
		decision.ID, decision.RuleID, decision.RuleVersion, decision.RequestID,
		string(decision.Status),
		inputContext, matched, executed,
		decision.EvaluatedAt, decision.DeterministicHash,
		nullable(decision.ErrorMessage), output, decision.EvaluationDurationMs,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("request %q: %w", decision.RequestID, ErrDuplicateRequestID)
		}
		return fmt.Errorf("failed to insert decision %q: %w", decision.ID, err)
	}
	return nil
}

func scanDecision(row pgx.Row) (*ruleengine.Decision, error) {
	var (
		decision     ruleengine.Decision
		status       string
		inputJSON    []byte
		matchedJSON  []byte
		executedJSON []byte
		outputJSON   []byte
		errorMessage *string
	)

	err := row.Scan(
		&decision.ID, &decision.RuleID, &decision.RuleVersion, &decision.RequestID,
		&status,
		&inputJSON, &matchedJSON, &executedJSON,
		&decision.EvaluatedAt, &decision.DeterministicHash,
		&errorMessage, &outputJSON, &decision.EvaluationDurationMs,
	)
	if err != nil {
		return nil, err
	}

	decision.Status = ruleengine.DecisionStatus(status)
	if errorMessage != nil {
		decision.ErrorMessage = *errorMessage
	}
	if err := json.Unmarshal(inputJSON, &decision.InputContext); err != nil {
		return nil, fmt.Errorf("corrupt input_context column: %w", err)
	}
	if err := json.Unmarshal(matchedJSON, &decision.MatchedConditions); err != nil {
		return nil, fmt.Errorf("corrupt matched_conditions column: %w", err)
	}
	if err := json.Unmarshal(executedJSON, &decision.ExecutedActions); err != nil {
		return nil, fmt.Errorf("corrupt executed_actions column: %w", err)
	}
	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &decision.OutputData); err != nil {
			return nil, fmt.Errorf("corrupt output_data column: %w", err)
		}
	}
	return &decision, nil
}

func emptyIfNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
