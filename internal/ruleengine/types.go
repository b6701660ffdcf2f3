// Package ruleengine provides the deterministic decision evaluation core:
// the entity model (rules, conditions, actions, decisions), the condition
// evaluator and the content-addressed hash used for idempotency and audit.
//
// The package is pure: it performs no I/O and holds no mutable state, so a
// single Evaluator is safe for concurrent use across evaluation requests.
package ruleengine

import "time"

// RuleStatus is the lifecycle state of a rule version.
type RuleStatus string

const (
	RuleStatusDraft    RuleStatus = "Draft"
	RuleStatusActive   RuleStatus = "Active"
	RuleStatusInactive RuleStatus = "Inactive"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s RuleStatus) Valid() bool {
	switch s {
	case RuleStatusDraft, RuleStatusActive, RuleStatusInactive:
		return true
	}
	return false
}

// DecisionStatus is the outcome classification of an evaluation.
type DecisionStatus string

const (
	DecisionStatusApproved DecisionStatus = "Approved"
	DecisionStatusRejected DecisionStatus = "Rejected"
	DecisionStatusError    DecisionStatus = "Error"
)

// ComparisonOperator identifies a leaf comparison. The string forms appear
// verbatim in matched-condition trace entries ("amount GreaterThan 100"),
// so they are part of the audit contract and must not be renamed.
type ComparisonOperator string

const (
	OperatorEquals             ComparisonOperator = "Equals"
	OperatorNotEquals          ComparisonOperator = "NotEquals"
	OperatorGreaterThan        ComparisonOperator = "GreaterThan"
	OperatorGreaterThanOrEqual ComparisonOperator = "GreaterThanOrEqual"
	OperatorLessThan           ComparisonOperator = "LessThan"
	OperatorLessThanOrEqual    ComparisonOperator = "LessThanOrEqual"
	OperatorContains           ComparisonOperator = "Contains"
	OperatorNotContains        ComparisonOperator = "NotContains"
	OperatorStartsWith         ComparisonOperator = "StartsWith"
	OperatorEndsWith           ComparisonOperator = "EndsWith"
	OperatorIn                 ComparisonOperator = "In"
	OperatorNotIn              ComparisonOperator = "NotIn"
	OperatorRegex              ComparisonOperator = "Regex"
)

// Valid reports whether the operator is supported by the evaluator.
func (o ComparisonOperator) Valid() bool {
	switch o {
	case OperatorEquals, OperatorNotEquals,
		OperatorGreaterThan, OperatorGreaterThanOrEqual,
		OperatorLessThan, OperatorLessThanOrEqual,
		OperatorContains, OperatorNotContains,
		OperatorStartsWith, OperatorEndsWith,
		OperatorIn, OperatorNotIn, OperatorRegex:
		return true
	}
	return false
}

// LogicalOperator describes how a condition combines with the result of the
// immediately preceding sibling during the left-to-right fold. The empty
// string means And.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "And"
	LogicalOr  LogicalOperator = "Or"
	LogicalNot LogicalOperator = "Not"
)

// Valid reports whether the logical operator is known. Empty is valid and
// treated as And.
func (o LogicalOperator) Valid() bool {
	switch o {
	case "", LogicalAnd, LogicalOr, LogicalNot:
		return true
	}
	return false
}

// ActionType is an enumerated side-effect kind. The evaluator treats actions
// as opaque: it only selects and orders them, never executes them.
type ActionType string

const (
	ActionSetValue         ActionType = "SetValue"
	ActionCallWebhook      ActionType = "CallWebhook"
	ActionSendNotification ActionType = "SendNotification"
	ActionLogEvent         ActionType = "LogEvent"
	ActionStoreDecision    ActionType = "StoreDecision"
)

// Valid reports whether the action type is known.
func (t ActionType) Valid() bool {
	switch t {
	case ActionSetValue, ActionCallWebhook, ActionSendNotification,
		ActionLogEvent, ActionStoreDecision:
		return true
	}
	return false
}

// Rule is a versioned, named set of conditions and ordered actions.
//
// (ID, Version) is unique and immutable once created: rules are never
// mutated in place, and "updating" a rule writes a new record at
// latest version + 1. Only Status/UpdatedAt may change on an existing
// version, through Activate/Deactivate.
type Rule struct {
	// ID is stable across all versions of the rule.
	ID string `json:"id"`

	// Version is a positive integer, monotonically increasing per ID.
	Version int `json:"version"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Conditions are the top-level condition chain, implicitly combined
	// via the left-to-right fold. An empty list always matches.
	Conditions []RuleCondition `json:"conditions"`

	// Actions are the ordered side-effect descriptors selected when the
	// rule matches.
	Actions []RuleAction `json:"actions"`

	Status   RuleStatus `json:"status"`
	Priority int        `json:"priority"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	// Optional validity window.
	EffectiveFrom  *time.Time `json:"effective_from,omitempty"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`
}

// RuleCondition is a single comparison or a nested sub-expression.
//
// When NestedConditions is non-empty the node is evaluated as its own
// sub-expression and Field/Operator/Value are ignored. LogicalOperator
// describes how this condition combines with the previous sibling; Not
// additionally inverts this condition's own result before folding.
type RuleCondition struct {
	Field            string             `json:"field"`
	Operator         ComparisonOperator `json:"operator"`
	Value            Value              `json:"value"`
	LogicalOperator  LogicalOperator    `json:"logical_operator,omitempty"`
	NestedConditions []RuleCondition    `json:"nested_conditions,omitempty"`
}

// RuleAction is an ordered, opaque side-effect descriptor.
type RuleAction struct {
	Type        ActionType       `json:"type"`
	Parameters  map[string]Value `json:"parameters"`
	Order       int              `json:"order"`
	Description string           `json:"description,omitempty"`
}

// EvaluationContext is the input payload plus bookkeeping fed to one
// evaluation. Data is treated as read-only by the evaluator.
type EvaluationContext struct {
	// Data holds the event/request fields conditions are matched against.
	Data map[string]Value `json:"data"`

	// RequestID is the caller-supplied idempotency key. The system stores
	// at most one Decision per RequestID for the lifetime of the store.
	RequestID string `json:"request_id"`

	// Timestamp is supplied by the orchestrator (from the injected clock),
	// never by the caller, so hashing stays reproducible.
	Timestamp time.Time `json:"timestamp"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// EvaluationResult is the outcome of running the evaluator against one rule.
type EvaluationResult struct {
	IsMatch           bool
	MatchedConditions []string
	ActionsToExecute  []RuleAction
	Status            DecisionStatus
	DeterministicHash string
	OutputData        map[string]Value
}

// Decision is the immutable, audit-grade record of one evaluation attempt.
// Decisions are created exactly once and never updated or deleted.
type Decision struct {
	ID          string         `json:"id"`
	RuleID      string         `json:"rule_id"`
	RuleVersion int            `json:"rule_version"`
	RequestID   string         `json:"request_id"`
	Status      DecisionStatus `json:"status"`

	// InputContext is a copy of the evaluation context data, kept so the
	// decision can be audited and reproduced.
	InputContext map[string]Value `json:"input_context"`

	// MatchedConditions are human-readable trace entries, one per matching
	// leaf comparison, in evaluation order.
	MatchedConditions []string `json:"matched_conditions"`

	// ExecutedActions is the rule's action list ordered by Order when the
	// rule matched, empty otherwise.
	ExecutedActions []RuleAction `json:"executed_actions"`

	EvaluatedAt       time.Time `json:"evaluated_at"`
	DeterministicHash string    `json:"deterministic_hash"`

	ErrorMessage         string           `json:"error_message,omitempty"`
	OutputData           map[string]Value `json:"output_data,omitempty"`
	EvaluationDurationMs int64            `json:"evaluation_duration_ms"`
}
