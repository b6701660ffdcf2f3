package ruleengine

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Evaluator implements the deterministic condition-matching algorithm.
//
// Evaluate is a pure function of (rule, context): it performs no I/O, holds
// no state between calls, and is safe for concurrent use. All comparisons go
// through Value.Canonical, the same canonicalization the hash computer uses.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator. If logger is nil, slog.Default() is used.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Evaluate runs the rule's condition chain against the context and returns
// the evaluation outcome: matched/not-matched, the human-readable trace of
// matching leaves, the actions selected for execution (ordered by Order when
// matched, empty otherwise) and the deterministic hash.
//
// It returns an *EvaluationError when a condition references a field absent
// from the context, uses an unsupported operator, or cannot be compared.
func (e *Evaluator) Evaluate(rule Rule, ctx EvaluationContext) (EvaluationResult, error) {
	trace := make([]string, 0, len(rule.Conditions))

	matched, err := e.evaluateConditions(rule.Conditions, ctx.Data, &trace, rule.ID, 1)
	if err != nil {
		return EvaluationResult{}, err
	}

	status := DecisionStatusRejected
	actions := []RuleAction{}
	if matched {
		status = DecisionStatusApproved
		actions = sortedActions(rule.Actions)
	}

	e.logger.Debug("rule evaluated",
		slog.String("rule_id", rule.ID),
		slog.Int("rule_version", rule.Version),
		slog.Bool("matched", matched),
	)

	return EvaluationResult{
		IsMatch:           matched,
		MatchedConditions: trace,
		ActionsToExecute:  actions,
		Status:            status,
		DeterministicHash: e.ComputeHash(rule, ctx),
		OutputData:        map[string]Value{},
	}, nil
}

// evaluateConditions folds a condition chain left to right with no operator
// precedence: after evaluating condition i (i>0), result[i-1] and result[i]
// are combined using the logical operator stored on condition i-1, replacing
// both with the combined value. "A And B Or C" therefore evaluates as
// "(A And B) Or C". A condition's own Not inverts only its own result,
// before folding, never the fold itself. An empty chain matches.
func (e *Evaluator) evaluateConditions(
	conditions []RuleCondition,
	data map[string]Value,
	trace *[]string,
	ruleID string,
	depth int,
) (bool, error) {
	if len(conditions) == 0 {
		return true, nil
	}
	if depth > MaxConditionDepth {
		return false, &EvaluationError{
			RuleID: ruleID,
			Reason: fmt.Sprintf("condition nesting exceeds maximum depth of %d", MaxConditionDepth),
		}
	}

	// results never grows past two entries: each new result is folded into
	// its predecessor immediately.
	results := make([]bool, 0, 2)

	for i, cond := range conditions {
		var result bool
		var err error

		if len(cond.NestedConditions) > 0 {
			// Sub-expression: the node's own field/operator/value are ignored.
			result, err = e.evaluateConditions(cond.NestedConditions, data, trace, ruleID, depth+1)
		} else {
			result, err = e.evaluateLeaf(cond, data, ruleID)
			if err == nil && result {
				*trace = append(*trace, fmt.Sprintf("%s %s %s", cond.Field, cond.Operator, cond.Value.Canonical()))
			}
		}
		if err != nil {
			return false, err
		}

		// Not inverts this condition's own result after evaluation.
		if cond.LogicalOperator == LogicalNot {
			result = !result
		}

		results = append(results, result)

		if len(results) > 1 {
			// The previous sibling's operator decides the combination.
			prevOp := conditions[i-1].LogicalOperator
			var combined bool
			if prevOp == LogicalOr {
				combined = results[0] || results[1]
			} else {
				// And is the default; Not has already been applied to the
				// individual result, so the pair still combines with And.
				combined = results[0] && results[1]
			}
			results = results[:0]
			results = append(results, combined)
		}
	}

	return results[0], nil
}

// evaluateLeaf performs a single comparison of a context field against the
// condition's operand.
func (e *Evaluator) evaluateLeaf(cond RuleCondition, data map[string]Value, ruleID string) (bool, error) {
	fieldValue, ok := data[cond.Field]
	if !ok {
		return false, &EvaluationError{RuleID: ruleID, Field: cond.Field, Reason: "field not found in context"}
	}

	switch cond.Operator {
	case OperatorEquals:
		return equalFold(fieldValue, cond.Value), nil
	case OperatorNotEquals:
		return !equalFold(fieldValue, cond.Value), nil
	case OperatorGreaterThan:
		return compareValues(fieldValue, cond.Value) > 0, nil
	case OperatorGreaterThanOrEqual:
		return compareValues(fieldValue, cond.Value) >= 0, nil
	case OperatorLessThan:
		return compareValues(fieldValue, cond.Value) < 0, nil
	case OperatorLessThanOrEqual:
		return compareValues(fieldValue, cond.Value) <= 0, nil
	case OperatorContains:
		return containsFold(fieldValue, cond.Value), nil
	case OperatorNotContains:
		return !containsFold(fieldValue, cond.Value), nil
	case OperatorStartsWith:
		return strings.HasPrefix(lower(fieldValue), lower(cond.Value)), nil
	case OperatorEndsWith:
		return strings.HasSuffix(lower(fieldValue), lower(cond.Value)), nil
	case OperatorIn:
		return inCollection(fieldValue, cond.Value), nil
	case OperatorNotIn:
		return !inCollection(fieldValue, cond.Value), nil
	case OperatorRegex:
		return matchRegex(fieldValue, cond.Value, ruleID, cond.Field)
	default:
		return false, &EvaluationError{
			RuleID: ruleID,
			Field:  cond.Field,
			Reason: fmt.Sprintf("unsupported operator: %s", cond.Operator),
		}
	}
}

// equalFold compares two values by their case-insensitive canonical strings.
func equalFold(a, b Value) bool {
	return strings.EqualFold(a.Canonical(), b.Canonical())
}

// compareValues orders two values: both-numeric decimal comparison first,
// then both-parseable-as-instant comparison, then case-insensitive
// lexicographic comparison of the canonical strings.
func compareValues(a, b Value) int {
	if ad, ok := a.Decimal(); ok {
		if bd, ok := b.Decimal(); ok {
			return ad.Cmp(bd)
		}
	}

	if at, ok := a.Time(); ok {
		if bt, ok := b.Time(); ok {
			return at.Compare(bt)
		}
	}

	return strings.Compare(lower(a), lower(b))
}

func containsFold(field, operand Value) bool {
	return strings.Contains(lower(field), lower(operand))
}

// inCollection reports whether the field's canonical string equals, case
// insensitively, any element of the operand. A non-array operand never
// matches (so NotIn against a non-array is vacuously true).
func inCollection(field, operand Value) bool {
	items, ok := operand.Elements()
	if !ok {
		return false
	}
	needle := field.Canonical()
	for _, item := range items {
		if strings.EqualFold(needle, item.Canonical()) {
			return true
		}
	}
	return false
}

// matchRegex matches the field's canonical string against the operand
// compiled as a case-insensitive pattern. Go's RE2 engine guarantees
// linear-time matching, which satisfies the bounded-match requirement
// without a timeout.
func matchRegex(field, pattern Value, ruleID, fieldName string) (bool, error) {
	re, err := regexp.Compile("(?i)" + pattern.Canonical())
	if err != nil {
		return false, &EvaluationError{
			RuleID: ruleID,
			Field:  fieldName,
			Reason: fmt.Sprintf("comparison failed: invalid regex pattern: %v", err),
			Err:    err,
		}
	}
	return re.MatchString(field.Canonical()), nil
}

func lower(v Value) string {
	return strings.ToLower(v.Canonical())
}

// sortedActions returns a copy of actions ordered by Order. The sort is
// stable so actions sharing an Order keep their definition order.
func sortedActions(actions []RuleAction) []RuleAction {
	out := make([]RuleAction, len(actions))
	copy(out, actions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
