package ruleengine

import "fmt"

// MaxConditionDepth is the maximum nesting depth of condition
// sub-expressions. Deeper trees are rejected at validation time and never
// reach the evaluator.
const MaxConditionDepth = 5

// ValidateRule checks the structural invariants of a rule definition and
// returns an *InvalidRuleError listing every violation found.
func ValidateRule(rule *Rule) error {
	var violations []string

	if rule.Name == "" {
		violations = append(violations, "name is required")
	}
	if !rule.Status.Valid() {
		violations = append(violations, fmt.Sprintf("unknown status %q", rule.Status))
	}
	if rule.Version < 0 {
		violations = append(violations, "version cannot be negative")
	}
	if rule.EffectiveFrom != nil && rule.EffectiveUntil != nil &&
		rule.EffectiveUntil.Before(*rule.EffectiveFrom) {
		violations = append(violations, "effective_until precedes effective_from")
	}

	violations = append(violations, validateConditions(rule.Conditions, 1)...)

	for i, action := range rule.Actions {
		if !action.Type.Valid() {
			violations = append(violations, fmt.Sprintf("action %d: unknown type %q", i, action.Type))
		}
		if action.Order < 0 {
			violations = append(violations, fmt.Sprintf("action %d: order cannot be negative", i))
		}
	}

	if len(violations) > 0 {
		return &InvalidRuleError{Violations: violations}
	}
	return nil
}

// validateConditions walks the condition tree collecting violations.
// depth is 1-based: the top-level chain is depth 1.
func validateConditions(conditions []RuleCondition, depth int) []string {
	if len(conditions) == 0 {
		return nil
	}
	if depth > MaxConditionDepth {
		return []string{fmt.Sprintf("condition nesting exceeds maximum depth of %d", MaxConditionDepth)}
	}

	var violations []string
	for i, cond := range conditions {
		if !cond.LogicalOperator.Valid() {
			violations = append(violations, fmt.Sprintf("condition %d at depth %d: unknown logical operator %q", i, depth, cond.LogicalOperator))
		}

		if len(cond.NestedConditions) > 0 {
			violations = append(violations, validateConditions(cond.NestedConditions, depth+1)...)
			continue
		}

		// Leaf comparison.
		if cond.Field == "" {
			violations = append(violations, fmt.Sprintf("condition %d at depth %d: field is required", i, depth))
		}
		if !cond.Operator.Valid() {
			violations = append(violations, fmt.Sprintf("condition %d at depth %d: unsupported operator %q", i, depth, cond.Operator))
		}
	}
	return violations
}
