package ruleengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// leaf builds a leaf comparison condition with an optional logical operator.
func leaf(field string, op ComparisonOperator, value Value, logical LogicalOperator) RuleCondition {
	return RuleCondition{Field: field, Operator: op, Value: value, LogicalOperator: logical}
}

func testContext(data map[string]Value) EvaluationContext {
	return EvaluationContext{Data: data, RequestID: "req-1"}
}

func TestEvaluator_Evaluate_LeafOperators(t *testing.T) {
	evaluator := NewEvaluator(nil)

	tests := []struct {
		name      string
		condition RuleCondition
		data      map[string]Value
		want      bool
	}{
		// --- Equality (case-insensitive canonical strings) ---
		{
			name:      "Should match Equals ignoring case",
			condition: leaf("country", OperatorEquals, String("BR"), ""),
			data:      map[string]Value{"country": String("br")},
			want:      true,
		},
		{
			name:      "Should match Equals across number representations",
			condition: leaf("amount", OperatorEquals, String("100"), ""),
			data:      map[string]Value{"amount": Int(100)},
			want:      true,
		},
		{
			name:      "Should match NotEquals on different values",
			condition: leaf("country", OperatorNotEquals, String("US"), ""),
			data:      map[string]Value{"country": String("br")},
			want:      true,
		},

		// --- Ordering: numeric comparison takes precedence ---
		{
			name:      "Should match GreaterThan numerically",
			condition: leaf("amount", OperatorGreaterThan, Int(100), ""),
			data:      map[string]Value{"amount": Int(150)},
			want:      true,
		},
		{
			name:      "Should not match GreaterThan when equal",
			condition: leaf("amount", OperatorGreaterThan, Int(100), ""),
			data:      map[string]Value{"amount": Int(100)},
			want:      false,
		},
		{
			name:      "Should compare numerically not lexicographically",
			condition: leaf("amount", OperatorGreaterThan, Int(9), ""),
			data:      map[string]Value{"amount": Int(10)},
			want:      true, // "10" < "9" as strings; 10 > 9 as numbers
		},
		{
			name:      "Should match GreaterThanOrEqual on equal decimals",
			condition: leaf("amount", OperatorGreaterThanOrEqual, String("100.00"), ""),
			data:      map[string]Value{"amount": Int(100)},
			want:      true,
		},
		{
			name:      "Should match LessThan numerically",
			condition: leaf("amount", OperatorLessThan, Float(10.5), ""),
			data:      map[string]Value{"amount": Float(10.4)},
			want:      true,
		},
		{
			name:      "Should match LessThanOrEqual numerically",
			condition: leaf("amount", OperatorLessThanOrEqual, Int(5), ""),
			data:      map[string]Value{"amount": Int(5)},
			want:      true,
		},

		// --- Ordering: timestamps when both parse as instants ---
		{
			name:      "Should compare timestamps chronologically",
			condition: leaf("created", OperatorGreaterThan, String("2026-01-02T00:00:00Z"), ""),
			data:      map[string]Value{"created": String("2026-01-10T08:30:00Z")},
			want:      true,
		},
		{
			name:      "Should fall back to case-insensitive string ordering",
			condition: leaf("tier", OperatorGreaterThan, String("BRONZE"), ""),
			data:      map[string]Value{"tier": String("gold")},
			want:      true, // "gold" > "bronze"
		},

		// --- Substrings ---
		{
			name:      "Should match Contains ignoring case",
			condition: leaf("email", OperatorContains, String("@EXAMPLE"), ""),
			data:      map[string]Value{"email": String("user@example.com")},
			want:      true,
		},
		{
			name:      "Should match NotContains when substring absent",
			condition: leaf("email", OperatorNotContains, String("@corp"), ""),
			data:      map[string]Value{"email": String("user@example.com")},
			want:      true,
		},
		{
			name:      "Should match StartsWith ignoring case",
			condition: leaf("sku", OperatorStartsWith, String("bk-"), ""),
			data:      map[string]Value{"sku": String("BK-1042")},
			want:      true,
		},
		{
			name:      "Should match EndsWith ignoring case",
			condition: leaf("file", OperatorEndsWith, String(".PDF"), ""),
			data:      map[string]Value{"file": String("invoice.pdf")},
			want:      true,
		},

		// --- Membership ---
		{
			name:      "Should match In against array elements",
			condition: leaf("country", OperatorIn, Array(String("US"), String("BR"), String("DE")), ""),
			data:      map[string]Value{"country": String("br")},
			want:      true,
		},
		{
			name:      "Should not match In when operand is not an array",
			condition: leaf("country", OperatorIn, String("BR"), ""),
			data:      map[string]Value{"country": String("br")},
			want:      false,
		},
		{
			name:      "Should match In with numeric elements via canonical form",
			condition: leaf("plan", OperatorIn, Array(Int(1), Int(2), Int(3)), ""),
			data:      map[string]Value{"plan": String("2")},
			want:      true,
		},
		{
			name:      "Should match NotIn when element absent",
			condition: leaf("country", OperatorNotIn, Array(String("US"), String("DE")), ""),
			data:      map[string]Value{"country": String("br")},
			want:      true,
		},

		// --- Regex (compiled case-insensitive) ---
		{
			name:      "Should match Regex ignoring case",
			condition: leaf("email", OperatorRegex, String(`^[a-z]+@example\.com$`), ""),
			data:      map[string]Value{"email": String("User@Example.com")},
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rule := Rule{ID: "rule-1", Version: 1, Conditions: []RuleCondition{tt.condition}}
			result, err := evaluator.Evaluate(rule, testContext(tt.data))

			require.NoError(t, err)
			assert.Equal(t, tt.want, result.IsMatch)
		})
	}
}

func TestEvaluator_Evaluate_FoldSemantics(t *testing.T) {
	evaluator := NewEvaluator(nil)

	data := map[string]Value{
		"a": Int(1),
		"b": Int(2),
		"c": Int(3),
	}

	// A=true (And), B=false (Or), C=true must fold as (A And B) Or C = true,
	// never as A And (B Or C).
	conditions := []RuleCondition{
		leaf("a", OperatorEquals, Int(1), LogicalAnd),  // true
		leaf("b", OperatorEquals, Int(99), LogicalOr),  // false
		leaf("c", OperatorEquals, Int(3), ""),          // true
	}

	rule := Rule{ID: "rule-fold", Version: 1, Conditions: conditions}
	result, err := evaluator.Evaluate(rule, testContext(data))

	require.NoError(t, err)
	assert.True(t, result.IsMatch, "left-to-right fold: (true And false) Or true")
}

func TestEvaluator_Evaluate_FoldHasNoPrecedence(t *testing.T) {
	evaluator := NewEvaluator(nil)

	data := map[string]Value{"a": Int(1), "b": Int(2), "c": Int(3)}

	// A=false (Or), B=true (And), C=false folds as (false Or true) And false = false.
	conditions := []RuleCondition{
		leaf("a", OperatorEquals, Int(99), LogicalOr),
		leaf("b", OperatorEquals, Int(2), LogicalAnd),
		leaf("c", OperatorEquals, Int(99), ""),
	}

	rule := Rule{ID: "rule-fold-2", Version: 1, Conditions: conditions}
	result, err := evaluator.Evaluate(rule, testContext(data))

	require.NoError(t, err)
	assert.False(t, result.IsMatch)
}

func TestEvaluator_Evaluate_NotInvertsOwnResultOnly(t *testing.T) {
	evaluator := NewEvaluator(nil)

	data := map[string]Value{"country": String("BR"), "amount": Int(150)}

	t.Run("Should invert a true leaf to false", func(t *testing.T) {
		conditions := []RuleCondition{
			leaf("country", OperatorEquals, String("BR"), LogicalNot),
		}
		result, err := evaluator.Evaluate(Rule{ID: "r", Version: 1, Conditions: conditions}, testContext(data))

		require.NoError(t, err)
		assert.False(t, result.IsMatch)
	})

	t.Run("Should invert before folding with the next sibling", func(t *testing.T) {
		// Not(country == "US") = true, folded with And against amount > 100 = true.
		conditions := []RuleCondition{
			leaf("country", OperatorEquals, String("US"), LogicalNot),
			leaf("amount", OperatorGreaterThan, Int(100), ""),
		}
		result, err := evaluator.Evaluate(Rule{ID: "r", Version: 1, Conditions: conditions}, testContext(data))

		require.NoError(t, err)
		assert.True(t, result.IsMatch)
	})
}

func TestEvaluator_Evaluate_NestedConditions(t *testing.T) {
	evaluator := NewEvaluator(nil)

	data := map[string]Value{
		"amount":  Int(150),
		"country": String("BR"),
		"vip":     Bool(true),
	}

	// amount > 100 And (country == "US" Or vip == true)
	conditions := []RuleCondition{
		leaf("amount", OperatorGreaterThan, Int(100), LogicalAnd),
		{
			NestedConditions: []RuleCondition{
				leaf("country", OperatorEquals, String("US"), LogicalOr),
				leaf("vip", OperatorEquals, Bool(true), ""),
			},
		},
	}

	rule := Rule{ID: "rule-nested", Version: 1, Conditions: conditions}
	result, err := evaluator.Evaluate(rule, testContext(data))

	require.NoError(t, err)
	assert.True(t, result.IsMatch)
	// Trace records matching leaves from the nested expression too.
	assert.Contains(t, result.MatchedConditions, "amount GreaterThan 100")
	assert.Contains(t, result.MatchedConditions, "vip Equals true")
	assert.NotContains(t, result.MatchedConditions, "country Equals US")
}

func TestEvaluator_Evaluate_EmptyConditionsMatch(t *testing.T) {
	evaluator := NewEvaluator(nil)

	rule := Rule{
		ID:      "rule-empty",
		Version: 1,
		Actions: []RuleAction{{Type: ActionLogEvent, Order: 0}},
	}
	result, err := evaluator.Evaluate(rule, testContext(map[string]Value{}))

	require.NoError(t, err)
	assert.True(t, result.IsMatch)
	assert.Equal(t, DecisionStatusApproved, result.Status)
	assert.Empty(t, result.MatchedConditions)
}

func TestEvaluator_Evaluate_ActionsOrderedByOrder(t *testing.T) {
	evaluator := NewEvaluator(nil)

	rule := Rule{
		ID:      "rule-actions",
		Version: 1,
		Conditions: []RuleCondition{
			leaf("amount", OperatorGreaterThan, Int(100), ""),
		},
		Actions: []RuleAction{
			{Type: ActionSendNotification, Order: 2},
			{Type: ActionStoreDecision, Order: 0},
			{Type: ActionLogEvent, Order: 1},
		},
	}

	t.Run("Should return actions sorted by order on match", func(t *testing.T) {
		result, err := evaluator.Evaluate(rule, testContext(map[string]Value{"amount": Int(150)}))

		require.NoError(t, err)
		require.Len(t, result.ActionsToExecute, 3)
		assert.Equal(t, ActionStoreDecision, result.ActionsToExecute[0].Type)
		assert.Equal(t, ActionLogEvent, result.ActionsToExecute[1].Type)
		assert.Equal(t, ActionSendNotification, result.ActionsToExecute[2].Type)
	})

	t.Run("Should return no actions on rejection", func(t *testing.T) {
		result, err := evaluator.Evaluate(rule, testContext(map[string]Value{"amount": Int(50)}))

		require.NoError(t, err)
		assert.Equal(t, DecisionStatusRejected, result.Status)
		assert.Empty(t, result.ActionsToExecute)
	})
}

func TestEvaluator_Evaluate_Errors(t *testing.T) {
	evaluator := NewEvaluator(nil)

	tests := []struct {
		name       string
		conditions []RuleCondition
		data       map[string]Value
		wantField  string
		wantReason string
	}{
		{
			name:       "Should fail when field is missing from context",
			conditions: []RuleCondition{leaf("amount", OperatorGreaterThan, Int(100), "")},
			data:       map[string]Value{"other": Int(1)},
			wantField:  "amount",
			wantReason: "field not found in context",
		},
		{
			name:       "Should fail on unsupported operator",
			conditions: []RuleCondition{leaf("amount", ComparisonOperator("Between"), Int(100), "")},
			data:       map[string]Value{"amount": Int(1)},
			wantField:  "amount",
			wantReason: "unsupported operator: Between",
		},
		{
			name:       "Should fail on invalid regex pattern",
			conditions: []RuleCondition{leaf("email", OperatorRegex, String("([unclosed"), "")},
			data:       map[string]Value{"email": String("a@b.com")},
			wantField:  "email",
			wantReason: "comparison failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rule := Rule{ID: "rule-err", Version: 1, Conditions: tt.conditions}
			_, err := evaluator.Evaluate(rule, testContext(tt.data))

			require.Error(t, err)

			var evalErr *EvaluationError
			require.ErrorAs(t, err, &evalErr)
			assert.Equal(t, "rule-err", evalErr.RuleID)
			assert.Equal(t, tt.wantField, evalErr.Field)
			assert.Contains(t, evalErr.Reason, tt.wantReason)
		})
	}
}

func TestEvaluator_Evaluate_DepthLimit(t *testing.T) {
	evaluator := NewEvaluator(nil)

	// Build a chain nested 6 levels deep: one level past the limit.
	cond := leaf("a", OperatorEquals, Int(1), "")
	for i := 0; i < MaxConditionDepth; i++ {
		cond = RuleCondition{NestedConditions: []RuleCondition{cond}}
	}

	rule := Rule{ID: "rule-deep", Version: 1, Conditions: []RuleCondition{cond}}
	_, err := evaluator.Evaluate(rule, testContext(map[string]Value{"a": Int(1)}))

	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Contains(t, evalErr.Reason, "nesting exceeds maximum depth")
}

func TestEvaluator_Evaluate_TraceFormat(t *testing.T) {
	evaluator := NewEvaluator(nil)

	rule := Rule{
		ID:      "rule-trace",
		Version: 1,
		Conditions: []RuleCondition{
			leaf("amount", OperatorGreaterThan, Int(100), ""),
		},
	}
	result, err := evaluator.Evaluate(rule, testContext(map[string]Value{"amount": Int(150)}))

	require.NoError(t, err)
	assert.Equal(t, []string{"amount GreaterThan 100"}, result.MatchedConditions)
}
