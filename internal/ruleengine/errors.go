package ruleengine

import (
	"errors"
	"fmt"
	"strings"
)

// RuleNotFoundError reports a missing rule (or rule version).
type RuleNotFoundError struct {
	RuleID string
	// Version is 0 when the lookup targeted the latest version.
	Version int
}

func (e *RuleNotFoundError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("rule %q version %d was not found", e.RuleID, e.Version)
	}
	return fmt.Sprintf("rule %q was not found", e.RuleID)
}

// NewRuleNotFound builds a RuleNotFoundError for the given identity.
func NewRuleNotFound(ruleID string, version int) *RuleNotFoundError {
	return &RuleNotFoundError{RuleID: ruleID, Version: version}
}

// InvalidRuleError reports a structurally invalid rule definition, such as
// excessive nesting depth or an unknown operator.
type InvalidRuleError struct {
	Violations []string
}

func (e *InvalidRuleError) Error() string {
	return "invalid rule definition: " + strings.Join(e.Violations, "; ")
}

// EvaluationError reports a condition that could not be evaluated: a field
// missing from the context, an unsupported operator, or a comparison that
// cannot be performed.
type EvaluationError struct {
	RuleID string
	Field  string
	Reason string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("evaluation failed for rule %q on field %q: %s", e.RuleID, e.Field, e.Reason)
	}
	return fmt.Sprintf("evaluation failed for rule %q: %s", e.RuleID, e.Reason)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a RuleNotFoundError.
func IsNotFound(err error) bool {
	var nf *RuleNotFoundError
	return errors.As(err, &nf)
}

// IsEvaluationError reports whether err is an EvaluationError.
func IsEvaluationError(err error) bool {
	var ee *EvaluationError
	return errors.As(err, &ee)
}

// IsInvalidRule reports whether err is an InvalidRuleError.
func IsInvalidRule(err error) bool {
	var ir *InvalidRuleError
	return errors.As(err, &ir)
}
