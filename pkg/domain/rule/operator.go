package rule

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Operator is a string comparison applied between a candidate value taken
// from a graph view and the rule's pattern.
type Operator string

const (
	OperatorEquals               Operator = "equals"
	OperatorEqualsIgnoreCase     Operator = "equalsIgnoreCase"
	OperatorStartsWith           Operator = "startswith"
	OperatorStartsWithIgnoreCase Operator = "startswithIgnoreCase"
	OperatorContains             Operator = "contains"
	OperatorContainsIgnoreCase   Operator = "containsIgnoreCase"
)

// EvalFunc reports whether candidate matches pattern.
type EvalFunc func(candidate, pattern string) bool

var operatorFuncs = map[Operator]EvalFunc{
	OperatorEquals:               equals,
	OperatorEqualsIgnoreCase:     ignoreCase(equals),
	OperatorStartsWith:           strings.HasPrefix,
	OperatorStartsWithIgnoreCase: ignoreCase(strings.HasPrefix),
	OperatorContains:             strings.Contains,
	OperatorContainsIgnoreCase:   ignoreCase(strings.Contains),
}

// AllOperators returns the supported operators.
func AllOperators() []Operator {
	return []Operator{
		OperatorEquals,
		OperatorEqualsIgnoreCase,
		OperatorStartsWith,
		OperatorStartsWithIgnoreCase,
		OperatorContains,
		OperatorContainsIgnoreCase,
	}
}

// IsValid checks if the operator is supported.
func (o Operator) IsValid() bool {
	_, ok := operatorFuncs[o]
	return ok
}

// String returns the string representation.
func (o Operator) String() string {
	return string(o)
}

// Eval applies the operator. Unknown operators never match.
func (o Operator) Eval(candidate, pattern string) bool {
	fn, ok := operatorFuncs[o]
	if !ok {
		return false
	}
	return fn(candidate, pattern)
}

// ParseOperator parses a string into an Operator.
func ParseOperator(s string) (Operator, error) {
	o := Operator(s)
	if !o.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedOperator, s)
	}
	return o, nil
}

func equals(candidate, pattern string) bool {
	return candidate == pattern
}

// ignoreCase folds both operands before delegating, so that e.g. "Straße"
// equals "STRASSE".
func ignoreCase(fn EvalFunc) EvalFunc {
	return func(candidate, pattern string) bool {
		fold := cases.Fold()
		return fn(fold.String(candidate), fold.String(pattern))
	}
}
