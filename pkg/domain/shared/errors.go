// Package shared provides shared domain types and utilities.
package shared

import "errors"

// Domain errors.
var (
	ErrValidation = errors.New("validation error")

	// ErrMissingData marks provider records or lookup tables that lack a
	// field or entity needed to build a vulnerability graph.
	ErrMissingData = errors.New("missing data")

	// ErrInvalidRule marks a rule definition that cannot be constructed.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrConfig marks an unusable configuration.
	ErrConfig = errors.New("configuration error")
)

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsMissingData checks if the error reports missing provider data.
func IsMissingData(err error) bool {
	return errors.Is(err, ErrMissingData)
}

// IsInvalidRule checks if the error reports an invalid rule definition.
func IsInvalidRule(err error) bool {
	return errors.Is(err, ErrInvalidRule)
}

// IsConfig checks if the error is a configuration error.
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}

// IsFatal reports whether err must abort a run before anything is written
// to the ticketing system.
func IsFatal(err error) bool {
	return IsConfig(err) || IsInvalidRule(err) || IsMissingData(err) || IsValidation(err)
}
