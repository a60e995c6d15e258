// Package validator provides struct validation utilities with custom validators.
package validator

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/openctemio/vulnsync/pkg/domain/rule"
)

// cronParser accepts standard five-field specs and descriptors such as
// "@hourly" or "@every 30m".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validator wraps the go-playground validator with custom validations.
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range v {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return sb.String()
}

// New creates a new Validator with custom validators registered.
// Field names in errors follow the yaml tags of the validated struct.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("rule_type", validateRuleType)
	_ = v.RegisterValidation("rule_operator", validateRuleOperator)
	_ = v.RegisterValidation("cron_spec", validateCronSpec)
	_ = v.RegisterValidation("log_level", validateLogLevel)

	return &Validator{validate: v}
}

// Validate validates a struct and returns ValidationErrors if validation fails.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return err
	}

	result := make(ValidationErrors, 0, len(validationErrors))
	for _, e := range validationErrors {
		result = append(result, ValidationError{
			Field:   fieldPath(e.Namespace()),
			Message: formatErrorMessage(e),
		})
	}

	return result
}

// fieldPath drops the root struct name from a validator namespace,
// e.g. "Config.jira_defaults.project" becomes "jira_defaults.project".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// validateRuleType validates that a string is a supported rule type.
func validateRuleType(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return rule.Kind(value).IsValid()
}

// validateRuleOperator validates that a string is a supported operator.
func validateRuleOperator(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return rule.Operator(value).IsValid()
}

// validateCronSpec validates a cron schedule.
func validateCronSpec(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, err := cronParser.Parse(value)
	return err == nil
}

func validateLogLevel(fl validator.FieldLevel) bool {
	switch strings.ToLower(fl.Field().String()) {
	case "", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// formatErrorMessage creates a human-readable error message.
func formatErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "url", "http_url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "hostname_port":
		return "must be host:port"
	case "rule_type":
		return fmt.Sprintf("must be one of: %s", joinStrings(rule.AllKinds()))
	case "rule_operator":
		return fmt.Sprintf("must be one of: %s", joinStrings(rule.AllOperators()))
	case "cron_spec":
		return "must be a valid cron expression (e.g., \"0 * * * *\" or \"@every 1h\")"
	case "log_level":
		return "must be one of: debug, info, warn, error"
	default:
		return fmt.Sprintf("failed on '%s' validation", e.Tag())
	}
}

func joinStrings[T ~string](values []T) string {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = string(v)
	}
	return strings.Join(strs, ", ")
}
