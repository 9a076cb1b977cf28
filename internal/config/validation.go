package config

import (
	"fmt"
	"strings"

	"proccontrol/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// addErr appends err if it is a ValidationError.
func (ve *ValidationErrors) addErr(err error) {
	if err == nil {
		return
	}
	if v, ok := err.(ValidationError); ok {
		*ve = append(*ve, v)
		return
	}
	ve.Add("", err.Error())
}

// ValidateRequired checks if a required string field is not empty
func ValidateRequired(field, value, envName string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("is required (set %s)", envName),
		}
	}
	return nil
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateRange checks if an integer lies within [lo, hi]
func ValidateRange(field string, value, lo, hi int) error {
	if value < lo || value > hi {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("must be between %d and %d", lo, hi),
		}
	}
	return nil
}

// Validate checks the whole configuration and returns every problem as
// ValidationErrors, or nil.
func (c Config) Validate() error {
	var errs ValidationErrors

	errs.addErr(ValidateOneOf("store.backend", c.Store.Backend, Backends))
	errs.addErr(ValidateRequired("store.host", c.Store.Host, EnvConfigHost))
	switch c.Store.Backend {
	case BackendEtcd:
		errs.addErr(ValidateRange("store.port", c.Store.Port, 1, 65535))
	case BackendKubernetes:
		errs.addErr(ValidateRequired("store.configMap", c.Store.ConfigMap, EnvConfigMap))
	}

	errs.addErr(ValidateRequired("deployment.namespace", c.Deployment.Namespace, EnvHelmNamespace))
	errs.addErr(ValidateRequired("workflows.url", c.Workflows.URL, EnvWorkflowsURL))
	if c.Workflows.RefreshSeconds <= 0 {
		errs.Add("workflows.refresh", "must be a positive number of seconds", c.Workflows.RefreshSeconds)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs.Add("logging.level", err.Error(), c.Logging.Level)
	}
	errs.addErr(ValidateOneOf("logging.format", c.Logging.Format, []string{string(logging.FormatText), string(logging.FormatJSON)}))

	if errs.HasErrors() {
		return errs
	}
	return nil
}
