package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Configuration file error types.
const (
	ErrorTypeIO    = "io"
	ErrorTypeParse = "parse"
)

// ConfigurationError represents a structured error that occurs while loading
// the configuration file.
type ConfigurationError struct {
	FilePath   string `json:"filePath"`   // Path of the file that caused the error
	ErrorType  string `json:"errorType"`  // io or parse
	Message    string `json:"message"`    // Human-readable error message
	Details    string `json:"details"`    // Underlying error text
	LineNumber int    `json:"lineNumber"` // Line number where the error occurred (if available)
}

// Error implements the error interface
func (ce ConfigurationError) Error() string {
	if ce.LineNumber > 0 {
		return fmt.Sprintf("%s:%d: %s: %s", ce.FilePath, ce.LineNumber, ce.Message, ce.Details)
	}
	return fmt.Sprintf("%s: %s: %s", ce.FilePath, ce.Message, ce.Details)
}

// DetailedError returns a detailed error message with all context
func (ce ConfigurationError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Configuration Error in %s", ce.FilePath))
	parts = append(parts, fmt.Sprintf("  Type: %s", ce.ErrorType))

	if ce.LineNumber > 0 {
		parts = append(parts, fmt.Sprintf("  Line: %d", ce.LineNumber))
	}

	parts = append(parts, fmt.Sprintf("  Error: %s", ce.Message))

	if ce.Details != "" {
		parts = append(parts, fmt.Sprintf("  Details: %s", ce.Details))
	}

	return strings.Join(parts, "\n")
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(filePath, errorType, message, details string) ConfigurationError {
	return ConfigurationError{
		FilePath:  filePath,
		ErrorType: errorType,
		Message:   message,
		Details:   details,
	}
}

// parseError converts a yaml.v3 error into a ConfigurationError, keeping the
// first line number yaml reports.
func parseError(filePath string, err error) ConfigurationError {
	ce := NewConfigurationError(filePath, ErrorTypeParse, "invalid YAML", err.Error())

	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) && len(typeErr.Errors) > 0 {
		ce.Details = strings.Join(typeErr.Errors, "; ")
	}
	ce.LineNumber = lineNumber(ce.Details)
	return ce
}

// lineNumber extracts N from the first "line N" in a yaml error message.
func lineNumber(msg string) int {
	_, rest, ok := strings.Cut(msg, "line ")
	if !ok {
		return 0
	}
	end := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
	if end < 0 {
		end = len(rest)
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0
	}
	return n
}
