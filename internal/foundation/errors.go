package foundation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a typed error classification.
type ErrorCode string

const (
	// Core error codes
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeNotFound         ErrorCode = "not_found"
	ErrorCodeUnsupported      ErrorCode = "unsupported_build_system"
	ErrorCodeToolInvocation   ErrorCode = "tool_invocation"
	ErrorCodeArtifactNotFound ErrorCode = "artifact_not_found"
	ErrorCodeStrategy         ErrorCode = "strategy_application"
	ErrorCodeTimeout          ErrorCode = "timeout"
	ErrorCodeCanceled         ErrorCode = "canceled"
	ErrorCodeInternal         ErrorCode = "internal"
	ErrorCodeExternal         ErrorCode = "external"
	ErrorCodeConfiguration    ErrorCode = "configuration"
)

// Severity indicates the importance/impact of an error.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ClassifiedError provides structured error information with context.
type ClassifiedError struct {
	Code      ErrorCode `json:"code"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Context   Fields    `json:"context,omitempty"`
	Cause     error     `json:"cause,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Component string    `json:"component,omitempty"`
	Retryable bool      `json:"retryable"`
}

// Fields represents structured context data.
type Fields map[string]any

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	var parts []string

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("operation=%s", e.Operation))
	}

	parts = append(parts, fmt.Sprintf("code=%s", e.Code), e.Message)

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for error unwrapping.
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// WithContext adds context fields to the error.
func (e *ClassifiedError) WithContext(fields Fields) *ClassifiedError {
	if e.Context == nil {
		e.Context = make(Fields)
	}
	for k, v := range fields {
		e.Context[k] = v
	}
	return e
}

// IsRetryable returns whether the error can be retried.
func (e *ClassifiedError) IsRetryable() bool {
	return e.Retryable
}

// ErrorBuilder provides a fluent interface for creating classified errors.
type ErrorBuilder struct {
	err *ClassifiedError
}

// NewError creates a new error builder.
func NewError(code ErrorCode, message string) *ErrorBuilder {
	return &ErrorBuilder{
		err: &ClassifiedError{
			Code:     code,
			Severity: SeverityError,
			Message:  message,
			Context:  make(Fields),
		},
	}
}

// WithSeverity sets the error severity.
func (b *ErrorBuilder) WithSeverity(severity Severity) *ErrorBuilder {
	b.err.Severity = severity
	return b
}

// WithCause sets the underlying cause.
func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.err.Cause = cause
	return b
}

// WithOperation sets the operation context.
func (b *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	b.err.Operation = operation
	return b
}

// WithComponent sets the component context.
func (b *ErrorBuilder) WithComponent(component string) *ErrorBuilder {
	b.err.Component = component
	return b
}

// WithContext adds a single context field.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.err.Context[key] = value
	return b
}

// Retryable marks the error as retryable.
func (b *ErrorBuilder) Retryable() *ErrorBuilder {
	b.err.Retryable = true
	return b
}

// Build returns the classified error.
func (b *ErrorBuilder) Build() *ClassifiedError {
	return b.err
}

// CodeOf extracts the ErrorCode from err, walking the unwrap chain.
// Returns ErrorCodeInternal for unclassified errors.
func CodeOf(err error) ErrorCode {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrorCodeInternal
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Code == code
}
