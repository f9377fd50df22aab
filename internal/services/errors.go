package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrConflict      = errors.New("conflict")
)

// ServiceError carries the marker and stage context attached by Wrap.
type ServiceError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Err       error
}

func (e *ServiceError) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Marker, detail, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Marker, detail)
}

func (e *ServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Err}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &ServiceError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Err:       err,
	}
}

// ErrorDetails is the flattened view of a stage error used for logs and the
// persisted error message.
type ErrorDetails struct {
	Kind      string
	Stage     string
	Operation string
	Message   string
	Cause     string
}

// Details extracts kind, stage, operation, and message from err. Errors that
// were not produced by Wrap are classified by marker only.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: Kind(err), Message: err.Error()}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		details.Stage = svcErr.Stage
		details.Operation = svcErr.Operation
		if svcErr.Message != "" {
			details.Message = svcErr.Message
		}
		if svcErr.Err != nil {
			details.Cause = svcErr.Err.Error()
		}
	}
	return details
}

// Kind returns a stable label for the marker carried by err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "unknown"
	}
}

// Retryable reports whether a stage error may succeed on another attempt.
func Retryable(err error) bool {
	switch Kind(err) {
	case "transient", "timeout":
		return true
	default:
		return false
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage != "" {
		parts = append(parts, stage)
	}
	if operation != "" {
		parts = append(parts, operation)
	}
	if message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
