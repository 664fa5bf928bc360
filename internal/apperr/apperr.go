// Package apperr defines the structured error kinds surfaced by the core.
// The REST layer maps each kind to an HTTP status; background tasks log and
// count instead of propagating.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and counting.
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindDuplicateName  Kind = "duplicate_name"
	KindInvalid        Kind = "invalid"
	KindForbidden      Kind = "forbidden"
	KindUnknownMetric  Kind = "unknown_metric"
	KindLabelsRejected Kind = "labels_rejected"
	KindShuttingDown   Kind = "shutting_down"
	KindTransient      Kind = "transient"
)

// Error carries a kind plus context fields. The wrapped cause (if any) is
// reachable via errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches two apperr errors by kind, so sentinel comparisons like
// errors.Is(err, apperr.NotFound("metric", "")) work on kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found: %s", entity, id)}
}

// DuplicateName reports a unique-name conflict.
func DuplicateName(entity, name string) *Error {
	return &Error{Kind: KindDuplicateName, Message: fmt.Sprintf("%s name already exists: %s", entity, name)}
}

// Invalid reports an input constraint violation on a named field.
func Invalid(field, reason string) *Error {
	return &Error{Kind: KindInvalid, Message: fmt.Sprintf("%s: %s", field, reason)}
}

// Forbidden reports a mutation attempt on another user's resource.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// UnknownMetric reports a sample append or query against an unregistered metric.
func UnknownMetric(name string) *Error {
	return &Error{Kind: KindUnknownMetric, Message: fmt.Sprintf("unknown metric: %s", name)}
}

// LabelsRejected reports label keys outside the metric's label schema.
func LabelsRejected(metric string, keys []string) *Error {
	return &Error{Kind: KindLabelsRejected, Message: fmt.Sprintf("metric %s rejects label keys %v", metric, keys)}
}

// ShuttingDown reports new work arriving after shutdown began.
func ShuttingDown() *Error {
	return &Error{Kind: KindShuttingDown, Message: "core is shutting down"}
}

// Transient wraps a retryable upstream failure.
func Transient(msg string, cause error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Cause: cause}
}

// KindOf returns the kind of err, or "" when err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
