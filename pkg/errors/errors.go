// Package errors provides structured error handling for dataprep jobs.
//
// Every fatal condition a job can hit is represented by a single Error type
// carrying an ErrorType. The type decides how the failure is reported to the
// caller (see ErrorType.Kind) and whether an operation may be retried.
package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeParse represents malformed rule text
	ErrorTypeParse ErrorType = "parse"
	// ErrorTypePlan represents cyclic or unresolvable dataset dependencies and missing columns
	ErrorTypePlan ErrorType = "plan"
	// ErrorTypeTypeCoercion represents excessive settype failures
	ErrorTypeTypeCoercion ErrorType = "type_coercion"
	// ErrorTypeExpression represents invalid keep-row comparisons
	ErrorTypeExpression ErrorType = "expression"
	// ErrorTypeTimeout represents an exceeded wall-clock budget
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeSnapshotWrite represents I/O or format failures while persisting a snapshot
	ErrorTypeSnapshotWrite ErrorType = "snapshot_write"
	// ErrorTypeCallbackDelivery represents a notification that could not be delivered
	ErrorTypeCallbackDelivery ErrorType = "callback_delivery"
	// ErrorTypeConfig represents invalid job payloads or settings
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeSource represents unreadable input data
	ErrorTypeSource ErrorType = "source"
	// ErrorTypeCancelled represents a job cancelled by its caller
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

var kindNames = map[ErrorType]string{
	ErrorTypeParse:            "ParseError",
	ErrorTypePlan:             "PlanError",
	ErrorTypeTypeCoercion:     "TypeCoercionError",
	ErrorTypeExpression:       "ExpressionError",
	ErrorTypeTimeout:          "TimeoutError",
	ErrorTypeSnapshotWrite:    "SnapshotWriteError",
	ErrorTypeCallbackDelivery: "CallbackDeliveryError",
	ErrorTypeConfig:           "ConfigError",
	ErrorTypeSource:           "SourceError",
	ErrorTypeCancelled:        "CancelledError",
	ErrorTypeInternal:         "InternalError",
}

// Kind returns the name used for this error type in callback payloads.
func (t ErrorType) Kind() string {
	if name, ok := kindNames[t]; ok {
		return name
	}
	return kindNames[ErrorTypeInternal]
}

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value previously attached with WithDetail.
func (e *Error) Detail(key string) (interface{}, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// NewParseError reports a rule string that could not be parsed.
func NewParseError(ruleIndex int, verb, reason string) *Error {
	e := &Error{
		Type:    ErrorTypeParse,
		Message: fmt.Sprintf("rule %d (%s): %s", ruleIndex, verb, reason),
		Stack:   captureStack(2),
	}
	return e.WithDetail("rule_index", ruleIndex).
		WithDetail("verb", verb).
		WithDetail("reason", reason)
}

// NewPlanError reports a dataset reference that cannot be planned or executed.
func NewPlanError(datasetRef string, cause error) *Error {
	e := &Error{
		Type:    ErrorTypePlan,
		Message: fmt.Sprintf("dataset %s", datasetRef),
		Cause:   cause,
		Stack:   captureStack(2),
	}
	return e.WithDetail("dataset_ref", datasetRef)
}

// NewExpressionError reports a keep-row expression that cannot be evaluated.
func NewExpressionError(ruleIndex int, reason string) *Error {
	e := &Error{
		Type:    ErrorTypeExpression,
		Message: fmt.Sprintf("rule %d: %s", ruleIndex, reason),
		Stack:   captureStack(2),
	}
	return e.WithDetail("rule_index", ruleIndex).WithDetail("reason", reason)
}

// NewTypeCoercionError reports settype failures above the configured limit.
func NewTypeCoercionError(failures, limit int) *Error {
	e := &Error{
		Type:    ErrorTypeTypeCoercion,
		Message: fmt.Sprintf("%d cells failed type coercion (limit %d)", failures, limit),
		Stack:   captureStack(2),
	}
	return e.WithDetail("failures", failures).WithDetail("limit", limit)
}

// NewTimeoutError reports a job that exceeded its wall-clock budget.
func NewTimeoutError(timeout time.Duration, cause error) *Error {
	e := &Error{
		Type:    ErrorTypeTimeout,
		Message: fmt.Sprintf("job exceeded timeout of %s", timeout),
		Cause:   cause,
		Stack:   captureStack(2),
	}
	return e.WithDetail("timeout", timeout.String())
}

// NewSnapshotWriteError reports a snapshot that could not be persisted.
func NewSnapshotWriteError(location string, cause error) *Error {
	e := &Error{
		Type:    ErrorTypeSnapshotWrite,
		Message: fmt.Sprintf("failed to write snapshot at %s", location),
		Cause:   cause,
		Stack:   captureStack(2),
	}
	return e.WithDetail("location", location)
}

// NewCallbackDeliveryError reports a notification that was given up on.
func NewCallbackDeliveryError(attempts int, cause error) *Error {
	e := &Error{
		Type:    ErrorTypeCallbackDelivery,
		Message: fmt.Sprintf("callback not delivered after %d attempts", attempts),
		Cause:   cause,
		Stack:   captureStack(2),
	}
	return e.WithDetail("attempts", attempts)
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeCallbackDelivery, ErrorTypeSource:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf classifies any error. Structured errors keep their own type, context
// deadline and cancellation map to timeout and cancelled, anything else is internal.
func TypeOf(err error) ErrorType {
	var e *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &e):
		return e.Type
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCancelled
	default:
		return ErrorTypeInternal
	}
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
