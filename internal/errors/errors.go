// Package errors provides the error taxonomy shared by the session store,
// registry, dispatch table and router. It defines sentinel errors for the
// four failure classes the core distinguishes, typed errors that carry the
// session or event context of a failure, and classification helpers.
//
// # Failure classes
//
//   - ErrNotFound: a session or record is absent. Expected, never logged as an error.
//   - ErrStoreCorrupt: a persisted record could not be decoded. The caller treats
//     the session as absent.
//   - ErrIOFailure: a transient disk error on save or delete. Retryable, but the
//     core never retries within a call.
//   - ErrUnknownEventKind: no handler is registered for an event kind. Dropped.
//
// # Usage
//
//	err := errors.NewStoreError("load", errors.ErrStoreCorrupt, cause).WithSessionID(id)
//	if errors.Is(err, errors.ErrStoreCorrupt) { ... }
//
//	var storeErr *errors.StoreError
//	if errors.As(err, &storeErr) { log.Warn("bad record", "path", storeErr.Path) }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)

// Severity represents the severity level of an error.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotFound indicates that a session or persisted record does not exist.
	ErrNotFound = New("not found")
	// ErrStoreCorrupt indicates that a persisted record is unreadable or malformed.
	ErrStoreCorrupt = New("session record corrupt")
	// ErrIOFailure indicates a disk error while reading or writing a record.
	ErrIOFailure = New("session store i/o failure")
	// ErrUnknownEventKind indicates that no handler is registered for an event kind.
	ErrUnknownEventKind = New("unknown event kind")
)

var (
	// ErrPersistenceDisabled is returned when the store directory is unusable
	// and persistence was configured as required.
	ErrPersistenceDisabled = New("session persistence disabled")
	// ErrStoreLocked indicates that another live process owns the store directory.
	ErrStoreLocked = New("session store is locked by another process")
	// ErrInvalidSessionID indicates a session identifier that cannot name a record.
	ErrInvalidSessionID = New("invalid session id")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// DomainError is implemented by every typed error in this package.
type DomainError interface {
	error
	Unwrap() error
	Severity() Severity
	IsRetryable() bool
}

type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error        { return e.cause }
func (e *baseError) Severity() Severity   { return e.severity }
func (e *baseError) IsRetryable() bool    { return e.retryable }
func (e *baseError) is(target error) bool { return e.cause != nil && errors.Is(e.cause, target) }

// formatContext renders "prefix [k=v, ...]: message: cause".
func formatContext(prefix string, parts []string, message string, cause error) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// StoreError
// -----------------------------------------------------------------------------

// StoreError describes a failed session store operation. Its Kind is one of
// ErrNotFound, ErrStoreCorrupt or ErrIOFailure and is matched by errors.Is.
//
// Example:
//
//	err := errors.NewStoreError("save", errors.ErrIOFailure, writeErr).WithSessionID("01J...")
//	fmt.Println(err) // "store save [session=01J...]: session store i/o failure: disk full"
type StoreError struct {
	baseError
	Op        string
	Kind      error
	SessionID string
	Path      string
}

// NewStoreError creates a StoreError for op with the given failure kind.
func NewStoreError(op string, kind, cause error) *StoreError {
	e := &StoreError{
		baseError: baseError{
			message:  kind.Error(),
			cause:    cause,
			severity: SeverityError,
		},
		Op:   op,
		Kind: kind,
	}
	switch kind {
	case ErrNotFound:
		e.severity = SeverityDebug
	case ErrStoreCorrupt:
		e.severity = SeverityWarning
	case ErrIOFailure:
		e.retryable = true
	}
	return e
}

// WithSessionID adds a session ID to the error context.
func (e *StoreError) WithSessionID(id string) *StoreError {
	e.SessionID = id
	return e
}

// WithPath adds the record path to the error context.
func (e *StoreError) WithPath(path string) *StoreError {
	e.Path = path
	return e
}

func (e *StoreError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, "session="+e.SessionID)
	}
	return formatContext("store "+e.Op, parts, e.message, e.cause)
}

// Is matches the failure kind, any *StoreError target, or the cause chain.
func (e *StoreError) Is(target error) bool {
	if _, ok := target.(*StoreError); ok {
		return true
	}
	if e.Kind != nil && target == e.Kind {
		return true
	}
	return e.is(target)
}

// -----------------------------------------------------------------------------
// DispatchError
// -----------------------------------------------------------------------------

// DispatchError describes a failure while applying one event to one session.
// It never aborts processing of sibling sessions.
type DispatchError struct {
	baseError
	EventKind string
	SessionID string
}

// NewDispatchError creates a DispatchError.
func NewDispatchError(eventKind, message string, cause error) *DispatchError {
	return &DispatchError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
		EventKind: eventKind,
	}
}

// WithSessionID adds a session ID to the error context.
func (e *DispatchError) WithSessionID(id string) *DispatchError {
	e.SessionID = id
	return e
}

// WithSeverity sets the error severity.
func (e *DispatchError) WithSeverity(s Severity) *DispatchError {
	e.severity = s
	return e
}

func (e *DispatchError) Error() string {
	var parts []string
	if e.EventKind != "" {
		parts = append(parts, "kind="+e.EventKind)
	}
	if e.SessionID != "" {
		parts = append(parts, "session="+e.SessionID)
	}
	return formatContext("dispatch error", parts, e.message, e.cause)
}

func (e *DispatchError) Is(target error) bool {
	if _, ok := target.(*DispatchError); ok {
		return true
	}
	return e.is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
// It matches ErrNotFound.
//
// Example:
//
//	err := errors.NewNotFoundError("session", "abc123")
//	fmt.Println(err) // "session 'abc123' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity: SeverityDebug,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if target == ErrNotFound {
		return true
	}
	return e.is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("session id must not be empty").WithField("id")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			severity: SeverityWarning,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return formatContext("validation error", parts, e.message, e.cause)
}

func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. Only I/O failures qualify.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var domainErr DomainError
	if As(err, &domainErr) {
		return domainErr.IsRetryable()
	}
	return Is(err, ErrIOFailure)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement DomainError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var domainErr DomainError
	if As(err, &domainErr) {
		return domainErr.Severity()
	}
	if Is(err, ErrNotFound) {
		return SeverityDebug
	}
	return SeverityError
}

// IsExpected reports whether err is a condition that should not be logged
// as an error: an absent record or session.
func IsExpected(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
