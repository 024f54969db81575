package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// StoreError Tests
// -----------------------------------------------------------------------------

func TestNewStoreError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		kind      error
		severity  Severity
		retryable bool
	}{
		{"not found", ErrNotFound, SeverityDebug, false},
		{"corrupt", ErrStoreCorrupt, SeverityWarning, false},
		{"io failure", ErrIOFailure, SeverityError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewStoreError("load", tt.kind, nil)
			if !errors.Is(err, tt.kind) {
				t.Errorf("errors.Is(err, %v) = false, want true", tt.kind)
			}
			if err.Severity() != tt.severity {
				t.Errorf("Severity() = %v, want %v", err.Severity(), tt.severity)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", IsRetryable(err), tt.retryable)
			}
		})
	}
}

func TestStoreError_Error(t *testing.T) {
	err := NewStoreError("save", ErrIOFailure, fmt.Errorf("disk full")).WithSessionID("abc")
	want := "store save [session=abc]: session store i/o failure: disk full"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := NewStoreError("delete", ErrIOFailure, nil)
	if bare.Error() != "store delete: session store i/o failure" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestStoreError_MatchesCause(t *testing.T) {
	err := NewStoreError("load", ErrIOFailure, fs.ErrPermission)
	if !errors.Is(err, fs.ErrPermission) {
		t.Error("expected cause to be matched")
	}
	if errors.Is(err, ErrStoreCorrupt) {
		t.Error("io failure should not match ErrStoreCorrupt")
	}

	wrapped := fmt.Errorf("getOrCreate: %w", err)
	var storeErr *StoreError
	if !errors.As(wrapped, &storeErr) {
		t.Fatal("errors.As should find the StoreError")
	}
	if storeErr.Op != "load" {
		t.Errorf("Op = %q, want %q", storeErr.Op, "load")
	}
}

// -----------------------------------------------------------------------------
// DispatchError Tests
// -----------------------------------------------------------------------------

func TestDispatchError(t *testing.T) {
	cause := fmt.Errorf("handler panicked")
	err := NewDispatchError("task.succeeded", "apply failed", cause).WithSessionID("s1")

	want := "dispatch error [kind=task.succeeded, session=s1]: apply failed: handler panicked"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be matched")
	}
	if !errors.Is(err, &DispatchError{}) {
		t.Error("expected type match")
	}
	if GetSeverity(err.WithSeverity(SeverityWarning)) != SeverityWarning {
		t.Error("WithSeverity did not apply")
	}
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("session", "abc123")
	if err.Error() != "session 'abc123' not found" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("NotFoundError should match ErrNotFound")
	}
	if !IsExpected(err) {
		t.Error("IsExpected() = false, want true")
	}
	if GetSeverity(err) != SeverityDebug {
		t.Errorf("GetSeverity() = %v, want debug", GetSeverity(err))
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("must be positive").WithField("session.backlog_max").WithValue(0)
	want := "validation error [field=session.backlog_max, value=0]: must be positive"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should match ErrInvalidInput")
	}
}

// -----------------------------------------------------------------------------
// Helper Tests
// -----------------------------------------------------------------------------

func TestGetSeverity_Defaults(t *testing.T) {
	if GetSeverity(nil) != SeverityDebug {
		t.Error("nil error should be debug severity")
	}
	if GetSeverity(fmt.Errorf("plain")) != SeverityError {
		t.Error("plain error should be error severity")
	}
	if GetSeverity(fmt.Errorf("wrap: %w", ErrNotFound)) != SeverityDebug {
		t.Error("wrapped ErrNotFound should be debug severity")
	}
}

func TestIsRetryable_Plain(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if !IsRetryable(fmt.Errorf("x: %w", ErrIOFailure)) {
		t.Error("wrapped ErrIOFailure should be retryable")
	}
	if IsRetryable(ErrStoreCorrupt) {
		t.Error("corrupt record should not be retryable")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
	err := Wrapf(ErrNotFound, "session %s", "abc")
	if err.Error() != "session abc: not found" {
		t.Errorf("Wrapf() = %q", err.Error())
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("Wrapf should preserve the chain")
	}
}
