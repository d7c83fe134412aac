// Package errors provides the error vocabulary shared by the pipeline
// packages: sentinel errors, typed domain errors carrying pipeline context,
// and classification helpers used by the agent invoker's retry loop.
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrStaleOutcome) { ... }
//
//	var perr *errors.ProviderError
//	if errors.As(err, &perr) && perr.Transient { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions so callers only import this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Lookup and routing sentinel errors
var (
	// ErrNotFound indicates that a requested record or entity does not exist.
	ErrNotFound = New("not found")
	// ErrUnknownDepartment indicates that no department is bound to a source tag.
	ErrUnknownDepartment = New("unknown department")
	// ErrInvalidDescriptor indicates that a department descriptor failed validation.
	ErrInvalidDescriptor = New("invalid department descriptor")
)

// Run lifecycle sentinel errors
var (
	// ErrStaleOutcome indicates a write lost the compare-and-set against a
	// run that started later for the same snapshot.
	ErrStaleOutcome = New("stale outcome")
	// ErrDuplicateRun indicates a run id collision in the store.
	ErrDuplicateRun = New("duplicate run")
	// ErrRunCanceled indicates that a run was canceled between stages.
	ErrRunCanceled = New("run canceled")
	// ErrInvalidTransition indicates a state change the run state machine forbids.
	ErrInvalidTransition = New("invalid state transition")
)

// Agent call sentinel errors
var (
	// ErrEmptyResponse indicates the reasoning provider returned no content.
	ErrEmptyResponse = New("empty response")
	// ErrMalformedOutput indicates a response that does not match its schema.
	ErrMalformedOutput = New("malformed output")
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
)

// -----------------------------------------------------------------------------
// Typed Errors
// -----------------------------------------------------------------------------

// ProviderError wraps a failure from a reasoning provider call.
type ProviderError struct {
	Role      string
	Attempt   int
	Transient bool
	Err       error
}

// NewProviderError creates a ProviderError. Transient is derived from the
// cause unless the caller overrides it.
func NewProviderError(role string, attempt int, cause error) *ProviderError {
	return &ProviderError{
		Role:      role,
		Attempt:   attempt,
		Transient: isTransientCause(cause),
		Err:       cause,
	}
}

// Error returns the formatted error message.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error [role=%s, attempt=%d]: %v", e.Role, e.Attempt, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// StageError records which pipeline stage produced an infrastructure failure.
type StageError struct {
	Stage string
	Err   error
}

// NewStageError creates a StageError.
func NewStageError(stage string, cause error) *StageError {
	return &StageError{Stage: stage, Err: cause}
}

// Error returns the formatted error message.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// ValidationError reports one invalid field in a configuration or descriptor.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the formatted error message.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every validation failure found in one pass.
type ValidationErrors []ValidationError

// Error joins all validation failures into a single message.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error is transient and the operation may
// succeed when attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var perr *ProviderError
	if As(err, &perr) {
		return perr.Transient
	}

	return isTransientCause(err)
}

// IsTimeout returns true for per-call deadlines and explicit timeouts.
func IsTimeout(err error) bool {
	return Is(err, ErrTimeout) || Is(err, context.DeadlineExceeded)
}

func isTransientCause(err error) bool {
	switch {
	case err == nil:
		return false
	case Is(err, context.Canceled):
		return false
	case Is(err, ErrTimeout), Is(err, context.DeadlineExceeded), Is(err, ErrEmptyResponse):
		return true
	case Is(err, ErrMalformedOutput):
		return false
	default:
		// Transport failures surface as wrapped net/http errors.
		return true
	}
}
