package dispatch

import (
	"errors"
	"fmt"
)

// Sentinel categories. Callers branch with errors.Is; the concrete errors
// wrap these and carry the human-readable reason.
var (
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrPrecondition marks an action attempted outside its legal window
	// or from an ineligible state. Distinct from ErrStale: the caller's
	// view was current, the action itself is not allowed.
	ErrPrecondition = errors.New("precondition failed")
	// ErrStale marks a conflict with a concurrent change: the target
	// assignment or window moved under the caller, who must re-fetch.
	ErrStale = errors.New("stale state")
	// ErrForbidden marks an actor who does not own the assignment or
	// lacks the role.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound marks a missing target.
	ErrNotFound = errors.New("not found")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPrecondition}, args...)...)
}

func stalef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrStale}, args...)...)
}

func forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrForbidden}, args...)...)
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}
