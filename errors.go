package surge

import (
	"errors"
	"fmt"
)

// Sentinel errors for capability invocation. All of them are recoverable by
// the caller; none indicate a fault in the engine itself. Domain failures
// (a failed fetch, a missing persisted value) are represented as state
// variants, never as these errors.
var (
	// ErrOwnerDestroyed indicates the source that produced the action no
	// longer exists: it was closed or became unreachable.
	ErrOwnerDestroyed = errors.New("action owner destroyed")

	// ErrActionExpired indicates the owning source is alive but the action
	// is no longer part of its current state.
	ErrActionExpired = errors.New("action expired")

	// ErrDecodedByWrongOwner indicates a serialized action was resolved
	// against a source whose type identifier does not match the token.
	ErrDecodedByWrongOwner = errors.New("action decoded by wrong owner")

	// ErrDecodedWithInvalidMethod indicates a serialized action named a
	// method the resolving source does not provide, or provides with a
	// different input type.
	ErrDecodedWithInvalidMethod = errors.New("action decoded with invalid method")

	// ErrPlaceholderInvoked indicates an action created as a design-time
	// placeholder was invoked.
	ErrPlaceholderInvoked = errors.New("placeholder action invoked")
)

// ActionError wraps a sentinel invocation error with the identity of the
// action and, when known, the name of the owning source.
type ActionError struct {
	Action ActionID
	Source string
	Err    error
}

// Error returns a description including the action identity.
func (e *ActionError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %v (source %s)", e.Action, e.Err, e.Source)
	}
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

// Unwrap exposes the sentinel for errors.Is.
func (e *ActionError) Unwrap() error {
	return e.Err
}

func actionErr(id ActionID, source string, sentinel error) error {
	return &ActionError{Action: id, Source: source, Err: sentinel}
}
