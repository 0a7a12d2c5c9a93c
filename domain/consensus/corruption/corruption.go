// Package corruption defines the tier-1 fatal error of spec §7: the node's
// own store has become internally inconsistent (a header graph edge points
// nowhere, a body blob the store says exists is missing, an accumulator
// failed to reconstruct from a replay that earlier succeeded). There is no
// peer to blame and no local recovery; every call site that can observe
// this condition should log at Critical and the process should stop making
// further consensus decisions. Grounded on the teacher's pattern of
// wrapping store-layer failures with pkg/errors rather than inventing a
// distinct corruption type — this package exists because spec §7 asks for
// a wire that's deliberately impossible to confuse with a RuleError.
package corruption

import "fmt"

// Error reports that the node's local data is no longer trustworthy.
type Error struct {
	Component string // e.g. "headergraphstore", "accumulators"
	Detail    string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("corruption in %s: %s: %v", e.Component, e.Detail, e.Cause)
	}
	return fmt.Sprintf("corruption in %s: %s", e.Component, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New reports a corruption with no underlying cause (an invariant the code
// itself detected, not a wrapped lower-level error).
func New(component, detail string) error {
	return &Error{Component: component, Detail: detail}
}

// Wrap reports a corruption discovered while handling cause, e.g. a store
// read that should never fail returning an unexpected error.
func Wrap(cause error, component, detail string) error {
	if cause == nil {
		return nil
	}
	return &Error{Component: component, Detail: detail, Cause: cause}
}

// Is reports whether err is a *Error.
func Is(err error) bool {
	_, ok := err.(*Error)
	return ok
}
