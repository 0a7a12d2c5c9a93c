// Package ruleerrors defines the tier-2 error family of spec §7: a
// RuleError means the data under validation is standalone-bad and the peer
// that sent it is ban-worthy, as opposed to a tier-1 corruption.Error
// (the node's own store is broken) or a plain externalapi.DataStatus (not
// an error at all). Grounded on the teacher's
// domain/consensus/ruleerrors/rule_error.go: a single concrete type keyed
// by a stable string code, rather than one Go type per rule.
package ruleerrors

import "fmt"

// RuleErrorCode is a stable identifier for a kind of rule violation, stable
// across releases so logs and tests can match on it without string
// comparison against a human-readable message.
type RuleErrorCode string

const (
	ErrBadProofOfWork          RuleErrorCode = "ErrBadProofOfWork"
	ErrBadTimestamp            RuleErrorCode = "ErrBadTimestamp"
	ErrWrongDifficulty         RuleErrorCode = "ErrWrongDifficulty"
	ErrPrevHashUnknown         RuleErrorCode = "ErrPrevHashUnknown"
	ErrDefinitionMismatch      RuleErrorCode = "ErrDefinitionMismatch"
	ErrBadChainwork            RuleErrorCode = "ErrBadChainwork"
	ErrBodySizeExceeded        RuleErrorCode = "ErrBodySizeExceeded"
	ErrDuplicateKernel         RuleErrorCode = "ErrDuplicateKernel"
	ErrUnknownKernelInput      RuleErrorCode = "ErrUnknownKernelInput"
	ErrUnknownUTXOInput        RuleErrorCode = "ErrUnknownUTXOInput"
	ErrImmatureInput           RuleErrorCode = "ErrImmatureInput"
	ErrUTXOCountOverflow       RuleErrorCode = "ErrUTXOCountOverflow"
	ErrSubsidyAlreadyClosed    RuleErrorCode = "ErrSubsidyAlreadyClosed"
	ErrSubsidyMismatch         RuleErrorCode = "ErrSubsidyMismatch"
	ErrOffsetMismatch          RuleErrorCode = "ErrOffsetMismatch"
	ErrBelowLoHorizon          RuleErrorCode = "ErrBelowLoHorizon"
	ErrBodyTooDeep             RuleErrorCode = "ErrBodyTooDeep"
	ErrMacroblockDiscontinuity RuleErrorCode = "ErrMacroblockDiscontinuity"
	ErrMacroblockBadProof      RuleErrorCode = "ErrMacroblockBadProof"
	ErrTxInputKernelLive       RuleErrorCode = "ErrTxInputKernelLive"
	ErrTxOutputKernelLive      RuleErrorCode = "ErrTxOutputKernelLive"
)

// RuleError is a standalone validation failure: the data is provably bad
// independent of any other node's state, so the peer that delivered it may
// be penalized (spec §7, tier 2).
type RuleError struct {
	Code    RuleErrorCode
	Message string
}

func (e *RuleError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs a RuleError with an empty detail message.
func New(code RuleErrorCode) error {
	return &RuleError{Code: code}
}

// Newf constructs a RuleError with a formatted detail message.
func Newf(code RuleErrorCode, format string, args ...interface{}) error {
	return &RuleError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// As reports whether err is a *RuleError, and if so returns it — a small
// helper so callers outside this package don't need to import "errors" for
// the common case of a single unwrapped RuleError.
func As(err error) (*RuleError, bool) {
	re, ok := err.(*RuleError)
	return re, ok
}

// Is reports whether err is a RuleError with the given code.
func Is(err error, code RuleErrorCode) bool {
	re, ok := As(err)
	return ok && re.Code == code
}
