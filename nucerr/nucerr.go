// Package nucerr defines the typed error taxonomy shared by every NUC
// component. Every failure the core can produce is classified by Kind;
// callers branch on kind rather than matching error strings.
package nucerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure. The core never panics on bad input —
// every invalid input surfaces as an *Error with one of these kinds.
type Kind string

// Parse errors.
const (
	KindInvalidNucStructure  Kind = "invalid_nuc_structure"
	KindInvalidNucHeader     Kind = "invalid_nuc_header"
	KindEmptyToken           Kind = "empty_token"
	KindInvalidDid           Kind = "invalid_did"
	KindEmptyAttribute       Kind = "empty_attribute"
	KindInvalidAttributeChar Kind = "invalid_attribute_char"
	KindInvalidPolicy        Kind = "invalid_policy"
	KindInvalidPayload       Kind = "invalid_payload"
)

// Cryptographic errors.
const (
	KindSignatureVerificationFailed Kind = "signature_verification_failed"
	KindIssuerMethodMismatch        Kind = "issuer_method_mismatch"
)

// Chain errors.
const (
	KindMissingProof            Kind = "missing_proof"
	KindUnchainedProofs         Kind = "unchained_proofs"
	KindChainTooLong            Kind = "chain_too_long"
	KindRootKeySignatureMissing Kind = "root_key_signature_missing"
	KindIssuerAudienceMismatch  Kind = "issuer_audience_mismatch"
	KindDifferentSubjects       Kind = "different_subjects"
	KindCommandNotAttenuated    Kind = "command_not_attenuated"
	KindInvalidTemporalWindow   Kind = "invalid_temporal_window"
	KindNotYetValid             Kind = "not_yet_valid"
	KindExpired                 Kind = "expired"
	KindPolicyNotMet            Kind = "policy_not_met"
	KindPolicyTooDeep           Kind = "policy_too_deep"
	KindPolicyTooWide           Kind = "policy_too_wide"
	KindInvalidAudience         Kind = "invalid_audience"
	KindNotADelegation          Kind = "not_a_delegation"
	KindNeedDelegation          Kind = "need_delegation"
	KindNeedInvocation          Kind = "need_invocation"
)

// Transport errors (external collaborators, spec.md §6).
const (
	KindUnreachable        Kind = "unreachable"
	KindServerError        Kind = "server_error"
	KindInvalidContentType Kind = "invalid_content_type"
	KindPaymentTxFailed    Kind = "payment_tx_failed"
)

// Error is the concrete error type returned by every NUC package.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, nucerr.New(kind, "")) style comparisons by kind,
// ignoring Msg/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Newf is New with fmt.Sprintf-style formatting of msg.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
