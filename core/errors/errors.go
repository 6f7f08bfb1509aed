package errors

import stderrors "errors"

// Kind classifies a failure so callers can tell an authorization problem from
// a timing problem without matching on individual sentinels.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindAuthorization means the caller lacks the required role or identity.
	KindAuthorization
	// KindInvariant means the call would break a balance, supply or quorum rule.
	KindInvariant
	// KindTiming means the call is valid but not yet; retry after the window.
	KindTiming
	// KindStateMachine means the target is in the wrong status for the call.
	KindStateMachine
	// KindValidation means the input itself is malformed.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindInvariant:
		return "invariant"
	case KindTiming:
		return "timing"
	case KindStateMachine:
		return "state_machine"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a classified sentinel. Values are compared by identity so
// errors.Is works against the package-level variables that declare them.
type Error struct {
	kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Kind reports the classification of the error.
func (e *Error) Kind() Kind { return e.kind }

func newKind(kind Kind, msg string) *Error { return &Error{kind: kind, msg: msg} }

func Authorization(msg string) error { return newKind(KindAuthorization, msg) }
func Invariant(msg string) error     { return newKind(KindInvariant, msg) }
func Timing(msg string) error        { return newKind(KindTiming, msg) }
func StateMachine(msg string) error  { return newKind(KindStateMachine, msg) }
func Validation(msg string) error    { return newKind(KindValidation, msg) }

// KindOf unwraps err until it finds a classified sentinel.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.kind
	}
	return KindUnknown
}

// Retryable reports whether the same call may succeed later without a
// different input.
func Retryable(err error) bool {
	return KindOf(err) == KindTiming
}
