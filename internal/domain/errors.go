package domain

import (
	"errors"
	"fmt"
)

// Infrastructure sentinels shared by the adapters.
var (
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
)

// Kind classifies a ledger failure. Callers branch on the kind, never on the
// message text.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindNotFound
	KindState
	KindValidation
	KindInsufficientFunds
)

// Kind sentinels. A *Error matches the sentinel of its kind under errors.Is,
// so `errors.Is(err, domain.ErrNotFound)` works for both adapter and ledger
// errors.
var (
	ErrAuthorization     = errors.New("authorization error")
	ErrNotFound          = errors.New("not found")
	ErrState             = errors.New("state error")
	ErrValidation        = errors.New("validation error")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindValidation:
		return "validation"
	case KindInsufficientFunds:
		return "insufficient_funds"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindAuthorization:
		return ErrAuthorization
	case KindNotFound:
		return ErrNotFound
	case KindState:
		return ErrState
	case KindValidation:
		return ErrValidation
	case KindInsufficientFunds:
		return ErrInsufficientFunds
	default:
		return nil
	}
}

// Reason narrows a state error.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonNotResolved     Reason = "not_resolved"
	ReasonAlreadyResolved Reason = "already_resolved"
	ReasonBettingClosed   Reason = "betting_closed"
	ReasonChoiceLost      Reason = "choice_lost"
	ReasonAlreadyClaimed  Reason = "already_claimed"
	ReasonUntradeable     Reason = "untradeable"
	ReasonStaleListing    Reason = "stale_listing"
	ReasonNothingToClaim  Reason = "nothing_to_claim"
)

// Error is the typed failure returned by every ledger operation.
type Error struct {
	Kind   Kind
	Reason Reason
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Reason != ReasonNone {
		s += "(" + string(e.Reason) + ")"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinel, or another *Error with the same kind and
// (when set) the same reason.
func (e *Error) Is(target error) bool {
	if target == e.Kind.sentinel() {
		return true
	}
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && (t.Reason == ReasonNone || t.Reason == e.Reason)
	}
	return false
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf reports the Reason of the first *Error in err's chain.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}

// Unauthorized builds an authorization error.
func Unauthorized(format string, args ...any) error {
	return &Error{Kind: KindAuthorization, Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Invalid builds a validation error.
func Invalid(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// StateErr builds a state error with the given reason.
func StateErr(reason Reason, format string, args ...any) error {
	return &Error{Kind: KindState, Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// Insufficient builds an insufficient-funds error, optionally wrapping the
// collaborator failure that caused it.
func Insufficient(cause error, format string, args ...any) error {
	return &Error{Kind: KindInsufficientFunds, Msg: fmt.Sprintf(format, args...), Err: cause}
}
