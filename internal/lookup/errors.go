package lookup

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure.
type Kind string

const (
	KindChallengeFailed    Kind = "CHALLENGE_FAILED"
	KindInvalidEmail       Kind = "INVALID_EMAIL"
	KindCodeRequestFailed  Kind = "CODE_REQUEST_FAILED"
	KindCooldownActive     Kind = "COOLDOWN_ACTIVE"
	KindInvalidCode        Kind = "INVALID_CODE"
	KindLookupFailed       Kind = "LOOKUP_FAILED"
	KindTokenRejected      Kind = "TOKEN_REJECTED"
	KindActionNotPermitted Kind = "ACTION_NOT_PERMITTED"
	KindActionFailed       Kind = "ACTION_FAILED"
	KindAlreadyReviewed    Kind = "ALREADY_REVIEWED"
	KindInvalidRating      Kind = "INVALID_RATING"
	KindInvalidReview      Kind = "INVALID_REVIEW"
	KindInvalidState       Kind = "INVALID_STATE"
)

// Error is the typed result of every failing session operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrChallengeFailed    = &Error{Kind: KindChallengeFailed}
	ErrInvalidEmail       = &Error{Kind: KindInvalidEmail}
	ErrCodeRequestFailed  = &Error{Kind: KindCodeRequestFailed}
	ErrCooldownActive     = &Error{Kind: KindCooldownActive}
	ErrInvalidCode        = &Error{Kind: KindInvalidCode}
	ErrLookupFailed       = &Error{Kind: KindLookupFailed}
	ErrTokenRejected      = &Error{Kind: KindTokenRejected}
	ErrActionNotPermitted = &Error{Kind: KindActionNotPermitted}
	ErrActionFailed       = &Error{Kind: KindActionFailed}
	ErrAlreadyReviewed    = &Error{Kind: KindAlreadyReviewed}
	ErrInvalidRating      = &Error{Kind: KindInvalidRating}
	ErrInvalidReview      = &Error{Kind: KindInvalidReview}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
)

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or "" when err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Terminal reports whether err ended the session. Only a rejected token does.
func Terminal(err error) bool {
	return errors.Is(err, ErrTokenRejected)
}
