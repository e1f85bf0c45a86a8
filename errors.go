package lifeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies workflow failures
type ErrorKind string

// Failure kinds surfaced through Failed states
const (
	KindQuoteUnavailable   ErrorKind = "quote_unavailable"
	KindSigningError       ErrorKind = "signing_error"
	KindSubmissionRejected ErrorKind = "submission_rejected"
	KindTransportError     ErrorKind = "transport_error"
)

// Error is a classified workflow failure.
// Reason carries the backend's message verbatim for rejections.
type Error struct {
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason,omitempty"`
	Err    error     `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind, so errors.Is(err, ErrTransport) works
// for any transport failure regardless of its reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Reason == "" && t.Err == nil
}

// Kind sentinels for errors.Is
var (
	ErrQuoteUnavailable   = &Error{Kind: KindQuoteUnavailable}
	ErrSigningFailed      = &Error{Kind: KindSigningError}
	ErrSubmissionRejected = &Error{Kind: KindSubmissionRejected}
	ErrTransport          = &Error{Kind: KindTransportError}
)

// Command errors returned by Workflow methods
var (
	ErrWorkflowClosed    = errors.New("workflow closed")
	ErrAmountLocked      = errors.New("amount cannot change while signing, submitting or done")
	ErrAmountTooLarge    = errors.New("amount exceeds the maximum extension")
	ErrSubmitUnavailable = errors.New("submit unavailable: no quote for the current amount")
	ErrRetryUnavailable  = errors.New("nothing to retry in the current state")
	ErrSubmitAborted     = errors.New("submit aborted")
)

// ErrUserRejected is returned by a WalletProvider when the user declines the
// signature prompt. WalletSigner turns it into a nil signature.
var ErrUserRejected = errors.New("user rejected the signature request")

// NewQuoteError wraps a pricing failure
func NewQuoteError(err error) *Error {
	return &Error{Kind: KindQuoteUnavailable, Err: err}
}

// NewSigningError wraps a wallet failure other than a user rejection
func NewSigningError(err error) *Error {
	return &Error{Kind: KindSigningError, Err: err}
}

// NewRejectedError records a business rejection from the settlement backend
func NewRejectedError(reason string) *Error {
	return &Error{Kind: KindSubmissionRejected, Reason: reason}
}

// NewTransportError wraps a network failure talking to the settlement backend
func NewTransportError(err error) *Error {
	return &Error{Kind: KindTransportError, Err: err}
}

// KindOf returns the failure kind of err, or "" if err is not classified
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
