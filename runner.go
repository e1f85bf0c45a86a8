package lifeline

import (
	"context"
	"errors"
)

// ErrSignatureDeclined is returned by Extend when the wallet produced no
// signature and the workflow went back to Idle
var ErrSignatureDeclined = errors.New("signature declined")

// errInvalidAmount rejects headless runs for zero hours
var errInvalidAmount = errors.New("hours must be positive")

// QuoteFor sets the amount and waits until a quote for it arrives or the
// workflow fails. It drives a workflow without a host UI.
func QuoteFor(ctx context.Context, w *Workflow, hours uint64) (Snapshot, error) {
	if hours == 0 {
		return w.Snapshot(), errInvalidAmount
	}
	if err := w.SetAmount(hours); err != nil {
		return w.Snapshot(), err
	}

	s, err := w.Wait(ctx, func(s Snapshot) bool {
		return (s.QuoteCurrent && s.Amount == hours) || s.State == StateFailed
	})
	if err != nil {
		return s, err
	}
	if s.State == StateFailed {
		return s, failureError(s.Failure)
	}
	return s, nil
}

// Extend quotes hours, submits and waits for the outcome
func Extend(ctx context.Context, w *Workflow, hours uint64) (Snapshot, error) {
	s, err := QuoteFor(ctx, w, hours)
	if err != nil {
		return s, err
	}
	if err := w.Submit(); err != nil {
		return w.Snapshot(), err
	}

	// Submit has already moved the workflow to Signing
	s, err = w.Wait(ctx, func(s Snapshot) bool {
		return s.State != StateSigning && s.State != StateSubmitting
	})
	if err != nil {
		return s, err
	}

	switch s.State {
	case StateDone:
		return s, nil
	case StateFailed:
		return s, failureError(s.Failure)
	default:
		return s, ErrSignatureDeclined
	}
}

func failureError(f *Failure) error {
	if f == nil {
		return &Error{Kind: KindTransportError}
	}
	return &Error{Kind: f.Kind, Reason: f.Reason}
}
