package lifeline

import (
	"context"

	"github.com/spacesvm/lifeline/types"
)

// ============================================================================
// Workflow collaborators
// ============================================================================

// QuoteService prices a lifeline extension.
// Failures are reported as *Error with KindQuoteUnavailable.
type QuoteService interface {
	GetQuote(ctx context.Context, resource ResourceID, amount uint64) (*Quote, error)
}

// WalletSigner obtains a signature over a signable message.
//
// A nil signature with a nil error means the user declined or no wallet is
// present; that is a normal outcome. Any other failure is a *Error with
// KindSigningError.
type WalletSigner interface {
	Sign(ctx context.Context, message types.TypedData) (Signature, error)

	// Available reports whether a wallet provider is present.
	// Submit is disabled while it returns false.
	Available() bool
}

// SubmissionService sends a signed message to the settlement backend.
//
// Submitting the same (message, signature) pair more than once must be safe:
// an accepted pair returns its original result without a second settlement.
// Transport failures are *Error with KindTransportError; business rejections
// are returned as a SubmissionResult with Accepted=false and a nil error.
type SubmissionService interface {
	Submit(ctx context.Context, message types.TypedData, signature Signature) (SubmissionResult, error)
}

// ============================================================================
// Network boundaries
// ============================================================================

// WalletProvider is the raw wallet capability (an injected browser wallet,
// a relayed host wallet or a local key). It returns ErrUserRejected when the
// user declines the prompt.
type WalletProvider interface {
	SignTypedData(ctx context.Context, message types.TypedData) ([]byte, error)
}

// FeeBackend is the pricing boundary
type FeeBackend interface {
	SuggestedFee(ctx context.Context, req FeeRequest) (*FeeResponse, error)
}

// SettlementBackend is the settlement boundary.
//
// A business rejection is returned as *Error with KindSubmissionRejected;
// anything else is treated as a transport failure.
type SettlementBackend interface {
	IssueTx(ctx context.Context, message types.TypedData, signature Signature) (txID string, err error)
}

// Backend combines both network boundaries, which is how the spaces chain
// exposes them
type Backend interface {
	FeeBackend
	SettlementBackend
}
