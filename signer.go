package lifeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spacesvm/lifeline/types"
)

// SignatureLength is the size of an r||s||v secp256k1 signature
const SignatureLength = 65

// availabilityReporter is implemented by providers that can disappear at
// runtime, such as a relayed browser wallet.
type availabilityReporter interface {
	Available() bool
}

// walletSigner adapts a WalletProvider to the WalletSigner contract
type walletSigner struct {
	provider WalletProvider
	logger   *zap.Logger
}

// SignerOption configures the wallet signer
type SignerOption func(*walletSigner)

// WithSignerLogger sets the logger
func WithSignerLogger(logger *zap.Logger) SignerOption {
	return func(s *walletSigner) {
		s.logger = logger
	}
}

// NewWalletSigner creates a WalletSigner. A nil provider is allowed and
// behaves as an absent wallet.
func NewWalletSigner(provider WalletProvider, opts ...SignerOption) WalletSigner {
	s := &walletSigner{
		provider: provider,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available implements WalletSigner
func (s *walletSigner) Available() bool {
	if s.provider == nil {
		return false
	}
	if r, ok := s.provider.(availabilityReporter); ok {
		return r.Available()
	}
	return true
}

// Sign implements WalletSigner
func (s *walletSigner) Sign(ctx context.Context, message types.TypedData) (Signature, error) {
	if !s.Available() {
		s.logger.Debug("no wallet provider, skipping signature")
		return nil, nil
	}
	if _, err := message.Hash(); err != nil {
		return nil, NewSigningError(fmt.Errorf("malformed message: %w", err))
	}

	sig, err := s.provider.SignTypedData(ctx, message)
	if err != nil {
		if errors.Is(err, ErrUserRejected) {
			s.logger.Debug("signature declined by user")
			return nil, nil
		}
		return nil, NewSigningError(err)
	}
	if len(sig) != SignatureLength {
		return nil, NewSigningError(fmt.Errorf("unexpected signature length %d", len(sig)))
	}
	return Signature(sig), nil
}
