package lifeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spacesvm/lifeline/types"
)

// feeQuoteService turns suggested fees into quotes the workflow can sign
type feeQuoteService struct {
	backend FeeBackend
	logger  *zap.Logger
}

// QuoteOption configures the quote service
type QuoteOption func(*feeQuoteService)

// WithQuoteLogger sets the logger
func WithQuoteLogger(logger *zap.Logger) QuoteOption {
	return func(s *feeQuoteService) {
		s.logger = logger
	}
}

// NewFeeQuoteService creates a QuoteService backed by the pricing backend
func NewFeeQuoteService(backend FeeBackend, opts ...QuoteOption) QuoteService {
	s := &feeQuoteService{
		backend: backend,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetQuote implements QuoteService.
//
// The returned message is checked against the request so that a quote can
// never carry a signable message for a different space or amount.
func (s *feeQuoteService) GetQuote(ctx context.Context, resource ResourceID, amount uint64) (*Quote, error) {
	resp, err := s.backend.SuggestedFee(ctx, FeeRequest{
		Type:  types.TxTypeLifeline,
		Space: resource,
		Units: amount,
	})
	if err != nil {
		return nil, NewQuoteError(err)
	}
	if resp == nil || resp.TypedData == nil {
		return nil, NewQuoteError(errors.New("empty fee response"))
	}

	msg, err := types.ParseLifelineMessage(*resp.TypedData)
	if err != nil {
		return nil, NewQuoteError(fmt.Errorf("unexpected typed data: %w", err))
	}
	if ResourceID(msg.Space) != resource || msg.Units != amount {
		return nil, NewQuoteError(fmt.Errorf(
			"typed data is for %s/%d, requested %s/%d", msg.Space, msg.Units, resource, amount,
		))
	}
	if _, err := resp.TypedData.Hash(); err != nil {
		return nil, NewQuoteError(fmt.Errorf("unsignable typed data: %w", err))
	}

	s.logger.Debug("quote received",
		zap.String("space", string(resource)),
		zap.Uint64("hours", amount),
		zap.Uint64("total_cost", resp.TotalCost),
	)

	return &Quote{
		Resource:  resource,
		Amount:    amount,
		Message:   *resp.TypedData,
		TotalCost: resp.TotalCost,
	}, nil
}
