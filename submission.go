package lifeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/spacesvm/lifeline/types"
)

const (
	defaultSubmissionTTL   = 10 * time.Minute
	defaultSubmitRetries   = 2
	defaultSubmitRetryWait = 250 * time.Millisecond
)

// submissionService submits signed messages at most once per pair
type submissionService struct {
	backend    SettlementBackend
	store      SubmissionStore
	maxRetries uint64
	retryWait  time.Duration
	logger     *zap.Logger
}

// SubmissionOption configures the submission service
type SubmissionOption func(*submissionService)

// WithSubmissionStore sets the deduplication store (default: in-memory, 10 minute TTL)
func WithSubmissionStore(store SubmissionStore) SubmissionOption {
	return func(s *submissionService) {
		s.store = store
	}
}

// WithTransportRetries sets how many times a transport failure is retried
// with the identical pair before giving up. Zero disables retries.
func WithTransportRetries(retries uint64, initialWait time.Duration) SubmissionOption {
	return func(s *submissionService) {
		s.maxRetries = retries
		if initialWait > 0 {
			s.retryWait = initialWait
		}
	}
}

// WithSubmissionLogger sets the logger
func WithSubmissionLogger(logger *zap.Logger) SubmissionOption {
	return func(s *submissionService) {
		s.logger = logger
	}
}

// NewSubmissionService wraps a settlement backend with idempotency and
// bounded transport retries.
func NewSubmissionService(backend SettlementBackend, opts ...SubmissionOption) SubmissionService {
	s := &submissionService{
		backend:    backend,
		maxRetries: defaultSubmitRetries,
		retryWait:  defaultSubmitRetryWait,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = NewSubmissionCache(defaultSubmissionTTL)
	}
	return s
}

// Submit implements SubmissionService
func (s *submissionService) Submit(ctx context.Context, message types.TypedData, signature Signature) (SubmissionResult, error) {
	key, err := GenerateSubmissionKey(message, signature)
	if err != nil {
		return Rejected(fmt.Sprintf("malformed message: %v", err)), nil
	}
	log := s.logger.With(zap.String("submission_key", key))

	status, cached, done, err := s.store.CheckAndMark(ctx, key)
	if err != nil {
		return SubmissionResult{}, NewTransportError(fmt.Errorf("submission store unavailable: %w", err))
	}

	switch status {
	case StatusCached:
		log.Debug("returning cached submission result", zap.String("tx_id", cached.TxID))
		return *cached, nil

	case StatusInFlight:
		result, err := s.store.WaitForResult(ctx, key, done)
		if err != nil {
			return SubmissionResult{}, NewTransportError(err)
		}
		if result != nil {
			return *result, nil
		}
		// The other submission did not succeed; take our own turn
		return s.Submit(ctx, message, signature)

	case StatusNotFound:
	}

	result, err := s.send(ctx, message, signature)
	if err != nil || !result.Accepted {
		s.store.Fail(ctx, key, done)
		if err != nil {
			log.Warn("submission transport failure", zap.Error(err))
		} else {
			log.Info("submission rejected", zap.String("reason", result.Reason))
		}
		return result, err
	}

	s.store.Complete(ctx, key, result, done)
	log.Info("submission accepted", zap.String("tx_id", result.TxID))
	return result, nil
}

func (s *submissionService) send(ctx context.Context, message types.TypedData, signature Signature) (SubmissionResult, error) {
	var txID string
	op := func() error {
		id, err := s.backend.IssueTx(ctx, message, signature)
		if err != nil {
			if KindOf(err) == KindSubmissionRejected || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		txID = id
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryWait
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx))
	if err == nil {
		return Accepted(txID), nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		switch classified.Kind {
		case KindSubmissionRejected:
			return Rejected(classified.Reason), nil
		case KindTransportError:
			return SubmissionResult{}, classified
		}
	}
	return SubmissionResult{}, NewTransportError(err)
}
