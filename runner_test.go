package lifeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spacesvm/lifeline/types"
)

func TestExtendAccepted(t *testing.T) {
	submitter := &mockSubmitter{}
	w := newTestWorkflow(t, &mockQuoteService{}, &mockSigner{}, submitter)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := Extend(ctx, w, 24)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if s.State != StateDone || s.TxID != "tx-1" {
		t.Errorf("Expected Done with tx-1, got %s %q", s.State, s.TxID)
	}
	if len(submitter.Calls()) != 1 {
		t.Errorf("Expected one submission, got %d", len(submitter.Calls()))
	}
}

func TestExtendOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		quotes    *mockQuoteService
		signer    *mockSigner
		submitter *mockSubmitter
		hours     uint64
		wantState State
		wantErr   error
	}{
		{
			name:      "zero hours",
			hours:     0,
			wantState: StateIdle,
			wantErr:   errInvalidAmount,
		},
		{
			name: "quote unavailable",
			quotes: &mockQuoteService{getQuote: func(context.Context, ResourceID, uint64) (*Quote, error) {
				return nil, NewQuoteError(errors.New("node down"))
			}},
			hours:     3,
			wantState: StateFailed,
			wantErr:   ErrQuoteUnavailable,
		},
		{
			name: "declined",
			signer: &mockSigner{sign: func(context.Context, types.TypedData) (Signature, error) {
				return nil, nil
			}},
			hours:     3,
			wantState: StateIdle,
			wantErr:   ErrSignatureDeclined,
		},
		{
			name: "rejected",
			submitter: &mockSubmitter{submit: func(context.Context, types.TypedData, Signature) (SubmissionResult, error) {
				return Rejected("insufficient balance"), nil
			}},
			hours:     3,
			wantState: StateFailed,
			wantErr:   ErrSubmissionRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.quotes == nil {
				tt.quotes = &mockQuoteService{}
			}
			if tt.signer == nil {
				tt.signer = &mockSigner{}
			}
			if tt.submitter == nil {
				tt.submitter = &mockSubmitter{}
			}
			w := newTestWorkflow(t, tt.quotes, tt.signer, tt.submitter)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			s, err := Extend(ctx, w, tt.hours)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
			if s.State != tt.wantState {
				t.Errorf("Expected state %s, got %s", tt.wantState, s.State)
			}
		})
	}
}

func TestQuoteReportsCost(t *testing.T) {
	w := newTestWorkflow(t, &mockQuoteService{}, &mockSigner{}, &mockSubmitter{})

	s, err := QuoteFor(context.Background(), w, 12)
	if err != nil {
		t.Fatalf("QuoteFor failed: %v", err)
	}
	if s.TotalCost != 24 || !s.QuoteCurrent {
		t.Errorf("Expected a current quote costing 24, got %+v", s)
	}
}

func TestQuoteContextCancelled(t *testing.T) {
	quotes := &mockQuoteService{getQuote: func(ctx context.Context, _ ResourceID, _ uint64) (*Quote, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	w := newTestWorkflow(t, quotes, &mockSigner{}, &mockSubmitter{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := QuoteFor(ctx, w, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}
