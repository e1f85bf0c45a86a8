// Package relay implements a wallet provider whose signatures are produced
// elsewhere, typically by a browser wallet behind the session API. Each
// signing call publishes a pending request and blocks until the host
// resolves or rejects it.
package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spacesvm/lifeline"
	"github.com/spacesvm/lifeline/types"
)

var (
	// ErrUnknownRequest is returned when resolving a request that is not pending
	ErrUnknownRequest = errors.New("unknown signature request")
	// ErrWalletDisconnected fails pending requests when the wallet goes away
	ErrWalletDisconnected = errors.New("wallet disconnected")
)

// Request is a signature request waiting for the host
type Request struct {
	ID        string          `json:"id"`
	TypedData types.TypedData `json:"typedData"`
	CreatedAt time.Time       `json:"createdAt"`
}

type outcome struct {
	signature []byte
	err       error
}

type pendingRequest struct {
	req    Request
	result chan outcome
}

// Provider is a lifeline.WalletProvider backed by an external wallet
type Provider struct {
	mu        sync.Mutex
	available bool
	pending   map[string]*pendingRequest
	onRequest func(Request)
	logger    *zap.Logger
}

// Option configures a Provider
type Option func(*Provider)

// WithAvailable sets the initial wallet availability (default true)
func WithAvailable(available bool) Option {
	return func(p *Provider) {
		p.available = available
	}
}

// WithOnRequest registers a callback invoked for every new request
func WithOnRequest(fn func(Request)) Option {
	return func(p *Provider) {
		p.onRequest = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// NewProvider creates a relay provider
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		available: true,
		pending:   make(map[string]*pendingRequest),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Available reports whether the host has a wallet
func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// SetAvailable records whether the host has a wallet. Going unavailable
// fails every pending request.
func (p *Provider) SetAvailable(available bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.available = available
	if available {
		return
	}
	for id, pr := range p.pending {
		pr.result <- outcome{err: ErrWalletDisconnected}
		delete(p.pending, id)
	}
}

// SignTypedData publishes a request and waits for the host's answer
func (p *Provider) SignTypedData(ctx context.Context, message types.TypedData) ([]byte, error) {
	pr := &pendingRequest{
		req: Request{
			ID:        uuid.NewString(),
			TypedData: message,
			CreatedAt: time.Now(),
		},
		result: make(chan outcome, 1),
	}

	p.mu.Lock()
	if !p.available {
		p.mu.Unlock()
		return nil, ErrWalletDisconnected
	}
	p.pending[pr.req.ID] = pr
	onRequest := p.onRequest
	p.mu.Unlock()

	p.logger.Debug("signature requested", zap.String("request_id", pr.req.ID))
	if onRequest != nil {
		onRequest(pr.req)
	}

	select {
	case out := <-pr.result:
		return out.signature, out.err
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, pr.req.ID)
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Pending returns the outstanding requests, oldest first
func (p *Provider) Pending() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()

	requests := make([]Request, 0, len(p.pending))
	for _, pr := range p.pending {
		requests = append(requests, pr.req)
	}
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
	return requests
}

// Resolve answers a request with a signature
func (p *Provider) Resolve(id string, signature []byte) error {
	return p.finish(id, outcome{signature: signature})
}

// Reject answers a request with a user rejection
func (p *Provider) Reject(id string) error {
	return p.finish(id, outcome{err: lifeline.ErrUserRejected})
}

// Fail answers a request with a wallet error
func (p *Provider) Fail(id string, err error) error {
	return p.finish(id, outcome{err: err})
}

func (p *Provider) finish(id string, out outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr, ok := p.pending[id]
	if !ok {
		return ErrUnknownRequest
	}
	delete(p.pending, id)
	pr.result <- out
	return nil
}
