// Package integration_test runs lifeline workflows against an in-memory
// spaces chain over real HTTP.
package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/spacesvm/lifeline"
	lhttp "github.com/spacesvm/lifeline/http"
	"github.com/spacesvm/lifeline/internal/devnet"
	"github.com/spacesvm/lifeline/signers/evm"
	"github.com/spacesvm/lifeline/types"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// node fronts the chain and can drop issueTx calls to simulate an
// unreachable backend
type node struct {
	chain      *devnet.Chain
	handler    http.Handler
	failIssues atomic.Int32
	feeCalls   atomic.Int32
	issueCalls atomic.Int32
}

func (n *node) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	var req lhttp.Request
	_ = json.Unmarshal(body, &req)
	switch req.Method {
	case lhttp.MethodSuggestedFee:
		n.feeCalls.Add(1)
	case lhttp.MethodIssueTx:
		n.issueCalls.Add(1)
		if n.failIssues.Load() > 0 {
			n.failIssues.Add(-1)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}
	n.handler.ServeHTTP(w, r)
}

// countingWallet counts signature prompts
type countingWallet struct {
	*evm.LocalSigner
	prompts atomic.Int32
}

func (c *countingWallet) SignTypedData(ctx context.Context, message types.TypedData) ([]byte, error) {
	c.prompts.Add(1)
	return c.LocalSigner.SignTypedData(ctx, message)
}

type env struct {
	node    *node
	owner   common.Address
	wallet  *countingWallet
	backend *lhttp.BackendClient
	expiry  time.Time
}

func setup(t *testing.T, balance uint64) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	local, err := evm.NewLocalSignerFromPrivateKey(testKey)
	if err != nil {
		t.Fatalf("Failed to load key: %v", err)
	}
	owner := common.HexToAddress(local.Address())

	expiry := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	chain := devnet.New(devnet.WithFeePerUnit(2))
	chain.Claim("kevin", owner, expiry)
	chain.Fund(owner, balance)

	n := &node{chain: chain, handler: chain.Handler()}
	server := httptest.NewServer(n)
	t.Cleanup(server.Close)

	return &env{
		node:   n,
		owner:  owner,
		wallet: &countingWallet{LocalSigner: local},
		backend: lhttp.NewBackendClient(&lhttp.BackendConfig{
			URL:            server.URL + lhttp.RPCPath,
			RetryBaseDelay: time.Millisecond,
		}),
		expiry: expiry,
	}
}

func (e *env) dialog(retries uint64, opts ...lifeline.WorkflowOption) *lifeline.Dialog {
	opts = append([]lifeline.WorkflowOption{
		lifeline.WithDebounceWindow(20 * time.Millisecond),
		lifeline.WithExistingExpiry(e.expiry),
	}, opts...)
	return lifeline.NewDialog("kevin",
		lifeline.NewFeeQuoteService(e.backend),
		lifeline.NewWalletSigner(e.wallet),
		lifeline.NewSubmissionService(e.backend, lifeline.WithTransportRetries(retries, time.Millisecond)),
		opts...,
	)
}

func wait(t *testing.T, w *lifeline.Workflow, cond func(lifeline.Snapshot) bool) lifeline.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := w.Wait(ctx, cond)
	if err != nil {
		t.Fatalf("Wait failed in state %s: %v", s.State, err)
	}
	return s
}

func quoted(hours uint64) func(lifeline.Snapshot) bool {
	return func(s lifeline.Snapshot) bool { return s.QuoteCurrent && s.Amount == hours }
}

func TestExtendEndToEnd(t *testing.T) {
	e := setup(t, 100)

	var refreshes atomic.Int32
	d := e.dialog(2, lifeline.WithRefresh(func() { refreshes.Add(1) }))
	defer d.Close()
	w := d.Open()

	if err := w.SetAmount(24); err != nil {
		t.Fatalf("SetAmount failed: %v", err)
	}
	s := wait(t, w, quoted(24))
	if s.TotalCost != 48 {
		t.Errorf("Expected total cost 48, got %d", s.TotalCost)
	}
	if !s.ExtendTo.Equal(e.expiry.Add(24 * time.Hour)) {
		t.Errorf("Expected extend-to %v, got %v", e.expiry.Add(24*time.Hour), s.ExtendTo)
	}

	if err := w.Submit(); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	s = wait(t, w, lifeline.Snapshot.Terminal)
	if s.State != lifeline.StateDone || s.TxID == "" {
		t.Fatalf("Expected Done with a tx id, got %s %+v", s.State, s.Failure)
	}

	info, err := e.backend.Info(context.Background(), "kevin")
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Expiry != e.expiry.Add(24*time.Hour).Unix() {
		t.Errorf("Expected on-chain expiry %d, got %d", e.expiry.Add(24*time.Hour).Unix(), info.Expiry)
	}
	if got := e.node.chain.Balance(e.owner); got != 52 {
		t.Errorf("Expected balance 52, got %d", got)
	}

	deadline := time.Now().Add(time.Second)
	for refreshes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if refreshes.Load() != 1 {
		t.Errorf("Expected one refresh, got %d", refreshes.Load())
	}
}

func TestDebouncedEditsFetchOnce(t *testing.T) {
	e := setup(t, 100)
	d := e.dialog(0, lifeline.WithDebounceWindow(100*time.Millisecond))
	defer d.Close()
	w := d.Open()

	for _, delta := range []int64{1, 1, 24, -1} {
		if err := w.Adjust(delta); err != nil {
			t.Fatalf("Adjust failed: %v", err)
		}
	}
	wait(t, w, quoted(25))

	if got := e.node.feeCalls.Load(); got != 1 {
		t.Errorf("Expected one fee request, got %d", got)
	}
}

func TestTransportFailureRetriedInService(t *testing.T) {
	e := setup(t, 100)
	e.node.failIssues.Store(2)

	d := e.dialog(2)
	defer d.Close()
	w := d.Open()

	w.SetAmount(5)
	wait(t, w, quoted(5))
	if err := w.Submit(); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	s := wait(t, w, lifeline.Snapshot.Terminal)
	if s.State != lifeline.StateDone {
		t.Fatalf("Expected Done after retries, got %s %+v", s.State, s.Failure)
	}
	if got := e.node.issueCalls.Load(); got != 3 {
		t.Errorf("Expected 3 issueTx calls, got %d", got)
	}
	if got := e.wallet.prompts.Load(); got != 1 {
		t.Errorf("Expected one signature prompt, got %d", got)
	}
	if got := e.node.chain.Balance(e.owner); got != 90 {
		t.Errorf("Expected balance 90, got %d", got)
	}
}

func TestRetrySubmissionResendsSamePair(t *testing.T) {
	e := setup(t, 100)
	e.node.failIssues.Store(2)

	d := e.dialog(1)
	defer d.Close()
	w := d.Open()

	w.SetAmount(5)
	wait(t, w, quoted(5))
	w.Submit()

	s := wait(t, w, lifeline.Snapshot.Terminal)
	if s.State != lifeline.StateFailed || s.Failure == nil || s.Failure.Kind != lifeline.KindTransportError {
		t.Fatalf("Expected Failed(transport_error), got %s %+v", s.State, s.Failure)
	}
	if !s.CanRetrySubmission {
		t.Fatal("Expected retry to be offered")
	}

	if err := w.RetrySubmission(); err != nil {
		t.Fatalf("RetrySubmission failed: %v", err)
	}
	s = wait(t, w, func(s lifeline.Snapshot) bool { return s.State == lifeline.StateDone })
	if s.TxID == "" {
		t.Error("Expected a tx id")
	}
	if got := e.wallet.prompts.Load(); got != 1 {
		t.Errorf("Expected the original signature to be reused, got %d prompts", got)
	}
	if got := e.node.chain.Balance(e.owner); got != 90 {
		t.Errorf("Expected a single charge, got balance %d", got)
	}
}

func TestRejectionCarriesReason(t *testing.T) {
	e := setup(t, 1)
	d := e.dialog(2)
	defer d.Close()
	w := d.Open()

	w.SetAmount(5)
	wait(t, w, quoted(5))
	w.Submit()

	s := wait(t, w, lifeline.Snapshot.Terminal)
	if s.State != lifeline.StateFailed || s.Failure == nil {
		t.Fatalf("Expected Failed, got %s", s.State)
	}
	if s.Failure.Kind != lifeline.KindSubmissionRejected || s.Failure.Reason != devnet.ReasonInsufficientBalance {
		t.Errorf("Expected rejection %q, got %+v", devnet.ReasonInsufficientBalance, s.Failure)
	}
	if got := e.node.issueCalls.Load(); got != 1 {
		t.Errorf("Rejections must not be retried, got %d calls", got)
	}
}
