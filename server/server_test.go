package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacesvm/lifeline"
	lhttp "github.com/spacesvm/lifeline/http"
	"github.com/spacesvm/lifeline/internal/devnet"
	"github.com/spacesvm/lifeline/metrics"
	"github.com/spacesvm/lifeline/signers/evm"
	"github.com/spacesvm/lifeline/signers/relay"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// view mirrors DialogResponse with the state as its wire name
type view struct {
	ID       string `json:"id"`
	Snapshot struct {
		State              string            `json:"state"`
		Failure            *lifeline.Failure `json:"failure"`
		Amount             uint64            `json:"amount"`
		TotalCost          uint64            `json:"totalCost"`
		QuoteCurrent       bool              `json:"quoteCurrent"`
		CanEdit            bool              `json:"canEdit"`
		CanSubmit          bool              `json:"canSubmit"`
		CanRetrySubmission bool              `json:"canRetrySubmission"`
		WalletAvailable    bool              `json:"walletAvailable"`
		ExtendTo           time.Time         `json:"extendTo"`
		TxID               string            `json:"txId"`
	} `json:"snapshot"`
	SignatureRequest *relay.Request `json:"signatureRequest"`
}

type harness struct {
	t         *testing.T
	api       *httptest.Server
	chain     *devnet.Chain
	signer    *evm.LocalSigner
	recorder  *metrics.Recorder
	refreshes atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signer, err := evm.NewLocalSignerFromPrivateKey(testKey)
	require.NoError(t, err)
	owner := common.HexToAddress(signer.Address())

	chain := devnet.New(devnet.WithFeePerUnit(2))
	chain.Claim("kevin", owner, time.Now().Add(24*time.Hour))
	chain.Fund(owner, 100)
	node := httptest.NewServer(chain.Handler())
	t.Cleanup(node.Close)

	backend := lhttp.NewBackendClient(&lhttp.BackendConfig{URL: node.URL + lhttp.RPCPath})

	h := &harness{t: t, chain: chain, signer: signer, recorder: metrics.NewRecorder("test")}
	srv := New(
		lifeline.NewFeeQuoteService(backend),
		lifeline.NewSubmissionService(backend),
		WithExpiryLookup(backend),
		WithRecorder(h.recorder),
		WithWorkflowOptions(lifeline.WithDebounceWindow(20*time.Millisecond)),
		WithRefresh(func(lifeline.ResourceID) { h.refreshes.Add(1) }),
	)
	h.api = httptest.NewServer(srv)
	t.Cleanup(func() {
		h.api.Close()
		srv.Shutdown(context.Background())
	})
	return h
}

func (h *harness) do(method, path string, body interface{}) (int, view) {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.api.URL+path, reader)
	require.NoError(h.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var v view
	if resp.StatusCode < 300 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&v))
	}
	return resp.StatusCode, v
}

func (h *harness) open(body CreateDialogRequest) view {
	h.t.Helper()
	status, v := h.do(http.MethodPost, "/v1/dialogs", body)
	require.Equal(h.t, http.StatusCreated, status)
	require.NotEmpty(h.t, v.ID)
	return v
}

func (h *harness) poll(id string, cond func(view) bool) view {
	h.t.Helper()
	var last view
	require.Eventually(h.t, func() bool {
		_, last = h.do(http.MethodGet, "/v1/dialogs/"+id, nil)
		return cond(last)
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func (h *harness) quoted(id string, hours uint64) view {
	h.t.Helper()
	status, _ := h.do(http.MethodPut, "/v1/dialogs/"+id+"/amount", AmountRequest{Hours: hours})
	require.Equal(h.t, http.StatusOK, status)
	return h.poll(id, func(v view) bool { return v.Snapshot.QuoteCurrent && v.Snapshot.Amount == hours })
}

func (h *harness) awaitSignatureRequest(id string) *relay.Request {
	h.t.Helper()
	return h.poll(id, func(v view) bool { return v.SignatureRequest != nil }).SignatureRequest
}

func TestDialogHappyPath(t *testing.T) {
	h := newHarness(t)
	v := h.open(CreateDialogRequest{Space: "kevin"})
	assert.Equal(t, "idle", v.Snapshot.State)
	assert.Zero(t, v.Snapshot.Amount)
	assert.True(t, v.Snapshot.CanEdit)

	info, ok := h.chain.Info("kevin")
	require.True(t, ok)
	existing := lifeline.ExpiryFromUnix(info.Expiry)

	v = h.quoted(v.ID, 24)
	assert.Equal(t, uint64(48), v.Snapshot.TotalCost)
	assert.True(t, v.Snapshot.CanSubmit)
	assert.True(t, v.Snapshot.ExtendTo.Equal(existing.Add(24*time.Hour)))

	status, _ := h.do(http.MethodPost, "/v1/dialogs/"+v.ID+"/submit", nil)
	require.Equal(t, http.StatusAccepted, status)

	req := h.awaitSignatureRequest(v.ID)
	sig, err := h.signer.SignTypedData(context.Background(), req.TypedData)
	require.NoError(t, err)

	status, _ = h.do(http.MethodPost, "/v1/dialogs/"+v.ID+"/signature", SignatureRequest{
		RequestID: req.ID,
		Signature: lifeline.Signature(sig).Hex(),
	})
	require.Equal(t, http.StatusAccepted, status)

	v = h.poll(v.ID, func(v view) bool { return v.Snapshot.State == "done" })
	assert.NotEmpty(t, v.Snapshot.TxID)
	assert.False(t, v.Snapshot.CanEdit)
	assert.Nil(t, v.SignatureRequest)

	info, _ = h.chain.Info("kevin")
	assert.Equal(t, existing.Add(24*time.Hour).Unix(), info.Expiry)
	require.Eventually(t, func() bool { return h.refreshes.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Completed dialogs lock the amount
	status, _ = h.do(http.MethodPut, "/v1/dialogs/"+v.ID+"/amount", AmountRequest{Hours: 1})
	assert.Equal(t, http.StatusConflict, status)
}

func TestDialogDeclineReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	v := h.open(CreateDialogRequest{Space: "kevin"})
	h.quoted(v.ID, 5)

	status, _ := h.do(http.MethodPost, "/v1/dialogs/"+v.ID+"/submit", nil)
	require.Equal(t, http.StatusAccepted, status)
	req := h.awaitSignatureRequest(v.ID)

	// Editing while the wallet prompt is open is refused
	status, _ = h.do(http.MethodPost, "/v1/dialogs/"+v.ID+"/adjust", AdjustRequest{Delta: 1})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = h.do(http.MethodPost, "/v1/dialogs/"+v.ID+"/signature", SignatureRequest{RequestID: req.ID, Reject: true})
	require.Equal(t, http.StatusAccepted, status)

	v = h.poll(v.ID, func(v view) bool { return v.Snapshot.State == "idle" })
	assert.Nil(t, v.Snapshot.Failure)
	assert.True(t, v.Snapshot.CanSubmit)
	assert.Zero(t, h.refreshes.Load())

	// The request is gone
	status, _ = h.do(http.MethodPost, "/v1/dialogs/"+v.ID+"/signature", SignatureRequest{RequestID: req.ID, Reject: true})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDialogRejectedSubmission(t *testing.T) {
	h := newHarness(t)
	v := h.open(CreateDialogRequest{Space: "kevin"})
	h.quoted(v.ID, 100)

	h.do(http.MethodPost, "/v1/dialogs/"+v.ID+"/submit", nil)
	req := h.awaitSignatureRequest(v.ID)
	sig, err := h.signer.SignTypedData(context.Background(), req.TypedData)
	require.NoError(t, err)
	h.do(http.MethodPost, "/v1/dialogs/"+v.ID+"/signature", SignatureRequest{RequestID: req.ID, Signature: lifeline.Signature(sig).Hex()})

	v = h.poll(v.ID, func(v view) bool { return v.Snapshot.State == "failed" })
	require.NotNil(t, v.Snapshot.Failure)
	assert.Equal(t, lifeline.KindSubmissionRejected, v.Snapshot.Failure.Kind)
	assert.Equal(t, devnet.ReasonInsufficientBalance, v.Snapshot.Failure.Reason)
	assert.True(t, v.Snapshot.CanEdit)
	assert.False(t, v.Snapshot.CanRetrySubmission)

	// Nothing to retry for a rejection besides a new quote
	status, _ := h.do(http.MethodPost, "/v1/dialogs/"+v.ID+"/retry", RetryRequest{Target: RetrySubmission})
	assert.Equal(t, http.StatusConflict, status)

	// Lowering the amount returns to idle
	status, _ = h.do(http.MethodPost, "/v1/dialogs/"+v.ID+"/adjust", AdjustRequest{Delta: -90})
	require.Equal(t, http.StatusOK, status)
	v = h.poll(v.ID, func(v view) bool { return v.Snapshot.QuoteCurrent && v.Snapshot.Amount == 10 })
	assert.Equal(t, "idle", v.Snapshot.State)
}

func TestDialogWithoutWallet(t *testing.T) {
	h := newHarness(t)
	noWallet := false
	v := h.open(CreateDialogRequest{Space: "kevin", WalletAvailable: &noWallet})
	v = h.quoted(v.ID, 3)
	assert.False(t, v.Snapshot.WalletAvailable)
	assert.False(t, v.Snapshot.CanSubmit)

	status, _ := h.do(http.MethodPost, "/v1/dialogs/"+v.ID+"/submit", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, v = h.do(http.MethodPut, "/v1/dialogs/"+v.ID+"/wallet", WalletRequest{Available: true})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, v.Snapshot.CanSubmit)
}

func TestDialogLifecycle(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(http.MethodPost, "/v1/dialogs", CreateDialogRequest{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(http.MethodPost, "/v1/dialogs", CreateDialogRequest{Space: "nobody"})
	assert.Equal(t, http.StatusBadGateway, status)

	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	v := h.open(CreateDialogRequest{Space: "kevin", ExistingExpiry: &expiry})
	v = h.quoted(v.ID, 24)
	assert.True(t, v.Snapshot.ExtendTo.Equal(expiry.Add(24*time.Hour)))

	status, _ = h.do(http.MethodPut, "/v1/dialogs/"+v.ID+"/amount", AmountRequest{Hours: 3_000_000})
	assert.Equal(t, http.StatusBadRequest, status)

	// Reopening starts over
	status, v = h.do(http.MethodPost, "/v1/dialogs/"+v.ID+"/open", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, v.Snapshot.Amount)
	assert.False(t, v.Snapshot.QuoteCurrent)

	rec := httptest.NewRecorder()
	h.recorder.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "test_server_open_dialogs 1"))

	status, _ = h.do(http.MethodDelete, "/v1/dialogs/"+v.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = h.do(http.MethodGet, "/v1/dialogs/"+v.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = h.do(http.MethodDelete, "/v1/dialogs/"+v.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = h.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{lifeline.ErrWorkflowClosed, http.StatusGone},
		{lifeline.ErrAmountLocked, http.StatusConflict},
		{lifeline.ErrAmountTooLarge, http.StatusBadRequest},
		{lifeline.ErrSubmitUnavailable, http.StatusConflict},
		{relay.ErrUnknownRequest, http.StatusNotFound},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
