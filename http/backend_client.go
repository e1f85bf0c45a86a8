package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spacesvm/lifeline"
	"github.com/spacesvm/lifeline/types"
)

// ============================================================================
// Backend Client
// ============================================================================

// BackendClient talks to a spacesvm node over JSON-RPC.
// Implements lifeline.Backend.
type BackendClient struct {
	url            string
	httpClient     *http.Client
	authProvider   AuthProvider
	retryBaseDelay time.Duration
	logger         *zap.Logger
	nextID         atomic.Uint64
}

// AuthProvider generates authentication headers for backend requests
type AuthProvider interface {
	// GetAuthHeaders returns authentication headers for each method
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers per JSON-RPC method
type AuthHeaders struct {
	SuggestedFee map[string]string
	IssueTx      map[string]string
	Info         map[string]string
}

func (h AuthHeaders) forMethod(method string) map[string]string {
	switch method {
	case MethodSuggestedFee:
		return h.SuggestedFee
	case MethodIssueTx:
		return h.IssueTx
	case MethodInfo:
		return h.Info
	}
	return nil
}

// BackendConfig configures the backend client
type BackendConfig struct {
	// URL is the JSON-RPC endpoint of the node
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// RetryBaseDelay is the first delay when the node answers 429 (optional, defaults to 1s)
	RetryBaseDelay time.Duration

	// Logger (optional)
	Logger *zap.Logger
}

// DefaultBackendURL is a local spacesvm node
const DefaultBackendURL = "http://127.0.0.1:9650" + RPCPath

// rateLimitRetries is the number of attempts made when the node answers 429
const rateLimitRetries = 3

// NewBackendClient creates a new backend client
func NewBackendClient(config *BackendConfig) *BackendClient {
	if config == nil {
		config = &BackendConfig{}
	}

	url := config.URL
	if url == "" {
		url = DefaultBackendURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	retryBaseDelay := config.RetryBaseDelay
	if retryBaseDelay == 0 {
		retryBaseDelay = time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BackendClient{
		url:            url,
		httpClient:     httpClient,
		authProvider:   config.AuthProvider,
		retryBaseDelay: retryBaseDelay,
		logger:         logger,
	}
}

// URL returns the endpoint the client talks to
func (c *BackendClient) URL() string {
	return c.url
}

// ============================================================================
// lifeline.Backend Implementation
// ============================================================================

// SuggestedFee asks the node to price a transaction and returns the message
// to sign. The typed data is schema-validated before it is accepted.
func (c *BackendClient) SuggestedFee(ctx context.Context, req lifeline.FeeRequest) (*lifeline.FeeResponse, error) {
	var reply SuggestedFeeReply
	if err := c.call(ctx, MethodSuggestedFee, SuggestedFeeArgs{Input: req}, &reply); err != nil {
		return nil, err
	}

	typedData, err := types.ToTypedData(reply.TypedData)
	if err != nil {
		return nil, fmt.Errorf("invalid typed data in fee response: %w", err)
	}

	return &lifeline.FeeResponse{
		TypedData: typedData,
		TotalCost: reply.TotalCost,
	}, nil
}

// IssueTx submits a signed message. Application JSON-RPC errors are business
// rejections and carry the node's message verbatim; protocol errors and
// everything else are transport errors.
func (c *BackendClient) IssueTx(ctx context.Context, message types.TypedData, signature lifeline.Signature) (string, error) {
	args := IssueTxArgs{
		TypedData: &message,
		Signature: signature.Hex(),
	}

	var reply IssueTxReply
	if err := c.call(ctx, MethodIssueTx, args, &reply); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && !rpcErr.Protocol() {
			return "", lifeline.NewRejectedError(rpcErr.Message)
		}
		return "", lifeline.NewTransportError(err)
	}
	if reply.TxID == "" {
		return "", lifeline.NewTransportError(errors.New("issueTx returned no transaction id"))
	}
	return reply.TxID, nil
}

// Info returns the on-chain record of a space
func (c *BackendClient) Info(ctx context.Context, space lifeline.ResourceID) (*SpaceInfo, error) {
	var reply InfoReply
	if err := c.call(ctx, MethodInfo, InfoArgs{Space: string(space)}, &reply); err != nil {
		return nil, err
	}
	return &reply.Info, nil
}

// ============================================================================
// Internal HTTP Methods
// ============================================================================

// call performs one JSON-RPC call. A JSON-RPC error object is returned as
// *RPCError; 429 responses are retried with exponential backoff.
func (c *BackendClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal %s params: %w", method, err)
	}

	body, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	var lastErr error
	for attempt := range rateLimitRetries {
		status, responseBody, err := c.post(ctx, method, body)
		if err != nil {
			return err
		}

		if status == http.StatusOK {
			return decodeResponse(method, responseBody, out)
		}

		lastErr = fmt.Errorf("%s failed (%d): %s", method, status, string(responseBody))

		// Retry on 429 with exponential backoff, except on the last attempt
		if status == http.StatusTooManyRequests && attempt < rateLimitRetries-1 {
			delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
			c.logger.Debug("rate limited by backend, retrying",
				zap.String("method", method),
				zap.Duration("delay", delay),
			)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return lastErr
	}

	return lastErr
}

func (c *BackendClient) post(ctx context.Context, method string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}

	req.Header.Set("Content-Type", "application/json")

	// Add auth headers if available
	if c.authProvider != nil {
		authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to get auth headers: %w", err)
		}
		for k, v := range authHeaders.forMethod(method) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, responseBody, nil
}

func decodeResponse(method string, body []byte, out interface{}) error {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if len(resp.Result) == 0 {
		return fmt.Errorf("%s response has no result", method)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}
