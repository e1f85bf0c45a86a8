package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacesvm/lifeline"
	lhttp "github.com/spacesvm/lifeline/http"
	"github.com/spacesvm/lifeline/types"
)

type stubQuotes struct{}

func (stubQuotes) GetQuote(_ context.Context, resource lifeline.ResourceID, amount uint64) (*lifeline.Quote, error) {
	if resource == "down" {
		return nil, lifeline.NewQuoteError(errors.New("node unreachable"))
	}
	return &lifeline.Quote{
		Resource: resource,
		Amount:   amount,
		Message: types.NewLifelineTypedData(types.TypedDataDomain{Name: "SpacesVM", Version: "1"}, types.LifelineMessage{
			BlockID: "blk-1",
			Space:   string(resource),
			Units:   amount,
			Price:   3,
		}),
		TotalCost: amount * 3,
	}, nil
}

type stubSigner struct{}

func (stubSigner) Available() bool { return true }

func (stubSigner) Sign(context.Context, types.TypedData) (lifeline.Signature, error) {
	return make(lifeline.Signature, lifeline.SignatureLength), nil
}

type stubSubmitter struct {
	calls atomic.Int32
}

func (s *stubSubmitter) Submit(context.Context, types.TypedData, lifeline.Signature) (lifeline.SubmissionResult, error) {
	s.calls.Add(1)
	return lifeline.Accepted("0xabc"), nil
}

type stubLookup struct{ expiry time.Time }

func (l stubLookup) Info(context.Context, lifeline.ResourceID) (*lhttp.SpaceInfo, error) {
	return &lhttp.SpaceInfo{Expiry: l.expiry.Unix()}, nil
}

func connect(t *testing.T, server *Server) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	serverSession, err := server.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { serverSession.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-agent", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func call(t *testing.T, session *mcpsdk.ClientSession, tool string, args map[string]interface{}) (*mcpsdk.CallToolResult, ToolResult) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: tool, Arguments: args})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)

	var out ToolResult
	_ = json.Unmarshal([]byte(text.Text), &out)
	return result, out
}

func newTestServer(submitter *stubSubmitter, signer lifeline.WalletSigner, opts ...Option) *Server {
	opts = append([]Option{WithWorkflowOptions(lifeline.WithDebounceWindow(5 * time.Millisecond))}, opts...)
	return NewServer(stubQuotes{}, submitter, signer, opts...)
}

func TestListTools(t *testing.T) {
	session := connect(t, newTestServer(&stubSubmitter{}, stubSigner{}))

	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolQuote, ToolExtend}, names)
}

func TestQuoteTool(t *testing.T) {
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	submitter := &stubSubmitter{}
	session := connect(t, newTestServer(submitter, stubSigner{}, WithExpiryLookup(stubLookup{expiry})))

	result, out := call(t, session, ToolQuote, map[string]interface{}{"space": "kevin", "hours": 24})
	assert.False(t, result.IsError)
	assert.Equal(t, "idle", out.State)
	assert.Equal(t, uint64(72), out.TotalCost)
	require.NotNil(t, out.ExtendTo)
	assert.True(t, out.ExtendTo.Equal(expiry.Add(24*time.Hour)))
	assert.Zero(t, submitter.calls.Load())
}

func TestExtendTool(t *testing.T) {
	submitter := &stubSubmitter{}
	session := connect(t, newTestServer(submitter, stubSigner{}))

	result, out := call(t, session, ToolExtend, map[string]interface{}{"space": "kevin", "hours": 2})
	assert.False(t, result.IsError)
	assert.Equal(t, "done", out.State)
	assert.Equal(t, "0xabc", out.TxID)
	assert.Equal(t, int32(1), submitter.calls.Load())
}

func TestToolErrors(t *testing.T) {
	t.Run("missing arguments", func(t *testing.T) {
		session := connect(t, newTestServer(&stubSubmitter{}, stubSigner{}))
		result, _ := call(t, session, ToolQuote, map[string]interface{}{"space": "kevin"})
		assert.True(t, result.IsError)
	})

	t.Run("quote unavailable", func(t *testing.T) {
		session := connect(t, newTestServer(&stubSubmitter{}, stubSigner{}))
		result, out := call(t, session, ToolExtend, map[string]interface{}{"space": "down", "hours": 1})
		assert.True(t, result.IsError)
		assert.Equal(t, "failed", out.State)
		require.NotNil(t, out.Failure)
		assert.Equal(t, lifeline.KindQuoteUnavailable, out.Failure.Kind)
	})

	t.Run("no signer", func(t *testing.T) {
		submitter := &stubSubmitter{}
		session := connect(t, newTestServer(submitter, nil))
		result, out := call(t, session, ToolExtend, map[string]interface{}{"space": "kevin", "hours": 1})
		assert.True(t, result.IsError)
		assert.Equal(t, "no signer configured", out.Error)
		assert.Zero(t, submitter.calls.Load())
	})
}
