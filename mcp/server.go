package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/spacesvm/lifeline"
	lhttp "github.com/spacesvm/lifeline/http"
)

// ExpiryLookup finds the current expiry of a space
type ExpiryLookup interface {
	Info(ctx context.Context, space lifeline.ResourceID) (*lhttp.SpaceInfo, error)
}

// Server is an MCP server offering the lifeline tools
type Server struct {
	quotes    lifeline.QuoteService
	submitter lifeline.SubmissionService
	signer    lifeline.WalletSigner
	lookup    ExpiryLookup
	opts      []lifeline.WorkflowOption
	timeout   time.Duration
	version   string
	logger    *zap.Logger

	server *mcpsdk.Server
}

// Option configures a Server
type Option func(*Server)

// WithExpiryLookup resolves existing expiries from the chain
func WithExpiryLookup(lookup ExpiryLookup) Option {
	return func(s *Server) {
		s.lookup = lookup
	}
}

// WithWorkflowOptions applies opts to every workflow a tool call starts
func WithWorkflowOptions(opts ...lifeline.WorkflowOption) Option {
	return func(s *Server) {
		s.opts = append(s.opts, opts...)
	}
}

// WithTimeout bounds a single tool call.
//
// Default: 2 minutes
func WithTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.timeout = timeout
	}
}

// WithVersion sets the version reported to clients
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates the MCP server and registers its tools. A nil signer
// leaves lifeline_extend unable to submit.
func NewServer(quotes lifeline.QuoteService, submitter lifeline.SubmissionService, signer lifeline.WalletSigner, opts ...Option) *Server {
	s := &Server{
		quotes:    quotes,
		submitter: submitter,
		signer:    signer,
		timeout:   2 * time.Minute,
		version:   "dev",
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "lifeline",
		Version: s.version,
	}, nil)

	s.server.AddTool(&mcpsdk.Tool{
		Name:        ToolQuote,
		Description: "Price a lifetime extension for a space. Returns the total cost and the expiry it would produce.",
		InputSchema: json.RawMessage(toolInputSchema),
	}, s.handle(ToolQuote, lifeline.QuoteFor))

	s.server.AddTool(&mcpsdk.Tool{
		Name:        ToolExtend,
		Description: "Extend the lifetime of a space. Signs the quoted message with the configured key and submits it.",
		InputSchema: json.RawMessage(toolInputSchema),
	}, s.handle(ToolExtend, lifeline.Extend))

	return s
}

// MCPServer returns the underlying SDK server
func (s *Server) MCPServer() *mcpsdk.Server {
	return s.server
}

// Run serves on transport until the client disconnects or ctx ends
func (s *Server) Run(ctx context.Context, transport mcpsdk.Transport) error {
	return s.server.Run(ctx, transport)
}

type runFunc func(ctx context.Context, w *lifeline.Workflow, hours uint64) (lifeline.Snapshot, error)

func (s *Server) handle(tool string, run runFunc) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args ToolArgs
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Sprintf("failed to unmarshal arguments: %v", err)), nil
			}
		}
		if args.Space == "" || args.Hours == 0 {
			return errorResult("space and a positive number of hours are required"), nil
		}

		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		opts := append([]lifeline.WorkflowOption{lifeline.WithLogger(s.logger)}, s.opts...)
		if s.lookup != nil {
			info, err := s.lookup.Info(ctx, lifeline.ResourceID(args.Space))
			if err != nil {
				return errorResult(fmt.Sprintf("failed to look up space: %v", err)), nil
			}
			opts = append(opts, lifeline.WithExistingExpiry(lifeline.ExpiryFromUnix(info.Expiry)))
		}

		w := lifeline.NewWorkflow(lifeline.ResourceID(args.Space), s.quotes, s.signer, s.submitter, opts...)
		defer w.Close()

		snapshot, err := run(ctx, w, args.Hours)
		result := resultFromSnapshot(args, snapshot)
		if err != nil {
			result.Error = err.Error()
			if errors.Is(err, lifeline.ErrSubmitUnavailable) && !snapshot.WalletAvailable {
				result.Error = "no signer configured"
			}
		}

		s.logger.Info("tool call",
			zap.String("tool", tool),
			zap.String("space", args.Space),
			zap.Uint64("hours", args.Hours),
			zap.String("state", result.State),
			zap.Error(err),
		)

		raw, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return nil, marshalErr
		}
		return &mcpsdk.CallToolResult{
			IsError: err != nil,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
		}, nil
	}
}

func errorResult(message string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: message}},
	}
}
