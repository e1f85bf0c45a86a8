// Package server exposes lifeline dialogs to a host UI over HTTP.
//
// Every dialog owns a workflow and a relay wallet. The host polls the dialog,
// forwards the amount controls, and answers signature requests with the
// browser wallet's output.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/spacesvm/lifeline"
	lhttp "github.com/spacesvm/lifeline/http"
	"github.com/spacesvm/lifeline/metrics"
	"github.com/spacesvm/lifeline/signers/relay"
)

// ExpiryLookup finds the current expiry of a space when the host does not
// send one
type ExpiryLookup interface {
	Info(ctx context.Context, space lifeline.ResourceID) (*lhttp.SpaceInfo, error)
}

// Server is the session API
type Server struct {
	quotes    lifeline.QuoteService
	submitter lifeline.SubmissionService
	lookup    ExpiryLookup
	recorder  *metrics.Recorder
	opts      []lifeline.WorkflowOption
	onRefresh func(lifeline.ResourceID)
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session

	echo *echo.Echo
}

type session struct {
	id      string
	space   lifeline.ResourceID
	dialog  *lifeline.Dialog
	wallet  *relay.Provider
	created time.Time
}

// Option configures a Server
type Option func(*Server)

// WithExpiryLookup resolves existing expiries from the chain
func WithExpiryLookup(lookup ExpiryLookup) Option {
	return func(s *Server) {
		s.lookup = lookup
	}
}

// WithRecorder exports dialog metrics
func WithRecorder(recorder *metrics.Recorder) Option {
	return func(s *Server) {
		s.recorder = recorder
	}
}

// WithWorkflowOptions applies opts to every workflow the server starts
func WithWorkflowOptions(opts ...lifeline.WorkflowOption) Option {
	return func(s *Server) {
		s.opts = append(s.opts, opts...)
	}
}

// WithRefresh is called once per accepted extension
func WithRefresh(fn func(lifeline.ResourceID)) Option {
	return func(s *Server) {
		s.onRefresh = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates the session API
func New(quotes lifeline.QuoteService, submitter lifeline.SubmissionService, opts ...Option) *Server {
	s := &Server{
		quotes:    quotes,
		submitter: submitter,
		logger:    zap.NewNop(),
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			)
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if s.recorder != nil {
		e.GET("/metrics", echo.WrapHandler(s.recorder.Handler()))
	}

	v1 := e.Group("/v1/dialogs")
	v1.POST("", s.createDialog)
	v1.GET("/:id", s.getDialog)
	v1.DELETE("/:id", s.closeDialog)
	v1.POST("/:id/open", s.reopenDialog)
	v1.PUT("/:id/amount", s.setAmount)
	v1.POST("/:id/adjust", s.adjust)
	v1.POST("/:id/submit", s.submit)
	v1.POST("/:id/retry", s.retry)
	v1.POST("/:id/signature", s.answerSignature)
	v1.PUT("/:id/wallet", s.setWallet)

	s.echo = e
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener and closes every dialog
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)

	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		s.release(sess)
	}
	return err
}

func (s *Server) lookupSession(c echo.Context) (*session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "dialog not found")
	}
	return sess, nil
}

func (s *Server) workflow(c echo.Context) (*session, *lifeline.Workflow, error) {
	sess, err := s.lookupSession(c)
	if err != nil {
		return nil, nil, err
	}
	wf := sess.dialog.Current()
	if wf == nil {
		return nil, nil, echo.NewHTTPError(http.StatusGone, lifeline.ErrWorkflowClosed.Error())
	}
	return sess, wf, nil
}

func (s *Server) release(sess *session) {
	sess.wallet.SetAvailable(false)
	sess.dialog.Close()
	if s.recorder != nil {
		s.recorder.DialogClosed()
	}
	s.logger.Debug("dialog closed", zap.String("dialog", sess.id), zap.String("space", string(sess.space)))
}

// existingExpiry picks the host's value, falling back to the chain
func (s *Server) existingExpiry(ctx context.Context, req CreateDialogRequest) (time.Time, error) {
	switch {
	case req.ExistingExpiry != nil:
		return *req.ExistingExpiry, nil
	case s.lookup == nil:
		return time.Time{}, nil
	}

	info, err := s.lookup.Info(ctx, lifeline.ResourceID(req.Space))
	if err != nil {
		return time.Time{}, err
	}
	return lifeline.ExpiryFromUnix(info.Expiry), nil
}

func (s *Server) newSession(space lifeline.ResourceID, expiry time.Time, walletAvailable bool) *session {
	sess := &session{
		id:      uuid.NewString(),
		space:   space,
		wallet:  relay.NewProvider(relay.WithAvailable(walletAvailable), relay.WithLogger(s.logger)),
		created: time.Now(),
	}

	opts := append([]lifeline.WorkflowOption{
		lifeline.WithLogger(s.logger),
		lifeline.WithExistingExpiry(expiry),
	}, s.opts...)
	if s.recorder != nil {
		opts = append(opts, s.recorder.WorkflowOptions()...)
	}
	if s.onRefresh != nil {
		opts = append(opts, lifeline.WithRefresh(func() { s.onRefresh(space) }))
	}

	signer := lifeline.NewWalletSigner(sess.wallet, lifeline.WithSignerLogger(s.logger))
	sess.dialog = lifeline.NewDialog(space, s.quotes, signer, s.submitter, opts...)
	sess.dialog.Open()
	return sess
}

// statusFor maps workflow command errors to HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifeline.ErrWorkflowClosed):
		return http.StatusGone
	case errors.Is(err, relay.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, lifeline.ErrAmountTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, lifeline.ErrAmountLocked),
		errors.Is(err, lifeline.ErrSubmitUnavailable),
		errors.Is(err, lifeline.ErrRetryUnavailable),
		errors.Is(err, lifeline.ErrSubmitAborted),
		errors.Is(err, relay.ErrWalletDisconnected):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func commandError(err error) error {
	return echo.NewHTTPError(statusFor(err), err.Error())
}
