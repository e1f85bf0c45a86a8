package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/spacesvm/lifeline"
	"github.com/spacesvm/lifeline/signers/relay"
)

// ============================================================================
// Request and response bodies
// ============================================================================

// CreateDialogRequest opens a dialog for a space
type CreateDialogRequest struct {
	Space          string     `json:"space"`
	ExistingExpiry *time.Time `json:"existingExpiry,omitempty"`
	// WalletAvailable reports whether the host found a browser wallet.
	// Defaults to true.
	WalletAvailable *bool `json:"walletAvailable,omitempty"`
}

// AmountRequest sets the amount in hours
type AmountRequest struct {
	Hours uint64 `json:"hours"`
}

// AdjustRequest steps the amount
type AdjustRequest struct {
	Delta int64 `json:"delta"`
}

// RetryRequest selects what to retry. An empty target retries whatever the
// dialog currently allows.
type RetryRequest struct {
	Target string `json:"target,omitempty"`
}

// Retry targets
const (
	RetryQuote      = "quote"
	RetrySubmission = "submission"
)

// SignatureRequest answers a pending signature request
type SignatureRequest struct {
	RequestID string `json:"requestId"`
	Signature string `json:"signature,omitempty"`
	Reject    bool   `json:"reject,omitempty"`
}

// WalletRequest reports wallet presence
type WalletRequest struct {
	Available bool `json:"available"`
}

// DialogResponse is the host-facing view of a dialog
type DialogResponse struct {
	ID               string            `json:"id"`
	Snapshot         lifeline.Snapshot `json:"snapshot"`
	SignatureRequest *relay.Request    `json:"signatureRequest,omitempty"`
}

func (s *Server) respond(c echo.Context, status int, sess *session, wf *lifeline.Workflow) error {
	resp := DialogResponse{
		ID:       sess.id,
		Snapshot: wf.Snapshot(),
	}
	if pending := sess.wallet.Pending(); len(pending) > 0 {
		resp.SignatureRequest = &pending[0]
	}
	return c.JSON(status, resp)
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) createDialog(c echo.Context) error {
	var req CreateDialogRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Space == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "space is required")
	}

	expiry, err := s.existingExpiry(c.Request().Context(), req)
	if err != nil {
		s.logger.Warn("expiry lookup failed", zap.String("space", req.Space), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to look up space")
	}

	walletAvailable := req.WalletAvailable == nil || *req.WalletAvailable
	sess := s.newSession(lifeline.ResourceID(req.Space), expiry, walletAvailable)

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	if s.recorder != nil {
		s.recorder.DialogOpened()
	}

	s.logger.Debug("dialog opened", zap.String("dialog", sess.id), zap.String("space", req.Space))
	return s.respond(c, http.StatusCreated, sess, sess.dialog.Current())
}

func (s *Server) getDialog(c echo.Context) error {
	sess, wf, err := s.workflow(c)
	if err != nil {
		return err
	}
	return s.respond(c, http.StatusOK, sess, wf)
}

func (s *Server) closeDialog(c echo.Context) error {
	s.mu.Lock()
	sess, ok := s.sessions[c.Param("id")]
	delete(s.sessions, c.Param("id"))
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "dialog not found")
	}

	s.release(sess)
	return c.NoContent(http.StatusNoContent)
}

// reopenDialog discards the current workflow and starts over at amount 0
func (s *Server) reopenDialog(c echo.Context) error {
	sess, err := s.lookupSession(c)
	if err != nil {
		return err
	}
	return s.respond(c, http.StatusOK, sess, sess.dialog.Open())
}

func (s *Server) setAmount(c echo.Context) error {
	var req AmountRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	sess, wf, err := s.workflow(c)
	if err != nil {
		return err
	}
	if err := wf.SetAmount(req.Hours); err != nil {
		return commandError(err)
	}
	return s.respond(c, http.StatusOK, sess, wf)
}

func (s *Server) adjust(c echo.Context) error {
	var req AdjustRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	sess, wf, err := s.workflow(c)
	if err != nil {
		return err
	}
	if err := wf.Adjust(req.Delta); err != nil {
		return commandError(err)
	}
	return s.respond(c, http.StatusOK, sess, wf)
}

func (s *Server) submit(c echo.Context) error {
	sess, wf, err := s.workflow(c)
	if err != nil {
		return err
	}
	if err := wf.Submit(); err != nil {
		return commandError(err)
	}
	return s.respond(c, http.StatusAccepted, sess, wf)
}

func (s *Server) retry(c echo.Context) error {
	var req RetryRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	sess, wf, err := s.workflow(c)
	if err != nil {
		return err
	}

	target := req.Target
	if target == "" {
		target = RetryQuote
		if wf.Snapshot().CanRetrySubmission {
			target = RetrySubmission
		}
	}

	switch target {
	case RetryQuote:
		err = wf.RetryQuote()
	case RetrySubmission:
		err = wf.RetrySubmission()
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown retry target")
	}
	if err != nil {
		return commandError(err)
	}
	return s.respond(c, http.StatusAccepted, sess, wf)
}

func (s *Server) answerSignature(c echo.Context) error {
	var req SignatureRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.RequestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "requestId is required")
	}
	sess, wf, err := s.workflow(c)
	if err != nil {
		return err
	}

	if req.Reject {
		err = sess.wallet.Reject(req.RequestID)
	} else {
		var sig lifeline.Signature
		sig, err = lifeline.ParseSignature(req.Signature)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid signature encoding")
		}
		err = sess.wallet.Resolve(req.RequestID, sig)
	}
	if err != nil {
		return commandError(err)
	}
	return s.respond(c, http.StatusAccepted, sess, wf)
}

func (s *Server) setWallet(c echo.Context) error {
	var req WalletRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	sess, wf, err := s.workflow(c)
	if err != nil {
		return err
	}
	sess.wallet.SetAvailable(req.Available)
	return s.respond(c, http.StatusOK, sess, wf)
}
