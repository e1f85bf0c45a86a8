package lifeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDebounceWindow is the quiet period after the last amount edit
// before a quote is fetched
const DefaultDebounceWindow = 2 * time.Second

type workflowConfig struct {
	debounceWindow    time.Duration
	existingExpiry    time.Time
	refresh           func()
	logger            *zap.Logger
	transitionHooks   []TransitionHook
	callHooks         []CallHook
	beforeSubmitHooks []BeforeSubmitHook
}

// WorkflowOption configures a Workflow
type WorkflowOption func(*workflowConfig)

// WithDebounceWindow overrides the quote debounce window
func WithDebounceWindow(window time.Duration) WorkflowOption {
	return func(c *workflowConfig) {
		if window > 0 {
			c.debounceWindow = window
		}
	}
}

// WithExistingExpiry sets the resource's current expiry, used to display
// the expiry the extension would produce
func WithExistingExpiry(expiry time.Time) WorkflowOption {
	return func(c *workflowConfig) {
		c.existingExpiry = expiry
	}
}

// WithRefresh registers the callback invoked once after an accepted
// submission so the host can reload resource data
func WithRefresh(refresh func()) WorkflowOption {
	return func(c *workflowConfig) {
		c.refresh = refresh
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) WorkflowOption {
	return func(c *workflowConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type command struct {
	ev    event
	reply chan error
}

type callInfo struct {
	kind    CallKind
	amount  uint64
	started time.Time
}

// Workflow drives one lifeline extension for one resource.
//
// All state lives on a single event loop goroutine. Commands are applied in
// the order they are received; quote, signature and submission calls run
// concurrently and report back to the loop, which discards results that
// belong to a superseded request. Close invalidates the instance: later
// results are dropped and commands return ErrWorkflowClosed.
type Workflow struct {
	resource  ResourceID
	quotes    QuoteService
	signer    WalletSigner
	submitter SubmissionService
	cfg       workflowConfig
	logger    *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	commands  chan command
	results   chan event
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.RWMutex
	published model
	changed   chan struct{}

	// owned by the event loop
	m           model
	timer       *time.Timer
	lastFetch   time.Time
	fetchCancel context.CancelFunc
	calls       map[uint64]callInfo
	enteredAt   time.Time
}

// NewWorkflow starts a workflow in Idle with amount 0.
// A nil signer behaves as an absent wallet.
func NewWorkflow(resource ResourceID, quotes QuoteService, signer WalletSigner, submitter SubmissionService, opts ...WorkflowOption) *Workflow {
	cfg := workflowConfig{
		debounceWindow: DefaultDebounceWindow,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if signer == nil {
		signer = NewWalletSigner(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Workflow{
		resource:  resource,
		quotes:    quotes,
		signer:    signer,
		submitter: submitter,
		cfg:       cfg,
		logger:    cfg.logger.With(zap.String("space", string(resource))),
		ctx:       ctx,
		cancel:    cancel,
		commands:  make(chan command),
		results:   make(chan event),
		done:      make(chan struct{}),
		changed:   make(chan struct{}),
		calls:     make(map[uint64]callInfo),
		enteredAt: time.Now(),
	}
	w.m.walletAvailable = signer.Available()
	w.published = w.m

	go w.run()
	return w
}

// ============================================================================
// Commands
// ============================================================================

// Resource returns the resource this workflow extends
func (w *Workflow) Resource() ResourceID {
	return w.resource
}

// SetAmount sets the number of hours to extend by.
// Returns ErrAmountLocked while signing, submitting or done.
func (w *Workflow) SetAmount(hours uint64) error {
	return w.send(amountSet{amount: hours})
}

// Adjust changes the amount by delta hours, clamping at zero
func (w *Workflow) Adjust(delta int64) error {
	return w.send(amountAdjusted{delta: delta})
}

// Submit asks the wallet to sign the current quote and settles the result.
// Returns ErrSubmitUnavailable unless a quote matches the current amount and
// a wallet is present.
func (w *Workflow) Submit() error {
	sc := SubmitContext{Snapshot: w.Snapshot(), Timestamp: time.Now()}
	for _, hook := range w.cfg.beforeSubmitHooks {
		result, err := hook(sc)
		if err != nil {
			return err
		}
		if result != nil && result.Abort {
			return fmt.Errorf("%w: %s", ErrSubmitAborted, result.Reason)
		}
	}
	return w.send(submitRequested{})
}

// RetryQuote refetches a quote after a failure. The fetch honors the
// debounce window measured from the previous fetch.
func (w *Workflow) RetryQuote() error {
	return w.send(quoteRetryRequested{})
}

// RetrySubmission resends the same signed message after a transport
// failure, as long as the amount has not changed
func (w *Workflow) RetrySubmission() error {
	return w.send(submissionRetryRequested{})
}

// Snapshot returns the current view of the workflow
func (w *Workflow) Snapshot() Snapshot {
	w.mu.RLock()
	m := w.published
	w.mu.RUnlock()
	return w.view(m)
}

// Wait blocks until cond holds for the current snapshot, the context ends or
// the workflow is closed
func (w *Workflow) Wait(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	for {
		w.mu.RLock()
		m, changed := w.published, w.changed
		w.mu.RUnlock()

		s := w.view(m)
		if cond(s) {
			return s, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return s, ctx.Err()
		case <-w.done:
			return s, ErrWorkflowClosed
		}
	}
}

// Close invalidates the workflow. Pending timers and calls are cancelled and
// their results discarded. It is safe to call more than once.
func (w *Workflow) Close() {
	w.closeOnce.Do(func() {
		w.cancel()
		<-w.done
		w.logger.Debug("workflow closed")
	})
}

// Done is closed once the workflow has been closed
func (w *Workflow) Done() <-chan struct{} {
	return w.done
}

func (w *Workflow) view(m model) Snapshot {
	m.walletAvailable = w.signer.Available()
	return m.snapshot(w.resource, w.cfg.existingExpiry)
}

func (w *Workflow) send(ev event) error {
	cmd := command{ev: ev, reply: make(chan error, 1)}
	select {
	case w.commands <- cmd:
	case <-w.ctx.Done():
		return ErrWorkflowClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-w.done:
		return ErrWorkflowClosed
	}
}

func (w *Workflow) post(ev event) {
	select {
	case w.results <- ev:
	case <-w.ctx.Done():
	}
}

// ============================================================================
// Event loop
// ============================================================================

func (w *Workflow) run() {
	defer close(w.done)
	defer w.stopTimer()

	for {
		var fired <-chan time.Time
		if w.timer != nil {
			fired = w.timer.C
		}

		select {
		case <-w.ctx.Done():
			return
		case cmd := <-w.commands:
			if w.ctx.Err() != nil {
				cmd.reply <- ErrWorkflowClosed
				return
			}
			cmd.reply <- w.dispatch(cmd.ev)
		case ev := <-w.results:
			if w.ctx.Err() != nil {
				return
			}
			w.dispatch(ev)
		case <-fired:
			w.timer = nil
			w.dispatch(debounceFired{})
		}
	}
}

func (w *Workflow) dispatch(ev event) error {
	prev := w.m
	prev.walletAvailable = w.signer.Available()

	next, effects, err := reduce(prev, ev)
	if err != nil {
		return err
	}
	w.observeCall(prev, ev)

	w.m = next
	w.mu.Lock()
	w.published = next
	close(w.changed)
	w.changed = make(chan struct{})
	w.mu.Unlock()

	w.observeTransition(prev, next)
	for _, e := range effects {
		w.apply(e)
	}
	return nil
}

func (w *Workflow) apply(e effect) {
	switch e := e.(type) {
	case armDebounce:
		w.armTimer(e.retry)
	case disarmDebounce:
		w.stopTimer()
	case cancelFetch:
		if w.fetchCancel != nil {
			w.fetchCancel()
			w.fetchCancel = nil
		}
	case fetchQuote:
		w.startFetch(e)
	case requestSignature:
		w.startSign(e)
	case submitSigned:
		w.startSubmit(e)
	case notifyRefresh:
		if w.cfg.refresh != nil {
			go w.cfg.refresh()
		}
	}
}

func (w *Workflow) armTimer(retry bool) {
	delay := w.cfg.debounceWindow
	if retry {
		delay = 0
		if !w.lastFetch.IsZero() {
			if remaining := time.Until(w.lastFetch.Add(w.cfg.debounceWindow)); remaining > 0 {
				delay = remaining
			}
		}
	}
	w.stopTimer()
	w.timer = time.NewTimer(delay)
}

func (w *Workflow) stopTimer() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Workflow) startFetch(e fetchQuote) {
	w.lastFetch = time.Now()
	ctx, cancel := context.WithCancel(w.ctx)
	w.fetchCancel = cancel
	w.calls[e.seq] = callInfo{kind: CallQuote, amount: e.amount, started: w.lastFetch}

	w.logger.Debug("fetching quote", zap.Uint64("hours", e.amount))
	go func() {
		defer cancel()
		quote, err := w.quotes.GetQuote(ctx, w.resource, e.amount)
		w.post(quoteResolved{seq: e.seq, quote: quote, err: err})
	}()
}

func (w *Workflow) startSign(e requestSignature) {
	w.calls[e.seq] = callInfo{kind: CallSign, amount: w.m.amount, started: time.Now()}
	go func() {
		sig, err := w.signer.Sign(w.ctx, e.message)
		w.post(signResolved{seq: e.seq, signature: sig, err: err})
	}()
}

func (w *Workflow) startSubmit(e submitSigned) {
	w.calls[e.seq] = callInfo{kind: CallSubmit, amount: w.m.amount, started: time.Now()}
	go func() {
		result, err := w.submitter.Submit(w.ctx, e.message, e.signature)
		w.post(submitResolved{seq: e.seq, result: result, err: err})
	}()
}

// ============================================================================
// Observation
// ============================================================================

func (w *Workflow) observeCall(prev model, ev event) {
	var (
		seq     uint64
		err     error
		current bool
	)
	switch ev := ev.(type) {
	case quoteResolved:
		seq, err = ev.seq, ev.err
		current = ev.seq == prev.fetchSeq && prev.fetchAmount == prev.amount
	case signResolved:
		seq, err = ev.seq, ev.err
		current = prev.state == StateSigning && ev.seq == prev.signSeq
	case submitResolved:
		seq, err = ev.seq, ev.err
		current = prev.state == StateSubmitting && ev.seq == prev.submitSeq
	default:
		return
	}

	info, ok := w.calls[seq]
	if !ok {
		return
	}
	delete(w.calls, seq)

	if !current {
		w.logger.Debug("discarding stale result",
			zap.String("call", string(info.kind)),
			zap.Uint64("hours", info.amount),
		)
	}

	cc := CallContext{
		Resource: w.resource,
		Call:     info.kind,
		Amount:   info.amount,
		Error:    err,
		Duration: time.Since(info.started),
		Stale:    !current,
	}
	for _, hook := range w.cfg.callHooks {
		hook(cc)
	}
}

func (w *Workflow) observeTransition(prev, next model) {
	if prev.state == next.state && sameFailure(prev.failure, next.failure) {
		return
	}

	now := time.Now()
	tc := TransitionContext{
		Resource:  w.resource,
		From:      prev.state,
		To:        next.state,
		Failure:   next.failure,
		Amount:    next.amount,
		Timestamp: now,
		Duration:  now.Sub(w.enteredAt),
	}
	w.enteredAt = now

	fields := []zap.Field{
		zap.Stringer("from", prev.state),
		zap.Stringer("to", next.state),
		zap.Uint64("hours", next.amount),
	}
	switch {
	case next.failure != nil:
		w.logger.Warn("workflow failed", append(fields,
			zap.String("kind", string(next.failure.Kind)),
			zap.String("reason", next.failure.Reason),
		)...)
	case next.state == StateDone:
		w.logger.Info("lifeline extended", append(fields, zap.String("tx_id", next.txID))...)
	default:
		w.logger.Debug("workflow transition", fields...)
	}

	for _, hook := range w.cfg.transitionHooks {
		hook(tc)
	}
}

func sameFailure(a, b *Failure) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
