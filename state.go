package lifeline

import (
	"time"

	"github.com/spacesvm/lifeline/types"
)

// State is the workflow state
type State int

const (
	// StateIdle is the interactive state: the amount is editable and submit is
	// enabled once a quote for the current amount exists.
	StateIdle State = iota
	// StateQuotePending means a quote fetch is outstanding.
	StateQuotePending
	// StateSigning means the wallet is prompting the user.
	StateSigning
	// StateSubmitting means a signed message is being settled.
	StateSubmitting
	// StateDone means the extension was accepted.
	StateDone
	// StateFailed means the last attempt failed; see Failure.
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateQuotePending: "quote_pending",
	StateSigning:      "signing",
	StateSubmitting:   "submitting",
	StateDone:         "done",
	StateFailed:       "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Failure describes why the workflow is in StateFailed
type Failure struct {
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason,omitempty"`
}

// Snapshot is the host-facing view of a workflow
type Snapshot struct {
	Resource           ResourceID `json:"resource"`
	State              State      `json:"state"`
	Failure            *Failure   `json:"failure,omitempty"`
	Amount             uint64     `json:"amount"`
	TotalCost          uint64     `json:"totalCost"`
	QuotedAmount       uint64     `json:"quotedAmount"`
	QuoteCurrent       bool       `json:"quoteCurrent"`
	CanEdit            bool       `json:"canEdit"`
	CanSubmit          bool       `json:"canSubmit"`
	CanRetryQuote      bool       `json:"canRetryQuote"`
	CanRetrySubmission bool       `json:"canRetrySubmission"`
	WalletAvailable    bool       `json:"walletAvailable"`
	ExtendTo           time.Time  `json:"extendTo,omitempty"`
	TxID               string     `json:"txId,omitempty"`
}

// Terminal reports whether the snapshot is Done or Failed
func (s Snapshot) Terminal() bool {
	return s.State == StateDone || s.State == StateFailed
}

// ============================================================================
// Model, events and effects
// ============================================================================

// attempt is one signed message on its way to settlement
type attempt struct {
	message   types.TypedData
	signature Signature
	amount    uint64
}

// model is the complete workflow state. It is only mutated by reduce.
type model struct {
	state   State
	failure *Failure
	amount  uint64
	quote   *Quote

	debouncing  bool
	fetchSeq    uint64
	fetchAmount uint64

	seq       uint64
	signSeq   uint64
	submitSeq uint64
	attempt   *attempt
	txID      string
	refreshed bool

	walletAvailable bool
}

type event interface{ isEvent() }

type amountSet struct{ amount uint64 }
type amountAdjusted struct{ delta int64 }
type debounceFired struct{}
type quoteRetryRequested struct{}
type quoteResolved struct {
	seq   uint64
	quote *Quote
	err   error
}
type submitRequested struct{}
type signResolved struct {
	seq       uint64
	signature Signature
	err       error
}
type submissionRetryRequested struct{}
type submitResolved struct {
	seq    uint64
	result SubmissionResult
	err    error
}

func (amountSet) isEvent()                {}
func (amountAdjusted) isEvent()           {}
func (debounceFired) isEvent()            {}
func (quoteRetryRequested) isEvent()      {}
func (quoteResolved) isEvent()            {}
func (submitRequested) isEvent()          {}
func (signResolved) isEvent()             {}
func (submissionRetryRequested) isEvent() {}
func (submitResolved) isEvent()           {}

type effect interface{ isEffect() }

// armDebounce starts the debounce timer. A retry arms it for whatever is
// left of the window since the previous fetch instead of a full window.
type armDebounce struct{ retry bool }
type disarmDebounce struct{}
type fetchQuote struct{ seq, amount uint64 }
type cancelFetch struct{}
type requestSignature struct {
	seq     uint64
	message types.TypedData
}
type submitSigned struct {
	seq       uint64
	message   types.TypedData
	signature Signature
}
type notifyRefresh struct{}

func (armDebounce) isEffect()      {}
func (disarmDebounce) isEffect()   {}
func (fetchQuote) isEffect()       {}
func (cancelFetch) isEffect()      {}
func (requestSignature) isEffect() {}
func (submitSigned) isEffect()     {}
func (notifyRefresh) isEffect()    {}

// ============================================================================
// Transitions
// ============================================================================

// reduce applies one event to the model. It performs no I/O: asynchronous
// work is requested through the returned effects. Command events that are
// not allowed in the current state return an error and leave the model as is.
func reduce(m model, ev event) (model, []effect, error) {
	switch ev := ev.(type) {
	case amountSet:
		return m.setAmount(ev.amount)
	case amountAdjusted:
		return m.setAmount(min(applyDelta(m.amount, ev.delta), MaxExtensionHours))
	case debounceFired:
		return m.fireDebounce()
	case quoteRetryRequested:
		return m.retryQuote()
	case quoteResolved:
		return m.resolveQuote(ev), nil, nil
	case submitRequested:
		return m.submit()
	case signResolved:
		return m.resolveSignature(ev)
	case submissionRetryRequested:
		return m.retrySubmission()
	case submitResolved:
		return m.resolveSubmission(ev)
	}
	return m, nil, nil
}

func (m model) locked() bool {
	return m.state == StateSigning || m.state == StateSubmitting || m.state == StateDone
}

// toIdle enters Idle, dropping any signature and submission status
func (m model) toIdle() model {
	m.state = StateIdle
	m.failure = nil
	m.attempt = nil
	m.txID = ""
	return m
}

func (m model) fail(kind ErrorKind, reason string) model {
	m.state = StateFailed
	m.failure = &Failure{Kind: kind, Reason: reason}
	return m
}

func (m model) setAmount(amount uint64) (model, []effect, error) {
	if m.locked() {
		return m, nil, ErrAmountLocked
	}
	if amount > MaxExtensionHours {
		return m, nil, ErrAmountTooLarge
	}
	if amount == m.amount {
		return m, nil, nil
	}

	m.amount = amount
	if m.state == StateFailed {
		m = m.toIdle()
	}

	var effects []effect
	if amount == 0 {
		if m.debouncing {
			effects = append(effects, disarmDebounce{})
			m.debouncing = false
		}
		if m.fetchSeq != 0 {
			effects = append(effects, cancelFetch{})
			m.fetchSeq = 0
		}
		m.quote = nil
		m = m.toIdle()
		return m, effects, nil
	}

	if !m.debouncing {
		m.debouncing = true
		effects = append(effects, armDebounce{})
	}
	return m, effects, nil
}

func (m model) fireDebounce() (model, []effect, error) {
	if !m.debouncing {
		return m, nil, nil
	}
	m.debouncing = false
	if m.locked() || m.amount == 0 {
		return m, nil, nil
	}

	var effects []effect
	if m.fetchSeq != 0 {
		effects = append(effects, cancelFetch{})
	}
	m.seq++
	m.fetchSeq = m.seq
	m.fetchAmount = m.amount
	m.state = StateQuotePending
	m.failure = nil
	effects = append(effects, fetchQuote{seq: m.fetchSeq, amount: m.amount})
	return m, effects, nil
}

func (m model) canRetryQuote() bool {
	if m.state == StateFailed {
		return m.failure != nil && m.failure.Kind == KindQuoteUnavailable
	}
	return m.state == StateIdle && m.amount > 0 && !m.quote.Matches(m.amount) &&
		!m.debouncing && m.fetchSeq == 0
}

func (m model) retryQuote() (model, []effect, error) {
	if !m.canRetryQuote() {
		return m, nil, ErrRetryUnavailable
	}
	m = m.toIdle()
	m.debouncing = true
	return m, []effect{armDebounce{retry: true}}, nil
}

func (m model) resolveQuote(ev quoteResolved) model {
	if ev.seq != m.fetchSeq || m.fetchSeq == 0 {
		return m
	}
	m.fetchSeq = 0

	// Superseded by an edit made while the fetch was in flight
	if m.fetchAmount != m.amount {
		if m.state == StateQuotePending {
			m = m.toIdle()
		}
		return m
	}

	if ev.err != nil {
		m.quote = nil
		return m.fail(KindQuoteUnavailable, ev.err.Error())
	}
	m.quote = ev.quote
	return m.toIdle()
}

func (m model) canSubmit() bool {
	switch m.state {
	case StateIdle:
	case StateFailed:
		if m.failure != nil && m.failure.Kind == KindQuoteUnavailable {
			return false
		}
	default:
		return false
	}
	return m.amount > 0 && m.quote.Matches(m.amount) && m.walletAvailable
}

func (m model) submit() (model, []effect, error) {
	if !m.canSubmit() {
		return m, nil, ErrSubmitUnavailable
	}

	var effects []effect
	if m.debouncing {
		m.debouncing = false
		effects = append(effects, disarmDebounce{})
	}

	m = m.toIdle()
	m.seq++
	m.signSeq = m.seq
	m.state = StateSigning
	effects = append(effects, requestSignature{seq: m.signSeq, message: m.quote.Message})
	return m, effects, nil
}

func (m model) resolveSignature(ev signResolved) (model, []effect, error) {
	if m.state != StateSigning || ev.seq != m.signSeq {
		return m, nil, nil
	}
	m.signSeq = 0

	switch {
	case ev.err != nil:
		return m.fail(KindSigningError, ev.err.Error()), nil, nil
	case ev.signature == nil:
		return m.toIdle(), nil, nil
	}

	m.attempt = &attempt{
		message:   m.quote.Message,
		signature: ev.signature,
		amount:    m.quote.Amount,
	}
	return m.startSubmission()
}

func (m model) startSubmission() (model, []effect, error) {
	m.seq++
	m.submitSeq = m.seq
	m.state = StateSubmitting
	m.failure = nil
	return m, []effect{submitSigned{
		seq:       m.submitSeq,
		message:   m.attempt.message,
		signature: m.attempt.signature,
	}}, nil
}

func (m model) canRetrySubmission() bool {
	return m.state == StateFailed && m.failure != nil && m.failure.Kind == KindTransportError &&
		m.attempt != nil && m.attempt.amount == m.amount
}

func (m model) retrySubmission() (model, []effect, error) {
	if !m.canRetrySubmission() {
		return m, nil, ErrRetryUnavailable
	}
	return m.startSubmission()
}

func (m model) resolveSubmission(ev submitResolved) (model, []effect, error) {
	if m.state != StateSubmitting || ev.seq != m.submitSeq {
		return m, nil, nil
	}
	m.submitSeq = 0

	switch {
	case ev.err != nil:
		return m.fail(KindTransportError, ev.err.Error()), nil, nil
	case !ev.result.Accepted:
		m.attempt = nil
		return m.fail(KindSubmissionRejected, ev.result.Reason), nil, nil
	}

	m.state = StateDone
	m.failure = nil
	m.txID = ev.result.TxID
	if m.refreshed {
		return m, nil, nil
	}
	m.refreshed = true
	return m, []effect{notifyRefresh{}}, nil
}

// snapshot derives the host-facing view
func (m model) snapshot(resource ResourceID, existingExpiry time.Time) Snapshot {
	s := Snapshot{
		Resource:           resource,
		State:              m.state,
		Amount:             m.amount,
		CanEdit:            !m.locked(),
		CanSubmit:          m.canSubmit(),
		CanRetryQuote:      m.canRetryQuote(),
		CanRetrySubmission: m.canRetrySubmission(),
		WalletAvailable:    m.walletAvailable,
		ExtendTo:           ExtendTo(existingExpiry, m.amount),
		TxID:               m.txID,
	}
	if m.failure != nil {
		f := *m.failure
		s.Failure = &f
	}
	if m.quote != nil {
		s.TotalCost = m.quote.TotalCost
		s.QuotedAmount = m.quote.Amount
		s.QuoteCurrent = m.quote.Matches(m.amount)
	}
	return s
}
