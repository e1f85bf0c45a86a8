package lifeline

import (
	"sync"
)

// Dialog is the host-side handle for the extension dialog of one resource.
// Each Open starts a fresh workflow; nothing carries over between openings.
type Dialog struct {
	resource  ResourceID
	quotes    QuoteService
	signer    WalletSigner
	submitter SubmissionService
	opts      []WorkflowOption

	mu      sync.Mutex
	current *Workflow
}

// NewDialog creates a closed dialog
func NewDialog(resource ResourceID, quotes QuoteService, signer WalletSigner, submitter SubmissionService, opts ...WorkflowOption) *Dialog {
	return &Dialog{
		resource:  resource,
		quotes:    quotes,
		signer:    signer,
		submitter: submitter,
		opts:      opts,
	}
}

// Open closes any open workflow and starts a new one in Idle with amount 0
func (d *Dialog) Open() *Workflow {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current != nil {
		d.current.Close()
	}
	d.current = NewWorkflow(d.resource, d.quotes, d.signer, d.submitter, d.opts...)
	return d.current
}

// Current returns the open workflow, or nil when the dialog is closed
func (d *Dialog) Current() *Workflow {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Close dismisses the dialog and invalidates its workflow
func (d *Dialog) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current != nil {
		d.current.Close()
		d.current = nil
	}
}
