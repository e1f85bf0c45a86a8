package lifeline

import (
	"time"
)

// ============================================================================
// Workflow Hook Context Types
// ============================================================================

// TransitionContext is passed to transition hooks whenever the workflow
// changes state or failure kind
type TransitionContext struct {
	Resource  ResourceID
	From      State
	To        State
	Failure   *Failure
	Amount    uint64
	Timestamp time.Time
	// Duration is the time spent in From
	Duration time.Duration
}

// CallKind names an asynchronous collaborator call
type CallKind string

// Calls issued by the workflow
const (
	CallQuote  CallKind = "quote"
	CallSign   CallKind = "sign"
	CallSubmit CallKind = "submit"
)

// CallContext describes a completed collaborator call
type CallContext struct {
	Resource ResourceID
	Call     CallKind
	Amount   uint64
	Error    error
	Duration time.Duration
	// Stale is set when the result belonged to a superseded request and was
	// discarded.
	Stale bool
}

// SubmitContext is passed to before-submit hooks
type SubmitContext struct {
	Snapshot  Snapshot
	Timestamp time.Time
}

// BeforeHookResult represents the result of a "before" hook
// If Abort is true, the operation will be aborted with the given Reason
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Workflow Hook Function Types
// ============================================================================

// TransitionHook observes state changes.
// It runs on the workflow's event loop and must not call Workflow commands.
type TransitionHook func(TransitionContext)

// CallHook observes completed quote, sign and submit calls
type CallHook func(CallContext)

// BeforeSubmitHook is called before a Submit command is accepted.
// If it returns a result with Abort=true, Submit returns an error carrying Reason
type BeforeSubmitHook func(SubmitContext) (*BeforeHookResult, error)

// ============================================================================
// Workflow Hook Registration Options
// ============================================================================

// WithTransitionHook registers a hook that observes state changes
func WithTransitionHook(hook TransitionHook) WorkflowOption {
	return func(c *workflowConfig) {
		c.transitionHooks = append(c.transitionHooks, hook)
	}
}

// WithCallHook registers a hook that observes collaborator calls
func WithCallHook(hook CallHook) WorkflowOption {
	return func(c *workflowConfig) {
		c.callHooks = append(c.callHooks, hook)
	}
}

// WithBeforeSubmitHook registers a hook to execute before a submit is accepted
func WithBeforeSubmitHook(hook BeforeSubmitHook) WorkflowOption {
	return func(c *workflowConfig) {
		c.beforeSubmitHooks = append(c.beforeSubmitHooks, hook)
	}
}
