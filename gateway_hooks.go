package gamefi

import (
	"context"
	"time"
)

// ============================================================================
// Gateway Hook Context Types
// ============================================================================

// SubmitContext contains information passed to submit hooks
type SubmitContext struct {
	Ctx       context.Context
	Request   AssetRequest
	Timestamp time.Time
}

// SubmitResultContext contains a confirmed write and its context
type SubmitResultContext struct {
	SubmitContext
	Receipt  Receipt
	Attempts int
	Duration time.Duration
}

// SubmitFailureContext contains a terminally failed write and its context
type SubmitFailureContext struct {
	SubmitContext
	Error     *GatewayError
	LedgerErr *LedgerError
	Attempts  int
	Duration  time.Duration
}

// RetryContext is passed to retry hooks before the gateway backs off
type RetryContext struct {
	SubmitContext
	Attempt int
	Error   *LedgerError
	Backoff time.Duration
}

// ============================================================================
// Gateway Hook Result Types
// ============================================================================

// BeforeHookResult represents the result of a "before" hook.
// If Abort is true, the write is rejected with the given Reason
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// SubmitFailureHookResult represents the result of a failure hook.
// If Recovered is true, the write is confirmed with the given Receipt
type SubmitFailureHookResult struct {
	Recovered bool
	Receipt   Receipt
}

// ============================================================================
// Gateway Hook Function Types
// ============================================================================

// BeforeSubmitHook is called before a new write is queued.
// Replays and joins of running writes do not trigger it
type BeforeSubmitHook func(SubmitContext) (*BeforeHookResult, error)

// AfterSubmitHook is called after a write is confirmed.
// Any error returned is logged but does not affect the outcome
type AfterSubmitHook func(SubmitResultContext) error

// OnSubmitFailureHook is called when a write fails terminally.
// If it returns a result with Recovered=true, the provided Receipt
// is used instead of the failure
type OnSubmitFailureHook func(SubmitFailureContext) (*SubmitFailureHookResult, error)

// OnRetryHook is called before each backoff between ledger attempts
type OnRetryHook func(RetryContext)

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (g *WriteGateway) OnBeforeSubmit(hook BeforeSubmitHook) *WriteGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.beforeSubmitHooks = append(g.beforeSubmitHooks, hook)
	return g
}

func (g *WriteGateway) OnAfterSubmit(hook AfterSubmitHook) *WriteGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.afterSubmitHooks = append(g.afterSubmitHooks, hook)
	return g
}

func (g *WriteGateway) OnSubmitFailure(hook OnSubmitFailureHook) *WriteGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onSubmitFailureHooks = append(g.onSubmitFailureHooks, hook)
	return g
}

func (g *WriteGateway) OnRetry(hook OnRetryHook) *WriteGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onRetryHooks = append(g.onRetryHooks, hook)
	return g
}

func (g *WriteGateway) hooks() ([]BeforeSubmitHook, []AfterSubmitHook, []OnSubmitFailureHook, []OnRetryHook) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.beforeSubmitHooks, g.afterSubmitHooks, g.onSubmitFailureHooks, g.onRetryHooks
}
