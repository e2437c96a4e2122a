package core

import (
	"time"

	convctx "github.com/voxloop/conductor/core/context"
)

// TurnOption configures a TurnProcessor after construction, following the
// functional-options idiom used throughout this codebase's collaborator
// wiring.
type TurnOption func(*TurnProcessor)

// WithMaxToolIterations overrides DefaultMaxToolIterations.
func WithMaxToolIterations(n int) TurnOption {
	return func(p *TurnProcessor) { p.MaxToolIterations = n }
}

// WithActiveTimeout overrides DefaultActiveTimeout.
func WithActiveTimeout(d time.Duration) TurnOption {
	return func(p *TurnProcessor) { p.ActiveTimeout = d }
}

// WithTools replaces the tool set available to the LLM.
func WithTools(tools []convctx.Tool) TurnOption {
	return func(p *TurnProcessor) { p.Tools = tools }
}

// WithPersistence wires a durable conversation log and the session ID
// recorded against every line appended to it.
func WithPersistence(persist Persister, sessionID string) TurnOption {
	return func(p *TurnProcessor) {
		p.Persist = persist
		p.SessionID = sessionID
	}
}

// Apply applies every option to p, in order.
func (p *TurnProcessor) Apply(opts ...TurnOption) {
	for _, opt := range opts {
		opt(p)
	}
}

// OrchestratorOption configures an Orchestrator after construction.
type OrchestratorOption func(*Orchestrator)

// WithSTTPolicy sets the ACTIVE -> IDLE STT teardown policy.
func WithSTTPolicy(policy STTPolicy) OrchestratorOption {
	return func(o *Orchestrator) { o.STTPolicy = policy }
}

// Apply applies every option to o, in order.
func (o *Orchestrator) Apply(opts ...OrchestratorOption) {
	for _, opt := range opts {
		opt(o)
	}
}
