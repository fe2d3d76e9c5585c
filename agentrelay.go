// Package agentrelay provides a high-level façade over the agent registry,
// execution engine and streaming bridge, enabling rapid construction of
// supervised multi-agent systems. Most applications interact with this
// package by:
//  1. Creating a Relay via New() with a step producer and a team of agent
//     definitions (optionally overriding the default in-memory stores)
//  2. Calling Ask to start a supervised execution and stream its progress,
//     or Start/Stream separately for custom transports
//  3. Answering interrupts via Resume
//
// The façade delegates orchestration to engine.Engine and observation to
// bridge.Bridge while keeping setup ergonomics concise. All defaults are safe
// for local development and testing; production deployments typically supply
// durable stores (store/boltdb) and a structured logger.
package agentrelay

import (
	"context"

	"github.com/hupe1980/agentrelay/bridge"
	"github.com/hupe1980/agentrelay/bus"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/intent"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/registry"
	"github.com/hupe1980/agentrelay/store"
	"github.com/hupe1980/agentrelay/tool"
)

// Options configures the Relay instance.
type Options struct {
	// EngineConfig tunes the execution loop (turn bound, delegation depth,
	// tool timeout).
	EngineConfig engine.Config
	// BridgeConfig tunes streaming (wall-clock budgets).
	BridgeConfig bridge.Config
	// RegistryConfig tunes agent resolution caching.
	RegistryConfig registry.Config

	// Tools is the callable surface shared by all agents; definitions gate
	// access per agent via AllowedTools.
	Tools []tool.Tool

	// Stores (default to in-memory implementations if not provided).
	DefinitionStore core.DefinitionStore
	TranscriptStore core.TranscriptStore

	// Scorer applies the delegation intent heuristic. Defaults to the
	// standard pattern table; set explicitly to nil-out via a custom scorer.
	Scorer *intent.Scorer

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Relay is the high-level façade aggregating registry, engine and bridge.
type Relay struct {
	registry *registry.Registry
	engine   *engine.Engine
	bridge   *bridge.Bridge

	transcripts core.TranscriptStore
}

// New creates a Relay over a step producer and an immutable team of agent
// definitions. Any unset store is initialized with an in-memory
// implementation.
func New(producer core.StepProducer, team []core.AgentDefinition, optFns ...func(o *Options)) (*Relay, error) {
	opts := Options{
		EngineConfig:    engine.DefaultConfig,
		BridgeConfig:    bridge.DefaultConfig,
		RegistryConfig:  registry.DefaultConfig,
		DefinitionStore: store.NewInMemoryDefinitionStore(),
		TranscriptStore: store.NewInMemoryTranscriptStore(),
		Scorer:          intent.NewScorer(),
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	reg, err := registry.New(team, func(o *registry.Options) {
		o.Config = opts.RegistryConfig
		o.Store = opts.DefinitionStore
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	eng := engine.New(producer, reg, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Bus = bus.New()
		o.Tools = opts.Tools
		o.Scorer = opts.Scorer
		o.Logger = opts.Logger
	})

	br := bridge.New(eng, func(o *bridge.Options) {
		o.Config = opts.BridgeConfig
		o.Transcripts = opts.TranscriptStore
		o.Logger = opts.Logger
	})

	return &Relay{
		registry:    reg,
		engine:      eng,
		bridge:      br,
		transcripts: opts.TranscriptStore,
	}, nil
}

// Registry exposes the agent registry (cache invalidation, tool bindings).
func (r *Relay) Registry() *registry.Registry { return r.registry }

// Engine exposes the execution engine for custom orchestration.
func (r *Relay) Engine() *engine.Engine { return r.engine }

// Bridge exposes the streaming bridge for custom transports.
func (r *Relay) Bridge() *bridge.Bridge { return r.bridge }

// Start launches an execution without streaming; observe via GetStatus or a
// separate Stream call.
func (r *Relay) Start(ctx context.Context, req engine.StartRequest) (core.Execution, error) {
	return r.engine.Start(ctx, req)
}

// GetStatus returns a point-in-time snapshot of an execution.
func (r *Relay) GetStatus(executionID string) (core.Execution, error) {
	return r.engine.GetStatus(executionID)
}

// Resume answers a pending interrupt.
func (r *Relay) Resume(executionID string, decision core.Decision) error {
	return r.engine.Resume(executionID, decision)
}

// Cancel requests best-effort cancellation of an execution.
func (r *Relay) Cancel(executionID string) error {
	return r.engine.Cancel(executionID)
}

// Stream observes an already started execution, pushing frames to sink until
// the stream closes.
func (r *Relay) Stream(ctx context.Context, executionID string, sink bridge.Sink) error {
	return r.bridge.Stream(ctx, executionID, sink)
}

// Ask starts a supervised execution for text and streams it into a channel
// sink. The returned channel closes when the stream finishes; the execution
// id is available from the leading start frame.
func (r *Relay) Ask(ctx context.Context, text, threadID, userID string) (<-chan bridge.Frame, error) {
	exec, err := r.engine.Start(ctx, engine.StartRequest{
		Text:     text,
		ThreadID: threadID,
		UserID:   userID,
	})
	if err != nil {
		return nil, err
	}

	sink := bridge.NewChannelSink(128)
	go func() {
		// Stream closes the sink on every exit path.
		_ = r.bridge.Stream(ctx, exec.ID, sink)
	}()
	return sink.Frames(), nil
}

// Transcripts returns the persisted transcripts for a thread in insertion
// order.
func (r *Relay) Transcripts(ctx context.Context, threadID string) ([]core.Transcript, error) {
	return r.transcripts.ListByThread(ctx, threadID)
}

// Close releases background resources: the registry janitor and any
// non-terminal executions.
func (r *Relay) Close() {
	r.engine.Close()
	r.registry.Close()
}
