// Package engine runs agent executions: it drives the turn loop against a
// step producer, executes tool calls, spawns delegated child executions and
// implements the interrupt/resume protocol for human-in-the-loop approvals.
//
// Executions run on their own goroutines detached from the caller's context;
// observers poll GetStatus or subscribe to the signal bus. State transitions
// are running -> completed | failed, with running <-> interrupted while a
// tool awaits an approval decision.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/bus"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/intent"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/registry"
	"github.com/hupe1980/agentrelay/tool"
)

// Config defines tuning parameters for the engine.
type Config struct {
	// MaxTurns bounds producer turns per execution; reaching it finalizes
	// the run with whatever findings exist instead of failing.
	MaxTurns int
	// MaxDelegationDepth bounds the delegation chain length. At the limit
	// delegation tools are simply not offered, so the producer answers
	// directly.
	MaxDelegationDepth int
	// ToolTimeout bounds a single tool call.
	ToolTimeout time.Duration
}

// DefaultConfig provides production-ready engine defaults.
var DefaultConfig = Config{
	MaxTurns:           8,
	MaxDelegationDepth: 3,
	ToolTimeout:        30 * time.Second,
}

// Options configures an Engine instance.
type Options struct {
	// Config contains loop tuning parameters.
	Config Config
	// Bus receives interrupt and reasoning signals. A private bus is created
	// when nil.
	Bus *bus.Bus
	// Tools is the callable surface, keyed by name via Tool.Name. Agents only
	// see the subset their definition allows.
	Tools []tool.Tool
	// Scorer applies the delegation intent heuristic to supervisor-targeted
	// requests. Nil disables the heuristic: delegation tools are always
	// offered, no hint is injected.
	Scorer *intent.Scorer
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// StartRequest describes a new top-level execution.
type StartRequest struct {
	// Text is the user's task.
	Text string
	// TargetAgentID selects the entry agent; empty means the supervisor.
	TargetAgentID string
	// ThreadID groups executions into a conversation.
	ThreadID string
	// UserID scopes agent resolution; empty is the anonymous context.
	UserID string
	// PriorMessages seeds the producer history with earlier thread turns.
	PriorMessages []core.Message
}

// Engine owns execution state and the loop goroutines.
type Engine struct {
	cfg      Config
	producer core.StepProducer
	registry *registry.Registry
	bus      *bus.Bus
	tools    map[string]tool.Tool
	scorer   *intent.Scorer
	logger   logging.Logger

	mu     sync.RWMutex
	states map[string]*execState
}

// execState is the engine-private mutable record behind execution snapshots.
// The loop goroutine is the only step writer; everything else reads through
// the mutex.
type execState struct {
	mu     sync.RWMutex
	exec   core.Execution
	cancel context.CancelFunc
	// resume carries the decision for the pending interrupt. Buffered so
	// Resume never blocks on the loop.
	resume             chan core.Decision
	pendingInterruptID string
}

// New creates an Engine over a step producer and an agent registry.
func New(producer core.StepProducer, reg *registry.Registry, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Bus == nil {
		opts.Bus = bus.New()
	}

	tools := make(map[string]tool.Tool, len(opts.Tools))
	for _, t := range opts.Tools {
		tools[t.Name()] = t
	}

	return &Engine{
		cfg:      opts.Config,
		producer: producer,
		registry: reg,
		bus:      opts.Bus,
		tools:    tools,
		scorer:   opts.Scorer,
		logger:   opts.Logger,
		states:   make(map[string]*execState),
	}
}

// Bus returns the signal bus executions publish on.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Start launches a new top-level execution and returns its initial snapshot.
// The loop runs detached from ctx; cancel via Cancel.
func (e *Engine) Start(ctx context.Context, req StartRequest) (core.Execution, error) {
	var def core.AgentDefinition
	if req.TargetAgentID == "" {
		sup, err := e.registry.Supervisor(ctx, req.UserID)
		if err != nil {
			return core.Execution{}, err
		}
		def = sup
	} else {
		d, ok := e.registry.Lookup(ctx, req.UserID, req.TargetAgentID)
		if !ok {
			return core.Execution{}, &core.ConfigurationError{Msg: fmt.Sprintf("unknown agent %q", req.TargetAgentID)}
		}
		def = d
	}

	instructions := def.PromptTemplate
	offerDelegation := true
	metadata := map[string]string{
		"model":      def.Model,
		"agent_name": def.Name,
	}

	// The intent heuristic only gates supervisor-targeted requests; a caller
	// addressing a specialist directly has already routed.
	if e.scorer != nil && def.Role == core.RoleSupervisor {
		assessment := e.scorer.Score(req.Text)
		metadata["intent_score"] = fmt.Sprintf("%d", assessment.Score)
		if assessment.Target != "" {
			metadata["intent_target"] = assessment.Target
		}
		offerDelegation = !assessment.Direct()
		// The hint rides along only in the ambiguous band; a clear delegate
		// signal leaves the routing to the supervisor's tool calling.
		if assessment.Ambiguous() {
			if hint := assessment.Hint(); hint != "" {
				instructions = instructions + "\n\n" + hint
			}
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	st := &execState{
		exec: core.Execution{
			ID:          core.NewID(),
			RootAgentID: def.ID,
			ThreadID:    req.ThreadID,
			UserID:      req.UserID,
			Status:      core.StatusRunning,
			StartedAt:   time.Now().UTC(),
			Metadata:    metadata,
		},
		cancel: cancel,
		resume: make(chan core.Decision, 1),
	}

	e.mu.Lock()
	e.states[st.exec.ID] = st
	e.mu.Unlock()

	e.appendStep(st, core.NewStep(def.ID, core.StepRouting, fmt.Sprintf("Routing request to %s", def.Name)))
	e.logger.Info("engine.start",
		"execution_id", st.exec.ID,
		"agent_id", def.ID,
		"thread_id", req.ThreadID,
		"delegation", offerDelegation,
	)

	go e.run(loopCtx, runParams{
		st:           st,
		def:          def,
		input:        req.Text,
		instructions: instructions,
		history:      append([]core.Message(nil), req.PriorMessages...),
		delegation:   offerDelegation,
		depth:        0,
	})

	return e.snapshot(st), nil
}

// GetStatus returns a point-in-time snapshot of an execution.
func (e *Engine) GetStatus(executionID string) (core.Execution, error) {
	st, ok := e.state(executionID)
	if !ok {
		return core.Execution{}, core.ErrUnknownExecution
	}
	return e.snapshot(st), nil
}

// Resume delivers a decision to an interrupted execution and moves it back to
// running. Returns ErrNotInterrupted when the execution is not suspended.
func (e *Engine) Resume(executionID string, decision core.Decision) error {
	st, ok := e.state(executionID)
	if !ok {
		return core.ErrUnknownExecution
	}

	st.mu.Lock()
	if st.exec.Status != core.StatusInterrupted || st.pendingInterruptID == "" {
		st.mu.Unlock()
		return core.ErrNotInterrupted
	}
	st.pendingInterruptID = ""
	st.exec.Status = core.StatusRunning
	st.mu.Unlock()

	st.resume <- decision

	e.logger.Info("engine.resume", "execution_id", executionID, "approved", decision.Approved)
	return nil
}

// Cancel requests cooperative cancellation of an execution (and, for a
// top-level run, every delegated child sharing its context). Terminal
// executions are left untouched.
func (e *Engine) Cancel(executionID string) error {
	st, ok := e.state(executionID)
	if !ok {
		return core.ErrUnknownExecution
	}
	st.cancel()
	return nil
}

// Executions returns snapshots of all tracked executions, including terminal
// ones.
func (e *Engine) Executions() []core.Execution {
	e.mu.RLock()
	states := make([]*execState, 0, len(e.states))
	for _, st := range e.states {
		states = append(states, st)
	}
	e.mu.RUnlock()

	out := make([]core.Execution, 0, len(states))
	for _, st := range states {
		out = append(out, e.snapshot(st))
	}
	return out
}

// IsDescendant reports whether executionID is ancestorID or one of its
// delegated descendants.
func (e *Engine) IsDescendant(ancestorID, executionID string) bool {
	for executionID != "" {
		if executionID == ancestorID {
			return true
		}
		st, ok := e.state(executionID)
		if !ok {
			return false
		}
		st.mu.RLock()
		executionID = st.exec.ParentExecutionID
		st.mu.RUnlock()
	}
	return false
}

// PendingInterrupts returns the unresolved interrupts of executionID and its
// delegated descendants. Bus delivery is fire-and-forget and a descendant's
// steps never appear in the root's own log, so observers reconcile through
// this call to pick up interrupts raised while nobody was subscribed.
func (e *Engine) PendingInterrupts(executionID string) []bus.InterruptSignal {
	e.mu.RLock()
	states := make([]*execState, 0, len(e.states))
	for _, st := range e.states {
		states = append(states, st)
	}
	e.mu.RUnlock()

	var out []bus.InterruptSignal
	for _, st := range states {
		st.mu.RLock()
		id := st.exec.ID
		parentID := st.exec.ParentExecutionID
		threadID := st.exec.ThreadID
		pending := st.pendingInterruptID
		var step core.Step
		found := false
		if st.exec.Status == core.StatusInterrupted && pending != "" {
			for i := len(st.exec.Steps) - 1; i >= 0; i-- {
				s := st.exec.Steps[i]
				if s.IsInterrupt() && s.Metadata.Interrupt.ID == pending {
					step = s
					found = true
					break
				}
			}
		}
		st.mu.RUnlock()

		if !found || !e.IsDescendant(executionID, id) {
			continue
		}
		out = append(out, bus.InterruptSignal{
			ExecutionID:       id,
			ParentExecutionID: parentID,
			ThreadID:          threadID,
			AgentID:           step.AgentID,
			Interrupt:         *step.Metadata.Interrupt,
			Step:              step,
		})
	}
	return out
}

// Close cancels every non-terminal execution.
func (e *Engine) Close() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, st := range e.states {
		st.cancel()
	}
}

func (e *Engine) state(executionID string) (*execState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[executionID]
	return st, ok
}

func (e *Engine) snapshot(st *execState) core.Execution {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.exec.Clone()
}

// appendStep records a step and announces it on the reasoning topic.
// Interrupt steps are announced on the interrupt topic by the loop instead.
func (e *Engine) appendStep(st *execState, step core.Step) {
	st.mu.Lock()
	st.exec.Steps = append(st.exec.Steps, step)
	executionID := st.exec.ID
	st.mu.Unlock()

	if step.IsInterrupt() {
		return
	}
	e.bus.Publish(bus.Signal{
		Topic: bus.TopicExecutionReasoning,
		Reasoning: &bus.ReasoningSignal{
			ExecutionID: executionID,
			AgentID:     step.AgentID,
			Step:        step,
		},
	})
}
