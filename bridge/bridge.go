// Package bridge streams execution progress to a caller as an ordered frame
// sequence. It observes an execution through two independent paths, a
// subscription to the signal bus for low-latency interrupt delivery and an
// adaptive poll of engine snapshots as the ordering guarantee, deduplicates
// interrupts across the two, synthesizes delegation progress announcements,
// enforces a wall-clock budget, and persists the transcript exactly once when
// the stream ends.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/bus"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/logging"
)

// Config defines tuning parameters for a stream.
type Config struct {
	// BaseBudget is the wall-clock allowance for an execution without
	// delegations.
	BaseBudget time.Duration
	// PerDelegationBudget extends the budget for each observed delegation.
	PerDelegationBudget time.Duration
	// MaxBudget caps the extended budget.
	MaxBudget time.Duration
}

// DefaultConfig provides production-ready stream defaults.
var DefaultConfig = Config{
	BaseBudget:          60 * time.Second,
	PerDelegationBudget: 30 * time.Second,
	MaxBudget:           3 * time.Minute,
}

// Options configures a Bridge instance.
type Options struct {
	// Config contains budget tuning parameters.
	Config Config
	// Transcripts receives one durable record per finished stream. Nil
	// disables persistence.
	Transcripts core.TranscriptStore
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Bridge turns engine executions into live frame streams. One Bridge serves
// many concurrent streams; per-stream state lives on the Stream call.
type Bridge struct {
	engine      *engine.Engine
	bus         *bus.Bus
	transcripts core.TranscriptStore
	cfg         Config
	logger      logging.Logger
}

// New creates a Bridge over an engine, observing the engine's bus.
func New(eng *engine.Engine, optFns ...func(o *Options)) *Bridge {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Bridge{
		engine:      eng,
		bus:         eng.Bus(),
		transcripts: opts.Transcripts,
		cfg:         opts.Config,
		logger:      opts.Logger,
	}
}

// stream is the per-call observation state. The bus callback and the poll
// loop share it under mu; the sink sees frames in the order emit is called.
type stream struct {
	executionID string
	sink        Sink
	startedAt   time.Time

	mu                sync.Mutex
	watermark         int
	emittedInterrupts map[string]bool
	announced         map[string]bool // (source,target) delegation keys
	entries           []core.TranscriptEntry
	deliveryFailed    bool

	closeOnce sync.Once
}

// Stream observes executionID until it terminates, times out or ctx is
// cancelled, pushing frames to sink. It blocks for the lifetime of the
// stream and closes the sink (when closable) exactly once before returning.
func (b *Bridge) Stream(ctx context.Context, executionID string, sink Sink) error {
	snap, err := b.engine.GetStatus(executionID)
	if err != nil {
		return err
	}

	s := &stream{
		executionID:       executionID,
		sink:              sink,
		startedAt:         time.Now(),
		emittedInterrupts: make(map[string]bool),
		announced:         make(map[string]bool),
	}

	b.emit(s, StartFrame{ExecutionID: executionID})

	// Bus path: immediate interrupt delivery, including interrupts raised by
	// delegated descendants the poll path never sees. Reasoning signals just
	// nudge the poll loop so fresh steps drain without waiting out the timer.
	wake := make(chan struct{}, 1)
	unsubReasoning := b.bus.Subscribe(bus.TopicExecutionReasoning, func(sig bus.Signal) {
		if sig.Reasoning == nil || sig.Reasoning.ExecutionID != executionID {
			return
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubReasoning()

	unsubInterrupt := b.bus.Subscribe(bus.TopicExecutionInterrupted, func(sig bus.Signal) {
		if sig.Interrupt == nil {
			return
		}
		if !b.engine.IsDescendant(executionID, sig.Interrupt.ExecutionID) {
			return
		}
		b.emitInterrupt(s, InterruptFrame{
			ExecutionID:       sig.Interrupt.ExecutionID,
			ParentExecutionID: sig.Interrupt.ParentExecutionID,
			ThreadID:          sig.Interrupt.ThreadID,
			Interrupt:         sig.Interrupt.Interrupt,
			Step:              sig.Interrupt.Step,
		})
	})
	defer unsubInterrupt()

	// Interrupts raised before the subscriptions existed are already gone
	// from the bus; reconcile them out of engine state now and on every
	// poll tick below.
	b.reconcileInterrupts(s)

	for {
		elapsed := time.Since(s.startedAt)
		if elapsed > b.budget(s) {
			b.finishTimeout(ctx, s, snap)
			return nil
		}

		select {
		case <-ctx.Done():
			b.finishCancelled(ctx, s, snap)
			return nil
		case <-wake:
		case <-time.After(pollInterval(elapsed)):
		}

		snap, err = b.engine.GetStatus(executionID)
		if err != nil {
			// The execution vanished underneath us; close out with what the
			// last snapshot held.
			b.finishTimeout(ctx, s, snap)
			return nil
		}

		b.drain(s, snap)
		b.reconcileInterrupts(s)

		if snap.Status.Terminal() {
			b.finishTerminal(ctx, s, snap)
			return nil
		}
	}
}

// drain emits every step past the watermark, in order.
func (b *Bridge) drain(s *stream, snap core.Execution) {
	s.mu.Lock()
	from := s.watermark
	s.watermark = len(snap.Steps)
	s.mu.Unlock()

	for _, step := range snap.Steps[from:] {
		b.emitStep(s, snap, step)
	}
}

// emitStep translates one observed step into wire frames.
func (b *Bridge) emitStep(s *stream, snap core.Execution, step core.Step) {
	switch {
	case step.IsInterrupt():
		// The bus path usually got here first; the dedup set makes the
		// second observation a no-op.
		b.emitInterrupt(s, InterruptFrame{
			ExecutionID:       snap.ID,
			ParentExecutionID: snap.ParentExecutionID,
			ThreadID:          snap.ThreadID,
			Interrupt:         *step.Metadata.Interrupt,
			Step:              step,
		})
		return

	case step.Action == core.StepToolCall:
		b.emit(s, ToolInvocationFrame{
			State:      "call",
			ToolName:   step.Metadata.ToolName,
			ToolCallID: step.Metadata.ToolCallID,
		})
		b.record(s, core.TranscriptEntry{Kind: "step", Step: &step})
		return

	case step.Action == core.StepToolResult:
		b.emit(s, ToolInvocationFrame{
			State:      "result",
			ToolName:   step.Metadata.ToolName,
			ToolCallID: step.Metadata.ToolCallID,
			Result:     step.Metadata.ToolResult,
		})
		b.record(s, core.TranscriptEntry{
			Kind:       "tool-result",
			ToolName:   step.Metadata.ToolName,
			ToolCallID: step.Metadata.ToolCallID,
			Result:     step.Metadata.ToolResult,
		})
		return
	}

	b.emit(s, StepFrame{Step: step})
	b.record(s, core.TranscriptEntry{Kind: "step", Step: &step})

	// First sighting of a delegation synthesizes a progress announcement;
	// later steps about the same (source, target) pair stay quiet.
	if step.Action == core.StepDelegating && step.Metadata.DelegationTarget != "" {
		key := step.AgentID + "->" + step.Metadata.DelegationTarget
		s.mu.Lock()
		seen := s.announced[key]
		s.announced[key] = true
		s.mu.Unlock()
		if seen {
			return
		}
		synth := core.NewSyntheticStep(
			step.Metadata.DelegationTarget,
			core.StepAnalyzing,
			fmt.Sprintf("%s is now working on this…", step.Metadata.DelegationTarget),
		)
		b.emit(s, StepFrame{Step: synth})
		b.record(s, core.TranscriptEntry{Kind: "step", Step: &synth})
	}
}

// reconcileInterrupts replays the still-pending interrupts of the watched
// execution and its descendants through the dedup set. The bus is
// fire-and-forget and the watched execution's step list never contains a
// descendant's steps, so this is the only path that reaches a child interrupt
// raised while no subscription was listening.
func (b *Bridge) reconcileInterrupts(s *stream) {
	for _, sig := range b.engine.PendingInterrupts(s.executionID) {
		b.emitInterrupt(s, InterruptFrame{
			ExecutionID:       sig.ExecutionID,
			ParentExecutionID: sig.ParentExecutionID,
			ThreadID:          sig.ThreadID,
			Interrupt:         sig.Interrupt,
			Step:              sig.Step,
		})
	}
}

// emitInterrupt delivers an interrupt frame exactly once per interrupt id.
func (b *Bridge) emitInterrupt(s *stream, frame InterruptFrame) {
	s.mu.Lock()
	if s.emittedInterrupts[frame.Interrupt.ID] {
		s.mu.Unlock()
		return
	}
	s.emittedInterrupts[frame.Interrupt.ID] = true
	s.mu.Unlock()

	b.emit(s, frame)
	b.record(s, core.TranscriptEntry{Kind: "step", Step: &frame.Step})
}

// finishTerminal closes out a stream whose execution reached completed or
// failed.
func (b *Bridge) finishTerminal(ctx context.Context, s *stream, snap core.Execution) {
	s.closeOnce.Do(func() {
		var finalText, finishErr string
		if snap.Status == core.StatusFailed {
			finalText = "I ran into a problem completing this request. Please try again."
			finishErr = snap.Error
		} else {
			finalText = finalAnswer(snap)
			for _, synth := range []core.Step{
				core.NewSyntheticStep(snap.RootAgentID, core.StepReviewing, "Reviewing results"),
				core.NewSyntheticStep(snap.RootAgentID, core.StepCompleting, "Finalizing response"),
			} {
				b.emit(s, StepFrame{Step: synth})
				b.record(s, core.TranscriptEntry{Kind: "step", Step: &synth})
			}
		}
		b.emitText(s, finalText)
		b.emit(s, FinishFrame{Error: finishErr})
		b.persist(ctx, s, snap, finalText)
		b.closeSink(s)
	})
}

// finishTimeout degrades gracefully when the wall-clock budget is breached:
// one timeout finish frame, best-effort cancellation, a partial transcript.
func (b *Bridge) finishTimeout(ctx context.Context, s *stream, snap core.Execution) {
	s.closeOnce.Do(func() {
		partial := finalAnswer(snap)
		text := "This took longer than expected. Here is the partial result: " + partial

		b.emitText(s, text)
		b.emit(s, FinishFrame{Error: "execution-timeout"})

		if err := b.engine.Cancel(s.executionID); err != nil {
			b.logger.Warn("bridge.cancel", "execution_id", s.executionID, "error", err.Error())
		}
		b.persist(ctx, s, snap, text)
		b.closeSink(s)
		b.logger.Info("bridge.timeout", "execution_id", s.executionID, "elapsed", time.Since(s.startedAt).String())
	})
}

// finishCancelled closes out after the caller went away. Cancellation of the
// engine side is best-effort; local closure always happens.
func (b *Bridge) finishCancelled(ctx context.Context, s *stream, snap core.Execution) {
	s.closeOnce.Do(func() {
		b.emit(s, FinishFrame{Error: "stream-cancelled"})
		if err := b.engine.Cancel(s.executionID); err != nil {
			b.logger.Warn("bridge.cancel", "execution_id", s.executionID, "error", err.Error())
		}
		b.persist(ctx, s, snap, finalAnswer(snap))
		b.closeSink(s)
	})
}

// emitText streams the final answer as text frames.
func (b *Bridge) emitText(s *stream, text string) {
	b.emit(s, TextStartFrame{})
	b.emit(s, TextDeltaFrame{Delta: text})
	b.record(s, core.TranscriptEntry{Kind: "text", Text: text})
}

// emit pushes one frame, logging (not propagating) delivery failures so a
// disconnected caller cannot crash the observation loops.
func (b *Bridge) emit(s *stream, frame Frame) {
	if err := s.sink.Write(frame); err != nil {
		s.mu.Lock()
		first := !s.deliveryFailed
		s.deliveryFailed = true
		s.mu.Unlock()
		if first {
			b.logger.Warn("bridge.delivery", "execution_id", s.executionID, "error", err.Error())
		}
	}
}

func (b *Bridge) record(s *stream, entry core.TranscriptEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
}

// persist writes the transcript. Called at most once per stream via closeOnce.
func (b *Bridge) persist(ctx context.Context, s *stream, snap core.Execution, finalText string) {
	if b.transcripts == nil {
		return
	}
	s.mu.Lock()
	entries := make([]core.TranscriptEntry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	t := core.Transcript{
		ID:             core.NewID(),
		ExecutionID:    snap.ID,
		ThreadID:       snap.ThreadID,
		UserID:         snap.UserID,
		Role:           "assistant",
		FinalText:      finalText,
		Entries:        entries,
		Model:          snap.Metadata["model"],
		InputTokens:    snap.Usage.InputTokens,
		OutputTokens:   snap.Usage.OutputTokens,
		ResponseTimeMs: time.Since(s.startedAt).Milliseconds(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := b.transcripts.Save(ctx, t); err != nil {
		b.logger.Error("bridge.persist", "execution_id", snap.ID, "error", err.Error())
	}
}

func (b *Bridge) closeSink(s *stream) {
	if closer, ok := s.sink.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			b.logger.Warn("bridge.close", "execution_id", s.executionID, "error", err.Error())
		}
	}
}

// budget computes the wall-clock allowance, extended per observed delegation
// and capped.
func (b *Bridge) budget(s *stream) time.Duration {
	s.mu.Lock()
	delegations := len(s.announced)
	s.mu.Unlock()

	budget := b.cfg.BaseBudget + time.Duration(delegations)*b.cfg.PerDelegationBudget
	if budget > b.cfg.MaxBudget {
		budget = b.cfg.MaxBudget
	}
	return budget
}

// pollInterval backs the snapshot poll off as the execution ages.
func pollInterval(elapsed time.Duration) time.Duration {
	switch {
	case elapsed < 5*time.Second:
		return 500 * time.Millisecond
	case elapsed < 15*time.Second:
		return time.Second
	case elapsed < 45*time.Second:
		return 2 * time.Second
	default:
		return 3 * time.Second
	}
}

// finalAnswer computes the answer text with an ordered fallback chain:
// explicit result, last substantive assistant step, first non-generic step,
// generic completion string.
func finalAnswer(snap core.Execution) string {
	if strings.TrimSpace(snap.Result) != "" {
		return snap.Result
	}
	for i := len(snap.Steps) - 1; i >= 0; i-- {
		if substantive(snap.Steps[i]) {
			return snap.Steps[i].Content
		}
	}
	for _, step := range snap.Steps {
		if !step.Metadata.Synthetic && !generic(step.Content) && assistantStep(step.Action) {
			return step.Content
		}
	}
	return "Task completed."
}

// substantive steps carry assistant-authored text worth surfacing as the
// answer.
func substantive(step core.Step) bool {
	if step.Metadata.Synthetic || !assistantStep(step.Action) {
		return false
	}
	return !generic(step.Content)
}

func assistantStep(action core.StepAction) bool {
	switch action {
	case core.StepSupervising, core.StepAnalyzing, core.StepCompleting, core.StepReviewing:
		return true
	}
	return false
}

func generic(content string) bool {
	c := strings.TrimSpace(content)
	if len(c) < 20 {
		return true
	}
	switch c {
	case "Task completed.", "Reviewing results", "Finalizing response":
		return true
	}
	return strings.HasPrefix(c, "Routing request to") || strings.HasPrefix(c, "Reached the step limit")
}
