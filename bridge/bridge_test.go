package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/registry"
	"github.com/hupe1980/agentrelay/store"
	"github.com/hupe1980/agentrelay/tool"
)

type collectSink struct {
	mu     sync.Mutex
	frames []Frame
	closed int
}

func (s *collectSink) Write(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *collectSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *collectSink) all() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

func testTeam() []core.AgentDefinition {
	return []core.AgentDefinition{
		{ID: "supervisor", Name: "Supervisor", Role: core.RoleSupervisor, Model: "gpt-4o-mini", AllowedTools: []string{"send_email"}},
		{ID: "research-specialist", Name: "Research Specialist", Role: core.RoleSpecialist, Model: "gpt-4o-mini", AllowedTools: []string{"send_email"}},
	}
}

func approvalTool() tool.Tool {
	return tool.NewFunctionTool("send_email", "Send an email", map[string]any{
		"type":       "object",
		"properties": map[string]any{"to": map[string]any{"type": "string"}},
		"required":   []string{"to"},
	}, func(tc *tool.Context, _ map[string]any) (any, error) {
		if tc.Decision() == nil {
			return nil, &tool.ApprovalRequired{ActionRequest: "Send the email?"}
		}
		return "sent", nil
	})
}

func newTestStack(t *testing.T, producer core.StepProducer, optFns ...func(o *Options)) (*engine.Engine, *Bridge, *store.InMemoryTranscriptStore) {
	t.Helper()
	reg, err := registry.New(testTeam())
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	eng := engine.New(producer, reg, func(o *engine.Options) {
		o.Tools = []tool.Tool{approvalTool()}
	})
	t.Cleanup(eng.Close)

	transcripts := store.NewInMemoryTranscriptStore()
	fns := append([]func(o *Options){func(o *Options) { o.Transcripts = transcripts }}, optFns...)
	return eng, New(eng, fns...), transcripts
}

func TestStream_SimpleCompletion(t *testing.T) {
	m := model.NewMockProducer()
	m.AddScript("supervisor", core.StepResult{Text: "The answer is forty-two, obviously.", Done: true})

	eng, br, transcripts := newTestStack(t, m)
	exec, err := eng.Start(context.Background(), engine.StartRequest{Text: "the question", ThreadID: "thread-1"})
	require.NoError(t, err)

	sink := &collectSink{}
	require.NoError(t, br.Stream(context.Background(), exec.ID, sink))

	frames := sink.all()
	require.NotEmpty(t, frames)

	start, ok := frames[0].(StartFrame)
	require.True(t, ok)
	assert.Equal(t, exec.ID, start.ExecutionID)

	finish, ok := frames[len(frames)-1].(FinishFrame)
	require.True(t, ok)
	assert.Empty(t, finish.Error)

	var sawTextStart bool
	var text string
	for _, f := range frames {
		switch fr := f.(type) {
		case TextStartFrame:
			sawTextStart = true
		case TextDeltaFrame:
			text += fr.Delta
		}
	}
	assert.True(t, sawTextStart)
	assert.Equal(t, "The answer is forty-two, obviously.", text)

	// Steps arrive in engine order.
	snap, err := eng.GetStatus(exec.ID)
	require.NoError(t, err)
	idx := 0
	for _, f := range frames {
		sf, ok := f.(StepFrame)
		if !ok || sf.Step.Metadata.Synthetic {
			continue
		}
		found := -1
		for i := idx; i < len(snap.Steps); i++ {
			if snap.Steps[i].ID == sf.Step.ID {
				found = i
				break
			}
		}
		require.GreaterOrEqual(t, found, idx, "step %s delivered out of order", sf.Step.ID)
		idx = found
	}

	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, 1, transcripts.Count())

	saved, err := transcripts.ListByThread(context.Background(), "thread-1")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "assistant", saved[0].Role)
	assert.Equal(t, "The answer is forty-two, obviously.", saved[0].FinalText)
	assert.Equal(t, exec.ID, saved[0].ExecutionID)
	assert.NotEmpty(t, saved[0].Entries)
}

func TestStream_DelegationAnnouncedOnce(t *testing.T) {
	m := model.NewMockProducer()
	m.AddScript("supervisor",
		core.StepResult{ToolCalls: []core.ToolCall{{ID: "c1", Name: registry.ToolName("research-specialist"), Arguments: `{"task":"part one"}`}}},
		core.StepResult{ToolCalls: []core.ToolCall{{ID: "c2", Name: registry.ToolName("research-specialist"), Arguments: `{"task":"part two"}`}}},
		core.StepResult{Text: "Both parts are researched and combined here.", Done: true},
	)
	m.AddScript("research-specialist",
		core.StepResult{Text: "part one findings go right here", Done: true},
		core.StepResult{Text: "part two findings go right here", Done: true},
	)

	eng, br, _ := newTestStack(t, m)
	exec, err := eng.Start(context.Background(), engine.StartRequest{Text: "research both parts", ThreadID: "thread-1"})
	require.NoError(t, err)

	sink := &collectSink{}
	require.NoError(t, br.Stream(context.Background(), exec.ID, sink))

	var announcements, delegations int
	for _, f := range sink.all() {
		sf, ok := f.(StepFrame)
		if !ok {
			continue
		}
		if sf.Step.Action == core.StepDelegating {
			delegations++
		}
		if sf.Step.Metadata.Synthetic && sf.Step.Action == core.StepAnalyzing {
			announcements++
		}
	}
	assert.Equal(t, 2, delegations)
	assert.Equal(t, 1, announcements, "same (source,target) pair must announce once")
}

func TestStream_InterruptDeliveredExactlyOnce(t *testing.T) {
	m := model.NewMockProducer()
	m.AddScript("supervisor",
		core.StepResult{ToolCalls: []core.ToolCall{{ID: "c1", Name: "send_email", Arguments: `{"to":"bob@example.com"}`}}},
		core.StepResult{Text: "The email went out to bob as requested.", Done: true},
	)

	eng, br, _ := newTestStack(t, m)
	exec, err := eng.Start(context.Background(), engine.StartRequest{Text: "email bob", ThreadID: "thread-1"})
	require.NoError(t, err)

	// Approve once the interrupt lands.
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			snap, err := eng.GetStatus(exec.ID)
			if err == nil && snap.Status == core.StatusInterrupted {
				// Give the poll path time to observe the interrupt step too.
				time.Sleep(600 * time.Millisecond)
				_ = eng.Resume(exec.ID, core.Decision{Approved: true})
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	sink := &collectSink{}
	require.NoError(t, br.Stream(context.Background(), exec.ID, sink))

	interrupts := map[string]int{}
	for _, f := range sink.all() {
		if fr, ok := f.(InterruptFrame); ok {
			interrupts[fr.Interrupt.ID]++
		}
	}
	require.Len(t, interrupts, 1)
	for id, n := range interrupts {
		assert.Equal(t, 1, n, "interrupt %s delivered %d times", id, n)
	}
}

func TestStream_ChildInterruptBeforeStreamAttaches(t *testing.T) {
	m := model.NewMockProducer()
	m.AddScript("supervisor",
		core.StepResult{ToolCalls: []core.ToolCall{{ID: "c1", Name: registry.ToolName("research-specialist"), Arguments: `{"task":"email bob the findings"}`}}},
		core.StepResult{Text: "The findings email went out to bob just now.", Done: true},
	)
	m.AddScript("research-specialist",
		core.StepResult{ToolCalls: []core.ToolCall{{ID: "c2", Name: "send_email", Arguments: `{"to":"bob@example.com"}`}}},
		core.StepResult{Text: "Email delivered with the findings attached.", Done: true},
	)

	eng, br, _ := newTestStack(t, m)
	exec, err := eng.Start(context.Background(), engine.StartRequest{Text: "research and email bob", ThreadID: "thread-1"})
	require.NoError(t, err)

	// Let the delegated child suspend before any stream is watching, so the
	// bus publish is already gone when the subscription appears.
	var childID string
	deadline := time.Now().Add(2 * time.Second)
	for childID == "" {
		require.False(t, time.Now().After(deadline), "child never interrupted")
		for _, ex := range eng.Executions() {
			if ex.ParentExecutionID == exec.ID && ex.Status == core.StatusInterrupted {
				childID = ex.ID
			}
		}
		time.Sleep(5 * time.Millisecond)
	}

	sink := &collectSink{}

	// Approve once the interrupt frame reaches the caller.
	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			for _, f := range sink.all() {
				if _, ok := f.(InterruptFrame); ok {
					_ = eng.Resume(childID, core.Decision{Approved: true})
					return
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	require.NoError(t, br.Stream(context.Background(), exec.ID, sink))

	interrupts := map[string]int{}
	var frame InterruptFrame
	for _, f := range sink.all() {
		if fr, ok := f.(InterruptFrame); ok {
			frame = fr
			interrupts[fr.Interrupt.ID]++
		}
	}
	require.Len(t, interrupts, 1)
	for id, n := range interrupts {
		assert.Equal(t, 1, n, "interrupt %s delivered %d times", id, n)
	}
	assert.Equal(t, childID, frame.ExecutionID)
	assert.Equal(t, exec.ID, frame.ParentExecutionID)
	assert.Equal(t, "thread-1", frame.ThreadID)

	snap := waitTerminal(t, eng, exec.ID)
	assert.Equal(t, core.StatusCompleted, snap.Status)
}

func TestStream_TimeoutGracefulDegradation(t *testing.T) {
	eng, br, transcripts := newTestStack(t, blockingProducer{}, func(o *Options) {
		o.Config = Config{
			BaseBudget:          200 * time.Millisecond,
			PerDelegationBudget: 0,
			MaxBudget:           200 * time.Millisecond,
		}
	})
	exec, err := eng.Start(context.Background(), engine.StartRequest{Text: "hang forever", ThreadID: "thread-1"})
	require.NoError(t, err)

	sink := &collectSink{}
	done := make(chan error, 1)
	go func() { done <- br.Stream(context.Background(), exec.ID, sink) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not terminate within budget + poll interval")
	}

	var finishes []FinishFrame
	for _, f := range sink.all() {
		if fr, ok := f.(FinishFrame); ok {
			finishes = append(finishes, fr)
		}
	}
	require.Len(t, finishes, 1)
	assert.Equal(t, "execution-timeout", finishes[0].Error)

	assert.Equal(t, 1, sink.closed)
	require.Equal(t, 1, transcripts.Count())
	saved, err := transcripts.ListByThread(context.Background(), "thread-1")
	require.NoError(t, err)
	assert.Contains(t, saved[0].FinalText, "partial result")

	// Cancellation reached the engine.
	snap := waitTerminal(t, eng, exec.ID)
	assert.Equal(t, core.StatusFailed, snap.Status)
}

func TestStream_FailedExecutionApology(t *testing.T) {
	eng, br, transcripts := newTestStack(t, model.ErrProducer{Err: errors.New("provider down")})
	exec, err := eng.Start(context.Background(), engine.StartRequest{Text: "hi", ThreadID: "thread-1"})
	require.NoError(t, err)

	sink := &collectSink{}
	require.NoError(t, br.Stream(context.Background(), exec.ID, sink))

	frames := sink.all()
	finish, ok := frames[len(frames)-1].(FinishFrame)
	require.True(t, ok)
	assert.Contains(t, finish.Error, "provider down")

	var text string
	for _, f := range frames {
		if fr, ok := f.(TextDeltaFrame); ok {
			text += fr.Delta
		}
	}
	assert.Contains(t, text, "ran into a problem")
	assert.Equal(t, 1, transcripts.Count())
}

func TestStream_UnknownExecution(t *testing.T) {
	_, br, _ := newTestStack(t, model.NewMockProducer())
	err := br.Stream(context.Background(), "missing", &collectSink{})
	assert.ErrorIs(t, err, core.ErrUnknownExecution)
}

func TestStream_CancelledCaller(t *testing.T) {
	eng, br, transcripts := newTestStack(t, blockingProducer{})
	exec, err := eng.Start(context.Background(), engine.StartRequest{Text: "hang", ThreadID: "thread-1"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &collectSink{}
	done := make(chan error, 1)
	go func() { done <- br.Stream(ctx, exec.ID, sink) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after caller cancellation")
	}

	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, 1, transcripts.Count())
}

func waitTerminal(t *testing.T, eng *engine.Engine, executionID string) core.Execution {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := eng.GetStatus(executionID)
		require.NoError(t, err)
		if snap.Status.Terminal() {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("execution stuck in %s", snap.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type blockingProducer struct{}

func (blockingProducer) NextStep(ctx context.Context, _ core.StepRequest) (*core.StepResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// -------------------- Helpers under test --------------------

func TestPollInterval(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, pollInterval(time.Second))
	assert.Equal(t, time.Second, pollInterval(10*time.Second))
	assert.Equal(t, 2*time.Second, pollInterval(30*time.Second))
	assert.Equal(t, 3*time.Second, pollInterval(2*time.Minute))
}

func TestFinalAnswer_FallbackChain(t *testing.T) {
	// Explicit result wins.
	snap := core.Execution{Result: "explicit answer"}
	assert.Equal(t, "explicit answer", finalAnswer(snap))

	// Last substantive assistant step.
	snap = core.Execution{Steps: []core.Step{
		core.NewStep("supervisor", core.StepRouting, "Routing request to Supervisor"),
		core.NewStep("supervisor", core.StepSupervising, "A perfectly substantive assistant answer."),
		core.NewSyntheticStep("supervisor", core.StepReviewing, "Reviewing results"),
	}}
	assert.Equal(t, "A perfectly substantive assistant answer.", finalAnswer(snap))

	// Nothing substantive falls through to the generic string.
	snap = core.Execution{Steps: []core.Step{
		core.NewStep("supervisor", core.StepRouting, "Routing request to Supervisor"),
		core.NewStep("supervisor", core.StepAnalyzing, "ok"),
	}}
	assert.Equal(t, "Task completed.", finalAnswer(snap))
}

func TestChannelSink(t *testing.T) {
	s := NewChannelSink(1)
	require.NoError(t, s.Write(TextStartFrame{}))
	assert.Error(t, s.Write(TextDeltaFrame{Delta: "x"})) // buffer full

	<-s.Frames()
	require.NoError(t, s.Write(FinishFrame{}))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // idempotent
	assert.ErrorIs(t, s.Write(FinishFrame{}), ErrSinkClosed)

	// Buffered frame still drains after close.
	_, ok := <-s.Frames()
	assert.True(t, ok)
	_, ok = <-s.Frames()
	assert.False(t, ok)
}
