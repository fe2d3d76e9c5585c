package agentrelay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/bridge"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/registry"
	"github.com/hupe1980/agentrelay/tool"
)

func newTestRelay(t *testing.T, m *model.MockProducer) *Relay {
	t.Helper()
	r, err := New(m, registry.DefaultTeam())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func collectFrames(t *testing.T, frames <-chan bridge.Frame) []bridge.Frame {
	t.Helper()
	var out []bridge.Frame
	timeout := time.After(10 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-timeout:
			t.Fatal("frame channel did not close")
		}
	}
}

func TestRelay_AskSimple(t *testing.T) {
	m := model.NewMockProducer()
	m.AddScript("supervisor", core.StepResult{Text: "Hello! What can I do for you today?", Done: true})

	r := newTestRelay(t, m)
	frames, err := r.Ask(context.Background(), "Hi there!", "thread-1", "user-1")
	require.NoError(t, err)

	collected := collectFrames(t, frames)
	require.NotEmpty(t, collected)

	_, ok := collected[0].(bridge.StartFrame)
	assert.True(t, ok)
	finish, ok := collected[len(collected)-1].(bridge.FinishFrame)
	require.True(t, ok)
	assert.Empty(t, finish.Error)

	saved, err := r.Transcripts(context.Background(), "thread-1")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "Hello! What can I do for you today?", saved[0].FinalText)
}

func TestRelay_AskDelegationScenario(t *testing.T) {
	m := model.NewMockProducer()
	m.AddScript("supervisor",
		core.StepResult{ToolCalls: []core.ToolCall{{
			ID:        "c1",
			Name:      registry.ToolName("research-specialist"),
			Arguments: `{"task":"Analyze AAPL stock"}`,
		}}},
		core.StepResult{Text: "AAPL closed up 2% on strong earnings; summary emailed.", Done: true},
	)
	m.AddScript("research-specialist", core.StepResult{
		Text: "AAPL closed up 2% on strong earnings.",
		Done: true,
	})

	r := newTestRelay(t, m)
	frames, err := r.Ask(context.Background(), "Analyze AAPL stock and email me a summary", "thread-1", "user-1")
	require.NoError(t, err)

	var sawDelegation, sawAnnouncement bool
	var text string
	for _, f := range collectFrames(t, frames) {
		switch fr := f.(type) {
		case bridge.StepFrame:
			if fr.Step.Action == core.StepDelegating {
				sawDelegation = true
			}
			if fr.Step.Metadata.Synthetic && fr.Step.Action == core.StepAnalyzing {
				sawAnnouncement = true
			}
		case bridge.TextDeltaFrame:
			text += fr.Delta
		}
	}
	assert.True(t, sawDelegation)
	assert.True(t, sawAnnouncement)
	assert.Contains(t, text, "AAPL closed up 2%")

	saved, err := r.Transcripts(context.Background(), "thread-1")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.NotEmpty(t, saved[0].FinalText)
}

func TestRelay_AskWithRegisteredApprovalTool(t *testing.T) {
	sendEmail := tool.NewFunctionTool("send_email", "Send an email", map[string]any{
		"type":       "object",
		"properties": map[string]any{"to": map[string]any{"type": "string"}},
		"required":   []string{"to"},
	}, func(tc *tool.Context, _ map[string]any) (any, error) {
		if tc.Decision() == nil {
			return nil, &tool.ApprovalRequired{ActionRequest: "Send the email?"}
		}
		return "sent", nil
	})

	team := registry.DefaultTeam()
	team[0].AllowedTools = append(team[0].AllowedTools, "send_email")

	m := model.NewMockProducer()
	m.AddScript("supervisor",
		core.StepResult{ToolCalls: []core.ToolCall{{ID: "c1", Name: "send_email", Arguments: `{"to":"bob@example.com"}`}}},
		core.StepResult{Text: "The email went out to bob as requested.", Done: true},
	)

	r, err := New(m, team, func(o *Options) {
		o.Tools = []tool.Tool{sendEmail}
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)

	frames, err := r.Ask(context.Background(), "Email bob the summary", "thread-1", "")
	require.NoError(t, err)

	var interrupts int
	var text string
	for f := range frames {
		switch fr := f.(type) {
		case bridge.InterruptFrame:
			interrupts++
			require.NoError(t, r.Resume(fr.ExecutionID, core.Decision{Approved: true}))
		case bridge.TextDeltaFrame:
			text += fr.Delta
		}
	}
	assert.Equal(t, 1, interrupts)
	assert.Contains(t, text, "went out to bob")
}

func TestRelay_StartStatusResume(t *testing.T) {
	m := model.NewMockProducer()
	m.AddScript("supervisor", core.StepResult{Text: "done", Done: true})

	r := newTestRelay(t, m)
	exec, err := r.Start(context.Background(), engine.StartRequest{Text: "hello there friend", ThreadID: "thread-1"})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := r.GetStatus(exec.ID)
		require.NoError(t, err)
		if snap.Status.Terminal() {
			assert.Equal(t, core.StatusCompleted, snap.Status)
			break
		}
		require.False(t, time.Now().After(deadline), "execution never finished")
		time.Sleep(5 * time.Millisecond)
	}

	assert.ErrorIs(t, r.Resume(exec.ID, core.Decision{Approved: true}), core.ErrNotInterrupted)
	assert.ErrorIs(t, r.Cancel("missing"), core.ErrUnknownExecution)
}
