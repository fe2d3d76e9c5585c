package core

import "time"

// Status is the lifecycle state of an execution.
type Status string

const (
	// StatusRunning means the agent/tool loop is in progress.
	StatusRunning Status = "running"
	// StatusCompleted is terminal: the loop produced a result.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal: the loop hit an unrecoverable error.
	StatusFailed Status = "failed"
	// StatusInterrupted means the loop is suspended awaiting a resume decision.
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Execution is a point-in-time snapshot of one run of an agent loop, root or
// delegated child. Snapshots are defensive copies: the Steps slice is owned
// by the caller and never aliases engine state.
//
// Invariants:
//   - Steps is append-only and monotonically growing while Status is running.
//   - Once Status is completed or failed no further steps are appended.
//   - ParentExecutionID is set exactly for delegated child runs.
type Execution struct {
	ID                string            `json:"id"`
	RootAgentID       string            `json:"root_agent_id"`
	ThreadID          string            `json:"thread_id"`
	UserID            string            `json:"user_id,omitempty"`
	ParentExecutionID string            `json:"parent_execution_id,omitempty"`
	Status            Status            `json:"status"`
	Steps             []Step            `json:"steps"`
	Result            string            `json:"result,omitempty"`
	Error             string            `json:"error,omitempty"`
	StartedAt         time.Time         `json:"started_at"`
	Usage             TokenUsage        `json:"usage"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the execution safe for independent use.
func (e Execution) Clone() Execution {
	c := e
	c.Steps = make([]Step, len(e.Steps))
	copy(c.Steps, e.Steps)
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// LastStep returns the most recent step, or a zero step if none exist.
func (e Execution) LastStep() (Step, bool) {
	if len(e.Steps) == 0 {
		return Step{}, false
	}
	return e.Steps[len(e.Steps)-1], true
}

// Message is a single prior conversation turn supplied with a start request
// and threaded through step-producer calls.
type Message struct {
	Role    string `json:"role"` // user, assistant, tool, system
	Content string `json:"content"`
	// ToolCalls carries the tool invocations an assistant turn requested,
	// so providers can replay the call/result pairing.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool turn back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}
