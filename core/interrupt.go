package core

import "time"

// Interrupt is a suspend-for-approval request raised by a tool. ExecutionID
// names the execution that is actually paused, which for delegated work is a
// child run and not necessarily the top-level execution a caller watches.
// An interrupt is resolved exactly once via an explicit resume call.
type Interrupt struct {
	ID            string    `json:"id"`
	ExecutionID   string    `json:"execution_id"`
	ThreadID      string    `json:"thread_id"`
	ActionRequest string    `json:"action_request"`
	ToolName      string    `json:"tool_name,omitempty"`
	ToolCallID    string    `json:"tool_call_id,omitempty"`
	StepID        string    `json:"step_id,omitempty"`
	RaisedAt      time.Time `json:"raised_at"`
}

// NewInterrupt creates an interrupt bound to the paused execution.
func NewInterrupt(executionID, threadID, actionRequest string) Interrupt {
	return Interrupt{
		ID:            NewID(),
		ExecutionID:   executionID,
		ThreadID:      threadID,
		ActionRequest: actionRequest,
		RaisedAt:      time.Now().UTC(),
	}
}

// Decision is the human answer injected back into a paused tool call.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}
