package core

import (
	"time"

	"github.com/google/uuid"
)

// StepAction labels the kind of progress a step records. The set below is
// closed for consumers that want exhaustive handling; free-form labels are
// still valid Step values and are passed through as generic progress.
type StepAction string

const (
	// StepRouting records the engine selecting a target agent for a request.
	StepRouting StepAction = "routing"
	// StepDelegating records a delegation tool call handing work to another agent.
	StepDelegating StepAction = "delegating"
	// StepAnalyzing records a specialist working on its task.
	StepAnalyzing StepAction = "analyzing"
	// StepReviewing records result synthesis / review of delegated work.
	StepReviewing StepAction = "reviewing"
	// StepSupervising records the supervisor reasoning about the request.
	StepSupervising StepAction = "supervising"
	// StepCompleting records an execution reaching its answer.
	StepCompleting StepAction = "completing"
	// StepInterrupt records a tool suspending the execution for approval.
	StepInterrupt StepAction = "interrupt"
)

// Free-form labels the engine uses for tool activity. They sit outside the
// closed action set; consumers treat them as generic progress unless they
// care about tool plumbing.
const (
	StepToolCall   StepAction = "tool-call"
	StepToolResult StepAction = "tool-result"
	StepError      StepAction = "error"
)

// Known reports whether the action is one of the closed set of constants.
func (a StepAction) Known() bool {
	switch a {
	case StepRouting, StepDelegating, StepAnalyzing, StepReviewing, StepSupervising, StepCompleting, StepInterrupt:
		return true
	}
	return false
}

// TokenUsage captures token accounting attached to steps and executions.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage sample.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// StepMetadata carries structured context for a step. All fields are optional;
// absence is meaningful (e.g. a step without Interrupt is not an interrupt).
type StepMetadata struct {
	// DelegationTarget names the agent a delegating step hands work to.
	DelegationTarget string `json:"delegation_target,omitempty"`
	// Interrupt describes the pending approval for an interrupt step.
	Interrupt *Interrupt `json:"interrupt,omitempty"`
	// Synthetic marks steps fabricated by the bridge for observability
	// (progress announcements, reviewing/finalizing markers).
	Synthetic bool `json:"synthetic,omitempty"`
	// Usage carries token accounting for model-produced steps.
	Usage *TokenUsage `json:"usage,omitempty"`
	// ToolName / ToolCallID correlate steps describing tool activity.
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolResult carries the outcome recorded by a tool-result step.
	ToolResult any `json:"tool_result,omitempty"`
}

// Step is one atomic, ordered record of progress within an execution. Steps
// are append-only: once appended to an execution they are never mutated.
type Step struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	AgentID   string       `json:"agent_id"`
	Action    StepAction   `json:"action"`
	Content   string       `json:"content"`
	Metadata  StepMetadata `json:"metadata,omitempty"`
}

// NewStep creates a step authored by agentID with the given action and
// human-readable content.
func NewStep(agentID string, action StepAction, content string) Step {
	return Step{
		ID:        NewID(),
		Timestamp: time.Now().UTC(),
		AgentID:   agentID,
		Action:    action,
		Content:   content,
	}
}

// NewDelegationStep creates a delegating step carrying the target agent id.
func NewDelegationStep(agentID, targetAgentID, content string) Step {
	s := NewStep(agentID, StepDelegating, content)
	s.Metadata.DelegationTarget = targetAgentID
	return s
}

// NewInterruptStep creates an interrupt step carrying the pending approval.
// The interrupt's StepID is filled in from the new step's id.
func NewInterruptStep(agentID string, intr Interrupt, content string) Step {
	s := NewStep(agentID, StepInterrupt, content)
	intr.StepID = s.ID
	s.Metadata.Interrupt = &intr
	return s
}

// NewSyntheticStep creates a bridge-fabricated observability step.
func NewSyntheticStep(agentID string, action StepAction, content string) Step {
	s := NewStep(agentID, action, content)
	s.Metadata.Synthetic = true
	return s
}

// IsInterrupt reports whether the step records a pending approval.
func (s Step) IsInterrupt() bool {
	return s.Action == StepInterrupt && s.Metadata.Interrupt != nil
}

// NewID generates a new unique identifier for steps, executions and interrupts.
func NewID() string { return uuid.NewString() }
