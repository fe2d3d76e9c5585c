package core

import "context"

// ToolDefinition declaratively exposes a callable function to a step producer.
// Parameters is a minimal JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a function call request surfaced by a step producer, unified
// across providers so the engine needs no per-provider branching.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded argument payload
}

// StepRequest captures the normalized input for one turn of an agent loop.
type StepRequest struct {
	// Definition identifies the acting agent (model binding, temperature,
	// prompt template).
	Definition AgentDefinition
	// Instructions is the resolved system prompt, including any delegation
	// hint appended by the intent heuristic.
	Instructions string
	// Input is the user task text for the first turn.
	Input string
	// History is the conversation so far: prior thread messages plus the
	// assistant/tool turns accumulated by earlier loop iterations.
	History []Message
	// Tools lists the callable surface for this turn, delegation tools
	// included.
	Tools []ToolDefinition
	// Turn is the zero-based loop iteration, for producers that adapt
	// behavior over the run.
	Turn int
}

// StepResult is the outcome of one producer turn.
type StepResult struct {
	// Text is the assistant-visible reasoning or answer for this turn.
	Text string
	// ToolCalls lists requested tool invocations; empty means the producer
	// considers the task answered with Text.
	ToolCalls []ToolCall
	// Done signals explicit task completion even alongside text.
	Done bool
	// Usage reports token accounting for this turn.
	Usage TokenUsage
}

// StepProducer is the opaque bridge to language-model invocation. Prompt
// construction details, provider selection and retries live behind this
// interface; the engine only sees normalized turns.
type StepProducer interface {
	NextStep(ctx context.Context, req StepRequest) (*StepResult, error)
}
