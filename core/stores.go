package core

import (
	"context"
	"time"
)

// DefinitionStore persists user-customized agent definitions. Implementations
// back the registry's merge of immutable and user-owned definitions; a store
// failure must never fail a resolve (the registry falls back to immutable
// definitions only).
type DefinitionStore interface {
	// ListByUser returns the definitions owned by userID. An empty userID
	// addresses the anonymous/default context.
	ListByUser(ctx context.Context, userID string) ([]AgentDefinition, error)
	// Save creates or replaces a user-owned definition.
	Save(ctx context.Context, userID string, def AgentDefinition) error
	// Delete removes a user-owned definition by id.
	Delete(ctx context.Context, userID, id string) error
}

// TranscriptEntry is one emitted wire record captured for durability: a step,
// a tool result, or a chunk of answer text.
type TranscriptEntry struct {
	Kind       string `json:"kind"` // "step", "tool-result", "text"
	Step       *Step  `json:"step,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Result     any    `json:"result,omitempty"`
	Text       string `json:"text,omitempty"`
}

// Transcript is the durable record written when an execution reaches a
// terminal state or is force-finalized on timeout. It is written at most once
// per caller-visible stream.
type Transcript struct {
	ID             string            `json:"id"`
	ExecutionID    string            `json:"execution_id"`
	ThreadID       string            `json:"thread_id"`
	UserID         string            `json:"user_id,omitempty"`
	Role           string            `json:"role"` // always "assistant"
	FinalText      string            `json:"final_text"`
	Entries        []TranscriptEntry `json:"entries"`
	Model          string            `json:"model,omitempty"`
	InputTokens    int               `json:"input_tokens"`
	OutputTokens   int               `json:"output_tokens"`
	ResponseTimeMs int64             `json:"response_time_ms"`
	CreatedAt      time.Time         `json:"created_at"`
}

// TranscriptStore is the durability sink for finished streams.
type TranscriptStore interface {
	// Save persists one transcript. Implementations should treat the
	// transcript id as the write key.
	Save(ctx context.Context, t Transcript) error
	// ListByThread returns transcripts for a thread in insertion order.
	ListByThread(ctx context.Context, threadID string) ([]Transcript, error)
}
