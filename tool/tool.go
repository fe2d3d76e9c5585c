// Package tool implements the function calling subsystem that lets agents
// invoke structured capabilities (APIs, computations, side effects) with
// schema validated arguments, consistent error handling and an approval
// escape hatch for human-in-the-loop gating.
package tool

import (
	"fmt"

	"github.com/hupe1980/agentrelay/internal/util"
)

// Tool defines the interface for extending agent capabilities beyond text
// generation. Tools are registered with the engine and exposed to agents
// whose definition lists the tool in AllowedTools.
//
// Implementations should:
//   - Provide clear, descriptive names (snake_case recommended) and descriptions
//   - Define proper JSON schema for parameters
//   - Be safe for concurrent use
//   - Return *ApprovalRequired from Call when a human must approve the action
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description provided to the model
	// so it understands when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with parsed arguments and the execution-scoped
	// context. Returning *ApprovalRequired suspends the owning execution
	// until a resume decision arrives.
	Call(tc *Context, args map[string]any) (any, error)
}

// ValidationError re-exports the shared argument validation error type.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution, carrying a
// code for categorization.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// ApprovalRequired is the error value a tool returns to request human
// approval instead of producing a result. The engine records an interrupt
// step, suspends the acting execution and re-invokes the tool with the
// resume decision attached to its context once one arrives.
type ApprovalRequired struct {
	// ActionRequest describes, for a human, what needs approval.
	ActionRequest string
}

func (e *ApprovalRequired) Error() string {
	return "approval required: " + e.ActionRequest
}
