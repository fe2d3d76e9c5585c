package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
)

func testContext(decision *core.Decision) *Context {
	return NewContext(context.Background(), ContextParams{
		ExecutionID: "exec-1",
		ThreadID:    "thread-1",
		UserID:      "user-1",
		AgentID:     "research-specialist",
		CallID:      "call-1",
		Decision:    decision,
	})
}

// -------------------- Schema & Validation --------------------

type sampleArgs struct {
	Query string `json:"query" description:"Search query"`
	Limit *int   `json:"limit" description:"Optional result cap"`
	Site  string `json:"site,omitempty" description:"Restrict to one site"`
}

func TestSchemaFromStruct(t *testing.T) {
	schema := util.SchemaFromStruct(sampleArgs{})

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")
	assert.Contains(t, props, "site")

	req, _ := schema["required"].([]string)
	assert.ElementsMatch(t, []string{"query"}, req)
}

func TestValidateArgs(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
		},
		// []any mirrors a schema round-tripped through JSON.
		"required": []any{"x"},
	}

	assert.NoError(t, util.ValidateArgs(map[string]any{"x": 5}, schema))
	assert.NoError(t, util.ValidateArgs(map[string]any{"x": float64(5)}, schema))

	err := util.ValidateArgs(map[string]any{}, schema)
	require.Error(t, err)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "x", vErr.Field)

	err = util.ValidateArgs(map[string]any{"x": "not-int"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "expected type integer")
}

// -------------------- FunctionTool --------------------

func TestFunctionTool_Success(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}

	sum := NewFunctionTool("sum", "Add numbers", params, func(_ *Context, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	result, err := sum.Call(testContext(nil), map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
		},
		"required": []any{"a"},
	}
	tl := NewFunctionTool("test", "Test", params, func(_ *Context, _ map[string]any) (any, error) {
		return 0, nil
	})

	_, err := tl.Call(testContext(nil), map[string]any{})
	require.Error(t, err)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	tl := NewFunctionTool("boom", "Always fails", map[string]any{"type": "object"}, func(_ *Context, _ map[string]any) (any, error) {
		return nil, errors.New("backend unavailable")
	})

	_, err := tl.Call(testContext(nil), nil)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	assert.Equal(t, "boom", toolErr.Tool)
}

func TestFunctionTool_PreservesToolError(t *testing.T) {
	custom := NewToolError("rate", "rate limited", "RATE_LIMITED")
	tl := NewFunctionTool("rate", "Rate limited", map[string]any{"type": "object"}, func(_ *Context, _ map[string]any) (any, error) {
		return nil, custom
	})

	_, err := tl.Call(testContext(nil), nil)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "RATE_LIMITED", toolErr.Code)
}

func TestFunctionTool_ApprovalRequiredPassesThrough(t *testing.T) {
	tl := NewFunctionTool("send_email", "Send an email", map[string]any{"type": "object"}, func(tc *Context, _ map[string]any) (any, error) {
		if tc.Decision() == nil {
			return nil, &ApprovalRequired{ActionRequest: "Send email to bob@example.com?"}
		}
		if !tc.Approved() {
			return "cancelled: " + tc.Decision().Reason, nil
		}
		return "sent", nil
	})

	// First attempt suspends.
	_, err := tl.Call(testContext(nil), nil)
	var ar *ApprovalRequired
	require.ErrorAs(t, err, &ar)
	assert.Equal(t, "Send email to bob@example.com?", ar.ActionRequest)

	// Approved retry succeeds.
	result, err := tl.Call(testContext(&core.Decision{Approved: true}), nil)
	require.NoError(t, err)
	assert.Equal(t, "sent", result)

	// Denied retry returns the refusal as a normal result.
	result, err = tl.Call(testContext(&core.Decision{Approved: false, Reason: "not now"}), nil)
	require.NoError(t, err)
	assert.Equal(t, "cancelled: not now", result)
}

func TestFunctionTool_FromStruct(t *testing.T) {
	tl := NewFunctionToolFromStruct("web_search", "Search the web", sampleArgs{}, func(_ *Context, args map[string]any) (any, error) {
		return "results for " + args["query"].(string), nil
	})

	assert.Equal(t, "web_search", tl.Name())

	_, err := tl.Call(testContext(nil), map[string]any{})
	assert.Error(t, err) // query is required

	result, err := tl.Call(testContext(nil), map[string]any{"query": "golang"})
	require.NoError(t, err)
	assert.Equal(t, "results for golang", result)
}

// -------------------- Context --------------------

func TestContext_Accessors(t *testing.T) {
	tc := testContext(nil)
	assert.Equal(t, "exec-1", tc.ExecutionID())
	assert.Equal(t, "thread-1", tc.ThreadID())
	assert.Equal(t, "user-1", tc.UserID())
	assert.Equal(t, "research-specialist", tc.AgentID())
	assert.Equal(t, "call-1", tc.CallID())
	assert.NotNil(t, tc.Context())
	assert.NotNil(t, tc.Logger())
	assert.Nil(t, tc.Decision())
	assert.False(t, tc.Approved())
}
