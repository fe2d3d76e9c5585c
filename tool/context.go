package tool

import (
	"context"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Context provides a constrained, auditable surface for tool implementations
// invoked by an execution loop. It carries request-scoped identity explicitly
// (no ambient process state) plus the resume decision when a call is being
// retried after an approval interrupt.
type Context struct {
	ctx         context.Context
	executionID string
	threadID    string
	userID      string
	agentID     string
	callID      string
	decision    *core.Decision
	logger      logging.Logger
}

// ContextParams bundles the identifiers a tool context is bound to.
type ContextParams struct {
	ExecutionID string
	ThreadID    string
	UserID      string
	AgentID     string
	CallID      string
	Decision    *core.Decision
	Logger      logging.Logger
}

// NewContext constructs a tool context for one tool invocation.
func NewContext(ctx context.Context, p ContextParams) *Context {
	logger := p.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Context{
		ctx:         ctx,
		executionID: p.ExecutionID,
		threadID:    p.ThreadID,
		userID:      p.UserID,
		agentID:     p.AgentID,
		callID:      p.CallID,
		decision:    p.Decision,
		logger:      logger,
	}
}

// Context returns the cancellation context for the invocation.
func (tc *Context) Context() context.Context { return tc.ctx }

// ExecutionID returns the id of the execution driving this call.
func (tc *Context) ExecutionID() string { return tc.executionID }

// ThreadID returns the conversation thread id.
func (tc *Context) ThreadID() string { return tc.threadID }

// UserID returns the requesting user id (empty for anonymous).
func (tc *Context) UserID() string { return tc.userID }

// AgentID returns the acting agent's id.
func (tc *Context) AgentID() string { return tc.agentID }

// CallID returns the function call identifier correlating the model request
// with this execution.
func (tc *Context) CallID() string { return tc.callID }

// Logger returns the logger bound to this invocation.
func (tc *Context) Logger() logging.Logger { return tc.logger }

// Decision returns the resume decision when this call is a retry after an
// approval interrupt, or nil on the first attempt.
func (tc *Context) Decision() *core.Decision { return tc.decision }

// Approved reports whether a resume decision exists and approved the action.
func (tc *Context) Approved() bool {
	return tc.decision != nil && tc.decision.Approved
}
