package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentrelay/bus"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/tool"
)

// runParams bundles the inputs for one execution loop, root or child.
type runParams struct {
	st           *execState
	def          core.AgentDefinition
	input        string
	instructions string
	history      []core.Message
	delegation   bool
	depth        int
}

// run drives the turn loop for one execution until a terminal state.
func (e *Engine) run(ctx context.Context, p runParams) {
	st := p.st
	history := p.history
	lastText := ""

	for turn := 0; turn < e.cfg.MaxTurns; turn++ {
		if ctx.Err() != nil {
			e.fail(st, p.def, "execution cancelled")
			return
		}

		res, err := e.producer.NextStep(ctx, core.StepRequest{
			Definition:   p.def,
			Instructions: p.instructions,
			Input:        p.input,
			History:      history,
			Tools:        e.turnTools(ctx, p),
			Turn:         turn,
		})
		if err != nil {
			e.logger.Error("engine.producer", "execution_id", e.executionID(st), "error", err.Error())
			e.fail(st, p.def, fmt.Sprintf("step producer failed: %v", err))
			return
		}

		st.mu.Lock()
		st.exec.Usage.Add(res.Usage)
		st.mu.Unlock()

		if res.Text != "" {
			lastText = res.Text
			step := core.NewStep(p.def.ID, reasoningAction(p.def.Role), res.Text)
			if res.Usage != (core.TokenUsage{}) {
				usage := res.Usage
				step.Metadata.Usage = &usage
			}
			e.appendStep(st, step)
		}

		// First turn's input moves into history so later turns replay it.
		if turn == 0 && p.input != "" {
			history = append(history, core.Message{Role: "user", Content: p.input})
			p.input = ""
		}
		history = append(history, core.Message{Role: "assistant", Content: res.Text, ToolCalls: res.ToolCalls})

		if len(res.ToolCalls) == 0 {
			e.complete(st, p.def, lastText)
			return
		}

		for _, tc := range res.ToolCalls {
			var observation string
			if target := e.registry.DelegationTarget(ctx, e.userID(st), tc.Name); target != "" {
				observation = e.runDelegation(ctx, p, tc, target)
			} else {
				var suspended bool
				observation, suspended = e.runTool(ctx, p, tc)
				if suspended {
					// Only cancellation aborts a pending interrupt.
					e.fail(st, p.def, "execution cancelled")
					return
				}
			}
			history = append(history, core.Message{Role: "tool", Content: observation, ToolCallID: tc.ID})
		}

		if res.Done {
			e.complete(st, p.def, lastText)
			return
		}
	}

	e.appendStep(st, core.NewStep(p.def.ID, core.StepCompleting, "Reached the step limit; finalizing with available findings."))
	e.complete(st, p.def, lastText)
}

// turnTools assembles the callable surface for a turn: the agent's allowed
// tools plus, below the depth bound, its delegation bindings.
func (e *Engine) turnTools(ctx context.Context, p runParams) []core.ToolDefinition {
	var defs []core.ToolDefinition
	for _, name := range p.def.AllowedTools {
		t, ok := e.tools[name]
		if !ok {
			e.logger.Warn("engine.tool.unregistered", "agent_id", p.def.ID, "tool", name)
			continue
		}
		defs = append(defs, core.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	if p.delegation && p.depth < e.cfg.MaxDelegationDepth {
		defs = append(defs, e.registry.DelegationTools(ctx, e.userID(p.st), p.def.ID)...)
	}
	return defs
}

// runDelegation hands a sub-task to a child execution and blocks until the
// child terminates. The returned observation feeds the parent's history.
func (e *Engine) runDelegation(ctx context.Context, p runParams, tc core.ToolCall, targetID string) string {
	st := p.st

	target, ok := e.registry.Lookup(ctx, e.userID(st), targetID)
	if !ok {
		return fmt.Sprintf("delegation failed: unknown agent %q", targetID)
	}

	task, extra := parseDelegationArgs(tc.Arguments)
	if task == "" {
		return "delegation failed: missing task"
	}
	input := task
	if extra != "" {
		input = task + "\n\nContext: " + extra
	}

	e.appendStep(st, core.NewDelegationStep(p.def.ID, target.ID, fmt.Sprintf("Delegating to %s: %s", target.Name, truncate(task, 200))))
	e.logger.Info("engine.delegate",
		"execution_id", e.executionID(st),
		"agent_id", p.def.ID,
		"target", target.ID,
		"depth", p.depth+1,
	)

	// The child gets its own CancelFunc below the parent's context so
	// Engine.Cancel reaches it individually; cancelling the root still
	// reaches the whole chain.
	childCtx, childCancel := context.WithCancel(ctx)
	child := &execState{
		exec: core.Execution{
			ID:                core.NewID(),
			RootAgentID:       target.ID,
			ThreadID:          e.threadID(st),
			UserID:            e.userID(st),
			ParentExecutionID: e.executionID(st),
			Status:            core.StatusRunning,
			StartedAt:         time.Now().UTC(),
			Metadata: map[string]string{
				"model":      target.Model,
				"agent_name": target.Name,
			},
		},
		cancel: childCancel,
		resume: make(chan core.Decision, 1),
	}
	e.mu.Lock()
	e.states[child.exec.ID] = child
	e.mu.Unlock()

	e.appendStep(child, core.NewStep(target.ID, core.StepRouting, fmt.Sprintf("Routing request to %s", target.Name)))

	// Child runs on the parent's goroutine: delegation is synchronous from
	// the parent's point of view.
	e.run(childCtx, runParams{
		st:           child,
		def:          target,
		input:        input,
		instructions: target.PromptTemplate,
		delegation:   true,
		depth:        p.depth + 1,
	})

	result := e.snapshot(child)

	st.mu.Lock()
	st.exec.Usage.Add(result.Usage)
	st.mu.Unlock()

	if result.Status == core.StatusFailed {
		summary := core.NewStep(p.def.ID, core.StepReviewing, fmt.Sprintf("%s failed: %s", target.Name, result.Error))
		summary.Metadata.DelegationTarget = target.ID
		e.appendStep(st, summary)
		return fmt.Sprintf("delegation to %s failed: %s", target.Name, result.Error)
	}

	summary := core.NewStep(p.def.ID, core.StepReviewing, fmt.Sprintf("%s completed: %s", target.Name, truncate(result.Result, 200)))
	summary.Metadata.DelegationTarget = target.ID
	e.appendStep(st, summary)
	return result.Result
}

// runTool executes one regular tool call, cycling through the interrupt
// protocol as often as the tool asks for approval. suspended is true only
// when the context was cancelled while waiting for a decision.
func (e *Engine) runTool(ctx context.Context, p runParams, tc core.ToolCall) (observation string, suspended bool) {
	st := p.st

	t, ok := e.tools[tc.Name]
	if !ok || !allowed(p.def, tc.Name) {
		msg := fmt.Sprintf("tool %q is not available to %s", tc.Name, p.def.ID)
		e.appendToolResult(st, p.def.ID, tc, nil, msg)
		return msg, false
	}

	args := map[string]any{}
	if tc.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			msg := fmt.Sprintf("tool %q arguments are not valid JSON: %v", tc.Name, err)
			e.appendToolResult(st, p.def.ID, tc, nil, msg)
			return msg, false
		}
	}

	callStep := core.NewStep(p.def.ID, core.StepToolCall, fmt.Sprintf("Calling %s", tc.Name))
	callStep.Metadata.ToolName = tc.Name
	callStep.Metadata.ToolCallID = tc.ID
	e.appendStep(st, callStep)

	var decision *core.Decision
	for {
		callCtx := ctx
		var cancel context.CancelFunc
		if e.cfg.ToolTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, e.cfg.ToolTimeout)
		}
		tcx := tool.NewContext(callCtx, tool.ContextParams{
			ExecutionID: e.executionID(st),
			ThreadID:    e.threadID(st),
			UserID:      e.userID(st),
			AgentID:     p.def.ID,
			CallID:      tc.ID,
			Decision:    decision,
			Logger:      e.logger,
		})
		result, err := t.Call(tcx, args)
		if cancel != nil {
			cancel()
		}

		var ar *tool.ApprovalRequired
		if errors.As(err, &ar) {
			d, ok := e.interruptAndWait(ctx, p, tc, ar)
			if !ok {
				return "", true
			}
			decision = &d
			continue
		}
		if err != nil {
			msg := fmt.Sprintf("%s failed: %v", tc.Name, err)
			e.appendToolResult(st, p.def.ID, tc, nil, msg)
			return msg, false
		}

		text := stringifyResult(result)
		e.appendToolResult(st, p.def.ID, tc, result, fmt.Sprintf("%s returned", tc.Name))
		return text, false
	}
}

// interruptAndWait records the interrupt, flips the execution to interrupted,
// announces it on the bus and blocks until a resume decision or cancellation.
func (e *Engine) interruptAndWait(ctx context.Context, p runParams, tc core.ToolCall, ar *tool.ApprovalRequired) (core.Decision, bool) {
	st := p.st

	intr := core.NewInterrupt(e.executionID(st), e.threadID(st), ar.ActionRequest)
	intr.ToolName = tc.Name
	intr.ToolCallID = tc.ID

	step := core.NewInterruptStep(p.def.ID, intr, "Awaiting approval: "+ar.ActionRequest)
	e.appendStep(st, step)
	intr = *step.Metadata.Interrupt // carries the filled-in StepID

	st.mu.Lock()
	st.exec.Status = core.StatusInterrupted
	st.pendingInterruptID = intr.ID
	parentID := st.exec.ParentExecutionID
	st.mu.Unlock()

	e.bus.Publish(bus.Signal{
		Topic: bus.TopicExecutionInterrupted,
		Interrupt: &bus.InterruptSignal{
			ExecutionID:       intr.ExecutionID,
			ParentExecutionID: parentID,
			ThreadID:          intr.ThreadID,
			AgentID:           p.def.ID,
			Interrupt:         intr,
			Step:              step,
		},
	})
	e.logger.Info("engine.interrupt",
		"execution_id", intr.ExecutionID,
		"interrupt_id", intr.ID,
		"tool", tc.Name,
	)

	select {
	case d := <-st.resume:
		return d, true
	case <-ctx.Done():
		return core.Decision{}, false
	}
}

// appendToolResult records the outcome of a tool call as a step.
func (e *Engine) appendToolResult(st *execState, agentID string, tc core.ToolCall, result any, content string) {
	step := core.NewStep(agentID, core.StepToolResult, content)
	step.Metadata.ToolName = tc.Name
	step.Metadata.ToolCallID = tc.ID
	step.Metadata.ToolResult = result
	e.appendStep(st, step)
}

// complete finalizes an execution with its answer.
func (e *Engine) complete(st *execState, def core.AgentDefinition, result string) {
	if result == "" {
		result = "Task completed."
	}
	e.appendStep(st, core.NewStep(def.ID, core.StepCompleting, result))

	st.mu.Lock()
	st.exec.Status = core.StatusCompleted
	st.exec.Result = result
	st.mu.Unlock()

	e.logger.Info("engine.complete", "execution_id", e.executionID(st), "agent_id", def.ID)
}

// fail finalizes an execution with an error.
func (e *Engine) fail(st *execState, def core.AgentDefinition, msg string) {
	e.appendStep(st, core.NewStep(def.ID, core.StepError, msg))

	st.mu.Lock()
	st.exec.Status = core.StatusFailed
	st.exec.Error = msg
	st.mu.Unlock()

	e.logger.Warn("engine.failed", "execution_id", e.executionID(st), "agent_id", def.ID, "error", msg)
}

func (e *Engine) executionID(st *execState) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.exec.ID
}

func (e *Engine) threadID(st *execState) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.exec.ThreadID
}

func (e *Engine) userID(st *execState) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.exec.UserID
}

// reasoningAction maps an agent role to the step action for its text output.
func reasoningAction(role core.Role) core.StepAction {
	if role == core.RoleSupervisor {
		return core.StepSupervising
	}
	return core.StepAnalyzing
}

// allowed reports whether the agent's definition lists the tool.
func allowed(def core.AgentDefinition, name string) bool {
	for _, n := range def.AllowedTools {
		if n == name {
			return true
		}
	}
	return false
}

// parseDelegationArgs extracts the task and optional context from a
// delegation tool call payload.
func parseDelegationArgs(raw string) (task, extra string) {
	if raw == "" {
		return "", ""
	}
	var args struct {
		Task    string `json:"task"`
		Context string `json:"context"`
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return "", ""
	}
	return args.Task, args.Context
}

// stringifyResult renders a tool result for the producer history.
func stringifyResult(result any) string {
	switch v := result.(type) {
	case nil:
		return "ok"
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
