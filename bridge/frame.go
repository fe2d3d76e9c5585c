package bridge

import (
	"errors"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// Frame is the closed union of wire events the bridge pushes to a caller.
// Implementations are value types; the marker method keeps the set closed.
type Frame interface {
	isFrame()
}

// StartFrame opens the stream and names the execution being watched.
type StartFrame struct {
	ExecutionID string `json:"execution_id"`
}

// StepFrame delivers one observed (or synthesized) execution step.
type StepFrame struct {
	Step core.Step `json:"step"`
}

// InterruptFrame delivers a pending approval. ExecutionID names the actual
// pauser, which may be a delegated child of the watched execution.
type InterruptFrame struct {
	ExecutionID       string         `json:"execution_id"`
	ParentExecutionID string         `json:"parent_execution_id,omitempty"`
	ThreadID          string         `json:"thread_id"`
	Interrupt         core.Interrupt `json:"interrupt"`
	Step              core.Step      `json:"step"`
}

// ToolInvocationFrame reports tool activity. State is "call" or "result".
type ToolInvocationFrame struct {
	State      string `json:"state"`
	ToolName   string `json:"tool_name"`
	ToolCallID string `json:"tool_call_id"`
	Result     any    `json:"result,omitempty"`
}

// TextStartFrame announces that final answer text follows.
type TextStartFrame struct{}

// TextDeltaFrame carries a chunk of final answer text.
type TextDeltaFrame struct {
	Delta string `json:"delta"`
}

// FinishFrame terminates the stream. Error is empty on success,
// "execution-timeout" on budget breach, or the execution's error.
type FinishFrame struct {
	Error string `json:"error,omitempty"`
}

func (StartFrame) isFrame()          {}
func (StepFrame) isFrame()           {}
func (InterruptFrame) isFrame()      {}
func (ToolInvocationFrame) isFrame() {}
func (TextStartFrame) isFrame()      {}
func (TextDeltaFrame) isFrame()      {}
func (FinishFrame) isFrame()         {}

// Sink receives frames in emission order. Write errors are treated as
// delivery failures: logged by the bridge, never fatal to observation.
type Sink interface {
	Write(Frame) error
}

// ErrSinkClosed is returned by ChannelSink.Write after Close.
var ErrSinkClosed = errors.New("sink closed")

// ChannelSink adapts a buffered channel to the Sink interface, suited to
// fan-out into an HTTP/SSE handler. A full buffer fails the write instead of
// blocking the bridge.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan Frame
	closed bool
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Frame, buffer)}
}

// Frames exposes the receive side of the sink.
func (s *ChannelSink) Frames() <-chan Frame { return s.ch }

// Write implements Sink.
func (s *ChannelSink) Write(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- f:
		return nil
	default:
		return errors.New("sink buffer full")
	}
}

// Close closes the frame channel. Idempotent.
func (s *ChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
