// Package bus provides the in-process signal fan-out connecting the execution
// engine to streaming bridges. It carries two topics: interrupt signals (a
// tool suspended an execution for approval) and reasoning signals (a new step
// was appended). Delivery is asynchronous and best-effort; the bridge's poll
// path guarantees no signal is ultimately lost.
package bus

import (
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// Topic identifies a signal category.
type Topic string

const (
	// TopicExecutionInterrupted carries interrupt signals.
	TopicExecutionInterrupted Topic = "execution.interrupted"
	// TopicExecutionReasoning carries new-step signals.
	TopicExecutionReasoning Topic = "execution.reasoning"
)

// InterruptSignal announces a suspended execution. ExecutionID is the actual
// pauser (possibly a delegated child); ParentExecutionID lets a top-level
// observer correlate interrupts raised deep in a delegation chain without
// polling every descendant.
type InterruptSignal struct {
	ExecutionID       string
	ParentExecutionID string
	ThreadID          string
	AgentID           string
	Interrupt         core.Interrupt
	Step              core.Step
}

// ReasoningSignal announces a newly appended step.
type ReasoningSignal struct {
	ExecutionID string
	AgentID     string
	Step        core.Step
}

// Signal is the tagged union published on the bus; exactly one payload field
// is non-nil, matching Topic.
type Signal struct {
	Topic     Topic
	Interrupt *InterruptSignal
	Reasoning *ReasoningSignal
}

// Bus is a minimal topic-based publish/subscribe hub. It is safe for
// concurrent use; callbacks fire on their own goroutines so a slow subscriber
// cannot stall the engine's loop.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic]map[int]func(Signal)
	next int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic]map[int]func(Signal))}
}

// Subscribe registers fn for a topic and returns an unsubscribe function.
// Unsubscribing is idempotent.
func (b *Bus) Subscribe(topic Topic, fn func(Signal)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func(Signal))
	}
	id := b.next
	b.next++
	b.subs[topic][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// Publish delivers the signal to every subscriber of its topic. Each callback
// runs on a fresh goroutine.
func (b *Bus) Publish(sig Signal) {
	b.mu.RLock()
	fns := make([]func(Signal), 0, len(b.subs[sig.Topic]))
	for _, fn := range b.subs[sig.Topic] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		go fn(sig)
	}
}

// SubscriberCount reports the number of active subscribers for a topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
