// Package model contains step producer implementations: provider adapters
// (model/openai, model/anthropic) and an in-memory mock for tests and
// examples.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// MockProducer is a scripted core.StepProducer for tests and examples. Each
// agent gets an ordered script of results which is consumed one entry per
// turn; once a script runs dry (or none was registered) the producer echoes
// the input and signals completion.
type MockProducer struct {
	mu      sync.Mutex
	scripts map[string][]core.StepResult // agentID -> remaining turns
	calls   int
}

// NewMockProducer constructs an empty MockProducer.
func NewMockProducer() *MockProducer {
	return &MockProducer{scripts: make(map[string][]core.StepResult)}
}

// AddScript appends scripted turns for an agent, consumed in order.
func (m *MockProducer) AddScript(agentID string, results ...core.StepResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[agentID] = append(m.scripts[agentID], results...)
}

// Calls reports how many turns have been produced (test helper).
func (m *MockProducer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// NextStep implements core.StepProducer.
func (m *MockProducer) NextStep(ctx context.Context, req core.StepRequest) (*core.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	script := m.scripts[req.Definition.ID]
	if len(script) == 0 {
		return &core.StepResult{
			Text: fmt.Sprintf("Mock response to: %s", req.Input),
			Done: true,
		}, nil
	}

	next := script[0]
	m.scripts[req.Definition.ID] = script[1:]
	return &next, nil
}

// ErrProducer is a core.StepProducer that always fails, for exercising
// failure paths in tests.
type ErrProducer struct {
	Err error
}

// NextStep implements core.StepProducer.
func (p ErrProducer) NextStep(_ context.Context, _ core.StepRequest) (*core.StepResult, error) {
	return nil, p.Err
}
