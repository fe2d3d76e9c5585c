// Package store provides volatile implementations of the definition and
// transcript stores, suited to tests and ephemeral demo setups. Durable
// variants live in store/boltdb.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// InMemoryDefinitionStore keeps user-customized agent definitions in a
// process-local map. Safe for concurrent access; returned slices are copies.
type InMemoryDefinitionStore struct {
	mu   sync.RWMutex
	defs map[string]map[string]core.AgentDefinition // userID -> id -> def
}

// NewInMemoryDefinitionStore constructs an empty in-memory definition store.
func NewInMemoryDefinitionStore() *InMemoryDefinitionStore {
	return &InMemoryDefinitionStore{defs: make(map[string]map[string]core.AgentDefinition)}
}

// ListByUser returns the definitions owned by userID.
func (s *InMemoryDefinitionStore) ListByUser(_ context.Context, userID string) ([]core.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.AgentDefinition, 0, len(s.defs[userID]))
	for _, d := range s.defs[userID] {
		out = append(out, d)
	}
	return out, nil
}

// Save creates or replaces a user-owned definition. Immutable definitions are
// rejected: they are code-shipped and never pass through the store.
func (s *InMemoryDefinitionStore) Save(_ context.Context, userID string, def core.AgentDefinition) error {
	if def.Immutable {
		return fmt.Errorf("immutable definition %s cannot be stored", def.ID)
	}
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.defs[userID] == nil {
		s.defs[userID] = make(map[string]core.AgentDefinition)
	}
	s.defs[userID][def.ID] = def
	return nil
}

// Delete removes a user-owned definition by id.
func (s *InMemoryDefinitionStore) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[userID][id]; !ok {
		return fmt.Errorf("definition %s not found for user %s", id, userID)
	}
	delete(s.defs[userID], id)
	return nil
}

// InMemoryTranscriptStore keeps persisted transcripts in memory, ordered by
// insertion per thread.
type InMemoryTranscriptStore struct {
	mu      sync.RWMutex
	byID    map[string]core.Transcript
	threads map[string][]string // threadID -> transcript ids, insertion order
}

// NewInMemoryTranscriptStore constructs an empty in-memory transcript store.
func NewInMemoryTranscriptStore() *InMemoryTranscriptStore {
	return &InMemoryTranscriptStore{
		byID:    make(map[string]core.Transcript),
		threads: make(map[string][]string),
	}
}

// Save persists one transcript keyed by its id.
func (s *InMemoryTranscriptStore) Save(_ context.Context, t core.Transcript) error {
	if t.ID == "" {
		return fmt.Errorf("transcript requires an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[t.ID]; !exists {
		s.threads[t.ThreadID] = append(s.threads[t.ThreadID], t.ID)
	}
	s.byID[t.ID] = t
	return nil
}

// ListByThread returns transcripts for a thread in insertion order.
func (s *InMemoryTranscriptStore) ListByThread(_ context.Context, threadID string) ([]core.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.threads[threadID]
	out := make([]core.Transcript, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out, nil
}

// Count reports the number of stored transcripts (test helper).
func (s *InMemoryTranscriptStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
