package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

func TestInMemoryDefinitionStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryDefinitionStore()

	def := core.AgentDefinition{ID: "custom-specialist", Name: "Custom", Role: core.RoleSpecialist, Model: "gpt-4o-mini"}
	require.NoError(t, s.Save(ctx, "user-1", def))

	defs, err := s.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "custom-specialist", defs[0].ID)

	// Other users see nothing.
	defs, err = s.ListByUser(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, defs)

	require.NoError(t, s.Delete(ctx, "user-1", "custom-specialist"))
	assert.Error(t, s.Delete(ctx, "user-1", "custom-specialist"))
}

func TestInMemoryDefinitionStore_RejectsImmutable(t *testing.T) {
	s := NewInMemoryDefinitionStore()
	err := s.Save(context.Background(), "user-1", core.AgentDefinition{
		ID: "supervisor", Role: core.RoleSupervisor, Immutable: true,
	})
	assert.Error(t, err)
}

func TestInMemoryDefinitionStore_ValidatesDefinition(t *testing.T) {
	s := NewInMemoryDefinitionStore()
	err := s.Save(context.Background(), "user-1", core.AgentDefinition{ID: "x", Role: core.Role("bogus")})
	assert.Error(t, err)
}

func TestInMemoryTranscriptStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryTranscriptStore()

	first := core.Transcript{ID: core.NewID(), ThreadID: "thread-1", Role: "assistant", FinalText: "first"}
	second := core.Transcript{ID: core.NewID(), ThreadID: "thread-1", Role: "assistant", FinalText: "second"}
	other := core.Transcript{ID: core.NewID(), ThreadID: "thread-2", Role: "assistant", FinalText: "other"}

	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))
	require.NoError(t, s.Save(ctx, other))

	got, err := s.ListByThread(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].FinalText)
	assert.Equal(t, "second", got[1].FinalText)

	assert.Equal(t, 3, s.Count())

	// Re-saving the same id overwrites instead of duplicating.
	first.FinalText = "updated"
	require.NoError(t, s.Save(ctx, first))
	got, err = s.ListByThread(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "updated", got[0].FinalText)
}

func TestInMemoryTranscriptStore_RequiresID(t *testing.T) {
	s := NewInMemoryTranscriptStore()
	assert.Error(t, s.Save(context.Background(), core.Transcript{ThreadID: "thread-1"}))
}
