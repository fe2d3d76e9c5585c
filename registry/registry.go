// Package registry resolves which agent definitions exist for a user and how
// they may delegate to each other. It merges code-shipped immutable
// definitions with user-customized ones from an external store, caches
// resolved lists per user with a TTL, and derives the synthetic delegation
// tool bindings agents expose to the model.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// DelegationToolPrefix prefixes every synthetic delegation tool name.
const DelegationToolPrefix = "delegate_to_"

// Config defines tuning parameters for the registry cache.
type Config struct {
	// TTL bounds how long a resolved per-user agent list stays cached.
	TTL time.Duration
	// CleanupInterval paces the background janitor that evicts expired
	// entries. Zero disables the janitor.
	CleanupInterval time.Duration
}

// DefaultConfig provides production-ready cache defaults.
var DefaultConfig = Config{
	TTL:             5 * time.Minute,
	CleanupInterval: time.Minute,
}

// Options configures a Registry instance.
type Options struct {
	// Config contains cache tuning parameters.
	Config Config
	// Store supplies user-customized definitions. Nil means immutable
	// definitions only.
	Store core.DefinitionStore
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Registry merges definition sources and caches per-user resolved agent
// lists. Resolution never fails the caller: if the external store is
// unreachable the immutable set is returned alone.
type Registry struct {
	immutable []core.AgentDefinition
	store     core.DefinitionStore
	cfg       Config
	logger    logging.Logger

	mu    sync.RWMutex
	cache map[string]*cacheEntry // keyed by userID; "" is the anonymous/default context

	done     chan struct{}
	doneOnce sync.Once
}

type cacheEntry struct {
	defs      []core.AgentDefinition
	byID      map[string]core.AgentDefinition
	toolNames map[string]string // agentID -> delegation tool name (non-supervisors only)
	byTool    map[string]string // delegation tool name -> agentID
	expiresAt time.Time
}

// New creates a Registry over the given immutable definitions. The immutable
// set must form a valid team (exactly one supervisor, resolvable sub-agent
// parents).
func New(immutable []core.AgentDefinition, optFns ...func(o *Options)) (*Registry, error) {
	if err := core.ValidateTeam(immutable); err != nil {
		return nil, err
	}

	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	defs := make([]core.AgentDefinition, len(immutable))
	copy(defs, immutable)
	for i := range defs {
		defs[i].Immutable = true
	}

	r := &Registry{
		immutable: defs,
		store:     opts.Store,
		cfg:       opts.Config,
		logger:    opts.Logger,
		cache:     make(map[string]*cacheEntry),
		done:      make(chan struct{}),
	}

	if r.cfg.CleanupInterval > 0 {
		go r.janitor()
	}

	return r, nil
}

// Close stops the background janitor. Idempotent.
func (r *Registry) Close() {
	r.doneOnce.Do(func() { close(r.done) })
}

// Resolve returns the merged agent definitions for a user, populating the
// cache on first use. Store failures degrade to the immutable set; they are
// logged, never surfaced.
func (r *Registry) Resolve(ctx context.Context, userID string) []core.AgentDefinition {
	if entry := r.cached(userID); entry != nil {
		return cloneDefs(entry.defs)
	}

	merged := cloneDefs(r.immutable)
	if r.store != nil {
		userDefs, err := r.store.ListByUser(ctx, userID)
		if err != nil {
			r.logger.Warn("registry.store.unreachable", "user_id", userID, "error", err.Error())
		} else {
			merged = mergeDefinitions(merged, userDefs)
		}
	}

	entry := buildEntry(merged, time.Now().Add(r.cfg.TTL))

	r.mu.Lock()
	r.cache[userID] = entry
	r.mu.Unlock()

	r.logger.Debug("registry.resolved", "user_id", userID, "agents", len(merged))

	return cloneDefs(merged)
}

// Lookup returns one resolved definition by id.
func (r *Registry) Lookup(ctx context.Context, userID, agentID string) (core.AgentDefinition, bool) {
	entry := r.entry(ctx, userID)
	d, ok := entry.byID[agentID]
	return d, ok
}

// Supervisor returns the team's supervisor definition for a user.
func (r *Registry) Supervisor(ctx context.Context, userID string) (core.AgentDefinition, error) {
	entry := r.entry(ctx, userID)
	for _, d := range entry.defs {
		if d.Role == core.RoleSupervisor {
			return d, nil
		}
	}
	return core.AgentDefinition{}, &core.ConfigurationError{Msg: "no supervisor in resolved team"}
}

// DelegationToolName returns the cached synthetic tool name for an agent, or
// "" if the agent is a supervisor or unknown. Names are a deterministic
// function of the agent id.
func (r *Registry) DelegationToolName(ctx context.Context, userID, agentID string) string {
	entry := r.entry(ctx, userID)
	return entry.toolNames[agentID]
}

// DelegationTarget maps a synthetic tool name back to its target agent id,
// or "" when the name is not a delegation binding for this user.
func (r *Registry) DelegationTarget(ctx context.Context, userID, toolName string) string {
	entry := r.entry(ctx, userID)
	return entry.byTool[toolName]
}

// DelegationTools computes the synthetic tool definitions a caller agent may
// invoke: specialists for the supervisor, the caller's own sub-agents for a
// specialist, nothing for a sub-agent.
func (r *Registry) DelegationTools(ctx context.Context, userID, callerAgentID string) []core.ToolDefinition {
	entry := r.entry(ctx, userID)
	caller, ok := entry.byID[callerAgentID]
	if !ok {
		return nil
	}

	var tools []core.ToolDefinition
	for _, d := range entry.defs {
		if !delegatable(caller, d) {
			continue
		}
		tools = append(tools, core.ToolDefinition{
			Name:        entry.toolNames[d.ID],
			Description: fmt.Sprintf("Delegate a sub-task to %s (%s). Use when that agent is better suited.", d.Name, d.Role),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task":    map[string]any{"type": "string", "description": "Self-contained description of the sub-task"},
					"context": map[string]any{"type": "string", "description": "Optional extra context for the target agent"},
				},
				"required": []string{"task"},
			},
		})
	}
	return tools
}

// Invalidate clears one user's cache entry.
func (r *Registry) Invalidate(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, userID)
}

// InvalidateAll clears the whole cache.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*cacheEntry)
}

// ToolName derives the deterministic delegation tool name for an agent id.
// It does not consult roles; use DelegationToolName for the supervisor guard.
func ToolName(agentID string) string {
	sanitized := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			return c
		case c >= 'A' && c <= 'Z':
			return c + ('a' - 'A')
		default:
			return '_'
		}
	}, agentID)
	return DelegationToolPrefix + sanitized
}

func (r *Registry) cached(userID string) *cacheEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[userID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry
}

// entry returns a live cache entry, resolving first if needed.
func (r *Registry) entry(ctx context.Context, userID string) *cacheEntry {
	if e := r.cached(userID); e != nil {
		return e
	}
	r.Resolve(ctx, userID)
	if e := r.cached(userID); e != nil {
		return e
	}
	// Resolve always populates; this path only races an invalidation.
	return buildEntry(cloneDefs(r.immutable), time.Now().Add(r.cfg.TTL))
}

func (r *Registry) janitor() {
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			now := time.Now()
			r.mu.Lock()
			for userID, entry := range r.cache {
				if now.After(entry.expiresAt) {
					delete(r.cache, userID)
				}
			}
			r.mu.Unlock()
		}
	}
}

func buildEntry(defs []core.AgentDefinition, expiresAt time.Time) *cacheEntry {
	entry := &cacheEntry{
		defs:      defs,
		byID:      make(map[string]core.AgentDefinition, len(defs)),
		toolNames: make(map[string]string),
		byTool:    make(map[string]string),
		expiresAt: expiresAt,
	}
	for _, d := range defs {
		entry.byID[d.ID] = d
		if d.Role == core.RoleSupervisor {
			continue // a supervisor is never a delegation target
		}
		name := ToolName(d.ID)
		entry.toolNames[d.ID] = name
		entry.byTool[name] = d.ID
	}
	return entry
}

// mergeDefinitions overlays user-owned definitions onto the immutable set.
// A user definition with a colliding id is ignored: the registry never lets
// the store shadow an immutable definition.
func mergeDefinitions(immutable, user []core.AgentDefinition) []core.AgentDefinition {
	byID := make(map[string]bool, len(immutable))
	for _, d := range immutable {
		byID[d.ID] = true
	}
	merged := immutable
	for _, d := range user {
		if byID[d.ID] {
			continue
		}
		if d.Validate() != nil || d.Role == core.RoleSupervisor {
			continue // a user definition cannot introduce a second supervisor
		}
		merged = append(merged, d)
		byID[d.ID] = true
	}
	return merged
}

// delegatable reports whether caller may hand work to target.
func delegatable(caller, target core.AgentDefinition) bool {
	if target.Role == core.RoleSupervisor || target.ID == caller.ID {
		return false
	}
	switch caller.Role {
	case core.RoleSupervisor:
		return target.Role == core.RoleSpecialist
	case core.RoleSpecialist:
		return target.Role == core.RoleSubAgent && target.ParentAgentID == caller.ID
	default:
		return false
	}
}

func cloneDefs(defs []core.AgentDefinition) []core.AgentDefinition {
	out := make([]core.AgentDefinition, len(defs))
	copy(out, defs)
	return out
}
