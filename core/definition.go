package core

import "fmt"

// Role categorizes an agent definition within a team.
type Role string

const (
	// RoleSupervisor is the single agent per team authorized to delegate to
	// specialists. A supervisor is never a delegation target itself.
	RoleSupervisor Role = "supervisor"
	// RoleSpecialist is an agent invoked via delegation from the supervisor.
	RoleSpecialist Role = "specialist"
	// RoleSubAgent is an agent nested under a specialist, invoked via
	// delegation from its parent.
	RoleSubAgent Role = "sub-agent"
)

// Known reports whether the role is one of the defined constants.
func (r Role) Known() bool {
	switch r {
	case RoleSupervisor, RoleSpecialist, RoleSubAgent:
		return true
	}
	return false
}

// AgentDefinition is an immutable template describing one agent: its identity,
// role within the team, model binding and tool allowance. Code-shipped
// definitions carry Immutable=true and are loaded once at process start;
// user-customized definitions come from a DefinitionStore and may be edited
// or deleted through a management surface. The registry never mutates an
// immutable definition.
type AgentDefinition struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Role           Role     `json:"role" yaml:"role"`
	ParentAgentID  string   `json:"parent_agent_id,omitempty" yaml:"parent_agent_id,omitempty"`
	Model          string   `json:"model" yaml:"model"`
	Temperature    float64  `json:"temperature" yaml:"temperature"`
	AllowedTools   []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
	PromptTemplate string   `json:"prompt_template,omitempty" yaml:"prompt_template,omitempty"`
	Immutable      bool     `json:"immutable" yaml:"immutable"`
}

// Validate checks the structural invariants of a single definition.
func (d AgentDefinition) Validate() error {
	if d.ID == "" {
		return &ConfigurationError{Msg: "agent definition requires an id"}
	}
	if !d.Role.Known() {
		return &ConfigurationError{Msg: fmt.Sprintf("agent %s has unknown role %q", d.ID, d.Role)}
	}
	if d.Role == RoleSubAgent && d.ParentAgentID == "" {
		return &ConfigurationError{Msg: fmt.Sprintf("sub-agent %s requires a parent agent id", d.ID)}
	}
	if d.Role != RoleSubAgent && d.ParentAgentID != "" {
		return &ConfigurationError{Msg: fmt.Sprintf("agent %s with role %s must not declare a parent", d.ID, d.Role)}
	}
	return nil
}

// ValidateTeam checks the cross-definition invariants: exactly one supervisor
// and every sub-agent parent referencing an existing non-sub-agent.
func ValidateTeam(defs []AgentDefinition) error {
	byID := make(map[string]AgentDefinition, len(defs))
	supervisors := 0
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := byID[d.ID]; dup {
			return &ConfigurationError{Msg: fmt.Sprintf("duplicate agent id %s", d.ID)}
		}
		byID[d.ID] = d
		if d.Role == RoleSupervisor {
			supervisors++
		}
	}
	if supervisors != 1 {
		return &ConfigurationError{Msg: fmt.Sprintf("team requires exactly one supervisor, found %d", supervisors)}
	}
	for _, d := range defs {
		if d.Role != RoleSubAgent {
			continue
		}
		parent, ok := byID[d.ParentAgentID]
		if !ok {
			return &ConfigurationError{Msg: fmt.Sprintf("sub-agent %s references unknown parent %s", d.ID, d.ParentAgentID)}
		}
		if parent.Role == RoleSubAgent {
			return &ConfigurationError{Msg: fmt.Sprintf("sub-agent %s parent %s must not itself be a sub-agent", d.ID, d.ParentAgentID)}
		}
	}
	return nil
}
