package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentrelay/core"
)

// teamFile is the YAML document shape for a team of agent definitions.
type teamFile struct {
	Agents []core.AgentDefinition `yaml:"agents"`
}

// LoadTeamFile reads agent definitions from a single YAML file and validates
// them as a team. Loaded definitions are marked immutable: file-shipped teams
// are fixed at process start just like code-shipped ones.
func LoadTeamFile(path string) ([]core.AgentDefinition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var tf teamFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for i := range tf.Agents {
		tf.Agents[i].Immutable = true
	}
	if err := core.ValidateTeam(tf.Agents); err != nil {
		return nil, fmt.Errorf("invalid team in %s: %w", path, err)
	}
	return tf.Agents, nil
}

// LoadTeamDir reads one agent definition per YAML file from a directory,
// skipping dotfiles and non-YAML entries, and validates the result as a
// team. Files are processed in name order so loading is deterministic.
func LoadTeamDir(dir string) ([]core.AgentDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var defs []core.AgentDefinition
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var d core.AgentDefinition
		if err := yaml.Unmarshal(b, &d); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		d.Immutable = true
		defs = append(defs, d)
	}

	if err := core.ValidateTeam(defs); err != nil {
		return nil, fmt.Errorf("invalid team in %s: %w", dir, err)
	}
	return defs, nil
}

// DefaultTeam returns the code-shipped team: a supervisor, domain
// specialists matching the intent heuristics, and a web-search sub-agent
// under research.
func DefaultTeam() []core.AgentDefinition {
	return []core.AgentDefinition{
		{
			ID:             "supervisor",
			Name:           "Supervisor",
			Role:           core.RoleSupervisor,
			Model:          "gpt-4o-mini",
			Temperature:    0.7,
			PromptTemplate: "You are the team supervisor. Answer simple requests directly; delegate substantial sub-tasks to the best suited specialist.",
			Immutable:      true,
		},
		{
			ID:             "research-specialist",
			Name:           "Research Specialist",
			Role:           core.RoleSpecialist,
			Model:          "gpt-4o-mini",
			Temperature:    0.3,
			AllowedTools:   []string{"web_search", "send_email"},
			PromptTemplate: "You research topics thoroughly and produce concise, sourced summaries.",
			Immutable:      true,
		},
		{
			ID:             "technical-specialist",
			Name:           "Technical Specialist",
			Role:           core.RoleSpecialist,
			Model:          "gpt-4o-mini",
			Temperature:    0.2,
			AllowedTools:   []string{"run_code"},
			PromptTemplate: "You solve programming and infrastructure tasks.",
			Immutable:      true,
		},
		{
			ID:             "web-searcher",
			Name:           "Web Searcher",
			Role:           core.RoleSubAgent,
			ParentAgentID:  "research-specialist",
			Model:          "gpt-4o-mini",
			Temperature:    0.0,
			AllowedTools:   []string{"web_search"},
			PromptTemplate: "You run targeted web searches and return raw findings.",
			Immutable:      true,
		},
	}
}
