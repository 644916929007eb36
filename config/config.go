// Package config loads Coday's persisted configuration surface: the
// per-user config directory (user.yml, memories.yaml, per-project subdirs)
// and each project's coday.yaml descriptor. Its output shapes - agent
// definitions, project context, scheduled jobs - are what the engine
// consumes; the loading semantics themselves stay a thin glue layer.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultsName is the reserved agent-definition name whose values are
// merged under every other loaded definition instead of becoming an agent
// of its own.
const DefaultsName = "codaydefaults"

// ProjectConfig is the decoded shape of a project's coday.yaml: the
// authoritative project descriptor.
type ProjectConfig struct {
	Description string `yaml:"description"`
	// Docs lists project documentation surfaced to agents.
	Docs DocsConfig `yaml:"docs"`
	// Integrations is the project-wide integration allow-list applied when
	// an agent definition does not carry its own.
	Integrations map[string][]string `yaml:"integrations"`
	// Agents embeds agent definitions directly in the project descriptor.
	// These take precedence over every other discovery source.
	Agents []AgentConfig `yaml:"agents"`
	// AgentFolders names extra directories (relative to the project root)
	// scanned for agents/*.yaml definition files.
	AgentFolders []string `yaml:"agentFolders"`
	// Scripts maps a script name to the command text submitted when the
	// user invokes it.
	Scripts map[string]string `yaml:"scripts"`
	// PromptChains maps a chain name to an ordered list of prompts
	// submitted as successive turns.
	PromptChains map[string][]string `yaml:"promptChains"`
	// Schedule declares cron-driven invocations.
	Schedule []ScheduleConfig `yaml:"schedule"`
	// MCPServers declares external MCP servers whose tools join the
	// project's tool set under the mcp__<id>__ namespace.
	MCPServers []MCPServerConfig `yaml:"mcpServers"`
}

// DocsConfig splits project docs into always-included and on-request sets.
type DocsConfig struct {
	Mandatory []string `yaml:"mandatory"`
	Optional  []string `yaml:"optional"`
}

// AgentConfig is the YAML shape of one agent definition, as embedded in
// coday.yaml's agents array, a project-local config, or an agents/*.yaml
// file.
type AgentConfig struct {
	Name          string              `yaml:"name"`
	Description   string              `yaml:"description"`
	Instructions  string              `yaml:"instructions"`
	ModelProvider string              `yaml:"modelProvider"`
	ModelName     string              `yaml:"modelName"`
	AssistantID   string              `yaml:"assistantId"`
	Integrations  map[string][]string `yaml:"integrations"`
	MandatoryDocs []string            `yaml:"mandatoryDocs"`
	OptionalDocs  []string            `yaml:"optionalDocs"`
	Temperature   float64             `yaml:"temperature"`
	MaxTokens     int                 `yaml:"maxTokens"`
}

// ScheduleConfig declares one cron-driven job in coday.yaml.
type ScheduleConfig struct {
	Name    string `yaml:"name"`
	Cron    string `yaml:"cron"`
	Agent   string `yaml:"agent"`
	Command string `yaml:"command"`
}

// MCPServerConfig declares how to reach one MCP server.
type MCPServerConfig struct {
	ID      string            `yaml:"id"`
	Type    string            `yaml:"type"` // "stdio" (default) or "http"
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	URL     string            `yaml:"url"`
}

// UserConfig is the decoded shape of user.yml in the user's config
// directory.
type UserConfig struct {
	// Projects maps a project name to its root directory on disk.
	Projects map[string]string `yaml:"projects"`
	// PreferredAgents maps a project name to the user's default agent for
	// that project.
	PreferredAgents map[string]string `yaml:"preferredAgents"`
}

// PreferredAgent implements agentregistry.UserPreferences.
func (u UserConfig) PreferredAgent(project string) string {
	return u.PreferredAgents[project]
}

// MemoryFile is the decoded shape of a memories.yaml file at either USER or
// PROJECT level.
type MemoryFile struct {
	Memories []Memory `yaml:"memories"`
}

// Memory is one remembered fact.
type Memory struct {
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
}

// Render formats the memory list as the text block an agent's system
// prompt embeds, or "" when empty.
func (m MemoryFile) Render(heading string) string {
	if len(m.Memories) == 0 {
		return ""
	}
	out := "# " + heading
	for _, mem := range m.Memories {
		out += "\n\n## " + mem.Title + "\n" + mem.Content
	}
	return out
}

// decodeFile strictly decodes a YAML file into dst. A missing file leaves
// dst untouched and returns os.ErrNotExist wrapped with the path.
func decodeFile(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}
