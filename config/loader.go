package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codayhq/coday/agent"
	"github.com/codayhq/coday/scheduler"
	"github.com/codayhq/coday/telemetry"
)

// Loader reads the user config directory and project descriptors. It
// implements agentregistry.DefinitionSource and supplies the project
// context an Agent's system prompt composes against. Loaders hold no
// cache: AgentRegistry memoizes built Agents, and configwatch invalidates
// that cache on change, so re-reading here keeps reloads simple.
type Loader struct {
	configDir string
	logger    telemetry.Logger
}

// NewLoader constructs a Loader over configDir (typically ~/.coday).
func NewLoader(configDir string, logger telemetry.Logger) *Loader {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Loader{configDir: configDir, logger: logger}
}

// User reads user.yml from the config directory. A missing file yields a
// zero UserConfig: a fresh install has no projects or preferences yet.
func (l *Loader) User() (UserConfig, error) {
	var u UserConfig
	err := decodeFile(filepath.Join(l.configDir, "user.yml"), &u)
	if errors.Is(err, os.ErrNotExist) {
		return UserConfig{}, nil
	}
	return u, err
}

// PreferredAgent implements agentregistry.UserPreferences over user.yml.
func (l *Loader) PreferredAgent(project string) string {
	u, err := l.User()
	if err != nil {
		return ""
	}
	return u.PreferredAgent(project)
}

// ProjectRoot resolves a project name to its root directory via user.yml.
func (l *Loader) ProjectRoot(project string) (string, error) {
	u, err := l.User()
	if err != nil {
		return "", err
	}
	root, ok := u.Projects[project]
	if !ok {
		return "", fmt.Errorf("config: unknown project %q", project)
	}
	return root, nil
}

// ProjectConfig reads <projectRoot>/coday.yaml. A missing descriptor
// yields a zero ProjectConfig rather than an error: a project without a
// coday.yaml still gets the built-in coday agent.
func (l *Loader) ProjectConfig(project string) (ProjectConfig, error) {
	root, err := l.ProjectRoot(project)
	if err != nil {
		return ProjectConfig{}, err
	}
	var pc ProjectConfig
	err = decodeFile(filepath.Join(root, "coday.yaml"), &pc)
	if errors.Is(err, os.ErrNotExist) {
		return ProjectConfig{}, nil
	}
	return pc, err
}

// projectDir is the per-project subdirectory of the user config dir
// (local agent definitions, project memories, persisted threads).
func (l *Loader) projectDir(project string) string {
	return filepath.Join(l.configDir, project)
}

// ThreadsDir returns where the project's threads are persisted.
func (l *Loader) ThreadsDir(project string) string {
	return filepath.Join(l.projectDir(project), "threads")
}

// Definitions implements agentregistry.DefinitionSource. Discovery order
// (the registry applies first-wins on case-insensitive name collision):
// coday.yaml's agents array, the project's local config agents, then
// *.yaml files under <configDir>/<project>/agents/ and every folder named
// in coday.yaml's agentFolders. A definition named CodayDefaults at any
// source provides baseline values merged under every other definition.
func (l *Loader) Definitions(ctx context.Context, project string) ([]agent.Definition, error) {
	pc, err := l.ProjectConfig(project)
	if err != nil {
		return nil, err
	}

	var raw []AgentConfig
	raw = append(raw, pc.Agents...)

	local, err := l.localAgents(project)
	if err != nil {
		return nil, err
	}
	raw = append(raw, local...)

	folders := []string{filepath.Join(l.projectDir(project), "agents")}
	if root, err := l.ProjectRoot(project); err == nil {
		for _, f := range pc.AgentFolders {
			folders = append(folders, filepath.Join(root, f))
		}
	}
	for _, dir := range folders {
		fromDir, err := l.agentsFromDir(ctx, dir)
		if err != nil {
			return nil, err
		}
		raw = append(raw, fromDir...)
	}

	return l.assemble(raw, pc), nil
}

// localAgents reads the project's local config (project.yml under the
// per-project config dir), whose agents rank after coday.yaml's.
func (l *Loader) localAgents(project string) ([]AgentConfig, error) {
	var pc ProjectConfig
	err := decodeFile(filepath.Join(l.projectDir(project), "project.yml"), &pc)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pc.Agents, nil
}

// agentsFromDir reads every *.yaml/*.yml file in dir as one AgentConfig,
// in lexical filename order for deterministic discovery.
func (l *Loader) agentsFromDir(ctx context.Context, dir string) ([]AgentConfig, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read agent folder %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []AgentConfig
	for _, name := range names {
		var ac AgentConfig
		if err := decodeFile(filepath.Join(dir, name), &ac); err != nil {
			l.logger.Warn(ctx, "config: skipping unreadable agent file", "path", filepath.Join(dir, name), "error", err)
			continue
		}
		out = append(out, ac)
	}
	return out, nil
}

// assemble converts raw configs to agent.Definitions, extracting the
// CodayDefaults entry (first occurrence wins, like any other name) and
// merging it under the rest. Definitions without their own integration
// map inherit the project-wide one.
func (l *Loader) assemble(raw []AgentConfig, pc ProjectConfig) []agent.Definition {
	var defaults agent.Definition
	haveDefaults := false
	out := make([]agent.Definition, 0, len(raw))
	for _, ac := range raw {
		def := toDefinition(ac)
		if strings.ToLower(def.Name) == DefaultsName {
			if !haveDefaults {
				defaults = def
				haveDefaults = true
			}
			continue
		}
		out = append(out, def)
	}

	if len(pc.Integrations) > 0 && len(defaults.Integrations) == 0 {
		defaults.Integrations = pc.Integrations
	}
	for i := range out {
		out[i] = agent.MergeDefaults(out[i], defaults)
	}
	return out
}

func toDefinition(ac AgentConfig) agent.Definition {
	return agent.Definition{
		Name:          ac.Name,
		Description:   ac.Description,
		Instructions:  ac.Instructions,
		ModelProvider: ac.ModelProvider,
		ModelName:     ac.ModelName,
		AssistantID:   ac.AssistantID,
		Integrations:  ac.Integrations,
		MandatoryDocs: ac.MandatoryDocs,
		OptionalDocs:  ac.OptionalDocs,
		Temperature:   ac.Temperature,
		MaxTokens:     ac.MaxTokens,
	}
}

// ProjectContext assembles the material an Agent's system prompt composes
// against: the project description, user and project memory blocks, and
// the rendered content of every doc coday.yaml names.
func (l *Loader) ProjectContext(ctx context.Context, project string) (agent.ProjectContext, error) {
	pc, err := l.ProjectConfig(project)
	if err != nil {
		return agent.ProjectContext{}, err
	}

	out := agent.ProjectContext{
		Description: pc.Description,
		UserMemory:  l.memoryBlock(filepath.Join(l.configDir, "memories.yaml"), "User memories"),
		ProjectMemory: l.memoryBlock(
			filepath.Join(l.projectDir(project), "memories.yaml"), "Project memories"),
		Docs: map[string]string{},
	}

	root, err := l.ProjectRoot(project)
	if err != nil {
		return out, nil
	}
	for _, doc := range append(append([]string{}, pc.Docs.Mandatory...), pc.Docs.Optional...) {
		content, err := os.ReadFile(filepath.Join(root, doc))
		if err != nil {
			l.logger.Warn(ctx, "config: doc unreadable", "project", project, "doc", doc, "error", err)
			continue
		}
		out.Docs[doc] = string(content)
	}
	return out, nil
}

func (l *Loader) memoryBlock(path, heading string) string {
	var mf MemoryFile
	if err := decodeFile(path, &mf); err != nil {
		return ""
	}
	return mf.Render(heading)
}

// Jobs converts the project's schedule declarations to scheduler Jobs.
func (l *Loader) Jobs(project string) ([]scheduler.Job, error) {
	pc, err := l.ProjectConfig(project)
	if err != nil {
		return nil, err
	}
	out := make([]scheduler.Job, 0, len(pc.Schedule))
	for _, sc := range pc.Schedule {
		out = append(out, scheduler.Job{
			Name:        sc.Name,
			Cron:        sc.Cron,
			AgentPrefix: sc.Agent,
			Command:     sc.Command,
		})
	}
	return out, nil
}

// WatchPaths lists the filesystem paths configwatch should observe for
// this project: the project's coday.yaml, its local config dir, and every
// agent folder.
func (l *Loader) WatchPaths(project string) []string {
	paths := []string{l.projectDir(project), filepath.Join(l.projectDir(project), "agents")}
	root, err := l.ProjectRoot(project)
	if err != nil {
		return paths
	}
	paths = append(paths, filepath.Join(root, "coday.yaml"))
	if pc, err := l.ProjectConfig(project); err == nil {
		for _, f := range pc.AgentFolders {
			paths = append(paths, filepath.Join(root, f))
		}
	}
	return paths
}
