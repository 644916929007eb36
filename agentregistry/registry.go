// Package agentregistry discovers agent definitions from project
// configuration and hands out lazily-built, memoized Agent instances.
package agentregistry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/codayhq/coday/agent"
	"github.com/codayhq/coday/event"
	"github.com/codayhq/coday/internal/coalesce"
	"github.com/codayhq/coday/model"
	"github.com/codayhq/coday/runloop"
	"github.com/codayhq/coday/telemetry"
	"github.com/codayhq/coday/tool"
)

// builtinCodayName is the fallback agent every project is guaranteed to have.
const builtinCodayName = "coday"

// ModelResolver binds an agent.Definition's modelProvider/modelName to a
// concrete model.Client. AgentRegistry has no provider-construction logic
// of its own; config/ supplies the resolver at NewRegistry time.
type ModelResolver interface {
	Resolve(def agent.Definition) (model.Client, error)
}

// DefinitionSource yields agent definitions in discovery-order groups: the
// first definition seen for a given name (case-insensitive) wins, mirroring
// the "first match wins on name collision" rule. config/
// implements this over coday.yaml's `agents:` array, the project's local
// config, and `agents/*.yaml` files under agentFolders.
type DefinitionSource interface {
	Definitions(ctx context.Context, project string) ([]agent.Definition, error)
}

// Registry discovers agent.Definitions for the active project and builds
// Agents from them lazily, memoized, and with concurrent builds for the same
// name coalesced onto a single in-flight construction.
type Registry struct {
	source    DefinitionSource
	resolver  ModelResolver
	tools     *tool.Set
	projCtx   func(ctx context.Context, project string) (agent.ProjectContext, error)
	bus       runloop.Publisher
	ids       *event.Generator
	sessionID string
	logger    telemetry.Logger

	mu      sync.RWMutex
	project string
	defs    map[string]agent.Definition // lowercased name -> definition
	order   []string                    // lowercased names, discovery order
	cache   map[string]*agent.Agent     // lowercased name -> built agent
	group   coalesce.Group[string, *agent.Agent]
}

// Options configures a Registry.
type Options struct {
	Logger telemetry.Logger
}

// New constructs a Registry bound to source/resolver/tools for building
// Agents, projCtx for rendering each Agent's system prompt, and bus/ids/
// sessionID for the Choice event findByPrefix may emit on ambiguous
// resolution.
func New(source DefinitionSource, resolver ModelResolver, fullToolSet *tool.Set,
	projCtx func(ctx context.Context, project string) (agent.ProjectContext, error),
	bus runloop.Publisher, ids *event.Generator, sessionID string, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &Registry{
		source:    source,
		resolver:  resolver,
		tools:     fullToolSet,
		projCtx:   projCtx,
		bus:       bus,
		ids:       ids,
		sessionID: sessionID,
		logger:    opts.Logger,
		cache:     make(map[string]*agent.Agent),
	}
}

// SetProject switches the registry's active project, dropping the
// definition and instance caches and killing every outgoing Agent's
// ToolSet.
func (r *Registry) SetProject(ctx context.Context, project string) error {
	defs, err := r.source.Definitions(ctx, project)
	if err != nil {
		return fmt.Errorf("agentregistry: load definitions for project %q: %w", project, err)
	}

	r.mu.Lock()
	outgoing := r.cache
	r.project = project
	r.defs = make(map[string]agent.Definition, len(defs))
	r.order = r.order[:0]
	for _, d := range defs {
		key := strings.ToLower(d.Name)
		if _, exists := r.defs[key]; exists {
			continue // first match wins on name collision
		}
		r.defs[key] = d
		r.order = append(r.order, key)
	}
	r.cache = make(map[string]*agent.Agent)
	r.mu.Unlock()

	for name, a := range outgoing {
		if err := a.Tools().Kill(ctx); err != nil {
			r.logger.Warn(ctx, "agentregistry: kill outgoing agent tool set failed", "agent", name, "error", err)
		}
	}
	return nil
}

// findByName performs a case-insensitive exact lookup, building the Agent
// if it is not already cached.
func (r *Registry) findByName(ctx context.Context, exactName string) (*agent.Agent, error) {
	key := strings.ToLower(exactName)

	r.mu.RLock()
	if a, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return a, nil
	}
	def, ok := r.defs[key]
	project := r.project
	r.mu.RUnlock()

	if !ok {
		if key == builtinCodayName {
			def = agent.Definition{Name: builtinCodayName, Instructions: "You are Coday, a helpful coding assistant."}
		} else {
			return nil, fmt.Errorf("agentregistry: no agent named %q", exactName)
		}
	}

	a, err, _ := r.group.Do(key, func() (*agent.Agent, error) {
		return r.build(ctx, def, project)
	})
	if err != nil {
		r.group.Forget(key)
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = a
	r.mu.Unlock()
	return a, nil
}

func (r *Registry) build(ctx context.Context, def agent.Definition, project string) (*agent.Agent, error) {
	client, err := r.resolver.Resolve(def)
	if err != nil {
		return nil, fmt.Errorf("agentregistry: resolve model for agent %q: %w", def.Name, err)
	}
	proj := agent.ProjectContext{}
	if r.projCtx != nil {
		proj, err = r.projCtx(ctx, project)
		if err != nil {
			return nil, fmt.Errorf("agentregistry: load project context for %q: %w", project, err)
		}
	}

	return agent.New(def, client, r.tools, proj)
}

// Resolve implements runloop.AgentResolver, letting a RunLoop's per-turn
// delegate tool (built fresh in runloop.Options.Resolver) look up a sibling
// agent by name or unambiguous prefix at call time without runloop
// importing this package.
func (r *Registry) Resolve(ctx context.Context, agentName string) (runloop.RunnableAgent, error) {
	matches, err := r.findByPrefixNonInteractive(ctx, agentName)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("agentregistry: no agent matches %q", agentName)
	}
	if len(matches) > 1 {
		return nil, fmt.Errorf("agentregistry: %q is ambiguous among %v", agentName, matches)
	}
	return r.findByName(ctx, matches[0])
}

// FindByName is the public exact-name lookup entry point.
func (r *Registry) FindByName(ctx context.Context, exactName string) (*agent.Agent, error) {
	return r.findByName(ctx, exactName)
}

// FindByPrefix returns every agent name whose lowercased name starts with
// the lowercased prefix. If there are >=2 matches and interactive is true,
// it emits a Choice event over the bus and returns the matches unresolved —
// the caller awaits the corresponding Answer to pick one.
func (r *Registry) FindByPrefix(ctx context.Context, prefix string, interactive bool) ([]string, error) {
	matches, err := r.findByPrefixNonInteractive(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(matches) >= 2 && interactive {
		choice := event.NewChoice(r.ids, r.sessionID, "", fmt.Sprintf("Multiple agents match %q, pick one:", prefix), matches, "")
		r.bus.Publish(choice)
	}
	return matches, nil
}

func (r *Registry) findByPrefixNonInteractive(ctx context.Context, prefix string) ([]string, error) {
	lowered := strings.ToLower(prefix)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, name := range r.order {
		if strings.HasPrefix(name, lowered) {
			out = append(out, name)
		}
	}
	if strings.HasPrefix(builtinCodayName, lowered) && !contains(out, builtinCodayName) {
		out = append(out, builtinCodayName)
	}
	sort.Strings(out)
	return out, nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// UserPreferences supplies the per-project default agent name:
// PreferredAgent returns "" if none is configured. config/ can plug in
// whatever per-user preference store it loads.
type UserPreferences interface {
	PreferredAgent(project string) string
}

// PreferredAgentFor reads the user's per-project default agent.
func (r *Registry) PreferredAgentFor(prefs UserPreferences, project string) string {
	if prefs == nil {
		return ""
	}
	return prefs.PreferredAgent(project)
}

// SelectAgent implements the run entry point's selection order from
// precedence: explicit @prefix > last agent used in the thread > the
// project's preferred default > the built-in coday fallback. Each fallback
// step is reported through onFallback for a debug event the caller emits.
func (r *Registry) SelectAgent(ctx context.Context, explicitPrefix, lastUsed string, prefs UserPreferences, project string, onFallback func(step string)) (*agent.Agent, error) {
	fallback := func(step string) {
		if onFallback != nil {
			onFallback(step)
		}
	}

	if explicitPrefix != "" {
		matches, err := r.findByPrefixNonInteractive(ctx, explicitPrefix)
		if err == nil && len(matches) == 1 {
			return r.findByName(ctx, matches[0])
		}
		fallback("explicit prefix " + explicitPrefix + " did not resolve to exactly one agent, trying last used agent")
	}

	if lastUsed != "" {
		if a, err := r.findByName(ctx, lastUsed); err == nil {
			return a, nil
		}
		fallback("last used agent " + lastUsed + " unavailable, trying preferred default")
	}

	if pref := r.PreferredAgentFor(prefs, project); pref != "" {
		if a, err := r.findByName(ctx, pref); err == nil {
			return a, nil
		}
		fallback("preferred default " + pref + " unavailable, falling back to built-in coday")
	} else {
		fallback("no preferred default configured, falling back to built-in coday")
	}

	return r.findByName(ctx, builtinCodayName)
}

var _ runloop.AgentResolver = (*Registry)(nil)
