// Package agent assembles an agent's effective system prompt, tool
// bindings and model client into a runnable unit, and exposes the
// entry point a Session calls to start a turn.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/codayhq/coday/event"
	"github.com/codayhq/coday/model"
	"github.com/codayhq/coday/runloop"
	"github.com/codayhq/coday/thread"
	"github.com/codayhq/coday/tool"
)

// Definition is the declarative, file-loaded shape of an agent: everything
// config/ reads out of coday.yaml's `agents:` array or an agents/*.yaml
// file. Loading semantics (discovery, YAML parsing) live in config/ and
// agentregistry/; Definition is the output shape both produce.
type Definition struct {
	Name          string
	Description   string
	Instructions  string
	ModelProvider string
	ModelName     string
	AssistantID   string
	// Integrations maps integration name to the unqualified tool names
	// permitted from it; an empty (but present) slice allows every tool in
	// that integration. A missing key denies the whole integration.
	Integrations  map[string][]string
	MandatoryDocs []string
	OptionalDocs  []string
	Temperature   float64
	MaxTokens     int
}

// MergeDefaults fills zero-valued fields of def from defaults, implementing
// the `CodayDefaults` merge-under semantics: an agent definition overrides
// only what it explicitly sets.
func MergeDefaults(def, defaults Definition) Definition {
	out := def
	if out.Instructions == "" {
		out.Instructions = defaults.Instructions
	}
	if out.ModelProvider == "" {
		out.ModelProvider = defaults.ModelProvider
	}
	if out.ModelName == "" {
		out.ModelName = defaults.ModelName
	}
	if out.Temperature == 0 {
		out.Temperature = defaults.Temperature
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = defaults.MaxTokens
	}
	if len(out.Integrations) == 0 {
		out.Integrations = defaults.Integrations
	}
	if len(out.MandatoryDocs) == 0 {
		out.MandatoryDocs = defaults.MandatoryDocs
	}
	if len(out.OptionalDocs) == 0 {
		out.OptionalDocs = defaults.OptionalDocs
	}
	return out
}

// ProjectContext carries the project-scoped material an Agent's system
// prompt composes alongside its own instructions: coday.yaml's
// description, per-user and per-project memory blocks, and the rendered
// content of every doc the definition names. Loading these is config's
// job; ProjectContext is just the assembled shape.
type ProjectContext struct {
	Description   string
	UserMemory    string
	ProjectMemory string
	// Docs maps a doc path/name (as it appears in MandatoryDocs/OptionalDocs)
	// to its rendered text content.
	Docs map[string]string
}

// Agent is a named personality bound to a model and a filtered tool set. It
// satisfies runloop.RunnableAgent so a RunLoop can drive it without this
// package depending back on anything above runloop.
type Agent struct {
	def          Definition
	client       model.Client
	tools        *tool.Set
	systemPrompt string
}

// New composes an Agent from its Definition, bound ModelClient, the full
// (unfiltered) ToolSet available to the project, and the project context
// its system prompt is rendered against. Tools are filtered to def's
// integration allow-list.
func New(def Definition, client model.Client, fullToolSet *tool.Set, proj ProjectContext) (*Agent, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("agent: definition is missing a name")
	}
	if client == nil {
		return nil, fmt.Errorf("agent %s: model client is required", def.Name)
	}
	filtered := fullToolSet.Filter(def.Integrations, tool.Unqualify)
	return &Agent{
		def:          def,
		client:       client,
		tools:        filtered,
		systemPrompt: composeSystemPrompt(def, proj),
	}, nil
}

// composeSystemPrompt renders the agent's effective system prompt: base
// instructions, project description, user memory block, project memory
// block, then rendered docs, each section omitted when empty.
func composeSystemPrompt(def Definition, proj ProjectContext) string {
	var b strings.Builder
	sections := []string{def.Instructions, proj.Description, proj.UserMemory, proj.ProjectMemory}
	for _, s := range sections {
		if s == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s)
	}
	for _, name := range append(append([]string{}, def.MandatoryDocs...), def.OptionalDocs...) {
		content, ok := proj.Docs[name]
		if !ok || content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "# %s\n%s", name, content)
	}
	return b.String()
}

// Name returns the agent's definition name.
func (a *Agent) Name() string { return a.def.Name }

// SystemPrompt returns the agent's composed system prompt.
func (a *Agent) SystemPrompt() string { return a.systemPrompt }

// ModelClient returns the agent's bound ModelClient.
func (a *Agent) ModelClient() model.Client { return a.client }

// Tools returns the agent's integration-filtered ToolSet.
func (a *Agent) Tools() *tool.Set { return a.tools }

// Definition returns the Definition this Agent was built from.
func (a *Agent) Definition() Definition { return a.def }

// Run appends userInput to th as a UserMessage, opens a RunLoop, and runs
// one turn to completion. The Agent holds no thread state itself; th and
// bus are supplied by the caller (Session) each time. stackDepth is handed
// to the RunLoop, which shares it with the delegate tool it builds when
// opts.Resolver is set, so nested delegation observes the same budget.
func (a *Agent) Run(ctx context.Context, sessionID string, userInput string, th *thread.Thread, bus runloop.Publisher, ids *event.Generator, stackDepth *int, opts runloop.Options) (*runloop.Result, error) {
	userMsg, err := th.AppendUserMessage(a.def.Name, []thread.ContentPart{{Kind: thread.ContentText, Text: userInput}})
	if err != nil {
		return nil, fmt.Errorf("agent %s: append user message: %w", a.def.Name, err)
	}
	userEvt := event.NewMessage(ids, sessionID, "", event.RoleUser, "user",
		[]event.ContentPart{{Type: "text", Text: userInput}})
	bus.Publish(userEvt)
	_ = userMsg

	loop := runloop.New(a, th, bus, ids, sessionID, stackDepth, opts)
	return loop.Run(ctx, userEvt.ID())
}

var _ runloop.RunnableAgent = (*Agent)(nil)
