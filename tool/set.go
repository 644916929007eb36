package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// DefaultTimeout is the per-call timeout applied when neither the tool nor
// the caller overrides it.
const DefaultTimeout = 60 * time.Second

// Request is a single tool invocation as emitted by a ModelClient.
type Request struct {
	ToolName Ident
	CallID   string
	ArgsJSON string
}

// Response is the outcome of running a Request through a Set.
type Response struct {
	CallID     string
	ResultJSON string
	ErrorText  string
	// Bounds is set when the tool's result implements BoundedResult,
	// surfacing truncation metadata alongside the wire string.
	Bounds *Bounds
	// RetryHint is set when a failed invocation's error implements
	// RetryHintProvider, carrying structured recovery guidance.
	RetryHint *RetryHint
}

// Killable is implemented by tools holding resources (MCP child processes,
// delegated sub-runs) that must be released when the owning Set shuts down.
type Killable interface {
	Kill(ctx context.Context) error
}

// Set is a name-addressed registry of tools. It validates arguments against
// each tool's JSON schema, enforces per-call timeouts and cancellation, and
// coerces every result to the string wire format a ModelClient expects.
type Set struct {
	mu      sync.RWMutex
	tools   map[Ident]Tool
	schemas map[Ident]*jsonschema.Schema
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{
		tools:   make(map[Ident]Tool),
		schemas: make(map[Ident]*jsonschema.Schema),
	}
}

// Register adds t to the set, compiling its JSON schema up front so invalid
// schemas fail at construction rather than at first call. A later
// registration with the same name replaces the earlier one.
func (s *Set) Register(t Tool) error {
	spec := t.Spec()
	if spec.Name == "" {
		return fmt.Errorf("tool: cannot register tool with empty name")
	}

	compiled, err := compileSchema(spec.Name, spec.Schema)
	if err != nil {
		return fmt.Errorf("tool %s: %w", spec.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[spec.Name] = t
	s.schemas[spec.Name] = compiled
	return nil
}

func compileSchema(name Ident, schema map[string]any) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	resourceID := string(name) + ".schema.json"
	if err := c.AddResource(resourceID, schema); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// Specs returns the model-facing specs of every registered tool, sorted by
// name for deterministic prompt rendering.
func (s *Set) Specs() []Spec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Spec, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t.Spec())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Filter returns a new Set containing only the tools allowed by an
// integration allow-list: integrations maps integration name to the list of
// unqualified tool names permitted (an empty list allows every tool in that
// integration). unqualified extracts the integration name and the tool's
// own name from a possibly mcp__<serverId>__<toolName>-namespaced Ident;
// native tools are their own integration.
func (s *Set) Filter(integrations map[string][]string, unqualified func(Ident) (integration, name string)) *Set {
	out := NewSet()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, t := range s.tools {
		integration, toolName := unqualified(name)
		allowed, ok := integrations[integration]
		if !ok {
			continue
		}
		if len(allowed) > 0 && !contains(allowed, toolName) {
			continue
		}
		out.tools[name] = t
		out.schemas[name] = s.schemas[name]
	}
	return out
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Idempotent reports whether name is registered and, if so, whether its
// tool is safe for concurrent execution alongside other idempotent tools.
func (s *Set) Idempotent(name Ident) (idempotent, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	if !ok {
		return false, false
	}
	return t.Idempotent(), true
}

// Run parses req.ArgsJSON, validates it against the tool's schema, invokes
// the tool with a per-call timeout derived from ctx, and always returns a
// Response: failures are reported through ErrorText rather than a Go error,
// since a failed tool call is a normal ToolResponse outcome, not an engine
// fault.
func (s *Set) Run(ctx context.Context, req Request) Response {
	s.mu.RLock()
	t, ok := s.tools[req.ToolName]
	schema := s.schemas[req.ToolName]
	s.mu.RUnlock()

	if !ok {
		return Response{CallID: req.CallID, ErrorText: fmt.Sprintf("unknown tool %q", req.ToolName)}
	}

	if schema != nil {
		var args any
		if err := json.Unmarshal([]byte(req.ArgsJSON), &args); err != nil {
			return Response{CallID: req.CallID, ErrorText: fmt.Sprintf("invalid arguments: %v", err)}
		}
		if err := schema.Validate(args); err != nil {
			return Response{CallID: req.CallID, ErrorText: fmt.Sprintf("arguments do not match schema: %v", err)}
		}
	}

	timeout := DefaultTimeout
	if override, ms := t.Timeout(); override {
		timeout = time.Duration(ms) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := t.Invoke(callCtx, req.ArgsJSON)
	if err != nil {
		resp := Response{CallID: req.CallID, ErrorText: err.Error()}
		var hp RetryHintProvider
		if errors.As(err, &hp) {
			resp.RetryHint = hp.RetryHint(req.ToolName)
		}
		return resp
	}

	resp := Response{CallID: req.CallID, ResultJSON: coerceResult(req.ToolName, result)}
	if br, ok := result.(BoundedResult); ok {
		b := br.Bounds()
		resp.Bounds = &b
		resp.ResultJSON += b.note()
	}
	return resp
}

// coerceResult flattens an arbitrary tool return value to the string wire
// format a ModelClient expects: strings pass through untouched, nil becomes
// a completion sentinel, and everything else is JSON-encoded.
func coerceResult(name Ident, result any) string {
	switch v := result.(type) {
	case nil:
		return fmt.Sprintf("Tool %s finished without error.", name)
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("Tool %s finished without error.", name)
		}
		return string(encoded)
	}
}

// Kill releases resources held by every registered tool that implements
// Killable (MCP server connections, delegated sub-runs). An error from one
// tool does not stop the sweep; the first error is returned and later ones
// are dropped.
func (s *Set) Kill(ctx context.Context) error {
	s.mu.RLock()
	killables := make([]Killable, 0, len(s.tools))
	for _, t := range s.tools {
		if k, ok := t.(Killable); ok {
			killables = append(killables, k)
		}
	}
	s.mu.RUnlock()

	var firstErr error
	for _, k := range killables {
		if err := k.Kill(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
