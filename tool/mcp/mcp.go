// Package mcp adapts tools exposed by external MCP servers into the
// engine's uniform tool.Tool interface, namespacing each one
// mcp__<serverId>__<toolName> so the ToolSet can treat it identically to a
// native tool once discovered.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codayhq/coday/telemetry"
	"github.com/codayhq/coday/tool"
)

// ServerConfig describes how to reach one configured MCP server: either a
// stdio child process (Command/Args/Env) or an HTTP endpoint (URL).
type ServerConfig struct {
	Type    string // "stdio" (default) or "http"
	Command string
	Args    []string
	Env     map[string]string
	URL     string
}

// connectTimeout bounds both the initial handshake and the tool-discovery
// ListTools call.
var connectTimeout = 30 * time.Second

// callTimeout is the default per-invocation timeout applied to CallTool
// when the owning ToolSet does not override it.
const callTimeout = 30 * time.Second

type connection struct {
	serverID string
	session  *mcpsdk.ClientSession
	killFunc context.CancelFunc
	closed   sync.Once
}

func (c *connection) kill(context.Context) error {
	var err error
	c.closed.Do(func() {
		if c.session != nil {
			err = c.session.Close()
		}
		if c.killFunc != nil {
			c.killFunc()
		}
	})
	return err
}

// Manager spawns and owns MCP server connections on behalf of a ToolSet,
// one connection per configured server, lazily on project load and killed
// on project switch.
type Manager struct {
	logger telemetry.Logger

	mu    sync.Mutex
	conns map[string]*connection
}

// NewManager returns a Manager that logs connection failures through
// logger (which may be nil, in which case a no-op logger is used).
func NewManager(logger telemetry.Logger) *Manager {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Manager{logger: logger, conns: make(map[string]*connection)}
}

var newTransport = func(cfg ServerConfig) (mcpsdk.Transport, context.CancelFunc) {
	if cfg.Type == "http" {
		return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}, func() {}
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	return &mcpsdk.CommandTransport{Command: cmd}, func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}

// Connect spawns/dials serverID per cfg, lists its tools, and returns them
// as tool.Tool values ready for registration on a tool.Set. The connection
// is retained so a later Kill can release it.
func (m *Manager) Connect(ctx context.Context, serverID string, cfg ServerConfig) ([]tool.Tool, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "coday", Version: "1.0"}, nil)

	transport, killFunc := newTransport(cfg)

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	session, err := client.Connect(connCtx, transport, nil)
	if err != nil {
		killFunc()
		return nil, fmt.Errorf("mcp: connect %s: %w", serverID, err)
	}

	conn := &connection{serverID: serverID, session: session, killFunc: killFunc}

	listCtx, listCancel := context.WithTimeout(ctx, connectTimeout)
	defer listCancel()
	result, err := session.ListTools(listCtx, nil)
	if err != nil {
		_ = conn.kill(ctx)
		return nil, fmt.Errorf("mcp: list tools on %s: %w", serverID, err)
	}

	m.mu.Lock()
	m.conns[serverID] = conn
	m.mu.Unlock()

	tools := make([]tool.Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, &mcpTool{conn: conn, serverID: serverID, name: t.Name, spec: toSpec(serverID, t)})
	}
	return tools, nil
}

func toSpec(serverID string, t *mcpsdk.Tool) tool.Spec {
	schema, _ := t.InputSchema.(map[string]any)
	return tool.Spec{
		Name:        tool.NamespacedMCPIdent(serverID, t.Name),
		Description: t.Description,
		Schema:      schema,
	}
}

// Kill closes every live connection this Manager holds. Safe to call more
// than once.
func (m *Manager) Kill(ctx context.Context) error {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.kill(ctx); err != nil {
			m.logger.Warn(ctx, "mcp: failed to close server connection", "server", c.serverID, "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// mcpTool adapts a single tool exposed by a connected MCP server into
// tool.Tool. Invoke and Kill both operate through the shared connection, so
// killing one tool from a server kills every tool sharing that connection.
type mcpTool struct {
	conn     *connection
	serverID string
	name     string
	spec     tool.Spec
}

func (t *mcpTool) Spec() tool.Spec         { return t.spec }
func (t *mcpTool) Idempotent() bool        { return false }
func (t *mcpTool) Timeout() (bool, int64)  { return true, callTimeout.Milliseconds() }

func (t *mcpTool) Invoke(ctx context.Context, argsJSON string) (any, error) {
	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return nil, fmt.Errorf("mcp tool %s: invalid arguments: %w", t.spec.Name, err)
		}
	}

	result, err := t.conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.name,
		Arguments: args,
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("mcp tool %s timed out", t.spec.Name)
		}
		return nil, fmt.Errorf("mcp tool %s: %w", t.spec.Name, err)
	}
	if result == nil {
		return nil, fmt.Errorf("mcp tool %s: empty response", t.spec.Name)
	}

	text := extractText(result.Content)
	if result.IsError {
		return nil, fmt.Errorf("mcp tool %s: %s", t.spec.Name, text)
	}
	return text, nil
}

func (t *mcpTool) Kill(ctx context.Context) error {
	return t.conn.kill(ctx)
}

func extractText(content []mcpsdk.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
