package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func echoSpec(name Ident) Spec {
	return Spec{
		Name:        name,
		Description: "echoes back its query argument",
		Schema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"query": map[string]any{"type": "string"}},
			"required":             []any{"query"},
			"additionalProperties": false,
		},
	}
}

func TestSetRunValidatesArgsAgainstSchema(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.Register(NewFunc(echoSpec("search"), func(ctx context.Context, argsJSON string) (any, error) {
		return "ok", nil
	})))

	resp := s.Run(context.Background(), Request{ToolName: "search", CallID: "c1", ArgsJSON: `{"notQuery":1}`})
	require.Empty(t, resp.ResultJSON)
	require.NotEmpty(t, resp.ErrorText)
}

func TestSetRunCoercesResults(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.Register(NewFunc(echoSpec("str"), func(ctx context.Context, argsJSON string) (any, error) {
		return "plain string", nil
	})))
	require.NoError(t, s.Register(NewFunc(echoSpec("void"), func(ctx context.Context, argsJSON string) (any, error) {
		return nil, nil
	})))
	require.NoError(t, s.Register(NewFunc(echoSpec("struct"), func(ctx context.Context, argsJSON string) (any, error) {
		return map[string]any{"count": 3}, nil
	})))

	args := `{"query":"x"}`
	require.Equal(t, "plain string", s.Run(context.Background(), Request{ToolName: "str", CallID: "1", ArgsJSON: args}).ResultJSON)
	require.Equal(t, "Tool void finished without error.", s.Run(context.Background(), Request{ToolName: "void", CallID: "2", ArgsJSON: args}).ResultJSON)
	require.JSONEq(t, `{"count":3}`, s.Run(context.Background(), Request{ToolName: "struct", CallID: "3", ArgsJSON: args}).ResultJSON)
}

func TestSetRunUnknownTool(t *testing.T) {
	s := NewSet()
	resp := s.Run(context.Background(), Request{ToolName: "missing", CallID: "1", ArgsJSON: `{}`})
	require.Contains(t, resp.ErrorText, "unknown tool")
}

func TestSetRunReportsToolErrorAsErrorText(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.Register(NewFunc(echoSpec("fail"), func(ctx context.Context, argsJSON string) (any, error) {
		return nil, errors.New("boom")
	})))
	resp := s.Run(context.Background(), Request{ToolName: "fail", CallID: "1", ArgsJSON: `{"query":"x"}`})
	require.Equal(t, "boom", resp.ErrorText)
}

func TestSetRunEnforcesPerCallTimeout(t *testing.T) {
	s := NewSet()
	slow := NewFunc(echoSpec("slow"), func(ctx context.Context, argsJSON string) (any, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return "too slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}).WithTimeoutMS(10)
	require.NoError(t, s.Register(slow))

	resp := s.Run(context.Background(), Request{ToolName: "slow", CallID: "1", ArgsJSON: `{"query":"x"}`})
	require.Equal(t, context.DeadlineExceeded.Error(), resp.ErrorText)
}

func TestSetFilterAppliesAllowList(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.Register(NewFunc(echoSpec("search"), func(ctx context.Context, argsJSON string) (any, error) { return "ok", nil })))
	require.NoError(t, s.Register(NewFunc(echoSpec(NamespacedMCPIdent("files", "read")), func(ctx context.Context, argsJSON string) (any, error) { return "ok", nil })))
	require.NoError(t, s.Register(NewFunc(echoSpec(NamespacedMCPIdent("files", "write")), func(ctx context.Context, argsJSON string) (any, error) { return "ok", nil })))

	filtered := s.Filter(map[string][]string{
		"search": {},
		"files":  {"read"},
	}, Unqualify)

	specs := filtered.Specs()
	require.Len(t, specs, 2)
	names := []string{string(specs[0].Name), string(specs[1].Name)}
	require.Contains(t, names, "search")
	require.Contains(t, names, "mcp__files__read")
}

type killCounter struct {
	*Func
	killed int
}

func (k *killCounter) Kill(ctx context.Context) error {
	k.killed++
	return nil
}

func TestSetKillSweepsKillableTools(t *testing.T) {
	s := NewSet()
	kc := &killCounter{Func: NewFunc(echoSpec("mcp__files__read"), func(ctx context.Context, argsJSON string) (any, error) { return "ok", nil })}
	require.NoError(t, s.Register(kc))

	require.NoError(t, s.Kill(context.Background()))
	require.Equal(t, 1, kc.killed)
}
