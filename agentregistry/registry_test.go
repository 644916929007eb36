package agentregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codayhq/coday/agent"
	"github.com/codayhq/coday/event"
	"github.com/codayhq/coday/model"
	"github.com/codayhq/coday/tool"
)

type fakeSource struct {
	defs []agent.Definition
}

func (s *fakeSource) Definitions(ctx context.Context, project string) ([]agent.Definition, error) {
	return s.defs, nil
}

type fakeResolver struct {
	builds int
}

func (r *fakeResolver) Resolve(def agent.Definition) (model.Client, error) {
	r.builds++
	return &fakeClient{}, nil
}

type fakeClient struct{}

func (c *fakeClient) Complete(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, nil
}

func TestRegistry_DiscoveryFirstMatchWins(t *testing.T) {
	src := &fakeSource{defs: []agent.Definition{
		{Name: "Reviewer", Instructions: "first"},
		{Name: "reviewer", Instructions: "second, should be dropped"},
	}}
	resolver := &fakeResolver{}
	ids := event.NewGenerator()
	bus := event.NewBus("s1", ids, nil, nil)
	defer bus.Close()

	reg := New(src, resolver, tool.NewSet(), nil, bus, ids, "s1", Options{})
	require.NoError(t, reg.SetProject(context.Background(), "proj"))

	a, err := reg.FindByName(context.Background(), "REVIEWER")
	require.NoError(t, err)
	require.Equal(t, "first", a.Definition().Instructions)
}

func TestRegistry_FindByName_CachesBuild(t *testing.T) {
	src := &fakeSource{defs: []agent.Definition{{Name: "reviewer"}}}
	resolver := &fakeResolver{}
	ids := event.NewGenerator()
	bus := event.NewBus("s1", ids, nil, nil)
	defer bus.Close()

	reg := New(src, resolver, tool.NewSet(), nil, bus, ids, "s1", Options{})
	require.NoError(t, reg.SetProject(context.Background(), "proj"))

	a1, err := reg.FindByName(context.Background(), "reviewer")
	require.NoError(t, err)
	a2, err := reg.FindByName(context.Background(), "reviewer")
	require.NoError(t, err)
	require.Same(t, a1, a2)
	require.Equal(t, 1, resolver.builds)
}

func TestRegistry_FindByPrefix(t *testing.T) {
	src := &fakeSource{defs: []agent.Definition{{Name: "reviewer"}, {Name: "researcher"}}}
	resolver := &fakeResolver{}
	ids := event.NewGenerator()
	bus := event.NewBus("s1", ids, nil, nil)
	defer bus.Close()

	reg := New(src, resolver, tool.NewSet(), nil, bus, ids, "s1", Options{})
	require.NoError(t, reg.SetProject(context.Background(), "proj"))

	matches, err := reg.FindByPrefix(context.Background(), "re", false)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"reviewer", "researcher"}, matches)
}

func TestRegistry_FindByName_FallsBackToBuiltinCoday(t *testing.T) {
	src := &fakeSource{}
	resolver := &fakeResolver{}
	ids := event.NewGenerator()
	bus := event.NewBus("s1", ids, nil, nil)
	defer bus.Close()

	reg := New(src, resolver, tool.NewSet(), nil, bus, ids, "s1", Options{})
	require.NoError(t, reg.SetProject(context.Background(), "proj"))

	a, err := reg.FindByName(context.Background(), "coday")
	require.NoError(t, err)
	require.Equal(t, "coday", a.Name())
}

type killableTool struct {
	*tool.Func
	killed *bool
}

func (k killableTool) Kill(ctx context.Context) error {
	*k.killed = true
	return nil
}

func TestRegistry_SetProject_KillsOutgoingToolSets(t *testing.T) {
	killed := false
	ts := tool.NewSet()
	require.NoError(t, ts.Register(killableTool{Func: tool.NewFunc(tool.Spec{Name: "noop"}, func(ctx context.Context, argsJSON string) (any, error) {
		return "ok", nil
	}), killed: &killed}))

	src := &fakeSource{defs: []agent.Definition{{Name: "reviewer", Integrations: map[string][]string{"noop": {}}}}}
	resolver := &fakeResolver{}
	ids := event.NewGenerator()
	bus := event.NewBus("s1", ids, nil, nil)
	defer bus.Close()

	reg := New(src, resolver, ts, nil, bus, ids, "s1", Options{})
	require.NoError(t, reg.SetProject(context.Background(), "proj1"))
	_, err := reg.FindByName(context.Background(), "reviewer")
	require.NoError(t, err)

	require.NoError(t, reg.SetProject(context.Background(), "proj2"))
	require.True(t, killed)
}

func TestRegistry_SelectAgent_FallsThroughToCoday(t *testing.T) {
	src := &fakeSource{}
	resolver := &fakeResolver{}
	ids := event.NewGenerator()
	bus := event.NewBus("s1", ids, nil, nil)
	defer bus.Close()

	reg := New(src, resolver, tool.NewSet(), nil, bus, ids, "s1", Options{})
	require.NoError(t, reg.SetProject(context.Background(), "proj"))

	var steps []string
	a, err := reg.SelectAgent(context.Background(), "", "", nil, "proj", func(step string) { steps = append(steps, step) })
	require.NoError(t, err)
	require.Equal(t, "coday", a.Name())
	require.NotEmpty(t, steps)
}
