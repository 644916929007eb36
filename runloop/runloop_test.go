package runloop

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codayhq/coday/event"
	"github.com/codayhq/coday/model"
	"github.com/codayhq/coday/reminder"
	"github.com/codayhq/coday/thread"
	"github.com/codayhq/coday/tool"
)

type fakeAgent struct {
	name   string
	system string
	client model.Client
	tools  *tool.Set
}

func (a *fakeAgent) Name() string              { return a.name }
func (a *fakeAgent) SystemPrompt() string       { return a.system }
func (a *fakeAgent) ModelClient() model.Client  { return a.client }
func (a *fakeAgent) Tools() *tool.Set           { return a.tools }

type scriptedStreamer struct {
	chunks []model.Chunk
	i      int
}

func (s *scriptedStreamer) Recv(ctx context.Context) (model.Chunk, error) {
	if s.i >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}
func (s *scriptedStreamer) Close() error { return nil }

type scriptedClient struct {
	turns [][]model.Chunk
	i     int
}

func (c *scriptedClient) Complete(ctx context.Context, req model.Request) (model.Streamer, error) {
	// The auto-naming call after the scripted conversation ends takes the
	// fallback-name path.
	if c.i >= len(c.turns) {
		return nil, errors.New("no scripted turns remain")
	}
	turn := c.turns[c.i]
	c.i++
	return &scriptedStreamer{chunks: turn}, nil
}

func newBus(sessionID string, ids *event.Generator) *event.Bus {
	return event.NewBus(sessionID, ids, nil, nil)
}

func TestRunLoop_SimpleAnswer(t *testing.T) {
	ids := event.NewGenerator()
	sessionID := "s1"
	bus := newBus(sessionID, ids)
	defer bus.Close()

	th := thread.New("t1")
	userEvt := event.NewMessage(ids, sessionID, "", event.RoleUser, "user", []event.ContentPart{{Type: "text", Text: "What is 2+2?"}})
	_, err := th.AppendUserMessage("user", []thread.ContentPart{{Kind: thread.ContentText, Text: "What is 2+2?"}})
	require.NoError(t, err)

	client := &scriptedClient{turns: [][]model.Chunk{
		{
			{Type: model.ChunkTypeText, TextDelta: "4"},
			{Type: model.ChunkTypeEnd, FinishReason: "stop"},
		},
	}}

	agent := &fakeAgent{name: "coday", system: "be helpful", client: client, tools: tool.NewSet()}
	depth := 1
	loop := New(agent, th, bus, ids, sessionID, &depth, Options{})

	res, err := loop.Run(context.Background(), userEvt.ID())
	require.NoError(t, err)
	require.Equal(t, "4", res.FinalText)
	require.False(t, res.Interrupted)

	entries := th.GetAll()
	require.Len(t, entries, 2)
	require.Equal(t, thread.EntryAgentMessage, entries[1].Kind())
}

func TestRunLoop_ToolUse(t *testing.T) {
	ids := event.NewGenerator()
	sessionID := "s2"
	bus := newBus(sessionID, ids)
	defer bus.Close()

	th := thread.New("t2")
	userEvt := event.NewMessage(ids, sessionID, "", event.RoleUser, "user", nil)
	_, err := th.AppendUserMessage("user", []thread.ContentPart{{Kind: thread.ContentText, Text: "read it"}})
	require.NoError(t, err)

	ts := tool.NewSet()
	require.NoError(t, ts.Register(tool.NewFunc(tool.Spec{Name: "readFile"}, func(ctx context.Context, argsJSON string) (any, error) {
		return "<file bytes>", nil
	})))

	client := &scriptedClient{turns: [][]model.Chunk{
		{
			{Type: model.ChunkTypeToolRequest, ToolCall: &model.ToolCall{CallID: "c1", ToolName: "readFile", ArgsJSON: "{}"}},
			{Type: model.ChunkTypeEnd},
		},
		{
			{Type: model.ChunkTypeText, TextDelta: "summary"},
			{Type: model.ChunkTypeEnd},
		},
	}}

	agent := &fakeAgent{name: "coday", client: client, tools: ts}
	depth := 1
	loop := New(agent, th, bus, ids, sessionID, &depth, Options{})

	res, err := loop.Run(context.Background(), userEvt.ID())
	require.NoError(t, err)
	require.Equal(t, "summary", res.FinalText)

	entries := th.GetAll()
	require.Len(t, entries, 4)
	reqEntry := entries[1].(*thread.ToolRequestEntry)
	respEntry := entries[2].(*thread.ToolResponseEntry)
	require.Equal(t, reqEntry.CallID, respEntry.CallID)
	require.Equal(t, "<file bytes>", respEntry.ResultJSON)
}

func TestRunLoop_IterationCapExhausted(t *testing.T) {
	ids := event.NewGenerator()
	sessionID := "s3"
	bus := newBus(sessionID, ids)
	defer bus.Close()

	th := thread.New("t3")
	userEvt := event.NewMessage(ids, sessionID, "", event.RoleUser, "user", nil)
	_, err := th.AppendUserMessage("user", []thread.ContentPart{{Kind: thread.ContentText, Text: "loop forever"}})
	require.NoError(t, err)

	ts := tool.NewSet()
	require.NoError(t, ts.Register(tool.NewFunc(tool.Spec{Name: "noop"}, func(ctx context.Context, argsJSON string) (any, error) {
		return "ok", nil
	})))

	turns := make([][]model.Chunk, 3)
	for i := range turns {
		turns[i] = []model.Chunk{
			{Type: model.ChunkTypeToolRequest, ToolCall: &model.ToolCall{CallID: "c", ToolName: "noop", ArgsJSON: "{}"}},
			{Type: model.ChunkTypeEnd},
		}
	}
	client := &scriptedClient{turns: turns}
	agent := &fakeAgent{name: "coday", client: client, tools: ts}
	depth := 1
	loop := New(agent, th, bus, ids, sessionID, &depth, Options{IterationCap: 3})

	res, err := loop.Run(context.Background(), userEvt.ID())
	require.NoError(t, err)
	require.Equal(t, "Tool-use budget exhausted.", res.FinalText)
}

type capturingClient struct {
	scriptedClient
	requests []model.Request
}

func (c *capturingClient) Complete(ctx context.Context, req model.Request) (model.Streamer, error) {
	c.requests = append(c.requests, req)
	return c.scriptedClient.Complete(ctx, req)
}

func TestRunLoop_InjectsBudgetReminder(t *testing.T) {
	ids := event.NewGenerator()
	sessionID := "s-rem"
	bus := newBus(sessionID, ids)
	defer bus.Close()

	th := thread.New("t-rem")
	th.SetName("already named") // keep auto-naming from adding a fourth model call
	userEvt := event.NewMessage(ids, sessionID, "", event.RoleUser, "user", []event.ContentPart{{Type: "text", Text: "go"}})
	_, err := th.AppendUserMessage("user", []thread.ContentPart{{Kind: thread.ContentText, Text: "go"}})
	require.NoError(t, err)

	ts := tool.NewSet()
	require.NoError(t, ts.Register(tool.NewFunc(tool.Spec{Name: "noop"}, func(ctx context.Context, argsJSON string) (any, error) {
		return "ok", nil
	})))

	// Two tool-using iterations, then a final answer on the third. With
	// IterationCap=3 the budget reminder lands before the second model call.
	turns := [][]model.Chunk{
		{
			{Type: model.ChunkTypeToolRequest, ToolCall: &model.ToolCall{CallID: "c1", ToolName: "noop", ArgsJSON: "{}"}},
			{Type: model.ChunkTypeEnd},
		},
		{
			{Type: model.ChunkTypeToolRequest, ToolCall: &model.ToolCall{CallID: "c2", ToolName: "noop", ArgsJSON: "{}"}},
			{Type: model.ChunkTypeEnd},
		},
		{
			{Type: model.ChunkTypeText, TextDelta: "done"},
			{Type: model.ChunkTypeEnd, FinishReason: "stop"},
		},
	}
	client := &capturingClient{scriptedClient: scriptedClient{turns: turns}}
	agent := &fakeAgent{name: "coday", client: client, tools: ts}
	depth := 1
	loop := New(agent, th, bus, ids, sessionID, &depth, Options{IterationCap: 3, Reminders: reminder.NewEngine()})

	res, err := loop.Run(context.Background(), userEvt.ID())
	require.NoError(t, err)
	require.Equal(t, "done", res.FinalText)
	require.Len(t, client.requests, 3)

	require.NotContains(t, requestText(client.requests[0]), "iteration remains")
	require.Contains(t, requestText(client.requests[1]), "Only one tool-use iteration remains")
	// MaxPerRun=1: the reminder does not repeat on the final call.
	require.NotContains(t, requestText(client.requests[2]), "iteration remains")
}

func requestText(req model.Request) string {
	out := req.System
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			if tp, ok := p.(model.TextPart); ok {
				out += "\n" + tp.Text
			}
		}
	}
	return out
}
