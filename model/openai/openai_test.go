package openai

import (
	"context"
	"io"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"github.com/codayhq/coday/model"
)

type fakeDecoder struct {
	events []ssestream.Event
	i      int
	cur    ssestream.Event
}

func (d *fakeDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.cur = d.events[d.i]
	d.i++
	return true
}

func (d *fakeDecoder) Event() ssestream.Event { return d.cur }
func (d *fakeDecoder) Close() error           { return nil }
func (d *fakeDecoder) Err() error             { return nil }

type fakeChat struct {
	events     []ssestream.Event
	lastParams openai.ChatCompletionNewParams
}

func (f *fakeChat) NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk] {
	f.lastParams = body
	return ssestream.NewStream[openai.ChatCompletionChunk](&fakeDecoder{events: f.events}, nil)
}

func data(json string) ssestream.Event {
	return ssestream.Event{Data: []byte(json)}
}

func userReq(text string) model.Request {
	return model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: text}}}},
	}
}

func drain(t *testing.T, s model.Streamer) []model.Chunk {
	t.Helper()
	var out []model.Chunk
	for {
		c, err := s.Recv(context.Background())
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			return out
		}
		out = append(out, c)
	}
}

func TestStreamerTextAndFinish(t *testing.T) {
	fake := &fakeChat{events: []ssestream.Event{
		data(`{"choices":[{"delta":{"content":"Hel"}}]}`),
		data(`{"choices":[{"delta":{"content":"lo"}}]}`),
		data(`{"choices":[{"delta":{},"finish_reason":"stop"}]}`),
	}}
	c, err := New(fake, "gpt-4o", 1024)
	require.NoError(t, err)

	stream, err := c.Complete(context.Background(), userReq("hi"))
	require.NoError(t, err)
	defer stream.Close()

	chunks := drain(t, stream)
	require.Len(t, chunks, 3)
	require.Equal(t, "Hel", chunks[0].TextDelta)
	require.Equal(t, "lo", chunks[1].TextDelta)
	require.Equal(t, model.ChunkTypeEnd, chunks[2].Type)
	require.Equal(t, "stop", chunks[2].FinishReason)
}

// TestStreamerConcurrentToolCalls exercises two tool calls whose argument
// fragments interleave across chunks, each identified by its tool_calls
// index. Every call must accumulate its own arguments only.
func TestStreamerConcurrentToolCalls(t *testing.T) {
	fake := &fakeChat{events: []ssestream.Event{
		data(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"search","arguments":"{\"query\":"}}]}}]}`),
		data(`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"read_pdf","arguments":"{\"path\":\"a.pdf\"}"}}]}}]}`),
		data(`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"news\"}"}}]}}]}`),
		data(`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`),
	}}
	c, err := New(fake, "gpt-4o", 1024)
	require.NoError(t, err)

	stream, err := c.Complete(context.Background(), userReq("go"))
	require.NoError(t, err)
	defer stream.Close()

	chunks := drain(t, stream)
	byID := map[string]*model.ToolCall{}
	for _, ch := range chunks {
		if ch.Type == model.ChunkTypeToolRequest {
			byID[ch.ToolCall.CallID] = ch.ToolCall
		}
	}
	require.Len(t, byID, 2)
	require.Equal(t, "search", byID["call_a"].ToolName)
	require.JSONEq(t, `{"query":"news"}`, byID["call_a"].ArgsJSON)
	require.Equal(t, "read_pdf", byID["call_b"].ToolName)
	require.JSONEq(t, `{"path":"a.pdf"}`, byID["call_b"].ArgsJSON)

	last := chunks[len(chunks)-1]
	require.Equal(t, model.ChunkTypeEnd, last.Type)
	require.Equal(t, "tool_calls", last.FinishReason)
}

func TestEncodeMessageAssistantToolCalls(t *testing.T) {
	out, err := encodeMessage(model.Message{
		Role: model.RoleAssistant,
		Parts: []model.Part{
			model.TextPart{Text: "let me check"},
			model.ToolUsePart{CallID: "call_a", Name: "search", Input: map[string]any{"query": "news"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	asst := out[0].OfAssistant
	require.NotNil(t, asst)
	require.Len(t, asst.ToolCalls, 1)
	require.Equal(t, "call_a", asst.ToolCalls[0].ID)
	require.Equal(t, "search", asst.ToolCalls[0].Function.Name)
	require.JSONEq(t, `{"query":"news"}`, asst.ToolCalls[0].Function.Arguments)
}

func TestEncodeMessageToolResultsFanOut(t *testing.T) {
	out, err := encodeMessage(model.Message{
		Role: model.RoleUser,
		Parts: []model.Part{
			model.ToolResultPart{CallID: "call_a", Content: "found it"},
			model.ToolResultPart{CallID: "call_b", Content: "read it"},
		},
	})
	require.NoError(t, err)
	require.Len(t, out, 2, "one tool message per result, no user message for empty text")
	require.NotNil(t, out[0].OfTool)
	require.Equal(t, "call_a", out[0].OfTool.ToolCallID)
	require.NotNil(t, out[1].OfTool)
	require.Equal(t, "call_b", out[1].OfTool.ToolCallID)
}

func TestEncodeMessageSystemRole(t *testing.T) {
	out, err := encodeMessage(model.Message{
		Role:  model.RoleSystem,
		Parts: []model.Part{model.TextPart{Text: "<system-reminder>note</system-reminder>"}},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].OfSystem)
}

func TestBuildParamsRoundTripsHistory(t *testing.T) {
	fake := &fakeChat{events: []ssestream.Event{
		data(`{"choices":[{"delta":{},"finish_reason":"stop"}]}`),
	}}
	c, err := New(fake, "gpt-4o", 2048)
	require.NoError(t, err)

	req := model.Request{
		System: "be helpful",
		Messages: []model.Message{
			{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "read it"}}},
			{Role: model.RoleAssistant, Parts: []model.Part{
				model.ToolUsePart{CallID: "call_a", Name: "read_pdf", Input: map[string]any{"path": "a.pdf"}},
			}},
			{Role: model.RoleUser, Parts: []model.Part{
				model.ToolResultPart{CallID: "call_a", Content: "contents"},
			}},
		},
	}
	stream, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	defer stream.Close()

	msgs := fake.lastParams.Messages
	require.Len(t, msgs, 4) // system + user + assistant(tool_calls) + tool
	require.NotNil(t, msgs[0].OfSystem)
	require.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	require.NotNil(t, msgs[3].OfTool)
	require.Equal(t, "call_a", msgs[3].OfTool.ToolCallID)
}
