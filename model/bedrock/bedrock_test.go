package bedrock

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/codayhq/coday/model"
)

func int32p(v int32) *int32 { return &v }
func strp(v string) *string { return &v }

func newTestStreamer() *streamer {
	return &streamer{toolByIndex: make(map[int32]*toolAccum)}
}

func blockStart(idx int32, id, name string) brtypes.ConverseStreamOutput {
	return &brtypes.ConverseStreamOutputMemberContentBlockStart{Value: brtypes.ContentBlockStartEvent{
		ContentBlockIndex: int32p(idx),
		Start:             &brtypes.ContentBlockStartMemberToolUse{Value: brtypes.ToolUseBlockStart{ToolUseId: strp(id), Name: strp(name)}},
	}}
}

func toolDelta(idx int32, fragment string) brtypes.ConverseStreamOutput {
	return &brtypes.ConverseStreamOutputMemberContentBlockDelta{Value: brtypes.ContentBlockDeltaEvent{
		ContentBlockIndex: int32p(idx),
		Delta:             &brtypes.ContentBlockDeltaMemberToolUse{Value: brtypes.ToolUseBlockDelta{Input: strp(fragment)}},
	}}
}

func blockStop(idx int32) brtypes.ConverseStreamOutput {
	return &brtypes.ConverseStreamOutputMemberContentBlockStop{Value: brtypes.ContentBlockStopEvent{
		ContentBlockIndex: int32p(idx),
	}}
}

func TestHandleTextDelta(t *testing.T) {
	s := newTestStreamer()
	chunk, ok := s.handle(&brtypes.ConverseStreamOutputMemberContentBlockDelta{Value: brtypes.ContentBlockDeltaEvent{
		ContentBlockIndex: int32p(0),
		Delta:             &brtypes.ContentBlockDeltaMemberText{Value: "hello"},
	}})
	require.True(t, ok)
	require.Equal(t, model.ChunkTypeText, chunk.Type)
	require.Equal(t, "hello", chunk.TextDelta)
}

// TestHandleInterleavedToolUseBlocks verifies two concurrent tool_use
// blocks accumulate their input fragments independently by content-block
// index, and each stop event resolves its own block only.
func TestHandleInterleavedToolUseBlocks(t *testing.T) {
	s := newTestStreamer()

	_, ok := s.handle(blockStart(0, "call_a", "search"))
	require.False(t, ok)
	_, ok = s.handle(toolDelta(0, `{"query":`))
	require.False(t, ok)
	_, ok = s.handle(blockStart(1, "call_b", "read_pdf"))
	require.False(t, ok)
	_, ok = s.handle(toolDelta(1, `{"path":"a.pdf"}`))
	require.False(t, ok)
	_, ok = s.handle(toolDelta(0, `"news"}`))
	require.False(t, ok)

	chunk, ok := s.handle(blockStop(1))
	require.True(t, ok)
	require.Equal(t, model.ChunkTypeToolRequest, chunk.Type)
	require.Equal(t, "call_b", chunk.ToolCall.CallID)
	require.Equal(t, "read_pdf", chunk.ToolCall.ToolName)
	require.JSONEq(t, `{"path":"a.pdf"}`, chunk.ToolCall.ArgsJSON)

	chunk, ok = s.handle(blockStop(0))
	require.True(t, ok)
	require.Equal(t, "call_a", chunk.ToolCall.CallID)
	require.Equal(t, "search", chunk.ToolCall.ToolName)
	require.JSONEq(t, `{"query":"news"}`, chunk.ToolCall.ArgsJSON)

	require.Empty(t, s.toolByIndex, "both blocks resolved and released")
}

func TestHandleEmptyToolInputPadsToObject(t *testing.T) {
	s := newTestStreamer()
	s.handle(blockStart(0, "call_a", "ping"))

	chunk, ok := s.handle(blockStop(0))
	require.True(t, ok)
	require.Equal(t, "{}", chunk.ToolCall.ArgsJSON)
}

func TestHandleMessageStop(t *testing.T) {
	s := newTestStreamer()
	chunk, ok := s.handle(&brtypes.ConverseStreamOutputMemberMessageStop{Value: brtypes.MessageStopEvent{
		StopReason: brtypes.StopReasonEndTurn,
	}})
	require.True(t, ok)
	require.Equal(t, model.ChunkTypeEnd, chunk.Type)
	require.Equal(t, string(brtypes.StopReasonEndTurn), chunk.FinishReason)
}

func TestEncodeMessagesRolesAndTools(t *testing.T) {
	msgs, sys, err := encodeMessages([]model.Message{
		{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "read it"}}},
		{Role: model.RoleAssistant, Parts: []model.Part{
			model.ToolUsePart{CallID: "call_a", Name: "read_pdf", Input: map[string]any{"path": "a.pdf"}},
		}},
		{Role: model.RoleUser, Parts: []model.Part{
			model.ToolResultPart{CallID: "call_a", Content: "contents"},
		}},
		{Role: model.RoleSystem, Parts: []model.Part{model.TextPart{Text: "<system-reminder>note</system-reminder>"}}},
	}, "be helpful")
	require.NoError(t, err)

	require.Len(t, sys, 1)
	require.Len(t, msgs, 4)
	require.Equal(t, brtypes.ConversationRoleUser, msgs[0].Role)
	require.Equal(t, brtypes.ConversationRoleAssistant, msgs[1].Role)
	require.Equal(t, brtypes.ConversationRoleUser, msgs[2].Role)
	// Mid-conversation system content rides as a user turn.
	require.Equal(t, brtypes.ConversationRoleUser, msgs[3].Role)

	tu, ok := msgs[1].Content[0].(*brtypes.ContentBlockMemberToolUse)
	require.True(t, ok)
	require.Equal(t, "call_a", *tu.Value.ToolUseId)

	tr, ok := msgs[2].Content[0].(*brtypes.ContentBlockMemberToolResult)
	require.True(t, ok)
	require.Equal(t, brtypes.ToolResultStatusSuccess, tr.Value.Status)
}

func TestEncodeMessagesRejectsEmpty(t *testing.T) {
	_, _, err := encodeMessages(nil, "")
	require.Error(t, err)
}
