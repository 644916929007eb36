package runloop

import (
	"encoding/json"

	"github.com/codayhq/coday/model"
	"github.com/codayhq/coday/thread"
)

// buildMessages flattens a Thread's entry log into the Message sequence a
// ModelClient expects. Consecutive ToolRequestEntry entries following an
// assistant message are folded into that message as ToolUsePart blocks;
// consecutive ToolResponseEntry entries are folded into a single user
// message as ToolResultPart blocks, matching how Anthropic/OpenAI/Bedrock
// all expect tool use and tool results to be colocated with their
// surrounding turn rather than standing alone.
func buildMessages(entries []thread.Entry) []model.Message {
	var msgs []model.Message
	lastKind := ""
	for _, e := range entries {
		switch v := e.(type) {
		case *thread.UserMessageEntry:
			msgs = append(msgs, model.Message{Role: model.RoleUser, Parts: contentToParts(v.Content)})
			lastKind = "user"
		case *thread.AgentMessageEntry:
			msgs = append(msgs, model.Message{Role: model.RoleAssistant, Parts: contentToParts(v.Content)})
			lastKind = "assistant"
		case *thread.ToolRequestEntry:
			part := model.ToolUsePart{CallID: v.CallID, Name: v.ToolName, Input: decodeArgs(v.ArgsJSON)}
			if lastKind == "assistant" && len(msgs) > 0 {
				msgs[len(msgs)-1].Parts = append(msgs[len(msgs)-1].Parts, part)
			} else {
				msgs = append(msgs, model.Message{Role: model.RoleAssistant, Parts: []model.Part{part}})
				lastKind = "assistant"
			}
		case *thread.ToolResponseEntry:
			content := v.ResultJSON
			isErr := v.ErrorText != ""
			if isErr {
				content = v.ErrorText
			}
			part := model.ToolResultPart{CallID: v.CallID, Content: content, IsError: isErr}
			if lastKind == "toolresult" && len(msgs) > 0 {
				msgs[len(msgs)-1].Parts = append(msgs[len(msgs)-1].Parts, part)
			} else {
				msgs = append(msgs, model.Message{Role: model.RoleUser, Parts: []model.Part{part}})
				lastKind = "toolresult"
			}
		}
	}
	return msgs
}

func contentToParts(cps []thread.ContentPart) []model.Part {
	parts := make([]model.Part, 0, len(cps))
	for _, cp := range cps {
		switch cp.Kind {
		case thread.ContentText:
			if cp.Text != "" {
				parts = append(parts, model.TextPart{Text: cp.Text})
			}
		case thread.ContentImage:
			parts = append(parts, model.ImagePart{MimeType: cp.MimeType, Bytes: cp.Bytes})
		}
	}
	return parts
}

func decodeArgs(argsJSON string) any {
	if argsJSON == "" {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal([]byte(argsJSON), &v); err != nil {
		return map[string]any{}
	}
	return v
}
