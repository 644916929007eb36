package reminder

import (
	"strings"

	"github.com/codayhq/coday/model"
)

// Inject returns a copy of req with the provided reminders injected at
// their attachment points:
//
//   - AttachmentRunStart reminders are grouped into one block appended to
//     the request's system prompt.
//   - All other reminders are grouped into one system-role message inserted
//     immediately before the last user message, or right after it when that
//     message carries tool results. When no user message exists, they are
//     appended as a trailing system message.
//
// Reminders are expected to be pre-ordered by priority (via Engine);
// Inject preserves the relative order it receives. req.Messages is never
// mutated in place.
func Inject(req model.Request, rems []Reminder) model.Request {
	if len(rems) == 0 {
		return req
	}
	var runStart, perTurn []Reminder
	for _, r := range rems {
		if r.Attachment.Kind == AttachmentRunStart {
			runStart = append(runStart, r)
			continue
		}
		perTurn = append(perTurn, r)
	}

	if text := combineText(runStart); text != "" {
		if req.System != "" {
			req.System += "\n\n"
		}
		req.System += text
	}
	if text := combineText(perTurn); text != "" {
		req.Messages = insertBeforeLastUser(req.Messages, model.Message{
			Role:  model.RoleSystem,
			Parts: []model.Part{model.TextPart{Text: text}},
		})
	}
	return req
}

// insertBeforeLastUser places msg just before the last user message. A user
// message whose parts carry tool results is a continuation of the preceding
// assistant tool call, not a user turn, so msg goes after it instead -
// separating the pair breaks providers that require tool_use to be
// immediately followed by its tool_result.
func insertBeforeLastUser(msgs []model.Message, msg model.Message) []model.Message {
	lastUser := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			lastUser = i
			break
		}
	}
	if lastUser == -1 {
		out := append([]model.Message(nil), msgs...)
		return append(out, msg)
	}

	insertAt := lastUser
	if hasToolResult(msgs[lastUser]) {
		insertAt = lastUser + 1
	}
	out := make([]model.Message, 0, len(msgs)+1)
	out = append(out, msgs[:insertAt]...)
	out = append(out, msg)
	out = append(out, msgs[insertAt:]...)
	return out
}

func hasToolResult(msg model.Message) bool {
	for _, p := range msg.Parts {
		if _, ok := p.(model.ToolResultPart); ok {
			return true
		}
	}
	return false
}

func combineText(rems []Reminder) string {
	var out string
	for _, r := range rems {
		t := formatText(r)
		if t == "" {
			continue
		}
		if out == "" {
			out = t
			continue
		}
		out += "\n\n" + t
	}
	return out
}

// formatText wraps the reminder text in a <system-reminder> block when it
// is non-empty and not already tagged.
func formatText(r Reminder) string {
	t := strings.TrimSpace(r.Text)
	if t == "" {
		return ""
	}
	if strings.Contains(t, "<system-reminder>") {
		return t
	}
	return "<system-reminder>" + t + "</system-reminder>"
}
