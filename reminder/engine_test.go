package reminder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codayhq/coday/model"
)

func TestEngineAddAndSnapshot(t *testing.T) {
	e := NewEngine()
	const runID = "run-1"

	e.Add(runID, Reminder{ID: "r1", Text: "first", Priority: TierGuidance})
	e.Add(runID, Reminder{ID: "r2", Text: "second", Priority: TierSafety})

	rems := e.Snapshot(runID)
	require.Len(t, rems, 2)
	require.Equal(t, "r2", rems[0].ID, "safety reminder sorts first")
	require.Equal(t, "r1", rems[1].ID)
}

func TestEngineIgnoresInvalidAdds(t *testing.T) {
	e := NewEngine()
	e.Add("", Reminder{ID: "r", Text: "t"})
	e.Add("run", Reminder{Text: "no id"})
	e.Add("run", Reminder{ID: "no text"})
	require.Nil(t, e.Snapshot("run"))
}

func TestEngineRateLimitingAndCaps(t *testing.T) {
	e := NewEngine()
	const runID = "run-2"

	e.Add(runID, Reminder{
		ID:              "limited",
		Text:            "limited",
		Priority:        TierGuidance,
		MaxPerRun:       1,
		MinTurnsBetween: 2,
	})

	require.Len(t, e.Snapshot(runID), 1, "first call emits")
	require.Empty(t, e.Snapshot(runID), "rate limit suppresses second call")
	require.Empty(t, e.Snapshot(runID))
	require.Empty(t, e.Snapshot(runID), "MaxPerRun exhausted")
}

func TestEngineMinTurnsBetween(t *testing.T) {
	e := NewEngine()
	const runID = "run-3"

	e.Add(runID, Reminder{ID: "spaced", Text: "spaced", MinTurnsBetween: 1})

	require.Len(t, e.Snapshot(runID), 1) // turn 1
	require.Empty(t, e.Snapshot(runID))  // turn 2: too soon
	require.Len(t, e.Snapshot(runID), 1) // turn 3: allowed again
}

func TestEngineUpdatePreservesCounters(t *testing.T) {
	e := NewEngine()
	const runID = "run-4"

	e.Add(runID, Reminder{ID: "r", Text: "v1", MaxPerRun: 1})
	require.Len(t, e.Snapshot(runID), 1)

	e.Add(runID, Reminder{ID: "r", Text: "v2", MaxPerRun: 1})
	require.Empty(t, e.Snapshot(runID), "emission counter survives the update")
}

func TestEngineRemoveAndClearRun(t *testing.T) {
	e := NewEngine()
	e.Add("run", Reminder{ID: "a", Text: "a"})
	e.Add("run", Reminder{ID: "b", Text: "b"})

	e.Remove("run", "a")
	rems := e.Snapshot("run")
	require.Len(t, rems, 1)
	require.Equal(t, "b", rems[0].ID)

	e.ClearRun("run")
	require.Nil(t, e.Snapshot("run"))
}

func TestInjectRunStartAppendsToSystem(t *testing.T) {
	req := model.Request{
		System:   "base prompt",
		Messages: []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}}},
	}
	out := Inject(req, []Reminder{{
		ID: "r", Text: "stay safe",
		Attachment: Attachment{Kind: AttachmentRunStart},
	}})

	require.Contains(t, out.System, "base prompt")
	require.Contains(t, out.System, "<system-reminder>stay safe</system-reminder>")
	require.Len(t, out.Messages, 1, "run-start reminders never add messages")
}

func TestInjectUserTurnInsertsBeforeLastUser(t *testing.T) {
	req := model.Request{
		Messages: []model.Message{
			{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "first"}}},
			{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: "ok"}}},
			{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "second"}}},
		},
	}
	out := Inject(req, []Reminder{{
		ID: "r", Text: "note",
		Attachment: Attachment{Kind: AttachmentUserTurn},
	}})

	require.Len(t, out.Messages, 4)
	require.Equal(t, model.RoleSystem, out.Messages[2].Role)
	require.Equal(t, model.RoleUser, out.Messages[3].Role)
	require.Len(t, req.Messages, 3, "input request untouched")
}

func TestInjectUserTurnSkipsToolResultContinuation(t *testing.T) {
	req := model.Request{
		Messages: []model.Message{
			{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "do it"}}},
			{Role: model.RoleAssistant, Parts: []model.Part{model.ToolUsePart{CallID: "c1", Name: "search"}}},
			{Role: model.RoleUser, Parts: []model.Part{model.ToolResultPart{CallID: "c1", Content: "found"}}},
		},
	}
	out := Inject(req, []Reminder{{
		ID: "r", Text: "note",
		Attachment: Attachment{Kind: AttachmentUserTurn},
	}})

	require.Len(t, out.Messages, 4)
	// The tool_use/tool_result pair stays adjacent; the reminder lands after.
	require.Equal(t, model.RoleSystem, out.Messages[3].Role)
}

func TestInjectNoUserMessageAppendsTrailing(t *testing.T) {
	req := model.Request{
		Messages: []model.Message{{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: "ok"}}}},
	}
	out := Inject(req, []Reminder{{ID: "r", Text: "note", Attachment: Attachment{Kind: AttachmentUserTurn}}})
	require.Len(t, out.Messages, 2)
	require.Equal(t, model.RoleSystem, out.Messages[1].Role)
}

func TestInjectPreservesExistingTag(t *testing.T) {
	req := model.Request{System: "s"}
	out := Inject(req, []Reminder{{
		ID: "r", Text: "<system-reminder>already wrapped</system-reminder>",
		Attachment: Attachment{Kind: AttachmentRunStart},
	}})
	require.Equal(t, 1, countOccurrences(out.System, "<system-reminder>"))
}

func countOccurrences(s, sub string) int {
	n := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			n++
		}
	}
	return n
}
