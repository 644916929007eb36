// Package event defines the per-session event model and the fan-out bus that
// delivers events to subscribers. Every observable action in the engine -
// a user message, a token of assistant text, a tool call, an operator answer
// to an Invite - is published as an Event and carried to clients over a
// long-lived, JSON-serialised stream.
package event

import (
	"encoding/json"
	"time"
)

// Kind identifies the shape of an Event's kind-specific fields.
type Kind string

const (
	KindMessage         Kind = "message"
	KindText            Kind = "text"
	KindAnswer          Kind = "answer"
	KindInvite          Kind = "invite"
	KindChoice          Kind = "choice"
	KindToolRequest     Kind = "tool_request"
	KindToolResponse    Kind = "tool_response"
	KindThinking        Kind = "thinking"
	KindWarn            Kind = "warn"
	KindError           Kind = "error"
	KindProjectSelected Kind = "project_selected"
	KindThreadSelected  Kind = "thread_selected"
	KindFile            Kind = "file"
	KindHeartbeat       Kind = "heartbeat"
)

// Role identifies the speaker of a Message event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// FileOperation describes what happened to a file surfaced by a File event.
type FileOperation string

const (
	FileCreated FileOperation = "created"
	FileUpdated FileOperation = "updated"
	FileDeleted FileOperation = "deleted"
)

type (
	// Event is the interface implemented by every concrete event type. The bus
	// publishes events through this interface; subscribers type-switch on Kind
	// or on the concrete type to reach kind-specific fields.
	Event interface {
		// ID returns the event's monotonic, lexicographically sortable
		// identifier. IDs are unique and strictly increasing within a session.
		ID() string
		// ParentID returns the id of the causing event, or "" for a root event.
		ParentID() string
		// Kind returns the event kind discriminator.
		Kind() Kind
		// Timestamp returns when the event was constructed.
		Timestamp() time.Time
		// SessionID returns the session that owns this event.
		SessionID() string
	}

	// base holds the fields common to every event kind. It is embedded by
	// value in each concrete event type so encoding/json flattens it into the
	// kind-specific fields, matching the wire shape clients expect: id,
	// parentId, kind, timestamp plus kind-specific fields at the top level.
	base struct {
		EventID     string    `json:"id"`
		EventParent string    `json:"parentId,omitempty"`
		EventKind   Kind      `json:"kind"`
		EventTime   time.Time `json:"timestamp"`
		EventSess   string    `json:"sessionId"`
	}

	// ContentPart is one part of a Message's content: either a text part or
	// an image part, discriminated by Type.
	ContentPart struct {
		Type string `json:"type"` // "text" or "image"
		Text string `json:"text,omitempty"`
		// URL or data URI for image parts.
		ImageURL string `json:"imageUrl,omitempty"`
	}

	// MessageEvent carries a complete, non-incremental message: a user
	// submission, or an assistant/system message recorded for the thread.
	MessageEvent struct {
		base
		Role        Role          `json:"role"`
		SpeakerName string        `json:"speakerName"`
		Content     []ContentPart `json:"content"`
	}

	// TextEvent carries an incremental chunk of assistant text. A run emits
	// many TextEvents sharing a parentId as the model streams its response.
	TextEvent struct {
		base
		Speaker string `json:"speaker,omitempty"`
		Text    string `json:"text"`
	}

	// AnswerEvent carries a client's answer to a pending Invite. ParentID
	// MUST equal the id of the InviteEvent being answered.
	AnswerEvent struct {
		base
		Answer string `json:"answer"`
	}

	// InviteEvent asks the client an open-ended question. The client's next
	// Answer event must reference this event's id as ParentID.
	InviteEvent struct {
		base
		Invite       string `json:"invite"`
		DefaultValue string `json:"defaultValue,omitempty"`
	}

	// ChoiceEvent asks the client to pick among a fixed set of options.
	ChoiceEvent struct {
		base
		Invite           string   `json:"invite"`
		Options          []string `json:"options"`
		OptionalQuestion string   `json:"optionalQuestion,omitempty"`
	}

	// ToolRequestEvent announces a tool invocation about to run.
	ToolRequestEvent struct {
		base
		ToolName string `json:"toolName"`
		CallID   string `json:"callId"`
		ArgsJSON string `json:"argsJson"`
	}

	// ToolResponseEvent carries a tool's result. ParentID MUST equal the id
	// of the originating ToolRequestEvent.
	ToolResponseEvent struct {
		base
		CallID string `json:"callId"`
		Output string `json:"output"`
	}

	// ThinkingEvent signals that the agent is producing reasoning content not
	// meant for direct display; it carries no payload beyond the envelope.
	ThinkingEvent struct {
		base
	}

	// WarnEvent surfaces a non-fatal problem to the client.
	WarnEvent struct {
		base
		Message string `json:"message"`
	}

	// ErrorEvent surfaces a fatal or turn-ending problem to the client.
	ErrorEvent struct {
		base
		Message string `json:"message"`
	}

	// ProjectSelectedEvent announces that the session's current project changed.
	ProjectSelectedEvent struct {
		base
		ProjectName string `json:"projectName"`
	}

	// ThreadSelectedEvent announces that the session's current thread changed.
	ThreadSelectedEvent struct {
		base
		ThreadID   string `json:"threadId"`
		ThreadName string `json:"threadName"`
	}

	// FileEvent announces a file system side effect of a tool invocation.
	FileEvent struct {
		base
		Filename  string        `json:"filename"`
		Operation FileOperation `json:"operation"`
		Size      int64         `json:"size,omitempty"`
	}

	// HeartbeatEvent keeps long-lived transports alive; no payload.
	HeartbeatEvent struct {
		base
	}
)

func (b base) ID() string          { return b.EventID }
func (b base) ParentID() string    { return b.EventParent }
func (b base) Kind() Kind          { return b.EventKind }
func (b base) Timestamp() time.Time { return b.EventTime }
func (b base) SessionID() string   { return b.EventSess }

func newBase(id *Generator, sessionID string, kind Kind, parentID string) base {
	return base{
		EventID:     id.Next(),
		EventParent: parentID,
		EventKind:   kind,
		EventTime:   time.Now(),
		EventSess:   sessionID,
	}
}

// NewMessage constructs a MessageEvent. parentID may be "" for a root message.
func NewMessage(id *Generator, sessionID, parentID string, role Role, speakerName string, content []ContentPart) *MessageEvent {
	return &MessageEvent{
		base:        newBase(id, sessionID, KindMessage, parentID),
		Role:        role,
		SpeakerName: speakerName,
		Content:     content,
	}
}

// NewText constructs a TextEvent. parentID typically links back to the
// MessageEvent or run that produced this incremental chunk.
func NewText(id *Generator, sessionID, parentID, speaker, text string) *TextEvent {
	return &TextEvent{
		base:    newBase(id, sessionID, KindText, parentID),
		Speaker: speaker,
		Text:    text,
	}
}

// NewAnswer constructs an AnswerEvent responding to the Invite identified by
// inviteID.
func NewAnswer(id *Generator, sessionID, inviteID, answer string) *AnswerEvent {
	return &AnswerEvent{
		base:   newBase(id, sessionID, KindAnswer, inviteID),
		Answer: answer,
	}
}

// NewInvite constructs an InviteEvent. parentID may be "" for a root invite.
func NewInvite(id *Generator, sessionID, parentID, invite, defaultValue string) *InviteEvent {
	return &InviteEvent{
		base:         newBase(id, sessionID, KindInvite, parentID),
		Invite:       invite,
		DefaultValue: defaultValue,
	}
}

// NewChoice constructs a ChoiceEvent offering the client a fixed set of options.
func NewChoice(id *Generator, sessionID, parentID, invite string, options []string, optionalQuestion string) *ChoiceEvent {
	return &ChoiceEvent{
		base:             newBase(id, sessionID, KindChoice, parentID),
		Invite:           invite,
		Options:          append([]string(nil), options...),
		OptionalQuestion: optionalQuestion,
	}
}

// NewToolRequest constructs a ToolRequestEvent.
func NewToolRequest(id *Generator, sessionID, parentID, toolName, callID, argsJSON string) *ToolRequestEvent {
	return &ToolRequestEvent{
		base:     newBase(id, sessionID, KindToolRequest, parentID),
		ToolName: toolName,
		CallID:   callID,
		ArgsJSON: argsJSON,
	}
}

// NewToolResponse constructs a ToolResponseEvent. requestID must be the id of
// the originating ToolRequestEvent.
func NewToolResponse(id *Generator, sessionID, requestID, callID, output string) *ToolResponseEvent {
	return &ToolResponseEvent{
		base:   newBase(id, sessionID, KindToolResponse, requestID),
		CallID: callID,
		Output: output,
	}
}

// NewThinking constructs a ThinkingEvent.
func NewThinking(id *Generator, sessionID, parentID string) *ThinkingEvent {
	return &ThinkingEvent{base: newBase(id, sessionID, KindThinking, parentID)}
}

// NewWarn constructs a WarnEvent.
func NewWarn(id *Generator, sessionID, parentID, message string) *WarnEvent {
	return &WarnEvent{base: newBase(id, sessionID, KindWarn, parentID), Message: message}
}

// NewError constructs an ErrorEvent.
func NewError(id *Generator, sessionID, parentID, message string) *ErrorEvent {
	return &ErrorEvent{base: newBase(id, sessionID, KindError, parentID), Message: message}
}

// NewProjectSelected constructs a ProjectSelectedEvent.
func NewProjectSelected(id *Generator, sessionID, projectName string) *ProjectSelectedEvent {
	return &ProjectSelectedEvent{base: newBase(id, sessionID, KindProjectSelected, ""), ProjectName: projectName}
}

// NewThreadSelected constructs a ThreadSelectedEvent.
func NewThreadSelected(id *Generator, sessionID, threadID, threadName string) *ThreadSelectedEvent {
	return &ThreadSelectedEvent{base: newBase(id, sessionID, KindThreadSelected, ""), ThreadID: threadID, ThreadName: threadName}
}

// NewFile constructs a FileEvent.
func NewFile(id *Generator, sessionID, parentID, filename string, op FileOperation, size int64) *FileEvent {
	return &FileEvent{base: newBase(id, sessionID, KindFile, parentID), Filename: filename, Operation: op, Size: size}
}

// NewHeartbeat constructs a HeartbeatEvent.
func NewHeartbeat(id *Generator, sessionID string) *HeartbeatEvent {
	return &HeartbeatEvent{base: newBase(id, sessionID, KindHeartbeat, "")}
}

// Marshal serialises an Event to its wire JSON form. Concrete event types
// flatten their base envelope fields alongside kind-specific fields because
// base is embedded by value with its own json tags.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}
