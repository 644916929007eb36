package thread

import "time"

// ContentKind discriminates a ContentPart's payload.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
)

// ContentPart is one part of an ordered MessageContent sequence.
type ContentPart struct {
	Kind ContentKind `yaml:"kind" json:"kind"`
	// Text holds the part's text when Kind is ContentText.
	Text string `yaml:"text,omitempty" json:"text,omitempty"`
	// MimeType, Bytes, Caption, Width, Height describe an image part when
	// Kind is ContentImage. Bytes are stored base64 by the yaml/json codecs.
	MimeType string `yaml:"mimeType,omitempty" json:"mimeType,omitempty"`
	Bytes    []byte `yaml:"bytes,omitempty" json:"bytes,omitempty"`
	Caption  string `yaml:"caption,omitempty" json:"caption,omitempty"`
	Width    int    `yaml:"width,omitempty" json:"width,omitempty"`
	Height   int    `yaml:"height,omitempty" json:"height,omitempty"`
}

// EntryKind discriminates a ThreadEntry's concrete type.
type EntryKind string

const (
	EntryUserMessage  EntryKind = "user_message"
	EntryAgentMessage EntryKind = "agent_message"
	EntryToolRequest  EntryKind = "tool_request"
	EntryToolResponse EntryKind = "tool_response"
)

type (
	// Entry is the interface implemented by every concrete thread entry. A
	// Thread is an ordered list of Entry values; callIds are unique within a
	// thread.
	Entry interface {
		// EntryID uniquely identifies this entry within its thread, assigned
		// in append order. Used as the truncation point for DeleteFrom.
		EntryID() string
		Kind() EntryKind
		CreatedAt() time.Time
	}

	entryBase struct {
		ID        string    `yaml:"id" json:"id"`
		At        time.Time `yaml:"createdAt" json:"createdAt"`
		EntryKind EntryKind `yaml:"kind" json:"kind"`
	}

	// UserMessageEntry records a message submitted by the human (or scheduled
	// trigger) operating the session.
	UserMessageEntry struct {
		entryBase `yaml:",inline"`
		Speaker   string        `yaml:"speaker" json:"speaker"`
		Content   []ContentPart `yaml:"content" json:"content"`
	}

	// AgentMessageEntry records a final or intermediate message produced by an
	// agent.
	AgentMessageEntry struct {
		entryBase `yaml:",inline"`
		AgentName string        `yaml:"agentName" json:"agentName"`
		Content   []ContentPart `yaml:"content" json:"content"`
	}

	// ToolRequestEntry records a tool invocation an agent asked for.
	ToolRequestEntry struct {
		entryBase `yaml:",inline"`
		AgentName string `yaml:"agentName" json:"agentName"`
		ToolName  string `yaml:"toolName" json:"toolName"`
		CallID    string `yaml:"callId" json:"callId"`
		ArgsJSON  string `yaml:"argsJson" json:"argsJson"`
	}

	// ToolResponseEntry records the outcome of a ToolRequestEntry. Exactly one
	// ToolResponseEntry exists per ToolRequestEntry, matched by CallID.
	ToolResponseEntry struct {
		entryBase  `yaml:",inline"`
		CallID     string `yaml:"callId" json:"callId"`
		ResultJSON string `yaml:"resultJson,omitempty" json:"resultJson,omitempty"`
		ErrorText  string `yaml:"errorText,omitempty" json:"errorText,omitempty"`
	}
)

func (b entryBase) EntryID() string    { return b.ID }
func (b entryBase) Kind() EntryKind    { return b.EntryKind }
func (b entryBase) CreatedAt() time.Time { return b.At }

func newEntryBase(id string, kind EntryKind) entryBase {
	return entryBase{ID: id, At: time.Now(), EntryKind: kind}
}

// NewUserMessage constructs a UserMessageEntry.
func NewUserMessage(id, speaker string, content []ContentPart) *UserMessageEntry {
	return &UserMessageEntry{entryBase: newEntryBase(id, EntryUserMessage), Speaker: speaker, Content: content}
}

// NewAgentMessage constructs an AgentMessageEntry.
func NewAgentMessage(id, agentName string, content []ContentPart) *AgentMessageEntry {
	return &AgentMessageEntry{entryBase: newEntryBase(id, EntryAgentMessage), AgentName: agentName, Content: content}
}

// NewToolRequest constructs a ToolRequestEntry.
func NewToolRequest(id, agentName, toolName, callID, argsJSON string) *ToolRequestEntry {
	return &ToolRequestEntry{entryBase: newEntryBase(id, EntryToolRequest), AgentName: agentName, ToolName: toolName, CallID: callID, ArgsJSON: argsJSON}
}

// NewToolResponse constructs a ToolResponseEntry carrying a successful result.
func NewToolResponse(id, callID, resultJSON string) *ToolResponseEntry {
	return &ToolResponseEntry{entryBase: newEntryBase(id, EntryToolResponse), CallID: callID, ResultJSON: resultJSON}
}

// NewToolError constructs a ToolResponseEntry carrying a failure.
func NewToolError(id, callID, errorText string) *ToolResponseEntry {
	return &ToolResponseEntry{entryBase: newEntryBase(id, EntryToolResponse), CallID: callID, ErrorText: errorText}
}

// FirstText returns the concatenation of every text part in content, joined
// by a single space, ignoring image parts.
func FirstText(content []ContentPart) string {
	var out string
	for _, p := range content {
		if p.Kind != ContentText || p.Text == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p.Text
	}
	return out
}
