// Package model defines the provider-neutral streaming contract every
// ModelClient adapter (Anthropic, OpenAI, Bedrock) implements. A RunLoop
// depends only on this package; provider wire formats never leak upward.
package model

import "context"

// Role identifies the speaker of a Message passed to a provider.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is a content block within a Message. Concrete types are TextPart,
// ImagePart, ToolUsePart (an assistant-issued tool call replayed back for
// provider context) and ToolResultPart (a tool's result fed back to the
// model on a following turn).
type Part interface{ isPart() }

type (
	// TextPart is plain text content.
	TextPart struct{ Text string }

	// ImagePart is an inline image, base64-free (raw bytes); adapters
	// encode to whatever the provider's wire format requires.
	ImagePart struct {
		MimeType string
		Bytes    []byte
	}

	// ToolUsePart replays a previously emitted tool call so the provider
	// has the full conversational context on a later turn.
	ToolUsePart struct {
		CallID string
		Name   string
		Input  any
	}

	// ToolResultPart carries a tool's outcome back to the model.
	ToolResultPart struct {
		CallID  string
		Content string
		IsError bool
	}
)

func (TextPart) isPart()       {}
func (ImagePart) isPart()      {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Message is one entry in the conversation passed to a provider.
type Message struct {
	Role  Role
	Parts []Part
}

// ToolDefinition describes one tool available to the model for this call.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ThinkingOptions requests provider-native extended reasoning when supported.
type ThinkingOptions struct {
	Enable       bool
	BudgetTokens int
}

// Request captures everything needed for one model invocation: the
// assembled system prompt, the full message history, the agent's
// filtered tool list, and sampling parameters.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
	Thinking    *ThinkingOptions
}

// ChunkType discriminates a streamed Chunk's payload.
type ChunkType string

const (
	ChunkTypeText        ChunkType = "text"
	ChunkTypeThinking    ChunkType = "thinking"
	ChunkTypeToolRequest ChunkType = "tool_request"
	ChunkTypeEnd         ChunkType = "end"
)

// ToolCall is a single tool invocation the model is requesting.
type ToolCall struct {
	CallID   string
	ToolName string
	ArgsJSON string
}

// TokenUsage reports token consumption for a completed call, when the
// provider surfaces it.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Chunk is one streamed event from a ModelClient. Exactly one of the
// type-specific fields is populated, selected by Type.
type Chunk struct {
	Type ChunkType

	// TextDelta holds an incremental fragment of assistant text when Type
	// is ChunkTypeText, or of reasoning text when Type is ChunkTypeThinking.
	TextDelta string

	// ToolCall is populated when Type is ChunkTypeToolRequest.
	ToolCall *ToolCall

	// FinishReason and Usage are populated when Type is ChunkTypeEnd.
	FinishReason string
	Usage        *TokenUsage
}

// Streamer delivers the incremental output of one Complete call. Callers
// must drain Recv until it returns a Chunk with Type==ChunkTypeEnd or an
// error, then call Close exactly once.
type Streamer interface {
	Recv(ctx context.Context) (Chunk, error)
	Close() error
}

// Client is the provider-neutral adapter every concrete implementation
// (Anthropic, OpenAI, Bedrock) satisfies. Implementations translate
// provider-specific streaming formats into Chunk and MUST begin delivering
// the first chunk within the provider's normal time-to-first-byte: callers
// may not buffer a whole response before returning the Streamer.
type Client interface {
	Complete(ctx context.Context, req Request) (Streamer, error)
}
