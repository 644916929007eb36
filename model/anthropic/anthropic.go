// Package anthropic implements model.Client on top of the Anthropic
// Messages API via github.com/anthropics/anthropic-sdk-go. It is a
// stateless-completion adapter: every call replays the full message
// history, translating the neutral model.Request into an
// anthropic.MessageNewParams and adapting the provider's streaming events
// back into model.Chunk.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/codayhq/coday/model"
)

// MessagesClient captures the subset of the Anthropic SDK used here, so
// tests can substitute a fake without a live API key.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client adapts MessagesClient to model.Client.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// New builds a Client against an already-constructed Anthropic messages
// service (real or fake).
func New(msg MessagesClient, defaultModel string, maxTokens int) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, model: defaultModel, maxTokens: maxTokens}, nil
}

// NewFromAPIKey builds a Client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, defaultModel, maxTokens)
}

// Complete issues a streaming Messages.New call and adapts the result.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, classifyErr(err)
	}
	return newStreamer(ctx, stream), nil
}

func (c *Client) buildParams(req model.Request) (sdk.MessageNewParams, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if tools := encodeTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.Thinking != nil && req.Thinking.Enable && req.Thinking.BudgetTokens > 0 {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(req.Thinking.BudgetTokens))
	}
	return params, nil
}

func encodeMessages(msgs []model.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch p := part.(type) {
			case model.TextPart:
				if p.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(p.Text))
				}
			case model.ToolUsePart:
				blocks = append(blocks, sdk.NewToolUseBlock(p.CallID, p.Input, p.Name))
			case model.ToolResultPart:
				blocks = append(blocks, sdk.NewToolResultBlock(p.CallID, p.Content, p.IsError))
			case model.ImagePart:
				// Inline images are out of scope for this adapter's first
				// cut; dropped rather than mis-encoded.
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case model.RoleUser, model.RoleSystem:
			// Mid-conversation system content (injected reminders) rides as
			// a user block; the Messages API only takes system text up front.
			out = append(out, sdk.NewUserMessage(blocks...))
		case model.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeTools(defs []model.ToolDefinition) []sdk.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := sdk.ToolInputSchemaParam{}
		if def.InputSchema != nil {
			if props, ok := def.InputSchema["properties"]; ok {
				schema.Properties = props
			}
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

// classifyErr wraps a raw SDK error into a model.ProviderError, deriving a
// retry classification from the HTTP status when the SDK exposes one.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		kind, retry := classifyStatus(status)
		return model.NewProviderError("anthropic", "messages.stream", status, kind, "", apiErr.Error(), "", retry, err)
	}
	return model.NewProviderError("anthropic", "messages.stream", 0, model.ErrorKindUnknown, "", err.Error(), "", false, err)
}

func classifyStatus(status int) (model.ErrorKind, bool) {
	switch {
	case status == 401 || status == 403:
		return model.ErrorKindAuth, false
	case status == 429:
		return model.ErrorKindRateLimited, true
	case status == 400 || status == 404 || status == 422:
		return model.ErrorKindInvalidRequest, false
	case status >= 500:
		return model.ErrorKindUnavailable, true
	default:
		return model.ErrorKindUnknown, false
	}
}

// streamer adapts the SDK's ssestream.Stream into model.Streamer, running
// the blocking Next()/Current() loop on a goroutine so Recv can be
// cancelled by ctx even mid-chunk.
type streamer struct {
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	chunks chan model.Chunk
	errCh  chan error

	// toolInputs is keyed by content-block index: a single streamed message
	// can carry several concurrent tool_use blocks, and input_json_delta /
	// content_block_stop events identify their block only by index.
	toolInputs map[int64]*toolAccum
}

type toolAccum struct {
	id, name string
	input    []byte
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		cancel:     cancel,
		stream:     stream,
		chunks:     make(chan model.Chunk, 8),
		errCh:      make(chan error, 1),
		toolInputs: make(map[int64]*toolAccum),
	}
	go s.run(cctx)
	return s
}

func (s *streamer) run(ctx context.Context) {
	defer close(s.chunks)
	for s.stream.Next() {
		if ctx.Err() != nil {
			s.errCh <- ctx.Err()
			return
		}
		event := s.stream.Current()
		if chunk, ok := s.handle(event); ok {
			select {
			case s.chunks <- chunk:
			case <-ctx.Done():
				s.errCh <- ctx.Err()
				return
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		s.errCh <- classifyErr(err)
		return
	}
	s.errCh <- io.EOF
}

func (s *streamer) handle(event sdk.MessageStreamEventUnion) (model.Chunk, bool) {
	switch event.Type {
	case "content_block_start":
		block := event.ContentBlock
		if block.Type == "tool_use" {
			s.toolInputs[event.Index] = &toolAccum{id: block.ID, name: block.Name}
		}
	case "content_block_delta":
		delta := event.Delta
		switch delta.Type {
		case "text_delta":
			return model.Chunk{Type: model.ChunkTypeText, TextDelta: delta.Text}, true
		case "thinking_delta":
			return model.Chunk{Type: model.ChunkTypeThinking, TextDelta: delta.Thinking}, true
		case "input_json_delta":
			if acc := s.toolInputs[event.Index]; acc != nil {
				acc.input = append(acc.input, delta.PartialJSON...)
			}
		}
	case "content_block_stop":
		if acc := s.toolInputs[event.Index]; acc != nil {
			delete(s.toolInputs, event.Index)
			if len(acc.input) == 0 {
				acc.input = []byte("{}")
			}
			// Malformed accumulated JSON is surfaced as-is: the ToolSet's
			// argument validation reports it back to the model as a failed
			// tool result, which is recoverable; dropping the call is not.
			return model.Chunk{Type: model.ChunkTypeToolRequest, ToolCall: &model.ToolCall{
				CallID:   acc.id,
				ToolName: acc.name,
				ArgsJSON: string(acc.input),
			}}, true
		}
	case "message_delta":
		if event.Delta.StopReason != "" {
			return model.Chunk{Type: model.ChunkTypeEnd, FinishReason: string(event.Delta.StopReason)}, true
		}
	case "message_stop":
		return model.Chunk{Type: model.ChunkTypeEnd, FinishReason: "stop"}, true
	}
	return model.Chunk{}, false
}

func (s *streamer) Recv(ctx context.Context) (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		return model.Chunk{}, <-s.errCh
	case <-ctx.Done():
		return model.Chunk{}, ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
	return s.stream.Close()
}
