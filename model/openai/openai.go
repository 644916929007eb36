// Package openai implements model.Client on top of the Chat Completions
// API via github.com/openai/openai-go. Like the Anthropic adapter, it is a
// stateless-completion implementation: every call replays the full message
// history.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/codayhq/coday/model"
)

// ChatClient captures the subset of the OpenAI SDK used here.
type ChatClient interface {
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Client adapts ChatClient to model.Client.
type Client struct {
	chat      ChatClient
	model     string
	maxTokens int
}

// New builds a Client against an already-constructed chat completions
// service (real or fake).
func New(chat ChatClient, defaultModel string, maxTokens int) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, model: defaultModel, maxTokens: maxTokens}, nil
}

// NewFromAPIKey builds a Client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, defaultModel, maxTokens)
}

func (c *Client) Complete(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.chat.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, classifyErr(err)
	}
	return newStreamer(ctx, stream), nil
}

func (c *Client) buildParams(req model.Request) (openai.ChatCompletionNewParams, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		encoded, err := encodeMessage(m)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, encoded...)
	}
	if len(msgs) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("openai: at least one message is required")
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	} else if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if tools := encodeTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

// encodeMessage translates one neutral Message into Chat Completions
// message params. A user message carrying tool results fans out into one
// tool-role message per result (Chat Completions has no multi-result user
// block); an assistant message carrying tool calls keeps them as typed
// tool_calls so replayed history round-trips across turns and delegation.
func encodeMessage(m model.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case model.RoleSystem:
		return []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(flattenText(m))}, nil

	case model.RoleUser:
		var out []openai.ChatCompletionMessageParamUnion
		var text string
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				text += v.Text
			case model.ToolResultPart:
				out = append(out, openai.ToolMessage(v.Content, v.CallID))
			case model.ImagePart:
				// Inline images are out of scope for this adapter's first
				// cut; dropped rather than mis-encoded.
			}
		}
		if text != "" || len(out) == 0 {
			out = append(out, openai.UserMessage(text))
		}
		return out, nil

	case model.RoleAssistant:
		var text string
		var calls []openai.ChatCompletionMessageToolCallParam
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				text += v.Text
			case model.ToolUsePart:
				args, err := json.Marshal(v.Input)
				if err != nil {
					return nil, fmt.Errorf("openai: marshal tool %s arguments: %w", v.Name, err)
				}
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: v.CallID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      v.Name,
						Arguments: string(args),
					},
				})
			}
		}
		if len(calls) == 0 {
			return []openai.ChatCompletionMessageParamUnion{openai.AssistantMessage(text)}, nil
		}
		asst := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
		if text != "" {
			asst.Content.OfString = openai.String(text)
		}
		return []openai.ChatCompletionMessageParamUnion{{OfAssistant: &asst}}, nil
	}
	return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
}

func flattenText(m model.Message) string {
	var out string
	for _, p := range m.Parts {
		if v, ok := p.(model.TextPart); ok {
			out += v.Text
		}
	}
	return out
}

func encodeTools(defs []model.ToolDefinition) []openai.ChatCompletionToolParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		params := shared.FunctionParameters{}
		if def.InputSchema != nil {
			params = shared.FunctionParameters(def.InputSchema)
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  params,
			},
		})
	}
	return out
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		kind, retry := classifyStatus(status)
		return model.NewProviderError("openai", "chat.completions.stream", status, kind, "", apiErr.Error(), "", retry, err)
	}
	return model.NewProviderError("openai", "chat.completions.stream", 0, model.ErrorKindUnknown, "", err.Error(), "", false, err)
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

// streamer adapts the SDK's ssestream.Stream[ChatCompletionChunk] into
// model.Streamer, accumulating streamed tool-call argument fragments by
// index until a finish_reason closes the turn.
type streamer struct {
	cancel context.CancelFunc
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	chunks chan model.Chunk
	errCh  chan error

	toolCalls map[int64]*toolAccum
}

type toolAccum struct {
	id, name string
	args     string
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		cancel:    cancel,
		stream:    stream,
		chunks:    make(chan model.Chunk, 8),
		errCh:     make(chan error, 1),
		toolCalls: make(map[int64]*toolAccum),
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
		chunk := s.stream.Current()
		for _, c := range s.handle(chunk) {
			select {
			case s.chunks <- c:
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

func (s *streamer) handle(chunk openai.ChatCompletionChunk) []model.Chunk {
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	var out []model.Chunk

	if choice.Delta.Content != "" {
		out = append(out, model.Chunk{Type: model.ChunkTypeText, TextDelta: choice.Delta.Content})
	}
	for _, tc := range choice.Delta.ToolCalls {
		acc, ok := s.toolCalls[tc.Index]
		if !ok {
			acc = &toolAccum{}
			s.toolCalls[tc.Index] = acc
		}
		if tc.ID != "" {
			acc.id = tc.ID
		}
		if tc.Function.Name != "" {
			acc.name = tc.Function.Name
		}
		acc.args += tc.Function.Arguments
	}
	if choice.FinishReason != "" {
		if choice.FinishReason == "tool_calls" {
			for _, acc := range s.toolCalls {
				out = append(out, model.Chunk{Type: model.ChunkTypeToolRequest, ToolCall: &model.ToolCall{
					CallID:   acc.id,
					ToolName: acc.name,
					ArgsJSON: acc.args,
				}})
			}
		}
		out = append(out, model.Chunk{Type: model.ChunkTypeEnd, FinishReason: choice.FinishReason})
	}
	return out
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
