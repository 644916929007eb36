// Package bedrock implements model.Client on top of AWS Bedrock's Converse
// API via aws-sdk-go-v2's bedrockruntime client. Bedrock-hosted models
// (notably Claude served through Bedrock) are the "hosted-assistant"
// branch of the ModelClient contract: this adapter still maps the full
// Thread onto a fresh ConverseStream call each turn rather than holding
// server-side thread state, because Bedrock's Converse API itself is
// stateless per call - the hosted-vs-completion distinction callers must
// never see lives entirely inside buildInput.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brdocument "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/codayhq/coday/model"
)

// Runtime captures the subset of the Bedrock runtime client used here.
type Runtime interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Client adapts Runtime to model.Client.
type Client struct {
	rt        Runtime
	modelID   string
	maxTokens int
}

// New builds a Client against an already-constructed Bedrock runtime
// client (real or fake) and a model/inference-profile ARN or ID.
func New(rt Runtime, modelID string, maxTokens int) (*Client, error) {
	if rt == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if modelID == "" {
		return nil, errors.New("bedrock: model id is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{rt: rt, modelID: modelID, maxTokens: maxTokens}, nil
}

func (c *Client) Complete(ctx context.Context, req model.Request) (model.Streamer, error) {
	input, err := c.buildInput(req)
	if err != nil {
		return nil, err
	}
	out, err := c.rt.ConverseStream(ctx, input)
	if err != nil {
		return nil, classifyErr(err)
	}
	return newStreamer(ctx, out.GetStream()), nil
}

func (c *Client) buildInput(req model.Request) (*bedrockruntime.ConverseStreamInput, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.modelID
	}
	messages, system, err := encodeMessages(req.Messages, req.System)
	if err != nil {
		return nil, err
	}
	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = int32(c.maxTokens)
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  &modelID,
		Messages: messages,
		System:   system,
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: &maxTokens,
		},
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		input.InferenceConfig.Temperature = &t
	}
	if toolCfg := encodeTools(req.Tools); toolCfg != nil {
		input.ToolConfig = toolCfg
	}
	return input, nil
}

func encodeMessages(msgs []model.Message, system string) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var sys []brtypes.SystemContentBlock
	if system != "" {
		sys = append(sys, &brtypes.SystemContentBlockMemberText{Value: system})
	}

	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch p := part.(type) {
			case model.TextPart:
				if p.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: p.Text})
				}
			case model.ToolUsePart:
				doc, err := toDocument(p.Input)
				if err != nil {
					return nil, nil, fmt.Errorf("bedrock: tool_use input: %w", err)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: &p.CallID,
					Name:      &p.Name,
					Input:     doc,
				}})
			case model.ToolResultPart:
				status := brtypes.ToolResultStatusSuccess
				if p.IsError {
					status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
					ToolUseId: &p.CallID,
					Status:    status,
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: p.Content},
					},
				}})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case model.RoleUser, model.RoleSystem:
			// Mid-conversation system content (injected reminders) rides as
			// a user turn; Converse only takes system blocks up front.
			role = brtypes.ConversationRoleUser
		case model.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}
	if len(out) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return out, sys, nil
}

func toDocument(v any) (brdocument.Interface, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return brdocument.NewLazyDocument(doc), nil
}

func encodeTools(defs []model.ToolDefinition) *brtypes.ToolConfiguration {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		schemaDoc, _ := toDocument(def.InputSchema)
		name := def.Name
		desc := def.Description
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        &name,
			Description: &desc,
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: schemaDoc},
		}})
	}
	return &brtypes.ToolConfiguration{Tools: tools}
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		kind, retry := classifyCode(ae.ErrorCode())
		return model.NewProviderError("bedrock", "converse_stream", 0, kind, ae.ErrorCode(), ae.ErrorMessage(), "", retry, err)
	}
	return model.NewProviderError("bedrock", "converse_stream", 0, model.ErrorKindUnknown, "", err.Error(), "", false, err)
}

func classifyCode(code string) (model.ErrorKind, bool) {
	switch code {
	case "AccessDeniedException", "UnauthorizedException":
		return model.ErrorKindAuth, false
	case "ThrottlingException":
		return model.ErrorKindRateLimited, true
	case "ValidationException", "ModelErrorException":
		return model.ErrorKindInvalidRequest, false
	case "ServiceUnavailableException", "InternalServerException", "ModelTimeoutException":
		return model.ErrorKindUnavailable, true
	default:
		return model.ErrorKindUnknown, false
	}
}

// streamer adapts *bedrockruntime.ConverseStreamEventStream into
// model.Streamer, accumulating tool-use input JSON fragments per content
// block index until the block closes.
type streamer struct {
	cancel context.CancelFunc
	events *bedrockruntime.ConverseStreamEventStream
	chunks chan model.Chunk
	errCh  chan error

	toolByIndex map[int32]*toolAccum
}

type toolAccum struct {
	id, name string
	input    []byte
}

func newStreamer(ctx context.Context, events *bedrockruntime.ConverseStreamEventStream) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		cancel:      cancel,
		events:      events,
		chunks:      make(chan model.Chunk, 8),
		errCh:       make(chan error, 1),
		toolByIndex: make(map[int32]*toolAccum),
	}
	go s.run(cctx)
	return s
}

func (s *streamer) run(ctx context.Context) {
	defer close(s.chunks)
	for event := range s.events.Events() {
		if ctx.Err() != nil {
			s.errCh <- ctx.Err()
			return
		}
		if chunk, ok := s.handle(event); ok {
			select {
			case s.chunks <- chunk:
			case <-ctx.Done():
				s.errCh <- ctx.Err()
				return
			}
		}
	}
	if err := s.events.Err(); err != nil {
		s.errCh <- classifyErr(err)
		return
	}
	s.errCh <- io.EOF
}

func (s *streamer) handle(event brtypes.ConverseStreamOutput) (model.Chunk, bool) {
	switch e := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		if tu, ok := e.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			s.toolByIndex[derefInt32(e.Value.ContentBlockIndex)] = &toolAccum{
				id:   derefStr(tu.Value.ToolUseId),
				name: derefStr(tu.Value.Name),
			}
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx := derefInt32(e.Value.ContentBlockIndex)
		switch d := e.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			return model.Chunk{Type: model.ChunkTypeText, TextDelta: d.Value}, true
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if acc, ok := s.toolByIndex[idx]; ok {
				acc.input = append(acc.input, []byte(derefStr(d.Value.Input))...)
			}
		case *brtypes.ContentBlockDeltaMemberReasoningContent:
			if rt, ok := d.Value.(*brtypes.ReasoningContentBlockDeltaMemberText); ok {
				return model.Chunk{Type: model.ChunkTypeThinking, TextDelta: rt.Value}, true
			}
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx := derefInt32(e.Value.ContentBlockIndex)
		if acc, ok := s.toolByIndex[idx]; ok {
			delete(s.toolByIndex, idx)
			if len(acc.input) == 0 {
				acc.input = []byte("{}")
			}
			return model.Chunk{Type: model.ChunkTypeToolRequest, ToolCall: &model.ToolCall{
				CallID:   acc.id,
				ToolName: acc.name,
				ArgsJSON: string(acc.input),
			}}, true
		}
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		return model.Chunk{Type: model.ChunkTypeEnd, FinishReason: string(e.Value.StopReason)}, true
	}
	return model.Chunk{}, false
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefInt32(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
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
	return s.events.Close()
}
