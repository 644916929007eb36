// Package runloop implements the model/tool alternation that executes one
// user turn against one (agent, thread) pair: call the model, stream its
// output, run any requested tools, and repeat until the model produces a
// final answer or the iteration budget is exhausted.
package runloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codayhq/coday/event"
	"github.com/codayhq/coday/model"
	"github.com/codayhq/coday/reminder"
	"github.com/codayhq/coday/telemetry"
	"github.com/codayhq/coday/thread"
	"github.com/codayhq/coday/tool"
)

// DefaultIterationCap bounds the number of model calls a single turn may
// make before the loop gives up and reports budget exhaustion.
const DefaultIterationCap = 20

type (
	// RunnableAgent is the subset of an agent's configuration and bindings a
	// RunLoop needs. agent.Agent implements this without runloop importing
	// the agent package, breaking the Agent->RunLoop->AgentRegistry->Agent
	// cycle at the interface boundary.
	RunnableAgent interface {
		Name() string
		SystemPrompt() string
		ModelClient() model.Client
		Tools() *tool.Set
	}

	// Publisher is the event sink a RunLoop writes to. *event.Bus satisfies
	// it directly; delegation wraps it in a relay that tags child events.
	Publisher interface {
		Publish(e event.Event)
	}

	// Recorder appends a durable, opaque-cursor execution trace parallel to
	// the visible Thread, independent of thread persistence. Optional.
	Recorder interface {
		Record(ctx context.Context, sessionID, turnID, kind string, payload any) error
	}

	// Options configures a RunLoop. Zero-valued fields take their defaults.
	Options struct {
		IterationCap int
		Logger       telemetry.Logger
		Metrics      telemetry.Metrics
		Tracer       telemetry.Tracer
		ThreadStore  thread.Store
		Recorder     Recorder
		// Resolver, when set, makes the "delegate" tool available for this
		// run regardless of whether it is registered in the agent's own
		// ToolSet, letting AgentRegistry wire delegation in once per turn
		// instead of into every cached Agent's static tool set.
		Resolver AgentResolver
		// Reminders, when set, injects turn-scoped system reminders into
		// each model call. The loop itself registers a low-budget warning
		// when the iteration cap is nearly spent; callers may add their own
		// reminders keyed by the turn id.
		Reminders *reminder.Engine
	}

	// Result is the outcome of one Run call.
	Result struct {
		FinalText   string
		Interrupted bool
	}

	// RunLoop executes S0->S1->S2->{S3,S4} for one (agent, thread) pair.
	RunLoop struct {
		agent      RunnableAgent
		th         *thread.Thread
		bus        Publisher
		ids        *event.Generator
		sessionID  string
		stackDepth *int
		opts       Options
	}
)

// New constructs a RunLoop. stackDepth is a pointer shared with the owning
// Session/delegate tool so nested loops observe and mutate the same
// delegation budget.
func New(agent RunnableAgent, th *thread.Thread, bus Publisher, ids *event.Generator, sessionID string, stackDepth *int, opts Options) *RunLoop {
	if opts.IterationCap <= 0 {
		opts.IterationCap = DefaultIterationCap
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	return &RunLoop{agent: agent, th: th, bus: bus, ids: ids, sessionID: sessionID, stackDepth: stackDepth, opts: opts}
}

// ErrInterrupted is returned by Run when the session's stop signal fired
// mid-turn. It is not surfaced as an Error event; callers log it as debug.
var ErrInterrupted = errors.New("runloop: processing interrupted")

// Run executes one turn. triggerEventID is the id of the event that caused
// this turn (typically the UserMessage event Agent.Run published just
// before opening the loop) and seeds the causal chain for every event this
// loop publishes.
func (l *RunLoop) Run(ctx context.Context, triggerEventID string) (*Result, error) {
	turnID := l.ids.Next()
	l.record(ctx, turnID, "turn_start", map[string]any{"agent": l.agent.Name()})
	if l.opts.Reminders != nil {
		defer l.opts.Reminders.ClearRun(turnID)
	}

	parent := triggerEventID
	for iter := 0; iter < l.opts.IterationCap; iter++ {
		if ctx.Err() != nil {
			return l.interrupted(ctx, turnID)
		}

		if l.opts.Reminders != nil && iter == l.opts.IterationCap-2 {
			l.opts.Reminders.Add(turnID, reminder.Reminder{
				ID:         "tool_budget_low",
				Text:       "Only one tool-use iteration remains for this turn. Finish with a final answer.",
				Priority:   reminder.TierGuidance,
				Attachment: reminder.Attachment{Kind: reminder.AttachmentUserTurn},
				MaxPerRun:  1,
			})
		}

		thinking := event.NewThinking(l.ids, l.sessionID, parent)
		l.bus.Publish(thinking)

		req := l.buildRequest(turnID)
		l.record(ctx, turnID, "model_call", map[string]any{"iteration": iter, "model": req.Model})

		stream, err := l.agent.ModelClient().Complete(ctx, req)
		if err != nil {
			return l.handleModelError(ctx, turnID, err)
		}

		text, calls, err := l.consumeStream(ctx, stream, thinking.ID())
		closeErr := stream.Close()
		if err != nil {
			if ctx.Err() != nil {
				return l.interrupted(ctx, turnID)
			}
			return l.handleModelError(ctx, turnID, err)
		}
		if closeErr != nil {
			l.opts.Logger.Warn(ctx, "model stream close failed", "error", closeErr)
		}

		if text != "" {
			msg, err := l.th.AppendAgentMessage(l.agent.Name(), []thread.ContentPart{{Kind: thread.ContentText, Text: text}})
			if err != nil {
				return nil, fmt.Errorf("runloop: append agent message: %w", err)
			}
			_ = msg
			parent = l.publishMessage(text, parent).ID()
		}

		if len(calls) == 0 {
			l.persist(ctx)
			l.record(ctx, turnID, "turn_end", map[string]any{"finalText": text})
			l.maybeAutoName(ctx)
			return &Result{FinalText: text}, nil
		}

		if ctx.Err() != nil {
			return l.interrupted(ctx, turnID)
		}

		requestIDs := make(map[string]string, len(calls))
		for _, c := range calls {
			reqEvt := event.NewToolRequest(l.ids, l.sessionID, parent, string(c.ToolName), c.CallID, c.ArgsJSON)
			l.bus.Publish(reqEvt)
			requestIDs[c.CallID] = reqEvt.ID()
			if _, err := l.th.AppendToolRequest(l.agent.Name(), string(c.ToolName), c.CallID, c.ArgsJSON); err != nil {
				return nil, fmt.Errorf("runloop: append tool request: %w", err)
			}
		}

		responses := l.runTools(ctx, calls, turnID)

		var lastEventID string
		for _, resp := range responses {
			reqID := requestIDs[resp.CallID]
			if resp.ErrorText != "" {
				if _, err := l.th.AppendToolError(resp.CallID, resp.ErrorText); err != nil {
					return nil, fmt.Errorf("runloop: append tool error: %w", err)
				}
				respEvt := event.NewToolResponse(l.ids, l.sessionID, reqID, resp.CallID, resp.ErrorText)
				l.bus.Publish(respEvt)
				lastEventID = respEvt.ID()
			} else {
				if _, err := l.th.AppendToolResponse(resp.CallID, resp.ResultJSON); err != nil {
					return nil, fmt.Errorf("runloop: append tool response: %w", err)
				}
				respEvt := event.NewToolResponse(l.ids, l.sessionID, reqID, resp.CallID, resp.ResultJSON)
				l.bus.Publish(respEvt)
				lastEventID = respEvt.ID()
			}
		}
		if lastEventID != "" {
			parent = lastEventID
		}
	}

	return l.budgetExhausted(ctx, turnID, parent)
}

func (l *RunLoop) publishMessage(text string, parent string) *event.MessageEvent {
	msgEvt := event.NewMessage(l.ids, l.sessionID, parent, event.RoleAssistant, l.agent.Name(),
		[]event.ContentPart{{Type: "text", Text: text}})
	l.bus.Publish(msgEvt)
	return msgEvt
}

func (l *RunLoop) interrupted(ctx context.Context, turnID string) (*Result, error) {
	l.opts.Logger.Debug(ctx, "runloop interrupted", "sessionId", l.sessionID, "turnId", turnID)
	l.persist(context.Background())
	l.record(context.Background(), turnID, "turn_interrupted", nil)
	return &Result{Interrupted: true}, ErrInterrupted
}

func (l *RunLoop) handleModelError(ctx context.Context, turnID string, err error) (*Result, error) {
	msg := err.Error()
	if pe, ok := model.AsProviderError(err); ok && !pe.Retryable() {
		msg = pe.Error()
	}
	l.bus.Publish(event.NewWarn(l.ids, l.sessionID, "", "model call failed: "+msg))
	l.record(ctx, turnID, "turn_error", map[string]any{"error": msg})
	return nil, err
}

func (l *RunLoop) budgetExhausted(ctx context.Context, turnID, parent string) (*Result, error) {
	const fallback = "Tool-use budget exhausted."
	l.bus.Publish(event.NewWarn(l.ids, l.sessionID, parent, fallback))
	if _, err := l.th.AppendAgentMessage(l.agent.Name(), []thread.ContentPart{{Kind: thread.ContentText, Text: fallback}}); err != nil {
		return nil, fmt.Errorf("runloop: append budget-exhausted message: %w", err)
	}
	l.publishMessage(fallback, parent)
	l.persist(ctx)
	l.record(ctx, turnID, "turn_budget_exhausted", nil)
	return &Result{FinalText: fallback}, nil
}

// consumeStream drains stream, accumulating text and queuing tool requests.
// It returns once the provider signals End or the stream ends without one.
func (l *RunLoop) consumeStream(ctx context.Context, stream model.Streamer, parent string) (string, []tool.Request, error) {
	var text string
	var calls []tool.Request
	for {
		chunk, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return text, calls, nil
			}
			return text, calls, err
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			text += chunk.TextDelta
			l.bus.Publish(event.NewText(l.ids, l.sessionID, parent, l.agent.Name(), chunk.TextDelta))
		case model.ChunkTypeThinking:
			// Reasoning content is not surfaced beyond the S1 Thinking marker.
		case model.ChunkTypeToolRequest:
			calls = append(calls, tool.Request{
				ToolName: tool.Ident(chunk.ToolCall.ToolName),
				CallID:   chunk.ToolCall.CallID,
				ArgsJSON: chunk.ToolCall.ArgsJSON,
			})
		case model.ChunkTypeEnd:
			return text, calls, nil
		}
	}
}

// runTools executes calls under the turn's execution policy: if every
// requested tool is idempotent-and-read-only they run concurrently,
// otherwise sequentially in the order the model emitted them. Results are
// always returned in call order regardless of execution order.
func (l *RunLoop) runTools(ctx context.Context, calls []tool.Request, turnID string) []tool.Response {
	ts := l.agent.Tools()
	if allIdempotent(ts, calls) {
		return l.runToolsConcurrently(ctx, calls, turnID)
	}
	return l.runToolsSequentially(ctx, calls, turnID)
}

func allIdempotent(ts *tool.Set, calls []tool.Request) bool {
	if len(calls) < 2 {
		return false
	}
	for _, c := range calls {
		idempotent, ok := ts.Idempotent(c.ToolName)
		if !ok || !idempotent {
			return false
		}
	}
	return true
}

// runOneTool dispatches a single call to the agent's own ToolSet, except for
// "delegate" when a Resolver is configured: that call is built fresh, bound
// to this run's thread/bus/stackDepth, and run through a throwaway one-tool
// Set so it gets the same schema validation, timeout and result coercion as
// every other tool.
func (l *RunLoop) runOneTool(ctx context.Context, c tool.Request) tool.Response {
	if c.ToolName == "delegate" && l.opts.Resolver != nil {
		ts := tool.NewSet()
		dt := NewDelegateTool(l.opts.Resolver, l.th, l.bus, l.ids, l.sessionID, l.stackDepth, l.opts)
		if err := ts.Register(dt); err != nil {
			return tool.Response{CallID: c.CallID, ErrorText: err.Error()}
		}
		return ts.Run(ctx, c)
	}
	return l.agent.Tools().Run(ctx, c)
}

func (l *RunLoop) runToolsSequentially(ctx context.Context, calls []tool.Request, turnID string) []tool.Response {
	out := make([]tool.Response, len(calls))
	for i, c := range calls {
		if ctx.Err() != nil {
			out[i] = tool.Response{CallID: c.CallID, ResultJSON: "cancelled"}
			continue
		}
		out[i] = l.runOneTool(ctx, c)
		l.record(ctx, turnID, "tool_call", map[string]any{"tool": c.ToolName, "callId": c.CallID})
	}
	if ctx.Err() != nil {
		for i, c := range calls {
			if out[i].ErrorText != "" || out[i].ResultJSON == "" {
				out[i] = tool.Response{CallID: c.CallID, ResultJSON: "cancelled"}
			}
		}
	}
	return out
}

func (l *RunLoop) runToolsConcurrently(ctx context.Context, calls []tool.Request, turnID string) []tool.Response {
	out := make([]tool.Response, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			out[i] = l.runOneTool(gctx, c)
			l.record(ctx, turnID, "tool_call", map[string]any{"tool": c.ToolName, "callId": c.CallID})
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		for i, c := range calls {
			out[i] = tool.Response{CallID: c.CallID, ResultJSON: "cancelled"}
		}
	}
	return out
}

func (l *RunLoop) buildRequest(turnID string) model.Request {
	specs := l.agent.Tools().Specs()
	defs := make([]model.ToolDefinition, 0, len(specs)+1)
	for _, s := range specs {
		defs = append(defs, model.ToolDefinition{Name: string(s.Name), Description: s.Description, InputSchema: s.Schema})
	}
	if l.opts.Resolver != nil {
		defs = append(defs, model.ToolDefinition{Name: "delegate", Description: delegateDescription, InputSchema: delegateSchema})
	}
	req := model.Request{
		System:   l.agent.SystemPrompt(),
		Messages: buildMessages(l.th.GetAll()),
		Tools:    defs,
	}
	if l.opts.Reminders != nil {
		req = reminder.Inject(req, l.opts.Reminders.Snapshot(turnID))
	}
	return req
}

func (l *RunLoop) persist(ctx context.Context) {
	if l.opts.ThreadStore == nil {
		return
	}
	if err := l.opts.ThreadStore.Save(l.th); err != nil {
		if err2 := l.opts.ThreadStore.Save(l.th); err2 != nil {
			l.opts.Logger.Warn(ctx, "thread persistence failed", "threadId", l.th.ID(), "error", err2)
			l.bus.Publish(event.NewWarn(l.ids, l.sessionID, "", "failed to save thread"))
		}
	}
}

func (l *RunLoop) record(ctx context.Context, turnID, kind string, payload any) {
	if l.opts.Recorder == nil {
		return
	}
	if err := l.opts.Recorder.Record(ctx, l.sessionID, turnID, kind, payload); err != nil {
		l.opts.Logger.Warn(ctx, "run log record failed", "error", err)
	}
}

// titleOpenTag and titleCloseTag wrap the auto-naming model call's output so the title can
// be extracted even if the model adds surrounding chatter.
const (
	titleOpenTag  = "<title>"
	titleCloseTag = "</title>"
)

// maybeAutoName names a fresh thread from its
// first few user messages after the first turn completes.
func (l *RunLoop) maybeAutoName(ctx context.Context) {
	if l.th.Name() != "" || l.th.CountUserMessages() < 1 {
		return
	}
	title, err := l.generateTitle(ctx)
	if err != nil || title == "" {
		l.th.SetName("Thread " + time.Now().UTC().Format("2006-01-02"))
		return
	}
	l.th.SetName(title)
	l.bus.Publish(event.NewMessage(l.ids, l.sessionID, "", event.RoleSystem, l.agent.Name(),
		[]event.ContentPart{{Type: "text", Text: fmt.Sprintf("Thread auto-renamed to %q", title)}}))
}

func (l *RunLoop) generateTitle(ctx context.Context) (string, error) {
	req := model.Request{
		System: "Generate a short title (max six words) for this conversation. " +
			"Reply with nothing but the title wrapped exactly as " + titleOpenTag + "Your Title" + titleCloseTag + ".",
		Messages: []model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: l.th.FirstUserText(3)}}}},
	}
	stream, err := l.agent.ModelClient().Complete(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()
	var out string
	for {
		chunk, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		if chunk.Type == model.ChunkTypeText {
			out += chunk.TextDelta
		}
		if chunk.Type == model.ChunkTypeEnd {
			break
		}
	}
	return extractTitle(out), nil
}

func extractTitle(raw string) string {
	start := indexOf(raw, titleOpenTag)
	end := indexOf(raw, titleCloseTag)
	if start < 0 || end < 0 || end <= start+len(titleOpenTag) {
		return ""
	}
	return raw[start+len(titleOpenTag) : end]
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

