package runloop

import (
	"context"
	"encoding/json"

	"github.com/codayhq/coday/event"
	"github.com/codayhq/coday/thread"
	"github.com/codayhq/coday/tool"
	"github.com/codayhq/coday/toolerrors"
)

// AgentResolver resolves an agent by name (exact or prefix, per the
// registry's own matching rules) for the delegate tool. AgentRegistry
// implements this without runloop importing agentregistry, breaking the
// Agent -> ToolSet -> delegate -> AgentRegistry -> Agent cycle called out
// at the interface boundary instead of at construction.
type AgentResolver interface {
	Resolve(ctx context.Context, agentName string) (RunnableAgent, error)
}

type delegateInput struct {
	Task      string `json:"task"`
	AgentName string `json:"agentName"`
}

const delegateDescription = "Delegate a task to another configured agent and return its final answer."

var delegateSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"task":      map[string]any{"type": "string", "description": "the task to hand off"},
		"agentName": map[string]any{"type": "string", "description": "name or unambiguous prefix of the target agent"},
	},
	"required": []string{"task", "agentName"},
}

// NewDelegateTool builds the delegate tool: fork the
// parent thread, run a nested RunLoop against the resolved agent with a
// decremented delegation budget, and relay the child's events onto the
// parent bus with a "-> <agentName>" speaker prefix.
func NewDelegateTool(resolver AgentResolver, parentThread *thread.Thread, bus Publisher, ids *event.Generator, sessionID string, stackDepth *int, opts Options) tool.Tool {
	spec := tool.Spec{
		Name:        "delegate",
		Description: delegateDescription,
		Schema:      delegateSchema,
	}
	fn := func(ctx context.Context, argsJSON string) (any, error) {
		var in delegateInput
		if err := json.Unmarshal([]byte(argsJSON), &in); err != nil {
			return nil, toolerrors.NewWithCause("delegate: invalid arguments", err)
		}

		if *stackDepth <= 0 {
			return "delegation budget exhausted: this agent cannot delegate further", nil
		}

		target, err := resolver.Resolve(ctx, in.AgentName)
		if err != nil {
			return nil, toolerrors.NewWithCause("delegate: resolve agent "+in.AgentName, err)
		}

		childID := ids.Next()
		child, err := parentThread.Fork(childID)
		if err != nil {
			return nil, toolerrors.NewWithCause("delegate: fork thread", err)
		}
		if _, err := child.AppendUserMessage(target.Name(), []thread.ContentPart{{Kind: thread.ContentText, Text: in.Task}}); err != nil {
			return nil, toolerrors.NewWithCause("delegate: seed child thread", err)
		}

		*stackDepth--
		defer func() { *stackDepth++ }()

		relay := &relayPublisher{parent: bus, prefix: "-> " + target.Name()}
		nested := New(target, child, relay, ids, sessionID, stackDepth, opts)

		triggerID := ids.Next()
		res, err := nested.Run(ctx, triggerID)
		if err != nil && res == nil {
			return nil, toolerrors.NewWithCause("delegate: nested run", err)
		}
		finalText := ""
		if res != nil {
			finalText = res.FinalText
		}

		if _, err := parentThread.Merge(target.Name(), finalText); err != nil {
			return nil, toolerrors.NewWithCause("delegate: merge child summary", err)
		}
		return finalText, nil
	}
	return tool.NewFunc(spec, fn)
}

// relayPublisher republishes child-loop events on the parent bus, relabeling
// the speaker-bearing event kinds with a delegation prefix so the UI can
// show which delegated agent produced them while every other event kind
// (tool calls, warnings) passes through unchanged.
type relayPublisher struct {
	parent Publisher
	prefix string
}

func (r *relayPublisher) Publish(e event.Event) {
	switch v := e.(type) {
	case *event.MessageEvent:
		clone := *v
		clone.SpeakerName = r.prefix
		r.parent.Publish(&clone)
	case *event.TextEvent:
		clone := *v
		clone.Speaker = r.prefix
		r.parent.Publish(&clone)
	default:
		r.parent.Publish(e)
	}
}
