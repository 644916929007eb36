package event

import (
	"encoding/json"
	"fmt"
)

// kindProbe extracts just the kind discriminator from a raw event envelope
// so Decode can pick the concrete type to unmarshal into.
type kindProbe struct {
	Kind Kind `json:"kind"`
}

// Decode parses a JSON event envelope produced by Marshal back into its
// concrete Event type. Used by RedisHistory when replaying persisted
// envelopes and by any client-side consumer that round-trips events through
// storage rather than holding live Go values.
func Decode(data []byte) (Event, error) {
	var probe kindProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	var e Event
	switch probe.Kind {
	case KindMessage:
		e = &MessageEvent{}
	case KindText:
		e = &TextEvent{}
	case KindAnswer:
		e = &AnswerEvent{}
	case KindInvite:
		e = &InviteEvent{}
	case KindChoice:
		e = &ChoiceEvent{}
	case KindToolRequest:
		e = &ToolRequestEvent{}
	case KindToolResponse:
		e = &ToolResponseEvent{}
	case KindThinking:
		e = &ThinkingEvent{}
	case KindWarn:
		e = &WarnEvent{}
	case KindError:
		e = &ErrorEvent{}
	case KindProjectSelected:
		e = &ProjectSelectedEvent{}
	case KindThreadSelected:
		e = &ThreadSelectedEvent{}
	case KindFile:
		e = &FileEvent{}
	case KindHeartbeat:
		e = &HeartbeatEvent{}
	default:
		return nil, fmt.Errorf("decode event envelope: unknown kind %q", probe.Kind)
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	return e, nil
}
