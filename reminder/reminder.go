// Package reminder defines turn-scoped system reminders: backstage guidance
// (safety, correctness, workflow hints) injected into a model request
// without appearing in the user-visible Thread. The package is
// policy-agnostic; the RunLoop owns evaluation and injection timing.
package reminder

import (
	"github.com/codayhq/coday/tool"
)

// Tier represents the priority tier for a reminder. Lower-valued tiers
// carry higher precedence when enforcing caps or resolving conflicts.
type Tier int

const (
	// TierSafety is the highest priority tier. Safety reminders are never
	// dropped by policy; they may be de-duplicated but not suppressed.
	TierSafety Tier = iota
	// TierGuidance carries workflow suggestions and soft nudges, the first
	// to be suppressed when prompt budgets are tight.
	TierGuidance
)

// AttachmentKind describes where a reminder should conceptually attach in
// the conversation.
type AttachmentKind string

const (
	// AttachmentRunStart reminders attach once at the start of a turn,
	// alongside the agent's system prompt.
	AttachmentRunStart AttachmentKind = "run_start"
	// AttachmentUserTurn reminders attach near the latest user message,
	// shaping how the model interprets it.
	AttachmentUserTurn AttachmentKind = "user_turn"
)

// Attachment scopes a reminder to an attachment point in the conversation.
type Attachment struct {
	Kind AttachmentKind

	// Tool identifies a fully qualified tool name the reminder relates to.
	// Reserved for future use; current callers leave it empty.
	Tool tool.Ident
}

// Reminder describes concrete guidance injected into prompts. Reminders are
// produced by application code and evaluated by the Engine once per model
// call to enforce lifetime and rate limiting.
type Reminder struct {
	// ID is the stable identifier for this reminder within a run, used for
	// de-duplication, rate limiting, and telemetry. IDs should be
	// deterministic (e.g. "pending_tool_budget", "truncated_result.search").
	ID string

	// Text is the natural-language guidance to inject. Plain, tag-free text;
	// injection wraps it in a <system-reminder> block.
	Text string

	// Priority controls ordering and suppression. Lower tiers always take
	// precedence over higher tiers.
	Priority Tier

	// Attachment indicates where in the conversation this reminder attaches.
	Attachment Attachment

	// MaxPerRun caps how many times this reminder may be emitted in a single
	// run. Zero means unlimited.
	MaxPerRun int

	// MinTurnsBetween enforces a minimum number of model calls between
	// emissions. Zero means no rate limit.
	MinTurnsBetween int
}

// DefaultExplanation is a generic explanation of system reminders suitable
// for inclusion in agent system prompts. It documents <system-reminder>
// blocks as platform-added guidance that should not be surfaced verbatim to
// end users.
const DefaultExplanation = `
- **System reminders**
  - You may see <system-reminder>...</system-reminder> blocks in system text.
    These blocks are added by the platform to provide contextual guidance.
    They are not part of the end user's message, but you **should** read and
    follow them when they apply to the current task. Do not expose the raw
    <system-reminder> markup or its wording directly back to the user.`
