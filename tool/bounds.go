package tool

import "fmt"

// Bounds describes how a tool result has been bounded relative to the full
// underlying data set. List- and search-shaped tools return it so callers
// (and the model) can tell a complete result from a truncated view without
// re-inspecting tool-specific fields.
//
// Returned reports how many items are present in the bounded view. Total,
// when non-nil, reports the best-effort total before truncation. Truncated
// indicates whether any caps were applied. RefinementHint provides short
// guidance on how to narrow the query when Truncated is true.
type Bounds struct {
	Returned       int    `json:"returned"`
	Total          *int   `json:"total,omitempty"`
	Truncated      bool   `json:"truncated"`
	RefinementHint string `json:"refinementHint,omitempty"`
}

// BoundedResult is an optional interface implemented by tool result values
// that expose boundedness metadata. When an Invoke return value implements
// it, Set.Run copies the bounds onto the Response and appends a truncation
// note to the wire string so the model sees the cap without parsing JSON.
type BoundedResult interface {
	Bounds() Bounds
}

// note renders the human/model-readable truncation suffix Set.Run appends
// to a truncated result's wire string.
func (b Bounds) note() string {
	if !b.Truncated {
		return ""
	}
	s := fmt.Sprintf("\n[truncated: showing %d", b.Returned)
	if b.Total != nil {
		s += fmt.Sprintf(" of %d", *b.Total)
	}
	s += " items"
	if b.RefinementHint != "" {
		s += ". " + b.RefinementHint
	}
	return s + "]"
}
