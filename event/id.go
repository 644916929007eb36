package event

import (
	"fmt"
	"sync"
	"time"
)

// Generator produces monotonic, lexicographically sortable event identifiers
// scoped to a single session. IDs combine a nanosecond timestamp with a
// per-generator sequence number so that two events minted in the same
// nanosecond still compare in call order, and string comparison of two IDs
// always agrees with their construction order.
//
// There is no sortable-ID library in the reused dependency set (uuid.v4 is
// random, not ordered), so this is a small hand-rolled counter rather than
// an import; see DESIGN.md.
type Generator struct {
	mu   sync.Mutex
	last int64
	seq  uint32
}

// NewGenerator constructs a Generator ready for use.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns the next identifier, guaranteed to sort strictly after every
// identifier previously returned by this Generator.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixNano()
	if now <= g.last {
		now = g.last + 1
	}
	g.last = now
	g.seq++
	return fmt.Sprintf("%020d-%010d", now, g.seq)
}
