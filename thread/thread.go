// Package thread implements the durable, ordered conversation log that an
// Agent and RunLoop operate on: the sequence of user messages, agent
// messages, tool requests and tool responses that make up one conversation,
// plus the fork/merge operations recursive delegation needs.
package thread

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MaxForkDepth bounds how many times a thread may be forked transitively,
// matching the delegation stack-depth budget carried in Session.
const MaxForkDepth = 3

// Thread is a persistent, ordered log of conversation entries. All mutating
// operations are safe for concurrent use; GetAll/GetSince return a snapshot
// slice the caller may read without further locking.
type Thread struct {
	mu sync.RWMutex

	id         string
	name       string
	createdAt  time.Time
	modifiedAt time.Time
	entries    []Entry
	forkDepth  int
	nextSeq    int64

	// pendingCallID is the CallID of a ToolRequestEntry awaiting its
	// ToolResponseEntry, or "" when no tool call is outstanding. Append
	// refuses any entry except the matching ToolResponseEntry while set.
	pendingCallID string
}

// New constructs an empty Thread with the given id.
func New(id string) *Thread {
	now := time.Now()
	return &Thread{id: id, createdAt: now, modifiedAt: now}
}

// ID returns the thread's durable identifier.
func (t *Thread) ID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.id
}

// Name returns the thread's display name, set by auto-naming after the
// first turn. Empty until then.
func (t *Thread) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

// SetName sets the thread's display name.
func (t *Thread) SetName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.name = name
	t.modifiedAt = time.Now()
}

// CreatedAt returns when the thread was created.
func (t *Thread) CreatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.createdAt
}

// ModifiedAt returns when the thread was last mutated.
func (t *Thread) ModifiedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.modifiedAt
}

// ForkDepth returns how many times this thread's ancestry has been forked.
func (t *Thread) ForkDepth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.forkDepth
}

// nextID returns the next entry identifier, unique and strictly increasing
// within this thread. Must be called with t.mu held.
func (t *Thread) nextID() string {
	t.nextSeq++
	return strconv.FormatInt(t.nextSeq, 10)
}

// ErrToolResponsePending is returned by Append when an entry other than the
// matching ToolResponseEntry is appended while a ToolRequestEntry's response
// is still outstanding.
type ErrToolResponsePending struct {
	CallID string
}

func (e *ErrToolResponsePending) Error() string {
	return fmt.Sprintf("thread: tool response for call %q is pending, cannot append another entry", e.CallID)
}

// Append adds entry to the end of the log. It is forbidden while a
// ToolRequestEntry's response is outstanding, except to append that very
// ToolResponseEntry.
func (t *Thread) Append(entry Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pendingCallID != "" {
		resp, ok := entry.(*ToolResponseEntry)
		if !ok || resp.CallID != t.pendingCallID {
			return &ErrToolResponsePending{CallID: t.pendingCallID}
		}
	}

	t.entries = append(t.entries, entry)
	t.modifiedAt = time.Now()

	switch e := entry.(type) {
	case *ToolRequestEntry:
		t.pendingCallID = e.CallID
	case *ToolResponseEntry:
		t.pendingCallID = ""
	}
	return nil
}

// AppendUserMessage appends a new UserMessageEntry and returns it.
func (t *Thread) AppendUserMessage(speaker string, content []ContentPart) (*UserMessageEntry, error) {
	t.mu.Lock()
	id := t.nextID()
	t.mu.Unlock()
	entry := NewUserMessage(id, speaker, content)
	if err := t.Append(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// AppendAgentMessage appends a new AgentMessageEntry and returns it.
func (t *Thread) AppendAgentMessage(agentName string, content []ContentPart) (*AgentMessageEntry, error) {
	t.mu.Lock()
	id := t.nextID()
	t.mu.Unlock()
	entry := NewAgentMessage(id, agentName, content)
	if err := t.Append(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// AppendToolRequest appends a new ToolRequestEntry and returns it.
func (t *Thread) AppendToolRequest(agentName, toolName, callID, argsJSON string) (*ToolRequestEntry, error) {
	t.mu.Lock()
	id := t.nextID()
	t.mu.Unlock()
	entry := NewToolRequest(id, agentName, toolName, callID, argsJSON)
	if err := t.Append(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// AppendToolResponse appends the successful ToolResponseEntry matching callID.
func (t *Thread) AppendToolResponse(callID, resultJSON string) (*ToolResponseEntry, error) {
	t.mu.Lock()
	id := t.nextID()
	t.mu.Unlock()
	entry := NewToolResponse(id, callID, resultJSON)
	if err := t.Append(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// AppendToolError appends the failed ToolResponseEntry matching callID.
func (t *Thread) AppendToolError(callID, errorText string) (*ToolResponseEntry, error) {
	t.mu.Lock()
	id := t.nextID()
	t.mu.Unlock()
	entry := NewToolError(id, callID, errorText)
	if err := t.Append(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// GetAll returns every entry in order.
func (t *Thread) GetAll() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// GetSince returns every entry appended after entryID, in order. If entryID
// is "" or not found, GetSince returns every entry.
func (t *Thread) GetSince(entryID string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if entryID == "" {
		out := make([]Entry, len(t.entries))
		copy(out, t.entries)
		return out
	}
	for i, e := range t.entries {
		if e.EntryID() == entryID {
			out := make([]Entry, len(t.entries)-i-1)
			copy(out, t.entries[i+1:])
			return out
		}
	}
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// ErrForkDepthExceeded is returned by Fork when the thread's ancestry has
// already reached MaxForkDepth.
var ErrForkDepthExceeded = fmt.Errorf("thread: fork depth exceeded")

// Fork creates a new Thread seeded with a copy of every entry currently in
// t, with forkDepth incremented. childID is the identifier to assign to the
// new thread.
func (t *Thread) Fork(childID string) (*Thread, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.forkDepth >= MaxForkDepth {
		return nil, ErrForkDepthExceeded
	}

	child := New(childID)
	child.entries = make([]Entry, len(t.entries))
	copy(child.entries, t.entries)
	child.forkDepth = t.forkDepth + 1
	child.nextSeq = t.nextSeq
	return child, nil
}

// Merge appends a single summary AgentMessageEntry to t representing a
// delegated child thread's final result. Child entries are never inlined:
// this keeps the parent thread compact and preserves the child's isolation.
func (t *Thread) Merge(agentName, summary string) (*AgentMessageEntry, error) {
	return t.AppendAgentMessage(agentName, []ContentPart{{Kind: ContentText, Text: summary}})
}

// DeleteFrom truncates the thread to just before entryID. Any
// ToolRequestEntry left without a matching ToolResponseEntry by the
// truncation is invalidated (the pending-response constraint is cleared).
// Used to implement "delete from here and retry" from a client.
func (t *Thread) DeleteFrom(entryID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i, e := range t.entries {
		if e.EntryID() == entryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("thread: entry %q not found", entryID)
	}

	t.entries = t.entries[:idx]
	t.modifiedAt = time.Now()

	// Recompute pending state: a truncation may cut off a ToolResponseEntry
	// while leaving its ToolRequestEntry intact, or remove both.
	t.pendingCallID = ""
	for _, e := range t.entries {
		switch ent := e.(type) {
		case *ToolRequestEntry:
			t.pendingCallID = ent.CallID
		case *ToolResponseEntry:
			t.pendingCallID = ""
		}
	}
	return nil
}

// FirstUserText returns the text of up to limit leading UserMessageEntry
// entries, concatenated with a newline, for auto-naming the thread after its
// first turn.
func (t *Thread) FirstUserText(limit int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if limit <= 0 {
		limit = 3
	}
	var out string
	found := 0
	for _, e := range t.entries {
		um, ok := e.(*UserMessageEntry)
		if !ok {
			continue
		}
		if found > 0 {
			out += "\n"
		}
		out += FirstText(um.Content)
		found++
		if found >= limit {
			break
		}
	}
	return out
}

// CountUserMessages returns how many UserMessageEntry entries the thread
// contains.
func (t *Thread) CountUserMessages() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.entries {
		if _, ok := e.(*UserMessageEntry); ok {
			n++
		}
	}
	return n
}

// LastAgentName returns the AgentName of the most recent AgentMessageEntry,
// or "" if none exists.
func (t *Thread) LastAgentName() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		if am, ok := t.entries[i].(*AgentMessageEntry); ok {
			return am.AgentName
		}
	}
	return ""
}
