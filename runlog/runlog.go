// Package runlog defines the durable execution trace a RunLoop writes
// through runloop.Recorder, parallel to but independent of the
// user-visible Thread: every model call, tool invocation, and turn
// boundary, queryable later for debugging or audit without touching
// Thread persistence. sqlitestore provides the only storage
// implementation this module ships.
package runlog

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one entry of the execution trace. Cursor is opaque: callers
// pass it back to ListSince verbatim to resume after the last record they
// saw and must not parse or compare it themselves.
type Record struct {
	Cursor    string
	SessionID string
	TurnID    string
	Kind      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Reader queries the execution trace independent of Thread persistence.
// sqlitestore.Store implements this alongside runloop.Recorder.
type Reader interface {
	// ListSince returns up to limit records for sessionID recorded after
	// cursor, oldest first, plus the cursor to pass on the next call.
	// cursor == "" starts from the beginning of the session's trace.
	ListSince(ctx context.Context, sessionID, cursor string, limit int) ([]Record, string, error)
}
