package event

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisHistory is a History backed by a capped Redis stream, letting replay
// survive a process restart and be shared across multiple engine instances
// fronting the same session (e.g. behind a load balancer). Append is
// fire-and-forget from the caller's perspective: XAdd failures are reported
// to the supplied error sink rather than propagated, since History.Append
// must not block or fail Publish.
type RedisHistory struct {
	rdb      *redis.Client
	streamKey string
	capacity int64
	onError  func(error)
}

// RedisHistoryOptions configures a RedisHistory.
type RedisHistoryOptions struct {
	// Client is the Redis client used for XAdd/XRange.
	Client *redis.Client
	// SessionID scopes the stream key so unrelated sessions don't collide.
	SessionID string
	// Capacity bounds the stream length via XAdd MaxLen (approximate
	// trimming); raised to MinHistorySize if lower.
	Capacity int64
	// OnError receives errors from the fire-and-forget Append path. May be
	// nil, in which case errors are silently dropped.
	OnError func(error)
}

// NewRedisHistory constructs a RedisHistory for the given session.
func NewRedisHistory(opts RedisHistoryOptions) *RedisHistory {
	capacity := opts.Capacity
	if capacity < MinHistorySize {
		capacity = MinHistorySize
	}
	return &RedisHistory{
		rdb:       opts.Client,
		streamKey: redisHistoryKey(opts.SessionID),
		capacity:  int64(capacity),
		onError:   opts.OnError,
	}
}

func redisHistoryKey(sessionID string) string {
	return fmt.Sprintf("coday:events:%s", sessionID)
}

// Append publishes e onto the Redis stream, trimming to capacity.
func (h *RedisHistory) Append(e Event) {
	payload, err := Marshal(e)
	if err != nil {
		h.reportError(fmt.Errorf("marshal event for redis history: %w", err))
		return
	}
	ctx := context.Background()
	err = h.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: h.streamKey,
		MaxLen: h.capacity,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		h.reportError(fmt.Errorf("xadd event history: %w", err))
	}
}

// Snapshot returns the retained events oldest-first by reading the full
// stream. Malformed entries are skipped rather than failing the whole
// snapshot.
func (h *RedisHistory) Snapshot() []Event {
	ctx := context.Background()
	msgs, err := h.rdb.XRange(ctx, h.streamKey, "-", "+").Result()
	if err != nil {
		h.reportError(fmt.Errorf("xrange event history: %w", err))
		return nil
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["payload"].(string)
		if !ok {
			continue
		}
		e, err := Decode([]byte(raw))
		if err != nil {
			h.reportError(fmt.Errorf("decode event history entry %s: %w", m.ID, err))
			continue
		}
		out = append(out, e)
	}
	return out
}

func (h *RedisHistory) reportError(err error) {
	if h.onError != nil {
		h.onError(err)
	}
}
