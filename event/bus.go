package event

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/codayhq/coday/telemetry"
)

const (
	// DefaultSubscriberBuffer is the default bounded channel size for a
	// subscriber that has not requested a specific buffer depth.
	DefaultSubscriberBuffer = 256

	// HeartbeatMin and HeartbeatMax bound the jittered interval between
	// automatic Heartbeat events, keeping long-lived transports alive.
	HeartbeatMin = 20 * time.Second
	HeartbeatMax = 30 * time.Second
)

type (
	// Bus is a per-session, in-process fan-out of events to N live
	// subscribers, backed by a History for late-joiner replay. One Bus
	// instance belongs to exactly one Session.
	Bus struct {
		sessionID string
		ids       *Generator
		history   History
		logger    telemetry.Logger

		mu       sync.Mutex
		subs     map[*Subscription]chan Event
		closed   bool
		stopHeartbeat chan struct{}
	}

	// Subscription is a live registration on a Bus. Closing it stops
	// delivery to the associated channel and is safe to call more than once.
	Subscription struct {
		bus  *Bus
		once sync.Once
	}
)

// NewBus constructs a Bus for sessionID. history defaults to an in-memory
// ring buffer of MinHistorySize if nil. logger defaults to a no-op logger if
// nil. The returned Bus immediately starts its heartbeat goroutine; callers
// must call Close when the session ends.
func NewBus(sessionID string, ids *Generator, history History, logger telemetry.Logger) *Bus {
	if history == nil {
		history = NewRingHistory(MinHistorySize)
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	b := &Bus{
		sessionID:     sessionID,
		ids:           ids,
		history:       history,
		logger:        logger,
		subs:          make(map[*Subscription]chan Event),
		stopHeartbeat: make(chan struct{}),
	}
	go b.heartbeatLoop()
	return b
}

// Publish delivers event to every currently registered subscriber and
// records it in History. Publish is non-blocking: a subscriber whose
// channel is full is dropped rather than allowed to stall the publisher.
// FIFO order per session is preserved because Publish holds the bus lock for
// its whole duration, serializing concurrent publishers.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history.Append(e)
	for sub, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropLocked(sub, ch)
		}
	}
}

// dropLocked removes a slow subscriber, delivering a terminal ErrorEvent
// sentinel on a best-effort basis before closing its channel. Callers must
// hold b.mu.
func (b *Bus) dropLocked(sub *Subscription, ch chan Event) {
	delete(b.subs, sub)
	sentinel := NewError(b.ids, b.sessionID, "", "subscriber disconnected: too slow")
	select {
	case ch <- sentinel:
	default:
	}
	close(ch)
	b.logger.Warn(context.Background(), "event subscriber dropped for slow consumption", "sessionId", b.sessionID)
}

// Subscribe registers a new subscriber and returns the replay history
// (oldest-first) captured at registration time, a channel delivering every
// event published after that point, and a Subscription used to unregister.
func (b *Bus) Subscribe() ([]Event, <-chan Event, *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := b.history.Snapshot()
	ch := make(chan Event, DefaultSubscriberBuffer)
	sub := &Subscription{bus: b}
	if !b.closed {
		b.subs[sub] = ch
	} else {
		close(ch)
	}
	return snapshot, ch, sub
}

// Close closes every subscriber channel and stops the heartbeat goroutine.
// Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.stopHeartbeat)
	for sub, ch := range b.subs {
		delete(b.subs, sub)
		close(ch)
	}
}

// Close unregisters the subscription from its bus. Idempotent and safe to
// call concurrently.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if ch, ok := s.bus.subs[s]; ok {
			delete(s.bus.subs, s)
			close(ch)
		}
	})
}

func (b *Bus) heartbeatLoop() {
	for {
		interval := HeartbeatMin + time.Duration(rand.Int64N(int64(HeartbeatMax-HeartbeatMin)))
		timer := time.NewTimer(interval)
		select {
		case <-b.stopHeartbeat:
			timer.Stop()
			return
		case <-timer.C:
			b.Publish(NewHeartbeat(b.ids, b.sessionID))
		}
	}
}
