// Package session pins user-visible engine state to a single client
// identity: the active project, the active thread, the last agent used,
// and the turn queue that serialises that client's RunLoops. A Session is
// the entry point a transport (CLI, HTTP, TUI) drives.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/codayhq/coday/agent"
	"github.com/codayhq/coday/agentregistry"
	"github.com/codayhq/coday/event"
	"github.com/codayhq/coday/runloop"
	"github.com/codayhq/coday/telemetry"
	"github.com/codayhq/coday/thread"
)

// DefaultMaxDelegationDepth bounds how many nested delegate calls a turn
// may make, matching thread.MaxForkDepth.
const DefaultMaxDelegationDepth = thread.MaxForkDepth

// DefaultQueueSize bounds how many submitted turns may wait behind the one
// currently running before SubmitMessage blocks the caller.
const DefaultQueueSize = 32

// ErrSessionClosed is returned by operations submitted after Close.
var ErrSessionClosed = errors.New("session: closed")

type (
	// Registry is the subset of agentregistry.Registry a Session drives.
	// Kept as an interface so tests can substitute a fake without importing
	// the real package's build machinery.
	Registry interface {
		runloop.AgentResolver
		SelectAgent(ctx context.Context, explicitPrefix, lastUsed string, prefs agentregistry.UserPreferences, project string, onFallback func(step string)) (*agent.Agent, error)
		SetProject(ctx context.Context, project string) error
	}

	// Session serialises one client's turns against a single Thread,
	// resolves agents through Registry, and correlates Invite/Choice
	// answers by parentId rather than arrival order.
	Session struct {
		id          string
		bus         *event.Bus
		ids         *event.Generator
		registry    Registry
		threadStore thread.Store
		prefs       agentregistry.UserPreferences
		baseOpts    runloop.Options
		logger      telemetry.Logger
		maxDepth    int

		mu            sync.Mutex
		project       string
		th            *thread.Thread
		lastAgentName string
		cancel        context.CancelFunc
		pending       map[string]chan string // InviteEvent/ChoiceEvent id -> answer channel

		queue  chan *turnRequest
		closed chan struct{}
		once   sync.Once
	}

	// Options configures a Session beyond its mandatory wiring.
	Options struct {
		Logger             telemetry.Logger
		Prefs              agentregistry.UserPreferences
		MaxDelegationDepth int
		QueueSize          int
		RunLoopOptions     runloop.Options
	}

	turnRequest struct {
		ctx    context.Context
		prefix string
		input  string
		done   chan turnOutcome
	}

	turnOutcome struct {
		result *runloop.Result
		err    error
	}
)

// New constructs a Session for clientID, bound to bus/ids for event
// publication, registry for agent resolution, and initialThread as the
// starting conversation. The worker goroutine that drains the turn queue
// starts immediately; callers must call Close when the client disconnects.
func New(clientID string, bus *event.Bus, ids *event.Generator, registry Registry, threadStore thread.Store, initialThread *thread.Thread, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.MaxDelegationDepth <= 0 {
		opts.MaxDelegationDepth = DefaultMaxDelegationDepth
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	s := &Session{
		id:          clientID,
		bus:         bus,
		ids:         ids,
		registry:    registry,
		threadStore: threadStore,
		prefs:       opts.Prefs,
		baseOpts:    opts.RunLoopOptions,
		logger:      opts.Logger,
		maxDepth:    opts.MaxDelegationDepth,
		th:          initialThread,
		pending:     make(map[string]chan string),
		queue:       make(chan *turnRequest, opts.QueueSize),
		closed:      make(chan struct{}),
	}
	go s.run()
	return s
}

// ID returns the session's client identity.
func (s *Session) ID() string { return s.id }

// Thread returns the session's currently active thread.
func (s *Session) Thread() *thread.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.th
}

// Project returns the session's currently selected project name.
func (s *Session) Project() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project
}

// SubmitMessage enqueues text as a new user turn and blocks until it runs
// to completion (or ctx is cancelled while the turn is still queued or
// running). explicitPrefix is the "@agentName" prefix the user typed, or ""
// to fall through to the registry's last-used/preferred/coday chain.
func (s *Session) SubmitMessage(ctx context.Context, explicitPrefix, text string) (*runloop.Result, error) {
	done := make(chan turnOutcome, 1)
	if err := s.enqueue(ctx, explicitPrefix, text, done); err != nil {
		return nil, err
	}
	select {
	case out := <-done:
		return out.result, out.err
	case <-s.closed:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) enqueue(ctx context.Context, prefix, input string, done chan turnOutcome) error {
	req := &turnRequest{ctx: ctx, prefix: prefix, input: input, done: done}
	select {
	case s.queue <- req:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drains the turn queue one request at a time, giving the session its
// FIFO, one-RunLoop-at-a-time guarantee.
func (s *Session) run() {
	for {
		select {
		case req := <-s.queue:
			s.processTurn(req)
		case <-s.closed:
			return
		}
	}
}

func (s *Session) processTurn(req *turnRequest) {
	turnCtx, cancel := context.WithCancel(req.ctx)
	s.mu.Lock()
	s.cancel = cancel
	project := s.project
	lastUsed := s.lastAgentName
	th := s.th
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	ag, err := s.registry.SelectAgent(turnCtx, req.prefix, lastUsed, s.prefs, project, func(step string) {
		s.logger.Debug(turnCtx, "session: agent selection fallback", "sessionId", s.id, "step", step)
	})
	if err != nil {
		s.bus.Publish(event.NewError(s.ids, s.id, "", "agent selection failed: "+err.Error()))
		deliver(req.done, nil, err)
		return
	}

	opts := s.baseOpts
	opts.Resolver = s.registry
	depth := s.maxDepth

	result, err := ag.Run(turnCtx, s.id, req.input, th, s.bus, s.ids, &depth, opts)

	if err == nil || errors.Is(err, runloop.ErrInterrupted) {
		s.mu.Lock()
		s.lastAgentName = ag.Name()
		s.mu.Unlock()
	}
	if err != nil && !errors.Is(err, runloop.ErrInterrupted) {
		s.bus.Publish(event.NewError(s.ids, s.id, "", err.Error()))
	}
	deliver(req.done, result, err)
}

func deliver(done chan turnOutcome, result *runloop.Result, err error) {
	if done == nil {
		return
	}
	done <- turnOutcome{result: result, err: err}
}

// Stop asserts the session's cancellation token against whichever turn is
// currently running. It is a no-op (returns false) when no turn is active.
// Cancellation is cooperative: it propagates to the model stream, in-flight
// tools, and any child delegated RunLoop transitively.
func (s *Session) Stop() bool {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// AwaitInvite publishes an open-ended InviteEvent and blocks until a
// matching AnswerEvent (one whose parentId equals this invite's id) arrives
// via SubmitAnswer, or ctx is cancelled. Tools that need to ask the user a
// question during their own execution call this directly.
func (s *Session) AwaitInvite(ctx context.Context, parentID, invite, defaultValue string) (string, error) {
	evt := event.NewInvite(s.ids, s.id, parentID, invite, defaultValue)
	return s.awaitAnswer(ctx, evt)
}

// AwaitChoice publishes a ChoiceEvent offering a fixed option set and blocks
// for the matching AnswerEvent, the same way AwaitInvite does.
func (s *Session) AwaitChoice(ctx context.Context, parentID, invite string, options []string, optionalQuestion string) (string, error) {
	evt := event.NewChoice(s.ids, s.id, parentID, invite, options, optionalQuestion)
	return s.awaitAnswer(ctx, evt)
}

func (s *Session) awaitAnswer(ctx context.Context, evt event.Event) (string, error) {
	ch := make(chan string, 1)
	s.mu.Lock()
	s.pending[evt.ID()] = ch
	s.mu.Unlock()

	s.bus.Publish(evt)

	select {
	case answer := <-ch:
		return answer, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, evt.ID())
		s.mu.Unlock()
		return "", ctx.Err()
	}
}

// SubmitAnswer resolves a client's AnswerEvent. If parentID matches a
// pending Invite/Choice, it unblocks that waiter directly, bypassing the
// turn queue entirely (answers correlate by parentId, not arrival order). If it
// matches nothing pending - including the zero value, an unsolicited answer
// - the answer text is queued as an ordinary new user turn instead, without
// blocking the caller for the turn's completion.
func (s *Session) SubmitAnswer(ctx context.Context, parentID, answer string) error {
	evt := event.NewAnswer(s.ids, s.id, parentID, answer)
	s.bus.Publish(evt)

	s.mu.Lock()
	ch, ok := s.pending[parentID]
	if ok {
		delete(s.pending, parentID)
	}
	s.mu.Unlock()

	if ok {
		ch <- answer
		return nil
	}

	return s.enqueue(ctx, "", answer, nil)
}

// SelectProject switches the session's active project, propagating to the
// Registry so its definition and Agent caches are rebuilt for the new
// project, then publishes ProjectSelected.
func (s *Session) SelectProject(ctx context.Context, project string) error {
	if err := s.registry.SetProject(ctx, project); err != nil {
		return fmt.Errorf("session: select project %q: %w", project, err)
	}
	s.mu.Lock()
	s.project = project
	s.mu.Unlock()
	s.bus.Publish(event.NewProjectSelected(s.ids, s.id, project))
	return nil
}

// SelectThread loads threadID from the session's thread.Store and makes it
// the active thread.
func (s *Session) SelectThread(ctx context.Context, threadID string) error {
	if s.threadStore == nil {
		return fmt.Errorf("session: no thread store configured")
	}
	th, err := s.threadStore.Load(threadID)
	if err != nil {
		return fmt.Errorf("session: load thread %q: %w", threadID, err)
	}
	s.mu.Lock()
	s.th = th
	s.lastAgentName = th.LastAgentName()
	s.mu.Unlock()
	s.bus.Publish(event.NewThreadSelected(s.ids, s.id, th.ID(), th.Name()))
	return nil
}

// DeleteThreadEntry truncates the active thread to just before entryID and
// persists the result, implementing the client's "delete from here and
// retry" client command.
func (s *Session) DeleteThreadEntry(entryID string) error {
	s.mu.Lock()
	th := s.th
	s.mu.Unlock()
	if th == nil {
		return fmt.Errorf("session: no active thread")
	}
	if err := th.DeleteFrom(entryID); err != nil {
		return err
	}
	if s.threadStore != nil {
		if err := s.threadStore.Save(th); err != nil {
			return fmt.Errorf("session: persist thread after delete: %w", err)
		}
	}
	return nil
}

// Close stops the session's worker goroutine and closes its event bus. Any
// turn still queued is never run; SubmitMessage callers waiting on it
// receive ErrSessionClosed. Close is idempotent.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.bus.Close()
	})
}
