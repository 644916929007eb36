// Package scheduler fires configured commands on 5-field cron expressions
// (minute hour day month weekday, UTC, supporting *, N, */N) as if a user
// had typed the command: each firing submits through a Submitter, which a
// headless Session satisfies directly.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/codayhq/coday/runloop"
	"github.com/codayhq/coday/telemetry"
)

// Job is one scheduled invocation: a cron expression plus the command to
// submit when it fires.
type Job struct {
	// Name identifies the job in logs and next-run reports. Unique.
	Name string
	// Cron is the 5-field schedule, evaluated in UTC.
	Cron string
	// AgentPrefix is the explicit "@agent" prefix to resolve the command
	// against, or "" for the session's default selection chain.
	AgentPrefix string
	// Command is the user-message text submitted on each firing.
	Command string
}

// Submitter accepts a scheduled command the way a Session accepts a user
// message. session.Session satisfies it structurally.
type Submitter interface {
	SubmitMessage(ctx context.Context, explicitPrefix, text string) (*runloop.Result, error)
}

// Options configures a Scheduler.
type Options struct {
	Logger telemetry.Logger
	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Scheduler evaluates its job table once per minute and fires every due
// job. Firings run concurrently with the tick loop so a slow turn cannot
// delay the next evaluation.
type Scheduler struct {
	submit Submitter
	logger telemetry.Logger
	now    func() time.Time
	gron   gronx.Gronx

	mu        sync.Mutex
	jobs      []Job
	lastFired map[string]time.Time // job name -> minute of last firing
	wg        sync.WaitGroup
}

// New constructs a Scheduler over jobs, validating every cron expression up
// front.
func New(submit Submitter, jobs []Job, opts Options) (*Scheduler, error) {
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Scheduler{
		submit:    submit,
		logger:    opts.Logger,
		now:       opts.Now,
		gron:      *gronx.New(),
		lastFired: make(map[string]time.Time),
	}
	if err := s.Reload(context.Background(), jobs); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate reports whether expr is a parseable 5-field cron expression.
func Validate(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("scheduler: invalid cron expression %q", expr)
	}
	return nil
}

// NextRun computes the next UTC instant strictly after from at which expr
// fires. It is monotonically non-decreasing in from and always strictly
// greater than from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(expr, from.UTC(), false)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: next run of %q: %w", expr, err)
	}
	return next, nil
}

// Reload replaces the job table after validating it, then logs each job's
// recomputed next-run time so configuration changes republish the schedule.
func (s *Scheduler) Reload(ctx context.Context, jobs []Job) error {
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j.Name == "" {
			return fmt.Errorf("scheduler: job with empty name")
		}
		if seen[j.Name] {
			return fmt.Errorf("scheduler: duplicate job name %q", j.Name)
		}
		seen[j.Name] = true
		if err := Validate(j.Cron); err != nil {
			return fmt.Errorf("job %q: %w", j.Name, err)
		}
	}

	s.mu.Lock()
	s.jobs = append([]Job(nil), jobs...)
	s.mu.Unlock()

	from := s.now().UTC()
	for _, j := range jobs {
		next, err := NextRun(j.Cron, from)
		if err != nil {
			continue
		}
		s.logger.Info(ctx, "scheduler: job scheduled", "job", j.Name, "cron", j.Cron, "nextRun", next.Format(time.RFC3339))
	}
	return nil
}

// NextRuns reports each job's next firing strictly after from, keyed by
// job name.
func (s *Scheduler) NextRuns(from time.Time) map[string]time.Time {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	out := make(map[string]time.Time, len(jobs))
	for _, j := range jobs {
		next, err := NextRun(j.Cron, from)
		if err != nil {
			continue
		}
		out[j.Name] = next
	}
	return out
}

// Start runs the tick loop until ctx is cancelled, then waits for in-flight
// firings to finish.
func (s *Scheduler) Start(ctx context.Context) {
	for {
		now := s.now().UTC()
		next := now.Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.wg.Wait()
			return
		case <-timer.C:
			s.runDue(ctx, s.now().UTC())
		}
	}
}

// runDue fires every job whose expression matches now's minute and which
// has not already fired this minute.
func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	minute := now.Truncate(time.Minute)

	s.mu.Lock()
	var due []Job
	for _, j := range s.jobs {
		if s.lastFired[j.Name].Equal(minute) {
			continue
		}
		ok, err := s.gron.IsDue(j.Cron, now)
		if err != nil || !ok {
			continue
		}
		s.lastFired[j.Name] = minute
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		j := j
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.fire(ctx, j)
		}()
	}
}

func (s *Scheduler) fire(ctx context.Context, j Job) {
	s.logger.Info(ctx, "scheduler: firing job", "job", j.Name)
	if _, err := s.submit.SubmitMessage(ctx, j.AgentPrefix, j.Command); err != nil {
		s.logger.Warn(ctx, "scheduler: job failed", "job", j.Name, "error", err)
		return
	}
	s.logger.Info(ctx, "scheduler: job completed", "job", j.Name)
}
