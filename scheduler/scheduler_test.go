package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/codayhq/coday/runloop"
)

type recordingSubmitter struct {
	mu       sync.Mutex
	calls    []string
	prefixes []string
}

func (r *recordingSubmitter) SubmitMessage(ctx context.Context, explicitPrefix, text string) (*runloop.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, text)
	r.prefixes = append(r.prefixes, explicitPrefix)
	return &runloop.Result{FinalText: "done"}, nil
}

func (r *recordingSubmitter) submitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate("* * * * *"))
	require.NoError(t, Validate("*/5 2 * * *"))
	require.NoError(t, Validate("30 14 1 6 0"))
	require.Error(t, Validate("not a cron"))
	require.Error(t, Validate("* * * *"))
}

func TestNextRunStrictlyAfterFrom(t *testing.T) {
	from := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	next, err := NextRun("30 14 * * *", from)
	require.NoError(t, err)
	require.True(t, next.After(from), "next run at the same minute must advance to the next day")
	require.Equal(t, time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC), next)
}

func TestNextRunEveryN(t *testing.T) {
	from := time.Date(2025, 6, 1, 14, 3, 0, 0, time.UTC)
	next, err := NextRun("*/5 * * * *", from)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 6, 1, 14, 5, 0, 0, time.UTC), next)
}

// TestNextRunMonotone verifies the cron determinism property: nextRun is
// monotonically non-decreasing in from and strictly greater than from.
func TestNextRunMonotone(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	exprs := []string{"* * * * *", "*/7 * * * *", "15 3 * * *", "0 */6 * * 1"}

	properties.Property("nextRun(from) > from and nextRun monotone in from", prop.ForAll(
		func(exprIdx, offsetA, offsetB int) bool {
			expr := exprs[exprIdx%len(exprs)]
			fromA := base.Add(time.Duration(offsetA) * time.Minute)
			fromB := base.Add(time.Duration(offsetB) * time.Minute)
			if fromB.Before(fromA) {
				fromA, fromB = fromB, fromA
			}
			nextA, errA := NextRun(expr, fromA)
			nextB, errB := NextRun(expr, fromB)
			if errA != nil || errB != nil {
				return false
			}
			if !nextA.After(fromA) || !nextB.After(fromB) {
				return false
			}
			return !nextB.Before(nextA)
		},
		gen.IntRange(0, 3),
		gen.IntRange(0, 500000),
		gen.IntRange(0, 500000),
	))

	properties.TestingRun(t)
}

func TestNewRejectsBadJobs(t *testing.T) {
	sub := &recordingSubmitter{}
	_, err := New(sub, []Job{{Name: "bad", Cron: "nope", Command: "x"}}, Options{})
	require.Error(t, err)

	_, err = New(sub, []Job{{Cron: "* * * * *", Command: "x"}}, Options{})
	require.Error(t, err, "empty name rejected")

	_, err = New(sub, []Job{
		{Name: "dup", Cron: "* * * * *", Command: "x"},
		{Name: "dup", Cron: "* * * * *", Command: "y"},
	}, Options{})
	require.Error(t, err, "duplicate names rejected")
}

func TestRunDueFiresMatchingJobs(t *testing.T) {
	sub := &recordingSubmitter{}
	now := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	s, err := New(sub, []Job{
		{Name: "daily", Cron: "30 14 * * *", AgentPrefix: "researcher", Command: "summarise the news"},
		{Name: "other", Cron: "0 9 * * *", Command: "not due"},
	}, Options{Now: func() time.Time { return now }})
	require.NoError(t, err)

	s.runDue(context.Background(), now)
	s.wg.Wait()

	require.Equal(t, []string{"summarise the news"}, sub.submitted())
	require.Equal(t, []string{"researcher"}, sub.prefixes)
}

func TestRunDueDoesNotDoubleFireWithinAMinute(t *testing.T) {
	sub := &recordingSubmitter{}
	now := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	s, err := New(sub, []Job{{Name: "daily", Cron: "30 14 * * *", Command: "go"}},
		Options{Now: func() time.Time { return now }})
	require.NoError(t, err)

	s.runDue(context.Background(), now)
	s.runDue(context.Background(), now.Add(20*time.Second))
	s.wg.Wait()

	require.Len(t, sub.submitted(), 1)
}

func TestNextRunsReportsEveryJob(t *testing.T) {
	sub := &recordingSubmitter{}
	s, err := New(sub, []Job{
		{Name: "a", Cron: "* * * * *", Command: "x"},
		{Name: "b", Cron: "0 0 1 1 *", Command: "y"},
	}, Options{})
	require.NoError(t, err)

	from := time.Date(2025, 6, 1, 0, 0, 30, 0, time.UTC)
	runs := s.NextRuns(from)
	require.Len(t, runs, 2)
	require.Equal(t, time.Date(2025, 6, 1, 0, 1, 0, 0, time.UTC), runs["a"])
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), runs["b"])
}

func TestReloadSwapsJobTable(t *testing.T) {
	sub := &recordingSubmitter{}
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s, err := New(sub, []Job{{Name: "old", Cron: "0 10 * * *", Command: "old"}},
		Options{Now: func() time.Time { return now }})
	require.NoError(t, err)

	require.NoError(t, s.Reload(context.Background(), []Job{{Name: "new", Cron: "0 10 * * *", Command: "new"}}))
	s.runDue(context.Background(), now)
	s.wg.Wait()

	require.Equal(t, []string{"new"}, sub.submitted())
}
