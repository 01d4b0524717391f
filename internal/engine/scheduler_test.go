package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	ptestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
	"github.com/donaldgifford/fleet-telemetry/internal/store"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

func noopJob(name string, interval time.Duration) Job {
	return Job{
		Name:     name,
		Interval: interval,
		Run:      func(context.Context) (int, error) { return 0, nil },
	}
}

func TestNewScheduler_RegistersCronEntries(t *testing.T) {
	t.Parallel()

	sched, err := NewScheduler(store.NewMemoryStore(), quietLogger(),
		noopJob(JobFleetPoll, 30*time.Minute),
		noopJob(JobAggregateRefresh, 30*time.Minute),
		noopJob(JobHealthCheck, time.Hour),
		noopJob("manual_only", 0),
	)
	require.NoError(t, err)

	assert.Len(t, sched.Entries(), 3)
	assert.Len(t, sched.entryIDs, 3)
	assert.NotContains(t, sched.entryIDs, "manual_only")
	assert.NotEqual(t, sched.entryIDs[JobFleetPoll], sched.entryIDs[JobHealthCheck])
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()

	sched, err := NewScheduler(store.NewMemoryStore(), quietLogger(), noopJob(JobFleetPoll, time.Hour))
	require.NoError(t, err)

	sched.Start()
	ctx := sched.Stop()
	<-ctx.Done()
}

func TestScheduler_SyncNextRunTimestamps(t *testing.T) {
	t.Parallel()

	sched, err := NewScheduler(store.NewMemoryStore(), quietLogger(),
		noopJob("sync_test_job", 15*time.Minute))
	require.NoError(t, err)

	sched.Start()
	defer sched.Stop()

	sched.SyncNextRunTimestamps()

	next := ptestutil.ToFloat64(metrics.SchedulerNextRunTimestamp.WithLabelValues("sync_test_job"))
	assert.Greater(t, next, float64(time.Now().Unix()))
}

func TestScheduler_NextRuns(t *testing.T) {
	t.Parallel()

	sched, err := NewScheduler(store.NewMemoryStore(), quietLogger(),
		noopJob(JobFleetPoll, 15*time.Minute),
		noopJob(JobHealthCheck, time.Hour),
		noopJob("manual_only", 0),
	)
	require.NoError(t, err)
	assert.Empty(t, sched.NextRuns(), "nothing is scheduled before Start")

	sched.Start()
	defer sched.Stop()

	next := sched.NextRuns()
	require.Len(t, next, 2)
	assert.NotContains(t, next, "manual_only")
	assert.True(t, next[JobFleetPoll].Before(next[JobHealthCheck]))
}

func TestScheduler_RunJob_Success(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	sched, err := NewScheduler(s, quietLogger())
	require.NoError(t, err)

	called := false
	rows, err := sched.runJob(context.Background(), "test-job", 5*time.Minute, func(ctx context.Context) (int, error) {
		called = true
		_, ok := ctx.Deadline()
		assert.True(t, ok, "job context carries the lock ttl")
		return 7, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 7, rows)

	runs, err := s.ListJobRuns(context.Background(), "test-job", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.JobStatusSucceeded, runs[0].Status)
	require.NotNil(t, runs[0].RowsAffected)
	assert.Equal(t, 7, *runs[0].RowsAffected)

	// The lock was released.
	ok, err := s.AcquireSchedulerLock(context.Background(), "test-job", "other", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScheduler_RunJob_Failure(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	sched, err := NewScheduler(s, quietLogger())
	require.NoError(t, err)

	jobErr := errors.New("something went wrong")
	_, err = sched.runJob(context.Background(), "fail-job", 5*time.Minute, func(context.Context) (int, error) {
		return 0, jobErr
	})
	require.ErrorIs(t, err, jobErr)

	runs, err := s.ListJobRuns(context.Background(), "fail-job", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.JobStatusFailed, runs[0].Status)
	assert.Equal(t, jobErr.Error(), runs[0].ErrorText)
}

func TestScheduler_RunJob_LockHeldElsewhere(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	ok, err := s.AcquireSchedulerLock(context.Background(), "locked-job", "other-instance", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	sched, err := NewScheduler(s, quietLogger())
	require.NoError(t, err)

	before := ptestutil.ToFloat64(metrics.JobLockSkipsTotal.WithLabelValues("locked-job"))
	called := false
	_, err = sched.runJob(context.Background(), "locked-job", time.Minute, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	require.ErrorIs(t, err, ErrJobLocked)
	assert.False(t, called)
	assert.InDelta(t, before+1, ptestutil.ToFloat64(metrics.JobLockSkipsTotal.WithLabelValues("locked-job")), 1e-9)

	runs, err := s.ListJobRuns(context.Background(), "locked-job", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestScheduler_RunNow(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	sched, err := NewScheduler(s, quietLogger(), Job{
		Name: "manual",
		Run:  func(context.Context) (int, error) { return 3, nil },
	})
	require.NoError(t, err)

	rows, err := sched.RunNow(context.Background(), "manual")
	require.NoError(t, err)
	assert.Equal(t, 3, rows)

	_, err = sched.RunNow(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUnknownJob)
}

func TestScheduler_RecoverStaleJobs(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	clk := newClock(t0)
	s.SetClock(clk.Now)

	id, err := s.InsertJobRun(context.Background(), JobFleetPoll)
	require.NoError(t, err)
	clk.Advance(3 * time.Hour)

	sched, err := NewScheduler(s, quietLogger())
	require.NoError(t, err)
	sched.RecoverStaleJobRuns(context.Background())

	runs, err := s.ListJobRuns(context.Background(), JobFleetPoll, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, domain.JobStatusCrashed, runs[0].Status)
}

func TestJobConstructors(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	src := &fakeSource{}
	poll := PollJob(NewPoller(src, newTestIngester(s), WithPollLogger(quietLogger())), 30*time.Minute)
	agg := AggregateJob(NewAggregator(s, WithAggregatorLogger(quietLogger())), 30*time.Minute)
	health := HealthCheckJob(NewAlertEngine(s, nil, WithAlertLogger(quietLogger())), time.Hour)

	sched, err := NewScheduler(s, quietLogger(), poll, agg, health)
	require.NoError(t, err)
	assert.Len(t, sched.Entries(), 3)

	for _, name := range []string{JobFleetPoll, JobAggregateRefresh, JobHealthCheck} {
		_, err := sched.RunNow(context.Background(), name)
		require.NoError(t, err, name)
	}

	latest, err := s.ListLatestJobRuns(context.Background())
	require.NoError(t, err)
	assert.Len(t, latest, 3)
}
