package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
	"github.com/donaldgifford/fleet-telemetry/internal/store"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// Scheduled job names.
const (
	JobFleetPoll        = "fleet_poll"
	JobAggregateRefresh = "aggregate_refresh"
	JobHealthCheck      = "health_check"
)

const (
	defaultLockTTL = 30 * time.Minute
	staleJobAge    = 2 * time.Hour
)

var (
	// ErrJobLocked is returned when another instance holds the job's lock.
	ErrJobLocked = errors.New("job is already running")
	// ErrUnknownJob is returned by RunNow for an unregistered job name.
	ErrUnknownJob = errors.New("unknown job")
)

// JobFunc runs one job and reports how many rows it affected.
type JobFunc func(ctx context.Context) (int, error)

// Job is a periodic task. A zero Interval registers the job for manual
// runs only.
type Job struct {
	Name     string
	Interval time.Duration
	// LockTTL bounds both the scheduler lock and the run's context.
	LockTTL time.Duration
	Run     JobFunc
}

// PollJob wraps Poller.Poll as a scheduled job.
func PollJob(p *Poller, interval time.Duration) Job {
	return Job{
		Name:     JobFleetPoll,
		Interval: interval,
		LockTTL:  max(interval, defaultLockTTL),
		Run: func(ctx context.Context) (int, error) {
			res, err := p.Poll(ctx)
			if res == nil {
				return 0, err
			}
			return res.Rows(), err
		},
	}
}

// AggregateJob wraps Aggregator.Refresh as a scheduled job.
func AggregateJob(a *Aggregator, interval time.Duration) Job {
	return Job{
		Name:     JobAggregateRefresh,
		Interval: interval,
		LockTTL:  defaultLockTTL,
		Run: func(ctx context.Context) (int, error) {
			return 0, a.Refresh(ctx)
		},
	}
}

// HealthCheckJob wraps AlertEngine.RunHealthChecks as a scheduled job.
func HealthCheckJob(e *AlertEngine, interval time.Duration) Job {
	return Job{
		Name:     JobHealthCheck,
		Interval: interval,
		LockTTL:  defaultLockTTL,
		Run:      e.RunHealthChecks,
	}
}

// Scheduler runs jobs on cron schedules. Every run, scheduled or manual,
// takes a store-backed lock so only one instance executes a job at a time,
// and is recorded in job_runs.
type Scheduler struct {
	cron     *cron.Cron
	store    store.Store
	log      *slog.Logger
	holder   string
	jobs     map[string]Job
	entryIDs map[string]cron.EntryID
}

// NewScheduler creates a Scheduler and registers jobs with a non-zero
// interval on the cron.
func NewScheduler(s store.Store, log *slog.Logger, jobs ...Job) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}

	sched := &Scheduler{
		cron:     cron.New(),
		store:    s,
		log:      log,
		holder:   uuid.NewString(),
		jobs:     make(map[string]Job, len(jobs)),
		entryIDs: make(map[string]cron.EntryID, len(jobs)),
	}

	for _, job := range jobs {
		if job.LockTTL <= 0 {
			job.LockTTL = defaultLockTTL
		}
		sched.jobs[job.Name] = job
		if job.Interval <= 0 {
			continue
		}

		id, err := sched.cron.AddFunc("@every "+job.Interval.String(), func() {
			sched.runScheduled(job)
		})
		if err != nil {
			return nil, fmt.Errorf("scheduling %s: %w", job.Name, err)
		}
		sched.entryIDs[job.Name] = id
	}

	return sched, nil
}

// Start begins running scheduled tasks.
func (s *Scheduler) Start() {
	s.log.Info("scheduler started", "jobs", len(s.entryIDs))
	s.cron.Start()
	s.SyncNextRunTimestamps()
}

// Stop gracefully stops the scheduler, waiting for running jobs to finish.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("scheduler stopping")
	return s.cron.Stop()
}

// Entries returns the registered cron entries for inspection.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// NextRuns returns the next fire time of each cron-registered job. Empty
// until Start has been called.
func (s *Scheduler) NextRuns() map[string]time.Time {
	out := make(map[string]time.Time, len(s.entryIDs))
	for name, id := range s.entryIDs {
		if next := s.cron.Entry(id).Next; !next.IsZero() {
			out[name] = next
		}
	}
	return out
}

// SyncNextRunTimestamps publishes each job's next run time as a gauge.
func (s *Scheduler) SyncNextRunTimestamps() {
	for name, id := range s.entryIDs {
		next := s.cron.Entry(id).Next
		if next.IsZero() {
			continue
		}
		metrics.SchedulerNextRunTimestamp.WithLabelValues(name).Set(float64(next.Unix()))
	}
}

// RunNow runs a registered job immediately under the same lock and run
// bookkeeping as a scheduled run.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	job, ok := s.jobs[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.runJob(ctx, job.Name, job.LockTTL, job.Run)
}

// RecoverStaleJobRuns marks runs left in running state by a crashed
// instance as crashed. Called once at startup.
func (s *Scheduler) RecoverStaleJobRuns(ctx context.Context) {
	n, err := s.store.RecoverStaleJobRuns(ctx, staleJobAge)
	if err != nil {
		s.log.Error("recovering stale job runs failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Warn("marked stale job runs as crashed", "count", n)
	}
}

func (s *Scheduler) runScheduled(job Job) {
	defer s.SyncNextRunTimestamps()

	s.log.Info("scheduled job starting", "job", job.Name)
	rows, err := s.runJob(context.Background(), job.Name, job.LockTTL, job.Run)
	switch {
	case errors.Is(err, ErrJobLocked):
		s.log.Info("scheduled job skipped, lock held elsewhere", "job", job.Name)
	case err != nil:
		s.log.Error("scheduled job failed", "job", job.Name, "error", err)
	default:
		s.log.Info("scheduled job complete", "job", job.Name, "rows", rows)
	}
}

// runJob acquires the job lock, records the run and executes fn with a
// context bounded by lockTTL.
func (s *Scheduler) runJob(ctx context.Context, name string, lockTTL time.Duration, fn JobFunc) (int, error) {
	ok, err := s.store.AcquireSchedulerLock(ctx, name, s.holder, lockTTL)
	if err != nil {
		return 0, fmt.Errorf("acquiring %s lock: %w", name, err)
	}
	if !ok {
		metrics.JobLockSkipsTotal.WithLabelValues(name).Inc()
		return 0, ErrJobLocked
	}
	defer func() {
		if err := s.store.ReleaseSchedulerLock(context.WithoutCancel(ctx), name, s.holder); err != nil {
			s.log.Warn("releasing scheduler lock failed", "job", name, "error", err)
		}
	}()

	runID, err := s.store.InsertJobRun(ctx, name)
	if err != nil {
		s.log.Warn("recording job start failed", "job", name, "error", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, lockTTL)
	defer cancel()

	rows, jobErr := fn(runCtx)

	status, errText := domain.JobStatusSucceeded, ""
	if jobErr != nil {
		status, errText = domain.JobStatusFailed, jobErr.Error()
	}
	metrics.JobRunsTotal.WithLabelValues(name, status).Inc()

	if runID != "" {
		if err := s.store.CompleteJobRun(context.WithoutCancel(ctx), runID, status, errText, rows); err != nil {
			s.log.Warn("recording job completion failed", "job", name, "error", err)
		}
	}

	return rows, jobErr
}
