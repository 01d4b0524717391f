package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// JobsProvider reads job_runs bookkeeping.
type JobsProvider interface {
	ListLatestJobRuns(ctx context.Context) ([]domain.JobRun, error)
	ListJobRuns(ctx context.Context, jobName string, limit int) ([]domain.JobRun, error)
}

// ScheduleSource reports when each cron-registered job fires next.
type ScheduleSource interface {
	NextRuns() map[string]time.Time
}

// JobsHandler serves scheduler run history and the upcoming schedule.
type JobsHandler struct {
	runs     JobsProvider
	schedule ScheduleSource
}

// NewJobsHandler creates a JobsHandler. schedule may be nil, in which case
// the schedule endpoint returns an empty list.
func NewJobsHandler(runs JobsProvider, schedule ScheduleSource) *JobsHandler {
	return &JobsHandler{runs: runs, schedule: schedule}
}

// ListJobsOutput holds the newest run of every job that has run at least once.
type ListJobsOutput struct {
	Body []domain.JobRun
}

// GetJobHistoryInput selects and filters one job's runs.
type GetJobHistoryInput struct {
	JobName string `path:"job_name" enum:"fleet_poll,aggregate_refresh,health_check" doc:"Scheduled job name"`
	Limit   int    `query:"limit" minimum:"1" maximum:"200" default:"20" doc:"Maximum runs fetched"`
	Status  string `query:"status" enum:"running,succeeded,failed,crashed" doc:"Only return runs in this state"`
}

// GetJobHistoryOutput holds one job's runs, newest first.
type GetJobHistoryOutput struct {
	Body []domain.JobRun
}

// ScheduledJob is one cron entry's next firing time.
type ScheduledJob struct {
	JobName string    `json:"job_name" example:"fleet_poll"`
	NextRun time.Time `json:"next_run"`
}

// GetScheduleOutput lists scheduled jobs ordered by next run.
type GetScheduleOutput struct {
	Body []ScheduledJob
}

// ListJobs returns the latest run per job.
func (h *JobsHandler) ListJobs(ctx context.Context, _ *struct{}) (*ListJobsOutput, error) {
	runs, err := h.runs.ListLatestJobRuns(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing jobs failed: " + err.Error())
	}
	return &ListJobsOutput{Body: nonNilRuns(runs)}, nil
}

// GetJobHistory returns up to limit runs of one job. The status filter is
// applied to the fetched page, so fewer than limit rows may come back.
func (h *JobsHandler) GetJobHistory(ctx context.Context, in *GetJobHistoryInput) (*GetJobHistoryOutput, error) {
	runs, err := h.runs.ListJobRuns(ctx, in.JobName, in.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("fetching job history failed: " + err.Error())
	}

	if in.Status != "" {
		kept := runs[:0:0]
		for _, r := range runs {
			if r.Status == in.Status {
				kept = append(kept, r)
			}
		}
		runs = kept
	}
	return &GetJobHistoryOutput{Body: nonNilRuns(runs)}, nil
}

// GetSchedule returns the next run time of every job on the cron.
func (h *JobsHandler) GetSchedule(_ context.Context, _ *struct{}) (*GetScheduleOutput, error) {
	out := &GetScheduleOutput{Body: []ScheduledJob{}}
	if h.schedule == nil {
		return out, nil
	}

	for name, next := range h.schedule.NextRuns() {
		out.Body = append(out.Body, ScheduledJob{JobName: name, NextRun: next.UTC()})
	}
	sort.Slice(out.Body, func(i, j int) bool {
		if out.Body[i].NextRun.Equal(out.Body[j].NextRun) {
			return out.Body[i].JobName < out.Body[j].JobName
		}
		return out.Body[i].NextRun.Before(out.Body[j].NextRun)
	})
	return out, nil
}

func nonNilRuns(runs []domain.JobRun) []domain.JobRun {
	if runs == nil {
		return []domain.JobRun{}
	}
	return runs
}

// RegisterJobRoutes registers scheduler job endpoints with the Huma API.
func RegisterJobRoutes(api huma.API, h *JobsHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs",
		Summary:     "List latest job runs",
		Description: "Returns the newest job_runs row for each job that has run.",
		Tags:        []string{"operations"},
		Errors:      []int{http.StatusInternalServerError},
	}, h.ListJobs)

	huma.Register(api, huma.Operation{
		OperationID: "get-job-history",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{job_name}",
		Summary:     "Get job history",
		Description: "Returns one job's runs newest first, optionally filtered by status.",
		Tags:        []string{"operations"},
		Errors:      []int{http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, h.GetJobHistory)

	huma.Register(api, huma.Operation{
		OperationID: "get-job-schedule",
		Method:      http.MethodGet,
		Path:        "/api/v1/schedule",
		Summary:     "Get upcoming job runs",
		Description: "Returns when each interval-scheduled job fires next. " +
			"Jobs with a zero interval only run on demand and are omitted.",
		Tags: []string{"operations"},
	}, h.GetSchedule)
}
