package client

import (
	"context"
	"net/url"
	"strconv"
	"time"

	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// TriggerResult is the outcome of a manually triggered job.
type TriggerResult struct {
	Job          string `json:"job"`
	Status       string `json:"status"`
	RowsAffected int    `json:"rows_affected"`
}

// ListJobs returns the most recent run for each distinct scheduled job.
func (c *Client) ListJobs(ctx context.Context) ([]domain.JobRun, error) {
	var runs []domain.JobRun
	if err := c.get(ctx, "/api/v1/jobs", nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// ScheduledJob is a job's next cron firing time.
type ScheduledJob struct {
	JobName string    `json:"job_name"`
	NextRun time.Time `json:"next_run"`
}

// JobHistoryParams filters a job history request. Zero values are omitted.
type JobHistoryParams struct {
	Limit  int
	Status string
}

// GetJobHistory returns the run history for a specific scheduled job.
func (c *Client) GetJobHistory(ctx context.Context, jobName string, p JobHistoryParams) ([]domain.JobRun, error) {
	q := map[string]string{}
	if p.Limit > 0 {
		q["limit"] = strconv.Itoa(p.Limit)
	}
	if p.Status != "" {
		q["status"] = p.Status
	}

	var runs []domain.JobRun
	if err := c.get(ctx, "/api/v1/jobs/"+url.PathEscape(jobName), q, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetSchedule returns the upcoming run of each interval-scheduled job.
func (c *Client) GetSchedule(ctx context.Context) ([]ScheduledJob, error) {
	var jobs []ScheduledJob
	if err := c.get(ctx, "/api/v1/schedule", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// TriggerPoll runs the provider poll now.
func (c *Client) TriggerPoll(ctx context.Context) (*TriggerResult, error) {
	return c.trigger(ctx, "/api/v1/poll")
}

// TriggerAggregateRefresh refreshes the continuous aggregates now.
func (c *Client) TriggerAggregateRefresh(ctx context.Context) (*TriggerResult, error) {
	return c.trigger(ctx, "/api/v1/aggregates/refresh")
}

// TriggerHealthCheck runs the fleet health checks now.
func (c *Client) TriggerHealthCheck(ctx context.Context) (*TriggerResult, error) {
	return c.trigger(ctx, "/api/v1/alerts/health-check")
}

func (c *Client) trigger(ctx context.Context, path string) (*TriggerResult, error) {
	var res TriggerResult
	if err := c.post(ctx, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// FleetOverview returns the dashboard KPIs for the caller's scope.
func (c *Client) FleetOverview(ctx context.Context) (*domain.FleetOverview, error) {
	var o domain.FleetOverview
	if err := c.get(ctx, "/api/v1/fleet/overview", nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
