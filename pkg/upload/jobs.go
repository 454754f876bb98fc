package upload

import (
	"context"
	"encoding/json"
	"time"

	"github.com/photoprep/photoprep/pkg/fault"
)

// JobState is the remote processing state of a submitted asset.
type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// JobStatus is one observation of the job-status boundary.
type JobStatus struct {
	JobID     string   `json:"jobId"`
	Status    JobState `json:"status"`
	ResultRef string   `json:"resultRef,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Terminal reports whether the job reached a final state.
func (s JobStatus) Terminal() bool {
	return s.Status == JobCompleted || s.Status == JobFailed
}

// JobStatusFunc yields the current status of a remote job. The pipeline only
// consumes this channel; it does not implement the job runner.
type JobStatusFunc func(ctx context.Context, jobID string) (*JobStatus, error)

// JobStatus fetches the current state of a remote processing job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	endpoint := c.baseURL.JoinPath("/v1/jobs", jobID).String()
	req, err := newGetRequest(ctx, endpoint, c.apiKey)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.Newf(fault.KindNetwork, "connection_failed",
			"failed to reach job service: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	var status JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fault.Newf(fault.KindUpload, "bad_response",
			"job service returned an unreadable response: %v", err)
	}
	return &status, nil
}

// WaitForJob polls the job-status boundary until the job reaches a terminal
// state or the context is cancelled. The poll delay is a cancellable timer.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (*JobStatus, error) {
	return WaitForJob(ctx, c.JobStatus, jobID, interval)
}

// WaitForJob drives an arbitrary status source to a terminal state.
func WaitForJob(ctx context.Context, fetch JobStatusFunc, jobID string, interval time.Duration) (*JobStatus, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := fetch(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
