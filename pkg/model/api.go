package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// JobSummary is the dispatch-facing view of a job returned by getJobList.
type JobSummary struct {
	ID          string `json:"id"`
	Device      string `json:"device"`
	Priority    int    `json:"priority"`
	HealthCheck bool   `json:"health_check"`
	TargetGroup string `json:"target_group,omitempty"`
}

// Summarize builds the JobSummary for j.
func Summarize(j *TestJob) JobSummary {
	return JobSummary{
		ID:          j.ID,
		Device:      j.ActualDevice,
		Priority:    j.Priority,
		HealthCheck: j.HealthCheck,
		TargetGroup: j.TargetGroup,
	}
}

// CompletionReport is the body of a jobCompleted call.
type CompletionReport struct {
	ExitCode   int    `json:"exit_code"`
	KillReason string `json:"kill_reason,omitempty"`
}
