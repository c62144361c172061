package model

import (
	"time"
)

// Job priorities.
const (
	PriorityLow    = 0
	PriorityMedium = 50
	PriorityHigh   = 100
)

// TestJob is a queued or executed test run.
type TestJob struct {
	ID          string    `json:"id"`
	Description string    `json:"description,omitempty"`
	Status      JobStatus `json:"status"`
	Submitter   string    `json:"submitter"`
	Priority    int       `json:"priority"`
	HealthCheck bool      `json:"health_check"`

	// RequestedDevice and RequestedDeviceType are mutually exclusive.
	RequestedDevice     string `json:"requested_device,omitempty"`
	RequestedDeviceType string `json:"requested_device_type,omitempty"`
	ActualDevice        string `json:"actual_device,omitempty"`

	IsMultinode bool   `json:"is_multinode"`
	TargetGroup string `json:"target_group,omitempty"`

	SubmitTokenID string `json:"-"`

	// Definition is the JSON job definition. Once a device is reserved it
	// carries the resolved target and submit token.
	Definition string `json:"-"`

	OutputDir      string `json:"output_dir,omitempty"`
	LogFile        string `json:"log_file,omitempty"`
	ResultsLink    string `json:"results_link,omitempty"`
	ResultsBundle  string `json:"results_bundle,omitempty"`
	FailureComment string `json:"failure_comment,omitempty"`

	SubmitTime time.Time  `json:"submit_time"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
}

// HasDevice returns true if a device has been reserved for the job.
func (j *TestJob) HasDevice() bool {
	return j.ActualDevice != ""
}

// Target returns the hostname the job runs on: the reserved device if
// any, otherwise the explicitly requested one.
func (j *TestJob) Target() string {
	if j.ActualDevice != "" {
		return j.ActualDevice
	}
	return j.RequestedDevice
}
