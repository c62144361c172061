package model

// DeviceStatus represents the lifecycle state of a Device.
type DeviceStatus string

const (
	DeviceIdle      DeviceStatus = "IDLE"
	DeviceReserved  DeviceStatus = "RESERVED"
	DeviceRunning   DeviceStatus = "RUNNING"
	DeviceOffline   DeviceStatus = "OFFLINE"
	DeviceOfflining DeviceStatus = "OFFLINING"
	DeviceRetired   DeviceStatus = "RETIRED"
)

// String returns the string representation of the device status.
func (s DeviceStatus) String() string {
	return string(s)
}

// IsBusy returns true if a job is bound to a device in this status.
func (s DeviceStatus) IsBusy() bool {
	return s == DeviceReserved || s == DeviceRunning
}

// Released returns the status a device falls back to once its job has
// ended: RUNNING and RESERVED become IDLE, OFFLINING becomes OFFLINE.
// The second return value is false for statuses with no job to release.
func (s DeviceStatus) Released() (DeviceStatus, bool) {
	switch s {
	case DeviceRunning, DeviceReserved:
		return DeviceIdle, true
	case DeviceOfflining:
		return DeviceOffline, true
	case DeviceIdle:
		return DeviceIdle, true
	}
	return DeviceIdle, false
}

// Maintenance returns the status a device moves to when it is put into
// maintenance mode: busy devices finish their job first (OFFLINING).
func (s DeviceStatus) Maintenance() DeviceStatus {
	switch s {
	case DeviceReserved, DeviceRunning, DeviceOfflining:
		return DeviceOfflining
	}
	return DeviceOffline
}

// HealthStatus records the outcome of the last health check on a device.
type HealthStatus string

const (
	HealthUnknown HealthStatus = "UNKNOWN"
	// HealthLooping keeps a device running health checks back to back and
	// is never overwritten by a health check result.
	HealthLooping HealthStatus = "LOOPING"
	HealthPass    HealthStatus = "PASS"
	HealthFail    HealthStatus = "FAIL"
)

// JobStatus represents the lifecycle state of a TestJob.
type JobStatus string

const (
	JobSubmitted  JobStatus = "SUBMITTED"
	JobRunning    JobStatus = "RUNNING"
	JobCanceling  JobStatus = "CANCELING"
	JobCanceled   JobStatus = "CANCELED"
	JobComplete   JobStatus = "COMPLETE"
	JobIncomplete JobStatus = "INCOMPLETE"
)

// String returns the string representation of the job status.
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the job is in a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobComplete, JobIncomplete, JobCanceled:
		return true
	}
	return false
}

// LiveJobStatuses are the statuses in which a job may hold a device.
var LiveJobStatuses = []JobStatus{JobSubmitted, JobRunning, JobCanceling}

// ValidJobTransitions defines the allowed state transitions for TestJobs.
var ValidJobTransitions = map[JobStatus][]JobStatus{
	JobSubmitted: {JobRunning, JobCanceling, JobCanceled},
	JobRunning:   {JobComplete, JobIncomplete, JobCanceling},
	JobCanceling: {JobCanceled},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range ValidJobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
