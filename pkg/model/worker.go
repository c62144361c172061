package model

import "time"

// Worker represents a dispatcher host that physically drives devices.
type Worker struct {
	Hostname      string      `json:"hostname"`
	State         WorkerState `json:"state"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	Uptime        string      `json:"uptime,omitempty"`
	Arch          string      `json:"arch,omitempty"`
	Platform      string      `json:"platform,omitempty"`
	HardwareInfo  string      `json:"hardware_info,omitempty"`
	Description   string      `json:"description,omitempty"`
}

// WorkerState represents the liveness of a Worker.
type WorkerState string

const (
	WorkerStateOnline  WorkerState = "online"
	WorkerStateOffline WorkerState = "offline"
)

// ValidWorkerTransitions defines the allowed state transitions for Workers.
var ValidWorkerTransitions = map[WorkerState][]WorkerState{
	WorkerStateOnline:  {WorkerStateOffline},
	WorkerStateOffline: {WorkerStateOnline},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s WorkerState) CanTransitionTo(next WorkerState) bool {
	for _, allowed := range ValidWorkerTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
