package model

import "testing"

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobSubmitted, false},
		{JobRunning, false},
		{JobCanceling, false},
		{JobCanceled, true},
		{JobComplete, true},
		{JobIncomplete, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("JobStatus(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  JobStatus
		to    JobStatus
		valid bool
	}{
		// Valid transitions
		{JobSubmitted, JobRunning, true},
		{JobSubmitted, JobCanceling, true},
		{JobRunning, JobComplete, true},
		{JobRunning, JobIncomplete, true},
		{JobRunning, JobCanceling, true},
		{JobCanceling, JobCanceled, true},

		// Invalid transitions
		{JobSubmitted, JobComplete, false},
		{JobComplete, JobRunning, false},
		{JobCanceled, JobSubmitted, false},
		{JobIncomplete, JobComplete, false},
		{JobCanceling, JobRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("JobStatus(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestDeviceStatus_Released(t *testing.T) {
	tests := []struct {
		from DeviceStatus
		want DeviceStatus
		ok   bool
	}{
		{DeviceRunning, DeviceIdle, true},
		{DeviceReserved, DeviceIdle, true},
		{DeviceOfflining, DeviceOffline, true},
		{DeviceIdle, DeviceIdle, true},
		{DeviceOffline, DeviceIdle, false},
		{DeviceRetired, DeviceIdle, false},
	}
	for _, tt := range tests {
		got, ok := tt.from.Released()
		if got != tt.want || ok != tt.ok {
			t.Errorf("DeviceStatus(%q).Released() = (%q, %v), want (%q, %v)", tt.from, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDeviceStatus_Maintenance(t *testing.T) {
	tests := []struct {
		from DeviceStatus
		want DeviceStatus
	}{
		{DeviceIdle, DeviceOffline},
		{DeviceOffline, DeviceOffline},
		{DeviceReserved, DeviceOfflining},
		{DeviceRunning, DeviceOfflining},
		{DeviceOfflining, DeviceOfflining},
	}
	for _, tt := range tests {
		if got := tt.from.Maintenance(); got != tt.want {
			t.Errorf("DeviceStatus(%q).Maintenance() = %q, want %q", tt.from, got, tt.want)
		}
	}
}

func TestWorkerState_CanTransitionTo(t *testing.T) {
	if !WorkerStateOnline.CanTransitionTo(WorkerStateOffline) {
		t.Error("online -> offline should be valid")
	}
	if !WorkerStateOffline.CanTransitionTo(WorkerStateOnline) {
		t.Error("offline -> online should be valid")
	}
	if WorkerStateOnline.CanTransitionTo(WorkerStateOnline) {
		t.Error("online -> online should be invalid")
	}
}
