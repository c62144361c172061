package model

import "time"

// Device is a physical or virtual board that runs test jobs.
type Device struct {
	Hostname            string       `json:"hostname"`
	DeviceType          string       `json:"device_type"`
	Status              DeviceStatus `json:"status"`
	HealthStatus        HealthStatus `json:"health_status"`
	CurrentJob          string       `json:"current_job,omitempty"`
	LastHealthReportJob string       `json:"last_health_report_job,omitempty"`
	WorkerHost          string       `json:"worker_host,omitempty"`
	Heartbeat           bool         `json:"heartbeat"`
	LastHeartbeat       *time.Time   `json:"last_heartbeat,omitempty"`
	IsPublic            bool         `json:"is_public"`

	// User and Group restrict submissions to a non-public device.
	User  string `json:"user,omitempty"`
	Group string `json:"group,omitempty"`
}

// CanSubmit reports whether u may run jobs on the device.
func (d *Device) CanSubmit(u *User) bool {
	if d.Status == DeviceRetired {
		return false
	}
	if d.IsPublic {
		return true
	}
	if u == nil {
		return false
	}
	if u.IsSuperuser || (d.User != "" && u.Username == d.User) {
		return true
	}
	return d.Group != "" && u.InGroup(d.Group)
}
