package model

import "time"

// DeviceStateTransition is an append-only audit record of a device status change.
type DeviceStateTransition struct {
	ID        string       `json:"id"`
	Device    string       `json:"device"`
	OldState  DeviceStatus `json:"old_state"`
	NewState  DeviceStatus `json:"new_state"`
	Job       string       `json:"job,omitempty"`
	CreatedBy string       `json:"created_by,omitempty"` // empty for the scheduler itself
	Message   string       `json:"message,omitempty"`
	CreatedOn time.Time    `json:"created_on"`
}
