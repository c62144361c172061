package model

import "time"

// User is a job submitter as seen by the scheduler.
type User struct {
	Username    string   `json:"username"`
	Email       string   `json:"email,omitempty"`
	Groups      []string `json:"groups,omitempty"`
	IsSuperuser bool     `json:"is_superuser"`
}

// InGroup returns true if the user belongs to group.
func (u *User) InGroup(group string) bool {
	for _, g := range u.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// AuthToken is the one-time secret a running job uses to submit results.
// It is issued when a device is reserved and deleted when the job ends.
type AuthToken struct {
	ID        string    `json:"id"`
	Secret    string    `json:"-"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
