package models

import "time"

// Role is the access role stored on a profile.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleAdmin  Role = "admin"
)

// Profile is the per-user record holding the credit balance. Exactly one
// exists per identity subject and CreditsBalance never drops below zero.
type Profile struct {
	ID             string    `db:"id"`
	CreditsBalance int64     `db:"credits_balance"`
	Role           Role      `db:"role"`
	CreatedAt      time.Time `db:"created_at"`
}

// Clone returns a copy that shares no state with p.
func (p *Profile) Clone() *Profile {
	c := *p
	return &c
}
