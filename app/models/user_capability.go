package models

import "time"

// Capability is a named permission granted to a user.
type Capability string

const (
	// CapabilityManager lets a user manage the client accounts linked to them.
	CapabilityManager Capability = "manager"
)

// UserCapability grants one capability to one user.
type UserCapability struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"not null;index:ux_user_capabilities_user_cap,unique,priority:1" json:"user_id"`
	Capability Capability `gorm:"type:varchar(50);not null;index:ux_user_capabilities_user_cap,unique,priority:2" json:"capability"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// CapabilitySet is a lookup set of capabilities.
type CapabilitySet map[Capability]struct{}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}
