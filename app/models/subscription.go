package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// SubscriptionStatus is the canonical billing-state vocabulary every
// external status is mapped into.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusInactive  SubscriptionStatus = "inactive"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusGrace     SubscriptionStatus = "grace"
)

// External reference prefixes. Lifecycle events and order fallbacks use
// distinct namespaces so they can never collide on the same key.
const (
	ExternalRefWooSubscription = "woo:"
	ExternalRefWooOrder        = "woo-order:"
)

// Subscription is one billing relationship between a Client and, optionally,
// a Plan. ExternalReference is the upsert key.
type Subscription struct {
	ID                uint               `gorm:"primaryKey" json:"id"`
	ClientID          uint               `gorm:"not null;index" json:"client_id"`
	Client            *Client            `gorm:"foreignKey:ClientID" json:"-"`
	PlanID            *uint              `gorm:"index" json:"plan_id,omitempty"`
	Plan              *Plan              `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Status            SubscriptionStatus `gorm:"type:varchar(20);not null;default:'inactive';index" json:"status"`
	StartsAt          *time.Time         `gorm:"type:timestamp;default:null" json:"starts_at,omitempty"`
	EndsAt            *time.Time         `gorm:"type:timestamp;default:null" json:"ends_at,omitempty"`
	CancelledAt       *time.Time         `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	RenewedAt         *time.Time         `gorm:"type:timestamp;default:null" json:"renewed_at,omitempty"`
	BillingCycleCount int                `gorm:"not null;default:0" json:"billing_cycle_count"`
	ExternalReference string             `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_reference"`
	Metadata          datatypes.JSONMap  `json:"metadata"`
	LastSyncedAt      *time.Time         `gorm:"type:timestamp;default:null" json:"last_synced_at,omitempty"`
	CreatedAt         time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// WooSubscriptionReference builds the lifecycle-family external reference.
func WooSubscriptionReference(subscriptionID string) string {
	return ExternalRefWooSubscription + strings.TrimSpace(subscriptionID)
}

// WooOrderReference builds the order-fallback external reference.
func WooOrderReference(orderID string) string {
	return ExternalRefWooOrder + strings.TrimSpace(orderID)
}

// IsLifecycle reports whether the record was created by a genuine
// subscription-lifecycle event.
func (s *Subscription) IsLifecycle() bool {
	return strings.HasPrefix(s.ExternalReference, ExternalRefWooSubscription)
}

// IsUsable reports whether the subscription still grants access. Grace
// subscriptions are at risk but usable.
func (s *Subscription) IsUsable() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusGrace
}
