package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PlanIntervalMonthly = "monthly"
	PlanIntervalYearly  = "yearly"
	PlanIntervalOneTime = "one_time"
)

// Plan is a billing catalog entry. Plans are reference data; the
// reconciliation pipeline only reads them.
type Plan struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Slug            string          `gorm:"type:varchar(100);not null;uniqueIndex" json:"slug"`
	Name            string          `gorm:"type:varchar(191);not null" json:"name"`
	Price           decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"price"`
	BillingInterval string          `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_interval"`
	DurationDays    int             `gorm:"not null;default:0" json:"duration_days"`
	IsActive        bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// EndsAt returns start shifted by the plan duration, or nil when the plan has
// no fixed duration.
func (p *Plan) EndsAt(start time.Time) *time.Time {
	if p == nil || p.DurationDays <= 0 {
		return nil
	}
	end := start.AddDate(0, 0, p.DurationDays)
	return &end
}
