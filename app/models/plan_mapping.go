package models

import "time"

// Commerce provider constants used across billing-related models.
const (
	ProviderWooCommerce = "woocommerce"
)

// PlanMapping pins a provider product reference to an internal plan slug.
// Active rows take precedence over any heuristic plan matching.
type PlanMapping struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Provider   string    `gorm:"type:varchar(20);not null;index:ux_plan_mappings_ref,unique,priority:1" json:"provider"`
	ProductRef string    `gorm:"type:varchar(191);not null;index:ux_plan_mappings_ref,unique,priority:2" json:"product_ref"`
	PlanSlug   string    `gorm:"type:varchar(100);not null;index" json:"plan_slug"`
	IsActive   bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
