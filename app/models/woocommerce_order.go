package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// WooCommerceOrder mirrors an inbound order payload for audit and replay.
// Rows are keyed by the external order id and rewritten on redelivery.
type WooCommerceOrder struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	OrderID       uint64          `gorm:"not null;uniqueIndex" json:"order_id"`
	ClientID      uint            `gorm:"not null;index" json:"client_id"`
	Status        string          `gorm:"type:varchar(32);not null;default:'';index" json:"status"`
	Currency      string          `gorm:"type:varchar(10);not null;default:''" json:"currency"`
	Total         decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total"`
	CustomerEmail string          `gorm:"type:varchar(200);default:''" json:"customer_email"`
	Payload       datatypes.JSON  `json:"payload"`
	ProcessedAt   *time.Time      `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName keeps the table name stable regardless of gorm's pluralization.
func (WooCommerceOrder) TableName() string {
	return "woocommerce_orders"
}
