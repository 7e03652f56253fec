package models

import "time"

// Webhook event types accepted by the intake.
const (
	WebhookEventWooOrder        = "woocommerce.order"
	WebhookEventWooSubscription = "woocommerce.subscription"
)

// WebhookEvent stores inbound webhook payloads with deduplication metadata
// so redelivered events are acknowledged without being processed twice.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null;index" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsProcessed reports whether a worker has finished with the event.
func (e *WebhookEvent) IsProcessed() bool {
	return e.ProcessedAt != nil
}
