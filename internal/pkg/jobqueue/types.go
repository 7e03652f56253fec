package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeWooCommerceOrder        JobType = "woocommerce_order"
	JobTypeWooCommerceSubscription JobType = "woocommerce_subscription"
	JobTypeWooOrderResync          JobType = "woocommerce_order_resync"
)

// JobTypeForWebhookEvent returns the ingestion job for a recorded webhook
// event type.
func JobTypeForWebhookEvent(eventType string) (JobType, bool) {
	switch eventType {
	case models.WebhookEventWooOrder:
		return JobTypeWooCommerceOrder, true
	case models.WebhookEventWooSubscription:
		return JobTypeWooCommerceSubscription, true
	}
	return "", false
}

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// WooCommerceEventJobPayload carries one order or subscription delivery.
// Body may be empty, in which case the recorded webhook event is loaded.
type WooCommerceEventJobPayload struct {
	WebhookEventID uint   `json:"webhook_event_id"`
	Body           string `json:"body,omitempty"`
}

// ToMap converts the payload to a map for storage
func (p WooCommerceEventJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"webhook_event_id": p.WebhookEventID,
	}
	if p.Body != "" {
		m["body"] = p.Body
	}
	return m
}

// WooCommerceEventJobPayloadFromMap creates a payload from a map
func WooCommerceEventJobPayloadFromMap(data map[string]interface{}) (*WooCommerceEventJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload WooCommerceEventJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// WooOrderResyncJobPayload replays a stored order snapshot.
type WooOrderResyncJobPayload struct {
	OrderID uint64 `json:"order_id"`
}

func (p WooOrderResyncJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"order_id": p.OrderID,
	}
}

func WooOrderResyncJobPayloadFromMap(data map[string]interface{}) (*WooOrderResyncJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload WooOrderResyncJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsPermanentlyFailed fails the job without leaving retries.
func (j *Job) MarkAsPermanentlyFailed(errorMsg string) {
	j.MarkAsFailed(errorMsg)
	if j.RetryCount < j.MaxRetries {
		j.MaxRetries = j.RetryCount
	}
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
