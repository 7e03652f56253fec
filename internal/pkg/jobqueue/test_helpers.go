//go:build test
// +build test

package jobqueue

import (
	"time"
)

// TestJobFactory creates test jobs for different types
func TestJobFactory() map[JobType]*Job {
	now := time.Now()

	return map[JobType]*Job{
		JobTypeWooCommerceOrder: {
			ID:         "test-order-job",
			Type:       JobTypeWooCommerceOrder,
			Status:     JobStatusPending,
			Payload:    WooCommerceEventJobPayload{WebhookEventID: 1, Body: `{"order_id":"77"}`}.ToMap(),
			CreatedAt:  now,
			UpdatedAt:  now,
			RetryCount: 0,
			MaxRetries: 3,
		},
		JobTypeWooOrderResync: {
			ID:         "test-resync-job",
			Type:       JobTypeWooOrderResync,
			Status:     JobStatusPending,
			Payload:    WooOrderResyncJobPayload{OrderID: 77}.ToMap(),
			CreatedAt:  now,
			UpdatedAt:  now,
			RetryCount: 0,
			MaxRetries: 3,
		},
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
