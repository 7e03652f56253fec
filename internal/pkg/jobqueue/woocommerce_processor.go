package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/billing"
)

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) || errors.Is(err, billing.ErrInvalidPayload)
}

// EnqueueWebhookEvent queues ingestion of a recorded delivery.
func (q *Queue) EnqueueWebhookEvent(ctx context.Context, event *models.WebhookEvent) (*Job, error) {
	jobType, ok := JobTypeForWebhookEvent(event.EventType)
	if !ok {
		return nil, fmt.Errorf("no job for webhook event type %q", event.EventType)
	}
	return q.EnqueueJob(ctx, jobType, WooCommerceEventJobPayload{WebhookEventID: event.ID}.ToMap())
}

// EnqueueOrderResync queues a replay of the stored order snapshot.
func (q *Queue) EnqueueOrderResync(ctx context.Context, orderID uint64) (*Job, error) {
	if orderID == 0 {
		return nil, errors.New("order id is required")
	}
	return q.EnqueueJob(ctx, JobTypeWooOrderResync, WooOrderResyncJobPayload{OrderID: orderID}.ToMap())
}

func (q *Queue) processWooCommerceOrderJob(ctx context.Context, job *Job) error {
	return q.processWooCommerceEvent(ctx, job, q.ingestor.IngestOrder)
}

func (q *Queue) processWooCommerceSubscriptionJob(ctx context.Context, job *Job) error {
	return q.processWooCommerceEvent(ctx, job, q.ingestor.IngestSubscription)
}

type ingestFunc func(ctx context.Context, raw []byte) (*billing.IngestResult, error)

func (q *Queue) processWooCommerceEvent(ctx context.Context, job *Job, ingest ingestFunc) error {
	payload, err := WooCommerceEventJobPayloadFromMap(job.Payload)
	if err != nil {
		return permanent(fmt.Errorf("failed to parse job payload: %w", err))
	}

	body := payload.Body
	if body == "" {
		if payload.WebhookEventID == 0 {
			return permanent(errors.New("job has neither body nor webhook event"))
		}
		event, err := q.ingestor.GetWebhookEvent(ctx, payload.WebhookEventID)
		if err != nil {
			return fmt.Errorf("failed to load webhook event %d: %w", payload.WebhookEventID, err)
		}
		if event.IsProcessed() {
			log.Infof("[JobQueue] Webhook event %d already processed, skipping", event.ID)
			return nil
		}
		body = event.PayloadJSON
	}

	result, err := ingest(ctx, []byte(body))
	if err != nil {
		return err
	}
	if result != nil && result.Skipped != "" {
		log.Warnf("[JobQueue] Job %s skipped: %s", job.ID, result.Skipped)
	}

	if payload.WebhookEventID > 0 {
		if err := q.ingestor.MarkWebhookProcessed(ctx, payload.WebhookEventID, nil); err != nil {
			log.Errorf("[JobQueue] Failed to mark webhook event %d processed: %v", payload.WebhookEventID, err)
		}
	}
	return nil
}

func (q *Queue) processWooOrderResyncJob(ctx context.Context, job *Job) error {
	payload, err := WooOrderResyncJobPayloadFromMap(job.Payload)
	if err != nil {
		return permanent(fmt.Errorf("failed to parse job payload: %w", err))
	}
	if payload.OrderID == 0 {
		return permanent(errors.New("resync job without order id"))
	}

	result, err := q.ingestor.ResyncOrder(ctx, payload.OrderID)
	if err != nil {
		return err
	}
	if result != nil && result.Subscription != nil {
		log.Infof("[JobQueue] Resynced order %d into subscription %s", payload.OrderID, result.Subscription.ExternalReference)
	}
	return nil
}

// recordWebhookFailure stores the final error on the originating webhook event
// so the replay worker leaves it alone.
func (q *Queue) recordWebhookFailure(ctx context.Context, job *Job, jobErr error) {
	if job.Type != JobTypeWooCommerceOrder && job.Type != JobTypeWooCommerceSubscription {
		return
	}
	payload, err := WooCommerceEventJobPayloadFromMap(job.Payload)
	if err != nil || payload.WebhookEventID == 0 {
		return
	}
	if err := q.ingestor.MarkWebhookProcessed(ctx, payload.WebhookEventID, jobErr); err != nil {
		log.Errorf("[JobQueue] Failed to record failure on webhook event %d: %v", payload.WebhookEventID, err)
	}
}

// ReplayStaleWebhookEvents re-enqueues deliveries that were recorded but
// never finished, for example because the process died before enqueueing.
func (q *Queue) ReplayStaleWebhookEvents(ctx context.Context, minAge time.Duration, limit int) (int, error) {
	events, err := q.ingestor.ListStaleWebhookEvents(ctx, minAge, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale webhook events: %w", err)
	}

	replayed := 0
	for i := range events {
		event := &events[i]
		if _, ok := JobTypeForWebhookEvent(event.EventType); !ok {
			continue
		}
		if _, err := q.EnqueueWebhookEvent(ctx, event); err != nil {
			log.Errorf("[JobQueue] Failed to replay webhook event %d: %v", event.ID, err)
			continue
		}
		replayed++
	}
	if replayed > 0 {
		log.Infof("[JobQueue] Replayed %d stale webhook events", replayed)
	}
	return replayed, nil
}
