package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/billing"
)

type markCall struct {
	id  uint
	err error
}

type fakeIngestor struct {
	mu          sync.Mutex
	events      map[uint]*models.WebhookEvent
	ingestErr   error
	result      *billing.IngestResult
	orders      []string
	subs        []string
	resynced    []uint64
	marks       []markCall
	stale       []models.WebhookEvent
	staleMinAge time.Duration
}

func (f *fakeIngestor) IngestOrder(_ context.Context, raw []byte) (*billing.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, string(raw))
	return f.result, f.ingestErr
}

func (f *fakeIngestor) IngestSubscription(_ context.Context, raw []byte) (*billing.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, string(raw))
	return f.result, f.ingestErr
}

func (f *fakeIngestor) ResyncOrder(_ context.Context, orderID uint64) (*billing.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resynced = append(f.resynced, orderID)
	return f.result, f.ingestErr
}

func (f *fakeIngestor) GetWebhookEvent(_ context.Context, id uint) (*models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[id]
	if !ok {
		return nil, fmt.Errorf("webhook event %d not found", id)
	}
	return event, nil
}

func (f *fakeIngestor) MarkWebhookProcessed(_ context.Context, id uint, processingErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, markCall{id: id, err: processingErr})
	return nil
}

func (f *fakeIngestor) ListStaleWebhookEvents(_ context.Context, minAge time.Duration, _ int) ([]models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staleMinAge = minAge
	return f.stale, nil
}

func newProcessorQueue(t *testing.T, ingestor *fakeIngestor) *Queue {
	t.Helper()
	return NewQueue(unreachableRedis(t), ingestor, 1)
}

func TestProcessWooCommerceOrderJob_LoadsRecordedEvent(t *testing.T) {
	ingestor := &fakeIngestor{
		events: map[uint]*models.WebhookEvent{
			5: {ID: 5, EventType: models.WebhookEventWooOrder, PayloadJSON: `{"order_id":"77"}`},
		},
	}
	q := newProcessorQueue(t, ingestor)
	job := &Job{ID: "j1", Type: JobTypeWooCommerceOrder, Payload: WooCommerceEventJobPayload{WebhookEventID: 5}.ToMap()}

	require.NoError(t, q.processWooCommerceOrderJob(context.Background(), job))

	assert.Equal(t, []string{`{"order_id":"77"}`}, ingestor.orders)
	require.Len(t, ingestor.marks, 1)
	assert.Equal(t, uint(5), ingestor.marks[0].id)
	assert.NoError(t, ingestor.marks[0].err)
}

func TestProcessWooCommerceSubscriptionJob_UsesInlineBody(t *testing.T) {
	ingestor := &fakeIngestor{result: &billing.IngestResult{Skipped: billing.SkipNoClient}}
	q := newProcessorQueue(t, ingestor)
	job := &Job{ID: "j2", Type: JobTypeWooCommerceSubscription, Payload: WooCommerceEventJobPayload{Body: `{"subscription_id":"9"}`}.ToMap()}

	require.NoError(t, q.processWooCommerceSubscriptionJob(context.Background(), job))

	assert.Equal(t, []string{`{"subscription_id":"9"}`}, ingestor.subs)
	assert.Empty(t, ingestor.marks, "no webhook event to mark")
}

func TestProcessWooCommerceOrderJob_SkipsProcessedEvent(t *testing.T) {
	processed := time.Now()
	ingestor := &fakeIngestor{
		events: map[uint]*models.WebhookEvent{
			5: {ID: 5, EventType: models.WebhookEventWooOrder, PayloadJSON: `{}`, ProcessedAt: &processed},
		},
	}
	q := newProcessorQueue(t, ingestor)
	job := &Job{ID: "j3", Type: JobTypeWooCommerceOrder, Payload: WooCommerceEventJobPayload{WebhookEventID: 5}.ToMap()}

	require.NoError(t, q.processWooCommerceOrderJob(context.Background(), job))
	assert.Empty(t, ingestor.orders)
	assert.Empty(t, ingestor.marks)
}

func TestProcessWooCommerceOrderJob_ErrorClassification(t *testing.T) {
	q := newProcessorQueue(t, &fakeIngestor{ingestErr: fmt.Errorf("decode: %w", billing.ErrInvalidPayload)})
	job := &Job{ID: "j4", Type: JobTypeWooCommerceOrder, Payload: WooCommerceEventJobPayload{Body: `[]`}.ToMap()}
	err := q.processWooCommerceOrderJob(context.Background(), job)
	require.Error(t, err)
	assert.True(t, isPermanent(err))

	q = newProcessorQueue(t, &fakeIngestor{ingestErr: errors.New("deadlock found")})
	err = q.processWooCommerceOrderJob(context.Background(), job)
	require.Error(t, err)
	assert.False(t, isPermanent(err))

	q = newProcessorQueue(t, &fakeIngestor{})
	empty := &Job{ID: "j5", Type: JobTypeWooCommerceOrder, Payload: map[string]interface{}{}}
	err = q.processWooCommerceOrderJob(context.Background(), empty)
	require.Error(t, err)
	assert.True(t, isPermanent(err))
}

func TestProcessWooOrderResyncJob(t *testing.T) {
	ingestor := &fakeIngestor{}
	q := newProcessorQueue(t, ingestor)

	job := &Job{ID: "j6", Type: JobTypeWooOrderResync, Payload: WooOrderResyncJobPayload{OrderID: 77}.ToMap()}
	require.NoError(t, q.processWooOrderResyncJob(context.Background(), job))
	assert.Equal(t, []uint64{77}, ingestor.resynced)

	missing := &Job{ID: "j7", Type: JobTypeWooOrderResync, Payload: WooOrderResyncJobPayload{}.ToMap()}
	err := q.processWooOrderResyncJob(context.Background(), missing)
	require.Error(t, err)
	assert.True(t, isPermanent(err))
}

func TestRecordWebhookFailure(t *testing.T) {
	ingestor := &fakeIngestor{}
	q := newProcessorQueue(t, ingestor)
	failure := errors.New("boom")

	q.recordWebhookFailure(context.Background(), &Job{Type: JobTypeWooCommerceOrder, Payload: WooCommerceEventJobPayload{WebhookEventID: 8}.ToMap()}, failure)
	q.recordWebhookFailure(context.Background(), &Job{Type: JobTypeWooOrderResync, Payload: WooOrderResyncJobPayload{OrderID: 8}.ToMap()}, failure)

	require.Len(t, ingestor.marks, 1)
	assert.Equal(t, uint(8), ingestor.marks[0].id)
	assert.Equal(t, failure, ingestor.marks[0].err)
}

func TestProcessJob_PermanentFailureMarksWebhookEvent(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ingestor := &fakeIngestor{ingestErr: billing.ErrInvalidPayload}
	q := NewQueue(client, ingestor, 1)
	ctx := context.Background()

	job, err := q.EnqueueJob(ctx, JobTypeWooCommerceOrder, WooCommerceEventJobPayload{WebhookEventID: 3, Body: `"x"`}.ToMap())
	require.NoError(t, err)

	dequeued, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	require.Equal(t, job.ID, dequeued.ID)

	q.processJob(ctx, dequeued)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.False(t, stored.IsRetryable())

	require.Len(t, ingestor.marks, 1)
	assert.Equal(t, uint(3), ingestor.marks[0].id)
	assert.ErrorIs(t, ingestor.marks[0].err, billing.ErrInvalidPayload)

	processing, err := q.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, processing)
}

func TestProcessJob_SuccessRemovesJob(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ingestor := &fakeIngestor{}
	q := NewQueue(client, ingestor, 1)
	ctx := context.Background()

	job, err := q.EnqueueOrderResync(ctx, 77)
	require.NoError(t, err)

	dequeued, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	q.processJob(ctx, dequeued)

	_, err = q.GetJob(ctx, job.ID)
	assert.Error(t, err, "completed jobs are removed")

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusCompleted])
}

func TestEnqueueWebhookEvent_RejectsUnknownType(t *testing.T) {
	q := newProcessorQueue(t, &fakeIngestor{})
	_, err := q.EnqueueWebhookEvent(context.Background(), &models.WebhookEvent{ID: 1, EventType: "stripe.invoice"})
	assert.Error(t, err)

	_, err = q.EnqueueOrderResync(context.Background(), 0)
	assert.Error(t, err)
}
