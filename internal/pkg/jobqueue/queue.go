package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/app/models"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/billing"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/cache"
	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/clock"
)

const (
	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour

	defaultQueueWorkers = 3
	defaultStuckAfter   = 10 * time.Minute
	defaultSweepEvery   = time.Minute
	claimWait           = time.Second
)

// Ingestor runs the reconciliation pipeline for queued deliveries.
type Ingestor interface {
	IngestOrder(ctx context.Context, raw []byte) (*billing.IngestResult, error)
	IngestSubscription(ctx context.Context, raw []byte) (*billing.IngestResult, error)
	ResyncOrder(ctx context.Context, orderID uint64) (*billing.IngestResult, error)
	GetWebhookEvent(ctx context.Context, id uint) (*models.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error
	ListStaleWebhookEvents(ctx context.Context, minAge time.Duration, limit int) ([]models.WebhookEvent, error)
}

// jobHandler runs one job. Errors wrapped by permanent skip the retries.
type jobHandler func(q *Queue, ctx context.Context, job *Job) error

var jobHandlers = map[JobType]jobHandler{
	JobTypeWooCommerceOrder:        (*Queue).processWooCommerceOrderJob,
	JobTypeWooCommerceSubscription: (*Queue).processWooCommerceSubscriptionJob,
	JobTypeWooOrderResync:          (*Queue).processWooOrderResyncJob,
}

// Queue runs reconciliation jobs from Redis on a fixed set of workers.
type Queue struct {
	store    *jobStore
	ingestor Ingestor
	workers  int
	clock    clock.Clock

	stuckAfter time.Duration
	sweepEvery time.Duration
	backoff    func(attempt int) time.Duration

	mu      sync.Mutex
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	running bool
}

// QueueOption customises a Queue.
type QueueOption func(*Queue)

// WithKeys overrides the Redis key layout.
func WithKeys(keys Keys) QueueOption {
	return func(q *Queue) { q.store.keys = keys }
}

// WithQueueClock sets the time source of the stuck job sweeper.
func WithQueueClock(c clock.Clock) QueueOption {
	return func(q *Queue) { q.clock = c }
}

// WithStuckTimeout sets how long a job may stay claimed before the sweeper
// hands it to another worker.
func WithStuckTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.stuckAfter = d
		}
	}
}

// WithRetryBackoff sets the delay before retry attempt n (1-based).
func WithRetryBackoff(fn func(attempt int) time.Duration) QueueOption {
	return func(q *Queue) {
		if fn != nil {
			q.backoff = fn
		}
	}
}

func linearBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * time.Minute
}

// NewQueue creates a job queue. A nil client falls back to the shared cache
// connection.
func NewQueue(client *redis.Client, ingestor Ingestor, workers int, opts ...QueueOption) *Queue {
	if workers <= 0 {
		workers = defaultQueueWorkers
	}
	if client == nil {
		client = cache.GetClient()
	}

	q := &Queue{
		store:      &jobStore{client: client, keys: DefaultKeys, ttl: JobTTL},
		ingestor:   ingestor,
		workers:    workers,
		clock:      clock.SystemClock{},
		stuckAfter: defaultStuckAfter,
		sweepEvery: defaultSweepEvery,
		backoff:    linearBackoff,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers and the stuck job sweeper. It is a no-op when
// the queue is already running.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.running = true

	log.Infof("[JobQueue] Starting %d workers (stuck after %s)", q.workers, q.stuckAfter)
	q.wg.Add(q.workers + 1)
	for i := 0; i < q.workers; i++ {
		go q.work(ctx, i)
	}
	go q.sweepLoop(ctx)
}

// Stop cancels the workers and waits until the jobs in flight are done.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}

	q.cancel()
	q.wg.Wait()
	q.running = false
	log.Info("[JobQueue] Workers stopped")
}

func (q *Queue) work(ctx context.Context, worker int) {
	defer q.wg.Done()

	for ctx.Err() == nil {
		job, err := q.store.claim(ctx, claimWait)
		switch {
		case err == nil:
			// Jobs run to the end even during shutdown.
			q.processJob(context.WithoutCancel(ctx), job)
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
		default:
			log.Errorf("[JobQueue] Worker %d could not claim a job: %v", worker, err)
			select {
			case <-ctx.Done():
			case <-time.After(claimWait):
			}
		}
	}
}

// EnqueueJob stores a new pending job.
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}
	if err := q.store.push(ctx, job); err != nil {
		return nil, err
	}
	log.Debugf("[JobQueue] Enqueued %s job %s", job.Type, job.ID)
	return job, nil
}

// dequeueJob claims the next pending job without waiting long.
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	return q.store.claim(ctx, claimWait)
}

// processJob runs a claimed job and settles it: completed jobs are deleted,
// failed ones are either scheduled for retry or kept as failed.
func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.saveLogged(ctx, job)

	err := q.run(ctx, job)
	defer q.releaseLogged(ctx, job.ID)

	if err == nil {
		job.MarkAsCompleted()
		q.countLogged(ctx, JobStatusCompleted)
		if derr := q.store.drop(ctx, job.ID); derr != nil {
			log.Errorf("[JobQueue] Could not delete completed job %s: %v", job.ID, derr)
		}
		log.Infof("[JobQueue] Job %s (%s) done", job.ID, job.Type)
		return
	}

	if isPermanent(err) {
		job.MarkAsPermanentlyFailed(err.Error())
	} else {
		job.MarkAsFailed(err.Error())
	}

	if job.IsRetryable() {
		delay := q.backoff(job.RetryCount)
		log.Warnf("[JobQueue] Job %s failed (attempt %d/%d), retrying in %s: %v", job.ID, job.RetryCount, job.MaxRetries, delay, err)
		job.MarkAsRetrying()
		q.saveLogged(ctx, job)
		q.scheduleRetry(job.ID, delay)
		return
	}

	log.Errorf("[JobQueue] Job %s failed for good after %d attempts: %v", job.ID, job.RetryCount, err)
	q.saveLogged(ctx, job)
	q.countLogged(ctx, JobStatusFailed)
	q.recordWebhookFailure(ctx, job, err)
}

func (q *Queue) run(ctx context.Context, job *Job) error {
	handler, ok := jobHandlers[job.Type]
	if !ok {
		return permanent(fmt.Errorf("unknown job type %q", job.Type))
	}
	return handler(q, ctx, job)
}

func (q *Queue) scheduleRetry(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if err := q.store.requeue(context.Background(), id); err != nil {
			log.Errorf("[JobQueue] Could not requeue job %s: %v", id, err)
		}
	})
}

func (q *Queue) saveLogged(ctx context.Context, job *Job) {
	if err := q.store.save(ctx, job); err != nil {
		log.Errorf("[JobQueue] Could not save job %s: %v", job.ID, err)
	}
}

func (q *Queue) releaseLogged(ctx context.Context, id string) {
	if err := q.store.release(ctx, id); err != nil {
		log.Errorf("[JobQueue] Could not release job %s: %v", id, err)
	}
}

func (q *Queue) countLogged(ctx context.Context, status JobStatus) {
	if err := q.store.count(ctx, status); err != nil {
		log.Errorf("[JobQueue] Could not count %s job: %v", status, err)
	}
}

// GetJob loads a job that has not completed yet.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return q.store.load(ctx, jobID)
}

// GetJobStats returns how many jobs were enqueued, completed and failed.
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	return q.store.stats(ctx)
}

// GetQueueSize returns the number of pending jobs.
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.store.client.LLen(ctx, q.store.keys.Pending).Result()
}

// GetProcessingSize returns the number of claimed jobs.
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.store.client.LLen(ctx, q.store.keys.Processing).Result()
}
