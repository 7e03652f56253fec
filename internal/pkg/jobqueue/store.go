package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys is the Redis layout of one queue. Pending and Processing are lists of
// job ids; each job body lives under JobPrefix+id.
type Keys struct {
	JobPrefix  string
	Pending    string
	Processing string
	Stats      string
}

// DefaultKeys namespaces the reconciliation queue away from other Redis users.
var DefaultKeys = Keys{
	JobPrefix:  "reconcile:job:",
	Pending:    "reconcile:pending",
	Processing: "reconcile:processing",
	Stats:      "reconcile:stats",
}

func (k Keys) job(id string) string {
	return k.JobPrefix + id
}

// errJobGone is returned when a claimed id has no readable body.
var errJobGone = errors.New("job body missing or unreadable")

// jobStore persists jobs in Redis.
type jobStore struct {
	client *redis.Client
	keys   Keys
	ttl    time.Duration
}

// push writes a new job and appends it to the pending list in one round trip.
func (s *jobStore) push(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.keys.job(job.ID), body, s.ttl)
		pipe.LPush(ctx, s.keys.Pending, job.ID)
		pipe.HIncrBy(ctx, s.keys.Stats, string(JobStatusPending), 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push job %s: %w", job.ID, err)
	}
	return nil
}

// claim moves the oldest pending id onto the processing list and loads its
// body. redis.Nil means nothing arrived within wait.
func (s *jobStore) claim(ctx context.Context, wait time.Duration) (*Job, error) {
	id, err := s.client.BRPopLPush(ctx, s.keys.Pending, s.keys.Processing, wait).Result()
	if err != nil {
		return nil, err
	}
	job, err := s.load(ctx, id)
	if err != nil {
		s.release(ctx, id)
		return nil, fmt.Errorf("claim %s: %w", id, err)
	}
	return job, nil
}

func (s *jobStore) load(ctx context.Context, id string) (*Job, error) {
	body, err := s.client.Get(ctx, s.keys.job(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errJobGone
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", errJobGone, err)
	}
	return &job, nil
}

func (s *jobStore) save(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return s.client.Set(ctx, s.keys.job(job.ID), body, s.ttl).Err()
}

// requeue puts an id back at the head of the pending list.
func (s *jobStore) requeue(ctx context.Context, id string) error {
	return s.client.LPush(ctx, s.keys.Pending, id).Err()
}

// release drops an id from the processing list.
func (s *jobStore) release(ctx context.Context, id string) error {
	return s.client.LRem(ctx, s.keys.Processing, 1, id).Err()
}

func (s *jobStore) drop(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.keys.job(id)).Err()
}

func (s *jobStore) count(ctx context.Context, status JobStatus) error {
	return s.client.HIncrBy(ctx, s.keys.Stats, string(status), 1).Err()
}

func (s *jobStore) stats(ctx context.Context) (map[JobStatus]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.keys.Stats).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[JobStatus]int64, len(raw))
	for status, v := range raw {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[JobStatus(status)] = n
		}
	}
	return out, nil
}

func (s *jobStore) processingIDs(ctx context.Context) ([]string, error) {
	return s.client.LRange(ctx, s.keys.Processing, 0, -1).Result()
}
