package jobqueue

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// startedAt is when the current attempt began, falling back to the last
// update for jobs written before ProcessedAt was set.
func (j *Job) startedAt() time.Time {
	if j.ProcessedAt != nil && !j.ProcessedAt.IsZero() {
		return *j.ProcessedAt
	}
	if !j.UpdatedAt.IsZero() {
		return j.UpdatedAt
	}
	return j.CreatedAt
}

// RecoverStuck returns jobs that have sat on the processing list longer than
// the stuck timeout to the pending list, and clears ids whose body is gone or
// no longer marked processing. It reports how many jobs were requeued.
func (q *Queue) RecoverStuck(ctx context.Context) (int, error) {
	ids, err := q.store.processingIDs(ctx)
	if err != nil {
		return 0, err
	}

	now := q.clock.Now()
	recovered := 0
	for _, id := range ids {
		job, err := q.store.load(ctx, id)
		switch {
		case errors.Is(err, errJobGone):
			q.releaseLogged(ctx, id)
			continue
		case err != nil:
			log.Errorf("[JobQueue] Sweeper could not read job %s: %v", id, err)
			continue
		case job.Status != JobStatusProcessing:
			q.releaseLogged(ctx, id)
			continue
		}

		age := now.Sub(job.startedAt())
		if age <= q.stuckAfter {
			continue
		}

		log.Warnf("[JobQueue] Requeueing job %s (%s) stuck for %s", job.ID, job.Type, age.Round(time.Second))
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered after worker stalled"
		job.UpdatedAt = now
		if err := q.store.save(ctx, job); err != nil {
			log.Errorf("[JobQueue] Sweeper could not save job %s: %v", id, err)
			continue
		}
		q.releaseLogged(ctx, id)
		if err := q.store.requeue(ctx, id); err != nil {
			log.Errorf("[JobQueue] Sweeper could not requeue job %s: %v", id, err)
			continue
		}
		recovered++
	}
	return recovered, nil
}

func (q *Queue) sweepLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.RecoverStuck(ctx); err != nil && ctx.Err() == nil {
				log.Errorf("[JobQueue] Sweep failed: %v", err)
			}
		}
	}
}
