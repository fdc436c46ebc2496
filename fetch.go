package bullmq

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/rdb"
)

// ActiveJob is a job handed to a worker by Fetch, together with the lock
// token it must present to Complete, Fail or Defer.
type ActiveJob struct {
	ID           string
	Name         string
	Data         []byte
	AttemptsMade int
	Token        string
}

// FetchResult reports the outcome of Fetch.
type FetchResult struct {
	Job *ActiveJob
	// RateLimitAfter, if nonzero, means a job was ready but the queue's
	// rate limiter is currently exhausted; retry no sooner than this long.
	RateLimitAfter time.Duration
	// NextDelayAt, if nonzero, means no job was ready now but one is
	// scheduled to fire at this time.
	NextDelayAt time.Time
}

// Fetch pops the next ready job for processing, per spec.md §4.7
// "moveToActive". lockDuration bounds how long the caller may hold the job
// before it is eligible to be reclaimed as stalled; limiter, if non-nil,
// caps how many jobs may start per window (spec.md §4.5).
func (q *Queue) Fetch(ctx context.Context, lockDuration time.Duration, limiter *base.Limiter) (*FetchResult, error) {
	var op errors.Op = "Queue.Fetch"

	token := uuid.New().String()
	res, err := q.rdb.MoveToActive(ctx, q.name, base.MoveToActiveOptions{
		Token:        token,
		LockDuration: lockDuration.Milliseconds(),
		Limiter:      limiter,
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return fetchResultFromActive(res, token), nil
}

// fetchResultFromActive adapts an internal/rdb.ActiveResult into the
// public FetchResult shape, stamping the lock token issued for the pop
// (Fetch's own, or the one generated for a CompleteAndFetchNext/
// FailAndFetchNext inline pop).
func fetchResultFromActive(res *rdb.ActiveResult, token string) *FetchResult {
	out := &FetchResult{}
	if res == nil {
		return out
	}
	if res.RateLimitTTLMs > 0 {
		out.RateLimitAfter = time.Duration(res.RateLimitTTLMs) * time.Millisecond
		return out
	}
	if res.Job == nil {
		if res.NextDelayFireMs > 0 {
			out.NextDelayAt = time.UnixMilli(res.NextDelayFireMs)
		}
		return out
	}

	out.Job = &ActiveJob{
		ID:           res.Job.ID,
		Name:         res.Job.Name,
		Data:         res.Job.Data,
		AttemptsMade: res.Job.AttemptsMade,
		Token:        token,
	}
	return out
}
