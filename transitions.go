package bullmq

import (
	"context"
	"time"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
)

// Defer moves an active job back into the delayed set, to be promoted
// again after delay, per spec.md §4.7 "moveToDelayed". token must be the
// one returned by Fetch.
func (q *Queue) Defer(ctx context.Context, jobID, token string, delay time.Duration) error {
	var op errors.Op = "Queue.Defer"
	if err := q.rdb.MoveToDelayed(ctx, q.name, jobID, token, delay.Milliseconds()); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// PromoteJob moves a delayed job into its target list or the prioritized
// set immediately, per spec.md §4.7 "promote".
func (q *Queue) PromoteJob(ctx context.Context, jobID string) error {
	var op errors.Op = "Queue.PromoteJob"
	if err := q.rdb.Promote(ctx, q.name, jobID); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// RetryJob moves an active job back into its target list or the
// prioritized set, per spec.md §4.7 "retry". token must be the one
// returned by Fetch; lifo selects RPUSH over LPUSH for a priority-0 job.
// Callers are responsible for deciding, from AttemptsMade and the job's
// configured Attempts, whether a retry is warranted at all.
func (q *Queue) RetryJob(ctx context.Context, jobID, token string, lifo bool) error {
	var op errors.Op = "Queue.RetryJob"
	if err := q.rdb.Retry(ctx, q.name, jobID, token, lifo); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// ChangeJobPriority re-scores a waiting or prioritized job, per spec.md
// §4.7 "changePriority". lifo selects RPUSH over LPUSH when the new
// priority is 0.
func (q *Queue) ChangeJobPriority(ctx context.Context, jobID string, priority int64, lifo bool) error {
	var op errors.Op = "Queue.ChangeJobPriority"
	if err := q.rdb.ChangePriority(ctx, q.name, jobID, priority, lifo); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// ReclaimStalled requeues or fails jobs the caller's stalled-job heartbeat
// mechanism has identified as abandoned, per spec.md §4.7
// "moveStalledToWait". This package does not detect stalled jobs itself:
// the heartbeat mechanism adds the IDs of jobs it considers stalled to the
// queue's stalled sorted set (base.StalledKey), and each ID still in active
// is requeued, or failed once its stalled counter exceeds maxStalledCount.
func (q *Queue) ReclaimStalled(ctx context.Context, maxStalledCount int64) (requeued, failed []string, err error) {
	var op errors.Op = "Queue.ReclaimStalled"
	requeued, failed, err = q.rdb.MoveStalledToWait(ctx, q.name, maxStalledCount)
	if err != nil {
		return nil, nil, errors.E(op, err)
	}
	return requeued, failed, nil
}

// Pause sends new and promoted jobs to the paused list instead of the wait
// list and makes Fetch return no job until Resume; jobs already active are
// unaffected (spec.md §4.4).
func (q *Queue) Pause(ctx context.Context) error {
	var op errors.Op = "Queue.Pause"
	if err := q.rdb.Pause(ctx, q.name); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Resume reverses Pause.
func (q *Queue) Resume(ctx context.Context) error {
	var op errors.Op = "Queue.Resume"
	if err := q.rdb.Resume(ctx, q.name); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// TrimEvents caps the queue's event stream at maxLen entries (spec.md
// §4.8).
func (q *Queue) TrimEvents(ctx context.Context, maxLen int64) (int64, error) {
	var op errors.Op = "Queue.TrimEvents"
	n, err := q.rdb.TrimEvents(ctx, q.name, maxLen)
	if err != nil {
		return 0, errors.E(op, err)
	}
	return n, nil
}

// RemoveJobsByMaxAge evicts completed or failed jobs older than maxAge, in
// batches of batchLimit; call it in a loop until the returned count is
// smaller than batchLimit (spec.md §4.4).
func (q *Queue) RemoveJobsByMaxAge(ctx context.Context, state base.JobState, maxAge time.Duration, batchLimit int64) (int64, error) {
	var op errors.Op = "Queue.RemoveJobsByMaxAge"
	n, err := q.rdb.RemoveJobsByMaxAge(ctx, q.name, state, maxAge.Milliseconds(), batchLimit)
	if err != nil {
		return 0, errors.E(op, err)
	}
	return n, nil
}

// RemoveJobsByMaxCount trims completed or failed jobs down to their newest
// maxCount (spec.md §4.4).
func (q *Queue) RemoveJobsByMaxCount(ctx context.Context, state base.JobState, maxCount int64) (int64, error) {
	var op errors.Op = "Queue.RemoveJobsByMaxCount"
	n, err := q.rdb.RemoveJobsByMaxCount(ctx, q.name, state, maxCount)
	if err != nil {
		return 0, errors.E(op, err)
	}
	return n, nil
}
