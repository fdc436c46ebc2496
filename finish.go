package bullmq

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
)

// FinishPolicy controls retention of a job once it reaches a terminal
// state, per spec.md §4.4.
type FinishPolicy struct {
	// KeepCount, if nonzero, caps how many terminal jobs of this kind are
	// retained (oldest evicted first). Zero means don't keep any.
	KeepCount int64
	// KeepAgeMs, if nonzero, evicts a terminal job once it's older than
	// this, independent of KeepCount.
	KeepAgeMs int64
	// MaxMetricsSize, if nonzero, enables the per-minute metrics collector
	// (spec.md §4.9) for this state, capped at this many samples.
	MaxMetricsSize int64
}

func (p FinishPolicy) toBase() (*base.KeepJobs, string) {
	var keep *base.KeepJobs
	if p.KeepCount != 0 || p.KeepAgeMs != 0 {
		keep = &base.KeepJobs{Count: p.KeepCount, Age: p.KeepAgeMs}
	}
	size := ""
	if p.MaxMetricsSize != 0 {
		size = strconv.FormatInt(p.MaxMetricsSize, 10)
	}
	return keep, size
}

// Complete marks job as completed with the given return value, per spec.md
// §4.7 "moveToFinished". token must be the one returned by Fetch.
func (q *Queue) Complete(ctx context.Context, jobID, token string, returnValue []byte, policy FinishPolicy) error {
	var op errors.Op = "Queue.Complete"

	keep, metricsSize := policy.toBase()
	_, err := q.rdb.MoveToFinished(ctx, q.name, jobID, base.StateCompleted, string(returnValue), false, base.FinishOptions{
		Token:          token,
		KeepJobs:       keep,
		MaxMetricsSize: metricsSize,
	})
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Fail marks job as failed with the given reason, per spec.md §4.7
// "moveToFinished". retriesExhausted swaps the emitted event from "failed"
// to "retries-exhausted" (spec.md §6); it does not affect state routing.
func (q *Queue) Fail(ctx context.Context, jobID, token, reason string, retriesExhausted bool, policy FinishPolicy) error {
	var op errors.Op = "Queue.Fail"

	keep, metricsSize := policy.toBase()
	_, err := q.rdb.MoveToFinished(ctx, q.name, jobID, base.StateFailed, reason, retriesExhausted, base.FinishOptions{
		Token:          token,
		KeepJobs:       keep,
		MaxMetricsSize: metricsSize,
	})
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}

// CompleteAndFetchNext marks job as completed, exactly as Complete, and in
// the same atomic transition pops the next ready job for this queue, per
// spec.md §4.7 moveToFinished's "fetchNext" combined form. lockDuration
// and limiter configure that inline pop exactly as they would for Fetch.
func (q *Queue) CompleteAndFetchNext(ctx context.Context, jobID, token string, returnValue []byte, policy FinishPolicy, lockDuration time.Duration, limiter *base.Limiter) (*FetchResult, error) {
	var op errors.Op = "Queue.CompleteAndFetchNext"

	keep, metricsSize := policy.toBase()
	nextToken := uuid.New().String()
	res, err := q.rdb.MoveToFinished(ctx, q.name, jobID, base.StateCompleted, string(returnValue), false, base.FinishOptions{
		Token:            token,
		KeepJobs:         keep,
		MaxMetricsSize:   metricsSize,
		FetchNext:        true,
		NextToken:        nextToken,
		NextLockDuration: lockDuration.Milliseconds(),
		NextLimiter:      limiter,
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return fetchResultFromActive(res, nextToken), nil
}

// FailAndFetchNext marks job as failed, exactly as Fail, and in the same
// atomic transition pops the next ready job for this queue, per spec.md
// §4.7 moveToFinished's "fetchNext" combined form.
func (q *Queue) FailAndFetchNext(ctx context.Context, jobID, token, reason string, retriesExhausted bool, policy FinishPolicy, lockDuration time.Duration, limiter *base.Limiter) (*FetchResult, error) {
	var op errors.Op = "Queue.FailAndFetchNext"

	keep, metricsSize := policy.toBase()
	nextToken := uuid.New().String()
	res, err := q.rdb.MoveToFinished(ctx, q.name, jobID, base.StateFailed, reason, retriesExhausted, base.FinishOptions{
		Token:            token,
		KeepJobs:         keep,
		MaxMetricsSize:   metricsSize,
		FetchNext:        true,
		NextToken:        nextToken,
		NextLockDuration: lockDuration.Milliseconds(),
		NextLimiter:      limiter,
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return fetchResultFromActive(res, nextToken), nil
}
