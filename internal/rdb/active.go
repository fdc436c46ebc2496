package rdb

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cast"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
)

// KEYS[1] meta
// KEYS[2] wait
// KEYS[3] paused
// KEYS[4] prioritized
// KEYS[5] delayed
// KEYS[6] active
// KEYS[7] pc counter
// KEYS[8] events
// KEYS[9] rate limiter counter
// ARGV[1] job key prefix
// ARGV[2] now (ms)
// ARGV[3] lock token
// ARGV[4] lock duration (ms)
// ARGV[5] limiter max (0 disables rate limiting)
// ARGV[6] limiter duration (ms)
// ARGV[7] maxLenEvents
//
// Returns {jobId|false, jobFields|false, rateLimitTtlMs, nextDelayFireTimeMs}.
var moveToActiveCmd = redis.NewScript(commonLua + `
return {fetchNextActive(ARGV[1], tonumber(ARGV[2]), ARGV[3], tonumber(ARGV[4]), tonumber(ARGV[5]), tonumber(ARGV[6]),
	KEYS[1], KEYS[2], KEYS[3], KEYS[4], KEYS[5], KEYS[6], KEYS[7], KEYS[8], KEYS[9], ARGV[7])}
`)

// ActiveResult is the outcome of MoveToActive.
type ActiveResult struct {
	Job             *base.JobRecord
	RateLimitTTLMs  int64 // > 0 means a job was ready but rate-limited; retry after this long
	NextDelayFireMs int64 // > 0 means nothing ready, but a delayed job fires at this time
}

// MoveToActive pops the next ready job for queue qname, per spec.md §4.7
// "moveToActive": it first promotes due delayed jobs, then returns
// immediately with no job if the queue is paused, otherwise pops from the
// target list (falling back to the prioritized set, and treating a lone
// leading marker per spec.md §4.1), honoring the queue's rate limiter.
// Job == nil with both TTL fields zero means the queue is drained (or
// paused).
func (r *RDB) MoveToActive(ctx context.Context, qname string, opts base.MoveToActiveOptions) (*ActiveResult, error) {
	var op errors.Op = "rdb.MoveToActive"

	var limiterMax, limiterDuration int64
	if opts.Limiter != nil {
		limiterMax, limiterDuration = opts.Limiter.Max, opts.Limiter.Duration
	}

	keys := []string{
		base.MetaKey(qname),
		base.WaitKey(qname),
		base.PausedKey(qname),
		base.PrioritizedKey(qname),
		base.DelayedKey(qname),
		base.ActiveKey(qname),
		base.PCKey(qname),
		base.EventsKey(qname),
		base.RateLimiterKey(qname),
	}

	res, err := r.runScriptResult(ctx, op, moveToActiveCmd, keys,
		base.JobKeyPrefix(qname),
		r.nowMs(),
		opts.Token,
		opts.LockDuration,
		limiterMax,
		limiterDuration,
		base.DefaultMaxLenEvents,
	)
	if err != nil {
		return nil, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 4 {
		return nil, errors.E(op, errors.Internal, fmt.Sprintf("unexpected script reply: %v", res))
	}
	return parseActiveReply(op, vals[0], vals[1], vals[2], vals[3])
}

// parseActiveReply decodes the {jobId|false, jobFields|false, rateLimitTtlMs,
// nextDelayFireTimeMs} tuple shared by moveToActive and moveToFinished's
// fetchNext combined form (spec.md §6).
func parseActiveReply(op errors.Op, jobIDVal, fieldsVal, ttlVal, delayVal interface{}) (*ActiveResult, error) {
	ttl, _ := cast.ToInt64E(ttlVal)
	nextDelay, _ := cast.ToInt64E(delayVal)

	jobID, _ := jobIDVal.(string)
	if jobID == "" {
		return &ActiveResult{RateLimitTTLMs: ttl, NextDelayFireMs: nextDelay}, nil
	}

	fieldVals, ok := fieldsVal.([]interface{})
	if !ok {
		return nil, errors.E(op, errors.Internal, "active job reply missing field list")
	}
	fields := make(map[string]string, len(fieldVals)/2)
	for i := 0; i+1 < len(fieldVals); i += 2 {
		k, _ := fieldVals[i].(string)
		v, _ := fieldVals[i+1].(string)
		fields[k] = v
	}

	return &ActiveResult{Job: base.DecodeJobRecord(jobID, fields)}, nil
}
