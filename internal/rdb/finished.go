package rdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
)

// KEYS[1] job key
// KEYS[2] active
// KEYS[3] completed
// KEYS[4] failed
// KEYS[5] events
// KEYS[6] meta
// KEYS[7] wait
// KEYS[8] paused
// KEYS[9] prioritized
// KEYS[10] delayed
// KEYS[11] waiting-children
// KEYS[12] pc counter
// KEYS[13] this job's own dependencies set
// KEYS[14] metrics hash for the target (completed/failed)
// KEYS[15] metrics data list for the target
// KEYS[16] rate limiter counter (for the fetchNext pop)
// ARGV[1] job id
// ARGV[2] lock token
// ARGV[3] now (ms)
// ARGV[4] target ("completed" or "failed")
// ARGV[5] return value (target=completed) or failure reason (target=failed)
// ARGV[6] keepCount (0 = evict immediately; >0 = trim to this many)
// ARGV[7] maxLenEvents
// ARGV[8] keepAge (ms; 0 disables age-based eviction)
// ARGV[9] retries-exhausted ("1" swaps the failed event name)
// ARGV[10] job key prefix
// ARGV[11] maxMetricsSize ("" disables metrics collection)
// ARGV[12] fetchNext ("1"/"0")
// ARGV[13] fetchNext's lock token
// ARGV[14] fetchNext's lock duration (ms)
// ARGV[15] fetchNext's limiter max (0 disables)
// ARGV[16] fetchNext's limiter duration (ms)
//
// Returns {statusCode, parentKeyStr, parentJson, optsJson, jobId,
// attemptsMade, nextJobId|false, nextJobFields|false, nextRateLimitTtlMs,
// nextDelayFireTimeMs} on success (statusCode 0), or {negativeCode} on
// failure (spec.md §6/§7). The last four fields are always present but
// only meaningful when ARGV[12] is "1" (spec.md §4.7's "fetchNext").
var moveToFinishedCmd = redis.NewScript(commonLua + `
local jobKey = ARGV[10] .. ARGV[1]

if redis.call("EXISTS", jobKey) == 0 then
	return {-1}
end

local lockToken = redis.call("GET", jobKey .. ":lock")
if not lockToken then
	return {-2}
end
if lockToken ~= ARGV[2] then
	return {-6}
end

if redis.call("LREM", KEYS[2], 0, ARGV[1]) == 0 then
	return {-3}
end
redis.call("DEL", jobKey .. ":lock")

if redis.call("SCARD", KEYS[13]) > 0 then
	redis.call("ZADD", KEYS[11], ARGV[3], ARGV[1])
	emitEvent(KEYS[5], ARGV[7], {"event", "waiting-children", "jobId", ARGV[1]})
	return {-4}
end

local parentKeyStr = redis.call("HGET", jobKey, "parentKey") or ""
local parentJson = redis.call("HGET", jobKey, "parent") or ""
local optsJson = redis.call("HGET", jobKey, "opts") or ""
local attemptsMade = tonumber(redis.call("HGET", jobKey, "attemptsMade") or "0")

if ARGV[4] == "completed" then
	redis.call("HSET", jobKey, "returnvalue", ARGV[5], "finishedOn", ARGV[3])
	emitEvent(KEYS[5], ARGV[7], {"event", "completed", "jobId", ARGV[1], "returnvalue", ARGV[5]})
else
	redis.call("HSET", jobKey, "failedReason", ARGV[5], "finishedOn", ARGV[3])
	local evName = "failed"
	if ARGV[9] == "1" then evName = "retries-exhausted" end
	emitEvent(KEYS[5], ARGV[7], {"event", evName, "jobId", ARGV[1], "failedReason", ARGV[5]})
end

local targetSet = KEYS[3]
if ARGV[4] == "failed" then targetSet = KEYS[4] end

local keepCount = tonumber(ARGV[6])
if keepCount == 0 then
	redis.call("DEL", jobKey, jobKey .. ":dependencies", jobKey .. ":processed")
else
	redis.call("ZADD", targetSet, ARGV[3], ARGV[1])
	local keepAge = tonumber(ARGV[8])
	if keepAge and keepAge > 0 then
		local cutoff = tonumber(ARGV[3]) - keepAge
		local expired = redis.call("ZRANGEBYSCORE", targetSet, "-inf", cutoff)
		for i = 1, #expired do
			redis.call("ZREM", targetSet, expired[i])
			redis.call("DEL", ARGV[10] .. expired[i], ARGV[10] .. expired[i] .. ":dependencies", ARGV[10] .. expired[i] .. ":processed")
		end
	end
	if keepCount and keepCount > 0 then
		local excess = redis.call("ZCARD", targetSet) - keepCount
		if excess > 0 then
			local victims = redis.call("ZRANGE", targetSet, 0, excess - 1)
			for i = 1, #victims do
				redis.call("ZREM", targetSet, victims[i])
				redis.call("DEL", ARGV[10] .. victims[i], ARGV[10] .. victims[i] .. ":dependencies", ARGV[10] .. victims[i] .. ":processed")
			end
		end
	end
end

if ARGV[11] ~= "" then
	local maxMetricsSize = tonumber(ARGV[11])
	local count = redis.call("HINCRBY", KEYS[14], "count", 1)
	local prevTS = tonumber(redis.call("HGET", KEYS[14], "prevTS") or "0")
	local curTS = math.floor(tonumber(ARGV[3]) / 60000)
	if prevTS == 0 then
		redis.call("HSET", KEYS[14], "prevTS", curTS, "prevCount", count)
	elseif curTS > prevTS then
		local prevCount = tonumber(redis.call("HGET", KEYS[14], "prevCount") or "0")
		redis.call("LPUSH", KEYS[15], count - prevCount)
		if maxMetricsSize > 0 then
			redis.call("LTRIM", KEYS[15], 0, maxMetricsSize - 1)
		end
		redis.call("HSET", KEYS[14], "prevTS", curTS, "prevCount", count)
	end
end

local tkey = targetKey(KEYS[6], KEYS[7], KEYS[8])
refreshMarkers(tkey, KEYS[9], KEYS[10])

local nextJobId, nextFields, nextTtl, nextDelay = false, false, 0, 0
if ARGV[12] == "1" then
	nextJobId, nextFields, nextTtl, nextDelay = fetchNextActive(ARGV[10], tonumber(ARGV[3]), ARGV[13], tonumber(ARGV[14]), tonumber(ARGV[15]), tonumber(ARGV[16]),
		KEYS[6], KEYS[7], KEYS[8], KEYS[9], KEYS[10], KEYS[2], KEYS[12], KEYS[5], KEYS[16], ARGV[7])
	if redis.call("LLEN", KEYS[7]) == 0 and redis.call("LLEN", KEYS[2]) == 0 and redis.call("ZCARD", KEYS[9]) == 0 then
		emitEvent(KEYS[5], ARGV[7], {"event", "drained"})
	end
end

return {0, parentKeyStr, parentJson, optsJson, ARGV[1], attemptsMade, nextJobId, nextFields, nextTtl, nextDelay}
`)

// MoveToFinished transitions an active job to completed or failed, per
// spec.md §4.7 "moveToFinished". It validates the caller's lock, applies
// retention (FinishOptions.KeepJobs/age), collects a metrics sample when
// MaxMetricsSize is set, and then drives the dependency propagator
// (spec.md §4.6) for the job's parent, if any. If opts.FetchNext is set,
// it also performs an inline equivalent of MoveToActive in the same
// transition, returning its result; the returned *ActiveResult is nil
// when FetchNext is unset.
func (r *RDB) MoveToFinished(ctx context.Context, qname, jobID string, target base.JobState, value string, retriesExhausted bool, opts base.FinishOptions) (*ActiveResult, error) {
	var op errors.Op = "rdb.MoveToFinished"

	if target != base.StateCompleted && target != base.StateFailed {
		return nil, errors.E(op, errors.InvalidArgument, "target must be completed or failed")
	}
	targetStr := "completed"
	if target == base.StateFailed {
		targetStr = "failed"
	}

	jobKey := base.JobKey(qname, jobID)
	keys := []string{
		jobKey,
		base.ActiveKey(qname),
		base.CompletedKey(qname),
		base.FailedKey(qname),
		base.EventsKey(qname),
		base.MetaKey(qname),
		base.WaitKey(qname),
		base.PausedKey(qname),
		base.PrioritizedKey(qname),
		base.DelayedKey(qname),
		base.WaitingChildrenKey(qname),
		base.PCKey(qname),
		base.DependenciesKey(jobKey),
		base.MetricsKey(qname, targetStr),
		base.MetricsDataKey(qname, targetStr),
		base.RateLimiterKey(qname),
	}

	var keepCount, keepAge int64
	if opts.KeepJobs != nil {
		keepCount, keepAge = opts.KeepJobs.Count, opts.KeepJobs.Age
	}
	maxLenEvents := opts.MaxLenEvents
	if maxLenEvents == 0 {
		maxLenEvents = base.DefaultMaxLenEvents
	}
	retriesFlag := "0"
	if retriesExhausted {
		retriesFlag = "1"
	}
	fetchNextFlag := "0"
	if opts.FetchNext {
		fetchNextFlag = "1"
	}
	var nextLimiterMax, nextLimiterDuration int64
	if opts.NextLimiter != nil {
		nextLimiterMax, nextLimiterDuration = opts.NextLimiter.Max, opts.NextLimiter.Duration
	}

	res, err := r.runScriptResult(ctx, op, moveToFinishedCmd, keys,
		jobID, opts.Token, r.nowMs(), targetStr, value,
		keepCount, maxLenEvents, keepAge, retriesFlag,
		base.JobKeyPrefix(qname), opts.MaxMetricsSize,
		fetchNextFlag, opts.NextToken, opts.NextLockDuration, nextLimiterMax, nextLimiterDuration,
	)
	if err != nil {
		return nil, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) == 0 {
		return nil, errors.E(op, errors.Internal, fmt.Sprintf("unexpected script reply: %v", res))
	}
	status, err := toInt64(op, vals[0])
	if err != nil {
		return nil, err
	}
	if status != 0 {
		return nil, codeFromNegative(op, status)
	}
	if len(vals) != 10 {
		return nil, errors.E(op, errors.Internal, fmt.Sprintf("unexpected script reply: %v", res))
	}

	var next *ActiveResult
	if opts.FetchNext {
		next, err = parseActiveReply(op, vals[6], vals[7], vals[8], vals[9])
		if err != nil {
			return nil, err
		}
	}

	parentJSON, _ := vals[2].(string)
	if parentJSON == "" {
		return next, nil
	}
	var parent base.ParentRef
	if err := json.Unmarshal([]byte(parentJSON), &parent); err != nil || parent.ID == "" {
		return next, nil
	}
	optsJSON, _ := vals[3].(string)
	var jobOpts base.JobOptions
	if optsJSON != "" {
		_ = json.Unmarshal([]byte(optsJSON), &jobOpts)
	}

	if target == base.StateCompleted {
		_, err := r.completeParentDependency(ctx, parent, jobKey, value, true)
		return next, err
	}

	// fpof takes precedence over rdof when a job carries both (spec.md §4.6).
	if jobOpts.FailParentOnFailure {
		return next, r.cascadeParentFailure(ctx, &parent, jobKey)
	}
	if jobOpts.RemoveDependencyOnFailure {
		_, err := r.completeParentDependency(ctx, parent, jobKey, "", false)
		return next, err
	}
	return next, nil
}
