package rdb

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
)

// KEYS[1] stalled candidate set, populated externally by the heartbeat
//          mechanism (spec.md's out-of-scope collaborator) with job ids
//          whose lease appears to have lapsed
// KEYS[2] active
// KEYS[3] meta
// KEYS[4] wait
// KEYS[5] paused
// KEYS[6] prioritized
// KEYS[7] pc counter
// KEYS[8] events
// KEYS[9] failed
// ARGV[1] now (ms)
// ARGV[2] maxLenEvents
// ARGV[3] max stalled count before a job is failed outright
// ARGV[4] job key prefix
//
// Returns {requeuedIds, failedIds}.
var moveStalledToWaitCmd = redis.NewScript(commonLua + `
local candidates = redis.call("ZRANGE", KEYS[1], 0, -1)
local requeued = {}
local failedList = {}

for i = 1, #candidates do
	local jobId = candidates[i]
	redis.call("ZREM", KEYS[1], jobId)
	if redis.call("LREM", KEYS[2], 0, jobId) > 0 then
		local jobKey = ARGV[4] .. jobId
		local stalledCount = redis.call("HINCRBY", jobKey, "stalledCounter", 1)
		if stalledCount > tonumber(ARGV[3]) then
			local reason = "job stalled more than allowable limit"
			redis.call("HSET", jobKey, "failedReason", reason, "finishedOn", ARGV[1])
			redis.call("ZADD", KEYS[9], ARGV[1], jobId)
			emitEvent(KEYS[8], ARGV[2], {"event", "failed", "jobId", jobId, "failedReason", reason})
			table.insert(failedList, jobId)
		else
			local priority = tonumber(redis.call("HGET", jobKey, "priority") or "0")
			local tkey = targetKey(KEYS[3], KEYS[4], KEYS[5])
			enqueueByPriority(tkey, KEYS[6], KEYS[7], jobId, priority, false)
			emitEvent(KEYS[8], ARGV[2], {"event", "waiting", "jobId", jobId, "prev", "active"})
			table.insert(requeued, jobId)
		end
	end
end

return {requeued, failedList}
`)

// MoveStalledToWait reclaims jobs identified as stalled (their lease
// expired without the worker renewing it or finishing the job), per
// spec.md §4.7 "moveStalledToWait". It does not itself decide which jobs
// are stalled; KEYS[1] is populated by the stalled-job heartbeat mechanism,
// an out-of-scope collaborator this module only consumes.
func (r *RDB) MoveStalledToWait(ctx context.Context, qname string, maxStalledCount int64) (requeued, failed []string, err error) {
	var op errors.Op = "rdb.MoveStalledToWait"

	keys := []string{
		base.StalledKey(qname),
		base.ActiveKey(qname),
		base.MetaKey(qname),
		base.WaitKey(qname),
		base.PausedKey(qname),
		base.PrioritizedKey(qname),
		base.PCKey(qname),
		base.EventsKey(qname),
		base.FailedKey(qname),
	}
	res, err := r.runScriptResult(ctx, op, moveStalledToWaitCmd, keys,
		r.nowMs(), base.DefaultMaxLenEvents, maxStalledCount, base.JobKeyPrefix(qname))
	if err != nil {
		return nil, nil, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return nil, nil, errors.E(op, errors.Internal, fmt.Sprintf("unexpected script reply: %v", res))
	}
	requeued = toStringSlice(vals[0])
	failed = toStringSlice(vals[1])
	return requeued, failed, nil
}

func toStringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
