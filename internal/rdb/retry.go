package rdb

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
)

// KEYS[1] job key
// KEYS[2] active
// KEYS[3] meta
// KEYS[4] wait
// KEYS[5] paused
// KEYS[6] prioritized
// KEYS[7] delayed
// KEYS[8] pc counter
// KEYS[9] events
// ARGV[1] job id
// ARGV[2] lock token
// ARGV[3] maxLenEvents
// ARGV[4] job key prefix
// ARGV[5] now packed (now*4096+4095), for promoting due delayed jobs first
// ARGV[6] lifo ("1"/"0"): push direction (RPUSH/LPUSH) used for priority 0
var retryCmd = redis.NewScript(commonLua + `
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local lockToken = redis.call("GET", KEYS[1] .. ":lock")
if not lockToken then
	return -2
end
if lockToken ~= ARGV[2] then
	return -6
end

local tkey = targetKey(KEYS[3], KEYS[4], KEYS[5])
promoteDueDelayed(ARGV[4], tonumber(ARGV[5]), KEYS[7], tkey, KEYS[6], KEYS[8], KEYS[9], ARGV[3])

if redis.call("LREM", KEYS[2], 0, ARGV[1]) == 0 then
	return -3
end
redis.call("DEL", KEYS[1] .. ":lock")
redis.call("HDEL", KEYS[1], "failedReason", "finishedOn")

local priority = tonumber(redis.call("HGET", KEYS[1], "priority") or "0")
local lifo = ARGV[6] == "1"
enqueueByPriority(tkey, KEYS[6], KEYS[8], ARGV[1], priority, lifo)
emitEvent(KEYS[9], ARGV[3], {"event", "waiting", "jobId", ARGV[1], "prev", "failed"})
return 0
`)

// Retry moves an active job back into its target list or the prioritized
// set, per spec.md §4.7 "retry". The caller must hold the job's lock
// (token), the same one returned by Fetch; lifo selects RPUSH over LPUSH
// for a priority-0 job. Retry does not itself check
// attempt counts: callers decide whether a job is eligible for another
// attempt before calling Retry.
func (r *RDB) Retry(ctx context.Context, qname, jobID, token string, lifo bool) error {
	var op errors.Op = "rdb.Retry"

	keys := []string{
		base.JobKey(qname, jobID),
		base.ActiveKey(qname),
		base.MetaKey(qname),
		base.WaitKey(qname),
		base.PausedKey(qname),
		base.PrioritizedKey(qname),
		base.DelayedKey(qname),
		base.PCKey(qname),
		base.EventsKey(qname),
	}
	lifoFlag := "0"
	if lifo {
		lifoFlag = "1"
	}
	now := r.nowMs()
	nowPacked := now*4096 + 4095
	res, err := r.runScriptResult(ctx, op, retryCmd, keys,
		jobID, token, base.DefaultMaxLenEvents, base.JobKeyPrefix(qname), nowPacked, lifoFlag)
	if err != nil {
		return err
	}
	n, err := toInt64(op, res)
	if err != nil {
		return err
	}
	return codeFromNegative(op, n)
}
