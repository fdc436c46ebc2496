package rdb

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
)

// KEYS[1] job key
// KEYS[2] active
// KEYS[3] delayed
// KEYS[4] meta
// KEYS[5] wait
// KEYS[6] paused
// KEYS[7] prioritized
// KEYS[8] events
// KEYS[9] pc counter
// ARGV[1] job id
// ARGV[2] lock token
// ARGV[3] now (ms)
// ARGV[4] delay (ms from now)
// ARGV[5] maxLenEvents
var moveToDelayedCmd = redis.NewScript(commonLua + `
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
if redis.call("LREM", KEYS[2], 0, ARGV[1]) == 0 then
	return -3
end
redis.call("DEL", KEYS[1] .. ":lock")

local pc = redis.call("INCR", KEYS[9])
local fireTime = tonumber(ARGV[3]) + tonumber(ARGV[4])
local score = fireTime * 4096 + (pc % 4096)
redis.call("ZADD", KEYS[3], score, ARGV[1])
redis.call("HSET", KEYS[1], "delay", ARGV[4])
emitEvent(KEYS[8], ARGV[5], {"event", "delayed", "jobId", ARGV[1], "delay", ARGV[4]})

local tkey = targetKey(KEYS[4], KEYS[5], KEYS[6])
refreshMarkers(tkey, KEYS[7], KEYS[3])
return 0
`)

// MoveToDelayed defers an active job back into the delayed set, per
// spec.md §4.7 "moveToDelayed". The caller must hold the job's lock.
func (r *RDB) MoveToDelayed(ctx context.Context, qname, jobID, token string, delayMs int64) error {
	var op errors.Op = "rdb.MoveToDelayed"

	jobKey := base.JobKey(qname, jobID)
	keys := []string{
		jobKey,
		base.ActiveKey(qname),
		base.DelayedKey(qname),
		base.MetaKey(qname),
		base.WaitKey(qname),
		base.PausedKey(qname),
		base.PrioritizedKey(qname),
		base.EventsKey(qname),
		base.PCKey(qname),
	}
	res, err := r.runScriptResult(ctx, op, moveToDelayedCmd, keys,
		jobID, token, r.nowMs(), delayMs, base.DefaultMaxLenEvents)
	if err != nil {
		return err
	}
	n, err := toInt64(op, res)
	if err != nil {
		return err
	}
	return codeFromNegative(op, n)
}

// KEYS[1] meta
// KEYS[2] wait
// KEYS[3] paused
// KEYS[4] prioritized
// KEYS[5] delayed
// KEYS[6] pc counter
// KEYS[7] events
// ARGV[1] job id
// ARGV[2] maxLenEvents
// ARGV[3] job key prefix
var promoteCmd = redis.NewScript(commonLua + `
if redis.call("ZSCORE", KEYS[5], ARGV[1]) == false then
	return -3
end
local tkey = targetKey(KEYS[1], KEYS[2], KEYS[3])
promoteOne(ARGV[3], ARGV[1], KEYS[5], tkey, KEYS[4], KEYS[6], KEYS[7], ARGV[2], "delayed")
return 0
`)

// Promote moves a delayed job into its target list or the prioritized set
// immediately, ignoring its remaining delay, per spec.md §4.7 "promote".
func (r *RDB) Promote(ctx context.Context, qname, jobID string) error {
	var op errors.Op = "rdb.Promote"

	keys := []string{
		base.MetaKey(qname),
		base.WaitKey(qname),
		base.PausedKey(qname),
		base.PrioritizedKey(qname),
		base.DelayedKey(qname),
		base.PCKey(qname),
		base.EventsKey(qname),
	}
	res, err := r.runScriptResult(ctx, op, promoteCmd, keys,
		jobID, base.DefaultMaxLenEvents, base.JobKeyPrefix(qname))
	if err != nil {
		return err
	}
	n, err := toInt64(op, res)
	if err != nil {
		return err
	}
	return codeFromNegative(op, n)
}
