package rdb

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
)

// KEYS[1] meta
// KEYS[2] wait
// KEYS[3] paused
// KEYS[4] prioritized
// KEYS[5] pc counter
// KEYS[6] job key
// ARGV[1] job id
// ARGV[2] new priority
// ARGV[3] lifo ("1"/"0"): push direction (RPUSH/LPUSH) used for priority 0
var changePriorityCmd = redis.NewScript(commonLua + `
if redis.call("EXISTS", KEYS[6]) == 0 then
	return -1
end
local tkey = targetKey(KEYS[1], KEYS[2], KEYS[3])

local found = redis.call("ZREM", KEYS[4], ARGV[1]) > 0
if not found then
	found = redis.call("LREM", tkey, 0, ARGV[1]) > 0
end
if not found then
	return -1
end

redis.call("HSET", KEYS[6], "priority", ARGV[2])
local lifo = ARGV[3] == "1"
enqueueByPriority(tkey, KEYS[4], KEYS[5], ARGV[1], tonumber(ARGV[2]), lifo)
return 0
`)

// ChangePriority re-scores a waiting or prioritized job and re-routes it
// between the target list and the prioritized set as needed, per spec.md
// §4.7 "changePriority". lifo selects RPUSH over LPUSH when the new
// priority is 0. It is a no-op error (MissingJob) for a job that isn't
// currently waiting or prioritized.
func (r *RDB) ChangePriority(ctx context.Context, qname, jobID string, priority int64, lifo bool) error {
	var op errors.Op = "rdb.ChangePriority"

	keys := []string{
		base.MetaKey(qname),
		base.WaitKey(qname),
		base.PausedKey(qname),
		base.PrioritizedKey(qname),
		base.PCKey(qname),
		base.JobKey(qname, jobID),
	}
	lifoFlag := "0"
	if lifo {
		lifoFlag = "1"
	}
	res, err := r.runScriptResult(ctx, op, changePriorityCmd, keys, jobID, priority, lifoFlag)
	if err != nil {
		return err
	}
	n, err := toInt64(op, res)
	if err != nil {
		return err
	}
	return codeFromNegative(op, n)
}
