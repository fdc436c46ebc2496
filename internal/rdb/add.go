package rdb

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
)

// KEYS[1] meta
// KEYS[2] wait
// KEYS[3] paused
// KEYS[4] prioritized
// KEYS[5] delayed
// KEYS[6] waitingChildren
// KEYS[7] id counter
// KEYS[8] pc counter
// KEYS[9] events
// KEYS[10] completed
// KEYS[11] parent's dependencies set ("" if this job has no parent)
// KEYS[12] parent's processed hash ("" if this job has no parent)
// ARGV[1] job key prefix
// ARGV[2] job id ("" to auto-generate from the id counter)
// ARGV[3] name
// ARGV[4] data
// ARGV[5] opts json
// ARGV[6] now (ms)
// ARGV[7] delay (ms)
// ARGV[8] priority
// ARGV[9] lifo ("1"/"0")
// ARGV[10] has-waiting-children ("1"/"0")
// ARGV[11] parent job key ("" if none)
// ARGV[12] parent id ("" if none)
// ARGV[13] parent queue key prefix ("" if none)
// ARGV[14] maxLenEvents
//
// Returns {jobId, delay} for a freshly created job, or {jobId, 0,
// completedDup, returnvalue} for a duplicate jobId: completedDup is "1" when
// this call supplies a parent and the existing job is already completed
// (it is then not added to the parent's dependencies set), in which case the Go caller must still run the third step of
// the dependency cascade (releasing the parent from waiting-children if this
// was its last pending dependency) via completeParentDependency, exactly as
// moveToFinished does for a newly-completing child.
var addCmd = redis.NewScript(commonLua + `
local jobId = ARGV[2]
if jobId == "" then
	jobId = tostring(redis.call("INCR", KEYS[7]))
elseif string.sub(jobId, 1, 2) == "0:" then
	return redis.error_reply("reserved job id")
end

local jobKey = ARGV[1] .. jobId
local now = tonumber(ARGV[6])
local delay = tonumber(ARGV[7])
local priority = tonumber(ARGV[8])

if redis.call("EXISTS", jobKey) == 1 then
	local completedDup = "0"
	local rv = ""
	if ARGV[12] ~= "" and KEYS[11] ~= "" then
		local isCompleted = redis.call("ZSCORE", KEYS[10], jobId) ~= false
		if isCompleted and KEYS[12] ~= "" then
			completedDup = "1"
			rv = redis.call("HGET", jobKey, "returnvalue") or ""
		else
			redis.call("SADD", KEYS[11], jobKey)
		end
	end
	emitEvent(KEYS[9], ARGV[14], {"event", "duplicated", "jobId", jobId})
	return {jobId, 0, completedDup, rv}
end

redis.call("HSET", jobKey,
	"name", ARGV[3],
	"data", ARGV[4],
	"opts", ARGV[5],
	"timestamp", now,
	"delay", delay,
	"priority", priority,
	"attemptsMade", 0)

if ARGV[11] ~= "" then
	redis.call("HSET", jobKey, "parentKey", ARGV[11], "parent",
		cjson.encode({id = ARGV[12], queueKey = ARGV[13]}))
end
if KEYS[11] ~= "" then
	redis.call("SADD", KEYS[11], jobKey)
end

emitEvent(KEYS[9], ARGV[14], {"event", "added", "jobId", jobId})

if ARGV[10] == "1" then
	redis.call("ZADD", KEYS[6], now, jobId)
	emitEvent(KEYS[9], ARGV[14], {"event", "waiting-children", "jobId", jobId})
	return {jobId, 0}
end

if delay > 0 then
	local pc = redis.call("INCR", KEYS[8])
	local fireTime = now + delay
	local score = fireTime * 4096 + (pc % 4096)
	redis.call("ZADD", KEYS[5], score, jobId)
	emitEvent(KEYS[9], ARGV[14], {"event", "delayed", "jobId", jobId, "delay", delay})
	local tkey = targetKey(KEYS[1], KEYS[2], KEYS[3])
	refreshMarkers(tkey, KEYS[4], KEYS[5])
	return {jobId, delay}
end

local tkey = targetKey(KEYS[1], KEYS[2], KEYS[3])
local lifo = ARGV[9] == "1"
enqueueByPriority(tkey, KEYS[4], KEYS[8], jobId, priority, lifo)
emitEvent(KEYS[9], ARGV[14], {"event", "waiting", "jobId", jobId})
return {jobId, 0}
`)

// Add creates a new job in queue qname and routes it to waiting-children,
// delayed, prioritized or its target list, per spec.md §4.7 "add". If opts.
// JobID names an existing job, Add treats the call as a duplicate: instead
// of creating a second job it adds the existing job to opts.Parent's
// dependencies (if a parent is supplied) or, when the existing job is
// already completed, records its return value for the parent and releases
// the parent if that was its last dependency. The existing job's hash is
// not changed. Add returns the existing job's ID.
func (r *RDB) Add(ctx context.Context, qname string, data []byte, opts base.AddOptions) (string, error) {
	var op errors.Op = "rdb.Add"

	jobOpts := base.JobOptions{
		LIFO:                      opts.LIFO,
		Attempts:                  opts.Attempts,
		FailParentOnFailure:       opts.FailParentOnFailure,
		RemoveDependencyOnFailure: opts.RemoveDependencyOnFailure,
		WaitChildrenKey:           opts.WaitChildrenKey,
		ParentDependenciesKey:     opts.ParentDependenciesKey,
	}
	optsJSON, err := base.EncodeJobOptions(jobOpts)
	if err != nil {
		return "", errors.E(op, errors.Internal, err)
	}

	hasWaitChildren := "0"
	if opts.WaitChildrenKey != "" {
		hasWaitChildren = "1"
	}
	lifo := "0"
	if opts.LIFO {
		lifo = "1"
	}

	parentID, parentQueueKey := "", ""
	if opts.Parent != nil {
		parentID, parentQueueKey = opts.Parent.ID, opts.Parent.QueueKey
	}

	keys := []string{
		base.MetaKey(qname),
		base.WaitKey(qname),
		base.PausedKey(qname),
		base.PrioritizedKey(qname),
		base.DelayedKey(qname),
		base.WaitingChildrenKey(qname),
		base.IDKey(qname),
		base.PCKey(qname),
		base.EventsKey(qname),
		base.CompletedKey(qname),
		opts.ParentDependenciesKey,
		"",
	}
	if opts.ParentKey != "" {
		keys[11] = base.ProcessedKey(opts.ParentKey)
	}

	res, err := r.runScriptResult(ctx, op, addCmd, keys,
		base.JobKeyPrefix(qname),
		opts.JobID,
		opts.Name,
		string(data),
		optsJSON,
		r.nowMs(),
		opts.Delay,
		opts.Priority,
		lifo,
		hasWaitChildren,
		opts.ParentKey,
		parentID,
		parentQueueKey,
		base.DefaultMaxLenEvents,
	)
	if err != nil {
		return "", err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) == 0 {
		return "", errors.E(op, errors.Internal, fmt.Sprintf("unexpected script reply: %v", res))
	}
	id := fmt.Sprintf("%v", vals[0])

	if len(vals) >= 4 && opts.Parent != nil {
		completedDup, _ := vals[2].(string)
		if completedDup == "1" {
			returnValue, _ := vals[3].(string)
			if _, err := r.completeParentDependency(ctx, *opts.Parent, base.JobKey(qname, id), returnValue, true); err != nil {
				return "", err
			}
		}
	}

	return id, nil
}
