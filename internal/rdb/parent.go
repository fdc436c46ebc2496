package rdb

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
)

// KEYS[1] parent job key
// KEYS[2] parent dependencies set
// KEYS[3] parent processed hash
// KEYS[4] parent waiting-children set
// KEYS[5] parent meta
// KEYS[6] parent wait
// KEYS[7] parent paused
// KEYS[8] parent prioritized
// KEYS[9] parent delayed
// KEYS[10] parent events
// KEYS[11] parent pc counter
// ARGV[1] child's full job key (member of the dependencies set)
// ARGV[2] child's return value (ignored unless ARGV[5] == "1")
// ARGV[3] now (ms)
// ARGV[4] maxLenEvents
// ARGV[5] record-return-value ("1" for a completed child, "0" for rdof)
// ARGV[6] parent id
//
// Drops one child out of the parent's dependency set and, once it is the
// last one, moves the parent out of waiting-children and routes it by its
// stored delay and priority, the way add routes a freshly-added job
// (spec.md §4.6). Shared by the
// completion cascade and the remove-dependency-on-failure cascade.
var completeParentDependencyCmd = redis.NewScript(commonLua + `
redis.call("SREM", KEYS[2], ARGV[1])
if ARGV[5] == "1" then
	redis.call("HSET", KEYS[3], ARGV[1], ARGV[2])
end
if redis.call("SCARD", KEYS[2]) > 0 then
	return {0}
end

local removed = redis.call("ZREM", KEYS[4], ARGV[6])
if removed == 0 then
	return {0}
end

local tkey = targetKey(KEYS[5], KEYS[6], KEYS[7])
local delay = tonumber(redis.call("HGET", KEYS[1], "delay") or "0")
local priority = tonumber(redis.call("HGET", KEYS[1], "priority") or "0")

if delay > 0 then
	local pc = redis.call("INCR", KEYS[11])
	local fireTime = tonumber(ARGV[3]) + delay
	local score = fireTime * 4096 + (pc % 4096)
	redis.call("ZADD", KEYS[9], score, ARGV[6])
	emitEvent(KEYS[10], ARGV[4], {"event", "delayed", "jobId", ARGV[6], "prev", "waiting-children"})
	refreshMarkers(tkey, KEYS[8], KEYS[9])
	return {1, "delayed"}
end

enqueueByPriority(tkey, KEYS[8], KEYS[11], ARGV[6], priority, false)
emitEvent(KEYS[10], ARGV[4], {"event", "waiting", "jobId", ARGV[6], "prev", "waiting-children"})
return {1, "waiting"}
`)

// completeParentDependency is one hop of the dependency-propagator
// (spec.md §4.6). It is not recursive: a parent becoming ready is never
// itself cause to notify a grandparent.
func (r *RDB) completeParentDependency(ctx context.Context, parent base.ParentRef, childFullKey, returnValue string, record bool) (bool, error) {
	var op errors.Op = "rdb.completeParentDependency"

	prefix := parent.QueueKey
	parentJobKey := prefix + "j:" + parent.ID
	keys := []string{
		parentJobKey,
		base.DependenciesKey(parentJobKey),
		base.ProcessedKey(parentJobKey),
		prefix + "waiting-children",
		prefix + "meta",
		prefix + "wait",
		prefix + "paused",
		prefix + "prioritized",
		prefix + "delayed",
		prefix + "events",
		prefix + "pc",
	}
	recordFlag := "0"
	if record {
		recordFlag = "1"
	}
	res, err := r.runScriptResult(ctx, op, completeParentDependencyCmd, keys,
		childFullKey, returnValue, r.nowMs(), base.DefaultMaxLenEvents, recordFlag, parent.ID)
	if err != nil {
		return false, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) == 0 {
		return false, errors.E(op, errors.Internal, fmt.Sprintf("unexpected script reply: %v", res))
	}
	moved, _ := vals[0].(int64)
	return moved == 1, nil
}

// KEYS[1] parent job key
// KEYS[2] parent waiting-children set
// KEYS[3] parent failed set
// KEYS[4] parent events
// ARGV[1] parent id
// ARGV[2] the failing child's job key, embedded in the failure reason
// ARGV[3] now (ms)
// ARGV[4] maxLenEvents
//
// Fails one ancestor because a fail-parent-on-fail child failed, and reports
// whether the Go-side caller should keep walking the ancestor chain
// (spec.md §4.6's fpof cascade, deliberately driven iteratively from Go
// rather than recursively in Lua: each hop may live in a different queue
// namespace, discovered only by reading that hop's own stored parent ref).
var failParentIfWaitingChildrenCmd = redis.NewScript(`
local removed = redis.call("ZREM", KEYS[2], ARGV[1])
if removed == 0 then
	return {0, 0, "", ""}
end

redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
local reason = "child " .. ARGV[2] .. " failed"
redis.call("HSET", KEYS[1], "failedReason", reason, "finishedOn", ARGV[3])
redis.call("XADD", KEYS[4], "MAXLEN", "~", ARGV[4], "*",
	"event", "failed", "jobId", ARGV[1], "prev", "waiting-children", "failedReason", reason)

local fpof = 0
local optsRaw = redis.call("HGET", KEYS[1], "opts")
if optsRaw and optsRaw ~= "" then
	local ok, decoded = pcall(cjson.decode, optsRaw)
	if ok and decoded and decoded.fpof then
		fpof = 1
	end
end

local nextId, nextQueueKey = "", ""
local parentRaw = redis.call("HGET", KEYS[1], "parent")
if parentRaw and parentRaw ~= "" then
	local ok, decoded = pcall(cjson.decode, parentRaw)
	if ok and decoded then
		nextId = decoded.id or ""
		nextQueueKey = decoded.queueKey or ""
	end
end

return {1, fpof, nextId, nextQueueKey}
`)

// failParentIfWaitingChildren is one hop of the fpof cascade. It returns
// whether the hop's own job carried fail-parent-on-fail and, if so, that
// job's own parent, so cascadeParentFailure can continue the walk.
func (r *RDB) failParentIfWaitingChildren(ctx context.Context, parent base.ParentRef, childKeyForReason string) (moved, fpof bool, next *base.ParentRef, err error) {
	var op errors.Op = "rdb.failParentIfWaitingChildren"

	prefix := parent.QueueKey
	parentJobKey := prefix + "j:" + parent.ID
	keys := []string{
		parentJobKey,
		prefix + "waiting-children",
		prefix + "failed",
		prefix + "events",
	}
	res, err := r.runScriptResult(ctx, op, failParentIfWaitingChildrenCmd, keys,
		parent.ID, childKeyForReason, r.nowMs(), base.DefaultMaxLenEvents)
	if err != nil {
		return false, false, nil, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 4 {
		return false, false, nil, errors.E(op, errors.Internal, fmt.Sprintf("unexpected script reply: %v", res))
	}
	movedN, _ := vals[0].(int64)
	fpofN, _ := vals[1].(int64)
	nextID, _ := vals[2].(string)
	nextQueueKey, _ := vals[3].(string)
	if movedN != 1 || fpofN != 1 || nextID == "" {
		return movedN == 1, fpofN == 1, nil, nil
	}
	return true, true, &base.ParentRef{ID: nextID, QueueKey: nextQueueKey}, nil
}

// cascadeParentFailure walks the ancestor chain started by parent, failing
// each waiting-children ancestor in turn for as long as each hop's own
// fail-parent-on-fail flag is set (spec.md §4.6, design note on iterative
// ancestor-chain walking).
func (r *RDB) cascadeParentFailure(ctx context.Context, parent *base.ParentRef, childKey string) error {
	current := parent
	key := childKey
	for current != nil {
		moved, fpof, next, err := r.failParentIfWaitingChildren(ctx, *current, key)
		if err != nil {
			return err
		}
		if !moved || !fpof || next == nil {
			return nil
		}
		key = current.QueueKey + "j:" + current.ID
		current = next
	}
	return nil
}
