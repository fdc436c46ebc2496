// Package rdb implements the atomic transition procedures of spec.md §4.7
// against Redis, one github.com/go-redis/redis/v8 Lua script per procedure,
// following the pattern of the teacher's internal/rdb package: a thin RDB
// struct wrapping a redis.UniversalClient and an injectable timeutil.Clock,
// every exported method tagged with an errors.Op, every script documented
// with a KEYS/ARGV comment block immediately above its redis.NewScript call.
package rdb

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cast"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/timeutil"
)

// RDB is a client for the atomic queue operations. It is safe for concurrent
// use by multiple goroutines: every mutating call is a single Lua script
// executed atomically by Redis.
type RDB struct {
	client redis.UniversalClient
	clock  timeutil.Clock
}

// NewRDB returns a new RDB backed by the given Redis client.
func NewRDB(client redis.UniversalClient) *RDB {
	return &RDB{client: client, clock: timeutil.NewRealClock()}
}

// SetClock overrides the clock used for "now". Tests use a SimulatedClock.
func (r *RDB) SetClock(c timeutil.Clock) { r.clock = c }

// Close closes the underlying Redis connection.
func (r *RDB) Close() error { return r.client.Close() }

// Client exposes the underlying Redis client, mainly for tests that need to
// inspect raw key state.
func (r *RDB) Client() redis.UniversalClient { return r.client }

// Ping checks connectivity with the Redis server.
func (r *RDB) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RDB) nowMs() int64 { return r.clock.Now().UnixNano() / int64(1_000_000) }

// runScript executes a script that signals failure solely via a Redis error
// reply (no structured return value needed by the caller).
func (r *RDB) runScript(ctx context.Context, op errors.Op, script *redis.Script, keys []string, args ...interface{}) error {
	if err := script.Run(ctx, r.client, keys, args...).Err(); err != nil {
		return errors.E(op, errors.Internal, fmt.Sprintf("redis eval error: %v", err))
	}
	return nil
}

// runScriptResult executes a script and returns its raw return value.
func (r *RDB) runScriptResult(ctx context.Context, op errors.Op, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	res, err := script.Run(ctx, r.client, keys, args...).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.E(op, errors.Internal, fmt.Sprintf("redis eval error: %v", err))
	}
	return res, nil
}

// toInt64 casts a Lua script return value to int64, wrapping cast failures
// in a typed error the way the teacher's Dequeue/forward/ListLeaseExpired do.
func toInt64(op errors.Op, v interface{}) (int64, error) {
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, errors.E(op, errors.Internal, fmt.Sprintf("cast error: unexpected Lua return value: %v", v))
	}
	return n, nil
}

// codeFromNegative maps the legacy negative-integer contract of spec.md §6/§7
// returned by a script into a typed error, or nil for 0 (success).
func codeFromNegative(op errors.Op, n int64) error {
	switch n {
	case 0:
		return nil
	case -1:
		return errors.E(op, errors.MissingJob)
	case -2:
		return errors.E(op, errors.MissingLock)
	case -3:
		return errors.E(op, errors.NotActive)
	case -4:
		return errors.E(op, errors.PendingDependencies)
	case -5:
		return errors.E(op, errors.MissingParent)
	case -6:
		return errors.E(op, errors.LockMismatch)
	default:
		return errors.E(op, errors.Internal, fmt.Sprintf("unrecognized status code %d", n))
	}
}

// Shared Lua fragments, concatenated into the scripts below. Kept separate
// from the scripts that use them so the marker/target-selection invariants
// (spec.md §4.1, §4.4) are defined exactly once.

const luaTargetKeyFn = `
local function targetKey(metaKey, waitKey, pausedKey)
	if redis.call("HEXISTS", metaKey, "paused") == 1 then
		return pausedKey
	end
	return waitKey
end
`

const luaRefreshMarkersFn = `
local function refreshMarkers(tkey, prioritizedKey, delayedKey)
	if redis.call("LLEN", tkey) == 0 then
		if redis.call("ZCARD", prioritizedKey) > 0 then
			redis.call("LPUSH", tkey, "0:0")
		else
			local head = redis.call("ZRANGE", delayedKey, 0, 0, "WITHSCORES")
			if head[2] then
				local fireTime = math.floor(tonumber(head[2]) / 4096)
				redis.call("LPUSH", tkey, "0:" .. fireTime)
			end
		end
	end
end
`

const luaPopLeadingMarkerFn = `
local function popLeadingMarker(tkey)
	local head = redis.call("LINDEX", tkey, 0)
	if head and string.sub(head, 1, 2) == "0:" then
		redis.call("LPOP", tkey)
		return head
	end
	return false
end
`

const luaEnqueueByPriorityFn = `
-- Enqueues jobId into the prioritized set (priority > 0) or the target list
-- (priority == 0, head unless lifo), mirroring spec.md §4.2/§4.7's shared
-- priority-routing path used by add/promote/retry/changePriority.
local function enqueueByPriority(tkey, prioritizedKey, pcKey, jobId, priority, lifo)
	if priority > 0 then
		local pc = redis.call("INCR", pcKey)
		local score = priority * 4294967296 + (pc % 281474976710656)
		redis.call("ZADD", prioritizedKey, score, jobId)
		if redis.call("LLEN", tkey) == 0 then
			redis.call("LPUSH", tkey, "0:0")
		end
	else
		popLeadingMarker(tkey)
		if lifo then
			redis.call("RPUSH", tkey, jobId)
		else
			redis.call("LPUSH", tkey, jobId)
		end
	end
end
`

const luaXaddEventFn = `
local function emitEvent(eventsKey, maxLenEvents, fields)
	local args = {"XADD", eventsKey, "MAXLEN", "~", maxLenEvents, "*"}
	for i = 1, #fields do
		table.insert(args, fields[i])
	end
	redis.call(unpack(args))
end
`

const luaPromoteOneFn = `
-- Moves a single job out of the delayed set into its prioritized set or
-- target list, per its own stored priority (spec.md §4.3 promote).
local function promoteOne(jobKeyPrefix, jobId, delayedKey, tkey, prioritizedKey, pcKey, eventsKey, maxLenEvents, prev)
	redis.call("ZREM", delayedKey, jobId)
	local priority = tonumber(redis.call("HGET", jobKeyPrefix .. jobId, "priority") or "0")
	enqueueByPriority(tkey, prioritizedKey, pcKey, jobId, priority, false)
	emitEvent(eventsKey, maxLenEvents, {"event", "waiting", "jobId", jobId, "prev", prev})
end
`

const luaPromoteDueDelayedFn = `
-- Promotes up to 1000 delayed jobs whose fire time has passed, then
-- refreshes the target list's sentinel marker (spec.md §4.3, §4.1).
local function promoteDueDelayed(jobKeyPrefix, nowPacked, delayedKey, tkey, prioritizedKey, pcKey, eventsKey, maxLenEvents)
	local due = redis.call("ZRANGEBYSCORE", delayedKey, "-inf", nowPacked, "LIMIT", 0, 1000)
	for i = 1, #due do
		promoteOne(jobKeyPrefix, due[i], delayedKey, tkey, prioritizedKey, pcKey, eventsKey, maxLenEvents, "delayed")
	end
	refreshMarkers(tkey, prioritizedKey, delayedKey)
end
`

const luaFetchNextActiveFn = `
-- The full spec.md §4.7 "moveToActive" pop: promotes due delayed jobs,
-- honors paused/rate-limiter state, and pops the next ready job into
-- active. Shared by moveToActive itself and moveToFinished's fetchNext
-- combined form.
local function fetchNextActive(jobKeyPrefix, now, token, lockDuration, limiterMax, limiterDuration,
	metaKey, waitKey, pausedKey, prioritizedKey, delayedKey, activeKey, pcKey, eventsKey, rateLimiterKey, maxLenEvents)

	local nowPacked = now * 4096 + 4095
	promoteDueDelayed(jobKeyPrefix, nowPacked, delayedKey, targetKey(metaKey, waitKey, pausedKey), prioritizedKey, pcKey, eventsKey, maxLenEvents)

	local tkey = targetKey(metaKey, waitKey, pausedKey)

	if redis.call("HEXISTS", metaKey, "paused") == 1 then
		return false, false, 0, 0
	end

	local jobId = nil
	local fromPriority = false

	while true do
		local candidate = redis.call("RPOP", tkey)
		if not candidate then
			local top = redis.call("ZRANGE", prioritizedKey, 0, 0)
			if top[1] then
				redis.call("ZREM", prioritizedKey, top[1])
				jobId = top[1]
				fromPriority = true
			end
			break
		end
		if string.sub(candidate, 1, 2) == "0:" then
			if candidate == "0:0" then
				local top = redis.call("ZRANGE", prioritizedKey, 0, 0)
				if top[1] then
					redis.call("ZREM", prioritizedKey, top[1])
					jobId = top[1]
					fromPriority = true
				end
				break
			else
				local fireTime = tonumber(string.sub(candidate, 3))
				return false, false, 0, fireTime
			end
		else
			jobId = candidate
			break
		end
	end

	if not jobId then
		local nextDelay = 0
		local head = redis.call("ZRANGE", delayedKey, 0, 0, "WITHSCORES")
		if head[2] then
			nextDelay = math.floor(tonumber(head[2]) / 4096)
		end
		return false, false, 0, nextDelay
	end

	if limiterMax > 0 then
		local count = tonumber(redis.call("GET", rateLimiterKey) or "0")
		if count >= limiterMax then
			local ttl = redis.call("PTTL", rateLimiterKey)
			if not ttl or ttl < 0 then ttl = limiterDuration end
			if fromPriority then
				local priority = tonumber(redis.call("HGET", jobKeyPrefix .. jobId, "priority") or "0")
				redis.call("ZADD", prioritizedKey, priority * 4294967296, jobId)
			else
				redis.call("RPUSH", tkey, jobId)
			end
			refreshMarkers(tkey, prioritizedKey, delayedKey)
			return false, false, ttl, 0
		end
	end

	local jobKey = jobKeyPrefix .. jobId
	redis.call("SET", jobKey .. ":lock", token, "PX", lockDuration)
	redis.call("LPUSH", activeKey, jobId)
	redis.call("HSET", jobKey, "processedOn", now)
	redis.call("HINCRBY", jobKey, "attemptsMade", 1)
	emitEvent(eventsKey, maxLenEvents, {"event", "active", "jobId", jobId})

	if limiterMax > 0 then
		local newCount = redis.call("INCR", rateLimiterKey)
		if newCount == 1 then
			redis.call("PEXPIRE", rateLimiterKey, limiterDuration)
		end
	end

	refreshMarkers(tkey, prioritizedKey, delayedKey)

	local fields = redis.call("HGETALL", jobKey)
	return jobId, fields, 0, 0
end
`

// commonLua is prepended to every script below that needs one or more of
// the shared fragments; scripts that don't need a fragment simply don't
// reference the corresponding local function, which Lua tolerates.
const commonLua = luaTargetKeyFn + luaRefreshMarkersFn + luaPopLeadingMarkerFn +
	luaEnqueueByPriorityFn + luaXaddEventFn + luaPromoteOneFn + luaPromoteDueDelayedFn +
	luaFetchNextActiveFn
