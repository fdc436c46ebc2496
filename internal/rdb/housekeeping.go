package rdb

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
)

// Pause marks qname as paused: Add and delayed-job promotion push jobs onto
// PausedKey instead of WaitKey (spec.md §4.4's target selector), and
// moveToActive returns no job while the flag is set. Already-active jobs
// are left running.
func (r *RDB) Pause(ctx context.Context, qname string) error {
	var op errors.Op = "rdb.Pause"
	if err := r.client.HSet(ctx, base.MetaKey(qname), base.MetaPausedField, "1").Err(); err != nil {
		return errors.E(op, errors.Internal, err)
	}
	return nil
}

// Resume clears qname's paused flag. Existing entries on PausedKey are left
// there; a resumed queue only affects where new/promoted jobs land. A full
// migration of the paused list back onto the wait list is handled by the
// caller, since it is a bulk housekeeping action rather than an atomic
// per-job transition.
func (r *RDB) Resume(ctx context.Context, qname string) error {
	var op errors.Op = "rdb.Resume"
	if err := r.client.HDel(ctx, base.MetaKey(qname), base.MetaPausedField).Err(); err != nil {
		return errors.E(op, errors.Internal, err)
	}
	return nil
}

// KEYS[1] events
// ARGV[1] maxLen
var trimEventsCmd = redis.NewScript(`
redis.call("XTRIM", KEYS[1], "MAXLEN", "~", ARGV[1])
return redis.call("XLEN", KEYS[1])
`)

// TrimEvents caps the events stream at maxLen entries, per spec.md §4.8.
func (r *RDB) TrimEvents(ctx context.Context, qname string, maxLen int64) (int64, error) {
	var op errors.Op = "rdb.TrimEvents"
	res, err := r.runScriptResult(ctx, op, trimEventsCmd, []string{base.EventsKey(qname)}, maxLen)
	if err != nil {
		return 0, err
	}
	return toInt64(op, res)
}

// KEYS[1] target set (completed or failed)
// ARGV[1] cutoff (ms); members scored before this are evicted
// ARGV[2] job key prefix
// ARGV[3] batch limit
var removeJobsByMaxAgeCmd = redis.NewScript(`
local victims = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[3]))
for i = 1, #victims do
	redis.call("ZREM", KEYS[1], victims[i])
	redis.call("DEL", ARGV[2] .. victims[i], ARGV[2] .. victims[i] .. ":dependencies", ARGV[2] .. victims[i] .. ":processed")
end
return #victims
`)

// RemoveJobsByMaxAge evicts terminal jobs older than maxAge from the given
// state (completed or failed), per spec.md §4.4's retention housekeeping.
// It processes at most batchLimit jobs per call so a large backlog doesn't
// block Redis for too long in one round trip; callers loop until the
// returned count is smaller than batchLimit.
func (r *RDB) RemoveJobsByMaxAge(ctx context.Context, qname string, state base.JobState, maxAge int64, batchLimit int64) (int64, error) {
	var op errors.Op = "rdb.RemoveJobsByMaxAge"
	key, err := terminalKey(qname, state)
	if err != nil {
		return 0, errors.E(op, errors.InvalidArgument, err)
	}
	cutoff := r.nowMs() - maxAge
	res, err := r.runScriptResult(ctx, op, removeJobsByMaxAgeCmd, []string{key},
		cutoff, base.JobKeyPrefix(qname), batchLimit)
	if err != nil {
		return 0, err
	}
	return toInt64(op, res)
}

// KEYS[1] target set (completed or failed)
// ARGV[1] maxCount (members beyond the newest maxCount are evicted)
// ARGV[2] job key prefix
var removeJobsByMaxCountCmd = redis.NewScript(`
local excess = redis.call("ZCARD", KEYS[1]) - tonumber(ARGV[1])
if excess <= 0 then
	return 0
end
local victims = redis.call("ZRANGE", KEYS[1], 0, excess - 1)
for i = 1, #victims do
	redis.call("ZREM", KEYS[1], victims[i])
	redis.call("DEL", ARGV[2] .. victims[i], ARGV[2] .. victims[i] .. ":dependencies", ARGV[2] .. victims[i] .. ":processed")
end
return #victims
`)

// RemoveJobsByMaxCount trims a terminal set (completed or failed) down to
// its newest maxCount members, per spec.md §4.4's retention housekeeping.
func (r *RDB) RemoveJobsByMaxCount(ctx context.Context, qname string, state base.JobState, maxCount int64) (int64, error) {
	var op errors.Op = "rdb.RemoveJobsByMaxCount"
	key, err := terminalKey(qname, state)
	if err != nil {
		return 0, errors.E(op, errors.InvalidArgument, err)
	}
	res, err := r.runScriptResult(ctx, op, removeJobsByMaxCountCmd, []string{key},
		maxCount, base.JobKeyPrefix(qname))
	if err != nil {
		return 0, err
	}
	return toInt64(op, res)
}

func terminalKey(qname string, state base.JobState) (string, error) {
	switch state {
	case base.StateCompleted:
		return base.CompletedKey(qname), nil
	case base.StateFailed:
		return base.FailedKey(qname), nil
	default:
		return "", errors.New("state must be completed or failed")
	}
}
