// Package bullmq implements the atomic job-queue state machine described by
// this repository's design: waiting, paused, prioritized, delayed, active,
// waiting-children, completed and failed states for jobs stored in Redis,
// moved between each other by single atomic Lua scripts. It deliberately
// does not include a worker loop, a client-side broker abstraction, a
// repeat/cron scheduler or stalled-job heartbeats: those are left to the
// caller, which is expected to poll Fetch, renew leases, and decide when a
// job should be considered stalled.
package bullmq

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/log"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/rdb"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/timeutil"
)

// Queue is a handle to one named queue's state in Redis. A Queue is safe
// for concurrent use; every method maps to one atomic transition.
type Queue struct {
	name   string
	rdb    *rdb.RDB
	logger *log.Logger
}

// QueueOption configures NewQueue. There is no configuration file or env
// var layer: callers build a Queue the way they build a redis.Options, by
// setting fields on plain Go values.
type QueueOption func(*Queue)

// WithLogger overrides the Queue's logger (default: a stderr logger at
// InfoLevel, per internal/log).
func WithLogger(l *log.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides the Queue's clock. Used by tests to control "now".
func WithClock(c timeutil.Clock) QueueOption {
	return func(q *Queue) { q.rdb.SetClock(c) }
}

// NewQueue returns a Queue named name backed by client.
func NewQueue(name string, client redis.UniversalClient, opts ...QueueOption) *Queue {
	if name == "" {
		name = base.DefaultQueueName
	}
	q := &Queue{
		name:   name,
		rdb:    rdb.NewRDB(client),
		logger: log.NewLogger(nil),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }

// Close releases the underlying Redis connection.
func (q *Queue) Close() error { return q.rdb.Close() }

// Ping checks connectivity to Redis.
func (q *Queue) Ping(ctx context.Context) error { return q.rdb.Ping(ctx) }

// ParentKey returns the full job key of this queue's job jobID, the value a
// child added with DependsOn records as its parent key. It is not a queue
// prefix: DependsOn's first argument takes the prefix (queuePrefix).
func (q *Queue) ParentKey(jobID string) string {
	return base.JobKey(q.name, jobID)
}

// queuePrefix exposes the opaque key-prefix handed to cross-queue parent
// references (base.ParentRef.QueueKey).
func (q *Queue) queuePrefix() string { return base.QueueKeyPrefix(q.name) }
