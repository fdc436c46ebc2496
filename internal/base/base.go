// Package base defines the key layout, wire types and packed-score helpers
// shared by every atomic transition procedure in internal/rdb.
package base

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultQueueName is used when a caller does not specify a queue name.
const DefaultQueueName = "default"

// Marker-related constants. Job IDs beginning with MarkerPrefix are reserved
// for sentinel entries (spec.md §3, §4.1) and must never be accepted as a
// user-supplied job ID.
const (
	MarkerPrefix   = "0:"
	PriorityMarker = "0:0"
)

// IsMarker reports whether id is a reserved sentinel entry.
func IsMarker(id string) bool {
	return strings.HasPrefix(id, MarkerPrefix)
}

// DelayMarker builds the sentinel pushed to the head of the target list to
// wake a worker blocked on a pop when the only thing ready is a future delay.
func DelayMarker(nextFireTimeMs int64) string {
	return fmt.Sprintf("%s%d", MarkerPrefix, nextFireTimeMs)
}

// MarkerFireTime parses the fire time encoded in a delay marker. ok is false
// if id is not a marker, or is the priority marker (which carries no time).
func MarkerFireTime(id string) (ms int64, ok bool) {
	if !IsMarker(id) || id == PriorityMarker {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(id, MarkerPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// QueueKeyPrefix returns the hash-tagged prefix shared by every key of the
// given queue, so all of a queue's keys land on the same Redis Cluster slot.
func QueueKeyPrefix(qname string) string {
	return fmt.Sprintf("q:{%s}:", qname)
}

func WaitKey(qname string) string            { return QueueKeyPrefix(qname) + "wait" }
func PausedKey(qname string) string          { return QueueKeyPrefix(qname) + "paused" }
func PrioritizedKey(qname string) string     { return QueueKeyPrefix(qname) + "prioritized" }
func DelayedKey(qname string) string         { return QueueKeyPrefix(qname) + "delayed" }
func ActiveKey(qname string) string          { return QueueKeyPrefix(qname) + "active" }
func WaitingChildrenKey(qname string) string { return QueueKeyPrefix(qname) + "waiting-children" }
func CompletedKey(qname string) string       { return QueueKeyPrefix(qname) + "completed" }
func FailedKey(qname string) string          { return QueueKeyPrefix(qname) + "failed" }
func MetaKey(qname string) string            { return QueueKeyPrefix(qname) + "meta" }
func IDKey(qname string) string              { return QueueKeyPrefix(qname) + "id" }
func PCKey(qname string) string              { return QueueKeyPrefix(qname) + "pc" }
func EventsKey(qname string) string          { return QueueKeyPrefix(qname) + "events" }
func StalledKey(qname string) string         { return QueueKeyPrefix(qname) + "stalled" }
func RateLimiterKey(qname string) string     { return QueueKeyPrefix(qname) + "limiter" }

// MetricsKey returns the hash key holding prevTS/prevCount/count for the
// given target ("completed" or "failed").
func MetricsKey(qname, target string) string {
	return fmt.Sprintf("%smetrics:%s", QueueKeyPrefix(qname), target)
}

// MetricsDataKey returns the capped list of per-minute deltas for target.
func MetricsDataKey(qname, target string) string {
	return MetricsKey(qname, target) + ":data"
}

// JobKeyPrefix returns the prefix under which individual job hashes live.
func JobKeyPrefix(qname string) string { return QueueKeyPrefix(qname) + "j:" }

// JobKey returns the hash key for a single job.
func JobKey(qname, id string) string { return JobKeyPrefix(qname) + id }

func LockKey(jobKey string) string         { return jobKey + ":lock" }
func DependenciesKey(jobKey string) string { return jobKey + ":dependencies" }
func ProcessedKey(jobKey string) string    { return jobKey + ":processed" }

// JobState denotes the logical state of a job (spec.md §3's set of entities
// a job ID may belong to, plus the reserved marker/unknown values).
type JobState int

const (
	StateUnknown JobState = iota
	StateWaiting
	StatePaused
	StatePrioritized
	StateDelayed
	StateActive
	StateWaitingChildren
	StateCompleted
	StateFailed
)

func (s JobState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePaused:
		return "paused"
	case StatePrioritized:
		return "prioritized"
	case StateDelayed:
		return "delayed"
	case StateActive:
		return "active"
	case StateWaitingChildren:
		return "waiting-children"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParentRef identifies a job's parent and the (possibly different) queue
// namespace it lives in. Queues are an opaque key prefix, not a hard-coded
// string, so cross-queue cascades (spec.md §4.6, design note) can resolve
// the parent's keys without string-slicing ParentKey.
type ParentRef struct {
	ID       string `json:"id"`
	QueueKey string `json:"queueKey"`
}

// KeepJobs controls retention of a terminal (completed/failed) job.
// Count == 0 means "do not retain" (the job hash and aux keys are deleted
// immediately); Age == 0 means "no age-based trim".
type KeepJobs struct {
	Age   int64 `json:"age,omitempty"`
	Count int64 `json:"count,omitempty"`
}

// Keep reports whether a terminal job following this policy should be
// retained in its completed/failed set at all.
func (k *KeepJobs) Keep() bool {
	return k != nil && k.Count != 0
}

// Limiter is the token-bucket-with-TTL rate limit configuration for a queue
// (spec.md §4.5). A nil Limiter disables rate limiting.
type Limiter struct {
	Max      int64 // max starts allowed per Duration
	Duration int64 // window length in milliseconds
}

// JobOptions holds the fields persisted in a job's "opts" hash field
// (spec.md §3's <job> mapping `opts` entry), JSON-encoded since it is a
// nested, sparsely-populated bag of creation-time choices rather than a
// value any Redis-native structure models well.
type JobOptions struct {
	LIFO                      bool   `json:"lifo,omitempty"`
	Attempts                  int    `json:"attempts,omitempty"`
	FailParentOnFailure       bool   `json:"fpof,omitempty"`
	RemoveDependencyOnFailure bool   `json:"rdof,omitempty"`
	WaitChildrenKey           string `json:"waitChildrenKey,omitempty"`
	ParentDependenciesKey     string `json:"parentDependenciesKey,omitempty"`
}

// AddOptions configures Add (spec.md §4.7 "add").
type AddOptions struct {
	JobID                     string
	Name                      string
	Delay                     int64 // ms; 0 means not delayed
	Priority                  int64 // 0 means not prioritized
	LIFO                      bool
	Attempts                  int
	WaitChildrenKey           string
	ParentDependenciesKey     string
	ParentKey                 string
	Parent                    *ParentRef
	FailParentOnFailure       bool
	RemoveDependencyOnFailure bool
}

// FinishOptions configures MoveToFinished (spec.md §4.7 "moveToFinished").
type FinishOptions struct {
	Token          string
	KeepJobs       *KeepJobs
	MaxLenEvents   int64  // 0 means use the default of 10000
	MaxMetricsSize string // empty disables metrics collection
	Attempts       int    // not read by MoveToFinished; its retriesExhausted argument selects the event

	// FetchNext, if set, performs an inline equivalent of MoveToActive in
	// the same atomic transition (spec.md §4.7's "fetchNext" combined
	// form), and emits "drained" if wait/active/prioritized are all
	// empty afterward. The Next* fields below configure that inline pop
	// exactly as MoveToActiveOptions would.
	FetchNext        bool
	NextToken        string
	NextLockDuration int64
	NextLimiter      *Limiter
}

// DefaultMaxLenEvents is the events-stream cap every transition script is
// given; MoveToFinished uses FinishOptions.MaxLenEvents instead when that is
// nonzero. The meta hash is not consulted (spec.md §4.8).
const DefaultMaxLenEvents = 10000

// MoveToActiveOptions configures MoveToActive (spec.md §4.7 "moveToActive").
type MoveToActiveOptions struct {
	Token        string
	LockDuration int64 // ms
	Limiter      *Limiter
}
