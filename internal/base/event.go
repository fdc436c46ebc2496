package base

// Event names (spec.md §6 "Event stream schema").
const (
	EventAdded            = "added"
	EventWaiting          = "waiting"
	EventDelayed          = "delayed"
	EventActive           = "active"
	EventCompleted        = "completed"
	EventFailed           = "failed"
	EventRetriesExhausted = "retries-exhausted"
	EventWaitingChildren  = "waiting-children"
	EventDuplicated       = "duplicated"
	EventDrained          = "drained"
)

// Event field names used in the XADD call for the events stream.
const (
	EventFieldName         = "event"
	EventFieldJobID        = "jobId"
	EventFieldPrev         = "prev"
	EventFieldDelay        = "delay"
	EventFieldFailedReason = "failedReason"
	EventFieldReturnValue  = "returnvalue"
	EventFieldAttemptsMade = "attemptsMade"
)

// MetaPausedField is the hash field on MetaKey whose mere presence (any
// value) indicates the queue is paused. Its absence -- not a boolean false
// stored under the field -- means "running" (spec.md §9 design note); this
// module never writes "false" into this field, only ever HSET on pause and
// HDEL on resume.
const MetaPausedField = "paused"

// MetaMaxLenEventsField names the meta hash field for a per-queue events
// cap. No transition in internal/rdb reads it: the scripts cap the stream
// at DefaultMaxLenEvents, or at FinishOptions.MaxLenEvents in
// MoveToFinished.
const MetaMaxLenEventsField = "opts.maxLenEvents"
