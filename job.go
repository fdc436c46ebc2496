package bullmq

import "github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"

// Job is the unit of work passed to Add: a name (used for routing/display
// only; this package does not dispatch on it) and an opaque payload.
// Payload encoding is the caller's concern; this package stores and returns
// Data verbatim.
type Job struct {
	Name string
	Data []byte
}

// NewJob returns a Job with the given name and payload.
func NewJob(name string, data []byte) *Job {
	return &Job{Name: name, Data: data}
}

// DependencyPolicy controls what happens to a job's parent when the job
// itself ends in failure (spec.md §4.6).
type DependencyPolicy int

const (
	// NoPolicy leaves the parent's dependency bookkeeping untouched on
	// failure; the parent stays blocked in waiting-children forever unless
	// the job is retried to completion.
	NoPolicy DependencyPolicy = iota
	// FailParentOnFailure fails the parent (and, transitively, any of its
	// own fail-parent-on-fail ancestors) the moment this job fails.
	FailParentOnFailure
	// RemoveDependencyOnFailure drops this job from its parent's
	// dependency set on failure, letting the parent proceed once its
	// remaining dependencies (if any) are satisfied.
	RemoveDependencyOnFailure
)

// OptionType identifies the kind of value a JobOption carries.
type OptionType int

const (
	JobIDOpt OptionType = iota
	DelayOpt
	PriorityOpt
	LIFOOpt
	AttemptsOpt
	ParentOpt
	DependencyPolicyOpt
)

// JobOption configures a single Add call. Concrete option values are
// returned by the constructor functions below (JobID, Delay, Priority, ...)
// rather than constructed directly, following the functional-options
// pattern this module's Redis client layer also uses.
type JobOption interface {
	Type() OptionType
	Value() interface{}
}

type jobIDOption string

func (o jobIDOption) Type() OptionType   { return JobIDOpt }
func (o jobIDOption) Value() interface{} { return string(o) }

// JobID assigns an explicit, caller-chosen ID to the job instead of
// auto-generating one. Adding a job with an ID that already exists is
// treated as a duplicate (spec.md §4.7 "add"): no new job is created.
func JobID(id string) JobOption { return jobIDOption(id) }

type delayOption int64

func (o delayOption) Type() OptionType   { return DelayOpt }
func (o delayOption) Value() interface{} { return int64(o) }

// Delay routes the job to the delayed set, to fire delayMs milliseconds
// from now.
func Delay(delayMs int64) JobOption { return delayOption(delayMs) }

type priorityOption int64

func (o priorityOption) Type() OptionType   { return PriorityOpt }
func (o priorityOption) Value() interface{} { return int64(o) }

// Priority routes the job through the prioritized set instead of the
// plain target list. Lower values run first; 0 (the default) means
// unprioritized.
func Priority(p int64) JobOption { return priorityOption(p) }

type lifoOption struct{}

func (o lifoOption) Type() OptionType   { return LIFOOpt }
func (o lifoOption) Value() interface{} { return true }

// LIFO pushes an unprioritized job to the tail of its target list instead
// of the head, so it is picked up before jobs already waiting.
func LIFO() JobOption { return lifoOption{} }

type attemptsOption int

func (o attemptsOption) Type() OptionType   { return AttemptsOpt }
func (o attemptsOption) Value() interface{} { return int(o) }

// Attempts records the maximum number of attempts a worker should make
// before giving up and treating a further failure as final. This package
// does not enforce it: callers compare attemptsMade against this value
// themselves before deciding whether to call Retry or leave a job failed.
func Attempts(n int) JobOption { return attemptsOption(n) }

type parentOption struct {
	parent *base.ParentRef
	policy DependencyPolicy
}

func (o parentOption) Type() OptionType   { return ParentOpt }
func (o parentOption) Value() interface{} { return o }

// DependsOn marks the job as a dependency of parentID in the queue
// identified by parentQueuePrefix (Queue.queuePrefix()), following the
// given failure policy. The parent must already have been added with a
// WaitingChildren-routing option (see WaitForChildren) for this dependency
// to hold it in waiting-children until the child resolves.
func DependsOn(parentQueuePrefix, parentID string, policy DependencyPolicy) JobOption {
	return parentOption{parent: &base.ParentRef{ID: parentID, QueueKey: parentQueuePrefix}, policy: policy}
}

type waitForChildrenOption struct{ key string }

func (o waitForChildrenOption) Type() OptionType   { return ParentOpt }
func (o waitForChildrenOption) Value() interface{} { return o }

// WaitForChildren routes the job directly to waiting-children instead of
// its normal target, so it is only released once every dependency added
// against it via DependsOn has completed or been dropped (spec.md §4.6).
// key should be a value the caller can recognize later; this package
// merely records its presence.
func WaitForChildren(key string) JobOption { return waitForChildrenOption{key: key} }

// composeAddOptions folds a JobOption slice into base.AddOptions.
func composeAddOptions(opts []JobOption) base.AddOptions {
	var o base.AddOptions
	for _, opt := range opts {
		switch opt.Type() {
		case JobIDOpt:
			o.JobID = opt.Value().(string)
		case DelayOpt:
			o.Delay = opt.Value().(int64)
		case PriorityOpt:
			o.Priority = opt.Value().(int64)
		case LIFOOpt:
			o.LIFO = true
		case AttemptsOpt:
			o.Attempts = opt.Value().(int)
		case ParentOpt:
			switch v := opt.Value().(type) {
			case parentOption:
				o.Parent = v.parent
				switch v.policy {
				case FailParentOnFailure:
					o.FailParentOnFailure = true
				case RemoveDependencyOnFailure:
					o.RemoveDependencyOnFailure = true
				}
			case waitForChildrenOption:
				o.WaitChildrenKey = v.key
			}
		}
	}
	return o
}
