package bullmq

import (
	"context"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
)

// Add creates job in the queue, applying any JobOptions, and returns its
// ID (either the caller-supplied JobID, via the JobID option, or an
// auto-generated one from the queue's id counter), per spec.md §4.7 "add".
// Calling Add again with the same JobID does not create a second job: see
// JobID's doc comment.
func (q *Queue) Add(ctx context.Context, job *Job, opts ...JobOption) (string, error) {
	var op errors.Op = "Queue.Add"

	addOpts := composeAddOptions(opts)
	addOpts.Name = job.Name
	if addOpts.Parent != nil {
		addOpts.ParentKey = addOpts.Parent.QueueKey + "j:" + addOpts.Parent.ID
		addOpts.ParentDependenciesKey = addOpts.ParentKey + ":dependencies"
	}

	id, err := q.rdb.Add(ctx, q.name, job.Data, addOpts)
	if err != nil {
		return "", errors.E(op, err)
	}
	return id, nil
}
