package rdb

import (
	"context"
	"testing"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
)

func activate(t *testing.T, r *RDB, ctx context.Context, qname, jobID, token string) {
	t.Helper()
	if _, err := r.Add(ctx, qname, nil, base.AddOptions{JobID: jobID}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := r.MoveToActive(ctx, qname, base.MoveToActiveOptions{Token: token, LockDuration: 30000}); err != nil {
		t.Fatalf("MoveToActive: %v", err)
	}
}

func TestMoveToFinishedMissingJobReturnsError(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()

	_, err := r.MoveToFinished(ctx, "q", "nope", base.StateCompleted, "", false, base.FinishOptions{Token: "tok"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.CanonicalCode(err) != -1 {
		t.Fatalf("CanonicalCode = %d, want -1", errors.CanonicalCode(err))
	}
}

func TestMoveToFinishedLockMismatchReturnsError(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	activate(t, r, ctx, "q", "1", "tok")

	_, err := r.MoveToFinished(ctx, "q", "1", base.StateCompleted, "", false, base.FinishOptions{Token: "wrong"})
	if errors.CanonicalCode(err) != -6 {
		t.Fatalf("CanonicalCode = %d, want -6", errors.CanonicalCode(err))
	}
}

func TestMoveToFinishedWithoutLockReturnsError(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	if _, err := r.Add(ctx, "q", nil, base.AddOptions{JobID: "1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err := r.MoveToFinished(ctx, "q", "1", base.StateCompleted, "", false, base.FinishOptions{Token: "tok"})
	if errors.CanonicalCode(err) != -2 {
		t.Fatalf("CanonicalCode = %d, want -2 (no lock exists)", errors.CanonicalCode(err))
	}
}

func TestMoveToFinishedCompletesAndRetainsJob(t *testing.T) {
	r, mr, _ := setup(t)
	ctx := context.Background()
	activate(t, r, ctx, "q", "1", "tok")

	_, err := r.MoveToFinished(ctx, "q", "1", base.StateCompleted, "ok", false, base.FinishOptions{
		Token:    "tok",
		KeepJobs: &base.KeepJobs{Count: 10},
	})
	if err != nil {
		t.Fatalf("MoveToFinished: %v", err)
	}

	score, err := mr.ZScore(base.CompletedKey("q"), "1")
	if err != nil {
		t.Fatalf("ZScore: %v", err)
	}
	if score == 0 {
		t.Fatal("expected job 1 to be scored in the completed set")
	}

	active, _ := mr.List(base.ActiveKey("q"))
	if len(active) != 0 {
		t.Fatalf("expected active list to be empty, got %v", active)
	}
}

func TestMoveToFinishedWithZeroKeepCountDeletesJob(t *testing.T) {
	r, mr, _ := setup(t)
	ctx := context.Background()
	activate(t, r, ctx, "q", "1", "tok")

	_, err := r.MoveToFinished(ctx, "q", "1", base.StateCompleted, "ok", false, base.FinishOptions{
		Token:    "tok",
		KeepJobs: &base.KeepJobs{Count: 0},
	})
	if err != nil {
		t.Fatalf("MoveToFinished: %v", err)
	}

	if mr.Exists(base.JobKey("q", "1")) {
		t.Fatal("expected job hash to be deleted when KeepJobs.Count == 0")
	}
}

func TestMoveToFinishedParksPendingDependencies(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()

	// The parent goes to wait (not waiting-children) so that it, not the
	// child, is the job MoveToActive pops while its dependency is pending.
	parentQueuePrefix := base.QueueKeyPrefix("q")
	if _, err := r.Add(ctx, "q", nil, base.AddOptions{JobID: "parent"}); err != nil {
		t.Fatalf("Add parent: %v", err)
	}
	if _, err := r.Add(ctx, "q", nil, base.AddOptions{
		JobID:                 "child",
		ParentKey:             base.JobKey("q", "parent"),
		ParentDependenciesKey: base.DependenciesKey(base.JobKey("q", "parent")),
		Parent:                &base.ParentRef{ID: "parent", QueueKey: parentQueuePrefix},
	}); err != nil {
		t.Fatalf("Add child: %v", err)
	}
	if _, err := r.MoveToActive(ctx, "q", base.MoveToActiveOptions{Token: "tok", LockDuration: 30000}); err != nil {
		t.Fatalf("MoveToActive: %v", err)
	}

	_, err := r.MoveToFinished(ctx, "q", "parent", base.StateCompleted, "v", false, base.FinishOptions{Token: "tok"})
	if errors.CanonicalCode(err) != -4 {
		t.Fatalf("CanonicalCode = %d, want -4 (pending dependencies)", errors.CanonicalCode(err))
	}
}

func TestMoveToFinishedCompletesParentDependency(t *testing.T) {
	r, mr, _ := setup(t)
	ctx := context.Background()

	parentQueuePrefix := base.QueueKeyPrefix("q")
	if _, err := r.Add(ctx, "q", nil, base.AddOptions{JobID: "parent", WaitChildrenKey: "wc"}); err != nil {
		t.Fatalf("Add parent: %v", err)
	}
	childKey := base.JobKey("q", "parent")
	if _, err := r.Add(ctx, "q", nil, base.AddOptions{
		JobID:                 "child",
		ParentKey:             childKey,
		ParentDependenciesKey: base.DependenciesKey(childKey),
		Parent:                &base.ParentRef{ID: "parent", QueueKey: parentQueuePrefix},
	}); err != nil {
		t.Fatalf("Add child: %v", err)
	}

	deps, err := mr.SMembers(base.DependenciesKey(childKey))
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	if len(deps) != 1 {
		t.Fatalf("expected parent to have one pending dependency, got %v", deps)
	}

	if _, err := r.MoveToActive(ctx, "q", base.MoveToActiveOptions{Token: "tok", LockDuration: 30000}); err != nil {
		t.Fatalf("MoveToActive: %v", err)
	}
	if _, err := r.MoveToFinished(ctx, "q", "child", base.StateCompleted, "v", false, base.FinishOptions{Token: "tok"}); err != nil {
		t.Fatalf("MoveToFinished: %v", err)
	}

	deps, err = mr.SMembers(base.DependenciesKey(childKey))
	if err != nil {
		t.Fatalf("SMembers after completion: %v", err)
	}
	if len(deps) != 0 {
		t.Fatalf("expected the dependency to be removed, got %v", deps)
	}

	waitLen, _ := mr.List(base.WaitKey("q"))
	if len(waitLen) != 1 || waitLen[0] != "parent" {
		t.Fatalf("expected the parent to be moved to wait, got %v", waitLen)
	}
}

func TestMoveToFinishedFetchNextPopsTheNextWaitingJob(t *testing.T) {
	r, mr, _ := setup(t)
	ctx := context.Background()
	activate(t, r, ctx, "q", "1", "tok")
	if _, err := r.Add(ctx, "q", nil, base.AddOptions{JobID: "2"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	next, err := r.MoveToFinished(ctx, "q", "1", base.StateCompleted, "ok", false, base.FinishOptions{
		Token:            "tok",
		KeepJobs:         &base.KeepJobs{Count: 10},
		FetchNext:        true,
		NextToken:        "tok2",
		NextLockDuration: 30000,
	})
	if err != nil {
		t.Fatalf("MoveToFinished: %v", err)
	}
	if next == nil || next.Job == nil || next.Job.ID != "2" {
		t.Fatalf("fetchNext result = %+v, want job 2", next)
	}

	active, _ := mr.List(base.ActiveKey("q"))
	if len(active) != 1 || active[0] != "2" {
		t.Fatalf("active list = %v, want [2]", active)
	}
}

func TestMoveToFinishedWithoutFetchNextReturnsNilResult(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	activate(t, r, ctx, "q", "1", "tok")

	next, err := r.MoveToFinished(ctx, "q", "1", base.StateCompleted, "ok", false, base.FinishOptions{
		Token:    "tok",
		KeepJobs: &base.KeepJobs{Count: 10},
	})
	if err != nil {
		t.Fatalf("MoveToFinished: %v", err)
	}
	if next != nil {
		t.Fatalf("expected a nil fetchNext result, got %+v", next)
	}
}
