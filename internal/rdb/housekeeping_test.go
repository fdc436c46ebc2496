package rdb

import (
	"context"
	"testing"
	"time"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
)

func TestPauseRoutesNewJobsToPausedList(t *testing.T) {
	r, mr, _ := setup(t)
	ctx := context.Background()

	if err := r.Pause(ctx, "q"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := r.Add(ctx, "q", nil, base.AddOptions{JobID: "1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	waitLen, _ := mr.List(base.WaitKey("q"))
	if len(waitLen) != 0 {
		t.Fatalf("expected wait to stay empty while paused, got %v", waitLen)
	}
	pausedLen, _ := mr.List(base.PausedKey("q"))
	if len(pausedLen) != 1 || pausedLen[0] != "1" {
		t.Fatalf("paused list = %v, want [1]", pausedLen)
	}
}

func TestResumeRoutesNewJobsBackToWait(t *testing.T) {
	r, mr, _ := setup(t)
	ctx := context.Background()

	if err := r.Pause(ctx, "q"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := r.Resume(ctx, "q"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := r.Add(ctx, "q", nil, base.AddOptions{JobID: "1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	waitLen, _ := mr.List(base.WaitKey("q"))
	if len(waitLen) != 1 || waitLen[0] != "1" {
		t.Fatalf("wait list = %v, want [1]", waitLen)
	}
}

func TestRemoveJobsByMaxCountEvictsOldestFirst(t *testing.T) {
	r, mr, clock := setup(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		activate(t, r, ctx, "q", id, "tok-"+id)
		if _, err := r.MoveToFinished(ctx, "q", id, base.StateCompleted, "v", false, base.FinishOptions{
			Token:    "tok-" + id,
			KeepJobs: &base.KeepJobs{Count: 100},
		}); err != nil {
			t.Fatalf("MoveToFinished(%s): %v", id, err)
		}
		clock.AdvanceTime(time.Second)
	}

	n, err := r.RemoveJobsByMaxCount(ctx, "q", base.StateCompleted, 1)
	if err != nil {
		t.Fatalf("RemoveJobsByMaxCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("evicted = %d, want 2", n)
	}

	members, err := mr.ZMembers(base.CompletedKey("q"))
	if err != nil {
		t.Fatalf("ZMembers: %v", err)
	}
	if len(members) != 1 || members[0] != "3" {
		t.Fatalf("remaining completed = %v, want [3]", members)
	}
}

func TestRemoveJobsByMaxAgeEvictsExpiredOnly(t *testing.T) {
	r, mr, clock := setup(t)
	ctx := context.Background()

	activate(t, r, ctx, "q", "old", "tok-old")
	if _, err := r.MoveToFinished(ctx, "q", "old", base.StateCompleted, "v", false, base.FinishOptions{
		Token:    "tok-old",
		KeepJobs: &base.KeepJobs{Count: 100},
	}); err != nil {
		t.Fatalf("MoveToFinished(old): %v", err)
	}

	clock.AdvanceTime(2 * time.Minute)

	activate(t, r, ctx, "q", "fresh", "tok-fresh")
	if _, err := r.MoveToFinished(ctx, "q", "fresh", base.StateCompleted, "v", false, base.FinishOptions{
		Token:    "tok-fresh",
		KeepJobs: &base.KeepJobs{Count: 100},
	}); err != nil {
		t.Fatalf("MoveToFinished(fresh): %v", err)
	}

	n, err := r.RemoveJobsByMaxAge(ctx, "q", base.StateCompleted, 60000, 100)
	if err != nil {
		t.Fatalf("RemoveJobsByMaxAge: %v", err)
	}
	if n != 1 {
		t.Fatalf("evicted = %d, want 1", n)
	}

	members, err := mr.ZMembers(base.CompletedKey("q"))
	if err != nil {
		t.Fatalf("ZMembers: %v", err)
	}
	if len(members) != 1 || members[0] != "fresh" {
		t.Fatalf("remaining completed = %v, want [fresh]", members)
	}
}

func TestTrimEvents(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()

	if _, err := r.Add(ctx, "q", nil, base.AddOptions{JobID: "1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	n, err := r.TrimEvents(ctx, "q", 1)
	if err != nil {
		t.Fatalf("TrimEvents: %v", err)
	}
	if n < 0 {
		t.Fatalf("TrimEvents returned %d, want >= 0", n)
	}
}
