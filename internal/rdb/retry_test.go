package rdb

import (
	"context"
	"testing"

	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/base"
	"github.com/CodingMeSwiftly/bullmq-redis-ssl-fix/internal/errors"
)

func TestRetryMovesActiveJobBackToWait(t *testing.T) {
	r, mr, _ := setup(t)
	ctx := context.Background()
	activate(t, r, ctx, "q", "1", "tok")

	if err := r.Retry(ctx, "q", "1", "tok", false); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	waitLen, _ := mr.List(base.WaitKey("q"))
	if len(waitLen) != 1 || waitLen[0] != "1" {
		t.Fatalf("wait list = %v, want [1]", waitLen)
	}
	active, _ := mr.List(base.ActiveKey("q"))
	if len(active) != 0 {
		t.Fatalf("expected the active list to be empty, got %v", active)
	}
	if _, err := mr.Get(base.LockKey(base.JobKey("q", "1"))); err == nil {
		t.Fatal("expected the job's lock to be released")
	}
}

func TestRetryLifoPushesToTail(t *testing.T) {
	r, mr, _ := setup(t)
	ctx := context.Background()
	activate(t, r, ctx, "q", "1", "tok1")
	if _, err := r.Add(ctx, "q", nil, base.AddOptions{JobID: "2"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := r.Retry(ctx, "q", "1", "tok1", true); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	waitLen, _ := mr.List(base.WaitKey("q"))
	if len(waitLen) != 2 || waitLen[len(waitLen)-1] != "1" {
		t.Fatalf("wait list = %v, want job 1 pushed to the tail", waitLen)
	}
}

func TestRetryUnknownJobReturnsError(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()

	err := r.Retry(ctx, "q", "nope", "tok", false)
	if errors.CanonicalCode(err) != -1 {
		t.Fatalf("CanonicalCode = %d, want -1", errors.CanonicalCode(err))
	}
}

func TestRetryWithoutLockReturnsError(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	if _, err := r.Add(ctx, "q", nil, base.AddOptions{JobID: "1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	err := r.Retry(ctx, "q", "1", "tok", false)
	if errors.CanonicalCode(err) != -2 {
		t.Fatalf("CanonicalCode = %d, want -2", errors.CanonicalCode(err))
	}
}

func TestRetryRejectsWrongToken(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	activate(t, r, ctx, "q", "1", "tok")

	err := r.Retry(ctx, "q", "1", "wrong", false)
	if errors.CanonicalCode(err) != -6 {
		t.Fatalf("CanonicalCode = %d, want -6", errors.CanonicalCode(err))
	}
}
