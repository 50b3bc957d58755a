package server

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_AcquireRelease(t *testing.T) {
	l := NewLimiter(2)

	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if l.InUse() != 2 {
		t.Errorf("in use: got %d, want 2", l.InUse())
	}

	l.Release()
	if l.InUse() != 1 {
		t.Errorf("after release: got %d, want 1", l.InUse())
	}
}

func TestLimiter_SaturationTimesOut(t *testing.T) {
	l := NewLimiter(1)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx); err == nil {
		t.Fatal("expected acquire to fail at capacity")
	}
	if l.Rejected() != 1 {
		t.Errorf("rejected: got %d, want 1", l.Rejected())
	}
}

func TestLimiter_DefaultCapacity(t *testing.T) {
	l := NewLimiter(0)
	// Zero or negative capacity falls back to a usable default rather
	// than a deadlocked limiter.
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire on default-capacity limiter: %v", err)
	}
}
