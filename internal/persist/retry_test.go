package persist

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPersist_TransientFailureResolvedByRetry(t *testing.T) {
	r := New(3, 10*time.Millisecond)

	attempts := 0
	start := time.Now()
	err := r.Persist(context.Background(), "test op", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("disk hiccup")
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("want success on attempt 3, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	// Backoff sequence is base, base*2.
	if elapsed < 30*time.Millisecond {
		t.Fatalf("elapsed %v, want >= 30ms of backoff", elapsed)
	}
}

func TestPersist_ExhaustionReportsFailure(t *testing.T) {
	r := New(3, time.Millisecond)

	attempts := 0
	opErr := errors.New("disk full")
	err := r.Persist(context.Background(), "test op", func() error {
		attempts++
		return opErr
	})

	if !errors.Is(err, opErr) {
		t.Fatalf("want final op error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestPersist_PermanentErrorStopsImmediately(t *testing.T) {
	r := New(3, time.Millisecond)

	attempts := 0
	err := r.Persist(context.Background(), "test op", func() error {
		attempts++
		return Permanent(errors.New("no such conversation"))
	})

	if err == nil {
		t.Fatalf("want error for permanent failure")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 for permanent error", attempts)
	}
}

func TestPersist_CanceledContextStopsRetrying(t *testing.T) {
	r := New(3, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := r.Persist(ctx, "test op", func() error {
		attempts++
		cancel()
		return errors.New("transient")
	})

	if err == nil {
		t.Fatalf("want error after cancellation")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 after cancel", attempts)
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	r := New(0, 0)
	if r.attempts != DefaultAttempts || r.base != DefaultBase {
		t.Fatalf("defaults not applied: %+v", r)
	}
}
