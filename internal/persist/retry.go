// Package persist wraps storage mutations with bounded retries so transient
// I/O failures never reach the caller when a later attempt succeeds.
package persist

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultAttempts = 3
	DefaultBase     = time.Second
)

type Retrier struct {
	attempts int
	base     time.Duration
}

func New(attempts int, base time.Duration) *Retrier {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if base <= 0 {
		base = DefaultBase
	}
	return &Retrier{attempts: attempts, base: base}
}

// Persist runs op up to the configured number of attempts with exponential
// backoff (base, base*2, base*4, ...). It returns nil as soon as one attempt
// succeeds. Exhaustion is logged as critical with the label, which should
// carry owner/conversation context. Persist blocks through the backoff
// sleeps; run it from a goroutine that is allowed to wait on disk.
func (r *Retrier) Persist(ctx context.Context, label string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.base
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = r.base << uint(r.attempts)
	policy.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		return op()
	}
	notify := func(err error, next time.Duration) {
		log.Printf("⚠️ %s: attempt %d/%d failed, retrying in %v: %v", label, attempt, r.attempts, next, err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.attempts-1)), ctx)
	if err := backoff.RetryNotify(wrapped, b, notify); err != nil {
		log.Printf("❌ CRITICAL: %s failed after %d attempts: %v", label, attempt, err)
		return err
	}
	if attempt > 1 {
		log.Printf("✅ %s succeeded on attempt %d/%d", label, attempt, r.attempts)
	}
	return nil
}

// Permanent marks err as unrecoverable so Persist stops retrying immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
