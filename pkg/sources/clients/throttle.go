package clients

import (
	"context"
	"sync"
	"time"
)

const (
	defaultRequestsPerSecond = 4
	defaultBurst             = 20
	throttleIdleAfter        = 5 * time.Minute
)

// Throttle is a per-credential token bucket that keeps one busy mailbox from
// spending its provider quota faster than the provider would throttle it
type Throttle struct {
	mu          sync.Mutex
	buckets     map[uint]*tokenBucket
	rate        float64
	burst       int
	lastCleanup time.Time
	now         func() time.Time
}

func NewThrottle(requestsPerSecond float64, burst int) *Throttle {
	if requestsPerSecond <= 0 {
		requestsPerSecond = defaultRequestsPerSecond
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &Throttle{
		buckets:     make(map[uint]*tokenBucket),
		rate:        requestsPerSecond,
		burst:       burst,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow takes a token for the credential if one is available
func (t *Throttle) Allow(credentialId uint) bool {
	return t.bucket(credentialId).allow(t.now())
}

// Wait blocks until the credential has a token or ctx is done
func (t *Throttle) Wait(ctx context.Context, credentialId uint) error {
	b := t.bucket(credentialId)
	for {
		wait, ok := b.take(t.now())
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Throttle) bucket(credentialId uint) *tokenBucket {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastCleanup) > throttleIdleAfter {
		for id, b := range t.buckets {
			if b.idleSince(now) > throttleIdleAfter {
				delete(t.buckets, id)
			}
		}
		t.lastCleanup = now
	}

	b, ok := t.buckets[credentialId]
	if !ok {
		b = newTokenBucket(t.rate, t.burst, now)
		t.buckets[credentialId] = b
	}
	return b
}

type tokenBucket struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	burst    int
	tokens   float64
	lastUsed time.Time
	lastFill time.Time
}

func newTokenBucket(rate float64, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		rate:     rate,
		burst:    burst,
		tokens:   float64(burst), // start full
		lastFill: now,
		lastUsed: now,
	}
}

func (tb *tokenBucket) allow(now time.Time) bool {
	_, ok := tb.take(now)
	return ok
}

// take consumes a token, or reports how long until the next one
func (tb *tokenBucket) take(now time.Time) (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)
	tb.lastUsed = now

	if tb.tokens >= 1 {
		tb.tokens--
		return 0, true
	}
	return time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second)), false
}

func (tb *tokenBucket) idleSince(now time.Time) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return now.Sub(tb.lastUsed)
}

func (tb *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.lastFill = now
	tb.tokens = min(tb.tokens+elapsed*tb.rate, float64(tb.burst))
}
