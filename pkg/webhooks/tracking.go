package webhooks

import (
	"context"
	"sync"
	"time"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

// Tracker stores one-shot markers and counters. common.SeenTracker is the
// redis implementation; MemoryTracker serves local mode and tests.
type Tracker interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
}

var (
	_ Tracker = (*common.SeenTracker)(nil)
	_ Tracker = (*MemoryTracker)(nil)
)

// MemoryTracker is a bounded in-process Tracker. Entries share the tracker's
// TTL; the per-call ttl is ignored.
type MemoryTracker struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, int64]
}

func NewMemoryTracker(size int, ttl time.Duration) *MemoryTracker {
	if size <= 0 {
		size = 10000
	}
	return &MemoryTracker{cache: expirable.NewLRU[string, int64](size, nil, ttl)}
}

func (t *MemoryTracker) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.cache.Get(key); ok {
		return false, nil
	}
	t.cache.Add(key, 1)
	return true, nil
}

func (t *MemoryTracker) Forget(ctx context.Context, key string) error {
	t.cache.Remove(key)
	return nil
}

func (t *MemoryTracker) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, _ := t.cache.Get(key)
	n++
	t.cache.Add(key, n)
	return n, nil
}

func (t *MemoryTracker) Count(ctx context.Context, key string) (int64, error) {
	n, _ := t.cache.Get(key)
	return n, nil
}

const defaultFailureWindow = 24 * time.Hour

// FailureSink is where every swallowed notification error ends up: one log
// line and a per-subscription counter over a rolling window.
type FailureSink struct {
	tracker Tracker
	window  time.Duration
}

func NewFailureSink(tracker Tracker, window time.Duration) *FailureSink {
	if window <= 0 {
		window = defaultFailureWindow
	}
	return &FailureSink{tracker: tracker, window: window}
}

func (s *FailureSink) Record(ctx context.Context, failure *types.NotificationProcessingFailedError) {
	count, err := s.tracker.Incr(ctx, common.Keys.WebhookFailures(failure.SubscriptionId), s.window)
	if err != nil {
		log.Warn().Err(err).Str("subscription_id", failure.SubscriptionId).Msg("failed to count notification failure")
	}

	log.Error().
		Str("subscription_id", failure.SubscriptionId).
		Str("change_type", failure.ChangeType).
		Str("resource", failure.Resource).
		Int64("failures", count).
		Err(failure.Cause).
		Msg("notification processing failed")
}

// FailureCount returns failures recorded for the subscription inside the window
func (s *FailureSink) FailureCount(ctx context.Context, subscriptionId string) (int64, error) {
	return s.tracker.Count(ctx, common.Keys.WebhookFailures(subscriptionId))
}
