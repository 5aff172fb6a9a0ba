package common

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const defaultStreamMaxLen = 10000

// EventEmitter publishes flat key/value events.
// Implemented by EventStream (Redis) and LocalEventEmitter (in-process).
type EventEmitter interface {
	Emit(ctx context.Context, data map[string]any) error
}

// EventStream appends events to a capped Redis stream. Downstream consumers
// read it with their own consumer groups.
type EventStream struct {
	rdb    *RedisClient
	stream string
	maxLen int64
}

func NewEventStream(rdb *RedisClient, stream string, maxLen int64) *EventStream {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &EventStream{rdb: rdb, stream: stream, maxLen: maxLen}
}

// Emit appends an event, trimming the stream to roughly maxLen entries
func (s *EventStream) Emit(ctx context.Context, data map[string]any) error {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: data,
	}).Err()
}

// LocalEventEmitter keeps the most recent events in memory. Used in local
// mode where nothing reads a stream.
type LocalEventEmitter struct {
	mu     sync.Mutex
	events []map[string]any
	limit  int
}

func NewLocalEventEmitter(limit int) *LocalEventEmitter {
	if limit <= 0 {
		limit = 1000
	}
	return &LocalEventEmitter{limit: limit}
}

func (e *LocalEventEmitter) Emit(_ context.Context, data map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append(e.events, data)
	if over := len(e.events) - e.limit; over > 0 {
		e.events = e.events[over:]
	}
	log.Debug().Interface("event", data["type"]).Msg("event recorded")
	return nil
}

// Events returns a copy of the recorded events, oldest first
func (e *LocalEventEmitter) Events() []map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]map[string]any(nil), e.events...)
}
