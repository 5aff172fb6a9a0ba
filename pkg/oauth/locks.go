package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/rs/zerolog/log"
)

// LockTable serializes work per key. Release must be called exactly once.
type LockTable interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalLockTable is a per-key mutex map for a single process
type LocalLockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLockTable() *LocalLockTable {
	return &LocalLockTable{locks: make(map[string]*keyLock)}
}

func (t *LocalLockTable) Acquire(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		t.unref(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			t.unref(key, l)
		})
	}, nil
}

func (t *LocalLockTable) unref(key string, l *keyLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

// RedisLockTable serializes across gateway replicas
type RedisLockTable struct {
	rdb     *common.RedisClient
	ttl     time.Duration
	retries int
}

func NewRedisLockTable(rdb *common.RedisClient, ttl time.Duration) *RedisLockTable {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	// Waiters retry for about one lease
	retries := int(ttl / (250 * time.Millisecond))
	return &RedisLockTable{rdb: rdb, ttl: ttl, retries: retries}
}

func (t *RedisLockTable) Acquire(ctx context.Context, key string) (func(), error) {
	lock := common.NewRedisLock(t.rdb)
	err := lock.Acquire(ctx, key, common.RedisLockOptions{
		TtlS:          int(t.ttl.Seconds()),
		Retries:       t.retries,
		RetryInterval: 250 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := lock.Release(key); err != nil {
				log.Warn().Str("lock_key", key).Err(err).Msg("failed to release lock")
			}
		})
	}, nil
}
