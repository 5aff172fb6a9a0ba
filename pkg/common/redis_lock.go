package common

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

var ErrLockNotHeld = errors.New("lock not held")

type RedisLockOptions struct {
	TtlS    int
	Retries int
	// RetryInterval between attempts; defaults to 100ms
	RetryInterval time.Duration
}

// RedisLock tracks the locks it obtained so they can be released by key
type RedisLock struct {
	client *redislock.Client
	mu     sync.Mutex
	locks  map[string]*redislock.Lock
}

func NewRedisLock(client *RedisClient) *RedisLock {
	return &RedisLock{
		client: redislock.New(client.UniversalClient),
		locks:  make(map[string]*redislock.Lock),
	}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, opts RedisLockOptions) error {
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	var retry redislock.RetryStrategy = redislock.NoRetry()
	if opts.Retries > 0 {
		retry = redislock.LimitRetry(redislock.LinearBackoff(interval), opts.Retries)
	}

	lock, err := l.client.Obtain(ctx, key, time.Duration(opts.TtlS)*time.Second, &redislock.Options{
		RetryStrategy: retry,
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.locks[key] = lock
	l.mu.Unlock()
	return nil
}

func (l *RedisLock) Release(key string) error {
	l.mu.Lock()
	lock, ok := l.locks[key]
	delete(l.locks, key)
	l.mu.Unlock()

	if !ok {
		return ErrLockNotHeld
	}
	return lock.Release(context.Background())
}

// IsNotObtained reports whether err came from a lock held by someone else
func IsNotObtained(err error) bool {
	return errors.Is(err, redislock.ErrNotObtained)
}
