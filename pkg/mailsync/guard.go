package mailsync

import (
	"context"
	"sync"
	"time"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/rs/zerolog/log"
)

// MailboxGuard ensures one sync pass per mailbox at a time. TryLock never waits;
// ok is false when another pass holds the mailbox.
type MailboxGuard interface {
	TryLock(ctx context.Context, mailboxId uint) (release func(), ok bool, err error)
}

type LocalMailboxGuard struct {
	mu     sync.Mutex
	active map[uint]struct{}
}

func NewLocalMailboxGuard() *LocalMailboxGuard {
	return &LocalMailboxGuard{active: make(map[uint]struct{})}
}

func (g *LocalMailboxGuard) TryLock(ctx context.Context, mailboxId uint) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[mailboxId]; busy {
		return nil, false, nil
	}
	g.active[mailboxId] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, mailboxId)
			g.mu.Unlock()
		})
	}, true, nil
}

// RedisMailboxGuard holds a redis lease per mailbox across gateway replicas
type RedisMailboxGuard struct {
	rdb *common.RedisClient
	ttl time.Duration
}

func NewRedisMailboxGuard(rdb *common.RedisClient, ttl time.Duration) *RedisMailboxGuard {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisMailboxGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisMailboxGuard) TryLock(ctx context.Context, mailboxId uint) (func(), bool, error) {
	key := common.Keys.MailboxSyncLock(mailboxId)
	lock := common.NewRedisLock(g.rdb)

	err := lock.Acquire(ctx, key, common.RedisLockOptions{TtlS: int(g.ttl.Seconds())})
	if common.IsNotObtained(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := lock.Release(key); err != nil {
				log.Warn().Uint("mailbox_id", mailboxId).Err(err).Msg("failed to release mailbox lock")
			}
		})
	}, true, nil
}
