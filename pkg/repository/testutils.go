package repository

import (
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/types"
)

// NewRedisClientForTest creates a Redis client backed by miniredis for testing
func NewRedisClientForTest() (*common.RedisClient, error) {
	s, err := miniredis.Run()
	if err != nil {
		return nil, err
	}

	rdb, err := common.NewRedisClient(types.RedisConfig{
		Addrs: []string{s.Addr()},
		Mode:  types.RedisModeSingle,
	})
	if err != nil {
		return nil, err
	}

	return rdb, nil
}

// NewMemoryBackendForTest creates a MemoryBackend with a fixed clock
func NewMemoryBackendForTest(now func() time.Time) *MemoryBackend {
	b := NewMemoryBackend()
	if now != nil {
		b.now = now
	}
	return b
}
