package common

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/redis/go-redis/v9"
)

var ErrRedisNotConfigured = errors.New("redis is not configured")

type RedisClient struct {
	redis.UniversalClient
}

type RedisOption func(*redis.UniversalOptions)

func WithClientName(name string) RedisOption {
	return func(o *redis.UniversalOptions) {
		o.ClientName = name
	}
}

func NewRedisClient(config types.RedisConfig, options ...RedisOption) (*RedisClient, error) {
	if !config.IsConfigured() {
		return nil, ErrRedisNotConfigured
	}

	opts := &redis.UniversalOptions{
		Addrs:           config.Addrs,
		ClientName:      config.ClientName,
		Username:        config.Username,
		Password:        config.Password,
		MaxRetries:      config.MaxRetries,
		DialTimeout:     config.DialTimeout,
		ReadTimeout:     config.ReadTimeout,
		WriteTimeout:    config.WriteTimeout,
		PoolSize:        config.PoolSize,
		MinIdleConns:    config.MinIdleConns,
		MaxIdleConns:    config.MaxIdleConns,
		ConnMaxIdleTime: config.ConnMaxIdleTime,
		ConnMaxLifetime: config.ConnMaxLifetime,
		MaxRedirects:    config.MaxRedirects,
		RouteByLatency:  config.RouteByLatency,
	}
	if config.EnableTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: config.InsecureSkipVerify,
		}
	}
	for _, opt := range options {
		opt(opts)
	}

	var client redis.UniversalClient
	switch config.Mode {
	case types.RedisModeCluster:
		client = redis.NewClusterClient(opts.Cluster())
	default:
		client = redis.NewClient(opts.Simple())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisClient{UniversalClient: client}, nil
}

func IsRedisNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
