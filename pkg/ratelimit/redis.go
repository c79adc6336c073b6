package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kadirpekel/sahayak/pkg/config"
)

// RedisStore keeps each counter as an integer key that expires with its
// window, so every instance pointed at the same server shares quotas.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisStore pings the server and returns a store over client.
func NewRedisStore(ctx context.Context, client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	k := s.prefix + key
	var get *redis.StringCmd
	var ttl *redis.DurationCmd
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		get = p.Get(ctx, k)
		ttl = p.PTTL(ctx, k)
		return nil
	})
	now := s.now()
	if errors.Is(err, redis.Nil) {
		return 0, now.Add(window), nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read counter: %w", err)
	}

	n, err := get.Int64()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("corrupt counter %s: %w", k, err)
	}
	if ttl.Val() <= 0 {
		return n, now.Add(window), nil
	}
	return n, now.Add(ttl.Val()), nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, n int64) (int64, time.Time, error) {
	k := s.prefix + key
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.IncrBy(ctx, k, n)
		ttl = p.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment counter: %w", err)
	}

	remaining := ttl.Val()
	// A fresh key has no expiry yet; the first writer of a window sets it.
	if remaining <= 0 {
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("failed to set counter expiry: %w", err)
		}
		remaining = window
	}
	return incr.Val(), s.now().Add(remaining), nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete counter: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
