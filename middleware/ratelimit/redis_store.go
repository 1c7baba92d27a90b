package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares counters between API replicas. Each key expires at the
// end of its window.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (int, time.Time, bool, error) {
	var (
		getCmd  *redis.StringCmd
		pttlCmd *redis.DurationCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, key)
		pttlCmd = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, time.Time{}, false, fmt.Errorf("failed to read rate limit counter: %w", err)
	}

	count, err := getCmd.Int()
	if errors.Is(err, redis.Nil) {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("failed to parse rate limit counter: %w", err)
	}

	ttl := pttlCmd.Val()
	if ttl <= 0 {
		return 0, time.Time{}, false, nil
	}
	return count, time.Now().Add(ttl), true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, count int, resetTime time.Time) error {
	ttl := time.Until(resetTime)
	if ttl <= 0 {
		return s.Reset(ctx, key)
	}
	if err := s.client.Set(ctx, key, count, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set rate limit counter: %w", err)
	}
	return nil
}

// incrementScript counts a hit and opens the window on the first one in a
// single round trip. A counter left without a TTL gets one here.
var incrementScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	local ttl = redis.call('PTTL', KEYS[1])
	if count == 1 or ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return { count, ttl }
`)

func (s *RedisStore) Increment(ctx context.Context, key string, resetTime time.Time) (int, time.Time, error) {
	window := time.Until(resetTime).Milliseconds()
	if window <= 0 {
		window = 1
	}

	vals, err := incrementScript.Run(ctx, s.client, []string{key}, window).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if len(vals) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected rate limit script reply: %v", vals)
	}
	return int(vals[0]), time.Now().Add(time.Duration(vals[1]) * time.Millisecond), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit counter: %w", err)
	}
	return nil
}
