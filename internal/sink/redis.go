package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jobcrawl_nexus/internal/crawl"
	"jobcrawl_nexus/internal/model"
)

type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// RedisSink keeps run summaries under <prefix><runID> and the latest copy
// of every listing in the hash <prefix>listings, both with a TTL.
type RedisSink struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

func NewRedisSink(addr, prefix string, ttl time.Duration) *RedisSink {
	return NewRedisSinkWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix, ttl)
}

// NewRedisSinkWithClient builds a sink on a custom client (tests).
func NewRedisSinkWithClient(c redisClient, prefix string, ttl time.Duration) *RedisSink {
	return &RedisSink{client: c, prefix: prefix, ttl: ttl}
}

func (s *RedisSink) listingsKey() string { return s.prefix + "listings" }

func (s *RedisSink) Emit(ctx context.Context, l model.Listing) error {
	payload, err := json.Marshal(l)
	if err != nil {
		return err
	}
	key := s.listingsKey()
	if err := s.client.HSet(ctx, key, l.Key(), payload).Err(); err != nil {
		return fmt.Errorf("redis sink: hset: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("redis sink: expire: %w", err)
		}
	}
	return nil
}

func (s *RedisSink) Finalize(ctx context.Context, sum crawl.Summary) error {
	payload, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+sum.RunID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis sink: set: %w", err)
	}
	return nil
}

// Summary reads a stored run summary. ok is false when it has expired or
// never existed.
func (s *RedisSink) Summary(ctx context.Context, runID string) (crawl.Summary, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+runID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return crawl.Summary{}, false, nil
		}
		return crawl.Summary{}, false, err
	}
	var sum crawl.Summary
	if err := json.Unmarshal([]byte(val), &sum); err != nil {
		return crawl.Summary{}, false, err
	}
	return sum, true, nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
