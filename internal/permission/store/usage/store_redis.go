package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// counterTTL outlives the UTC day a counter covers so in-flight resolutions
// near midnight never see a vanished key, while stale counters still expire.
const counterTTL = 48 * time.Hour

// Redis tracks daily usage counters and last-use timestamps in Redis so
// counts are shared across request handlers and processes. Keys embed the
// UTC day, making day rollover a new key rather than a reset race.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func dailyKey(key, day string) string { return "usage:" + key + ":" + day }
func lastUseKey(key string) string    { return "lastuse:" + key }

func (s *Redis) IncrementDaily(ctx context.Context, key, day string) (int, error) {
	k := dailyKey(key, day)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment daily usage: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *Redis) DailyCount(ctx context.Context, key, day string) (int, error) {
	count, err := s.client.Get(ctx, dailyKey(key, day)).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("get daily usage: %w", err)
	}
	return count, nil
}

func (s *Redis) MarkUse(ctx context.Context, key string, at time.Time) error {
	if err := s.client.Set(ctx, lastUseKey(key), at.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("mark use: %w", err)
	}
	return nil
}

func (s *Redis) LastUse(ctx context.Context, key string) (*time.Time, error) {
	raw, err := s.client.Get(ctx, lastUseKey(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get last use: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("parse last use: %w", err)
	}
	return &at, nil
}
