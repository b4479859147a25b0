package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"concord/internal/platform/config"
)

// Client wraps go-redis with the health check used by the readiness probe.
// Redis backs the shared usage counters; when it is not configured the
// server falls back to in-process counters, so a nil client is a valid
// deployment mode, not an error.
type Client struct {
	*redis.Client
}

// New connects using the configured URL. An empty URL yields (nil, nil):
// Redis is optional and the caller switches stores on the nil.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{Client: client}, nil
}

// Health reports whether Redis is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}
