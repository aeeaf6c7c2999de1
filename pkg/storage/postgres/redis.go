package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/newswire/pkg/storage"
)

// RedisClient wraps go-redis for the short-lived keys newswire keeps outside
// the database: analytics dedup markers and ingest rate-limit counters.
type RedisClient struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisClient parses cfg.RedisURL, applies overrides and pings the server
func NewRedisClient(ctx context.Context, config storage.Config) (*RedisClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond
	opts.PoolTimeout = time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{client: client, keyPrefix: "newswire:"}, nil
}

// NewRedisClientFromClient wraps an existing go-redis client
func NewRedisClientFromClient(client *redis.Client) *RedisClient {
	return &RedisClient{client: client, keyPrefix: "newswire:"}
}

func (c *RedisClient) key(parts string) string {
	return c.keyPrefix + parts
}

// SeenRecently reports whether a dedup marker exists for key
func (c *RedisClient) SeenRecently(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key("dedup:"+key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// MarkRecent sets a dedup marker for key that expires after ttl
func (c *RedisClient) MarkRecent(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key("dedup:"+key), 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// IncrWindow increments the counter for key and returns the count within
// the current window. INCR and TTL run in one transaction; a counter left
// without an expiry, new or not, gets one so the window always closes.
func (c *RedisClient) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := c.key("ratelimit:" + key)

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	if _, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		ttl = pipe.TTL(ctx, fullKey)
		return nil
	}); err != nil {
		return 0, fmt.Errorf("redis incr failed: %w", err)
	}

	count := incr.Val()
	// -1 means the key exists with no expiry
	if ttl.Val() < 0 {
		if err := c.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return count, fmt.Errorf("redis expire failed: %w", err)
		}
	}
	return count, nil
}

// Ping checks Redis connectivity
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	return c.client.Close()
}
