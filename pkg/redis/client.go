// Package redis provides a thin wrapper around go-redis/v9. It exposes the
// hash and sorted-set verbs used by the visit tracker, plus plain string
// get/set/delete used by the session store. The wrapper owns connection
// lifecycle only; it adds no caching or retries of its own.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/umrum/umrum/pkg/config"
)

// ScoredMember is one entry of a sorted set.
type ScoredMember struct {
	Member string
	Score  float64
}

// Client wraps a go-redis client.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// SetHash writes (or overwrites) the given fields of the hash at key.
func (c *Client) SetHash(ctx context.Context, key string, fields map[string]any) error {
	return c.rdb.HSet(ctx, key, fields).Err()
}

// DeleteKey removes key. Deleting a missing key is not an error.
func (c *Client) DeleteKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// IncrementHashField atomically adds delta to an integer hash field.
func (c *Client) IncrementHashField(ctx context.Context, key, field string, delta int64) error {
	return c.rdb.HIncrBy(ctx, key, field, delta).Err()
}

// IncrementSortedSetMember atomically adds delta to member's score.
func (c *Client) IncrementSortedSetMember(ctx context.Context, key string, delta float64, member string) error {
	return c.rdb.ZIncrBy(ctx, key, delta, member).Err()
}

// ReadHashField returns the value of a hash field. ok is false when the key
// or field does not exist.
func (c *Client) ReadHashField(ctx context.Context, key, field string) (string, bool, error) {
	v, err := c.rdb.HGet(ctx, key, field).Result()
	if IsNilError(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// ReadSortedSetTopN returns at most n members ordered by score descending.
// Ties follow Redis' native (reverse lexicographic) order.
func (c *Client) ReadSortedSetTopN(ctx context.Context, key string, n int) ([]ScoredMember, error) {
	zs, err := c.rdb.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Max:   "+inf",
		Min:   "-inf",
		Count: int64(n),
	}).Result()
	if err != nil {
		return nil, err
	}
	members := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		members = append(members, ScoredMember{Member: memberString(z.Member), Score: z.Score})
	}
	return members, nil
}

// Get returns the string value for the given key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// Set stores a value with the given TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Del deletes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// IsNilError reports whether err is a Redis nil (key-not-found) error.
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping sends a PING to Redis and returns any error.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func memberString(m interface{}) string {
	switch v := m.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
