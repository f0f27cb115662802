// Package redis journals message ranges that a shard could not
// finish, so an operator can re-drive them with a later export run.
// Recording only: the engine makes no resumability promises.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Client wraps the failed-range journal operations.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis and verifies the connection.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func journalKey(target string) string {
	return fmt.Sprintf("failed_ranges:%s", target)
}

// RecordFailedRange journals [start, end] for target. Ranges are
// scored by their start ID so the oldest gap sorts first.
func (c *Client) RecordFailedRange(ctx context.Context, target string, start, end int64) error {
	key := journalKey(target)
	member := fmt.Sprintf("%d-%d", start, end)

	if err := c.rdb.ZAdd(ctx, key, redis.Z{Score: float64(start), Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// PopRange removes and returns the journaled range with the lowest
// start ID. found is false when the journal is empty.
func (c *Client) PopRange(ctx context.Context, target string) (start, end int64, found bool, err error) {
	key := journalKey(target)

	results, err := c.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, 0, false, fmt.Errorf("zrange failed: %w", err)
	}
	if len(results) == 0 {
		return 0, 0, false, nil
	}

	member := results[0].Member.(string)
	start, end, err = ParseRangeString(member)
	if err != nil {
		return 0, 0, false, fmt.Errorf("invalid range format: %w", err)
	}

	if err := c.rdb.ZRem(ctx, key, member).Err(); err != nil {
		return 0, 0, false, fmt.Errorf("zrem failed: %w", err)
	}

	return start, end, true, nil
}

// Ranges returns every journaled range for target in start order.
func (c *Client) Ranges(ctx context.Context, target string) ([]string, error) {
	return c.rdb.ZRange(ctx, journalKey(target), 0, -1).Result()
}

// Clear drops the whole journal for target.
func (c *Client) Clear(ctx context.Context, target string) error {
	return c.rdb.Del(ctx, journalKey(target)).Err()
}

// ParseRangeString parses the "1200-1250" journal member format.
func ParseRangeString(s string) (start, end int64, err error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range format: %s", s)
	}

	start, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start: %w", err)
	}

	end, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end: %w", err)
	}

	return start, end, nil
}
