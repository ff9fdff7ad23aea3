package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/lower_stock.lua
var lowerStockScript string

// ErrNotCached is returned when an event has no mirrored inventory
var ErrNotCached = errors.New("inventory not cached")

type Client struct {
	rdb         redis.UniversalClient
	lowerScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb redis.UniversalClient) *Client {
	return &Client{
		rdb:         rdb,
		lowerScript: redis.NewScript(lowerStockScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func inventoryKey(eventID string) string {
	return fmt.Sprintf("inventory:%s", eventID)
}

// SetAvailable overwrites the mirrored count for an event
func (c *Client) SetAvailable(ctx context.Context, eventID string, available int) error {
	return c.rdb.HSet(ctx, inventoryKey(eventID), "available", available).Err()
}

// LowerAvailable atomically lowers the mirrored count to the ledger's value
func (c *Client) LowerAvailable(ctx context.Context, eventID string, available int) (int, error) {
	result, err := c.lowerScript.Run(ctx, c.rdb, []string{inventoryKey(eventID)}, available).Result()
	if err != nil {
		return 0, fmt.Errorf("lower stock script failed: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type %T", result)
	}

	return int(count), nil
}

// GetAvailable reads the mirrored count
func (c *Client) GetAvailable(ctx context.Context, eventID string) (int, error) {
	val, err := c.rdb.HGet(ctx, inventoryKey(eventID), "available").Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %s", ErrNotCached, eventID)
	}
	if err != nil {
		return 0, err
	}

	available, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid cached inventory %q: %w", val, err)
	}
	return available, nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
