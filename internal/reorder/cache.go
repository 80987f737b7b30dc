package reorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "reorder:suggestions:version"

// Cache stores computed suggestion lists in Redis. Entries are keyed by a
// version counter so a single Bump invalidates every branch at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Key returns the versioned key for a branch.
func (c *Cache) Key(ctx context.Context, branchID int64) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("reorder:suggestions:%s:%d", strconv.FormatInt(branchID, 10), ver), nil
}

// Fetch returns cached suggestions for branchID or populates them with loader.
func (c *Cache) Fetch(ctx context.Context, branchID int64, loader func(context.Context) ([]Suggestion, error)) ([]Suggestion, error) {
	if loader == nil {
		return nil, errors.New("reorder: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.Key(ctx, branchID)
	if err != nil {
		return nil, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached []Suggestion
		if err := json.Unmarshal(payload, &cached); err != nil {
			return nil, err
		}
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}
	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return nil, err
	}
	return value, nil
}

// Bump invalidates every cached list by incrementing the version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
