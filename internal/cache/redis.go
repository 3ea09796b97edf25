// Package cache provides a Redis-backed order history cache.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const (
	defaultTTL = 10 * time.Minute
	maxJitter  = 2 * time.Minute
	// versionTTL outlives any history entry so a generation never resets
	// while a fill started under it can still land.
	versionTTL = 24 * time.Hour
)

// setIfVersion stores ARGV[2] under KEYS[2] with a PX of ARGV[3] only while
// the generation in KEYS[1] (missing means 0) equals ARGV[1].
var setIfVersion = redis.NewScript(`
local v = redis.call('GET', KEYS[1]) or '0'
if v ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

var _ order.HistoryCache = (*HistoryCache)(nil)

// HistoryCache stores aggregated order histories as JSON, one key per user.
// Entries expire after the base TTL plus a random jitter so that keys
// written together do not expire together.
type HistoryCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewHistoryCache returns a HistoryCache using client. A non-positive ttl
// selects the default of ten minutes.
func NewHistoryCache(client redis.Cmdable, ttl time.Duration) *HistoryCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &HistoryCache{client: client, ttl: ttl}
}

// Get returns the cached history of userID or order.ErrCacheMiss.
func (c *HistoryCache) Get(ctx context.Context, userID string) ([]order.Summary, error) {
	data, err := c.client.Get(ctx, historyKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, order.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var history []order.Summary
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("decoding cached history: %w", err)
	}
	return history, nil
}

// Version returns the invalidation generation of userID, 0 if it was never
// invalidated.
func (c *HistoryCache) Version(ctx context.Context, userID string) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get version: %w", err)
	}
	return v, nil
}

// Set stores history if the generation of userID still equals version.
// Otherwise nothing is written and order.ErrCacheStale is returned.
func (c *HistoryCache) Set(ctx context.Context, userID string, version int64, history []order.Summary) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	ttl := c.ttl + rand.N(maxJitter)
	stored, err := setIfVersion.Run(ctx, c.client,
		[]string{versionKey(userID), historyKey(userID)},
		strconv.FormatInt(version, 10), data, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if stored == 0 {
		return order.ErrCacheStale
	}
	return nil
}

// Delete drops the cached history of userID and bumps its generation, which
// turns any fill that read the previous generation into a no-op.
func (c *HistoryCache) Delete(ctx context.Context, userID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(userID))
		pipe.Expire(ctx, versionKey(userID), versionTTL)
		pipe.Del(ctx, historyKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

func historyKey(userID string) string {
	return "orders:history:" + userID
}

func versionKey(userID string) string {
	return "orders:history:ver:" + userID
}
