package deals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"dealscout/deal-service/internal/model"
)

// Publisher broadcasts service events.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// RecommendationCache stores ranked deals per device. Version returns a
// token that changes whenever the device's entry is invalidated; Set skips
// the write when the token it was given is no longer current, so a ranking
// computed from data read before an invalidation is never cached after it.
type RecommendationCache interface {
	Get(ctx context.Context, deviceID string) ([]model.Deal, bool, error)
	Version(ctx context.Context, deviceID string) (string, error)
	Set(ctx context.Context, deviceID, version string, deals []model.Deal) error
	Invalidate(ctx context.Context, deviceID string) error
	InvalidateAll(ctx context.Context) error
}

// ─── Redis implementations ───────────────────────────────────────────────────

// RedisPublisher publishes JSON events on Redis pub/sub channels.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", channel, err)
	}
	return p.rdb.Publish(ctx, channel, b).Err()
}

const (
	recCachePrefix = "deals:recs:"

	// Generation counters live outside recCachePrefix so InvalidateAll's
	// scan never deletes them.
	recGenAllKey    = "deals:recgen:all"
	recGenDevPrefix = "deals:recgen:dev:"
	recGenDevTTL    = 24 * time.Hour
)

var errStaleVersion = errors.New("recommendation cache version changed")

// RedisCache keeps recommendations as JSON strings with a TTL.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, deviceID string) ([]model.Deal, bool, error) {
	b, err := c.rdb.Get(ctx, recCachePrefix+deviceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var deals []model.Deal
	if err := json.Unmarshal(b, &deals); err != nil {
		return nil, false, fmt.Errorf("decode cached recommendations: %w", err)
	}
	return deals, true, nil
}

type mgetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// readVersion joins the global and per-device generations, "0" when unset.
func readVersion(ctx context.Context, r mgetter, deviceID string) (string, error) {
	vals, err := r.MGet(ctx, recGenAllKey, recGenDevPrefix+deviceID).Result()
	if err != nil {
		return "", err
	}
	parts := [2]string{"0", "0"}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			parts[i] = s
		}
	}
	return parts[0] + "." + parts[1], nil
}

func (c *RedisCache) Version(ctx context.Context, deviceID string) (string, error) {
	return readVersion(ctx, c.rdb, deviceID)
}

// Set writes deals only if neither generation moved since version was read.
// A lost race is not an error.
func (c *RedisCache) Set(ctx context.Context, deviceID, version string, deals []model.Deal) error {
	b, err := json.Marshal(deals)
	if err != nil {
		return err
	}
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readVersion(ctx, tx, deviceID)
		if err != nil {
			return err
		}
		if current != version {
			return errStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, recCachePrefix+deviceID, b, c.ttl)
			return nil
		})
		return err
	}, recGenAllKey, recGenDevPrefix+deviceID)
	if errors.Is(err, errStaleVersion) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *RedisCache) Invalidate(ctx context.Context, deviceID string) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, recGenDevPrefix+deviceID)
		p.Expire(ctx, recGenDevPrefix+deviceID, recGenDevTTL)
		p.Del(ctx, recCachePrefix+deviceID)
		return nil
	})
	return err
}

// InvalidateAll drops every cached recommendation list. The global
// generation is bumped first so in-flight computations cannot repopulate.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if err := c.rdb.Incr(ctx, recGenAllKey).Err(); err != nil {
		return err
	}
	iter := c.rdb.Scan(ctx, 0, recCachePrefix+"*", 200).Iterator()
	keys := make([]string, 0, 64)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == cap(keys) {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.rdb.Del(ctx, keys...).Err()
	}
	return nil
}

// ─── No-ops ──────────────────────────────────────────────────────────────────

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }

type nopCache struct{}

func (nopCache) Get(context.Context, string) ([]model.Deal, bool, error) { return nil, false, nil }
func (nopCache) Version(context.Context, string) (string, error)         { return "", nil }
func (nopCache) Set(context.Context, string, string, []model.Deal) error { return nil }
func (nopCache) Invalidate(context.Context, string) error                { return nil }
func (nopCache) InvalidateAll(context.Context) error                     { return nil }
