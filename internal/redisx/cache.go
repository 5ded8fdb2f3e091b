package redisx

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss = errors.New("cache miss")
	// ErrStale is returned by Fill when the entry was invalidated after the
	// caller read its generation.
	ErrStale = errors.New("cache entry invalidated during fill")
)

// Cache is a key-value cache where every key may have a companion
// generation counter. Invalidate bumps the counter and drops the value;
// Fill only writes when the counter still matches what the caller saw
// before it started building the value.
type Cache struct {
	rdb    *redis.Client
	genTTL time.Duration
}

func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb, genTTL: TTLCartGeneration}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", key)
	}
	return b, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.Wrapf(c.rdb.Set(ctx, key, value, ttl).Err(), "redis set %s", key)
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	return errors.Wrap(c.rdb.Del(ctx, keys...).Err(), "redis del")
}

// Generation returns the current counter for genKey, zero when unset.
func (c *Cache) Generation(ctx context.Context, genKey string) (int64, error) {
	n, err := c.rdb.Get(ctx, genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "redis get %s", genKey)
	}
	return n, nil
}

// Fill stores value under key if genKey still holds gen.
func (c *Cache) Fill(ctx context.Context, key, genKey string, gen int64, value []byte, ttl time.Duration) error {
	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, value, ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStale), errors.Is(err, redis.TxFailedErr):
		return ErrStale
	default:
		return errors.Wrapf(err, "redis fill %s", key)
	}
}

// Invalidate bumps genKey and drops key atomically.
func (c *Cache) Invalidate(ctx context.Context, key, genKey string) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, c.genTTL)
		p.Del(ctx, key)
		return nil
	})
	return errors.Wrapf(err, "redis invalidate %s", key)
}
