// Package cache holds the redis-backed pieces of the node: the client
// factory, the durable KV store and the read-through caches used for
// on-chain lookups.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/AgentPayy/AgentPayy-sub002/internal/database/kv"
)

const (
	minSleep = 50 * time.Millisecond
)

var (
	// ErrTimeout is returned when waiting on another reader's fill times out.
	ErrTimeout = errors.New("cache: timeout waiting for fill")
)

// PassThroughFunc loads the value from the underlying source.
type PassThroughFunc = func() (interface{}, error)

// Cache is a read-through cache.
type Cache interface {
	// Get decodes the cached value for key into target, calling f to load
	// and cache it for expire on a miss. target must be a pointer.
	Get(ctx context.Context, key string, target interface{}, expire time.Duration, f PassThroughFunc) error

	// Set stores val under key for ttl.
	Set(ctx context.Context, key string, val interface{}, ttl time.Duration) error

	// Invalidate drops the given keys.
	Invalidate(ctx context.Context, keys ...string) error
}

// RedisCache is a Cache whose fills are serialized per key with a SETNX
// lock so a cold key hits the source once.
type RedisCache struct {
	conn           redis.UniversalClient
	namespace      string
	perKeyLimit    time.Duration
	maxWaitingTime time.Duration
}

// NewRedisCache creates a redis read-through cache. perKeyLimit bounds how
// long a fill lock is held; maxWaitingTime bounds how long a reader waits
// for someone else's fill.
func NewRedisCache(conn redis.UniversalClient, namespace string, perKeyLimit, maxWaitingTime time.Duration) *RedisCache {
	return &RedisCache{
		conn:           conn,
		namespace:      namespace,
		perKeyLimit:    perKeyLimit,
		maxWaitingTime: maxWaitingTime,
	}
}

func (c *RedisCache) store(key string) string {
	return fmt.Sprintf("%s:#%s#", c.namespace, key)
}

func (c *RedisCache) lock(key string) string {
	return fmt.Sprintf("%s:#%s#_lock", c.namespace, key)
}

// fill loads from the source and populates the cache when the load succeeds.
func (c *RedisCache) fill(ctx context.Context, key string, expire time.Duration, f PassThroughFunc, target interface{}) error {
	res, err := f()
	if err != nil {
		// release the lock so the next reader can try
		if e := c.conn.Del(ctx, c.lock(key)).Err(); e != nil {
			log.Err(e).Str("key", key).Str("funcErr", err.Error()).Msg("[Cache] failed to release fill lock")
		}
		return err
	}

	bs, err := kv.Marshal(res)
	if err != nil {
		return err
	}
	if err := c.conn.Set(ctx, c.store(key), bs, expire).Err(); err != nil {
		log.Err(err).Str("key", key).Msg("[Cache] failed to set cache")
	}
	return kv.Unmarshal(bs, target)
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string, target interface{}, expire time.Duration, f PassThroughFunc) error {
	var waitCtx context.Context
	for {
		res, err := c.conn.Get(ctx, c.store(key)).Bytes()
		if err == nil {
			return kv.Unmarshal(res, target)
		}
		if !errors.Is(err, redis.Nil) {
			log.Err(err).Str("key", key).Msg("[Cache] failed to get from cache")
			return c.fill(ctx, key, expire, f, target)
		}

		locked, err := c.conn.SetNX(ctx, c.lock(key), "", c.perKeyLimit).Result()
		if err != nil {
			log.Err(err).Str("key", key).Msg("[Cache] failed to set fill lock")
			return c.fill(ctx, key, expire, f, target)
		}
		if locked {
			return c.fill(ctx, key, expire, f, target)
		}

		if waitCtx == nil {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, c.maxWaitingTime)
			defer cancel()
		}
		select {
		case <-waitCtx.Done():
			return ErrTimeout
		case <-time.After(minSleep):
		}
	}
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, val interface{}, ttl time.Duration) error {
	bs, err := kv.Marshal(val)
	if err != nil {
		return err
	}
	return c.conn.Set(ctx, c.store(key), bs, ttl).Err()
}

// Invalidate implements Cache.
func (c *RedisCache) Invalidate(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		// separate deletes, the two keys may live in different cluster slots
		for _, k := range []string{c.lock(key), c.store(key)} {
			if err := c.conn.Del(ctx, k).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}
