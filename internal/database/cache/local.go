package cache

import (
	"context"
	"errors"
	"time"

	"github.com/coocood/freecache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/AgentPayy/AgentPayy-sub002/internal/database/kv"
)

// LocalCache is an in-process Cache on freecache. Concurrent misses on the
// same key share one load.
type LocalCache struct {
	mem   *freecache.Cache
	group singleflight.Group
}

// NewLocalCache allocates a cache of sizeBytes (freecache enforces a 512KB
// minimum).
func NewLocalCache(sizeBytes int) *LocalCache {
	return &LocalCache{mem: freecache.NewCache(sizeBytes)}
}

func expireSeconds(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	secs := int(ttl / time.Second)
	if secs == 0 {
		secs = 1
	}
	return secs
}

// Get implements Cache.
func (c *LocalCache) Get(ctx context.Context, key string, target interface{}, expire time.Duration, f PassThroughFunc) error {
	if b, err := c.mem.Get([]byte(key)); err == nil {
		return kv.Unmarshal(b, target)
	} else if !errors.Is(err, freecache.ErrNotFound) {
		log.Err(err).Str("key", key).Msg("[Cache] local get failed")
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		res, err := f()
		if err != nil {
			return nil, err
		}
		bs, err := kv.Marshal(res)
		if err != nil {
			return nil, err
		}
		if err := c.mem.Set([]byte(key), bs, expireSeconds(expire)); err != nil {
			log.Err(err).Str("key", key).Msg("[Cache] local set failed")
		}
		return bs, nil
	})
	if err != nil {
		return err
	}
	return kv.Unmarshal(v.([]byte), target)
}

// Set implements Cache.
func (c *LocalCache) Set(_ context.Context, key string, val interface{}, ttl time.Duration) error {
	bs, err := kv.Marshal(val)
	if err != nil {
		return err
	}
	return c.mem.Set([]byte(key), bs, expireSeconds(ttl))
}

// Invalidate implements Cache.
func (c *LocalCache) Invalidate(_ context.Context, keys ...string) error {
	for _, key := range keys {
		c.mem.Del([]byte(key))
	}
	return nil
}
