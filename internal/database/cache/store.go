package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AgentPayy/AgentPayy-sub002/internal/database/kv"
)

const scanPageSize = 500

// Store is a kv.Store on redis.
type Store struct {
	conn redis.UniversalClient
}

var _ kv.Store = (*Store)(nil)

// NewStore wraps an existing redis client.
func NewStore(conn redis.UniversalClient) *Store {
	return &Store{conn: conn}
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.conn.Set(ctx, key, value, ttl).Err()
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.conn.SetNX(ctx, key, value, ttl).Result()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.conn.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	return b, err
}

// Keys walks the keyspace with SCAN. On a cluster client every master is
// scanned.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	if cluster, ok := s.conn.(*redis.ClusterClient); ok {
		var (
			keys []string
			mu   sync.Mutex
		)
		err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			found, err := scan(ctx, node, pattern)
			if err != nil {
				return err
			}
			mu.Lock()
			keys = append(keys, found...)
			mu.Unlock()
			return nil
		})
		return keys, err
	}
	return scan(ctx, s.conn, pattern)
}

func scan(ctx context.Context, conn redis.Cmdable, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	seen := make(map[string]struct{})
	for {
		page, next, err := conn.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			return nil, err
		}
		// SCAN may return a key more than once
		for _, k := range page {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (s *Store) Close() error {
	return s.conn.Close()
}
