// Package kv defines the durable key-value contract shared by the redis and
// SQL backends, plus the msgpack codec used for stored records.
package kv

import (
	"context"
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is a durable key-value store with per-key TTLs.
type Store interface {
	// Set writes value under key, replacing any previous value.
	// A ttl of zero keeps the key until it is overwritten.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX writes value only when key is absent. It reports whether the
	// write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Keys returns every live key matching a glob pattern where '*'
	// matches any run of characters. Order is unspecified.
	Keys(ctx context.Context, pattern string) ([]string, error)

	Close() error
}

// Pruner is implemented by stores that need explicit removal of expired
// entries.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// Marshal encodes a record for storage.
func Marshal(value interface{}) ([]byte, error) {
	switch value := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return value, nil
	case string:
		return []byte(value), nil
	}
	return msgpack.Marshal(value)
}

// Unmarshal decodes a stored record into value, which must be a pointer.
func Unmarshal(b []byte, value interface{}) error {
	if len(b) == 0 {
		return nil
	}

	switch value := value.(type) {
	case nil:
		return nil
	case *[]byte:
		clone := make([]byte, len(b))
		copy(clone, b)
		*value = clone
		return nil
	case *string:
		*value = string(b)
		return nil
	}

	return msgpack.Unmarshal(b, value)
}
