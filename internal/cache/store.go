package cache

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrKeyNotFound indicates a cache key with no stored value.
	ErrKeyNotFound = errors.New("cache: key not found")
	// ErrEmptyKey indicates an empty cache key.
	ErrEmptyKey = errors.New("cache: key is required")
)

// Store is the durable key-value persistence layer beneath the sync engine.
// Values are JSON documents; a Set fully replaces the prior value or fails
// without partial effect.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context) ([]string, error)
}
