// Package cache provides the short-TTL byte cache that sits in front
// of the quote aggregator. Values are opaque; callers serialize.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or its TTL has elapsed.
var ErrMiss = errors.New("cache: miss")

// Cache is a TTL key-value store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
