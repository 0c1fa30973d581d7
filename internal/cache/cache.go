// Package cache stores serialized catalogs between process restarts and
// across replicas.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned when a key is not in the store.
var ErrMiss = errors.New("cache miss")

// Store is a byte-oriented key/value store with expiry.
type Store interface {
	// Get returns ErrMiss for absent or expired keys.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A zero ttl uses the store default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Config holds the settings shared by every store.
type Config struct {
	DefaultTTL time.Duration
	Prefix     string
}

func DefaultConfig() Config {
	return Config{
		DefaultTTL: time.Hour,
		Prefix:     "customdata:",
	}
}

func miss(key string) error {
	return fmt.Errorf("%w: %s", ErrMiss, key)
}

// IsMiss reports whether err is a cache miss.
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}
