// cache/cache.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
)

// Cache is a run-scoped key/value store. Entries are written once per key
// and never evicted while the cache is open; Close discards everything.
type Cache interface {
	// Get retrieves a value by key.
	// Returns ErrNotFound if the key has not been set.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value, replacing any previous one.
	Set(ctx context.Context, key string, value []byte) error

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)

	// Close discards all entries and releases resources.
	Close() error
}

// Common errors
var (
	ErrNotFound = errors.New("cache: key not found")
	ErrClosed   = errors.New("cache: cache is closed")
)

// GetJSON retrieves and unmarshals a JSON value.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, error) {
	var result T
	data, err := c.Get(ctx, key)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, err
	}
	return result, nil
}

// SetJSON marshals and stores a value as JSON.
func SetJSON(ctx context.Context, c Cache, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data)
}
