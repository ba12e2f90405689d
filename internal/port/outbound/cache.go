package outbound

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by KeyValueStorePort.Get for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// KeyValueStorePort is the local durable cache that persisted stores
// read at startup and write on every change.
type KeyValueStorePort interface {
	// Get retrieves the value stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
