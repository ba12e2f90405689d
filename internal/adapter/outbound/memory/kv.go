// Package memory provides in-process implementations of the outbound ports.
package memory

import (
	"context"
	"sync"

	"github.com/todoflow/server/internal/port/outbound"
)

// KeyValueStore implements outbound.KeyValueStorePort in memory.
type KeyValueStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewKeyValueStore creates an empty key-value store.
func NewKeyValueStore() *KeyValueStore {
	return &KeyValueStore{data: make(map[string][]byte)}
}

func (s *KeyValueStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, outbound.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *KeyValueStore) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	s.data[key] = v
	s.mu.Unlock()
	return nil
}

func (s *KeyValueStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Compile-time check
var _ outbound.KeyValueStorePort = (*KeyValueStore)(nil)
