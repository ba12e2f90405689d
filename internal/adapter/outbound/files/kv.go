// Package files stores the local cache as one JSON file per key on a
// billy filesystem.
package files

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/todoflow/server/internal/port/outbound"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// keyValueStore implements outbound.KeyValueStorePort.
type keyValueStore struct {
	fs billy.Filesystem
}

// NewKeyValueStore creates a cache backed by fs.
func NewKeyValueStore(fs billy.Filesystem) outbound.KeyValueStorePort {
	return &keyValueStore{fs: fs}
}

// NewDirKeyValueStore creates a cache rooted at dir on the OS filesystem.
func NewDirKeyValueStore(dir string) (outbound.KeyValueStorePort, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return NewKeyValueStore(osfs.New(dir)), nil
}

func fileName(key string) string {
	return unsafeKeyChars.ReplaceAllString(key, "_") + ".json"
}

func (s *keyValueStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := util.ReadFile(s.fs, fileName(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, outbound.ErrKeyNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (s *keyValueStore) Set(_ context.Context, key string, value []byte) error {
	name := fileName(key)
	tmp := name + ".tmp"
	if err := util.WriteFile(s.fs, tmp, value, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

func (s *keyValueStore) Delete(_ context.Context, key string) error {
	err := s.fs.Remove(fileName(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Compile-time check
var _ outbound.KeyValueStorePort = (*keyValueStore)(nil)
