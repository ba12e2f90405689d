package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/todoflow/server/internal/port/outbound"
	"github.com/todoflow/server/internal/utils/document"
)

// DocumentStore implements outbound.DocumentStorePort in memory.
// Listener deliveries run synchronously on the writing goroutine after the
// write is committed.
type DocumentStore struct {
	mu       sync.RWMutex
	docs     map[string]map[string]any
	writeErr error

	hub *document.Hub
}

// NewDocumentStore creates an empty document store.
func NewDocumentStore() *DocumentStore {
	s := &DocumentStore{docs: make(map[string]map[string]any)}
	s.hub = document.NewHub(s.Query)
	return s
}

// FailWrites makes every following write return err. Pass nil to recover.
func (s *DocumentStore) FailWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// ListenerCount returns the number of attached listeners.
func (s *DocumentStore) ListenerCount() int {
	return s.hub.Len()
}

// FailListeners reports err to every attached listener.
func (s *DocumentStore) FailListeners(err error) {
	s.hub.Fail(err)
}

func (s *DocumentStore) NewID() string {
	return uuid.NewString()
}

func (s *DocumentStore) Get(_ context.Context, path string) (outbound.Document, error) {
	_, id, err := document.Split(path)
	if err != nil {
		return outbound.Document{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.docs[path]
	if !ok {
		return outbound.Document{}, fmt.Errorf("%w: %s", outbound.ErrDocumentNotFound, path)
	}
	return outbound.Document{ID: id, Path: path, Data: document.Clone(data)}, nil
}

func (s *DocumentStore) Set(ctx context.Context, path string, data map[string]any) error {
	return s.Batch().Set(path, data).Commit(ctx)
}

func (s *DocumentStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.Batch().Update(path, fields).Commit(ctx)
}

func (s *DocumentStore) Delete(ctx context.Context, path string) error {
	return s.Batch().Delete(path).Commit(ctx)
}

func (s *DocumentStore) Batch() outbound.WriteBatch {
	return document.NewBatch(s.commit)
}

func (s *DocumentStore) commit(ctx context.Context, ops []document.Op) error {
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}

	// Stage against a copy so a failing op leaves the store untouched.
	staged := make(map[string]map[string]any, len(ops))
	deleted := make(map[string]bool)
	lookup := func(path string) (map[string]any, bool) {
		if deleted[path] {
			return nil, false
		}
		if d, ok := staged[path]; ok {
			return d, true
		}
		d, ok := s.docs[path]
		return d, ok
	}

	for _, op := range ops {
		switch op.Kind {
		case document.OpSet:
			data, err := document.Normalize(op.Data)
			if err != nil {
				s.mu.Unlock()
				return err
			}
			staged[op.Path] = data
			delete(deleted, op.Path)
		case document.OpUpdate:
			current, ok := lookup(op.Path)
			if !ok {
				s.mu.Unlock()
				return fmt.Errorf("%w: %s", outbound.ErrDocumentNotFound, op.Path)
			}
			merged, err := document.Merge(current, op.Data)
			if err != nil {
				s.mu.Unlock()
				return err
			}
			staged[op.Path] = merged
		case document.OpDelete:
			delete(staged, op.Path)
			deleted[op.Path] = true
		}
	}

	for path := range deleted {
		delete(s.docs, path)
	}
	for path, data := range staged {
		s.docs[path] = data
	}
	s.mu.Unlock()

	s.hub.Notify(ctx, document.Collections(ops)...)
	return nil
}

func (s *DocumentStore) Query(_ context.Context, q outbound.Query) ([]outbound.Document, error) {
	s.mu.RLock()
	docs := make([]outbound.Document, 0)
	for path, data := range s.docs {
		collection, id, err := document.Split(path)
		if err != nil || collection != q.Collection {
			continue
		}
		docs = append(docs, outbound.Document{ID: id, Path: path, Data: document.Clone(data)})
	}
	s.mu.RUnlock()

	// Map iteration order is random; give unordered queries a stable order.
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return document.Select(docs, q), nil
}

func (s *DocumentStore) Listen(ctx context.Context, q outbound.Query, onSnapshot outbound.SnapshotFunc, onError outbound.ErrorFunc) (outbound.Subscription, error) {
	return s.hub.Attach(ctx, q, onSnapshot, onError)
}

// Compile-time check
var _ outbound.DocumentStorePort = (*DocumentStore)(nil)
