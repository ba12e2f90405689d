package preset

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/adapter/outbound/memory"
	"github.com/todoflow/server/internal/model"
)

func newTestStore(t *testing.T, kv *memory.KeyValueStore, docs *memory.DocumentStore) *Store {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	opts := []Option{
		WithClock(func() time.Time { now = now.Add(time.Minute); return now }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("preset-%d", n) }),
	}
	var s *Store
	if docs == nil {
		s = NewStore(context.Background(), kv, nil, zap.NewNop(), nil, opts...)
	} else {
		s = NewStore(context.Background(), kv, docs, zap.NewNop(), nil, opts...)
	}
	t.Cleanup(s.Close)
	return s
}

func titles(presets []model.Preset) []string {
	out := make([]string, len(presets))
	for i, p := range presets {
		out[i] = p.Title
	}
	return out
}

func TestStore_AddPreset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, memory.NewKeyValueStore(), nil)

	id, err := s.AddPreset(ctx, "  Groceries ")
	require.NoError(t, err)
	assert.Equal(t, "preset-1", id)

	_, err = s.AddPreset(ctx, "Laundry")
	require.NoError(t, err)

	dup, err := s.AddPreset(ctx, "Groceries")
	require.NoError(t, err)
	assert.Empty(t, dup)

	empty, err := s.AddPreset(ctx, "   ")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.AddPreset(ctx, strings.Repeat("p", 500))
	require.NoError(t, err)

	got := s.Get().Presets
	require.Len(t, got, 3)
	assert.Equal(t, []string{"Groceries", "Laundry", strings.Repeat("p", model.MaxTitleLength)}, titles(got))
}

func TestStore_AddPresetConcurrentDuplicates(t *testing.T) {
	s := NewStore(context.Background(), memory.NewKeyValueStore(), nil, zap.NewNop(), nil)
	t.Cleanup(s.Close)

	const workers = 16
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.AddPreset(context.Background(), "water plants")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	added := 0
	for _, id := range ids {
		if id != "" {
			added++
		}
	}
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"water plants"}, titles(s.Get().Presets))
}

func TestStore_AddFromTodo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, memory.NewKeyValueStore(), nil)

	_, err := s.AddFromTodo(ctx, model.Todo{ID: "t1", Title: "Water plants"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Water plants"}, titles(s.Get().Presets))
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, memory.NewKeyValueStore(), nil)

	a, _ := s.AddPreset(ctx, "a")
	_, _ = s.AddPreset(ctx, "b")

	require.NoError(t, s.Delete(ctx, a))
	require.NoError(t, s.Delete(ctx, a))
	assert.Equal(t, []string{"b"}, titles(s.Get().Presets))
}

func TestStore_PersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKeyValueStore()

	first := newTestStore(t, kv, nil)
	_, _ = first.AddPreset(ctx, "one")
	_, _ = first.AddPreset(ctx, "two")
	first.Close()

	second := newTestStore(t, kv, nil)
	assert.Equal(t, first.Get().Presets, second.Get().Presets)
}

func TestStore_Remote(t *testing.T) {
	ctx := context.Background()
	uid := "user-1"
	docs := memory.NewDocumentStore()
	s := newTestStore(t, memory.NewKeyValueStore(), docs)

	require.NoError(t, s.SetUserID(ctx, &uid))

	_, err := s.AddPreset(ctx, "first")
	require.NoError(t, err)
	second, err := s.AddPreset(ctx, "second")
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, titles(s.Get().Presets))

	doc, err := docs.Get(ctx, "users/user-1/presets/"+second)
	require.NoError(t, err)
	assert.Equal(t, "second", doc.Data["title"])

	require.NoError(t, s.Delete(ctx, second))
	assert.Equal(t, []string{"first"}, titles(s.Get().Presets))

	require.NoError(t, s.SetUserID(ctx, nil))
	assert.Equal(t, 0, docs.ListenerCount())
	assert.Equal(t, []string{"first"}, titles(s.Get().Presets))
}
