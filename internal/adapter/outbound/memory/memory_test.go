package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todoflow/server/internal/port/outbound"
)

func TestKeyValueStore(t *testing.T) {
	ctx := context.Background()
	s := NewKeyValueStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, outbound.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, outbound.ErrKeyNotFound)
}

func TestDocumentStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore()

	require.NoError(t, s.Set(ctx, "teams/t1", map[string]any{"name": "a", "memberCount": 1}))

	doc, err := s.Get(ctx, "teams/t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", doc.ID)
	assert.Equal(t, float64(1), doc.Data["memberCount"])

	require.NoError(t, s.Update(ctx, "teams/t1", map[string]any{"memberCount": outbound.Inc(2)}))
	doc, err = s.Get(ctx, "teams/t1")
	require.NoError(t, err)
	assert.Equal(t, float64(3), doc.Data["memberCount"])
	assert.Equal(t, "a", doc.Data["name"])

	err = s.Update(ctx, "teams/missing", map[string]any{"name": "x"})
	assert.ErrorIs(t, err, outbound.ErrDocumentNotFound)

	require.NoError(t, s.Delete(ctx, "teams/t1"))
	_, err = s.Get(ctx, "teams/t1")
	assert.ErrorIs(t, err, outbound.ErrDocumentNotFound)
}

func TestDocumentStore_BatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore()

	err := s.Batch().
		Set("teams/t1", map[string]any{"name": "a"}).
		Update("teams/missing", map[string]any{"x": 1}).
		Commit(ctx)
	assert.ErrorIs(t, err, outbound.ErrDocumentNotFound)

	_, err = s.Get(ctx, "teams/t1")
	assert.ErrorIs(t, err, outbound.ErrDocumentNotFound, "no partial write")
}

func TestDocumentStore_Listen(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore()
	require.NoError(t, s.Set(ctx, "users/u1/todos/a", map[string]any{"createdAt": "2024-01-01T00:00:00.000Z"}))

	var snapshots [][]string
	sub, err := s.Listen(ctx, outbound.Query{Collection: "users/u1/todos", OrderBy: "createdAt", Desc: true},
		func(docs []outbound.Document) {
			ids := make([]string, 0, len(docs))
			for _, d := range docs {
				ids = append(ids, d.ID)
			}
			snapshots = append(snapshots, ids)
		}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "users/u1/todos/b", map[string]any{"createdAt": "2024-01-02T00:00:00.000Z"}))
	require.NoError(t, s.Set(ctx, "users/u2/todos/c", map[string]any{"createdAt": "2024-01-03T00:00:00.000Z"}))

	assert.Equal(t, [][]string{{"a"}, {"b", "a"}}, snapshots)
	assert.Equal(t, 1, s.ListenerCount())

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.NoError(t, s.Delete(ctx, "users/u1/todos/a"))
	assert.Len(t, snapshots, 2)
	assert.Equal(t, 0, s.ListenerCount())
}

func TestDocumentStore_FailWrites(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore()
	boom := errors.New("offline")

	s.FailWrites(boom)
	assert.ErrorIs(t, s.Set(ctx, "teams/t1", map[string]any{}), boom)

	s.FailWrites(nil)
	assert.NoError(t, s.Set(ctx, "teams/t1", map[string]any{}))
}
