package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/port/outbound"
)

func namespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func TestDocumentStore_Mock(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("get decodes nested data", func(mt *mtest.T) {
		store := NewDocumentStore(mt.Coll, zap.NewNop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "teams/t1"},
			{Key: "collection", Value: "teams"},
			{Key: "data", Value: bson.D{
				{Key: "name", Value: "Ops"},
				{Key: "memberCount", Value: int32(2)},
				{Key: "settings", Value: bson.D{
					{Key: "defaultRole", Value: "editor"},
					{Key: "allowInviteLinks", Value: true},
				}},
			}},
		}))

		doc, err := store.Get(ctx, "teams/t1")
		require.NoError(mt, err)
		assert.Equal(mt, "t1", doc.ID)
		assert.Equal(mt, float64(2), doc.Data["memberCount"])
		assert.Equal(mt, map[string]any{"defaultRole": "editor", "allowInviteLinks": true}, doc.Data["settings"])
	})

	mt.Run("get missing", func(mt *mtest.T) {
		store := NewDocumentStore(mt.Coll, zap.NewNop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		_, err := store.Get(ctx, "teams/nope")
		assert.ErrorIs(mt, err, outbound.ErrDocumentNotFound)
	})

	mt.Run("update of missing document", func(mt *mtest.T) {
		store := NewDocumentStore(mt.Coll, zap.NewNop())
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		err := store.Update(ctx, "invitations/i1", map[string]any{"status": "declined"})
		assert.ErrorIs(mt, err, outbound.ErrDocumentNotFound)
	})

	mt.Run("listener sees writes", func(mt *mtest.T) {
		store := NewDocumentStore(mt.Coll, zap.NewNop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "users/u1/presets/p1"},
			{Key: "collection", Value: "users/u1/presets"},
			{Key: "data", Value: bson.D{{Key: "title", Value: "groceries"}}},
		}))

		var snapshots [][]outbound.Document
		sub, err := store.Listen(ctx, outbound.Query{Collection: "users/u1/presets"}, func(docs []outbound.Document) {
			snapshots = append(snapshots, docs)
		}, nil)
		require.NoError(mt, err)
		defer sub.Unsubscribe()
		require.Len(mt, snapshots, 1)
		assert.Equal(mt, "p1", snapshots[0][0].ID)

		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
				bson.D{
					{Key: "_id", Value: "users/u1/presets/p1"},
					{Key: "collection", Value: "users/u1/presets"},
					{Key: "data", Value: bson.D{{Key: "title", Value: "groceries"}}},
				},
				bson.D{
					{Key: "_id", Value: "users/u1/presets/p2"},
					{Key: "collection", Value: "users/u1/presets"},
					{Key: "data", Value: bson.D{{Key: "title", Value: "laundry"}}},
				},
			),
		)

		require.NoError(mt, store.Set(ctx, "users/u1/presets/p2", map[string]any{"title": "laundry"}))
		require.Len(mt, snapshots, 2)
		assert.Len(mt, snapshots[1], 2)
	})
}

func TestUpdateDocument(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	update, err := updateDocument(map[string]any{
		"status":      "accepted",
		"uses":        outbound.Inc(1),
		"memberCount": outbound.Inc(-1),
	}, now)
	require.NoError(t, err)

	assert.Equal(t, bson.M{
		"$set": bson.M{"updatedAt": now, "data.status": "accepted"},
		"$inc": bson.M{"data.uses": int64(1), "data.memberCount": int64(-1)},
	}, update)

	update, err = updateDocument(map[string]any{"title": "x"}, now)
	require.NoError(t, err)
	_, hasInc := update["$inc"]
	assert.False(t, hasInc)
}

func TestPlain(t *testing.T) {
	got := plainMap(map[string]any{
		"settings": bson.D{{Key: "defaultRole", Value: "viewer"}},
		"tags":     bson.A{"a", bson.M{"b": int32(1)}},
	})
	assert.Equal(t, map[string]any{
		"settings": map[string]any{"defaultRole": "viewer"},
		"tags":     []any{"a", map[string]any{"b": int32(1)}},
	}, got)
}
