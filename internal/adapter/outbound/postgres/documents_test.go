package postgres

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"reflect"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/todoflow/server/internal/port/outbound"
)

func setupMockStore(t *testing.T) (*DocumentStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return NewDocumentStore(db, zap.NewNop()), mock
}

// jsonArg matches a JSON-encoded document argument.
type jsonArg map[string]any

func (a jsonArg) Match(v driver.Value) bool {
	var raw []byte
	switch x := v.(type) {
	case string:
		raw = []byte(x)
	case []byte:
		raw = x
	default:
		return false
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	return reflect.DeepEqual(map[string]any(a), got)
}

const (
	selectByPath       = "SELECT path, data FROM documents WHERE path = $1"
	selectForUpdate    = "SELECT path, data FROM documents WHERE path = $1 FOR UPDATE"
	selectByCollection = "SELECT path, data FROM documents WHERE collection = $1 ORDER BY path"
	notify             = "SELECT pg_notify($1, $2)"
)

func expectNotify(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta(notify)).
		WithArgs(NotifyChannel, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestDocumentStore_Migrate(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_documents_collection").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStore_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		store, mock := setupMockStore(t)
		rows := sqlmock.NewRows([]string{"path", "data"}).
			AddRow("users/u1/todos/t1", []byte(`{"title":"buy milk","completed":false}`))
		mock.ExpectQuery(regexp.QuoteMeta(selectByPath)).WithArgs("users/u1/todos/t1").WillReturnRows(rows)

		doc, err := store.Get(ctx, "users/u1/todos/t1")
		require.NoError(t, err)
		assert.Equal(t, "t1", doc.ID)
		assert.Equal(t, "buy milk", doc.Data["title"])
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		store, mock := setupMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(selectByPath)).
			WithArgs("teams/x").
			WillReturnRows(sqlmock.NewRows([]string{"path", "data"}))

		_, err := store.Get(ctx, "teams/x")
		assert.ErrorIs(t, err, outbound.ErrDocumentNotFound)
	})

	t.Run("invalid path", func(t *testing.T) {
		store, _ := setupMockStore(t)
		_, err := store.Get(ctx, "teams")
		assert.Error(t, err)
	})
}

func TestDocumentStore_Set(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("users/u1/presets/p1", "users/u1/presets", jsonArg{"title": "groceries"}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectNotify(mock)
	mock.ExpectCommit()

	err := store.Set(context.Background(), "users/u1/presets/p1", map[string]any{"title": "groceries"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStore_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("merges fields and increments", func(t *testing.T) {
		store, mock := setupMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(selectForUpdate)).
			WithArgs("teams/t1").
			WillReturnRows(sqlmock.NewRows([]string{"path", "data"}).
				AddRow("teams/t1", []byte(`{"name":"Ops","memberCount":1}`)))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET data = $1, updated_at = $2 WHERE path = $3")).
			WithArgs(jsonArg{"name": "Ops", "memberCount": float64(2)}, sqlmock.AnyArg(), "teams/t1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectNotify(mock)
		mock.ExpectCommit()

		err := store.Update(ctx, "teams/t1", map[string]any{"memberCount": outbound.Inc(1)})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing document rolls back", func(t *testing.T) {
		store, mock := setupMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(selectForUpdate)).
			WithArgs("teams/t1").
			WillReturnRows(sqlmock.NewRows([]string{"path", "data"}))
		mock.ExpectRollback()

		err := store.Update(ctx, "teams/t1", map[string]any{"name": "Ops"})
		assert.ErrorIs(t, err, outbound.ErrDocumentNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDocumentStore_BatchAtomic(t *testing.T) {
	store, mock := setupMockStore(t)
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("teams/t1", "teams", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("teams/t1/members/u1", "teams/t1/members", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(boom)
	mock.ExpectRollback()

	err := store.Batch().
		Set("teams/t1", map[string]any{"name": "Ops"}).
		Set("teams/t1/members/u1", map[string]any{"role": "owner"}).
		Commit(context.Background())
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStore_Delete(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM documents WHERE path = $1")).
		WithArgs("invitations/i1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectNotify(mock)
	mock.ExpectCommit()

	require.NoError(t, store.Delete(context.Background(), "invitations/i1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStore_Listen(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectByCollection)).
		WithArgs("invitations").
		WillReturnRows(sqlmock.NewRows([]string{"path", "data"}).
			AddRow("invitations/i1", []byte(`{"email":"a@example.com","status":"pending"}`)).
			AddRow("invitations/i2", []byte(`{"email":"b@example.com","status":"pending"}`)))

	var snapshots [][]outbound.Document
	sub, err := store.Listen(ctx, outbound.Query{
		Collection: "invitations",
		Where:      []outbound.Filter{{Field: "email", Value: "a@example.com"}},
	}, func(docs []outbound.Document) {
		snapshots = append(snapshots, docs)
	}, nil)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	require.Len(t, snapshots[0], 1)
	assert.Equal(t, "i1", snapshots[0][0].ID)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("invitations/i3", "invitations", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectNotify(mock)
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(selectByCollection)).
		WithArgs("invitations").
		WillReturnRows(sqlmock.NewRows([]string{"path", "data"}).
			AddRow("invitations/i1", []byte(`{"email":"a@example.com","status":"pending"}`)).
			AddRow("invitations/i3", []byte(`{"email":"a@example.com","status":"pending"}`)))

	require.NoError(t, store.Set(ctx, "invitations/i3", map[string]any{"email": "a@example.com", "status": "pending"}))
	require.Len(t, snapshots, 2)
	assert.Len(t, snapshots[1], 2)

	sub.Unsubscribe()
	sub.Unsubscribe()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM documents WHERE path = $1")).
		WithArgs("invitations/i3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectNotify(mock)
	mock.ExpectCommit()

	require.NoError(t, store.Delete(ctx, "invitations/i3"))
	assert.Len(t, snapshots, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}
