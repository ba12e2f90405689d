package todohttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/adapter/outbound/memory"
	"github.com/todoflow/server/internal/module/preset"
	"github.com/todoflow/server/internal/module/todo"
	apperrors "github.com/todoflow/server/internal/utils/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router  *gin.Engine
	todos   *todo.Store
	presets *preset.Store
	docs    *memory.DocumentStore
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	kv := memory.NewKeyValueStore()
	docs := memory.NewDocumentStore()

	todos := todo.NewStore(ctx, kv, docs, zap.NewNop(), nil)
	presets := preset.NewStore(ctx, kv, docs, zap.NewNop(), nil)
	t.Cleanup(todos.Close)
	t.Cleanup(presets.Close)

	router := gin.New()
	NewHandler(todos, presets, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))
	return &fixture{router: router, todos: todos, presets: presets, docs: docs}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestTodoLifecycle(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodGet, "/api/v1/todos", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Add a new todo above!", decode[ListResponse](t, w).EmptyMessage)

	w = f.do(http.MethodPost, "/api/v1/todos", map[string]any{"title": "  Buy milk  ", "priority": "high"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[IDResponse](t, w).ID
	require.NotEmpty(t, id)

	w = f.do(http.MethodPatch, "/api/v1/todos/"+id, map[string]any{"description": "2 liters"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodPost, "/api/v1/todos/"+id+"/toggle", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	list := decode[ListResponse](t, f.do(http.MethodGet, "/api/v1/todos", nil))
	require.Len(t, list.Todos, 1)
	assert.Equal(t, "Buy milk", list.Todos[0].Title)
	assert.Equal(t, "2 liters", *list.Todos[0].Description)
	assert.True(t, list.Todos[0].Completed)
	assert.Equal(t, 1, list.Completed)
	assert.Equal(t, 1, list.Total)

	w = f.do(http.MethodPost, "/api/v1/todos/clear-completed", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, f.todos.Get().Todos)
}

func TestAddTodo_Validation(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name string
		body any
	}{
		{"blank title", map[string]any{"title": "   "}},
		{"malformed", "not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/v1/todos", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decode[apperrors.ErrorResponse](t, w)
			assert.Equal(t, "BAD_REQUEST", resp.Error.Code)
		})
	}
	assert.Empty(t, f.todos.Get().Todos)
}

func TestUnknownTodo(t *testing.T) {
	f := setup(t)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodPatch, "/api/v1/todos/missing", http.StatusNotFound},
		{http.MethodPost, "/api/v1/todos/missing/toggle", http.StatusNotFound},
		{http.MethodPost, "/api/v1/presets/from-todo/missing", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/todos/missing", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := f.do(tt.method, tt.path, map[string]any{})
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestSetPreferences(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodPut, "/api/v1/todos/preferences", map[string]any{
		"sortType":   "priority",
		"sortOrder":  "asc",
		"filterMode": "completed",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[ListResponse](t, w)
	assert.Equal(t, todo.SortPriority, resp.SortType)
	assert.Equal(t, todo.SortAsc, resp.SortOrder)
	assert.Equal(t, "No completed todos.", resp.EmptyMessage)

	w = f.do(http.MethodPut, "/api/v1/todos/preferences", map[string]any{"viewMode": "board"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, todo.ViewList, f.todos.Get().ViewMode)
}

func TestCalendar(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start, end := "2026-03-01", "2026-03-05"
	_, err := f.todos.Add(ctx, todo.AddParams{Title: "Trip", StartDate: &start, EndDate: &end})
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/api/v1/todos/calendar?date=2026-03-03", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Len(t, body["todos"], 1)

	w = f.do(http.MethodGet, "/api/v1/todos/calendar?date=March", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPresets(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodPost, "/api/v1/presets", PresetRequest{Title: "Water plants"})
	require.Equal(t, http.StatusCreated, w.Code)
	presetID := decode[IDResponse](t, w).ID

	todoID, err := f.todos.Add(context.Background(), todo.AddParams{Title: "Call mom"})
	require.NoError(t, err)
	w = f.do(http.MethodPost, "/api/v1/presets/from-todo/"+todoID, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	body := decode[map[string]any](t, f.do(http.MethodGet, "/api/v1/presets", nil))
	assert.Len(t, body["presets"], 2)

	w = f.do(http.MethodDelete, "/api/v1/presets/"+presetID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Len(t, f.presets.Get().Presets, 1)
}

func TestRemoteWriteFailure(t *testing.T) {
	f := setup(t)
	uid := "alice"
	require.NoError(t, f.todos.SetUserID(context.Background(), &uid))
	f.docs.FailWrites(errors.New("backend down"))

	w := f.do(http.MethodPost, "/api/v1/todos", map[string]any{"title": "Offline"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "remote_write_failed", decode[apperrors.ErrorResponse](t, w).Error.Code)
}
