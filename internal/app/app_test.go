package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todoflow/server/internal/module/mirror"
	"github.com/todoflow/server/internal/shared/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Address:        ":0",
			ReadTimeout:    time.Second,
			WriteTimeout:   time.Second,
			IdleTimeout:    time.Second,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Cache:  config.CacheConfig{Backend: config.CacheMemory},
		Remote: config.RemoteConfig{Backend: config.RemoteMemory},
		Auth: config.AuthConfig{
			JWTSecret:   "app-test-secret",
			TokenExpiry: time.Hour,
		},
		Invitation: config.InvitationConfig{
			BaseURL:            "http://localhost:3000",
			Expiry:             24 * time.Hour,
			DefaultLinkMaxUses: 5,
		},
		Log: config.LogConfig{Level: "error", Format: "json"},
	}
}

func send(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(body)
		r = &buf
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// The default prometheus registry only accepts one App per test binary.
func TestApp(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig())
	require.NoError(t, err)
	t.Cleanup(a.Stop)

	router := a.Router()

	t.Run("health", func(t *testing.T) {
		w := send(router, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, true, body["remote"])
		assert.Equal(t, true, body["initialized"])
	})

	t.Run("local todo before sign in", func(t *testing.T) {
		w := send(router, http.MethodPost, "/api/v1/todos", map[string]string{"title": "offline"})
		require.Equal(t, http.StatusCreated, w.Code)
		assert.IsType(t, mirror.LocalMode{}, a.deps.Todos.Mode())
	})

	t.Run("sign up binds the stores", func(t *testing.T) {
		w := send(router, http.MethodPost, "/api/v1/session/signup", map[string]string{
			"email":       "erin@example.com",
			"password":    "hunter22",
			"displayName": "Erin",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.IsType(t, mirror.RemoteMode{}, a.deps.Todos.Mode())
		assert.IsType(t, mirror.RemoteMode{}, a.deps.Teams.Mode())

		w = send(router, http.MethodPost, "/api/v1/todos", map[string]string{"title": "synced"})
		require.Equal(t, http.StatusCreated, w.Code)

		var created struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		uid := a.deps.Gate.Get().User.UID
		doc, err := a.deps.Documents.Get(ctx, "users/"+uid+"/todos/"+created.ID)
		require.NoError(t, err)
		assert.Equal(t, "synced", doc.Data["title"])
	})

	t.Run("logout returns to local", func(t *testing.T) {
		w := send(router, http.MethodPost, "/api/v1/session/logout", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.IsType(t, mirror.LocalMode{}, a.deps.Todos.Mode())
	})

	t.Run("join route is outside the api group", func(t *testing.T) {
		w := send(router, http.MethodGet, "/join/missing", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "not_found")
	})

	t.Run("metrics", func(t *testing.T) {
		w := send(router, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "todoflow_http_requests_total")
		assert.Contains(t, w.Body.String(), "todoflow_store_mutations_total")
	})
}
