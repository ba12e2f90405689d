package sessionhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/adapter/outbound/jwtauth"
	"github.com/todoflow/server/internal/adapter/outbound/memory"
	"github.com/todoflow/server/internal/module/session"
	apperrors "github.com/todoflow/server/internal/utils/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, gate *session.Gate) *gin.Engine {
	t.Helper()
	require.NoError(t, gate.Start(context.Background()))
	t.Cleanup(gate.Close)

	router := gin.New()
	router.Use(E2EMode(gate))
	NewHandler(gate, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func newConfiguredRouter(t *testing.T) *gin.Engine {
	t.Helper()
	provider, err := jwtauth.New(memory.NewKeyValueStore(), &jwtauth.Config{Secret: "test-secret"}, zap.NewNop())
	require.NoError(t, err)
	return newRouter(t, session.NewGate(provider, false, zap.NewNop(), nil))
}

func post(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) session.State {
	t.Helper()
	var st session.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestSessionFlow(t *testing.T) {
	router := newConfiguredRouter(t)

	st := decodeState(t, get(router, "/api/v1/session"))
	assert.True(t, st.Initialized)
	assert.Nil(t, st.User)

	w := post(router, "/api/v1/session/signup", SignUpRequest{Email: "Alice@Example.com", Password: "hunter22", DisplayName: "Alice"})
	require.Equal(t, http.StatusOK, w.Code)
	st = decodeState(t, w)
	require.NotNil(t, st.User)
	assert.Equal(t, "alice@example.com", st.User.Email)
	assert.False(t, st.Loading)

	w = post(router, "/api/v1/session/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decodeState(t, w).User)

	w = post(router, "/api/v1/session/signin", SignInRequest{Email: "alice@example.com", Password: "hunter22"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, decodeState(t, w).User)
}

func TestSessionErrors(t *testing.T) {
	router := newConfiguredRouter(t)
	require.Equal(t, http.StatusOK, post(router, "/api/v1/session/signup", SignUpRequest{Email: "bob@example.com", Password: "pw"}).Code)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"duplicate account", "/api/v1/session/signup", SignUpRequest{Email: "bob@example.com", Password: "pw"}, http.StatusConflict, "account_exists"},
		{"wrong password", "/api/v1/session/signin", SignInRequest{Email: "bob@example.com", Password: "nope"}, http.StatusUnauthorized, "invalid_credentials"},
		{"bad token", "/api/v1/session/token", TokenRequest{Token: "garbage"}, http.StatusUnauthorized, "invalid_token"},
		{"missing fields", "/api/v1/session/signin", map[string]string{}, http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(router, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}

	st := decodeState(t, get(router, "/api/v1/session"))
	assert.NotEmpty(t, st.Error)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/session/error", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, decodeState(t, get(router, "/api/v1/session")).Error)
}

func TestSessionNotConfigured(t *testing.T) {
	router := newRouter(t, session.NewGate(nil, false, zap.NewNop(), nil))

	w := post(router, "/api/v1/session/signin", SignInRequest{Email: "a@b.c", Password: "pw"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "auth_not_configured", errorCode(t, w))
}

func TestE2EMode(t *testing.T) {
	router := newConfiguredRouter(t)

	st := decodeState(t, get(router, "/api/v1/session?e2e=true"))
	assert.True(t, st.Bypass)
	require.NotNil(t, st.User)
	assert.Equal(t, session.BypassUser().UID, st.User.UID)

	st = decodeState(t, get(router, "/api/v1/session"))
	assert.True(t, st.Bypass)
}
