package collabhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/adapter/outbound/jwtauth"
	"github.com/todoflow/server/internal/adapter/outbound/memory"
	"github.com/todoflow/server/internal/model"
	"github.com/todoflow/server/internal/module/collaboration"
	"github.com/todoflow/server/internal/module/session"
	"github.com/todoflow/server/internal/port/outbound"
	apperrors "github.com/todoflow/server/internal/utils/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type client struct {
	router      *gin.Engine
	gate        *session.Gate
	teams       *collaboration.TeamStore
	invitations *collaboration.InvitationStore
}

// newClient builds a router for one identity. An empty email leaves the
// session signed out. docs may be nil for a local-only client.
func newClient(t *testing.T, docs outbound.DocumentStorePort, email string) *client {
	t.Helper()
	ctx := context.Background()
	kv := memory.NewKeyValueStore()

	provider, err := jwtauth.New(kv, &jwtauth.Config{Secret: "test-secret"}, zap.NewNop())
	require.NoError(t, err)
	gate := session.NewGate(provider, false, zap.NewNop(), nil)
	require.NoError(t, gate.Start(ctx))
	t.Cleanup(gate.Close)

	teams := collaboration.NewTeamStore(ctx, kv, docs, zap.NewNop(), nil)
	t.Cleanup(teams.Close)
	cfg := &collaboration.Config{BaseURL: "https://todo.example.com"}
	cfg.Normalize()
	invitations := collaboration.NewInvitationStore(ctx, kv, docs, cfg, zap.NewNop(), nil)
	t.Cleanup(invitations.Close)

	if email != "" {
		require.NoError(t, gate.SignUp(ctx, email, "secret-pw", strings.Split(email, "@")[0]))
		uid := gate.Get().User.UID
		require.NoError(t, teams.SetUserID(ctx, &uid))
	}

	router := gin.New()
	h := NewHandler(teams, invitations, gate, zap.NewNop())
	h.RegisterRoutes(router.Group("/api/v1"))
	h.RegisterJoinRoute(router)
	return &client{router: router, gate: gate, teams: teams, invitations: invitations}
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[apperrors.ErrorResponse](t, w).Error.Code
}

func (c *client) createTeam(t *testing.T, name string) string {
	t.Helper()
	w := c.do(http.MethodPost, "/api/v1/teams", CreateTeamRequest{Name: name})
	require.Equal(t, http.StatusCreated, w.Code)
	return decode[map[string]string](t, w)["id"]
}

func (c *client) invite(t *testing.T, teamID string, req CreateInvitationRequest) InvitationResponse {
	t.Helper()
	w := c.do(http.MethodPost, "/api/v1/teams/"+teamID+"/invitations", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[InvitationResponse](t, w)
}

func TestTeamLifecycle(t *testing.T) {
	docs := memory.NewDocumentStore()
	alice := newClient(t, docs, "alice@example.com")
	teamID := alice.createTeam(t, "Household")

	st := decode[collaboration.TeamState](t, alice.do(http.MethodGet, "/api/v1/teams", nil))
	require.Len(t, st.Teams, 1)
	assert.Equal(t, "Household", st.Teams[0].Name)

	w := alice.do(http.MethodGet, "/api/v1/teams/"+teamID+"/members", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = alice.do(http.MethodPut, "/api/v1/teams/current", CurrentTeamRequest{TeamID: &teamID})
	require.Equal(t, http.StatusOK, w.Code)

	members := decode[map[string][]model.TeamMember](t, alice.do(http.MethodGet, "/api/v1/teams/"+teamID+"/members", nil))
	require.Len(t, members["members"], 1)
	assert.Equal(t, model.TeamRoleOwner, members["members"][0].Role)

	w = alice.do(http.MethodPatch, "/api/v1/teams/"+teamID, map[string]any{"name": "Home"})
	require.Equal(t, http.StatusNoContent, w.Code)
	team, err := docs.Get(context.Background(), "teams/"+teamID)
	require.NoError(t, err)
	assert.Equal(t, "Home", team.Data["name"])

	w = alice.do(http.MethodPatch, "/api/v1/teams/unknown", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = alice.do(http.MethodPatch, "/api/v1/teams/"+teamID+"/members/someone", UpdateRoleRequest{Role: "boss"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_role", errorCode(t, w))

	link := alice.invite(t, teamID, CreateInvitationRequest{Type: model.InvitationTypeLink, Role: model.TeamRoleViewer})
	assert.Equal(t, "https://todo.example.com/join/"+link.ID, link.Link)

	require.NoError(t, alice.invitations.SubscribeTeamInvitations(context.Background(), teamID))
	invs := decode[map[string][]model.Invitation](t, alice.do(http.MethodGet, "/api/v1/teams/"+teamID+"/invitations", nil))
	assert.Len(t, invs["invitations"], 1)

	w = alice.do(http.MethodDelete, "/api/v1/teams/"+teamID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, alice.teams.Get().Teams)
}

func TestCreateInvitation_Validation(t *testing.T) {
	alice := newClient(t, memory.NewDocumentStore(), "alice@example.com")
	teamID := alice.createTeam(t, "Ops")

	tests := []struct {
		name   string
		team   string
		body   CreateInvitationRequest
		status int
	}{
		{"owner role", teamID, CreateInvitationRequest{Type: model.InvitationTypeEmail, Email: "x@example.com", Role: model.TeamRoleOwner}, http.StatusBadRequest},
		{"unknown type", teamID, CreateInvitationRequest{Type: "carrier-pigeon", Role: model.TeamRoleEditor}, http.StatusBadRequest},
		{"blank email", teamID, CreateInvitationRequest{Type: model.InvitationTypeEmail, Email: "  ", Role: model.TeamRoleEditor}, http.StatusBadRequest},
		{"unknown team", "nope", CreateInvitationRequest{Type: model.InvitationTypeLink, Role: model.TeamRoleEditor}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := alice.do(http.MethodPost, "/api/v1/teams/"+tt.team+"/invitations", tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestAcceptInvitation(t *testing.T) {
	docs := memory.NewDocumentStore()
	alice := newClient(t, docs, "alice@example.com")
	teamID := alice.createTeam(t, "Ops")
	forBob := alice.invite(t, teamID, CreateInvitationRequest{Type: model.InvitationTypeEmail, Email: "Bob@Example.com", Role: model.TeamRoleViewer})

	bob := newClient(t, docs, "bob@example.com")
	carol := newClient(t, docs, "carol@example.com")

	join := decode[JoinResponse](t, carol.do(http.MethodGet, "/join/"+forBob.ID, nil))
	assert.Equal(t, string(model.JoinStateEmailMismatch), join.State)

	w := carol.do(http.MethodPost, "/api/v1/invitations/"+forBob.ID+"/accept", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "invitation_not_for_you", errorCode(t, w))

	join = decode[JoinResponse](t, bob.do(http.MethodGet, "/join/"+forBob.ID, nil))
	assert.Equal(t, string(model.JoinStateValid), join.State)
	assert.False(t, join.NeedsAuth)

	w = bob.do(http.MethodPost, "/api/v1/invitations/"+forBob.ID+"/accept", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, bob.teams.Get().Teams, 1)
	assert.Equal(t, 2, bob.teams.Get().Teams[0].MemberCount)

	w = bob.do(http.MethodPost, "/api/v1/invitations/"+forBob.ID+"/accept", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invitation_processed", errorCode(t, w))

	w = bob.do(http.MethodGet, "/api/v1/invitations/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = bob.do(http.MethodPost, "/api/v1/invitations/missing/accept", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRolePermissions(t *testing.T) {
	docs := memory.NewDocumentStore()
	alice := newClient(t, docs, "alice@example.com")
	teamID := alice.createTeam(t, "Ops")
	forBob := alice.invite(t, teamID, CreateInvitationRequest{Type: model.InvitationTypeEmail, Email: "bob@example.com", Role: model.TeamRoleViewer})

	bob := newClient(t, docs, "bob@example.com")
	require.Equal(t, http.StatusNoContent, bob.do(http.MethodPost, "/api/v1/invitations/"+forBob.ID+"/accept", nil).Code)
	require.Equal(t, http.StatusOK, bob.do(http.MethodPut, "/api/v1/teams/current", CurrentTeamRequest{TeamID: &teamID}).Code)

	role, ok := bob.teams.RoleOf(teamID, bob.gate.Get().User.UID)
	require.True(t, ok)
	assert.Equal(t, model.TeamRoleViewer, role)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"invite", http.MethodPost, "/api/v1/teams/" + teamID + "/invitations", CreateInvitationRequest{Type: model.InvitationTypeLink, Role: model.TeamRoleEditor}},
		{"rename", http.MethodPatch, "/api/v1/teams/" + teamID, map[string]any{"name": "Mine"}},
		{"delete", http.MethodDelete, "/api/v1/teams/" + teamID, nil},
		{"remove member", http.MethodDelete, "/api/v1/teams/" + teamID + "/members/someone", nil},
		{"promote", http.MethodPatch, "/api/v1/teams/" + teamID + "/members/someone", UpdateRoleRequest{Role: model.TeamRoleAdmin}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := bob.do(tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.Equal(t, "FORBIDDEN", errorCode(t, w))
		})
	}

	team, err := docs.Get(context.Background(), "teams/"+teamID)
	require.NoError(t, err)
	assert.Equal(t, "Ops", team.Data["name"])
}

func TestDeclineAndRevoke(t *testing.T) {
	docs := memory.NewDocumentStore()
	alice := newClient(t, docs, "alice@example.com")
	teamID := alice.createTeam(t, "Ops")
	first := alice.invite(t, teamID, CreateInvitationRequest{Type: model.InvitationTypeEmail, Email: "bob@example.com", Role: model.TeamRoleEditor})
	second := alice.invite(t, teamID, CreateInvitationRequest{Type: model.InvitationTypeLink, Role: model.TeamRoleEditor, MaxUses: 2})

	bob := newClient(t, docs, "bob@example.com")
	require.NoError(t, bob.invitations.SubscribeUserInvitations(context.Background(), "bob@example.com"))
	pending := decode[map[string]any](t, bob.do(http.MethodGet, "/api/v1/invitations", nil))
	assert.Len(t, pending["invitations"], 1)

	require.Equal(t, http.StatusNoContent, bob.do(http.MethodPost, "/api/v1/invitations/"+first.ID+"/decline", nil).Code)
	pending = decode[map[string]any](t, bob.do(http.MethodGet, "/api/v1/invitations", nil))
	assert.Empty(t, pending["invitations"])

	require.Equal(t, http.StatusNoContent, alice.do(http.MethodDelete, "/api/v1/invitations/"+second.ID, nil).Code)
	join := decode[JoinResponse](t, bob.do(http.MethodGet, "/join/"+second.ID, nil))
	assert.Equal(t, string(model.JoinStateNotFound), join.State)
}

func TestJoin_SignedOut(t *testing.T) {
	docs := memory.NewDocumentStore()
	alice := newClient(t, docs, "alice@example.com")
	teamID := alice.createTeam(t, "Ops")
	link := alice.invite(t, teamID, CreateInvitationRequest{Type: model.InvitationTypeLink, Role: model.TeamRoleEditor})

	visitor := newClient(t, docs, "")
	join := decode[JoinResponse](t, visitor.do(http.MethodGet, "/join/"+link.ID, nil))
	assert.Equal(t, string(model.JoinStateValid), join.State)
	assert.True(t, join.NeedsAuth)
	assert.Equal(t, "/login?returnUrl=%2Fjoin%2F"+link.ID, join.LoginURL)

	w := visitor.do(http.MethodPost, "/api/v1/invitations/"+link.ID+"/accept", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = visitor.do(http.MethodPost, "/api/v1/teams", CreateTeamRequest{Name: "Mine"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, visitor.teams.Get().Teams)
}

func TestLocalMode(t *testing.T) {
	local := newClient(t, nil, "alice@example.com")
	teamID := local.createTeam(t, "Solo")

	w := local.do(http.MethodPost, "/api/v1/teams/"+teamID+"/invitations",
		CreateInvitationRequest{Type: model.InvitationTypeLink, Role: model.TeamRoleEditor})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	join := decode[JoinResponse](t, local.do(http.MethodGet, "/join/anything", nil))
	assert.Equal(t, JoinError, join.State)
	assert.Equal(t, "Database connection error", join.Message)
}
