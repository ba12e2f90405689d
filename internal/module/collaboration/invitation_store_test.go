package collaboration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/adapter/outbound/memory"
	"github.com/todoflow/server/internal/model"
	"github.com/todoflow/server/internal/utils/document"
)

func newInvitationStore(t *testing.T, docs *memory.DocumentStore, clock *testClock) *InvitationStore {
	t.Helper()
	s := NewInvitationStore(context.Background(), memory.NewKeyValueStore(), docs, DefaultConfig(), zap.NewNop(), nil,
		WithInvitationClock(clock.Now))
	t.Cleanup(s.Close)
	return s
}

func TestInvitationStore_CreateTeamAndAcceptViewer(t *testing.T) {
	ctx := context.Background()
	docs := memory.NewDocumentStore()
	clock := newClock()

	teams := newRemoteTeamStore(t, docs, clock)
	require.NoError(t, teams.SetUserID(ctx, strPtr("alice")))
	teamID, err := teams.CreateTeam(ctx, "Family", nil)
	require.NoError(t, err)
	before := teams.Get().Teams[0].MemberCount

	invitations := newInvitationStore(t, docs, clock)
	invID, err := invitations.CreateEmailInvitation(ctx, teamID, "Family", " Dana@Example.com ", model.TeamRoleViewer, "alice")
	require.NoError(t, err)

	dana := model.User{UID: "dana", Email: "dana@example.com", DisplayName: "Dana"}
	require.NoError(t, invitations.AcceptInvitation(ctx, invID, dana))

	team, err := docs.Get(ctx, "teams/"+teamID)
	require.NoError(t, err)
	assert.Equal(t, float64(before+1), team.Data["memberCount"])

	membership, err := docs.Get(ctx, "users/dana/teamMemberships/"+teamID)
	require.NoError(t, err)
	assert.Equal(t, "viewer", membership.Data["role"])
	assert.Equal(t, teamID, membership.Data["teamId"])

	member, err := docs.Get(ctx, "teams/"+teamID+"/members/dana")
	require.NoError(t, err)
	assert.Equal(t, "viewer", member.Data["role"])
	assert.Equal(t, "Dana", member.Data["displayName"])

	inv, err := docs.Get(ctx, "invitations/"+invID)
	require.NoError(t, err)
	assert.Equal(t, "accepted", inv.Data["status"])

	danaTeams := newRemoteTeamStore(t, docs, clock)
	require.NoError(t, danaTeams.SetUserID(ctx, strPtr("dana")))
	require.Len(t, danaTeams.Get().Teams, 1)
	assert.Equal(t, before+1, danaTeams.Get().Teams[0].MemberCount)
}

func TestInvitationStore_Create(t *testing.T) {
	ctx := context.Background()
	docs := memory.NewDocumentStore()
	clock := newClock()
	s := newInvitationStore(t, docs, clock)

	t.Run("email", func(t *testing.T) {
		id, err := s.CreateEmailInvitation(ctx, "team-1", "Team", "  Eve@Example.COM", model.TeamRoleEditor, "alice")
		require.NoError(t, err)

		doc, err := docs.Get(ctx, "invitations/"+id)
		require.NoError(t, err)
		inv, err := document.Decode[model.Invitation](doc)
		require.NoError(t, err)
		assert.Equal(t, "eve@example.com", *inv.Email)
		assert.Equal(t, model.InvitationTypeEmail, inv.Type)
		assert.Equal(t, model.InvitationStatusPending, inv.Status)
		assert.Equal(t, 7*24*time.Hour, inv.ExpiresAt.Sub(inv.CreatedAt.Time))
		assert.Nil(t, inv.MaxUses)
	})

	t.Run("empty email", func(t *testing.T) {
		id, err := s.CreateEmailInvitation(ctx, "team-1", "Team", "   ", model.TeamRoleEditor, "alice")
		require.NoError(t, err)
		assert.Empty(t, id)
	})

	t.Run("owner role rejected", func(t *testing.T) {
		_, err := s.CreateEmailInvitation(ctx, "team-1", "Team", "x@example.com", model.TeamRoleOwner, "alice")
		assert.ErrorIs(t, err, ErrInvalidRole)
		_, err = s.CreateLinkInvitation(ctx, "team-1", "Team", model.TeamRoleOwner, "alice", 3)
		assert.ErrorIs(t, err, ErrInvalidRole)
	})

	t.Run("link defaults", func(t *testing.T) {
		id, err := s.CreateLinkInvitation(ctx, "team-1", "Team", model.TeamRoleViewer, "alice", 0)
		require.NoError(t, err)

		doc, err := docs.Get(ctx, "invitations/"+id)
		require.NoError(t, err)
		assert.Equal(t, float64(10), doc.Data["maxUses"])
		assert.Equal(t, float64(0), doc.Data["uses"])
		_, hasEmail := doc.Data["email"]
		assert.False(t, hasEmail)
	})
}

func TestInvitationStore_AcceptErrors(t *testing.T) {
	ctx := context.Background()
	bob := model.User{UID: "bob", Email: "bob@example.com"}

	seed := func(t *testing.T, docs *memory.DocumentStore, id string, inv map[string]any) {
		t.Helper()
		require.NoError(t, docs.Set(ctx, "teams/team-1", map[string]any{"name": "Team", "memberCount": 1}))
		require.NoError(t, docs.Set(ctx, "invitations/"+id, inv))
	}

	base := func(overrides map[string]any) map[string]any {
		inv := map[string]any{
			"teamId":    "team-1",
			"teamName":  "Team",
			"type":      "email",
			"email":     "bob@example.com",
			"role":      "editor",
			"createdBy": "alice",
			"createdAt": "2026-06-01T00:00:00.000Z",
			"expiresAt": "2026-06-08T00:00:00.000Z",
			"status":    "pending",
		}
		for k, v := range overrides {
			inv[k] = v
		}
		return inv
	}

	tests := []struct {
		name string
		inv  map[string]any
		want error
	}{
		{name: "not found", want: ErrInvitationNotFound},
		{name: "expired wins over status", inv: base(map[string]any{"expiresAt": "2026-05-01T00:00:00.000Z", "status": "accepted"}), want: ErrInvitationExpired},
		{name: "already processed", inv: base(map[string]any{"status": "declined", "email": "someone@example.com"}), want: ErrInvitationAlreadyProcessed},
		{name: "max uses", inv: base(map[string]any{"type": "link", "email": nil, "maxUses": 2, "uses": 2}), want: ErrInvitationMaxUsesReached},
		{name: "not for you", inv: base(map[string]any{"email": "someone@example.com"}), want: ErrInvitationNotForYou},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := memory.NewDocumentStore()
			if tt.inv != nil {
				seed(t, docs, "inv-1", tt.inv)
			}
			s := newInvitationStore(t, docs, newClock())

			err := s.AcceptInvitation(ctx, "inv-1", bob)
			assert.ErrorIs(t, err, tt.want)

			_, err = docs.Get(ctx, "teams/team-1/members/bob")
			assert.Error(t, err)
		})
	}

	t.Run("link counts uses", func(t *testing.T) {
		docs := memory.NewDocumentStore()
		seed(t, docs, "inv-1", base(map[string]any{"type": "link", "email": nil, "maxUses": 2, "uses": 1}))
		s := newInvitationStore(t, docs, newClock())

		require.NoError(t, s.AcceptInvitation(ctx, "inv-1", bob))

		inv, err := docs.Get(ctx, "invitations/inv-1")
		require.NoError(t, err)
		assert.Equal(t, float64(2), inv.Data["uses"])
		assert.Equal(t, "pending", inv.Data["status"])

		err = s.AcceptInvitation(ctx, "inv-1", model.User{UID: "carl", Email: "carl@example.com"})
		assert.ErrorIs(t, err, ErrInvitationMaxUsesReached)
	})
}

func TestInvitationStore_DeclineRevokeAndGet(t *testing.T) {
	ctx := context.Background()
	docs := memory.NewDocumentStore()
	clock := newClock()
	s := newInvitationStore(t, docs, clock)

	id, err := s.CreateEmailInvitation(ctx, "team-1", "Team", "bob@example.com", model.TeamRoleEditor, "alice")
	require.NoError(t, err)

	inv, state, err := s.GetInvitation(ctx, id, &model.User{UID: "bob", Email: "BOB@example.com"})
	require.NoError(t, err)
	assert.Equal(t, model.JoinStateValid, state)
	assert.Equal(t, id, inv.ID)

	_, state, err = s.GetInvitation(ctx, id, &model.User{UID: "eve", Email: "eve@example.com"})
	require.NoError(t, err)
	assert.Equal(t, model.JoinStateEmailMismatch, state)

	require.NoError(t, s.DeclineInvitation(ctx, id))
	_, state, err = s.GetInvitation(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, model.JoinStateAlreadyUsed, state)

	clock.now = clock.now.Add(8 * 24 * time.Hour)
	_, state, err = s.GetInvitation(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, model.JoinStateExpired, state)

	require.NoError(t, s.RevokeInvitation(ctx, id))
	require.NoError(t, s.RevokeInvitation(ctx, id))
	_, state, err = s.GetInvitation(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, model.JoinStateNotFound, state)

	assert.ErrorIs(t, s.DeclineInvitation(ctx, "missing"), ErrInvitationNotFound)
}

func TestInvitationStore_Subscriptions(t *testing.T) {
	ctx := context.Background()
	docs := memory.NewDocumentStore()
	clock := newClock()
	s := newInvitationStore(t, docs, clock)

	require.NoError(t, docs.Set(ctx, "invitations/old", map[string]any{
		"teamId": "team-1", "type": "email", "email": "bob@example.com", "role": "viewer",
		"status": "pending", "createdAt": "2026-01-01T00:00:00.000Z", "expiresAt": "2026-01-08T00:00:00.000Z",
	}))

	require.NoError(t, s.SubscribeUserInvitations(ctx, " Bob@Example.com"))
	assert.Empty(t, s.Get().PendingInvitations)
	assert.False(t, s.Get().IsLoading)

	id, err := s.CreateEmailInvitation(ctx, "team-1", "Team", "bob@example.com", model.TeamRoleViewer, "alice")
	require.NoError(t, err)
	_, err = s.CreateEmailInvitation(ctx, "team-2", "Other", "eve@example.com", model.TeamRoleViewer, "alice")
	require.NoError(t, err)

	pending := s.Get().PendingInvitations
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	require.NoError(t, s.SubscribeTeamInvitations(ctx, "team-1"))
	assert.Len(t, s.Get().TeamInvitations, 2)

	require.NoError(t, s.DeclineInvitation(ctx, id))
	assert.Empty(t, s.Get().PendingInvitations)
	assert.Len(t, s.Get().TeamInvitations, 2)

	s.ClearInvitations()
	assert.Empty(t, s.Get().TeamInvitations)
	assert.Equal(t, 0, docs.ListenerCount())
}

func TestInvitationStore_RemoteUnavailable(t *testing.T) {
	ctx := context.Background()
	s := NewInvitationStore(ctx, memory.NewKeyValueStore(), nil, nil, zap.NewNop(), nil)
	defer s.Close()

	_, err := s.CreateEmailInvitation(ctx, "t", "T", "a@b.c", model.TeamRoleViewer, "alice")
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	_, err = s.CreateLinkInvitation(ctx, "t", "T", model.TeamRoleViewer, "alice", 1)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.ErrorIs(t, s.AcceptInvitation(ctx, "x", model.User{}), ErrRemoteUnavailable)
	assert.ErrorIs(t, s.DeclineInvitation(ctx, "x"), ErrRemoteUnavailable)
	assert.ErrorIs(t, s.RevokeInvitation(ctx, "x"), ErrRemoteUnavailable)
	_, _, err = s.GetInvitation(ctx, "x", nil)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)

	assert.NoError(t, s.SubscribeUserInvitations(ctx, "a@b.c"))
}
