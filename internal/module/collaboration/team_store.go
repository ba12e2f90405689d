package collaboration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/model"
	"github.com/todoflow/server/internal/module/mirror"
	"github.com/todoflow/server/internal/module/state"
	"github.com/todoflow/server/internal/port/outbound"
	"github.com/todoflow/server/internal/utils/document"
)

// TeamStorageName is the local cache key of the team store.
const TeamStorageName = "team-storage"

// TeamState is the team store state.
type TeamState struct {
	Teams         []model.Team       `json:"teams"`
	CurrentTeamID *string            `json:"currentTeamId"`
	CurrentTeam   *model.Team        `json:"currentTeam"`
	Members       []model.TeamMember `json:"members"`
	UserID        *string            `json:"userId"`
	IsLoading     bool               `json:"isLoading"`
}

type teamPersisted struct {
	CurrentTeamID *string `json:"currentTeamId"`
}

// TeamOption configures a TeamStore.
type TeamOption func(*TeamStore)

// WithTeamClock overrides the time source.
func WithTeamClock(now func() time.Time) TeamOption {
	return func(s *TeamStore) { s.now = now }
}

// TeamStore owns the teams the user belongs to and the members of the
// selected team.
type TeamStore struct {
	*state.Persisted[TeamState, teamPersisted]

	docs    outbound.DocumentStorePort
	teams   *mirror.Mirror
	members *mirror.Mirror
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

// NewTeamStore creates the team store, rehydrated from kv. docs may be nil.
func NewTeamStore(ctx context.Context, kv outbound.KeyValueStorePort, docs outbound.DocumentStorePort, logger *zap.Logger, rec mirror.StoreRecorder, opts ...TeamOption) *TeamStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TeamStore{
		docs:    docs,
		teams:   mirror.New("team", logger, rec),
		members: mirror.New("team_member", logger, rec),
		logger:  logger.With(zap.String("store", "team")),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	if docs != nil {
		s.newID = docs.NewID
	}
	for _, opt := range opts {
		opt(s)
	}
	initial := TeamState{Teams: []model.Team{}, Members: []model.TeamMember{}}
	s.Persisted = state.Persist(ctx, state.New(initial), kv, TeamStorageName,
		state.Options[TeamState, teamPersisted]{
			Partialize: func(st TeamState) teamPersisted { return teamPersisted{CurrentTeamID: st.CurrentTeamID} },
			Merge: func(p teamPersisted, st TeamState) TeamState {
				st.CurrentTeamID = p.CurrentTeamID
				return st
			},
		}, logger, rec)
	return s
}

// Mode returns the mode of the memberships mirror.
func (s *TeamStore) Mode() mirror.Mode {
	return s.teams.Mode()
}

func teamPath(teamID string) string {
	return document.Join("teams", teamID)
}

func memberPath(teamID, userID string) string {
	return document.Join("teams", teamID, "members", userID)
}

func membershipPath(userID, teamID string) string {
	return document.Join("users", userID, "teamMemberships", teamID)
}

func findTeam(teams []model.Team, id *string) *model.Team {
	if id == nil {
		return nil
	}
	for i := range teams {
		if teams[i].ID == *id {
			t := teams[i]
			return &t
		}
	}
	return nil
}

func (s *TeamStore) setTeams(teams []model.Team) {
	s.Set(func(st TeamState) TeamState {
		st.Teams = teams
		st.CurrentTeam = findTeam(teams, st.CurrentTeamID)
		st.IsLoading = false
		return st
	})
}

// SetUserID clears the team data and binds the store to the memberships of
// uid. A nil uid unbinds.
func (s *TeamStore) SetUserID(ctx context.Context, uid *string) error {
	s.members.Unbind()
	s.Set(func(st TeamState) TeamState {
		st.UserID = uid
		st.Teams = []model.Team{}
		st.Members = []model.TeamMember{}
		st.CurrentTeam = nil
		st.IsLoading = false
		return st
	})

	if uid == nil {
		s.teams.Unbind()
		return nil
	}
	if s.docs == nil {
		s.teams.Unbind()
		return nil
	}

	id := *uid
	s.Set(func(st TeamState) TeamState { st.IsLoading = true; return st })
	err := s.teams.Bind(ctx, id, func(ctx context.Context, live mirror.Guard) (outbound.Subscription, error) {
		fetchCtx := context.WithoutCancel(ctx)
		q := outbound.Query{Collection: document.Join("users", id, "teamMemberships")}
		return s.docs.Listen(ctx, q,
			func(docs []outbound.Document) {
				if !live() {
					return
				}
				teams := s.fetchTeams(fetchCtx, mirror.Snapshot[membershipRef](s.teams, docs))
				if live() {
					s.setTeams(teams)
				}
			},
			func(err error) {
				if live() {
					s.teams.ListenerError(err, s.clearLoading)
				}
			},
		)
	})
	if err != nil {
		s.clearLoading()
		return err
	}
	return nil
}

// SetLocalUserID records uid as the acting user without attaching any
// listener. Teams created afterwards live in memory only.
func (s *TeamStore) SetLocalUserID(uid *string) {
	s.members.Unbind()
	s.teams.Unbind()
	s.Set(func(st TeamState) TeamState { st.UserID = uid; st.IsLoading = false; return st })
}

type membershipRef struct {
	ID string `json:"id"`
}

func (s *TeamStore) fetchTeams(ctx context.Context, refs []membershipRef) []model.Team {
	teams := make([]model.Team, 0, len(refs))
	for _, ref := range refs {
		doc, err := s.docs.Get(ctx, teamPath(ref.ID))
		if err != nil {
			s.logger.Warn("fetch team failed", zap.String("team_id", ref.ID), zap.Error(err))
			continue
		}
		team, err := document.Decode[model.Team](doc)
		if err != nil {
			s.logger.Warn("skipping undecodable team", zap.String("team_id", ref.ID), zap.Error(err))
			continue
		}
		if team.Settings.DefaultRole == "" {
			team.Settings = model.DefaultTeamSettings()
		}
		if team.Description != nil && *team.Description == "" {
			team.Description = nil
		}
		teams = append(teams, team)
	}
	return teams
}

// SetCurrentTeam selects the team with id, clears the member list and, when
// bound to a user, listens to the members of the new selection.
func (s *TeamStore) SetCurrentTeam(ctx context.Context, id *string) error {
	s.members.Unbind()
	s.Set(func(st TeamState) TeamState {
		st.CurrentTeamID = id
		st.CurrentTeam = findTeam(st.Teams, id)
		st.Members = []model.TeamMember{}
		return st
	})

	if id == nil || s.docs == nil {
		return nil
	}
	if _, ok := s.teams.Remote(); !ok {
		return nil
	}

	teamID := *id
	return s.members.Bind(ctx, teamID, func(ctx context.Context, live mirror.Guard) (outbound.Subscription, error) {
		q := outbound.Query{Collection: document.Join("teams", teamID, "members"), OrderBy: "joinedAt"}
		return s.docs.Listen(ctx, q,
			func(docs []outbound.Document) {
				if !live() {
					return
				}
				members := mirror.Snapshot[model.TeamMember](s.members, docs)
				s.Set(func(st TeamState) TeamState { st.Members = members; return st })
			},
			func(err error) {
				if live() {
					s.members.ListenerError(err, nil)
				}
			},
		)
	})
}

// CreateTeam creates a team owned by the current user and returns its id.
// Without a user, or with a name that is empty after trimming, nothing is
// created and "" is returned.
func (s *TeamStore) CreateTeam(ctx context.Context, name string, description *string) (string, error) {
	name, ok := model.NormalizeTeamName(name)
	if !ok {
		return "", nil
	}

	st := s.Get()
	if st.UserID == nil {
		return "", nil
	}
	owner := *st.UserID
	now := model.NewTimestamp(s.now())
	team := model.Team{
		ID:          s.newID(),
		Name:        name,
		Description: trimmedOrNil(description),
		OwnerID:     owner,
		MemberCount: 1,
		CreatedAt:   now,
		Settings:    model.DefaultTeamSettings(),
	}

	err := s.teams.Route("create_team",
		func() {
			s.Set(func(st TeamState) TeamState {
				next := make([]model.Team, 0, len(st.Teams)+1)
				st.Teams = append(append(next, st.Teams...), team)
				st.CurrentTeam = findTeam(st.Teams, st.CurrentTeamID)
				return st
			})
		},
		func(uid string) error {
			teamData, err := document.EncodeFields(team)
			if err != nil {
				return err
			}
			teamData["ownerId"] = uid

			member, err := document.EncodeFields(model.TeamMember{Role: model.TeamRoleOwner, JoinedAt: now})
			if err != nil {
				return err
			}
			membership, err := document.EncodeFields(model.TeamMembership{
				TeamID:   team.ID,
				TeamName: team.Name,
				Role:     model.TeamRoleOwner,
				JoinedAt: now,
			})
			if err != nil {
				return err
			}

			return s.docs.Batch().
				Set(teamPath(team.ID), teamData).
				Set(memberPath(team.ID, uid), member).
				Set(membershipPath(uid, team.ID), membership).
				Commit(ctx)
		},
	)
	if err != nil {
		return "", err
	}

	s.logger.Info("team created",
		zap.String("team_id", team.ID),
		zap.String("name", team.Name),
	)
	return team.ID, nil
}

// UpdateTeam applies patch to the team with id. Settings are merged over the
// team's current settings.
func (s *TeamStore) UpdateTeam(ctx context.Context, id string, patch model.TeamPatch) error {
	current := findTeam(s.Get().Teams, &id)
	if current == nil {
		current = s.Get().CurrentTeam
		if current != nil && current.ID != id {
			current = nil
		}
	}

	fields := map[string]any{}
	if v, ok := patch.Name.Value(); ok {
		if name, ok := model.NormalizeTeamName(v); ok {
			fields["name"] = name
		}
	}
	if !patch.Description.IsUnset() {
		if d := trimmedOrNil(patch.Description.Apply(nil)); d != nil {
			fields["description"] = *d
		} else {
			fields["description"] = nil
		}
	}
	var settings *model.TeamSettings
	if patch.Settings != nil && current != nil {
		merged := mergeSettings(current.Settings, *patch.Settings)
		settings = &merged
		fields["settings"] = map[string]any{
			"defaultRole":      string(merged.DefaultRole),
			"allowInviteLinks": merged.AllowInviteLinks,
		}
	}
	if len(fields) == 0 {
		return nil
	}

	return s.teams.Route("update_team",
		func() {
			s.replaceTeam(id, func(t model.Team) model.Team {
				if name, ok := fields["name"].(string); ok {
					t.Name = name
				}
				if v, ok := fields["description"]; ok {
					if d, ok := v.(string); ok {
						t.Description = &d
					} else {
						t.Description = nil
					}
				}
				if settings != nil {
					t.Settings = *settings
				}
				return t
			})
		},
		func(string) error {
			return s.docs.Update(ctx, teamPath(id), fields)
		},
	)
}

func mergeSettings(current model.TeamSettings, patch model.TeamSettingsPatch) model.TeamSettings {
	if role, ok := patch.DefaultRole.Value(); ok && (role == model.TeamRoleEditor || role == model.TeamRoleViewer) {
		current.DefaultRole = role
	}
	if allow, ok := patch.AllowInviteLinks.Value(); ok {
		current.AllowInviteLinks = allow
	}
	return current
}

func (s *TeamStore) replaceTeam(id string, fn func(model.Team) model.Team) {
	s.Set(func(st TeamState) TeamState {
		next := make([]model.Team, len(st.Teams))
		copy(next, st.Teams)
		for i := range next {
			if next[i].ID == id {
				next[i] = fn(next[i])
			}
		}
		st.Teams = next
		st.CurrentTeam = findTeam(next, st.CurrentTeamID)
		return st
	})
}

func (s *TeamStore) removeTeam(id string) {
	s.Set(func(st TeamState) TeamState {
		next := make([]model.Team, 0, len(st.Teams))
		for _, t := range st.Teams {
			if t.ID != id {
				next = append(next, t)
			}
		}
		st.Teams = next
		st.CurrentTeam = findTeam(next, st.CurrentTeamID)
		return st
	})
}

func (s *TeamStore) clearSelection(id string) {
	st := s.Get()
	if st.CurrentTeamID == nil || *st.CurrentTeamID != id {
		return
	}
	s.members.Unbind()
	s.Set(func(st TeamState) TeamState {
		st.CurrentTeamID = nil
		st.CurrentTeam = nil
		st.Members = []model.TeamMember{}
		return st
	})
}

// DeleteTeam deletes the team and the caller's membership of it.
func (s *TeamStore) DeleteTeam(ctx context.Context, id string) error {
	err := s.teams.Route("delete_team",
		func() { s.removeTeam(id) },
		func(uid string) error {
			return s.docs.Batch().
				Delete(teamPath(id)).
				Delete(membershipPath(uid, id)).
				Commit(ctx)
		},
	)
	if err != nil {
		return err
	}
	s.clearSelection(id)
	s.logger.Info("team deleted", zap.String("team_id", id))
	return nil
}

// LeaveTeam removes the caller from the team.
func (s *TeamStore) LeaveTeam(ctx context.Context, id string) error {
	err := s.teams.Route("leave_team",
		func() { s.removeTeam(id) },
		func(uid string) error {
			return s.docs.Batch().
				Delete(memberPath(id, uid)).
				Delete(membershipPath(uid, id)).
				Update(teamPath(id), map[string]any{"memberCount": outbound.Inc(-1)}).
				Commit(ctx)
		},
	)
	if err != nil {
		return err
	}
	s.clearSelection(id)
	return nil
}

// isOwner reports whether memberID owns teamID. Loaded teams and members
// answer first; otherwise the member document is read from the remote store.
func (s *TeamStore) isOwner(ctx context.Context, teamID, memberID string) (bool, error) {
	st := s.Get()
	if t := findTeam(st.Teams, &teamID); t != nil && t.OwnerID == memberID {
		return true, nil
	}
	if st.CurrentTeamID != nil && *st.CurrentTeamID == teamID {
		for _, m := range st.Members {
			if m.ID == memberID {
				return m.Role == model.TeamRoleOwner, nil
			}
		}
	}
	if s.docs == nil {
		return false, nil
	}
	if _, ok := s.teams.Remote(); !ok {
		return false, nil
	}

	doc, err := s.docs.Get(ctx, memberPath(teamID, memberID))
	if errors.Is(err, outbound.ErrDocumentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load member %s: %w", memberID, err)
	}
	return doc.Data["role"] == string(model.TeamRoleOwner), nil
}

// RoleOf returns the role uid holds in teamID as far as the store knows:
// the members of the current team, or ownership of any loaded team.
func (s *TeamStore) RoleOf(teamID, uid string) (model.TeamRole, bool) {
	st := s.Get()
	if st.CurrentTeamID != nil && *st.CurrentTeamID == teamID {
		for _, m := range st.Members {
			if m.ID == uid {
				return m.Role, true
			}
		}
	}
	if t := findTeam(st.Teams, &teamID); t != nil && t.OwnerID == uid {
		return model.TeamRoleOwner, true
	}
	return "", false
}

// UpdateMemberRole changes the role of a member. Promoting to owner and
// changing the owner are ignored.
func (s *TeamStore) UpdateMemberRole(ctx context.Context, teamID, memberID string, role model.TeamRole) error {
	if role == model.TeamRoleOwner {
		return nil
	}
	if !role.IsValid() {
		return ErrInvalidRole
	}
	if owner, err := s.isOwner(ctx, teamID, memberID); err != nil || owner {
		return err
	}

	return s.teams.Route("update_member_role",
		func() {},
		func(string) error {
			fields := map[string]any{"role": string(role)}
			return s.docs.Batch().
				Update(memberPath(teamID, memberID), fields).
				Update(membershipPath(memberID, teamID), fields).
				Commit(ctx)
		},
	)
}

// RemoveMember removes a member from the team. The owner cannot be removed.
func (s *TeamStore) RemoveMember(ctx context.Context, teamID, memberID string) error {
	if owner, err := s.isOwner(ctx, teamID, memberID); err != nil || owner {
		return err
	}

	return s.teams.Route("remove_member",
		func() {},
		func(string) error {
			return s.docs.Batch().
				Delete(memberPath(teamID, memberID)).
				Delete(membershipPath(memberID, teamID)).
				Update(teamPath(teamID), map[string]any{"memberCount": outbound.Inc(-1)}).
				Commit(ctx)
		},
	)
}

// ClearTeams detaches all listeners and resets the store.
func (s *TeamStore) ClearTeams() {
	s.members.Unbind()
	s.teams.Unbind()
	s.Set(func(st TeamState) TeamState {
		return TeamState{Teams: []model.Team{}, Members: []model.TeamMember{}}
	})
}

func (s *TeamStore) clearLoading() {
	s.Set(func(st TeamState) TeamState { st.IsLoading = false; return st })
}

// Close detaches the listeners and stops persisting.
func (s *TeamStore) Close() {
	s.members.Unbind()
	s.teams.Unbind()
	s.Persisted.Close()
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
