package collaboration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/todoflow/server/internal/model"
	"github.com/todoflow/server/internal/module/mirror"
	"github.com/todoflow/server/internal/module/state"
	"github.com/todoflow/server/internal/port/outbound"
	"github.com/todoflow/server/internal/utils/document"
)

// InvitationStorageName is the local cache key of the invitation store.
// Nothing but the envelope is written under it.
const InvitationStorageName = "invitation-storage"

// InvitationState is the invitation store state.
type InvitationState struct {
	PendingInvitations []model.Invitation `json:"pendingInvitations"`
	TeamInvitations    []model.Invitation `json:"teamInvitations"`
	IsLoading          bool               `json:"isLoading"`
}

type invitationPersisted struct{}

// InvitationOption configures an InvitationStore.
type InvitationOption func(*InvitationStore)

// WithInvitationClock overrides the time source.
func WithInvitationClock(now func() time.Time) InvitationOption {
	return func(s *InvitationStore) { s.now = now }
}

// InvitationStore manages invitations to teams.
type InvitationStore struct {
	*state.Persisted[InvitationState, invitationPersisted]

	docs    outbound.DocumentStorePort
	config  *Config
	pending *mirror.Mirror
	team    *mirror.Mirror
	rec     mirror.Recorder
	logger  *zap.Logger
	now     func() time.Time
}

// NewInvitationStore creates the invitation store. Without docs every
// mutation fails with ErrRemoteUnavailable.
func NewInvitationStore(ctx context.Context, kv outbound.KeyValueStorePort, docs outbound.DocumentStorePort, config *Config, logger *zap.Logger, rec mirror.StoreRecorder, opts ...InvitationOption) *InvitationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = DefaultConfig()
	}
	config.Normalize()

	s := &InvitationStore{
		docs:    docs,
		config:  config,
		pending: mirror.New("invitation", logger, rec),
		team:    mirror.New("team_invitation", logger, rec),
		rec:     rec,
		logger:  logger.With(zap.String("store", "invitation")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	initial := InvitationState{PendingInvitations: []model.Invitation{}, TeamInvitations: []model.Invitation{}}
	s.Persisted = state.Persist(ctx, state.New(initial), kv, InvitationStorageName,
		state.Options[InvitationState, invitationPersisted]{
			Partialize: func(InvitationState) invitationPersisted { return invitationPersisted{} },
			Merge:      func(_ invitationPersisted, st InvitationState) InvitationState { return st },
		}, logger, rec)
	return s
}

// Config returns the store configuration.
func (s *InvitationStore) Config() *Config {
	return s.config
}

func invitationPath(id string) string {
	return document.Join("invitations", id)
}

func (s *InvitationStore) remote(op string) error {
	if s.docs == nil {
		return ErrRemoteUnavailable
	}
	if s.rec != nil {
		s.rec.RecordMutation("invitation", op, "remote")
	}
	return nil
}

func (s *InvitationStore) write(op string, err error) error {
	if err == nil {
		return nil
	}
	if s.rec != nil {
		s.rec.RecordRemoteWriteFailure("invitation")
	}
	s.logger.Warn("remote write failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("invitation %s: %w", op, err)
}

func (s *InvitationStore) create(ctx context.Context, inv model.Invitation) (string, error) {
	inv.ID = s.docs.NewID()
	data, err := document.EncodeFields(inv)
	if err != nil {
		return "", err
	}
	if err := s.write("create", s.docs.Set(ctx, invitationPath(inv.ID), data)); err != nil {
		return "", err
	}

	s.logger.Info("invitation created",
		zap.String("invitation_id", inv.ID),
		zap.String("team_id", inv.TeamID),
		zap.String("type", string(inv.Type)),
	)
	return inv.ID, nil
}

func (s *InvitationStore) base(teamID, teamName string, role model.TeamRole, createdBy string) model.Invitation {
	now := s.now()
	return model.Invitation{
		TeamID:    teamID,
		TeamName:  teamName,
		Role:      role,
		CreatedBy: createdBy,
		CreatedAt: model.NewTimestamp(now),
		ExpiresAt: model.NewTimestamp(now.Add(s.config.InvitationExpiry)),
		Status:    model.InvitationStatusPending,
	}
}

// CreateEmailInvitation invites email to the team. An empty email is
// ignored and "" is returned.
func (s *InvitationStore) CreateEmailInvitation(ctx context.Context, teamID, teamName, email string, role model.TeamRole, createdBy string) (string, error) {
	if err := s.remote("create_email"); err != nil {
		return "", err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", nil
	}
	if !IsValidInviteRole(role) {
		return "", ErrInvalidRole
	}

	inv := s.base(teamID, teamName, role, createdBy)
	inv.Type = model.InvitationTypeEmail
	inv.Email = &email
	return s.create(ctx, inv)
}

// CreateLinkInvitation creates a shareable invitation accepted at most
// maxUses times. maxUses <= 0 selects the configured default.
func (s *InvitationStore) CreateLinkInvitation(ctx context.Context, teamID, teamName string, role model.TeamRole, createdBy string, maxUses int) (string, error) {
	if err := s.remote("create_link"); err != nil {
		return "", err
	}
	if !IsValidInviteRole(role) {
		return "", ErrInvalidRole
	}
	if maxUses <= 0 {
		maxUses = s.config.DefaultLinkMaxUses
	}

	uses := 0
	inv := s.base(teamID, teamName, role, createdBy)
	inv.Type = model.InvitationTypeLink
	inv.MaxUses = &maxUses
	inv.Uses = &uses
	return s.create(ctx, inv)
}

func (s *InvitationStore) load(ctx context.Context, id string) (*model.Invitation, error) {
	doc, err := s.docs.Get(ctx, invitationPath(id))
	if err != nil {
		if errors.Is(err, outbound.ErrDocumentNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}
	inv, err := document.Decode[model.Invitation](doc)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// AcceptInvitation adds user to the invitation's team with the invited role.
func (s *InvitationStore) AcceptInvitation(ctx context.Context, id string, user model.User) error {
	if err := s.remote("accept"); err != nil {
		return err
	}

	inv, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	now := s.now()
	switch {
	case IsInvitationExpired(inv.ExpiresAt.Time, now):
		return ErrInvitationExpired
	case inv.Status != model.InvitationStatusPending:
		return ErrInvitationAlreadyProcessed
	case inv.UsesExhausted():
		return ErrInvitationMaxUsesReached
	case inv.Type == model.InvitationTypeEmail && !inv.IsFor(user.Email):
		return ErrInvitationNotForYou
	}

	joinedAt := model.NewTimestamp(now)
	member, err := document.EncodeFields(model.TeamMember{
		Role:        inv.Role,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		JoinedAt:    joinedAt,
	})
	if err != nil {
		return err
	}
	membership, err := document.EncodeFields(model.TeamMembership{
		TeamID:   inv.TeamID,
		TeamName: inv.TeamName,
		Role:     inv.Role,
		JoinedAt: joinedAt,
	})
	if err != nil {
		return err
	}

	batch := s.docs.Batch().
		Set(memberPath(inv.TeamID, user.UID), member).
		Set(membershipPath(user.UID, inv.TeamID), membership).
		Update(teamPath(inv.TeamID), map[string]any{"memberCount": outbound.Inc(1)})
	if inv.Type == model.InvitationTypeEmail {
		batch = batch.Update(invitationPath(id), map[string]any{"status": string(model.InvitationStatusAccepted)})
	} else {
		batch = batch.Update(invitationPath(id), map[string]any{"uses": outbound.Inc(1)})
	}
	if err := s.write("accept", batch.Commit(ctx)); err != nil {
		return err
	}

	s.logger.Info("invitation accepted",
		zap.String("invitation_id", id),
		zap.String("team_id", inv.TeamID),
		zap.String("user_id", user.UID),
	)
	return nil
}

// DeclineInvitation marks the invitation declined.
func (s *InvitationStore) DeclineInvitation(ctx context.Context, id string) error {
	if err := s.remote("decline"); err != nil {
		return err
	}
	err := s.docs.Update(ctx, invitationPath(id), map[string]any{"status": string(model.InvitationStatusDeclined)})
	if errors.Is(err, outbound.ErrDocumentNotFound) {
		return ErrInvitationNotFound
	}
	return s.write("decline", err)
}

// RevokeInvitation deletes the invitation.
func (s *InvitationStore) RevokeInvitation(ctx context.Context, id string) error {
	if err := s.remote("revoke"); err != nil {
		return err
	}
	return s.write("revoke", s.docs.Delete(ctx, invitationPath(id)))
}

// GetInvitation loads an invitation and checks it for the join page. user
// may be nil for a visitor who has not signed in. A missing invitation is
// reported as JoinStateNotFound, not as an error.
func (s *InvitationStore) GetInvitation(ctx context.Context, id string, user *model.User) (*model.Invitation, model.JoinState, error) {
	if s.docs == nil {
		return nil, "", ErrRemoteUnavailable
	}
	inv, err := s.load(ctx, id)
	if errors.Is(err, ErrInvitationNotFound) {
		return nil, model.JoinStateNotFound, nil
	}
	if err != nil {
		return nil, "", err
	}

	email := ""
	if user != nil {
		email = user.Email
	}
	return inv, inv.Check(email, s.now()), nil
}

// SubscribeUserInvitations listens to the pending invitations addressed to
// email. Expired invitations are left out.
func (s *InvitationStore) SubscribeUserInvitations(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if s.docs == nil || email == "" {
		return nil
	}

	s.Set(func(st InvitationState) InvitationState { st.IsLoading = true; return st })
	err := s.pending.Bind(ctx, email, func(ctx context.Context, live mirror.Guard) (outbound.Subscription, error) {
		q := outbound.Query{
			Collection: "invitations",
			Where: []outbound.Filter{
				{Field: "email", Value: email},
				{Field: "status", Value: string(model.InvitationStatusPending)},
			},
		}
		return s.docs.Listen(ctx, q,
			func(docs []outbound.Document) {
				if !live() {
					return
				}
				now := s.now()
				all := mirror.Snapshot[model.Invitation](s.pending, docs)
				invitations := make([]model.Invitation, 0, len(all))
				for _, inv := range all {
					if !IsInvitationExpired(inv.ExpiresAt.Time, now) {
						invitations = append(invitations, inv)
					}
				}
				s.Set(func(st InvitationState) InvitationState {
					st.PendingInvitations = invitations
					st.IsLoading = false
					return st
				})
			},
			func(err error) {
				if live() {
					s.pending.ListenerError(err, s.clearLoading)
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

// SubscribeTeamInvitations listens to every invitation of the team.
func (s *InvitationStore) SubscribeTeamInvitations(ctx context.Context, teamID string) error {
	if s.docs == nil || teamID == "" {
		return nil
	}

	return s.team.Bind(ctx, teamID, func(ctx context.Context, live mirror.Guard) (outbound.Subscription, error) {
		q := outbound.Query{
			Collection: "invitations",
			Where:      []outbound.Filter{{Field: "teamId", Value: teamID}},
		}
		return s.docs.Listen(ctx, q,
			func(docs []outbound.Document) {
				if !live() {
					return
				}
				invitations := mirror.Snapshot[model.Invitation](s.team, docs)
				s.Set(func(st InvitationState) InvitationState { st.TeamInvitations = invitations; return st })
			},
			func(err error) {
				if live() {
					s.team.ListenerError(err, nil)
				}
			},
		)
	})
}

// ClearInvitations detaches both listeners and empties the lists.
func (s *InvitationStore) ClearInvitations() {
	s.pending.Unbind()
	s.team.Unbind()
	s.Set(func(st InvitationState) InvitationState {
		return InvitationState{PendingInvitations: []model.Invitation{}, TeamInvitations: []model.Invitation{}}
	})
}

func (s *InvitationStore) clearLoading() {
	s.Set(func(st InvitationState) InvitationState { st.IsLoading = false; return st })
}

// Close detaches the listeners and stops persisting.
func (s *InvitationStore) Close() {
	s.pending.Unbind()
	s.team.Unbind()
	s.Persisted.Close()
}
