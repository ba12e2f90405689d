package model

import (
	"strings"
	"time"
)

// MaxTeamNameLength is the maximum number of characters in a team name.
const MaxTeamNameLength = 100

// TeamRole represents a team member's role.
type TeamRole string

const (
	TeamRoleOwner  TeamRole = "owner"
	TeamRoleAdmin  TeamRole = "admin"
	TeamRoleEditor TeamRole = "editor"
	TeamRoleViewer TeamRole = "viewer"
)

// IsValid checks if the role is valid.
func (r TeamRole) IsValid() bool {
	switch r {
	case TeamRoleOwner, TeamRoleAdmin, TeamRoleEditor, TeamRoleViewer:
		return true
	default:
		return false
	}
}

// TeamSettings holds per-team options.
type TeamSettings struct {
	DefaultRole      TeamRole `json:"defaultRole"`
	AllowInviteLinks bool     `json:"allowInviteLinks"`
}

// DefaultTeamSettings returns the settings applied to new teams.
func DefaultTeamSettings() TeamSettings {
	return TeamSettings{
		DefaultRole:      TeamRoleEditor,
		AllowInviteLinks: true,
	}
}

// Team represents a collaboration team.
type Team struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description *string      `json:"description"`
	OwnerID     string       `json:"ownerId"`
	MemberCount int          `json:"memberCount"`
	CreatedAt   Timestamp    `json:"createdAt"`
	Settings    TeamSettings `json:"settings"`
}

// TeamSettingsPatch carries a partial settings update.
type TeamSettingsPatch struct {
	DefaultRole      Field[TeamRole] `json:"defaultRole"`
	AllowInviteLinks Field[bool]     `json:"allowInviteLinks"`
}

// TeamPatch carries the fields of a partial team update.
type TeamPatch struct {
	Name        Field[string]      `json:"name"`
	Description Field[string]      `json:"description"`
	Settings    *TeamSettingsPatch `json:"settings,omitempty"`
}

// NormalizeTeamName trims s and truncates it to MaxTeamNameLength characters.
func NormalizeTeamName(s string) (string, bool) {
	return normalizeText(s, MaxTeamNameLength)
}

// TeamMember is a member record stored under a team, keyed by user id.
type TeamMember struct {
	ID          string    `json:"id"`
	Role        TeamRole  `json:"role"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	JoinedAt    Timestamp `json:"joinedAt"`
}

// TeamMembership is the user-side record of belonging to a team.
type TeamMembership struct {
	TeamID   string    `json:"teamId"`
	TeamName string    `json:"teamName"`
	Role     TeamRole  `json:"role"`
	JoinedAt Timestamp `json:"joinedAt"`
}

// InvitationType distinguishes direct email invitations from shareable links.
type InvitationType string

const (
	InvitationTypeEmail InvitationType = "email"
	InvitationTypeLink  InvitationType = "link"
)

// InvitationStatus represents the status of an invitation.
type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusDeclined InvitationStatus = "declined"
	InvitationStatusExpired  InvitationStatus = "expired"
)

// Invitation represents an invitation to join a team.
type Invitation struct {
	ID        string           `json:"id"`
	TeamID    string           `json:"teamId"`
	TeamName  string           `json:"teamName"`
	Type      InvitationType   `json:"type"`
	Email     *string          `json:"email,omitempty"`
	Role      TeamRole         `json:"role"`
	CreatedBy string           `json:"createdBy"`
	CreatedAt Timestamp        `json:"createdAt"`
	ExpiresAt Timestamp        `json:"expiresAt"`
	Status    InvitationStatus `json:"status"`
	MaxUses   *int             `json:"maxUses,omitempty"`
	Uses      *int             `json:"uses,omitempty"`
}

// IsExpired checks if the invitation is past its expiry, regardless of status.
func (i *Invitation) IsExpired(now time.Time) bool {
	return i.ExpiresAt.Before(now)
}

// UsesExhausted reports whether a link invitation reached its maximum uses.
func (i *Invitation) UsesExhausted() bool {
	if i.Type != InvitationTypeLink || i.MaxUses == nil || *i.MaxUses == 0 {
		return false
	}
	uses := 0
	if i.Uses != nil {
		uses = *i.Uses
	}
	return uses >= *i.MaxUses
}

// JoinState is the outcome of checking an invitation on the join landing page.
type JoinState string

const (
	JoinStateNotFound      JoinState = "not_found"
	JoinStateExpired       JoinState = "expired"
	JoinStateAlreadyUsed   JoinState = "already_used"
	JoinStateEmailMismatch JoinState = "email_mismatch"
	JoinStateValid         JoinState = "valid"
)

// Check returns the join state of the invitation for a user with email at
// now. An empty email skips the recipient check.
func (i *Invitation) Check(email string, now time.Time) JoinState {
	switch {
	case i.IsExpired(now):
		return JoinStateExpired
	case i.Status != InvitationStatusPending, i.UsesExhausted():
		return JoinStateAlreadyUsed
	case email != "" && i.Type == InvitationTypeEmail && !i.IsFor(email):
		return JoinStateEmailMismatch
	default:
		return JoinStateValid
	}
}

// IsFor reports whether an email invitation targets email, ignoring case.
func (i *Invitation) IsFor(email string) bool {
	return i.Email != nil && strings.EqualFold(*i.Email, strings.TrimSpace(email))
}
