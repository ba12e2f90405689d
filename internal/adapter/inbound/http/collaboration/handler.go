package collabhttp

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/model"
	"github.com/todoflow/server/internal/module/collaboration"
	"github.com/todoflow/server/internal/module/session"
	apperrors "github.com/todoflow/server/internal/utils/errors"
	"github.com/todoflow/server/internal/utils/requestctx"
)

// Handler handles collaboration HTTP requests.
type Handler struct {
	teams       *collaboration.TeamStore
	invitations *collaboration.InvitationStore
	gate        *session.Gate
	logger      *zap.Logger
}

// NewHandler creates a new collaboration handler.
func NewHandler(teams *collaboration.TeamStore, invitations *collaboration.InvitationStore, gate *session.Gate, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		teams:       teams,
		invitations: invitations,
		gate:        gate,
		logger:      logger,
	}
}

// RegisterRoutes registers collaboration routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	teams := r.Group("/teams")
	{
		teams.GET("", h.ListTeams)
		teams.POST("", h.CreateTeam)
		teams.PUT("/current", h.SetCurrentTeam)
		teams.PATCH("/:id", h.UpdateTeam)
		teams.DELETE("/:id", h.DeleteTeam)
		teams.POST("/:id/leave", h.LeaveTeam)

		// Members
		teams.GET("/:id/members", h.ListMembers)
		teams.PATCH("/:id/members/:memberId", h.UpdateMemberRole)
		teams.DELETE("/:id/members/:memberId", h.RemoveMember)

		// Team invitations
		teams.POST("/:id/invitations", h.CreateInvitation)
		teams.GET("/:id/invitations", h.ListTeamInvitations)
	}

	invitations := r.Group("/invitations")
	{
		invitations.GET("", h.ListMyInvitations)
		invitations.GET("/:id", h.GetInvitation)
		invitations.POST("/:id/accept", h.AcceptInvitation)
		invitations.POST("/:id/decline", h.DeclineInvitation)
		invitations.DELETE("/:id", h.RevokeInvitation)
	}
}

// RegisterJoinRoute registers the invitation landing route outside the API group.
func (h *Handler) RegisterJoinRoute(r gin.IRouter) {
	r.GET("/join/:invitationId", h.Join)
}

// CreateTeamRequest creates a team.
type CreateTeamRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// CurrentTeamRequest selects a team. A null teamId clears the selection.
type CurrentTeamRequest struct {
	TeamID *string `json:"teamId"`
}

// UpdateRoleRequest changes a member's role.
type UpdateRoleRequest struct {
	Role model.TeamRole `json:"role" binding:"required"`
}

// CreateInvitationRequest invites by email or creates a shareable link.
type CreateInvitationRequest struct {
	Type    model.InvitationType `json:"type" binding:"required"`
	Email   string               `json:"email,omitempty"`
	Role    model.TeamRole       `json:"role" binding:"required"`
	MaxUses int                  `json:"maxUses,omitempty"`
}

// InvitationResponse is a created invitation.
type InvitationResponse struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

// JoinResponse is the state of the invitation landing page.
type JoinResponse struct {
	State      string            `json:"state"`
	Invitation *model.Invitation `json:"invitation,omitempty"`
	NeedsAuth  bool              `json:"needsAuth,omitempty"`
	LoginURL   string            `json:"loginUrl,omitempty"`
	Message    string            `json:"message,omitempty"`
}

// Landing page states beyond model.JoinState.
const (
	JoinLoading = "loading"
	JoinError   = "error"
)

// ========== Team Handlers ==========

// ListTeams returns the teams of the current user and the selection.
//
//	@Summary		List teams
//	@Tags			Teams
//	@Produce		json
//	@Success		200	{object}	collaboration.TeamState
//	@Router			/teams [get]
func (h *Handler) ListTeams(c *gin.Context) {
	c.JSON(http.StatusOK, h.teams.Get())
}

// CreateTeam creates a team owned by the current user.
//
//	@Summary		Create team
//	@Tags			Teams
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CreateTeamRequest	true	"Team"
//	@Success		201		{object}	map[string]string
//	@Failure		400		{object}	apperrors.ErrorResponse
//	@Router			/teams [post]
func (h *Handler) CreateTeam(c *gin.Context) {
	var req CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abort(c, apperrors.BadRequest(err.Error()))
		return
	}

	if h.teams.Get().UserID == nil {
		h.abort(c, apperrors.Unauthorized("sign in to create a team"))
		return
	}

	id, err := h.teams.CreateTeam(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if id == "" {
		h.abort(c, apperrors.BadRequest("name is required"))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// SetCurrentTeam selects the team whose members are listened to.
//
//	@Summary		Select team
//	@Tags			Teams
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CurrentTeamRequest	true	"Selection"
//	@Success		200		{object}	collaboration.TeamState
//	@Router			/teams/current [put]
func (h *Handler) SetCurrentTeam(c *gin.Context) {
	var req CurrentTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abort(c, apperrors.BadRequest(err.Error()))
		return
	}

	if err := h.teams.SetCurrentTeam(c.Request.Context(), req.TeamID); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.teams.Get())
}

// UpdateTeam applies a partial team update.
//
//	@Summary		Update team
//	@Tags			Teams
//	@Accept			json
//	@Param			id		path	string			true	"Team ID"
//	@Param			request	body	model.TeamPatch	true	"Patch"
//	@Success		204
//	@Failure		404	{object}	apperrors.ErrorResponse
//	@Router			/teams/{id} [patch]
func (h *Handler) UpdateTeam(c *gin.Context) {
	id := c.Param("id")
	if h.team(id) == nil {
		h.abort(c, apperrors.NotFound("team"))
		return
	}

	if !h.authorize(c, id, collaboration.PermUpdateTeam) {
		return
	}

	var patch model.TeamPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.abort(c, apperrors.BadRequest(err.Error()))
		return
	}

	if err := h.teams.UpdateTeam(c.Request.Context(), id, patch); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteTeam deletes a team.
//
//	@Summary		Delete team
//	@Tags			Teams
//	@Param			id	path	string	true	"Team ID"
//	@Success		204
//	@Router			/teams/{id} [delete]
func (h *Handler) DeleteTeam(c *gin.Context) {
	if !h.authorize(c, c.Param("id"), collaboration.PermDeleteTeam) {
		return
	}
	if err := h.teams.DeleteTeam(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LeaveTeam removes the current user from a team.
//
//	@Summary		Leave team
//	@Tags			Teams
//	@Param			id	path	string	true	"Team ID"
//	@Success		204
//	@Router			/teams/{id}/leave [post]
func (h *Handler) LeaveTeam(c *gin.Context) {
	if err := h.teams.LeaveTeam(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ========== Member Handlers ==========

// ListMembers returns the members of the selected team.
//
//	@Summary		List members
//	@Tags			Teams
//	@Produce		json
//	@Param			id	path		string	true	"Team ID"
//	@Success		200	{object}	map[string]any
//	@Failure		409	{object}	apperrors.ErrorResponse
//	@Router			/teams/{id}/members [get]
func (h *Handler) ListMembers(c *gin.Context) {
	st := h.teams.Get()
	if st.CurrentTeamID == nil || *st.CurrentTeamID != c.Param("id") {
		h.abort(c, apperrors.Conflict("select the team before listing its members"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": st.Members})
}

// UpdateMemberRole changes a member's role. The owner's role never changes.
//
//	@Summary		Update member role
//	@Tags			Teams
//	@Accept			json
//	@Param			id			path	string				true	"Team ID"
//	@Param			memberId	path	string				true	"Member ID"
//	@Param			request		body	UpdateRoleRequest	true	"Role"
//	@Success		204
//	@Failure		400	{object}	apperrors.ErrorResponse
//	@Router			/teams/{id}/members/{memberId} [patch]
func (h *Handler) UpdateMemberRole(c *gin.Context) {
	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abort(c, apperrors.BadRequest(err.Error()))
		return
	}

	role, ok := h.callerRole(c.Param("id"))
	if ok && collaboration.IsValidInviteRole(req.Role) && !collaboration.CanAssign(role, req.Role) {
		h.abort(c, apperrors.Forbidden("your role cannot assign "+string(req.Role)))
		return
	}

	err := h.teams.UpdateMemberRole(c.Request.Context(), c.Param("id"), c.Param("memberId"), req.Role)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveMember removes a member. The owner cannot be removed.
//
//	@Summary		Remove member
//	@Tags			Teams
//	@Param			id			path	string	true	"Team ID"
//	@Param			memberId	path	string	true	"Member ID"
//	@Success		204
//	@Router			/teams/{id}/members/{memberId} [delete]
func (h *Handler) RemoveMember(c *gin.Context) {
	if !h.authorize(c, c.Param("id"), collaboration.PermRemoveMember) {
		return
	}
	if err := h.teams.RemoveMember(c.Request.Context(), c.Param("id"), c.Param("memberId")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ========== Invitation Handlers ==========

// CreateInvitation invites someone to a team.
//
//	@Summary		Create invitation
//	@Tags			Invitations
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Team ID"
//	@Param			request	body		CreateInvitationRequest	true	"Invitation"
//	@Success		201		{object}	InvitationResponse
//	@Failure		400		{object}	apperrors.ErrorResponse
//	@Failure		401		{object}	apperrors.ErrorResponse
//	@Router			/teams/{id}/invitations [post]
func (h *Handler) CreateInvitation(c *gin.Context) {
	user := h.gate.Get().User
	if user == nil {
		h.abort(c, apperrors.Unauthorized(""))
		return
	}
	team := h.team(c.Param("id"))
	if team == nil {
		h.abort(c, apperrors.NotFound("team"))
		return
	}
	if !h.authorize(c, team.ID, collaboration.PermInvite) {
		return
	}

	var req CreateInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abort(c, apperrors.BadRequest(err.Error()))
		return
	}

	ctx := c.Request.Context()
	var (
		id  string
		err error
	)
	switch req.Type {
	case model.InvitationTypeEmail:
		id, err = h.invitations.CreateEmailInvitation(ctx, team.ID, team.Name, req.Email, req.Role, user.UID)
	case model.InvitationTypeLink:
		id, err = h.invitations.CreateLinkInvitation(ctx, team.ID, team.Name, req.Role, user.UID, req.MaxUses)
	default:
		h.abort(c, apperrors.BadRequest("type must be email or link"))
		return
	}
	if err != nil {
		h.handleError(c, err)
		return
	}
	if id == "" {
		h.abort(c, apperrors.BadRequest("email is required"))
		return
	}

	c.JSON(http.StatusCreated, InvitationResponse{
		ID:   id,
		Link: collaboration.InvitationLink(h.invitations.Config().BaseURL, id),
	})
}

// ListTeamInvitations returns the invitations of the selected team.
//
//	@Summary		List team invitations
//	@Tags			Invitations
//	@Produce		json
//	@Param			id	path		string	true	"Team ID"
//	@Success		200	{object}	map[string]any
//	@Failure		409	{object}	apperrors.ErrorResponse
//	@Router			/teams/{id}/invitations [get]
func (h *Handler) ListTeamInvitations(c *gin.Context) {
	current := h.teams.Get().CurrentTeamID
	if current == nil || *current != c.Param("id") {
		h.abort(c, apperrors.Conflict("select the team before listing its invitations"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"invitations": h.invitations.Get().TeamInvitations})
}

// ListMyInvitations returns the pending invitations of the current user.
//
//	@Summary		List my invitations
//	@Tags			Invitations
//	@Produce		json
//	@Success		200	{object}	collaboration.InvitationState
//	@Router			/invitations [get]
func (h *Handler) ListMyInvitations(c *gin.Context) {
	st := h.invitations.Get()
	c.JSON(http.StatusOK, gin.H{"invitations": st.PendingInvitations, "isLoading": st.IsLoading})
}

// GetInvitation loads an invitation and its join state.
//
//	@Summary		Get invitation
//	@Tags			Invitations
//	@Produce		json
//	@Param			id	path		string	true	"Invitation ID"
//	@Success		200	{object}	JoinResponse
//	@Failure		404	{object}	apperrors.ErrorResponse
//	@Router			/invitations/{id} [get]
func (h *Handler) GetInvitation(c *gin.Context) {
	inv, state, err := h.invitations.GetInvitation(c.Request.Context(), c.Param("id"), h.gate.Get().User)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if state == model.JoinStateNotFound {
		h.abort(c, apperrors.NewAppError("invitation_not_found", "Invitation not found", http.StatusNotFound, collaboration.ErrInvitationNotFound))
		return
	}
	c.JSON(http.StatusOK, JoinResponse{State: string(state), Invitation: inv})
}

// AcceptInvitation joins the invitation's team as the current user.
//
//	@Summary		Accept invitation
//	@Tags			Invitations
//	@Param			id	path	string	true	"Invitation ID"
//	@Success		204
//	@Failure		401	{object}	apperrors.ErrorResponse
//	@Failure		403	{object}	apperrors.ErrorResponse
//	@Failure		404	{object}	apperrors.ErrorResponse
//	@Failure		409	{object}	apperrors.ErrorResponse
//	@Failure		410	{object}	apperrors.ErrorResponse
//	@Router			/invitations/{id}/accept [post]
func (h *Handler) AcceptInvitation(c *gin.Context) {
	user := h.gate.Get().User
	if user == nil {
		h.abort(c, apperrors.Unauthorized(""))
		return
	}

	if err := h.invitations.AcceptInvitation(c.Request.Context(), c.Param("id"), *user); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeclineInvitation marks an invitation declined.
//
//	@Summary		Decline invitation
//	@Tags			Invitations
//	@Param			id	path	string	true	"Invitation ID"
//	@Success		204
//	@Router			/invitations/{id}/decline [post]
func (h *Handler) DeclineInvitation(c *gin.Context) {
	if err := h.invitations.DeclineInvitation(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RevokeInvitation deletes an invitation.
//
//	@Summary		Revoke invitation
//	@Tags			Invitations
//	@Param			id	path	string	true	"Invitation ID"
//	@Success		204
//	@Router			/invitations/{id} [delete]
func (h *Handler) RevokeInvitation(c *gin.Context) {
	if err := h.invitations.RevokeInvitation(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Join returns the landing page state of an invitation link. Errors are
// reported in the body so the page can always render.
//
//	@Summary		Invitation landing
//	@Tags			Invitations
//	@Produce		json
//	@Param			invitationId	path		string	true	"Invitation ID"
//	@Success		200				{object}	JoinResponse
//	@Router			/join/{invitationId} [get]
func (h *Handler) Join(c *gin.Context) {
	id := c.Param("invitationId")
	st := h.gate.Get()
	if !st.Initialized {
		c.JSON(http.StatusOK, JoinResponse{State: JoinLoading})
		return
	}

	inv, state, err := h.invitations.GetInvitation(c.Request.Context(), id, st.User)
	if err != nil {
		msg := "Failed to load invitation"
		if errors.Is(err, collaboration.ErrRemoteUnavailable) {
			msg = "Database connection error"
		}
		h.logger.Warn("join lookup failed", zap.String("invitation_id", id), zap.Error(err))
		c.JSON(http.StatusOK, JoinResponse{State: JoinError, Message: msg})
		return
	}

	resp := JoinResponse{State: string(state), Invitation: inv}
	if state == model.JoinStateValid && st.User == nil {
		resp.NeedsAuth = true
		resp.LoginURL = "/login?returnUrl=" + url.QueryEscape("/join/"+id)
	}
	c.JSON(http.StatusOK, resp)
}

// ========== Helper Methods ==========

func (h *Handler) team(id string) *model.Team {
	for _, t := range h.teams.Get().Teams {
		if t.ID == id {
			return &t
		}
	}
	return nil
}

func (h *Handler) callerRole(teamID string) (model.TeamRole, bool) {
	user := h.gate.Get().User
	if user == nil {
		return "", false
	}
	return h.teams.RoleOf(teamID, user.UID)
}

// authorize rejects the request when the caller's role in teamID is known
// and lacks perm. Unknown roles pass through to the remote store's rules.
func (h *Handler) authorize(c *gin.Context, teamID string, perm collaboration.Permission) bool {
	role, ok := h.callerRole(teamID)
	if !ok || collaboration.HasPermission(role, perm) {
		return true
	}
	h.abort(c, apperrors.Forbidden("your role does not allow this action"))
	return false
}

func (h *Handler) abort(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.StatusCode, err.ToResponse())
}

// handleError maps collaboration errors to HTTP responses.
func (h *Handler) handleError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	switch {
	case errors.Is(err, collaboration.ErrInvitationNotFound):
		appErr = apperrors.NewAppError("invitation_not_found", "Invitation not found", http.StatusNotFound, err)
	case errors.Is(err, collaboration.ErrInvitationExpired):
		appErr = apperrors.NewAppError("invitation_expired", "Invitation has expired", http.StatusGone, err)
	case errors.Is(err, collaboration.ErrInvitationAlreadyProcessed):
		appErr = apperrors.NewAppError("invitation_processed", "Invitation has already been processed", http.StatusConflict, err)
	case errors.Is(err, collaboration.ErrInvitationMaxUsesReached):
		appErr = apperrors.NewAppError("invitation_max_uses", "Invitation has reached maximum uses", http.StatusConflict, err)
	case errors.Is(err, collaboration.ErrInvitationNotForYou):
		appErr = apperrors.NewAppError("invitation_not_for_you", "Invitation is addressed to another email", http.StatusForbidden, err)
	case errors.Is(err, collaboration.ErrInvalidRole):
		appErr = apperrors.NewAppError("invalid_role", "Invalid role", http.StatusBadRequest, err)
	case errors.Is(err, collaboration.ErrRemoteUnavailable):
		appErr = apperrors.ServiceUnavailable("Remote store is not configured")
	default:
		h.logger.Error("collaboration operation failed",
			append(requestctx.Fields(c.Request.Context()),
				zap.String("path", c.FullPath()),
				zap.Error(err),
			)...,
		)
		appErr = apperrors.NewAppError("remote_write_failed", "remote write failed", http.StatusBadGateway, err)
	}
	h.abort(c, appErr)
}
