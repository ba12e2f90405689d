package sessionhttp

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/module/session"
	"github.com/todoflow/server/internal/port/outbound"
	apperrors "github.com/todoflow/server/internal/utils/errors"
	"github.com/todoflow/server/internal/utils/requestctx"
)

// Handler handles session HTTP requests.
type Handler struct {
	gate   *session.Gate
	logger *zap.Logger
}

// NewHandler creates a new session handler.
func NewHandler(gate *session.Gate, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{gate: gate, logger: logger}
}

// RegisterRoutes registers session routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	s := r.Group("/session")
	{
		s.GET("", h.GetSession)
		s.POST("/signin", h.SignIn)
		s.POST("/signup", h.SignUp)
		s.POST("/token", h.SignInWithToken)
		s.POST("/logout", h.Logout)
		s.DELETE("/error", h.ClearError)
	}
}

// E2EMode switches the gate to bypass mode when a request carries e2e=true,
// and tags every request with the signed-in user for access logs.
func E2EMode(gate *session.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Query("e2e") == "true" && !gate.Bypass() {
			gate.EnableBypass()
		}
		if user := gate.Get().User; user != nil {
			c.Request = c.Request.WithContext(requestctx.WithUserID(c.Request.Context(), user.UID))
		}
		c.Next()
	}
}

// SignInRequest signs in with email and password.
type SignInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SignUpRequest creates an account.
type SignUpRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"displayName"`
}

// TokenRequest signs in with a federated token.
type TokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// GetSession returns the session state.
//
//	@Summary		Session state
//	@Tags			Session
//	@Produce		json
//	@Success		200	{object}	session.State
//	@Router			/session [get]
func (h *Handler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.gate.Get())
}

// SignIn signs in with email and password.
//
//	@Summary		Sign in
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SignInRequest	true	"Credentials"
//	@Success		200		{object}	session.State
//	@Failure		401		{object}	apperrors.ErrorResponse
//	@Router			/session/signin [post]
func (h *Handler) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abort(c, apperrors.BadRequest(err.Error()))
		return
	}
	h.respond(c, h.gate.SignIn(c.Request.Context(), req.Email, req.Password))
}

// SignUp creates an account and signs it in.
//
//	@Summary		Sign up
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SignUpRequest	true	"Account"
//	@Success		200		{object}	session.State
//	@Failure		409		{object}	apperrors.ErrorResponse
//	@Router			/session/signup [post]
func (h *Handler) SignUp(c *gin.Context) {
	var req SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abort(c, apperrors.BadRequest(err.Error()))
		return
	}
	h.respond(c, h.gate.SignUp(c.Request.Context(), req.Email, req.Password, req.DisplayName))
}

// SignInWithToken signs in with a token from a federated issuer.
//
//	@Summary		Sign in with token
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			request	body		TokenRequest	true	"Token"
//	@Success		200		{object}	session.State
//	@Failure		401		{object}	apperrors.ErrorResponse
//	@Router			/session/token [post]
func (h *Handler) SignInWithToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abort(c, apperrors.BadRequest(err.Error()))
		return
	}
	h.respond(c, h.gate.SignInWithToken(c.Request.Context(), req.Token))
}

// Logout ends the session.
//
//	@Summary		Logout
//	@Tags			Session
//	@Produce		json
//	@Success		200	{object}	session.State
//	@Router			/session/logout [post]
func (h *Handler) Logout(c *gin.Context) {
	h.respond(c, h.gate.Logout(c.Request.Context()))
}

// ClearError resets the recorded session error.
//
//	@Summary		Clear session error
//	@Tags			Session
//	@Success		204
//	@Router			/session/error [delete]
func (h *Handler) ClearError(c *gin.Context) {
	h.gate.ClearError()
	c.Status(http.StatusNoContent)
}

func (h *Handler) respond(c *gin.Context, err error) {
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.gate.Get())
}

func (h *Handler) abort(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.StatusCode, err.ToResponse())
}

// handleError maps session errors to HTTP responses.
func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, outbound.ErrInvalidCredentials):
		h.abort(c, apperrors.NewAppError("invalid_credentials", "Invalid credentials", http.StatusUnauthorized, err))
	case errors.Is(err, outbound.ErrInvalidToken):
		h.abort(c, apperrors.NewAppError("invalid_token", "Invalid token", http.StatusUnauthorized, err))
	case errors.Is(err, outbound.ErrAccountExists):
		h.abort(c, apperrors.NewAppError("account_exists", "Account already exists", http.StatusConflict, err))
	case errors.Is(err, session.ErrProviderNotConfigured):
		h.abort(c, apperrors.NewAppError("auth_not_configured", "Authentication is not configured", http.StatusServiceUnavailable, err))
	default:
		h.logger.Error("session operation failed", zap.Error(err))
		h.abort(c, apperrors.Internal("Internal server error", err))
	}
}
