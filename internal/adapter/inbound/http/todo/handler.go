package todohttp

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/model"
	"github.com/todoflow/server/internal/module/preset"
	"github.com/todoflow/server/internal/module/todo"
	apperrors "github.com/todoflow/server/internal/utils/errors"
	"github.com/todoflow/server/internal/utils/requestctx"
)

// Handler handles todo and preset HTTP requests.
type Handler struct {
	todos   *todo.Store
	presets *preset.Store
	logger  *zap.Logger
}

// NewHandler creates a new todo handler.
func NewHandler(todos *todo.Store, presets *preset.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		todos:   todos,
		presets: presets,
		logger:  logger,
	}
}

// RegisterRoutes registers todo and preset routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	todos := r.Group("/todos")
	{
		todos.GET("", h.ListTodos)
		todos.POST("", h.AddTodo)
		todos.POST("/clear-completed", h.ClearCompleted)
		todos.PUT("/preferences", h.SetPreferences)
		todos.GET("/calendar", h.Calendar)
		todos.PATCH("/:id", h.UpdateTodo)
		todos.POST("/:id/toggle", h.ToggleTodo)
		todos.DELETE("/:id", h.DeleteTodo)
	}

	presets := r.Group("/presets")
	{
		presets.GET("", h.ListPresets)
		presets.POST("", h.AddPreset)
		presets.POST("/from-todo/:id", h.AddPresetFromTodo)
		presets.DELETE("/:id", h.DeletePreset)
	}
}

// ListResponse is the todo list view.
type ListResponse struct {
	Todos         []model.Todo    `json:"todos"`
	EmptyMessage  string          `json:"emptyMessage,omitempty"`
	Completed     int             `json:"completed"`
	Total         int             `json:"total"`
	SortType      todo.SortType   `json:"sortType"`
	SortOrder     todo.SortOrder  `json:"sortOrder"`
	FilterMode    todo.FilterMode `json:"filterMode"`
	HideCompleted bool            `json:"hideCompleted"`
	ViewMode      todo.ViewMode   `json:"viewMode"`
	IsLoading     bool            `json:"isLoading"`
}

// PreferencesRequest changes the list preferences. Omitted fields are kept.
type PreferencesRequest struct {
	SortType      *todo.SortType   `json:"sortType,omitempty"`
	SortOrder     *todo.SortOrder  `json:"sortOrder,omitempty"`
	FilterMode    *todo.FilterMode `json:"filterMode,omitempty"`
	HideCompleted *bool            `json:"hideCompleted,omitempty"`
	ViewMode      *todo.ViewMode   `json:"viewMode,omitempty"`
}

// PresetRequest creates a preset.
type PresetRequest struct {
	Title string `json:"title"`
}

// IDResponse returns the id of a created entity.
type IDResponse struct {
	ID string `json:"id"`
}

// ========== Todo Handlers ==========

// ListTodos returns the filtered and sorted todo list.
//
//	@Summary		List todos
//	@Tags			Todos
//	@Produce		json
//	@Success		200	{object}	ListResponse
//	@Router			/todos [get]
func (h *Handler) ListTodos(c *gin.Context) {
	st := h.todos.Get()
	view := todo.View(st)
	completed, total := todo.Stats(st.Todos)

	resp := ListResponse{
		Todos:         view,
		Completed:     completed,
		Total:         total,
		SortType:      st.SortType,
		SortOrder:     st.SortOrder,
		FilterMode:    st.FilterMode,
		HideCompleted: st.HideCompleted,
		ViewMode:      st.ViewMode,
		IsLoading:     st.IsLoading,
	}
	if len(view) == 0 {
		resp.EmptyMessage = todo.EmptyMessage(st.FilterMode)
	}
	c.JSON(http.StatusOK, resp)
}

// AddTodo creates a todo.
//
//	@Summary		Add todo
//	@Tags			Todos
//	@Accept			json
//	@Produce		json
//	@Param			request	body		todo.AddParams	true	"Todo"
//	@Success		201		{object}	IDResponse
//	@Failure		400		{object}	apperrors.ErrorResponse
//	@Router			/todos [post]
func (h *Handler) AddTodo(c *gin.Context) {
	var params todo.AddParams
	if err := c.ShouldBindJSON(&params); err != nil {
		h.abort(c, apperrors.BadRequest(err.Error()))
		return
	}

	id, err := h.todos.Add(c.Request.Context(), params)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if id == "" {
		h.abort(c, apperrors.BadRequest("title is required"))
		return
	}

	c.JSON(http.StatusCreated, IDResponse{ID: id})
}

// UpdateTodo applies a partial update. A null field clears it.
//
//	@Summary		Update todo
//	@Tags			Todos
//	@Accept			json
//	@Param			id		path	string			true	"Todo ID"
//	@Param			request	body	model.TodoPatch	true	"Patch"
//	@Success		204
//	@Failure		404	{object}	apperrors.ErrorResponse
//	@Router			/todos/{id} [patch]
func (h *Handler) UpdateTodo(c *gin.Context) {
	id := c.Param("id")
	if !h.hasTodo(id) {
		h.abort(c, apperrors.NotFound("todo"))
		return
	}

	var patch model.TodoPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.abort(c, apperrors.BadRequest(err.Error()))
		return
	}

	if err := h.todos.Update(c.Request.Context(), id, patch); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ToggleTodo flips the completed flag.
//
//	@Summary		Toggle todo
//	@Tags			Todos
//	@Param			id	path	string	true	"Todo ID"
//	@Success		204
//	@Failure		404	{object}	apperrors.ErrorResponse
//	@Router			/todos/{id}/toggle [post]
func (h *Handler) ToggleTodo(c *gin.Context) {
	id := c.Param("id")
	if !h.hasTodo(id) {
		h.abort(c, apperrors.NotFound("todo"))
		return
	}

	if err := h.todos.Toggle(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteTodo removes a todo. Deleting an absent todo succeeds.
//
//	@Summary		Delete todo
//	@Tags			Todos
//	@Param			id	path	string	true	"Todo ID"
//	@Success		204
//	@Router			/todos/{id} [delete]
func (h *Handler) DeleteTodo(c *gin.Context) {
	if err := h.todos.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearCompleted removes every completed todo.
//
//	@Summary		Clear completed todos
//	@Tags			Todos
//	@Success		204
//	@Router			/todos/clear-completed [post]
func (h *Handler) ClearCompleted(c *gin.Context) {
	if err := h.todos.ClearCompleted(c.Request.Context()); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetPreferences updates sort, filter and view preferences.
//
//	@Summary		Set list preferences
//	@Tags			Todos
//	@Accept			json
//	@Produce		json
//	@Param			request	body		PreferencesRequest	true	"Preferences"
//	@Success		200		{object}	ListResponse
//	@Failure		400		{object}	apperrors.ErrorResponse
//	@Router			/todos/preferences [put]
func (h *Handler) SetPreferences(c *gin.Context) {
	var req PreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abort(c, apperrors.BadRequest(err.Error()))
		return
	}

	switch {
	case req.SortType != nil && !req.SortType.IsValid():
		h.abort(c, apperrors.BadRequest("invalid sortType"))
		return
	case req.SortOrder != nil && !req.SortOrder.IsValid():
		h.abort(c, apperrors.BadRequest("invalid sortOrder"))
		return
	case req.FilterMode != nil && !req.FilterMode.IsValid():
		h.abort(c, apperrors.BadRequest("invalid filterMode"))
		return
	case req.ViewMode != nil && !req.ViewMode.IsValid():
		h.abort(c, apperrors.BadRequest("invalid viewMode"))
		return
	}

	if req.SortType != nil {
		h.todos.SetSortType(*req.SortType)
	}
	if req.SortOrder != nil {
		h.todos.SetSortOrder(*req.SortOrder)
	}
	if req.FilterMode != nil {
		h.todos.SetFilterMode(*req.FilterMode)
	}
	if req.HideCompleted != nil {
		h.todos.SetHideCompleted(*req.HideCompleted)
	}
	if req.ViewMode != nil {
		h.todos.SetViewMode(*req.ViewMode)
	}

	h.ListTodos(c)
}

// Calendar returns the todos shown on a day.
//
//	@Summary		Calendar day
//	@Tags			Todos
//	@Produce		json
//	@Param			date	query		string	true	"Day (YYYY-MM-DD)"
//	@Success		200		{object}	map[string]any
//	@Failure		400		{object}	apperrors.ErrorResponse
//	@Router			/todos/calendar [get]
func (h *Handler) Calendar(c *gin.Context) {
	date := c.Query("date")
	if !model.ValidDate(date) {
		h.abort(c, apperrors.BadRequest("date must be YYYY-MM-DD"))
		return
	}

	st := h.todos.Get()
	c.JSON(http.StatusOK, gin.H{
		"date":  date,
		"todos": todo.TodosOnDate(st.Todos, date, st.HideCompleted),
	})
}

// ========== Preset Handlers ==========

// ListPresets returns the saved presets.
//
//	@Summary		List presets
//	@Tags			Presets
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Router			/presets [get]
func (h *Handler) ListPresets(c *gin.Context) {
	st := h.presets.Get()
	c.JSON(http.StatusOK, gin.H{"presets": st.Presets, "isLoading": st.IsLoading})
}

// AddPreset saves a title as a preset.
//
//	@Summary		Add preset
//	@Tags			Presets
//	@Accept			json
//	@Produce		json
//	@Param			request	body		PresetRequest	true	"Preset"
//	@Success		201		{object}	IDResponse
//	@Failure		400		{object}	apperrors.ErrorResponse
//	@Router			/presets [post]
func (h *Handler) AddPreset(c *gin.Context) {
	var req PresetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abort(c, apperrors.BadRequest(err.Error()))
		return
	}

	id, err := h.presets.AddPreset(c.Request.Context(), req.Title)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if id == "" {
		h.abort(c, apperrors.BadRequest("title is required"))
		return
	}
	c.JSON(http.StatusCreated, IDResponse{ID: id})
}

// AddPresetFromTodo saves the title of an existing todo as a preset.
//
//	@Summary		Preset from todo
//	@Tags			Presets
//	@Produce		json
//	@Param			id	path		string	true	"Todo ID"
//	@Success		201	{object}	IDResponse
//	@Failure		404	{object}	apperrors.ErrorResponse
//	@Router			/presets/from-todo/{id} [post]
func (h *Handler) AddPresetFromTodo(c *gin.Context) {
	id := c.Param("id")
	var found *model.Todo
	for _, t := range h.todos.Get().Todos {
		if t.ID == id {
			found = &t
			break
		}
	}
	if found == nil {
		h.abort(c, apperrors.NotFound("todo"))
		return
	}

	presetID, err := h.presets.AddFromTodo(c.Request.Context(), *found)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, IDResponse{ID: presetID})
}

// DeletePreset removes a preset.
//
//	@Summary		Delete preset
//	@Tags			Presets
//	@Param			id	path	string	true	"Preset ID"
//	@Success		204
//	@Router			/presets/{id} [delete]
func (h *Handler) DeletePreset(c *gin.Context) {
	if err := h.presets.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ========== Helper Methods ==========

func (h *Handler) hasTodo(id string) bool {
	for _, t := range h.todos.Get().Todos {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (h *Handler) abort(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.StatusCode, err.ToResponse())
}

// handleError maps store errors to HTTP responses. Stores only fail on
// remote writes, which surface as 502.
func (h *Handler) handleError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.abort(c, appErr)
		return
	}

	h.logger.Error("remote write failed",
		append(requestctx.Fields(c.Request.Context()),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)...,
	)
	h.abort(c, apperrors.NewAppError("remote_write_failed", "remote write failed", http.StatusBadGateway, err))
}
