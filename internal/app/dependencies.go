package app

import (
	"go.uber.org/zap"

	collabhttp "github.com/todoflow/server/internal/adapter/inbound/http/collaboration"
	sessionhttp "github.com/todoflow/server/internal/adapter/inbound/http/session"
	streamhttp "github.com/todoflow/server/internal/adapter/inbound/http/stream"
	todohttp "github.com/todoflow/server/internal/adapter/inbound/http/todo"
	"github.com/todoflow/server/internal/module/collaboration"
	"github.com/todoflow/server/internal/module/preset"
	"github.com/todoflow/server/internal/module/session"
	"github.com/todoflow/server/internal/module/todo"
	"github.com/todoflow/server/internal/port/outbound"
	"github.com/todoflow/server/internal/shared/config"
	"github.com/todoflow/server/internal/shared/logger"
	"github.com/todoflow/server/internal/utils/metrics"
)

// Dependencies holds all injected dependencies.
type Dependencies struct {
	Config    *config.Config
	Logger    *logger.Logger
	ZapLogger *zap.Logger
	Metrics   *metrics.Metrics
	Cache     outbound.KeyValueStorePort
	Documents outbound.DocumentStorePort

	// Stores
	Todos       *todo.Store
	Presets     *preset.Store
	Teams       *collaboration.TeamStore
	Invitations *collaboration.InvitationStore
	Gate        *session.Gate
	Binder      *Binder

	// HTTP Handlers
	TodoHandler          *todohttp.Handler
	SessionHandler       *sessionhttp.Handler
	CollaborationHandler *collabhttp.Handler
	StreamHandler        *streamhttp.Handler
}
