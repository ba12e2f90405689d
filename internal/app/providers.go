package app

import (
	"context"
	"fmt"

	"github.com/google/wire"
	"go.uber.org/zap"

	// Inbound adapters
	collabhttp "github.com/todoflow/server/internal/adapter/inbound/http/collaboration"
	sessionhttp "github.com/todoflow/server/internal/adapter/inbound/http/session"
	streamhttp "github.com/todoflow/server/internal/adapter/inbound/http/stream"
	todohttp "github.com/todoflow/server/internal/adapter/inbound/http/todo"

	// Outbound adapters
	"github.com/todoflow/server/internal/adapter/outbound/files"
	"github.com/todoflow/server/internal/adapter/outbound/jwtauth"
	"github.com/todoflow/server/internal/adapter/outbound/memory"
	mongoadapter "github.com/todoflow/server/internal/adapter/outbound/mongo"
	"github.com/todoflow/server/internal/adapter/outbound/postgres"
	redisadapter "github.com/todoflow/server/internal/adapter/outbound/redis"

	// Modules
	"github.com/todoflow/server/internal/module/collaboration"
	"github.com/todoflow/server/internal/module/preset"
	"github.com/todoflow/server/internal/module/session"
	"github.com/todoflow/server/internal/module/todo"

	// Ports
	"github.com/todoflow/server/internal/port/outbound"

	// Infrastructure
	"github.com/todoflow/server/internal/shared/cache"
	"github.com/todoflow/server/internal/shared/config"
	"github.com/todoflow/server/internal/shared/database"
	"github.com/todoflow/server/internal/shared/logger"

	// Utils
	"github.com/todoflow/server/internal/utils/metrics"
)

// ===== Infrastructure Providers =====

// InfraSet provides infrastructure dependencies.
var InfraSet = wire.NewSet(
	ProvideLogger,
	ProvideZapLogger,
	ProvideMetrics,
	ProvideKeyValueStore,
	ProvideDocumentStore,
)

// ProvideLogger creates the access logger.
func ProvideLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logConfig(cfg))
}

// ProvideZapLogger creates the domain logger.
func ProvideZapLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	zapLog, err := logger.NewZapLogger(logConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	return zapLog, func() { _ = zapLog.Sync() }, nil
}

func logConfig(cfg *config.Config) *logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = cfg.Log.Level
	lc.Format = cfg.Log.Format
	lc.File = cfg.Log.File
	lc.MaxSizeMB = cfg.Log.MaxSizeMB
	lc.MaxBackups = cfg.Log.MaxBackups
	lc.MaxAgeDays = cfg.Log.MaxAgeDays
	return lc
}

// ProvideMetrics creates the metrics collector.
func ProvideMetrics() *metrics.Metrics {
	return metrics.New("todoflow")
}

// ProvideKeyValueStore opens the local cache selected by cache.backend.
func ProvideKeyValueStore(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) (outbound.KeyValueStorePort, func(), error) {
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		client, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis cache: %w", err)
		}
		zapLog.Info("using redis cache", zap.String("address", cfg.Redis.Address))
		return redisadapter.NewKeyValueCache(client), func() { _ = client.Close() }, nil
	case config.CacheMemory:
		zapLog.Info("using in-memory cache")
		return memory.NewKeyValueStore(), func() {}, nil
	default:
		kv, err := files.NewDirKeyValueStore(cfg.Cache.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open file cache: %w", err)
		}
		zapLog.Info("using file cache", zap.String("dir", cfg.Cache.Dir))
		return kv, func() {}, nil
	}
}

// ProvideDocumentStore connects the remote backend selected by
// remote.backend. It returns nil when no backend is configured, which keeps
// every store local.
func ProvideDocumentStore(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) (outbound.DocumentStorePort, func(), error) {
	if !cfg.RemoteConfigured() {
		zapLog.Info("remote store not configured, running local only")
		return nil, func() {}, nil
	}

	switch cfg.Remote.Backend {
	case config.RemotePostgres:
		db, err := database.New(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		docs := postgres.NewDocumentStore(db, zapLog)
		if err := docs.Migrate(ctx); err != nil {
			_ = database.Close(db)
			return nil, nil, fmt.Errorf("migrate documents: %w", err)
		}
		if cfg.Database.Realtime {
			if err := docs.StartListener(cfg.Database.DSN()); err != nil {
				_ = database.Close(db)
				return nil, nil, fmt.Errorf("start document listener: %w", err)
			}
		}
		zapLog.Info("using postgres remote store", zap.String("host", cfg.Database.Host))
		return docs, func() {
			_ = docs.Close()
			_ = database.Close(db)
		}, nil

	case config.RemoteMongo:
		client, db, err := database.NewMongo(ctx, &cfg.Mongo)
		if err != nil {
			return nil, nil, fmt.Errorf("open mongo: %w", err)
		}
		docs := mongoadapter.NewDocumentStore(db.Collection("documents"), zapLog)
		if err := docs.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("ensure indexes: %w", err)
		}
		if cfg.Mongo.Realtime {
			if err := docs.StartWatch(ctx); err != nil {
				_ = client.Disconnect(context.Background())
				return nil, nil, fmt.Errorf("start change stream: %w", err)
			}
		}
		zapLog.Info("using mongo remote store", zap.String("database", cfg.Mongo.Database))
		return docs, func() {
			docs.Close()
			_ = client.Disconnect(context.Background())
		}, nil

	default:
		zapLog.Info("using in-memory remote store")
		return memory.NewDocumentStore(), func() {}, nil
	}
}

// ===== Store Providers =====

// StoreSet provides the entity stores, the session gate and the binder.
var StoreSet = wire.NewSet(
	ProvideTodoStore,
	ProvidePresetStore,
	ProvideTeamStore,
	ProvideInvitationStore,
	ProvideAuthProvider,
	ProvideGate,
	ProvideBinder,
)

// ProvideTodoStore creates the todo store.
func ProvideTodoStore(ctx context.Context, kv outbound.KeyValueStorePort, docs outbound.DocumentStorePort, zapLog *zap.Logger, m *metrics.Metrics) (*todo.Store, func()) {
	s := todo.NewStore(ctx, kv, docs, zapLog, m)
	return s, s.Close
}

// ProvidePresetStore creates the preset store.
func ProvidePresetStore(ctx context.Context, kv outbound.KeyValueStorePort, docs outbound.DocumentStorePort, zapLog *zap.Logger, m *metrics.Metrics) (*preset.Store, func()) {
	s := preset.NewStore(ctx, kv, docs, zapLog, m)
	return s, s.Close
}

// ProvideTeamStore creates the team store.
func ProvideTeamStore(ctx context.Context, kv outbound.KeyValueStorePort, docs outbound.DocumentStorePort, zapLog *zap.Logger, m *metrics.Metrics) (*collaboration.TeamStore, func()) {
	s := collaboration.NewTeamStore(ctx, kv, docs, zapLog, m)
	return s, s.Close
}

// ProvideInvitationStore creates the invitation store.
func ProvideInvitationStore(ctx context.Context, cfg *config.Config, kv outbound.KeyValueStorePort, docs outbound.DocumentStorePort, zapLog *zap.Logger, m *metrics.Metrics) (*collaboration.InvitationStore, func()) {
	collabCfg := &collaboration.Config{
		InvitationExpiry:   cfg.Invitation.Expiry,
		DefaultLinkMaxUses: cfg.Invitation.DefaultLinkMaxUses,
		BaseURL:            cfg.Invitation.BaseURL,
	}
	s := collaboration.NewInvitationStore(ctx, kv, docs, collabCfg, zapLog, m)
	return s, s.Close
}

// ProvideAuthProvider creates the account provider. It returns nil when no
// secret is configured.
func ProvideAuthProvider(cfg *config.Config, kv outbound.KeyValueStorePort, zapLog *zap.Logger) (outbound.AuthProviderPort, error) {
	if !cfg.AuthConfigured() {
		zapLog.Warn("auth secret not configured, sign-in is disabled")
		return nil, nil
	}
	provider, err := jwtauth.New(kv, &jwtauth.Config{
		Secret:      cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
	}, zapLog)
	if err != nil {
		return nil, fmt.Errorf("create auth provider: %w", err)
	}
	return provider, nil
}

// ProvideGate creates the session gate.
func ProvideGate(ctx context.Context, cfg *config.Config, provider outbound.AuthProviderPort, kv outbound.KeyValueStorePort, zapLog *zap.Logger, m *metrics.Metrics) (*session.Gate, func()) {
	bypass := session.BypassRequested(ctx, cfg.Auth.E2ETestMode, nil, kv)
	gate := session.NewGate(provider, bypass, zapLog, m)
	return gate, gate.Close
}

// ProvideBinder creates the binder.
func ProvideBinder(
	gate *session.Gate,
	todos *todo.Store,
	presets *preset.Store,
	teams *collaboration.TeamStore,
	invitations *collaboration.InvitationStore,
	zapLog *zap.Logger,
) (*Binder, func()) {
	b := NewBinder(gate, todos, presets, teams, invitations, zapLog)
	return b, b.Close
}

// ===== HTTP Handler Providers =====

// HTTPSet provides the HTTP handlers.
var HTTPSet = wire.NewSet(
	todohttp.NewHandler,
	sessionhttp.NewHandler,
	collabhttp.NewHandler,
	ProvideStreamHandler,
)

// ProvideStreamHandler exposes every store on the snapshot stream.
func ProvideStreamHandler(
	cfg *config.Config,
	todos *todo.Store,
	presets *preset.Store,
	teams *collaboration.TeamStore,
	invitations *collaboration.InvitationStore,
	gate *session.Gate,
	zapLog *zap.Logger,
) *streamhttp.Handler {
	sources := []streamhttp.Source{
		streamhttp.SourceOf[session.State]("session", gate),
		streamhttp.SourceOf[todo.State]("todos", todos),
		streamhttp.SourceOf[preset.State]("presets", presets),
		streamhttp.SourceOf[collaboration.TeamState]("teams", teams),
		streamhttp.SourceOf[collaboration.InvitationState]("invitations", invitations),
	}
	return streamhttp.NewHandler(sources, cfg.Server.AllowedOrigins, zapLog)
}

// AppSet is the complete provider set.
var AppSet = wire.NewSet(
	InfraSet,
	StoreSet,
	HTTPSet,
)
