package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/todoflow/server/cmd/server/docs" // swagger docs
	sessionhttp "github.com/todoflow/server/internal/adapter/inbound/http/session"
	"github.com/todoflow/server/internal/shared/config"
	"github.com/todoflow/server/internal/utils/middleware"
)

// App represents the application.
type App struct {
	config  *config.Config
	deps    *Dependencies
	cleanup func()
	router  *gin.Engine
	logger  *zap.Logger
}

// New creates a new application instance. The session gate is started and
// the binder follows it before New returns.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	deps, cleanup, err := InitializeDependencies(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize dependencies: %w", err)
	}
	return newApp(ctx, deps, cleanup)
}

func newApp(ctx context.Context, deps *Dependencies, cleanup func()) (*App, error) {
	a := &App{
		config:  deps.Config,
		deps:    deps,
		cleanup: cleanup,
		logger:  deps.ZapLogger,
	}

	deps.Binder.Start(ctx)
	if err := deps.Gate.Start(ctx); err != nil {
		// The gate records the error in its state and stays usable.
		a.logger.Warn("session start failed", zap.Error(err))
	}

	a.router = a.setupRouter()
	a.registerRoutes()

	a.logger.Info("application initialized",
		zap.Bool("remote", deps.Documents != nil),
		zap.Bool("auth", deps.Gate.Configured()),
		zap.Bool("bypass", deps.Gate.Bypass()),
	)
	return a, nil
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	// Set Gin mode based on environment
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	corsCfg := middleware.DefaultCORSConfig()
	if len(a.config.Server.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = a.config.Server.AllowedOrigins
	}

	// Apply global middleware
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.deps.Logger))
	r.Use(middleware.Metrics(a.deps.Metrics))
	r.Use(middleware.CORS(corsCfg))
	r.Use(sessionhttp.E2EMode(a.deps.Gate))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		gate := a.deps.Gate.Get()
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"remote":      a.deps.Documents != nil,
			"initialized": gate.Initialized,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger documentation endpoint
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	return r
}

// registerRoutes registers the API routes.
func (a *App) registerRoutes() {
	v1 := a.router.Group("/api/v1")

	a.deps.TodoHandler.RegisterRoutes(v1)
	a.deps.SessionHandler.RegisterRoutes(v1)
	a.deps.CollaborationHandler.RegisterRoutes(v1)
	a.deps.StreamHandler.RegisterRoutes(v1)

	a.deps.CollaborationHandler.RegisterJoinRoute(a.router)
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Server returns an HTTP server for the router using the configured timeouts.
func (a *App) Server() *http.Server {
	return &http.Server{
		Addr:         a.config.Server.Address,
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
		IdleTimeout:  a.config.Server.IdleTimeout,
	}
}

// Stop stops the application and releases resources.
func (a *App) Stop() {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}
