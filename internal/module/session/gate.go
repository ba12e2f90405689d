// Package session tracks the signed-in identity and decides when the entity
// stores may switch to remote mode.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/todoflow/server/internal/model"
	"github.com/todoflow/server/internal/module/state"
	"github.com/todoflow/server/internal/port/outbound"
)

// BypassKey is the local cache key that turns on bypass mode.
const BypassKey = "E2E_TEST_MODE"

// ErrProviderNotConfigured is returned by sign-in operations when no
// authentication provider is configured.
var ErrProviderNotConfigured = errors.New("authentication provider is not configured")

// BypassUser is the synthetic identity used in bypass mode.
func BypassUser() model.User {
	return model.User{
		UID:         "test-user-uid-12345",
		Email:       "test@example.com",
		DisplayName: "Test User",
	}
}

// State is the observable session state.
type State struct {
	User        *model.User `json:"user"`
	Loading     bool        `json:"loading"`
	Error       string      `json:"error,omitempty"`
	Initialized bool        `json:"initialized"`
	Bypass      bool        `json:"bypass"`
}

// Recorder observes session events.
type Recorder interface {
	RecordSessionEvent(event string)
}

// Gate wraps an authentication provider. The provider may be nil.
type Gate struct {
	*state.Store[State]

	provider outbound.AuthProviderPort
	logger   *zap.Logger
	rec      Recorder

	mu          sync.Mutex
	bypass      bool
	started     bool
	initOnce    sync.Once
	unsubscribe func()
}

// NewGate creates a gate. bypass starts it in bypass mode.
func NewGate(provider outbound.AuthProviderPort, bypass bool, logger *zap.Logger, rec Recorder) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		Store:    state.New(State{}),
		provider: provider,
		logger:   logger.With(zap.String("component", "session")),
		rec:      rec,
		bypass:   bypass,
	}
}

// BypassRequested reports whether bypass mode is asked for by the config
// flag, an e2e=true query parameter or the cached E2E_TEST_MODE flag.
func BypassRequested(ctx context.Context, flag bool, query url.Values, kv outbound.KeyValueStorePort) bool {
	if flag {
		return true
	}
	if query != nil && query.Get("e2e") == "true" {
		return true
	}
	if kv == nil {
		return false
	}
	raw, err := kv.Get(ctx, BypassKey)
	if err != nil {
		return false
	}
	return string(raw) == "true"
}

// Bypass reports whether the gate is in bypass mode.
func (g *Gate) Bypass() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bypass
}

// Configured reports whether an authentication provider is present.
func (g *Gate) Configured() bool {
	return g.provider != nil
}

// Start begins tracking the session. It is safe to call more than once.
func (g *Gate) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return nil
	}
	g.started = true
	bypass := g.bypass
	g.mu.Unlock()

	if bypass {
		g.applyBypass()
		return nil
	}

	if g.provider == nil {
		g.logger.Info("no authentication provider configured, running local only")
		g.Set(func(s State) State {
			s.Loading = false
			return s
		})
		g.markInitialized()
		return nil
	}

	g.Set(func(s State) State {
		s.Loading = true
		return s
	})

	unsubscribe := g.provider.OnAuthStateChanged(g.onAuthState)
	g.mu.Lock()
	g.unsubscribe = unsubscribe
	g.mu.Unlock()

	if err := g.provider.Start(ctx); err != nil {
		g.logger.Error("start authentication provider failed", zap.Error(err))
		g.Set(func(s State) State {
			s.Loading = false
			s.Error = err.Error()
			return s
		})
		g.markInitialized()
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// EnableBypass switches to bypass mode and stops listening to the provider.
func (g *Gate) EnableBypass() {
	g.mu.Lock()
	if g.bypass {
		g.mu.Unlock()
		return
	}
	g.bypass = true
	g.started = true
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	g.applyBypass()
}

// SignIn authenticates with email and password.
func (g *Gate) SignIn(ctx context.Context, email, password string) error {
	return g.run("sign_in", func() error {
		_, err := g.provider.SignIn(ctx, email, password)
		return err
	})
}

// SignUp creates an account and signs it in.
func (g *Gate) SignUp(ctx context.Context, email, password, displayName string) error {
	return g.run("sign_up", func() error {
		_, err := g.provider.SignUp(ctx, email, password, displayName)
		return err
	})
}

// SignInWithToken signs in with a token from a federated issuer.
func (g *Gate) SignInWithToken(ctx context.Context, token string) error {
	return g.run("sign_in_token", func() error {
		_, err := g.provider.SignInWithToken(ctx, token)
		return err
	})
}

// Logout ends the session.
func (g *Gate) Logout(ctx context.Context) error {
	return g.run("logout", func() error {
		return g.provider.SignOut(ctx)
	})
}

// ClearError resets the recorded error.
func (g *Gate) ClearError() {
	g.Set(func(s State) State {
		s.Error = ""
		return s
	})
}

// Close stops listening to the provider.
func (g *Gate) Close() {
	g.mu.Lock()
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (g *Gate) run(event string, fn func() error) error {
	if g.provider == nil {
		g.Set(func(s State) State {
			s.Error = ErrProviderNotConfigured.Error()
			return s
		})
		g.record(event + "_failed")
		return ErrProviderNotConfigured
	}

	g.Set(func(s State) State {
		s.Loading = true
		s.Error = ""
		return s
	})

	err := fn()

	g.Set(func(s State) State {
		s.Loading = false
		if err != nil {
			s.Error = err.Error()
		}
		return s
	})

	if err != nil {
		g.logger.Warn("session operation failed", zap.String("op", event), zap.Error(err))
		g.record(event + "_failed")
		return err
	}
	g.logger.Info("session operation succeeded", zap.String("op", event))
	g.record(event)
	return nil
}

func (g *Gate) onAuthState(user *model.User) {
	if g.Bypass() {
		return
	}

	var next *model.User
	if user != nil {
		u := *user
		next = &u
	}
	g.Set(func(s State) State {
		s.User = next
		s.Loading = false
		return s
	})
	g.markInitialized()
}

func (g *Gate) applyBypass() {
	u := BypassUser()
	g.Set(func(s State) State {
		s.User = &u
		s.Loading = false
		s.Error = ""
		s.Bypass = true
		return s
	})
	g.logger.Info("bypass mode enabled", zap.String("user_id", u.UID))
	g.record("bypass")
	g.markInitialized()
}

// markInitialized flips Initialized exactly once.
func (g *Gate) markInitialized() {
	g.initOnce.Do(func() {
		g.Set(func(s State) State {
			s.Initialized = true
			return s
		})
		g.record("initialized")
	})
}

func (g *Gate) record(event string) {
	if g.rec != nil {
		g.rec.RecordSessionEvent(event)
	}
}
