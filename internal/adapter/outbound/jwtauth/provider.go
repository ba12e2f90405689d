// Package jwtauth is a local account provider. Accounts are kept in the key
// value cache with bcrypt password hashes and sessions are HS256 tokens.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/todoflow/server/internal/model"
	"github.com/todoflow/server/internal/port/outbound"
)

const (
	// SessionKey holds the signed token of the current session.
	SessionKey = "auth-session"

	accountKeyPrefix = "auth-account:"
)

// ErrSecretRequired is returned when the provider is built without a secret.
var ErrSecretRequired = errors.New("jwt secret is required")

// Config holds provider configuration.
type Config struct {
	Secret      string
	TokenExpiry time.Duration
	Issuer      string
}

// DefaultConfig returns default provider configuration.
func DefaultConfig() *Config {
	return &Config{
		TokenExpiry: 7 * 24 * time.Hour,
		Issuer:      "todoflow",
	}
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return ErrSecretRequired
	}
	if c.TokenExpiry <= 0 {
		c.TokenExpiry = 7 * 24 * time.Hour
	}
	if c.Issuer == "" {
		c.Issuer = "todoflow"
	}
	return nil
}

// Claims represents session token claims. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

type account struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Provider implements outbound.AuthProviderPort.
type Provider struct {
	kv     outbound.KeyValueStorePort
	config *Config
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	started   bool
	current   *model.User
	nextID    uint64
	listeners map[uint64]outbound.AuthStateFunc
	order     []uint64
}

// Compile-time check
var _ outbound.AuthProviderPort = (*Provider)(nil)

// New creates a provider backed by kv.
func New(kv outbound.KeyValueStorePort, config *Config, logger *zap.Logger) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		kv:        kv,
		config:    config,
		logger:    logger.With(zap.String("component", "jwtauth")),
		now:       time.Now,
		listeners: make(map[uint64]outbound.AuthStateFunc),
	}, nil
}

// Start restores the persisted session when its token is still valid and
// reports the resulting identity to every listener.
func (p *Provider) Start(ctx context.Context) error {
	var user *model.User

	raw, err := p.kv.Get(ctx, SessionKey)
	switch {
	case err == nil:
		u, perr := p.ParseToken(string(raw))
		if perr != nil {
			p.logger.Info("discarding persisted session", zap.Error(perr))
			if derr := p.kv.Delete(ctx, SessionKey); derr != nil {
				p.logger.Warn("delete persisted session failed", zap.Error(derr))
			}
		} else {
			user = u
			p.logger.Info("session restored", zap.String("user_id", u.UID))
		}
	case errors.Is(err, outbound.ErrKeyNotFound):
	default:
		return fmt.Errorf("read session: %w", err)
	}

	p.mu.Lock()
	p.started = true
	p.mu.Unlock()

	p.setCurrent(user)
	return nil
}

// OnAuthStateChanged registers fn. When the provider has started fn is
// called with the current identity before this returns.
func (p *Provider) OnAuthStateChanged(fn outbound.AuthStateFunc) func() {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	p.order = append(p.order, id)
	started := p.started
	current := copyUser(p.current)
	p.mu.Unlock()

	if started {
		fn(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.listeners, id)
			for i, v := range p.order {
				if v == id {
					p.order = append(p.order[:i:i], p.order[i+1:]...)
					break
				}
			}
		})
	}
}

// CurrentUser returns the signed-in identity, or nil.
func (p *Provider) CurrentUser() *model.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyUser(p.current)
}

// SignUp creates an account and signs it in.
func (p *Provider) SignUp(ctx context.Context, email, password, displayName string) (*model.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, outbound.ErrInvalidCredentials
	}

	if _, err := p.kv.Get(ctx, accountKey(email)); err == nil {
		return nil, outbound.ErrAccountExists
	} else if !errors.Is(err, outbound.ErrKeyNotFound) {
		return nil, fmt.Errorf("read account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	acc := account{
		UID:          uuid.New().String(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
		CreatedAt:    p.now().UTC(),
	}
	data, err := json.Marshal(acc)
	if err != nil {
		return nil, fmt.Errorf("encode account: %w", err)
	}
	if err := p.kv.Set(ctx, accountKey(email), data); err != nil {
		return nil, fmt.Errorf("save account: %w", err)
	}

	p.logger.Info("account created", zap.String("user_id", acc.UID))
	return p.startSession(ctx, acc.user())
}

// SignIn authenticates with email and password.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*model.User, error) {
	email = normalizeEmail(email)
	raw, err := p.kv.Get(ctx, accountKey(email))
	if err != nil {
		if errors.Is(err, outbound.ErrKeyNotFound) {
			return nil, outbound.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("read account: %w", err)
	}

	var acc account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, outbound.ErrInvalidCredentials
	}

	return p.startSession(ctx, acc.user())
}

// SignInWithToken signs in with a token minted by an issuer sharing the
// provider secret.
func (p *Provider) SignInWithToken(ctx context.Context, token string) (*model.User, error) {
	user, err := p.ParseToken(token)
	if err != nil {
		return nil, err
	}
	if err := p.kv.Set(ctx, SessionKey, []byte(token)); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	p.setCurrent(user)
	p.logger.Info("signed in with token", zap.String("user_id", user.UID))
	return copyUser(user), nil
}

// SignOut ends the current session.
func (p *Provider) SignOut(ctx context.Context) error {
	if err := p.kv.Delete(ctx, SessionKey); err != nil && !errors.Is(err, outbound.ErrKeyNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	p.setCurrent(nil)
	p.logger.Info("signed out")
	return nil
}

// IssueToken signs a session token for user.
func (p *Provider) IssueToken(user model.User) (string, time.Time, error) {
	now := p.now()
	expiresAt := now.Add(p.config.TokenExpiry)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.config.Issuer,
			Subject:   user.UID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Email:       user.Email,
		DisplayName: user.DisplayName,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(p.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken validates a session token and returns its identity.
func (p *Provider) ParseToken(tokenString string) (*model.User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(p.config.Secret), nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", outbound.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, outbound.ErrInvalidToken
	}
	return &model.User{
		UID:         claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
	}, nil
}

func (p *Provider) startSession(ctx context.Context, user *model.User) (*model.User, error) {
	token, _, err := p.IssueToken(*user)
	if err != nil {
		return nil, err
	}
	if err := p.kv.Set(ctx, SessionKey, []byte(token)); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	p.setCurrent(user)
	p.logger.Info("signed in", zap.String("user_id", user.UID))
	return copyUser(user), nil
}

// setCurrent stores user and notifies listeners outside the lock.
func (p *Provider) setCurrent(user *model.User) {
	p.mu.Lock()
	p.current = copyUser(user)
	fns := make([]outbound.AuthStateFunc, 0, len(p.order))
	for _, id := range p.order {
		fns = append(fns, p.listeners[id])
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(copyUser(user))
	}
}

func (a account) user() *model.User {
	return &model.User{UID: a.UID, Email: a.Email, DisplayName: a.DisplayName}
}

func accountKey(email string) string {
	return accountKeyPrefix + email
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copyUser(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
