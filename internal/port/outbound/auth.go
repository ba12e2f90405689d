package outbound

import (
	"context"
	"errors"

	"github.com/todoflow/server/internal/model"
)

// Auth provider errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidToken       = errors.New("invalid token")
)

// AuthStateFunc receives the current identity, or nil when signed out.
type AuthStateFunc func(user *model.User)

// AuthProviderPort is the authentication provider behind the session gate.
type AuthProviderPort interface {
	// Start restores any persisted session and begins reporting state.
	Start(ctx context.Context) error

	// OnAuthStateChanged registers fn. fn is called with the current state
	// once Start has completed and again on every change.
	OnAuthStateChanged(fn AuthStateFunc) (unsubscribe func())

	// SignIn authenticates with email and password.
	SignIn(ctx context.Context, email, password string) (*model.User, error)

	// SignUp creates an account and signs it in.
	SignUp(ctx context.Context, email, password, displayName string) (*model.User, error)

	// SignInWithToken signs in with a token minted by a federated issuer.
	SignInWithToken(ctx context.Context, token string) (*model.User, error)

	// SignOut ends the current session.
	SignOut(ctx context.Context) error
}
