package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/todoflow/server/internal/module/collaboration"
	"github.com/todoflow/server/internal/module/preset"
	"github.com/todoflow/server/internal/module/session"
	"github.com/todoflow/server/internal/module/todo"
)

// binding is the identity the stores are currently bound to.
type binding struct {
	uid    string
	email  string
	bypass bool
}

func (b binding) remote() bool { return b.uid != "" && !b.bypass }

// Binder follows the session gate and binds the entity stores to the signed
// in user. Stores stay local until the gate is initialized.
type Binder struct {
	gate        *session.Gate
	todos       *todo.Store
	presets     *preset.Store
	teams       *collaboration.TeamStore
	invitations *collaboration.InvitationStore
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	bound       binding
	currentTeam string
	unsubscribe []func()
}

// NewBinder creates a binder. Call Start to begin following the gate.
func NewBinder(
	gate *session.Gate,
	todos *todo.Store,
	presets *preset.Store,
	teams *collaboration.TeamStore,
	invitations *collaboration.InvitationStore,
	logger *zap.Logger,
) *Binder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binder{
		gate:        gate,
		todos:       todos,
		presets:     presets,
		teams:       teams,
		invitations: invitations,
		logger:      logger.With(zap.String("component", "binder")),
	}
}

// Start subscribes to the gate and the team store and applies the current
// session. Listeners attached by the binder live until Close.
func (b *Binder) Start(ctx context.Context) {
	b.mu.Lock()
	if b.ctx != nil {
		b.mu.Unlock()
		return
	}
	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.unsubscribe = []func(){
		b.gate.Subscribe(b.apply),
		b.teams.Subscribe(b.followTeam),
	}
	b.mu.Unlock()

	b.apply(b.gate.Get())
}

// Close stops following the gate. Bound stores keep their listeners until
// they are closed themselves.
func (b *Binder) Close() {
	b.mu.Lock()
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	cancel := b.cancel
	b.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	if cancel != nil {
		cancel()
	}
}

func (b *Binder) apply(st session.State) {
	if !st.Initialized {
		return
	}

	var target binding
	switch {
	case st.Bypass:
		target = binding{uid: session.BypassUser().UID, bypass: true}
	case st.User != nil:
		target = binding{uid: st.User.UID, email: st.User.Email}
	}

	b.mu.Lock()
	prev := b.bound
	if prev == target {
		b.mu.Unlock()
		return
	}
	b.bound = target
	b.currentTeam = ""
	ctx := b.ctx
	b.mu.Unlock()

	if prev.remote() {
		b.unbind(ctx)
	}

	switch {
	case target.bypass:
		uid := target.uid
		b.teams.SetLocalUserID(&uid)
		b.logger.Info("session bypassed", zap.String("user_id", uid))
	case target.remote():
		b.bind(ctx, target)
	default:
		if prev.bypass {
			b.teams.SetLocalUserID(nil)
		}
		b.logger.Info("session unbound")
	}
}

func (b *Binder) bind(ctx context.Context, target binding) {
	uid := target.uid
	if err := b.todos.SetUserID(ctx, &uid); err != nil {
		b.logger.Error("bind todos failed", zap.String("user_id", uid), zap.Error(err))
	}
	if err := b.presets.SetUserID(ctx, &uid); err != nil {
		b.logger.Error("bind presets failed", zap.String("user_id", uid), zap.Error(err))
	}
	if err := b.teams.SetUserID(ctx, &uid); err != nil {
		b.logger.Error("bind teams failed", zap.String("user_id", uid), zap.Error(err))
	}
	if err := b.invitations.SubscribeUserInvitations(ctx, target.email); err != nil {
		b.logger.Error("bind invitations failed", zap.String("user_id", uid), zap.Error(err))
	}
	b.logger.Info("session bound", zap.String("user_id", uid))
}

func (b *Binder) unbind(ctx context.Context) {
	if err := b.todos.SetUserID(ctx, nil); err != nil {
		b.logger.Warn("unbind todos failed", zap.Error(err))
	}
	if err := b.presets.SetUserID(ctx, nil); err != nil {
		b.logger.Warn("unbind presets failed", zap.Error(err))
	}
	if err := b.teams.SetUserID(ctx, nil); err != nil {
		b.logger.Warn("unbind teams failed", zap.Error(err))
	}
	b.invitations.ClearInvitations()
}

// followTeam keeps the team invitation listener on the selected team.
func (b *Binder) followTeam(st collaboration.TeamState) {
	next := ""
	if st.CurrentTeamID != nil {
		next = *st.CurrentTeamID
	}

	b.mu.Lock()
	if !b.bound.remote() || next == "" || next == b.currentTeam {
		b.mu.Unlock()
		return
	}
	b.currentTeam = next
	ctx := b.ctx
	b.mu.Unlock()

	if err := b.invitations.SubscribeTeamInvitations(ctx, next); err != nil {
		b.logger.Error("follow team invitations failed", zap.String("team_id", next), zap.Error(err))
	}
}
