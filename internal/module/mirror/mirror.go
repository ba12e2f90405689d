// Package mirror switches an entity store between pure local mutation and a
// remote collection kept in sync through a real-time listener.
package mirror

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/todoflow/server/internal/module/state"
	"github.com/todoflow/server/internal/port/outbound"
	"github.com/todoflow/server/internal/utils/document"
)

// Mode is either LocalMode or RemoteMode.
type Mode interface {
	mode() string
}

// LocalMode mutates in-memory state only.
type LocalMode struct{}

// RemoteMode forwards mutations to the remote collection bound to Key.
type RemoteMode struct {
	Key string
	sub outbound.Subscription
}

func (LocalMode) mode() string  { return "local" }
func (RemoteMode) mode() string { return "remote" }

// Label returns "local" or "remote".
func Label(m Mode) string { return m.mode() }

// Guard reports whether the binding that created it is still current.
type Guard func() bool

// AttachFunc establishes the listener for a binding.
type AttachFunc func(ctx context.Context, live Guard) (outbound.Subscription, error)

// Recorder observes mirror activity.
type Recorder interface {
	RecordMutation(store, op, mode string)
	RecordSnapshot(store string)
	RecordListenerError(store string)
	RecordRemoteWriteFailure(store string)
}

// StoreRecorder observes both persistence and mirror activity of an entity store.
type StoreRecorder interface {
	state.Recorder
	Recorder
}

// Mirror owns the mode and subscription lifecycle of one store.
type Mirror struct {
	name   string
	logger *zap.Logger
	rec    Recorder

	mu   sync.Mutex
	mode Mode
	gen  uint64
}

// New creates a mirror in LocalMode.
func New(name string, logger *zap.Logger, rec Recorder) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		name:   name,
		logger: logger.With(zap.String("store", name)),
		rec:    rec,
		mode:   LocalMode{},
	}
}

// Mode returns the current mode.
func (m *Mirror) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Remote returns the bound key when in RemoteMode.
func (m *Mirror) Remote() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.mode.(RemoteMode)
	return r.Key, ok
}

// Bind tears down any current subscription, switches to RemoteMode for key
// and attaches a new listener. On attach failure the mirror falls back to
// LocalMode and the error is returned.
func (m *Mirror) Bind(ctx context.Context, key string, attach AttachFunc) error {
	m.mu.Lock()
	prev := m.mode
	m.gen++
	gen := m.gen
	m.mode = RemoteMode{Key: key}
	m.mu.Unlock()

	teardown(prev)

	live := func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.gen == gen
	}

	sub, err := attach(ctx, live)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		return nil
	}
	if err != nil {
		m.mode = LocalMode{}
		m.mu.Unlock()
		m.logger.Error("attach listener failed", zap.String("key", key), zap.Error(err))
		if m.rec != nil {
			m.rec.RecordListenerError(m.name)
		}
		return fmt.Errorf("bind %s: %w", m.name, err)
	}
	m.mode = RemoteMode{Key: key, sub: sub}
	m.mu.Unlock()

	m.logger.Info("remote mirror bound", zap.String("key", key))
	return nil
}

// Unbind tears down the subscription and switches to LocalMode.
func (m *Mirror) Unbind() {
	m.mu.Lock()
	prev := m.mode
	m.gen++
	m.mode = LocalMode{}
	m.mu.Unlock()

	if _, ok := prev.(RemoteMode); ok {
		teardown(prev)
		m.logger.Info("remote mirror unbound")
	}
}

func teardown(mode Mode) {
	if r, ok := mode.(RemoteMode); ok && r.sub != nil {
		r.sub.Unsubscribe()
	}
}

// Route runs local in LocalMode and remote with the bound key in RemoteMode.
// Remote errors are counted and returned wrapped; they are never retried.
func (m *Mirror) Route(op string, local func(), remote func(key string) error) error {
	mode := m.Mode()
	if m.rec != nil {
		m.rec.RecordMutation(m.name, op, Label(mode))
	}

	r, ok := mode.(RemoteMode)
	if !ok {
		local()
		return nil
	}
	if err := remote(r.Key); err != nil {
		if m.rec != nil {
			m.rec.RecordRemoteWriteFailure(m.name)
		}
		m.logger.Warn("remote write failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s %s: %w", m.name, op, err)
	}
	return nil
}

// ListenerError logs a listener failure and runs clearLoading. The last
// delivered state is left in place.
func (m *Mirror) ListenerError(err error, clearLoading func()) {
	m.logger.Error("listener error, keeping last state", zap.Error(err))
	if m.rec != nil {
		m.rec.RecordListenerError(m.name)
	}
	if clearLoading != nil {
		clearLoading()
	}
}

// Snapshot decodes docs into T, skipping documents that fail to decode.
func Snapshot[T any](m *Mirror, docs []outbound.Document) []T {
	if m.rec != nil {
		m.rec.RecordSnapshot(m.name)
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := document.Decode[T](d)
		if err != nil {
			m.logger.Warn("skipping undecodable document", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	return out
}
