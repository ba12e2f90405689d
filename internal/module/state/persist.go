package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/todoflow/server/internal/port/outbound"
)

// Envelope is the JSON document written to the cache for each store.
type Envelope[P any] struct {
	State   P   `json:"state"`
	Version int `json:"version"`
}

// Options controls what a persisted store writes and how it reads it back.
type Options[S, P any] struct {
	// Partialize selects the persisted subset of the state.
	Partialize func(S) P
	// Merge applies a rehydrated subset onto the default state.
	Merge func(persisted P, current S) S
	// Version is written with every snapshot. A cached snapshot with a
	// different version is discarded.
	Version int
}

// Recorder observes cache writes.
type Recorder interface {
	RecordPersistWrite(store string, err error)
}

// Persisted is a Store whose every change is written to the local cache.
type Persisted[S, P any] struct {
	*Store[S]

	name   string
	kv     outbound.KeyValueStorePort
	opts   Options[S, P]
	logger *zap.Logger
	rec    Recorder

	mu          sync.Mutex
	last        []byte
	rehydrated  bool
	unsubscribe func()
}

// Persist rehydrates store from kv[name] and then writes the partialized
// state back on every change. A missing or unreadable snapshot leaves the
// store at its defaults.
func Persist[S, P any](ctx context.Context, store *Store[S], kv outbound.KeyValueStorePort, name string, opts Options[S, P], logger *zap.Logger, rec Recorder) *Persisted[S, P] {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Persisted[S, P]{
		Store:  store,
		name:   name,
		kv:     kv,
		opts:   opts,
		logger: logger.With(zap.String("store", name)),
		rec:    rec,
	}
	p.rehydrate(ctx)
	p.unsubscribe = store.Subscribe(p.write)
	return p
}

// Name returns the cache key.
func (p *Persisted[S, P]) Name() string { return p.name }

// Rehydrated reports whether a cached snapshot was applied at startup.
func (p *Persisted[S, P]) Rehydrated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rehydrated
}

// Close stops persisting changes.
func (p *Persisted[S, P]) Close() {
	p.unsubscribe()
}

func (p *Persisted[S, P]) rehydrate(ctx context.Context) {
	raw, err := p.kv.Get(ctx, p.name)
	if err != nil {
		if !errors.Is(err, outbound.ErrKeyNotFound) {
			p.logger.Warn("read cached state failed, using defaults", zap.Error(err))
		}
		return
	}

	var env Envelope[P]
	if err := json.Unmarshal(raw, &env); err != nil {
		p.logger.Warn("cached state is corrupt, using defaults", zap.Error(err))
		return
	}
	if env.Version != p.opts.Version {
		p.logger.Info("cached state version mismatch, using defaults",
			zap.Int("cached", env.Version),
			zap.Int("current", p.opts.Version),
		)
		return
	}

	p.Store.Set(func(s S) S { return p.opts.Merge(env.State, s) })

	p.mu.Lock()
	p.rehydrated = true
	p.last = raw
	p.mu.Unlock()
}

func (p *Persisted[S, P]) write(s S) {
	data, err := json.Marshal(Envelope[P]{State: p.opts.Partialize(s), Version: p.opts.Version})
	if err != nil {
		p.logger.Error("encode state failed", zap.Error(err))
		p.record(err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if bytes.Equal(data, p.last) {
		return
	}
	if err := p.kv.Set(context.Background(), p.name, data); err != nil {
		p.logger.Error("write cached state failed", zap.Error(err))
		p.record(err)
		return
	}
	p.last = data
	p.record(nil)
}

func (p *Persisted[S, P]) record(err error) {
	if p.rec != nil {
		p.rec.RecordPersistWrite(p.name, err)
	}
}
