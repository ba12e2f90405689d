// Package preset implements the store of reusable todo titles.
package preset

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/model"
	"github.com/todoflow/server/internal/module/mirror"
	"github.com/todoflow/server/internal/module/state"
	"github.com/todoflow/server/internal/port/outbound"
	"github.com/todoflow/server/internal/utils/document"
)

// StorageName is the local cache key of the preset store.
const StorageName = "preset-storage"

// State is the preset store state.
type State struct {
	Presets   []model.Preset `json:"presets"`
	UserID    *string        `json:"userId"`
	IsLoading bool           `json:"isLoading"`
}

type persistedState struct {
	Presets []model.Preset `json:"presets"`
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the id source.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// Store owns the preset collection.
type Store struct {
	*state.Persisted[State, persistedState]

	docs   outbound.DocumentStorePort
	mirror *mirror.Mirror
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewStore creates the preset store, rehydrated from kv. docs may be nil.
func NewStore(ctx context.Context, kv outbound.KeyValueStorePort, docs outbound.DocumentStorePort, logger *zap.Logger, rec mirror.StoreRecorder, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		docs:   docs,
		mirror: mirror.New("preset", logger, rec),
		logger: logger.With(zap.String("store", "preset")),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Persisted = state.Persist(ctx, state.New(State{Presets: []model.Preset{}}), kv, StorageName,
		state.Options[State, persistedState]{
			Partialize: func(st State) persistedState { return persistedState{Presets: st.Presets} },
			Merge: func(p persistedState, st State) State {
				if p.Presets != nil {
					st.Presets = p.Presets
				}
				return st
			},
		}, logger, rec)
	return s
}

// Mode returns the current mirror mode.
func (s *Store) Mode() mirror.Mode {
	return s.mirror.Mode()
}

func presetPath(uid, id string) string {
	return document.Join("users", uid, "presets", id)
}

// AddPreset appends a preset with title. Empty titles and titles that
// already exist are ignored and "" is returned.
func (s *Store) AddPreset(ctx context.Context, title string) (string, error) {
	title, ok := model.NormalizeTitle(title)
	if !ok {
		return "", nil
	}
	if hasTitle(s.Get().Presets, title) {
		return "", nil
	}

	p := model.Preset{
		ID:        s.newID(),
		Title:     title,
		CreatedAt: model.NewTimestamp(s.now()),
	}

	added := true
	err := s.mirror.Route("add",
		func() {
			s.Set(func(st State) State {
				if hasTitle(st.Presets, title) {
					added = false
					return st
				}
				next := make([]model.Preset, 0, len(st.Presets)+1)
				st.Presets = append(append(next, st.Presets...), p)
				return st
			})
		},
		func(uid string) error {
			data, err := document.EncodeFields(p)
			if err != nil {
				return err
			}
			return s.docs.Set(ctx, presetPath(uid, p.ID), data)
		},
	)
	if err != nil {
		return "", err
	}
	if !added {
		return "", nil
	}

	s.logger.Debug("preset added", zap.String("preset_id", p.ID))
	return p.ID, nil
}

func hasTitle(presets []model.Preset, title string) bool {
	for _, p := range presets {
		if p.Title == title {
			return true
		}
	}
	return false
}

// AddFromTodo saves the title of todo as a preset.
func (s *Store) AddFromTodo(ctx context.Context, todo model.Todo) (string, error) {
	return s.AddPreset(ctx, todo.Title)
}

// Delete removes id. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.mirror.Route("delete",
		func() {
			s.Set(func(st State) State {
				next := make([]model.Preset, 0, len(st.Presets))
				for _, p := range st.Presets {
					if p.ID != id {
						next = append(next, p)
					}
				}
				st.Presets = next
				return st
			})
		},
		func(uid string) error {
			return s.docs.Delete(ctx, presetPath(uid, id))
		},
	)
}

// SetUserID binds the store to users/{uid}/presets or reverts it to local
// mode when uid is nil.
func (s *Store) SetUserID(ctx context.Context, uid *string) error {
	if uid == nil {
		s.mirror.Unbind()
		s.Set(func(st State) State { st.UserID = nil; st.IsLoading = false; return st })
		return nil
	}

	id := *uid
	if s.docs == nil {
		s.Set(func(st State) State { st.UserID = &id; return st })
		return nil
	}

	s.Set(func(st State) State { st.UserID = &id; st.IsLoading = true; return st })
	err := s.mirror.Bind(ctx, id, func(ctx context.Context, live mirror.Guard) (outbound.Subscription, error) {
		q := outbound.Query{Collection: document.Join("users", id, "presets"), OrderBy: "createdAt"}
		return s.docs.Listen(ctx, q,
			func(docs []outbound.Document) {
				if !live() {
					return
				}
				presets := mirror.Snapshot[model.Preset](s.mirror, docs)
				s.Set(func(st State) State { st.Presets = presets; st.IsLoading = false; return st })
			},
			func(err error) {
				if live() {
					s.mirror.ListenerError(err, s.clearLoading)
				}
			},
		)
	})
	if err != nil {
		s.clearLoading()
		return err
	}
	return nil
}

func (s *Store) clearLoading() {
	s.Set(func(st State) State { st.IsLoading = false; return st })
}

// Close detaches the listener and stops persisting.
func (s *Store) Close() {
	s.mirror.Unbind()
	s.Persisted.Close()
}
