// Package todo implements the todo entity store.
package todo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/model"
	"github.com/todoflow/server/internal/module/mirror"
	"github.com/todoflow/server/internal/module/state"
	"github.com/todoflow/server/internal/port/outbound"
	"github.com/todoflow/server/internal/utils/document"
)

// StorageName is the local cache key of the todo store.
const StorageName = "todo-storage"

// State is the todo store state.
type State struct {
	Todos         []model.Todo `json:"todos"`
	SortType      SortType     `json:"sortType"`
	SortOrder     SortOrder    `json:"sortOrder"`
	FilterMode    FilterMode   `json:"filterMode"`
	HideCompleted bool         `json:"hideCompleted"`
	ViewMode      ViewMode     `json:"viewMode"`
	UserID        *string      `json:"userId"`
	IsLoading     bool         `json:"isLoading"`
}

// DefaultState returns the state used when nothing is cached.
func DefaultState() State {
	return State{
		Todos:      []model.Todo{},
		SortType:   SortCreated,
		SortOrder:  SortDesc,
		FilterMode: FilterAll,
		ViewMode:   ViewList,
	}
}

type persistedState struct {
	Todos         []model.Todo `json:"todos"`
	SortType      SortType     `json:"sortType"`
	SortOrder     SortOrder    `json:"sortOrder"`
	HideCompleted bool         `json:"hideCompleted"`
	ViewMode      ViewMode     `json:"viewMode"`
	FilterMode    FilterMode   `json:"filterMode"`
}

func partialize(s State) persistedState {
	return persistedState{
		Todos:         s.Todos,
		SortType:      s.SortType,
		SortOrder:     s.SortOrder,
		HideCompleted: s.HideCompleted,
		ViewMode:      s.ViewMode,
		FilterMode:    s.FilterMode,
	}
}

func merge(p persistedState, s State) State {
	if p.Todos != nil {
		s.Todos = p.Todos
	}
	if p.SortType.IsValid() {
		s.SortType = p.SortType
	}
	if p.SortOrder.IsValid() {
		s.SortOrder = p.SortOrder
	}
	if p.FilterMode.IsValid() {
		s.FilterMode = p.FilterMode
	}
	if p.ViewMode.IsValid() {
		s.ViewMode = p.ViewMode
	}
	s.HideCompleted = p.HideCompleted
	return s
}

// AddParams are the inputs of Add.
type AddParams struct {
	Title       string          `json:"title"`
	Description *string         `json:"description,omitempty"`
	StartDate   *string         `json:"startDate,omitempty"`
	EndDate     *string         `json:"endDate,omitempty"`
	Priority    *model.Priority `json:"priority,omitempty"`
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

// Store owns the todo collection and the list preferences.
type Store struct {
	*state.Persisted[State, persistedState]

	docs   outbound.DocumentStorePort
	mirror *mirror.Mirror
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewStore creates the todo store, rehydrated from kv. docs may be nil when
// no remote backend is configured; the store then stays local.
func NewStore(ctx context.Context, kv outbound.KeyValueStorePort, docs outbound.DocumentStorePort, logger *zap.Logger, rec mirror.StoreRecorder, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		docs:   docs,
		mirror: mirror.New("todo", logger, rec),
		logger: logger.With(zap.String("store", "todo")),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Persisted = state.Persist(ctx, state.New(DefaultState()), kv, StorageName, state.Options[State, persistedState]{
		Partialize: partialize,
		Merge:      merge,
	}, logger, rec)
	return s
}

// Mode returns the current mirror mode.
func (s *Store) Mode() mirror.Mode {
	return s.mirror.Mode()
}

func todoPath(uid, id string) string {
	return document.Join("users", uid, "todos", id)
}

func todosCollection(uid string) string {
	return document.Join("users", uid, "todos")
}

func (s *Store) timestamp() model.Timestamp {
	return model.NewTimestamp(s.now())
}

// bump returns now, or prev when the clock reads earlier than prev.
func bump(prev, now model.Timestamp) model.Timestamp {
	if now.Before(prev.Time) {
		return prev
	}
	return now
}

func (s *Store) find(id string) (model.Todo, bool) {
	for _, t := range s.Get().Todos {
		if t.ID == id {
			return t, true
		}
	}
	return model.Todo{}, false
}

func (s *Store) replace(id string, fn func(model.Todo) model.Todo) {
	s.Set(func(st State) State {
		next := make([]model.Todo, len(st.Todos))
		copy(next, st.Todos)
		for i := range next {
			if next[i].ID == id {
				next[i] = fn(next[i])
			}
		}
		st.Todos = next
		return st
	})
}

// Add creates a todo at the front of the collection. A title that is empty
// after trimming is ignored and "" is returned.
func (s *Store) Add(ctx context.Context, p AddParams) (string, error) {
	title, ok := model.NormalizeTitle(p.Title)
	if !ok {
		return "", nil
	}

	now := s.timestamp()
	t := model.Todo{
		ID:          s.newID(),
		Title:       title,
		Description: trimmed(p.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
		StartDate:   validDate(p.StartDate),
		EndDate:     validDate(p.EndDate),
		Priority:    validPriority(p.Priority),
	}

	err := s.mirror.Route("add",
		func() {
			s.Set(func(st State) State {
				next := make([]model.Todo, 0, len(st.Todos)+1)
				next = append(next, t)
				st.Todos = append(next, st.Todos...)
				return st
			})
		},
		func(uid string) error {
			data, err := document.EncodeFields(t)
			if err != nil {
				return err
			}
			return s.docs.Set(ctx, todoPath(uid, t.ID), data)
		},
	)
	if err != nil {
		return "", err
	}

	s.logger.Debug("todo added", zap.String("todo_id", t.ID))
	return t.ID, nil
}

// Toggle flips the completion flag of id. Unknown ids are ignored.
func (s *Store) Toggle(ctx context.Context, id string) error {
	current, ok := s.find(id)
	if !ok {
		return nil
	}
	toggled := toggle(current, s.timestamp())

	return s.mirror.Route("toggle",
		func() {
			s.replace(id, func(t model.Todo) model.Todo { return toggle(t, s.timestamp()) })
		},
		func(uid string) error {
			return s.docs.Update(ctx, todoPath(uid, id), map[string]any{
				"completed":   toggled.Completed,
				"completedAt": timestampValue(toggled.CompletedAt),
				"updatedAt":   toggled.UpdatedAt.String(),
			})
		},
	)
}

func toggle(t model.Todo, now model.Timestamp) model.Todo {
	t.Completed = !t.Completed
	if t.Completed {
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
	}
	t.UpdatedAt = bump(t.UpdatedAt, now)
	return t
}

// Update applies the set and cleared fields of p to id and bumps updatedAt.
// A title that is empty after trimming leaves the title unchanged. Unknown
// ids are ignored.
func (s *Store) Update(ctx context.Context, id string, p model.TodoPatch) error {
	current, ok := s.find(id)
	if !ok {
		return nil
	}
	now := s.timestamp()
	updated := applyPatch(current, p, now)

	return s.mirror.Route("update",
		func() {
			s.replace(id, func(t model.Todo) model.Todo { return applyPatch(t, p, now) })
		},
		func(uid string) error {
			return s.docs.Update(ctx, todoPath(uid, id), patchFields(updated, p))
		},
	)
}

func applyPatch(t model.Todo, p model.TodoPatch, now model.Timestamp) model.Todo {
	if v, ok := p.Title.Value(); ok {
		if title, ok := model.NormalizeTitle(v); ok {
			t.Title = title
		}
	}
	if !p.Description.IsUnset() {
		t.Description = trimmed(p.Description.Apply(t.Description))
	}
	if v, ok := p.Completed.Value(); ok && v != t.Completed {
		t.Completed = v
		if v {
			t.CompletedAt = &now
		} else {
			t.CompletedAt = nil
		}
	}
	if !p.StartDate.IsUnset() {
		if next := p.StartDate.Apply(t.StartDate); next == nil || model.ValidDate(*next) {
			t.StartDate = next
		}
	}
	if !p.EndDate.IsUnset() {
		if next := p.EndDate.Apply(t.EndDate); next == nil || model.ValidDate(*next) {
			t.EndDate = next
		}
	}
	if !p.Priority.IsUnset() {
		if next := p.Priority.Apply(t.Priority); next == nil || next.IsValid() {
			t.Priority = next
		}
	}
	t.UpdatedAt = bump(t.UpdatedAt, now)
	return t
}

// patchFields lists only the fields p touches, so concurrent edits to other
// fields of the same remote document survive.
func patchFields(t model.Todo, p model.TodoPatch) map[string]any {
	fields := map[string]any{"updatedAt": t.UpdatedAt.String()}
	if p.Title.IsSet() {
		fields["title"] = t.Title
	}
	if !p.Description.IsUnset() {
		fields["description"] = stringValue(t.Description)
	}
	if p.Completed.IsSet() {
		fields["completed"] = t.Completed
		fields["completedAt"] = timestampValue(t.CompletedAt)
	}
	if !p.StartDate.IsUnset() {
		fields["startDate"] = stringValue(t.StartDate)
	}
	if !p.EndDate.IsUnset() {
		fields["endDate"] = stringValue(t.EndDate)
	}
	if !p.Priority.IsUnset() {
		if t.Priority == nil {
			fields["priority"] = nil
		} else {
			fields["priority"] = string(*t.Priority)
		}
	}
	return fields
}

// Delete removes id. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.mirror.Route("delete",
		func() {
			s.Set(func(st State) State {
				st.Todos = without(st.Todos, func(t model.Todo) bool { return t.ID == id })
				return st
			})
		},
		func(uid string) error {
			return s.docs.Delete(ctx, todoPath(uid, id))
		},
	)
}

// ClearCompleted removes every completed todo in one change.
func (s *Store) ClearCompleted(ctx context.Context) error {
	return s.mirror.Route("clear_completed",
		func() {
			s.Set(func(st State) State {
				st.Todos = without(st.Todos, func(t model.Todo) bool { return t.Completed })
				return st
			})
		},
		func(uid string) error {
			batch := s.docs.Batch()
			for _, t := range s.Get().Todos {
				if t.Completed {
					batch.Delete(todoPath(uid, t.ID))
				}
			}
			return batch.Commit(ctx)
		},
	)
}

func without(todos []model.Todo, drop func(model.Todo) bool) []model.Todo {
	out := make([]model.Todo, 0, len(todos))
	for _, t := range todos {
		if !drop(t) {
			out = append(out, t)
		}
	}
	return out
}

// SetSortType sets the sort key. Invalid values are ignored.
func (s *Store) SetSortType(t SortType) {
	if !t.IsValid() {
		return
	}
	s.Set(func(st State) State { st.SortType = t; return st })
}

// SetSortOrder sets the sort direction. Invalid values are ignored.
func (s *Store) SetSortOrder(o SortOrder) {
	if !o.IsValid() {
		return
	}
	s.Set(func(st State) State { st.SortOrder = o; return st })
}

// ToggleSort flips the direction when key is already selected and otherwise
// selects key in ascending order.
func (s *Store) ToggleSort(key SortType) {
	if !key.IsValid() {
		return
	}
	s.Set(func(st State) State {
		if st.SortType == key {
			if st.SortOrder == SortAsc {
				st.SortOrder = SortDesc
			} else {
				st.SortOrder = SortAsc
			}
			return st
		}
		st.SortType = key
		st.SortOrder = SortAsc
		return st
	})
}

// SetFilterMode sets the list filter. Invalid values are ignored.
func (s *Store) SetFilterMode(m FilterMode) {
	if !m.IsValid() {
		return
	}
	s.Set(func(st State) State { st.FilterMode = m; return st })
}

// SetHideCompleted sets whether the calendar hides completed todos.
func (s *Store) SetHideCompleted(hide bool) {
	s.Set(func(st State) State { st.HideCompleted = hide; return st })
}

// SetViewMode sets the list or calendar view. Invalid values are ignored.
func (s *Store) SetViewMode(m ViewMode) {
	if !m.IsValid() {
		return
	}
	s.Set(func(st State) State { st.ViewMode = m; return st })
}

// SetUserID binds the store to users/{uid}/todos, or reverts it to local
// mode when uid is nil. Without a remote backend only the id is recorded.
// Local todos are kept when unbinding.
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
		q := outbound.Query{Collection: todosCollection(id), OrderBy: "createdAt", Desc: true}
		return s.docs.Listen(ctx, q,
			func(docs []outbound.Document) {
				if !live() {
					return
				}
				todos := mirror.Snapshot[model.Todo](s.mirror, docs)
				s.Set(func(st State) State { st.Todos = todos; st.IsLoading = false; return st })
			},
			func(err error) {
				if !live() {
					return
				}
				s.mirror.ListenerError(err, s.clearLoading)
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

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func validDate(s *string) *string {
	if s == nil || !model.ValidDate(*s) {
		return nil
	}
	v := *s
	return &v
}

func validPriority(p *model.Priority) *model.Priority {
	if p == nil || !p.IsValid() {
		return nil
	}
	v := *p
	return &v
}

func stringValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func timestampValue(t *model.Timestamp) any {
	if t == nil {
		return nil
	}
	return t.String()
}
