// Package state provides the observable state container shared by the
// entity stores and the decorator that persists it to the local cache.
package state

import "sync"

// Store is an observable state container. State values are treated as
// immutable: Set receives the current value and returns a new one, and
// slices held in the state must be copied rather than modified in place.
type Store[S any] struct {
	// dispatch serializes Set so each change and its notifications finish
	// before the next change starts.
	dispatch sync.Mutex

	mu    sync.RWMutex
	state S

	subMu  sync.Mutex
	nextID uint64
	subs   map[uint64]func(S)
	order  []uint64
}

// New creates a store holding initial.
func New[S any](initial S) *Store[S] {
	return &Store[S]{
		state: initial,
		subs:  make(map[uint64]func(S)),
	}
}

// Get returns the current state.
func (s *Store[S]) Get() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Set replaces the state with fn(current) and notifies subscribers in
// registration order. Subscribers must not call Set on the same store.
func (s *Store[S]) Set(fn func(S) S) S {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	next := fn(s.state)
	s.state = next
	s.mu.Unlock()

	for _, sub := range s.subscribers() {
		sub(next)
	}
	return next
}

// Subscribe registers fn for every future change.
func (s *Store[S]) Subscribe(fn func(S)) (unsubscribe func()) {
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.order = append(s.order, id)
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Store[S]) subscribers() []func(S) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	out := make([]func(S), 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.subs[id])
	}
	return out
}
