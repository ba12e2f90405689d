package document

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/todoflow/server/internal/port/outbound"
)

// FetchFunc runs a query against the backing store.
type FetchFunc func(ctx context.Context, q outbound.Query) ([]outbound.Document, error)

// Hub tracks the listeners attached to a document store and re-runs their
// queries when a collection changes.
type Hub struct {
	fetch FetchFunc

	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]*listener
}

type listener struct {
	id         uint64
	hub        *Hub
	query      outbound.Query
	onSnapshot outbound.SnapshotFunc
	onError    outbound.ErrorFunc

	// deliver serializes deliveries so a later delivery always carries a
	// fetch that happened after the earlier one.
	deliver sync.Mutex
	active  atomic.Bool
}

// NewHub creates a hub that answers queries with fetch.
func NewHub(fetch FetchFunc) *Hub {
	return &Hub{
		fetch:     fetch,
		listeners: make(map[uint64]*listener),
	}
}

// Attach registers a listener and delivers its first snapshot before returning.
func (h *Hub) Attach(ctx context.Context, q outbound.Query, onSnapshot outbound.SnapshotFunc, onError outbound.ErrorFunc) (outbound.Subscription, error) {
	docs, err := h.fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.nextID++
	l := &listener{
		id:         h.nextID,
		hub:        h,
		query:      q,
		onSnapshot: onSnapshot,
		onError:    onError,
	}
	l.active.Store(true)
	h.listeners[l.id] = l
	h.mu.Unlock()

	l.deliver.Lock()
	defer l.deliver.Unlock()
	if l.active.Load() {
		onSnapshot(docs)
	}
	return l, nil
}

// Notify re-runs the query of every listener on one of the given collections.
func (h *Hub) Notify(ctx context.Context, collections ...string) {
	changed := make(map[string]bool, len(collections))
	for _, c := range collections {
		changed[c] = true
	}

	h.mu.Lock()
	targets := make([]*listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		if changed[l.query.Collection] {
			targets = append(targets, l)
		}
	}
	h.mu.Unlock()

	for _, l := range targets {
		l.refresh(ctx)
	}
}

// Collections returns the distinct collections with attached listeners.
func (h *Hub) Collections() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool)
	out := make([]string, 0, len(h.listeners))
	for _, l := range h.listeners {
		if !seen[l.query.Collection] {
			seen[l.query.Collection] = true
			out = append(out, l.query.Collection)
		}
	}
	return out
}

// Fail reports err to every active listener.
func (h *Hub) Fail(err error) {
	h.mu.Lock()
	targets := make([]*listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		targets = append(targets, l)
	}
	h.mu.Unlock()

	for _, l := range targets {
		if l.active.Load() && l.onError != nil {
			l.onError(err)
		}
	}
}

// Len returns the number of attached listeners.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func (l *listener) refresh(ctx context.Context) {
	l.deliver.Lock()
	defer l.deliver.Unlock()

	if !l.active.Load() {
		return
	}
	docs, err := l.hub.fetch(ctx, l.query)
	if !l.active.Load() {
		return
	}
	if err != nil {
		if l.onError != nil {
			l.onError(err)
		}
		return
	}
	l.onSnapshot(docs)
}

// Unsubscribe implements outbound.Subscription.
func (l *listener) Unsubscribe() {
	if !l.active.Swap(false) {
		return
	}
	l.hub.mu.Lock()
	delete(l.hub.listeners, l.id)
	l.hub.mu.Unlock()
}

var _ outbound.Subscription = (*listener)(nil)
