// Package streamhttp pushes store snapshots to websocket clients.
package streamhttp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// Observable is a store whose state can be read and watched.
type Observable[S any] interface {
	Get() S
	Subscribe(fn func(S)) (unsubscribe func())
}

// Source is one named store exposed on the stream.
type Source struct {
	Name      string
	snapshot  func() any
	subscribe func(changed func()) (unsubscribe func())
}

// SourceOf adapts a store to a Source.
func SourceOf[S any](name string, store Observable[S]) Source {
	return Source{
		Name:     name,
		snapshot: func() any { return store.Get() },
		subscribe: func(changed func()) func() {
			return store.Subscribe(func(S) { changed() })
		},
	}
}

// Message is a frame sent to clients.
type Message struct {
	Type  string `json:"type"`
	Store string `json:"store"`
	State any    `json:"state"`
}

// Handler serves the snapshot stream.
type Handler struct {
	sources        []Source
	originPatterns []string
	logger         *zap.Logger
}

// NewHandler creates a stream handler. originPatterns are passed to the
// websocket origin check; empty means same origin only.
func NewHandler(sources []Source, originPatterns []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sources: sources, originPatterns: originPatterns, logger: logger}
}

// RegisterRoutes registers the stream route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stream", h.Stream)
}

// Stream upgrades to a websocket, sends every store's state and then the
// latest state of each store after it changes. Bursts of changes to one
// store are coalesced into one frame.
//
//	@Summary		Snapshot stream
//	@Tags			Stream
//	@Success		101
//	@Router			/stream [get]
func (h *Handler) Stream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(c.Request.Context())
	h.logger.Debug("stream client connected", zap.String("client_ip", c.ClientIP()))

	dirty := newDirtySet()
	for i := range h.sources {
		idx := i
		unsubscribe := h.sources[i].subscribe(func() { dirty.mark(idx) })
		defer unsubscribe()
	}

	for i := range h.sources {
		if err := h.send(ctx, conn, i); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("stream client disconnected")
			return
		case <-dirty.signal:
			for _, idx := range dirty.drain() {
				if err := h.send(ctx, conn, idx); err != nil {
					h.logger.Debug("stream write failed", zap.Error(err))
					return
				}
			}
		}
	}
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, idx int) error {
	src := h.sources[idx]
	data, err := json.Marshal(Message{Type: "snapshot", Store: src.Name, State: src.snapshot()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// dirtySet records which sources changed since the last drain. mark never
// blocks.
type dirtySet struct {
	mu      sync.Mutex
	pending map[int]struct{}
	signal  chan struct{}
}

func newDirtySet() *dirtySet {
	return &dirtySet{pending: make(map[int]struct{}), signal: make(chan struct{}, 1)}
}

func (d *dirtySet) mark(idx int) {
	d.mu.Lock()
	d.pending[idx] = struct{}{}
	d.mu.Unlock()
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *dirtySet) drain() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, 0, len(d.pending))
	for idx := range d.pending {
		out = append(out, idx)
	}
	d.pending = make(map[int]struct{})
	return out
}
