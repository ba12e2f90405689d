package streamhttp

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/todoflow/server/internal/module/state"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type counter struct {
	Count int `json:"count"`
}

func readMessage(ctx context.Context, t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestStream(t *testing.T) {
	counters := state.New(counter{})
	labels := state.New([]string{"a"})

	router := gin.New()
	NewHandler([]Source{
		SourceOf[counter]("counters", counters),
		SourceOf[[]string]("labels", labels),
	}, nil, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))

	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/stream", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	first := readMessage(ctx, t, conn)
	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, "counters", first.Store)
	assert.Equal(t, map[string]any{"count": float64(0)}, first.State)

	second := readMessage(ctx, t, conn)
	assert.Equal(t, "labels", second.Store)

	counters.Set(func(c counter) counter { c.Count = 7; return c })

	// A change can be coalesced with an earlier one, so read until the
	// latest value arrives.
	for {
		msg := readMessage(ctx, t, conn)
		if msg.Store == "counters" && msg.State.(map[string]any)["count"] == float64(7) {
			break
		}
	}
}

func TestDirtySet(t *testing.T) {
	d := newDirtySet()
	d.mark(1)
	d.mark(1)
	d.mark(0)

	select {
	case <-d.signal:
	default:
		t.Fatal("expected a signal")
	}
	assert.ElementsMatch(t, []int{0, 1}, d.drain())
	assert.Empty(t, d.drain())
}
