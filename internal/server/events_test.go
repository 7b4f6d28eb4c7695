package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/svcmgr/internal/events"
	"github.com/loykin/svcmgr/internal/service"
)

type busController struct {
	*fakeController
	bus *events.Bus
}

func (b busController) Bus() *events.Bus { return b.bus }

func dialEvents(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// publishUntil keeps publishing until stop closes; the handler subscribes
// only after the upgrade completes.
func publishUntil(stop <-chan struct{}, pub func()) {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			pub()
		}
	}
}

func TestEventsUnavailable(t *testing.T) {
	h := setupRouter(t, "/api", newFake())
	rec := doReq(t, h, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsStream(t *testing.T) {
	bus := events.NewBus()
	ts := httptest.NewServer(setupRouter(t, "/api", busController{newFake("a"), bus}))
	defer ts.Close()

	conn := dialEvents(t, ts, "")
	stop := make(chan struct{})
	defer close(stop)
	go publishUntil(stop, func() {
		bus.PublishStatus(events.StatusChange{Service: "a", From: service.Stopped, To: service.Starting, At: time.Now()})
		bus.PublishError(events.ErrorEvent{Service: "a", Kind: service.KindSpawnFailed, Message: "spawn failed", At: time.Now()})
	})

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	seen := map[string]EventMessage{}
	for len(seen) < 2 {
		var m EventMessage
		require.NoError(t, conn.ReadJSON(&m))
		seen[m.Type] = m
	}
	assert.Equal(t, "a", seen["status"].Service)
	assert.Equal(t, "stopped", seen["status"].From)
	assert.Equal(t, "starting", seen["status"].To)
	assert.Equal(t, "spawn failed", seen["error"].Kind)
	assert.Equal(t, "spawn failed", seen["error"].Message)
}

func TestEventsFilter(t *testing.T) {
	bus := events.NewBus()
	ts := httptest.NewServer(setupRouter(t, "/api", busController{newFake("a", "b"), bus}))
	defer ts.Close()

	conn := dialEvents(t, ts, "?service=b")
	stop := make(chan struct{})
	defer close(stop)
	go publishUntil(stop, func() {
		bus.PublishStatus(events.StatusChange{Service: "a", From: service.Stopped, To: service.Starting, At: time.Now()})
		bus.PublishStatus(events.StatusChange{Service: "b", From: service.Starting, To: service.Running, At: time.Now()})
	})

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < 3; i++ {
		var m EventMessage
		require.NoError(t, conn.ReadJSON(&m))
		assert.Equal(t, "b", m.Service)
		assert.Equal(t, "running", m.To)
	}
}

func TestEventsRejectsBadFilter(t *testing.T) {
	h := setupRouter(t, "/api", busController{newFake(), events.NewBus()})
	rec := doReq(t, h, http.MethodGet, "/api/events?service=../x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
