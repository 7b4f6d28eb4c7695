package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventServer(t *testing.T, hold bool) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		svc := r.URL.Query().Get("service")
		_ = conn.WriteJSON(Event{Type: "status", Service: svc, From: "stopped", To: "starting", At: time.Now()})
		_ = conn.WriteJSON(Event{Type: "error", Service: svc, Kind: "spawn failed", Message: "no such file", At: time.Now()})
		if hold {
			// wait for the client to hang up
			_, _, _ = conn.ReadMessage()
			return
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestWatchUntilServerCloses(t *testing.T) {
	ts := eventServer(t, false)
	c := New(Config{BaseURL: ts.URL + "/api"})

	var got []Event
	err := c.Watch(context.Background(), "web", func(ev Event) { got = append(got, ev) })
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "web", got[0].Service)
	assert.Equal(t, "starting", got[0].To)
	assert.Equal(t, "spawn failed", got[1].Kind)
}

func TestWatchStopsOnCancel(t *testing.T) {
	ts := eventServer(t, true)
	c := New(Config{BaseURL: ts.URL + "/api"})

	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan Event, 4)
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, "", func(ev Event) { seen <- ev }) }()

	select {
	case <-seen:
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchNotAvailable(t *testing.T) {
	ts := newTestServer(t)
	c := New(Config{BaseURL: ts.URL + "/api"})
	err := c.Watch(context.Background(), "", func(Event) {})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestEventsURL(t *testing.T) {
	c := New(Config{BaseURL: "https://host:8443/api"})
	u, err := c.eventsURL("db")
	require.NoError(t, err)
	assert.Equal(t, "wss://host:8443/api/events?service=db", u)

	c = New(Config{BaseURL: "ftp://host"})
	_, err = c.eventsURL("")
	assert.Error(t, err)
}
