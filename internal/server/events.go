package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/svcmgr/internal/events"
)

const (
	wsWriteWait   = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingPeriod  = (wsPongWait * 9) / 10
	wsReadLimit   = 512
	wsSendBacklog = 256
)

// EventSource is implemented by controllers that can stream their events.
type EventSource interface {
	Bus() *events.Bus
}

// EventMessage is one frame of the /events stream.
type EventMessage struct {
	Type    string    `json:"type"` // "status" or "error"
	Service string    `json:"service"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Kind    string    `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func statusMessage(ev events.StatusChange) EventMessage {
	return EventMessage{Type: "status", Service: ev.Service, From: ev.From.String(), To: ev.To.String(), At: ev.At}
}

func errorMessage(ev events.ErrorEvent) EventMessage {
	m := EventMessage{Type: "error", Service: ev.Service, Message: ev.Message, At: ev.At}
	if ev.Kind != 0 {
		m.Kind = ev.Kind.String()
	}
	return m
}

// handleEvents upgrades to a websocket and streams bus events until the peer
// goes away. ?service=NAME restricts the stream to one service.
//
// Bus callbacks run on the supervising goroutine, so frames are queued
// without blocking and dropped when the peer falls behind.
func (r *Router) handleEvents(c *gin.Context) {
	src, ok := r.mgr.(EventSource)
	if !ok || src.Bus() == nil {
		failWith(c, http.StatusNotFound, "event stream not available")
		return
	}
	filter := c.Query("service")
	if filter != "" {
		if err := checkName(filter); err != nil {
			failWith(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		return
	}
	defer func() { _ = conn.Close() }()

	send := make(chan EventMessage, wsSendBacklog)
	push := func(m EventMessage) {
		if filter != "" && m.Service != filter {
			return
		}
		select {
		case send <- m:
		default:
		}
	}
	bus := src.Bus()
	cancelStatus := bus.OnStatusChange(func(ev events.StatusChange) { push(statusMessage(ev)) })
	defer cancelStatus()
	cancelError := bus.OnError(func(ev events.ErrorEvent) { push(errorMessage(ev)) })
	defer cancelError()

	gone := make(chan struct{})
	go readPump(conn, gone)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case m := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and keeps the read deadline fresh on pongs.
// It closes gone when the connection fails or the peer closes it.
func readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	conn.SetReadLimit(wsReadLimit)
	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
