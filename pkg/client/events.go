package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one frame of the daemon's /events stream.
type Event struct {
	Type    string    `json:"type"` // "status" or "error"
	Service string    `json:"service"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Kind    string    `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Watch streams events to fn until ctx ends or the daemon closes the
// stream. An empty service watches every service. A cancelled ctx is not
// reported as an error.
func (c *Client) Watch(ctx context.Context, service string, fn func(Event)) error {
	u, err := c.eventsURL(service)
	if err != nil {
		return err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  c.tls,
	}
	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return fmt.Errorf("dial %s: %w", u, err)
	}
	_ = resp.Body.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() { _ = conn.Close() }()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		fn(ev)
	}
}

func (c *Client) eventsURL(service string) (string, error) {
	u, err := url.Parse(c.baseURL + "/events")
	if err != nil {
		return "", err
	}
	switch {
	case strings.EqualFold(u.Scheme, "https"):
		u.Scheme = "wss"
	case strings.EqualFold(u.Scheme, "http"):
		u.Scheme = "ws"
	default:
		return "", errors.New("unsupported base url scheme " + u.Scheme)
	}
	if service != "" {
		u.RawQuery = url.Values{"service": {service}}.Encode()
	}
	return u.String(), nil
}
