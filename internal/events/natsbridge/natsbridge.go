// Package natsbridge republishes supervisor events on NATS subjects:
// <prefix>.status.<service> and <prefix>.error.<service>.
package natsbridge

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/loykin/svcmgr/internal/events"
)

const DefaultPrefix = "svcmgr"

type statusMsg struct {
	Service string    `json:"service"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	At      time.Time `json:"at"`
}

type errorMsg struct {
	Service string    `json:"service"`
	Kind    string    `json:"kind,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Bridge publishes bus events to a NATS connection.
type Bridge struct {
	nc     *nats.Conn
	prefix string
	log    *slog.Logger
	unsub  []func()
}

// Connect dials url and returns an unattached bridge.
func Connect(url, prefix string, log *slog.Logger) (*Bridge, error) {
	nc, err := nats.Connect(url,
		nats.Name("svcmgr"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return New(nc, prefix, log), nil
}

// New wraps an existing connection.
func New(nc *nats.Conn, prefix string, log *slog.Logger) *Bridge {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{nc: nc, prefix: prefix, log: log}
}

func (b *Bridge) StatusSubject(service string) string { return b.prefix + ".status." + service }
func (b *Bridge) ErrorSubject(service string) string  { return b.prefix + ".error." + service }

// Attach subscribes the bridge to bus. Detach with Close.
func (b *Bridge) Attach(bus *events.Bus) {
	b.unsub = append(b.unsub,
		bus.OnStatusChange(b.publishStatus),
		bus.OnError(b.publishError),
	)
}

func (b *Bridge) publishStatus(ev events.StatusChange) {
	b.publish(b.StatusSubject(ev.Service), statusMsg{
		Service: ev.Service, From: ev.From.String(), To: ev.To.String(), At: ev.At,
	})
}

func (b *Bridge) publishError(ev events.ErrorEvent) {
	msg := errorMsg{Service: ev.Service, Message: ev.Message, At: ev.At}
	if ev.Kind != 0 {
		msg.Kind = ev.Kind.String()
	}
	b.publish(b.ErrorSubject(ev.Service), msg)
}

func (b *Bridge) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.log.Error("nats bridge: marshal", "subject", subject, "error", err)
		return
	}
	// nats.Conn.Publish only buffers; it never blocks the caller on the network.
	if err := b.nc.Publish(subject, data); err != nil {
		b.log.Warn("nats bridge: publish", "subject", subject, "error", err)
	}
}

// Close detaches from the bus and drains the connection.
func (b *Bridge) Close() error {
	for _, u := range b.unsub {
		u()
	}
	b.unsub = nil
	if b.nc == nil || b.nc.IsClosed() {
		return nil
	}
	return b.nc.Drain()
}
