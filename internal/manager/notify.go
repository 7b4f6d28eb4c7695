package manager

import (
	"time"

	"github.com/loykin/svcmgr/internal/events"
	"github.com/loykin/svcmgr/internal/history"
	"github.com/loykin/svcmgr/internal/metrics"
	"github.com/loykin/svcmgr/internal/service"
)

// notifier routes record notifications to metrics, history and the bus.
type notifier struct{ m *Manager }

func (n notifier) StatusChanged(name string, from, to service.State) {
	metrics.RecordStateTransition(name, from.String(), to.String())
	metrics.SetCurrentState(name, from.String(), false)
	metrics.SetCurrentState(name, to.String(), true)
	switch {
	case to == service.Running:
		metrics.IncStart(name)
	case to == service.Stopped:
		metrics.IncStop(name)
	case from == service.Failed && to == service.Starting:
		metrics.IncRestart(name)
	}
	if h := n.m.history(); h != nil {
		_ = h.Enqueue(history.NewStateChange(name, from.String(), to.String()))
	}
	n.m.bus.PublishStatus(events.StatusChange{Service: name, From: from, To: to, At: time.Now()})
}

func (n notifier) ErrorOccurred(name string, err error) {
	kind := service.KindOf(err)
	metrics.IncError(name, kind.String())
	if h := n.m.history(); h != nil {
		_ = h.Enqueue(history.NewError(name, err.Error()))
	}
	n.m.bus.PublishError(events.ErrorEvent{Service: name, Kind: kind, Message: err.Error(), At: time.Now()})
}
