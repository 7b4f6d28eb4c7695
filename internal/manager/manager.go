package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/svcmgr/internal/events"
	"github.com/loykin/svcmgr/internal/history"
	"github.com/loykin/svcmgr/internal/metrics"
	"github.com/loykin/svcmgr/internal/process"
	"github.com/loykin/svcmgr/internal/service"
	"github.com/loykin/svcmgr/internal/store"
)

// ConfigStore loads and persists the service configuration set.
type ConfigStore interface {
	LoadAll() ([]service.Config, error)
	SaveAll(cfgs []service.Config) error
}

// Options configure a Manager. Zero values fall back to service defaults.
type Options struct {
	service.Options
	// StopConcurrency bounds parallel stops in StopAll; 0 means unbounded.
	StopConcurrency int
}

// Manager orders lifecycle operations across the registry and is the single
// fan-out point for status-change and error events.
type Manager struct {
	reg   *Registry
	bus   *events.Bus
	log   *slog.Logger
	stopN int

	mu       sync.RWMutex
	cfgStore ConfigStore
	st       store.Store
	hist     *history.Dispatcher
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		bus:   events.NewBus(),
		log:   opts.Logger.With("component", "manager"),
		stopN: opts.StopConcurrency,
	}
	so := opts.Options
	so.Notifier = notifier{m}
	m.reg = NewRegistry(so)
	return m
}

// Registry exposes the underlying registry for name-keyed operations.
func (m *Manager) Registry() *Registry { return m.reg }

// SetConfigStore configures the collaborator used by Reload and by the
// persistence hook that runs after every registration or config change.
func (m *Manager) SetConfigStore(cs ConfigStore) {
	m.mu.Lock()
	m.cfgStore = cs
	m.mu.Unlock()
}

// SetStore configures state snapshot persistence and ensures its schema.
func (m *Manager) SetStore(s store.Store) error {
	m.mu.Lock()
	m.st = s
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.EnsureSchema(context.Background())
}

// SetHistory configures the dispatcher that receives every lifecycle event.
// Shutdown closes it.
func (m *Manager) SetHistory(d *history.Dispatcher) {
	m.mu.Lock()
	m.hist = d
	m.mu.Unlock()
}

func (m *Manager) history() *history.Dispatcher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hist
}

// OnStatusChange subscribes fn to every accepted transition of every service.
// fn runs synchronously on the transitioning goroutine and must not call
// lifecycle operations on the service it is notified about.
func (m *Manager) OnStatusChange(fn func(name string, from, to service.State)) (cancel func()) {
	return m.bus.OnStatusChange(func(ev events.StatusChange) { fn(ev.Service, ev.From, ev.To) })
}

// OnError subscribes fn to every error reported by any service.
func (m *Manager) OnError(fn func(name, message string)) (cancel func()) {
	return m.bus.OnError(func(ev events.ErrorEvent) { fn(ev.Service, ev.Message) })
}

// Bus exposes the raw event bus, e.g. for bridging to NATS.
func (m *Manager) Bus() *events.Bus { return m.bus }

// Register adds a service and persists the configuration set.
func (m *Manager) Register(cfg service.Config) error {
	if err := m.reg.Register(cfg); err != nil {
		return err
	}
	metrics.SetRegistered(m.reg.Len())
	m.persistConfigs()
	return nil
}

// Unregister stops and removes a service and persists the configuration set.
func (m *Manager) Unregister(name string) error {
	if !m.reg.Has(name) {
		return service.NotFound(name)
	}
	err := m.reg.Unregister(name)
	metrics.Forget(name)
	metrics.SetRegistered(m.reg.Len())
	m.persistConfigs()
	return err
}

func (m *Manager) UpdateConfig(cfg service.Config) error {
	if err := m.reg.SetConfig(cfg); err != nil {
		return err
	}
	m.persistConfigs()
	return nil
}

func (m *Manager) Enable(name string) error {
	if err := m.reg.Enable(name); err != nil {
		return err
	}
	m.persistConfigs()
	return nil
}

func (m *Manager) Disable(name string) error {
	if err := m.reg.Disable(name); err != nil {
		return err
	}
	m.persistConfigs()
	return nil
}

func (m *Manager) Start(name string) error             { return m.reg.Start(name) }
func (m *Manager) Stop(name string) error              { return m.reg.Stop(name) }
func (m *Manager) Restart(name string) error           { return m.reg.Restart(name) }
func (m *Manager) ResetRestartCount(name string) error { return m.reg.ResetRestartCount(name) }
func (m *Manager) Status(name string) service.Status   { return m.reg.Status(name) }
func (m *Manager) Statuses() []service.Status          { return m.reg.Statuses() }
func (m *Manager) Names() []string                     { return m.reg.Names() }
func (m *Manager) IsRunning(name string) bool          { return m.reg.IsRunning(name) }

// StartAll issues Start to every auto-start service in ascending priority
// order, one after another. Individual failures do not abort the batch; the
// result joins them all.
func (m *Manager) StartAll() error {
	var errs []error
	for _, rec := range m.reg.startOrder() {
		if !rec.Config().AutoStart {
			continue
		}
		if err := rec.Start(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every registered service concurrently.
func (m *Manager) StopAll() error {
	recs := m.reg.records()
	errs := make([]error, len(recs))
	var g errgroup.Group
	if m.stopN > 0 {
		g.SetLimit(m.stopN)
	}
	for i, rec := range recs {
		g.Go(func() error {
			errs[i] = rec.Stop()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Reload re-reads the configuration set: new names are registered, known
// names get their config replaced, and names no longer present are
// unregistered.
func (m *Manager) Reload() error {
	m.mu.RLock()
	cs := m.cfgStore
	m.mu.RUnlock()
	if cs == nil {
		return errors.New("no config store configured")
	}
	cfgs, err := cs.LoadAll()
	if err != nil {
		return &service.Error{Kind: service.KindConfigInvalid, Err: err}
	}

	var errs []error
	seen := make(map[string]struct{}, len(cfgs))
	for _, cfg := range cfgs {
		seen[cfg.Name] = struct{}{}
		if m.reg.Has(cfg.Name) {
			errs = append(errs, m.reg.SetConfig(cfg))
			continue
		}
		errs = append(errs, m.reg.Register(cfg))
	}
	for _, name := range m.reg.Names() {
		if _, ok := seen[name]; !ok {
			errs = append(errs, m.reg.Unregister(name))
			metrics.Forget(name)
		}
	}
	metrics.SetRegistered(m.reg.Len())
	m.log.Info("configuration reloaded", "services", len(cfgs))
	return errors.Join(errs...)
}

func (m *Manager) persistConfigs() {
	m.mu.RLock()
	cs := m.cfgStore
	m.mu.RUnlock()
	if cs == nil {
		return
	}
	if err := cs.SaveAll(m.reg.Configs()); err != nil {
		m.log.Warn("persist service configs", "error", err)
		m.bus.PublishError(events.ErrorEvent{Message: "persist configs: " + err.Error(), At: time.Now()})
	}
}

// SaveState writes a snapshot of every service to the configured store.
func (m *Manager) SaveState(ctx context.Context) error {
	m.mu.RLock()
	st := m.st
	m.mu.RUnlock()
	if st == nil {
		return nil
	}
	now := time.Now().UTC()
	stats := m.reg.Statuses()
	snaps := make([]store.Snapshot, len(stats))
	for i, s := range stats {
		snaps[i] = store.Snapshot{
			Name:         s.Name,
			State:        s.StateName,
			PID:          s.PID,
			StartUnix:    s.StartUnix,
			RestartCount: s.RestartCount,
			AutoStart:    s.AutoStart,
			UpdatedAt:    now,
		}
	}
	return st.Save(ctx, snaps)
}

// RestoreState applies the stored auto-start flags and starts auto-start
// services in priority order. A service whose recorded process is still
// alive (same pid and start time) is adopted instead of started again, so
// later snapshots and Stop keep covering it; its name is returned.
func (m *Manager) RestoreState(ctx context.Context) (alive []string, err error) {
	m.mu.RLock()
	st := m.st
	m.mu.RUnlock()
	if st == nil {
		return nil, nil
	}
	snaps, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	var errs []error
	skip := make(map[string]bool)
	for _, sn := range snaps {
		rec, lerr := m.reg.lookup(sn.Name)
		if lerr != nil {
			continue
		}
		rec.SetAutoStart(sn.AutoStart)
		if sn.PID == service.NoPID {
			continue
		}
		id := process.Identity{PID: sn.PID, StartUnix: sn.StartUnix}
		if !id.Alive() {
			continue
		}
		h, aerr := process.Adopt(id)
		if aerr == nil {
			aerr = rec.Adopt(h, sn.RestartCount)
		}
		if aerr != nil {
			if errors.Is(aerr, process.ErrNotAlive) {
				// exited in between; start it normally
				continue
			}
			m.log.Warn("adopt process from previous run", "service", sn.Name, "pid", sn.PID, "error", aerr)
			errs = append(errs, aerr)
			skip[sn.Name] = true
			continue
		}
		m.log.Info("adopted process from previous run", "service", sn.Name, "pid", sn.PID)
		alive = append(alive, sn.Name)
		skip[sn.Name] = true
	}

	for _, rec := range m.reg.startOrder() {
		if skip[rec.Name()] || !rec.Config().AutoStart {
			continue
		}
		if err := rec.Start(); err != nil {
			errs = append(errs, err)
		}
	}
	return alive, errors.Join(errs...)
}

// Shutdown stops every service, saves a final snapshot and releases the
// history dispatcher and all subscribers.
func (m *Manager) Shutdown(ctx context.Context) error {
	errs := []error{m.StopAll()}
	errs = append(errs, m.SaveState(ctx))
	m.mu.Lock()
	h := m.hist
	m.hist = nil
	m.mu.Unlock()
	if h != nil {
		errs = append(errs, h.Close())
	}
	m.bus.Reset()
	return errors.Join(errs...)
}
