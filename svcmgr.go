// Package svcmgr is the embeddable API of the service supervisor: register
// services with priorities and dependencies, start them in order and let the
// supervisor keep them running.
package svcmgr

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/svcmgr/internal/config"
	"github.com/loykin/svcmgr/internal/env"
	"github.com/loykin/svcmgr/internal/manager"
	"github.com/loykin/svcmgr/internal/metrics"
	iapi "github.com/loykin/svcmgr/internal/server"
	"github.com/loykin/svcmgr/internal/service"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = service.Config

type Status = service.Status

type State = service.State

type Priority = service.Priority

type Category = service.Category

type ErrorKind = service.ErrorKind

const (
	Stopped  = service.Stopped
	Starting = service.Starting
	Running  = service.Running
	Stopping = service.Stopping
	Failed   = service.Failed
	Unknown  = service.Unknown
)

const (
	Critical = service.Critical
	High     = service.High
	Normal   = service.Normal
	Low      = service.Low
	Idle     = service.Idle
)

const (
	System      = service.System
	Network     = service.Network
	Storage     = service.Storage
	User        = service.User
	Application = service.Application
)

// KindOf returns the failure class of err, or 0 when err is not a
// supervision error.
func KindOf(err error) ErrorKind { return service.KindOf(err) }

// IsNotFound reports whether err was caused by an unregistered name.
func IsNotFound(err error) bool { return service.KindOf(err) == service.KindNotFound }

// Options tune a Manager. Zero values select the defaults.
type Options struct {
	Logger       *slog.Logger
	GlobalEnv    map[string]string
	PollInterval time.Duration
	StartGrace   time.Duration
	// StopConcurrency bounds parallel stops in StopAll; 0 means unbounded.
	StopConcurrency int
}

// Manager is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding.
type Manager struct{ inner *manager.Manager }

func New(opts Options) *Manager {
	return &Manager{inner: manager.NewManager(manager.Options{
		Options: service.Options{
			Sampler:      metrics.NewUsageSampler(),
			Env:          env.FromMap(opts.GlobalEnv),
			Logger:       opts.Logger,
			PollInterval: opts.PollInterval,
			StartGrace:   opts.StartGrace,
		},
		StopConcurrency: opts.StopConcurrency,
	})}
}

// DefaultConfigs is the built-in network/storage/desktop service set.
func DefaultConfigs() []Config { return manager.DefaultConfigs() }

func (m *Manager) Register(c Config) error             { return m.inner.Register(c) }
func (m *Manager) Unregister(name string) error        { return m.inner.Unregister(name) }
func (m *Manager) UpdateConfig(c Config) error         { return m.inner.UpdateConfig(c) }
func (m *Manager) Start(name string) error             { return m.inner.Start(name) }
func (m *Manager) Stop(name string) error              { return m.inner.Stop(name) }
func (m *Manager) Restart(name string) error           { return m.inner.Restart(name) }
func (m *Manager) Enable(name string) error            { return m.inner.Enable(name) }
func (m *Manager) Disable(name string) error           { return m.inner.Disable(name) }
func (m *Manager) ResetRestartCount(name string) error { return m.inner.ResetRestartCount(name) }
func (m *Manager) Status(name string) Status           { return m.inner.Status(name) }
func (m *Manager) Statuses() []Status                  { return m.inner.Statuses() }
func (m *Manager) Names() []string                     { return m.inner.Names() }
func (m *Manager) IsRunning(name string) bool          { return m.inner.IsRunning(name) }
func (m *Manager) StartAll() error                     { return m.inner.StartAll() }
func (m *Manager) StopAll() error                      { return m.inner.StopAll() }

// Shutdown stops every service and releases subscribers.
func (m *Manager) Shutdown(ctx context.Context) error { return m.inner.Shutdown(ctx) }

// OnStatusChange subscribes fn to every state transition. fn runs
// synchronously and must not call back into the transitioning service.
func (m *Manager) OnStatusChange(fn func(name string, from, to State)) (cancel func()) {
	return m.inner.OnStatusChange(fn)
}

// OnError subscribes fn to every reported failure.
func (m *Manager) OnError(fn func(name, message string)) (cancel func()) {
	return m.inner.OnError(fn)
}

// UseConfigFile makes Reload read path and persists config changes to it.
func (m *Manager) UseConfigFile(path string) { m.inner.SetConfigStore(config.NewFileStore(path)) }

// Reload applies the services listed in the file set by UseConfigFile.
func (m *Manager) Reload() error { return m.inner.Reload() }

// LoadServices reads a config file and returns its validated service list.
func LoadServices(path string) ([]Config, error) {
	fc, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return fc.ServiceConfigs()
}

// Handler returns the control API for m mounted under basePath.
func (m *Manager) Handler(basePath string) http.Handler {
	return iapi.NewRouter(m.inner, basePath).Handler()
}

// NewHTTPServer returns an unstarted HTTP server exposing the control API.
func NewHTTPServer(addr, basePath string, m *Manager) *http.Server {
	return iapi.NewServer(addr, basePath, m.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
