// Package daemon assembles a running supervisor from a config file: the
// service manager, its persistence and history collaborators, the event
// bridge and the HTTP listeners, all run under one suture tree.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/loykin/svcmgr/internal/config"
	"github.com/loykin/svcmgr/internal/env"
	"github.com/loykin/svcmgr/internal/events/natsbridge"
	"github.com/loykin/svcmgr/internal/history"
	histfactory "github.com/loykin/svcmgr/internal/history/factory"
	"github.com/loykin/svcmgr/internal/logger"
	"github.com/loykin/svcmgr/internal/manager"
	"github.com/loykin/svcmgr/internal/metrics"
	"github.com/loykin/svcmgr/internal/server"
	"github.com/loykin/svcmgr/internal/service"
	"github.com/loykin/svcmgr/internal/store"
	storefactory "github.com/loykin/svcmgr/internal/store/factory"
	stls "github.com/loykin/svcmgr/internal/tls"
)

// ShutdownTimeout bounds the final stop-all and snapshot on exit.
const ShutdownTimeout = 30 * time.Second

// Options tune daemon assembly beyond what the config file carries.
type Options struct {
	// ConfigPath is the file Reload re-reads and config changes are written
	// back to. Empty disables both.
	ConfigPath string
	// Defaults registers the built-in service set when the config has none.
	Defaults bool
	// Logger overrides the logger built from the config's log section.
	Logger *slog.Logger
}

// Daemon owns every long-lived component of a supervisor process.
type Daemon struct {
	cfg     *config.File
	log     *slog.Logger
	closers []io.Closer

	mgr    *manager.Manager
	st     store.Store
	bridge *natsbridge.Bridge
	sup    *suture.Supervisor

	apiAddr string
}

// New builds a daemon from fc. Nothing is started until Run.
func New(fc *config.File, opts Options) (*Daemon, error) {
	d := &Daemon{cfg: fc, log: opts.Logger}
	if d.log == nil {
		l, c := logger.New(fc.Log)
		d.log = l
		d.closers = append(d.closers, c)
	}
	// Anything opened so far is released unless construction completes.
	ok := false
	defer func() {
		if !ok {
			d.closeAll()
		}
	}()

	global, err := fc.GlobalEnv()
	if err != nil {
		return nil, err
	}
	cfgs, err := fc.ServiceConfigs()
	if err != nil {
		return nil, err
	}
	if len(cfgs) == 0 && opts.Defaults {
		cfgs = manager.DefaultConfigs()
	}

	d.mgr = manager.NewManager(manager.Options{Options: service.Options{
		Sampler:      metrics.NewUsageSampler(),
		Env:          env.FromMap(global),
		Output:       outputFunc(fc.Log, d.log),
		Logger:       d.log,
		PollInterval: fc.PollInterval,
		StartGrace:   fc.StartGrace,
	}})
	for _, c := range cfgs {
		if err := d.mgr.Register(c); err != nil {
			return nil, err
		}
	}
	// Installed after the initial registration so loading the file does not
	// immediately rewrite it.
	if opts.ConfigPath != "" {
		d.mgr.SetConfigStore(config.NewFileStore(opts.ConfigPath))
	}

	if err := d.setupStore(); err != nil {
		return nil, err
	}
	if err := d.setupHistory(); err != nil {
		return nil, err
	}
	if err := d.setupNATS(); err != nil {
		return nil, err
	}
	if err := d.setupTree(); err != nil {
		return nil, err
	}
	ok = true
	return d, nil
}

// Manager returns the service manager driven by this daemon.
func (d *Daemon) Manager() *manager.Manager { return d.mgr }

// APIAddr is the listen address of the control API.
func (d *Daemon) APIAddr() string { return d.apiAddr }

func (d *Daemon) setupStore() error {
	if d.cfg.Store.DSN == "" {
		return nil
	}
	st, err := storefactory.NewFromDSN(d.cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	d.st = st
	d.closers = append(d.closers, st)
	if err := d.mgr.SetStore(st); err != nil {
		return fmt.Errorf("prepare state store: %w", err)
	}
	return nil
}

func (d *Daemon) setupHistory() error {
	if len(d.cfg.History.DSNs) == 0 {
		return nil
	}
	sinks := make([]history.Sink, 0, len(d.cfg.History.DSNs))
	for _, dsn := range d.cfg.History.DSNs {
		s, err := histfactory.NewSinkFromDSN(dsn)
		if err != nil {
			for _, prev := range sinks {
				if c, ok := prev.(io.Closer); ok {
					_ = c.Close()
				}
			}
			return fmt.Errorf("open history sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	disp := history.NewDispatcher(sinks, history.DispatcherOptions{
		QueueSize: d.cfg.History.QueueSize,
		Logger:    d.log,
	})
	d.mgr.SetHistory(disp)
	// Shutdown closes it first on the normal path; a second Close is a no-op.
	d.closers = append(d.closers, disp)
	return nil
}

func (d *Daemon) setupNATS() error {
	if d.cfg.NATS.URL == "" {
		return nil
	}
	b, err := natsbridge.Connect(d.cfg.NATS.URL, d.cfg.NATS.Prefix, d.log)
	if err != nil {
		return err
	}
	b.Attach(d.mgr.Bus())
	d.bridge = b
	d.closers = append(d.closers, b)
	return nil
}

func (d *Daemon) setupTree() error {
	hook := (&sutureslog.Handler{Logger: d.log}).MustHook()
	d.sup = suture.New("svcmgr", suture.Spec{
		EventHook: hook,
		Timeout:   10 * time.Second,
	})

	d.apiAddr = d.cfg.Server.Listen
	api := server.NewServer(d.apiAddr, d.cfg.Server.BasePath, d.mgr,
		server.WithRateLimit(d.cfg.Server.RateLimit, d.cfg.Server.RateBurst))
	tlsCfg, err := stls.ServerConfig(d.cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("api tls: %w", err)
	}
	api.TLSConfig = tlsCfg
	apiSvc := newHTTPService("api-server", api)
	apiSvc.tls = tlsCfg != nil
	d.sup.Add(apiSvc)

	if d.cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		if err := reg.Register(metrics.NewStatusCollector(d.mgr.Statuses)); err != nil {
			return fmt.Errorf("register status collector: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HandlerFor(reg))
		srv := &http.Server{Addr: d.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		d.sup.Add(newHTTPService("metrics-server", srv))
	}

	if d.st != nil && d.cfg.SnapshotInterval > 0 {
		d.sup.Add(&snapshotService{saver: d.mgr, interval: d.cfg.SnapshotInterval, log: d.log})
	}
	return nil
}

// Run starts the configured services, serves until ctx is cancelled and then
// stops everything. Services still alive from a previous run (per the state
// store) are left alone.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.closeAll()

	if d.st != nil {
		alive, err := d.mgr.RestoreState(ctx)
		if len(alive) > 0 {
			d.log.Info("adopted services left running by a previous daemon", "services", alive)
		}
		if err != nil {
			d.log.Error("restore state", "error", err)
		}
	} else if err := d.mgr.StartAll(); err != nil {
		d.log.Error("start services", "error", err)
	}

	d.log.Info("svcmgr running", "api", d.apiAddr, "services", len(d.mgr.Names()))
	serveErr := d.sup.Serve(ctx)
	if ctx.Err() != nil {
		serveErr = nil
	}

	sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err := errors.Join(serveErr, d.mgr.Shutdown(sctx))
	d.log.Info("svcmgr stopped")
	return err
}

// Reload re-reads the config file and applies it to the registry.
func (d *Daemon) Reload() error { return d.mgr.Reload() }

func (d *Daemon) closeAll() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			d.log.Warn("close", "error", err)
		}
	}
	d.closers = nil
}

// outputFunc routes each service's stdout/stderr to rotating files when the
// log section names a directory or paths.
func outputFunc(lc logger.Config, log *slog.Logger) service.OutputFunc {
	if lc.File.Dir == "" && lc.File.StdoutPath == "" && lc.File.StderrPath == "" {
		return nil
	}
	return func(name string) (io.WriteCloser, io.WriteCloser) {
		stdout, stderr, err := lc.ProcessWriters(name)
		if err != nil {
			log.Warn("service log files unavailable", "service", name, "error", err)
			return nil, nil
		}
		return stdout, stderr
	}
}
