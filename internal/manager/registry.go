package manager

import (
	"sort"
	"sync"

	"github.com/loykin/svcmgr/internal/service"
)

type entry struct {
	rec *service.Record
	seq uint64
}

// Registry maps service names to records. Its lock covers only the map and
// is never held across a process-control call.
type Registry struct {
	opts service.Options

	mu      sync.RWMutex
	seq     uint64
	entries map[string]*entry
}

// NewRegistry returns an empty registry. opts.Dependencies is replaced with a
// lookup into the registry itself.
func NewRegistry(opts service.Options) *Registry {
	r := &Registry{entries: make(map[string]*entry)}
	opts.Dependencies = r.dependencyRunning
	r.opts = opts
	return r
}

func (r *Registry) lookup(name string) (*service.Record, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, service.NotFound(name)
	}
	return e.rec, nil
}

// dependencyRunning is the point-in-time dependency check handed to records.
func (r *Registry) dependencyRunning(name string) bool {
	rec, err := r.lookup(name)
	return err == nil && rec.State() == service.Running
}

// Register adds a Stopped record for cfg. A duplicate name fails without
// touching the existing record.
func (r *Registry) Register(cfg service.Config) error {
	rec, err := service.NewRecord(cfg, r.opts)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[cfg.Name]; ok {
		return service.Duplicate(cfg.Name)
	}
	r.seq++
	r.entries[cfg.Name] = &entry{rec: rec, seq: r.seq}
	return nil
}

// Unregister stops the service and then removes it.
func (r *Registry) Unregister(name string) error {
	rec, err := r.lookup(name)
	if err != nil {
		return err
	}
	stopErr := rec.Close()
	r.mu.Lock()
	if e, ok := r.entries[name]; ok && e.rec == rec {
		delete(r.entries, name)
	}
	r.mu.Unlock()
	return stopErr
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) Has(name string) bool {
	_, err := r.lookup(name)
	return err == nil
}

func (r *Registry) Config(name string) (service.Config, error) {
	rec, err := r.lookup(name)
	if err != nil {
		return service.Config{}, err
	}
	return rec.Config(), nil
}

// SetConfig replaces the configuration of the already registered cfg.Name.
func (r *Registry) SetConfig(cfg service.Config) error {
	rec, err := r.lookup(cfg.Name)
	if err != nil {
		return err
	}
	return rec.UpdateConfig(cfg)
}

// Status never fails; unknown names yield the Unknown placeholder.
func (r *Registry) Status(name string) service.Status {
	rec, err := r.lookup(name)
	if err != nil {
		return service.NotFoundStatus(name)
	}
	return rec.Status()
}

// IsRunning reports Running or Starting.
func (r *Registry) IsRunning(name string) bool {
	rec, err := r.lookup(name)
	if err != nil {
		return false
	}
	st := rec.State()
	return st == service.Running || st == service.Starting
}

func (r *Registry) Enable(name string) error  { return r.setAutoStart(name, true) }
func (r *Registry) Disable(name string) error { return r.setAutoStart(name, false) }

func (r *Registry) setAutoStart(name string, v bool) error {
	rec, err := r.lookup(name)
	if err != nil {
		return err
	}
	rec.SetAutoStart(v)
	return nil
}

func (r *Registry) Start(name string) error {
	rec, err := r.lookup(name)
	if err != nil {
		return err
	}
	return rec.Start()
}

func (r *Registry) Stop(name string) error {
	rec, err := r.lookup(name)
	if err != nil {
		return err
	}
	return rec.Stop()
}

func (r *Registry) Restart(name string) error {
	rec, err := r.lookup(name)
	if err != nil {
		return err
	}
	return rec.Restart()
}

func (r *Registry) ResetRestartCount(name string) error {
	rec, err := r.lookup(name)
	if err != nil {
		return err
	}
	rec.ResetRestarts()
	return nil
}

// records returns the records in registration order.
func (r *Registry) records() []*service.Record {
	r.mu.RLock()
	es := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		es = append(es, e)
	}
	r.mu.RUnlock()
	sort.Slice(es, func(i, j int) bool { return es[i].seq < es[j].seq })
	out := make([]*service.Record, len(es))
	for i, e := range es {
		out[i] = e.rec
	}
	return out
}

// Names lists registered names in registration order.
func (r *Registry) Names() []string {
	recs := r.records()
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.Name()
	}
	return out
}

func (r *Registry) Configs() []service.Config {
	recs := r.records()
	out := make([]service.Config, len(recs))
	for i, rec := range recs {
		out[i] = rec.Config()
	}
	return out
}

func (r *Registry) Statuses() []service.Status {
	recs := r.records()
	out := make([]service.Status, len(recs))
	for i, rec := range recs {
		out[i] = rec.Status()
	}
	return out
}

// startOrder returns records sorted by ascending priority, ties kept in
// registration order.
func (r *Registry) startOrder() []*service.Record {
	recs := r.records()
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Config().Priority < recs[j].Config().Priority
	})
	return recs
}
