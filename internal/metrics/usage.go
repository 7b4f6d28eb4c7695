package metrics

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/svcmgr/internal/service"
)

const maxCachedProcs = 256

// UsageSampler reads RSS and CPU percentage through gopsutil. It keeps the
// gopsutil handle per pid so CPUPercent is computed between successive
// samples instead of blocking for an interval.
type UsageSampler struct {
	mu    sync.Mutex
	procs map[int]*process.Process
}

func NewUsageSampler() *UsageSampler {
	return &UsageSampler{procs: make(map[int]*process.Process)}
}

func (s *UsageSampler) Sample(pid int) (service.Usage, bool) {
	if pid <= 0 {
		return service.Usage{}, false
	}
	p, err := s.proc(pid)
	if err != nil {
		slog.Debug("usage sampler: process lookup failed", "pid", pid, "error", err)
		return service.Usage{}, false
	}
	var u service.Usage
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		u.MemoryBytes = mem.RSS
	}
	if cpu, err := p.Percent(0); err == nil {
		u.CPUPercent = cpu
	}
	return u, true
}

func (s *UsageSampler) proc(pid int) (*process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.procs[pid]; ok {
		return p, nil
	}
	if len(s.procs) >= maxCachedProcs {
		s.pruneLocked()
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	s.procs[pid] = p
	return p, nil
}

func (s *UsageSampler) pruneLocked() {
	for pid, p := range s.procs {
		if ok, err := p.IsRunning(); err != nil || !ok {
			delete(s.procs, pid)
		}
	}
}

// Forget drops the cached handle for pid.
func (s *UsageSampler) Forget(pid int) {
	s.mu.Lock()
	delete(s.procs, pid)
	s.mu.Unlock()
}

var (
	memoryDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "memory_bytes"),
		"Last sampled resident memory of the service process.",
		[]string{"name"}, nil,
	)
	cpuDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "cpu_percent"),
		"Last sampled CPU usage percentage of the service process.",
		[]string{"name"}, nil,
	)
	restartCountDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, subsystem, "restart_count"),
		"Spawn attempts recorded for the service since its last reset.",
		[]string{"name"}, nil,
	)
)

// StatusCollector exports per-service usage gauges at scrape time from the
// statuses returned by source.
type StatusCollector struct {
	source func() []service.Status
}

func NewStatusCollector(source func() []service.Status) *StatusCollector {
	return &StatusCollector{source: source}
}

func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- memoryDesc
	ch <- cpuDesc
	ch <- restartCountDesc
}

func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.source() {
		ch <- prometheus.MustNewConstMetric(restartCountDesc, prometheus.GaugeValue, float64(st.RestartCount), st.Name)
		if st.PID == service.NoPID {
			continue
		}
		ch <- prometheus.MustNewConstMetric(memoryDesc, prometheus.GaugeValue, float64(st.MemoryBytes), st.Name)
		ch <- prometheus.MustNewConstMetric(cpuDesc, prometheus.GaugeValue, st.CPUPercent, st.Name)
	}
}
