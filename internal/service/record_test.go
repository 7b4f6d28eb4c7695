package service

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastOpts(l *fakeLauncher, n Notifier) Options {
	return Options{
		Launcher:     l,
		Notifier:     n,
		PollInterval: 10 * time.Millisecond,
		StartGrace:   5 * time.Millisecond,
		KillTimeout:  time.Second,
	}
}

func baseConfig(name string) Config {
	return Config{
		Name:               name,
		ExecPath:           "/usr/bin/" + name,
		Priority:           Normal,
		MaxRestartAttempts: 3,
		ShutdownGrace:      50 * time.Millisecond,
	}
}

func TestStartStopLifecycle(t *testing.T) {
	l := &fakeLauncher{}
	rec := &recorder{}
	r, err := NewRecord(baseConfig("net"), fastOpts(l, rec))
	require.NoError(t, err)

	require.NoError(t, r.Start())
	st := r.Status()
	assert.Equal(t, Running, st.State)
	assert.Equal(t, 1001, st.PID)
	assert.Equal(t, 1, st.RestartCount)
	assert.False(t, st.StartedAt.IsZero())

	require.NoError(t, r.Stop())
	st = r.Status()
	assert.Equal(t, Stopped, st.State)
	assert.Equal(t, NoPID, st.PID)
	assert.Equal(t, 1, st.RestartCount, "restart count survives stop")

	assert.Equal(t, []State{Starting, Running, Stopping, Stopped}, rec.states())
	assert.EqualValues(t, 1, l.last().terms.Load())
	assert.EqualValues(t, 0, l.last().kills.Load())
}

func TestStartIsIdempotent(t *testing.T) {
	l := &fakeLauncher{}
	rec := &recorder{}
	r, err := NewRecord(baseConfig("net"), fastOpts(l, rec))
	require.NoError(t, err)
	defer func() { _ = r.Stop() }()

	require.NoError(t, r.Start())
	before := len(rec.transitions())
	require.NoError(t, r.Start())

	assert.Len(t, rec.transitions(), before, "second start must not emit")
	assert.Equal(t, 1, r.Status().RestartCount)
	assert.Equal(t, 1, l.count())
}

func TestStopWhenStoppedIsNoop(t *testing.T) {
	rec := &recorder{}
	r, err := NewRecord(baseConfig("net"), fastOpts(&fakeLauncher{}, rec))
	require.NoError(t, err)
	require.NoError(t, r.Stop())
	assert.Empty(t, rec.transitions())
}

func TestDependencyUnreadyLeavesStateUnchanged(t *testing.T) {
	l := &fakeLauncher{}
	rec := &recorder{}
	opts := fastOpts(l, rec)
	opts.Dependencies = func(string) bool { return false }
	cfg := baseConfig("app")
	cfg.Dependencies = []string{"net"}
	r, err := NewRecord(cfg, opts)
	require.NoError(t, err)

	err = r.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDependencyUnready))
	assert.Equal(t, KindDependencyUnready, KindOf(err))

	st := r.Status()
	assert.Equal(t, Stopped, st.State)
	assert.Equal(t, 0, st.RestartCount)
	assert.Contains(t, st.LastError, `"net"`)
	assert.Empty(t, rec.transitions())
	assert.Len(t, rec.errors(), 1)
	assert.Zero(t, l.count())
}

func TestSpawnFailureGoesFailed(t *testing.T) {
	l := &fakeLauncher{failWith: errors.New("permission denied")}
	rec := &recorder{}
	r, err := NewRecord(baseConfig("net"), fastOpts(l, rec))
	require.NoError(t, err)

	err = r.Start()
	require.ErrorIs(t, err, ErrSpawnFailed)
	st := r.Status()
	assert.Equal(t, Failed, st.State)
	assert.Equal(t, NoPID, st.PID)
	assert.Equal(t, 0, st.RestartCount, "only successful spawns count")
	assert.Contains(t, st.LastError, "permission denied")
	assert.Equal(t, []State{Starting, Failed}, rec.states())

	// Failed without a process stops directly
	require.NoError(t, r.Stop())
	assert.Equal(t, Stopped, r.State())
}

func TestImmediateExitGoesFailed(t *testing.T) {
	l := &fakeLauncher{dieAtOnce: true}
	rec := &recorder{}
	r, err := NewRecord(baseConfig("net"), fastOpts(l, rec))
	require.NoError(t, err)

	err = r.Start()
	require.ErrorIs(t, err, ErrImmediateExit)
	st := r.Status()
	assert.Equal(t, Failed, st.State)
	assert.Equal(t, NoPID, st.PID)
	assert.Equal(t, 1, st.RestartCount)
	assert.Contains(t, st.LastError, "exited immediately")
}

func TestStopEscalatesToKill(t *testing.T) {
	l := &fakeLauncher{ignoreTerm: true}
	r, err := NewRecord(baseConfig("net"), fastOpts(l, &recorder{}))
	require.NoError(t, err)
	require.NoError(t, r.Start())

	start := time.Now()
	require.NoError(t, r.Stop())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "grace period honored")
	assert.EqualValues(t, 1, l.last().kills.Load())
	assert.Equal(t, Stopped, r.State())
}

func TestAutoRestartBounded(t *testing.T) {
	l := &fakeLauncher{}
	rec := &recorder{}
	cfg := baseConfig("net")
	cfg.RestartDelay = 20 * time.Millisecond
	r, err := NewRecord(cfg, fastOpts(l, rec))
	require.NoError(t, err)
	require.NoError(t, r.Start())

	// crash each process as soon as it is running
	for i := 1; i <= 3; i++ {
		require.Eventually(t, func() bool { return l.count() == i && r.State() == Running }, 2*time.Second, 5*time.Millisecond)
		l.last().exit()
	}
	require.Eventually(t, func() bool { return r.State() == Failed }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, l.count(), "no restart after attempts are exhausted")
	st := r.Status()
	assert.Equal(t, Failed, st.State)
	assert.Equal(t, 3, st.RestartCount)
	assert.Contains(t, st.LastError, "process exited unexpectedly")

	var unexpected int
	for _, e := range rec.errors() {
		if errors.Is(e, ErrUnexpectedExit) {
			unexpected++
		}
	}
	assert.Equal(t, 3, unexpected)

	// explicit start is still allowed from sticky Failed
	require.NoError(t, r.Start())
	assert.Equal(t, Running, r.State())
	require.NoError(t, r.Stop())
}

func TestStopWinsAgainstPendingRestart(t *testing.T) {
	l := &fakeLauncher{}
	rec := &recorder{}
	cfg := baseConfig("net")
	cfg.RestartDelay = 200 * time.Millisecond
	r, err := NewRecord(cfg, fastOpts(l, rec))
	require.NoError(t, err)
	require.NoError(t, r.Start())

	l.last().exit()
	require.Eventually(t, func() bool { return r.State() == Failed }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop())
	after := len(rec.transitions())
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, Stopped, r.State())
	assert.Equal(t, 1, l.count(), "pending auto-restart must not spawn")
	assert.Len(t, rec.transitions(), after, "no events after stop returned")
}

func TestStopWinsAgainstInFlightRestart(t *testing.T) {
	l := &fakeLauncher{}
	rec := &recorder{}
	opts := fastOpts(l, rec)
	opts.StartGrace = 300 * time.Millisecond
	r, err := NewRecord(baseConfig("net"), opts)
	require.NoError(t, err)
	require.NoError(t, r.Start())

	l.last().exit()
	// the monitor is now inside the restart, waiting out the liveness grace
	require.Eventually(t, func() bool { return l.count() == 2 }, 2*time.Second, time.Millisecond)
	require.NoError(t, r.Stop())
	after := len(rec.transitions())

	st := r.Status()
	assert.Equal(t, Stopped, st.State)
	assert.Equal(t, NoPID, st.PID)
	assert.False(t, l.last().Alive(), "restarted process must be terminated")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, l.count())
	assert.Len(t, rec.transitions(), after, "no events after stop returned")
	assert.Equal(t, Stopped, r.State())
}

func TestAdoptRunsUnderMonitor(t *testing.T) {
	l := &fakeLauncher{}
	rec := &recorder{}
	r, err := NewRecord(baseConfig("net"), fastOpts(l, rec))
	require.NoError(t, err)

	h := &fakeHandle{pid: 777, done: make(chan struct{})}
	require.NoError(t, r.Adopt(h, 2))
	st := r.Status()
	assert.Equal(t, Running, st.State)
	assert.Equal(t, 777, st.PID)
	assert.Equal(t, 2, st.RestartCount)
	assert.Equal(t, int64(1), st.StartUnix)
	assert.Equal(t, 0, l.count())

	// a second adopt or a start is refused or a no-op while running
	assert.Error(t, r.Adopt(&fakeHandle{pid: 778, done: make(chan struct{})}, 0))
	require.NoError(t, r.Start())
	assert.Equal(t, 0, l.count())

	// the monitor treats the adopted process like a spawned one
	h.exit()
	require.Eventually(t, func() bool { return l.count() == 1 && r.State() == Running }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, r.Status().RestartCount)

	require.NoError(t, r.Stop())
	assert.Equal(t, []State{Running, Failed, Starting, Running, Stopping, Stopped}, rec.states())
}

func TestAdoptStopTerminates(t *testing.T) {
	r, err := NewRecord(baseConfig("net"), fastOpts(&fakeLauncher{}, nil))
	require.NoError(t, err)

	dead := &fakeHandle{pid: 5, done: make(chan struct{})}
	dead.exit()
	assert.Error(t, r.Adopt(dead, 0))
	assert.Equal(t, Stopped, r.State())

	h := &fakeHandle{pid: 6, done: make(chan struct{})}
	require.NoError(t, r.Adopt(h, 0))
	require.NoError(t, r.Stop())
	assert.EqualValues(t, 1, h.terms.Load())
	assert.False(t, h.Alive())
	assert.Equal(t, NoPID, r.Status().PID)
}

func TestMonitorRefreshesUsage(t *testing.T) {
	l := &fakeLauncher{}
	opts := fastOpts(l, nil)
	opts.Sampler = samplerFunc(func(pid int) (Usage, bool) {
		return Usage{MemoryBytes: uint64(pid) * 10, CPUPercent: 1.5}, true
	})
	r, err := NewRecord(baseConfig("net"), opts)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer func() { _ = r.Stop() }()

	require.Eventually(t, func() bool { return r.Status().MemoryBytes == 10010 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.5, r.Status().CPUPercent)
}

func TestDependencyLossFailsService(t *testing.T) {
	l := &fakeLauncher{}
	rec := &recorder{}
	var up atomic.Bool
	up.Store(true)
	opts := fastOpts(l, rec)
	opts.Dependencies = func(string) bool { return up.Load() }
	cfg := baseConfig("app")
	cfg.Dependencies = []string{"net"}
	cfg.FailOnDependencyLoss = true
	cfg.MaxRestartAttempts = 1
	r, err := NewRecord(cfg, opts)
	require.NoError(t, err)
	require.NoError(t, r.Start())

	up.Store(false)
	require.Eventually(t, func() bool { return r.State() == Failed }, time.Second, 5*time.Millisecond)
	assert.False(t, l.last().Alive())
	assert.Contains(t, r.Status().LastError, "lost")
	require.NoError(t, r.Stop())
}

func TestUpdateConfigAppliesOnNextStart(t *testing.T) {
	l := &fakeLauncher{}
	r, err := NewRecord(baseConfig("net"), fastOpts(l, nil))
	require.NoError(t, err)
	require.NoError(t, r.Start())

	cfg := baseConfig("net")
	cfg.Description = "updated"
	require.NoError(t, r.UpdateConfig(cfg))
	assert.Equal(t, Running, r.State(), "running process unaffected")
	assert.Equal(t, "updated", r.Config().Description)

	renamed := baseConfig("other")
	assert.ErrorIs(t, r.UpdateConfig(renamed), ErrConfigInvalid)

	bad := baseConfig("net")
	bad.ExecPath = ""
	assert.ErrorIs(t, r.UpdateConfig(bad), ErrConfigInvalid)
	require.NoError(t, r.Stop())
}

func TestResetRestartsAndClose(t *testing.T) {
	l := &fakeLauncher{}
	r, err := NewRecord(baseConfig("net"), fastOpts(l, nil))
	require.NoError(t, err)
	require.NoError(t, r.Start())
	r.ResetRestarts()
	assert.Equal(t, 0, r.Status().RestartCount)

	require.NoError(t, r.Close())
	assert.Equal(t, Stopped, r.State())
	assert.ErrorIs(t, r.Start(), ErrNotFound)
}

func TestRestart(t *testing.T) {
	l := &fakeLauncher{}
	cfg := baseConfig("net")
	cfg.RestartDelay = 10 * time.Millisecond
	r, err := NewRecord(cfg, fastOpts(l, nil))
	require.NoError(t, err)
	require.NoError(t, r.Start())
	require.NoError(t, r.Restart())
	assert.Equal(t, Running, r.State())
	assert.Equal(t, 2, r.Status().RestartCount)
	assert.False(t, l.spawned[0].Alive())
	require.NoError(t, r.Stop())
}

func TestNewRecordRejectsInvalid(t *testing.T) {
	_, err := NewRecord(Config{Name: "x"}, Options{})
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestRealProcessLifecycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	rec := &recorder{}
	cfg := Config{
		Name:               "sleeper",
		ExecPath:           "/bin/sh",
		Args:               []string{"-c", "sleep 5"},
		Env:                map[string]string{"SVCMGR_TEST": "1"},
		MaxRestartAttempts: 1,
		ShutdownGrace:      time.Second,
	}
	r, err := NewRecord(cfg, Options{Notifier: rec, PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, r.Start())
	st := r.Status()
	require.Equal(t, Running, st.State)
	assert.Greater(t, st.PID, 0)

	require.NoError(t, r.Stop())
	assert.Equal(t, NoPID, r.Status().PID)
	assert.Equal(t, []State{Starting, Running, Stopping, Stopped}, rec.states())
}

func TestRealProcessCrashAndRestart(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	cfg := Config{
		Name:               "crasher",
		ExecPath:           "/bin/sh",
		Args:               []string{"-c", "sleep 0.2; exit 1"},
		RestartDelay:       20 * time.Millisecond,
		MaxRestartAttempts: 2,
	}
	r, err := NewRecord(cfg, Options{PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, r.Start())

	require.Eventually(t, func() bool {
		st := r.Status()
		return st.State == Failed && st.RestartCount == 2
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, r.Stop())
}

type samplerFunc func(pid int) (Usage, bool)

func (f samplerFunc) Sample(pid int) (Usage, bool) { return f(pid) }
