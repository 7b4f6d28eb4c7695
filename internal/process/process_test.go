//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

type bufCloser struct {
	strings.Builder
	closed bool
}

func (b *bufCloser) Close() error { b.closed = true; return nil }

func TestSpawnAndWaitExited(t *testing.T) {
	h, err := OSLauncher{}.Spawn(Spec{Path: "/bin/sh", Args: []string{"-c", "exit 3"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if h.PID() <= 0 {
		t.Fatalf("pid not set: %d", h.PID())
	}
	res, err := h.Wait(2 * time.Second)
	if err != nil || res != Exited {
		t.Fatalf("wait: res=%v err=%v", res, err)
	}
	if h.Alive() {
		t.Fatalf("reaped child reported alive")
	}
	if h.ExitErr() == nil {
		t.Fatalf("expected non-nil exit error for exit 3")
	}
}

func TestSpawnMissingExecutable(t *testing.T) {
	_, err := OSLauncher{}.Spawn(Spec{Path: "/definitely/not/here"})
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SpawnError, got %T %v", err, err)
	}
	if se.Path != "/definitely/not/here" {
		t.Fatalf("unexpected path %q", se.Path)
	}
}

func TestSpawnEmptyPath(t *testing.T) {
	_, err := OSLauncher{}.Spawn(Spec{})
	if !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}
}

func TestSpawnBadWorkDir(t *testing.T) {
	_, err := OSLauncher{}.Spawn(Spec{Path: "/bin/true", Dir: filepath.Join(t.TempDir(), "missing")})
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SpawnError for missing cwd, got %v", err)
	}
}

func TestWaitTimeoutStillRunning(t *testing.T) {
	h, err := OSLauncher{}.Spawn(Spec{Path: "/bin/sleep", Args: []string{"5"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer func() { _ = h.Kill(); _, _ = h.Wait(-1) }()

	res, _ := h.Wait(50 * time.Millisecond)
	if res != StillRunning {
		t.Fatalf("expected StillRunning, got %v", res)
	}
	if !h.Alive() {
		t.Fatalf("expected alive")
	}
}

func TestTerminateGraceful(t *testing.T) {
	h, err := OSLauncher{}.Spawn(Spec{Path: "/bin/sleep", Args: []string{"5"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := h.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if res, _ := h.Wait(2 * time.Second); res != Exited {
		t.Fatalf("sleep did not exit on SIGTERM")
	}
	// signalling an exited child is not an error
	if err := h.Terminate(); err != nil {
		t.Fatalf("terminate after exit: %v", err)
	}
}

func TestKillIgnoresTrappedTerm(t *testing.T) {
	h, err := OSLauncher{}.Spawn(Spec{Path: "/bin/sh", Args: []string{"-c", "trap '' TERM; while :; do sleep 0.05; done"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	_ = h.Terminate()
	if res, _ := h.Wait(200 * time.Millisecond); res != StillRunning {
		t.Fatalf("expected trap to ignore SIGTERM")
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if res, _ := h.Wait(2 * time.Second); res != Exited {
		t.Fatalf("expected exit after SIGKILL")
	}
}

func TestSpawnEnvDirAndOutput(t *testing.T) {
	dir := t.TempDir()
	out := &bufCloser{}
	h, err := OSLauncher{}.Spawn(Spec{
		Path:   "/bin/sh",
		Args:   []string{"-c", "echo $FOO; pwd"},
		Env:    []string{"FOO=bar"},
		Dir:    dir,
		Stdout: out,
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if res, _ := h.Wait(2 * time.Second); res != Exited {
		t.Fatalf("expected exit")
	}
	got := out.String()
	if !strings.Contains(got, "bar") {
		t.Fatalf("env not applied: %q", got)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	if !strings.Contains(got, dir) && !strings.Contains(got, resolved) {
		t.Fatalf("workdir not applied: %q", got)
	}
	if !out.closed {
		t.Fatalf("stdout writer not closed after reap")
	}
}

func TestIdentityFencing(t *testing.T) {
	h, err := OSLauncher{}.Spawn(Spec{Path: "/bin/sleep", Args: []string{"5"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer func() { _ = h.Kill(); _, _ = h.Wait(-1) }()

	id := h.Identity()
	if !id.Alive() {
		t.Fatalf("identity of live child not alive")
	}
	if id.StartUnix == 0 {
		t.Skip("start time unavailable on this platform")
	}
	stale := Identity{PID: id.PID, StartUnix: id.StartUnix - 3600}
	if stale.Alive() {
		t.Fatalf("pid with different start time must not be alive")
	}
}

func TestIdentityInvalidPID(t *testing.T) {
	if (Identity{}).Alive() {
		t.Fatalf("zero identity alive")
	}
	if (Identity{PID: -1}).Alive() {
		t.Fatalf("negative pid alive")
	}
}

func TestStartTimeSelf(t *testing.T) {
	st := StartTime(os.Getpid())
	if st == 0 {
		t.Skip("start time unavailable")
	}
	if st > time.Now().Unix() {
		t.Fatalf("start time in the future: %d", st)
	}
}

func TestParseProcStat(t *testing.T) {
	// comm may contain ") " itself; the last one terminates it.
	line := "4242 (we) ird) S 1 4242 4242 0 -1 4194560 120 0 0 0 1 2 0 0 20 0 1 0 98765 1000 50 0 0 0 0 0 0 0 0 0 0 0 0 17 3 0 0 0 0 0\n"
	info, ok := parseProcStat(line)
	if !ok {
		t.Fatalf("parse failed")
	}
	if info.zombie || info.startUnix != 98765 {
		t.Fatalf("unexpected info: %+v", info)
	}
	z, ok := parseProcStat("7 (sh) Z 1 7 7 0 -1 0 0 0 0 0 0 0 0 0 20 0 1 0 55 0 0")
	if !ok || !z.zombie || z.startUnix != 55 {
		t.Fatalf("zombie not detected: %+v ok=%v", z, ok)
	}
	if _, ok := parseProcStat("garbage"); ok {
		t.Fatalf("garbage parsed")
	}
}

func TestUnreapedChildNotAlive(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("zombie detection reads /proc")
	}
	cmd := exec.Command("/bin/true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = cmd.Wait() }()
	id := Identity{PID: cmd.Process.Pid}
	deadline := time.Now().Add(3 * time.Second)
	for id.Alive() {
		if time.Now().After(deadline) {
			t.Fatalf("exited child still reported alive")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
