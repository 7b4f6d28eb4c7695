//go:build !windows

package process

import (
	"bufio"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

// lookupProc reads the process table entry for pid. On Linux a single
// /proc/<pid>/stat read yields both the run state and the start time; other
// unixes go through gopsutil.
func lookupProc(pid int) (procInfo, bool) {
	if pid <= 0 {
		return procInfo{}, false
	}
	if runtime.GOOS == "linux" {
		return lookupProcLinux(pid)
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return procInfo{}, false
	}
	var info procInfo
	if st, err := p.Status(); err == nil {
		info.zombie = slices.Contains(st, gopsproc.Zombie)
	}
	if ms, err := p.CreateTime(); err == nil && ms > 0 {
		info.startUnix = ms / 1000
	}
	return info, true
}

func lookupProcLinux(pid int) (procInfo, bool) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return procInfo{}, false
	}
	info, ok := parseProcStat(string(b))
	if !ok {
		return procInfo{}, false
	}
	boot, hz := linuxClock()
	if boot == 0 || info.startUnix <= 0 {
		info.startUnix = 0
	} else {
		info.startUnix = boot + info.startUnix/hz
	}
	return info, true
}

// parseProcStat extracts the state and starttime fields from a
// /proc/<pid>/stat line. startUnix is left in clock ticks since boot.
func parseProcStat(line string) (procInfo, bool) {
	// comm is parenthesised and may itself contain ") ".
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return procInfo{}, false
	}
	f := strings.Fields(line[end+2:])
	// f[0] is field 3 (state); starttime is field 22.
	if len(f) < 20 {
		return procInfo{}, false
	}
	ticks, err := strconv.ParseInt(f[19], 10, 64)
	if err != nil {
		return procInfo{}, false
	}
	return procInfo{startUnix: ticks, zombie: f[0] == "Z"}, true
}

var (
	clockOnce sync.Once
	bootUnix  int64
	clockHz   int64
)

// linuxClock returns boot time and USER_HZ, read once per process lifetime.
func linuxClock() (int64, int64) {
	clockOnce.Do(func() {
		clockHz = 100
		if clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK); err == nil && clk > 0 {
			clockHz = clk
		}
		f, err := os.Open("/proc/stat")
		if err != nil {
			return
		}
		defer func() { _ = f.Close() }()
		s := bufio.NewScanner(f)
		for s.Scan() {
			if v, ok := strings.CutPrefix(s.Text(), "btime "); ok {
				bootUnix, _ = strconv.ParseInt(strings.TrimSpace(v), 10, 64)
				return
			}
		}
	})
	return bootUnix, clockHz
}
