package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Priority orders startAll; lower values start earlier.
type Priority int

const (
	Critical Priority = iota
	High
	Normal
	Low
	Idle
)

var priorityNames = [...]string{"critical", "high", "normal", "low", "idle"}

func (p Priority) String() string {
	if p >= Critical && p <= Idle {
		return priorityNames[p]
	}
	return "priority(" + strconv.Itoa(int(p)) + ")"
}

// ParsePriority accepts a name ("critical") or its numeric value ("0").
// An empty string yields Normal.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Normal, nil
	}
	for i, n := range priorityNames {
		if n == s {
			return Priority(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= int(Critical) && n <= int(Idle) {
		return Priority(n), nil
	}
	return Normal, fmt.Errorf("unknown priority %q", s)
}

// Category is informational; it does not affect scheduling.
type Category int

const (
	System Category = iota
	Network
	Storage
	User
	Application
)

var categoryNames = [...]string{"system", "network", "storage", "user", "application"}

func (c Category) String() string {
	if c >= System && c <= Application {
		return categoryNames[c]
	}
	return "category(" + strconv.Itoa(int(c)) + ")"
}

// ParseCategory maps a category name; empty yields Application.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Application, nil
	}
	for i, n := range categoryNames {
		if n == s {
			return Category(i), nil
		}
	}
	return Application, fmt.Errorf("unknown category %q", s)
}

// Config describes one supervised service.
type Config struct {
	Name               string
	Description        string
	Category           Category
	Priority           Priority
	ExecPath           string
	Args               []string
	Env                map[string]string
	WorkDir            string
	Dependencies       []string
	AutoStart          bool
	RestartDelay       time.Duration
	MaxRestartAttempts int
	ShutdownGrace      time.Duration
	// FailOnDependencyLoss stops a Running service whose dependency is no
	// longer Running and treats it like an unexpected exit.
	FailOnDependencyLoss bool
}

// DefaultShutdownGrace applies when ShutdownGrace is zero.
const DefaultShutdownGrace = 5 * time.Second

// Validate checks the config for values no service could run with.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.ContainsAny(c.Name, "/ \t\n") {
		problems = append(problems, "name must not contain '/' or whitespace")
	}
	if c.ExecPath == "" {
		problems = append(problems, "exec path is required")
	}
	if c.Priority < Critical || c.Priority > Idle {
		problems = append(problems, "priority out of range")
	}
	if c.MaxRestartAttempts < 0 {
		problems = append(problems, "max restart attempts must be non-negative")
	}
	if c.RestartDelay < 0 || c.ShutdownGrace < 0 {
		problems = append(problems, "durations must be non-negative")
	}
	for _, d := range c.Dependencies {
		if d == c.Name {
			problems = append(problems, "service cannot depend on itself")
			break
		}
	}
	if len(problems) > 0 {
		return &Error{Kind: KindConfigInvalid, Service: c.Name, Err: fmt.Errorf("%s", strings.Join(problems, "; "))}
	}
	return nil
}

// Clone returns a deep copy so callers cannot alias a record's slices or maps.
func (c Config) Clone() Config {
	out := c
	out.Args = append([]string(nil), c.Args...)
	out.Dependencies = append([]string(nil), c.Dependencies...)
	if c.Env != nil {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = v
		}
	}
	return out
}

func (c Config) grace() time.Duration {
	if c.ShutdownGrace <= 0 {
		return DefaultShutdownGrace
	}
	return c.ShutdownGrace
}
