package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/svcmgr/internal/logger"
	"github.com/loykin/svcmgr/internal/service"
	stls "github.com/loykin/svcmgr/internal/tls"
)

// EnvPrefix is the prefix for environment overrides of daemon settings,
// e.g. SVCMGR_SERVER_LISTEN.
const EnvPrefix = "SVCMGR"

// File represents the top-level config document (toml, yaml or json).
type File struct {
	Env              []string      `mapstructure:"env"`
	EnvFiles         []string      `mapstructure:"env_files"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	StartGrace       time.Duration `mapstructure:"start_grace"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	Log              logger.Config `mapstructure:"log"`
	Server           ServerConfig  `mapstructure:"server"`
	Metrics          MetricsConfig `mapstructure:"metrics"`
	Store            StoreConfig   `mapstructure:"store"`
	History          HistoryConfig `mapstructure:"history"`
	NATS             NATSConfig    `mapstructure:"nats"`
	Services         []ServiceSpec `mapstructure:"services"`
}

type ServerConfig struct {
	Listen    string      `mapstructure:"listen"`
	BasePath  string      `mapstructure:"base_path"`
	RateLimit float64     `mapstructure:"rate_limit"` // POST requests per second, 0 = unlimited
	RateBurst int         `mapstructure:"rate_burst"`
	TLS       stls.Config `mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type HistoryConfig struct {
	DSNs      []string `mapstructure:"dsns"`
	QueueSize int      `mapstructure:"queue_size"`
}

type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// ServiceSpec is the on-disk form of service.Config.
type ServiceSpec struct {
	Name                 string        `mapstructure:"name"`
	Description          string        `mapstructure:"description"`
	Category             string        `mapstructure:"category"`
	Priority             string        `mapstructure:"priority"`
	ExecPath             string        `mapstructure:"exec_path"`
	Args                 []string      `mapstructure:"args"`
	Env                  []string      `mapstructure:"env"` // KEY=VALUE; viper lowercases map keys
	WorkDir              string        `mapstructure:"workdir"`
	Dependencies         []string      `mapstructure:"depends_on"`
	AutoStart            bool          `mapstructure:"auto_start"`
	RestartDelay         time.Duration `mapstructure:"restart_delay"`
	MaxRestartAttempts   int           `mapstructure:"max_restart_attempts"`
	ShutdownGrace        time.Duration `mapstructure:"shutdown_grace"`
	FailOnDependencyLoss bool          `mapstructure:"fail_on_dependency_loss"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("poll_interval", service.DefaultPollInterval)
	v.SetDefault("start_grace", service.DefaultStartGrace)
	v.SetDefault("snapshot_interval", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("store.dsn", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.prefix", "svcmgr")
}

// Load reads path (format chosen by extension). An empty path yields the
// defaults. Daemon settings can be overridden from SVCMGR_* variables.
func Load(path string) (*File, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc File
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &fc, nil
}

// ServiceConfigs converts and validates every [[services]] entry. Duplicate
// names are rejected.
func (f *File) ServiceConfigs() ([]service.Config, error) {
	return specsToConfigs(f.Services)
}

func specsToConfigs(specs []ServiceSpec) ([]service.Config, error) {
	out := make([]service.Config, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		c, err := s.ToConfig()
		if err != nil {
			return nil, err
		}
		if seen[c.Name] {
			return nil, &service.Error{Kind: service.KindConfigInvalid, Service: c.Name, Err: fmt.Errorf("defined more than once")}
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	return out, nil
}

// ToConfig converts s into a validated service.Config.
func (s ServiceSpec) ToConfig() (service.Config, error) {
	prio, err := service.ParsePriority(s.Priority)
	if err != nil {
		return service.Config{}, &service.Error{Kind: service.KindConfigInvalid, Service: s.Name, Err: err}
	}
	cat, err := service.ParseCategory(s.Category)
	if err != nil {
		return service.Config{}, &service.Error{Kind: service.KindConfigInvalid, Service: s.Name, Err: err}
	}
	c := service.Config{
		Name:                 s.Name,
		Description:          s.Description,
		Category:             cat,
		Priority:             prio,
		ExecPath:             s.ExecPath,
		Args:                 s.Args,
		Env:                  pairsToMap(s.Env),
		WorkDir:              s.WorkDir,
		Dependencies:         s.Dependencies,
		AutoStart:            s.AutoStart,
		RestartDelay:         s.RestartDelay,
		MaxRestartAttempts:   s.MaxRestartAttempts,
		ShutdownGrace:        s.ShutdownGrace,
		FailOnDependencyLoss: s.FailOnDependencyLoss,
	}
	if err := c.Validate(); err != nil {
		return service.Config{}, err
	}
	return c.Clone(), nil
}

// toMap renders c in the on-disk layout with durations as strings, so any
// viper writer round-trips it.
func toMap(c service.Config) map[string]any {
	m := map[string]any{
		"name":                 c.Name,
		"category":             c.Category.String(),
		"priority":             c.Priority.String(),
		"exec_path":            c.ExecPath,
		"auto_start":           c.AutoStart,
		"max_restart_attempts": c.MaxRestartAttempts,
	}
	if c.Description != "" {
		m["description"] = c.Description
	}
	if len(c.Args) > 0 {
		m["args"] = c.Args
	}
	if len(c.Env) > 0 {
		m["env"] = mapToPairs(c.Env)
	}
	if c.WorkDir != "" {
		m["workdir"] = c.WorkDir
	}
	if len(c.Dependencies) > 0 {
		m["depends_on"] = c.Dependencies
	}
	if c.RestartDelay > 0 {
		m["restart_delay"] = c.RestartDelay.String()
	}
	if c.ShutdownGrace > 0 {
		m["shutdown_grace"] = c.ShutdownGrace.String()
	}
	if c.FailOnDependencyLoss {
		m["fail_on_dependency_loss"] = true
	}
	return m
}

func pairsToMap(kvs []string) map[string]string {
	if len(kvs) == 0 {
		return nil
	}
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func mapToPairs(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// GlobalEnv merges env_files (in order) and then the env list, later entries
// winning. Values are not expanded here; expansion happens per spawn.
func (f *File) GlobalEnv() (map[string]string, error) {
	m := make(map[string]string)
	for _, p := range f.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for k, v := range pairsToMap(f.Env) {
		m[k] = v
	}
	return m, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
