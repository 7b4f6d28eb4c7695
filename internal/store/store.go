package store

import (
	"context"
	"time"
)

// Snapshot is the persisted view of one service, written for crash recovery
// and inspection. StartUnix fences PID against reuse after a reboot or crash.
type Snapshot struct {
	Name         string    `json:"name" yaml:"name"`
	State        string    `json:"state" yaml:"state"`
	PID          int       `json:"pid" yaml:"pid"`
	StartUnix    int64     `json:"start_unix" yaml:"start_unix"`
	RestartCount int       `json:"restart_count" yaml:"restart_count"`
	AutoStart    bool      `json:"auto_start" yaml:"auto_start"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
}

// Store persists the latest snapshot set. Save replaces whatever was stored
// before; Load returns snapshots ordered by name.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Save(ctx context.Context, snaps []Snapshot) error
	Load(ctx context.Context) ([]Snapshot, error)
	Close() error
}
