package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/svcmgr/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases coherent
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS service_state(
			name TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			pid INTEGER NOT NULL,
			start_unix INTEGER NOT NULL,
			restart_count INTEGER NOT NULL,
			auto_start BOOLEAN NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Save(ctx context.Context, snaps []store.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM service_state;`); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, sn := range snaps {
		at := sn.UpdatedAt
		if at.IsZero() {
			at = now
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO service_state(name, state, pid, start_unix, restart_count, auto_start, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				state=excluded.state,
				pid=excluded.pid,
				start_unix=excluded.start_unix,
				restart_count=excluded.restart_count,
				auto_start=excluded.auto_start,
				updated_at=excluded.updated_at;`,
			sn.Name, sn.State, sn.PID, sn.StartUnix, sn.RestartCount, sn.AutoStart, at.UTC())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *DB) Load(ctx context.Context) ([]store.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, state, pid, start_unix, restart_count, auto_start, updated_at
		FROM service_state
		ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Snapshot, 0)
	for rows.Next() {
		var sn store.Snapshot
		if err := rows.Scan(&sn.Name, &sn.State, &sn.PID, &sn.StartUnix, &sn.RestartCount, &sn.AutoStart, &sn.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}
