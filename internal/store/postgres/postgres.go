package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/svcmgr/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS service_state(
			name TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			pid INTEGER NOT NULL,
			start_unix BIGINT NOT NULL,
			restart_count INTEGER NOT NULL,
			auto_start BOOLEAN NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`)
	return err
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Save(ctx context.Context, snaps []store.Snapshot) error {
	tx, err := p.db.BeginTx(ctx, nil)
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
			VALUES($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT(name) DO UPDATE SET
				state=EXCLUDED.state,
				pid=EXCLUDED.pid,
				start_unix=EXCLUDED.start_unix,
				restart_count=EXCLUDED.restart_count,
				auto_start=EXCLUDED.auto_start,
				updated_at=EXCLUDED.updated_at;`,
			sn.Name, sn.State, sn.PID, sn.StartUnix, sn.RestartCount, sn.AutoStart, at.UTC())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *DB) Load(ctx context.Context) ([]store.Snapshot, error) {
	rows, err := p.db.QueryContext(ctx, `
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
