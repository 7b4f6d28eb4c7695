// Package storetest holds the behavior every store.Store backend must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/svcmgr/internal/store"
)

// Run exercises s through save, replace and reload. s must be empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.EnsureSchema(ctx))
	// EnsureSchema is idempotent
	require.NoError(t, s.EnsureSchema(ctx))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, got)

	at := time.Now().UTC().Truncate(time.Second)
	first := []store.Snapshot{
		{Name: "web", State: "running", PID: 4321, StartUnix: 1700000000, RestartCount: 2, AutoStart: true, UpdatedAt: at},
		{Name: "db", State: "stopped", RestartCount: 0, AutoStart: false, UpdatedAt: at},
	}
	require.NoError(t, s.Save(ctx, first))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "db", got[0].Name, "snapshots are ordered by name")
	require.Equal(t, "web", got[1].Name)
	require.Equal(t, "running", got[1].State)
	require.Equal(t, 4321, got[1].PID)
	require.Equal(t, int64(1700000000), got[1].StartUnix)
	require.Equal(t, 2, got[1].RestartCount)
	require.True(t, got[1].AutoStart)
	require.WithinDuration(t, at, got[1].UpdatedAt, time.Second)

	// a second save replaces the set: db disappears, web changes
	second := []store.Snapshot{
		{Name: "web", State: "failed", RestartCount: 3, AutoStart: true},
	}
	require.NoError(t, s.Save(ctx, second))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "failed", got[0].State)
	require.Equal(t, 0, got[0].PID)
	require.False(t, got[0].UpdatedAt.IsZero(), "zero UpdatedAt is stamped on save")

	require.NoError(t, s.Save(ctx, nil))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}
