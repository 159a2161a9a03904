package tests

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/keys"
	"github.com/yeetme/yeet/internal/registry"
	"github.com/yeetme/yeet/internal/snapshot"
)

// TestPostgresStore saves a registry through the sweeper and restores it into
// a fresh registry.
func TestPostgresStore(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	store := snapshot.NewPostgresStore(pool)

	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data, "empty table loads as no snapshot")

	_, adminKey := NewHostClient(t, "http://unused")
	reg := registry.New()
	reg.Bootstrap([]keys.PublicKey{adminKey}, nil)

	_, err = reg.PreRegister(adminKey, "db1", hosts.NotSetState())
	require.NoError(t, err)

	sweeper := snapshot.NewSweeper(reg, store, 0, nil)
	require.NoError(t, sweeper.Flush(ctx))

	restored := registry.New()
	require.NoError(t, snapshot.Load(ctx, store, restored))
	assert.Equal(t, reg.Stats(), restored.Stats())

	_, err = restored.PreRegister(adminKey, "db2", hosts.NotSetState())
	require.NoError(t, err)
	require.NoError(t, snapshot.NewSweeper(restored, store, 0, nil).Flush(ctx))

	again := registry.New()
	require.NoError(t, snapshot.Load(ctx, store, again))
	assert.Equal(t, 2, again.Stats().PreRegistrations)

	require.NoError(t, store.Save(ctx, []byte("{broken")))
	err = snapshot.Load(ctx, store, registry.New())
	require.ErrorIs(t, err, snapshot.ErrCorrupt)

	data, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data, "corrupt row is moved out of registry_snapshots")

	var kept []byte
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT data FROM registry_snapshots_corrupt ORDER BY id DESC LIMIT 1`).Scan(&kept))
	assert.Equal(t, "{broken", string(kept))
}
