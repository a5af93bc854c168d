package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/defistate/defistate-stableswap-go/engine"
	"github.com/defistate/defistate-stableswap-go/storage"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotJob(t *testing.T) {
	ctx := context.Background()
	clock := engine.NewManualClock(testStart)
	n := newTestNode(t, nil, nil, clock)

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "stableswap.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	job := newSnapshotJob(n.engines, n.settler, store, clock, nil, discardLogger())

	t.Run("first run persists every pool", func(t *testing.T) {
		require.NoError(t, job.Run(ctx))

		pools, err := store.LoadPools(ctx)
		require.NoError(t, err)
		require.Len(t, pools, 2)
		assert.Equal(t, uint64(1), pools[0].ID)
		assert.Equal(t, uint64(2), pools[1].ID)

		obs, err := store.Observations(ctx, 2, 10)
		require.NoError(t, err)
		require.Len(t, obs, 1)
		assert.Nil(t, obs[0].VirtualPrice)
		assert.Len(t, obs[0].LastPrices, 1)
	})

	t.Run("unchanged pools are skipped", func(t *testing.T) {
		clock.Advance(30)
		require.NoError(t, job.Run(ctx))

		obs, err := store.Observations(ctx, 1, 10)
		require.NoError(t, err)
		assert.Len(t, obs, 1)
	})

	t.Run("changed pool is persisted and observed", func(t *testing.T) {
		_, err := engineByID(t, n, 2).AddLiquidity(ctx, testAccount, []*uint256.Int{
			mustDec(t, "1000000000000"),
			mustDec(t, "1000000000000000000000000"),
		}, new(uint256.Int))
		require.NoError(t, err)
		clock.Advance(30)
		require.NoError(t, job.Run(ctx))

		pools, err := store.LoadPools(ctx)
		require.NoError(t, err)
		require.Len(t, pools, 2)
		assert.Equal(t, uint64(1), pools[1].Nonce)
		assert.False(t, pools[1].TotalSupply.IsZero())
		assert.Zero(t, pools[0].Nonce)

		obs, err := store.Observations(ctx, 2, 10)
		require.NoError(t, err)
		require.Len(t, obs, 2)
		assert.Equal(t, uint64(1), obs[0].Nonce)
		assert.Equal(t, uint64(testStart+60), obs[0].Timestamp)
		require.NotNil(t, obs[0].VirtualPrice)
		assert.Equal(t, mustDec(t, "1000000000000000000"), obs[0].VirtualPrice)

		obs, err = store.Observations(ctx, 1, 10)
		require.NoError(t, err)
		assert.Len(t, obs, 1)
	})

	t.Run("resumed job starts from the stored pools", func(t *testing.T) {
		pools, err := store.LoadPools(ctx)
		require.NoError(t, err)
		resumed := newSnapshotJob(n.engines, n.settler, store, clock, pools, discardLogger())
		require.NoError(t, resumed.Run(ctx))

		obs, err := store.Observations(ctx, 2, 10)
		require.NoError(t, err)
		assert.Len(t, obs, 2)
	})
}

func TestRestartFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	clock := engine.NewManualClock(testStart)
	path := filepath.Join(t.TempDir(), "stableswap.db")

	store, err := storage.NewSQLiteStore(path, discardLogger())
	require.NoError(t, err)
	n := newTestNode(t, nil, nil, clock)
	minted, err := engineByID(t, n, 2).AddLiquidity(ctx, testAccount, []*uint256.Int{
		mustDec(t, "1000000000000"),
		mustDec(t, "1000000000000000000000000"),
	}, new(uint256.Int))
	require.NoError(t, err)
	require.NoError(t, newSnapshotJob(n.engines, n.settler, store, clock, nil, discardLogger()).Run(ctx))
	require.NoError(t, store.Close())

	store, err = storage.NewSQLiteStore(path, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	pools, ledger, err := loadCheckpoint(ctx, store)
	require.NoError(t, err)
	require.NotNil(t, ledger)

	clock.Advance(3600)
	restarted := newTestNode(t, pools, ledger, clock)
	e := engineByID(t, restarted, 2)
	assert.Equal(t, minted, e.Snapshot().TotalSupply)
	assert.Equal(t, minted, restarted.settler.LPBalance(testAccount, 2))
	assert.Equal(t, mustDec(t, "4000000000000"), restarted.settler.CoinBalance(testAccount, 1))

	out, err := e.RemoveLiquidity(ctx, testAccount, minted, nil)
	require.NoError(t, err)
	assert.True(t, e.Snapshot().TotalSupply.IsZero())
	assert.True(t, restarted.settler.LPBalance(testAccount, 2).IsZero())
	assert.Equal(t, new(uint256.Int).Add(mustDec(t, "4000000000000"), out[0]), restarted.settler.CoinBalance(testAccount, 1))

	t.Run("the next checkpoint stores the withdrawal", func(t *testing.T) {
		job := newSnapshotJob(restarted.engines, restarted.settler, store, clock, pools, discardLogger())
		require.NoError(t, job.Run(ctx))
		stored, err := store.LoadLedger(ctx)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Empty(t, stored.LP)
	})
}
