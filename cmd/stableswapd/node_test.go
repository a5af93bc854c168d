package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/defistate/defistate-stableswap-go/config"
	"github.com/defistate/defistate-stableswap-go/engine"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStart = 1_700_000_000

var testAccount = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadExample(t *testing.T) *config.File {
	t.Helper()
	file, err := config.Load("pools.example.yaml")
	require.NoError(t, err)
	return file
}

func newTestNode(t *testing.T, restored []stableswap.Pool, ledger *engine.Ledger, clock engine.Clock) *node {
	t.Helper()
	n, err := buildNode(loadExample(t), restored, ledger, clock, prometheus.NewRegistry(), discardLogger())
	require.NoError(t, err)
	return n
}

func engineByID(t *testing.T, n *node, id uint64) *engine.Engine {
	t.Helper()
	for _, e := range n.engines {
		if e.ID() == id {
			return e
		}
	}
	t.Fatalf("no engine for pool %d", id)
	return nil
}

func mustDec(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	require.NoError(t, err)
	return v
}

func TestBuildNode(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, nil, nil, engine.NewManualClock(testStart))
	require.Len(t, n.engines, 2)

	assert.Equal(t, mustDec(t, "5000000000000"), n.settler.CoinBalance(testAccount, 1))
	assert.Equal(t, mustDec(t, "5000000000000000000000000"), n.settler.CoinBalance(testAccount, 3))

	threePool := engineByID(t, n, 1)
	assert.Equal(t, 3, threePool.NCoins())
	assert.Equal(t, uint64(2000), threePool.A())
	rates, err := threePool.StoredRates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []*uint256.Int{
		mustDec(t, "1000000000000000000"),
		mustDec(t, "1000000000000000000000000000000"),
		mustDec(t, "1000000000000000000000000000000"),
	}, rates)

	yieldPool := engineByID(t, n, 2)
	rates, err = yieldPool.StoredRates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []*uint256.Int{
		mustDec(t, "1000000000000000000000000000000"),
		mustDec(t, "1020000000000000000"),
	}, rates)

	snap := yieldPool.Snapshot()
	assert.Equal(t, uint64(866), snap.Oracle.PriceMATime)
	assert.True(t, snap.TotalSupply.IsZero())
}

func TestBuildNodeResumesSnapshot(t *testing.T) {
	ctx := context.Background()
	clock := engine.NewManualClock(testStart)
	n := newTestNode(t, nil, nil, clock)

	e := engineByID(t, n, 2)
	minted, err := e.AddLiquidity(ctx, testAccount, []*uint256.Int{
		mustDec(t, "1000000000000"),
		mustDec(t, "1000000000000000000000000"),
	}, new(uint256.Int))
	require.NoError(t, err)
	pools, ledger := engine.Capture(n.engines, n.settler)

	clock.Advance(60)
	resumed := newTestNode(t, pools, &ledger, clock)
	got := engineByID(t, resumed, 2).Snapshot()
	assert.Equal(t, pools[1].Nonce, got.Nonce)
	assert.Equal(t, minted, got.TotalSupply)
	assert.Equal(t, pools[1].Balances, got.Balances)
	assert.Zero(t, engineByID(t, resumed, 1).Snapshot().Nonce)

	t.Run("balances are restored, not funded again", func(t *testing.T) {
		assert.Equal(t, minted, resumed.settler.LPBalance(testAccount, 2))
		assert.Equal(t, mustDec(t, "4000000000000"), resumed.settler.CoinBalance(testAccount, 1))
		assert.Equal(t, mustDec(t, "4000000000000000000000000"), resumed.settler.CoinBalance(testAccount, 3))
	})

	t.Run("liquidity can be withdrawn after the restart", func(t *testing.T) {
		burn := new(uint256.Int).Rsh(minted, 1)
		out, err := engineByID(t, resumed, 2).RemoveLiquidity(ctx, testAccount, burn, nil)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, new(uint256.Int).Sub(minted, burn), resumed.settler.LPBalance(testAccount, 2))
		assert.Equal(t, new(uint256.Int).Add(mustDec(t, "4000000000000"), out[0]), resumed.settler.CoinBalance(testAccount, 1))
	})
}

func TestBuildNodeRequiresLedgerForLiquidity(t *testing.T) {
	ctx := context.Background()
	clock := engine.NewManualClock(testStart)
	n := newTestNode(t, nil, nil, clock)
	_, err := engineByID(t, n, 2).AddLiquidity(ctx, testAccount, []*uint256.Int{
		mustDec(t, "1000000000000"),
		mustDec(t, "1000000000000000000000000"),
	}, new(uint256.Int))
	require.NoError(t, err)
	pools, _ := engine.Capture(n.engines, n.settler)

	_, err = buildNode(loadExample(t), pools, nil, clock, prometheus.NewRegistry(), discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stored ledger")
}

func TestBuildNodeRejectsMismatchedSnapshot(t *testing.T) {
	clock := engine.NewManualClock(testStart)
	saved := engineByID(t, newTestNode(t, nil, nil, clock), 2).Snapshot()
	saved.Coins = []uint64{3, 1}

	_, err := buildNode(loadExample(t), []stableswap.Pool{saved}, nil, clock, prometheus.NewRegistry(), discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool 2")
}
