package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/defistate/defistate-stableswap-go/engine"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	wad   = uint256.NewInt(1e18)
)

func u(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine returns an empty two-coin pool whose account alice holds 10M
// of both coins.
func newTestEngine(t *testing.T, id uint64, clock engine.Clock, reg prometheus.Registerer) *engine.Engine {
	t.Helper()
	coins := []uint64{id*10 + 1, id*10 + 2}
	pool, err := stableswap.NewPool(stableswap.PoolParams{
		ID:                  id,
		Coins:               coins,
		A:                   100,
		Fee:                 4_000_000,
		OffpegFeeMultiplier: 20_000_000_000,
	}, clock.Now())
	require.NoError(t, err)

	settler := engine.NewMemorySettler()
	for _, c := range coins {
		settler.Fund(alice, c, u("10000000000000000000000000"))
	}
	e, err := engine.NewEngine(&engine.Config{
		Pool:     pool,
		Rates:    engine.StaticRates{wad.Clone(), wad.Clone()},
		Clock:    clock,
		Settler:  settler,
		Registry: reg,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	return e
}

type rpcFixture struct {
	client   *rpc.Client
	engines  []*engine.Engine
	clock    *engine.ManualClock
	streamer *Streamer
}

func newRPCFixture(t *testing.T) *rpcFixture {
	t.Helper()
	clock := engine.NewManualClock(1_700_000_000)
	reg := prometheus.NewRegistry()
	engines := []*engine.Engine{newTestEngine(t, 2, clock, reg), newTestEngine(t, 1, clock, reg)}

	svc, err := NewService(Config{Engines: engines, Logger: discardLogger()})
	require.NoError(t, err)
	streamer, err := NewStreamer(StreamerConfig{Engines: engines, Interval: time.Hour, Logger: discardLogger(), SubscriberBuffer: 2})
	require.NoError(t, err)

	server := rpc.NewServer()
	require.NoError(t, Register(server, svc, streamer))
	client := rpc.DialInProc(server)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return &rpcFixture{client: client, engines: engines, clock: clock, streamer: streamer}
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(Config{Logger: discardLogger()})
	assert.Error(t, err)

	clock := engine.NewManualClock(0)
	e := newTestEngine(t, 1, clock, prometheus.NewRegistry())
	_, err = NewService(Config{Engines: []*engine.Engine{e}})
	assert.Error(t, err)
	_, err = NewService(Config{Engines: []*engine.Engine{e, e}, Logger: discardLogger()})
	assert.Error(t, err)

	_, err = NewStreamer(StreamerConfig{Engines: []*engine.Engine{e}, Logger: discardLogger()})
	assert.Error(t, err, "interval is required")
}

func TestServiceRoundTrip(t *testing.T) {
	f := newRPCFixture(t)
	ctx := context.Background()
	c := f.client

	var pools []uint64
	require.NoError(t, c.CallContext(ctx, &pools, "stableswap_pools"))
	assert.Equal(t, []uint64{1, 2}, pools)

	var n int
	require.NoError(t, c.CallContext(ctx, &n, "stableswap_nCoins", 1))
	assert.Equal(t, 2, n)

	var minted *uint256.Int
	deposit := []*uint256.Int{u("1000000000000000000000000"), u("1000000000000000000000000")}
	require.NoError(t, c.CallContext(ctx, &minted, "stableswap_addLiquidity", 1, alice, deposit, nil))
	assert.Equal(t, "2000000000000000000000000", minted.Dec())

	var a uint64
	require.NoError(t, c.CallContext(ctx, &a, "stableswap_a", 1))
	assert.Equal(t, uint64(100), a)

	var p *uint256.Int
	require.NoError(t, c.CallContext(ctx, &p, "stableswap_getP", 1, 0))
	assert.Equal(t, "1000000000000000000", p.Dec())

	dx := u("100000000000000000000000")
	var quote, dy *uint256.Int
	require.NoError(t, c.CallContext(ctx, &quote, "stableswap_getDy", 1, 0, 1, dx))
	require.NoError(t, c.CallContext(ctx, &dy, "stableswap_exchange", 1, alice, 0, 1, dx, quote))
	assert.Equal(t, quote.Dec(), dy.Dec())

	var last, spot *uint256.Int
	require.NoError(t, c.CallContext(ctx, &last, "stableswap_lastPrice", 1, 0))
	require.NoError(t, c.CallContext(ctx, &spot, "stableswap_getP", 1, 0))
	assert.Equal(t, spot.Dec(), last.Dec())

	f.clock.Advance(866)
	var ema, dOracle, vp *uint256.Int
	require.NoError(t, c.CallContext(ctx, &ema, "stableswap_priceOracle", 1, 0))
	assert.True(t, ema.Gt(wad) && ema.Lt(spot), "oracle %s between the peg and %s", ema, spot)
	require.NoError(t, c.CallContext(ctx, &dOracle, "stableswap_dOracle", 1))
	assert.False(t, dOracle.IsZero())
	require.NoError(t, c.CallContext(ctx, &vp, "stableswap_getVirtualPrice", 1))
	assert.True(t, vp.Gt(wad))

	var balances, admin, rates []*uint256.Int
	require.NoError(t, c.CallContext(ctx, &balances, "stableswap_balances", 1))
	assert.Equal(t, "1100000000000000000000000", balances[0].Dec())
	require.NoError(t, c.CallContext(ctx, &admin, "stableswap_adminBalances", 1))
	assert.True(t, admin[1].Sign() > 0)
	require.NoError(t, c.CallContext(ctx, &rates, "stableswap_storedRates", 1))
	assert.Equal(t, []*uint256.Int{wad, wad}, rates)

	var lpQuote, burned, oneCoin, out *uint256.Int
	require.NoError(t, c.CallContext(ctx, &lpQuote, "stableswap_calcTokenAmount", 1, []*uint256.Int{u("1000"), u("0")}, false))
	require.NoError(t, c.CallContext(ctx, &burned, "stableswap_removeLiquidityImbalance", 1, alice, []*uint256.Int{u("1000"), u("0")}, nil))
	assert.Equal(t, new(uint256.Int).AddUint64(lpQuote, 1).Dec(), burned.Dec())

	require.NoError(t, c.CallContext(ctx, &oneCoin, "stableswap_calcWithdrawOneCoin", 1, u("1000000000000000000"), 0))
	require.NoError(t, c.CallContext(ctx, &out, "stableswap_removeLiquidityOneCoin", 1, alice, u("1000000000000000000"), 0, oneCoin))
	assert.Equal(t, oneCoin.Dec(), out.Dec())

	var amounts []*uint256.Int
	require.NoError(t, c.CallContext(ctx, &amounts, "stableswap_removeLiquidity", 1, alice, u("1000000000000000000"), nil))
	assert.Len(t, amounts, 2)

	var snap stableswap.Pool
	require.NoError(t, c.CallContext(ctx, &snap, "stableswap_snapshot", 1))
	assert.Equal(t, f.engines[1].Snapshot(), snap)

	var supply *uint256.Int
	require.NoError(t, c.CallContext(ctx, &supply, "stableswap_totalSupply", 1))
	assert.Equal(t, snap.TotalSupply.Dec(), supply.Dec())
}

func TestServiceErrorCodes(t *testing.T) {
	f := newRPCFixture(t)
	ctx := context.Background()

	var minted *uint256.Int
	require.NoError(t, f.client.CallContext(ctx, &minted, "stableswap_addLiquidity", 1, alice, []*uint256.Int{u("1000000"), u("1000000")}, nil))

	tests := []struct {
		name   string
		method string
		args   []any
		code   int
	}{
		{"unknown pool", "stableswap_nCoins", []any{99}, CodeUnknownPool},
		{"bad index", "stableswap_lastPrice", []any{1, 5}, CodeInvalidIndex},
		{"zero amount", "stableswap_getDy", []any{1, 0, 1, u("0")}, CodeZeroAmount},
		{"unfunded", "stableswap_exchange", []any{1, common.HexToAddress("0xbeef"), 0, 1, u("10"), nil}, CodeSettlement},
		{"slippage", "stableswap_addLiquidity", []any{2, alice, []*uint256.Int{u("10"), u("10")}, u("1000")}, CodeSlippage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out json.RawMessage
			err := f.client.CallContext(ctx, &out, tc.method, tc.args...)
			require.Error(t, err)
			var rpcErr rpc.Error
			require.True(t, errors.As(err, &rpcErr), "got %T", err)
			assert.Equal(t, tc.code, rpcErr.ErrorCode())
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, wrap(nil))

	err := wrap(errors.New("boom"))
	var rpcErr *rpcError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInternal, rpcErr.ErrorCode())

	err = wrap(engine.ErrConvergence)
	assert.ErrorIs(t, err, engine.ErrConvergence)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeConvergence, rpcErr.ErrorCode())
}
