package engine

import (
	"context"
	"fmt"

	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/invariant"
	"github.com/holiman/uint256"
)

// ID returns the pool ID.
func (e *Engine) ID() uint64 {
	return e.id
}

// NCoins returns the number of coins in the pool.
func (e *Engine) NCoins() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pool.NCoins()
}

// Snapshot returns a deep copy of the current pool state.
func (e *Engine) Snapshot() stableswap.Pool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pool.Clone()
}

// state returns the calculator view of the pool as of now.
func (e *Engine) state(ctx context.Context) (calculator.State, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rates, err := e.loadRates(ctx, e.pool.NCoins())
	if err != nil {
		return calculator.State{}, err
	}
	return e.pool.Clone().CalcState(rates, e.clock.Now()), nil
}

// StoredRates returns the rates the next operation would use.
func (e *Engine) StoredRates(ctx context.Context) ([]*uint256.Int, error) {
	return e.loadRates(ctx, e.NCoins())
}

// A returns the amplification coefficient without A_PRECISION.
func (e *Engine) A() uint64 {
	return new(uint256.Int).Div(e.APrecise(), invariant.APrecision).Uint64()
}

// APrecise returns the amplification coefficient times A_PRECISION.
func (e *Engine) APrecise() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pool.Amp.At(e.clock.Now())
}

// GetP returns the current spot price of coin k+1 in units of coin 0.
func (e *Engine) GetP(ctx context.Context, k int) (*uint256.Int, error) {
	st, err := e.state(ctx)
	if err != nil {
		return nil, err
	}
	if k < 0 || k >= st.N()-1 {
		return nil, fmt.Errorf("%w: price index %d", ErrInvalidAssetIndex, k)
	}
	prices, err := calculator.GetP(st)
	if err != nil {
		return nil, err
	}
	return prices[k], nil
}

// LastPrice returns the spot price of coin k+1 recorded by the last
// operation that moved the pool ratio.
func (e *Engine) LastPrice(k int) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pool.Oracle.LastPrice(k)
}

// PriceOracle returns the price moving average of coin k+1 as of now.
func (e *Engine) PriceOracle(k int) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pool.Oracle.PriceOracle(k, e.clock.Now())
}

// DOracle returns the moving average of D as of now.
func (e *Engine) DOracle() (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pool.Oracle.DOracle(e.clock.Now())
}

// GetDy quotes Exchange without executing it.
func (e *Engine) GetDy(ctx context.Context, i, j int, dx *uint256.Int) (*uint256.Int, error) {
	st, err := e.state(ctx)
	if err != nil {
		return nil, err
	}
	return calculator.GetDy(st, i, j, dx)
}

// CalcWithdrawOneCoin quotes RemoveLiquidityOneCoin without executing it.
func (e *Engine) CalcWithdrawOneCoin(ctx context.Context, burn *uint256.Int, i int) (*uint256.Int, error) {
	st, err := e.state(ctx)
	if err != nil {
		return nil, err
	}
	return calculator.CalcWithdrawOneCoin(st, burn, i)
}

// CalcTokenAmount quotes the LP amount a deposit mints or an imbalanced
// withdrawal burns.
func (e *Engine) CalcTokenAmount(ctx context.Context, amounts []*uint256.Int, deposit bool) (*uint256.Int, error) {
	st, err := e.state(ctx)
	if err != nil {
		return nil, err
	}
	return calculator.CalcTokenAmount(st, amounts, deposit)
}

// GetVirtualPrice returns D per LP token, 1e18-scaled.
func (e *Engine) GetVirtualPrice(ctx context.Context) (*uint256.Int, error) {
	st, err := e.state(ctx)
	if err != nil {
		return nil, err
	}
	return calculator.VirtualPrice(st)
}
