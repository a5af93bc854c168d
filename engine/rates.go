package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/safemath"
	"github.com/holiman/uint256"
)

// StaticRates serves a fixed rate vector, typically the decimal multipliers
// of plain coins.
type StaticRates []*uint256.Int

// Rates returns a copy of the rate vector.
func (r StaticRates) Rates(context.Context) ([]*uint256.Int, error) {
	return safemath.Clone(r), nil
}

// NewStaticRates returns the rate multipliers of coins with the given decimals.
func NewStaticRates(decimals []uint8) (StaticRates, error) {
	out := make(StaticRates, len(decimals))
	for k, d := range decimals {
		m, err := calculator.RateMultiplier(d)
		if err != nil {
			return nil, err
		}
		out[k] = m
	}
	return out, nil
}

// ScaledRates combines decimal multipliers with 1e18-scaled exchange rates
// that can be updated while the pool runs, for yield-bearing coins.
type ScaledRates struct {
	mu          sync.RWMutex
	multipliers []*uint256.Int
	oracle      []*uint256.Int
}

// NewScaledRates returns rates at multipliers with every exchange rate at 1e18.
func NewScaledRates(multipliers []*uint256.Int) *ScaledRates {
	oracle := make([]*uint256.Int, len(multipliers))
	for k := range oracle {
		oracle[k] = calculator.Precision.Clone()
	}
	return &ScaledRates{
		multipliers: safemath.Clone(multipliers),
		oracle:      oracle,
	}
}

// SetRate sets the exchange rate of coin k.
func (r *ScaledRates) SetRate(k int, rate *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k < 0 || k >= len(r.oracle) {
		return fmt.Errorf("%w: rate index %d", ErrInvalidAssetIndex, k)
	}
	if rate == nil || rate.IsZero() {
		return fmt.Errorf("%w: zero rate for coin %d", calculator.ErrInvalidRates, k)
	}
	r.oracle[k] = rate.Clone()
	return nil
}

// Rates returns the current scaled rates.
func (r *ScaledRates) Rates(context.Context) ([]*uint256.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return calculator.ScaleRates(r.multipliers, r.oracle)
}
