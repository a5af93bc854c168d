package stableswap

import (
	"errors"
	"fmt"

	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/invariant"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/oracle"
	"github.com/holiman/uint256"
)

var (
	// ErrInvalidFee is returned for fees above calculator.MaxFee or an
	// off-peg multiplier that would push the effective fee past it.
	ErrInvalidFee = errors.New("invalid fee")
	// ErrInvalidPool is returned when a snapshot is internally inconsistent.
	ErrInvalidPool = errors.New("invalid pool")
)

// PoolParams are the deployment parameters of a pool.
type PoolParams struct {
	ID    uint64
	Name  string
	Coins []uint64
	// A is the amplification coefficient without A_PRECISION.
	A uint64
	// Fee and OffpegFeeMultiplier are expressed over calculator.FeeDenominator.
	Fee                 uint64
	OffpegFeeMultiplier uint64
	// PriceMATime and DMATime are EMA time constants in seconds. Zero selects
	// oracle.DefaultMATime.
	PriceMATime uint64
	DMATime     uint64
}

// NewPool returns an empty pool deployed at now.
func NewPool(params PoolParams, now uint64) (Pool, error) {
	n := len(params.Coins)
	if n < invariant.MinCoins || n > invariant.MaxCoins {
		return Pool{}, fmt.Errorf("%w: %d coins", invariant.ErrInvalidCoinCount, n)
	}
	amp, err := NewAmpRamp(params.A, now)
	if err != nil {
		return Pool{}, err
	}
	fee := uint256.NewInt(params.Fee)
	mult := uint256.NewInt(params.OffpegFeeMultiplier)
	if err := validateFee(fee, mult); err != nil {
		return Pool{}, err
	}

	zeros := func() []*uint256.Int {
		out := make([]*uint256.Int, n)
		for k := range out {
			out[k] = new(uint256.Int)
		}
		return out
	}
	return Pool{
		ID:                  params.ID,
		Name:                params.Name,
		Coins:               append([]uint64(nil), params.Coins...),
		Balances:            zeros(),
		AdminBalances:       zeros(),
		TotalSupply:         new(uint256.Int),
		Amp:                 amp,
		Fee:                 fee,
		OffpegFeeMultiplier: mult,
		Oracle:              oracle.New(n, params.PriceMATime, params.DMATime, now),
	}, nil
}

func validateFee(fee, mult *uint256.Int) error {
	if fee.Gt(calculator.MaxFee) {
		return fmt.Errorf("%w: fee %s above %s", ErrInvalidFee, fee, calculator.MaxFee)
	}
	limit := new(uint256.Int).Mul(calculator.MaxFee, calculator.FeeDenominator)
	if new(uint256.Int).Mul(mult, fee).Gt(limit) {
		return fmt.Errorf("%w: off-peg multiplier %s too large for fee %s", ErrInvalidFee, mult, fee)
	}
	return nil
}

// Validate checks that a snapshot, typically one restored from storage, is
// usable by an engine.
func (p Pool) Validate() error {
	n := len(p.Coins)
	if n < invariant.MinCoins || n > invariant.MaxCoins {
		return fmt.Errorf("%w: %d coins", invariant.ErrInvalidCoinCount, n)
	}
	if len(p.Balances) != n || len(p.AdminBalances) != n {
		return fmt.Errorf("%w: balance vectors do not match %d coins", ErrInvalidPool, n)
	}
	for k := 0; k < n; k++ {
		if p.Balances[k] == nil || p.AdminBalances[k] == nil {
			return fmt.Errorf("%w: missing balance for coin %d", ErrInvalidPool, k)
		}
	}
	if p.TotalSupply == nil || p.Fee == nil || p.OffpegFeeMultiplier == nil {
		return fmt.Errorf("%w: missing supply or fee", ErrInvalidPool)
	}
	if p.Amp.InitialA == nil || p.Amp.FutureA == nil || p.Amp.FutureA.IsZero() {
		return fmt.Errorf("%w: missing amplification", ErrInvalidPool)
	}
	if len(p.Oracle.LastPrices) != n-1 || len(p.Oracle.PriceEMAs) != n-1 || p.Oracle.LastD == nil || p.Oracle.DEMA == nil {
		return fmt.Errorf("%w: oracle state does not match %d coins", ErrInvalidPool, n)
	}
	return validateFee(p.Fee, p.OffpegFeeMultiplier)
}
