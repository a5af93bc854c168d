package engine

import (
	"context"
	"errors"

	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/invariant"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/safemath"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/oracle"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Errors an engine operation can fail with. Every failure leaves the pool,
// its oracle and the settlement layer exactly as they were.
var (
	// ErrSlippageExceeded is returned when an output falls below, or a burn
	// rises above, the caller's bound.
	ErrSlippageExceeded = errors.New("slippage exceeded")
	// ErrSettlement wraps failures reported by the Settler.
	ErrSettlement = errors.New("settlement failed")
	// ErrRateCount is returned when the rate provider disagrees with the pool
	// about the number of coins.
	ErrRateCount = errors.New("rate count mismatch")

	ErrConvergence        = invariant.ErrConvergence
	ErrInvalidAssetIndex  = invariant.ErrInvalidAssetIndex
	ErrArithmeticOverflow = safemath.ErrOverflow
	ErrZeroAmount         = calculator.ErrZeroAmount
	ErrClockRegression    = oracle.ErrClockRegression
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// RateProvider supplies the 1e18-scaled rate of every pool coin. Rates are
// read once per operation and never cached across operations.
type RateProvider interface {
	Rates(ctx context.Context) ([]*uint256.Int, error)
}

// Clock supplies the current time in seconds. Successive calls must not
// go backwards.
type Clock interface {
	Now() uint64
}

// Settler moves tokens between an account and a pool. It is called once per
// successful operation, after every check has passed and before the new
// pool state is committed; returning an error aborts the operation.
type Settler interface {
	Settle(ctx context.Context, s Settlement) error
}

// Settlement is the token movement of one operation.
type Settlement struct {
	PoolID  uint64
	Op      string
	Account common.Address
	// Coins are the token IDs of the pool slots.
	Coins []uint64
	// In is what the account pays to the pool per slot.
	In []*uint256.Int
	// Out is what the pool pays to the account per slot.
	Out []*uint256.Int
	// Minted and Burned are LP token amounts.
	Minted *uint256.Int
	Burned *uint256.Int
}

func newSettlement(poolID uint64, op string, account common.Address, coins []uint64) Settlement {
	zeros := func() []*uint256.Int {
		out := make([]*uint256.Int, len(coins))
		for k := range out {
			out[k] = new(uint256.Int)
		}
		return out
	}
	return Settlement{
		PoolID:  poolID,
		Op:      op,
		Account: account,
		Coins:   append([]uint64(nil), coins...),
		In:      zeros(),
		Out:     zeros(),
		Minted:  new(uint256.Int),
		Burned:  new(uint256.Int),
	}
}
