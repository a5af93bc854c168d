package calculator

import (
	"fmt"

	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/safemath"
	"github.com/holiman/uint256"
)

// MaxDecimals is the largest token precision a rate multiplier can express.
const MaxDecimals = 36

// RateMultiplier returns 10^(36-decimals), the 1e18-scaled rate that lifts a
// raw balance of a token with the given decimals onto the common 1e18 basis.
func RateMultiplier(decimals uint8) (*uint256.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("%w: %d decimals", ErrInvalidRates, decimals)
	}
	return safemath.Pow10(uint(MaxDecimals - decimals)), nil
}

// ScaleRates multiplies static rate multipliers by 1e18-scaled exchange
// rates, as needed for yield-bearing coins whose value drifts over time.
func ScaleRates(multipliers, exchangeRates []*uint256.Int) ([]*uint256.Int, error) {
	if len(multipliers) != len(exchangeRates) {
		return nil, fmt.Errorf("%w: %d multipliers, %d rates", ErrLengthMismatch, len(multipliers), len(exchangeRates))
	}
	var c safemath.Checker
	out := make([]*uint256.Int, len(multipliers))
	for k := range multipliers {
		out[k] = c.MulDiv(multipliers[k], exchangeRates[k], Precision)
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("scaling rates: %w", err)
	}
	return out, nil
}

// XP normalizes raw balances: xp[k] = balances[k] * rates[k] / 1e18.
func XP(balances, rates []*uint256.Int) ([]*uint256.Int, error) {
	if len(balances) != len(rates) {
		return nil, fmt.Errorf("%w: %d balances, %d rates", ErrLengthMismatch, len(balances), len(rates))
	}
	var c safemath.Checker
	xp := make([]*uint256.Int, len(balances))
	for k := range balances {
		xp[k] = c.MulDiv(balances[k], rates[k], Precision)
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("normalizing balances: %w", err)
	}
	return xp, nil
}
