// Package invariant solves the StableSwap invariant
//
//	Ann*S/A_PRECISION + D = Ann*D/A_PRECISION + D^(n+1) / (n^n * P)
//
// for D, and for a single balance at a fixed D, using integer Newton-Raphson
// iterations. Ann is amp*n where amp is the amplification coefficient scaled
// by A_PRECISION. All functions are pure: they read only their arguments and
// never modify them.
package invariant

import (
	"errors"
	"fmt"
	"sort"

	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/safemath"
	"github.com/holiman/uint256"
)

const (
	// MaxIterations bounds every Newton-Raphson loop.
	MaxIterations = 255
	// MinCoins and MaxCoins bound the number of assets a pool may hold.
	MinCoins = 2
	MaxCoins = 8
)

var (
	// APrecision is the fixed-point scale of the amplification coefficient.
	APrecision = uint256.NewInt(100)

	// iterationLimit is MaxIterations outside of tests.
	iterationLimit = MaxIterations

	one = uint256.NewInt(1)
	two = uint256.NewInt(2)
)

var (
	// ErrConvergence is returned when an iteration does not settle within MaxIterations.
	ErrConvergence = errors.New("invariant did not converge")
	// ErrInvalidAssetIndex is returned for out-of-range or coinciding asset indices.
	ErrInvalidAssetIndex = errors.New("invalid asset index")
	// ErrInvalidCoinCount is returned when the balance vector has an unsupported length.
	ErrInvalidCoinCount = errors.New("invalid coin count")
	// ErrZeroAmp is returned when the amplification coefficient is zero.
	ErrZeroAmp = errors.New("amplification coefficient is zero")
)

func checkCoins(n int) error {
	if n < MinCoins || n > MaxCoins {
		return fmt.Errorf("%w: %d coins (want %d..%d)", ErrInvalidCoinCount, n, MinCoins, MaxCoins)
	}
	return nil
}

// nPowN returns n^n.
func nPowN(n int) *uint256.Int {
	out := uint64(1)
	for k := 0; k < n; k++ {
		out *= uint64(n)
	}
	return uint256.NewInt(out)
}

// LimitIterations caps every Newton-Raphson loop at n iterations until
// restore is called. It is meant for tests that need ErrConvergence and is
// not safe to call while other goroutines compute invariants.
func LimitIterations(n int) (restore func()) {
	saved := iterationLimit
	iterationLimit = n
	return func() { iterationLimit = saved }
}

// GetD returns the invariant for the normalized balances xp and the
// amplification amp. The balances are folded in ascending order so that any
// permutation of xp yields exactly the same D. An all-zero pool has D = 0.
func GetD(xp []*uint256.Int, amp *uint256.Int) (*uint256.Int, error) {
	if err := checkCoins(len(xp)); err != nil {
		return nil, err
	}
	if amp.IsZero() {
		return nil, ErrZeroAmp
	}

	sorted := safemath.Clone(xp)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Lt(sorted[b]) })

	var c safemath.Checker
	s := new(uint256.Int)
	for _, x := range sorted {
		s = c.Add(s, x)
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	if s.IsZero() {
		return new(uint256.Int), nil
	}

	n := uint64(len(xp))
	nn := nPowN(len(xp))
	ann := c.MulU64(amp, n)
	annS := c.Div(c.Mul(ann, s), APrecision)
	annLessOne := c.Sub(ann, APrecision)

	d := s.Clone()
	for iter := 0; iter < iterationLimit; iter++ {
		dP := d.Clone()
		for _, x := range sorted {
			dP = c.MulDiv(dP, d, x)
		}
		dP = c.Div(dP, nn)

		prev := d
		num := c.Mul(c.Add(annS, c.MulU64(dP, n)), d)
		den := c.Add(c.Div(c.Mul(annLessOne, d), APrecision), c.MulU64(dP, n+1))
		d = c.Div(num, den)
		if err := c.Err(); err != nil {
			return nil, fmt.Errorf("computing D: %w", err)
		}

		if safemath.AbsDiff(d, prev).Cmp(one) <= 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: D after %d iterations", ErrConvergence, iterationLimit)
}

// GetY returns the normalized balance of coin j that keeps the invariant at d
// once coin i's normalized balance becomes x.
func GetY(i, j int, x *uint256.Int, xp []*uint256.Int, amp, d *uint256.Int) (*uint256.Int, error) {
	if err := checkCoins(len(xp)); err != nil {
		return nil, err
	}
	if i == j || i < 0 || j < 0 || i >= len(xp) || j >= len(xp) {
		return nil, fmt.Errorf("%w: i=%d j=%d n=%d", ErrInvalidAssetIndex, i, j, len(xp))
	}

	others := make([]*uint256.Int, 0, len(xp)-1)
	for k := range xp {
		switch k {
		case i:
			others = append(others, x)
		case j:
		default:
			others = append(others, xp[k])
		}
	}
	return solveY(others, len(xp), amp, d)
}

// GetYD returns the normalized balance of coin i that makes the invariant
// equal d while every other balance stays as in xp. It is used when D itself
// changes, as in single-sided withdrawals.
func GetYD(amp *uint256.Int, i int, xp []*uint256.Int, d *uint256.Int) (*uint256.Int, error) {
	if err := checkCoins(len(xp)); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(xp) {
		return nil, fmt.Errorf("%w: i=%d n=%d", ErrInvalidAssetIndex, i, len(xp))
	}

	others := make([]*uint256.Int, 0, len(xp)-1)
	for k := range xp {
		if k != i {
			others = append(others, xp[k])
		}
	}
	return solveY(others, len(xp), amp, d)
}

// solveY runs the y iteration given the n-1 balances that stay fixed.
func solveY(others []*uint256.Int, n int, amp, d *uint256.Int) (*uint256.Int, error) {
	if amp.IsZero() {
		return nil, ErrZeroAmp
	}

	var c safemath.Checker
	nU := uint64(n)
	ann := c.MulU64(amp, nU)

	s := new(uint256.Int)
	cc := d.Clone()
	for _, x := range others {
		s = c.Add(s, x)
		cc = c.MulDiv(cc, d, c.MulU64(x, nU))
	}
	cc = c.MulDiv(c.Mul(cc, d), APrecision, c.MulU64(ann, nU))
	b := c.Add(s, c.MulDiv(d, APrecision, ann))
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("computing y: %w", err)
	}

	y := d.Clone()
	for iter := 0; iter < iterationLimit; iter++ {
		prev := y
		num := c.Add(c.Mul(y, y), cc)
		den := c.Sub(c.Add(c.Mul(two, y), b), d)
		y = c.Div(num, den)
		if err := c.Err(); err != nil {
			return nil, fmt.Errorf("computing y: %w", err)
		}

		if safemath.AbsDiff(y, prev).Cmp(one) <= 0 {
			return y, nil
		}
	}
	return nil, fmt.Errorf("%w: y after %d iterations", ErrConvergence, iterationLimit)
}
