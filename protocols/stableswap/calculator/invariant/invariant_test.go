package invariant

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

func vec(xs ...string) []*uint256.Int {
	out := make([]*uint256.Int, len(xs))
	for i, x := range xs {
		out[i] = u(x)
	}
	return out
}

// rootError returns f(D)/f'(D), the distance in units between D and the exact
// root of the invariant equation, evaluated in high precision.
func rootError(xp []*uint256.Int, amp, d *uint256.Int) float64 {
	const prec = 512
	newF := func(x *uint256.Int) *big.Float {
		return new(big.Float).SetPrec(prec).SetInt(x.ToBig())
	}

	n := int64(len(xp))
	nn := new(big.Float).SetPrec(prec).SetInt64(1)
	s := new(big.Float).SetPrec(prec)
	p := new(big.Float).SetPrec(prec).SetInt64(1)
	for _, x := range xp {
		nn.Mul(nn, big.NewFloat(float64(n)))
		s.Add(s, newF(x))
		p.Mul(p, newF(x))
	}
	a := new(big.Float).SetPrec(prec).Quo(newF(amp), newF(APrecision))
	ann := new(big.Float).SetPrec(prec).Mul(a, big.NewFloat(float64(n)))
	D := newF(d)

	dn := new(big.Float).SetPrec(prec).SetInt64(1)
	for k := int64(0); k < n; k++ {
		dn.Mul(dn, D)
	}
	nnp := new(big.Float).SetPrec(prec).Mul(nn, p)
	dp := new(big.Float).SetPrec(prec).Quo(new(big.Float).SetPrec(prec).Mul(dn, D), nnp)

	f := new(big.Float).SetPrec(prec).Mul(ann, s)
	f.Add(f, D)
	f.Sub(f, new(big.Float).SetPrec(prec).Mul(ann, D))
	f.Sub(f, dp)

	fp := new(big.Float).SetPrec(prec).SetInt64(1)
	fp.Sub(fp, ann)
	fp.Sub(fp, new(big.Float).SetPrec(prec).Quo(new(big.Float).SetPrec(prec).Mul(big.NewFloat(float64(n+1)), dn), nnp))

	e, _ := new(big.Float).Quo(f, fp).Float64()
	if e < 0 {
		return -e
	}
	return e
}

func TestGetD(t *testing.T) {
	tests := []struct {
		name string
		xp   []*uint256.Int
		amp  *uint256.Int
	}{
		{"balanced two coins", vec("1000000000000000000000000", "1000000000000000000000000"), uint256.NewInt(100 * 100)},
		{"skewed two coins", vec("1000000000000000000000000", "25000000000000000000000"), uint256.NewInt(100 * 100)},
		{"heavily skewed two coins", vec("1000000000000000000000000", "10000000000000000000000"), uint256.NewInt(2000 * 100)},
		{"low amp", vec("5000000000000000000", "7000000000000000000"), uint256.NewInt(1 * 100)},
		{"three coins", vec("3000000000000000000000", "2000000000000000000000", "1000000000000000000000"), uint256.NewInt(200 * 100)},
		{"four coins", vec("1000000000000000000000000", "1100000000000000000000000", "900000000000000000000000", "1000000000000000000000000"), uint256.NewInt(1000 * 100)},
		{"eight coins", vec("1000000000000000000000", "1000000000000000000000", "1200000000000000000000", "1000000000000000000000", "1000000000000000000000", "800000000000000000000", "1000000000000000000000", "1000000000000000000000"), uint256.NewInt(500 * 100)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, err := GetD(tc.xp, tc.amp)
			require.NoError(t, err)
			assert.False(t, d.IsZero())
			assert.LessOrEqual(t, rootError(tc.xp, tc.amp, d), 2.0, "D=%s", d)
		})
	}
}

func TestGetDBalancedEqualsSum(t *testing.T) {
	xp := vec("1000000000000000000000", "1000000000000000000000", "1000000000000000000000")
	d, err := GetD(xp, uint256.NewInt(100*100))
	require.NoError(t, err)
	assert.Equal(t, "3000000000000000000000", d.Dec())
}

func TestGetDPermutationInvariance(t *testing.T) {
	amp := uint256.NewInt(150 * 100)
	base := vec("1234567890000000000000", "987654321000000000000", "50000000000000000000000")
	want, err := GetD(base, amp)
	require.NoError(t, err)

	perms := [][]int{{0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, perm := range perms {
		xp := make([]*uint256.Int, len(base))
		for k, idx := range perm {
			xp[k] = base[idx]
		}
		got, err := GetD(xp, amp)
		require.NoError(t, err)
		assert.True(t, want.Eq(got), "perm %v: got %s want %s", perm, got, want)
	}
}

func TestGetDDoesNotModifyInput(t *testing.T) {
	xp := vec("3000000000000000000", "1000000000000000000")
	_, err := GetD(xp, uint256.NewInt(10000))
	require.NoError(t, err)
	assert.Equal(t, "3000000000000000000", xp[0].Dec())
	assert.Equal(t, "1000000000000000000", xp[1].Dec())
}

func TestGetDErrors(t *testing.T) {
	t.Run("empty pool", func(t *testing.T) {
		d, err := GetD(vec("0", "0"), uint256.NewInt(10000))
		require.NoError(t, err)
		assert.True(t, d.IsZero())
	})

	t.Run("coin count", func(t *testing.T) {
		_, err := GetD(vec("1"), uint256.NewInt(10000))
		assert.ErrorIs(t, err, ErrInvalidCoinCount)
		_, err = GetD(vec("1", "1", "1", "1", "1", "1", "1", "1", "1"), uint256.NewInt(10000))
		assert.ErrorIs(t, err, ErrInvalidCoinCount)
	})

	t.Run("zero amp", func(t *testing.T) {
		_, err := GetD(vec("1", "1"), new(uint256.Int))
		assert.ErrorIs(t, err, ErrZeroAmp)
	})

	t.Run("one empty side", func(t *testing.T) {
		_, err := GetD(vec("1000", "0"), uint256.NewInt(10000))
		assert.Error(t, err)
	})

	t.Run("convergence", func(t *testing.T) {
		defer LimitIterations(1)()

		_, err := GetD(vec("1000000000000000000000000", "1000000000000000000"), uint256.NewInt(10000))
		assert.ErrorIs(t, err, ErrConvergence)
	})
}

func TestGetY(t *testing.T) {
	amp := uint256.NewInt(100 * 100)
	xp := vec("1000000000000000000000000", "1000000000000000000000000", "1000000000000000000000000")
	d, err := GetD(xp, amp)
	require.NoError(t, err)

	x := u("1100000000000000000000000")
	y, err := GetY(0, 2, x, xp, amp, d)
	require.NoError(t, err)
	assert.True(t, y.Lt(xp[2]), "adding coin 0 must reduce coin 2")

	// Near the peg with A=100 almost the whole input comes out.
	out := new(uint256.Int).Sub(xp[2], y)
	assert.True(t, out.Gt(u("99000000000000000000000")), "out=%s", out)

	moved := vec(x.Dec(), xp[1].Dec(), y.Dec())
	d2, err := GetD(moved, amp)
	require.NoError(t, err)
	diff := new(big.Int).Abs(new(big.Int).Sub(d2.ToBig(), d.ToBig()))
	assert.True(t, diff.Cmp(big.NewInt(1_000_000_000)) < 0, "D drifted by %s", diff)
}

func TestGetYErrors(t *testing.T) {
	amp := uint256.NewInt(10000)
	xp := vec("1000", "1000")
	d := u("2000")

	for _, idx := range [][2]int{{0, 0}, {-1, 1}, {0, 2}, {2, 0}} {
		_, err := GetY(idx[0], idx[1], u("1"), xp, amp, d)
		assert.ErrorIs(t, err, ErrInvalidAssetIndex, "i=%d j=%d", idx[0], idx[1])
	}

	_, err := GetYD(amp, 2, xp, d)
	assert.ErrorIs(t, err, ErrInvalidAssetIndex)
}

func TestGetYD(t *testing.T) {
	amp := uint256.NewInt(200 * 100)
	xp := vec("1000000000000000000000", "1000000000000000000000")
	d, err := GetD(xp, amp)
	require.NoError(t, err)

	// Same D returns the current balance.
	y, err := GetYD(amp, 1, xp, d)
	require.NoError(t, err)
	diff := new(big.Int).Abs(new(big.Int).Sub(y.ToBig(), xp[1].ToBig()))
	assert.True(t, diff.Cmp(big.NewInt(2)) <= 0, "y=%s", y)

	// Lower D lowers the solved balance.
	lower := new(uint256.Int).Sub(d, u("100000000000000000000"))
	y2, err := GetYD(amp, 1, xp, lower)
	require.NoError(t, err)
	assert.True(t, y2.Lt(y))
	assert.True(t, y2.Lt(u("910000000000000000000")))
}
