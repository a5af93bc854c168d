// Package calculator prices StableSwap operations against a pool state.
//
// Every function is pure. Callers pass the state to evaluate, receive the
// outcome of the operation (amounts, fees and resulting balances) and decide
// whether to commit it.
package calculator

import (
	"errors"
	"fmt"

	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/invariant"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/safemath"
	"github.com/holiman/uint256"
)

var (
	// Precision is the 1e18 fixed-point unit used for prices, rates and xp.
	Precision = uint256.NewInt(1e18)
	// FeeDenominator expresses fees: 1e10 is 100%.
	FeeDenominator = uint256.NewInt(1e10)
	// AdminFee is the share of every fee that goes to the admin balances (50%).
	AdminFee = uint256.NewInt(5e9)
	// MaxFee is the largest base fee a pool may charge (50%).
	MaxFee = uint256.NewInt(5e9)
)

var (
	// ErrZeroAmount is returned when an operation would move nothing.
	ErrZeroAmount = errors.New("zero amount")
	// ErrLengthMismatch is returned when per-coin vectors disagree in length.
	ErrLengthMismatch = errors.New("per-coin vector length mismatch")
	// ErrInvalidRates is returned for unusable rate vectors.
	ErrInvalidRates = errors.New("invalid rates")
	// ErrInsufficientSupply is returned when an LP amount exceeds the total supply
	// or the pool holds no liquidity.
	ErrInsufficientSupply = errors.New("insufficient LP supply")
	// ErrInsufficientBalance is returned when a withdrawal exceeds a pool balance.
	ErrInsufficientBalance = errors.New("insufficient pool balance")
	// ErrInitialDepositIncomplete is returned when the first deposit omits a coin.
	ErrInitialDepositIncomplete = errors.New("initial deposit requires all coins")
	// ErrNoInvariantGain is returned when a deposit does not increase D.
	ErrNoInvariantGain = errors.New("deposit does not increase the invariant")
)

// State is the pool state a calculation runs against.
type State struct {
	// Balances are the raw pool balances, excluding admin fees.
	Balances []*uint256.Int
	// Rates are the 1e18-scaled rates used to normalize Balances.
	Rates []*uint256.Int
	// Amp is the amplification coefficient times invariant.APrecision.
	Amp *uint256.Int
	// Fee is the base fee over FeeDenominator.
	Fee *uint256.Int
	// OffpegFeeMultiplier scales the fee up when a pool leaves the peg.
	// Values at or below FeeDenominator disable the dynamic fee.
	OffpegFeeMultiplier *uint256.Int
	// TotalSupply is the outstanding LP token supply.
	TotalSupply *uint256.Int
}

// N returns the number of coins in the state.
func (s State) N() int {
	return len(s.Balances)
}

// XP returns the normalized balances of the state.
func (s State) XP() ([]*uint256.Int, error) {
	return XP(s.Balances, s.Rates)
}

// D returns the invariant of the state.
func (s State) D() (*uint256.Int, error) {
	xp, err := s.XP()
	if err != nil {
		return nil, err
	}
	return invariant.GetD(xp, s.Amp)
}

// SwapResult is the outcome of an exchange.
type SwapResult struct {
	// Dy is the amount of coin j paid out, net of fees.
	Dy *uint256.Int
	// Fee is the total fee charged in coin j.
	Fee *uint256.Int
	// AdminFee is the admin share of Fee.
	AdminFee *uint256.Int
	// Balances are the pool balances after the exchange.
	Balances []*uint256.Int
}

// LiquidityResult is the outcome of a deposit or withdrawal.
type LiquidityResult struct {
	// Amounts are the coins moved per slot: paid in for deposits, paid out
	// for withdrawals.
	Amounts []*uint256.Int
	// LPAmount is the LP amount minted for deposits or burned for withdrawals.
	LPAmount *uint256.Int
	// Fees is the fee charged per coin.
	Fees []*uint256.Int
	// AdminFees is the admin share of Fees per coin.
	AdminFees []*uint256.Int
	// Balances are the pool balances after the operation.
	Balances []*uint256.Int
}

func zeros(n int) []*uint256.Int {
	out := make([]*uint256.Int, n)
	for k := range out {
		out[k] = new(uint256.Int)
	}
	return out
}

func checkIndex(i, n int) error {
	if i < 0 || i >= n {
		return fmt.Errorf("%w: %d not in [0, %d)", invariant.ErrInvalidAssetIndex, i, n)
	}
	return nil
}

func adminShare(c *safemath.Checker, fee *uint256.Int) *uint256.Int {
	return c.MulDiv(fee, AdminFee, FeeDenominator)
}

// DynamicFee returns the fee charged between two normalized balances. Away
// from the peg the fee grows towards fee*multiplier/FeeDenominator.
func DynamicFee(xpi, xpj, fee, offpegFeeMultiplier *uint256.Int) (*uint256.Int, error) {
	if offpegFeeMultiplier == nil || !offpegFeeMultiplier.Gt(FeeDenominator) {
		return fee.Clone(), nil
	}

	var c safemath.Checker
	sum := c.Add(xpi, xpj)
	xps2 := c.Mul(sum, sum)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("dynamic fee: %w", err)
	}
	if xps2.IsZero() {
		return fee.Clone(), nil
	}

	skew := c.Div(c.Mul(c.MulU64(c.Mul(c.Sub(offpegFeeMultiplier, FeeDenominator), xpi), 4), xpj), xps2)
	out := c.Div(c.Mul(offpegFeeMultiplier, fee), c.Add(skew, FeeDenominator))
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("dynamic fee: %w", err)
	}
	return out, nil
}

// SpotPrices returns the marginal price of every coin k in [1, n) in units of
// coin 0, 1e18-scaled, at normalized balances xp with invariant d. Element
// k-1 of the result is the price of coin k.
func SpotPrices(xp []*uint256.Int, amp, d *uint256.Int) ([]*uint256.Int, error) {
	n := len(xp)
	if n < invariant.MinCoins || n > invariant.MaxCoins {
		return nil, fmt.Errorf("%w: %d coins", invariant.ErrInvalidCoinCount, n)
	}

	var c safemath.Checker
	nn := uint64(1)
	for k := 0; k < n; k++ {
		nn *= uint64(n)
	}
	ann := c.MulU64(amp, uint64(n))
	dr := c.DivU64(d, nn)
	for _, x := range xp {
		dr = c.MulDiv(dr, d, x)
	}
	xp0A := c.MulDiv(ann, xp[0], invariant.APrecision)
	den := c.Add(xp0A, dr)

	prices := make([]*uint256.Int, n-1)
	for k := 1; k < n; k++ {
		num := c.Add(xp0A, c.MulDiv(dr, xp[0], xp[k]))
		prices[k-1] = c.MulDiv(Precision, num, den)
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("spot prices: %w", err)
	}
	return prices, nil
}

// GetP returns the spot prices of the state, see SpotPrices.
func GetP(s State) ([]*uint256.Int, error) {
	xp, err := s.XP()
	if err != nil {
		return nil, err
	}
	d, err := invariant.GetD(xp, s.Amp)
	if err != nil {
		return nil, err
	}
	return SpotPrices(xp, s.Amp, d)
}

// Exchange prices swapping dx of coin i for coin j. The returned balances
// credit the full dx to coin i and debit coin j by dy plus the admin fee, so
// the LP share of the fee stays in the pool.
func Exchange(s State, i, j int, dx *uint256.Int) (SwapResult, error) {
	n := s.N()
	if i == j || checkIndex(i, n) != nil || checkIndex(j, n) != nil {
		return SwapResult{}, fmt.Errorf("%w: i=%d j=%d n=%d", invariant.ErrInvalidAssetIndex, i, j, n)
	}
	if dx == nil || dx.IsZero() {
		return SwapResult{}, ErrZeroAmount
	}

	xp, err := s.XP()
	if err != nil {
		return SwapResult{}, err
	}
	d, err := invariant.GetD(xp, s.Amp)
	if err != nil {
		return SwapResult{}, err
	}

	var c safemath.Checker
	x := c.Add(xp[i], c.MulDiv(dx, s.Rates[i], Precision))
	if err := c.Err(); err != nil {
		return SwapResult{}, fmt.Errorf("exchange input: %w", err)
	}
	y, err := invariant.GetY(i, j, x, xp, s.Amp, d)
	if err != nil {
		return SwapResult{}, err
	}

	dy := c.Sub(c.Sub(xp[j], y), uint256.NewInt(1))
	if err := c.Err(); err != nil {
		return SwapResult{}, fmt.Errorf("%w: exchange output", ErrInsufficientBalance)
	}
	fee, err := DynamicFee(c.DivU64(c.Add(xp[i], x), 2), c.DivU64(c.Add(xp[j], y), 2), s.Fee, s.OffpegFeeMultiplier)
	if err != nil {
		return SwapResult{}, err
	}
	dyFee := c.MulDiv(dy, fee, FeeDenominator)

	out := c.MulDiv(c.Sub(dy, dyFee), Precision, s.Rates[j])
	feeRaw := c.MulDiv(dyFee, Precision, s.Rates[j])
	adminFee := c.MulDiv(adminShare(&c, dyFee), Precision, s.Rates[j])

	balances := safemath.Clone(s.Balances)
	balances[i] = c.Add(balances[i], dx)
	balances[j] = c.Sub(balances[j], c.Add(out, adminFee))
	if err := c.Err(); err != nil {
		return SwapResult{}, fmt.Errorf("exchange: %w", err)
	}

	return SwapResult{
		Dy:       out,
		Fee:      feeRaw,
		AdminFee: adminFee,
		Balances: balances,
	}, nil
}

// GetDy returns the output of exchanging dx of coin i for coin j.
func GetDy(s State, i, j int, dx *uint256.Int) (*uint256.Int, error) {
	res, err := Exchange(s, i, j, dx)
	if err != nil {
		return nil, err
	}
	return res.Dy, nil
}

// imbalance holds the shared fee computation of uneven deposits and withdrawals.
type imbalance struct {
	d0, d1    *uint256.Int
	amounts   []*uint256.Int
	fees      []*uint256.Int
	adminFees []*uint256.Int
	balances  []*uint256.Int
}

// applyImbalance moves amounts into (deposit) or out of the pool and charges
// the imbalance fee on the distance of each coin from its ideal balance.
func applyImbalance(s State, amounts []*uint256.Int, deposit bool) (imbalance, error) {
	n := s.N()
	if len(amounts) != n {
		return imbalance{}, fmt.Errorf("%w: %d amounts for %d coins", ErrLengthMismatch, len(amounts), n)
	}
	if n < invariant.MinCoins {
		return imbalance{}, fmt.Errorf("%w: %d coins", invariant.ErrInvalidCoinCount, n)
	}
	supply := s.TotalSupply
	if supply == nil {
		supply = new(uint256.Int)
	}

	var c safemath.Checker
	allZero := true
	newBalances := make([]*uint256.Int, n)
	for k := range amounts {
		if !amounts[k].IsZero() {
			allZero = false
		}
		if deposit {
			if supply.IsZero() && amounts[k].IsZero() {
				return imbalance{}, ErrInitialDepositIncomplete
			}
			newBalances[k] = c.Add(s.Balances[k], amounts[k])
		} else {
			if amounts[k].Gt(s.Balances[k]) {
				return imbalance{}, fmt.Errorf("%w: coin %d", ErrInsufficientBalance, k)
			}
			newBalances[k] = c.Sub(s.Balances[k], amounts[k])
		}
	}
	if allZero {
		return imbalance{}, ErrZeroAmount
	}
	if err := c.Err(); err != nil {
		return imbalance{}, fmt.Errorf("applying amounts: %w", err)
	}
	if !deposit && supply.IsZero() {
		return imbalance{}, ErrInsufficientSupply
	}

	d0 := new(uint256.Int)
	if !supply.IsZero() {
		var err error
		if d0, err = s.D(); err != nil {
			return imbalance{}, err
		}
	}
	next := s
	next.Balances = newBalances
	d1, err := next.D()
	if err != nil {
		return imbalance{}, err
	}

	res := imbalance{
		d0:        d0,
		d1:        d1,
		amounts:   safemath.Clone(amounts),
		fees:      zeros(n),
		adminFees: zeros(n),
		balances:  safemath.Clone(newBalances),
	}
	if supply.IsZero() || d0.IsZero() {
		return res, nil
	}

	nU := uint64(n)
	ys := c.DivU64(c.Add(d0, d1), nU)
	baseFee := c.DivU64(c.MulU64(s.Fee, nU), 4*(nU-1))
	feeless := make([]*uint256.Int, n)
	for k := range newBalances {
		ideal := c.MulDiv(d1, s.Balances[k], d0)
		diff := safemath.AbsDiff(ideal, newBalances[k])
		xs := c.MulDiv(s.Rates[k], c.Add(s.Balances[k], newBalances[k]), Precision)
		if err := c.Err(); err != nil {
			return imbalance{}, fmt.Errorf("imbalance fee: %w", err)
		}
		fee, err := DynamicFee(xs, ys, baseFee, s.OffpegFeeMultiplier)
		if err != nil {
			return imbalance{}, err
		}
		res.fees[k] = c.MulDiv(fee, diff, FeeDenominator)
		res.adminFees[k] = adminShare(&c, res.fees[k])
		res.balances[k] = c.Sub(newBalances[k], res.adminFees[k])
		feeless[k] = c.Sub(newBalances[k], res.fees[k])
	}
	if err := c.Err(); err != nil {
		return imbalance{}, fmt.Errorf("imbalance fee: %w", err)
	}

	next.Balances = feeless
	if res.d1, err = next.D(); err != nil {
		return imbalance{}, err
	}
	return res, nil
}

// AddLiquidity prices a deposit of amounts. The first deposit must include
// every coin and mints D LP tokens.
func AddLiquidity(s State, amounts []*uint256.Int) (LiquidityResult, error) {
	im, err := applyImbalance(s, amounts, true)
	if err != nil {
		return LiquidityResult{}, err
	}
	if !im.d1.Gt(im.d0) {
		return LiquidityResult{}, ErrNoInvariantGain
	}

	var c safemath.Checker
	mint := im.d1
	if !im.d0.IsZero() {
		mint = c.MulDiv(s.TotalSupply, c.Sub(im.d1, im.d0), im.d0)
	}
	if err := c.Err(); err != nil {
		return LiquidityResult{}, fmt.Errorf("mint amount: %w", err)
	}
	if mint.IsZero() {
		return LiquidityResult{}, ErrZeroAmount
	}

	return LiquidityResult{
		Amounts:   im.amounts,
		LPAmount:  mint,
		Fees:      im.fees,
		AdminFees: im.adminFees,
		Balances:  im.balances,
	}, nil
}

// RemoveLiquidityImbalance prices withdrawing exactly amounts. The burned LP
// amount is rounded up by one unit in favour of the pool.
func RemoveLiquidityImbalance(s State, amounts []*uint256.Int) (LiquidityResult, error) {
	im, err := applyImbalance(s, amounts, false)
	if err != nil {
		return LiquidityResult{}, err
	}

	var c safemath.Checker
	burn := c.Add(c.MulDiv(c.Sub(im.d0, im.d1), s.TotalSupply, im.d0), uint256.NewInt(1))
	if err := c.Err(); err != nil {
		return LiquidityResult{}, fmt.Errorf("burn amount: %w", err)
	}
	if burn.Cmp(uint256.NewInt(1)) <= 0 {
		return LiquidityResult{}, ErrZeroAmount
	}
	if burn.Gt(s.TotalSupply) {
		return LiquidityResult{}, fmt.Errorf("%w: burn %s of %s", ErrInsufficientSupply, burn, s.TotalSupply)
	}

	return LiquidityResult{
		Amounts:   im.amounts,
		LPAmount:  burn,
		Fees:      im.fees,
		AdminFees: im.adminFees,
		Balances:  im.balances,
	}, nil
}

// CalcTokenAmount returns the LP amount a deposit would mint or an imbalanced
// withdrawal would burn, fees included. The withdrawal figure omits the
// one-unit rounding RemoveLiquidityImbalance adds.
func CalcTokenAmount(s State, amounts []*uint256.Int, deposit bool) (*uint256.Int, error) {
	if deposit {
		res, err := AddLiquidity(s, amounts)
		if err != nil {
			return nil, err
		}
		return res.LPAmount, nil
	}

	im, err := applyImbalance(s, amounts, false)
	if err != nil {
		return nil, err
	}
	var c safemath.Checker
	out := c.MulDiv(c.Sub(im.d0, im.d1), s.TotalSupply, im.d0)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("token amount: %w", err)
	}
	return out, nil
}

// RemoveLiquidity prices a balanced withdrawal of burn LP tokens. It charges
// no fee and leaves the pool ratio unchanged.
func RemoveLiquidity(s State, burn *uint256.Int) (LiquidityResult, error) {
	if burn == nil || burn.IsZero() {
		return LiquidityResult{}, ErrZeroAmount
	}
	if s.TotalSupply == nil || burn.Gt(s.TotalSupply) {
		return LiquidityResult{}, fmt.Errorf("%w: burn %s", ErrInsufficientSupply, burn)
	}

	var c safemath.Checker
	n := s.N()
	amounts := make([]*uint256.Int, n)
	balances := make([]*uint256.Int, n)
	for k := range s.Balances {
		amounts[k] = c.MulDiv(s.Balances[k], burn, s.TotalSupply)
		balances[k] = c.Sub(s.Balances[k], amounts[k])
	}
	if err := c.Err(); err != nil {
		return LiquidityResult{}, fmt.Errorf("remove liquidity: %w", err)
	}

	return LiquidityResult{
		Amounts:   amounts,
		LPAmount:  burn.Clone(),
		Fees:      zeros(n),
		AdminFees: zeros(n),
		Balances:  balances,
	}, nil
}

// RemoveLiquidityOneCoin prices burning burn LP tokens for coin i only.
// D drops in proportion to the burn and the new balance of coin i is solved
// at that D, with the imbalance fee charged on every coin's deviation.
func RemoveLiquidityOneCoin(s State, burn *uint256.Int, i int) (LiquidityResult, error) {
	n := s.N()
	if err := checkIndex(i, n); err != nil {
		return LiquidityResult{}, err
	}
	if burn == nil || burn.IsZero() {
		return LiquidityResult{}, ErrZeroAmount
	}
	if s.TotalSupply == nil || s.TotalSupply.IsZero() || burn.Gt(s.TotalSupply) {
		return LiquidityResult{}, fmt.Errorf("%w: burn %s", ErrInsufficientSupply, burn)
	}

	xp, err := s.XP()
	if err != nil {
		return LiquidityResult{}, err
	}
	d0, err := invariant.GetD(xp, s.Amp)
	if err != nil {
		return LiquidityResult{}, err
	}

	var c safemath.Checker
	d1 := c.Sub(d0, c.MulDiv(burn, d0, s.TotalSupply))
	if err := c.Err(); err != nil {
		return LiquidityResult{}, fmt.Errorf("withdraw one coin: %w", err)
	}
	newY, err := invariant.GetYD(s.Amp, i, xp, d1)
	if err != nil {
		return LiquidityResult{}, err
	}

	nU := uint64(n)
	baseFee := c.DivU64(c.MulU64(s.Fee, nU), 4*(nU-1))
	ys := c.DivU64(c.Add(d0, d1), 2*nU)
	reduced := safemath.Clone(xp)
	for k := range xp {
		var expected, avg *uint256.Int
		if k == i {
			expected = c.Sub(c.MulDiv(xp[k], d1, d0), newY)
			avg = c.DivU64(c.Add(xp[k], newY), 2)
		} else {
			expected = c.Sub(xp[k], c.MulDiv(xp[k], d1, d0))
			avg = xp[k]
		}
		if err := c.Err(); err != nil {
			return LiquidityResult{}, fmt.Errorf("withdraw one coin: %w", err)
		}
		fee, err := DynamicFee(avg, ys, baseFee, s.OffpegFeeMultiplier)
		if err != nil {
			return LiquidityResult{}, err
		}
		reduced[k] = c.Sub(reduced[k], c.MulDiv(fee, expected, FeeDenominator))
	}
	if err := c.Err(); err != nil {
		return LiquidityResult{}, fmt.Errorf("withdraw one coin: %w", err)
	}

	yReduced, err := invariant.GetYD(s.Amp, i, reduced, d1)
	if err != nil {
		return LiquidityResult{}, err
	}
	dy := c.MulDiv(c.Sub(c.Sub(reduced[i], yReduced), uint256.NewInt(1)), Precision, s.Rates[i])
	dy0 := c.MulDiv(c.Sub(xp[i], newY), Precision, s.Rates[i])
	fee := c.Sub(dy0, dy)
	admin := adminShare(&c, fee)
	if err := c.Err(); err != nil {
		return LiquidityResult{}, fmt.Errorf("withdraw one coin: %w", err)
	}

	amounts, fees, adminFees := zeros(n), zeros(n), zeros(n)
	amounts[i], fees[i], adminFees[i] = dy, fee, admin
	balances := safemath.Clone(s.Balances)
	balances[i] = c.Sub(balances[i], c.Add(dy, admin))
	if err := c.Err(); err != nil {
		return LiquidityResult{}, fmt.Errorf("%w: coin %d", ErrInsufficientBalance, i)
	}

	return LiquidityResult{
		Amounts:   amounts,
		LPAmount:  burn.Clone(),
		Fees:      fees,
		AdminFees: adminFees,
		Balances:  balances,
	}, nil
}

// CalcWithdrawOneCoin returns the amount of coin i burning burn LP tokens yields.
func CalcWithdrawOneCoin(s State, burn *uint256.Int, i int) (*uint256.Int, error) {
	res, err := RemoveLiquidityOneCoin(s, burn, i)
	if err != nil {
		return nil, err
	}
	return res.Amounts[i], nil
}

// VirtualPrice returns D per LP token, 1e18-scaled.
func VirtualPrice(s State) (*uint256.Int, error) {
	if s.TotalSupply == nil || s.TotalSupply.IsZero() {
		return nil, ErrInsufficientSupply
	}
	d, err := s.D()
	if err != nil {
		return nil, err
	}
	var c safemath.Checker
	out := c.MulDiv(d, Precision, s.TotalSupply)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("virtual price: %w", err)
	}
	return out, nil
}
