// Package engine runs StableSwap pools. An Engine owns one pool and applies
// state-changing operations to it one at a time, each as a single unit: the
// balance changes, the oracle update and the token settlement of an
// operation all happen, or none of them do.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/invariant"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/calculator/safemath"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap/oracle"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// Config holds the pool and the collaborators of an Engine.
type Config struct {
	// Pool is the initial state, either new from stableswap.NewPool or a
	// restored snapshot.
	Pool     stableswap.Pool
	Rates    RateProvider
	Clock    Clock
	Settler  Settler
	Registry prometheus.Registerer
	Logger   Logger
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *Config) validate() error {
	if c.Rates == nil {
		return errors.New("config: Rates cannot be nil")
	}
	if c.Clock == nil {
		return errors.New("config: Clock cannot be nil")
	}
	if c.Settler == nil {
		return errors.New("config: Settler cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Engine owns one pool. It is safe for concurrent use; state-changing
// operations are serialized and reads never observe a half-applied one.
type Engine struct {
	id   uint64
	mu   sync.RWMutex
	pool stableswap.Pool

	rates   RateProvider
	clock   Clock
	settler Settler
	logger  Logger
	metrics *Metrics
}

// NewEngine constructs an engine from a configuration, returning an error if the config is invalid.
func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Registry, cfg.Pool.ID)
	if err != nil {
		return nil, fmt.Errorf("registering metrics for pool %d: %w", cfg.Pool.ID, err)
	}
	return &Engine{
		id:      cfg.Pool.ID,
		pool:    cfg.Pool.Clone(),
		rates:   cfg.Rates,
		clock:   cfg.Clock,
		settler: cfg.Settler,
		logger:  cfg.Logger,
		metrics: metrics,
	}, nil
}

// sampleKind selects what an operation feeds the oracle.
type sampleKind int

const (
	// sampleNone leaves the oracle samples alone.
	sampleNone sampleKind = iota
	// sampleFresh records spot prices and D of the committed balances.
	sampleFresh
	// sampleInitial sets the D sample and its average to D and leaves the
	// prices at the peg.
	sampleInitial
	// sampleD records only effect.d. Balanced operations use it because
	// they leave every price where it was.
	sampleD
)

// effect is what an operation hands back for commit.
type effect struct {
	settlement *Settlement
	sample     sampleKind
	d          *uint256.Int
}

type operation func(next *stableswap.Pool, st calculator.State, now uint64) (effect, error)

// BeforeMutate is the pre-mutation hook every state-changing operation runs
// on its working copy of the pool before touching it. It advances the oracle
// averages to now using the samples of the previous operation.
func BeforeMutate(p *stableswap.Pool, now uint64) error {
	return oracle.BeforeMutate(&p.Oracle, now)
}

func (e *Engine) loadRates(ctx context.Context, n int) ([]*uint256.Int, error) {
	rates, err := e.rates.Rates(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading rates: %w", err)
	}
	if len(rates) != n {
		return nil, fmt.Errorf("%w: got %d rates for %d coins", ErrRateCount, len(rates), n)
	}
	for k, r := range rates {
		if r == nil || r.IsZero() {
			return nil, fmt.Errorf("%w: zero rate for coin %d", calculator.ErrInvalidRates, k)
		}
	}
	return rates, nil
}

// mutate runs fn against a copy of the pool and commits the copy only if fn,
// the oracle sampling and the settlement all succeed.
func (e *Engine) mutate(ctx context.Context, op string, fn operation) (err error) {
	start := time.Now()
	defer func() {
		e.metrics.observe(op, start, err)
		if err != nil {
			e.logger.Debug("Operation rejected", "pool", e.id, "op", op, "error", err)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	rates, err := e.loadRates(ctx, e.pool.NCoins())
	if err != nil {
		return err
	}

	next := e.pool.Clone()
	if err := BeforeMutate(&next, now); err != nil {
		return err
	}
	eff, err := fn(&next, next.CalcState(rates, now), now)
	if err != nil {
		return err
	}
	if err := samplePool(&next, e.pool.Oracle.PriceEMAs, rates, now, eff); err != nil {
		return err
	}
	next.Nonce++

	if eff.settlement != nil {
		if err := e.settler.Settle(ctx, *eff.settlement); err != nil {
			return fmt.Errorf("%w: %w", ErrSettlement, err)
		}
	}

	e.pool = next
	e.metrics.record(next.Oracle.LastPrices, next.Oracle.PriceEMAs, next.Oracle.DEMA, next.TotalSupply)
	e.logger.Info("Operation committed", "pool", next.ID, "op", op, "nonce", next.Nonce, "timestamp", now)
	return nil
}

// samplePool feeds the oracle the samples eff asks for. prev holds the price
// averages of the committed pool.
func samplePool(p *stableswap.Pool, prev, rates []*uint256.Int, now uint64, eff effect) error {
	switch eff.sample {
	case sampleNone:
		return nil
	case sampleD:
		oracle.RecordD(&p.Oracle, eff.d)
		return nil
	}

	st := p.CalcState(rates, now)
	xp, err := st.XP()
	if err != nil {
		return err
	}
	d, err := invariant.GetD(xp, st.Amp)
	if err != nil {
		return err
	}
	if eff.sample == sampleInitial {
		oracle.ResetD(&p.Oracle, d)
		return nil
	}
	if d.IsZero() {
		oracle.RecordD(&p.Oracle, d)
		return nil
	}
	prices, err := calculator.SpotPrices(xp, st.Amp, d)
	if err != nil {
		return err
	}
	return oracle.Record(&p.Oracle, prev, prices, d)
}

func (e *Engine) newSettlement(op string, account common.Address, p *stableswap.Pool) *Settlement {
	s := newSettlement(p.ID, op, account, p.Coins)
	return &s
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}

func creditAdmin(p *stableswap.Pool, fees []*uint256.Int) error {
	var c safemath.Checker
	for k, f := range fees {
		p.AdminBalances[k] = c.Add(p.AdminBalances[k], f)
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("admin balances: %w", err)
	}
	return nil
}

func checkMinimums(amounts, minimums []*uint256.Int) error {
	if minimums == nil {
		return nil
	}
	if len(minimums) != len(amounts) {
		return fmt.Errorf("%w: %d minimums for %d coins", calculator.ErrLengthMismatch, len(minimums), len(amounts))
	}
	for k := range amounts {
		if minimums[k] != nil && amounts[k].Lt(minimums[k]) {
			return fmt.Errorf("%w: coin %d amount %s below minimum %s", ErrSlippageExceeded, k, amounts[k], minimums[k])
		}
	}
	return nil
}

// Exchange swaps dx of coin i from account for coin j and returns the amount
// of coin j paid out. It fails with ErrSlippageExceeded if that is less than
// minDy.
func (e *Engine) Exchange(ctx context.Context, account common.Address, i, j int, dx, minDy *uint256.Int) (*uint256.Int, error) {
	var dy *uint256.Int
	err := e.mutate(ctx, "exchange", func(next *stableswap.Pool, st calculator.State, _ uint64) (effect, error) {
		res, err := calculator.Exchange(st, i, j, dx)
		if err != nil {
			return effect{}, err
		}
		if res.Dy.Lt(orZero(minDy)) {
			return effect{}, fmt.Errorf("%w: dy %s below minimum %s", ErrSlippageExceeded, res.Dy, minDy)
		}

		next.Balances = res.Balances
		var c safemath.Checker
		next.AdminBalances[j] = c.Add(next.AdminBalances[j], res.AdminFee)
		if err := c.Err(); err != nil {
			return effect{}, fmt.Errorf("admin balances: %w", err)
		}

		s := e.newSettlement("exchange", account, next)
		s.In[i] = dx.Clone()
		s.Out[j] = res.Dy
		dy = res.Dy
		return effect{settlement: s, sample: sampleFresh}, nil
	})
	if err != nil {
		return nil, err
	}
	return dy, nil
}

// AddLiquidity deposits amounts from account and returns the LP amount
// minted, which must be at least minMint.
func (e *Engine) AddLiquidity(ctx context.Context, account common.Address, amounts []*uint256.Int, minMint *uint256.Int) (*uint256.Int, error) {
	var minted *uint256.Int
	err := e.mutate(ctx, "add_liquidity", func(next *stableswap.Pool, st calculator.State, _ uint64) (effect, error) {
		res, err := calculator.AddLiquidity(st, amounts)
		if err != nil {
			return effect{}, err
		}
		if res.LPAmount.Lt(orZero(minMint)) {
			return effect{}, fmt.Errorf("%w: mint %s below minimum %s", ErrSlippageExceeded, res.LPAmount, minMint)
		}

		initial := next.TotalSupply.IsZero()
		next.Balances = res.Balances
		if err := creditAdmin(next, res.AdminFees); err != nil {
			return effect{}, err
		}
		var c safemath.Checker
		next.TotalSupply = c.Add(next.TotalSupply, res.LPAmount)
		if err := c.Err(); err != nil {
			return effect{}, fmt.Errorf("total supply: %w", err)
		}

		s := e.newSettlement("add_liquidity", account, next)
		s.In = res.Amounts
		s.Minted = res.LPAmount
		minted = res.LPAmount

		kind := sampleFresh
		if initial {
			kind = sampleInitial
		}
		return effect{settlement: s, sample: kind}, nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// RemoveLiquidity burns burn LP tokens of account for a proportional share
// of every coin. minAmounts may be nil.
func (e *Engine) RemoveLiquidity(ctx context.Context, account common.Address, burn *uint256.Int, minAmounts []*uint256.Int) ([]*uint256.Int, error) {
	var out []*uint256.Int
	err := e.mutate(ctx, "remove_liquidity", func(next *stableswap.Pool, st calculator.State, _ uint64) (effect, error) {
		res, err := calculator.RemoveLiquidity(st, burn)
		if err != nil {
			return effect{}, err
		}
		if err := checkMinimums(res.Amounts, minAmounts); err != nil {
			return effect{}, err
		}

		// The pool ratio is unchanged, so only the D sample moves, in
		// proportion to the burn.
		var c safemath.Checker
		lastD := next.Oracle.LastD
		d := c.Sub(lastD, c.MulDiv(lastD, burn, next.TotalSupply))
		next.TotalSupply = c.Sub(next.TotalSupply, burn)
		if err := c.Err(); err != nil {
			return effect{}, fmt.Errorf("remove liquidity: %w", err)
		}
		next.Balances = res.Balances

		s := e.newSettlement("remove_liquidity", account, next)
		s.Out = res.Amounts
		s.Burned = burn.Clone()
		out = res.Amounts
		return effect{settlement: s, sample: sampleD, d: d}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveLiquidityOneCoin burns burn LP tokens of account for coin i only and
// returns the amount paid out, which must be at least minAmount.
func (e *Engine) RemoveLiquidityOneCoin(ctx context.Context, account common.Address, burn *uint256.Int, i int, minAmount *uint256.Int) (*uint256.Int, error) {
	var dy *uint256.Int
	err := e.mutate(ctx, "remove_liquidity_one_coin", func(next *stableswap.Pool, st calculator.State, _ uint64) (effect, error) {
		res, err := calculator.RemoveLiquidityOneCoin(st, burn, i)
		if err != nil {
			return effect{}, err
		}
		if res.Amounts[i].Lt(orZero(minAmount)) {
			return effect{}, fmt.Errorf("%w: amount %s below minimum %s", ErrSlippageExceeded, res.Amounts[i], minAmount)
		}

		next.Balances = res.Balances
		if err := creditAdmin(next, res.AdminFees); err != nil {
			return effect{}, err
		}
		var c safemath.Checker
		next.TotalSupply = c.Sub(next.TotalSupply, burn)
		if err := c.Err(); err != nil {
			return effect{}, fmt.Errorf("total supply: %w", err)
		}

		s := e.newSettlement("remove_liquidity_one_coin", account, next)
		s.Out = res.Amounts
		s.Burned = burn.Clone()
		dy = res.Amounts[i]
		return effect{settlement: s, sample: sampleFresh}, nil
	})
	if err != nil {
		return nil, err
	}
	return dy, nil
}

// RemoveLiquidityImbalance withdraws exactly amounts for account and returns
// the LP amount burned, which must not exceed maxBurn.
func (e *Engine) RemoveLiquidityImbalance(ctx context.Context, account common.Address, amounts []*uint256.Int, maxBurn *uint256.Int) (*uint256.Int, error) {
	var burned *uint256.Int
	err := e.mutate(ctx, "remove_liquidity_imbalance", func(next *stableswap.Pool, st calculator.State, _ uint64) (effect, error) {
		res, err := calculator.RemoveLiquidityImbalance(st, amounts)
		if err != nil {
			return effect{}, err
		}
		if maxBurn != nil && res.LPAmount.Gt(maxBurn) {
			return effect{}, fmt.Errorf("%w: burn %s above maximum %s", ErrSlippageExceeded, res.LPAmount, maxBurn)
		}

		next.Balances = res.Balances
		if err := creditAdmin(next, res.AdminFees); err != nil {
			return effect{}, err
		}
		var c safemath.Checker
		next.TotalSupply = c.Sub(next.TotalSupply, res.LPAmount)
		if err := c.Err(); err != nil {
			return effect{}, fmt.Errorf("total supply: %w", err)
		}

		s := e.newSettlement("remove_liquidity_imbalance", account, next)
		s.Out = res.Amounts
		s.Burned = res.LPAmount
		burned = res.LPAmount
		return effect{settlement: s, sample: sampleFresh}, nil
	})
	if err != nil {
		return nil, err
	}
	return burned, nil
}

// RampA starts moving the amplification coefficient towards futureA
// (without A_PRECISION), reached at futureTime.
func (e *Engine) RampA(ctx context.Context, futureA, futureTime uint64) error {
	return e.mutate(ctx, "ramp_a", func(next *stableswap.Pool, _ calculator.State, now uint64) (effect, error) {
		ramp, err := next.Amp.Ramp(futureA, futureTime, now)
		if err != nil {
			return effect{}, err
		}
		next.Amp = ramp
		return effect{sample: sampleNone}, nil
	})
}

// StopRampA freezes the amplification coefficient at its current value.
func (e *Engine) StopRampA(ctx context.Context) error {
	return e.mutate(ctx, "stop_ramp_a", func(next *stableswap.Pool, _ calculator.State, now uint64) (effect, error) {
		next.Amp = next.Amp.Stop(now)
		return effect{sample: sampleNone}, nil
	})
}

// WithdrawAdminFees pays every admin balance out to recipient.
func (e *Engine) WithdrawAdminFees(ctx context.Context, recipient common.Address) ([]*uint256.Int, error) {
	var out []*uint256.Int
	err := e.mutate(ctx, "withdraw_admin_fees", func(next *stableswap.Pool, _ calculator.State, _ uint64) (effect, error) {
		s := e.newSettlement("withdraw_admin_fees", recipient, next)
		s.Out = next.AdminBalances
		out = safemath.Clone(next.AdminBalances)
		next.AdminBalances = make([]*uint256.Int, len(out))
		for k := range next.AdminBalances {
			next.AdminBalances[k] = new(uint256.Int)
		}
		return effect{settlement: s, sample: sampleNone}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
