// Package api exposes StableSwap engines over JSON-RPC under the
// "stableswap" namespace. Every method takes the pool ID first.
package api

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/defistate/defistate-stableswap-go/engine"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

// Namespace is the namespace under which the service is registered.
const Namespace = "stableswap"

// ErrUnknownPool is returned for pool IDs no engine serves.
var ErrUnknownPool = errors.New("unknown pool")

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the configuration for the service.
type Config struct {
	Engines []*engine.Engine
	Logger  Logger
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if len(c.Engines) == 0 {
		return errors.New("config: at least one engine is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Service is the RPC receiver. All of its exported methods are RPC methods.
type Service struct {
	engines map[uint64]*engine.Engine
	ids     []uint64
	logger  Logger
}

// NewService indexes the engines by pool ID.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Service{
		engines: make(map[uint64]*engine.Engine, len(cfg.Engines)),
		logger:  cfg.Logger,
	}
	for _, e := range cfg.Engines {
		if _, ok := s.engines[e.ID()]; ok {
			return nil, fmt.Errorf("config: duplicate engine for pool %d", e.ID())
		}
		s.engines[e.ID()] = e
		s.ids = append(s.ids, e.ID())
	}
	sort.Slice(s.ids, func(a, b int) bool { return s.ids[a] < s.ids[b] })
	return s, nil
}

// Register registers svc, and streamer if not nil, with server.
func Register(server *rpc.Server, svc *Service, streamer *Streamer) error {
	if err := server.RegisterName(Namespace, svc); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	if streamer != nil {
		if err := server.RegisterName(Namespace, &streamAPI{streamer: streamer}); err != nil {
			return fmt.Errorf("failed to register streamer: %w", err)
		}
	}
	return nil
}

func (s *Service) engine(pool uint64) (*engine.Engine, error) {
	e, ok := s.engines[pool]
	if !ok {
		return nil, wrap(fmt.Errorf("%w: %d", ErrUnknownPool, pool))
	}
	return e, nil
}

// Pools returns the IDs of every served pool.
func (s *Service) Pools() []uint64 {
	return append([]uint64(nil), s.ids...)
}

func (s *Service) NCoins(pool uint64) (int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return 0, err
	}
	return e.NCoins(), nil
}

func (s *Service) StoredRates(ctx context.Context, pool uint64) ([]*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	rates, err := e.StoredRates(ctx)
	return rates, wrap(err)
}

// GetP returns the spot price of coin k+1 in units of coin 0.
func (s *Service) GetP(ctx context.Context, pool uint64, k int) (*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	p, err := e.GetP(ctx, k)
	return p, wrap(err)
}

func (s *Service) LastPrice(pool uint64, k int) (*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	p, err := e.LastPrice(k)
	return p, wrap(err)
}

func (s *Service) PriceOracle(pool uint64, k int) (*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	p, err := e.PriceOracle(k)
	return p, wrap(err)
}

func (s *Service) DOracle(pool uint64) (*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	d, err := e.DOracle()
	return d, wrap(err)
}

func (s *Service) GetDy(ctx context.Context, pool uint64, i, j int, dx *uint256.Int) (*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	dy, err := e.GetDy(ctx, i, j, dx)
	return dy, wrap(err)
}

func (s *Service) CalcWithdrawOneCoin(ctx context.Context, pool uint64, burn *uint256.Int, i int) (*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	dy, err := e.CalcWithdrawOneCoin(ctx, burn, i)
	return dy, wrap(err)
}

func (s *Service) CalcTokenAmount(ctx context.Context, pool uint64, amounts []*uint256.Int, deposit bool) (*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	lp, err := e.CalcTokenAmount(ctx, amounts, deposit)
	return lp, wrap(err)
}

func (s *Service) GetVirtualPrice(ctx context.Context, pool uint64) (*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	vp, err := e.GetVirtualPrice(ctx)
	return vp, wrap(err)
}

// A returns the amplification coefficient without A_PRECISION.
func (s *Service) A(pool uint64) (uint64, error) {
	e, err := s.engine(pool)
	if err != nil {
		return 0, err
	}
	return e.A(), nil
}

func (s *Service) APrecise(pool uint64) (*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	return e.APrecise(), nil
}

func (s *Service) Balances(pool uint64) ([]*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	return e.Snapshot().Balances, nil
}

func (s *Service) AdminBalances(pool uint64) ([]*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	return e.Snapshot().AdminBalances, nil
}

func (s *Service) TotalSupply(pool uint64) (*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	return e.Snapshot().TotalSupply, nil
}

func (s *Service) Snapshot(pool uint64) (*stableswap.Pool, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	p := e.Snapshot()
	return &p, nil
}

func (s *Service) Exchange(ctx context.Context, pool uint64, account common.Address, i, j int, dx, minDy *uint256.Int) (*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	dy, err := e.Exchange(ctx, account, i, j, dx, minDy)
	return dy, wrap(err)
}

func (s *Service) AddLiquidity(ctx context.Context, pool uint64, account common.Address, amounts []*uint256.Int, minMint *uint256.Int) (*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	lp, err := e.AddLiquidity(ctx, account, amounts, minMint)
	return lp, wrap(err)
}

func (s *Service) RemoveLiquidity(ctx context.Context, pool uint64, account common.Address, burn *uint256.Int, minAmounts []*uint256.Int) ([]*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	out, err := e.RemoveLiquidity(ctx, account, burn, minAmounts)
	return out, wrap(err)
}

func (s *Service) RemoveLiquidityOneCoin(ctx context.Context, pool uint64, account common.Address, burn *uint256.Int, i int, minAmount *uint256.Int) (*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	dy, err := e.RemoveLiquidityOneCoin(ctx, account, burn, i, minAmount)
	return dy, wrap(err)
}

func (s *Service) RemoveLiquidityImbalance(ctx context.Context, pool uint64, account common.Address, amounts []*uint256.Int, maxBurn *uint256.Int) (*uint256.Int, error) {
	e, err := s.engine(pool)
	if err != nil {
		return nil, err
	}
	lp, err := e.RemoveLiquidityImbalance(ctx, account, amounts, maxBurn)
	return lp, wrap(err)
}
