// Package config loads pool definitions and daemon settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
	"github.com/defistate/defistate-stableswap-go/protocols/tokenregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// File is the pool definition file.
type File struct {
	Tokens   []TokenConfig   `yaml:"tokens"`
	Pools    []PoolConfig    `yaml:"pools"`
	Accounts []AccountConfig `yaml:"accounts"`
}

type TokenConfig struct {
	ID       uint64 `yaml:"id"`
	Address  string `yaml:"address"`
	Name     string `yaml:"name"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// PoolConfig describes one pool. Coins are token symbols in slot order.
type PoolConfig struct {
	ID                  uint64   `yaml:"id"`
	Name                string   `yaml:"name"`
	Coins               []string `yaml:"coins"`
	A                   uint64   `yaml:"a"`
	Fee                 uint64   `yaml:"fee"`
	OffpegFeeMultiplier uint64   `yaml:"offpeg_fee_multiplier"`
	MAExpTime           uint64   `yaml:"ma_exp_time"`
	DMATime             uint64   `yaml:"d_ma_time"`
	// ExchangeRates are optional 1e18-scaled rates of yield-bearing coins,
	// one per coin. When present the pool runs with updatable rates.
	ExchangeRates []string `yaml:"exchange_rates"`
}

// AccountConfig funds an account at startup. Balances are raw token amounts
// keyed by symbol.
type AccountConfig struct {
	Address  string            `yaml:"address"`
	Balances map[string]string `yaml:"balances"`
}

// Load reads and validates the pool definition file at path. Unknown keys
// are rejected.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	f := &File{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the file for internal consistency. Pool parameters are
// checked again, with the engine's own rules, when the pools are created.
func (f *File) Validate() error {
	reg, err := f.Registry()
	if err != nil {
		return err
	}
	if len(f.Pools) == 0 {
		return fmt.Errorf("%w: no pools defined", ErrInvalidConfig)
	}

	poolIDs := make(map[uint64]struct{}, len(f.Pools))
	for _, p := range f.Pools {
		if _, ok := poolIDs[p.ID]; ok {
			return fmt.Errorf("%w: duplicate pool id %d", ErrInvalidConfig, p.ID)
		}
		poolIDs[p.ID] = struct{}{}
		if _, err := p.Params(reg); err != nil {
			return err
		}
		if _, err := p.Rates(); err != nil {
			return err
		}
	}

	for _, a := range f.Accounts {
		if _, _, err := a.Allocation(reg); err != nil {
			return err
		}
	}
	return nil
}

// Registry builds the token registry of the file.
func (f *File) Registry() (*tokenregistry.Registry, error) {
	if len(f.Tokens) == 0 {
		return nil, fmt.Errorf("%w: no tokens defined", ErrInvalidConfig)
	}
	tokens := make([]tokenregistry.Token, len(f.Tokens))
	for k, t := range f.Tokens {
		if !common.IsHexAddress(t.Address) {
			return nil, fmt.Errorf("%w: token %q has invalid address %q", ErrInvalidConfig, t.Symbol, t.Address)
		}
		if t.Symbol == "" {
			return nil, fmt.Errorf("%w: token %d has no symbol", ErrInvalidConfig, t.ID)
		}
		tokens[k] = tokenregistry.Token{
			ID:       t.ID,
			Address:  common.HexToAddress(t.Address),
			Name:     t.Name,
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
		}
		if _, err := tokens[k].RateMultiplier(); err != nil {
			return nil, fmt.Errorf("%w: token %q: %w", ErrInvalidConfig, t.Symbol, err)
		}
	}
	reg, err := tokenregistry.NewRegistry(tokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return reg, nil
}

// Params resolves the coin symbols of p against reg and checks the pool
// parameters by building an empty pool from them.
func (p PoolConfig) Params(reg *tokenregistry.Registry) (stableswap.PoolParams, error) {
	coins := make([]uint64, len(p.Coins))
	seen := make(map[uint64]struct{}, len(p.Coins))
	for k, symbol := range p.Coins {
		t, ok := reg.GetBySymbol(symbol)
		if !ok {
			return stableswap.PoolParams{}, fmt.Errorf("%w: pool %d: %w: %s", ErrInvalidConfig, p.ID, tokenregistry.ErrUnknownToken, symbol)
		}
		if _, dup := seen[t.ID]; dup {
			return stableswap.PoolParams{}, fmt.Errorf("%w: pool %d lists %s twice", ErrInvalidConfig, p.ID, symbol)
		}
		seen[t.ID] = struct{}{}
		coins[k] = t.ID
	}

	params := stableswap.PoolParams{
		ID:                  p.ID,
		Name:                p.Name,
		Coins:               coins,
		A:                   p.A,
		Fee:                 p.Fee,
		OffpegFeeMultiplier: p.OffpegFeeMultiplier,
		PriceMATime:         p.MAExpTime,
		DMATime:             p.DMATime,
	}
	if _, err := stableswap.NewPool(params, 0); err != nil {
		return stableswap.PoolParams{}, fmt.Errorf("%w: pool %d: %w", ErrInvalidConfig, p.ID, err)
	}
	return params, nil
}

// Rates parses ExchangeRates. It returns nil when the pool has none.
func (p PoolConfig) Rates() ([]*uint256.Int, error) {
	if len(p.ExchangeRates) == 0 {
		return nil, nil
	}
	if len(p.ExchangeRates) != len(p.Coins) {
		return nil, fmt.Errorf("%w: pool %d has %d exchange rates for %d coins", ErrInvalidConfig, p.ID, len(p.ExchangeRates), len(p.Coins))
	}
	out := make([]*uint256.Int, len(p.ExchangeRates))
	for k, s := range p.ExchangeRates {
		r, err := uint256.FromDecimal(s)
		if err != nil || r.IsZero() {
			return nil, fmt.Errorf("%w: pool %d exchange rate %q", ErrInvalidConfig, p.ID, s)
		}
		out[k] = r
	}
	return out, nil
}

// Allocation returns the account address and its balances keyed by token ID.
func (a AccountConfig) Allocation(reg *tokenregistry.Registry) (common.Address, map[uint64]*uint256.Int, error) {
	if !common.IsHexAddress(a.Address) {
		return common.Address{}, nil, fmt.Errorf("%w: invalid account address %q", ErrInvalidConfig, a.Address)
	}
	balances := make(map[uint64]*uint256.Int, len(a.Balances))
	for symbol, amount := range a.Balances {
		t, ok := reg.GetBySymbol(symbol)
		if !ok {
			return common.Address{}, nil, fmt.Errorf("%w: account %s: %w: %s", ErrInvalidConfig, a.Address, tokenregistry.ErrUnknownToken, symbol)
		}
		v, err := uint256.FromDecimal(amount)
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("%w: account %s balance %q: %w", ErrInvalidConfig, a.Address, amount, err)
		}
		balances[t.ID] = v
	}
	return common.HexToAddress(a.Address), balances, nil
}
