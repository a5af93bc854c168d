package main

import (
	"fmt"
	"log/slog"

	"github.com/defistate/defistate-stableswap-go/config"
	"github.com/defistate/defistate-stableswap-go/engine"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
	"github.com/defistate/defistate-stableswap-go/protocols/tokenregistry"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// node is the set of engines one daemon serves, sharing a settler and a
// clock.
type node struct {
	tokens  *tokenregistry.Registry
	engines []*engine.Engine
	settler *engine.MemorySettler
}

// buildNode creates one engine per configured pool. A pool with a restored
// snapshot resumes from it; any other pool starts empty. Account balances
// come from ledger when one was stored, otherwise from the configured
// allocations.
func buildNode(file *config.File, restored []stableswap.Pool, ledger *engine.Ledger, clock engine.Clock, reg prometheus.Registerer, logger *slog.Logger) (*node, error) {
	tokens, err := file.Registry()
	if err != nil {
		return nil, err
	}

	snapshots := make(map[uint64]stableswap.Pool, len(restored))
	for _, p := range restored {
		snapshots[p.ID] = p
	}

	settler, err := restoreSettler(file, tokens, restored, ledger, logger)
	if err != nil {
		return nil, err
	}

	n := &node{tokens: tokens, settler: settler}
	for _, pc := range file.Pools {
		params, err := pc.Params(tokens)
		if err != nil {
			return nil, err
		}
		rates, err := poolRates(pc, params, tokens)
		if err != nil {
			return nil, err
		}

		pool, ok := snapshots[params.ID]
		if ok {
			if err := matchSnapshot(pool, params); err != nil {
				return nil, err
			}
			logger.Info("Resuming pool from snapshot", "pool", pool.ID, "nonce", pool.Nonce)
		} else {
			pool, err = stableswap.NewPool(params, clock.Now())
			if err != nil {
				return nil, fmt.Errorf("pool %d: %w", params.ID, err)
			}
		}

		e, err := engine.NewEngine(&engine.Config{
			Pool:     pool,
			Rates:    rates,
			Clock:    clock,
			Settler:  settler,
			Registry: reg,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", params.ID, err)
		}
		n.engines = append(n.engines, e)
	}
	return n, nil
}

// poolRates returns the decimal multipliers of the pool's coins, scaled by
// the configured exchange rates when the pool has any.
func poolRates(pc config.PoolConfig, params stableswap.PoolParams, tokens *tokenregistry.Registry) (engine.RateProvider, error) {
	coins, err := tokens.Resolve(params.Coins)
	if err != nil {
		return nil, err
	}
	decimals := make([]uint8, len(coins))
	for k, t := range coins {
		decimals[k] = t.Decimals
	}
	static, err := engine.NewStaticRates(decimals)
	if err != nil {
		return nil, fmt.Errorf("pool %d: %w", params.ID, err)
	}

	exchangeRates, err := pc.Rates()
	if err != nil {
		return nil, err
	}
	if exchangeRates == nil {
		return static, nil
	}
	scaled := engine.NewScaledRates([]*uint256.Int(static))
	for k, r := range exchangeRates {
		if err := scaled.SetRate(k, r); err != nil {
			return nil, fmt.Errorf("pool %d: %w", params.ID, err)
		}
	}
	return scaled, nil
}

// matchSnapshot rejects a stored snapshot whose coins no longer match the
// pool definition.
func matchSnapshot(p stableswap.Pool, params stableswap.PoolParams) error {
	if len(p.Coins) != len(params.Coins) {
		return fmt.Errorf("pool %d: snapshot has %d coins, definition has %d", p.ID, len(p.Coins), len(params.Coins))
	}
	for k := range p.Coins {
		if p.Coins[k] != params.Coins[k] {
			return fmt.Errorf("pool %d: snapshot coin %d is token %d, definition has token %d", p.ID, k, p.Coins[k], params.Coins[k])
		}
	}
	return nil
}

// restoreSettler rebuilds the settlement ledger. Configured allocations are
// funded only on a first start; afterwards the stored ledger is the source
// of truth for every balance.
func restoreSettler(file *config.File, tokens *tokenregistry.Registry, restored []stableswap.Pool, ledger *engine.Ledger, logger *slog.Logger) (*engine.MemorySettler, error) {
	if ledger != nil {
		logger.Info("Restoring account balances", "coin_balances", len(ledger.Coins), "lp_balances", len(ledger.LP))
		return engine.NewMemorySettlerFromLedger(*ledger), nil
	}
	for _, p := range restored {
		if p.TotalSupply != nil && !p.TotalSupply.IsZero() {
			return nil, fmt.Errorf("pool %d has LP supply %s but no stored ledger", p.ID, p.TotalSupply)
		}
	}

	settler := engine.NewMemorySettler()
	for _, acc := range file.Accounts {
		addr, balances, err := acc.Allocation(tokens)
		if err != nil {
			return nil, err
		}
		for id, amount := range balances {
			settler.Fund(addr, id, amount)
		}
	}
	return settler, nil
}
