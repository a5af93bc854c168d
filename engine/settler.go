package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInsufficientFunds is returned by MemorySettler when an account cannot
// cover its side of a settlement.
var ErrInsufficientFunds = errors.New("insufficient funds")

// MemorySettler keeps coin and LP balances of accounts in memory. It is safe
// for concurrent use and applies each settlement all at once or not at all.
type MemorySettler struct {
	mu    sync.Mutex
	coins map[common.Address]map[uint64]*uint256.Int
	lp    map[common.Address]map[uint64]*uint256.Int
}

// NewMemorySettler returns an empty settler.
func NewMemorySettler() *MemorySettler {
	return &MemorySettler{
		coins: make(map[common.Address]map[uint64]*uint256.Int),
		lp:    make(map[common.Address]map[uint64]*uint256.Int),
	}
}

// LedgerEntry is one balance held by an account. ID is a token ID for coin
// balances and a pool ID for LP balances.
type LedgerEntry struct {
	Account common.Address `json:"account"`
	ID      uint64         `json:"id"`
	Amount  *uint256.Int   `json:"amount"`
}

// Ledger is a serialisable copy of the balances kept by a MemorySettler.
type Ledger struct {
	Coins []LedgerEntry `json:"coins"`
	LP    []LedgerEntry `json:"lp"`
}

// NewMemorySettlerFromLedger returns a settler holding the balances of l.
func NewMemorySettlerFromLedger(l Ledger) *MemorySettler {
	m := NewMemorySettler()
	for _, e := range l.Coins {
		ledgerSet(m.coins, e.Account, e.ID, e.Amount.Clone())
	}
	for _, e := range l.LP {
		ledgerSet(m.lp, e.Account, e.ID, e.Amount.Clone())
	}
	return m
}

// Ledger returns a copy of every non-zero balance, ordered by account and ID.
func (m *MemorySettler) Ledger() Ledger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Ledger{Coins: ledgerEntries(m.coins), LP: ledgerEntries(m.lp)}
}

func ledgerEntries(ledger map[common.Address]map[uint64]*uint256.Int) []LedgerEntry {
	var out []LedgerEntry
	for account, balances := range ledger {
		for id, amount := range balances {
			if amount.IsZero() {
				continue
			}
			out = append(out, LedgerEntry{Account: account, ID: id, Amount: amount.Clone()})
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if c := bytes.Compare(out[a].Account[:], out[b].Account[:]); c != 0 {
			return c < 0
		}
		return out[a].ID < out[b].ID
	})
	return out
}

func ledgerGet(ledger map[common.Address]map[uint64]*uint256.Int, account common.Address, id uint64) *uint256.Int {
	if b, ok := ledger[account][id]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

func ledgerSet(ledger map[common.Address]map[uint64]*uint256.Int, account common.Address, id uint64, v *uint256.Int) {
	if ledger[account] == nil {
		ledger[account] = make(map[uint64]*uint256.Int)
	}
	ledger[account][id] = v
}

// Fund credits amount of token to account.
func (m *MemorySettler) Fund(account common.Address, token uint64, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ledgerSet(m.coins, account, token, new(uint256.Int).Add(ledgerGet(m.coins, account, token), amount))
}

// CoinBalance returns the balance of token held by account.
func (m *MemorySettler) CoinBalance(account common.Address, token uint64) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ledgerGet(m.coins, account, token)
}

// LPBalance returns the LP balance of account in pool.
func (m *MemorySettler) LPBalance(account common.Address, pool uint64) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ledgerGet(m.lp, account, pool)
}

// Settle applies s.
func (m *MemorySettler) Settle(_ context.Context, s Settlement) error {
	if len(s.In) != len(s.Coins) || len(s.Out) != len(s.Coins) {
		return fmt.Errorf("settlement for %d coins has %d in and %d out", len(s.Coins), len(s.In), len(s.Out))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Compute every new balance first so a shortfall changes nothing.
	type entry struct {
		ledger map[common.Address]map[uint64]*uint256.Int
		id     uint64
		value  *uint256.Int
	}
	var updates []entry
	pending := make(map[uint64]*uint256.Int, len(s.Coins))
	for k, token := range s.Coins {
		bal, ok := pending[token]
		if !ok {
			bal = ledgerGet(m.coins, s.Account, token)
		}
		if bal.Lt(s.In[k]) {
			return fmt.Errorf("%w: token %d has %s, needs %s", ErrInsufficientFunds, token, bal, s.In[k])
		}
		bal.Sub(bal, s.In[k])
		bal.Add(bal, s.Out[k])
		pending[token] = bal
	}
	for token, bal := range pending {
		updates = append(updates, entry{m.coins, token, bal})
	}

	lp := ledgerGet(m.lp, s.Account, s.PoolID)
	if s.Burned != nil {
		if lp.Lt(s.Burned) {
			return fmt.Errorf("%w: LP balance %s, burn %s", ErrInsufficientFunds, lp, s.Burned)
		}
		lp.Sub(lp, s.Burned)
	}
	if s.Minted != nil {
		lp.Add(lp, s.Minted)
	}
	updates = append(updates, entry{m.lp, s.PoolID, lp})

	for _, u := range updates {
		ledgerSet(u.ledger, s.Account, u.id, u.value)
	}
	return nil
}
