package engine

import (
	"sort"

	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
)

// LedgerSource is a settler whose balances can be copied out.
type LedgerSource interface {
	Ledger() Ledger
}

// Capture returns the snapshots of engines, ordered by pool ID, together
// with the ledger of settler, as of one instant: no operation on any of the
// engines commits in between. The engines must share settler.
func Capture(engines []*Engine, settler LedgerSource) ([]stableswap.Pool, Ledger) {
	ordered := append([]*Engine(nil), engines...)
	sort.Slice(ordered, func(a, b int) bool { return ordered[a].id < ordered[b].id })

	for _, e := range ordered {
		e.mu.RLock()
	}
	defer func() {
		for _, e := range ordered {
			e.mu.RUnlock()
		}
	}()

	pools := make([]stableswap.Pool, len(ordered))
	for k, e := range ordered {
		pools[k] = e.pool.Clone()
	}
	return pools, settler.Ledger()
}
