package stableswap

// StableSwapSystemDiff is the change between two sets of pool snapshots.
type StableSwapSystemDiff struct {
	Additions []Pool   `json:"additions,omitempty"`
	Updates   []Pool   `json:"updates,omitempty"`
	Deletions []uint64 `json:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d StableSwapSystemDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

// Differ calculates the difference between two sets of pool snapshots.
// Every committed operation bumps a pool's Nonce, so a changed Nonce is the
// only signal needed to classify a pool as updated.
func Differ(old, new []Pool) StableSwapSystemDiff {
	oldPoolsMap := make(map[uint64]Pool, len(old))
	for _, pool := range old {
		oldPoolsMap[pool.ID] = pool
	}

	newPoolsMap := make(map[uint64]Pool, len(new))
	for _, pool := range new {
		newPoolsMap[pool.ID] = pool
	}

	var additions []Pool
	var updates []Pool
	var deletions []uint64

	for newID, newPool := range newPoolsMap {
		oldPool, exists := oldPoolsMap[newID]
		if !exists {
			additions = append(additions, newPool)
			continue
		}
		if oldPool.Nonce != newPool.Nonce {
			updates = append(updates, newPool)
		}
	}

	for oldID := range oldPoolsMap {
		if _, exists := newPoolsMap[oldID]; !exists {
			deletions = append(deletions, oldID)
		}
	}

	return StableSwapSystemDiff{
		Additions: additions,
		Updates:   updates,
		Deletions: deletions,
	}
}
