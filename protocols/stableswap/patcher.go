package stableswap

import "sort"

// Patcher builds a new set of pool snapshots by applying diff to prevState.
// The result shares no memory with either input and is ordered by pool ID.
func Patcher(prevState []Pool, diff StableSwapSystemDiff) ([]Pool, error) {
	newStateMap := make(map[uint64]Pool, len(prevState))
	for _, pool := range prevState {
		newStateMap[pool.ID] = pool.Clone()
	}

	for _, poolIDToDelete := range diff.Deletions {
		delete(newStateMap, poolIDToDelete)
	}

	for _, updatedPool := range diff.Updates {
		newStateMap[updatedPool.ID] = updatedPool.Clone()
	}

	for _, addedPool := range diff.Additions {
		newStateMap[addedPool.ID] = addedPool.Clone()
	}

	finalState := make([]Pool, 0, len(newStateMap))
	for _, pool := range newStateMap {
		finalState = append(finalState, pool)
	}
	sort.Slice(finalState, func(a, b int) bool { return finalState[a].ID < finalState[b].ID })

	return finalState, nil
}
