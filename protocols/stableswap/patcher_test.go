package stableswap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findPoolByID(pools []Pool, id uint64) *Pool {
	for i := range pools {
		if pools[i].ID == id {
			return &pools[i]
		}
	}
	return nil
}

func TestPatcher(t *testing.T) {
	initialState := []Pool{snapshot(1, 1, 1000, 5000), snapshot(2, 1, 2000, 6000), snapshot(3, 1, 3000, 7000)}

	t.Run("should apply additions, updates and deletions", func(t *testing.T) {
		diff := StableSwapSystemDiff{
			Additions: []Pool{snapshot(4, 0, 4000, 4000)},
			Updates:   []Pool{snapshot(1, 2, 1100, 4900)},
			Deletions: []uint64{2},
		}

		newState, err := Patcher(initialState, diff)
		require.NoError(t, err)
		require.Len(t, newState, 3)

		assert.Equal(t, []uint64{1, 3, 4}, []uint64{newState[0].ID, newState[1].ID, newState[2].ID})
		assert.Nil(t, findPoolByID(newState, 2))
		assert.Equal(t, uint64(1100), findPoolByID(newState, 1).Balances[0].Uint64())
		assert.Equal(t, uint64(4000), findPoolByID(newState, 4).Balances[1].Uint64())
	})

	t.Run("should not share memory with the inputs", func(t *testing.T) {
		update := snapshot(3, 2, 3100, 6900)
		newState, err := Patcher(initialState, StableSwapSystemDiff{Updates: []Pool{update}})
		require.NoError(t, err)

		findPoolByID(newState, 1).Balances[0].SetUint64(1)
		findPoolByID(newState, 3).Balances[0].SetUint64(1)

		assert.Equal(t, uint64(1000), initialState[0].Balances[0].Uint64())
		assert.Equal(t, uint64(3100), update.Balances[0].Uint64())
	})

	t.Run("round trip with differ", func(t *testing.T) {
		next := []Pool{snapshot(1, 9, 1, 1), snapshot(3, 1, 3000, 7000), snapshot(5, 0, 5, 5)}
		patched, err := Patcher(initialState, Differ(initialState, next))
		require.NoError(t, err)
		assert.True(t, Differ(next, patched).IsEmpty())
	})
}
