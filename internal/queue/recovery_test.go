package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecoveryQueueInsertRecover(t *testing.T) {
	q := NewRecoveryQueue[string](4)

	i0 := q.Insert("a")
	i1 := q.Insert("b")
	require.Equal(t, uint32(0), i0)
	require.Equal(t, uint32(1), i1)

	got, err := q.Recover(i0)
	require.NoError(t, err)
	require.Equal(t, "a", got)
}

func TestRecoveryQueueRemove(t *testing.T) {
	q := NewRecoveryQueue[int](4)
	idx := q.Insert(42)
	q.Remove(idx)

	_, err := q.Recover(idx)
	require.ErrorIs(t, err, ErrIndexOld)
}

func TestRecoveryQueueInvalidIndex(t *testing.T) {
	q := NewRecoveryQueue[int](4)
	_, err := q.Recover(999)
	require.ErrorIs(t, err, ErrInvalidIndex)
}

func TestRecoveryQueueEvictsOldestOnOverflow(t *testing.T) {
	q := NewRecoveryQueue[int](2)
	i0 := q.Insert(1)
	q.Insert(2)
	q.Insert(3) // evicts i0

	_, err := q.Recover(i0)
	require.ErrorIs(t, err, ErrIndexOld)
	require.Equal(t, 2, q.Len())
	require.False(t, q.Full() && q.Len() > 2)
}

func TestRecoveryQueueNeverExceedsCapacity(t *testing.T) {
	q := NewRecoveryQueue[int](3)
	for i := 0; i < 100; i++ {
		q.Insert(i)
		require.LessOrEqual(t, q.Len(), 3)
	}
}

func TestRecoveryQueueKeysAscending(t *testing.T) {
	q := NewRecoveryQueue[int](5)
	for i := 0; i < 3; i++ {
		q.Insert(i)
	}
	keys := q.Keys()
	require.Equal(t, []uint32{0, 1, 2}, keys)
}
