package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderedQueueDeliversContiguousPrefixOnly(t *testing.T) {
	q := NewOrderedQueue()
	q.Insert(0, []byte("a"))
	q.Insert(2, []byte("c")) // gap at 1

	out := q.Flush()
	require.Equal(t, [][]byte{[]byte("a")}, out)

	q.Insert(1, []byte("b"))
	out = q.Flush()
	require.Equal(t, [][]byte{[]byte("b"), []byte("c")}, out)
}

func TestOrderedQueueDiscardsBelowLo(t *testing.T) {
	q := NewOrderedQueue()
	q.Insert(0, []byte("a"))
	q.Flush()

	lo, _ := q.Scope()
	require.EqualValues(t, 1, lo)

	q.Insert(lo-1, []byte("stale"))
	require.Empty(t, q.Flush())
}

func TestOrderedQueueWidensWindowOnFarInsert(t *testing.T) {
	q := NewOrderedQueue()
	q.Insert(1_000_000, []byte("far"))

	lo, hi := q.Scope()
	require.EqualValues(t, 0, lo)
	require.EqualValues(t, 1_000_001, hi)
}
