package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupWindowFirstSeenNotDuplicate(t *testing.T) {
	d := NewDedupWindow(4)
	require.False(t, d.Seen(10))
	d.Record(10)
	require.True(t, d.Seen(10))
}

func TestDedupWindowAdvancesHighWatermark(t *testing.T) {
	d := NewDedupWindow(4)
	d.Record(5)
	d.Record(6)
	high, ok := d.HighestSeen()
	require.True(t, ok)
	require.EqualValues(t, 6, high)
}

func TestDedupWindowOldEntriesTreatedAsSeen(t *testing.T) {
	d := NewDedupWindow(4)
	d.Record(0)
	for i := uint32(1); i <= 10; i++ {
		d.Record(i)
	}
	// 0 fell far outside the trailing width of 4; it must not be
	// reprocessed even though it's no longer literally in the map.
	require.True(t, d.Seen(0))
}

func TestDedupWindowWrapsAround(t *testing.T) {
	d := NewDedupWindow(4)
	d.Record(seqSpace - 2)
	d.Record(seqSpace - 1)
	d.Record(0) // wraps

	high, _ := d.HighestSeen()
	require.EqualValues(t, 0, high)
	require.True(t, d.Seen(seqSpace-1))
}
