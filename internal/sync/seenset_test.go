package sync

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeenSetContainsAfterAdd(t *testing.T) {
	s := newSeenSet()
	require.False(t, s.Contains("m1"))
	s.Add("m1")
	require.True(t, s.Contains("m1"))
}

func TestSeenSetEvictsOldestQuarterAtCapacity(t *testing.T) {
	s := newSeenSet()
	for i := 0; i < seenSetCap; i++ {
		s.Add(fmt.Sprintf("m%d", i))
	}
	require.True(t, s.Contains("m0"))

	s.Add("overflow")

	for i := 0; i < seenSetEvictCount; i++ {
		require.False(t, s.Contains(fmt.Sprintf("m%d", i)), "entry m%d should have been evicted", i)
	}
	require.True(t, s.Contains(fmt.Sprintf("m%d", seenSetEvictCount)))
	require.True(t, s.Contains("overflow"))
}

func TestSeenSetAddIsIdempotent(t *testing.T) {
	s := newSeenSet()
	s.Add("m1")
	s.Add("m1")
	require.Len(t, s.order, 1)
}
