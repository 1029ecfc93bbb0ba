package replacer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUK_SizeAfterRecordAccess(t *testing.T) {
	r := New(10, 2)
	require.Equal(t, 0, r.Size())

	r.RecordAccess(12, AccessUnknown)
	r.RecordAccess(13, AccessUnknown)
	require.Equal(t, 0, r.Size())
}

func TestLRUK_SizeAfterSetEvictable(t *testing.T) {
	r := New(10, 2)
	r.RecordAccess(12, AccessUnknown)
	r.SetEvictable(12, true)
	require.Equal(t, 1, r.Size())

	r.SetEvictable(12, false)
	require.Equal(t, 0, r.Size())
}

func TestLRUK_SetEvictableUnknownFrameIsNoop(t *testing.T) {
	r := New(10, 2)
	r.SetEvictable(99, true)
	require.Equal(t, 0, r.Size())
}

// Mirrors the Rust source's test_eviction_1: A, B, C, A recorded; the
// second access to A gives it a finite k-distance while B and C still
// have none, so among the +Inf-distance pair {B, C}, the
// least-recently-accessed (B) is evicted.
func TestLRUK_Eviction_TieAmongInfiniteDistances(t *testing.T) {
	r := New(10, 2)
	const a, b, c = FrameID(10), FrameID(11), FrameID(12)

	r.RecordAccess(a, AccessUnknown)
	r.RecordAccess(b, AccessUnknown)
	r.RecordAccess(c, AccessUnknown)
	r.RecordAccess(a, AccessUnknown)

	r.SetEvictable(a, true)
	r.SetEvictable(b, true)
	r.SetEvictable(c, true)

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, b, victim)
}

// Mirrors test_eviction_2: with k=3 only C has a full k-history; A (one
// access) and B (two) both have +Inf distance, and A, whose most recent
// access is older, wins that tie.
func TestLRUK_Eviction_FullHistoryVsNoHistory(t *testing.T) {
	r := New(10, 3)
	const a, b, c = FrameID(10), FrameID(11), FrameID(12)

	r.RecordAccess(a, AccessUnknown)
	r.RecordAccess(b, AccessUnknown)
	r.RecordAccess(b, AccessUnknown)
	r.RecordAccess(c, AccessUnknown)
	r.RecordAccess(c, AccessUnknown)
	r.RecordAccess(c, AccessUnknown)

	r.SetEvictable(a, true)
	r.SetEvictable(b, true)
	r.SetEvictable(c, true)

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, a, victim)
}

// Mirrors test_eviction_3: two frames, both with a single access; tie
// resolves to the least-recently-used (the one accessed first).
func TestLRUK_Eviction_TwoFramesOneAccessEach(t *testing.T) {
	r := New(10, 2)
	const first, second = FrameID(10), FrameID(11)

	r.RecordAccess(first, AccessUnknown)
	r.RecordAccess(second, AccessUnknown)

	r.SetEvictable(first, true)
	r.SetEvictable(second, true)

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, first, victim)
}

// Mirrors test_eviction_4: a non-evictable frame is never picked even
// though it would otherwise win.
func TestLRUK_Eviction_PinnedFrameExcluded(t *testing.T) {
	r := New(10, 3)
	const a, b, c = FrameID(10), FrameID(11), FrameID(12)

	r.RecordAccess(a, AccessUnknown)
	r.RecordAccess(b, AccessUnknown)
	r.RecordAccess(b, AccessUnknown)
	r.RecordAccess(c, AccessUnknown)
	r.RecordAccess(c, AccessUnknown)
	r.RecordAccess(c, AccessUnknown)

	// a left non-evictable
	r.SetEvictable(b, true)
	r.SetEvictable(c, true)

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, b, victim)
}

func TestLRUK_Remove(t *testing.T) {
	r := New(10, 3)
	const first = FrameID(10)

	r.RecordAccess(first, AccessUnknown)
	r.SetEvictable(first, true)
	r.Remove(first)

	_, ok := r.Evict()
	require.False(t, ok)
}

func TestLRUK_EvictEmpty(t *testing.T) {
	r := New(4, 2)
	_, ok := r.Evict()
	require.False(t, ok)
}

func TestLRUK_EvictionMonotonicity(t *testing.T) {
	r := New(4, 2)
	r.RecordAccess(1, AccessUnknown)
	r.RecordAccess(2, AccessUnknown)
	r.SetEvictable(1, true)
	r.SetEvictable(2, true)
	r.SetEvictable(2, false) // frame 2 made non-evictable

	for i := 0; i < 5; i++ {
		victim, ok := r.Evict()
		if !ok {
			break
		}
		require.NotEqual(t, FrameID(2), victim)
	}
}
