package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrame_PinUnpin(t *testing.T) {
	f := NewFrame(16)
	require.False(t, f.IsPinned())

	f.Pin()
	require.True(t, f.IsPinned())
	require.Equal(t, int32(1), f.PinCount())

	f.Pin()
	require.Equal(t, int32(2), f.PinCount())

	f.Unpin()
	require.Equal(t, int32(1), f.PinCount())
	require.True(t, f.IsPinned())

	f.Unpin()
	require.False(t, f.IsPinned())
}

func TestFrame_UnpinUnderflowPanics(t *testing.T) {
	f := NewFrame(16)
	require.Panics(t, func() {
		f.Unpin()
	})
}

func TestFrame_Reset(t *testing.T) {
	f := NewFrame(8)
	f.SetID(ID(5))
	f.Pin()
	wg := f.WriteGuard()
	copy(wg.Data(), []byte("12345678"))
	wg.MarkDirty()
	wg.Release()
	f.Unpin()

	f.Reset()

	require.Equal(t, InvalidID, f.ID())
	require.False(t, f.IsDirty())
	require.False(t, f.IsPinned())

	rg := f.ReadGuard()
	defer rg.Release()
	for _, b := range rg.Data() {
		require.Equal(t, byte(0), b)
	}
}

func TestFrame_ResetPanicsWhenPinned(t *testing.T) {
	f := NewFrame(8)
	f.Pin()
	require.Panics(t, func() {
		f.Reset()
	})
}

func TestFrame_SetDirtyOnlyOrs(t *testing.T) {
	f := NewFrame(8)
	require.False(t, f.IsDirty())

	f.SetDirty(false)
	require.False(t, f.IsDirty())

	f.SetDirty(true)
	require.True(t, f.IsDirty())

	// SetDirty never clears once set.
	f.SetDirty(false)
	require.True(t, f.IsDirty())

	f.ClearDirty()
	require.False(t, f.IsDirty())
}
