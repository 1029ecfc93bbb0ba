// Package page defines the in-memory frame that the buffer pool caches
// disk pages into: identity, a fixed-size byte buffer, pin/dirty
// metadata, and the data lock that guards the buffer across guard
// lifetimes.
package page

import (
	"sync"

	"github.com/pokhanto/kvengine/internal/lock"
)

// ID identifies a page on disk. 0 means "unallocated" — no page has ever
// been assigned that id.
type ID uint64

const InvalidID ID = 0

// DefaultSize is the byte size of a frame's buffer when the caller does
// not configure page_size_bytes explicitly.
const DefaultSize = 4096

// Frame is one in-memory slot able to hold a single page's bytes plus
// metadata. The buffer pool owns a fixed array of Frames for the
// lifetime of the pool; everything else references a frame by index.
type Frame struct {
	id    ID
	data  []byte
	pin   *lock.PinCount
	dirty bool

	// mu guards data independently of the pool's own bookkeeping locks.
	// A data guard returned by a fetch call outlives the call itself.
	mu sync.RWMutex
}

// NewFrame allocates a frame with a zeroed buffer of the given size.
func NewFrame(size int) *Frame {
	if size <= 0 {
		size = DefaultSize
	}
	return &Frame{
		data: make([]byte, size),
		pin:  lock.NewPinCount(),
	}
}

// Reset clears identity, zeroes the buffer, clears the dirty bit, and
// asserts the frame is not pinned. Called before a frame is recycled for
// a different page id.
func (f *Frame) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pin.Reset()
	f.id = InvalidID
	f.dirty = false
	for i := range f.data {
		f.data[i] = 0
	}
}

func (f *Frame) Pin() int32   { return f.pin.Pin() }
func (f *Frame) Unpin() int32 { return f.pin.Unpin() }
func (f *Frame) PinCount() int32 { return f.pin.Get() }
func (f *Frame) IsPinned() bool  { return f.pin.IsPinned() }

// SetDirty ORs dirtyAfter into the dirty bit. It can only ever set the
// flag, never clear it — only a successful writeback clears it.
func (f *Frame) SetDirty(dirtyAfter bool) {
	f.mu.Lock()
	f.dirty = f.dirty || dirtyAfter
	f.mu.Unlock()
}

// ClearDirty clears the dirty bit. Only a successful writeback may do this.
func (f *Frame) ClearDirty() {
	f.mu.Lock()
	f.dirty = false
	f.mu.Unlock()
}

func (f *Frame) IsDirty() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dirty
}

func (f *Frame) SetID(id ID) { f.id = id }
func (f *Frame) ID() ID      { return f.id }

// Buffer returns the frame's raw byte slice without taking the data
// lock. Only safe to call while the frame is not yet reachable through
// the page table (during acquisition/eviction, before any guard could
// have been handed out) — the buffer pool is the only caller.
func (f *Frame) Buffer() []byte {
	return f.data
}

// ReadGuard returns a shared hold on the frame's data; Release must be
// called exactly once.
func (f *Frame) ReadGuard() *ReadGuard {
	f.mu.RLock()
	return &ReadGuard{frame: f}
}

// WriteGuard returns an exclusive hold on the frame's data; Release must
// be called exactly once.
func (f *Frame) WriteGuard() *WriteGuard {
	f.mu.Lock()
	return &WriteGuard{frame: f}
}

// ReadGuard is a shared hold on a frame's byte buffer.
type ReadGuard struct {
	frame    *Frame
	released bool
}

func (g *ReadGuard) Data() []byte {
	return g.frame.data
}

func (g *ReadGuard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.frame.mu.RUnlock()
}

// WriteGuard is an exclusive hold on a frame's byte buffer.
type WriteGuard struct {
	frame    *Frame
	released bool
}

func (g *WriteGuard) Data() []byte {
	return g.frame.data
}

// MarkDirty sets the frame's dirty bit unconditionally. Safe to call
// any number of times before Release, since the guard already holds
// the frame's data lock exclusively.
func (g *WriteGuard) MarkDirty() {
	g.frame.dirty = true
}

func (g *WriteGuard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.frame.mu.Unlock()
}
