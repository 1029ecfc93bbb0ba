// Package lock holds the small pin-count primitive the buffer pool
// uses to track outstanding fetch guards per frame.
package lock

import (
	"fmt"
	"sync/atomic"
)

// PinCount tracks how many outstanding fetch guards hold a frame. A frame
// with a non-zero pin count is not evictable. Unlike a reference count, a
// PinCount starts at zero: a freshly reset frame is unpinned until the
// buffer pool hands out its first guard.

type PinCount struct {
	count int32
}

func NewPinCount() *PinCount {
	return &PinCount{}
}

// Pin increments the pin count. Called once per outstanding fetch/new_page.
func (p *PinCount) Pin() int32 {
	return atomic.AddInt32(&p.count, 1)
}

// Unpin decrements the pin count. Underflow is a programmer error and
// must abort rather than silently wrap, per the pin-count invariant.
func (p *PinCount) Unpin() int32 {
	newCount := atomic.AddInt32(&p.count, -1)
	if newCount < 0 {
		panic("bufferpool: pin count dropped below zero")
	}
	return newCount
}

func (p *PinCount) Get() int32 {
	return atomic.LoadInt32(&p.count)
}

// Reset asserts the pin count is already zero, panicking otherwise. Only
// valid when the frame is being recycled and nothing outstanding
// references it.
func (p *PinCount) Reset() {
	if atomic.LoadInt32(&p.count) != 0 {
		panic("bufferpool: reset of a pinned frame")
	}
	atomic.StoreInt32(&p.count, 0)
}

func (p *PinCount) IsPinned() bool {
	return p.Get() > 0
}

func (p *PinCount) String() string {
	return fmt.Sprintf("PinCount: %d", p.Get())
}
