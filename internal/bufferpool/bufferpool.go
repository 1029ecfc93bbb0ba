// Package bufferpool implements the buffer pool manager: a bounded set
// of in-memory frames caching disk pages, coordinating pinning, dirty
// writeback, eviction via the LRU-K replacer, and I/O through the disk
// scheduler. Grounded on original_source's buffer_pool_manager.rs, with
// locking generalised per the pool's fine-grained concurrency model:
// free list, page table, and replacer are never held across disk I/O.
package bufferpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pokhanto/kvengine/internal/disk"
	"github.com/pokhanto/kvengine/internal/page"
	"github.com/pokhanto/kvengine/internal/replacer"
	"github.com/pokhanto/kvengine/internal/scheduler"
)

var logDebugPrefix = "bufferpool: "

var (
	// ErrNoFreeFrame is returned when every frame is pinned and none can
	// be evicted.
	ErrNoFreeFrame = errors.New("bufferpool: no free frame available (all pinned)")

	// ErrPagePinned is returned when delete_page targets a pinned page.
	ErrPagePinned = errors.New("bufferpool: page is pinned")

	// ErrPageNotFound is returned by operations that require an already
	// resident page.
	ErrPageNotFound = errors.New("bufferpool: page not in buffer pool")
)

// Manager is the interface the hash table (and any other page-oriented
// client) programs against.
type Manager interface {
	NewPage() (page.ID, *page.WriteGuard, error)
	FetchPageRead(id page.ID) (*page.ReadGuard, error)
	FetchPageWrite(id page.ID) (*page.WriteGuard, error)
	UnpinPage(id page.ID, dirtyAfter bool) error
	FlushPage(id page.ID) error
	FlushAll() error
	DeletePage(id page.ID) error
}

var _ Manager = (*BufferPoolManager)(nil)

// pendingFetch marks a page id as currently being loaded from disk into
// a frame. Waiters block on done, then inspect err.
type pendingFetch struct {
	done chan struct{}
	err  error
}

// Stats are cumulative counters useful for observability; they do not
// gate any behaviour.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// BufferPoolManager owns a fixed-size array of frames and mediates all
// access to them.
type BufferPoolManager struct {
	frames    []*page.Frame
	replacer  *replacer.LRUKReplacer
	scheduler *scheduler.DiskScheduler
	pageSize  int

	freeListMu sync.Mutex
	freeList   []replacer.FrameID

	pageTableMu sync.RWMutex
	pageTable   map[page.ID]replacer.FrameID

	// pending tracks page ids currently being loaded from disk by some
	// goroutine's fetch, so a second concurrent miss on the same id
	// waits for that load instead of racing it with one of its own.
	// Guarded by pageTableMu alongside pageTable itself.
	pending map[page.ID]*pendingFetch

	nextPageID atomic.Uint64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New builds a pool of poolSize frames of pageSize bytes each, backed by
// d through a disk scheduler running workerCount workers, evicting via
// an LRU-K replacer parameterised by replacerK.
func New(d disk.Disk, poolSize, replacerK, workerCount, pageSize int) *BufferPoolManager {
	if pageSize <= 0 {
		pageSize = page.DefaultSize
	}
	frames := make([]*page.Frame, poolSize)
	freeList := make([]replacer.FrameID, poolSize)
	for i := range frames {
		frames[i] = page.NewFrame(pageSize)
		freeList[i] = replacer.FrameID(i)
	}
	return &BufferPoolManager{
		frames:    frames,
		replacer:  replacer.New(poolSize, replacerK),
		scheduler: scheduler.New(d, workerCount),
		pageSize:  pageSize,
		freeList:  freeList,
		pageTable: make(map[page.ID]replacer.FrameID, poolSize),
		pending:   make(map[page.ID]*pendingFetch),
	}
}

// NewPage allocates a fresh PageId, acquires a frame (from the free list
// or by eviction), installs it in the page table, and returns a write
// guard over its (zeroed) buffer.
func (b *BufferPoolManager) NewPage() (page.ID, *page.WriteGuard, error) {
	frameID, err := b.acquireFrame()
	if err != nil {
		return page.InvalidID, nil, err
	}

	id := page.ID(b.nextPageID.Add(1))
	f := b.frames[frameID]

	b.installFrame(id, frameID, f)
	slog.Debug(logDebugPrefix+"new page", "pageID", id, "frameID", frameID)
	return id, f.WriteGuard(), nil
}

// FetchPageRead returns a shared guard on id's data, loading it from
// disk into a frame first if it is not already resident.
func (b *BufferPoolManager) FetchPageRead(id page.ID) (*page.ReadGuard, error) {
	f, err := b.fetch(id)
	if err != nil {
		return nil, err
	}
	return f.ReadGuard(), nil
}

// FetchPageWrite returns an exclusive guard on id's data.
func (b *BufferPoolManager) FetchPageWrite(id page.ID) (*page.WriteGuard, error) {
	f, err := b.fetch(id)
	if err != nil {
		return nil, err
	}
	return f.WriteGuard(), nil
}

func (b *BufferPoolManager) fetch(id page.ID) (*page.Frame, error) {
	for {
		b.pageTableMu.RLock()
		frameID, resident := b.pageTable[id]
		b.pageTableMu.RUnlock()

		if resident {
			f := b.frames[frameID]
			b.replacer.SetEvictable(frameID, false)
			b.replacer.RecordAccess(frameID, replacer.AccessLookup)
			f.Pin()
			b.hits.Add(1)
			slog.Debug(logDebugPrefix+"fetch hit", "pageID", id, "frameID", frameID)
			return f, nil
		}

		// Re-check under the write lock and, if id is still missing,
		// either join an in-flight load for it or become the one
		// loading it. This closes the window between the residency
		// check above and installFrame below: without it, two misses
		// on the same id would each load and install their own frame,
		// and the page table would end up pointing at only one of
		// them while the other stays pinned and unreachable.
		b.pageTableMu.Lock()
		if _, resident := b.pageTable[id]; resident {
			b.pageTableMu.Unlock()
			continue
		}
		if pf, loading := b.pending[id]; loading {
			b.pageTableMu.Unlock()
			<-pf.done
			if pf.err != nil {
				return nil, pf.err
			}
			continue
		}
		pf := &pendingFetch{done: make(chan struct{})}
		b.pending[id] = pf
		b.pageTableMu.Unlock()

		b.misses.Add(1)
		return b.loadPage(id, pf)
	}
}

// loadPage acquires a frame, reads id into it from disk, and installs it
// in the page table, then releases pf so anyone who joined this load
// waiting on pf.done can proceed. Called with id reserved in b.pending.
func (b *BufferPoolManager) loadPage(id page.ID, pf *pendingFetch) (*page.Frame, error) {
	frameID, err := b.acquireFrame()
	if err != nil {
		b.finishPending(id, pf, err)
		return nil, err
	}

	f := b.frames[frameID]
	f.SetID(id)
	if err := b.scheduler.ReadPageSync(id, f.Buffer()); err != nil {
		// The frame is unusable; return it to the free list rather than
		// leaving it half-installed.
		f.Reset()
		b.freeListMu.Lock()
		b.freeList = append(b.freeList, frameID)
		b.freeListMu.Unlock()
		err = fmt.Errorf("bufferpool: read page %d: %w", id, err)
		b.finishPending(id, pf, err)
		return nil, err
	}

	b.installFrame(id, frameID, f)
	b.finishPending(id, pf, nil)
	slog.Debug(logDebugPrefix+"fetch miss, loaded from disk", "pageID", id, "frameID", frameID)
	return f, nil
}

// finishPending clears id's in-flight marker and wakes anyone waiting on
// pf.done. Must run after the load's outcome (installFrame, or the
// frame being returned to the free list) is already visible, since
// waiters retry their own lookup as soon as they wake.
func (b *BufferPoolManager) finishPending(id page.ID, pf *pendingFetch, err error) {
	pf.err = err
	b.pageTableMu.Lock()
	delete(b.pending, id)
	b.pageTableMu.Unlock()
	close(pf.done)
}

// acquireFrame pops a free frame or evicts one, writing it back first if
// dirty. The returned frame is reset (id cleared, data zeroed); the
// caller installs the new id and pins it.
func (b *BufferPoolManager) acquireFrame() (replacer.FrameID, error) {
	b.freeListMu.Lock()
	if n := len(b.freeList); n > 0 {
		frameID := b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		b.freeListMu.Unlock()
		return frameID, nil
	}
	b.freeListMu.Unlock()

	frameID, ok := b.replacer.Evict()
	if !ok {
		return 0, ErrNoFreeFrame
	}
	b.evictions.Add(1)

	f := b.frames[frameID]
	oldID := f.ID()
	if oldID != page.InvalidID {
		b.pageTableMu.Lock()
		delete(b.pageTable, oldID)
		b.pageTableMu.Unlock()
	}

	if f.IsDirty() {
		if err := b.scheduler.WritePageSync(oldID, f.Buffer()); err != nil {
			slog.Error(logDebugPrefix+"writeback of evicted frame failed",
				"pageID", oldID, "frameID", frameID, "err", err)
			// The frame is already out of the page table and the
			// replacer; if it isn't returned to the free list here it
			// is leaked from the pool for good, permanently shrinking
			// capacity by one frame per failed writeback.
			f.Reset()
			b.freeListMu.Lock()
			b.freeList = append(b.freeList, frameID)
			b.freeListMu.Unlock()
			return 0, fmt.Errorf("bufferpool: writeback page %d: %w", oldID, err)
		}
		f.ClearDirty()
	}
	f.Reset()
	slog.Debug(logDebugPrefix+"evicted frame", "oldPageID", oldID, "frameID", frameID)
	return frameID, nil
}

// installFrame assigns id to frame, registers it in the page table,
// pins it, and records the access. Called once a frame's previous
// contents (if any) have already been handled by acquireFrame.
func (b *BufferPoolManager) installFrame(id page.ID, frameID replacer.FrameID, f *page.Frame) {
	f.SetID(id)
	f.Pin()

	b.pageTableMu.Lock()
	b.pageTable[id] = frameID
	b.pageTableMu.Unlock()

	b.replacer.RecordAccess(frameID, replacer.AccessUnknown)
	b.replacer.SetEvictable(frameID, false)
}

// UnpinPage decrements id's pin count and ORs dirtyAfter into its dirty
// flag; once the pin count reaches zero the frame becomes evictable.
func (b *BufferPoolManager) UnpinPage(id page.ID, dirtyAfter bool) error {
	frameID, f, err := b.residentFrame(id)
	if err != nil {
		return err
	}

	f.SetDirty(dirtyAfter)
	remaining := f.Unpin()
	if remaining == 0 {
		b.replacer.SetEvictable(frameID, true)
	}
	slog.Debug(logDebugPrefix+"unpin", "pageID", id, "frameID", frameID, "pinCount", remaining, "dirty", dirtyAfter)
	return nil
}

// FlushPage synchronously writes id's frame to disk and clears its dirty
// flag.
func (b *BufferPoolManager) FlushPage(id page.ID) error {
	_, f, err := b.residentFrame(id)
	if err != nil {
		return err
	}
	// The frame is resident, so writers may hold guards on it; read its
	// bytes under a shared guard rather than through Buffer().
	rg := f.ReadGuard()
	err = b.scheduler.WritePageSync(id, rg.Data())
	rg.Release()
	if err != nil {
		return fmt.Errorf("bufferpool: flush page %d: %w", id, err)
	}
	f.ClearDirty()
	slog.Debug(logDebugPrefix+"flushed page", "pageID", id)
	return nil
}

// FlushAll flushes every currently resident dirty page. Not part of the
// original source (commented out there); supplied because a usable
// engine needs a way to persist state before shutdown.
func (b *BufferPoolManager) FlushAll() error {
	b.pageTableMu.RLock()
	ids := make([]page.ID, 0, len(b.pageTable))
	for id := range b.pageTable {
		ids = append(ids, id)
	}
	b.pageTableMu.RUnlock()

	for _, id := range ids {
		if err := b.FlushPage(id); err != nil {
			return err
		}
	}
	slog.Debug(logDebugPrefix+"flushed all pages", "count", len(ids))
	return nil
}

// DeletePage removes id from the pool and returns its frame to the free
// list. A no-op success if id is not resident; an error if it is
// pinned.
func (b *BufferPoolManager) DeletePage(id page.ID) error {
	b.pageTableMu.RLock()
	frameID, resident := b.pageTable[id]
	b.pageTableMu.RUnlock()
	if !resident {
		return nil
	}

	f := b.frames[frameID]
	if f.IsPinned() {
		return fmt.Errorf("%w: page %d", ErrPagePinned, id)
	}

	b.pageTableMu.Lock()
	delete(b.pageTable, id)
	b.pageTableMu.Unlock()

	b.replacer.Remove(frameID)
	f.Reset()

	b.freeListMu.Lock()
	b.freeList = append(b.freeList, frameID)
	b.freeListMu.Unlock()

	slog.Debug(logDebugPrefix+"deleted page", "pageID", id, "frameID", frameID)
	return nil
}

func (b *BufferPoolManager) residentFrame(id page.ID) (replacer.FrameID, *page.Frame, error) {
	b.pageTableMu.RLock()
	frameID, ok := b.pageTable[id]
	b.pageTableMu.RUnlock()
	if !ok {
		return 0, nil, fmt.Errorf("%w: page %d", ErrPageNotFound, id)
	}
	return frameID, b.frames[frameID], nil
}

// Stats returns a snapshot of cumulative pool counters.
func (b *BufferPoolManager) Stats() Stats {
	return Stats{
		Hits:      b.hits.Load(),
		Misses:    b.misses.Load(),
		Evictions: b.evictions.Load(),
	}
}

// Shutdown drains and stops the underlying disk scheduler. Should be
// called after a final FlushAll.
func (b *BufferPoolManager) Shutdown() {
	b.scheduler.Shutdown()
}
