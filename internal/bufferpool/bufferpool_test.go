package bufferpool

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pokhanto/kvengine/internal/disk"
	"github.com/pokhanto/kvengine/internal/page"
)

// flakyWriteDisk fails every WritePage call while failWrites is set, to
// exercise acquireFrame's eviction-writeback-failure path.
type flakyWriteDisk struct {
	*disk.MemDisk
	failWrites bool
}

func (d *flakyWriteDisk) WritePage(id page.ID, buf []byte) error {
	if d.failWrites {
		return errors.New("flakyWriteDisk: simulated write failure")
	}
	return d.MemDisk.WritePage(id, buf)
}

// slowDisk is a MemDisk-like Disk whose ReadPage sleeps before serving,
// widening the window in which two concurrent fetches of the same
// missing page id could otherwise both decide to load it.
type slowDisk struct {
	mu       sync.Mutex
	pages    map[page.ID][]byte
	pageSize int
	delay    time.Duration
}

func newSlowDisk(pageSize int, delay time.Duration) *slowDisk {
	return &slowDisk{pages: make(map[page.ID][]byte), pageSize: pageSize, delay: delay}
}

func (d *slowDisk) ReadPage(id page.ID, buf []byte) error {
	time.Sleep(d.delay)
	d.mu.Lock()
	defer d.mu.Unlock()
	stored, ok := d.pages[id]
	if !ok {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	copy(buf, stored)
	return nil
}

func (d *slowDisk) WritePage(id page.ID, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored := make([]byte, d.pageSize)
	copy(stored, buf)
	d.pages[id] = stored
	return nil
}

func TestBufferPoolManager_NewPageAndFetch(t *testing.T) {
	d := disk.NewMemDisk(8)
	bp := New(d, 2, 2, 2, 8)
	defer bp.Shutdown()

	id, wg := mustNewPage(t, bp)
	copy(wg.Data(), []byte("hello123"))
	wg.Release()
	require.NoError(t, bp.UnpinPage(id, true))

	rg, err := bp.FetchPageRead(id)
	require.NoError(t, err)
	require.Equal(t, []byte("hello123"), rg.Data())
	rg.Release()
	require.NoError(t, bp.UnpinPage(id, false))
}

func TestBufferPoolManager_UnpinUnknownPageErrors(t *testing.T) {
	d := disk.NewMemDisk(8)
	bp := New(d, 2, 2, 2, 8)
	defer bp.Shutdown()

	require.ErrorIs(t, bp.UnpinPage(page.ID(99), false), ErrPageNotFound)
}

func TestBufferPoolManager_NoFreeFrameWhenAllPinned(t *testing.T) {
	d := disk.NewMemDisk(8)
	bp := New(d, 1, 2, 1, 8)
	defer bp.Shutdown()

	_, wg1 := mustNewPage(t, bp)
	wg1.Release()

	_, _, err := bp.NewPage()
	require.ErrorIs(t, err, ErrNoFreeFrame)
}

func TestBufferPoolManager_EvictionWritesBackDirtyPage(t *testing.T) {
	d := disk.NewMemDisk(8)
	bp := New(d, 1, 2, 1, 8)
	defer bp.Shutdown()

	id1, wg1 := mustNewPage(t, bp)
	copy(wg1.Data(), []byte("dirtydat"))
	wg1.Release()
	require.NoError(t, bp.UnpinPage(id1, true))

	// Only one frame; allocating a second page forces eviction of id1,
	// which must flush its dirty contents to disk first.
	id2, wg2 := mustNewPage(t, bp)
	require.NotEqual(t, id1, id2)
	wg2.Release()
	require.NoError(t, bp.UnpinPage(id2, false))

	buf := make([]byte, 8)
	require.NoError(t, d.ReadPage(id1, buf))
	require.Equal(t, []byte("dirtydat"), buf)
}

func TestBufferPoolManager_DeletePage(t *testing.T) {
	d := disk.NewMemDisk(8)
	bp := New(d, 2, 2, 1, 8)
	defer bp.Shutdown()

	id, wg := mustNewPage(t, bp)
	wg.Release()
	require.NoError(t, bp.UnpinPage(id, false))

	require.NoError(t, bp.DeletePage(id))
	require.NoError(t, bp.DeletePage(id)) // no-op on already-gone page

	_, err := bp.FetchPageRead(id)
	require.NoError(t, err) // re-fetch materialises a zeroed page from disk
}

func TestBufferPoolManager_DeletePinnedPageErrors(t *testing.T) {
	d := disk.NewMemDisk(8)
	bp := New(d, 2, 2, 1, 8)
	defer bp.Shutdown()

	id, wg := mustNewPage(t, bp)
	wg.Release()

	require.ErrorIs(t, bp.DeletePage(id), ErrPagePinned)
}

func TestBufferPoolManager_FlushAll(t *testing.T) {
	d := disk.NewMemDisk(8)
	bp := New(d, 2, 2, 1, 8)
	defer bp.Shutdown()

	id, wg := mustNewPage(t, bp)
	copy(wg.Data(), []byte("flushme1"))
	wg.Release()
	require.NoError(t, bp.UnpinPage(id, true))

	require.NoError(t, bp.FlushAll())

	buf := make([]byte, 8)
	require.NoError(t, d.ReadPage(id, buf))
	require.Equal(t, []byte("flushme1"), buf)
}

// TestBufferPoolManager_ConcurrentFetchOfMissingPageInstallsOnlyOneFrame
// drives many concurrent FetchPageRead calls against the same
// not-yet-resident page id. Without the in-flight reservation in fetch,
// each goroutine would see the id missing, load its own frame, and race
// installFrame; the loser's frame would be pinned but unreachable from
// the page table, and later unpins against the page id would drain the
// winner's pin count instead, eventually panicking.
func TestBufferPoolManager_ConcurrentFetchOfMissingPageInstallsOnlyOneFrame(t *testing.T) {
	d := newSlowDisk(8, 20*time.Millisecond)
	bp := New(d, 4, 2, 2, 8)
	defer bp.Shutdown()

	const n = 8
	id := page.ID(1)
	guards := make([]*page.ReadGuard, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			g, err := bp.FetchPageRead(id)
			guards[i] = g
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}

	bp.pageTableMu.RLock()
	frameID, resident := bp.pageTable[id]
	installed := len(bp.pageTable)
	bp.pageTableMu.RUnlock()
	require.True(t, resident)
	require.Equal(t, 1, installed, "exactly one frame should back the page id")
	require.Equal(t, int32(n), bp.frames[frameID].PinCount(), "every fetch should have pinned the same frame")

	for i := 0; i < n; i++ {
		guards[i].Release()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, bp.UnpinPage(id, false))
	}
	require.Equal(t, int32(0), bp.frames[frameID].PinCount())
}

// TestBufferPoolManager_EvictionWritebackFailureReturnsFrameToFreeList
// guards against the evicted frame being lost for good when its dirty
// writeback fails: acquireFrame already removes the frame from the
// page table and the replacer before attempting the write, so if it
// isn't pushed back onto the free list on failure, that frame becomes
// permanently unreachable and the pool's usable capacity shrinks by
// one every time a writeback fails.
func TestBufferPoolManager_EvictionWritebackFailureReturnsFrameToFreeList(t *testing.T) {
	backing := &flakyWriteDisk{MemDisk: disk.NewMemDisk(8)}
	bp := New(backing, 1, 2, 1, 8)
	defer bp.Shutdown()

	id1, wg1 := mustNewPage(t, bp)
	copy(wg1.Data(), []byte("dirtydat"))
	wg1.Release()
	require.NoError(t, bp.UnpinPage(id1, true))

	backing.failWrites = true
	_, _, err := bp.NewPage()
	require.Error(t, err)

	backing.failWrites = false
	id2, wg2 := mustNewPage(t, bp)
	require.NotEqual(t, page.ID(0), id2)
	wg2.Release()
	require.NoError(t, bp.UnpinPage(id2, false))
}

func mustNewPage(t *testing.T, bp *BufferPoolManager) (page.ID, *page.WriteGuard) {
	t.Helper()
	id, wg, err := bp.NewPage()
	require.NoError(t, err)
	return id, wg
}
