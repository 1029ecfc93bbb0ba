// Package scheduler implements the disk I/O scheduler: a bounded worker
// pool that guarantees per-page-id FIFO ordering while allowing parallel
// I/O across distinct page ids. Grounded on the single-worker channel
// loop in original_source's disk_scheduler.rs, generalised to W workers
// via a processing-set so at most one request per page id is in flight
// at any time.
package scheduler

import (
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/pokhanto/kvengine/internal/disk"
	"github.com/pokhanto/kvengine/internal/page"
)

// DefaultWorkerCount is used when a caller configures zero or negative
// workers.
const DefaultWorkerCount = 4

type request struct {
	pageID  page.ID
	buf     []byte
	isWrite bool
	cb      func(error)
}

// DiskScheduler dispatches read/write requests to a Disk across a fixed
// pool of worker goroutines. For any given page id, callbacks fire in
// the order requests were submitted; across distinct page ids there is
// no ordering guarantee.
type DiskScheduler struct {
	disk disk.Disk

	mu           sync.Mutex
	cond         *sync.Cond
	queues       map[page.ID][]*request
	processing   map[page.ID]bool
	shuttingDown bool

	pool *pool.Pool
}

// New starts workerCount worker goroutines servicing d. Workers run
// until Shutdown is called.
func New(d disk.Disk, workerCount int) *DiskScheduler {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	s := &DiskScheduler{
		disk:       d,
		queues:     make(map[page.ID][]*request),
		processing: make(map[page.ID]bool),
		pool:       pool.New().WithMaxGoroutines(workerCount),
	}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < workerCount; i++ {
		s.pool.Go(s.workerLoop)
	}
	return s
}

// ScheduleRead enqueues a read of pageID into buf, invoking cb with the
// result once serviced. cb runs on a worker goroutine, never on the
// caller's goroutine.
func (s *DiskScheduler) ScheduleRead(pageID page.ID, buf []byte, cb func(error)) {
	s.enqueue(&request{pageID: pageID, buf: buf, isWrite: false, cb: cb})
}

// ScheduleWrite enqueues a write of buf to pageID.
func (s *DiskScheduler) ScheduleWrite(pageID page.ID, buf []byte, cb func(error)) {
	s.enqueue(&request{pageID: pageID, buf: buf, isWrite: true, cb: cb})
}

// ReadPageSync blocks the caller until the read completes, matching the
// "issuing thread blocks by receiving on a one-shot channel" contract.
func (s *DiskScheduler) ReadPageSync(pageID page.ID, buf []byte) error {
	done := make(chan error, 1)
	s.ScheduleRead(pageID, buf, func(err error) { done <- err })
	return <-done
}

// WritePageSync blocks the caller until the write completes.
func (s *DiskScheduler) WritePageSync(pageID page.ID, buf []byte) error {
	done := make(chan error, 1)
	s.ScheduleWrite(pageID, buf, func(err error) { done <- err })
	return <-done
}

func (s *DiskScheduler) enqueue(r *request) {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return // requests after shutdown are silently dropped, per contract
	}
	s.queues[r.pageID] = append(s.queues[r.pageID], r)
	s.mu.Unlock()
	s.cond.Signal()
}

// popEligibleLocked removes and returns the head request of any page id
// whose queue is non-empty and not already being processed. Map
// iteration order is effectively randomised by the runtime, which
// satisfies the starvation-freedom requirement without extra
// bookkeeping.
func (s *DiskScheduler) popEligibleLocked() (page.ID, *request, bool) {
	for pid, q := range s.queues {
		if len(q) == 0 || s.processing[pid] {
			continue
		}
		req := q[0]
		s.queues[pid] = q[1:]
		s.processing[pid] = true
		return pid, req, true
	}
	return 0, nil, false
}

func (s *DiskScheduler) workerLoop() {
	for {
		s.mu.Lock()
		pid, req, ok := s.popEligibleLocked()
		for !ok && !s.shuttingDown {
			s.cond.Wait()
			pid, req, ok = s.popEligibleLocked()
		}
		if !ok {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		err := s.execute(pid, req)
		req.cb(err)

		s.mu.Lock()
		delete(s.processing, pid)
		if len(s.queues[pid]) == 0 {
			delete(s.queues, pid)
		}
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *DiskScheduler) execute(pid page.ID, r *request) error {
	if r.isWrite {
		return s.disk.WritePage(pid, r.buf)
	}
	return s.disk.ReadPage(pid, r.buf)
}

// Shutdown stops accepting new requests and waits for in-flight and
// already-queued requests to drain, then joins all workers. conc/pool
// re-raises any worker panic out of Wait, matching the fatal-scheduler-
// error policy: a crashed worker must surface to the caller.
func (s *DiskScheduler) Shutdown() {
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()
	s.cond.Broadcast()
	s.pool.Wait()
}
