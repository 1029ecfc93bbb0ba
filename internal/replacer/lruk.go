// Package replacer implements the LRU-K frame eviction policy used by
// the buffer pool to pick victim frames. Grounded on the backward
// k-distance rule: a frame's distance is now minus the timestamp of its
// kth most recent access, or +Inf if fewer than k accesses are on
// record. The replacer evicts the largest-distance evictable frame,
// breaking ties by least-recently-used.
package replacer

import (
	"sync"
)

// FrameID identifies a frame slot in the owning buffer pool, [0..capacity).
type FrameID int

// AccessType is informational context about why a frame was touched.
// The base LRU-K policy ignores it; it exists so callers (and future,
// smarter policies) can distinguish point lookups from scans.
type AccessType int

const (
	AccessUnknown AccessType = iota
	AccessLookup
	AccessScan
	AccessIndex
)

// timestamp is a strictly monotonic access counter. Using a counter
// instead of wall-clock time guarantees two sequentially recorded
// accesses always produce distinct, ordered values, which wall-clock
// nanosecond reads cannot guarantee on every platform.
type timestamp int64

type node struct {
	frameID    FrameID
	k          int
	history    []timestamp // newest at index 0, bounded to length k
	evictable  bool
}

// kDistance returns the backward k-distance and whether it is finite.
func (n *node) kDistance(now timestamp) (dist int64, finite bool) {
	if len(n.history) < n.k {
		return 0, false
	}
	return int64(now - n.history[n.k-1]), true
}

func (n *node) mostRecentAccess() timestamp {
	return n.history[0]
}

func (n *node) recordAccess(now timestamp) {
	n.history = append([]timestamp{now}, n.history...)
	if len(n.history) > n.k {
		n.history = n.history[:n.k]
	}
}

// LRUKReplacer tracks access history for up to numFrames frames and
// picks eviction victims by backward k-distance. All operations are
// infallible and non-blocking; internal state is guarded by a single
// mutex (spec.md §9 explicitly allows this for the pool sizes this
// engine targets — sharding would be premature).
type LRUKReplacer struct {
	mu        sync.Mutex
	numFrames int
	k         int
	nodes     map[FrameID]*node
	clock     timestamp
	evictable int // count of evictable nodes, i.e. Size()
}

func New(numFrames, k int) *LRUKReplacer {
	if k <= 0 {
		k = 1
	}
	return &LRUKReplacer{
		numFrames: numFrames,
		k:         k,
		nodes:     make(map[FrameID]*node, numFrames),
	}
}

// RecordAccess notes an access to frameID, creating its tracking node on
// first sight.
func (r *LRUKReplacer) RecordAccess(frameID FrameID, _ AccessType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clock++
	now := r.clock

	n, ok := r.nodes[frameID]
	if !ok {
		n = &node{frameID: frameID, k: r.k}
		r.nodes[frameID] = n
	}
	n.recordAccess(now)
}

// SetEvictable marks whether frameID may be chosen by Evict. A frame id
// that was never recorded is silently ignored — ambiguous per spec.md
// §9 open question (a); this implementation keeps it a no-op, matching
// the Rust source and the teacher's clockx.Clock.SetEvictable.
func (r *LRUKReplacer) SetEvictable(frameID FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[frameID]
	if !ok {
		return
	}
	if n.evictable == evictable {
		return
	}
	n.evictable = evictable
	if evictable {
		r.evictable++
	} else {
		r.evictable--
	}
}

// Remove drops all tracking for frameID, whether or not it was evictable.
func (r *LRUKReplacer) Remove(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[frameID]
	if !ok {
		return
	}
	if n.evictable {
		r.evictable--
	}
	delete(r.nodes, frameID)
}

// Evict picks the evictable frame with the largest backward k-distance
// (ties broken by least-recently-used) and removes its tracking. Returns
// false if no evictable frame exists.
func (r *LRUKReplacer) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evictable == 0 {
		return 0, false
	}

	now := r.clock
	var (
		best       *node
		bestDist   int64
		bestFinite bool
	)

	for _, n := range r.nodes {
		if !n.evictable {
			continue
		}
		dist, finite := n.kDistance(now)
		if best == nil {
			best, bestDist, bestFinite = n, dist, finite
			continue
		}
		switch {
		case !finite && !bestFinite:
			// Both +Inf: tie-break by least-recently-used below.
			if n.mostRecentAccess() < best.mostRecentAccess() {
				best = n
			}
		case !finite && bestFinite:
			best, bestDist, bestFinite = n, dist, finite
		case finite && !bestFinite:
			// current best is +Inf, stays preferred over any finite distance
		case dist > bestDist:
			best, bestDist, bestFinite = n, dist, finite
		case dist == bestDist:
			if n.mostRecentAccess() < best.mostRecentAccess() {
				best = n
			}
		}
	}

	victim := best.frameID
	r.evictable--
	delete(r.nodes, victim)
	return victim, true
}

// Size returns the number of currently evictable frames.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictable
}
