package htable

import (
	"fmt"

	"github.com/pokhanto/kvengine/internal/page"
)

// DirectoryPage maps the low global_depth bits of a key's hash to a
// bucket page, with a per-slot local depth recording how many of those
// bits actually distinguish that bucket from its split images.
// Grounded on extendible_hash_table_directory_page.rs.
type DirectoryPage struct {
	MaxDepth      uint32
	GlobalDepth   uint32
	BucketPageIDs []page.ID
	LocalDepths   []uint32
}

// NewDirectoryPage creates a directory at global depth 0 with a single
// bucket slot, as the first bucket for a fresh directory has not been
// installed yet.
func NewDirectoryPage(maxDepth uint32) *DirectoryPage {
	return &DirectoryPage{
		MaxDepth:      maxDepth,
		GlobalDepth:   0,
		BucketPageIDs: []page.ID{page.InvalidID},
		LocalDepths:   []uint32{0},
	}
}

func (d *DirectoryPage) GlobalDepthMask() uint32 {
	if d.GlobalDepth == 0 {
		return 0
	}
	return (1 << d.GlobalDepth) - 1
}

func (d *DirectoryPage) LocalDepthMask(idx int) uint32 {
	ld := d.LocalDepth(idx)
	if ld == 0 {
		return 0
	}
	return (1 << ld) - 1
}

// HashToBucketIndex selects the bucket slot for a key's hash.
func (d *DirectoryPage) HashToBucketIndex(hash uint32) int {
	return int(hash & d.GlobalDepthMask())
}

func (d *DirectoryPage) BucketPageID(idx int) page.ID {
	if idx < 0 || idx >= len(d.BucketPageIDs) {
		return page.InvalidID
	}
	return d.BucketPageIDs[idx]
}

func (d *DirectoryPage) SetBucketPageID(idx int, id page.ID) {
	d.BucketPageIDs[idx] = id
}

func (d *DirectoryPage) LocalDepth(idx int) uint32 {
	if idx < 0 || idx >= len(d.LocalDepths) {
		return 0
	}
	return d.LocalDepths[idx]
}

func (d *DirectoryPage) SetLocalDepth(idx int, depth uint32) {
	d.LocalDepths[idx] = depth
}

func (d *DirectoryPage) IncrementLocalDepth(idx int) {
	d.LocalDepths[idx]++
}

// DecrementLocalDepth saturates at 0.
func (d *DirectoryPage) DecrementLocalDepth(idx int) {
	if d.LocalDepths[idx] > 0 {
		d.LocalDepths[idx]--
	}
}

// Size is the number of directory slots, 2^GlobalDepth.
func (d *DirectoryPage) Size() int {
	return 1 << d.GlobalDepth
}

// SplitImageIndex returns the sibling slot that shares a bucket with idx
// at one depth shallower.
func (d *DirectoryPage) SplitImageIndex(idx int) int {
	ld := d.LocalDepth(idx)
	if ld == 0 {
		return 0
	}
	return idx ^ (1 << (ld - 1))
}

// IncrementGlobalDepth doubles the directory's slot arrays, each new
// slot i+old_size inheriting slot i's bucket page id and local depth.
// Fails once global depth has reached max_depth.
func (d *DirectoryPage) IncrementGlobalDepth() error {
	if d.GlobalDepth == d.MaxDepth {
		return ErrDirectoryMaxSizeReached
	}

	oldSize := len(d.BucketPageIDs)
	newSize := 2 * oldSize

	newBucketPageIDs := make([]page.ID, newSize)
	newLocalDepths := make([]uint32, newSize)
	for i := 0; i < oldSize; i++ {
		newBucketPageIDs[i] = d.BucketPageIDs[i]
		newBucketPageIDs[i+oldSize] = d.BucketPageIDs[i]
		newLocalDepths[i] = d.LocalDepths[i]
		newLocalDepths[i+oldSize] = d.LocalDepths[i]
	}

	d.GlobalDepth++
	d.BucketPageIDs = newBucketPageIDs
	d.LocalDepths = newLocalDepths
	return nil
}

// DecrementGlobalDepth halves the directory's slot arrays. Callers must
// ensure the two halves agree (no slot at local depth == global depth)
// before calling, per the depth invariant.
func (d *DirectoryPage) DecrementGlobalDepth() {
	if d.GlobalDepth == 0 {
		return
	}
	oldSize := len(d.BucketPageIDs)
	newSize := oldSize / 2

	d.GlobalDepth--
	d.BucketPageIDs = d.BucketPageIDs[:newSize]
	d.LocalDepths = d.LocalDepths[:newSize]
}

// VerifyIntegrity asserts that every bucket page id appears exactly
// 2^(global_depth - local_depth) times and that all slots sharing a
// bucket page id agree on local depth.
func (d *DirectoryPage) VerifyIntegrity() error {
	counts := make(map[page.ID]int)
	depths := make(map[page.ID]uint32)

	for idx, id := range d.BucketPageIDs {
		ld := d.LocalDepths[idx]
		if ld > d.GlobalDepth {
			return fmt.Errorf("htable: slot %d local depth %d exceeds global depth %d", idx, ld, d.GlobalDepth)
		}
		counts[id]++
		if prev, ok := depths[id]; ok {
			if prev != ld {
				return fmt.Errorf("htable: bucket page %d has mismatched local depths %d and %d", id, prev, ld)
			}
		} else {
			depths[id] = ld
		}
	}

	for id, count := range counts {
		want := 1 << (d.GlobalDepth - depths[id])
		if count != want {
			return fmt.Errorf("htable: bucket page %d appears %d times, want %d", id, count, want)
		}
	}
	return nil
}
