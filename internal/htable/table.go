// Package htable implements the persistent extendible hash table: a
// header page routing to directory pages, each routing to bucket
// pages, all materialised through a buffer pool manager. Grounded on
// original_source's extendible_hash_table.rs, generalised from its
// String-only key hashing to any gob-encodable key via
// codec.HashKey.
package htable

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pokhanto/kvengine/internal/bufferpool"
	"github.com/pokhanto/kvengine/internal/codec"
	"github.com/pokhanto/kvengine/internal/page"
)

var logDebugPrefix = "htable: "

// HashTable is a persistent extendible hash index mapping K to V,
// backed by a shared buffer pool.
type HashTable[K comparable, V any] struct {
	name              string
	headerMaxDepth    uint32
	directoryMaxDepth uint32
	bucketMaxSize     int
	headerPageID      page.ID
	pool              bufferpool.Manager
}

// New allocates a fresh header page and returns a table over it. An
// empty name gets a generated one, so every table instance has a
// stable tag (logged at creation and returned by Name) even when the
// caller doesn't care to name it.
func New[K comparable, V any](name string, pool bufferpool.Manager, headerMaxDepth, directoryMaxDepth uint32, bucketMaxSize int) (*HashTable[K, V], error) {
	if name == "" {
		name = "htable-" + uuid.NewString()
	}

	id, wg, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("htable: allocate header page: %w", err)
	}

	header := NewHeaderPage(headerMaxDepth)
	if err := encodeInto(wg.Data(), header); err != nil {
		wg.Release()
		_ = pool.UnpinPage(id, false)
		return nil, err
	}
	wg.Release()
	if err := pool.UnpinPage(id, true); err != nil {
		return nil, err
	}

	slog.Debug(logDebugPrefix+"created table", "name", name, "headerPageID", id)
	return &HashTable[K, V]{
		name:              name,
		headerMaxDepth:    headerMaxDepth,
		directoryMaxDepth: directoryMaxDepth,
		bucketMaxSize:     bucketMaxSize,
		headerPageID:      id,
		pool:              pool,
	}, nil
}

// Open wraps an existing header page, for reattaching to a table that
// was created in a prior session.
func Open[K comparable, V any](name string, pool bufferpool.Manager, headerPageID page.ID, headerMaxDepth, directoryMaxDepth uint32, bucketMaxSize int) *HashTable[K, V] {
	return &HashTable[K, V]{
		name:              name,
		headerMaxDepth:    headerMaxDepth,
		directoryMaxDepth: directoryMaxDepth,
		bucketMaxSize:     bucketMaxSize,
		headerPageID:      headerPageID,
		pool:              pool,
	}
}

func (t *HashTable[K, V]) HeaderPageID() page.ID { return t.headerPageID }

func (t *HashTable[K, V]) Name() string { return t.name }

// encodeInto serialises v (a *HeaderPage, *DirectoryPage or
// *BucketPage[K,V]) into buf, zero-padding the remainder so the next
// decode's gob reader stops at the real stream and ignores the
// padding.
func encodeInto[T any](buf []byte, v T) error {
	b, err := codec.Encode(v)
	if err != nil {
		return err
	}
	if len(b) > len(buf) {
		return fmt.Errorf("htable: encoded record is %d bytes, exceeds page size %d", len(b), len(buf))
	}
	for i := range buf {
		buf[i] = 0
	}
	copy(buf, b)
	return nil
}

// Insert routes key/value to a bucket, splitting buckets (and growing
// the directory) as needed. Grounded on insert/insert_internal in
// extendible_hash_table.rs.
func (t *HashTable[K, V]) Insert(key K, value V) error {
	hash, err := codec.HashKey(key)
	if err != nil {
		return err
	}

	headerGuard, err := t.pool.FetchPageWrite(t.headerPageID)
	if err != nil {
		return err
	}
	header, err := codec.Decode[HeaderPage](headerGuard.Data())
	if err != nil {
		headerGuard.Release()
		_ = t.pool.UnpinPage(t.headerPageID, false)
		return err
	}

	dirIndex := header.HashToDirectoryIndex(hash)
	directoryID := header.DirectoryPageID(dirIndex)
	headerDirty := false

	if directoryID == page.InvalidID {
		newID, dirGuard, err := t.pool.NewPage()
		if err != nil {
			headerGuard.Release()
			_ = t.pool.UnpinPage(t.headerPageID, false)
			return err
		}
		newDirectory := NewDirectoryPage(t.directoryMaxDepth)
		if err := encodeInto(dirGuard.Data(), newDirectory); err != nil {
			dirGuard.Release()
			_ = t.pool.UnpinPage(newID, false)
			headerGuard.Release()
			_ = t.pool.UnpinPage(t.headerPageID, false)
			return err
		}
		dirGuard.Release()
		if err := t.pool.UnpinPage(newID, true); err != nil {
			headerGuard.Release()
			_ = t.pool.UnpinPage(t.headerPageID, false)
			return err
		}
		header.SetDirectoryPageID(dirIndex, newID)
		headerDirty = true
		directoryID = newID
	}

	if headerDirty {
		if err := encodeInto(headerGuard.Data(), &header); err != nil {
			headerGuard.Release()
			_ = t.pool.UnpinPage(t.headerPageID, false)
			return err
		}
	}
	headerGuard.Release()
	if err := t.pool.UnpinPage(t.headerPageID, headerDirty); err != nil {
		return err
	}

	dirGuard, err := t.pool.FetchPageWrite(directoryID)
	if err != nil {
		return err
	}
	directory, err := codec.Decode[DirectoryPage](dirGuard.Data())
	if err != nil {
		dirGuard.Release()
		_ = t.pool.UnpinPage(directoryID, false)
		return err
	}

	insertErr := t.insertInternal(&directory, key, value)

	if encErr := encodeInto(dirGuard.Data(), &directory); encErr != nil && insertErr == nil {
		insertErr = encErr
	}
	dirGuard.Release()
	if uerr := t.pool.UnpinPage(directoryID, true); uerr != nil && insertErr == nil {
		insertErr = uerr
	}
	return insertErr
}

func (t *HashTable[K, V]) insertInternal(directory *DirectoryPage, key K, value V) error {
	hash, err := codec.HashKey(key)
	if err != nil {
		return err
	}
	bucketIndex := directory.HashToBucketIndex(hash)

	bucketID := directory.BucketPageID(bucketIndex)
	if bucketID == page.InvalidID {
		newID, err := t.allocateEmptyBucket()
		if err != nil {
			return err
		}
		directory.SetBucketPageID(bucketIndex, newID)
		bucketID = newID
	}

	bucketGuard, err := t.pool.FetchPageWrite(bucketID)
	if err != nil {
		return err
	}
	bucket, err := codec.Decode[BucketPage[K, V]](bucketGuard.Data())
	if err != nil {
		bucketGuard.Release()
		_ = t.pool.UnpinPage(bucketID, false)
		return err
	}

	if !bucket.IsFull() {
		bucket.Insert(key, value)
		if err := encodeInto(bucketGuard.Data(), &bucket); err != nil {
			bucketGuard.Release()
			_ = t.pool.UnpinPage(bucketID, false)
			return err
		}
		bucketGuard.Release()
		return t.pool.UnpinPage(bucketID, true)
	}

	newBucketID, err := t.allocateEmptyBucket()
	if err != nil {
		bucketGuard.Release()
		_ = t.pool.UnpinPage(bucketID, false)
		return err
	}

	if err := splitBucket(directory, bucketIndex, newBucketID); err != nil {
		bucketGuard.Release()
		_ = t.pool.UnpinPage(bucketID, false)
		return err
	}

	entries := bucket.DrainEntries()
	if err := encodeInto(bucketGuard.Data(), &bucket); err != nil {
		bucketGuard.Release()
		_ = t.pool.UnpinPage(bucketID, false)
		return err
	}
	bucketGuard.Release()
	if err := t.pool.UnpinPage(bucketID, true); err != nil {
		return err
	}

	slog.Debug(logDebugPrefix+"bucket split", "bucketIndex", bucketIndex, "newBucketID", newBucketID, "globalDepth", directory.GlobalDepth)

	entries = append(entries, Entry[K, V]{Key: key, Value: value})
	for _, e := range entries {
		if err := t.insertInternal(directory, e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// splitBucket grows the directory (or fans out local depth across the
// existing equivalence class) so that bucketIndex and a fresh slot
// both point somewhere sensible, newPageID being the newly allocated
// sibling bucket. Grounded line-for-line on insert_internal's split
// branch in extendible_hash_table.rs.
func splitBucket(directory *DirectoryPage, bucketIndex int, newPageID page.ID) error {
	nextLocalDepth := directory.LocalDepth(bucketIndex) + 1
	localDepthMask := (uint32(1) << nextLocalDepth) - 1
	alignedBucketIndex := uint32(bucketIndex) & localDepthMask

	shouldDoubleSize := directory.LocalDepth(bucketIndex) == directory.GlobalDepth

	if shouldDoubleSize {
		directory.IncrementLocalDepth(bucketIndex)
		if err := directory.IncrementGlobalDepth(); err != nil {
			return err
		}
		splitImageIndex := directory.SplitImageIndex(bucketIndex)
		directory.SetBucketPageID(splitImageIndex, newPageID)
		return nil
	}

	for idx := 0; idx < directory.Size(); idx++ {
		otherIndex := uint32(idx) & localDepthMask
		if alignedBucketIndex != otherIndex {
			continue
		}
		directory.IncrementLocalDepth(idx)
		splitImageIndex := directory.SplitImageIndex(idx)
		directory.IncrementLocalDepth(splitImageIndex)
		directory.SetBucketPageID(splitImageIndex, newPageID)
	}
	return nil
}

func (t *HashTable[K, V]) allocateEmptyBucket() (page.ID, error) {
	id, wg, err := t.pool.NewPage()
	if err != nil {
		return page.InvalidID, err
	}
	bucket := NewBucketPage[K, V](t.bucketMaxSize)
	if err := encodeInto(wg.Data(), bucket); err != nil {
		wg.Release()
		_ = t.pool.UnpinPage(id, false)
		return page.InvalidID, err
	}
	wg.Release()
	if err := t.pool.UnpinPage(id, true); err != nil {
		return page.InvalidID, err
	}
	return id, nil
}

// Get looks up key, returning its value and whether it was found.
func (t *HashTable[K, V]) Get(key K) (V, bool, error) {
	var zero V
	hash, err := codec.HashKey(key)
	if err != nil {
		return zero, false, err
	}

	headerGuard, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return zero, false, err
	}
	header, err := codec.Decode[HeaderPage](headerGuard.Data())
	headerGuard.Release()
	if uerr := t.pool.UnpinPage(t.headerPageID, false); uerr != nil && err == nil {
		err = uerr
	}
	if err != nil {
		return zero, false, err
	}

	directoryID := header.DirectoryPageID(header.HashToDirectoryIndex(hash))
	if directoryID == page.InvalidID {
		return zero, false, nil
	}

	dirGuard, err := t.pool.FetchPageRead(directoryID)
	if err != nil {
		return zero, false, err
	}
	directory, err := codec.Decode[DirectoryPage](dirGuard.Data())
	dirGuard.Release()
	if uerr := t.pool.UnpinPage(directoryID, false); uerr != nil && err == nil {
		err = uerr
	}
	if err != nil {
		return zero, false, err
	}

	bucketID := directory.BucketPageID(directory.HashToBucketIndex(hash))
	if bucketID == page.InvalidID {
		return zero, false, nil
	}

	bucketGuard, err := t.pool.FetchPageRead(bucketID)
	if err != nil {
		return zero, false, err
	}
	bucket, err := codec.Decode[BucketPage[K, V]](bucketGuard.Data())
	bucketGuard.Release()
	if uerr := t.pool.UnpinPage(bucketID, false); uerr != nil && err == nil {
		err = uerr
	}
	if err != nil {
		return zero, false, err
	}

	v, ok := bucket.Get(key)
	return v, ok, nil
}

// Remove deletes key, merging the emptied bucket with its split image
// (and shrinking the directory) when the depth invariant allows it.
// Implements the merge/shrink contract the original source leaves
// commented out.
func (t *HashTable[K, V]) Remove(key K) (bool, error) {
	hash, err := codec.HashKey(key)
	if err != nil {
		return false, err
	}

	headerGuard, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return false, err
	}
	header, err := codec.Decode[HeaderPage](headerGuard.Data())
	headerGuard.Release()
	if uerr := t.pool.UnpinPage(t.headerPageID, false); uerr != nil && err == nil {
		err = uerr
	}
	if err != nil {
		return false, err
	}

	directoryID := header.DirectoryPageID(header.HashToDirectoryIndex(hash))
	if directoryID == page.InvalidID {
		return false, ErrNoDirectoryForKey
	}

	dirGuard, err := t.pool.FetchPageWrite(directoryID)
	if err != nil {
		return false, err
	}
	directory, err := codec.Decode[DirectoryPage](dirGuard.Data())
	if err != nil {
		dirGuard.Release()
		_ = t.pool.UnpinPage(directoryID, false)
		return false, err
	}

	bucketIndex := directory.HashToBucketIndex(hash)
	bucketID := directory.BucketPageID(bucketIndex)
	if bucketID == page.InvalidID {
		dirGuard.Release()
		_ = t.pool.UnpinPage(directoryID, false)
		return false, ErrNoBucketForKey
	}

	bucketGuard, err := t.pool.FetchPageWrite(bucketID)
	if err != nil {
		dirGuard.Release()
		_ = t.pool.UnpinPage(directoryID, false)
		return false, err
	}
	bucket, err := codec.Decode[BucketPage[K, V]](bucketGuard.Data())
	if err != nil {
		bucketGuard.Release()
		_ = t.pool.UnpinPage(bucketID, false)
		dirGuard.Release()
		_ = t.pool.UnpinPage(directoryID, false)
		return false, err
	}

	_, found := bucket.Delete(key)

	if err := encodeInto(bucketGuard.Data(), &bucket); err != nil {
		bucketGuard.Release()
		_ = t.pool.UnpinPage(bucketID, false)
		dirGuard.Release()
		_ = t.pool.UnpinPage(directoryID, false)
		return false, err
	}
	bucketGuard.Release()
	if err := t.pool.UnpinPage(bucketID, found); err != nil {
		dirGuard.Release()
		_ = t.pool.UnpinPage(directoryID, false)
		return false, err
	}

	directoryDirty := false
	if found && bucket.IsEmpty() {
		mergeEquivalenceClass(&directory, bucketIndex)
		directoryDirty = true
		if shouldShrinkDirectory(&directory) {
			directory.DecrementGlobalDepth()
		}
	}

	if directoryDirty {
		if err := encodeInto(dirGuard.Data(), &directory); err != nil {
			dirGuard.Release()
			_ = t.pool.UnpinPage(directoryID, false)
			return false, err
		}
	}
	dirGuard.Release()
	if err := t.pool.UnpinPage(directoryID, directoryDirty); err != nil {
		return false, err
	}

	return found, nil
}

// mergeEquivalenceClass points every slot that shared bucketIndex's
// bucket page at that bucket's split image, when the split image has
// equal local depth, and decrements both sides' local depth. Grounded
// on the commented-out remove() in extendible_hash_table.rs.
func mergeEquivalenceClass(directory *DirectoryPage, bucketIndex int) {
	localDepthMask := directory.LocalDepthMask(bucketIndex)
	alignedBucketIndex := uint32(bucketIndex) & localDepthMask

	for idx := 0; idx < directory.Size(); idx++ {
		if uint32(idx)&localDepthMask != alignedBucketIndex {
			continue
		}

		currentLocalDepth := directory.LocalDepth(idx)
		splitImageIndex := directory.SplitImageIndex(idx)
		splitImageLocalDepth := directory.LocalDepth(splitImageIndex)

		if currentLocalDepth != splitImageLocalDepth {
			continue
		}

		survivingPageID := directory.BucketPageID(splitImageIndex)
		directory.SetBucketPageID(idx, survivingPageID)
		directory.DecrementLocalDepth(idx)
		directory.DecrementLocalDepth(splitImageIndex)
	}
}

func shouldShrinkDirectory(directory *DirectoryPage) bool {
	for idx := 0; idx < directory.Size(); idx++ {
		if directory.LocalDepth(idx) == directory.GlobalDepth {
			return false
		}
	}
	return true
}

// VerifyIntegrity checks the directory invariant for every directory
// installed under the header.
func (t *HashTable[K, V]) VerifyIntegrity() error {
	headerGuard, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return err
	}
	header, err := codec.Decode[HeaderPage](headerGuard.Data())
	headerGuard.Release()
	if uerr := t.pool.UnpinPage(t.headerPageID, false); uerr != nil && err == nil {
		err = uerr
	}
	if err != nil {
		return err
	}

	for i := 0; i < header.MaxSize(); i++ {
		dirID := header.DirectoryPageID(i)
		if dirID == page.InvalidID {
			continue
		}

		dirGuard, err := t.pool.FetchPageRead(dirID)
		if err != nil {
			return err
		}
		directory, err := codec.Decode[DirectoryPage](dirGuard.Data())
		dirGuard.Release()
		if uerr := t.pool.UnpinPage(dirID, false); uerr != nil && err == nil {
			err = uerr
		}
		if err != nil {
			return err
		}

		if err := directory.VerifyIntegrity(); err != nil {
			return fmt.Errorf("htable: directory at slot %d (page %d): %w", i, dirID, err)
		}
	}
	return nil
}
