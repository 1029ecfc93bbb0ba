package htable

import "github.com/pokhanto/kvengine/internal/page"

// HeaderPage is the root record of a hash table: a fixed-size vector of
// directory page ids indexed by the top header_max_depth bits of a
// key's hash. Grounded on
// extendible_hash_table_header_page.rs.
type HeaderPage struct {
	MaxDepth         uint32
	DirectoryPageIDs []page.ID
}

// NewHeaderPage allocates a header with 2^maxDepth empty directory
// slots.
func NewHeaderPage(maxDepth uint32) *HeaderPage {
	return &HeaderPage{
		MaxDepth:         maxDepth,
		DirectoryPageIDs: make([]page.ID, 1<<maxDepth),
	}
}

// HashToDirectoryIndex selects the directory slot for a key's hash,
// using the hash's top MaxDepth bits. A directory routes further with
// DirectoryPage.HashToBucketIndex, which consumes the hash's low
// global_depth bits; taking the header's slice from the opposite end
// keeps the two independent so a directory's buckets still have real
// entropy to split on instead of every key in one directory sharing
// identical low bits already fixed by the header lookup.
func (h *HeaderPage) HashToDirectoryIndex(hash uint32) int {
	if h.MaxDepth == 0 {
		return 0
	}
	return int(hash >> (32 - h.MaxDepth))
}

// DirectoryPageID returns the directory installed at idx, or
// page.InvalidID if none.
func (h *HeaderPage) DirectoryPageID(idx int) page.ID {
	if idx < 0 || idx >= len(h.DirectoryPageIDs) {
		return page.InvalidID
	}
	return h.DirectoryPageIDs[idx]
}

func (h *HeaderPage) SetDirectoryPageID(idx int, id page.ID) {
	h.DirectoryPageIDs[idx] = id
}

// MaxSize is the number of directory slots, 2^MaxDepth.
func (h *HeaderPage) MaxSize() int {
	return len(h.DirectoryPageIDs)
}
