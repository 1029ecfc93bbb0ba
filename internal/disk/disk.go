// Package disk models the opaque on-disk primitive spec.md treats as an
// external collaborator: read_page(id, buf) / write_page(id, buf). File
// layout beyond that contract is not part of the core; what lives here
// is just enough to make the buffer pool and its tests exercise a real
// backing store.
package disk

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pokhanto/kvengine/internal/page"
)

// checksumFooterSize is the width of the per-page corruption check
// FileDisk stores after each page's bytes on disk. It is physical
// layout only: callers' buffers stay exactly pageSize long.
const checksumFooterSize = 8

// putChecksum and readChecksum pack/unpack the footer as big-endian so
// two disks restored from the same page bytes agree on its value
// regardless of host byte order.
func putChecksum(footer []byte, sum uint64) { binary.BigEndian.PutUint64(footer, sum) }
func readChecksum(footer []byte) uint64     { return binary.BigEndian.Uint64(footer) }

// pageChecksum folds buf into a single uint64 by XORing consecutive
// 8-byte big-endian chunks, zero-padding a short final chunk. It is a
// corruption check, not a security digest.
func pageChecksum(buf []byte) uint64 {
	var sum uint64
	var chunk [8]byte
	for off := 0; off < len(buf); off += 8 {
		end := off + 8
		if end > len(buf) {
			clear(chunk[:])
			copy(chunk[:], buf[off:])
			sum ^= binary.BigEndian.Uint64(chunk[:])
			break
		}
		sum ^= binary.BigEndian.Uint64(buf[off:end])
	}
	return sum
}

// Disk is the synchronous I/O primitive the scheduler dispatches onto.
// Implementations may be slow; the scheduler is what provides
// concurrency and per-page ordering around it.
type Disk interface {
	ReadPage(id page.ID, buf []byte) error
	WritePage(id page.ID, buf []byte) error
}

// MemDisk is an in-memory Disk, used by tests and by callers that want
// a pure-cache engine with no backing file.
type MemDisk struct {
	mu       sync.Mutex
	pages    map[page.ID][]byte
	pageSize int
}

func NewMemDisk(pageSize int) *MemDisk {
	if pageSize <= 0 {
		pageSize = page.DefaultSize
	}
	return &MemDisk{
		pages:    make(map[page.ID][]byte),
		pageSize: pageSize,
	}
}

func (d *MemDisk) ReadPage(id page.ID, buf []byte) error {
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

func (d *MemDisk) WritePage(id page.ID, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored := make([]byte, d.pageSize)
	copy(stored, buf)
	d.pages[id] = stored
	return nil
}

// FileDisk is a single-file Disk: page id N lives at byte offset
// N*(pageSize+checksumFooterSize), its bytes followed by the checksum
// footer. Reads past EOF are zero-filled, which lets pages be lazily
// materialised the first time they are written.
type FileDisk struct {
	mu       sync.Mutex
	f        *os.File
	pageSize int
}

// OpenFileDisk opens (creating if necessary) the backing file at path.
func OpenFileDisk(path string, pageSize int) (*FileDisk, error) {
	if pageSize <= 0 {
		pageSize = page.DefaultSize
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("disk: create data dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", path, err)
	}
	return &FileDisk{f: f, pageSize: pageSize}, nil
}

// slotSize is the physical footprint of one page on disk: its bytes
// plus the trailing checksum footer.
func (d *FileDisk) slotSize() int { return d.pageSize + checksumFooterSize }

func (d *FileDisk) ReadPage(id page.ID, buf []byte) error {
	if len(buf) != d.pageSize {
		return fmt.Errorf("disk: read buffer must be %d bytes, got %d", d.pageSize, len(buf))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	slot := make([]byte, d.slotSize())
	off := int64(id) * int64(d.slotSize())
	n, err := d.f.ReadAt(slot, off)
	if err != nil && err != io.EOF {
		return fmt.Errorf("disk: read page %d: %w", id, err)
	}
	for i := n; i < len(slot); i++ {
		slot[i] = 0
	}

	copy(buf, slot[:d.pageSize])
	footer := slot[d.pageSize:]
	if want, got := pageChecksum(buf), readChecksum(footer); n > 0 && got != want {
		return fmt.Errorf("disk: page %d failed checksum (physical corruption)", id)
	}
	return nil
}

func (d *FileDisk) WritePage(id page.ID, buf []byte) error {
	if len(buf) != d.pageSize {
		return fmt.Errorf("disk: write buffer must be %d bytes, got %d", d.pageSize, len(buf))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	slot := make([]byte, d.slotSize())
	copy(slot, buf)
	putChecksum(slot[d.pageSize:], pageChecksum(buf))

	off := int64(id) * int64(d.slotSize())
	n, err := d.f.WriteAt(slot, off)
	if err != nil {
		return fmt.Errorf("disk: write page %d: %w", id, err)
	}
	if n != len(slot) {
		return io.ErrShortWrite
	}
	return nil
}

func (d *FileDisk) Close() error {
	if d.f == nil {
		return nil
	}
	return d.f.Close()
}

var _ io.Closer = (*FileDisk)(nil)
