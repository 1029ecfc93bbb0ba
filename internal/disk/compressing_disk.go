package disk

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/s2"

	"github.com/pokhanto/kvengine/internal/page"
)

// lengthPrefixSize is the header CompressingDisk writes before each
// compressed page: the compressed payload's byte length.
const lengthPrefixSize = 4

// putCompressedLen and readCompressedLen pack/unpack that header as
// big-endian, matching FileDisk's checksum footer convention.
func putCompressedLen(prefix []byte, n uint32) { binary.BigEndian.PutUint32(prefix, n) }
func readCompressedLen(prefix []byte) uint32   { return binary.BigEndian.Uint32(prefix) }

// CompressingDisk wraps another Disk, s2-compressing each page before
// it reaches the inner store and decompressing on the way back out.
// The inner disk still sees a fixed pageSize buffer per page — the
// compressed payload is length-prefixed and zero-padded to fit.
// Grounded on the compression/decompression shape of
// pkg/compression.Compressor, swapped to klauspost/compress's
// block-oriented s2 codec (no streaming state to keep alive between
// calls, unlike that package's zstd encoder/decoder).
type CompressingDisk struct {
	inner    Disk
	pageSize int
}

// NewCompressingDisk wraps inner, which must itself accept buffers of
// pageSize bytes.
func NewCompressingDisk(inner Disk, pageSize int) *CompressingDisk {
	return &CompressingDisk{inner: inner, pageSize: pageSize}
}

func (d *CompressingDisk) ReadPage(id page.ID, buf []byte) error {
	if len(buf) != d.pageSize {
		return fmt.Errorf("disk: read buffer must be %d bytes, got %d", d.pageSize, len(buf))
	}

	raw := make([]byte, d.pageSize)
	if err := d.inner.ReadPage(id, raw); err != nil {
		return err
	}

	n := readCompressedLen(raw[:lengthPrefixSize])
	if n == 0 {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	if int(n) > d.pageSize-lengthPrefixSize {
		return fmt.Errorf("disk: page %d has corrupt compressed length prefix %d", id, n)
	}

	decoded, err := s2.Decode(nil, raw[lengthPrefixSize:lengthPrefixSize+int(n)])
	if err != nil {
		return fmt.Errorf("disk: decompress page %d: %w", id, err)
	}
	if len(decoded) > len(buf) {
		return fmt.Errorf("disk: page %d decompressed to %d bytes, expected at most %d", id, len(decoded), len(buf))
	}
	copy(buf, decoded)
	for i := len(decoded); i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (d *CompressingDisk) WritePage(id page.ID, buf []byte) error {
	if len(buf) != d.pageSize {
		return fmt.Errorf("disk: write buffer must be %d bytes, got %d", d.pageSize, len(buf))
	}

	compressed := s2.Encode(nil, buf)
	if len(compressed)+lengthPrefixSize > d.pageSize {
		return fmt.Errorf("disk: compressed page %d (%d bytes) does not fit page size %d", id, len(compressed), d.pageSize)
	}

	raw := make([]byte, d.pageSize)
	putCompressedLen(raw[:lengthPrefixSize], uint32(len(compressed)))
	copy(raw[lengthPrefixSize:], compressed)
	return d.inner.WritePage(id, raw)
}

var _ Disk = (*CompressingDisk)(nil)
