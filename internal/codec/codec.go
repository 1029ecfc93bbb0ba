// Package codec provides the page byte encoder used by the hash table:
// a stable, deterministic binary representation for the header,
// directory, and bucket page records, plus a hash function for routing
// arbitrary keys to directory/bucket slots.
//
// encoding/gob is the stdlib choice here because every other candidate
// in the corpus (bincode in original_source, any third-party Go codec
// seen in the examples) wants a fixed schema or code generation step;
// gob self-describes a stream and decodes cleanly out of a
// zero-padded, fixed-size page buffer since each encoded value carries
// its own length prefix and ignores trailing bytes. See DESIGN.md for
// why this one stdlib exception is justified.
package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"hash/fnv"
)

// Encode serialises v into a self-describing byte stream.
func Encode[T any](v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads one value of type T from b. Trailing bytes (zero
// padding from a fixed-size page buffer) are ignored.
func Decode[T any](b []byte) (T, error) {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		return v, fmt.Errorf("codec: decode: %w", err)
	}
	return v, nil
}

// HashKey reduces an arbitrary comparable key to a 32-bit hash by
// encoding it and running FNV-1a over the bytes. Go has no built-in
// reflection-free universal hash the way Rust's DefaultHasher gives the
// original source; encode-then-hash gives the same "any hashable key"
// behaviour.
func HashKey[K any](key K) (uint32, error) {
	b, err := Encode(key)
	if err != nil {
		return 0, err
	}
	h := fnv.New32a()
	_, _ = h.Write(b)
	return h.Sum32(), nil
}
