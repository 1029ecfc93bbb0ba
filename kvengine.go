// Package kvengine is the root facade: it wires a disk, a buffer
// pool, and the disk scheduler behind it into one Engine, then lets
// callers open generic extendible hash tables over the shared pool.
// Grounded on internal/database.go's Database wrapper (RWMutex guard,
// closed flag, ErrClosed sentinel, Close idempotency).
package kvengine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pokhanto/kvengine/internal/bufferpool"
	"github.com/pokhanto/kvengine/internal/config"
	"github.com/pokhanto/kvengine/internal/disk"
	"github.com/pokhanto/kvengine/internal/htable"
)

var (
	// ErrEngineClosed is returned by any operation attempted after
	// Close.
	ErrEngineClosed = errors.New("kvengine: engine is closed")
)

// Engine owns one backing disk and the buffer pool cached in front of
// it. Open one or more hash tables over it with OpenTable.
type Engine struct {
	mu     sync.RWMutex
	cfg    *config.Config
	disk   disk.Disk
	pool   *bufferpool.BufferPoolManager
	closer func() error
	closed bool
}

// Open creates the backing file (if dataDir != "", a FileDisk rooted
// there; otherwise an in-memory MemDisk) and the buffer pool manager
// in front of it, per cfg.
func Open(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var backing disk.Disk
	var closer func() error

	if cfg.DataDir != "" {
		fd, err := disk.OpenFileDisk(cfg.DataDir+"/kvengine.data", cfg.PageSizeBytes)
		if err != nil {
			return nil, fmt.Errorf("kvengine: open backing file: %w", err)
		}
		backing = fd
		closer = fd.Close
	} else {
		backing = disk.NewMemDisk(cfg.PageSizeBytes)
		closer = func() error { return nil }
	}

	if cfg.CompressPages {
		backing = disk.NewCompressingDisk(backing, cfg.PageSizeBytes)
	}

	pool := bufferpool.New(backing, cfg.PoolSize, cfg.ReplacerK, cfg.DiskWorkerCount, cfg.PageSizeBytes)

	return &Engine{
		cfg:    cfg,
		disk:   backing,
		pool:   pool,
		closer: closer,
	}, nil
}

// OpenTable creates a fresh hash table over the engine's shared buffer
// pool. K and V must be gob-encodable (see internal/codec).
func OpenTable[K comparable, V any](e *Engine, name string) (*htable.HashTable[K, V], error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	return htable.New[K, V](name, e.pool, e.cfg.HeaderMaxDepth, e.cfg.DirectoryMaxDepth, e.cfg.BucketMaxSize)
}

// Stats reports the underlying buffer pool's cumulative counters.
func (e *Engine) Stats() bufferpool.Stats {
	return e.pool.Stats()
}

// Flush writes every dirty resident page back to disk without closing
// the engine.
func (e *Engine) Flush() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	return e.pool.FlushAll()
}

// Close flushes all dirty pages, shuts down the disk scheduler, and
// closes the backing file (if any). Close is idempotent: a second call
// returns ErrEngineClosed rather than reopening anything.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	flushErr := e.pool.FlushAll()
	e.pool.Shutdown()
	closeErr := e.closer()
	e.closed = true

	if flushErr != nil {
		return fmt.Errorf("kvengine: flush on close: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("kvengine: close backing disk: %w", closeErr)
	}
	return nil
}
