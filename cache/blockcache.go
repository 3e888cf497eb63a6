// Package cache defines block caching for remote compressed files.
//
// Range reads over http(s) or s3 sources issue one request per ReadAt.
// Wrapping the source in a block cache turns repeated seeks into local
// reads of fixed-size compressed blocks.
package cache

import (
	"fmt"
	"io"
	"math"
)

// ByteSource provides random access to data for block caching.
type ByteSource interface {
	io.ReaderAt

	// Size returns the total size of the data source in bytes.
	Size() int64

	// SourceID returns a unique identifier for this data source.
	// It is part of the cache key, so a changed remote file never
	// serves stale blocks.
	SourceID() string
}

// BlockCache wraps ByteSources with block-level caching.
type BlockCache interface {
	// Wrap returns a ByteSource that caches reads from src in fixed-size blocks.
	Wrap(src ByteSource, opts ...WrapOption) (ByteSource, error)

	// MaxBytes returns the configured cache size limit (0 = unlimited).
	MaxBytes() int64

	// SizeBytes returns the current cache size in bytes.
	SizeBytes() int64

	// Prune removes cached entries until the cache is at or below targetBytes.
	// Returns the number of bytes freed.
	Prune(targetBytes int64) (int64, error)

	// Stats returns hit and miss counters.
	Stats() Stats
}

// Stats counts block lookups.
type Stats struct {
	Hits   int64
	Misses int64
}

// DefaultBlockSize is the default block size used by block caches.
const DefaultBlockSize int64 = 1 << 20

// DefaultMaxBlocksPerRead caps cached blocks per ReadAt so full-file scans
// do not flush the cache.
const DefaultMaxBlocksPerRead = 8

// Blocks is the resolved block layout for one wrapped source.
type Blocks struct {
	// Size is the length in bytes of each cached block.
	Size int64

	// MaxPerRead is the largest number of blocks one ReadAt may populate.
	// Reads spanning more blocks go straight to the source. 0 means no limit.
	MaxPerRead int
}

// WrapOption adjusts the block layout used by Wrap.
type WrapOption func(*Blocks)

// WithBlockSize sets the block size used for caching.
func WithBlockSize(n int64) WrapOption {
	return func(b *Blocks) { b.Size = n }
}

// WithMaxBlocksPerRead bypasses caching when a ReadAt spans more than n blocks.
// Values <= 0 disable the limit.
func WithMaxBlocksPerRead(n int) WrapOption {
	return func(b *Blocks) { b.MaxPerRead = n }
}

// ResolveBlocks applies opts over the defaults and validates the result.
func ResolveBlocks(opts ...WrapOption) (Blocks, error) {
	b := Blocks{Size: DefaultBlockSize, MaxPerRead: DefaultMaxBlocksPerRead}
	for _, opt := range opts {
		opt(&b)
	}
	if b.Size <= 0 || b.Size > math.MaxInt32 {
		return Blocks{}, fmt.Errorf("block cache: invalid block size %d", b.Size)
	}
	b.MaxPerRead = max(b.MaxPerRead, 0)
	return b, nil
}

// Span returns the first and last block indexes touched by n bytes at off.
func (b Blocks) Span(off int64, n int) (first, last int64) {
	return off / b.Size, (off + int64(n) - 1) / b.Size
}
