// Package disk implements a disk-backed block cache.
package disk

import (
	_ "crypto/sha256" // registers digest.Canonical
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/spanindex/cache"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o750
)

// BlockCache stores fixed-size blocks of remote sources as individual files,
// sharded by key prefix. The cache is safe for concurrent use and evicts the
// least recently used blocks when it exceeds its size limit.
type BlockCache struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64
	logger         *slog.Logger

	bytes      atomic.Int64
	hits       atomic.Int64
	misses     atomic.Int64
	fetchGroup singleflight.Group
	pruneMu    sync.Mutex
}

// Option configures a BlockCache.
type Option func(*BlockCache)

// WithMaxBytes sets the maximum size in bytes. Values <= 0 disable the limit.
func WithMaxBytes(n int64) Option {
	return func(c *BlockCache) {
		c.maxBytes = n
	}
}

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *BlockCache) {
		c.shardPrefixLen = n
	}
}

// WithLogger sets the logger used for cache write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *BlockCache) {
		c.logger = logger
	}
}

// New creates a disk-backed block cache rooted at dir.
func New(dir string, opts ...Option) (*BlockCache, error) {
	if dir == "" {
		return nil, errors.New("block cache dir is empty")
	}
	c := &BlockCache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("block cache shard prefix length must be >= 0")
	}
	if c.maxBytes < 0 {
		c.maxBytes = 0
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, err
	}
	c.bytes.Store(size)
	return c, nil
}

// Wrap returns a ByteSource that caches reads in fixed-size blocks.
func (c *BlockCache) Wrap(src cache.ByteSource, opts ...cache.WrapOption) (cache.ByteSource, error) {
	if src == nil {
		return nil, errors.New("block cache: source is nil")
	}
	blocks, err := cache.ResolveBlocks(opts...)
	if err != nil {
		return nil, err
	}
	sourceID := src.SourceID()
	if sourceID == "" {
		return nil, errors.New("block cache: source id is empty")
	}
	return &cachedSource{
		src:              src,
		cache:            c,
		sourceID:         sourceID,
		blocks:   blocks,
	}, nil
}

// MaxBytes returns the configured cache size limit (0 = unlimited).
func (c *BlockCache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the current cache size in bytes.
func (c *BlockCache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Stats returns hit and miss counters since the cache was created.
func (c *BlockCache) Stats() cache.Stats {
	return cache.Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Prune removes least recently used blocks until the cache is at or below
// targetBytes.
func (c *BlockCache) Prune(targetBytes int64) (int64, error) {
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	freed, remaining, err := pruneDir(c.dir, max(targetBytes, 0))
	if err != nil {
		return 0, err
	}
	c.bytes.Store(remaining)
	return freed, nil
}

type cachedSource struct {
	src      cache.ByteSource
	cache    *BlockCache
	sourceID string
	blocks   cache.Blocks
}

func (s *cachedSource) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	size := s.src.Size()
	if off >= size {
		return 0, io.EOF
	}
	expected := min(int64(len(p)), size-off)

	first, last := s.blocks.Span(off, int(expected))
	if s.blocks.MaxPerRead > 0 && last-first+1 > int64(s.blocks.MaxPerRead) {
		return s.src.ReadAt(p, off)
	}

	var n int64
	for block := first; block <= last; block++ {
		blockStart := block * s.blocks.Size
		blockEnd := min(blockStart+s.blocks.Size, size)

		data, err := s.cache.getBlock(s.sourceID, s.blocks.Size, block, blockEnd-blockStart, func() ([]byte, error) {
			return s.readBlock(blockStart, blockEnd-blockStart)
		})
		if err != nil {
			return int(n), err
		}

		from := max(off, blockStart)
		to := min(off+expected, blockEnd)
		n += int64(copy(p[from-off:to-off], data[from-blockStart:to-blockStart]))
	}

	if expected < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

func (s *cachedSource) Size() int64 {
	return s.src.Size()
}

func (s *cachedSource) SourceID() string {
	return s.sourceID
}

func (s *cachedSource) readBlock(off, length int64) ([]byte, error) {
	buf := make([]byte, int(length))
	n, err := s.src.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if int64(n) != length {
		return nil, io.ErrUnexpectedEOF
	}
	return buf, nil
}

func (c *BlockCache) getBlock(sourceID string, blockSize, block, blockLen int64, fetch func() ([]byte, error)) ([]byte, error) {
	key := blockKey(sourceID, blockSize, block)
	result, err, _ := c.fetchGroup.Do(key, func() (any, error) {
		path := c.pathForKey(key)
		data, err := os.ReadFile(path) //nolint:gosec // path is derived from a digest, not user input
		switch {
		case err == nil && int64(len(data)) == blockLen:
			c.hits.Add(1)
			now := time.Now()
			_ = os.Chtimes(path, now, now) //nolint:errcheck // recency is best-effort
			return data, nil
		case err == nil:
			c.bytes.Add(-int64(len(data)))
			_ = os.Remove(path)
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}

		c.misses.Add(1)
		data, err = fetch()
		if err != nil {
			return nil, err
		}
		if err := c.writeBlock(path, data); err != nil {
			c.logger.Warn("block cache write failed", "path", path, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

func (c *BlockCache) writeBlock(path string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if ok, err := c.ensureCapacity(int64(len(data))); err != nil || !ok {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "block-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	c.bytes.Add(int64(len(data)))
	return nil
}

// blockKey derives the cache key for one block of one source.
func blockKey(sourceID string, blockSize, block int64) string {
	d := digest.Canonical.Digester()
	h := d.Hash()
	_, _ = h.Write([]byte(sourceID)) //nolint:errcheck // hash writes never fail

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(blockSize)) //nolint:gosec // validated > 0
	binary.BigEndian.PutUint64(buf[8:], uint64(block))     //nolint:gosec // always >= 0
	_, _ = h.Write(buf[:])                                 //nolint:errcheck // hash writes never fail
	return d.Digest().Encoded()
}

func (c *BlockCache) pathForKey(key string) string {
	if c.shardPrefixLen <= 0 {
		return filepath.Join(c.dir, key)
	}
	return filepath.Join(c.dir, key[:min(c.shardPrefixLen, len(key))], key)
}

func (c *BlockCache) ensureCapacity(need int64) (bool, error) {
	if c.maxBytes <= 0 {
		return true, nil
	}
	if need > c.maxBytes {
		return false, nil
	}
	if c.SizeBytes()+need <= c.maxBytes {
		return true, nil
	}
	if _, err := c.Prune(c.maxBytes - need); err != nil {
		return false, err
	}
	return c.SizeBytes()+need <= c.maxBytes, nil
}
