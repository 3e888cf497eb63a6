package spanindex

import (
	"log/slog"

	"github.com/meigma/spanindex/cache"
	"github.com/meigma/spanindex/seek"
	"github.com/meigma/spanindex/source"
)

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger for index operations.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Index) {
		x.logger = logger
	}
}

// WithInterval sets the decompressed distance between seek checkpoints.
// Values <= 0 keep the default of seek.DefaultInterval.
func WithInterval(n int64) Option {
	return func(x *Index) {
		if n > 0 {
			x.interval = n
		}
	}
}

// WithSeekDir persists seek indexes as sidecar files in dir.
// Without a sidecar store, seek indexes are rebuilt once per process.
func WithSeekDir(dir string) Option {
	return func(x *Index) {
		x.seekDir = dir
	}
}

// WithSeekStore persists seek indexes in store.
func WithSeekStore(store *seek.Store) Option {
	return func(x *Index) {
		x.sidecars = store
	}
}

// WithBlockCache caches compressed blocks of remote files.
// Local files are read directly.
func WithBlockCache(c cache.BlockCache) Option {
	return func(x *Index) {
		x.blocks = c
	}
}

// WithBuildConcurrency limits the number of files scanned at once by
// BuildAll and GetAllData. Values < 1 are treated as 1.
func WithBuildConcurrency(n int) Option {
	return func(x *Index) {
		x.concurrency = max(n, 1)
	}
}

// WithSourceOptions configures how http(s) and s3 locations are opened.
func WithSourceOptions(opts source.Options) Option {
	return func(x *Index) {
		x.sourceOpts = opts
	}
}

// WithEntityColumn sets the entity column of the lookup table.
// Defaults to subject_id.
func WithEntityColumn(name string) Option {
	return func(x *Index) {
		x.entityColumn = name
	}
}

// WithMaxSpanBytes limits the size of a single entity span read into memory.
// Zero disables the limit.
func WithMaxSpanBytes(n int64) Option {
	return func(x *Index) {
		x.maxSpan = max(n, 0)
	}
}

// WithProgress sets a callback for build progress.
func WithProgress(fn ProgressFunc) Option {
	return func(x *Index) {
		x.progress = fn
	}
}
