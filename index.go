package spanindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/spanindex/cache"
	"github.com/meigma/spanindex/lookup"
	"github.com/meigma/spanindex/seek"
	"github.com/meigma/spanindex/source"
)

// Index ties a registry to its lookup table, seek indexes and open files.
//
// An Index is safe for concurrent use. Close releases every open file.
// The lookup table is read once by Open and then changes only through the
// Index's own builds; Reload picks up a table written by another process.
type Index struct {
	reg          *Registry
	table        *lookup.Store
	entityColumn string
	seekDir      string
	sidecars     *seek.Store
	blocks       cache.BlockCache
	sourceOpts   source.Options
	interval     int64
	concurrency  int
	maxSpan      int64
	logger       *slog.Logger
	progress     ProgressFunc
	stats        Stats

	// verify replaces the post-build verification when set.
	verify func(ctx context.Context, table *lookup.Table, f *File) error

	opening singleflight.Group

	mu      sync.Mutex
	files   map[string]*File
	retired []*File
	closed  bool
}

// Open returns an Index over the files in reg using the lookup table at
// tablePath. A missing table file is created by the first build.
func Open(reg *Registry, tablePath string, opts ...Option) (*Index, error) {
	if reg == nil {
		return nil, errors.New("spanindex: registry is nil")
	}
	x := &Index{
		reg:          reg,
		entityColumn: lookup.DefaultEntityColumn,
		interval:     seek.DefaultInterval,
		concurrency:  4,
		files:        make(map[string]*File),
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.sidecars == nil && x.seekDir != "" {
		store, err := seek.NewStore(x.seekDir)
		if err != nil {
			return nil, fmt.Errorf("spanindex: seek dir: %w", err)
		}
		x.sidecars = store
	}
	table, err := lookup.OpenStore(tablePath,
		lookup.WithEntityColumn(x.entityColumn),
		lookup.WithLogger(x.log()),
	)
	if err != nil {
		return nil, fmt.Errorf("spanindex: %w", err)
	}
	x.table = table
	x.log().Debug("index opened", "files", reg.Len(), "table", tablePath, "entities", table.Snapshot().Len())
	return x, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (x *Index) log() *slog.Logger {
	if x.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return x.logger
}

// Registry returns the registry the index was opened with.
func (x *Index) Registry() *Registry {
	return x.reg
}

// Table returns the current lookup table snapshot.
func (x *Index) Table() *lookup.Table {
	return x.table.Snapshot()
}

// Reload replaces the current lookup table with the content of the table
// file. A missing file yields an empty table.
func (x *Index) Reload() error {
	if err := x.table.Reload(); err != nil {
		return fmt.Errorf("spanindex: %w", err)
	}
	return nil
}

// Stats returns the index counters.
func (x *Index) Stats() *Stats {
	return &x.stats
}

// BlockCache returns the configured block cache, or nil.
func (x *Index) BlockCache() cache.BlockCache {
	return x.blocks
}

// Builder returns a Builder writing to this index.
func (x *Index) Builder() *Builder {
	return &Builder{x: x}
}

// Retriever returns a Retriever reading from this index.
func (x *Index) Retriever() *Retriever {
	return &Retriever{x: x}
}

// Aggregator returns an Aggregator over every registered file.
func (x *Index) Aggregator() *Aggregator {
	return &Aggregator{r: x.Retriever(), concurrency: x.concurrency}
}

// Build indexes fileID, or every registered file when fileID is AllFiles.
func (x *Index) Build(ctx context.Context, fileID string) (BuildStats, error) {
	if fileID == AllFiles {
		return x.Builder().BuildAll(ctx)
	}
	return x.Builder().Build(ctx, fileID)
}

// Lookup returns the rows of entityID in fileID, or in every registered file
// when fileID is AllFiles.
//
// For a single file, errors are returned directly. For AllFiles, files that
// cannot be read are reported in Result.Skipped.
func (x *Index) Lookup(ctx context.Context, entityID int64, fileID string) (*Result, error) {
	if fileID == AllFiles {
		return x.Aggregator().GetAllData(ctx, entityID)
	}
	rows, err := x.Retriever().Search(ctx, fileID, entityID)
	if err != nil {
		return nil, err
	}
	res := newResult(entityID, []string{fileID})
	if rows.Len() > 0 {
		res.Files[fileID] = rows
	}
	return res, nil
}

// file returns the shared handle for id, opening it on first use.
func (x *Index) file(ctx context.Context, id string) (*File, error) {
	spec, err := x.reg.Lookup(id)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil, errIndexClosed
	}
	if f, ok := x.files[id]; ok {
		x.mu.Unlock()
		return f, nil
	}
	x.mu.Unlock()

	v, err, _ := x.opening.Do(id, func() (any, error) {
		x.mu.Lock()
		f, ok := x.files[id]
		x.mu.Unlock()
		if ok {
			return f, nil
		}
		f, err := x.openFile(ctx, spec)
		if err != nil {
			return nil, err
		}
		if err := x.install(f); err != nil {
			return nil, err
		}
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*File), nil
}

// install publishes f as the shared handle for its file id.
// A replaced handle stays open until Close since readers may still hold it.
func (x *Index) install(f *File) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		f.Close()
		return errIndexClosed
	}
	if old, ok := x.files[f.spec.ID]; ok && old != f {
		x.retired = append(x.retired, old)
	}
	x.files[f.spec.ID] = f
	return nil
}

var errIndexClosed = errors.New("spanindex: index is closed")

// Close closes every open file. The index must not be used afterwards.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true

	var err error
	for _, id := range x.reg.IDs() {
		if f, ok := x.files[id]; ok {
			err = multierr.Append(err, f.Close())
		}
	}
	for _, f := range x.retired {
		err = multierr.Append(err, f.Close())
	}
	x.files = nil
	x.retired = nil
	return err
}
