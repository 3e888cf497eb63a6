package spanindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/spanindex/internal/csvscan"
	"github.com/meigma/spanindex/seek"
	"github.com/meigma/spanindex/source"
)

// File is an open registered file.
//
// A File is safe for concurrent use. Its seek index is loaded or built on
// first use and shared by all readers.
type File struct {
	spec      FileSpec
	raw       source.ReadCloser
	src       seek.Source
	codec     seek.Codec
	header    []string
	headerLen int64
	entityIdx int

	interval int64
	sidecars *seek.Store
	stats    *Stats
	logger   *slog.Logger

	indexing singleflight.Group
	mu       sync.RWMutex
	reader   *seek.Reader
}

// openFile opens the source for spec and reads its header.
func (x *Index) openFile(ctx context.Context, spec FileSpec) (*File, error) {
	raw, err := source.Open(ctx, spec.Path, x.sourceOpts)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: file %q at %s", ErrNotFound, spec.ID, spec.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", spec.ID, err)
	}

	f := &File{
		spec:     spec,
		raw:      raw,
		src:      raw,
		interval: x.interval,
		sidecars: x.sidecars,
		stats:    &x.stats,
		logger:   x.log().With("file", spec.ID),
	}
	if err := f.init(x); err != nil {
		raw.Close()
		return nil, err
	}
	return f, nil
}

func (f *File) init(x *Index) error {
	if _, local := f.raw.(*source.File); !local && x.blocks != nil {
		wrapped, err := x.blocks.Wrap(f.raw)
		if err != nil {
			return fmt.Errorf("%s: block cache: %w", f.spec.ID, err)
		}
		f.src = wrapped
	}

	var err error
	switch f.spec.Codec {
	case CodecAuto:
		f.codec, err = seek.Detect(f.src)
	default:
		f.codec, err = seek.CodecByName(f.spec.Codec)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", f.spec.ID, err)
	}

	rc, err := seek.OpenStream(f.src, f.codec)
	if err != nil {
		return fmt.Errorf("%s: %w", f.spec.ID, err)
	}
	defer rc.Close()
	f.header, f.headerLen, err = csvscan.ReadHeader(rc)
	if err != nil {
		return fmt.Errorf("%s: header: %w", f.spec.ID, err)
	}

	idx, ok := csvscan.Column(f.header, f.spec.EntityColumn)
	if !ok {
		return fmt.Errorf("%w: %s has no entity column %q", ErrUnknownColumn, f.spec.ID, f.spec.EntityColumn)
	}
	f.entityIdx = idx
	return nil
}

// ID returns the registered file id.
func (f *File) ID() string {
	return f.spec.ID
}

// Spec returns the registry entry of the file.
func (f *File) Spec() FileSpec {
	return f.spec
}

// Header returns the column names of the file.
func (f *File) Header() []string {
	return append([]string(nil), f.header...)
}

// Codec returns the name of the file's compression codec.
func (f *File) Codec() string {
	return f.codec.Name()
}

// SeekIndex returns the file's seek index, loading it from the sidecar
// store or building it on first use.
func (f *File) SeekIndex(ctx context.Context) (*seek.Index, error) {
	r, err := f.seekReader(ctx)
	if err != nil {
		return nil, err
	}
	return r.Index(), nil
}

// ReadRange returns the decompressed bytes in [start, end).
func (f *File) ReadRange(ctx context.Context, start, end int64) ([]byte, seek.ReadStats, error) {
	r, err := f.seekReader(ctx)
	if err != nil {
		return nil, seek.ReadStats{}, err
	}
	data, stats, err := r.ReadRange(ctx, start, end)
	if err != nil {
		return nil, stats, fmt.Errorf("%s: %w", f.spec.ID, err)
	}
	f.stats.recordRead(stats)
	f.logger.Debug("range read",
		"start", start,
		"end", end,
		"checkpoint", stats.Checkpoint.DecompressedOffset,
		"discarded", stats.Discarded,
		"compressed", stats.CompressedRead,
	)
	return data, stats, nil
}

// stream returns the decompressed content from the first data row.
func (f *File) stream() (io.ReadCloser, error) {
	rc, err := seek.OpenStream(f.src, f.codec)
	if err != nil {
		return nil, err
	}
	if _, err := io.CopyN(io.Discard, rc, f.headerLen); err != nil {
		rc.Close()
		return nil, fmt.Errorf("%s: skip header: %w", f.spec.ID, err)
	}
	return rc, nil
}

func (f *File) seekReader(ctx context.Context) (*seek.Reader, error) {
	f.mu.RLock()
	r := f.reader
	f.mu.RUnlock()
	if r != nil {
		return r, nil
	}

	v, err, _ := f.indexing.Do("seek", func() (any, error) {
		f.mu.RLock()
		r := f.reader
		f.mu.RUnlock()
		if r != nil {
			return r, nil
		}
		idx, err := f.loadOrBuild(ctx)
		if err != nil {
			return nil, err
		}
		return f.setIndex(idx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*seek.Reader), nil
}

func (f *File) loadOrBuild(ctx context.Context) (*seek.Index, error) {
	if f.sidecars != nil {
		idx, err := f.sidecars.Load(f.spec.ID, f.src, f.interval)
		if err == nil {
			f.logger.Debug("seek index loaded", "checkpoints", len(idx.Checkpoints))
			return idx, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Info("rebuilding seek index", "reason", err)
		}
	}

	idx, err := seek.Build(ctx, f.raw, f.codec, seek.WithInterval(f.interval))
	if err != nil {
		return nil, fmt.Errorf("%s: build seek index: %w", f.spec.ID, err)
	}
	f.saveIndex(idx)
	return idx, nil
}

// saveIndex writes idx to the sidecar store, logging failures.
func (f *File) saveIndex(idx *seek.Index) {
	if f.sidecars == nil {
		return
	}
	if err := f.sidecars.Save(f.spec.ID, idx); err != nil {
		f.logger.Warn("saving seek index failed", "error", err)
		return
	}
	f.logger.Debug("seek index saved", "path", f.sidecars.Path(f.spec.ID), "checkpoints", len(idx.Checkpoints))
}

func (f *File) setIndex(idx *seek.Index) (*seek.Reader, error) {
	r, err := seek.NewReader(f.src, idx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.spec.ID, err)
	}
	f.mu.Lock()
	f.reader = r
	f.mu.Unlock()
	return r, nil
}

// Close releases the underlying source.
func (f *File) Close() error {
	return f.raw.Close()
}
