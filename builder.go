package spanindex

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/spanindex/internal/csvscan"
	"github.com/meigma/spanindex/lookup"
	"github.com/meigma/spanindex/seek"
)

// Builder scans registered files and records entity spans in the lookup table.
type Builder struct {
	x *Index
}

// BuildStats summarizes one or more file builds.
type BuildStats struct {
	// Files is the number of files indexed successfully.
	Files int

	// Entities is the number of entity spans found.
	Entities int

	// Added is the number of entities inserted into the table as new rows.
	Added int

	// Updated is the number of spans set or changed.
	Updated int

	// Verified is the number of spans that were already recorded unchanged.
	Verified int

	// Cleared is the number of spans removed for entities no longer in a file.
	Cleared int

	// Bytes is the number of decompressed bytes scanned.
	Bytes int64

	// CompressedBytes is the size of the compressed input.
	CompressedBytes int64

	// Checkpoints is the number of seek checkpoints recorded.
	Checkpoints int

	// Duration is the wall time of the build.
	Duration time.Duration
}

func (s *BuildStats) add(o BuildStats) {
	s.Files += o.Files
	s.Entities += o.Entities
	s.Added += o.Added
	s.Updated += o.Updated
	s.Verified += o.Verified
	s.Cleared += o.Cleared
	s.Bytes += o.Bytes
	s.CompressedBytes += o.CompressedBytes
	s.Checkpoints += o.Checkpoints
}

// scanResult is the output of one pass over a file.
type scanResult struct {
	spans map[int64]lookup.Span
	index *seek.Index
}

// Build scans fileID once, building its seek index and entity spans, and
// publishes the spans to the lookup table.
//
// The file must hold each entity's rows contiguously; otherwise Build fails
// with an *UnsortedInputError. After the spans are applied, the first,
// middle and last entity of the file are read back through the new table.
// If any check fails the build fails with a *CorruptIndexError and the
// previous table stays in place.
func (b *Builder) Build(ctx context.Context, fileID string) (BuildStats, error) {
	return b.buildFile(ctx, fileID, 1, func() int { return 1 })
}

// buildFile builds one file. done returns the number of files finished,
// including this one, once the build completes.
func (b *Builder) buildFile(ctx context.Context, fileID string, total int, done func() int) (BuildStats, error) {
	start := time.Now()
	stats, err := b.build(ctx, fileID, total)
	stats.Duration = time.Since(start)
	b.x.stats.recordBuild(stats.Bytes, err)
	b.x.reportProgress(ProgressEvent{
		Stage:      StageDone,
		FileID:     fileID,
		BytesDone:  stats.Bytes,
		FilesDone:  done(),
		FilesTotal: total,
	})
	if err != nil {
		b.x.log().Error("build failed", "file", fileID, "error", err)
		return stats, err
	}
	b.x.log().Info("file indexed",
		"file", fileID,
		"entities", stats.Entities,
		"added", stats.Added,
		"updated", stats.Updated,
		"verified", stats.Verified,
		"cleared", stats.Cleared,
		"checkpoints", stats.Checkpoints,
		"duration", stats.Duration,
	)
	return stats, nil
}

func (b *Builder) build(ctx context.Context, fileID string, total int) (BuildStats, error) {
	spec, err := b.x.reg.Lookup(fileID)
	if err != nil {
		return BuildStats{}, err
	}
	// A fresh handle picks up a file that changed since it was first opened.
	f, err := b.x.openFile(ctx, spec)
	if err != nil {
		return BuildStats{}, err
	}
	installed := false
	defer func() {
		if !installed {
			f.Close()
		}
	}()

	res, err := b.scan(ctx, f, total)
	if err != nil {
		return BuildStats{}, err
	}
	if _, err := f.setIndex(res.index); err != nil {
		return BuildStats{}, err
	}
	f.saveIndex(res.index)

	verify := b.verifyBuild
	if b.x.verify != nil {
		verify = b.x.verify
	}
	stats := BuildStats{
		Entities:        len(res.spans),
		Bytes:           res.index.DecompressedSize,
		CompressedBytes: res.index.SourceSize,
		Checkpoints:     len(res.index.Checkpoints),
	}
	_, err = b.x.table.Update(func(t *lookup.Table) (*lookup.Table, error) {
		next, applied, err := t.ApplySpans(fileID, res.spans)
		if err != nil {
			return nil, err
		}
		b.x.reportProgress(ProgressEvent{Stage: StageVerifying, FileID: fileID, BytesDone: stats.Bytes, FilesTotal: total})
		if err := verify(ctx, next, f); err != nil {
			return nil, err
		}
		stats.Added = applied.Added
		stats.Updated = applied.Updated
		stats.Verified = applied.Verified
		stats.Cleared = applied.Cleared
		return next, nil
	})
	if err != nil {
		return BuildStats{}, err
	}

	if err := b.x.install(f); err != nil {
		return BuildStats{}, err
	}
	installed = true
	stats.Files = 1
	return stats, nil
}

// scan decompresses f from the start, recording checkpoints and the span of
// every entity in a single pass.
func (b *Builder) scan(ctx context.Context, f *File, total int) (*scanResult, error) {
	ss := seek.NewScanner(f.raw, f.codec, seek.WithInterval(f.interval))
	rs := csvscan.NewScanner(ss, 0)
	if !rs.Scan() {
		if err := rs.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", f.spec.ID, err)
		}
		return nil, fmt.Errorf("%s: %w: missing header", f.spec.ID, ErrMalformedRow)
	}

	var (
		spans    = make(map[int64]lookup.Span)
		closed   = roaring64.New()
		cur      int64
		curStart int64
		open     bool
		reported int64
	)
	for n := 0; rs.Scan(); n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if off := rs.Offset(); off-reported >= progressStep {
				reported = off
				b.x.reportProgress(ProgressEvent{Stage: StageScanning, FileID: f.spec.ID, BytesDone: off, FilesTotal: total})
			}
		}
		rec := rs.Record()
		if csvscan.IsBlank(rec) {
			continue
		}
		field, ok := csvscan.Field(rec, f.entityIdx)
		if !ok {
			continue
		}
		id, err := csvscan.ParseEntity(field)
		if err != nil {
			return nil, fmt.Errorf("%s: record at offset %d: %w", f.spec.ID, rs.Offset(), err)
		}
		if open && id == cur {
			continue
		}
		if closed.Contains(uint64(id)) {
			return nil, &UnsortedInputError{
				FileID:      f.spec.ID,
				EntityID:    id,
				FirstOffset: spans[id].Start,
				Offset:      rs.Offset(),
			}
		}
		if open {
			spans[cur] = lookup.Span{Start: curStart, End: rs.Offset()}
			closed.Add(uint64(cur))
		}
		cur, curStart, open = id, rs.Offset(), true
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", f.spec.ID, err)
	}
	if open {
		spans[cur] = lookup.Span{Start: curStart, End: ss.Offset()}
	}

	idx, err := ss.Index()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.spec.ID, err)
	}
	return &scanResult{spans: spans, index: idx}, nil
}

// verifyBuild checks the first, middle and last entity of f in table.
func (b *Builder) verifyBuild(ctx context.Context, table *lookup.Table, f *File) error {
	entries := table.SpansByOffset(f.spec.ID)
	if len(entries) == 0 {
		return nil
	}
	picks := []int{0, len(entries) / 2, len(entries) - 1}
	seen := make(map[int]bool, len(picks))
	for _, i := range picks {
		if seen[i] {
			continue
		}
		seen[i] = true
		if err := b.verifySpan(ctx, f, entries[i].EntityID, entries[i].Span); err != nil {
			return err
		}
	}
	return nil
}

// Verify reads entityID from fileID through table and checks that every row
// belongs to the entity and that there is at least one row.
func (b *Builder) Verify(ctx context.Context, table *lookup.Table, fileID string, entityID int64) error {
	if table == nil {
		table = b.x.table.Snapshot()
	}
	if _, err := b.x.reg.Lookup(fileID); err != nil {
		return err
	}
	span, err := table.Span(entityID, fileID)
	if err != nil {
		return err
	}
	f, err := b.x.file(ctx, fileID)
	if err != nil {
		return err
	}
	return b.verifySpan(ctx, f, entityID, span)
}

func (b *Builder) verifySpan(ctx context.Context, f *File, entityID int64, span lookup.Span) error {
	_, err := b.x.Retriever().readSpan(ctx, f, entityID, span, false)
	if err != nil {
		if errors.Is(err, ErrMalformedRow) {
			err = &CorruptIndexError{FileID: f.spec.ID, EntityID: entityID, Span: span, Reason: err.Error()}
		}
		return err
	}
	b.x.log().Debug("span verified", "file", f.spec.ID, "entity", entityID, "span", span.String())
	return nil
}

// BuildAll builds every registered file. Files are scanned concurrently and
// their spans are applied to the table one file at a time. A failing file
// does not stop the others; all failures are returned combined.
func (b *Builder) BuildAll(ctx context.Context) (BuildStats, error) {
	start := time.Now()
	ids := b.x.reg.IDs()
	results := make([]BuildStats, len(ids))
	errs := make([]error, len(ids))

	var finished atomic.Int64
	done := func() int { return int(finished.Add(1)) }

	var g errgroup.Group
	g.SetLimit(b.x.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i], errs[i] = b.buildFile(ctx, id, len(ids), done)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers report through errs

	var total BuildStats
	for _, r := range results {
		total.add(r)
	}
	total.Duration = time.Since(start)
	return total, multierr.Combine(errs...)
}
