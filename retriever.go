package spanindex

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/spanindex/internal/csvscan"
	"github.com/meigma/spanindex/internal/sizing"
	"github.com/meigma/spanindex/lookup"
	"github.com/meigma/spanindex/seek"
)

// Retriever reads entity rows from registered files.
type Retriever struct {
	x *Index
}

// Open returns the shared handle for fileID.
// It fails with ErrNotFound for unregistered ids and missing files.
func (r *Retriever) Open(ctx context.Context, fileID string) (*File, error) {
	return r.x.file(ctx, fileID)
}

// Search returns the rows of entityID in fileID.
//
// An entity with no span in the file yields empty rows with the file's
// header and a nil error. A file that was never indexed fails with
// ErrNotIndexed. A span that does not start with a row of entityID fails
// with a *CorruptIndexError.
func (r *Retriever) Search(ctx context.Context, fileID string, entityID int64) (*Rows, error) {
	if _, err := r.x.reg.Lookup(fileID); err != nil {
		return nil, err
	}
	span, spanErr := r.x.table.Snapshot().Span(entityID, fileID)
	if spanErr != nil && !errors.Is(spanErr, ErrUnknownEntity) {
		return nil, spanErr
	}
	f, err := r.x.file(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if spanErr != nil {
		return newRows(f.header, nil), nil
	}
	return r.readSpan(ctx, f, entityID, span, true)
}

// readSpan reads and parses the records in span. With checkFirst set, the
// first record must belong to entityID; otherwise every record must.
func (r *Retriever) readSpan(ctx context.Context, f *File, entityID int64, span lookup.Span, checkFirst bool) (*Rows, error) {
	corrupt := func(reason string) error {
		return &CorruptIndexError{FileID: f.spec.ID, EntityID: entityID, Span: span, Reason: reason}
	}
	if span.Start < f.headerLen {
		return nil, corrupt("span overlaps the header")
	}
	if r.x.maxSpan > 0 && span.Len() > r.x.maxSpan {
		return nil, fmt.Errorf("spanindex: %s: span of entity %d is %d bytes, limit %d", f.spec.ID, entityID, span.Len(), r.x.maxSpan)
	}
	if _, err := sizing.ToInt(span.Len(), fmt.Errorf("spanindex: %s: span %s too large", f.spec.ID, span)); err != nil {
		return nil, err
	}

	data, stats, err := f.ReadRange(ctx, span.Start, span.End)
	if errors.Is(err, seek.ErrOutOfRange) {
		return nil, corrupt("span exceeds the file")
	}
	if err != nil {
		return nil, err
	}
	records, err := csvscan.ParseRows(data, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: entity %d: %w", f.spec.ID, entityID, err)
	}

	var checked int
	for n, rec := range records {
		if f.entityIdx >= len(rec) {
			continue
		}
		id, err := csvscan.ParseEntity([]byte(rec[f.entityIdx]))
		if err != nil || id != entityID {
			return nil, corrupt(fmt.Sprintf("record %d has %s %q", n, f.spec.EntityColumn, rec[f.entityIdx]))
		}
		checked++
		if checkFirst {
			break
		}
	}
	if checked == 0 {
		return nil, corrupt("span holds no rows of the entity")
	}

	rows := newRows(f.header, records)
	rows.stats = stats
	return rows, nil
}

// FilterOption configures FilterByColumn.
type FilterOption func(*filterConfig)

type filterConfig struct {
	entity    int64
	hasEntity bool
}

// WithEntity restricts a filter to the rows of one entity, which are read
// through the lookup table instead of scanning the whole file.
func WithEntity(entityID int64) FilterOption {
	return func(c *filterConfig) {
		c.entity = entityID
		c.hasEntity = true
	}
}

// FilterByColumn returns the records of fileID whose column equals value.
//
// Cells match when they equal value exactly, or when both parse as numbers
// with the same value, so "7" matches "7.0". Without WithEntity the whole
// file is decompressed and scanned.
func (r *Retriever) FilterByColumn(ctx context.Context, fileID, column, value string, opts ...FilterOption) (*Rows, error) {
	var cfg filterConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	f, err := r.x.file(ctx, fileID)
	if err != nil {
		return nil, err
	}
	col, ok := csvscan.Column(f.header, column)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrUnknownColumn, column, fileID)
	}

	if cfg.hasEntity {
		rows, err := r.Search(ctx, fileID, cfg.entity)
		if err != nil {
			return nil, err
		}
		return rows.Filter(column, value)
	}
	return r.scanFilter(ctx, f, col, value)
}

func (r *Retriever) scanFilter(ctx context.Context, f *File, col int, value string) (*Rows, error) {
	rc, err := f.stream()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	r.x.stats.fullScans.Add(1)
	r.x.log().Debug("scanning file for column filter", "file", f.spec.ID, "column", f.header[col])

	cr := csv.NewReader(rc)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	m := newMatcher(value)
	var out [][]string
	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, fmt.Errorf("%s: %w: %v", f.spec.ID, ErrMalformedRow, err)
			}
			return nil, fmt.Errorf("%s: %w", f.spec.ID, err)
		}
		if col < len(rec) && m.match(rec[col]) {
			out = append(out, append([]string(nil), rec...))
		}
	}
	return newRows(f.header, out), nil
}
