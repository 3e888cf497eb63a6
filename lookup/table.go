package lookup

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

const (
	startSuffix = "_byteidx_start"
	endSuffix   = "_byteidx_end"
)

var (
	// ErrNotIndexed is returned when a file has no columns in the table.
	ErrNotIndexed = errors.New("lookup: file not indexed")

	// ErrUnknownEntity is returned when an entity has no span for a file.
	ErrUnknownEntity = errors.New("lookup: unknown entity")

	// ErrMalformed is returned when a persisted table cannot be parsed.
	ErrMalformed = errors.New("lookup: malformed table")
)

// Span is a half-open range [Start, End) of decompressed stream offsets.
type Span struct {
	Start int64
	End   int64
}

var noSpan = Span{Start: -1, End: -1}

// Len returns the number of bytes in the span.
func (s Span) Len() int64 {
	return s.End - s.Start
}

// Valid reports whether the span holds at least one byte.
func (s Span) Valid() bool {
	return s.Start >= 0 && s.End > s.Start
}

// String formats the span as [start, end).
func (s Span) String() string {
	return fmt.Sprintf("[%d, %d)", s.Start, s.End)
}

// EntitySpan pairs an entity id with its span in one file.
type EntitySpan struct {
	EntityID int64
	Span     Span
}

// StartColumn returns the span start column name for fileID.
func StartColumn(fileID string) string { return fileID + startSuffix }

// EndColumn returns the span end column name for fileID.
func EndColumn(fileID string) string { return fileID + endSuffix }

// Table maps entity ids to per-file spans.
//
// A Table is never modified after construction; methods that change content
// return a new Table. Tables are safe for concurrent reads.
type Table struct {
	entityColumn string

	// header holds every column in persisted order.
	header []string

	// ids is sorted ascending; spans and extras are aligned with it.
	ids    []int64
	spans  map[string][]Span
	extras map[string][]string
}

// NewTable returns an empty table keyed by entityColumn.
func NewTable(entityColumn string) *Table {
	return &Table{
		entityColumn: entityColumn,
		header:       []string{entityColumn},
		spans:        map[string][]Span{},
		extras:       map[string][]string{},
	}
}

// EntityColumn returns the name of the entity id column.
func (t *Table) EntityColumn() string {
	return t.entityColumn
}

// Header returns the persisted column order.
func (t *Table) Header() []string {
	return slices.Clone(t.header)
}

// Len returns the number of entities in the table.
func (t *Table) Len() int {
	return len(t.ids)
}

// Entities returns all entity ids in ascending order.
func (t *Table) Entities() []int64 {
	return slices.Clone(t.ids)
}

// Files returns the indexed file ids in column order.
func (t *Table) Files() []string {
	var files []string
	for _, col := range t.header {
		if id, ok := strings.CutSuffix(col, startSuffix); ok {
			if _, indexed := t.spans[id]; indexed {
				files = append(files, id)
			}
		}
	}
	return files
}

// Indexed reports whether fileID has span columns in the table.
func (t *Table) Indexed(fileID string) bool {
	_, ok := t.spans[fileID]
	return ok
}

// Has reports whether entityID has a row in the table.
func (t *Table) Has(entityID int64) bool {
	_, ok := t.find(entityID)
	return ok
}

// Span returns the span of entityID in fileID.
// It fails with ErrNotIndexed if the file was never indexed and with
// ErrUnknownEntity if the entity has no row or no span for the file.
func (t *Table) Span(entityID int64, fileID string) (Span, error) {
	col, ok := t.spans[fileID]
	if !ok {
		return Span{}, fmt.Errorf("%w: %s", ErrNotIndexed, fileID)
	}
	i, ok := t.find(entityID)
	if !ok || !col[i].Valid() {
		return Span{}, fmt.Errorf("%w: %d in %s", ErrUnknownEntity, entityID, fileID)
	}
	return col[i], nil
}

// Spans returns every span recorded for entityID, keyed by file id.
func (t *Table) Spans(entityID int64) map[string]Span {
	out := map[string]Span{}
	i, ok := t.find(entityID)
	if !ok {
		return out
	}
	for file, col := range t.spans {
		if col[i].Valid() {
			out[file] = col[i]
		}
	}
	return out
}

// SpansByOffset returns the spans recorded for fileID ordered by start offset.
func (t *Table) SpansByOffset(fileID string) []EntitySpan {
	col := t.spans[fileID]
	out := make([]EntitySpan, 0, len(col))
	for i, s := range col {
		if s.Valid() {
			out = append(out, EntitySpan{EntityID: t.ids[i], Span: s})
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Span.Start < out[b].Span.Start })
	return out
}

// Extra returns the value of a pass-through column for entityID.
func (t *Table) Extra(entityID int64, column string) (string, bool) {
	col, ok := t.extras[column]
	if !ok {
		return "", false
	}
	i, ok := t.find(entityID)
	if !ok {
		return "", false
	}
	return col[i], true
}

func (t *Table) find(entityID int64) (int, bool) {
	i, ok := slices.BinarySearch(t.ids, entityID)
	return i, ok
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := &Table{
		entityColumn: t.entityColumn,
		header:       slices.Clone(t.header),
		ids:          slices.Clone(t.ids),
		spans:        make(map[string][]Span, len(t.spans)),
		extras:       make(map[string][]string, len(t.extras)),
	}
	for k, v := range t.spans {
		c.spans[k] = slices.Clone(v)
	}
	for k, v := range t.extras {
		c.extras[k] = slices.Clone(v)
	}
	return c
}

// ApplyStats counts the effect of ApplySpans.
type ApplyStats struct {
	// Added is the number of entities inserted as new rows.
	Added int

	// Updated is the number of spans that were set or changed.
	Updated int

	// Verified is the number of spans already present and identical.
	Verified int

	// Cleared is the number of stale spans removed for entities no longer in the file.
	Cleared int
}

// ApplySpans returns a new table in which fileID's spans are exactly spans.
//
// Entities missing from the table are inserted and rows stay sorted by id.
// Spans recorded for fileID by entities absent from spans are cleared, so
// rebuilding a file whose content changed leaves no stale spans. Columns for
// a newly indexed file are appended after the existing columns.
func (t *Table) ApplySpans(fileID string, spans map[int64]Span) (*Table, ApplyStats, error) {
	if err := validFileID(fileID); err != nil {
		return nil, ApplyStats{}, err
	}
	for id, s := range spans {
		if !s.Valid() {
			return nil, ApplyStats{}, fmt.Errorf("lookup: invalid span %s for entity %d", s, id)
		}
	}
	var stats ApplyStats

	var added []int64
	for id := range spans {
		if _, ok := t.find(id); !ok {
			added = append(added, id)
		}
	}
	stats.Added = len(added)

	next := t.insert(added)
	if _, ok := next.spans[fileID]; !ok {
		next.header = append(next.header, StartColumn(fileID), EndColumn(fileID))
		next.spans[fileID] = filled(len(next.ids))
	}

	col := next.spans[fileID]
	for i, id := range next.ids {
		s, ok := spans[id]
		switch {
		case ok && col[i] == s:
			stats.Verified++
		case ok:
			col[i] = s
			stats.Updated++
		case col[i].Valid():
			col[i] = noSpan
			stats.Cleared++
		}
	}
	return next, stats, nil
}

// insert returns a clone of t with rows for ids added in sorted position.
func (t *Table) insert(ids []int64) *Table {
	if len(ids) == 0 {
		return t.Clone()
	}
	slices.Sort(ids)
	merged := make([]int64, 0, len(t.ids)+len(ids))
	// from[i] is the old row index for merged[i], or -1 for a new row.
	from := make([]int, 0, cap(merged))
	i, j := 0, 0
	for i < len(t.ids) || j < len(ids) {
		if j == len(ids) || (i < len(t.ids) && t.ids[i] < ids[j]) {
			merged = append(merged, t.ids[i])
			from = append(from, i)
			i++
			continue
		}
		merged = append(merged, ids[j])
		from = append(from, -1)
		j++
	}

	c := &Table{
		entityColumn: t.entityColumn,
		header:       slices.Clone(t.header),
		ids:          merged,
		spans:        make(map[string][]Span, len(t.spans)),
		extras:       make(map[string][]string, len(t.extras)),
	}
	for k, v := range t.spans {
		col := make([]Span, len(merged))
		for n, old := range from {
			if old < 0 {
				col[n] = noSpan
			} else {
				col[n] = v[old]
			}
		}
		c.spans[k] = col
	}
	for k, v := range t.extras {
		col := make([]string, len(merged))
		for n, old := range from {
			if old >= 0 {
				col[n] = v[old]
			}
		}
		c.extras[k] = col
	}
	return c
}

func filled(n int) []Span {
	col := make([]Span, n)
	for i := range col {
		col[i] = noSpan
	}
	return col
}

func validFileID(id string) error {
	if id == "" || strings.ContainsAny(id, ", \t\r\n\"") {
		return fmt.Errorf("lookup: invalid file id %q", id)
	}
	return nil
}
