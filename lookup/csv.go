package lookup

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Read parses a persisted table. entityColumn names the id column; when
// empty, the first column is used. Rows need not be sorted.
func Read(r io.Reader, entityColumn string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: missing header", ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	header = slices.Clone(header)
	if entityColumn == "" {
		entityColumn = header[0]
	}

	layout, err := parseLayout(header, entityColumn)
	if err != nil {
		return nil, err
	}

	type row struct {
		id     int64
		spans  []Span
		extras []string
	}
	var rows []row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rec[layout.entity]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: entity %q", ErrMalformed, line, rec[layout.entity])
		}
		r := row{id: id, spans: make([]Span, len(layout.files)), extras: make([]string, len(layout.extras))}
		for i, f := range layout.files {
			s, err := parseSpan(rec[f.start], rec[f.end])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %s: %v", ErrMalformed, line, f.id, err)
			}
			r.spans[i] = s
		}
		for i, col := range layout.extras {
			r.extras[i] = rec[col]
		}
		rows = append(rows, r)
	}

	slices.SortFunc(rows, func(a, b row) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})

	t := &Table{
		entityColumn: entityColumn,
		header:       header,
		ids:          make([]int64, len(rows)),
		spans:        make(map[string][]Span, len(layout.files)),
		extras:       make(map[string][]string, len(layout.extras)),
	}
	for i, f := range layout.files {
		col := make([]Span, len(rows))
		for n := range rows {
			col[n] = rows[n].spans[i]
		}
		t.spans[f.id] = col
	}
	for i, c := range layout.extras {
		col := make([]string, len(rows))
		for n := range rows {
			col[n] = rows[n].extras[i]
		}
		t.extras[header[c]] = col
	}
	for n, r := range rows {
		if n > 0 && rows[n-1].id == r.id {
			return nil, fmt.Errorf("%w: duplicate entity %d", ErrMalformed, r.id)
		}
		t.ids[n] = r.id
	}
	return t, nil
}

type fileColumns struct {
	id         string
	start, end int
}

type layout struct {
	entity int
	files  []fileColumns
	extras []int
}

func parseLayout(header []string, entityColumn string) (layout, error) {
	l := layout{entity: -1}
	pos := make(map[string]int, len(header))
	for i, col := range header {
		if _, dup := pos[col]; dup {
			return l, fmt.Errorf("%w: duplicate column %q", ErrMalformed, col)
		}
		pos[col] = i
	}

	used := make([]bool, len(header))
	if i, ok := pos[entityColumn]; ok {
		l.entity = i
		used[i] = true
	} else {
		return l, fmt.Errorf("%w: entity column %q not in header", ErrMalformed, entityColumn)
	}
	for i, col := range header {
		id, ok := strings.CutSuffix(col, startSuffix)
		if !ok || used[i] {
			continue
		}
		end, ok := pos[EndColumn(id)]
		if !ok {
			continue
		}
		l.files = append(l.files, fileColumns{id: id, start: i, end: end})
		used[i], used[end] = true, true
	}
	for i := range header {
		if !used[i] {
			l.extras = append(l.extras, i)
		}
	}
	return l, nil
}

func parseSpan(start, end string) (Span, error) {
	s, okS, err := parseOffset(start)
	if err != nil {
		return noSpan, err
	}
	e, okE, err := parseOffset(end)
	if err != nil {
		return noSpan, err
	}
	switch {
	case !okS && !okE:
		return noSpan, nil
	case okS != okE:
		return noSpan, fmt.Errorf("half-empty span %q, %q", start, end)
	case e <= s:
		return noSpan, fmt.Errorf("empty span [%d, %d)", s, e)
	}
	return Span{Start: s, End: e}, nil
}

// parseOffset parses one span cell. Empty cells and -1 mean no span.
// Integral floats such as "1024.0" are accepted.
func parseOffset(cell string) (int64, bool, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(cell, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(cell, 64)
		if ferr != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return 0, false, fmt.Errorf("bad offset %q", cell)
		}
		v = int64(f)
	}
	switch {
	case v == -1:
		return 0, false, nil
	case v < 0:
		return 0, false, fmt.Errorf("negative offset %d", v)
	}
	return v, true, nil
}

// Write persists the table as CSV in header order with rows sorted by id.
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.header); err != nil {
		return err
	}

	type cell func(i int) string
	cells := make([]cell, len(t.header))
	for c, name := range t.header {
		cells[c] = t.cellFunc(name)
	}

	rec := make([]string, len(t.header))
	for i := range t.ids {
		for c, f := range cells {
			rec[c] = f(i)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (t *Table) cellFunc(name string) func(int) string {
	if name == t.entityColumn {
		return func(i int) string { return strconv.FormatInt(t.ids[i], 10) }
	}
	if id, ok := strings.CutSuffix(name, startSuffix); ok {
		if col, indexed := t.spans[id]; indexed {
			return func(i int) string { return formatOffset(col[i].Valid(), col[i].Start) }
		}
	}
	if id, ok := strings.CutSuffix(name, endSuffix); ok {
		if col, indexed := t.spans[id]; indexed {
			return func(i int) string { return formatOffset(col[i].Valid(), col[i].End) }
		}
	}
	col := t.extras[name]
	return func(i int) string {
		if col == nil {
			return ""
		}
		return col[i]
	}
}

func formatOffset(valid bool, v int64) string {
	if !valid {
		return ""
	}
	return strconv.FormatInt(v, 10)
}
