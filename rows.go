package spanindex

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/meigma/spanindex/internal/csvscan"
	"github.com/meigma/spanindex/seek"
)

// Rows is a set of records read from one file, with the file's header.
type Rows struct {
	header  []string
	records [][]string
	stats   seek.ReadStats
}

func newRows(header []string, records [][]string) *Rows {
	return &Rows{header: header, records: records}
}

// Header returns the column names.
func (r *Rows) Header() []string {
	return append([]string(nil), r.header...)
}

// Len returns the number of records.
func (r *Rows) Len() int {
	return len(r.records)
}

// Records returns the records. Callers must not modify them.
func (r *Rows) Records() [][]string {
	return r.records
}

// Column returns the position of name in the header.
func (r *Rows) Column(name string) (int, error) {
	i, ok := csvscan.Column(r.header, name)
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	return i, nil
}

// Values returns the values of column name, one per record.
// Records too short to hold the column yield an empty string.
func (r *Rows) Values(name string) ([]string, error) {
	i, err := r.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(r.records))
	for n, rec := range r.records {
		if i < len(rec) {
			out[n] = rec[i]
		}
	}
	return out, nil
}

// Filter returns the records whose column equals value.
// See FilterByColumn for the equality rule.
func (r *Rows) Filter(column, value string) (*Rows, error) {
	i, err := r.Column(column)
	if err != nil {
		return nil, err
	}
	m := newMatcher(value)
	var out [][]string
	for _, rec := range r.records {
		if i < len(rec) && m.match(rec[i]) {
			out = append(out, rec)
		}
	}
	return &Rows{header: r.header, records: out, stats: r.stats}, nil
}

// ReadStats returns the cost of the range read that produced the rows.
// It is zero for rows produced by a full scan.
func (r *Rows) ReadStats() seek.ReadStats {
	return r.stats
}

// WriteCSV writes the header and records to w.
func (r *Rows) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(r.header); err != nil {
		return err
	}
	if err := cw.WriteAll(r.records); err != nil {
		return err
	}
	return cw.Error()
}

// matcher compares cells with a value by exact string, or numerically when
// both parse as numbers.
type matcher struct {
	value   string
	num     float64
	numeric bool
}

func newMatcher(value string) matcher {
	m := matcher{value: value}
	if v, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		m.num, m.numeric = v, true
	}
	return m
}

func (m matcher) match(cell string) bool {
	if cell == m.value {
		return true
	}
	if !m.numeric {
		return false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	return err == nil && v == m.num
}
