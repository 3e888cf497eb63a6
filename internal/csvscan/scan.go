// Package csvscan splits a decompressed CSV stream into records without
// parsing every field.
//
// A record is one line, or several lines while a quoted field is open.
// Quotes follow encoding/csv with LazyQuotes: a quote opens a quoted field
// only as the first byte of the field, and a quote elsewhere is data.
// Offsets are positions in the decompressed stream, so record boundaries
// can be used directly as byte spans.
package csvscan

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrMalformed is returned for records that cannot be interpreted.
var ErrMalformed = errors.New("csvscan: malformed record")

// Scanner reads records from a CSV stream and tracks their offsets.
type Scanner struct {
	br    *bufio.Reader
	off   int64
	start int64
	rec   []byte
	err   error
}

// NewScanner returns a Scanner reading from r. offset is the stream
// position of the first byte r will return.
func NewScanner(r io.Reader, offset int64) *Scanner {
	return &Scanner{br: bufio.NewReaderSize(r, 256<<10), off: offset, start: offset}
}

// Scan advances to the next record. It returns false at the end of the
// stream or on error.
func (s *Scanner) Scan() bool {
	if s.err != nil {
		return false
	}
	s.rec = s.rec[:0]
	s.start = s.off
	for {
		line, err := s.br.ReadSlice('\n')
		s.rec = append(s.rec, line...)
		s.off += int64(len(line))
		switch {
		case err == nil:
			if !quoteOpen(s.rec) {
				return true
			}
		case errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF):
			s.err = io.EOF
			return len(s.rec) > 0
		default:
			s.err = err
			return false
		}
	}
}

// quoteOpen reports whether rec ends inside a quoted field.
func quoteOpen(rec []byte) bool {
	inQuotes, fieldStart := false, true
	for i := 0; i < len(rec); i++ {
		c := rec[i]
		if inQuotes {
			if c != '"' {
				continue
			}
			switch {
			case i+1 < len(rec) && rec[i+1] == '"':
				i++
			case i+1 == len(rec), closesQuote(rec[i+1]):
				inQuotes = false
			}
			continue
		}
		switch c {
		case ',', '\n':
			fieldStart = true
			continue
		case '"':
			inQuotes = fieldStart
		}
		fieldStart = false
	}
	return inQuotes
}

// closesQuote reports whether a quote followed by c ends a quoted field.
// Any other quote inside a quoted field is kept as data.
func closesQuote(c byte) bool {
	return c == ',' || c == '\n' || c == '\r'
}

// Record returns the current record including its line terminator.
// The slice is only valid until the next call to Scan.
func (s *Scanner) Record() []byte {
	return s.rec
}

// Offset returns the stream position of the current record.
func (s *Scanner) Offset() int64 {
	return s.start
}

// End returns the stream position just past the current record.
func (s *Scanner) End() int64 {
	return s.off
}

// Err returns the first non-EOF error encountered.
func (s *Scanner) Err() error {
	if errors.Is(s.err, io.EOF) {
		return nil
	}
	return s.err
}

// Field returns the raw bytes of field idx in rec, stopping as soon as that
// field is found. Commas inside a quoted field do not split fields.
func Field(rec []byte, idx int) ([]byte, bool) {
	rec = bytes.TrimRight(rec, "\r\n")
	field, start := 0, 0
	inQuotes := false
	for i := 0; i < len(rec); i++ {
		c := rec[i]
		if inQuotes {
			if c != '"' {
				continue
			}
			switch {
			case i+1 < len(rec) && rec[i+1] == '"':
				i++
			case i+1 == len(rec), closesQuote(rec[i+1]):
				inQuotes = false
			}
			continue
		}
		switch {
		case c == '"' && i == start:
			inQuotes = true
		case c == ',':
			if field == idx {
				return rec[start:i], true
			}
			field++
			start = i + 1
		}
	}
	if field == idx {
		return rec[start:], true
	}
	return nil, false
}

// ParseEntity parses an entity id field, tolerating surrounding spaces and quotes.
func ParseEntity(field []byte) (int64, error) {
	v := bytes.TrimSpace(field)
	v = bytes.TrimSpace(bytes.Trim(v, `"`))
	id, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: entity %q", ErrMalformed, field)
	}
	return id, nil
}

// IsBlank reports whether rec holds no data.
func IsBlank(rec []byte) bool {
	return len(bytes.TrimSpace(rec)) == 0
}

// ParseHeader parses a header record into column names.
func ParseHeader(rec []byte) ([]string, error) {
	rows, err := ParseRows(rec, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("%w: header has %d records", ErrMalformed, len(rows))
	}
	return rows[0], nil
}

// ReadHeader reads the first record of r and returns the column names and
// the byte length of the header record.
func ReadHeader(r io.Reader) ([]string, int64, error) {
	s := NewScanner(r, 0)
	if !s.Scan() {
		if err := s.Err(); err != nil {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%w: missing header", ErrMalformed)
	}
	cols, err := ParseHeader(s.Record())
	if err != nil {
		return nil, 0, err
	}
	return cols, s.End(), nil
}

// ParseRows parses complete CSV records. Every row must have fields
// columns when fields > 0.
func ParseRows(data []byte, fields int) ([][]string, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = fields
	if fields == 0 {
		cr.FieldsPerRecord = -1
	}
	cr.LazyQuotes = true
	var rows [][]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		rows = append(rows, row)
	}
}

// Column returns the position of name in header.
func Column(header []string, name string) (int, bool) {
	for i, h := range header {
		if h == name {
			return i, true
		}
	}
	return -1, false
}
