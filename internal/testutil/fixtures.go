package testutil

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// CSVConfig describes a synthetic CSV file sorted by its entity column.
type CSVConfig struct {
	// EntityColumn names the sort column. Defaults to "subject_id".
	EntityColumn string

	// Entities lists the entity ids in file order.
	Entities []int64

	// RowsPerEntity is the number of rows written for each entity.
	RowsPerEntity int

	// EntityIndex is the position of the entity column. Defaults to 0.
	EntityIndex int

	// Seed makes the value columns deterministic.
	Seed uint64

	// Quoted wraps the label column in quotes containing commas and newlines.
	Quoted bool
}

// Header returns the header columns produced by GenerateCSV.
func (c CSVConfig) Header() []string {
	cols := []string{"value", "label", "code"}
	entity := c.EntityColumn
	if entity == "" {
		entity = "subject_id"
	}
	idx := min(max(c.EntityIndex, 0), len(cols))
	out := make([]string, 0, len(cols)+1)
	out = append(out, cols[:idx]...)
	out = append(out, entity)
	out = append(out, cols[idx:]...)
	return out
}

// GenerateCSV renders the configured CSV file with a header line.
// Row i of entity e has value "<e>.<i>" and code "c<i%3>".
func GenerateCSV(c CSVConfig) []byte {
	rng := rand.New(rand.NewPCG(c.Seed, c.Seed^0x9e3779b97f4a7c15)) //nolint:gosec // test data
	header := c.Header()
	idx := min(max(c.EntityIndex, 0), len(header)-1)

	var buf bytes.Buffer
	buf.WriteString(strings.Join(header, ","))
	buf.WriteByte('\n')
	for _, e := range c.Entities {
		for i := range c.RowsPerEntity {
			label := fmt.Sprintf("lbl%d", rng.IntN(1000))
			if c.Quoted {
				label = fmt.Sprintf("\"%s, multi\nline\"", label)
			}
			cols := []string{fmt.Sprintf("%d.%d", e, i), label, fmt.Sprintf("c%d", i%3)}
			row := make([]string, 0, len(cols)+1)
			row = append(row, cols[:idx]...)
			row = append(row, fmt.Sprintf("%d", e))
			row = append(row, cols[idx:]...)
			buf.WriteString(strings.Join(row, ","))
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// Sequence returns the ids first, first+1, ..., first+n-1.
func Sequence(first int64, n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = first + int64(i)
	}
	return ids
}

// SplitUnits splits data into chunks of roughly size bytes.
// Chunks do not respect line boundaries.
func SplitUnits(data []byte, size int) [][]byte {
	if size <= 0 {
		size = len(data)
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := min(size, len(data))
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

// GzipMembers compresses each chunk as an independent gzip member and
// concatenates the members.
func GzipMembers(tb testing.TB, chunks [][]byte) []byte {
	tb.Helper()
	var buf bytes.Buffer
	for _, chunk := range chunks {
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(chunk); err != nil {
			tb.Fatalf("gzip write: %v", err)
		}
		if err := zw.Close(); err != nil {
			tb.Fatalf("gzip close: %v", err)
		}
	}
	return buf.Bytes()
}

// ZstdFrames compresses each chunk as an independent zstd frame and
// concatenates the frames.
func ZstdFrames(tb testing.TB, chunks [][]byte) []byte {
	tb.Helper()
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		tb.Fatalf("zstd encoder: %v", err)
	}
	defer enc.Close()
	var out []byte
	for _, chunk := range chunks {
		out = enc.EncodeAll(chunk, out)
	}
	return out
}

// WriteFile writes data to name under dir and returns the path.
func WriteFile(tb testing.TB, dir, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}
