package spanindex_test

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meigma/spanindex"
	"github.com/meigma/spanindex/internal/testutil"
)

const (
	testUnitSize = 1 << 10
	testInterval = 4 << 10
)

// compress encodes plain as a block-addressable stream of testUnitSize units.
func compress(tb testing.TB, codec string, plain []byte) []byte {
	tb.Helper()
	chunks := testutil.SplitUnits(plain, testUnitSize)
	switch codec {
	case spanindex.CodecGzip:
		return testutil.GzipMembers(tb, chunks)
	case spanindex.CodecZstd:
		return testutil.ZstdFrames(tb, chunks)
	default:
		tb.Fatalf("unknown codec %q", codec)
		return nil
	}
}

// writeCompressed writes plain compressed with codec to dir and returns its path.
func writeCompressed(tb testing.TB, dir, name, codec string, plain []byte) string {
	tb.Helper()
	return testutil.WriteFile(tb, dir, name, compress(tb, codec, plain))
}

func openIndex(tb testing.TB, dir string, reg *spanindex.Registry, opts ...spanindex.Option) *spanindex.Index {
	tb.Helper()
	base := []spanindex.Option{
		spanindex.WithSeekDir(filepath.Join(dir, "seek")),
		spanindex.WithInterval(testInterval),
	}
	x, err := spanindex.Open(reg, filepath.Join(dir, "lookup.csv"), append(base, opts...)...)
	require.NoError(tb, err)
	tb.Cleanup(func() { x.Close() })
	return x
}

func newRegistry(tb testing.TB, specs ...spanindex.FileSpec) *spanindex.Registry {
	tb.Helper()
	reg, err := spanindex.NewRegistry(specs...)
	require.NoError(tb, err)
	return reg
}

// parseCSV splits plain into its header and records.
func parseCSV(tb testing.TB, plain []byte) ([]string, [][]string) {
	tb.Helper()
	cr := csv.NewReader(bytes.NewReader(plain))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	require.NoError(tb, err)
	require.NotEmpty(tb, records)
	return records[0], records[1:]
}

// recordsByEntity groups records by the value of column idx.
func recordsByEntity(tb testing.TB, records [][]string, idx int) map[int64][][]string {
	tb.Helper()
	out := make(map[int64][][]string)
	for _, rec := range records {
		id, err := strconv.ParseInt(rec[idx], 10, 64)
		require.NoError(tb, err)
		out[id] = append(out[id], rec)
	}
	return out
}
