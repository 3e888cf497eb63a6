package spanindex_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/meigma/spanindex"
	"github.com/meigma/spanindex/internal/testutil"
	"github.com/meigma/spanindex/lookup"
)

var testCodecs = []string{spanindex.CodecGzip, spanindex.CodecZstd}

func TestBuildRoundTrip(t *testing.T) {
	t.Parallel()

	for _, codec := range testCodecs {
		for _, quoted := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/quoted=%t", codec, quoted), func(t *testing.T) {
				t.Parallel()

				dir := t.TempDir()
				plain := testutil.GenerateCSV(testutil.CSVConfig{
					Entities:      testutil.Sequence(100, 300),
					RowsPerEntity: 4,
					Seed:          3,
					Quoted:        quoted,
				})
				path := writeCompressed(t, dir, "events.csv.gz", codec, plain)
				x := openIndex(t, dir, newRegistry(t, spanindex.FileSpec{ID: "events", Path: path}))

				stats, err := x.Build(context.Background(), "events")
				require.NoError(t, err)
				assert.Equal(t, 1, stats.Files)
				assert.Equal(t, 300, stats.Entities)
				assert.Equal(t, 300, stats.Added)
				assert.Equal(t, 300, stats.Updated)
				assert.Equal(t, int64(len(plain)), stats.Bytes)
				assert.Positive(t, stats.Checkpoints)

				header, want := parseCSV(t, plain)
				byEntity := recordsByEntity(t, want, 0)

				// Rows of all entities, in span order, reconstruct the file.
				var got [][]string
				for _, es := range x.Table().SpansByOffset("events") {
					rows, err := x.Retriever().Search(context.Background(), "events", es.EntityID)
					require.NoError(t, err)
					assert.Equal(t, header, rows.Header())
					assert.Equal(t, byEntity[es.EntityID], rows.Records(), "entity %d", es.EntityID)
					got = append(got, rows.Records()...)
				}
				assert.Equal(t, want, got)
			})
		}
	}
}

func TestBuildBareQuotes(t *testing.T) {
	t.Parallel()

	plain := []byte("subject_id,v\n1,a\n1,b\n2,x\n2,5'10\"\n3,6'1\"\n3,y\n4,\"q \"\"r\"\"\"\n4,z\n5,w\n")
	_, want := parseCSV(t, plain)
	byEntity := recordsByEntity(t, want, 0)

	for _, codec := range testCodecs {
		t.Run(codec, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			path := writeCompressed(t, dir, "heights.csv", codec, plain)
			x := openIndex(t, dir, newRegistry(t, spanindex.FileSpec{ID: "heights", Path: path}))

			stats, err := x.Build(context.Background(), "heights")
			require.NoError(t, err)
			assert.Equal(t, 5, stats.Entities)

			var got [][]string
			for id := int64(1); id <= 5; id++ {
				rows, err := x.Retriever().Search(context.Background(), "heights", id)
				require.NoError(t, err)
				assert.Equal(t, byEntity[id], rows.Records(), "entity %d", id)
				got = append(got, rows.Records()...)
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestBuildScenario(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var sb strings.Builder
	sb.WriteString("subject_id,row,code\n")
	for i := range 150 {
		entity := 1
		if i >= 100 {
			entity = 2
		}
		fmt.Fprintf(&sb, "%d,%03d,c\n", entity, i)
	}
	plain := []byte(sb.String())
	path := writeCompressed(t, dir, "f.csv.zst", spanindex.CodecZstd, plain)
	x := openIndex(t, dir, newRegistry(t, spanindex.FileSpec{ID: "f", Path: path}))

	stats, err := x.Build(context.Background(), "f")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Added)

	// Header is 20 bytes and every row is 8 bytes.
	table := x.Table()
	assert.Equal(t, []int64{1, 2}, table.Entities())
	span, err := table.Span(1, "f")
	require.NoError(t, err)
	assert.Equal(t, lookup.Span{Start: 20, End: 820}, span)
	span, err = table.Span(2, "f")
	require.NoError(t, err)
	assert.Equal(t, lookup.Span{Start: 820, End: 1220}, span)

	rows, err := x.Retriever().Search(context.Background(), "f", 2)
	require.NoError(t, err)
	require.Equal(t, 50, rows.Len())
	ids, err := rows.Values("subject_id")
	require.NoError(t, err)
	for _, id := range ids {
		assert.Equal(t, "2", id)
	}

	data, err := os.ReadFile(filepath.Join(dir, "lookup.csv"))
	require.NoError(t, err)
	assert.Equal(t, "subject_id,f_byteidx_start,f_byteidx_end\n1,20,820\n2,820,1220\n", string(data))
}

func TestBuildIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	plain := testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(1, 200), RowsPerEntity: 3, Seed: 1})
	path := writeCompressed(t, dir, "a.csv.gz", spanindex.CodecGzip, plain)
	x := openIndex(t, dir, newRegistry(t, spanindex.FileSpec{ID: "a", Path: path}))
	tablePath := filepath.Join(dir, "lookup.csv")

	_, err := x.Build(context.Background(), "a")
	require.NoError(t, err)
	first, err := os.ReadFile(tablePath)
	require.NoError(t, err)

	stats, err := x.Build(context.Background(), "a")
	require.NoError(t, err)
	assert.Zero(t, stats.Added)
	assert.Zero(t, stats.Updated)
	assert.Equal(t, 200, stats.Verified)

	second, err := os.ReadFile(tablePath)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBuildUnsorted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(1, 20), RowsPerEntity: 2})
	bad := testutil.GenerateCSV(testutil.CSVConfig{Entities: []int64{1, 2, 1}, RowsPerEntity: 2})
	reg := newRegistry(t,
		spanindex.FileSpec{ID: "good", Path: writeCompressed(t, dir, "good.gz", spanindex.CodecGzip, good)},
		spanindex.FileSpec{ID: "bad", Path: writeCompressed(t, dir, "bad.gz", spanindex.CodecGzip, bad)},
	)
	x := openIndex(t, dir, reg)

	_, err := x.Build(context.Background(), "good")
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(dir, "lookup.csv"))
	require.NoError(t, err)

	_, err = x.Build(context.Background(), "bad")
	require.ErrorIs(t, err, spanindex.ErrUnsorted)
	var unsorted *spanindex.UnsortedInputError
	require.True(t, errors.As(err, &unsorted))
	assert.Equal(t, "bad", unsorted.FileID)
	assert.Equal(t, int64(1), unsorted.EntityID)
	assert.Less(t, unsorted.FirstOffset, unsorted.Offset)

	after, err := os.ReadFile(filepath.Join(dir, "lookup.csv"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, x.Table().Indexed("bad"))
	assert.Equal(t, int64(1), x.Stats().Snapshot().BuildFailures)
}

func TestBuildEntityColumnNotFirst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testutil.CSVConfig{
		EntityColumn:  "hadm_id",
		EntityIndex:   2,
		Entities:      testutil.Sequence(5000, 50),
		RowsPerEntity: 3,
		Quoted:        true,
	}
	plain := testutil.GenerateCSV(cfg)
	path := writeCompressed(t, dir, "adm.zst", spanindex.CodecZstd, plain)
	x := openIndex(t, dir, newRegistry(t, spanindex.FileSpec{ID: "adm", Path: path, EntityColumn: "hadm_id"}))

	_, err := x.Build(context.Background(), "adm")
	require.NoError(t, err)

	_, records := parseCSV(t, plain)
	want := recordsByEntity(t, records, 2)
	rows, err := x.Retriever().Search(context.Background(), "adm", 5025)
	require.NoError(t, err)
	assert.Equal(t, want[5025], rows.Records())
}

func TestBuildMissingEntityColumn(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	plain := testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(1, 3), RowsPerEntity: 1})
	path := writeCompressed(t, dir, "a.gz", spanindex.CodecGzip, plain)
	x := openIndex(t, dir, newRegistry(t, spanindex.FileSpec{ID: "a", Path: path, EntityColumn: "stay_id"}))

	_, err := x.Build(context.Background(), "a")
	assert.ErrorIs(t, err, spanindex.ErrUnknownColumn)
}

func TestBuildRebuildClearsStaleSpans(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeCompressed(t, dir, "a.gz", spanindex.CodecGzip,
		testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(1, 10), RowsPerEntity: 2}))
	x := openIndex(t, dir, newRegistry(t, spanindex.FileSpec{ID: "a", Path: path}))

	_, err := x.Build(context.Background(), "a")
	require.NoError(t, err)

	// Entity 3 disappears and entity 11 is new.
	ids := append(append([]int64{1, 2}, testutil.Sequence(4, 7)...), 11)
	writeCompressed(t, dir, "a.gz", spanindex.CodecGzip,
		testutil.GenerateCSV(testutil.CSVConfig{Entities: ids, RowsPerEntity: 3}))

	stats, err := x.Build(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Cleared)

	rows, err := x.Retriever().Search(context.Background(), "a", 3)
	require.NoError(t, err)
	assert.Zero(t, rows.Len())
	assert.True(t, x.Table().Has(3))

	rows, err = x.Retriever().Search(context.Background(), "a", 11)
	require.NoError(t, err)
	assert.Equal(t, 3, rows.Len())

	// New entities keep the table sorted.
	entities := x.Table().Entities()
	assert.True(t, sort.SliceIsSorted(entities, func(i, j int) bool { return entities[i] < entities[j] }))
}

func TestBuildAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	reg := newRegistry(t,
		spanindex.FileSpec{ID: "a", Path: writeCompressed(t, dir, "a.gz", spanindex.CodecGzip,
			testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(1, 30), RowsPerEntity: 2}))},
		spanindex.FileSpec{ID: "b", Path: writeCompressed(t, dir, "b.zst", spanindex.CodecZstd,
			testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(20, 30), RowsPerEntity: 2}))},
		spanindex.FileSpec{ID: "c", Path: writeCompressed(t, dir, "c.gz", spanindex.CodecGzip,
			testutil.GenerateCSV(testutil.CSVConfig{Entities: []int64{7, 8, 7}, RowsPerEntity: 1}))},
		spanindex.FileSpec{ID: "gone", Path: filepath.Join(dir, "missing.gz")},
	)
	x := openIndex(t, dir, reg, spanindex.WithBuildConcurrency(2))

	stats, err := x.Build(context.Background(), spanindex.AllFiles)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorIs(t, err, spanindex.ErrUnsorted)
	assert.ErrorIs(t, err, spanindex.ErrNotFound)

	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 60, stats.Entities)
	assert.Equal(t, 49, stats.Added)

	table := x.Table()
	assert.Equal(t, []string{"a", "b"}, sortedCopy(table.Files()))
	assert.Equal(t, 49, table.Len())
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func TestBuildWritesSidecar(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeCompressed(t, dir, "a.zst", spanindex.CodecZstd,
		testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(1, 100), RowsPerEntity: 5}))
	reg := newRegistry(t, spanindex.FileSpec{ID: "a", Path: path})
	x := openIndex(t, dir, reg)

	_, err := x.Build(context.Background(), "a")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "seek", "a.seekidx"))

	// A second index over the same directories reuses the table and sidecar.
	y := openIndex(t, dir, reg)
	f, err := y.Retriever().Open(context.Background(), "a")
	require.NoError(t, err)
	idx, err := f.SeekIndex(context.Background())
	require.NoError(t, err)

	built, err := x.Retriever().Open(context.Background(), "a")
	require.NoError(t, err)
	want, err := built.SeekIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want.Checkpoints, idx.Checkpoints)

	rows, err := y.Retriever().Search(context.Background(), "a", 42)
	require.NoError(t, err)
	assert.Equal(t, 5, rows.Len())
}

func TestVerify(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeCompressed(t, dir, "a.gz", spanindex.CodecGzip,
		testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(1, 50), RowsPerEntity: 4}))
	x := openIndex(t, dir, newRegistry(t, spanindex.FileSpec{ID: "a", Path: path}))
	_, err := x.Build(context.Background(), "a")
	require.NoError(t, err)

	b := x.Builder()
	require.NoError(t, b.Verify(context.Background(), nil, "a", 25))

	// Point entity 25 at entity 26's rows.
	table := x.Table()
	span26, err := table.Span(26, "a")
	require.NoError(t, err)
	bad, _, err := table.ApplySpans("a", map[int64]lookup.Span{25: span26})
	require.NoError(t, err)

	err = b.Verify(context.Background(), bad, "a", 25)
	require.ErrorIs(t, err, spanindex.ErrCorruptIndex)
	var corrupt *spanindex.CorruptIndexError
	require.True(t, errors.As(err, &corrupt))
	assert.Equal(t, int64(25), corrupt.EntityID)
	assert.Equal(t, span26, corrupt.Span)

	err = b.Verify(context.Background(), nil, "a", 9999)
	assert.ErrorIs(t, err, spanindex.ErrUnknownEntity)
}

func TestBuildVerificationFailureKeepsTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeCompressed(t, dir, "a.gz", spanindex.CodecGzip,
		testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(1, 10), RowsPerEntity: 3}))
	x := openIndex(t, dir, newRegistry(t, spanindex.FileSpec{ID: "a", Path: path}))
	_, err := x.Build(context.Background(), "a")
	require.NoError(t, err)

	before := x.Table()
	onDisk, err := os.ReadFile(filepath.Join(dir, "lookup.csv"))
	require.NoError(t, err)

	// Replace the file by rename so the open handle keeps the old content.
	next := writeCompressed(t, dir, "a.gz.next", spanindex.CodecGzip,
		testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(1, 12), RowsPerEntity: 3}))
	require.NoError(t, os.Rename(next, path))

	var sawNew bool
	spanindex.SetBuildVerifier(x, func(fileID string, table *lookup.Table) error {
		sawNew = table.Has(12)
		span, err := table.Span(12, fileID)
		require.NoError(t, err)
		return &spanindex.CorruptIndexError{FileID: fileID, EntityID: 12, Span: span, Reason: "rejected"}
	})

	_, err = x.Build(context.Background(), "a")
	require.ErrorIs(t, err, spanindex.ErrCorruptIndex)
	assert.True(t, sawNew)

	assert.Same(t, before, x.Table())
	assert.False(t, x.Table().Has(12))
	after, err := os.ReadFile(filepath.Join(dir, "lookup.csv"))
	require.NoError(t, err)
	assert.Equal(t, onDisk, after)

	rows, err := x.Retriever().Search(context.Background(), "a", 5)
	require.NoError(t, err)
	assert.Equal(t, 3, rows.Len())
	assert.Equal(t, int64(1), x.Stats().Snapshot().BuildFailures)
}

func TestBuildConcurrentWithSearch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeCompressed(t, dir, "a.gz", spanindex.CodecGzip,
		testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(1, 200), RowsPerEntity: 3}))
	x := openIndex(t, dir, newRegistry(t, spanindex.FileSpec{ID: "a", Path: path}))
	_, err := x.Build(context.Background(), "a")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 20 {
				rows, err := x.Retriever().Search(context.Background(), "a", int64(1+(w*20+i)%200))
				if err != nil {
					errs <- err
					return
				}
				if rows.Len() != 3 {
					errs <- fmt.Errorf("got %d rows", rows.Len())
					return
				}
			}
		}()
	}
	for range 3 {
		_, err := x.Build(context.Background(), "a")
		require.NoError(t, err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestBuildProgress(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	reg := newRegistry(t,
		spanindex.FileSpec{ID: "a", Path: writeCompressed(t, dir, "a.gz", spanindex.CodecGzip,
			testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(1, 10), RowsPerEntity: 2}))},
		spanindex.FileSpec{ID: "b", Path: writeCompressed(t, dir, "b.gz", spanindex.CodecGzip,
			testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(1, 10), RowsPerEntity: 2}))},
	)

	var (
		mu     sync.Mutex
		events []spanindex.ProgressEvent
	)
	x := openIndex(t, dir, reg, spanindex.WithProgress(func(ev spanindex.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}))
	_, err := x.Build(context.Background(), spanindex.AllFiles)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	var done, verifying []spanindex.ProgressEvent
	for _, ev := range events {
		switch ev.Stage {
		case spanindex.StageDone:
			done = append(done, ev)
		case spanindex.StageVerifying:
			verifying = append(verifying, ev)
		}
		assert.Equal(t, 2, ev.FilesTotal)
	}
	require.Len(t, done, 2)
	assert.Len(t, verifying, 2)
	assert.ElementsMatch(t, []int{1, 2}, []int{done[0].FilesDone, done[1].FilesDone})
	assert.Equal(t, "done", spanindex.StageDone.String())
}

func TestIndexReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeCompressed(t, dir, "a.gz", spanindex.CodecGzip,
		testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(1, 20), RowsPerEntity: 2}))
	reg := newRegistry(t, spanindex.FileSpec{ID: "a", Path: path})
	writer := openIndex(t, dir, reg)
	reader := openIndex(t, dir, reg)

	_, err := writer.Build(context.Background(), "a")
	require.NoError(t, err)

	_, err = reader.Retriever().Search(context.Background(), "a", 7)
	require.ErrorIs(t, err, spanindex.ErrNotIndexed)

	require.NoError(t, reader.Reload())
	assert.Equal(t, 20, reader.Table().Len())
	rows, err := reader.Retriever().Search(context.Background(), "a", 7)
	require.NoError(t, err)
	assert.Equal(t, 2, rows.Len())
}
