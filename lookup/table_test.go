package lookup

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySpansInsertsSorted(t *testing.T) {
	t.Parallel()

	base := NewTable("subject_id")
	next, stats, err := base.ApplySpans("events", map[int64]Span{
		30: {Start: 200, End: 300},
		10: {Start: 10, End: 100},
		20: {Start: 100, End: 200},
	})
	require.NoError(t, err)
	assert.Equal(t, ApplyStats{Added: 3, Updated: 3}, stats)
	assert.Equal(t, []int64{10, 20, 30}, next.Entities())
	assert.Equal(t, []string{"subject_id", "events_byteidx_start", "events_byteidx_end"}, next.Header())

	// The source table is untouched.
	assert.Equal(t, 0, base.Len())
	assert.False(t, base.Indexed("events"))

	s, err := next.Span(20, "events")
	require.NoError(t, err)
	assert.Equal(t, Span{Start: 100, End: 200}, s)
}

func TestApplySpansIdempotent(t *testing.T) {
	t.Parallel()

	spans := map[int64]Span{1: {0, 10}, 2: {10, 20}}
	first, _, err := NewTable("subject_id").ApplySpans("a", spans)
	require.NoError(t, err)
	second, stats, err := first.ApplySpans("a", spans)
	require.NoError(t, err)
	assert.Equal(t, ApplyStats{Verified: 2}, stats)

	var a, b bytes.Buffer
	require.NoError(t, first.Write(&a))
	require.NoError(t, second.Write(&b))
	assert.Equal(t, a.String(), b.String())
}

func TestApplySpansClearsStale(t *testing.T) {
	t.Parallel()

	first, _, err := NewTable("subject_id").ApplySpans("a", map[int64]Span{1: {0, 10}, 2: {10, 20}})
	require.NoError(t, err)
	second, stats, err := first.ApplySpans("a", map[int64]Span{2: {0, 15}})
	require.NoError(t, err)
	assert.Equal(t, ApplyStats{Updated: 1, Cleared: 1}, stats)

	assert.True(t, second.Has(1))
	_, err = second.Span(1, "a")
	require.ErrorIs(t, err, ErrUnknownEntity)
}

func TestApplySpansKeepsOtherFiles(t *testing.T) {
	t.Parallel()

	t1, _, err := NewTable("subject_id").ApplySpans("a", map[int64]Span{5: {0, 10}})
	require.NoError(t, err)
	t2, stats, err := t1.ApplySpans("b", map[int64]Span{3: {0, 7}, 5: {7, 9}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, []string{"a", "b"}, t2.Files())

	s, err := t2.Span(5, "a")
	require.NoError(t, err)
	assert.Equal(t, Span{0, 10}, s)

	// Entity 3 exists only in b.
	_, err = t2.Span(3, "a")
	require.ErrorIs(t, err, ErrUnknownEntity)
	assert.Equal(t, map[string]Span{"b": {0, 7}}, t2.Spans(3))
}

func TestApplySpansRejectsInvalid(t *testing.T) {
	t.Parallel()

	_, _, err := NewTable("subject_id").ApplySpans("a", map[int64]Span{1: {5, 5}})
	require.Error(t, err)
	_, _, err = NewTable("subject_id").ApplySpans("a,b", map[int64]Span{1: {0, 5}})
	require.Error(t, err)
}

func TestSpanErrors(t *testing.T) {
	t.Parallel()

	tbl, _, err := NewTable("subject_id").ApplySpans("a", map[int64]Span{1: {0, 10}})
	require.NoError(t, err)

	_, err = tbl.Span(1, "b")
	require.ErrorIs(t, err, ErrNotIndexed)
	_, err = tbl.Span(99, "a")
	require.ErrorIs(t, err, ErrUnknownEntity)
}

func TestSpansByOffset(t *testing.T) {
	t.Parallel()

	// Ids need not ascend with offsets, only be contiguous.
	tbl, _, err := NewTable("subject_id").ApplySpans("a", map[int64]Span{
		9: {0, 10},
		2: {10, 20},
		5: {20, 30},
	})
	require.NoError(t, err)
	got := tbl.SpansByOffset("a")
	require.Len(t, got, 3)
	assert.Equal(t, []int64{9, 2, 5}, []int64{got[0].EntityID, got[1].EntityID, got[2].EntityID})
	assert.Empty(t, tbl.SpansByOffset("missing"))
}

func TestReadWriteRoundTrip(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{
		"subject_id,note,a_byteidx_start,a_byteidx_end,b_byteidx_start,b_byteidx_end",
		"30,x,,,0,5",
		"10,\"y, z\",0,100,,",
		"20,,100,0000000200,-1,-1",
		"",
	}, "\n")
	tbl, err := Read(strings.NewReader(in), "")
	require.NoError(t, err)
	assert.Equal(t, "subject_id", tbl.EntityColumn())
	assert.Equal(t, []int64{10, 20, 30}, tbl.Entities())
	assert.Equal(t, []string{"a", "b"}, tbl.Files())

	note, ok := tbl.Extra(10, "note")
	assert.True(t, ok)
	assert.Equal(t, "y, z", note)

	s, err := tbl.Span(20, "a")
	require.NoError(t, err)
	assert.Equal(t, Span{100, 200}, s)
	_, err = tbl.Span(20, "b")
	require.ErrorIs(t, err, ErrUnknownEntity)

	var buf bytes.Buffer
	require.NoError(t, tbl.Write(&buf))
	want := strings.Join([]string{
		"subject_id,note,a_byteidx_start,a_byteidx_end,b_byteidx_start,b_byteidx_end",
		"10,\"y, z\",0,100,,",
		"20,,100,200,,",
		"30,x,,,0,5",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())

	again, err := Read(&buf, "subject_id")
	require.NoError(t, err)
	assert.Equal(t, tbl, again)
}

func TestReadZeroOffsetIsASpan(t *testing.T) {
	t.Parallel()

	tbl, err := Read(strings.NewReader("subject_id,a_byteidx_start,a_byteidx_end\n1,0,42\n2,42.0,84.0\n"), "")
	require.NoError(t, err)

	s, err := tbl.Span(1, "a")
	require.NoError(t, err)
	assert.Equal(t, Span{0, 42}, s)
	s, err = tbl.Span(2, "a")
	require.NoError(t, err)
	assert.Equal(t, Span{42, 84}, s)
}

func TestReadMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":          "",
		"no entity":      "id,a_byteidx_start,a_byteidx_end\n1,0,1\n",
		"bad id":         "subject_id\nabc\n",
		"duplicate id":   "subject_id\n1\n1\n",
		"half span":      "subject_id,a_byteidx_start,a_byteidx_end\n1,0,\n",
		"reversed span":  "subject_id,a_byteidx_start,a_byteidx_end\n1,9,3\n",
		"negative":       "subject_id,a_byteidx_start,a_byteidx_end\n1,-5,3\n",
		"ragged":         "subject_id,x\n1\n",
		"duplicate cols": "subject_id,x,x\n1,2,3\n",
	}
	for name, in := range cases {
		_, err := Read(strings.NewReader(in), "subject_id")
		require.ErrorIs(t, err, ErrMalformed, name)
	}
}
