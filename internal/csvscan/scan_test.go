package csvscan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScannerOffsets(t *testing.T) {
	t.Parallel()

	data := "id,v\n1,a\n2,\"x\ny\"\n\n3,c"
	s := NewScanner(strings.NewReader(data), 100)

	type rec struct {
		text       string
		start, end int64
	}
	var got []rec
	for s.Scan() {
		got = append(got, rec{string(s.Record()), s.Offset(), s.End()})
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []rec{
		{"id,v\n", 100, 105},
		{"1,a\n", 105, 109},
		{"2,\"x\ny\"\n", 109, 117},
		{"\n", 117, 118},
		{"3,c", 118, 121},
	}, got)
}

func TestScannerQuotesMatchParseRows(t *testing.T) {
	t.Parallel()

	data := "subject_id,v\n" +
		"1,a\n" +
		"2,5'10\"\n" +
		"3,6'1\"\n" +
		"4,\"a \"\"b\"\" c\"\n" +
		"5,\"x\"y,z\"\n" +
		"6,\"multi\nline\"\n" +
		"7,ab\"cd,\"e\"\n" +
		"8,w\n"

	want, err := ParseRows([]byte(data), 0)
	require.NoError(t, err)

	s := NewScanner(strings.NewReader(data), 0)
	var got [][]string
	for s.Scan() {
		rows, err := ParseRows(s.Record(), 0)
		require.NoError(t, err)
		require.Len(t, rows, 1, "record %q", s.Record())

		field, ok := Field(s.Record(), 0)
		require.True(t, ok)
		assert.Equal(t, rows[0][0], string(field))
		got = append(got, rows[0])
	}
	require.NoError(t, s.Err())
	assert.Equal(t, want, got)
	assert.Equal(t, []string{"2", "5'10\""}, got[2])
	assert.Equal(t, []string{"5", "x\"y,z"}, got[5])
}

func TestScannerLongRecord(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("z", 600<<10)
	data := "1," + long + "\n2,b\n"
	s := NewScanner(strings.NewReader(data), 0)

	require.True(t, s.Scan())
	assert.Len(t, s.Record(), len(long)+3)
	require.True(t, s.Scan())
	assert.Equal(t, "2,b\n", string(s.Record()))
	assert.Equal(t, int64(len(data)), s.End())
	assert.False(t, s.Scan())
}

func TestField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rec  string
		idx  int
		want string
		ok   bool
	}{
		{rec: "1,2,3\n", idx: 0, want: "1", ok: true},
		{rec: "1,2,3\n", idx: 2, want: "3", ok: true},
		{rec: "1,2,3\r\n", idx: 2, want: "3", ok: true},
		{rec: "\"a,b\",7,x\n", idx: 1, want: "7", ok: true},
		{rec: "5'10\",7\n", idx: 1, want: "7", ok: true},
		{rec: "a\"b,c,d\n", idx: 2, want: "d", ok: true},
		{rec: "\"x\"\"y,z\",9\n", idx: 1, want: "9", ok: true},
		{rec: "\"x\"y,z\",9\n", idx: 1, want: "9", ok: true},
		{rec: "1,2\n", idx: 3, ok: false},
		{rec: "\n", idx: 0, want: "", ok: true},
	}
	for _, tt := range tests {
		got, ok := Field([]byte(tt.rec), tt.idx)
		assert.Equal(t, tt.ok, ok, "%q", tt.rec)
		if tt.ok {
			assert.Equal(t, tt.want, string(got), "%q", tt.rec)
		}
	}
}

func TestParseEntity(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]int64{
		"42":          42,
		" 42 ":        42,
		`"42"`:        42,
		`" 10000032"`: 10000032,
		"-3":          -3,
	} {
		got, err := ParseEntity([]byte(in))
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "abc", "4.5", `""`} {
		_, err := ParseEntity([]byte(in))
		require.ErrorIs(t, err, ErrMalformed, in)
	}
}

func TestReadHeader(t *testing.T) {
	t.Parallel()

	cols, n, err := ReadHeader(strings.NewReader("subject_id,\"label, long\",v\n1,2,3\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"subject_id", "label, long", "v"}, cols)
	assert.Equal(t, int64(27), n)

	_, _, err = ReadHeader(strings.NewReader(""))
	require.ErrorIs(t, err, ErrMalformed)

	idx, ok := Column(cols, "v")
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
	_, ok = Column(cols, "missing")
	assert.False(t, ok)
}

func TestParseRows(t *testing.T) {
	t.Parallel()

	rows, err := ParseRows([]byte("1,\"a\nb\",x\n\n2,c,y\n"), 3)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "a\nb", "x"}, {"2", "c", "y"}}, rows)

	_, err = ParseRows([]byte("1,2\n"), 3)
	require.ErrorIs(t, err, ErrMalformed)

	rows, err = ParseRows(nil, 3)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestIsBlank(t *testing.T) {
	t.Parallel()

	assert.True(t, IsBlank([]byte("\r\n")))
	assert.False(t, IsBlank([]byte("1,2\n")))
}
