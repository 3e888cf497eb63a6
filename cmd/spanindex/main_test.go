package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/spanindex/internal/testutil"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// setup packs two CSV files and writes a config listing them.
func setup(t *testing.T) (dir, config string) {
	t.Helper()
	dir = t.TempDir()
	chart := testutil.WriteFile(t, dir, "chart.csv", testutil.GenerateCSV(testutil.CSVConfig{
		Entities:      testutil.Sequence(1, 200),
		RowsPerEntity: 3,
	}))
	lab := testutil.WriteFile(t, dir, "lab.csv", testutil.GenerateCSV(testutil.CSVConfig{
		Entities:      testutil.Sequence(100, 50),
		RowsPerEntity: 2,
	}))

	res := runCLI(t, "pack", chart, filepath.Join(dir, "chart.csv.gz"), "--unit-size", "2KiB")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "chart.csv.gz")
	res = runCLI(t, "pack", lab, filepath.Join(dir, "lab.csv.zst"), "--codec", "zstd", "--unit-size", "1KiB")
	require.Equal(t, 0, res.code, res.stderr)

	config = filepath.Join(dir, "spanindex.yaml")
	yaml := fmt.Sprintf(`table: %s
seek-dir: %s
interval: 4KiB
files:
  - id: chartevents
    path: %s
  - id: labevents
    path: %s
    codec: zstd
`, filepath.Join(dir, "lookup.csv"), filepath.Join(dir, "seek"),
		filepath.Join(dir, "chart.csv.gz"), filepath.Join(dir, "lab.csv.zst"))
	require.NoError(t, os.WriteFile(config, []byte(yaml), 0o600))
	return dir, config
}

func TestCLI(t *testing.T) {
	t.Parallel()

	dir, config := setup(t)

	res := runCLI(t, "--config", config, "--progress", "build", "all")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stderr, "[2/2]")
	assert.Contains(t, res.stdout, "2 files")
	assert.Contains(t, res.stdout, "added 200")
	assert.FileExists(t, filepath.Join(dir, "lookup.csv"))
	assert.FileExists(t, filepath.Join(dir, "seek", "chartevents.seekidx"))

	res = runCLI(t, "--config", config, "build", "chartevents")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "verified 200")

	res = runCLI(t, "--config", config, "lookup", "120")
	require.Equal(t, 0, res.code, res.stderr)
	blocks := strings.Split(strings.TrimSpace(res.stdout), "\n\n")
	require.Len(t, blocks, 2)
	assert.True(t, strings.HasPrefix(blocks[0], "# chartevents\nsubject_id,value,label,code\n"))
	assert.Len(t, strings.Split(blocks[0], "\n"), 2+3)
	assert.Len(t, strings.Split(blocks[1], "\n"), 2+2)

	res = runCLI(t, "--config", config, "lookup", "5", "labevents")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Empty(t, res.stdout)

	res = runCLI(t, "--config", config, "filter", "chartevents", "code", "c2", "--entity", "7")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "subject_id,value,label,code\n7,7.2,", res.stdout[:len("subject_id,value,label,code\n7,7.2,")])

	res = runCLI(t, "--config", config, "verify", "labevents", "120")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "ok: labevents entity 120")

	metricsFile := filepath.Join(dir, "metrics.prom")
	res = runCLI(t, "--config", config, "--metrics-file", metricsFile, "lookup", "150", "chartevents")
	require.Equal(t, 0, res.code, res.stderr)
	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "spanindex_seeks_total 1")
}

func TestCLIErrors(t *testing.T) {
	t.Parallel()

	_, config := setup(t)

	res := runCLI(t, "--config", config, "lookup", "1", "chartevents")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "not indexed")

	res = runCLI(t, "--config", config, "lookup", "1")
	assert.Equal(t, 0, res.code)
	assert.Contains(t, res.stderr, "skipped chartevents")
	assert.Contains(t, res.stderr, "skipped labevents")

	res = runCLI(t, "--config", config, "lookup", "abc")
	assert.Equal(t, 1, res.code)

	res = runCLI(t, "--config", config, "build", "nope")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "not found")

	res = runCLI(t, "--config", config, "--log-format", "xml", "build", "all")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "unknown log format")
}

func TestCLIFileFlag(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	plain := testutil.GenerateCSV(testutil.CSVConfig{Entities: testutil.Sequence(1, 20), RowsPerEntity: 2})
	path := testutil.WriteFile(t, dir, "a.csv.gz", testutil.GzipMembers(t, testutil.SplitUnits(plain, 256)))
	table := filepath.Join(dir, "t.csv")

	res := runCLI(t, "--table", table, "--file", "a="+path, "--log-format", "json", "--verbose", "build", "a")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stderr, `"msg":"file indexed"`)

	res = runCLI(t, "--table", table, "--file", "a="+path, "lookup", "7", "a")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, 1+1+2, strings.Count(res.stdout, "\n"))
}
