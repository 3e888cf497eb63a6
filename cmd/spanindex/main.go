// Command spanindex builds and queries entity span indexes over compressed
// CSV files.
//
// Files are listed in a YAML config file:
//
//	table: /data/lookup.csv
//	seek-dir: /data/seek
//	files:
//	  - id: chartevents
//	    path: /data/chartevents.csv.gz
//	  - id: labevents
//	    path: s3://mimic/hosp/labevents.csv.zst
//	    entity_column: subject_id
//
// Every setting can also be given as a flag or as a SPANINDEX_* environment
// variable.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	cmd := a.rootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}
