package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/meigma/spanindex"
	"github.com/meigma/spanindex/pack"
)

func (a *app) buildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "build <file_id|all>",
		Short: "Index entity spans of one or all files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := a.openIndex()
			if err != nil {
				return err
			}
			stats, err := x.Build(cmd.Context(), args[0])
			fmt.Fprintf(a.stdout, "%s: %d files, %s entities (added %s, updated %s, verified %s, cleared %s), %s scanned in %s\n",
				args[0],
				stats.Files,
				humanize.Comma(int64(stats.Entities)),
				humanize.Comma(int64(stats.Added)),
				humanize.Comma(int64(stats.Updated)),
				humanize.Comma(int64(stats.Verified)),
				humanize.Comma(int64(stats.Cleared)),
				humanize.IBytes(uint64(stats.Bytes)),
				stats.Duration.Round(time.Millisecond),
			)
			for _, e := range multierr.Errors(err) {
				fmt.Fprintln(a.stderr, "failed:", e)
			}
			if err != nil {
				return fmt.Errorf("%d file(s) failed", len(multierr.Errors(err)))
			}
			return nil
		},
	}
}

func (a *app) lookupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <entity_id> [file_id|all]",
		Short: "Print an entity's rows as CSV, one block per file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := parseEntity(args[0])
			if err != nil {
				return err
			}
			fileID := spanindex.AllFiles
			if len(args) == 2 {
				fileID = args[1]
			}
			x, err := a.openIndex()
			if err != nil {
				return err
			}
			res, err := x.Lookup(cmd.Context(), entity, fileID)
			if err != nil {
				return err
			}
			for i, id := range res.FileIDs() {
				if i > 0 {
					fmt.Fprintln(a.stdout)
				}
				fmt.Fprintf(a.stdout, "# %s\n", id)
				if err := res.Files[id].WriteCSV(a.stdout); err != nil {
					return err
				}
			}
			for _, id := range res.SkippedIDs() {
				fmt.Fprintf(a.stderr, "skipped %s: %v\n", id, res.Skipped[id])
			}
			return nil
		},
	}
}

func (a *app) filterCommand() *cobra.Command {
	var entity string
	cmd := &cobra.Command{
		Use:   "filter <file_id> <column> <value>",
		Short: "Print rows whose column equals value",
		Long: "Print rows whose column equals value. Without --entity the whole " +
			"file is decompressed and scanned.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []spanindex.FilterOption
			if entity != "" {
				id, err := parseEntity(entity)
				if err != nil {
					return err
				}
				opts = append(opts, spanindex.WithEntity(id))
			}
			x, err := a.openIndex()
			if err != nil {
				return err
			}
			rows, err := x.Retriever().FilterByColumn(cmd.Context(), args[0], args[1], args[2], opts...)
			if err != nil {
				return err
			}
			return rows.WriteCSV(a.stdout)
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "only search the rows of this entity")
	return cmd
}

func (a *app) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file_id> <entity_id>",
		Short: "Check that an entity's span returns only its rows",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := parseEntity(args[1])
			if err != nil {
				return err
			}
			x, err := a.openIndex()
			if err != nil {
				return err
			}
			if err := x.Builder().Verify(cmd.Context(), nil, args[0], entity); err != nil {
				return err
			}
			span, err := x.Table().Span(entity, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "ok: %s entity %d span %s (%s)\n", args[0], entity, span, humanize.IBytes(uint64(span.Len())))
			return nil
		},
	}
}

func (a *app) packCommand() *cobra.Command {
	var (
		codec    string
		unitSize string
	)
	cmd := &cobra.Command{
		Use:   "pack <in> <out>",
		Short: "Rewrite a CSV, gzip or zstd file as independently compressed units",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := parseSize("unit-size", unitSize)
			if err != nil {
				return err
			}
			if size > 1<<30 {
				return fmt.Errorf("unit size %s is too large", unitSize)
			}
			stats, err := packFile(cmd, args[0], args[1], pack.WithCodec(codec), pack.WithUnitSize(int(size)))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s: %s units, %s -> %s\n",
				args[1],
				humanize.Comma(stats.Units),
				humanize.IBytes(uint64(stats.In)),
				humanize.IBytes(uint64(stats.Out)),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&codec, "codec", pack.Gzip, "output codec: gzip or zstd")
	cmd.Flags().StringVar(&unitSize, "unit-size", "1MiB", "decompressed size of each unit")
	return cmd
}

// packFile repacks in to out through a temp file in out's directory.
func packFile(cmd *cobra.Command, in, out string, opts ...pack.Option) (pack.Stats, error) {
	src, err := os.Open(in)
	if err != nil {
		return pack.Stats{}, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(out), ".pack-*")
	if err != nil {
		return pack.Stats{}, err
	}
	stats, err := pack.Repack(cmd.Context(), tmp, src, opts...)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), out)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return stats, err
	}
	return stats, nil
}

func parseEntity(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.New("entity id must be an integer: " + s)
	}
	return id, nil
}
