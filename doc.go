// Package spanindex provides random-access lookups over large compressed CSV
// files sorted by an entity id.
//
// Each registered file is scanned once to record, for every entity id, the
// decompressed byte span its rows occupy. Spans are kept in a lookup table
// shared by all files. A seek index of checkpoints into the compressed stream
// lets a lookup decompress only the region around one entity instead of the
// whole file.
//
// Compressed files must be block-addressable: a gzip file made of
// independent members or a zstd stream of independent frames. The pack
// subpackage converts ordinary files.
//
// # Quick Start
//
//	reg, err := spanindex.NewRegistry(
//	    spanindex.FileSpec{ID: "chartevents", Path: "/data/chartevents.csv.gz"},
//	    spanindex.FileSpec{ID: "outputevents", Path: "s3://mimic/icu/outputevents.csv.zst"},
//	)
//	if err != nil {
//	    return err
//	}
//	idx, err := spanindex.Open(reg, "/data/lookup.csv", spanindex.WithSeekDir("/data/seek"))
//	if err != nil {
//	    return err
//	}
//	defer idx.Close()
//
//	if _, err := idx.Build(ctx, spanindex.AllFiles); err != nil {
//	    return err
//	}
//	res, err := idx.Lookup(ctx, 10000032, spanindex.AllFiles)
//
// # Concurrency
//
// Lookups may run concurrently with each other and with builds. Builds of
// different files scan in parallel; their table updates are serialized and
// each published table is complete.
package spanindex
