//go:generate flatc --go --go-namespace fb -o internal schema/seekindex.fbs

// Package seek provides random access into block-addressable compressed
// streams.
//
// A block-addressable stream is a concatenation of independently decodable
// units: gzip members (multi-gzip) or zstd frames. A single forward pass over
// the stream records checkpoints at unit boundaries roughly every Interval
// decompressed bytes. Reading a decompressed range later resumes at the last
// checkpoint at or before the range start, so the work per read is bounded by
// the checkpoint spacing plus the range length rather than by the position of
// the range in the stream.
//
// Checkpoints carry an opaque resume token owned by the [Codec]. The gzip and
// zstd codecs leave it empty because their units need no decoder state.
package seek
