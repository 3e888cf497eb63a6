package seek

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ReadStats describes the work done by one range read.
type ReadStats struct {
	// Checkpoint is where decompression resumed.
	Checkpoint Checkpoint

	// Discarded is the number of decompressed bytes skipped before the range.
	Discarded int64

	// Returned is the number of bytes returned to the caller.
	Returned int64

	// CompressedRead is the number of compressed bytes pulled from the source.
	CompressedRead int64
}

// Decompressed returns the total decompressed bytes consumed by the read.
func (s ReadStats) Decompressed() int64 {
	return s.Discarded + s.Returned
}

// Reader serves decompressed ranges using a seek index.
// Reader is safe for concurrent use.
type Reader struct {
	src   Source
	idx   *Index
	codec Codec
}

// NewReader returns a Reader over src. The index must have been built from
// the same source.
func NewReader(src Source, idx *Index) (*Reader, error) {
	codec, err := CodecByName(idx.Codec)
	if err != nil {
		return nil, err
	}
	if idx.SourceID != src.SourceID() || idx.SourceSize != src.Size() {
		return nil, fmt.Errorf("%w: index built for %s (%d bytes)", ErrStale, idx.SourceID, idx.SourceSize)
	}
	return &Reader{src: src, idx: idx, codec: codec}, nil
}

// Index returns the seek index backing the reader.
func (r *Reader) Index() *Index {
	return r.idx
}

// ReadRange returns exactly the decompressed bytes in [start, end).
//
// Decompression resumes at the last checkpoint at or before start, so at most
// one checkpoint interval (plus one unit) is discarded before the range.
func (r *Reader) ReadRange(ctx context.Context, start, end int64) ([]byte, ReadStats, error) {
	if start < 0 || end < start {
		return nil, ReadStats{}, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, start, end)
	}
	if end > r.idx.DecompressedSize {
		return nil, ReadStats{}, fmt.Errorf("%w: [%d, %d) exceeds %d", ErrOutOfRange, start, end, r.idx.DecompressedSize)
	}
	if start == end {
		return []byte{}, ReadStats{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, ReadStats{}, err
	}

	cp := r.idx.Find(start)
	counted := &countingReader{r: io.NewSectionReader(r.src, cp.CompressedOffset, r.src.Size()-cp.CompressedOffset)}
	rc, err := r.codec.Resume(counted, cp.Token)
	if err != nil {
		return nil, ReadStats{}, err
	}
	defer rc.Close()

	stats := ReadStats{Checkpoint: cp, Discarded: start - cp.DecompressedOffset}
	if _, err := io.CopyN(io.Discard, rc, stats.Discarded); err != nil {
		return nil, stats, readErr(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	buf := make([]byte, end-start)
	n, err := io.ReadFull(rc, buf)
	stats.Returned = int64(n)
	stats.CompressedRead = counted.n
	if err != nil {
		return nil, stats, readErr(err)
	}
	return buf, stats, nil
}

// OpenAt returns the decompressed stream starting at offset.
// It is intended for sequential scans; the caller must close the reader.
func (r *Reader) OpenAt(offset int64) (io.ReadCloser, error) {
	if offset < 0 || offset > r.idx.DecompressedSize {
		return nil, fmt.Errorf("%w: offset %d", ErrOutOfRange, offset)
	}
	cp := r.idx.Find(offset)
	rc, err := r.codec.Resume(io.NewSectionReader(r.src, cp.CompressedOffset, r.src.Size()-cp.CompressedOffset), cp.Token)
	if err != nil {
		return nil, err
	}
	if _, err := io.CopyN(io.Discard, rc, offset-cp.DecompressedOffset); err != nil {
		rc.Close()
		return nil, readErr(err)
	}
	return rc, nil
}

// OpenStream returns the decompressed stream of src from its start without
// a seek index. Use it to read the leading bytes of a stream, such as a header.
func OpenStream(src Source, codec Codec) (io.ReadCloser, error) {
	return codec.Resume(io.NewSectionReader(src, 0, src.Size()), nil)
}

func readErr(err error) error {
	if errors.Is(err, ErrDecompression) {
		return err
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %v", ErrDecompression, err)
}
