package seek

import (
	"fmt"
	"io"
	"sort"
)

// DefaultInterval is the default decompressed distance between checkpoints (4 MiB).
const DefaultInterval int64 = 4 << 20

// Source provides random access to a compressed stream.
// SourceID must return a stable identifier for the underlying content.
type Source interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}

// Checkpoint is a position from which decompression can resume.
type Checkpoint struct {
	// CompressedOffset is the offset of the unit start in the compressed stream.
	CompressedOffset int64

	// DecompressedOffset is the decompressed stream offset produced by that unit's first byte.
	DecompressedOffset int64

	// Token is opaque codec state needed to resume at this checkpoint.
	Token []byte
}

// Index is an ordered set of checkpoints over one compressed stream.
//
// Checkpoints are strictly increasing in both offsets and the first
// checkpoint is always at decompressed offset 0.
type Index struct {
	Codec            string
	SourceID         string
	SourceSize       int64
	Interval         int64
	DecompressedSize int64
	Units            int64
	Checkpoints      []Checkpoint
}

// Find returns the last checkpoint at or before the decompressed offset.
func (idx *Index) Find(offset int64) Checkpoint {
	i := sort.Search(len(idx.Checkpoints), func(i int) bool {
		return idx.Checkpoints[i].DecompressedOffset > offset
	})
	if i == 0 {
		return Checkpoint{}
	}
	return idx.Checkpoints[i-1]
}

// Validate checks the structural invariants of the index.
func (idx *Index) Validate() error {
	if len(idx.Checkpoints) == 0 {
		if idx.DecompressedSize != 0 {
			return fmt.Errorf("%w: no checkpoints for %d bytes", ErrCorrupt, idx.DecompressedSize)
		}
		return nil
	}
	first := idx.Checkpoints[0]
	if first.CompressedOffset < 0 || first.DecompressedOffset != 0 {
		return fmt.Errorf("%w: first checkpoint at (%d, %d)", ErrCorrupt, first.CompressedOffset, first.DecompressedOffset)
	}
	for i := 1; i < len(idx.Checkpoints); i++ {
		prev, cur := idx.Checkpoints[i-1], idx.Checkpoints[i]
		if cur.CompressedOffset <= prev.CompressedOffset || cur.DecompressedOffset <= prev.DecompressedOffset {
			return fmt.Errorf("%w: checkpoint %d not increasing", ErrCorrupt, i)
		}
		if cur.CompressedOffset >= idx.SourceSize || cur.DecompressedOffset >= idx.DecompressedSize {
			return fmt.Errorf("%w: checkpoint %d out of bounds", ErrCorrupt, i)
		}
	}
	return nil
}
