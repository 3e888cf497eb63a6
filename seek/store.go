package seek

import (
	_ "crypto/sha256" // registers digest.Canonical
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/spanindex/internal/sizing"
	"github.com/meigma/spanindex/seek/internal/fb"
)

const (
	formatVersion = 1
	sidecarSuffix = ".seekidx"

	// maxSidecarSize bounds the bytes read when loading a sidecar.
	maxSidecarSize = 1 << 30
)

// Marshal serializes an index to its FlatBuffers sidecar form.
func Marshal(idx *Index) []byte {
	builder := flatbuffers.NewBuilder(1024)

	// Build checkpoints in reverse order (FlatBuffers requirement)
	offsets := make([]flatbuffers.UOffsetT, len(idx.Checkpoints))
	for i := len(idx.Checkpoints) - 1; i >= 0; i-- {
		cp := idx.Checkpoints[i]
		var tokenOffset flatbuffers.UOffsetT
		if len(cp.Token) > 0 {
			tokenOffset = builder.CreateByteVector(cp.Token)
		}
		fb.CheckpointStart(builder)
		fb.CheckpointAddCompressedOffset(builder, cp.CompressedOffset)
		fb.CheckpointAddDecompressedOffset(builder, cp.DecompressedOffset)
		if tokenOffset != 0 {
			fb.CheckpointAddToken(builder, tokenOffset)
		}
		offsets[i] = fb.CheckpointEnd(builder)
	}

	fb.SeekIndexStartCheckpointsVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	checkpointsOffset := builder.EndVector(len(offsets))

	codecOffset := builder.CreateString(idx.Codec)
	sourceOffset := builder.CreateString(idx.SourceID)
	digestOffset := builder.CreateString(checksum(idx).String())

	fb.SeekIndexStart(builder)
	fb.SeekIndexAddVersion(builder, formatVersion)
	fb.SeekIndexAddCodec(builder, codecOffset)
	fb.SeekIndexAddSourceId(builder, sourceOffset)
	fb.SeekIndexAddSourceSize(builder, idx.SourceSize)
	fb.SeekIndexAddInterval(builder, idx.Interval)
	fb.SeekIndexAddDecompressedSize(builder, idx.DecompressedSize)
	fb.SeekIndexAddUnits(builder, idx.Units)
	fb.SeekIndexAddCheckpoints(builder, checkpointsOffset)
	fb.SeekIndexAddDigest(builder, digestOffset)
	root := fb.SeekIndexEnd(builder)

	builder.Finish(root)
	return builder.FinishedBytes()
}

// Unmarshal parses a sidecar produced by Marshal and validates its digest.
func Unmarshal(data []byte) (idx *Index, err error) {
	defer func() {
		if r := recover(); r != nil {
			idx = nil
			err = fmt.Errorf("%w: %v", ErrCorrupt, r)
		}
	}()
	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("%w: empty sidecar", ErrCorrupt)
	}

	root := fb.GetRootAsSeekIndex(data, 0)
	if v := root.Version(); v != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}

	idx = &Index{
		Codec:            string(root.Codec()),
		SourceID:         string(root.SourceId()),
		SourceSize:       root.SourceSize(),
		Interval:         root.Interval(),
		DecompressedSize: root.DecompressedSize(),
		Units:            root.Units(),
		Checkpoints:      make([]Checkpoint, root.CheckpointsLength()),
	}
	var cp fb.Checkpoint
	for i := range idx.Checkpoints {
		if !root.Checkpoints(&cp, i) {
			return nil, fmt.Errorf("%w: missing checkpoint %d", ErrCorrupt, i)
		}
		idx.Checkpoints[i] = Checkpoint{
			CompressedOffset:   cp.CompressedOffset(),
			DecompressedOffset: cp.DecompressedOffset(),
		}
		if token := cp.TokenBytes(); len(token) > 0 {
			idx.Checkpoints[i].Token = append([]byte(nil), token...)
		}
	}

	want, err := digest.Parse(string(root.Digest()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if got := checksum(idx); got != want {
		return nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}
	if err := idx.Validate(); err != nil {
		return nil, err
	}
	return idx, nil
}

// checksum digests the fields that determine where reads resume.
func checksum(idx *Index) digest.Digest {
	d := digest.Canonical.Digester()
	h := d.Hash()
	var buf [8]byte
	put := func(v int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(v)) //nolint:gosec // bit pattern only
		_, _ = h.Write(buf[:])                        //nolint:errcheck // hash writes never fail
	}
	_, _ = h.Write([]byte(idx.Codec)) //nolint:errcheck // hash writes never fail
	put(idx.SourceSize)
	put(idx.Interval)
	put(idx.DecompressedSize)
	put(idx.Units)
	put(int64(len(idx.Checkpoints)))
	for _, cp := range idx.Checkpoints {
		put(cp.CompressedOffset)
		put(cp.DecompressedOffset)
		put(int64(len(cp.Token)))
		_, _ = h.Write(cp.Token) //nolint:errcheck // hash writes never fail
	}
	return d.Digest()
}

// Store persists seek indexes as sidecar files in a directory, one per key.
// Store is safe for concurrent use as long as each key has a single writer.
type Store struct {
	dir     string
	dirPerm os.FileMode
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("seek: store dir is empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Store{dir: dir, dirPerm: 0o750}, nil
}

// Path returns the sidecar path for key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+sidecarSuffix)
}

// Load reads the sidecar for key and checks it against src and interval.
// It returns an error wrapping os.ErrNotExist when no sidecar exists and
// ErrStale when the sidecar was built for different content or settings.
func (s *Store) Load(key string, src Source, interval int64) (*Index, error) {
	f, err := os.Open(s.Path(key))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := sizing.ReadAllWithLimit(f, maxSidecarSize, fmt.Errorf("%w: sidecar exceeds %d bytes", ErrCorrupt, maxSidecarSize))
	if err != nil {
		return nil, err
	}
	idx, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if idx.SourceID != src.SourceID() || idx.SourceSize != src.Size() {
		return nil, fmt.Errorf("%w: source changed", ErrStale)
	}
	if interval > 0 && idx.Interval != interval {
		return nil, fmt.Errorf("%w: interval %d, want %d", ErrStale, idx.Interval, interval)
	}
	return idx, nil
}

// Save writes the sidecar for key atomically (temp file + rename).
func (s *Store) Save(key string, idx *Index) error {
	target := s.Path(key)
	tmp, err := os.CreateTemp(s.dir, ".seekidx-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(Marshal(idx)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Remove deletes the sidecar for key. Missing sidecars are not an error.
func (s *Store) Remove(key string) error {
	err := os.Remove(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, key)
}
