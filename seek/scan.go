package seek

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Option configures index building.
type Option func(*config)

type config struct {
	interval int64
}

// WithInterval sets the decompressed distance between checkpoints.
// Smaller intervals make seeks cheaper at the cost of a larger index.
// Values <= 0 place a checkpoint at every unit.
func WithInterval(n int64) Option {
	return func(c *config) {
		c.interval = n
	}
}

func newConfig(opts []Option) config {
	cfg := config{interval: DefaultInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.interval <= 0 {
		cfg.interval = 1
	}
	return cfg
}

// Scanner decompresses a stream from the start while recording checkpoints.
//
// Scanner implements io.Reader over the decompressed stream. Once Read has
// returned io.EOF, Index returns the completed seek index. This lets callers
// parse the stream and build the index in a single pass.
type Scanner struct {
	interval int64
	units    UnitScanner
	cur      io.Reader
	unit     Unit
	fresh    bool
	idx      Index
	err      error
	done     bool
}

// NewScanner returns a Scanner over the compressed stream in src.
func NewScanner(src Source, codec Codec, opts ...Option) *Scanner {
	cfg := newConfig(opts)
	return &Scanner{
		interval: cfg.interval,
		units:    codec.NewScanner(io.NewSectionReader(src, 0, src.Size())),
		idx: Index{
			Codec:      codec.Name(),
			SourceID:   src.SourceID(),
			SourceSize: src.Size(),
			Interval:   cfg.interval,
		},
	}
}

// Offset returns the number of decompressed bytes returned so far.
func (s *Scanner) Offset() int64 {
	return s.idx.DecompressedSize
}

// Read implements io.Reader over the decompressed stream.
func (s *Scanner) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if s.cur == nil {
			unit, r, err := s.units.Next()
			if errors.Is(err, io.EOF) {
				s.done = true
				s.err = io.EOF
				return 0, io.EOF
			}
			if err != nil {
				s.err = err
				return 0, err
			}
			s.unit, s.cur, s.fresh = unit, r, true
			s.idx.Units++
		}

		n, err := s.cur.Read(p)
		if n > 0 {
			if s.fresh {
				s.checkpoint()
			}
			s.idx.DecompressedSize += int64(n)
		}
		if errors.Is(err, io.EOF) {
			s.cur = nil
			err = nil
		}
		if err != nil {
			if !errors.Is(err, ErrDecompression) {
				err = fmt.Errorf("%w: %v", ErrDecompression, err)
			}
			s.err = err
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

// checkpoint records the current unit if it starts far enough past the previous checkpoint.
// It runs when the unit yields its first byte so empty units never become checkpoints.
func (s *Scanner) checkpoint() {
	s.fresh = false
	cps := s.idx.Checkpoints
	if len(cps) > 0 && s.idx.DecompressedSize-cps[len(cps)-1].DecompressedOffset < s.interval {
		return
	}
	s.idx.Checkpoints = append(cps, Checkpoint{
		CompressedOffset:   s.unit.CompressedOffset,
		DecompressedOffset: s.idx.DecompressedSize,
		Token:              s.unit.Token,
	})
}

// Index returns the seek index once the stream has been read to the end.
func (s *Scanner) Index() (*Index, error) {
	if !s.done {
		if s.err != nil {
			return nil, s.err
		}
		return nil, errors.New("seek: stream not fully scanned")
	}
	idx := s.idx
	idx.Checkpoints = append([]Checkpoint(nil), s.idx.Checkpoints...)
	return &idx, nil
}

// Build scans the whole stream once and returns its seek index.
func Build(ctx context.Context, src Source, codec Codec, opts ...Option) (*Index, error) {
	s := NewScanner(src, codec, opts...)
	buf := make([]byte, 256<<10)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, err := s.Read(buf)
		if errors.Is(err, io.EOF) {
			return s.Index()
		}
		if err != nil {
			return nil, err
		}
	}
}
