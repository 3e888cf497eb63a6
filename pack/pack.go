// Package pack writes block-addressable compressed streams.
//
// A block-addressable stream is a sequence of independently compressed
// units: gzip members or zstd frames. Any gzip or zstd reader decodes it
// as one stream, and the seek package can resume decompression at the
// start of every unit.
package pack

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DefaultUnitSize is the default decompressed size of one unit.
const DefaultUnitSize = 1 << 20

// Codec names.
const (
	Gzip = "gzip"
	Zstd = "zstd"
)

// Option configures a Writer.
type Option func(*config)

type config struct {
	codec       string
	unitSize    int
	lineAligned bool
	level       int
}

// WithCodec selects gzip or zstd output. Defaults to gzip.
func WithCodec(name string) Option {
	return func(c *config) {
		c.codec = name
	}
}

// WithUnitSize sets the decompressed size at which a unit is cut.
func WithUnitSize(n int) Option {
	return func(c *config) {
		c.unitSize = n
	}
}

// WithLineAligned controls whether units are cut after a newline.
// Enabled by default. A unit that reaches four times the unit size
// without a newline is cut anyway.
func WithLineAligned(enabled bool) Option {
	return func(c *config) {
		c.lineAligned = enabled
	}
}

// WithLevel sets the compression level of the codec.
// Zero selects the codec's default.
func WithLevel(level int) Option {
	return func(c *config) {
		c.level = level
	}
}

// Stats describes a packed stream.
type Stats struct {
	// Units is the number of gzip members or zstd frames written.
	Units int64

	// In is the number of decompressed bytes written.
	In int64

	// Out is the number of compressed bytes written.
	Out int64
}

// Writer compresses its input into independent units.
// Close must be called to flush the last unit.
type Writer struct {
	w     io.Writer
	cfg   config
	buf   []byte
	out   bytes.Buffer
	gz    *gzip.Writer
	zenc  *zstd.Encoder
	stats Stats
	err   error
}

// NewWriter returns a Writer writing to w.
func NewWriter(w io.Writer, opts ...Option) (*Writer, error) {
	cfg := config{codec: Gzip, unitSize: DefaultUnitSize, lineAligned: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.unitSize <= 0 {
		return nil, fmt.Errorf("pack: invalid unit size %d", cfg.unitSize)
	}

	pw := &Writer{w: w, cfg: cfg}
	switch cfg.codec {
	case Gzip:
		level := cfg.level
		if level == 0 {
			level = gzip.DefaultCompression
		}
		gz, err := gzip.NewWriterLevel(&pw.out, level)
		if err != nil {
			return nil, fmt.Errorf("pack: %w", err)
		}
		pw.gz = gz
	case Zstd:
		zopts := []zstd.EOption{zstd.WithEncoderConcurrency(1)}
		if cfg.level != 0 {
			zopts = append(zopts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.level)))
		}
		enc, err := zstd.NewWriter(nil, zopts...)
		if err != nil {
			return nil, fmt.Errorf("pack: %w", err)
		}
		pw.zenc = enc
	default:
		return nil, fmt.Errorf("pack: unknown codec %q", cfg.codec)
	}
	return pw, nil
}

// Write buffers p and emits every complete unit.
func (pw *Writer) Write(p []byte) (int, error) {
	if pw.err != nil {
		return 0, pw.err
	}
	pw.buf = append(pw.buf, p...)
	pw.stats.In += int64(len(p))
	for {
		cut := pw.cut()
		if cut == 0 {
			return len(p), nil
		}
		if err := pw.emit(pw.buf[:cut]); err != nil {
			pw.err = err
			return 0, err
		}
		pw.buf = append(pw.buf[:0], pw.buf[cut:]...)
	}
}

// cut returns the length of the next complete unit in buf, or 0.
func (pw *Writer) cut() int {
	size := pw.cfg.unitSize
	if len(pw.buf) < size {
		return 0
	}
	if !pw.cfg.lineAligned {
		return size
	}
	if i := bytes.IndexByte(pw.buf[size-1:], '\n'); i >= 0 {
		return size + i
	}
	if limit := 4 * size; len(pw.buf) >= limit {
		return limit
	}
	return 0
}

func (pw *Writer) emit(unit []byte) error {
	pw.out.Reset()
	switch {
	case pw.gz != nil:
		pw.gz.Reset(&pw.out)
		if _, err := pw.gz.Write(unit); err != nil {
			return err
		}
		if err := pw.gz.Close(); err != nil {
			return err
		}
	default:
		pw.out.Write(pw.zenc.EncodeAll(unit, pw.out.AvailableBuffer()))
	}
	n, err := pw.w.Write(pw.out.Bytes())
	pw.stats.Out += int64(n)
	if err != nil {
		return err
	}
	pw.stats.Units++
	return nil
}

// Close flushes the last unit. It does not close the underlying writer.
func (pw *Writer) Close() error {
	if pw.err != nil {
		return pw.err
	}
	if len(pw.buf) > 0 {
		if err := pw.emit(pw.buf); err != nil {
			pw.err = err
			return err
		}
		pw.buf = pw.buf[:0]
	}
	if pw.zenc != nil {
		pw.zenc.Close()
	}
	pw.err = errors.New("pack: writer closed")
	return nil
}

// Stats returns the counters of the data written so far.
func (pw *Writer) Stats() Stats {
	return pw.stats
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Repack reads src, which may be plain, gzip or zstd, and writes it to dst
// as a block-addressable stream.
func Repack(ctx context.Context, dst io.Writer, src io.Reader, opts ...Option) (Stats, error) {
	in, closeIn, err := decode(src)
	if err != nil {
		return Stats{}, err
	}
	defer closeIn()

	pw, err := NewWriter(dst, opts...)
	if err != nil {
		return Stats{}, err
	}
	buf := make([]byte, 256<<10)
	for {
		if err := ctx.Err(); err != nil {
			return pw.Stats(), err
		}
		n, err := in.Read(buf)
		if n > 0 {
			if _, werr := pw.Write(buf[:n]); werr != nil {
				return pw.Stats(), werr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return pw.Stats(), fmt.Errorf("pack: read input: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return pw.Stats(), err
	}
	return pw.Stats(), nil
}

// decode sniffs src and returns its decompressed content.
func decode(src io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReaderSize(src, 64<<10)
	head, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("pack: read input: %w", err)
	}
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("pack: gzip input: %w", err)
		}
		return zr, func() { zr.Close() }, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, fmt.Errorf("pack: zstd input: %w", err)
		}
		return zr, zr.Close, nil
	default:
		return br, func() {}, nil
	}
}
