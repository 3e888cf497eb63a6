package seek

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	zstdFrameMagic     = 0xFD2FB528
	zstdSkippableMagic = 0x184D2A50
	zstdSkippableMask  = 0xFFFFFFF0

	// maxFrameHeaderSize is magic + descriptor + window + dictionary ID + content size.
	maxFrameHeaderSize = 4 + 1 + 1 + 4 + 8
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

type zstdCodec struct {
	pool *DecompressPool
}

// Zstd returns the codec for zstd streams made of independent frames.
// Each data frame is a unit; skippable frames are passed over.
func Zstd() Codec {
	return ZstdWithPool(NewDecompressPool(DefaultMaxDecoderMemory))
}

// ZstdWithPool returns a zstd codec drawing decoders from pool.
func ZstdWithPool(pool *DecompressPool) Codec {
	return &zstdCodec{pool: pool}
}

func (c *zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Magic() []byte { return zstdMagic }

func (c *zstdCodec) NewScanner(r io.Reader) UnitScanner {
	return &zstdScanner{cr: newByteCounter(r, scanBufferSize), pool: c.pool}
}

func (c *zstdCodec) Resume(r io.Reader, _ []byte) (io.ReadCloser, error) {
	dec, release, err := c.pool.Get(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	return &decoderReadCloser{dec: dec, release: release}, nil
}

// decoderReadCloser returns a pooled decoder on Close.
type decoderReadCloser struct {
	dec     *zstd.Decoder
	release func()
	once    sync.Once
}

func (d *decoderReadCloser) Read(p []byte) (int, error) {
	return d.dec.Read(p)
}

func (d *decoderReadCloser) Close() error {
	d.once.Do(d.release)
	return nil
}

type zstdScanner struct {
	cr      *byteCounter
	pool    *DecompressPool
	dec     *zstd.Decoder
	release func()
	frame   *frameReader
}

func (s *zstdScanner) Next() (Unit, io.Reader, error) {
	if s.frame != nil {
		if _, err := io.Copy(io.Discard, s.dec); err != nil {
			return Unit{}, nil, fmt.Errorf("%w: %v", ErrDecompression, err)
		}
		if _, err := io.Copy(io.Discard, s.frame); err != nil {
			return Unit{}, nil, fmt.Errorf("%w: %v", ErrDecompression, err)
		}
		s.frame = nil
	}

	for {
		hdr, err := s.cr.Peek(8)
		if len(hdr) == 0 && errors.Is(err, io.EOF) {
			s.close()
			return Unit{}, nil, io.EOF
		}
		if len(hdr) < 4 {
			return Unit{}, nil, fmt.Errorf("%w: truncated frame at %d", ErrDecompression, s.cr.n)
		}

		magic := binary.LittleEndian.Uint32(hdr)
		if magic&zstdSkippableMask == zstdSkippableMagic {
			if len(hdr) < 8 {
				return Unit{}, nil, fmt.Errorf("%w: truncated skippable frame at %d", ErrDecompression, s.cr.n)
			}
			if err := s.skip(8 + int64(binary.LittleEndian.Uint32(hdr[4:]))); err != nil {
				return Unit{}, nil, err
			}
			continue
		}
		if magic != zstdFrameMagic {
			return Unit{}, nil, fmt.Errorf("%w: bad frame magic %#x at %d", ErrDecompression, magic, s.cr.n)
		}

		unit := Unit{CompressedOffset: s.cr.n}
		s.frame = &frameReader{r: s.cr}
		if s.dec == nil {
			dec, release, err := s.pool.Get(s.frame)
			if err != nil {
				return Unit{}, nil, fmt.Errorf("%w: %v", ErrDecompression, err)
			}
			s.dec, s.release = dec, release
		} else if err := s.dec.Reset(s.frame); err != nil {
			return Unit{}, nil, fmt.Errorf("%w: %v", ErrDecompression, err)
		}
		return unit, s.dec, nil
	}
}

func (s *zstdScanner) skip(n int64) error {
	for n > 0 {
		step := int(min(n, scanBufferSize))
		d, err := s.cr.Discard(step)
		n -= int64(d)
		if err != nil {
			return fmt.Errorf("%w: skippable frame: %v", ErrDecompression, err)
		}
	}
	return nil
}

func (s *zstdScanner) close() {
	if s.release != nil {
		s.release()
		s.release = nil
		s.dec = nil
	}
}

// frameReader passes through exactly one zstd frame and then reports io.EOF.
//
// It parses the frame header and block headers to find the frame end without
// decoding, so a decoder reading from it stops at the frame boundary.
type frameReader struct {
	r        io.Reader
	hdr      [maxFrameHeaderSize]byte
	buf      []byte
	payload  int64
	started  bool
	last     bool
	checksum bool
	done     bool
}

func (f *frameReader) Read(p []byte) (int, error) {
	for len(f.buf) == 0 && f.payload == 0 {
		if f.done {
			return 0, io.EOF
		}
		if err := f.advance(); err != nil {
			return 0, err
		}
	}
	if len(f.buf) > 0 {
		n := copy(p, f.buf)
		f.buf = f.buf[n:]
		return n, nil
	}
	if int64(len(p)) > f.payload {
		p = p[:f.payload]
	}
	n, err := f.r.Read(p)
	f.payload -= int64(n)
	if errors.Is(err, io.EOF) {
		if f.payload > 0 {
			return n, io.ErrUnexpectedEOF
		}
		err = nil
	}
	return n, err
}

func (f *frameReader) advance() error {
	switch {
	case !f.started:
		f.started = true
		return f.readFrameHeader()
	case f.last:
		f.done = true
		if f.checksum {
			return f.fill(4)
		}
		return nil
	default:
		return f.readBlockHeader()
	}
}

func (f *frameReader) readFrameHeader() error {
	if err := f.fill(5); err != nil {
		return err
	}
	fhd := f.hdr[4]
	if fhd&0x08 != 0 {
		return fmt.Errorf("%w: reserved frame header bit set", ErrDecompression)
	}
	single := fhd&0x20 != 0
	f.checksum = fhd&0x04 != 0

	n := [4]int{0, 1, 2, 4}[fhd&0x03]
	if !single {
		n++
	}
	switch fhd >> 6 {
	case 0:
		if single {
			n++
		}
	case 1:
		n += 2
	case 2:
		n += 4
	case 3:
		n += 8
	}
	if _, err := io.ReadFull(f.r, f.hdr[5:5+n]); err != nil {
		return unexpected(err)
	}
	f.buf = f.hdr[:5+n]
	return nil
}

func (f *frameReader) readBlockHeader() error {
	if err := f.fill(3); err != nil {
		return err
	}
	v := uint32(f.hdr[0]) | uint32(f.hdr[1])<<8 | uint32(f.hdr[2])<<16
	f.last = v&1 != 0
	size := int64(v >> 3)
	switch (v >> 1) & 0x03 {
	case 0, 2:
		f.payload = size
	case 1:
		f.payload = 1
	default:
		return fmt.Errorf("%w: reserved block type", ErrDecompression)
	}
	return nil
}

// fill reads n bytes into the header scratch and queues them for output.
func (f *frameReader) fill(n int) error {
	if _, err := io.ReadFull(f.r, f.hdr[:n]); err != nil {
		return unexpected(err)
	}
	f.buf = f.hdr[:n]
	return nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %v", ErrDecompression, err)
}
