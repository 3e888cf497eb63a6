package seek

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// scanBufferSize is the read buffer used while walking compressed units.
const scanBufferSize = 1 << 20

var gzipMagic = []byte{0x1f, 0x8b}

type gzipCodec struct{}

// Gzip returns the codec for multi-member gzip streams.
// Each gzip member is a unit.
func Gzip() Codec {
	return gzipCodec{}
}

func (gzipCodec) Name() string { return "gzip" }

func (gzipCodec) Magic() []byte { return gzipMagic }

func (gzipCodec) NewScanner(r io.Reader) UnitScanner {
	return &gzipScanner{cr: newByteCounter(r, scanBufferSize)}
}

func (gzipCodec) Resume(r io.Reader, _ []byte) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	return zr, nil
}

type gzipScanner struct {
	cr *byteCounter
	zr *gzip.Reader
}

func (s *gzipScanner) Next() (Unit, io.Reader, error) {
	if s.zr != nil {
		// Finish the previous member so the counter sits on the next header.
		if _, err := io.Copy(io.Discard, s.zr); err != nil {
			return Unit{}, nil, fmt.Errorf("%w: %v", ErrDecompression, err)
		}
	}
	if _, err := s.cr.Peek(1); err == io.EOF {
		return Unit{}, nil, io.EOF
	}

	unit := Unit{CompressedOffset: s.cr.n}
	var err error
	if s.zr == nil {
		s.zr, err = gzip.NewReader(s.cr)
	} else {
		err = s.zr.Reset(s.cr)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Unit{}, nil, fmt.Errorf("%w: member at %d: %v", ErrDecompression, unit.CompressedOffset, err)
	}
	s.zr.Multistream(false)
	return unit, s.zr, nil
}
