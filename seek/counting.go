package seek

import (
	"bufio"
	"io"
)

// countingReader wraps a reader and counts bytes read.
type countingReader struct {
	r io.Reader
	n int64
}

// Read implements io.Reader.
func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// byteCounter counts bytes consumed from a buffered reader.
//
// It implements io.ByteReader so that gzip and flate read exactly the bytes
// of one member and no more, which keeps the count equal to the compressed
// offset of the next member.
type byteCounter struct {
	br *bufio.Reader
	n  int64
}

func newByteCounter(r io.Reader, size int) *byteCounter {
	return &byteCounter{br: bufio.NewReaderSize(r, size)}
}

// Read implements io.Reader.
func (c *byteCounter) Read(p []byte) (int, error) {
	n, err := c.br.Read(p)
	c.n += int64(n)
	return n, err
}

// ReadByte implements io.ByteReader.
func (c *byteCounter) ReadByte() (byte, error) {
	b, err := c.br.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

// Peek returns the next n bytes without consuming them.
func (c *byteCounter) Peek(n int) ([]byte, error) {
	return c.br.Peek(n)
}

// Discard skips the next n bytes.
func (c *byteCounter) Discard(n int) (int, error) {
	d, err := c.br.Discard(n)
	c.n += int64(d)
	return d, err
}
