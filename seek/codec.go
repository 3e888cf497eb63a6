package seek

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Unit is one independently decodable piece of a compressed stream.
type Unit struct {
	// CompressedOffset is where the unit starts in the compressed stream.
	CompressedOffset int64

	// Token is the resume token for a checkpoint placed at this unit.
	Token []byte
}

// UnitScanner walks the units of a compressed stream in order.
type UnitScanner interface {
	// Next advances to the next unit and returns a reader over its
	// decompressed bytes. The previous unit's reader must not be used after
	// Next is called. Next returns io.EOF after the last unit.
	Next() (Unit, io.Reader, error)
}

// Codec decodes one block-addressable compression format.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Name returns the registered name of the codec.
	Name() string

	// Magic returns the leading bytes that identify the format.
	Magic() []byte

	// NewScanner returns a scanner over the units of the stream in r,
	// starting at compressed offset 0.
	NewScanner(r io.Reader) UnitScanner

	// Resume returns the decompressed stream starting at a checkpoint.
	// r is positioned at the checkpoint's compressed offset.
	Resume(r io.Reader, token []byte) (io.ReadCloser, error)
}

var (
	codecsMu sync.RWMutex
	codecs   = map[string]Codec{}
)

func init() {
	Register(Gzip())
	Register(Zstd())
}

// Register makes a codec available by name and by magic bytes.
// Registering a name twice replaces the earlier codec.
func Register(c Codec) {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	codecs[c.Name()] = c
}

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// Codecs returns the names of all registered codecs, sorted.
func Codecs() []string {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	return sortedNames()
}

// Sniff returns the codec whose magic bytes prefix header.
func Sniff(header []byte) (Codec, error) {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	for _, name := range sortedNames() {
		c := codecs[name]
		if magic := c.Magic(); len(magic) > 0 && bytes.HasPrefix(header, magic) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: unrecognized header % x", ErrUnknownCodec, header)
}

// Detect reads the leading bytes of src and returns the matching codec.
func Detect(src Source) (Codec, error) {
	header := make([]byte, 4)
	n, err := src.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return Sniff(header[:n])
}

// sortedNames must be called with codecsMu held.
func sortedNames() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
