package seek

import "errors"

var (
	// ErrDecompression is returned when the compressed stream cannot be decoded.
	ErrDecompression = errors.New("seek: decompression failed")

	// ErrInvalidRange is returned for negative or inverted ranges.
	ErrInvalidRange = errors.New("seek: invalid range")

	// ErrOutOfRange is returned when a range extends past the decompressed stream.
	ErrOutOfRange = errors.New("seek: range past end of stream")

	// ErrUnknownCodec is returned when no codec is registered for a name or header.
	ErrUnknownCodec = errors.New("seek: unknown codec")

	// ErrStale is returned when a persisted index no longer matches its source.
	ErrStale = errors.New("seek: stale index")

	// ErrCorrupt is returned when a persisted index fails validation.
	ErrCorrupt = errors.New("seek: corrupt index")
)
