package spanindex

import (
	"errors"
	"fmt"

	"github.com/meigma/spanindex/internal/csvscan"
	"github.com/meigma/spanindex/lookup"
	"github.com/meigma/spanindex/seek"
)

// Sentinel errors re-exported from subpackages.
var (
	// ErrNotIndexed is returned when a file has never been indexed.
	ErrNotIndexed = lookup.ErrNotIndexed

	// ErrUnknownEntity is returned when an entity has no span for a file.
	// Search and Lookup report it as an empty result, not as an error.
	ErrUnknownEntity = lookup.ErrUnknownEntity

	// ErrMalformedRow is returned when a row cannot be parsed.
	ErrMalformedRow = csvscan.ErrMalformed

	// ErrDecompression is returned when a compressed file cannot be decoded.
	ErrDecompression = seek.ErrDecompression
)

// Sentinel errors specific to the spanindex package.
var (
	// ErrNotFound is returned for unregistered file ids and missing files.
	ErrNotFound = errors.New("spanindex: not found")

	// ErrUnsorted matches *UnsortedInputError.
	ErrUnsorted = errors.New("spanindex: input not grouped by entity")

	// ErrCorruptIndex matches *CorruptIndexError.
	ErrCorruptIndex = errors.New("spanindex: corrupt index")

	// ErrUnknownColumn is returned when a column is not in a file's header.
	ErrUnknownColumn = errors.New("spanindex: unknown column")
)

// UnsortedInputError reports an entity id that reappears after its rows
// were closed by a different id.
type UnsortedInputError struct {
	FileID   string
	EntityID int64

	// FirstOffset is where the entity's earlier rows started.
	FirstOffset int64

	// Offset is where the entity reappeared.
	Offset int64
}

func (e *UnsortedInputError) Error() string {
	return fmt.Sprintf("spanindex: %s: entity %d reappears at offset %d after its rows ended (first seen at %d)",
		e.FileID, e.EntityID, e.Offset, e.FirstOffset)
}

// Is reports whether target is ErrUnsorted.
func (e *UnsortedInputError) Is(target error) bool {
	return target == ErrUnsorted
}

// CorruptIndexError reports a span that does not return the rows of its entity.
type CorruptIndexError struct {
	FileID   string
	EntityID int64
	Span     lookup.Span
	Reason   string
}

func (e *CorruptIndexError) Error() string {
	return fmt.Sprintf("spanindex: %s: span %s of entity %d: %s", e.FileID, e.Span, e.EntityID, e.Reason)
}

// Is reports whether target is ErrCorruptIndex.
func (e *CorruptIndexError) Is(target error) bool {
	return target == ErrCorruptIndex
}
