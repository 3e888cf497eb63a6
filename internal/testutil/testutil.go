// Package testutil provides in-memory sources and synthetic fixtures for tests.
package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync/atomic"
)

// MemSource implements an in-memory byte source for tests.
// It counts the bytes served through ReadAt.
type MemSource struct {
	data     []byte
	sourceID string
	read     atomic.Int64
	calls    atomic.Int64
}

// NewMemSource returns a byte source backed by the provided data.
func NewMemSource(data []byte) *MemSource {
	sum := sha256.Sum256(data)
	return &MemSource{
		data:     data,
		sourceID: "mem:" + hex.EncodeToString(sum[:]),
	}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MemSource) ReadAt(p []byte, off int64) (int, error) {
	m.calls.Add(1)
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	m.read.Add(int64(n))
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MemSource) Size() int64 {
	return int64(len(m.data))
}

// SourceID returns a stable identifier for the source data.
func (m *MemSource) SourceID() string {
	return m.sourceID
}

// Bytes returns the backing slice.
func (m *MemSource) Bytes() []byte {
	return m.data
}

// BytesRead returns the number of bytes served by ReadAt.
func (m *MemSource) BytesRead() int64 {
	return m.read.Load()
}

// Calls returns the number of ReadAt calls.
func (m *MemSource) Calls() int64 {
	return m.calls.Load()
}

// ResetCounters zeroes the read counters.
func (m *MemSource) ResetCounters() {
	m.read.Store(0)
	m.calls.Store(0)
}
