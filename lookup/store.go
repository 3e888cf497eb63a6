package lookup

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// DefaultEntityColumn is the entity id column used when none is configured.
const DefaultEntityColumn = "subject_id"

// Store publishes lookup tables backed by a CSV file.
//
// Readers take lock-free snapshots. Writers are serialized; each update is
// persisted with a temp file and rename before it becomes visible, so a
// failed update leaves both the file and the published table unchanged.
type Store struct {
	path         string
	entityColumn string
	logger       *slog.Logger

	mu  sync.Mutex
	cur atomic.Pointer[Table]
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithEntityColumn sets the entity id column name.
func WithEntityColumn(name string) StoreOption {
	return func(s *Store) {
		s.entityColumn = name
	}
}

// WithLogger sets the logger for store operations.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// OpenStore loads the table at path. A missing file yields an empty table;
// the file is created on the first update.
func OpenStore(path string, opts ...StoreOption) (*Store, error) {
	s := &Store{path: path, entityColumn: DefaultEntityColumn}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns the current table.
func (s *Store) Snapshot() *Table {
	return s.cur.Load()
}

// Reload replaces the published table with the content of the backing file.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.cur.Store(NewTable(s.entityColumn))
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	t, err := Read(bufio.NewReader(f), s.entityColumn)
	if err != nil {
		return fmt.Errorf("load %s: %w", s.path, err)
	}
	s.cur.Store(t)
	s.logger.Debug("lookup table loaded", "path", s.path, "entities", t.Len(), "files", len(t.Files()))
	return nil
}

// Update derives a new table from the current one with fn, persists it and
// publishes it. If fn or the write fails, nothing changes.
func (s *Store) Update(fn func(*Table) (*Table, error)) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.cur.Load())
	if err != nil {
		return nil, err
	}
	if err := writeTableAtomic(s.path, next); err != nil {
		return nil, fmt.Errorf("persist %s: %w", s.path, err)
	}
	s.cur.Store(next)
	s.logger.Debug("lookup table written", "path", s.path, "entities", next.Len())
	return next, nil
}

// writeTableAtomic writes the table to a temp file then renames it to target.
func writeTableAtomic(target string, t *Table) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".lookup-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	if err := t.Write(w); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
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
