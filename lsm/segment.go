package lsm

import (
	"fmt"
	"os"
	"path/filepath"
)

// segmentHeader is the first line written to every segment file. "ch1"
// names the on-disk format generation (chipmunk, format 1).
const segmentHeader = "ch1\n"

// Segment is a single append-only WAL file, identified by a monotonically
// increasing id. Once closed it is never reopened; it is either compacted
// away (by virtue of its contents reaching an SSTable) or deleted.
type Segment struct {
	id   uint64
	path string
	file *os.File
}

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.wal", id))
}

// OpenSegment creates a new segment file <id>.wal in dir using exclusive
// creation: the file must not already exist. This guards against a crashed
// restart that mis-identifies the next id and would otherwise silently
// overwrite a segment still referenced by closed_segments bookkeeping.
func OpenSegment(id uint64, dir string) (*Segment, error) {
	path := segmentPath(dir, id)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSegmentOpen, err)
	}

	if _, err := f.WriteString(segmentHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrSegmentOpen, err)
	}

	return &Segment{id: id, path: path, file: f}, nil
}

// openExistingSegment opens an already-created segment file for read/append.
// It does not rewrite the header.
func openExistingSegment(id uint64, path string) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSegmentOpen, err)
	}
	return &Segment{id: id, path: path, file: f}, nil
}

// ID returns the segment's identifier.
func (s *Segment) ID() uint64 { return s.id }

// Path returns the segment's file path.
func (s *Segment) Path() string { return s.path }

// Write appends raw bytes to the segment (used by Wal's buffered writer
// when it flushes, not called directly by entry producers).
func (s *Segment) Write(p []byte) (int, error) {
	n, err := s.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrWalAppend, err)
	}
	return n, nil
}

// Sync performs a full file sync (metadata and data) to disk.
func (s *Segment) Sync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrSegmentFsync, err)
	}
	return nil
}

// Close releases the segment's file handle. Safe to call on an already
// closed segment.
func (s *Segment) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Remove closes and deletes the segment's underlying file.
func (s *Segment) Remove() error {
	s.Close()
	if err := os.Remove(s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrSegmentDelete, err)
	}
	return nil
}

// reopenForReading returns a fresh read-only handle positioned at the start
// of the file, leaving the segment's append handle untouched. Used by
// Wal.Lines to scan without disturbing the append offset.
func (s *Segment) reopenForReading() (*os.File, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSegmentOpen, err)
	}
	return f, nil
}
