package lsm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Wal is a buffered, segmented write-ahead log. A single Wal owns exactly
// one active, appendable Segment at a time, plus the ids of previously
// active segments that are "closed" (superseded by a rotation) but not yet
// deleted.
//
// All public methods are safe for concurrent use; a single mutex serializes
// them, with hold times bounded to a buffered write plus, on Rotate, one
// fsync.
type Wal struct {
	mu sync.Mutex

	logDirectory string
	active       *Segment
	currentSize  uint64
	maxSize      uint64

	buffer     []byte
	bufferSize int

	closedSegments []uint64

	logger *zap.Logger
}

// NewWal opens (creating if necessary) the log directory and a fresh active
// segment at cfg.ID.
func NewWal(cfg WalConfig, logger *zap.Logger) (*Wal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.LogDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWalDirectoryOpen, err)
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultWalBufferSize
	}
	maxSize := cfg.MaxSize
	if maxSize == 0 {
		maxSize = defaultWalMaxSize
	}

	active, err := OpenSegment(cfg.ID, cfg.LogDirectory)
	if err != nil {
		return nil, err
	}

	return &Wal{
		logDirectory: cfg.LogDirectory,
		active:       active,
		maxSize:      maxSize,
		buffer:       make([]byte, 0, bufferSize),
		bufferSize:   bufferSize,
		logger:       logger,
	}, nil
}

// Append encodes entry into the in-memory buffer, accounts its length
// against current_size, then applies the buffer-flush policy (flush iff the
// buffer has reached bufferSize). It returns the number of encoded bytes
// written. Append alone does not fsync; durability for a closed segment is
// only guaranteed once Rotate returns.
func (w *Wal) Append(entry WalEntry) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(entry)
}

func (w *Wal) appendLocked(entry WalEntry) (int, error) {
	encoded := EncodeEntry(entry)
	w.buffer = append(w.buffer, encoded...)
	w.currentSize += uint64(len(encoded))
	if err := w.flushLocked(false); err != nil {
		return 0, err
	}
	return len(encoded), nil
}

// flushLocked writes buffered bytes to the active segment iff
// len(buffer) >= bufferSize or force is true. Must be called with mu held.
func (w *Wal) flushLocked(force bool) error {
	if !force && len(w.buffer) < w.bufferSize {
		return nil
	}
	if len(w.buffer) == 0 {
		return nil
	}
	if _, err := w.active.Write(w.buffer); err != nil {
		return err
	}
	w.buffer = w.buffer[:0]
	return nil
}

// FlushBuffer force-writes any buffered bytes to the active segment. This
// pushes bytes to the kernel but does not fsync; a subsequent Rotate (or an
// explicit Segment.Sync) is required for durability to disk.
func (w *Wal) FlushBuffer() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(true)
}

// Rotate force-flushes the buffer, fsyncs the active segment, records its
// id as closed, resets current_size to zero, and opens a new active segment
// at id+1. After Rotate returns successfully, every entry written to the
// segment being closed is durable on disk.
func (w *Wal) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushLocked(true); err != nil {
		return err
	}
	if err := w.active.Sync(); err != nil {
		return err
	}

	closedID := w.active.ID()
	w.closedSegments = append(w.closedSegments, closedID)
	w.currentSize = 0

	next, err := OpenSegment(closedID+1, w.logDirectory)
	if err != nil {
		return err
	}
	w.active = next
	return nil
}

// Restore scans the log directory for existing segment files and replays
// their entries through the normal append path, consolidating them into the
// current active segment. Its precondition is current_size == 0: it is not
// a merge operation and must only be called against a freshly opened,
// empty Wal.
//
// Files whose name does not contain "wal", directories, and zero-length
// files are skipped. A decode failure partway through a file is logged at
// warning level and stops further reading of that file only (tolerating a
// torn write at the tail of the most recently active segment); it does not
// abort the restore of subsequent files. A buffer flush is forced once all
// files have been scanned.
func (w *Wal) Restore() ([]WalEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSize != 0 {
		return nil, fmt.Errorf("%w: wal.restore requires current_size == 0", ErrInvariant)
	}

	dirEntries, err := os.ReadDir(w.logDirectory)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWalRestoreDirectory, err)
	}

	var replayed []WalEntry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !strings.Contains(name, "wal") {
			continue
		}
		info, err := de.Info()
		if err != nil || info.Size() == 0 {
			continue
		}

		path := filepath.Join(w.logDirectory, name)
		entries := w.readSegmentEntries(path)
		for _, e := range entries {
			if _, err := w.appendLocked(e); err != nil {
				return nil, err
			}
			replayed = append(replayed, e)
		}
	}

	if err := w.flushLocked(true); err != nil {
		return nil, err
	}
	return replayed, nil
}

// readSegmentEntries reads the header and every well-formed frame from the
// segment file at path, stopping (without error) at the first decode
// failure or clean EOF. Decode failures are logged, never propagated: they
// are expected at the tail of a segment that was mid-write during a crash.
func (w *Wal) readSegmentEntries(path string) []WalEntry {
	f, err := os.Open(path)
	if err != nil {
		w.logger.Warn("restore: cannot open segment", zap.String("path", path), zap.Error(err))
		return nil
	}
	defer f.Close()

	header := make([]byte, len(segmentHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		w.logger.Warn("restore: segment too short for header", zap.String("path", path), zap.Error(err))
		return nil
	}

	r := bufio.NewReader(f)
	var entries []WalEntry
	for {
		e, err := DecodeEntry(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.logger.Warn("restore: skipping undecodable trailing entry",
					zap.String("path", path), zap.Error(err))
			}
			break
		}
		entries = append(entries, e)
	}
	return entries
}

// Lines returns an iterator over the framed entries of the active segment,
// skipping its header line. It reads from a fresh file handle so it does
// not disturb the append offset.
func (w *Wal) Lines() (*SegmentLineIterator, error) {
	w.mu.Lock()
	active := w.active
	w.mu.Unlock()

	f, err := active.reopenForReading()
	if err != nil {
		return nil, err
	}

	header := make([]byte, len(segmentHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("lsm: segment missing header: %w", err)
	}

	return &SegmentLineIterator{f: f, r: bufio.NewReader(f)}, nil
}

// SegmentLineIterator iterates the framed entries of a single segment file.
type SegmentLineIterator struct {
	f   *os.File
	r   *bufio.Reader
	cur WalEntry
	err error
}

// Next advances the iterator. It returns false at clean EOF or on error;
// callers should check Err() after a false return.
func (it *SegmentLineIterator) Next() bool {
	e, err := DecodeEntry(it.r)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			it.err = err
		}
		return false
	}
	it.cur = e
	return true
}

// Entry returns the entry most recently yielded by Next.
func (it *SegmentLineIterator) Entry() WalEntry { return it.cur }

// Err returns the first non-EOF error encountered, if any.
func (it *SegmentLineIterator) Err() error { return it.err }

// Close releases the iterator's file handle.
func (it *SegmentLineIterator) Close() error { return it.f.Close() }

// ClosedSegments returns a snapshot of the ids of segments that are closed
// (superseded by rotation) but not yet deleted.
func (w *Wal) ClosedSegments() []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]uint64, len(w.closedSegments))
	copy(out, w.closedSegments)
	return out
}

// ClearSegments forgets the closed-segment bookkeeping without touching any
// files on disk.
func (w *Wal) ClearSegments() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closedSegments = nil
}

// RemoveClosedSegments deletes each closed segment's file from disk, then
// clears the bookkeeping list. Callers must ensure the data in those
// segments has already been durably captured by a flushed SSTable.
func (w *Wal) RemoveClosedSegments() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, id := range w.closedSegments {
		path := segmentPath(w.logDirectory, id)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", ErrSegmentDelete, err)
		}
	}
	w.closedSegments = nil
	return nil
}

// Size returns the number of bytes appended (buffered or flushed) to the
// active segment's payload since the last rotation.
func (w *Wal) Size() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentSize
}

// MaxSize returns the configured rotation threshold.
func (w *Wal) MaxSize() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxSize
}

// ID returns the active segment's id.
func (w *Wal) ID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active.ID()
}

// Close force-flushes the buffer and closes the active segment's file
// handle, without fsyncing. Use Rotate or an explicit Sync for durability
// guarantees before Close.
func (w *Wal) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(true); err != nil {
		return err
	}
	return w.active.Close()
}

// Sync force-flushes the buffer and fsyncs the active segment.
func (w *Wal) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(true); err != nil {
		return err
	}
	return w.active.Sync()
}
