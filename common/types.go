package common

// StorageEngine is the interface the embedded key-value store implements.
// It exists as a seam so the façade and client packages depend on a
// narrow contract rather than the concrete *lsm.LSM type.
type StorageEngine interface {
	Insert(key, value []byte) error

	// Get returns ErrKeyNotFound if the key is missing or tombstoned.
	Get(key []byte) ([]byte, error)

	Delete(key []byte) error

	// Close flushes outstanding buffers and releases file handles.
	Close() error

	// Sync force-flushes the WAL buffer and fsyncs the active segment.
	Sync() error

	// Stats returns a snapshot of engine statistics.
	Stats() Stats
}

// Stats is a point-in-time snapshot of engine statistics.
type Stats struct {
	NumKeys       int64
	L1Files       int
	L2Files       int
	ActiveSegSize int64
	TotalDiskSize int64

	WriteCount   int64
	ReadCount    int64
	FlushCount   int64
	CompactCount int64
}
