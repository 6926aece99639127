package lsm

import "errors"

// Error taxonomy for the storage engine's I/O paths. Call sites build errors
// as fmt.Errorf("%w: %v", sentinel, cause): callers can errors.Is against
// the kind, while the underlying OS/IO error is kept only as message text
// and is not reachable through errors.Is or errors.As.
var (
	// ErrSegmentOpen is returned when a WAL segment file cannot be created
	// or opened (including the exclusive-create invariant being violated).
	ErrSegmentOpen = errors.New("lsm: unable to open wal segment")

	// ErrSegmentFsync is returned when fsync on a segment fails.
	ErrSegmentFsync = errors.New("lsm: unable to fsync wal segment")

	// ErrSegmentDelete is returned when a closed segment cannot be removed.
	ErrSegmentDelete = errors.New("lsm: unable to delete closed segment")

	// ErrWalAppend is returned when a write-through append to the active
	// segment fails.
	ErrWalAppend = errors.New("lsm: could not append to wal segment")

	// ErrWalDirectoryOpen is returned when the WAL's log directory cannot
	// be enumerated.
	ErrWalDirectoryOpen = errors.New("lsm: unable to open wal directory")

	// ErrWalRestoreDirectory is returned when the working directory cannot
	// be enumerated during restore.
	ErrWalRestoreDirectory = errors.New("lsm: unable to open directory to restore")

	// ErrInvariant is returned when a precondition documented on the
	// public API is violated by the caller (e.g. Restore called against a
	// non-empty engine).
	ErrInvariant = errors.New("lsm: invariant violated")
)
