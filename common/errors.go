package common

import "errors"

var (
	// ErrKeyNotFound is returned when a lookup definitively misses: the key
	// was never written, or its most recent record is a tombstone.
	ErrKeyNotFound = errors.New("key not found")

	// ErrClosed names the condition of an operation on a closed engine.
	// *lsm.LSM does not check for that condition and never returns it.
	ErrClosed = errors.New("storage engine closed")
)
