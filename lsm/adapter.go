package lsm

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Open is the coordinator's standard startup sequence: resolve the next
// WAL/memtable ids from whatever is already on disk, construct the
// coordinator, and — only when the directory already holds WAL segments or
// L1 files, so that a starting id came out non-zero — run Restore. A fresh
// data directory skips Restore entirely, since its
// precondition (empty WAL, empty memtable) holds trivially and calling it
// anyway would just be wasted directory scans.
func Open(cfg Config, logger *zap.Logger, reg prometheus.Registerer) (*LSM, error) {
	walID, memtableID, err := ResolveStartingIDs(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	hadPriorState := walID != 0 || memtableID != 0
	cfg.Wal.ID = walID
	cfg.Memtable.ID = memtableID

	engine, err := New(cfg, logger, reg)
	if err != nil {
		return nil, err
	}

	if hadPriorState {
		if err := engine.Restore(); err != nil {
			return nil, err
		}
	}

	return engine, nil
}
