package lsm

import "sync"

// LevelState tracks the ids of L1 and L2 files. L1 holds one file per
// flushed memtable (sstable-<id>); L2 holds compacted files (l2-<id>)
// produced by ForceCompaction. Each list carries its own exclusive lock per
// the concurrency model: mutations are held only across the list update,
// never across the file I/O that produces or consumes a file.
type LevelState struct {
	l1Mu  sync.RWMutex
	l1IDs []uint64

	l2Mu      sync.RWMutex
	l2IDs     []uint64
	l2Counter uint64
}

// NewLevelState returns an empty level tracker.
func NewLevelState() *LevelState {
	return &LevelState{}
}

// AddL1 records id (a memtable id, newest last) as holding an active L1 file.
func (ls *LevelState) AddL1(id uint64) {
	ls.l1Mu.Lock()
	defer ls.l1Mu.Unlock()
	ls.l1IDs = append(ls.l1IDs, id)
}

// L1IDsNewestFirst returns a snapshot of L1 ids ordered newest-to-oldest,
// matching the read path's required traversal order.
func (ls *LevelState) L1IDsNewestFirst() []uint64 {
	ls.l1Mu.RLock()
	defer ls.l1Mu.RUnlock()
	out := make([]uint64, len(ls.l1IDs))
	for i, id := range ls.l1IDs {
		out[len(ls.l1IDs)-1-i] = id
	}
	return out
}

// L1IDsOldestFirst returns a snapshot of L1 ids in the order they were
// added (oldest first), the order ForceCompaction must merge them in.
func (ls *LevelState) L1IDsOldestFirst() []uint64 {
	ls.l1Mu.RLock()
	defer ls.l1Mu.RUnlock()
	out := make([]uint64, len(ls.l1IDs))
	copy(out, ls.l1IDs)
	return out
}

// ClearL1 empties the L1 id list, used after ForceCompaction has consumed
// every current L1 file into a new L2 file.
func (ls *LevelState) ClearL1() {
	ls.l1Mu.Lock()
	defer ls.l1Mu.Unlock()
	ls.l1IDs = nil
}

// NumL1 reports the current L1 file count.
func (ls *LevelState) NumL1() int {
	ls.l1Mu.RLock()
	defer ls.l1Mu.RUnlock()
	return len(ls.l1IDs)
}

// NextL2ID allocates the next L2 file id via fetch-and-add.
func (ls *LevelState) NextL2ID() uint64 {
	ls.l2Mu.Lock()
	defer ls.l2Mu.Unlock()
	id := ls.l2Counter
	ls.l2Counter++
	return id
}

// AddL2 records id as holding a completed L2 file.
func (ls *LevelState) AddL2(id uint64) {
	ls.l2Mu.Lock()
	defer ls.l2Mu.Unlock()
	ls.l2IDs = append(ls.l2IDs, id)
}

// L2IDsNewestFirst returns a snapshot of L2 ids ordered newest-to-oldest.
// Because L2-to-L2 merging is not implemented, Get must consult every one
// of these files, not just the newest — see ForceCompaction's doc comment.
func (ls *LevelState) L2IDsNewestFirst() []uint64 {
	ls.l2Mu.RLock()
	defer ls.l2Mu.RUnlock()
	out := make([]uint64, len(ls.l2IDs))
	for i, id := range ls.l2IDs {
		out[len(ls.l2IDs)-1-i] = id
	}
	return out
}

// NumL2 reports the current L2 file count.
func (ls *LevelState) NumL2() int {
	ls.l2Mu.RLock()
	defer ls.l2Mu.RUnlock()
	return len(ls.l2IDs)
}

// SetL2Counter seeds the fetch-and-add counter during restore/directory-scan
// bootstrap, so freshly allocated ids never collide with files already on
// disk.
func (ls *LevelState) SetL2Counter(next uint64) {
	ls.l2Mu.Lock()
	defer ls.l2Mu.Unlock()
	if next > ls.l2Counter {
		ls.l2Counter = next
	}
}
