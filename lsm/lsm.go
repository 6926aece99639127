package lsm

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jdockerty/chipmunk/common"
)

// LSM is the coordinator: the single entry point for Insert/Get/Delete,
// memtable rotation, L1-to-L2 compaction, and crash restore. It implements
// common.StorageEngine directly.
type LSM struct {
	cfg    Config
	logger *zap.Logger

	mu             sync.RWMutex // guards swapping the activeMemtable pointer
	activeMemtable *Memtable
	wal            *Wal
	levels         *LevelState
	filter         *BloomFilter
	metrics        *engineMetrics

	writeCount   atomic.Int64
	readCount    atomic.Int64
	flushCount   atomic.Int64
	compactCount atomic.Int64

	closed atomic.Bool
}

// New constructs a coordinator rooted at cfg.DataDir: it opens the WAL at
// cfg.Wal.ID, creates the active memtable at cfg.Memtable.ID, and scans the
// data directory for pre-existing sstable-<id>/l2-<id> files so their ids
// are already tracked in L1/L2 (the starting ids themselves are the
// caller's responsibility — see ResolveStartingIDs).
func New(cfg Config, logger *zap.Logger, reg prometheus.Registerer) (*LSM, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	cfg = cfg.normalized()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("lsm: create data directory: %w", err)
	}

	wal, err := NewWal(cfg.Wal, logger)
	if err != nil {
		return nil, err
	}

	l := &LSM{
		cfg:            cfg,
		logger:         logger,
		activeMemtable: NewMemtable(cfg.Memtable.ID, cfg.Memtable.MaxSize),
		wal:            wal,
		levels:         NewLevelState(),
		filter:         NewBloomFilter(bloomExpectedKeys, bloomFalsePositiveRate),
		metrics:        newEngineMetrics(reg),
	}

	if err := l.scanExistingFiles(); err != nil {
		return nil, err
	}

	return l, nil
}

// scanExistingFiles populates the L1/L2 id lists from files already present
// in the data directory (e.g. after a restart where no restore is needed
// because the WAL is empty and prior flushes/compactions already landed on
// disk), and seeds the L2 fetch-and-add counter past the highest id found.
func (l *LSM) scanExistingFiles() error {
	entries, err := os.ReadDir(l.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("lsm: scan data directory: %w", err)
	}

	var l1IDs, l2IDs []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasPrefix(name, "sstable-"):
			if id, ok := parseTrailingID(name, "sstable-"); ok {
				l1IDs = append(l1IDs, id)
			}
		case strings.HasPrefix(name, "l2-"):
			if id, ok := parseTrailingID(name, "l2-"); ok {
				l2IDs = append(l2IDs, id)
			}
		}
	}

	sort.Slice(l1IDs, func(i, j int) bool { return l1IDs[i] < l1IDs[j] })
	sort.Slice(l2IDs, func(i, j int) bool { return l2IDs[i] < l2IDs[j] })

	for _, id := range l1IDs {
		l.levels.AddL1(id)
	}
	var maxL2 uint64
	var haveL2 bool
	for _, id := range l2IDs {
		l.levels.AddL2(id)
		if !haveL2 || id > maxL2 {
			maxL2, haveL2 = id, true
		}
	}
	if haveL2 {
		l.levels.SetL2Counter(maxL2 + 1)
	}

	return nil
}

func parseTrailingID(name, prefix string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimPrefix(name, prefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ResolveStartingIDs scans dataDir for existing *.wal, sstable-<id>, and
// l2-<id> files and returns the ids a fresh coordinator should start from:
// one past the highest wal segment id seen, and one past the highest
// memtable id implied by either a wal segment or an L1 file (whichever is
// larger) — never a hardcoded zero, so a restart never collides with
// still-present files.
func ResolveStartingIDs(dataDir string) (walID, memtableID uint64, err error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("lsm: scan data directory: %w", err)
	}

	var haveWal, haveMemtable bool
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".wal") {
			if id, ok := parseTrailingID(strings.TrimSuffix(name, ".wal"), ""); ok {
				if !haveWal || id > walID {
					walID, haveWal = id, true
				}
				if !haveMemtable || id > memtableID {
					memtableID, haveMemtable = id, true
				}
			}
			continue
		}
		if strings.HasPrefix(name, "sstable-") {
			if id, ok := parseTrailingID(name, "sstable-"); ok {
				if !haveMemtable || id > memtableID {
					memtableID, haveMemtable = id, true
				}
			}
		}
	}

	if haveWal {
		walID++
	}
	if haveMemtable {
		memtableID++
	}
	return walID, memtableID, nil
}

// Insert implements common.StorageEngine.
func (l *LSM) Insert(key, value []byte) error {
	if _, err := l.wal.Append(NewInsertEntry(key, value)); err != nil {
		return err
	}

	if l.wal.Size() >= l.wal.MaxSize() {
		if err := l.wal.Rotate(); err != nil {
			return err
		}
		l.metrics.walRotations.Inc()
	}

	l.filter.Insert(key)

	l.mu.RLock()
	mt := l.activeMemtable
	l.mu.RUnlock()
	mt.Insert(key, value)

	l.writeCount.Add(1)
	l.metrics.writeCount.Inc()
	l.metrics.numKeys.Set(float64(mt.Len()))

	if mt.Size() > mt.MaxSize() {
		if err := l.RotateMemtable(); err != nil {
			return err
		}
		if err := l.RemoveClosedSegments(); err != nil {
			return err
		}
	}

	if l.levels.NumL2() > l.cfg.L2CompactionThreshold {
		if err := l.ForceCompaction(); err != nil {
			return err
		}
	}

	return nil
}

// Get implements common.StorageEngine. It consults the coordinator-level
// filter, then the active memtable, then L1 newest-to-oldest, then L2
// newest-to-oldest (the REDESIGN FLAG extension over the base contract,
// required because L2-to-L2 merging is not implemented).
func (l *LSM) Get(key []byte) ([]byte, error) {
	l.readCount.Add(1)
	l.metrics.readCount.Inc()

	if !l.filter.MayContain(key) {
		l.metrics.bloomMisses.Inc()
		return nil, common.ErrKeyNotFound
	}
	l.metrics.bloomHits.Inc()

	l.mu.RLock()
	mt := l.activeMemtable
	l.mu.RUnlock()

	if value, res := mt.Get(key); res != Miss {
		if res == Tombstone {
			return nil, common.ErrKeyNotFound
		}
		return value, nil
	}

	for _, id := range l.levels.L1IDsNewestFirst() {
		value, res, err := l.lookupTable(fmt.Sprintf("sstable-%d", id), 1, key)
		if err != nil {
			return nil, err
		}
		if res != Miss {
			if res == Tombstone {
				return nil, common.ErrKeyNotFound
			}
			return value, nil
		}
	}

	for _, id := range l.levels.L2IDsNewestFirst() {
		value, res, err := l.lookupTable(fmt.Sprintf("l2-%d", id), 2, key)
		if err != nil {
			return nil, err
		}
		if res != Miss {
			if res == Tombstone {
				return nil, common.ErrKeyNotFound
			}
			return value, nil
		}
	}

	return nil, common.ErrKeyNotFound
}

// lookupTable opens a single on-disk table file and consults it. L2 files
// never carry tombstones (compaction drops them), so a miss there is always
// Miss, never Tombstone.
func (l *LSM) lookupTable(name string, level int, key []byte) ([]byte, LookupResult, error) {
	path := filepath.Join(l.cfg.DataDir, name)
	sst, err := OpenSSTable(path, level)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Miss, nil
		}
		return nil, Miss, err
	}
	defer sst.Close()

	value, found, err := sst.Get(key)
	if err != nil {
		return nil, Miss, err
	}
	if found {
		return value, Hit, nil
	}
	// SSTable.Get reports a tombstone as not found; tell the two apart here
	// so a tombstone in a newer L1 file shadows older files.
	if level == 1 && sst.bloomFilter.MayContain(key) {
		entries, err := sst.AllEntries()
		if err != nil {
			return nil, Miss, err
		}
		i := sort.Search(len(entries), func(i int) bool { return bytes.Compare(entries[i].Key, key) >= 0 })
		if i < len(entries) && entries[i].Deleted && bytes.Equal(entries[i].Key, key) {
			return nil, Tombstone, nil
		}
	}
	return nil, Miss, nil
}

// Delete implements common.StorageEngine. Per the base contract this only
// appends a tombstone; the coordinator-level filter is never mutated,
// which only costs a future caller an extra miss, never a false negative.
func (l *LSM) Delete(key []byte) error {
	if _, err := l.wal.Append(NewDeleteEntry(key)); err != nil {
		return err
	}

	l.mu.RLock()
	mt := l.activeMemtable
	l.mu.RUnlock()
	mt.Delete(key)

	l.writeCount.Add(1)
	l.metrics.writeCount.Inc()
	return nil
}

// RotateMemtable records the active memtable's id into the L1 id list,
// flushes it to sstable-<id>, and replaces it with a fresh, empty memtable
// at id+1.
func (l *LSM) RotateMemtable() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	old := l.activeMemtable
	if _, err := old.Flush(l.cfg.DataDir); err != nil {
		return err
	}

	l.levels.AddL1(old.ID())
	l.activeMemtable = NewMemtable(old.ID()+1, l.cfg.Memtable.MaxSize)

	l.flushCount.Add(1)
	l.metrics.flushCount.Inc()
	return nil
}

// RemoveClosedSegments deletes every WAL segment closed by a prior rotation.
// Precondition (by caller): their data has already been captured in a
// flushed SSTable — true immediately after RotateMemtable.
func (l *LSM) RemoveClosedSegments() error {
	return l.wal.RemoveClosedSegments()
}

// Restore replays on-disk WAL segments into the memtable and rebuilds the
// coordinator filter. Preconditions: the WAL must be empty (current size
// zero) and the active memtable must be empty; violating either is a fatal
// invariant error, since restore is not a merge.
func (l *LSM) Restore() error {
	if l.wal.Size() != 0 {
		return fmt.Errorf("%w: wal must be empty before restore", ErrInvariant)
	}

	l.mu.Lock()
	mt := l.activeMemtable
	l.mu.Unlock()
	if mt.Len() != 0 {
		return fmt.Errorf("%w: memtable must be empty before restore", ErrInvariant)
	}

	entries, err := l.wal.Restore()
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.Deleted {
			mt.Delete(e.Key)
		} else {
			mt.Insert(e.Key, e.Value)
		}
	}

	l.filter = NewBloomFilter(bloomExpectedKeys, bloomFalsePositiveRate)
	for _, e := range mt.entriesSnapshot() {
		if !e.Deleted {
			l.filter.Insert(e.Key)
		}
	}

	return nil
}

// Sync force-flushes the WAL buffer and fsyncs the active segment.
func (l *LSM) Sync() error {
	return l.wal.Sync()
}

// Close force-flushes the WAL and releases its file handle. The active
// memtable is left unflushed by design: its contents are durable via the
// WAL and will be replayed by Restore on the next startup.
func (l *LSM) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.wal.Close()
}

// Stats returns a point-in-time snapshot. NumKeys and TotalDiskSize are
// approximate: the former counts only the active memtable's distinct keys
// (L1/L2 key counts would require a full scan), the latter sums the
// apparent size of every tracked L1/L2 file on disk.
func (l *LSM) Stats() common.Stats {
	l.mu.RLock()
	mt := l.activeMemtable
	l.mu.RUnlock()

	return common.Stats{
		NumKeys:       int64(mt.Len()),
		L1Files:       l.levels.NumL1(),
		L2Files:       l.levels.NumL2(),
		ActiveSegSize: int64(l.wal.Size()),
		TotalDiskSize: l.diskUsage(),
		WriteCount:    l.writeCount.Load(),
		ReadCount:     l.readCount.Load(),
		FlushCount:    l.flushCount.Load(),
		CompactCount:  l.compactCount.Load(),
	}
}

func (l *LSM) diskUsage() int64 {
	var total int64
	for _, id := range l.levels.L1IDsNewestFirst() {
		total += fileSize(filepath.Join(l.cfg.DataDir, fmt.Sprintf("sstable-%d", id)))
	}
	for _, id := range l.levels.L2IDsNewestFirst() {
		total += fileSize(filepath.Join(l.cfg.DataDir, fmt.Sprintf("l2-%d", id)))
	}
	return total
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func sortStrings(s []string) {
	sort.Strings(s)
}

var _ common.StorageEngine = (*LSM)(nil)
