package lsm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
)

const (
	// blockSize is the fixed size of a data block, chosen to match a
	// common page/readahead size.
	blockSize = 4096

	sstableMagic = 0x5354424C // "STBL"

	// footerSize is the fixed trailer: [indexOffset(8)][bloomOffset(8)][metadataOffset(8)][magic(4)].
	footerSize = 28
)

// SSTableEntry is a single decoded record from a data block.
type SSTableEntry struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// IndexEntry maps the first key of a data block to that block's byte offset.
type IndexEntry struct {
	Key         []byte
	BlockOffset uint64
}

// SSTable is a read-only handle on an immutable, sorted, block-structured
// file on disk:
//
//	[data blocks, 4KiB each][index block][metadata block][bloom filter][footer]
type SSTable struct {
	file  *os.File
	path  string
	level int

	minKey []byte
	maxKey []byte

	index       []IndexEntry
	bloomFilter *BloomFilter

	indexOffset uint64
	bloomOffset uint64
}

// OpenSSTable opens an existing table file and loads its index, metadata,
// and bloom filter into memory; data blocks remain on disk and are read on
// demand by Get/AllEntries.
func OpenSSTable(path string, level int) (*SSTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lsm: open sstable: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("lsm: stat sstable: %w", err)
	}
	fileSize := stat.Size()
	if fileSize < footerSize {
		file.Close()
		return nil, fmt.Errorf("lsm: sstable %s too small to be valid", path)
	}

	footer := make([]byte, footerSize)
	if _, err := file.ReadAt(footer, fileSize-footerSize); err != nil {
		file.Close()
		return nil, fmt.Errorf("lsm: read sstable footer: %w", err)
	}

	magic := binary.BigEndian.Uint32(footer[24:])
	if magic != sstableMagic {
		file.Close()
		return nil, fmt.Errorf("lsm: sstable %s has invalid magic", path)
	}

	indexOffset := binary.BigEndian.Uint64(footer[0:])
	bloomOffset := binary.BigEndian.Uint64(footer[8:])
	metadataOffset := binary.BigEndian.Uint64(footer[16:])

	metadataData := make([]byte, bloomOffset-metadataOffset)
	if _, err := file.ReadAt(metadataData, int64(metadataOffset)); err != nil {
		file.Close()
		return nil, fmt.Errorf("lsm: read sstable metadata: %w", err)
	}
	minKey, maxKey, err := decodeMetadata(metadataData)
	if err != nil {
		file.Close()
		return nil, err
	}

	indexData := make([]byte, metadataOffset-indexOffset)
	if _, err := file.ReadAt(indexData, int64(indexOffset)); err != nil {
		file.Close()
		return nil, fmt.Errorf("lsm: read sstable index: %w", err)
	}
	index, err := decodeIndex(indexData)
	if err != nil {
		file.Close()
		return nil, err
	}

	bloomData := make([]byte, fileSize-int64(bloomOffset)-footerSize)
	if _, err := file.ReadAt(bloomData, int64(bloomOffset)); err != nil {
		file.Close()
		return nil, fmt.Errorf("lsm: read sstable bloom filter: %w", err)
	}

	return &SSTable{
		file:        file,
		path:        path,
		level:       level,
		minKey:      minKey,
		maxKey:      maxKey,
		index:       index,
		bloomFilter: DecodeBloomFilter(bloomData),
		indexOffset: indexOffset,
		bloomOffset: bloomOffset,
	}, nil
}

func decodeMetadata(data []byte) ([]byte, []byte, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("lsm: sstable metadata block truncated")
	}
	minKeySize := binary.BigEndian.Uint32(data[0:])
	maxKeySize := binary.BigEndian.Uint32(data[4:])
	if len(data) < 8+int(minKeySize)+int(maxKeySize) {
		return nil, nil, fmt.Errorf("lsm: sstable metadata block truncated")
	}
	minKey := append([]byte(nil), data[8:8+minKeySize]...)
	maxKey := append([]byte(nil), data[8+minKeySize:8+minKeySize+maxKeySize]...)
	return minKey, maxKey, nil
}

func decodeIndex(data []byte) ([]IndexEntry, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("lsm: sstable index block truncated")
	}
	numEntries := binary.BigEndian.Uint32(data[0:])
	entries := make([]IndexEntry, numEntries)

	offset := 4
	for i := uint32(0); i < numEntries; i++ {
		if offset+12 > len(data) {
			return nil, fmt.Errorf("lsm: sstable index entry truncated")
		}
		keySize := binary.BigEndian.Uint32(data[offset:])
		offset += 4
		blockOffset := binary.BigEndian.Uint64(data[offset:])
		offset += 8
		if offset+int(keySize) > len(data) {
			return nil, fmt.Errorf("lsm: sstable index entry truncated")
		}
		key := append([]byte(nil), data[offset:offset+int(keySize)]...)
		offset += int(keySize)

		entries[i] = IndexEntry{Key: key, BlockOffset: blockOffset}
	}
	return entries, nil
}

// Get looks up key, consulting the embedded bloom filter first as a fast
// negative short-circuit. A (nil, false, nil) result means the key is
// absent or tombstoned in this table.
func (sst *SSTable) Get(key []byte) ([]byte, bool, error) {
	if !sst.bloomFilter.MayContain(key) {
		return nil, false, nil
	}

	blockIdx := sort.Search(len(sst.index), func(i int) bool {
		return bytes.Compare(sst.index[i].Key, key) > 0
	})
	if blockIdx == 0 {
		return nil, false, nil
	}
	blockIdx--

	block, err := sst.readBlock(sst.index[blockIdx].BlockOffset)
	if err != nil {
		return nil, false, err
	}
	return searchBlock(block, key)
}

func (sst *SSTable) readBlock(offset uint64) ([]byte, error) {
	block := make([]byte, blockSize)
	n, err := sst.file.ReadAt(block, int64(offset))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("lsm: read sstable block: %w", err)
	}
	return block[:n], nil
}

// searchBlock scans a decoded data block for key. Block format:
// [numEntries(4)][entry]...; entry: [keySize(4)][valueSize(4)][deleted(1)][key][value].
func searchBlock(block []byte, key []byte) ([]byte, bool, error) {
	if len(block) < 4 {
		return nil, false, nil
	}
	numEntries := binary.BigEndian.Uint32(block[0:])
	offset := 4

	for i := uint32(0); i < numEntries; i++ {
		if offset+9 > len(block) {
			return nil, false, fmt.Errorf("lsm: sstable block truncated")
		}
		keySize := binary.BigEndian.Uint32(block[offset:])
		offset += 4
		valueSize := binary.BigEndian.Uint32(block[offset:])
		offset += 4
		deleted := block[offset] == 1
		offset++

		if offset+int(keySize)+int(valueSize) > len(block) {
			return nil, false, fmt.Errorf("lsm: sstable block truncated")
		}
		entryKey := block[offset : offset+int(keySize)]
		offset += int(keySize)

		cmp := bytes.Compare(entryKey, key)
		if cmp == 0 {
			if deleted {
				return nil, false, nil
			}
			value := make([]byte, valueSize)
			copy(value, block[offset:offset+int(valueSize)])
			return value, true, nil
		}
		offset += int(valueSize)
		if cmp > 0 {
			return nil, false, nil
		}
	}
	return nil, false, nil
}

// AllEntries decodes every data block in order and returns every entry,
// tombstones included, in on-disk (sorted) order. Used by compaction to
// merge tables and by Memtable.Load to rebuild in-memory state.
func (sst *SSTable) AllEntries() ([]SSTableEntry, error) {
	var out []SSTableEntry
	for _, idx := range sst.index {
		block, err := sst.readBlock(idx.BlockOffset)
		if err != nil {
			return nil, err
		}
		entries, err := decodeBlockEntries(block)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

func decodeBlockEntries(block []byte) ([]SSTableEntry, error) {
	if len(block) < 4 {
		return nil, nil
	}
	numEntries := binary.BigEndian.Uint32(block[0:])
	offset := 4
	entries := make([]SSTableEntry, 0, numEntries)

	for i := uint32(0); i < numEntries; i++ {
		if offset+9 > len(block) {
			return nil, fmt.Errorf("lsm: sstable block truncated")
		}
		keySize := binary.BigEndian.Uint32(block[offset:])
		offset += 4
		valueSize := binary.BigEndian.Uint32(block[offset:])
		offset += 4
		deleted := block[offset] == 1
		offset++

		if offset+int(keySize)+int(valueSize) > len(block) {
			return nil, fmt.Errorf("lsm: sstable block truncated")
		}
		key := append([]byte(nil), block[offset:offset+int(keySize)]...)
		offset += int(keySize)
		var value []byte
		if valueSize > 0 {
			value = append([]byte(nil), block[offset:offset+int(valueSize)]...)
		}
		offset += int(valueSize)

		entries = append(entries, SSTableEntry{Key: key, Value: value, Deleted: deleted})
	}
	return entries, nil
}

// Overlaps reports whether this table's [minKey,maxKey] range intersects
// [start,end]. A nil/empty bound is treated as unbounded.
func (sst *SSTable) Overlaps(start, end []byte) bool {
	if len(start) != 0 && bytes.Compare(sst.maxKey, start) < 0 {
		return false
	}
	if len(end) != 0 && bytes.Compare(sst.minKey, end) > 0 {
		return false
	}
	return true
}

// Close releases the table's file handle.
func (sst *SSTable) Close() error {
	if sst.file != nil {
		return sst.file.Close()
	}
	return nil
}

// Remove closes and deletes the table's underlying file.
func (sst *SSTable) Remove() error {
	sst.Close()
	return os.Remove(sst.path)
}

// MinKey returns the smallest key stored in the table.
func (sst *SSTable) MinKey() []byte { return sst.minKey }

// MaxKey returns the largest key stored in the table.
func (sst *SSTable) MaxKey() []byte { return sst.maxKey }

// Level reports the level passed to OpenSSTable (1 for L1, 2 for L2;
// Memtable.Load passes 0).
func (sst *SSTable) Level() int { return sst.level }

// Path returns the table's file path.
func (sst *SSTable) Path() string { return sst.path }
