package lsm

import (
	"encoding/binary"
	"fmt"
	"os"
)

// SSTableBuilder constructs a new SSTable file from entries supplied in
// strictly ascending key order.
type SSTableBuilder struct {
	file         *os.File
	path         string
	currentBlock []byte
	blockOffset  uint64
	index        []IndexEntry
	bloomFilter  *BloomFilter
	minKey       []byte
	maxKey       []byte
	numEntries   int
}

// NewSSTableBuilder creates path and prepares a builder sized for
// expectedKeys entries at a 1% false-positive rate.
func NewSSTableBuilder(path string, expectedKeys int) (*SSTableBuilder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("lsm: create sstable: %w", err)
	}
	if expectedKeys <= 0 {
		expectedKeys = 1
	}

	return &SSTableBuilder{
		file:         file,
		path:         path,
		currentBlock: make([]byte, 4),
		bloomFilter:  NewBloomFilter(expectedKeys, bloomFalsePositiveRate),
	}, nil
}

// Add appends one entry. Callers must present keys in ascending order;
// the builder does not sort.
func (b *SSTableBuilder) Add(key, value []byte, deleted bool) error {
	if b.numEntries == 0 {
		b.minKey = append([]byte(nil), key...)
	}
	b.maxKey = append([]byte(nil), key...)
	b.numEntries++

	b.bloomFilter.Insert(key)

	keySize := uint32(len(key))
	valueSize := uint32(len(value))
	entrySize := 4 + 4 + 1 + int(keySize) + int(valueSize)

	entry := make([]byte, entrySize)
	offset := 0
	binary.BigEndian.PutUint32(entry[offset:], keySize)
	offset += 4
	binary.BigEndian.PutUint32(entry[offset:], valueSize)
	offset += 4
	if deleted {
		entry[offset] = 1
	}
	offset++
	offset += copy(entry[offset:], key)
	copy(entry[offset:], value)

	if len(b.currentBlock)+entrySize > blockSize {
		if err := b.flushBlock(); err != nil {
			return err
		}
	}
	b.currentBlock = append(b.currentBlock, entry...)
	return nil
}

// flushBlock writes the accumulated block to disk, padded to blockSize, and
// records an index entry pointing at its first key.
func (b *SSTableBuilder) flushBlock() error {
	if len(b.currentBlock) <= 4 {
		return nil
	}

	firstKey, err := firstKeyInBlock(b.currentBlock)
	if err != nil {
		return err
	}

	binary.BigEndian.PutUint32(b.currentBlock[0:], countEntriesInBlock(b.currentBlock))

	if _, err := b.file.Write(b.currentBlock); err != nil {
		return fmt.Errorf("lsm: write sstable block: %w", err)
	}

	b.index = append(b.index, IndexEntry{Key: firstKey, BlockOffset: b.blockOffset})
	b.blockOffset += uint64(len(b.currentBlock))

	if len(b.currentBlock) < blockSize {
		padding := make([]byte, blockSize-len(b.currentBlock))
		if _, err := b.file.Write(padding); err != nil {
			return fmt.Errorf("lsm: pad sstable block: %w", err)
		}
		b.blockOffset += uint64(len(padding))
	}

	b.currentBlock = make([]byte, 4)
	return nil
}

func firstKeyInBlock(block []byte) ([]byte, error) {
	if len(block) < 13 {
		return nil, fmt.Errorf("lsm: sstable block too small for first key")
	}
	offset := 4
	keySize := binary.BigEndian.Uint32(block[offset:])
	offset += 4 + 4 + 1
	if offset+int(keySize) > len(block) {
		return nil, fmt.Errorf("lsm: sstable block truncated")
	}
	return append([]byte(nil), block[offset:offset+int(keySize)]...), nil
}

func countEntriesInBlock(block []byte) uint32 {
	count := uint32(0)
	offset := 4
	for offset < len(block) {
		if offset+9 > len(block) {
			break
		}
		keySize := binary.BigEndian.Uint32(block[offset:])
		offset += 4
		valueSize := binary.BigEndian.Uint32(block[offset:])
		offset += 4
		offset++
		if offset+int(keySize)+int(valueSize) > len(block) {
			break
		}
		offset += int(keySize) + int(valueSize)
		count++
	}
	return count
}

// Finish flushes any pending block, appends the index/metadata/bloom
// sections and the fixed footer, fsyncs, and closes the file.
func (b *SSTableBuilder) Finish() error {
	if len(b.currentBlock) > 4 {
		if err := b.flushBlock(); err != nil {
			return err
		}
	}

	indexOffset := b.blockOffset
	indexData := b.encodeIndex()
	if _, err := b.file.Write(indexData); err != nil {
		return fmt.Errorf("lsm: write sstable index: %w", err)
	}

	metadataOffset := indexOffset + uint64(len(indexData))
	metadataData := b.encodeMetadata()
	if _, err := b.file.Write(metadataData); err != nil {
		return fmt.Errorf("lsm: write sstable metadata: %w", err)
	}

	bloomOffset := metadataOffset + uint64(len(metadataData))
	bloomData := b.bloomFilter.Encode()
	if _, err := b.file.Write(bloomData); err != nil {
		return fmt.Errorf("lsm: write sstable bloom filter: %w", err)
	}

	footer := make([]byte, footerSize)
	binary.BigEndian.PutUint64(footer[0:], indexOffset)
	binary.BigEndian.PutUint64(footer[8:], bloomOffset)
	binary.BigEndian.PutUint64(footer[16:], metadataOffset)
	binary.BigEndian.PutUint32(footer[24:], sstableMagic)
	if _, err := b.file.Write(footer); err != nil {
		return fmt.Errorf("lsm: write sstable footer: %w", err)
	}

	if err := b.file.Sync(); err != nil {
		return fmt.Errorf("lsm: fsync sstable: %w", err)
	}
	return b.file.Close()
}

func (b *SSTableBuilder) encodeMetadata() []byte {
	minKeySize := uint32(len(b.minKey))
	maxKeySize := uint32(len(b.maxKey))
	buf := make([]byte, 8+int(minKeySize)+int(maxKeySize))
	binary.BigEndian.PutUint32(buf[0:], minKeySize)
	binary.BigEndian.PutUint32(buf[4:], maxKeySize)
	copy(buf[8:], b.minKey)
	copy(buf[8+minKeySize:], b.maxKey)
	return buf
}

func (b *SSTableBuilder) encodeIndex() []byte {
	size := 4
	for _, e := range b.index {
		size += 4 + 8 + len(e.Key)
	}

	buf := make([]byte, size)
	offset := 0
	binary.BigEndian.PutUint32(buf[offset:], uint32(len(b.index)))
	offset += 4
	for _, e := range b.index {
		keySize := uint32(len(e.Key))
		binary.BigEndian.PutUint32(buf[offset:], keySize)
		offset += 4
		binary.BigEndian.PutUint64(buf[offset:], e.BlockOffset)
		offset += 8
		offset += copy(buf[offset:], e.Key)
	}
	return buf
}

// Abort closes and deletes the partially written file.
func (b *SSTableBuilder) Abort() error {
	b.file.Close()
	return os.Remove(b.path)
}
