package lsm

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"
)

// BloomFilter is a probabilistic, thread-safe set-membership structure with
// no false negatives. The coordinator keeps one instance in memory to
// short-circuit Get before any file is touched; it is never persisted
// itself (it is rebuilt from the memtable during Restore) — distinct from
// the per-SSTable embedded filter in sstable.go, which *is* persisted as
// part of each table's on-disk format.
type BloomFilter struct {
	mu sync.Mutex

	bits      []byte
	numBits   uint64
	numHashes uint32
}

// NewBloomFilter sizes a filter for expectedKeys entries at the given
// false-positive rate using the standard optimal-m/optimal-k formulas.
func NewBloomFilter(expectedKeys int, falsePositiveRate float64) *BloomFilter {
	numBits := uint64(math.Ceil(-float64(expectedKeys) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	if numBits == 0 {
		numBits = 1
	}

	numHashes := uint32(math.Ceil(float64(numBits) / float64(expectedKeys) * math.Ln2))
	if numHashes == 0 {
		numHashes = 1
	}

	numBytes := (numBits + 7) / 8

	return &BloomFilter{
		bits:      make([]byte, numBytes),
		numBits:   numBits,
		numHashes: numHashes,
	}
}

func (bf *BloomFilter) hash1(key []byte) uint64 {
	h := fnv.New64a()
	h.Write(key)
	return h.Sum64()
}

func (bf *BloomFilter) hash2(key []byte) uint64 {
	h := fnv.New64()
	h.Write(key)
	return h.Sum64()
}

// getHashes returns k probe positions via double hashing:
// h_i(x) = (h1(x) + i*h2(x)) mod m.
func (bf *BloomFilter) getHashes(key []byte) []uint64 {
	h1 := bf.hash1(key)
	h2 := bf.hash2(key)

	hashes := make([]uint64, bf.numHashes)
	for i := uint32(0); i < bf.numHashes; i++ {
		hashes[i] = (h1 + uint64(i)*h2) % bf.numBits
	}
	return hashes
}

// Insert adds key to the filter.
func (bf *BloomFilter) Insert(key []byte) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	for _, h := range bf.getHashes(key) {
		bf.bits[h/8] |= 1 << (h % 8)
	}
}

// MayContain reports whether key might be present. A false return is
// authoritative: the key is definitely absent. A true return may be a
// false positive.
func (bf *BloomFilter) MayContain(key []byte) bool {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	for _, h := range bf.getHashes(key) {
		if bf.bits[h/8]&(1<<(h%8)) == 0 {
			return false
		}
	}
	return true
}

// Encode serializes the filter: [numBits(8)][numHashes(4)][bits...].
func (bf *BloomFilter) Encode() []byte {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	buf := make([]byte, 12+len(bf.bits))
	binary.BigEndian.PutUint64(buf[0:], bf.numBits)
	binary.BigEndian.PutUint32(buf[8:], bf.numHashes)
	copy(buf[12:], bf.bits)
	return buf
}

// DecodeBloomFilter deserializes a filter previously produced by Encode.
func DecodeBloomFilter(data []byte) *BloomFilter {
	if len(data) < 12 {
		return &BloomFilter{bits: []byte{0}, numBits: 1, numHashes: 1}
	}
	numBits := binary.BigEndian.Uint64(data[0:])
	numHashes := binary.BigEndian.Uint32(data[8:])
	bits := make([]byte, len(data)-12)
	copy(bits, data[12:])
	return &BloomFilter{bits: bits, numBits: numBits, numHashes: numHashes}
}
