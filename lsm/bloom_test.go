package lsm

import (
	"fmt"
	"testing"
)

func TestBloomFilterNeverFalseNegative(t *testing.T) {
	bf := NewBloomFilter(1000, 0.01)

	keys := make([][]byte, 0, 1000)
	for i := 0; i < 1000; i++ {
		k := []byte(fmt.Sprintf("key-%d", i))
		keys = append(keys, k)
		bf.Insert(k)
	}

	for _, k := range keys {
		if !bf.MayContain(k) {
			t.Fatalf("expected MayContain(%s) to be true after Insert", k)
		}
	}
}

func TestBloomFilterAbsentKeyMostlyMiss(t *testing.T) {
	bf := NewBloomFilter(1000, 0.01)
	for i := 0; i < 1000; i++ {
		bf.Insert([]byte(fmt.Sprintf("present-%d", i)))
	}

	falsePositives := 0
	trials := 1000
	for i := 0; i < trials; i++ {
		if bf.MayContain([]byte(fmt.Sprintf("absent-%d", i))) {
			falsePositives++
		}
	}

	// At a configured 1% target rate, a handful of hits across many
	// trials is expected; a false negative would be a bug, some
	// false-positive noise is not, so the bound here is a loose 20%.
	if falsePositives > trials/5 {
		t.Fatalf("false-positive rate too high: %d/%d", falsePositives, trials)
	}
}

func TestBloomFilterEncodeDecodeRoundtrip(t *testing.T) {
	bf := NewBloomFilter(100, 0.01)
	bf.Insert([]byte("a"))
	bf.Insert([]byte("b"))

	encoded := bf.Encode()
	decoded := DecodeBloomFilter(encoded)

	if !decoded.MayContain([]byte("a")) || !decoded.MayContain([]byte("b")) {
		t.Fatal("expected decoded filter to retain inserted keys")
	}
}

func TestDecodeBloomFilterTruncatedInputFallsBack(t *testing.T) {
	decoded := DecodeBloomFilter([]byte{1, 2, 3})
	if decoded == nil {
		t.Fatal("expected a usable filter, even if empty, for malformed input")
	}
}
