package lsm

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"go.uber.org/zap"
)

func newBenchLSM(b *testing.B) *LSM {
	b.Helper()
	dir := b.TempDir()
	cfg := DefaultConfig(dir)
	engine, err := New(cfg, zap.NewNop(), nil)
	if err != nil {
		b.Fatalf("Failed to create LSM: %v", err)
	}
	b.Cleanup(func() { engine.Close() })
	return engine
}

func BenchmarkWriteHeavy(b *testing.B) {
	engine := newBenchLSM(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := []byte(fmt.Sprintf("key%010d", i))
		value := []byte(fmt.Sprintf("value%010d", i))
		if err := engine.Insert(key, value); err != nil {
			b.Fatalf("Insert failed: %v", err)
		}
	}
	b.StopTimer()

	opsPerSec := float64(b.N) / b.Elapsed().Seconds()
	b.ReportMetric(opsPerSec, "ops/sec")
}

func BenchmarkReadHeavy(b *testing.B) {
	engine := newBenchLSM(b)

	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := []byte(fmt.Sprintf("key%010d", i))
		value := []byte(fmt.Sprintf("value%010d", i))
		engine.Insert(key, value)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		keyIdx := rand.Intn(numKeys)
		key := []byte(fmt.Sprintf("key%010d", keyIdx))
		if _, err := engine.Get(key); err != nil {
			b.Fatalf("Get failed: %v", err)
		}
	}
	b.StopTimer()

	opsPerSec := float64(b.N) / b.Elapsed().Seconds()
	b.ReportMetric(opsPerSec, "ops/sec")
}

func BenchmarkBalanced(b *testing.B) {
	engine := newBenchLSM(b)

	numKeys := 5000
	for i := 0; i < numKeys; i++ {
		key := []byte(fmt.Sprintf("key%010d", i))
		value := []byte(fmt.Sprintf("value%010d", i))
		engine.Insert(key, value)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if rand.Float32() < 0.5 {
			keyIdx := rand.Intn(numKeys)
			key := []byte(fmt.Sprintf("key%010d", keyIdx))
			engine.Get(key)
		} else {
			keyIdx := rand.Intn(numKeys * 2)
			key := []byte(fmt.Sprintf("key%010d", keyIdx))
			value := []byte(fmt.Sprintf("value%010d", keyIdx))
			engine.Insert(key, value)
		}
	}
	b.StopTimer()

	opsPerSec := float64(b.N) / b.Elapsed().Seconds()
	b.ReportMetric(opsPerSec, "ops/sec")
}

func BenchmarkWriteThroughput(b *testing.B) {
	benchmarks := []struct {
		name   string
		numOps int
	}{
		{"10K", 10000},
		{"50K", 50000},
		{"100K", 100000},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			engine := newBenchLSM(b)

			b.ResetTimer()
			start := time.Now()

			for i := 0; i < bm.numOps; i++ {
				key := []byte(fmt.Sprintf("key%010d", i))
				value := []byte(fmt.Sprintf("value%010d", i))
				engine.Insert(key, value)
			}

			elapsed := time.Since(start)
			b.StopTimer()

			opsPerSec := float64(bm.numOps) / elapsed.Seconds()
			b.ReportMetric(opsPerSec, "ops/sec")
			b.ReportMetric(elapsed.Seconds()*1000, "ms")
		})
	}
}

func BenchmarkReadLatency(b *testing.B) {
	engine := newBenchLSM(b)

	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := []byte(fmt.Sprintf("key%010d", i))
		value := []byte(fmt.Sprintf("value%010d", i))
		engine.Insert(key, value)
	}

	// 1 microsecond to 10 seconds, matching the range a local Get should
	// ever fall in; 3 significant digits is enough precision for p50/p95/p99
	// reporting without the histogram's bucket count blowing up.
	hist := hdrhistogram.New(1, 10*1000*1000, 3)

	b.ResetTimer()
	for i := 0; i < 1000; i++ {
		keyIdx := rand.Intn(numKeys)
		key := []byte(fmt.Sprintf("key%010d", keyIdx))

		start := time.Now()
		engine.Get(key)
		hist.RecordValue(time.Since(start).Microseconds())
	}
	b.StopTimer()

	b.ReportMetric(float64(hist.ValueAtQuantile(50)), "p50_µs")
	b.ReportMetric(float64(hist.ValueAtQuantile(95)), "p95_µs")
	b.ReportMetric(float64(hist.ValueAtQuantile(99)), "p99_µs")
}

func BenchmarkNegativeLookup(b *testing.B) {
	engine := newBenchLSM(b)

	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := []byte(fmt.Sprintf("key%010d", i))
		value := []byte(fmt.Sprintf("value%010d", i))
		engine.Insert(key, value)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := []byte(fmt.Sprintf("key%010d", numKeys+i))
		if _, err := engine.Get(key); err == nil {
			b.Fatalf("non-existent key found")
		}
	}
	b.StopTimer()

	opsPerSec := float64(b.N) / b.Elapsed().Seconds()
	b.ReportMetric(opsPerSec, "ops/sec")
}

func BenchmarkUpdateExisting(b *testing.B) {
	engine := newBenchLSM(b)

	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		key := []byte(fmt.Sprintf("key%010d", i))
		value := []byte(fmt.Sprintf("value%010d", i))
		engine.Insert(key, value)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		keyIdx := rand.Intn(numKeys)
		key := []byte(fmt.Sprintf("key%010d", keyIdx))
		value := []byte(fmt.Sprintf("newvalue%010d", i))
		if err := engine.Insert(key, value); err != nil {
			b.Fatalf("Insert failed: %v", err)
		}
	}
	b.StopTimer()

	opsPerSec := float64(b.N) / b.Elapsed().Seconds()
	b.ReportMetric(opsPerSec, "ops/sec")
}
