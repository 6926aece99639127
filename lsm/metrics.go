package lsm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineMetrics collects Prometheus counters/gauges for the coordinator,
// exposed by the façade under /metrics via promhttp.Handler.
type engineMetrics struct {
	writeCount   prometheus.Counter
	readCount    prometheus.Counter
	flushCount   prometheus.Counter
	compactCount prometheus.Counter
	walRotations prometheus.Counter
	bloomHits    prometheus.Counter
	bloomMisses  prometheus.Counter
	numKeys      prometheus.Gauge
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	return &engineMetrics{
		writeCount: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chipmunk_writes_total",
			Help: "Number of Insert and Delete calls accepted by the coordinator.",
		}),
		readCount: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chipmunk_reads_total",
			Help: "Number of Get calls served by the coordinator.",
		}),
		flushCount: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chipmunk_memtable_flushes_total",
			Help: "Number of memtable rotations flushed to an L1 SSTable.",
		}),
		compactCount: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chipmunk_compactions_total",
			Help: "Number of L1-to-L2 compaction passes run.",
		}),
		walRotations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chipmunk_wal_rotations_total",
			Help: "Number of times the active WAL segment was rotated.",
		}),
		bloomHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chipmunk_bloom_maybe_present_total",
			Help: "Number of Get calls where the coordinator filter reported the key might be present.",
		}),
		bloomMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "chipmunk_bloom_definitely_absent_total",
			Help: "Number of Get calls short-circuited by the coordinator filter reporting definite absence.",
		}),
		numKeys: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "chipmunk_active_memtable_keys",
			Help: "Approximate number of distinct keys held by the active memtable.",
		}),
	}
}
