package lsm

const (
	// defaultWalMaxSize is the WAL rotation threshold in bytes.
	defaultWalMaxSize = 8 * 1024 * 1024

	// defaultWalBufferSize is the in-memory append buffer size in bytes.
	defaultWalBufferSize = 8 * 1024

	// defaultMemtableMaxSize is the accumulated-value-bytes threshold that
	// triggers a memtable rotation.
	defaultMemtableMaxSize = 8 * 1024 * 1024

	// l2CompactionThreshold is the number of L2 files that triggers a
	// forced compaction pass, per spec.
	l2CompactionThreshold = 3

	// bloomExpectedKeys and bloomFalsePositiveRate size the coordinator's
	// probabilistic filter.
	bloomExpectedKeys      = 10000
	bloomFalsePositiveRate = 0.01
)

// WalConfig holds the configuration for the write-ahead log. Field names
// carry mapstructure tags, but nothing in this repository unmarshals into
// them: cmd/chipmunkd copies each field by hand from appconfig.Config.
type WalConfig struct {
	ID           uint64 `mapstructure:"id"`
	MaxSize      uint64 `mapstructure:"max-size"`
	LogDirectory string `mapstructure:"log-directory"`
	BufferSize   int    `mapstructure:"buffer-size"`
}

// MemtableConfig holds the configuration for the active memtable.
type MemtableConfig struct {
	ID      uint64 `mapstructure:"id"`
	MaxSize int    `mapstructure:"max-size"`
}

// Config is the full configuration for an LSM engine instance.
type Config struct {
	// DataDir is the working directory for SSTables (sstable-<id>) and L2
	// files (l2-<id>). The WAL's LogDirectory defaults to this value when
	// unset.
	DataDir string

	Wal      WalConfig
	Memtable MemtableConfig

	// L2CompactionThreshold is the number of accumulated L2 files that
	// triggers ForceCompaction from Insert's write path.
	L2CompactionThreshold int
}

// DefaultConfig returns sane defaults rooted at dataDir, matching spec §6.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir: dataDir,
		Wal: WalConfig{
			ID:           0,
			MaxSize:      defaultWalMaxSize,
			LogDirectory: dataDir,
			BufferSize:   defaultWalBufferSize,
		},
		Memtable: MemtableConfig{
			ID:      0,
			MaxSize: defaultMemtableMaxSize,
		},
		L2CompactionThreshold: l2CompactionThreshold,
	}
}

func (c Config) normalized() Config {
	if c.Wal.LogDirectory == "" {
		c.Wal.LogDirectory = c.DataDir
	}
	if c.Wal.MaxSize == 0 {
		c.Wal.MaxSize = defaultWalMaxSize
	}
	if c.Wal.BufferSize == 0 {
		c.Wal.BufferSize = defaultWalBufferSize
	}
	if c.Memtable.MaxSize == 0 {
		c.Memtable.MaxSize = defaultMemtableMaxSize
	}
	if c.L2CompactionThreshold == 0 {
		c.L2CompactionThreshold = l2CompactionThreshold
	}
	return c
}
