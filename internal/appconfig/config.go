// Package appconfig loads chipmunkd's configuration from flags, a YAML
// file, and CHIPMUNK_-prefixed environment variables via viper.
package appconfig

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config mirrors the external configuration surface: every wal.*/memtable.*
// knob the coordinator needs, plus the façade's own listen addresses and
// logging tuning.
type Config struct {
	WalID           int
	WalMaxSize      int64
	WalLogDirectory string
	WalBufferSize   int
	MemtableID      int
	MemtableMaxSize int64
	Addr            string
	MetricsAddr     string
	LogLevel        string
	LogFormat       string
}

const envPrefix = "CHIPMUNK"

// defaults mirrors spec.md §6: 8 MiB WAL/memtable thresholds, 8 KiB WAL
// write buffer, and a loopback listen address so a freshly started
// server never binds to every interface by accident.
func defaults(v *viper.Viper) {
	v.SetDefault("wal.id", 0)
	v.SetDefault("wal.max-size", 8<<20)
	v.SetDefault("wal.log-directory", "./data")
	v.SetDefault("wal.buffer-size", 8<<10)
	v.SetDefault("memtable.id", 0)
	v.SetDefault("memtable.max-size", 8<<20)
	v.SetDefault("addr", "127.0.0.1:5000")
	v.SetDefault("metrics-addr", "")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "console")
}

// Load builds a Config from defaults, an optional YAML config file, bound
// cobra/pflag flags, and CHIPMUNK_-prefixed environment variables, in
// ascending order of precedence (flags/env override the file, which
// overrides the defaults).
func Load(configFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// A configured file that simply doesn't exist is not fatal — flags,
	// env vars, and defaults are enough to run without one. A file that
	// exists but fails to parse is fatal: the operator asked for it
	// explicitly and silently ignoring a typo would be surprising.
	if configFile != "" {
		if _, statErr := os.Stat(configFile); statErr == nil {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, err
			}
		} else if !os.IsNotExist(statErr) {
			return Config{}, statErr
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, err
		}
	}

	return Config{
		WalID:           v.GetInt("wal.id"),
		WalMaxSize:      v.GetInt64("wal.max-size"),
		WalLogDirectory: v.GetString("wal.log-directory"),
		WalBufferSize:   v.GetInt("wal.buffer-size"),
		MemtableID:      v.GetInt("memtable.id"),
		MemtableMaxSize: v.GetInt64("memtable.max-size"),
		Addr:            v.GetString("addr"),
		MetricsAddr:     v.GetString("metrics-addr"),
		LogLevel:        v.GetString("log-level"),
		LogFormat:       v.GetString("log-format"),
	}, nil
}
