package appconfig_test

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdockerty/chipmunk/internal/appconfig"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := appconfig.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(8<<20), cfg.WalMaxSize)
	assert.Equal(t, "./data", cfg.WalLogDirectory)
	assert.Equal(t, 8<<10, cfg.WalBufferSize)
	assert.Equal(t, int64(8<<20), cfg.MemtableMaxSize)
	assert.Equal(t, "127.0.0.1:5000", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("CHIPMUNK_ADDR", "0.0.0.0:9000")
	t.Setenv("CHIPMUNK_LOG_LEVEL", "debug")

	cfg, err := appconfig.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFlagOverridesDefault(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", "127.0.0.1:5000", "")
	require.NoError(t, flags.Set("addr", "127.0.0.1:6000"))

	cfg, err := appconfig.Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6000", cfg.Addr)
}

func TestLoadMissingConfigFileIsNotAnError(t *testing.T) {
	_, err := appconfig.Load("/nonexistent/chipmunk.yaml", nil)
	require.NoError(t, err)
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
