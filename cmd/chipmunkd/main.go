// Command chipmunkd runs the chipmunk storage engine behind an HTTP
// façade.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jdockerty/chipmunk/httpapi"
	"github.com/jdockerty/chipmunk/internal/appconfig"
	"github.com/jdockerty/chipmunk/lsm"
)

// Exit codes, per spec.md §6: 0 is a clean shutdown, everything else is a
// distinct startup failure so operators can tell them apart from logs
// alone without parsing messages.
const (
	exitOK             = 0
	exitConfigError    = 2
	exitRestoreFailure = 3
	exitBindFailure    = 4
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "chipmunkd",
		Short: "Run the chipmunk storage engine server",
		RunE:  run,
	}
	flags := root.Flags()
	flags.String("wal.log-directory", "./data", "directory for WAL segments and SSTables")
	flags.Int64("wal.max-size", 8<<20, "WAL rotation threshold in bytes")
	flags.Int("wal.buffer-size", 8<<10, "WAL in-memory append buffer size in bytes")
	flags.Int64("memtable.max-size", 8<<20, "memtable flush threshold in bytes")
	flags.String("addr", "127.0.0.1:5000", "HTTP listen address")
	flags.String("metrics-addr", "", "separate metrics listen address (empty disables)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "console", "log format: console, json")
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := appconfig.Load(configFile, cmd.Flags())
	if err != nil {
		fmt.Fprintln(os.Stderr, "chipmunkd: loading config:", err)
		os.Exit(exitConfigError)
	}

	logger, err := buildLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "chipmunkd: building logger:", err)
		os.Exit(exitConfigError)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.WalLogDirectory, 0o755); err != nil {
		logger.Error("opening data directory", zap.Error(err))
		os.Exit(exitConfigError)
	}

	walID, memtableID, err := lsm.ResolveStartingIDs(cfg.WalLogDirectory)
	if err != nil {
		logger.Error("resolving starting ids", zap.Error(err))
		os.Exit(exitConfigError)
	}
	hadPriorState := walID != 0 || memtableID != 0

	engineCfg := lsm.DefaultConfig(cfg.WalLogDirectory)
	engineCfg.Wal.ID = walID
	engineCfg.Wal.MaxSize = uint64(cfg.WalMaxSize)
	engineCfg.Wal.LogDirectory = cfg.WalLogDirectory
	engineCfg.Wal.BufferSize = cfg.WalBufferSize
	engineCfg.Memtable.ID = memtableID
	engineCfg.Memtable.MaxSize = int(cfg.MemtableMaxSize)

	// DefaultRegisterer, so the engine's counters/gauges show up under
	// promhttp.Handler()'s /metrics exposition (which serves the default
	// gatherer), not just in a registry nothing ever scrapes.
	engine, err := lsm.New(engineCfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("constructing engine", zap.Error(err))
		os.Exit(exitConfigError)
	}

	if hadPriorState {
		if err := engine.Restore(); err != nil {
			logger.Error("restoring from prior state", zap.Error(err))
			os.Exit(exitRestoreFailure)
		}
	}

	srv, err := httpapi.New(httpapi.Config{
		Engine: engine,
		Logger: logger,
		Addr:   cfg.Addr,
	})
	if err != nil {
		logger.Error("constructing server", zap.Error(err))
		os.Exit(exitConfigError)
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	// A separate metrics-only listener, when configured, so /metrics can
	// be reached even if the main façade's port sits behind a stricter
	// network policy than the scrape target.
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics listener failed", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("server failed to bind", zap.Error(err))
			os.Exit(exitBindFailure)
		}
	case <-sigCh:
		logger.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("error during http shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logger.Warn("error during metrics shutdown", zap.Error(err))
		}
	}

	// Graceful shutdown force-flushes the WAL buffer before releasing
	// file handles, per spec.md §5 "Process shutdown".
	if err := engine.Sync(); err != nil {
		logger.Warn("error syncing engine on shutdown", zap.Error(err))
	}
	if err := engine.Close(); err != nil {
		logger.Warn("error closing engine on shutdown", zap.Error(err))
	}

	os.Exit(exitOK)
	return nil
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log-level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log-format %q (want json or console)", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return cfg.Build()
}
