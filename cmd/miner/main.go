package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/opensyria/cryptonight-miner/miner"
	"github.com/opensyria/cryptonight-miner/miner/config"
	"github.com/opensyria/cryptonight-miner/miner/dashboard"
	"github.com/opensyria/cryptonight-miner/miner/metrics"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config (defaults apply if empty)")
		benchmark  = flag.Bool("benchmark", false, "Hash a synthetic work item instead of stalling for a pool job")
		logLevel   = flag.String("log-level", "", "Log level override: debug, info, warn, error")
		logFormat  = flag.String("log-format", "", "Log format override: text or json")
	)

	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Instance.ID == "" {
		cfg.Instance.ID = uuid.NewString()[:8]
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	printBanner(cfg.Instance.Name)

	logger.Info("Starting Cryptonight miner",
		"instance", cfg.Instance.ID,
		"name", cfg.Instance.Name,
		"os", runtime.GOOS,
		"arch", runtime.GOARCH,
	)

	memMode, err := cfg.MemoryMode()
	if err != nil {
		logger.Error("Invalid memory mode", "err", err)
		os.Exit(1)
	}

	poolCfg := miner.DefaultPoolConfig()
	poolCfg.MemoryMode = memMode
	poolCfg.InstanceID = cfg.Instance.ID
	poolCfg.SkipSelfTest = cfg.Mining.SkipSelfTest
	poolCfg.Logger = logger
	if len(cfg.Mining.Threads) > 0 {
		poolCfg.Threads = poolCfg.Threads[:0]
		for _, t := range cfg.Mining.Threads {
			poolCfg.Threads = append(poolCfg.Threads, miner.ThreadConfig{
				Multiway: t.Multiway,
				Affinity: t.CPUAffinity,
			})
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics("cnminer")
		poolCfg.Metrics = m
		go func() {
			if err := metrics.ServeMetrics(cfg.Metrics.Listen, m); err != nil {
				logger.Error("Metrics server error", "err", err)
			}
		}()
	}

	exec := &logExecutor{logger: logger, metrics: m}
	pool := miner.NewPool(poolCfg, exec)

	// Wire the dashboard into the executor before any worker can emit.
	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(dashboard.Config{
			ListenAddr:     cfg.Dashboard.Listen,
			Pool:           pool,
			Logger:         logger,
			UpdateInterval: cfg.Dashboard.UpdateInterval,
		})
		exec.dashboard = dash
	}

	initial := miner.StallWork()
	if *benchmark {
		initial = benchmarkWork(cfg.Mining.PoolID)
		logger.Info("Benchmark mode: hashing a synthetic work item")
	}

	if err := pool.Start(initial); err != nil {
		logger.Error("Failed to start mining", "err", err)
		os.Exit(1)
	}

	if dash != nil {
		if err := dash.Start(); err != nil {
			logger.Error("Failed to start dashboard", "err", err)
		}
	}

	stop := make(chan struct{})
	go statsReporter(pool, logger, stop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("Received shutdown signal", "signal", sig)
	close(stop)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if dash != nil {
			dash.Stop()
		}
		pool.Shutdown()
		close(done)
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Error("Shutdown timed out")
	case <-done:
		logger.Info("Miner stopped gracefully")
	}
}

// logExecutor is the in-process solution sink used until a network executor
// takes over: it logs, counts and fans out to the dashboard.
type logExecutor struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	dashboard *dashboard.Server
}

func (e *logExecutor) PushEvent(sol miner.Solution) {
	e.logger.Info("Solution found",
		"job", hex.EncodeToString(sol.JobID[:]),
		"nonce", fmt.Sprintf("%08x", sol.Nonce),
		"digest", hex.EncodeToString(sol.Digest[:8])+"...",
		"pool_id", sol.PoolID,
	)
	if e.metrics != nil {
		e.metrics.RecordSolution(sol.PoolID)
	}
	if e.dashboard != nil {
		e.dashboard.NotifySolution(sol)
	}
}

// benchmarkWork builds a synthetic work item with an impossible target, so
// workers hash at full speed without emitting solutions.
func benchmarkWork(poolID int) miner.WorkItem {
	w := miner.WorkItem{
		BlobLen: 76,
		Target:  0,
		PoolID:  poolID,
	}
	copy(w.JobID[:], "bench-00")
	for i := range w.Blob[:w.BlobLen] {
		w.Blob[i] = byte(i)
	}
	return w
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printBanner(name string) {
	fmt.Println()
	fmt.Println("  CRYPTONIGHT MINER - CPU worker pool")
	fmt.Printf("  Instance: %s\n", name)
	fmt.Println()
}

func statsReporter(pool *miner.Pool, logger *slog.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := pool.Snapshot()
			logger.Info("Miner stats",
				"hashrate", formatHashrate(snap.Hashrate),
				"hashrate_60s", formatHashrate(snap.Hashrate60s),
				"total_hashes", snap.TotalHashes,
				"solutions", snap.Solutions,
				"threads", snap.Threads,
			)
		}
	}
}

func formatHashrate(h float64) string {
	switch {
	case h >= 1e9:
		return fmt.Sprintf("%.2f GH/s", h/1e9)
	case h >= 1e6:
		return fmt.Sprintf("%.2f MH/s", h/1e6)
	case h >= 1e3:
		return fmt.Sprintf("%.2f KH/s", h/1e3)
	default:
		return fmt.Sprintf("%.2f H/s", h)
	}
}
