package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mfbaptista/billcycle/internal/config"
	"github.com/mfbaptista/billcycle/internal/effects"
	"github.com/mfbaptista/billcycle/internal/infra/memory"
	"github.com/mfbaptista/billcycle/internal/infra/observability"
	"github.com/mfbaptista/billcycle/internal/infra/resilience"
	"github.com/mfbaptista/billcycle/internal/infra/sqlite"
	"github.com/mfbaptista/billcycle/internal/port"
	"github.com/mfbaptista/billcycle/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = godotenv.Load()

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("log_level", cfg.LogLevel),
		zap.String("db_path", cfg.DBPath),
		zap.Int("months_ahead", cfg.MonthsAhead),
		zap.Duration("generation_interval", cfg.GenerationInterval),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "billcycle")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Store ---
	var store port.EngineStore
	if cfg.DBPath != "" {
		db, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err), zap.String("path", cfg.DBPath))
		}
		defer db.Close()
		store = sqlite.NewStore(db)
		logger.Info("using sqlite store", zap.String("path", cfg.DBPath))
	} else {
		store = memory.NewStore()
		logger.Warn("no DB_PATH set, using in-memory store")
	}

	// --- Effects dispatcher ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		LockWait:       cfg.LockWait,
	}
	dispatcher := effects.NewDispatcher(store, resilienceCfg, metrics, logger)

	// --- Engine ---
	engine := service.New(store, dispatcher, service.Options{
		MonthsAhead: cfg.MonthsAhead,
		CacheTTL:    cfg.CacheTTL,
		LockWait:    cfg.LockWait,
	}, metrics, logger)
	defer engine.Close()

	// --- Metrics endpoint ---
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// --- Generation loop ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runGeneration(ctx, engine, store, metrics, logger)

	ticker := time.NewTicker(cfg.GenerationInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runGeneration(ctx, engine, store, metrics, logger)
			}
		}
	}()

	// --- Graceful shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", zap.Error(err))
	}
	logger.Info("cyclod stopped")
}

// runGeneration advances every owner's statements and logs a counters
// snapshot afterwards.
func runGeneration(ctx context.Context, engine *service.EngineService, store port.EngineStore, metrics *observability.Metrics, logger *zap.Logger) {
	owners, err := store.ListOwners(ctx)
	if err != nil {
		logger.Error("list owners failed", zap.Error(err))
		return
	}

	for _, owner := range owners {
		if _, err := engine.GenerateFutureStatements(ctx, owner); err != nil {
			logger.Error("statement generation failed",
				zap.String("owner_id", owner),
				zap.Error(err),
			)
		}
	}

	stats := metrics.GenerationSnapshot()
	logger.Info("generation pass complete",
		zap.Int("owners", len(owners)),
		zap.Float64("statements_created", stats.StatementsCreated),
		zap.Float64("skipped_existing", stats.SkippedExisting),
		zap.Float64("skipped_empty", stats.SkippedEmpty),
		zap.Float64("effects_applied", stats.EffectsApplied),
		zap.Float64("effects_failed", stats.EffectsFailed),
	)
}
