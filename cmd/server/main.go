package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/DfiLabs/dfi-admin-panel/internal/baseline"
	"github.com/DfiLabs/dfi-admin-panel/internal/clients/binance"
	"github.com/DfiLabs/dfi-admin-panel/internal/config"
	"github.com/DfiLabs/dfi-admin-panel/internal/execution"
	"github.com/DfiLabs/dfi-admin-panel/internal/health"
	"github.com/DfiLabs/dfi-admin-panel/internal/history"
	"github.com/DfiLabs/dfi-admin-panel/internal/marks"
	"github.com/DfiLabs/dfi-admin-panel/internal/rebalance"
	"github.com/DfiLabs/dfi-admin-panel/internal/scheduler"
	"github.com/DfiLabs/dfi-admin-panel/internal/server"
	"github.com/DfiLabs/dfi-admin-panel/internal/store"
	"github.com/DfiLabs/dfi-admin-panel/internal/valuation"
	"github.com/DfiLabs/dfi-admin-panel/internal/view"
	"github.com/DfiLabs/dfi-admin-panel/pkg/logger"
)

func main() {
	// Load configuration first so the log level is configurable
	cfg, err := config.Load()
	if err != nil {
		bootstrap := logger.New(logger.Config{Level: "info", Pretty: true})
		bootstrap.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().
		Str("bucket", cfg.S3Bucket).
		Strs("strategies", cfg.Strategies).
		Msg("Starting portfolio valuation service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shared object store
	objStore, err := store.NewS3Store(ctx, store.S3Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Timeout:   cfg.FetchTimeout,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize object store")
	}
	keys := store.Keys{Base: cfg.BasePrefix}

	// Local history mirror
	hist, err := history.NewStore(filepath.Join(cfg.DataDir, "history.db"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize history mirror")
	}
	defer hist.Close()

	// Market data feed
	feed := binance.NewClient(cfg.FetchTimeout, log)

	var stream *binance.MarkStream
	if cfg.StreamEnabled {
		stream = binance.NewMarkStream(log)
		stream.Start(ctx)
		defer stream.Stop()
	}

	healthTracker := health.NewTracker(cfg.SnapshotStaleAfter)

	// Price snapshot writer (one shared document for all strategies)
	var streamSource marks.StreamSource
	if stream != nil {
		streamSource = stream
	}
	writer := marks.NewWriter(marks.Config{
		Store:   objStore,
		Keys:    keys,
		Feed:    feed,
		Stream:  streamSource,
		DataDir: cfg.DataDir,
	}, log)
	if err := writer.RepublishFromSpool(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to republish spooled snapshot")
	}

	// Per-strategy pipelines
	builder := baseline.NewBuilder(cfg.Capital, log)
	ingestors := make(map[string]*rebalance.Ingestor, len(cfg.Strategies))
	valuationLoggers := make(map[string]*valuation.Logger, len(cfg.Strategies))

	for _, strategy := range cfg.Strategies {
		vlog := valuation.NewLog(objStore, keys.ValuationLog(strategy), log)

		tracker := execution.NewTracker(strategy, objStore, keys, vlog, cfg.InitialCapital, log)
		if err := tracker.Restore(ctx); err != nil {
			log.Fatal().Err(err).Str("strategy", strategy).Msg("Failed to restore execution state")
		}

		backfillHistory(ctx, hist, vlog, strategy, log)

		ingestors[strategy] = rebalance.NewIngestor(rebalance.IngestorConfig{
			Strategy:      strategy,
			Store:         objStore,
			Keys:          keys,
			Builder:       builder,
			Anchorer:      tracker,
			ReleaseSuffix: cfg.CSVReleaseSuffix,
		}, log)

		valuationLoggers[strategy] = valuation.NewLogger(valuation.LoggerConfig{
			Strategy:           strategy,
			Store:              objStore,
			Keys:               keys,
			Log:                vlog,
			InitialCapital:     cfg.InitialCapital,
			DeviationThreshold: cfg.DeviationThreshold,
			SnapshotStaleAfter: cfg.SnapshotStaleAfter,
			Lifecycle:          tracker,
			Mirror:             hist,
		}, log)
	}

	// Scheduler and jobs
	sched := scheduler.New(log)
	if err := registerJobs(sched, cfg, log, writer, ingestors, valuationLoggers, healthTracker); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Port:    cfg.Port,
		Log:     log,
		Config:  cfg,
		Reader:  view.NewReader(objStore, keys, log),
		History: hist,
		Health:  healthTracker,
		DevMode: cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	log zerolog.Logger,
	writer *marks.Writer,
	ingestors map[string]*rebalance.Ingestor,
	valuationLoggers map[string]*valuation.Logger,
	healthTracker *health.Tracker,
) error {
	priceJob := scheduler.NewSnapshotPricesJob(scheduler.SnapshotPricesConfig{
		Log:     log,
		Writer:  writer,
		Health:  healthTracker,
		Timeout: cfg.FetchTimeout,
	})
	if err := sched.AddJob(cfg.PriceCadence, priceJob); err != nil {
		return err
	}

	rebalanceJob := scheduler.NewWatchRebalanceJob(scheduler.WatchRebalanceConfig{
		Log:       log,
		Ingestors: ingestors,
		Health:    healthTracker,
		Timeout:   cfg.FetchTimeout,
	})
	if err := sched.AddJob(cfg.RebalanceCadence, rebalanceJob); err != nil {
		return err
	}

	valuationJob := scheduler.NewValuationCycleJob(scheduler.ValuationCycleConfig{
		Log:     log,
		Loggers: valuationLoggers,
		Health:  healthTracker,
		Timeout: cfg.FetchTimeout,
	})
	if err := sched.AddJob(cfg.ValuationCadence, valuationJob); err != nil {
		return err
	}

	// Prime the snapshot before the first valuation tick
	if err := sched.RunNow(priceJob); err != nil {
		log.Warn().Err(err).Msg("Initial price snapshot failed, next cycle will retry")
	}

	return nil
}

// backfillHistory seeds the local mirror from the published log so queries
// work immediately after a restart.
func backfillHistory(ctx context.Context, hist *history.Store, vlog *valuation.Log, strategy string, log zerolog.Logger) {
	records, err := vlog.Read(ctx)
	if err != nil {
		log.Warn().Err(err).Str("strategy", strategy).Msg("Failed to read log for history backfill")
		return
	}
	if len(records) == 0 {
		return
	}
	if err := hist.Backfill(ctx, strategy, records); err != nil {
		log.Warn().Err(err).Str("strategy", strategy).Msg("History backfill failed")
	}
}
