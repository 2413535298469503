package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/DfiLabs/dfi-admin-panel/internal/health"
	"github.com/DfiLabs/dfi-admin-panel/internal/rebalance"
)

// WatchRebalanceJob checks every strategy's drop prefix for a new daily
// release file.
type WatchRebalanceJob struct {
	log       zerolog.Logger
	ingestors map[string]*rebalance.Ingestor
	health    *health.Tracker
	timeout   time.Duration
}

// WatchRebalanceConfig holds configuration for the rebalance watch job.
type WatchRebalanceConfig struct {
	Log       zerolog.Logger
	Ingestors map[string]*rebalance.Ingestor // keyed by strategy
	Health    *health.Tracker
	Timeout   time.Duration
}

// NewWatchRebalanceJob creates a new rebalance watch job.
func NewWatchRebalanceJob(cfg WatchRebalanceConfig) *WatchRebalanceJob {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &WatchRebalanceJob{
		log:       cfg.Log.With().Str("job", "watch_rebalance").Logger(),
		ingestors: cfg.Ingestors,
		health:    cfg.Health,
		timeout:   timeout,
	}
}

// Name returns the job name.
func (j *WatchRebalanceJob) Name() string {
	return "watch_rebalance"
}

// Run checks all strategies for new release files.
func (j *WatchRebalanceJob) Run() error {
	var failed int
	for strategy, ingestor := range j.ingestors {
		component := fmt.Sprintf("rebalance_%s", strategy)

		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		err := ingestor.WatchCycle(ctx)
		cancel()

		if err != nil {
			j.log.Error().Err(err).Str("strategy", strategy).Msg("Rebalance watch failed")
			j.health.RecordFailure(component, err)
			failed++
			continue
		}
		j.health.RecordSuccess(component)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d strategies failed", failed, len(j.ingestors))
	}
	return nil
}
