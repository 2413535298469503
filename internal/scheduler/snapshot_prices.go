package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/DfiLabs/dfi-admin-panel/internal/health"
	"github.com/DfiLabs/dfi-admin-panel/internal/marks"
)

// SnapshotPricesJob publishes the shared price snapshot each cycle.
type SnapshotPricesJob struct {
	log     zerolog.Logger
	writer  *marks.Writer
	health  *health.Tracker
	timeout time.Duration
}

// SnapshotPricesConfig holds configuration for the price snapshot job.
type SnapshotPricesConfig struct {
	Log     zerolog.Logger
	Writer  *marks.Writer
	Health  *health.Tracker
	Timeout time.Duration
}

// NewSnapshotPricesJob creates a new price snapshot job.
func NewSnapshotPricesJob(cfg SnapshotPricesConfig) *SnapshotPricesJob {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SnapshotPricesJob{
		log:     cfg.Log.With().Str("job", "snapshot_prices").Logger(),
		writer:  cfg.Writer,
		health:  cfg.Health,
		timeout: timeout,
	}
}

// Name returns the job name.
func (j *SnapshotPricesJob) Name() string {
	return "snapshot_prices"
}

// Run executes one price snapshot cycle.
func (j *SnapshotPricesJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.writer.RunCycle(ctx); err != nil {
		j.health.RecordFailure(j.Name(), err)
		return err
	}
	j.health.RecordSuccess(j.Name())
	return nil
}
