package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/DfiLabs/dfi-admin-panel/internal/health"
	"github.com/DfiLabs/dfi-admin-panel/internal/valuation"
)

// ValuationCycleJob appends one valuation record per strategy per cycle.
// A failing strategy does not block the remaining ones.
type ValuationCycleJob struct {
	log     zerolog.Logger
	loggers map[string]*valuation.Logger
	health  *health.Tracker
	timeout time.Duration
}

// ValuationCycleConfig holds configuration for the valuation cycle job.
type ValuationCycleConfig struct {
	Log     zerolog.Logger
	Loggers map[string]*valuation.Logger // keyed by strategy
	Health  *health.Tracker
	Timeout time.Duration
}

// NewValuationCycleJob creates a new valuation cycle job.
func NewValuationCycleJob(cfg ValuationCycleConfig) *ValuationCycleJob {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ValuationCycleJob{
		log:     cfg.Log.With().Str("job", "valuation_cycle").Logger(),
		loggers: cfg.Loggers,
		health:  cfg.Health,
		timeout: timeout,
	}
}

// Name returns the job name.
func (j *ValuationCycleJob) Name() string {
	return "valuation_cycle"
}

// Run executes one valuation cycle across all strategies.
func (j *ValuationCycleJob) Run() error {
	var failed int
	for strategy, logger := range j.loggers {
		component := fmt.Sprintf("valuation_%s", strategy)

		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		err := logger.RunCycle(ctx)
		cancel()

		if err != nil {
			j.log.Error().Err(err).Str("strategy", strategy).Msg("Valuation cycle failed")
			j.health.RecordFailure(component, err)
			failed++
			continue
		}
		j.health.RecordSuccess(component)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d strategies failed", failed, len(j.loggers))
	}
	return nil
}
