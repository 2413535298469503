package valuation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DfiLabs/dfi-admin-panel/internal/domain"
	"github.com/DfiLabs/dfi-admin-panel/internal/store"
	"github.com/DfiLabs/dfi-admin-panel/internal/symbols"
)

// Mirror receives a best-effort copy of every appended record. Failures are
// logged and never block the published log.
type Mirror interface {
	Insert(ctx context.Context, strategy string, rec domain.ValuationRecord) error
}

// Lifecycle is the slice of the execution tracker the valuation cycle needs.
type Lifecycle interface {
	MarkValuationTick()
}

// Logger computes one valuation record per cycle for one strategy.
type Logger struct {
	strategy           string
	store              store.ObjectStore
	keys               store.Keys
	vlog               *Log
	initialCapital     float64
	deviationThreshold float64
	snapshotStaleAfter time.Duration
	lifecycle          Lifecycle // may be nil
	mirror             Mirror    // may be nil
	log                zerolog.Logger
}

// LoggerConfig holds valuation logger configuration.
type LoggerConfig struct {
	Strategy           string
	Store              store.ObjectStore
	Keys               store.Keys
	Log                *Log
	InitialCapital     float64
	DeviationThreshold float64
	SnapshotStaleAfter time.Duration
	Lifecycle          Lifecycle
	Mirror             Mirror
}

// NewLogger creates a valuation logger.
func NewLogger(cfg LoggerConfig, log zerolog.Logger) *Logger {
	return &Logger{
		strategy:           cfg.Strategy,
		store:              cfg.Store,
		keys:               cfg.Keys,
		vlog:               cfg.Log,
		initialCapital:     cfg.InitialCapital,
		deviationThreshold: cfg.DeviationThreshold,
		snapshotStaleAfter: cfg.SnapshotStaleAfter,
		lifecycle:          cfg.Lifecycle,
		mirror:             cfg.Mirror,
		log: log.With().
			Str("component", "valuation_logger").
			Str("strategy", cfg.Strategy).
			Logger(),
	}
}

// RunCycle computes and appends one valuation record. A cycle that cannot
// produce a trustworthy record (missing inputs, stale snapshot, failed
// deviation guard) appends nothing.
func (l *Logger) RunCycle(ctx context.Context) error {
	cycleID := uuid.New().String()

	var bl domain.Baseline
	if err := store.GetJSON(ctx, l.store, l.keys.Baseline(l.strategy), &bl); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.log.Warn().Str("cycle_id", cycleID).Msg("No baseline published yet, skipping cycle")
			return nil
		}
		return fmt.Errorf("failed to read baseline: %w", err)
	}

	var snap domain.PriceSnapshot
	if err := store.GetJSON(ctx, l.store, l.keys.LatestPrices(), &snap); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.log.Warn().Str("cycle_id", cycleID).Msg("No price snapshot available, skipping cycle")
			return nil
		}
		return fmt.Errorf("failed to read price snapshot: %w", err)
	}
	if age := time.Since(snap.Timestamp); l.snapshotStaleAfter > 0 && age > l.snapshotStaleAfter {
		l.log.Error().
			Str("cycle_id", cycleID).
			Dur("age", age).
			Msg("Price snapshot is stale, skipping cycle")
		return fmt.Errorf("price snapshot is %s old", age.Round(time.Second))
	}

	var pre domain.PreExecution
	if err := store.GetJSON(ctx, l.store, l.keys.PreExecution(l.strategy), &pre); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.log.Warn().Str("cycle_id", cycleID).Msg("No pre-execution marker yet, skipping cycle")
			return nil
		}
		return fmt.Errorf("failed to read pre-execution marker: %w", err)
	}

	pnl, priced, missing := l.weightPnL(&bl, snap.Prices)
	pv := pre.PVPre + pnl

	rec := &domain.ValuationRecord{
		Timestamp:      time.Now().UTC(),
		PortfolioValue: pv,
		DailyPnL:       pv - pre.PVPre,
		CumulativePnL:  pv - l.initialCapital,
		Audit: &domain.ValuationAudit{
			Source:          domain.SourceValuation,
			CycleID:         cycleID,
			PositionsPriced: priced,
			MissingSymbols:  missing,
			Incomplete:      len(missing) > 0,
		},
	}

	last, err := l.vlog.Last(ctx)
	if err != nil {
		return fmt.Errorf("failed to read last valuation record: %w", err)
	}
	if last != nil && last.PortfolioValue != 0 {
		deviation := math.Abs(pv-last.PortfolioValue) / math.Abs(last.PortfolioValue)
		if deviation > l.deviationThreshold {
			// The record after an anchor is exempt: a rebalance legitimately
			// resets the reference point the guard compares against.
			if !last.IsAnchor() {
				l.log.Error().
					Str("cycle_id", cycleID).
					Float64("pv", pv).
					Float64("last_pv", last.PortfolioValue).
					Float64("deviation", deviation).
					Msg("Deviation guard rejected valuation tick")
				return fmt.Errorf("pv deviates %.2f%% from last record, above %.2f%% threshold",
					deviation*100, l.deviationThreshold*100)
			}
			l.log.Warn().
				Str("cycle_id", cycleID).
				Float64("deviation", deviation).
				Msg("Deviation guard bypassed for first post-anchor tick")
		}
	}

	if err := l.vlog.Append(ctx, rec); err != nil {
		return fmt.Errorf("failed to append valuation record: %w", err)
	}
	if l.lifecycle != nil {
		l.lifecycle.MarkValuationTick()
	}
	if l.mirror != nil {
		if err := l.mirror.Insert(ctx, l.strategy, *rec); err != nil {
			l.log.Warn().Err(err).Str("cycle_id", cycleID).Msg("History mirror insert failed")
		}
	}

	l.log.Info().
		Str("cycle_id", cycleID).
		Float64("pv", pv).
		Float64("daily_pnl", rec.DailyPnL).
		Int("positions_priced", priced).
		Int("missing", len(missing)).
		Msg("Valuation record appended")
	return nil
}

// weightPnL computes the aggregate weight-based P&L against the baseline
// reference prices. Positions without a usable live or reference price
// contribute zero and are reported as missing.
func (l *Logger) weightPnL(bl *domain.Baseline, prices map[string]float64) (float64, int, []string) {
	var pnl float64
	priced := 0
	var missing []string

	for _, sym := range bl.Universe {
		weight, ok := bl.Weights[sym]
		if !ok {
			missing = append(missing, sym)
			continue
		}
		ref, hasRef := bl.RefPrices[sym]
		live, hasLive := symbols.LookupPrice(prices, sym)
		if !hasRef || !hasLive || ref <= 0 {
			missing = append(missing, sym)
			continue
		}
		pnl += weight * bl.Capital * (live/ref - 1)
		priced++
	}
	sort.Strings(missing)
	return pnl, priced, missing
}
