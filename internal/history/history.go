// Package history keeps a local queryable mirror of appended valuation
// records. The published log stays the source of truth; the mirror only
// serves API queries and summary statistics.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"

	"github.com/DfiLabs/dfi-admin-panel/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS valuation_records (
	strategy        TEXT    NOT NULL,
	timestamp_utc   TEXT    NOT NULL,
	portfolio_value REAL    NOT NULL,
	daily_pnl       REAL    NOT NULL,
	cumulative_pnl  REAL    NOT NULL,
	source          TEXT    NOT NULL DEFAULT '',
	cycle_id        TEXT    NOT NULL DEFAULT '',
	incomplete      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (strategy, timestamp_utc)
);
CREATE INDEX IF NOT EXISTS idx_valuation_strategy_ts
	ON valuation_records (strategy, timestamp_utc DESC);
`

// Store is the sqlite-backed record mirror.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore opens (and if needed creates) the mirror database at path.
func NewStore(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	return &Store{
		db:  db,
		log: log.With().Str("component", "history").Logger(),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert mirrors one appended record. Re-inserting the same record is a
// no-op, which makes replaying a log after restart safe.
func (s *Store) Insert(ctx context.Context, strategy string, rec domain.ValuationRecord) error {
	source, cycleID, incomplete := "", "", false
	if rec.Audit != nil {
		source = rec.Audit.Source
		cycleID = rec.Audit.CycleID
		incomplete = rec.Audit.Incomplete
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO valuation_records
			(strategy, timestamp_utc, portfolio_value, daily_pnl, cumulative_pnl, source, cycle_id, incomplete)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		strategy,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.PortfolioValue,
		rec.DailyPnL,
		rec.CumulativePnL,
		source,
		cycleID,
		incomplete,
	)
	if err != nil {
		return fmt.Errorf("failed to mirror valuation record: %w", err)
	}
	return nil
}

// Backfill mirrors a batch of records, typically a full log read at startup.
func (s *Store) Backfill(ctx context.Context, strategy string, records []domain.ValuationRecord) error {
	for _, rec := range records {
		if err := s.Insert(ctx, strategy, rec); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns the n most recent mirrored records in chronological order.
func (s *Store) Recent(ctx context.Context, strategy string, n int) ([]domain.ValuationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp_utc, portfolio_value, daily_pnl, cumulative_pnl, source, cycle_id, incomplete
		FROM valuation_records
		WHERE strategy = ?
		ORDER BY timestamp_utc DESC
		LIMIT ?`, strategy, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []domain.ValuationRecord
	for rows.Next() {
		var (
			ts         string
			rec        domain.ValuationRecord
			source     string
			cycleID    string
			incomplete bool
		)
		if err := rows.Scan(&ts, &rec.PortfolioValue, &rec.DailyPnL, &rec.CumulativePnL, &source, &cycleID, &incomplete); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			s.log.Warn().Str("timestamp", ts).Msg("Skipping row with unparseable timestamp")
			continue
		}
		rec.Timestamp = parsed
		if source != "" || cycleID != "" || incomplete {
			rec.Audit = &domain.ValuationAudit{Source: source, CycleID: cycleID, Incomplete: incomplete}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history rows: %w", err)
	}

	// Reverse to chronological order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Summary aggregates mirrored records since the given time.
type Summary struct {
	Strategy       string    `json:"strategy"`
	Since          time.Time `json:"since"`
	Ticks          int       `json:"ticks"`
	FirstPV        float64   `json:"first_pv"`
	LastPV         float64   `json:"last_pv"`
	MinPV          float64   `json:"min_pv"`
	MaxPV          float64   `json:"max_pv"`
	MeanTickReturn float64   `json:"mean_tick_return"`
	TickReturnStd  float64   `json:"tick_return_std"`
}

// Summarize computes return statistics over the mirrored records since the
// given time. Anchor records are included; their zero daily P&L simply
// contributes a reset point like any other tick.
func (s *Store) Summarize(ctx context.Context, strategy string, since time.Time) (*Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT portfolio_value
		FROM valuation_records
		WHERE strategy = ? AND timestamp_utc >= ?
		ORDER BY timestamp_utc ASC`, strategy, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query history for summary: %w", err)
	}
	defer rows.Close()

	var pvs []float64
	for rows.Next() {
		var pv float64
		if err := rows.Scan(&pv); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		pvs = append(pvs, pv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read summary rows: %w", err)
	}

	sum := &Summary{Strategy: strategy, Since: since.UTC(), Ticks: len(pvs)}
	if len(pvs) == 0 {
		return sum, nil
	}

	sum.FirstPV = pvs[0]
	sum.LastPV = pvs[len(pvs)-1]
	sum.MinPV, sum.MaxPV = pvs[0], pvs[0]
	for _, pv := range pvs {
		if pv < sum.MinPV {
			sum.MinPV = pv
		}
		if pv > sum.MaxPV {
			sum.MaxPV = pv
		}
	}

	if len(pvs) > 1 {
		returns := make([]float64, 0, len(pvs)-1)
		for i := 1; i < len(pvs); i++ {
			if pvs[i-1] != 0 {
				returns = append(returns, pvs[i]/pvs[i-1]-1)
			}
		}
		if len(returns) > 0 {
			sum.MeanTickReturn = stat.Mean(returns, nil)
			if len(returns) > 1 {
				sum.TickReturnStd = stat.StdDev(returns, nil)
			}
		}
	}
	return sum, nil
}
