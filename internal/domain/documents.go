// Package domain defines the documents shared through the object store and
// the in-process types derived from them. Every document has exactly one
// writer; everything else reads.
package domain

import "time"

// Position is one instrument's target allocation parsed from a rebalance file
// row. Immutable once parsed; owned by the baseline that references it.
type Position struct {
	RawSymbol string  // As written in the file, pre-normalization
	Symbol    string  // Normalized symbol
	Weight    float64 // Signed fraction of capital; sign encodes long/short
}

// PriceSnapshot is the published "current marks" document: a timestamped map
// from normalized symbol to last mark price. Timestamps are monotonically
// non-decreasing across publishes.
type PriceSnapshot struct {
	Timestamp time.Time          `json:"timestamp_utc"`
	Prices    map[string]float64 `json:"prices"`
}

// Baseline is the day's frozen reference state: the universe, weights and
// entry prices against which intraday P&L is measured. Created once per
// trading day, never mutated, superseded by the next day's baseline.
//
// Universe contains every normalized symbol from the rebalance file, priced
// or not. A symbol with no resolvable mark at build time appears in Missing
// and has no RefPrices entry; it is never silently dropped or zero-filled.
type Baseline struct {
	Capital    float64            `json:"capital"`
	ExecutedAt time.Time          `json:"executed_at_utc"`
	Universe   []string           `json:"universe"`
	Weights    map[string]float64 `json:"weights"`
	RefPrices  map[string]float64 `json:"ref_prices"`
	Missing    []string           `json:"missing_prices,omitempty"`
	Audit      BaselineAudit      `json:"audit"`
}

// BaselineAudit records the inputs a baseline was built from.
type BaselineAudit struct {
	CSVKey       string    `json:"csv_key"`
	PriceFeedKey string    `json:"price_feed_key"`
	SnapshotTime time.Time `json:"snapshot_utc"`
}

// Pointer tells readers which rebalance file is currently in effect.
type Pointer struct {
	ActiveRebalanceFile string    `json:"active_rebalance_file"`
	UpdatedAt           time.Time `json:"updated_at_utc"`
}

// PreExecution snapshots the portfolio value carried into a new trading day
// (pv_pre), written at anchor commit time.
type PreExecution struct {
	PVPre      float64   `json:"pv_pre"`
	PVPreTime  time.Time `json:"pv_pre_time_utc"`
	ExecutedAt time.Time `json:"executed_at_utc"`
	Strategy   string    `json:"strategy"`
}

// Valuation record sources.
const (
	// SourceAnchor marks the zero-P&L record committed at execution time.
	SourceAnchor = "execution-anchor"
	// SourceValuation marks a regular periodic valuation tick.
	SourceValuation = "valuation-cycle"
)

// ValuationRecord is one line of the append-only valuation log.
type ValuationRecord struct {
	Timestamp      time.Time       `json:"timestamp"`
	PortfolioValue float64         `json:"portfolio_value"`
	DailyPnL       float64         `json:"daily_pnl"`
	CumulativePnL  float64         `json:"cumulative_pnl"`
	Audit          *ValuationAudit `json:"audit,omitempty"`
}

// ValuationAudit carries provenance for one log record. Incomplete is set
// whenever any universe symbol could not be priced this tick, so consumers
// can render an explicit indicator instead of trusting a partial value.
type ValuationAudit struct {
	Source          string   `json:"source"`
	CycleID         string   `json:"cycle_id,omitempty"`
	PositionsPriced int      `json:"positions_priced,omitempty"`
	MissingSymbols  []string `json:"missing_symbols,omitempty"`
	Incomplete      bool     `json:"incomplete,omitempty"`
	Note            string   `json:"note,omitempty"`
}

// IsAnchor reports whether the record is an execution anchor.
func (r *ValuationRecord) IsAnchor() bool {
	return r.Audit != nil && r.Audit.Source == SourceAnchor
}

// TradingDay returns the UTC calendar day a timestamp belongs to.
// Daily state transitions compare these, never raw timestamps.
func TradingDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
