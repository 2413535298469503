package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DfiLabs/dfi-admin-panel/internal/domain"
)

const strategy = "combined_descartes_unravel"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(ts time.Time, pv, daily float64) domain.ValuationRecord {
	return domain.ValuationRecord{
		Timestamp:      ts,
		PortfolioValue: pv,
		DailyPnL:       daily,
		CumulativePnL:  pv - 1_000_000,
		Audit:          &domain.ValuationAudit{Source: domain.SourceValuation, CycleID: "c"},
	}
}

func TestInsertAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, strategy, record(base, 1_000_000, 0)))
	require.NoError(t, s.Insert(ctx, strategy, record(base.Add(time.Minute), 1_000_500, 500)))

	records, err := s.Recent(ctx, strategy, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1_000_000.0, records[0].PortfolioValue, "records come back chronological")
	assert.Equal(t, 1_000_500.0, records[1].PortfolioValue)
	assert.True(t, records[0].Timestamp.Equal(base))
}

func TestInsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC)

	rec := record(ts, 1_000_000, 0)
	require.NoError(t, s.Insert(ctx, strategy, rec))
	require.NoError(t, s.Insert(ctx, strategy, rec))

	records, err := s.Recent(ctx, strategy, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRecentLimitsAndIsolatesStrategies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Insert(ctx, strategy, record(base.Add(time.Duration(i)*time.Minute), 1_000_000+float64(i), 0)))
	}
	require.NoError(t, s.Insert(ctx, "other_strategy", record(base, 2_000_000, 0)))

	records, err := s.Recent(ctx, strategy, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 1_000_002.0, records[0].PortfolioValue)
	assert.Equal(t, 1_000_004.0, records[2].PortfolioValue)
}

func TestSummarize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC)

	pvs := []float64{1_000_000, 1_010_000, 1_005_000, 1_020_000}
	for i, pv := range pvs {
		require.NoError(t, s.Insert(ctx, strategy, record(base.Add(time.Duration(i)*time.Minute), pv, 0)))
	}

	sum, err := s.Summarize(ctx, strategy, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Ticks)
	assert.Equal(t, 1_000_000.0, sum.FirstPV)
	assert.Equal(t, 1_020_000.0, sum.LastPV)
	assert.Equal(t, 1_000_000.0, sum.MinPV)
	assert.Equal(t, 1_020_000.0, sum.MaxPV)
	assert.Greater(t, sum.MeanTickReturn, 0.0)
	assert.Greater(t, sum.TickReturnStd, 0.0)
}

func TestSummarizeEmpty(t *testing.T) {
	s := newTestStore(t)
	sum, err := s.Summarize(context.Background(), strategy, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, sum.Ticks)
	assert.Zero(t, sum.LastPV)
}

func TestBackfill(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC)

	records := []domain.ValuationRecord{
		record(base, 1_000_000, 0),
		record(base.Add(time.Minute), 1_000_500, 500),
	}
	require.NoError(t, s.Backfill(ctx, strategy, records))
	require.NoError(t, s.Backfill(ctx, strategy, records))

	got, err := s.Recent(ctx, strategy, 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
