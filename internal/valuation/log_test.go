package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DfiLabs/dfi-admin-panel/internal/domain"
	"github.com/DfiLabs/dfi-admin-panel/internal/store"
)

const logKey = "signal-dashboard/data/combined_descartes_unravel/portfolio_value_log.jsonl"

func newTestLog(t *testing.T) (*Log, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	return NewLog(mem, logKey, zerolog.Nop()), mem
}

func rec(ts time.Time, pv float64) *domain.ValuationRecord {
	return &domain.ValuationRecord{
		Timestamp:      ts,
		PortfolioValue: pv,
		Audit:          &domain.ValuationAudit{Source: domain.SourceValuation},
	}
}

func TestAppendAndRead(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(ctx, rec(base, 1_000_000)))
	require.NoError(t, l.Append(ctx, rec(base.Add(time.Minute), 1_000_500)))

	records, err := l.Read(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1_000_000.0, records[0].PortfolioValue)
	assert.Equal(t, 1_000_500.0, records[1].PortfolioValue)
}

func TestAppendRejectsNonMonotonicTimestamp(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(ctx, rec(base, 1_000_000)))

	err := l.Append(ctx, rec(base, 1_000_100))
	assert.Error(t, err, "equal timestamp must be rejected")

	err = l.Append(ctx, rec(base.Add(-time.Minute), 1_000_100))
	assert.Error(t, err, "earlier timestamp must be rejected")

	records, readErr := l.Read(ctx)
	require.NoError(t, readErr)
	assert.Len(t, records, 1)
}

func TestReadSkipsMalformedLines(t *testing.T) {
	l, mem := newTestLog(t)
	ctx := context.Background()

	body := `{"timestamp":"2025-09-18T12:00:00Z","portfolio_value":1000000,"daily_pnl":0,"cumulative_pnl":0}
not json at all
{"timestamp":"2025-09-18T12:01:00Z","portfolio_value":1000500,"daily_pnl":500,"cumulative_pnl":500}
`
	require.NoError(t, mem.Put(ctx, logKey, []byte(body), store.ContentTypeJSONL))

	records, err := l.Read(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1_000_500.0, records[1].PortfolioValue)
}

func TestTailAndLast(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(ctx, rec(base.Add(time.Duration(i)*time.Minute), float64(1_000_000+i))))
	}

	tail, err := l.Tail(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, 1_000_003.0, tail[0].PortfolioValue)
	assert.Equal(t, 1_000_004.0, tail[1].PortfolioValue)

	last, err := l.Last(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 1_000_004.0, last.PortfolioValue)
}

func TestLastOnEmptyLog(t *testing.T) {
	l, _ := newTestLog(t)
	last, err := l.Last(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}
