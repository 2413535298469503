package rebalance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DfiLabs/dfi-admin-panel/internal/baseline"
	"github.com/DfiLabs/dfi-admin-panel/internal/domain"
	"github.com/DfiLabs/dfi-admin-panel/internal/execution"
	"github.com/DfiLabs/dfi-admin-panel/internal/store"
	"github.com/DfiLabs/dfi-admin-panel/internal/valuation"
)

func TestParsePositions(t *testing.T) {
	csvText := `product,target_weight,target_notional
BTC_USDT,0.5,500000
ETHUSDT,-0.3,-300000
SHIB_USDT,0.2%,200000
`
	positions, err := ParsePositions(strings.NewReader(csvText))
	require.NoError(t, err)
	require.Len(t, positions, 3)

	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
	assert.Equal(t, "BTC_USDT", positions[0].RawSymbol)
	assert.Equal(t, 0.5, positions[0].Weight)
	assert.Equal(t, -0.3, positions[1].Weight)
	assert.Equal(t, "SHIBUSDT", positions[2].Symbol)
	assert.Equal(t, 0.2, positions[2].Weight, "percent sign is stripped, value kept as-is")
}

func TestParsePositionsAlternateColumns(t *testing.T) {
	tests := []struct {
		name    string
		csvText string
	}{
		{"ticker column", "ticker,target_weight\nBTCUSDT,1.0\n"},
		{"ric column", "ric,target_weight\nBTCUSDT,1.0\n"},
		{"extra columns and order", "target_notional,target_weight,product\n1000,1.0,BTCUSDT\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			positions, err := ParsePositions(strings.NewReader(tt.csvText))
			require.NoError(t, err)
			require.Len(t, positions, 1)
			assert.Equal(t, "BTCUSDT", positions[0].Symbol)
			assert.Equal(t, 1.0, positions[0].Weight)
		})
	}
}

func TestParsePositionsUnicodeMinus(t *testing.T) {
	csvText := "product,target_weight\nBTCUSDT,−0.4\nETHUSDT,–0.1\n"
	positions, err := ParsePositions(strings.NewReader(csvText))
	require.NoError(t, err)
	assert.Equal(t, -0.4, positions[0].Weight)
	assert.Equal(t, -0.1, positions[1].Weight)
}

func TestParsePositionsErrors(t *testing.T) {
	tests := []struct {
		name    string
		csvText string
	}{
		{"empty file", ""},
		{"header only", "product,target_weight\n"},
		{"no symbol column", "code,target_weight\nBTCUSDT,1.0\n"},
		{"no weight column", "product,notional\nBTCUSDT,1000\n"},
		{"bad weight", "product,target_weight\nBTCUSDT,abc\n"},
		{"empty symbol", "product,target_weight\n,1.0\n"},
		{"duplicate after normalization", "product,target_weight\nBTC_USDT,0.5\nBTCUSDT,0.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePositions(strings.NewReader(tt.csvText))
			assert.Error(t, err)
		})
	}
}

type fakeAnchorer struct {
	baselinePublished int
	anchors           []time.Time
}

func (f *fakeAnchorer) MarkBaselinePublished() { f.baselinePublished++ }

func (f *fakeAnchorer) CommitAnchor(ctx context.Context, executedAt time.Time) error {
	f.anchors = append(f.anchors, executedAt)
	return nil
}

type ingestorFixture struct {
	ingestor *Ingestor
	anchorer *fakeAnchorer
	mem      *store.MemoryStore
	keys     store.Keys
}

const testStrategy = "combined_descartes_unravel"

func newIngestorFixture(t *testing.T) *ingestorFixture {
	t.Helper()
	mem := store.NewMemoryStore()
	keys := store.Keys{Base: "signal-dashboard/data"}
	anchorer := &fakeAnchorer{}
	ing := NewIngestor(IngestorConfig{
		Strategy:      testStrategy,
		Store:         mem,
		Keys:          keys,
		Builder:       baseline.NewBuilder(1_000_000, zerolog.Nop()),
		Anchorer:      anchorer,
		ReleaseSuffix: "-2355.csv",
	}, zerolog.Nop())

	snap := &domain.PriceSnapshot{
		Timestamp: time.Now().UTC(),
		Prices:    map[string]float64{"BTCUSDT": 65000, "ETHUSDT": 3200},
	}
	require.NoError(t, store.PutJSON(context.Background(), mem, keys.LatestPrices(), snap))

	return &ingestorFixture{ingestor: ing, anchorer: anchorer, mem: mem, keys: keys}
}

func (f *ingestorFixture) dropFile(t *testing.T, name, body string, at time.Time) string {
	t.Helper()
	key := f.keys.RebalancePrefix(testStrategy) + name
	f.mem.PutAt(key, []byte(body), store.ContentTypeCSV, at)
	return key
}

const goodCSV = "product,target_weight\nBTC_USDT,0.6\nETHUSDT,0.4\n"

func TestWatchCycleIngestsNewRelease(t *testing.T) {
	f := newIngestorFixture(t)
	ctx := context.Background()
	key := f.dropFile(t, "lpxd_external_advisors_DF_20250918-2355.csv", goodCSV, time.Now().UTC())

	require.NoError(t, f.ingestor.WatchCycle(ctx))

	var bl domain.Baseline
	require.NoError(t, store.GetJSON(ctx, f.mem, f.keys.Baseline(testStrategy), &bl))
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, bl.Universe)
	assert.Equal(t, 0.6, bl.Weights["BTCUSDT"])
	assert.Equal(t, key, bl.Audit.CSVKey)

	var ptr domain.Pointer
	require.NoError(t, store.GetJSON(ctx, f.mem, f.keys.Pointer(testStrategy), &ptr))
	assert.Equal(t, key, ptr.ActiveRebalanceFile)

	assert.Equal(t, 1, f.anchorer.baselinePublished)
	require.Len(t, f.anchorer.anchors, 1)
}

func TestWatchCycleIdempotentOnSameFile(t *testing.T) {
	f := newIngestorFixture(t)
	ctx := context.Background()
	f.dropFile(t, "lpxd_external_advisors_DF_20250918-2355.csv", goodCSV, time.Now().UTC())

	require.NoError(t, f.ingestor.WatchCycle(ctx))
	require.NoError(t, f.ingestor.WatchCycle(ctx))

	assert.Equal(t, 1, f.anchorer.baselinePublished, "second cycle on same file must be a no-op")
	assert.Len(t, f.anchorer.anchors, 1)
}

func TestWatchCyclePicksNewestConformingFile(t *testing.T) {
	f := newIngestorFixture(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	f.dropFile(t, "lpxd_external_advisors_DF_20250917-2355.csv",
		"product,target_weight\nBTCUSDT,1.0\n", base)
	f.dropFile(t, "notes.txt", "not a release", base.Add(time.Minute))
	f.dropFile(t, "intraday_20250918-1200.csv", "product,target_weight\nETHUSDT,1.0\n", base.Add(2*time.Minute))
	newest := f.dropFile(t, "lpxd_external_advisors_DF_20250918-2355.csv", goodCSV, base.Add(3*time.Minute))

	require.NoError(t, f.ingestor.WatchCycle(ctx))

	var ptr domain.Pointer
	require.NoError(t, store.GetJSON(ctx, f.mem, f.keys.Pointer(testStrategy), &ptr))
	assert.Equal(t, newest, ptr.ActiveRebalanceFile)
}

func TestWatchCycleEmptyPrefixIsNoop(t *testing.T) {
	f := newIngestorFixture(t)
	require.NoError(t, f.ingestor.WatchCycle(context.Background()))
	assert.Zero(t, f.anchorer.baselinePublished)
}

// flakyStore fails Put on one key a set number of times, then recovers.
type flakyStore struct {
	*store.MemoryStore
	failKey  string
	failures int
}

func (f *flakyStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if key == f.failKey && f.failures > 0 {
		f.failures--
		return errors.New("transient store error")
	}
	return f.MemoryStore.Put(ctx, key, body, contentType)
}

func TestWatchCycleRetriesAnchorAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	keys := store.Keys{Base: "signal-dashboard/data"}
	logKey := keys.ValuationLog(testStrategy)
	mem := &flakyStore{MemoryStore: store.NewMemoryStore(), failKey: logKey, failures: 1}

	snap := &domain.PriceSnapshot{
		Timestamp: time.Now().UTC(),
		Prices:    map[string]float64{"BTCUSDT": 65000, "ETHUSDT": 3200},
	}
	require.NoError(t, store.PutJSON(ctx, mem, keys.LatestPrices(), snap))

	vlog := valuation.NewLog(mem, logKey, zerolog.Nop())
	tracker := execution.NewTracker(testStrategy, mem, keys, vlog, 1_000_000, zerolog.Nop())
	ing := NewIngestor(IngestorConfig{
		Strategy:      testStrategy,
		Store:         mem,
		Keys:          keys,
		Builder:       baseline.NewBuilder(1_000_000, zerolog.Nop()),
		Anchorer:      tracker,
		ReleaseSuffix: "-2355.csv",
	}, zerolog.Nop())

	key := keys.RebalancePrefix(testStrategy) + "lpxd_external_advisors_DF_20250918-2355.csv"
	mem.PutAt(key, []byte(goodCSV), store.ContentTypeCSV, time.Now().UTC())

	// The anchor append hits the transient store failure.
	require.Error(t, ing.WatchCycle(ctx))

	// The pointer must not have advanced past the failed anchor.
	var ptr domain.Pointer
	err := store.GetJSON(ctx, mem, keys.Pointer(testStrategy), &ptr)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Healthy cycles retry and the day ends with exactly one anchor.
	require.NoError(t, ing.WatchCycle(ctx))
	require.NoError(t, ing.WatchCycle(ctx))

	records, err := vlog.Read(ctx)
	require.NoError(t, err)
	anchors := 0
	for i := range records {
		if records[i].IsAnchor() {
			anchors++
		}
	}
	assert.Equal(t, 1, anchors, "the day must end up with exactly one anchor")

	require.NoError(t, store.GetJSON(ctx, mem, keys.Pointer(testStrategy), &ptr))
	assert.Equal(t, key, ptr.ActiveRebalanceFile)
}

func TestWatchCycleMalformedFileLeavesPointer(t *testing.T) {
	f := newIngestorFixture(t)
	ctx := context.Background()

	good := f.dropFile(t, "lpxd_external_advisors_DF_20250917-2355.csv", goodCSV, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, f.ingestor.WatchCycle(ctx))

	f.dropFile(t, "lpxd_external_advisors_DF_20250918-2355.csv",
		"product,target_weight\nBTCUSDT,garbage\n", time.Now().UTC())

	err := f.ingestor.WatchCycle(ctx)
	require.Error(t, err)

	var ptr domain.Pointer
	require.NoError(t, store.GetJSON(ctx, f.mem, f.keys.Pointer(testStrategy), &ptr))
	assert.Equal(t, good, ptr.ActiveRebalanceFile, "pointer stays on last good file")

	// The malformed file is remembered and not retried every cycle.
	require.NoError(t, f.ingestor.WatchCycle(ctx))
	assert.Equal(t, 1, f.anchorer.baselinePublished)
}
