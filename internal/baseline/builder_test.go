package baseline

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DfiLabs/dfi-admin-panel/internal/domain"
)

func TestBuild(t *testing.T) {
	b := NewBuilder(1_000_000, zerolog.Nop())
	snap := &domain.PriceSnapshot{
		Timestamp: time.Date(2025, 9, 18, 23, 56, 0, 0, time.UTC),
		Prices: map[string]float64{
			"BTCUSDT":      65000,
			"1000SHIBUSDT": 0.0172,
		},
	}
	positions := []domain.Position{
		{RawSymbol: "BTC_USDT", Symbol: "BTCUSDT", Weight: 0.5},
		{RawSymbol: "SHIBUSDT", Symbol: "SHIBUSDT", Weight: 0.3},
		{RawSymbol: "NEWCOINUSDT", Symbol: "NEWCOINUSDT", Weight: 0.2},
	}

	bl, err := b.Build(positions, snap, "drop/file-2355.csv", "signal-dashboard/data/latest_prices.json")
	require.NoError(t, err)

	assert.Equal(t, 1_000_000.0, bl.Capital)
	assert.Equal(t, []string{"BTCUSDT", "NEWCOINUSDT", "SHIBUSDT"}, bl.Universe)
	assert.Equal(t, 0.2, bl.Weights["NEWCOINUSDT"], "unpriced positions keep their weight")

	assert.Equal(t, 65000.0, bl.RefPrices["BTCUSDT"])
	assert.Equal(t, 0.0172, bl.RefPrices["SHIBUSDT"], "alias partner price is used")
	assert.NotContains(t, bl.RefPrices, "NEWCOINUSDT")
	assert.Equal(t, []string{"NEWCOINUSDT"}, bl.Missing)

	assert.Equal(t, "drop/file-2355.csv", bl.Audit.CSVKey)
	assert.Equal(t, snap.Timestamp, bl.Audit.SnapshotTime)
	assert.False(t, bl.ExecutedAt.IsZero())
}

func TestBuildRejectsEmptyInputs(t *testing.T) {
	b := NewBuilder(1_000_000, zerolog.Nop())
	snap := &domain.PriceSnapshot{Prices: map[string]float64{"BTCUSDT": 65000}}

	_, err := b.Build(nil, snap, "k", "p")
	assert.Error(t, err)

	_, err = b.Build([]domain.Position{{Symbol: "BTCUSDT", Weight: 1}}, &domain.PriceSnapshot{}, "k", "p")
	assert.Error(t, err)
}
