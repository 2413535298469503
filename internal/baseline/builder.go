// Package baseline assembles the daily baseline document from parsed
// rebalance positions and the current price snapshot.
package baseline

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/DfiLabs/dfi-admin-panel/internal/domain"
	"github.com/DfiLabs/dfi-admin-panel/internal/symbols"
)

// Builder turns a position set and a price snapshot into a baseline
// document. It never drops or zero-fills a position: positions whose
// symbols have no price stay in the universe and are reported in the
// missing list.
type Builder struct {
	capital float64
	log     zerolog.Logger
}

// NewBuilder creates a baseline builder for the given reference capital.
func NewBuilder(capital float64, log zerolog.Logger) *Builder {
	return &Builder{
		capital: capital,
		log:     log.With().Str("component", "baseline_builder").Logger(),
	}
}

// Build assembles a baseline. csvKey and the snapshot feed the audit block
// so the document records exactly which inputs produced it.
func (b *Builder) Build(positions []domain.Position, snap *domain.PriceSnapshot, csvKey, priceFeedKey string) (*domain.Baseline, error) {
	if len(positions) == 0 {
		return nil, fmt.Errorf("no positions to build baseline from")
	}
	if snap == nil || len(snap.Prices) == 0 {
		return nil, fmt.Errorf("price snapshot is empty")
	}

	bl := &domain.Baseline{
		Capital:    b.capital,
		ExecutedAt: time.Now().UTC(),
		Universe:   make([]string, 0, len(positions)),
		Weights:    make(map[string]float64, len(positions)),
		RefPrices:  make(map[string]float64, len(positions)),
		Audit: domain.BaselineAudit{
			CSVKey:       csvKey,
			PriceFeedKey: priceFeedKey,
			SnapshotTime: snap.Timestamp,
		},
	}

	for _, pos := range positions {
		bl.Universe = append(bl.Universe, pos.Symbol)
		bl.Weights[pos.Symbol] = pos.Weight
		if price, ok := symbols.LookupPrice(snap.Prices, pos.Symbol); ok {
			bl.RefPrices[pos.Symbol] = price
		} else {
			bl.Missing = append(bl.Missing, pos.Symbol)
		}
	}
	sort.Strings(bl.Universe)
	sort.Strings(bl.Missing)

	if len(bl.Missing) > 0 {
		b.log.Warn().
			Strs("symbols", bl.Missing).
			Str("csv", csvKey).
			Msg("Baseline has positions without reference prices")
	}
	return bl, nil
}
