// Package rebalance watches the per-strategy CSV drop prefix, parses daily
// release files and publishes the resulting baseline and pointer documents.
package rebalance

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/DfiLabs/dfi-admin-panel/internal/baseline"
	"github.com/DfiLabs/dfi-admin-panel/internal/domain"
	"github.com/DfiLabs/dfi-admin-panel/internal/store"
	"github.com/DfiLabs/dfi-admin-panel/internal/symbols"
)

var symbolColumns = []string{"product", "ticker", "ric"}

const weightColumn = "target_weight"

// ParsePositions parses a daily release CSV. The symbol column is the first
// of product, ticker or ric present in the header; weights come from the
// target_weight column. Underscores are stripped from symbols, and weights
// tolerate unicode minus variants and stray percent signs.
func ParsePositions(r io.Reader) ([]domain.Position, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv is empty")
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	symbolIdx, weightIdx := -1, -1
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		if symbolIdx < 0 {
			for _, candidate := range symbolColumns {
				if name == candidate {
					symbolIdx = i
					break
				}
			}
		}
		if name == weightColumn {
			weightIdx = i
		}
	}
	if symbolIdx < 0 {
		return nil, fmt.Errorf("csv has no symbol column (expected one of %s)", strings.Join(symbolColumns, ", "))
	}
	if weightIdx < 0 {
		return nil, fmt.Errorf("csv has no %s column", weightColumn)
	}

	var positions []domain.Position
	seen := make(map[string]string)
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		line++
		if symbolIdx >= len(row) || weightIdx >= len(row) {
			return nil, fmt.Errorf("line %d: too few columns", line)
		}

		raw := strings.TrimSpace(row[symbolIdx])
		if raw == "" {
			return nil, fmt.Errorf("line %d: empty symbol", line)
		}
		sym := symbols.Normalize(raw)

		weight, err := parseWeight(row[weightIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid weight for %s: %w", line, raw, err)
		}

		if prev, dup := seen[sym]; dup {
			return nil, fmt.Errorf("line %d: %s and %s normalize to the same symbol %s", line, prev, raw, sym)
		}
		seen[sym] = raw

		positions = append(positions, domain.Position{
			RawSymbol: raw,
			Symbol:    sym,
			Weight:    weight,
		})
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("csv has no position rows")
	}
	return positions, nil
}

func parseWeight(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "−", "-") // unicode minus
	s = strings.ReplaceAll(s, "–", "-") // en dash
	s = strings.ReplaceAll(s, "%", "")
	if s == "" {
		return 0, fmt.Errorf("empty weight")
	}
	return strconv.ParseFloat(s, 64)
}

// Anchorer is the slice of the execution tracker the ingestor drives.
type Anchorer interface {
	MarkBaselinePublished()
	CommitAnchor(ctx context.Context, executedAt time.Time) error
}

// Ingestor processes new daily release files for one strategy. The pointer
// document records the last ingested file; a cycle that sees the same file
// again is a no-op.
type Ingestor struct {
	strategy      string
	store         store.ObjectStore
	keys          store.Keys
	builder       *baseline.Builder
	anchorer      Anchorer
	releaseSuffix string
	log           zerolog.Logger

	// Key of a file that failed to parse. Remembered so one malformed
	// release alerts once instead of every cycle.
	failedKey string
}

// IngestorConfig holds ingestor configuration.
type IngestorConfig struct {
	Strategy      string
	Store         store.ObjectStore
	Keys          store.Keys
	Builder       *baseline.Builder
	Anchorer      Anchorer
	ReleaseSuffix string
}

// NewIngestor creates a rebalance ingestor.
func NewIngestor(cfg IngestorConfig, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		strategy:      cfg.Strategy,
		store:         cfg.Store,
		keys:          cfg.Keys,
		builder:       cfg.Builder,
		anchorer:      cfg.Anchorer,
		releaseSuffix: cfg.ReleaseSuffix,
		log: log.With().
			Str("component", "rebalance_ingestor").
			Str("strategy", cfg.Strategy).
			Logger(),
	}
}

// WatchCycle looks for a new daily release file and, if one is found,
// publishes the baseline, advances the pointer and commits the anchor.
func (g *Ingestor) WatchCycle(ctx context.Context) error {
	key, err := g.newestRelease(ctx)
	if err != nil {
		return err
	}
	if key == "" {
		return nil
	}

	var ptr domain.Pointer
	err = store.GetJSON(ctx, g.store, g.keys.Pointer(g.strategy), &ptr)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to read pointer: %w", err)
	}
	if ptr.ActiveRebalanceFile == key {
		return nil
	}
	if g.failedKey == key {
		return nil
	}

	body, err := g.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read release file %s: %w", key, err)
	}

	positions, err := ParsePositions(strings.NewReader(string(body)))
	if err != nil {
		g.failedKey = key
		g.log.Error().Err(err).Str("key", key).
			Msg("Release file is malformed, leaving pointer on previous file")
		return fmt.Errorf("malformed release file %s: %w", key, err)
	}

	var snap domain.PriceSnapshot
	if err := store.GetJSON(ctx, g.store, g.keys.LatestPrices(), &snap); err != nil {
		return fmt.Errorf("failed to read price snapshot: %w", err)
	}

	bl, err := g.builder.Build(positions, &snap, key, g.keys.LatestPrices())
	if err != nil {
		return fmt.Errorf("failed to build baseline: %w", err)
	}

	if err := store.PutJSON(ctx, g.store, g.keys.Baseline(g.strategy), bl); err != nil {
		return fmt.Errorf("failed to publish baseline: %w", err)
	}
	g.anchorer.MarkBaselinePublished()

	// The anchor must land before the pointer advances: the pointer is the
	// ingest short-circuit, so advancing it past a failed anchor commit would
	// leave the day with no anchor and no retry path. A retried cycle
	// re-parses and re-publishes the baseline, which is harmless, and the
	// anchor commit itself is idempotent per trading day.
	if err := g.anchorer.CommitAnchor(ctx, bl.ExecutedAt); err != nil {
		return fmt.Errorf("failed to commit anchor: %w", err)
	}

	newPtr := &domain.Pointer{ActiveRebalanceFile: key, UpdatedAt: time.Now().UTC()}
	if err := store.PutJSON(ctx, g.store, g.keys.Pointer(g.strategy), newPtr); err != nil {
		return fmt.Errorf("failed to advance pointer: %w", err)
	}

	g.log.Info().
		Str("key", key).
		Int("positions", len(positions)).
		Msg("Rebalance ingested")
	return nil
}

// newestRelease returns the key of the most recent conforming release file
// under the drop prefix, or "" when there is none.
func (g *Ingestor) newestRelease(ctx context.Context) (string, error) {
	objects, err := g.store.List(ctx, g.keys.RebalancePrefix(g.strategy))
	if err != nil {
		return "", fmt.Errorf("failed to list drop prefix: %w", err)
	}

	var newest store.ObjectInfo
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, g.releaseSuffix) {
			continue
		}
		if newest.Key == "" || obj.LastModified.After(newest.LastModified) {
			newest = obj
		}
	}
	return newest.Key, nil
}
