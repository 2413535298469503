// Package view assembles a coherent read of one strategy's published
// documents for dashboards and the HTTP API.
package view

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/DfiLabs/dfi-admin-panel/internal/domain"
	"github.com/DfiLabs/dfi-admin-panel/internal/store"
	"github.com/DfiLabs/dfi-admin-panel/internal/valuation"
)

// Default number of log records returned with a view.
const defaultTail = 200

// Snapshot is one coherent read of a strategy's documents. Optional
// documents that do not exist yet are nil.
type Snapshot struct {
	Strategy     string                   `json:"strategy"`
	Baseline     *domain.Baseline         `json:"baseline,omitempty"`
	Prices       *domain.PriceSnapshot    `json:"prices,omitempty"`
	Pointer      *domain.Pointer          `json:"pointer,omitempty"`
	PreExecution *domain.PreExecution     `json:"pre_execution,omitempty"`
	Records      []domain.ValuationRecord `json:"records"`
}

// Reader loads coherent per-strategy views. Documents are written by
// independent single-writer components, so a read can straddle a rebalance;
// the reader detects that and retries once.
type Reader struct {
	store store.ObjectStore
	keys  store.Keys
	tail  int
	log   zerolog.Logger
}

// NewReader creates a view reader.
func NewReader(s store.ObjectStore, keys store.Keys, log zerolog.Logger) *Reader {
	return &Reader{
		store: s,
		keys:  keys,
		tail:  defaultTail,
		log:   log.With().Str("component", "view_reader").Logger(),
	}
}

// Load reads the strategy's documents as one coherent snapshot. If the
// active rebalance file changes while reading, the read raced a rebalance
// and is done again from the top.
func (r *Reader) Load(ctx context.Context, strategy string) (*Snapshot, error) {
	snap, stable, err := r.loadOnce(ctx, strategy)
	if err != nil {
		return nil, err
	}
	if !stable {
		r.log.Debug().Str("strategy", strategy).Msg("View raced a rebalance, re-reading")
		snap, _, err = r.loadOnce(ctx, strategy)
		if err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (r *Reader) loadOnce(ctx context.Context, strategy string) (*Snapshot, bool, error) {
	before, err := r.pointer(ctx, strategy)
	if err != nil {
		return nil, false, err
	}

	snap := &Snapshot{Strategy: strategy, Pointer: before}

	var bl domain.Baseline
	err = store.GetJSON(ctx, r.store, r.keys.Baseline(strategy), &bl)
	switch {
	case err == nil:
		snap.Baseline = &bl
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, false, fmt.Errorf("failed to read baseline: %w", err)
	}

	var prices domain.PriceSnapshot
	err = store.GetJSON(ctx, r.store, r.keys.LatestPrices(), &prices)
	switch {
	case err == nil:
		snap.Prices = &prices
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, false, fmt.Errorf("failed to read price snapshot: %w", err)
	}

	var pre domain.PreExecution
	err = store.GetJSON(ctx, r.store, r.keys.PreExecution(strategy), &pre)
	switch {
	case err == nil:
		snap.PreExecution = &pre
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, false, fmt.Errorf("failed to read pre-execution marker: %w", err)
	}

	vlog := valuation.NewLog(r.store, r.keys.ValuationLog(strategy), r.log)
	records, err := vlog.Tail(ctx, r.tail)
	if err != nil {
		return nil, false, err
	}
	snap.Records = records

	after, err := r.pointer(ctx, strategy)
	if err != nil {
		return nil, false, err
	}
	stable := pointerEqual(before, after)
	return snap, stable, nil
}

func (r *Reader) pointer(ctx context.Context, strategy string) (*domain.Pointer, error) {
	var ptr domain.Pointer
	err := store.GetJSON(ctx, r.store, r.keys.Pointer(strategy), &ptr)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read pointer: %w", err)
	}
	return &ptr, nil
}

func pointerEqual(a, b *domain.Pointer) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ActiveRebalanceFile == b.ActiveRebalanceFile
}
