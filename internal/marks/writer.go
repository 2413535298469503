// Package marks publishes the shared "current marks" price snapshot on a
// fixed cadence. It is the only writer of the latest-prices document.
package marks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/DfiLabs/dfi-admin-panel/internal/domain"
	"github.com/DfiLabs/dfi-admin-panel/internal/store"
)

// Universe rediscovery interval. The instrument universe changes rarely
// (listings/delistings), so one refresh per hour is plenty.
const universeTTL = time.Hour

// Feed fetches bulk mark prices from the external market-data source.
type Feed interface {
	FetchMarks(ctx context.Context) (map[string]float64, error)
	DiscoverPerpSymbols(ctx context.Context) ([]string, error)
}

// StreamSource is an optional live cache consulted before falling back to a
// REST fetch.
type StreamSource interface {
	Marks(maxAge time.Duration) (map[string]float64, bool)
}

// Writer produces the price snapshot document. A snapshot is published only
// if its timestamp is strictly newer than the currently published one, so a
// delayed fetch can never overwrite forward progress.
type Writer struct {
	store        store.ObjectStore
	keys         store.Keys
	feed         Feed
	stream       StreamSource // may be nil
	streamMaxAge time.Duration
	spoolPath    string // empty disables the local spool
	log          zerolog.Logger

	mu         sync.Mutex
	universe   map[string]struct{}
	universeAt time.Time
}

// Config holds writer configuration.
type Config struct {
	Store        store.ObjectStore
	Keys         store.Keys
	Feed         Feed
	Stream       StreamSource  // optional
	StreamMaxAge time.Duration // how fresh the stream cache must be to be used
	DataDir      string        // local spool directory; empty disables spooling
}

// NewWriter creates a price snapshot writer.
func NewWriter(cfg Config, log zerolog.Logger) *Writer {
	streamMaxAge := cfg.StreamMaxAge
	if streamMaxAge == 0 {
		streamMaxAge = 15 * time.Second
	}
	spoolPath := ""
	if cfg.DataDir != "" {
		spoolPath = filepath.Join(cfg.DataDir, "latest_prices.spool")
	}
	return &Writer{
		store:        cfg.Store,
		keys:         cfg.Keys,
		feed:         cfg.Feed,
		stream:       cfg.Stream,
		streamMaxAge: streamMaxAge,
		spoolPath:    spoolPath,
		log:          log.With().Str("component", "price_writer").Logger(),
	}
}

// RunCycle fetches current marks and publishes a new snapshot. On feed
// failure the previous snapshot is left in place: a stale-but-valid document
// is preferable to no document.
func (w *Writer) RunCycle(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	fetchedAt := time.Now().UTC()

	marks, fromStream := w.collectMarks(ctx)
	if len(marks) == 0 {
		return fmt.Errorf("no marks available this cycle")
	}

	w.refreshUniverse(ctx)
	if len(w.universe) > 0 {
		filtered := make(map[string]float64, len(marks))
		for sym, mp := range marks {
			if _, ok := w.universe[sym]; ok {
				filtered[sym] = mp
			}
		}
		// An empty intersection means the universe cache is wrong, not the
		// feed; publish the unfiltered marks rather than a gap.
		if len(filtered) > 0 {
			marks = filtered
		}
	}

	snap := &domain.PriceSnapshot{Timestamp: fetchedAt, Prices: marks}

	var current domain.PriceSnapshot
	err := store.GetJSON(ctx, w.store, w.keys.LatestPrices(), &current)
	switch {
	case err == nil:
		if !snap.Timestamp.After(current.Timestamp) {
			w.log.Warn().
				Time("fetched_at", snap.Timestamp).
				Time("published", current.Timestamp).
				Msg("Snapshot not newer than published one, discarding")
			return nil
		}
	case errors.Is(err, store.ErrNotFound):
		// First publish
	default:
		return fmt.Errorf("failed to read current snapshot: %w", err)
	}

	if err := store.PutJSON(ctx, w.store, w.keys.LatestPrices(), snap); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	w.writeSpool(snap)

	w.log.Info().
		Int("symbols", len(marks)).
		Bool("from_stream", fromStream).
		Time("timestamp", snap.Timestamp).
		Msg("Price snapshot published")
	return nil
}

// RepublishFromSpool restores the last locally spooled snapshot after a
// restart, so readers are not left without a document until the first feed
// cycle completes. The monotonic guard still applies.
func (w *Writer) RepublishFromSpool(ctx context.Context) error {
	if w.spoolPath == "" {
		return nil
	}
	snap, err := w.readSpool()
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}

	var current domain.PriceSnapshot
	err = store.GetJSON(ctx, w.store, w.keys.LatestPrices(), &current)
	if err == nil && !snap.Timestamp.After(current.Timestamp) {
		return nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to read current snapshot: %w", err)
	}

	if err := store.PutJSON(ctx, w.store, w.keys.LatestPrices(), snap); err != nil {
		return fmt.Errorf("failed to republish spooled snapshot: %w", err)
	}
	w.log.Info().Time("timestamp", snap.Timestamp).Msg("Republished spooled snapshot")
	return nil
}

func (w *Writer) collectMarks(ctx context.Context) (map[string]float64, bool) {
	if w.stream != nil {
		if marks, ok := w.stream.Marks(w.streamMaxAge); ok {
			return marks, true
		}
	}
	marks, err := w.feed.FetchMarks(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Feed fetch failed")
		return nil, false
	}
	return marks, false
}

func (w *Writer) refreshUniverse(ctx context.Context) {
	if time.Since(w.universeAt) < universeTTL && len(w.universe) > 0 {
		return
	}
	symbols, err := w.feed.DiscoverPerpSymbols(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("Universe discovery failed, keeping previous universe")
		return
	}
	if len(symbols) == 0 {
		return
	}
	universe := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		universe[s] = struct{}{}
	}
	w.universe = universe
	w.universeAt = time.Now()
}

func (w *Writer) writeSpool(snap *domain.PriceSnapshot) {
	if w.spoolPath == "" {
		return
	}
	body, err := msgpack.Marshal(snap)
	if err != nil {
		w.log.Warn().Err(err).Msg("Failed to encode snapshot spool")
		return
	}
	tmp := w.spoolPath + ".tmp"
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		w.log.Warn().Err(err).Msg("Failed to write snapshot spool")
		return
	}
	if err := os.Rename(tmp, w.spoolPath); err != nil {
		w.log.Warn().Err(err).Msg("Failed to move snapshot spool into place")
	}
}

func (w *Writer) readSpool() (*domain.PriceSnapshot, error) {
	body, err := os.ReadFile(w.spoolPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read spool: %w", err)
	}
	var snap domain.PriceSnapshot
	if err := msgpack.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode spool: %w", err)
	}
	return &snap, nil
}
