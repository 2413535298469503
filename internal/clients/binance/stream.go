package binance

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	defaultStreamURL = "wss://fstream.binance.com/ws/!markPrice@arr"

	dialTimeout        = 30 * time.Second
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute

	// The bulk mark-price payload carries every listed perp; well above the
	// library's 32KB default read limit.
	streamReadLimit = 1 << 22
)

// MarkStream maintains a live cache of mark prices from the bulk mark-price
// stream. The snapshot writer prefers this cache when it is fresh and falls
// back to REST polling otherwise.
type MarkStream struct {
	url string
	log zerolog.Logger

	// Cache (thread-safe)
	cacheMu    sync.RWMutex
	marks      map[string]float64
	lastUpdate time.Time

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewMarkStream creates a mark-price stream client.
func NewMarkStream(log zerolog.Logger) *MarkStream {
	return &MarkStream{
		url:      defaultStreamURL,
		log:      log.With().Str("client", "binance_stream").Logger(),
		marks:    make(map[string]float64),
		stopChan: make(chan struct{}),
	}
}

// SetURL overrides the stream endpoint (tests).
func (s *MarkStream) SetURL(u string) {
	s.url = u
}

// Start launches the connect/read loop in a goroutine. The loop reconnects
// with exponential backoff until Stop is called or the context is cancelled.
func (s *MarkStream) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop terminates the stream.
func (s *MarkStream) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// Marks returns a copy of the cached mark prices if the cache has been
// updated within maxAge, else ok=false.
func (s *MarkStream) Marks(maxAge time.Duration) (map[string]float64, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	if len(s.marks) == 0 || time.Since(s.lastUpdate) > maxAge {
		return nil, false
	}
	out := make(map[string]float64, len(s.marks))
	for k, v := range s.marks {
		out[k] = v
	}
	return out, true
}

// LastUpdate returns the time of the most recent cache update.
func (s *MarkStream) LastUpdate() time.Time {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.lastUpdate
}

func (s *MarkStream) run(ctx context.Context) {
	delay := baseReconnectDelay
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connectAndRead(ctx); err != nil {
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("Stream disconnected, reconnecting")
		}

		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *MarkStream) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	conn.SetReadLimit(streamReadLimit)
	s.log.Info().Str("url", s.url).Msg("Stream connected")

	for {
		select {
		case <-s.stopChan:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		_, payload, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		s.handlePayload(payload)
	}
}

func (s *MarkStream) handlePayload(payload []byte) {
	var events []markPriceEvent
	if err := json.Unmarshal(payload, &events); err != nil {
		s.log.Debug().Err(err).Msg("Skipping unparseable stream payload")
		return
	}

	updated := 0
	s.cacheMu.Lock()
	for _, ev := range events {
		if ev.EventType != "markPriceUpdate" {
			continue
		}
		sym := strings.TrimSpace(ev.Symbol)
		if !strings.HasSuffix(sym, "USDT") {
			continue
		}
		mp, err := strconv.ParseFloat(ev.MarkPrice, 64)
		if err != nil || mp <= 0 {
			continue
		}
		s.marks[sym] = mp
		updated++
	}
	if updated > 0 {
		s.lastUpdate = time.Now().UTC()
	}
	s.cacheMu.Unlock()
}
