// Package binance provides the market-data feed: bulk mark prices for the
// USDT-margined perpetual universe, over REST with an optional live stream.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBaseURL   = "https://fapi.binance.com"
	exchangeInfoPath = "/fapi/v1/exchangeInfo"
	premiumIndexPath = "/fapi/v1/premiumIndex"
)

// Client is a Binance USDT-M futures REST client.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new Binance client.
func NewClient(timeout time.Duration, log zerolog.Logger) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("client", "binance").Logger(),
	}
}

// SetBaseURL overrides the API endpoint (tests).
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimSuffix(u, "/")
}

// DiscoverPerpSymbols returns all USDT-margined PERPETUAL symbols currently
// trading. An empty result is not an error; callers fall back to publishing
// whatever marks the feed returns.
func (c *Client) DiscoverPerpSymbols(ctx context.Context) ([]string, error) {
	var info exchangeInfoResponse
	if err := c.getJSON(ctx, exchangeInfoPath, &info); err != nil {
		return nil, fmt.Errorf("failed to fetch exchange info: %w", err)
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.ContractType == "PERPETUAL" && s.QuoteAsset == "USDT" && s.Status == "TRADING" {
			if sym := strings.TrimSpace(s.Symbol); sym != "" {
				symbols = append(symbols, sym)
			}
		}
	}
	return symbols, nil
}

// FetchMarks returns current mark prices for all USDT-quoted instruments in
// a single bulk call. Zero or unparseable marks are skipped.
func (c *Client) FetchMarks(ctx context.Context) (map[string]float64, error) {
	var entries []premiumIndexEntry
	if err := c.getJSON(ctx, premiumIndexPath, &entries); err != nil {
		return nil, fmt.Errorf("failed to fetch mark prices: %w", err)
	}

	marks := make(map[string]float64, len(entries))
	for _, e := range entries {
		sym := strings.TrimSpace(e.Symbol)
		if !strings.HasSuffix(sym, "USDT") {
			continue
		}
		mp, err := strconv.ParseFloat(e.MarkPrice, 64)
		if err != nil || mp <= 0 {
			continue
		}
		marks[sym] = mp
	}

	if len(marks) == 0 {
		return nil, fmt.Errorf("feed returned no usable marks")
	}
	return marks, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "dfi-prices-writer/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
