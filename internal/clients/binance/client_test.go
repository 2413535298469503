package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(5*time.Second, zerolog.Nop())
	c.SetBaseURL(srv.URL)
	return c
}

func TestDiscoverPerpSymbols(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, exchangeInfoPath, r.URL.Path)
		w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","contractType":"PERPETUAL","quoteAsset":"USDT","status":"TRADING"},
			{"symbol":"ETHUSDT_240927","contractType":"CURRENT_QUARTER","quoteAsset":"USDT","status":"TRADING"},
			{"symbol":"BTCBUSD","contractType":"PERPETUAL","quoteAsset":"BUSD","status":"TRADING"},
			{"symbol":"OLDUSDT","contractType":"PERPETUAL","quoteAsset":"USDT","status":"SETTLING"}
		]}`))
	})

	symbols, err := c.DiscoverPerpSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, symbols)
}

func TestFetchMarks(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, premiumIndexPath, r.URL.Path)
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","markPrice":"65000.10"},
			{"symbol":"ETHUSDT","markPrice":"3200.55"},
			{"symbol":"BTCBUSD","markPrice":"64990.00"},
			{"symbol":"BADUSDT","markPrice":"not-a-number"},
			{"symbol":"ZEROUSDT","markPrice":"0"}
		]`))
	})

	marks, err := c.FetchMarks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		"BTCUSDT": 65000.10,
		"ETHUSDT": 3200.55,
	}, marks)
}

func TestFetchMarksEmptyResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, err := c.FetchMarks(context.Background())
	assert.Error(t, err)
}

func TestFetchMarksHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := c.FetchMarks(context.Background())
	assert.Error(t, err)
}
