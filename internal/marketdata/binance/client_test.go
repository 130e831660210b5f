package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jhon-Oliver2025/1Crypten/internal/metrics"
)

func newTestClient(t *testing.T, h http.Handler, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	if cfg.Limiter == nil {
		cfg.Limiter = NewLimiter(1000, 1000)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	return NewClient(cfg)
}

func TestClient_Klines(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/klines", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "4h", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Write([]byte(`[
			[1700000000000,"100.0","110.0","95.0","105.5","1234.5",1700014399999,"0",10,"0","0","0"],
			[1700014400000,"105.5","108.0","101.0","102.0","999",1700028799999,"0",10,"0","0","0"]
		]`))
	})
	c := newTestClient(t, mux, Config{})

	candles, err := c.Klines(context.Background(), "BTCUSDT", "4h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), candles[0].OpenTime)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 110.0, candles[0].High)
	assert.Equal(t, 95.0, candles[0].Low)
	assert.Equal(t, 105.5, candles[0].Close)
	assert.Equal(t, 1234.5, candles[0].Volume)
	assert.Equal(t, 102.0, candles[1].Close)
}

func TestClient_KlinesMalformedRow(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1700000000000,"abc","1","1","1","1"]]`))
	})
	c := newTestClient(t, h, Config{})
	_, err := c.Klines(context.Background(), "BTCUSDT", "1h", 1)
	require.Error(t, err)
}

func TestClient_InstrumentsWithLeverage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","contractType":"PERPETUAL","quoteAsset":"USDT"},
			{"symbol":"ETHUSDT_240329","status":"TRADING","contractType":"CURRENT_QUARTER","quoteAsset":"USDT"}
		]}`))
	})
	mux.HandleFunc("/fapi/v1/leverageBracket", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		assert.NotEmpty(t, r.URL.Query().Get("timestamp"))
		assert.Len(t, r.URL.Query().Get("signature"), 64)
		w.Write([]byte(`[{"symbol":"BTCUSDT","brackets":[{"initialLeverage":125},{"initialLeverage":100}]}]`))
	})
	c := newTestClient(t, mux, Config{APIKey: "key", APISecret: "secret"})

	list, err := c.Instruments(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "BTCUSDT", list[0].Symbol)
	assert.Equal(t, 125, list[0].MaxLeverage)
	assert.True(t, list[0].Eligible(50))
	assert.Equal(t, 0, list[1].MaxLeverage)
	assert.False(t, list[1].Eligible(50))
}

func TestClient_InstrumentsWithoutCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","contractType":"PERPETUAL","quoteAsset":"USDT"}]}`))
	})
	mux.HandleFunc("/fapi/v1/leverageBracket", func(w http.ResponseWriter, r *http.Request) {
		t.Error("leverage endpoint must not be called without credentials")
	})
	c := newTestClient(t, mux, Config{})

	list, err := c.Instruments(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Zero(t, list[0].MaxLeverage)
}

func TestClient_CurrentPrice_RESTFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"ETHUSDT","price":"2500.25"}`))
	})
	c := newTestClient(t, mux, Config{})

	p, err := c.CurrentPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2500.25, p)
}

type staticPrices map[string]float64

func (s staticPrices) Price(symbol string, _ time.Duration) (float64, bool) {
	p, ok := s[symbol]
	return p, ok
}

func TestClient_CurrentPrice_PrefersStream(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("REST must not be called when the stream has a price")
	})
	c := newTestClient(t, h, Config{Prices: staticPrices{"BTCUSDT": 43000}})

	p, err := c.CurrentPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 43000.0, p)
}

func TestClient_RateLimitedAndAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/klines", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/fapi/v1/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})
	c := newTestClient(t, mux, Config{})

	_, err := c.Klines(context.Background(), "BTCUSDT", "1h", 10)
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = c.CurrentPrice(context.Background(), "NOPE")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, -1121, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestClient_PerCallTimeout(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	c := newTestClient(t, h, Config{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := c.Klines(context.Background(), "BTCUSDT", "1h", 10)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

type mapSettings map[string]string

func (m mapSettings) GetSetting(_ context.Context, key string) (string, error) { return m[key], nil }

func TestClient_CredentialsReadFromSettingsOnEachCall(t *testing.T) {
	var seen []string
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-MBX-APIKEY"), "unsigned calls carry no key")
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","contractType":"PERPETUAL","quoteAsset":"USDT"}]}`))
	})
	mux.HandleFunc("/fapi/v1/leverageBracket", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("X-MBX-APIKEY"))
		w.Write([]byte(`[{"symbol":"BTCUSDT","brackets":[{"initialLeverage":75}]}]`))
	})
	settings := mapSettings{}
	c := newTestClient(t, mux, Config{APIKey: "env-key", APISecret: "env-secret", Settings: settings})

	_, err := c.Instruments(context.Background())
	require.NoError(t, err)

	settings["binance_api_key"] = "rotated-key"
	settings["binance_api_secret"] = "rotated-secret"
	list, err := c.Instruments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 75, list[0].MaxLeverage)

	assert.Equal(t, []string{"env-key", "rotated-key"}, seen)
}

func TestClient_SettingsAloneEnableLeverage(t *testing.T) {
	called := false
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","contractType":"PERPETUAL","quoteAsset":"USDT"}]}`))
	})
	mux.HandleFunc("/fapi/v1/leverageBracket", func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "k", r.Header.Get("X-MBX-APIKEY"))
		w.Write([]byte(`[]`))
	})
	c := newTestClient(t, mux, Config{Settings: mapSettings{"binance_api_key": "k", "binance_api_secret": "s"}})

	_, err := c.Instruments(context.Background())
	require.NoError(t, err)
	assert.True(t, called)
}
