// Package binance is the USDT-M futures market-data client used by the
// scanner: exchange metadata, klines and current prices over REST, plus a
// mark-price websocket cache.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
	"github.com/Jhon-Oliver2025/1Crypten/internal/metrics"
	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

const defaultBaseURL = "https://fapi.binance.com"

var routes = map[string]string{
	"exchange.info":    "/fapi/v1/exchangeInfo",
	"leverage.bracket": "/fapi/v1/leverageBracket",
	"klines":           "/fapi/v1/klines",
	"ticker.price":     "/fapi/v1/ticker/price",
}

// ErrRateLimited is returned on HTTP 429/418. Callers skip and let the
// limiter drain.
var ErrRateLimited = errors.New("binance: rate limited")

// APIError is a non-2xx response carrying Binance's {code,msg} body.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: status %d code %d: %s", e.Status, e.Code, e.Msg)
}

// PriceSource serves recent prices without a REST round trip.
type PriceSource interface {
	Price(symbol string, maxAge time.Duration) (float64, bool)
}

// Config configures the REST client.
type Config struct {
	BaseURL   string // default: https://fapi.binance.com
	APIKey    string // required for leverage brackets
	APISecret string
	Timeout   time.Duration // per call, default 10s
	Limiter   *rate.Limiter // default 10 req/s, burst 10

	// Settings, when set, is read on every signed call. Non-empty values
	// under APIKeySetting/APISecretSetting override APIKey/APISecret.
	Settings         model.SettingsReader
	APIKeySetting    string // default "binance_api_key"
	APISecretSetting string // default "binance_api_secret"

	// Prices, when set, answers CurrentPrice if its value is younger
	// than PriceMaxAge (default 10s).
	Prices      PriceSource
	PriceMaxAge time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Client implements model.MarketData against Binance USDT-M futures.
type Client struct {
	baseURL       string
	apiKey        string
	apiSecret     string
	timeout       time.Duration
	limiter       *rate.Limiter
	settings      model.SettingsReader
	keySetting    string
	secretSetting string
	prices        PriceSource
	priceMaxAge   time.Duration
	httpClient    *http.Client
	prom          *metrics.Metrics
	log           *slog.Logger
	now           func() time.Time
}

var _ model.MarketData = (*Client)(nil)

// NewClient creates a REST client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewLimiter(10, 10)
	}
	if cfg.PriceMaxAge <= 0 {
		cfg.PriceMaxAge = 10 * time.Second
	}
	if cfg.APIKeySetting == "" {
		cfg.APIKeySetting = "binance_api_key"
	}
	if cfg.APISecretSetting == "" {
		cfg.APISecretSetting = "binance_api_secret"
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		apiSecret:     cfg.APISecret,
		timeout:       cfg.Timeout,
		limiter:       cfg.Limiter,
		settings:      cfg.Settings,
		keySetting:    cfg.APIKeySetting,
		secretSetting: cfg.APISecretSetting,
		prices:        cfg.Prices,
		priceMaxAge:   cfg.PriceMaxAge,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		prom:          cfg.Metrics,
		log:           logger.OrDefault(cfg.Logger).With(slog.String("component", "binance")),
		now:           time.Now,
	}
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol       string `json:"symbol"`
		Status       string `json:"status"`
		ContractType string `json:"contractType"`
		QuoteAsset   string `json:"quoteAsset"`
	} `json:"symbols"`
}

type leverageBracketResponse []struct {
	Symbol   string `json:"symbol"`
	Brackets []struct {
		InitialLeverage int `json:"initialLeverage"`
	} `json:"brackets"`
}

// Instruments lists futures contracts with their maximum leverage. Without
// API credentials leverage stays 0 and no contract passes a leverage floor.
func (c *Client) Instruments(ctx context.Context) ([]model.Instrument, error) {
	var info exchangeInfoResponse
	if err := c.getJSON(ctx, "exchange.info", nil, false, &info); err != nil {
		return nil, err
	}

	leverage := map[string]int{}
	if key, secret := c.credentials(ctx); key != "" && secret != "" {
		var brackets leverageBracketResponse
		if err := c.getJSON(ctx, "leverage.bracket", url.Values{}, true, &brackets); err != nil {
			c.log.Warn("leverage brackets unavailable", slog.String("error", err.Error()))
		}
		for _, b := range brackets {
			for _, br := range b.Brackets {
				if br.InitialLeverage > leverage[b.Symbol] {
					leverage[b.Symbol] = br.InitialLeverage
				}
			}
		}
	} else {
		c.log.Warn("no API credentials, leverage brackets skipped")
	}

	out := make([]model.Instrument, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		out = append(out, model.Instrument{
			Symbol:       s.Symbol,
			Status:       s.Status,
			ContractType: s.ContractType,
			QuoteAsset:   s.QuoteAsset,
			MaxLeverage:  leverage[s.Symbol],
		})
	}
	return out, nil
}

// Klines returns up to limit candles for symbol at interval, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	var rows [][]json.RawMessage
	if err := c.getJSON(ctx, "klines", q, false, &rows); err != nil {
		return nil, err
	}
	candles := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		cd, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("binance klines %s row %d: %w", symbol, i, err)
		}
		candles = append(candles, cd)
	}
	return candles, nil
}

// CurrentPrice prefers a fresh streamed mark price and falls back to the
// REST ticker.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if c.prices != nil {
		if p, ok := c.prices.Price(symbol, c.priceMaxAge); ok {
			return p, nil
		}
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := c.getJSON(ctx, "ticker.price", q, false, &resp); err != nil {
		return 0, err
	}
	p, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance ticker %s: parse price %q: %w", symbol, resp.Price, err)
	}
	return p, nil
}

// getJSON performs one rate-limited GET with its own timeout and decodes
// the body into out.
func (c *Client) getJSON(ctx context.Context, route string, q url.Values, signed bool, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("binance %s: rate limiter: %w", route, err)
	}
	if c.prom != nil {
		c.prom.RateLimitWait.Observe(time.Since(waitStart).Seconds())
	}

	if q == nil {
		q = url.Values{}
	}
	var apiKey string
	if signed {
		var secret string
		apiKey, secret = c.credentials(ctx)
		q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		q.Set("signature", sign(secret, q.Encode()))
	}
	u := c.baseURL + routes[route]
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("binance %s: create request: %w", route, err)
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.prom != nil {
		c.prom.ExchangeLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.count(route, "error")
		return fmt.Errorf("binance %s: %w", route, err)
	}
	defer resp.Body.Close()
	c.count(route, strconv.Itoa(resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("binance %s: read body: %w", route, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
		return fmt.Errorf("binance %s: %w", route, ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("binance %s: decode: %w", route, err)
	}
	return nil
}

// credentials returns the API key pair, preferring the settings snapshot
// so rotated keys apply without a restart.
func (c *Client) credentials(ctx context.Context) (key, secret string) {
	key, secret = c.apiKey, c.apiSecret
	if c.settings == nil {
		return key, secret
	}
	if v, err := c.settings.GetSetting(ctx, c.keySetting); err != nil {
		c.log.Warn("read api key setting", slog.String("error", err.Error()))
	} else if v != "" {
		key = v
	}
	if v, err := c.settings.GetSetting(ctx, c.secretSetting); err != nil {
		c.log.Warn("read api secret setting", slog.String("error", err.Error()))
	} else if v != "" {
		secret = v
	}
	return key, secret
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) count(route, code string) {
	if c.prom != nil {
		c.prom.ExchangeRequests.WithLabelValues(route, code).Inc()
	}
}

// parseKline decodes [openTime, open, high, low, close, volume, ...].
func parseKline(row []json.RawMessage) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("expected at least 6 fields, got %d", len(row))
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return model.Candle{}, fmt.Errorf("open time: %w", err)
	}
	var vals [5]float64
	for i := range vals {
		v, err := toFloat(row[i+1])
		if err != nil {
			return model.Candle{}, err
		}
		vals[i] = v
	}
	return model.Candle{
		OpenTime: time.UnixMilli(openMs).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, nil
}

// toFloat accepts both quoted decimal strings and bare numbers.
func toFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(raw))
	}
	return f, nil
}
