// Package universe selects the subset of futures pairs worth scanning.
//
// Eligible pairs (USDT quoted, trading, perpetual, enough leverage) are
// ranked by a blend of notional volume and ATR volatility measured on a
// short window of entry-timeframe candles. The ranking is refreshed at
// most once per interval and optionally shared through a cache.
package universe

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Jhon-Oliver2025/1Crypten/internal/indicator"
	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
	"github.com/Jhon-Oliver2025/1Crypten/internal/metrics"
	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

const (
	sampleBars = 100 // candles fetched per candidate
	minBars    = 20

	volumeScale      = 1e6 // notional volume unit for the volume score
	scoreCap         = 10.0
	volumeWeight     = 0.5
	volatilityWeight = 0.5
)

// DefaultFallback is used when no candidate qualifies.
var DefaultFallback = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT"}

// Cache stores the last selection between processes. *redis.Cache
// implements it; a nil *redis.Cache is a valid no-op.
type Cache interface {
	SaveUniverse(ctx context.Context, symbols []string) error
	LoadUniverse(ctx context.Context) ([]string, bool, error)
	DropUniverse(ctx context.Context) error
}

// Config configures a Selector.
type Config struct {
	MarketData   model.MarketData
	Interval     string // entry timeframe used for ranking candles
	Size         int
	MinLeverage  int
	RefreshEvery time.Duration
	Fallback     []string
	Cache        Cache
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Ranked is one scored candidate.
type Ranked struct {
	Symbol     string
	AvgVolume  float64 // mean volume × mean close
	Volatility float64 // ATR(14) as percent of the last close
	Score      float64
}

// Selector ranks and caches the scan universe.
//
// refreshMu serializes exchange re-ranks and is held for their whole
// duration; mu only guards the selection, so readers and resets never wait
// on a running refresh.
type Selector struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	refreshMu sync.Mutex

	mu          sync.Mutex
	symbols     []string
	lastUpdated time.Time
	forced      bool
}

// NewSelector creates a Selector.
func NewSelector(cfg Config) *Selector {
	if cfg.Size <= 0 {
		cfg.Size = 100
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = time.Hour
	}
	if len(cfg.Fallback) == 0 {
		cfg.Fallback = DefaultFallback
	}
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	return &Selector{
		cfg: cfg,
		log: logger.OrDefault(cfg.Logger).With("component", "universe"),
		now: time.Now,
	}
}

// Symbols returns the current universe, refreshing it first when older
// than the refresh interval.
func (s *Selector) Symbols(ctx context.Context) []string {
	if syms, ok := s.fresh(); ok {
		return syms
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	// another caller may have refreshed while this one waited
	if syms, ok := s.fresh(); ok {
		return syms
	}

	s.mu.Lock()
	firstUse := !s.forced && s.lastUpdated.IsZero()
	s.mu.Unlock()
	if firstUse && s.cfg.Cache != nil {
		cached, ok, err := s.cfg.Cache.LoadUniverse(ctx)
		if err != nil {
			s.log.Warn("universe cache read failed", "err", err)
		}
		if ok {
			s.mu.Lock()
			s.set(cached, "cache")
			s.mu.Unlock()
			return s.snapshot()
		}
	}

	s.refresh(ctx)
	return s.snapshot()
}

// Refresh re-ranks the universe from the exchange regardless of age.
func (s *Selector) Refresh(ctx context.Context) []string {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	s.refresh(ctx)
	return s.snapshot()
}

// ResetLastUpdated makes the next Symbols call re-rank from the exchange.
// A reset that arrives during a refresh applies to the following one.
func (s *Selector) ResetLastUpdated(ctx context.Context) {
	s.mu.Lock()
	s.lastUpdated = time.Time{}
	s.forced = true
	s.mu.Unlock()

	if s.cfg.Cache != nil {
		if err := s.cfg.Cache.DropUniverse(ctx); err != nil {
			s.log.Warn("universe cache drop failed", "err", err)
		}
	}
}

// Size returns the number of symbols currently selected.
func (s *Selector) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.symbols)
}

// LastUpdated returns when the universe was last set.
func (s *Selector) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdated
}

func (s *Selector) fresh() ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.symbols) == 0 || s.forced || s.now().Sub(s.lastUpdated) >= s.cfg.RefreshEvery {
		return nil, false
	}
	return append([]string(nil), s.symbols...), true
}

func (s *Selector) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.symbols...)
}

// refresh must be called with refreshMu held. The exchange calls run
// without mu.
func (s *Selector) refresh(ctx context.Context) {
	s.mu.Lock()
	wasForced := s.forced
	s.forced = false
	s.mu.Unlock()

	start := s.now()
	ranked, err := s.rank(ctx)
	if ctx.Err() != nil {
		// interrupted: keep the previous selection and retry next time
		s.log.Warn("universe refresh interrupted", "err", ctx.Err())
		s.mu.Lock()
		if wasForced {
			s.forced = true
		}
		if len(s.symbols) == 0 {
			s.set(s.cfg.Fallback, "fallback")
			s.lastUpdated = time.Time{}
		}
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.log.Error("universe refresh failed", "err", err)
	}

	if len(ranked) == 0 {
		s.log.Warn("no pairs qualified, using fallback list", "fallback", s.cfg.Fallback)
		s.mu.Lock()
		s.set(s.cfg.Fallback, "fallback")
		s.mu.Unlock()
		return
	}

	symbols := make([]string, len(ranked))
	for i, r := range ranked {
		symbols[i] = r.Symbol
	}
	s.mu.Lock()
	s.set(symbols, "exchange")
	s.mu.Unlock()
	s.log.Info("universe refreshed",
		"size", len(symbols),
		"top", ranked[0].Symbol,
		"top_score", ranked[0].Score,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)

	if s.cfg.Cache != nil {
		if err := s.cfg.Cache.SaveUniverse(ctx, symbols); err != nil {
			s.log.Warn("universe cache write failed", "err", err)
		}
	}
}

// set must be called with mu held. It leaves forced alone so a reset
// requested mid-refresh is not lost.
func (s *Selector) set(symbols []string, source string) {
	s.symbols = append([]string(nil), symbols...)
	s.lastUpdated = s.now()
	if m := s.cfg.Metrics; m != nil {
		m.UniverseSize.Set(float64(len(s.symbols)))
		m.UniverseRefreshes.WithLabelValues(source).Inc()
	}
}

// rank scores every eligible instrument and returns the top Size,
// highest score first. Equal scores keep exchange order.
func (s *Selector) rank(ctx context.Context) ([]Ranked, error) {
	instruments, err := s.cfg.MarketData.Instruments(ctx)
	if err != nil {
		return nil, err
	}

	var ranked []Ranked
	for i := range instruments {
		inst := &instruments[i]
		if !inst.Eligible(s.cfg.MinLeverage) {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		candles, err := s.cfg.MarketData.Klines(ctx, inst.Symbol, s.cfg.Interval, sampleBars)
		if err != nil {
			s.log.Debug("skipping pair", "symbol", inst.Symbol, "err", err)
			continue
		}
		r, ok := Score(inst.Symbol, candles)
		if !ok {
			continue
		}
		ranked = append(ranked, r)
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > s.cfg.Size {
		ranked = ranked[:s.cfg.Size]
	}
	return ranked, nil
}

// Score computes the ranking score of one pair. ok is false when there
// are too few candles or the volatility is undefined.
func Score(symbol string, candles []model.Candle) (Ranked, bool) {
	if len(candles) < minBars {
		return Ranked{}, false
	}
	closes := model.Closes(candles)
	avgVolume := mean(model.Volumes(candles)) * mean(closes)

	volatility, err := indicator.ATRPercent(model.Highs(candles), model.Lows(candles), closes, indicator.PeriodATR)
	if err != nil || math.IsNaN(volatility) || math.IsInf(volatility, 0) {
		return Ranked{}, false
	}

	volumeScore := math.Min(avgVolume/volumeScale, scoreCap)
	volatilityScore := math.Min(volatility, scoreCap)
	return Ranked{
		Symbol:     symbol,
		AvgVolume:  avgVolume,
		Volatility: volatility,
		Score:      (volumeScore*volumeWeight + volatilityScore*volatilityWeight) * 10,
	}, true
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
