// Package scorer decides whether one pair has a tradeable setup.
//
// The decision combines three component scores. The trend score comes from
// EMA20 on the trend timeframe. The alignment score checks that the trend
// and entry timeframes moved the same way. The market score rates entry
// volume and ATR volatility. Accepted setups get an ATR-based target.
// Evaluate has no side effects; persisting the result is the caller's job.
package scorer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Jhon-Oliver2025/1Crypten/internal/indicator"
	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

// Rejection reasons returned by Evaluate.
const (
	ReasonInsufficientData = "insufficient_data"
	ReasonNoTrend          = "no_trend"
	ReasonLowQuality       = "low_quality"
	ReasonSmallTarget      = "small_target"
)

const (
	minBars        = 50
	lookback       = 4 // bars between [-5] and [-1]
	trendStrength  = 2
	trendPoints    = 10 // per unit of trend strength
	alignedPoints  = 30
	volumePointCap = 25.0
)

// Config holds the scoring thresholds.
type Config struct {
	MarketData     model.MarketData
	TrendTF        string  // default 4h
	EntryTF        string  // default 1h
	KlinesLimit    int     // default 500
	QualityMin     int     // shared with the notification gate
	ATRMultiplier  float64 // default 2.0
	MinTargetPct   float64 // default 4.0
	MinVolume      float64 // notional volume for the full volume score
	TargetExitDays int     // default 7
	Logger         *slog.Logger
}

// Scorer evaluates candidate pairs.
type Scorer struct {
	cfg Config
	log *slog.Logger
	now func() time.Time
}

// New creates a Scorer, filling unset thresholds with defaults.
func New(cfg Config) *Scorer {
	if cfg.TrendTF == "" {
		cfg.TrendTF = "4h"
	}
	if cfg.EntryTF == "" {
		cfg.EntryTF = "1h"
	}
	if cfg.KlinesLimit < minBars {
		cfg.KlinesLimit = 500
	}
	if cfg.ATRMultiplier <= 0 {
		cfg.ATRMultiplier = 2.0
	}
	if cfg.MinTargetPct <= 0 {
		cfg.MinTargetPct = 4.0
	}
	if cfg.MinVolume <= 0 {
		cfg.MinVolume = 500000
	}
	if cfg.TargetExitDays <= 0 {
		cfg.TargetExitDays = 7
	}
	return &Scorer{
		cfg: cfg,
		log: logger.OrDefault(cfg.Logger).With("component", "scorer"),
		now: time.Now,
	}
}

// QualityMin returns the acceptance floor.
func (s *Scorer) QualityMin() int { return s.cfg.QualityMin }

// Trend is the trend-timeframe reading.
type Trend struct {
	Strength   int // +2 uptrend, -2 downtrend, 0 undefined
	EMA20      float64
	EMA20Slope float64
	EMA50      float64 // NaN when fewer than 51 bars
	EMA200     float64 // NaN when fewer than 201 bars
}

// Evaluate scores symbol and returns the signal to open, or nil with the
// rejection reason. A non-nil error means the candle fetch failed.
func (s *Scorer) Evaluate(ctx context.Context, symbol string) (*model.Signal, string, error) {
	trendCandles, err := s.cfg.MarketData.Klines(ctx, symbol, s.cfg.TrendTF, s.cfg.KlinesLimit)
	if err != nil {
		return nil, "", fmt.Errorf("scorer %s %s klines: %w", symbol, s.cfg.TrendTF, err)
	}
	if len(trendCandles) < minBars {
		return nil, ReasonInsufficientData, nil
	}
	entryCandles, err := s.cfg.MarketData.Klines(ctx, symbol, s.cfg.EntryTF, s.cfg.KlinesLimit)
	if err != nil {
		return nil, "", fmt.Errorf("scorer %s %s klines: %w", symbol, s.cfg.EntryTF, err)
	}
	if len(entryCandles) < minBars {
		return nil, ReasonInsufficientData, nil
	}

	trend, err := AnalyzeTrend(trendCandles)
	if err != nil {
		return nil, ReasonInsufficientData, nil
	}
	if trend.Strength == 0 {
		s.log.Debug("no defined trend", "symbol", symbol, "ema20_slope", trend.EMA20Slope)
		return nil, ReasonNoTrend, nil
	}

	trendScore := abs(trend.Strength) * trendPoints
	alignmentScore := Alignment(trendCandles, entryCandles)
	marketScore, err := MarketScore(entryCandles, s.cfg.MinVolume)
	if err != nil {
		return nil, ReasonInsufficientData, nil
	}
	quality := trendScore + alignmentScore + marketScore
	if quality < s.cfg.QualityMin {
		s.log.Debug("score below minimum", "symbol", symbol, "quality_score", quality, "min", s.cfg.QualityMin)
		return nil, ReasonLowQuality, nil
	}

	closes := model.Closes(entryCandles)
	atr, err := indicator.ATRSeries(model.Highs(entryCandles), model.Lows(entryCandles), closes, indicator.PeriodATR)
	if err != nil {
		return nil, ReasonInsufficientData, nil
	}

	typ := model.Long
	info := "Uptrend"
	if trend.Strength < 0 {
		typ = model.Short
		info = "Downtrend"
	}
	entry := indicator.Last(closes)
	target, move := Target(typ, entry, indicator.Last(atr), s.cfg.ATRMultiplier)
	if move < s.cfg.MinTargetPct {
		s.log.Debug("target move below minimum", "symbol", symbol, "target_pct", move, "min", s.cfg.MinTargetPct)
		return nil, ReasonSmallTarget, nil
	}

	now := s.now()
	sig := &model.Signal{
		Symbol:         symbol,
		Type:           typ,
		EntryPrice:     round8(entry),
		EntryTime:      now,
		TargetPrice:    round8(target),
		TargetExitTime: now.AddDate(0, 0, s.cfg.TargetExitDays),
		Status:         model.StatusOpen,
		Result:         model.ResultNone,
		QualityScore:   quality,
		SignalClass:    model.ClassifyQuality(quality, s.cfg.QualityMin),
		TrendScore:     trendScore,
		AlignmentScore: alignmentScore,
		MarketScore:    marketScore,
		StrategyInfo:   info,
		TrendTimeframe: s.cfg.TrendTF,
		EntryTimeframe: s.cfg.EntryTF,
	}

	attrs := []any{
		"symbol", symbol, "type", string(typ), "quality_score", quality,
		"trend_score", trendScore, "alignment_score", alignmentScore, "market_score", marketScore,
		"entry", sig.EntryPrice, "target", sig.TargetPrice, "ema20", trend.EMA20,
	}
	if !math.IsNaN(trend.EMA50) {
		attrs = append(attrs, "ema50", trend.EMA50)
	}
	if !math.IsNaN(trend.EMA200) {
		attrs = append(attrs, "ema200", trend.EMA200)
	}
	s.log.Info("setup accepted", append(attrs, logger.LogWithTrace(ctx)...)...)
	return sig, "", nil
}

// AnalyzeTrend reads direction from EMA20 and its slope over the last
// four bars. EMA50 and EMA200 are filled when enough bars exist.
func AnalyzeTrend(candles []model.Candle) (Trend, error) {
	closes := model.Closes(candles)
	ema20, err := indicator.EMASeries(closes, indicator.PeriodEMA20)
	if err != nil {
		return Trend{}, err
	}
	cur := indicator.Last(ema20)
	prev := indicator.Ago(ema20, lookback)
	if math.IsNaN(prev) || prev == 0 {
		return Trend{}, indicator.ErrInsufficientData
	}

	t := Trend{
		EMA20:      cur,
		EMA20Slope: (cur - prev) / prev,
		EMA50:      math.NaN(),
		EMA200:     math.NaN(),
	}
	if ema50, err := indicator.EMASeries(closes, indicator.PeriodEMA50); err == nil {
		t.EMA50 = indicator.Last(ema50)
	}
	if ema200, err := indicator.EMASeries(closes, indicator.PeriodEMA200); err == nil {
		t.EMA200 = indicator.Last(ema200)
	}

	price := indicator.Last(closes)
	switch {
	case price > cur && t.EMA20Slope > 0:
		t.Strength = trendStrength
	case price < cur && t.EMA20Slope < 0:
		t.Strength = -trendStrength
	}
	return t, nil
}

// Alignment returns 30 when both timeframes closed higher (or both not
// higher) than four bars earlier, else 0.
func Alignment(trendCandles, entryCandles []model.Candle) int {
	if len(trendCandles) <= lookback || len(entryCandles) <= lookback {
		return 0
	}
	if risingClose(trendCandles) == risingClose(entryCandles) {
		return alignedPoints
	}
	return 0
}

func risingClose(c []model.Candle) bool {
	return c[len(c)-1].Close > c[len(c)-1-lookback].Close
}

// MarketScore rates the entry timeframe: up to 25 points for the last bar's
// notional volume against minVolume plus 25/15/5 points for ATR% inside
// [3,6], [2,7] or [1,8]. The sum is floored.
func MarketScore(candles []model.Candle, minVolume float64) (int, error) {
	if len(candles) == 0 {
		return 0, indicator.ErrInsufficientData
	}
	last := candles[len(candles)-1]
	volumeScore := 0.0
	if minVolume > 0 {
		volumeScore = math.Min(volumePointCap, last.Volume*last.Close/minVolume*volumePointCap)
	}

	volatility, err := indicator.ATRPercent(model.Highs(candles), model.Lows(candles), model.Closes(candles), indicator.PeriodATR)
	if err != nil {
		return 0, err
	}
	return int(math.Floor(volumeScore + float64(VolatilityPoints(volatility)))), nil
}

// VolatilityPoints maps ATR as a percent of price to its score band.
func VolatilityPoints(pct float64) int {
	switch {
	case pct >= 3 && pct <= 6:
		return 25
	case pct >= 2 && pct <= 7:
		return 15
	case pct >= 1 && pct <= 8:
		return 5
	}
	return 0
}

// Target returns the target price at mult ATRs from entry in the signal
// direction and the absolute percent move to reach it.
func Target(typ model.SignalType, entry, atr, mult float64) (target, movePct float64) {
	distance := atr * mult
	target = entry + distance
	if typ == model.Short {
		target = entry - distance
	}
	if entry == 0 {
		return target, 0
	}
	return target, math.Abs((target - entry) / entry * 100)
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
