package scorer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

type fakeKlines struct {
	series map[string][]model.Candle // key: symbol + "@" + interval
	err    error
}

func (f *fakeKlines) Instruments(context.Context) ([]model.Instrument, error) { return nil, nil }

func (f *fakeKlines) Klines(_ context.Context, symbol, interval string, _ int) ([]model.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.series[symbol+"@"+interval], nil
}

func (f *fakeKlines) CurrentPrice(context.Context, string) (float64, error) { return 0, nil }

// line builds n bars with close = start + step*i and high/low at ±half.
func line(n int, start, step, half, volume float64) []model.Candle {
	out := make([]model.Candle, n)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		c := start + step*float64(i)
		out[i] = model.Candle{
			OpenTime: t0.Add(time.Duration(i) * time.Hour),
			Open:     c, High: c + half, Low: c - half, Close: c, Volume: volume,
		}
	}
	return out
}

var fixedNow = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func newTestScorer(md model.MarketData, qualityMin int) *Scorer {
	s := New(Config{
		MarketData: md,
		TrendTF:    "4h",
		EntryTF:    "1h",
		QualityMin: qualityMin,
		MinVolume:  500000,
	})
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestTarget(t *testing.T) {
	target, move := Target(model.Long, 100, 2, 2.0)
	assert.InDelta(t, 104.0, target, 1e-9)
	assert.InDelta(t, 4.0, move, 1e-9)

	target, move = Target(model.Short, 100, 2, 2.0)
	assert.InDelta(t, 96.0, target, 1e-9)
	assert.InDelta(t, 4.0, move, 1e-9)

	_, move = Target(model.Long, 100, 1, 2.0)
	assert.InDelta(t, 2.0, move, 1e-9)

	_, move = Target(model.Long, 0, 1, 2.0)
	assert.Zero(t, move)
}

func TestVolatilityPoints(t *testing.T) {
	cases := map[float64]int{
		3: 25, 4.5: 25, 6: 25,
		2: 15, 2.9: 15, 6.5: 15, 7: 15,
		1: 5, 1.5: 5, 7.5: 5, 8: 5,
		0.5: 0, 8.1: 0, 0: 0,
	}
	for pct, want := range cases {
		assert.Equal(t, want, VolatilityPoints(pct), "pct=%v", pct)
	}
}

func TestAnalyzeTrend(t *testing.T) {
	up, err := AnalyzeTrend(line(60, 100, 1, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, up.Strength)
	assert.Greater(t, up.EMA20Slope, 0.0)
	assert.False(t, math.IsNaN(up.EMA50))
	assert.True(t, math.IsNaN(up.EMA200))

	down, err := AnalyzeTrend(line(60, 200, -1, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, -2, down.Strength)

	flat, err := AnalyzeTrend(line(60, 100, 0, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, flat.Strength)

	_, err = AnalyzeTrend(line(10, 100, 1, 1, 1))
	assert.Error(t, err)
}

func TestAlignment(t *testing.T) {
	up := line(10, 100, 1, 1, 1)
	down := line(10, 100, -1, 1, 1)
	flat := line(10, 100, 0, 1, 1)

	assert.Equal(t, 30, Alignment(up, up))
	assert.Equal(t, 30, Alignment(down, down))
	assert.Equal(t, 0, Alignment(up, down))
	// flat counts as "not higher", same as falling
	assert.Equal(t, 30, Alignment(down, flat))
	assert.Equal(t, 0, Alignment(up[:3], up))
}

func TestMarketScore(t *testing.T) {
	// close 100, range 4 => ATR% 4 (25 pts); 5000*100 = minVolume (25 pts)
	score, err := MarketScore(line(60, 100, 0, 2, 5000), 500000)
	require.NoError(t, err)
	assert.Equal(t, 50, score)

	// half the reference volume, ATR% 2.5
	score, err = MarketScore(line(60, 100, 0, 1.25, 2500), 500000)
	require.NoError(t, err)
	assert.Equal(t, 12+15, score)

	_, err = MarketScore(nil, 500000)
	assert.Error(t, err)
}

func TestEvaluate_PremiumScenario(t *testing.T) {
	md := &fakeKlines{series: map[string][]model.Candle{
		"BTCUSDT@4h": line(60, 100, 1, 1, 1),
		"BTCUSDT@1h": line(60, 100, 0.1, 2, 10000),
	}}
	s := newTestScorer(md, 90)

	sig, reason, err := s.Evaluate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, sig, "rejected: %s", reason)

	assert.Equal(t, model.Long, sig.Type)
	assert.Equal(t, 20, sig.TrendScore)
	assert.Equal(t, 30, sig.AlignmentScore)
	assert.Equal(t, 50, sig.MarketScore)
	assert.Equal(t, 100, sig.QualityScore)
	assert.Equal(t, sig.TrendScore+sig.AlignmentScore+sig.MarketScore, sig.QualityScore)
	assert.Equal(t, model.ClassPremium, sig.SignalClass)
	assert.Equal(t, model.StatusOpen, sig.Status)
	assert.Equal(t, "Uptrend", sig.StrategyInfo)
	assert.Equal(t, "4h", sig.TrendTimeframe)
	assert.Equal(t, "1h", sig.EntryTimeframe)
	assert.InDelta(t, 105.9, sig.EntryPrice, 1e-9)
	assert.InDelta(t, 113.9, sig.TargetPrice, 1e-6)
	assert.Equal(t, fixedNow, sig.EntryTime)
	assert.Equal(t, fixedNow.AddDate(0, 0, 7), sig.TargetExitTime)
	assert.Nil(t, sig.ExitPrice)
	assert.Nil(t, sig.ExitTime)
}

func TestEvaluate_ShortScenario(t *testing.T) {
	md := &fakeKlines{series: map[string][]model.Candle{
		"ETHUSDT@4h": line(60, 200, -1, 1, 1),
		"ETHUSDT@1h": line(60, 110, -0.1, 2, 10000),
	}}
	sig, reason, err := newTestScorer(md, 90).Evaluate(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, sig, "rejected: %s", reason)

	assert.Equal(t, model.Short, sig.Type)
	assert.Equal(t, "Downtrend", sig.StrategyInfo)
	assert.Less(t, sig.TargetPrice, sig.EntryPrice)
	assert.GreaterOrEqual(t, sig.TargetVariation(), 4.0)
}

func TestEvaluate_ScoreBelowMinimumRejected(t *testing.T) {
	// ATR% ~2.45 (15 pts) and volume worth 20.5 pts: 20 + 30 + 35 = 85
	md := &fakeKlines{series: map[string][]model.Candle{
		"BTCUSDT@4h": line(60, 100, 1, 1, 1),
		"BTCUSDT@1h": line(60, 100, 0.1, 1.3, 410000/105.9),
	}}
	s := newTestScorer(md, 90)

	score, err := MarketScore(md.series["BTCUSDT@1h"], 500000)
	require.NoError(t, err)
	require.Equal(t, 35, score)

	sig, reason, err := s.Evaluate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, ReasonLowQuality, reason)
}

func TestEvaluate_SmallTargetRejected(t *testing.T) {
	// flat entry at 100 with ATR 1 => 2% target move
	md := &fakeKlines{series: map[string][]model.Candle{
		"BTCUSDT@4h": line(60, 100, 1, 1, 1),
		"BTCUSDT@1h": line(60, 100, 0, 0.5, 10000),
	}}
	sig, reason, err := newTestScorer(md, 0).Evaluate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, ReasonSmallTarget, reason)
}

func TestEvaluate_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("short trend series", func(t *testing.T) {
		md := &fakeKlines{series: map[string][]model.Candle{
			"X@4h": line(49, 100, 1, 1, 1),
			"X@1h": line(60, 100, 0.1, 2, 10000),
		}}
		sig, reason, err := newTestScorer(md, 90).Evaluate(ctx, "X")
		require.NoError(t, err)
		assert.Nil(t, sig)
		assert.Equal(t, ReasonInsufficientData, reason)
	})

	t.Run("short entry series", func(t *testing.T) {
		md := &fakeKlines{series: map[string][]model.Candle{
			"X@4h": line(60, 100, 1, 1, 1),
			"X@1h": line(20, 100, 0.1, 2, 10000),
		}}
		_, reason, err := newTestScorer(md, 90).Evaluate(ctx, "X")
		require.NoError(t, err)
		assert.Equal(t, ReasonInsufficientData, reason)
	})

	t.Run("no trend", func(t *testing.T) {
		md := &fakeKlines{series: map[string][]model.Candle{
			"X@4h": line(60, 100, 0, 1, 1),
			"X@1h": line(60, 100, 0.1, 2, 10000),
		}}
		_, reason, err := newTestScorer(md, 90).Evaluate(ctx, "X")
		require.NoError(t, err)
		assert.Equal(t, ReasonNoTrend, reason)
	})

	t.Run("fetch error", func(t *testing.T) {
		md := &fakeKlines{err: errors.New("connection reset")}
		sig, _, err := newTestScorer(md, 90).Evaluate(ctx, "X")
		assert.Error(t, err)
		assert.Nil(t, sig)
	})
}
