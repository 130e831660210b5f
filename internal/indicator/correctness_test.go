package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func candlesFromCloses(closes []float64) []model.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     c, High: c + 1, Low: c - 1, Close: c, Volume: 1000,
		}
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Streaming correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// 100, 102, 104, 103, 105 → 102, 103, 104 once the window fills
	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(p)
		assert.Equal(t, ready[i], sma.Ready(), "candle %d", i)
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 0.0001)
		}
	}
}

func TestSMA_StdDev(t *testing.T) {
	sma := NewSMA(5)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		sma.Update(v)
	}
	assertClose(t, "mean", sma.Value(), 3, 1e-9)
	assertClose(t, "stddev", sma.StdDev(), math.Sqrt(2), 1e-9)
}

func TestEMA_Correctness_Period3(t *testing.T) {
	// seed = (10+11+12)/3 = 11, multiplier 0.5
	// 13 → 12, 14 → 13
	ema := NewEMA(3)
	for _, v := range []float64{10, 11} {
		ema.Update(v)
		assert.False(t, ema.Ready())
	}
	ema.Update(12)
	require.True(t, ema.Ready())
	assertClose(t, "EMA seed", ema.Value(), 11, 1e-9)
	ema.Update(13)
	assertClose(t, "EMA 4", ema.Value(), 12, 1e-9)
	ema.Update(14)
	assertClose(t, "EMA 5", ema.Value(), 13, 1e-9)
}

func TestSMMA_Correctness_Period3(t *testing.T) {
	// seed 11, then (11*2+13)/3 and (prev*2+14)/3
	smma := NewSMMA(3)
	for _, v := range []float64{10, 11, 12} {
		smma.Update(v)
	}
	assertClose(t, "SMMA seed", smma.Value(), 11, 1e-9)
	smma.Update(13)
	assertClose(t, "SMMA 4", smma.Value(), 35.0/3.0, 1e-9)
	smma.Update(14)
	assertClose(t, "SMMA 5", smma.Value(), (35.0/3.0*2+14)/3, 1e-9)
}

func TestRSI_AllUp_Is100(t *testing.T) {
	rsi := NewRSI(5)
	for _, v := range linear(10, 100, 1) {
		rsi.Update(v)
	}
	require.True(t, rsi.Ready())
	assertClose(t, "RSI up", rsi.Value(), 100, 1e-9)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(5)
	for _, v := range linear(10, 100, -1) {
		rsi.Update(v)
	}
	assertClose(t, "RSI down", rsi.Value(), 0, 1e-9)
}

func TestRSI_Correctness_Period2(t *testing.T) {
	// deltas: +2, -1 → seed avgGain 1, avgLoss 0.5 → RS 2 → 66.6667
	// next delta +1: avgGain (1+1)/2=1, avgLoss (0.5+0)/2=0.25 → RS 4 → 80
	rsi := NewRSI(2)
	for _, v := range []float64{10, 12, 11} {
		rsi.Update(v)
	}
	require.True(t, rsi.Ready())
	assertClose(t, "RSI seed", rsi.Value(), 200.0/3.0, 1e-6)
	rsi.Update(12)
	assertClose(t, "RSI next", rsi.Value(), 80, 1e-6)
}

// ────────────────────────────────────────────────────────────
// Series
// ────────────────────────────────────────────────────────────

func TestSeries_InsufficientData(t *testing.T) {
	_, err := SMASeries([]float64{1, 2, 3}, 3)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = EMASeries(linear(20, 1, 1), 20)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = RSISeries(linear(14, 1, 1), 14)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = MACDSeries(linear(26, 1, 1), 12, 26, 9)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = BollingerSeries(linear(20, 1, 1), 20, 2)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = ATRSeries(linear(14, 2, 1), linear(14, 1, 1), linear(14, 1.5, 1), 14)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestEMASeries_AlignedWithLeadingNaN(t *testing.T) {
	out, err := EMASeries([]float64{10, 11, 12, 13, 14}, 3)
	require.NoError(t, err)
	require.Len(t, out, 5)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assertClose(t, "idx2", out[2], 11, 1e-9)
	assertClose(t, "idx4", out[4], 13, 1e-9)
}

func TestSeries_NoStateBetweenCalls(t *testing.T) {
	in := linear(30, 50, 0.5)
	a, err := EMASeries(in, 9)
	require.NoError(t, err)
	b, err := EMASeries(in, 9)
	require.NoError(t, err)
	assert.Equal(t, Last(a), Last(b))
}

func TestATRSeries_Correctness(t *testing.T) {
	high := []float64{11, 12, 13, 20}
	low := []float64{9, 10, 11, 12}
	closes := []float64{10, 11, 12, 13}
	// TR: 2, 2, 2, 8 → ATR(3) seed 2 then (2*2+8)/3 = 4
	atr, err := ATRSeries(high, low, closes, 3)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(atr[1]))
	assertClose(t, "ATR seed", atr[2], 2, 1e-9)
	assertClose(t, "ATR next", atr[3], 4, 1e-9)

	pct, err := ATRPercent(high, low, closes, 3)
	require.NoError(t, err)
	assertClose(t, "ATR%", pct, 4.0/13.0*100, 1e-9)
}

func TestTrueRange_UsesPreviousClose(t *testing.T) {
	// gap up: prev close 10, bar 15-14 → TR = |15-10| = 5
	tr := TrueRangeSeries([]float64{11, 15}, []float64{9, 14}, []float64{10, 14.5})
	assert.Equal(t, []float64{2, 5}, tr)
}

func TestBollingerSeries(t *testing.T) {
	b, err := BollingerSeries([]float64{1, 2, 3, 4, 5, 3}, 5, 2)
	require.NoError(t, err)
	assertClose(t, "mid", b.Middle[4], 3, 1e-9)
	assertClose(t, "upper", b.Upper[4], 3+2*math.Sqrt(2), 1e-9)
	assertClose(t, "lower", b.Lower[4], 3-2*math.Sqrt(2), 1e-9)
	assert.True(t, math.IsNaN(b.Width(0)))
	assertClose(t, "width", b.Width(4), 4*math.Sqrt(2)/3, 1e-9)

	flat, err := BollingerSeries(linear(25, 100, 0), 20, 2)
	require.NoError(t, err)
	assertClose(t, "flat upper", Last(flat.Upper), 100, 1e-6)
	assertClose(t, "flat lower", Last(flat.Lower), 100, 1e-6)
}

func TestMACDSeries(t *testing.T) {
	flat, err := MACDSeries(linear(60, 100, 0), 12, 26, 9)
	require.NoError(t, err)
	assertClose(t, "flat macd", Last(flat.Line), 0, 1e-9)
	assertClose(t, "flat signal", Last(flat.Signal), 0, 1e-9)

	up, err := MACDSeries(linear(60, 100, 1), 12, 26, 9)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(up.Line[24]))
	assert.False(t, math.IsNaN(up.Line[25]))
	assert.True(t, math.IsNaN(up.Signal[32]))
	assert.False(t, math.IsNaN(up.Signal[33]))
	assert.Greater(t, Last(up.Line), 0.0)
	assertClose(t, "hist", Last(up.Histogram), Last(up.Line)-Last(up.Signal), 1e-9)
}

// ────────────────────────────────────────────────────────────
// Full set
// ────────────────────────────────────────────────────────────

func TestCompute_RequiresMinBars(t *testing.T) {
	_, err := Compute(candlesFromCloses(linear(MinBars-1, 100, 1)))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestCompute_TrendingUp_Ordering(t *testing.T) {
	set, err := Compute(candlesFromCloses(linear(260, 100, 1)))
	require.NoError(t, err)

	s := set.Latest()
	// rising series: faster averages sit above slower ones
	assert.Greater(t, s.EMA9, s.EMA20)
	assert.Greater(t, s.EMA20, s.EMA50)
	assert.Greater(t, s.EMA50, s.EMA200)
	assertClose(t, "RSI", s.RSI14, 100, 1e-9)
	assertClose(t, "ATR", s.ATR14, 2, 1e-9)
	assert.Greater(t, s.MACD, 0.0)
	assert.Greater(t, s.BollingerUpper, s.BollingerMid)
}

func TestCompute_TrendingDown_Ordering(t *testing.T) {
	set, err := Compute(candlesFromCloses(linear(260, 400, -1)))
	require.NoError(t, err)

	s := set.Latest()
	assert.Less(t, s.EMA9, s.EMA20)
	assert.Less(t, s.EMA20, s.EMA200)
	assertClose(t, "RSI", s.RSI14, 0, 1e-9)
	assert.Less(t, s.MACD, 0.0)
}

func TestAgo(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 5.0, Ago(s, 0))
	assert.Equal(t, 1.0, Ago(s, 4))
	assert.True(t, math.IsNaN(Ago(s, 5)))
	assert.True(t, math.IsNaN(Last(nil)))
}
