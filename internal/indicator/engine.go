package indicator

import (
	"math"

	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

// Standard windows used by the scanner.
const (
	PeriodEMAFast   = 9
	PeriodEMA20     = 20
	PeriodEMA21     = 21
	PeriodEMA50     = 50
	PeriodEMA200    = 200
	PeriodRSI       = 14
	PeriodATR       = 14
	PeriodBollinger = 20
	BollingerK      = 2.0
	MACDFast        = 12
	MACDSlow        = 26
	MACDSignal      = 9
)

// MinBars is the shortest series Compute accepts: the largest window plus one.
const MinBars = PeriodEMA200 + 1

// Set is the full indicator set computed over one candle series. Every
// series is aligned to the input candles.
type Set struct {
	EMA9      []float64
	EMA20     []float64
	EMA21     []float64
	EMA50     []float64
	EMA200    []float64
	RSI14     []float64
	MACD      MACD
	Bollinger Bands
	ATR14     []float64
}

// Compute derives the whole Set from candles. It returns
// ErrInsufficientData when len(candles) < MinBars.
func Compute(candles []model.Candle) (*Set, error) {
	if len(candles) < MinBars {
		return nil, ErrInsufficientData
	}
	closes := model.Closes(candles)
	highs := model.Highs(candles)
	lows := model.Lows(candles)

	s := &Set{}
	var err error
	for _, e := range []struct {
		dst    *[]float64
		period int
	}{
		{&s.EMA9, PeriodEMAFast},
		{&s.EMA20, PeriodEMA20},
		{&s.EMA21, PeriodEMA21},
		{&s.EMA50, PeriodEMA50},
		{&s.EMA200, PeriodEMA200},
	} {
		if *e.dst, err = EMASeries(closes, e.period); err != nil {
			return nil, err
		}
	}
	if s.RSI14, err = RSISeries(closes, PeriodRSI); err != nil {
		return nil, err
	}
	if s.MACD, err = MACDSeries(closes, MACDFast, MACDSlow, MACDSignal); err != nil {
		return nil, err
	}
	if s.Bollinger, err = BollingerSeries(closes, PeriodBollinger, BollingerK); err != nil {
		return nil, err
	}
	if s.ATR14, err = ATRSeries(highs, lows, closes, PeriodATR); err != nil {
		return nil, err
	}
	return s, nil
}

// Summary is the latest value of every indicator in a Set.
type Summary struct {
	EMA9           float64 `json:"ema9"`
	EMA20          float64 `json:"ema20"`
	EMA21          float64 `json:"ema21"`
	EMA50          float64 `json:"ema50"`
	EMA200         float64 `json:"ema200"`
	RSI14          float64 `json:"rsi14"`
	MACD           float64 `json:"macd"`
	MACDSignal     float64 `json:"macd_signal"`
	MACDHistogram  float64 `json:"macd_histogram"`
	BollingerUpper float64 `json:"bb_upper"`
	BollingerMid   float64 `json:"bb_middle"`
	BollingerLower float64 `json:"bb_lower"`
	ATR14          float64 `json:"atr14"`
}

// Latest returns the last value of each series. Undefined values are 0 so
// the summary always encodes as JSON.
func (s *Set) Latest() Summary {
	return Summary{
		EMA9:           finite(Last(s.EMA9)),
		EMA20:          finite(Last(s.EMA20)),
		EMA21:          finite(Last(s.EMA21)),
		EMA50:          finite(Last(s.EMA50)),
		EMA200:         finite(Last(s.EMA200)),
		RSI14:          finite(Last(s.RSI14)),
		MACD:           finite(Last(s.MACD.Line)),
		MACDSignal:     finite(Last(s.MACD.Signal)),
		MACDHistogram:  finite(Last(s.MACD.Histogram)),
		BollingerUpper: finite(Last(s.Bollinger.Upper)),
		BollingerMid:   finite(Last(s.Bollinger.Middle)),
		BollingerLower: finite(Last(s.Bollinger.Lower)),
		ATR14:          finite(Last(s.ATR14)),
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
