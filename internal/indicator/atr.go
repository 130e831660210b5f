package indicator

import "math"

// TrueRangeSeries returns the true range of each bar. The first bar has no
// previous close, so its range is high-low.
func TrueRangeSeries(high, low, close []float64) []float64 {
	n := minLen(high, low, close)
	tr := make([]float64, n)
	for i := 0; i < n; i++ {
		hl := high[i] - low[i]
		if i == 0 {
			tr[i] = hl
			continue
		}
		prev := close[i-1]
		tr[i] = math.Max(hl, math.Max(math.Abs(high[i]-prev), math.Abs(low[i]-prev)))
	}
	return tr
}

// ATRSeries returns the Wilder-smoothed Average True Range aligned to the
// input bars.
func ATRSeries(high, low, close []float64, period int) ([]float64, error) {
	if err := checkLen(minLen(high, low, close), period); err != nil {
		return nil, err
	}
	return feed(NewSMMA(period), TrueRangeSeries(high, low, close)), nil
}

// ATRPercent is the latest ATR(period) as a percent of the latest close.
func ATRPercent(high, low, close []float64, period int) (float64, error) {
	atr, err := ATRSeries(high, low, close, period)
	if err != nil {
		return 0, err
	}
	last := Last(close)
	if last == 0 {
		return 0, ErrInsufficientData
	}
	return Last(atr) / last * 100, nil
}

func minLen(series ...[]float64) int {
	n := -1
	for _, s := range series {
		if n < 0 || len(s) < n {
			n = len(s)
		}
	}
	if n < 0 {
		return 0
	}
	return n
}
