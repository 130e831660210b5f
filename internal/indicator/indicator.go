// Package indicator provides technical indicator calculations over price
// series.
//
// The streaming types (SMA, EMA, SMMA, RSI) are O(1) per update. The
// *Series functions run a fresh stream over a whole series and return a
// result aligned to the input, NaN where the window has not filled yet.
// Series functions keep no state between calls.
package indicator

import (
	"errors"
	"math"
)

// ErrInsufficientData is returned when a series is shorter than the
// indicator window plus one.
var ErrInsufficientData = errors.New("indicator: insufficient data")

// Indicator is a streaming calculation fed one value at a time.
type Indicator interface {
	// Update feeds the next value and recalculates.
	Update(v float64)

	// Value returns the current value. Returns 0 until Ready.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// feed runs ind over values, recording Value() once Ready and NaN before.
func feed(ind Indicator, values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		ind.Update(v)
		if ind.Ready() {
			out[i] = ind.Value()
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func checkLen(n, window int) error {
	if window <= 0 || n < window+1 {
		return ErrInsufficientData
	}
	return nil
}

// Last returns the final element of a series, NaN when empty.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// Ago returns the element n positions before the last (Ago(s, 0) == Last(s)).
func Ago(series []float64, n int) float64 {
	i := len(series) - 1 - n
	if i < 0 || i >= len(series) {
		return math.NaN()
	}
	return series[i]
}
