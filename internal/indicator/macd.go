package indicator

import "math"

// MACD holds the three MACD series aligned to the input closes.
type MACD struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACDSeries computes MACD(fast, slow, signal) over closes. The signal
// EMA starts on the first defined MACD value.
func MACDSeries(closes []float64, fast, slow, signal int) (MACD, error) {
	window := slow
	if fast > window {
		window = fast
	}
	if signal > window {
		window = signal
	}
	if err := checkLen(len(closes), window); err != nil {
		return MACD{}, err
	}

	fastEMA := NewEMA(fast)
	slowEMA := NewEMA(slow)
	sigEMA := NewEMA(signal)

	n := len(closes)
	out := MACD{
		Line:      make([]float64, n),
		Signal:    make([]float64, n),
		Histogram: make([]float64, n),
	}
	for i, c := range closes {
		fastEMA.Update(c)
		slowEMA.Update(c)

		out.Line[i], out.Signal[i], out.Histogram[i] = math.NaN(), math.NaN(), math.NaN()
		if !fastEMA.Ready() || !slowEMA.Ready() {
			continue
		}
		line := fastEMA.Value() - slowEMA.Value()
		out.Line[i] = line

		sigEMA.Update(line)
		if sigEMA.Ready() {
			out.Signal[i] = sigEMA.Value()
			out.Histogram[i] = line - sigEMA.Value()
		}
	}
	return out, nil
}
