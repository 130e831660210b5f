package indicator

import "math"

// Bands holds Bollinger band series aligned to the input closes.
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// BollingerSeries computes Bollinger bands of SMA(period) ± k population
// standard deviations.
func BollingerSeries(closes []float64, period int, k float64) (Bands, error) {
	if err := checkLen(len(closes), period); err != nil {
		return Bands{}, err
	}

	sma := NewSMA(period)
	n := len(closes)
	b := Bands{
		Upper:  make([]float64, n),
		Middle: make([]float64, n),
		Lower:  make([]float64, n),
	}
	for i, c := range closes {
		sma.Update(c)
		if !sma.Ready() {
			b.Upper[i], b.Middle[i], b.Lower[i] = math.NaN(), math.NaN(), math.NaN()
			continue
		}
		mid, dev := sma.Value(), sma.StdDev()
		b.Middle[i] = mid
		b.Upper[i] = mid + k*dev
		b.Lower[i] = mid - k*dev
	}
	return b, nil
}

// Width returns (upper-lower)/middle at index i, NaN when undefined.
func (b Bands) Width(i int) float64 {
	if i < 0 || i >= len(b.Middle) || b.Middle[i] == 0 {
		return math.NaN()
	}
	return (b.Upper[i] - b.Lower[i]) / b.Middle[i]
}
