package indicator

import "math"

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer; also tracks the window's sum of
// squares so Bollinger bands can read the population deviation.
type SMA struct {
	period  int
	buf     []float64
	idx     int
	count   int
	sum     float64
	sumSq   float64
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Update(v float64) {
	if s.count >= s.period {
		old := s.buf[s.idx]
		s.sum -= old
		s.sumSq -= old * old
	}

	s.buf[s.idx] = v
	s.sum += v
	s.sumSq += v * v
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

// StdDev returns the population standard deviation of the current window.
func (s *SMA) StdDev() float64 {
	if !s.Ready() {
		return 0
	}
	n := float64(s.period)
	variance := s.sumSq/n - s.current*s.current
	if variance < 0 {
		// float cancellation on flat series
		variance = 0
	}
	return math.Sqrt(variance)
}

// SMASeries returns SMA(period) aligned to values.
func SMASeries(values []float64, period int) ([]float64, error) {
	if err := checkLen(len(values), period); err != nil {
		return nil, err
	}
	return feed(NewSMA(period), values), nil
}
