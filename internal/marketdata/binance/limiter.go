package binance

import "golang.org/x/time/rate"

// NewLimiter returns the token bucket shared by every REST call of a
// client: burst requests at once, refilled at rps per second.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
