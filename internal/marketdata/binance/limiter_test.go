package binance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var limiterEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestLimiter_BurstThenRefill(t *testing.T) {
	l := NewLimiter(2, 3)
	now := limiterEpoch

	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowN(now, 1), "burst token %d", i)
	}
	assert.False(t, l.AllowN(now, 1))

	now = now.Add(500 * time.Millisecond) // one token at 2/s
	assert.True(t, l.AllowN(now, 1))
	assert.False(t, l.AllowN(now, 1))

	now = now.Add(10 * time.Second) // capped at burst
	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowN(now, 1))
	}
	assert.False(t, l.AllowN(now, 1))
}

func TestLimiter_ReservationReportsDelay(t *testing.T) {
	l := NewLimiter(4, 1)
	require.True(t, l.AllowN(limiterEpoch, 1))

	r := l.ReserveN(limiterEpoch, 1)
	require.True(t, r.OK())
	assert.InDelta(t, float64(250*time.Millisecond), float64(r.DelayFrom(limiterEpoch)), float64(time.Millisecond))
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := NewLimiter(0.001, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestLimiter_WaitRefills(t *testing.T) {
	l := NewLimiter(100, 1)
	require.NoError(t, l.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewLimiter_MinimumBurst(t *testing.T) {
	assert.Equal(t, 1, NewLimiter(5, 0).Burst())
}
