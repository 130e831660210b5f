package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
	"github.com/Jhon-Oliver2025/1Crypten/internal/metrics"
	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

// defaultTargetPct is used when a signal alert carries no target price.
const defaultTargetPct = 9.2

const testMessage = "🤖 Scanner connection test"

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	Notifier   Notifier
	QualityMin int // shared with the scorer's acceptance gate
	Location   *time.Location
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Gateway formats scanner alerts and hands them to a Notifier. Failures
// are logged and reported as false.
type Gateway struct {
	n          Notifier
	qualityMin int
	loc        *time.Location
	now        func() time.Time
	prom       *metrics.Metrics
	log        *slog.Logger
}

// NewGateway creates a Gateway. A nil Notifier logs messages only.
func NewGateway(cfg GatewayConfig) *Gateway {
	log := logger.OrDefault(cfg.Logger).With("component", "notification")
	n := cfg.Notifier
	if n == nil {
		n = NewLogNotifier(log)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Gateway{
		n:          n,
		qualityMin: cfg.QualityMin,
		loc:        loc,
		now:        time.Now,
		prom:       cfg.Metrics,
		log:        log,
	}
}

// Send delivers a preformatted text message.
func (g *Gateway) Send(ctx context.Context, text string) bool {
	err := g.n.Send(ctx, text)
	switch {
	case errors.Is(err, ErrNotConfigured):
		g.log.Warn("notification skipped, backend not configured")
		g.count("failed")
		return false
	case err != nil:
		g.log.Error("notification failed", "err", err)
		g.count("failed")
		return false
	}
	g.count("sent")
	return true
}

// SendSignal formats and delivers a signal alert. Alerts below the quality
// floor are dropped and reported as false. A nil target defaults to a 9.2%
// move in the signal direction.
func (g *Gateway) SendSignal(ctx context.Context, symbol string, typ model.SignalType, price float64, qualityScore int, timeframe string, target *float64) bool {
	if qualityScore < g.qualityMin {
		g.log.Info("signal alert below quality floor", "symbol", symbol, "quality_score", qualityScore, "min", g.qualityMin)
		g.count("gated")
		return false
	}
	text := FormatSignal(symbol, typ, price, qualityScore, timeframe, target, g.now().In(g.loc))
	ok := g.Send(ctx, text)
	if ok {
		g.log.Info("signal alert sent", "symbol", symbol, "type", string(typ), "quality_score", qualityScore)
	}
	return ok
}

// NotifySignal sends the alert for a stored signal.
func (g *Gateway) NotifySignal(ctx context.Context, s model.Signal) bool {
	target := s.TargetPrice
	return g.SendSignal(ctx, s.Symbol, s.Type, s.EntryPrice, s.QualityScore, s.EntryTimeframe, &target)
}

// TestConnection sends a short test message.
func (g *Gateway) TestConnection(ctx context.Context) bool {
	return g.Send(ctx, testMessage)
}

func (g *Gateway) count(result string) {
	if g.prom != nil {
		g.prom.Notifications.WithLabelValues(result).Inc()
	}
}

// FormatSignal renders the fixed-layout HTML alert for a signal.
func FormatSignal(symbol string, typ model.SignalType, price float64, qualityScore int, timeframe string, target *float64, at time.Time) string {
	direction := "🟢 LONG"
	pct := defaultTargetPct
	if typ == model.Short {
		direction = "🔴 SHORT"
		pct = -defaultTargetPct
	}

	tp := price * (1 + pct/100)
	if target != nil {
		tp = *target
	}
	move := 0.0
	if price != 0 {
		move = math.Abs((tp - price) / price * 100)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", symbol)
	b.WriteString(direction)
	if timeframe != "" {
		fmt.Fprintf(&b, " (%s)", timeframe)
	}
	b.WriteString("\n💎 Premium Signal\n")
	fmt.Fprintf(&b, "💰 Entry: $%.8f\n", price)
	fmt.Fprintf(&b, "🎯 Target: $%.8f (+%.1f%%)\n", tp, move)
	fmt.Fprintf(&b, "📊 Score: %d\n", qualityScore)
	fmt.Fprintf(&b, "🕒 %s", at.Format("02/01/2006 15:04"))
	return b.String()
}
