// Package scan runs one scan cycle: refresh the universe when due, score
// every pair, persist accepted setups and report the ones actually stored.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
	"github.com/Jhon-Oliver2025/1Crypten/internal/marketdata/binance"
	"github.com/Jhon-Oliver2025/1Crypten/internal/metrics"
	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

// Universe supplies the symbols to scan, refreshing itself when due.
type Universe interface {
	Symbols(ctx context.Context) []string
}

// Evaluator scores one symbol. A nil signal with a reason is a rejection;
// an error is a failed fetch.
type Evaluator interface {
	Evaluate(ctx context.Context, symbol string) (*model.Signal, string, error)
}

// Inserter persists an accepted signal, declining OPEN duplicates.
type Inserter interface {
	Insert(ctx context.Context, s model.Signal) (bool, error)
}

// Publisher announces stored signals to other processes.
type Publisher interface {
	PublishSignal(ctx context.Context, s model.Signal) error
}

// Config wires a Coordinator.
type Config struct {
	Universe      Universe
	Scorer        Evaluator
	Store         Inserter
	Publisher     Publisher     // optional
	SymbolTimeout time.Duration // budget for scoring one symbol, default 30s
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Coordinator orchestrates scan cycles.
type Coordinator struct {
	cfg  Config
	prom *metrics.Metrics
	log  *slog.Logger
	now  func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.SymbolTimeout <= 0 {
		cfg.SymbolTimeout = 30 * time.Second
	}
	return &Coordinator{
		cfg:  cfg,
		prom: cfg.Metrics,
		log:  logger.OrDefault(cfg.Logger).With("component", "scan"),
		now:  time.Now,
	}
}

// Scan runs one cycle and returns the signals newly stored in it. Errors
// for a single symbol are logged and never abort the cycle.
func (c *Coordinator) Scan(ctx context.Context) []model.Signal {
	start := c.now()
	if logger.TraceID(ctx) == "" {
		ctx = logger.WithTraceID(ctx, logger.NewCycleID(start))
	}
	trace := logger.LogWithTrace(ctx)

	symbols := c.cfg.Universe.Symbols(ctx)
	c.log.Info("scan started", append(trace, "symbols", len(symbols))...)

	var accepted []model.Signal
	evaluated := 0
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			c.log.Warn("scan interrupted", append(trace, "evaluated", evaluated)...)
			break
		}
		evaluated++
		if sig, ok := c.scanSymbol(ctx, symbol); ok {
			accepted = append(accepted, sig)
		}
	}

	if c.prom != nil {
		c.prom.ScanCycles.Inc()
		c.prom.ScanDuration.Observe(c.now().Sub(start).Seconds())
	}
	c.log.Info("scan finished", append(trace,
		"evaluated", evaluated,
		"accepted", len(accepted),
		"duration_ms", c.now().Sub(start).Milliseconds(),
	)...)
	return accepted
}

// scanSymbol scores and stores one symbol. ok is true only when a new
// signal was inserted.
func (c *Coordinator) scanSymbol(parent context.Context, symbol string) (sig model.Signal, ok bool) {
	trace := logger.LogWithTrace(parent)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("symbol evaluation panicked", append(trace, "symbol", symbol, "panic", fmt.Sprint(r))...)
			c.skip("panic")
			ok = false
		}
	}()

	ctx, cancel := context.WithTimeout(parent, c.cfg.SymbolTimeout)
	defer cancel()

	if c.prom != nil {
		c.prom.SymbolsEvaluated.Inc()
	}
	candidate, reason, err := c.cfg.Scorer.Evaluate(ctx, symbol)
	if err != nil {
		why := skipReason(err)
		c.log.Warn("symbol skipped", append(trace, "symbol", symbol, "reason", why, "err", err)...)
		c.skip(why)
		return model.Signal{}, false
	}
	if candidate == nil {
		if c.prom != nil && reason != "" {
			c.prom.SignalsRejected.WithLabelValues(reason).Inc()
		}
		return model.Signal{}, false
	}

	sig = *candidate
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	inserted, err := c.cfg.Store.Insert(ctx, sig)
	if err != nil {
		c.log.Error("signal insert failed", append(trace, "symbol", symbol, "err", err)...)
		c.skip("store_error")
		return model.Signal{}, false
	}
	if !inserted {
		c.log.Info("open signal already exists", append(trace, "symbol", symbol)...)
		if c.prom != nil {
			c.prom.SignalsRejected.WithLabelValues("duplicate").Inc()
		}
		return model.Signal{}, false
	}

	if c.prom != nil {
		c.prom.SignalsAccepted.Inc()
	}
	c.log.Info("signal stored", append(trace,
		"symbol", symbol, "id", sig.ID, "type", string(sig.Type), "quality_score", sig.QualityScore,
	)...)
	if c.cfg.Publisher != nil {
		if err := c.cfg.Publisher.PublishSignal(parent, sig); err != nil {
			c.log.Warn("signal publish failed", append(trace, "symbol", symbol, "err", err)...)
		}
	}
	return sig, true
}

func (c *Coordinator) skip(reason string) {
	if c.prom != nil {
		c.prom.SymbolsSkipped.WithLabelValues(reason).Inc()
	}
}

func skipReason(err error) string {
	var apiErr *binance.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, binance.ErrRateLimited):
		return "rate_limited"
	case errors.As(err, &apiErr):
		return "api_error"
	}
	return "exchange_error"
}
