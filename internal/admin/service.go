// Package admin implements the administrative operations of the scanner:
// closing and clearing signals, forcing a universe rescan, the 24h
// performance report, retention and the startup re-send of today's signals.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

const reportWindow = 24 * time.Hour

// ErrInvalidPrice is returned by CloseSignal for a non-positive exit price.
var ErrInvalidPrice = errors.New("admin: exit price must be positive")

// Store is the part of the signal store used by admin operations.
type Store interface {
	Clear(ctx context.Context, status model.SignalStatus) (int64, error)
	ClosedSince(ctx context.Context, since time.Time) ([]model.Signal, error)
	OpenForToday(ctx context.Context) ([]model.Signal, error)
	CloseBySymbol(ctx context.Context, symbol string, exitPrice, variation float64) (bool, error)
	MigrateOlderThan(ctx context.Context, age time.Duration) (int64, error)
	PruneOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Universe is reset by ForceRescan.
type Universe interface {
	ResetLastUpdated(ctx context.Context)
}

// Waker starts the next scan cycle early.
type Waker interface {
	Trigger()
}

// Gateway delivers messages.
type Gateway interface {
	Send(ctx context.Context, text string) bool
	NotifySignal(ctx context.Context, s model.Signal) bool
	TestConnection(ctx context.Context) bool
}

// Config wires a Service.
type Config struct {
	Store        Store
	Universe     Universe // optional
	Waker        Waker    // optional
	Gateway      Gateway  // optional
	HistoryAge   time.Duration
	RetentionAge time.Duration
	Location     *time.Location
	Logger       *slog.Logger
}

// Service runs admin operations. It is safe for concurrent use; the
// store serializes writes.
type Service struct {
	cfg Config
	log *slog.Logger
	now func() time.Time
}

// New creates a Service.
func New(cfg Config) *Service {
	if cfg.HistoryAge <= 0 {
		cfg.HistoryAge = 30 * 24 * time.Hour
	}
	if cfg.RetentionAge <= 0 {
		cfg.RetentionAge = 7 * 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{
		cfg: cfg,
		log: logger.OrDefault(cfg.Logger).With("component", "admin"),
		now: time.Now,
	}
}

// ClearSignals deletes signals with status OPEN or CLOSED, or every signal
// when status is empty. Matching is case-insensitive.
func (s *Service) ClearSignals(ctx context.Context, status string) (int64, error) {
	st := model.SignalStatus(strings.ToUpper(strings.TrimSpace(status)))
	n, err := s.cfg.Store.Clear(ctx, st)
	if err != nil {
		return 0, fmt.Errorf("admin clear %q: %w", status, err)
	}
	s.log.Info("signals cleared", "status", string(st), "removed", n)
	return n, nil
}

// Closed is the outcome of CloseSignal.
type Closed struct {
	Symbol     string             `json:"symbol"`
	Type       model.SignalType   `json:"type"`
	EntryPrice float64            `json:"entry_price"`
	ExitPrice  float64            `json:"exit_price"`
	Variation  float64            `json:"variation"`
	Result     model.SignalResult `json:"result"`
}

// CloseSignal closes today's OPEN signal for symbol at exitPrice, with the
// variation measured in the signal's direction. ok is false when symbol has
// no OPEN signal, so closing twice is a no-op.
func (s *Service) CloseSignal(ctx context.Context, symbol string, exitPrice float64) (c Closed, ok bool, err error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !(exitPrice > 0) || math.IsInf(exitPrice, 0) {
		return Closed{}, false, fmt.Errorf("%w: %v", ErrInvalidPrice, exitPrice)
	}
	open, err := s.cfg.Store.OpenForToday(ctx)
	if err != nil {
		return Closed{}, false, fmt.Errorf("admin close %s: %w", symbol, err)
	}

	var sig *model.Signal
	for i := range open {
		if open[i].Symbol == symbol {
			sig = &open[i]
			break
		}
	}
	if sig == nil {
		s.log.Info("no open signal to close", "symbol", symbol)
		return Closed{}, false, nil
	}

	variation := sig.VariationAt(exitPrice)
	ok, err = s.cfg.Store.CloseBySymbol(ctx, symbol, exitPrice, variation)
	if err != nil {
		return Closed{}, false, fmt.Errorf("admin close %s: %w", symbol, err)
	}
	if !ok {
		// closed by someone else between the lookup and the update
		return Closed{}, false, nil
	}

	c = Closed{
		Symbol:     symbol,
		Type:       sig.Type,
		EntryPrice: sig.EntryPrice,
		ExitPrice:  exitPrice,
		Variation:  variation,
		Result:     model.ResultFor(variation),
	}
	s.log.Info("signal closed", "symbol", symbol, "type", string(c.Type),
		"entry_price", c.EntryPrice, "exit_price", exitPrice,
		"variation", variation, "result", string(c.Result))
	return c, true, nil
}

// ForceRescan discards the current universe so the next cycle re-ranks
// it, and wakes the scheduler.
func (s *Service) ForceRescan(ctx context.Context) {
	if s.cfg.Universe != nil {
		s.cfg.Universe.ResetLastUpdated(ctx)
	}
	if s.cfg.Waker != nil {
		s.cfg.Waker.Trigger()
	}
	s.log.Info("rescan requested")
}

// DailyReport summarizes CLOSED signals entered in the last 24h.
func (s *Service) DailyReport(ctx context.Context) (model.Report, error) {
	closed, err := s.cfg.Store.ClosedSince(ctx, s.now().Add(-reportWindow))
	if err != nil {
		return model.Report{}, fmt.Errorf("admin report: %w", err)
	}
	return BuildReport(closed), nil
}

// BuildReport computes trade count, win rate and mean variation, both
// rounded to two decimals. Signals without a variation count as trades
// but not in the mean.
func BuildReport(closed []model.Signal) model.Report {
	if len(closed) == 0 {
		return model.Report{}
	}
	wins, n := 0, 0
	sum := 0.0
	for i := range closed {
		if closed[i].Result == model.ResultWin {
			wins++
		}
		if v := closed[i].Variation; v != nil && !math.IsNaN(*v) {
			sum += *v
			n++
		}
	}
	r := model.Report{
		TotalTrades:    len(closed),
		WinRatePercent: round2(float64(wins) / float64(len(closed)) * 100),
	}
	if n > 0 {
		r.AvgGainPercent = round2(sum / float64(n))
	}
	return r
}

// FormatReport renders the report as an HTML message.
func FormatReport(r model.Report, at time.Time) string {
	return fmt.Sprintf("<b>📈 Daily report</b>\n"+
		"🗓 %s\n"+
		"🔢 Trades: %d\n"+
		"🏆 Win rate: %.2f%%\n"+
		"💹 Avg gain: %.2f%%",
		at.Format("02/01/2006"), r.TotalTrades, r.WinRatePercent, r.AvgGainPercent)
}

// SendDailyReport builds the report and delivers it through the gateway.
func (s *Service) SendDailyReport(ctx context.Context) bool {
	if s.cfg.Gateway == nil {
		return false
	}
	r, err := s.DailyReport(ctx)
	if err != nil {
		s.log.Error("daily report failed", "err", err)
		return false
	}
	ok := s.cfg.Gateway.Send(ctx, FormatReport(r, s.now().In(s.cfg.Location)))
	s.log.Info("daily report", "total_trades", r.TotalTrades, "win_rate_percent", r.WinRatePercent,
		"avg_gain_percent", r.AvgGainPercent, "sent", ok)
	return ok
}

// RunRetention moves signals older than the history age into history,
// then deletes what is older than the retention age. With a retention age
// shorter than the history age most signals are deleted before they are
// old enough to migrate.
func (s *Service) RunRetention(ctx context.Context) (int64, error) {
	migrated, err := s.cfg.Store.MigrateOlderThan(ctx, s.cfg.HistoryAge)
	if err != nil {
		return 0, fmt.Errorf("admin retention migrate: %w", err)
	}
	pruned, err := s.cfg.Store.PruneOlderThan(ctx, s.cfg.RetentionAge)
	if err != nil {
		return migrated, fmt.Errorf("admin retention prune: %w", err)
	}
	s.log.Info("retention done",
		"migrated", migrated, "history_age", s.cfg.HistoryAge.String(),
		"pruned", pruned, "retention_age", s.cfg.RetentionAge.String(),
	)
	return migrated + pruned, nil
}

// ResendToday notifies every OPEN signal of today again. Used after a
// restart so the channel reflects the current open set.
func (s *Service) ResendToday(ctx context.Context) (int, error) {
	if s.cfg.Gateway == nil {
		return 0, nil
	}
	open, err := s.cfg.Store.OpenForToday(ctx)
	if err != nil {
		return 0, fmt.Errorf("admin resend: %w", err)
	}
	sent := 0
	for _, sig := range open {
		if s.cfg.Gateway.NotifySignal(ctx, sig) {
			sent++
		}
	}
	s.log.Info("today's signals re-sent", "open", len(open), "sent", sent)
	return sent, nil
}

// TestNotifier sends a connection test message.
func (s *Service) TestNotifier(ctx context.Context) bool {
	if s.cfg.Gateway == nil {
		return false
	}
	return s.cfg.Gateway.TestConnection(ctx)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
