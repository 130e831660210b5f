// Package monitor runs the long-lived scan loop.
//
// Each cycle runs the daily maintenance when inside the midnight window
// and not yet done today. It then scans and notifies new signals, checks
// today's open signals against the current price and sleeps until the
// next interval. Stopping is cooperative: the in-flight cycle completes
// before the loop exits.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
	"github.com/Jhon-Oliver2025/1Crypten/internal/metrics"
	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

// State is the scheduler lifecycle state.
type State string

const (
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopped  State = "STOPPED"
)

// Maintenance task names recorded in the store.
const (
	TaskPurgeOpen = "purge_open"
	TaskRetention = "retention"
)

// ErrAlreadyStarted is returned by Start on a scheduler that left STARTING.
var ErrAlreadyStarted = errors.New("monitor: scheduler already started")

// Scanner runs one scan cycle and returns the newly stored signals.
type Scanner interface {
	Scan(ctx context.Context) []model.Signal
}

// Notifier delivers a signal alert, reporting success.
type Notifier interface {
	NotifySignal(ctx context.Context, s model.Signal) bool
}

// PriceSource returns the latest price of a symbol.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Store is the part of the signal store the loop drives.
type Store interface {
	OpenForToday(ctx context.Context) ([]model.Signal, error)
	PurgeOpenFromPreviousDays(ctx context.Context) (int64, error)
	LastMaintenance(ctx context.Context, task string) (string, error)
	MarkMaintenance(ctx context.Context, task string, at time.Time) error
	Day(t time.Time) string
}

// Config wires a Scheduler.
type Config struct {
	Scanner  Scanner
	Store    Store
	Notifier Notifier
	Prices   PriceSource

	// Retention migrates and prunes aged signals and returns how many
	// left the active set. It runs once per day in the maintenance window
	// after the open-signal purge. Optional.
	Retention func(ctx context.Context) (int64, error)

	Interval          time.Duration // default 60s
	MaintenanceWindow time.Duration // from local midnight, default 5m
	PriceTimeout      time.Duration // default 10s
	Location          *time.Location

	// OnCycle is called after every cycle with its start time.
	OnCycle func(at time.Time, accepted int)

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Position is the open-position check result for one signal.
type Position struct {
	Symbol      string
	Type        model.SignalType
	EntryPrice  float64
	Price       float64
	Variation   float64
	HoursActive float64
}

// Scheduler owns the scan loop.
type Scheduler struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	mu       sync.Mutex
	state    State
	stop     chan struct{}
	stopOnce sync.Once
	wake     chan struct{}
	done     chan struct{}
}

// New creates a Scheduler in STARTING state.
func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaintenanceWindow <= 0 {
		cfg.MaintenanceWindow = 5 * time.Minute
	}
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scheduler{
		cfg:   cfg,
		log:   logger.OrDefault(cfg.Logger).With("component", "monitor"),
		now:   time.Now,
		state: StateStarting,
		stop:  make(chan struct{}),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.log.Info("scheduler state", "state", string(st))
}

// Start launches the loop in its own goroutine. Cancelling ctx aborts
// in-flight requests; RequestStop lets the current cycle finish.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateRunning
	s.mu.Unlock()
	s.log.Info("scheduler state", "state", string(StateRunning), "interval", s.cfg.Interval.String())

	go s.loop(ctx)
	return nil
}

// RequestStop asks the loop to exit after the current cycle.
func (s *Scheduler) RequestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// AwaitStopped waits up to timeout for the loop to exit and reports
// whether it did.
func (s *Scheduler) AwaitStopped(timeout time.Duration) bool {
	if s.State() == StateStarting {
		return false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.done:
		return true
	case <-t.C:
		return false
	}
}

// Trigger cuts the current sleep short so the next cycle starts now.
func (s *Scheduler) Trigger() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) stopRequested() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateStopped)

	s.CatchUp(ctx)
	for !s.stopRequested() && ctx.Err() == nil {
		s.RunCycle(ctx)
		if !s.sleep(ctx) {
			return
		}
	}
}

// sleep waits one interval. Returns false when the loop should exit.
func (s *Scheduler) sleep(ctx context.Context) bool {
	t := time.NewTimer(s.cfg.Interval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.wake:
		return true
	case <-s.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// RunCycle runs one full cycle. A failing step is logged and the
// remaining steps still run.
func (s *Scheduler) RunCycle(ctx context.Context) {
	start := s.now()
	ctx = logger.WithTraceID(ctx, logger.NewCycleID(start))
	trace := logger.LogWithTrace(ctx)

	s.maintain(ctx, start)

	signals := s.cfg.Scanner.Scan(ctx)
	notified := 0
	for _, sig := range signals {
		if s.cfg.Notifier != nil && s.cfg.Notifier.NotifySignal(ctx, sig) {
			notified++
		}
	}

	positions := s.CheckPositions(ctx)

	s.log.Info("cycle complete", append(trace,
		"accepted", len(signals),
		"notified", notified,
		"open", len(positions),
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)...)
	if s.cfg.OnCycle != nil {
		s.cfg.OnCycle(start, len(signals))
	}
}

// InMaintenanceWindow reports whether t falls in [00:00, 00:00+window)
// local time.
func (s *Scheduler) InMaintenanceWindow(t time.Time) bool {
	lt := t.In(s.cfg.Location)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.cfg.Location)
	return lt.Sub(midnight) < s.cfg.MaintenanceWindow
}

func (s *Scheduler) maintain(ctx context.Context, at time.Time) {
	if !s.InMaintenanceWindow(at) {
		return
	}
	s.runDaily(ctx, TaskPurgeOpen, at, s.purgeOpen)
	if s.cfg.Retention != nil {
		s.runDaily(ctx, TaskRetention, at, s.cfg.Retention)
	}
}

// CatchUp runs the open-signal purge outside the maintenance window when
// today's run is missing, e.g. after the process was down over midnight.
// Left-over OPEN rows from earlier days would otherwise block inserts for
// their symbols until the next window.
func (s *Scheduler) CatchUp(ctx context.Context) {
	s.runDaily(ctx, TaskPurgeOpen, s.now(), s.purgeOpen)
}

func (s *Scheduler) purgeOpen(ctx context.Context) (int64, error) {
	return s.cfg.Store.PurgeOpenFromPreviousDays(ctx)
}

// runDaily runs fn unless task already ran on at's calendar day. A failed
// run is not marked, so the next cycle inside the window retries it.
func (s *Scheduler) runDaily(ctx context.Context, task string, at time.Time, fn func(context.Context) (int64, error)) {
	trace := logger.LogWithTrace(ctx)
	today := s.cfg.Store.Day(at)
	last, err := s.cfg.Store.LastMaintenance(ctx, task)
	if err != nil {
		s.log.Error("maintenance marker read failed", append(trace, "task", task, "err", err)...)
		return
	}
	if last == today {
		return
	}

	n, err := fn(ctx)
	if err != nil {
		s.log.Error("maintenance failed", append(trace, "task", task, "err", err)...)
		return
	}
	if err := s.cfg.Store.MarkMaintenance(ctx, task, at); err != nil {
		s.log.Error("maintenance marker write failed", append(trace, "task", task, "err", err)...)
	}

	if m := s.cfg.Metrics; m != nil {
		m.MaintenanceRuns.WithLabelValues(task).Inc()
		if n > 0 {
			m.SignalsPurged.WithLabelValues(task).Add(float64(n))
		}
	}
	s.log.Info("maintenance done", append(trace, "task", task, "day", today, "removed", n)...)
}

// CheckPositions prices every OPEN signal of today and logs its variation.
// Signals are not closed here.
func (s *Scheduler) CheckPositions(ctx context.Context) []Position {
	trace := logger.LogWithTrace(ctx)
	open, err := s.cfg.Store.OpenForToday(ctx)
	if err != nil {
		s.log.Error("open signals read failed", append(trace, "err", err)...)
		return nil
	}

	if m := s.cfg.Metrics; m != nil {
		m.OpenSignals.Set(float64(len(open)))
		m.OpenVariationPct.Reset()
	}
	if s.cfg.Prices == nil {
		return nil
	}

	now := s.now()
	positions := make([]Position, 0, len(open))
	for i := range open {
		sig := &open[i]
		pctx, cancel := context.WithTimeout(ctx, s.cfg.PriceTimeout)
		price, err := s.cfg.Prices.CurrentPrice(pctx, sig.Symbol)
		cancel()
		if err != nil {
			s.log.Warn("price check failed", append(trace, "symbol", sig.Symbol, "err", err)...)
			continue
		}
		p := Position{
			Symbol:      sig.Symbol,
			Type:        sig.Type,
			EntryPrice:  sig.EntryPrice,
			Price:       price,
			Variation:   sig.VariationAt(price),
			HoursActive: now.Sub(sig.EntryTime).Hours(),
		}
		positions = append(positions, p)
		if m := s.cfg.Metrics; m != nil {
			m.OpenVariationPct.WithLabelValues(p.Symbol).Set(p.Variation)
		}
		s.log.Info("open position", append(trace,
			"symbol", p.Symbol,
			"type", string(p.Type),
			"entry", p.EntryPrice,
			"price", p.Price,
			"variation_pct", p.Variation,
			"hours_active", p.HoursActive,
		)...)
	}
	return positions
}
