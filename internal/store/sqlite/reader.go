package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

// OpenForToday returns OPEN signals created on the current calendar day,
// one per symbol (the earliest), ordered by entry_time ascending.
func (s *Store) OpenForToday(ctx context.Context) ([]model.Signal, error) {
	defer s.prom.ObserveStoreOp("open_today", time.Now())
	start := s.startOfDay(s.now())
	end := start.AddDate(0, 0, 1)

	sigs, err := s.query(ctx, `
		SELECT id, `+signalColumns+` FROM signals
		WHERE status = 'OPEN' AND entry_time >= ? AND entry_time < ?
		ORDER BY entry_time ASC, rowid ASC
	`, s.formatTime(start), s.formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("sqlite open for today: %w", err)
	}

	seen := make(map[string]bool, len(sigs))
	out := sigs[:0]
	for _, sig := range sigs {
		if seen[sig.Symbol] {
			continue
		}
		seen[sig.Symbol] = true
		out = append(out, sig)
	}
	return out, nil
}

// ClosedSince returns CLOSED signals with entry_time at or after since.
func (s *Store) ClosedSince(ctx context.Context, since time.Time) ([]model.Signal, error) {
	sigs, err := s.query(ctx, `
		SELECT id, `+signalColumns+` FROM signals
		WHERE status = 'CLOSED' AND entry_time >= ?
		ORDER BY entry_time ASC
	`, s.formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("sqlite closed since: %w", err)
	}
	return sigs, nil
}

// List returns active signals matching f, newest first.
func (s *Store) List(ctx context.Context, f model.SignalFilter) ([]model.Signal, error) {
	var (
		where []string
		args  []any
	)
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		where = append(where, "entry_time >= ?")
		args = append(args, s.formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "entry_time < ?")
		args = append(args, s.formatTime(f.To))
	}

	q := `SELECT id, ` + signalColumns + ` FROM signals`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY entry_time DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	sigs, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite list: %w", err)
	}
	return sigs, nil
}

// History returns up to limit migrated signals, most recently migrated first.
func (s *Store) History(ctx context.Context, limit int) ([]model.Signal, error) {
	if limit <= 0 {
		limit = 100
	}
	sigs, err := s.query(ctx, `
		SELECT id, `+signalColumns+` FROM signals_history
		ORDER BY seq DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: %w", err)
	}
	return sigs, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]model.Signal, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		sig, err := s.scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}
