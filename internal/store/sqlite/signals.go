package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

const signalColumns = `symbol, type, entry_price, entry_time, target_price, target_exit_time, status,
	exit_price, exit_time, variation, result, quality_score, signal_class, trend_score,
	alignment_score, market_score, strategy_info, trend_timeframe, entry_timeframe`

var _ model.SignalRepository = (*Store)(nil)

// Insert stores sig as OPEN unless an OPEN signal already exists for its
// symbol. A declined duplicate returns (false, nil).
func (s *Store) Insert(ctx context.Context, sig model.Signal) (bool, error) {
	defer s.prom.ObserveStoreOp("insert", time.Now())
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.EntryTime.IsZero() {
		sig.EntryTime = s.now()
	}
	sig.Status = model.StatusOpen

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite insert begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM signals WHERE symbol = ? AND status = 'OPEN'`, sig.Symbol,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite insert check: %w", err)
	}
	if exists > 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO signals (id, `+signalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{sig.ID}, s.signalArgs(sig)...)...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("sqlite insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite insert commit: %w", err)
	}
	return true, nil
}

// CloseBySymbol closes the OPEN signal for symbol. Returns false when no
// OPEN signal exists, so closing twice is a no-op.
func (s *Store) CloseBySymbol(ctx context.Context, symbol string, exitPrice, variation float64) (bool, error) {
	defer s.prom.ObserveStoreOp("close", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE signals
		SET exit_price = ?, variation = ?, result = ?, status = 'CLOSED', exit_time = ?
		WHERE symbol = ? AND status = 'OPEN'
	`, exitPrice, variation, string(model.ResultFor(variation)), s.formatTime(s.now()), symbol)
	if err != nil {
		return false, fmt.Errorf("sqlite close %s: %w", symbol, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite close %s: %w", symbol, err)
	}
	return n > 0, nil
}

// PruneOlderThan deletes signals of any status whose entry_time is older
// than now-age.
func (s *Store) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	defer s.prom.ObserveStoreOp("prune", time.Now())
	cutoff := s.formatTime(s.now().Add(-age))

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM signals WHERE entry_time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite prune: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("pruned signals", slog.Int64("count", n), slog.String("cutoff", cutoff))
	}
	return n, nil
}

// MigrateOlderThan copies signals older than now-age into signals_history
// and removes them from the active set in one transaction.
func (s *Store) MigrateOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	defer s.prom.ObserveStoreOp("migrate", time.Now())
	now := s.now()
	cutoff := s.formatTime(now.Add(-age))

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite migrate begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO signals_history (id, `+signalColumns+`, migrated_at)
		SELECT id, `+signalColumns+`, ? FROM signals WHERE entry_time < ?
		ORDER BY entry_time ASC
	`, s.formatTime(now), cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite migrate copy: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM signals WHERE entry_time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite migrate delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite migrate commit: %w", err)
	}
	if n > 0 {
		s.log.Info("migrated signals to history", slog.Int64("count", n), slog.String("cutoff", cutoff))
	}
	return n, nil
}

// PurgeOpenFromPreviousDays removes OPEN signals created before the start
// of the current day.
func (s *Store) PurgeOpenFromPreviousDays(ctx context.Context) (int64, error) {
	defer s.prom.ObserveStoreOp("purge_open", time.Now())
	start := s.formatTime(s.startOfDay(s.now()))

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM signals WHERE status = 'OPEN' AND entry_time < ?`, start)
	if err != nil {
		return 0, fmt.Errorf("sqlite purge open: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Clear deletes signals with status, or every signal when status is empty.
func (s *Store) Clear(ctx context.Context, status model.SignalStatus) (int64, error) {
	defer s.prom.ObserveStoreOp("clear", time.Now())
	var (
		query = `DELETE FROM signals`
		args  []any
	)
	switch status {
	case "":
	case model.StatusOpen, model.StatusClosed:
		query += ` WHERE status = ?`
		args = append(args, string(status))
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite clear: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) signalArgs(sig model.Signal) []any {
	var exitTime sql.NullString
	if sig.ExitTime != nil {
		exitTime = sql.NullString{String: s.formatTime(*sig.ExitTime), Valid: true}
	}
	var result sql.NullString
	if sig.Result != model.ResultNone {
		result = sql.NullString{String: string(sig.Result), Valid: true}
	}
	return []any{
		sig.Symbol,
		string(sig.Type),
		sig.EntryPrice,
		s.formatTime(sig.EntryTime),
		sig.TargetPrice,
		s.formatTime(sig.TargetExitTime),
		string(sig.Status),
		nullFloat(sig.ExitPrice),
		exitTime,
		nullFloat(sig.Variation),
		result,
		sig.QualityScore,
		sig.SignalClass,
		sig.TrendScore,
		sig.AlignmentScore,
		sig.MarketScore,
		sig.StrategyInfo,
		sig.TrendTimeframe,
		sig.EntryTimeframe,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSignal reads "id, <signalColumns>" from one row.
func (s *Store) scanSignal(row rowScanner) (model.Signal, error) {
	var (
		sig                    model.Signal
		typ, status            string
		entryTime, targetExit  string
		exitPrice, variation   sql.NullFloat64
		exitTime, result       sql.NullString
		strategy, trendTF, eTF sql.NullString
	)
	err := row.Scan(&sig.ID, &sig.Symbol, &typ, &sig.EntryPrice, &entryTime, &sig.TargetPrice,
		&targetExit, &status, &exitPrice, &exitTime, &variation, &result, &sig.QualityScore,
		&sig.SignalClass, &sig.TrendScore, &sig.AlignmentScore, &sig.MarketScore,
		&strategy, &trendTF, &eTF)
	if err != nil {
		return model.Signal{}, err
	}

	sig.Type = model.SignalType(typ)
	sig.Status = model.SignalStatus(status)
	sig.StrategyInfo = strategy.String
	sig.TrendTimeframe = trendTF.String
	sig.EntryTimeframe = eTF.String
	if sig.EntryTime, err = s.parseTime(entryTime); err != nil {
		return model.Signal{}, fmt.Errorf("entry_time %q: %w", entryTime, err)
	}
	if sig.TargetExitTime, err = s.parseTime(targetExit); err != nil {
		return model.Signal{}, fmt.Errorf("target_exit_time %q: %w", targetExit, err)
	}
	if exitPrice.Valid {
		v := exitPrice.Float64
		sig.ExitPrice = &v
	}
	if variation.Valid {
		v := variation.Float64
		sig.Variation = &v
	}
	if exitTime.Valid && exitTime.String != "" {
		t, err := s.parseTime(exitTime.String)
		if err != nil {
			return model.Signal{}, fmt.Errorf("exit_time %q: %w", exitTime.String, err)
		}
		sig.ExitTime = &t
	}
	if result.Valid {
		sig.Result = model.SignalResult(result.String)
	}
	return sig, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}
