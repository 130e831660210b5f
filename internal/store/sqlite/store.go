// Package sqlite is the durable signal store: the active signal set, the
// append-only history, the configuration snapshot and maintenance markers,
// all in one WAL-mode SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
	"github.com/Jhon-Oliver2025/1Crypten/internal/metrics"
)

// timeLayout is the on-disk timestamp format. It sorts lexicographically
// and is what the dashboard reads.
const timeLayout = "2006-01-02 15:04:05"

const dayLayout = "2006-01-02"

var (
	// ErrInvalidStatus is returned by Clear for a status other than OPEN,
	// CLOSED or empty.
	ErrInvalidStatus = errors.New("sqlite: invalid signal status")
)

// Config configures the store.
type Config struct {
	DBPath   string         // path to SQLite database file, e.g. "data/signals.db"
	Location *time.Location // calendar used for "today"; default time.Local
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Store is the SQLite-backed signal repository. Every read-modify-write
// runs under mu so a concurrent admin clear cannot lose an insert.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	loc  *time.Location
	now  func() time.Time
	prom *metrics.Metrics
	log  *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (creating when missing) the database with WAL mode and schema.
func Open(cfg Config) (*Store, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	s := &Store{
		db:   db,
		loc:  loc,
		now:  time.Now,
		prom: cfg.Metrics,
		log:  logger.OrDefault(cfg.Logger).With(slog.String("component", "sqlite")),
	}
	s.log.Info("opened signal store", slog.String("path", cfg.DBPath))
	return s, nil
}

const signalColumnsDDL = `
	symbol           TEXT    NOT NULL,
	type             TEXT    NOT NULL,
	entry_price      REAL    NOT NULL,
	entry_time       TEXT    NOT NULL,
	target_price     REAL    NOT NULL,
	target_exit_time TEXT    NOT NULL,
	status           TEXT    NOT NULL,
	exit_price       REAL,
	exit_time        TEXT,
	variation        REAL,
	result           TEXT,
	quality_score    INTEGER NOT NULL,
	signal_class     TEXT    NOT NULL,
	trend_score      INTEGER NOT NULL,
	alignment_score  INTEGER NOT NULL,
	market_score     INTEGER NOT NULL,
	strategy_info    TEXT,
	trend_timeframe  TEXT,
	entry_timeframe  TEXT`

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,` + signalColumnsDDL + `
		);

		-- at most one OPEN signal per symbol
		CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_open_symbol
			ON signals (symbol) WHERE status = 'OPEN';
		CREATE INDEX IF NOT EXISTS idx_signals_entry_time ON signals (entry_time);

		CREATE TABLE IF NOT EXISTS signals_history (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL,` + signalColumnsDDL + `,
			migrated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS maintenance (
			task     TEXT PRIMARY KEY,
			last_run TEXT NOT NULL
		);
	`)
	return err
}

// VerifyIntegrity pings the database and runs quick_check.
func (s *Store) VerifyIntegrity(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping: %w", err)
	}
	var res string
	if err := s.db.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&res); err != nil {
		return fmt.Errorf("sqlite quick_check: %w", err)
	}
	if res != "ok" {
		return fmt.Errorf("sqlite quick_check: %s", res)
	}
	return nil
}

// LastMaintenance returns the day (YYYY-MM-DD) task last ran, "" if never.
func (s *Store) LastMaintenance(ctx context.Context, task string) (string, error) {
	var day string
	err := s.db.QueryRowContext(ctx, `SELECT last_run FROM maintenance WHERE task = ?`, task).Scan(&day)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite read maintenance %s: %w", task, err)
	}
	return day, nil
}

// MarkMaintenance records that task ran on the calendar day of at.
func (s *Store) MarkMaintenance(ctx context.Context, task string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO maintenance (task, last_run) VALUES (?, ?)
		ON CONFLICT(task) DO UPDATE SET last_run = excluded.last_run
	`, task, s.Day(at))
	if err != nil {
		return fmt.Errorf("sqlite mark maintenance %s: %w", task, err)
	}
	return nil
}

// Day formats t as the store's calendar day.
func (s *Store) Day(t time.Time) string {
	return t.In(s.loc).Format(dayLayout)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) formatTime(t time.Time) string {
	return t.In(s.loc).Format(timeLayout)
}

func (s *Store) parseTime(v string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, v, s.loc)
}

func (s *Store) startOfDay(t time.Time) time.Time {
	lt := t.In(s.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.loc)
}
