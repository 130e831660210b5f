package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These decouple the pipeline from the exchange client and the storage
// medium. Concrete implementations live under internal/marketdata and
// internal/store.

// MarketData is the exchange capability consumed by the scanner.
// Any error means "no data" for that symbol; callers skip and continue.
type MarketData interface {
	// Instruments lists futures contracts with status, contract type,
	// quote asset and maximum leverage.
	Instruments(ctx context.Context) ([]Instrument, error)

	// Klines returns up to limit candles for symbol at interval, ascending.
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// CurrentPrice returns the latest price for symbol.
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// SignalRepository is the durable signal set.
type SignalRepository interface {
	// Insert stores s unless an OPEN signal for s.Symbol exists.
	// Returns false for a declined duplicate.
	Insert(ctx context.Context, s Signal) (bool, error)

	// CloseBySymbol closes the OPEN signal for symbol.
	// Returns false when there is none.
	CloseBySymbol(ctx context.Context, symbol string, exitPrice, variation float64) (bool, error)

	// OpenForToday returns today's OPEN signals, one per symbol, by entry time.
	OpenForToday(ctx context.Context) ([]Signal, error)

	// PurgeOpenFromPreviousDays removes OPEN signals created before today.
	PurgeOpenFromPreviousDays(ctx context.Context) (int64, error)

	// PruneOlderThan deletes signals of any status older than the cutoff.
	PruneOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// MigrateOlderThan moves signals older than the cutoff into history.
	MigrateOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// Clear deletes signals with the given status, or all when empty.
	Clear(ctx context.Context, status SignalStatus) (int64, error)

	// ClosedSince returns CLOSED signals with entry_time at or after since.
	ClosedSince(ctx context.Context, since time.Time) ([]Signal, error)
}

// SettingsReader reads the runtime configuration snapshot.
type SettingsReader interface {
	// GetSetting returns the value for key, or "" when unset.
	GetSetting(ctx context.Context, key string) (string, error)
}
