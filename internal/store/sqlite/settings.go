package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Well-known configuration snapshot keys.
const (
	KeyTelegramToken    = "telegram_token"
	KeyTelegramChatID   = "telegram_chat_id"
	KeyWebhookURL       = "webhook_url"
	KeyBinanceAPIKey    = "binance_api_key"
	KeyBinanceAPISecret = "binance_api_secret"
)

// GetSetting returns the value for key, or "" when unset. Callers read on
// every use, so edits from the settings interface apply immediately.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite get setting %s: %w", key, err)
	}
	return v, nil
}

// SetSetting upserts key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, s.formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("sqlite set setting %s: %w", key, err)
	}
	return nil
}

// SeedSetting sets key only when it has no value yet. Returns true if it
// wrote. Empty values are never seeded.
func (s *Store) SeedSetting(ctx context.Context, key, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, value, s.formatTime(s.now()))
	if err != nil {
		return false, fmt.Errorf("sqlite seed setting %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AllSettings returns the whole configuration snapshot.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("sqlite all settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("sqlite scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
