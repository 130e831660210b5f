package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

const (
	defaultTelegramAPI = "https://api.telegram.org"
	defaultTokenKey    = "telegram_token"
	defaultChatIDKey   = "telegram_chat_id"
)

// TelegramConfig configures a TelegramNotifier. The bot token and chat id
// are looked up in Settings on every send so edits made through the
// settings interface apply without a restart.
type TelegramConfig struct {
	Settings  model.SettingsReader
	TokenKey  string // default "telegram_token"
	ChatIDKey string // default "telegram_chat_id"
	APIBase   string // default https://api.telegram.org
	Timeout   time.Duration
}

// TelegramNotifier sends messages via the Telegram Bot API in HTML parse mode.
type TelegramNotifier struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegramNotifier creates a Telegram notifier.
func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	if cfg.TokenKey == "" {
		cfg.TokenKey = defaultTokenKey
	}
	if cfg.ChatIDKey == "" {
		cfg.ChatIDKey = defaultChatIDKey
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultTelegramAPI
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TelegramNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (t *TelegramNotifier) credentials(ctx context.Context) (token, chatID string, err error) {
	if t.cfg.Settings == nil {
		return "", "", ErrNotConfigured
	}
	if token, err = t.cfg.Settings.GetSetting(ctx, t.cfg.TokenKey); err != nil {
		return "", "", fmt.Errorf("telegram: read token: %w", err)
	}
	if chatID, err = t.cfg.Settings.GetSetting(ctx, t.cfg.ChatIDKey); err != nil {
		return "", "", fmt.Errorf("telegram: read chat id: %w", err)
	}
	if token == "" || chatID == "" {
		return "", "", ErrNotConfigured
	}
	return token, chatID, nil
}

func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	token, chatID, err := t.credentials(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.APIBase, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", redactToken(err, token))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// redactToken strips the bot token from the URL recorded in err.
func redactToken(err error, token string) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = strings.ReplaceAll(uerr.URL, token, "***")
	}
	return err
}
