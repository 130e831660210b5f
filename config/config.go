package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Exchange
	BinanceFapiURL   string
	BinanceWSURL     string
	BinanceAPIKey    string
	BinanceAPISecret string
	RateLimitRPS     float64
	RateLimitBurst   int
	RequestTimeout   time.Duration
	KlinesLimit      int

	// Infrastructure
	SQLitePath    string
	RedisAddr     string // empty disables the redis cache
	RedisPassword string
	HTTPAddr      string
	LogLevel      string
	Timezone      string // IANA name for "today" and the maintenance window; empty uses local time

	// Notification (seed values for the settings table)
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string

	// Universe
	UniverseRefresh time.Duration
	UniverseSize    int
	MinLeverage     int
	FallbackSymbols []string

	// Scoring
	TrendTF        string
	EntryTF        string
	QualityMin     int
	ATRMultiplier  float64
	MinTargetPct   float64
	MinVolume      float64
	TargetExitDays int

	// Scheduling and retention
	ScanInterval      time.Duration
	MaintenanceWindow time.Duration
	RetentionDays     int
	HistoryDays       int
	ReportCron        string
	StopTimeout       time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		BinanceFapiURL:   getEnv("BINANCE_FAPI_URL", "https://fapi.binance.com"),
		BinanceWSURL:     getEnv("BINANCE_WS_URL", "wss://fstream.binance.com"),
		BinanceAPIKey:    getEnv("BINANCE_API_KEY", ""),
		BinanceAPISecret: getEnv("BINANCE_API_SECRET", ""),
		RateLimitRPS:     getFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   getInt("RATE_LIMIT_BURST", 10),
		RequestTimeout:   getSeconds("REQUEST_TIMEOUT_SEC", 10),
		KlinesLimit:      getInt("KLINES_LIMIT", 500),

		SQLitePath:    getEnv("SQLITE_PATH", "data/signals.db"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		HTTPAddr:      getEnv("HTTP_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Timezone:      getEnv("TIMEZONE", ""),

		TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),

		UniverseRefresh: getSeconds("UNIVERSE_REFRESH_SEC", 3600),
		UniverseSize:    getInt("UNIVERSE_SIZE", 100),
		MinLeverage:     getInt("MIN_LEVERAGE", 50),
		FallbackSymbols: ParseList(getEnv("FALLBACK_SYMBOLS", "BTCUSDT,ETHUSDT,BNBUSDT,SOLUSDT,XRPUSDT")),

		TrendTF:        getEnv("TREND_TF", "4h"),
		EntryTF:        getEnv("ENTRY_TF", "1h"),
		QualityMin:     getInt("QUALITY_MIN", 90),
		ATRMultiplier:  getFloat("ATR_MULTIPLIER", 2.0),
		MinTargetPct:   getFloat("MIN_TARGET_PCT", 4.0),
		MinVolume:      getFloat("MIN_VOLUME", 500000),
		TargetExitDays: getInt("TARGET_EXIT_DAYS", 7),

		ScanInterval:      getSeconds("SCAN_INTERVAL_SEC", 60),
		MaintenanceWindow: time.Duration(getInt("MAINTENANCE_WINDOW_MIN", 5)) * time.Minute,
		RetentionDays:     getInt("RETENTION_DAYS", 7),
		HistoryDays:       getInt("HISTORY_DAYS", 30),
		ReportCron:        getEnv("REPORT_CRON", "0 0 23 * * *"),
		StopTimeout:       getSeconds("STOP_TIMEOUT_SEC", 2),
	}
}

// Validate rejects configurations the scanner cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.SQLitePath == "" {
		errs = append(errs, errors.New("SQLITE_PATH is empty"))
	}
	if c.ScanInterval <= 0 {
		errs = append(errs, errors.New("SCAN_INTERVAL_SEC must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT_SEC must be positive"))
	}
	if c.QualityMin < 0 || c.QualityMin > 100 {
		errs = append(errs, fmt.Errorf("QUALITY_MIN %d out of range 0-100", c.QualityMin))
	}
	if c.UniverseSize <= 0 {
		errs = append(errs, errors.New("UNIVERSE_SIZE must be positive"))
	}
	if c.KlinesLimit < 50 {
		errs = append(errs, fmt.Errorf("KLINES_LIMIT %d below the 50 bars scoring needs", c.KlinesLimit))
	}
	if c.RetentionDays <= 0 || c.HistoryDays <= 0 {
		errs = append(errs, errors.New("RETENTION_DAYS and HISTORY_DAYS must be positive"))
	}
	if c.TrendTF == "" || c.EntryTF == "" {
		errs = append(errs, errors.New("TREND_TF and ENTRY_TF are required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ParseList splits a comma-separated value, trimming blanks.
func ParseList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getSeconds(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * time.Second
}
