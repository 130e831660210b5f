package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Jhon-Oliver2025/1Crypten/config"
	"github.com/Jhon-Oliver2025/1Crypten/internal/admin"
	"github.com/Jhon-Oliver2025/1Crypten/internal/api"
	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
	"github.com/Jhon-Oliver2025/1Crypten/internal/marketdata/binance"
	"github.com/Jhon-Oliver2025/1Crypten/internal/metrics"
	"github.com/Jhon-Oliver2025/1Crypten/internal/monitor"
	"github.com/Jhon-Oliver2025/1Crypten/internal/notification"
	"github.com/Jhon-Oliver2025/1Crypten/internal/scan"
	"github.com/Jhon-Oliver2025/1Crypten/internal/scorer"
	"github.com/Jhon-Oliver2025/1Crypten/internal/store/redis"
	"github.com/Jhon-Oliver2025/1Crypten/internal/store/sqlite"
	"github.com/Jhon-Oliver2025/1Crypten/internal/universe"
)

func main() {
	cfg := config.Load()
	log := logger.Init("scanner", logger.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.Error("scanner fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()

	// ── Storage (fatal on failure) ──
	store, err := sqlite.Open(sqlite.Config{DBPath: cfg.SQLitePath, Location: loc, Metrics: m, Logger: log})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	if err := store.VerifyIntegrity(ctx); err != nil {
		return fmt.Errorf("store integrity: %w", err)
	}
	health.SetSQLiteOK(true)
	seedSettings(ctx, store, cfg, log)

	// ── Optional cache ──
	cache, err := redis.New(ctx, redis.Config{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		UniverseTTL: cfg.UniverseRefresh,
		Metrics:     m,
		Logger:      log,
	})
	if err != nil {
		log.Warn("redis unavailable, running without cache", "err", err)
	}
	defer cache.Close()
	health.SetRedisEnabled(cache.Enabled())
	if all, err := store.AllSettings(ctx); err == nil {
		if err := cache.MirrorSettings(ctx, all); err != nil {
			log.Warn("settings mirror failed", "err", err)
		}
	}

	// ── Exchange ──
	stream := binance.NewMarkPriceStream(cfg.BinanceWSURL, m, log)
	stream.OnConnect = func() { health.SetStreamConnected(true) }
	stream.OnDisconnect = func() { health.SetStreamConnected(false) }
	go stream.Run(ctx)

	client := binance.NewClient(binance.Config{
		BaseURL:          cfg.BinanceFapiURL,
		APIKey:           cfg.BinanceAPIKey,
		APISecret:        cfg.BinanceAPISecret,
		Settings:         store,
		APIKeySetting:    sqlite.KeyBinanceAPIKey,
		APISecretSetting: sqlite.KeyBinanceAPISecret,
		Timeout:          cfg.RequestTimeout,
		Limiter:          binance.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Prices:           stream,
		Metrics:          m,
		Logger:           log,
	})
	if key, _ := store.GetSetting(ctx, sqlite.KeyBinanceAPIKey); key == "" {
		log.Warn("no binance api key in env or settings, leverage brackets unavailable; the fallback universe will be used")
	}

	// ── Pipeline ──
	selector := universe.NewSelector(universe.Config{
		MarketData:   client,
		Interval:     cfg.EntryTF,
		Size:         cfg.UniverseSize,
		MinLeverage:  cfg.MinLeverage,
		RefreshEvery: cfg.UniverseRefresh,
		Fallback:     cfg.FallbackSymbols,
		Cache:        cache,
		Metrics:      m,
		Logger:       log,
	})
	sc := scorer.New(scorer.Config{
		MarketData:     client,
		TrendTF:        cfg.TrendTF,
		EntryTF:        cfg.EntryTF,
		KlinesLimit:    cfg.KlinesLimit,
		QualityMin:     cfg.QualityMin,
		ATRMultiplier:  cfg.ATRMultiplier,
		MinTargetPct:   cfg.MinTargetPct,
		MinVolume:      cfg.MinVolume,
		TargetExitDays: cfg.TargetExitDays,
		Logger:         log,
	})
	coord := scan.NewCoordinator(scan.Config{
		Universe:      selector,
		Scorer:        sc,
		Store:         store,
		Publisher:     cache,
		SymbolTimeout: 3 * cfg.RequestTimeout,
		Metrics:       m,
		Logger:        log,
	})
	gateway := notification.NewGateway(notification.GatewayConfig{
		Notifier: notification.Multi{
			notification.NewTelegramNotifier(notification.TelegramConfig{
				Settings:  store,
				TokenKey:  sqlite.KeyTelegramToken,
				ChatIDKey: sqlite.KeyTelegramChatID,
			}),
			notification.NewWebhookNotifier(store, sqlite.KeyWebhookURL),
		},
		QualityMin: cfg.QualityMin,
		Location:   loc,
		Metrics:    m,
		Logger:     log,
	})

	var svc *admin.Service
	sched := monitor.New(monitor.Config{
		Scanner:           coord,
		Store:             store,
		Notifier:          gateway,
		Prices:            client,
		Retention:         func(ctx context.Context) (int64, error) { return svc.RunRetention(ctx) },
		Interval:          cfg.ScanInterval,
		MaintenanceWindow: cfg.MaintenanceWindow,
		PriceTimeout:      cfg.RequestTimeout,
		Location:          loc,
		OnCycle:           func(at time.Time, _ int) { health.RecordCycle(at, selector.Size()) },
		Metrics:           m,
		Logger:            log,
	})
	svc = admin.New(admin.Config{
		Store:        store,
		Universe:     selector,
		Waker:        sched,
		Gateway:      gateway,
		HistoryAge:   time.Duration(cfg.HistoryDays) * 24 * time.Hour,
		RetentionAge: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		Location:     loc,
		Logger:       log,
	})

	// ── Startup sequence ──
	if !svc.TestNotifier(ctx) {
		log.Warn("notifier test failed; alerts will be logged only until settings are fixed")
	}
	if cfg.RetentionDays < cfg.HistoryDays {
		log.Warn("RETENTION_DAYS is shorter than HISTORY_DAYS; most signals are pruned before they reach history",
			"retention_days", cfg.RetentionDays, "history_days", cfg.HistoryDays)
	}
	if _, err := svc.RunRetention(ctx); err != nil {
		log.Error("startup retention failed", "err", err)
	}
	if _, err := svc.ResendToday(ctx); err != nil {
		log.Error("startup re-send failed", "err", err)
	}

	// ── Admin surfaces ──
	runner := admin.NewRunner(ctx, log)
	if _, err := runner.AddDailyReport(cfg.ReportCron, svc); err != nil {
		return err
	}
	runner.Start()
	defer runner.Stop()

	srv := metrics.NewServer(cfg.HTTPAddr, health, prometheus.DefaultGatherer)
	srv.Handle("/", api.NewRouter(api.Deps{
		Admin:       svc,
		Signals:     store,
		Settings:    store,
		MarketData:  client,
		KlinesLimit: cfg.KlinesLimit,
		Location:    loc,
		Logger:      log,
	}))
	srv.Start()
	health.StartLivenessChecker(ctx, cache.Client(), store.DB(), 10*time.Second)

	go cache.SubscribeCommands(ctx, func(ctx context.Context, cmd redis.Command) {
		switch cmd.Name {
		case redis.CommandRescan:
			svc.ForceRescan(ctx)
		case redis.CommandClear:
			if _, err := svc.ClearSignals(ctx, cmd.Arg); err != nil {
				log.Warn("clear command rejected", "arg", cmd.Arg, "err", err)
			}
		default:
			log.Warn("unknown admin command", "command", cmd.Name)
		}
	})

	if err := sched.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown requested", "signal", sig.String())

	// let the in-flight cycle finish, then cancel whatever is left
	sched.RequestStop()
	if !sched.AwaitStopped(cfg.StopTimeout) {
		log.Warn("scheduler did not stop in time, cancelling in-flight work", "timeout", cfg.StopTimeout.String())
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Stop(shutdownCtx)
	log.Info("scanner stopped")
	return nil
}

// seedSettings copies env credentials into the settings table when the
// keys are not set yet. Later edits through the settings interface win.
func seedSettings(ctx context.Context, store *sqlite.Store, cfg *config.Config, log *slog.Logger) {
	seeds := map[string]string{
		sqlite.KeyTelegramToken:    cfg.TelegramToken,
		sqlite.KeyTelegramChatID:   cfg.TelegramChatID,
		sqlite.KeyWebhookURL:       cfg.WebhookURL,
		sqlite.KeyBinanceAPIKey:    cfg.BinanceAPIKey,
		sqlite.KeyBinanceAPISecret: cfg.BinanceAPISecret,
	}
	for k, v := range seeds {
		seeded, err := store.SeedSetting(ctx, k, v)
		if err != nil {
			log.Warn("settings seed failed", "key", k, "err", err)
			continue
		}
		if seeded {
			log.Info("setting seeded from environment", "key", k)
		}
	}
}
