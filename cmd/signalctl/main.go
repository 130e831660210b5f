// signalctl is a one-shot admin tool over the scanner's SQLite store.
//
// Usage:
//
//	signalctl [-db path] close SYMBOL PRICE
//	signalctl [-db path] clear [-status OPEN|CLOSED]
//	signalctl [-db path] report [-send]
//	signalctl [-db path] open
//	signalctl [-db path] settings list|get KEY|set KEY VALUE
//	signalctl [-db path] test-telegram
//	signalctl [-db path] retention
//	signalctl rescan
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Jhon-Oliver2025/1Crypten/config"
	"github.com/Jhon-Oliver2025/1Crypten/internal/admin"
	"github.com/Jhon-Oliver2025/1Crypten/internal/api"
	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
	"github.com/Jhon-Oliver2025/1Crypten/internal/notification"
	"github.com/Jhon-Oliver2025/1Crypten/internal/store/redis"
	"github.com/Jhon-Oliver2025/1Crypten/internal/store/sqlite"
)

var errUsage = errors.New("usage: signalctl [-db path] close|clear|report|open|settings|test-telegram|retention|rescan")

func main() {
	cfg := config.Load()
	dbPath := flag.String("db", cfg.SQLitePath, "Path to SQLite database")
	verbose := flag.Bool("v", false, "Log at debug level")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := logger.New(os.Stderr, "signalctl", level)
	cfg.SQLitePath = *dbPath

	if err := run(context.Background(), cfg, log, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "signalctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, err := sqlite.Open(sqlite.Config{DBPath: cfg.SQLitePath, Location: loc, Logger: log})
	if err != nil {
		return err
	}
	defer store.Close()

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
		Logger:     log,
	})
	svc := admin.New(admin.Config{
		Store:        store,
		Gateway:      gateway,
		HistoryAge:   time.Duration(cfg.HistoryDays) * 24 * time.Hour,
		RetentionAge: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		Location:     loc,
		Logger:       log,
	})

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "close":
		if len(rest) != 2 {
			return errors.New("usage: signalctl close SYMBOL PRICE")
		}
		price, err := strconv.ParseFloat(rest[1], 64)
		if err != nil {
			return fmt.Errorf("invalid price %q: %w", rest[1], err)
		}
		c, ok, err := svc.CloseSignal(ctx, rest[0], price)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no open signal for %s today", strings.ToUpper(rest[0]))
		}
		return printJSON(c)

	case "clear":
		fs := flag.NewFlagSet("clear", flag.ContinueOnError)
		status := fs.String("status", "", "OPEN, CLOSED or empty for all")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		n, err := svc.ClearSignals(ctx, *status)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d signals\n", n)

	case "report":
		fs := flag.NewFlagSet("report", flag.ContinueOnError)
		send := fs.Bool("send", false, "Deliver the report through the notifier")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *send {
			if !svc.SendDailyReport(ctx) {
				return errors.New("report delivery failed")
			}
			return nil
		}
		r, err := svc.DailyReport(ctx)
		if err != nil {
			return err
		}
		return printJSON(r)

	case "open":
		open, err := store.OpenForToday(ctx)
		if err != nil {
			return err
		}
		return printJSON(open)

	case "settings":
		return settings(ctx, store, rest)

	case "test-telegram":
		if !svc.TestNotifier(ctx) {
			return errors.New("notifier test failed, check telegram_token and telegram_chat_id")
		}
		fmt.Println("ok")

	case "retention":
		n, err := svc.RunRetention(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("moved %d signals out of the active set\n", n)

	case "rescan":
		return rescan(ctx, cfg, log)

	default:
		return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
	}
	return nil
}

func settings(ctx context.Context, store *sqlite.Store, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: signalctl settings list|get KEY|set KEY VALUE")
	}
	switch {
	case args[0] == "list":
		all, err := store.AllSettings(ctx)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s=%s\n", k, api.MaskSecret(k, all[k]))
		}
	case args[0] == "get" && len(args) == 2:
		v, err := store.GetSetting(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Println(v)
	case args[0] == "set" && len(args) == 3:
		return store.SetSetting(ctx, args[1], args[2])
	default:
		return errors.New("usage: signalctl settings list|get KEY|set KEY VALUE")
	}
	return nil
}

// rescan asks running scanners to re-rank their universe and scan now.
func rescan(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	cache, err := redis.New(ctx, redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, Logger: log})
	if err != nil {
		return err
	}
	defer cache.Close()
	n, err := cache.PublishCommand(ctx, redis.Command{Name: redis.CommandRescan})
	if errors.Is(err, redis.ErrDisabled) {
		return errors.New("rescan needs REDIS_ADDR; alternatively POST /admin/rescan on the scanner")
	}
	if err != nil {
		return err
	}
	fmt.Printf("rescan delivered to %d scanner(s)\n", n)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
