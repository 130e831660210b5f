// Package redis is the optional shared cache of the scanner. It holds the
// last selected pair universe, mirrors the settings table for other
// processes, publishes accepted signals and receives admin commands.
// Every call goes through a circuit breaker so a Redis outage never
// stalls a scan cycle. A nil *Cache is valid and does nothing.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
	"github.com/Jhon-Oliver2025/1Crypten/internal/metrics"
	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

const (
	KeyUniverse     = "scanner:universe"
	KeySettings     = "scanner:settings"
	ChannelSignals  = "signals:new"
	ChannelCommands = "scanner:commands"
)

// Command names accepted on ChannelCommands.
const (
	CommandRescan = "rescan"
	CommandClear  = "clear"
)

// Command is a parsed admin command. "clear:CLOSED" becomes {clear CLOSED}.
type Command struct {
	Name string
	Arg  string
}

// String renders the wire payload, the inverse of ParseCommand.
func (c Command) String() string {
	if c.Arg == "" {
		return c.Name
	}
	return c.Name + ":" + c.Arg
}

// ParseCommand splits a raw payload into name and optional argument.
func ParseCommand(payload string) Command {
	name, arg, _ := strings.Cut(strings.TrimSpace(payload), ":")
	return Command{Name: strings.ToLower(name), Arg: strings.ToUpper(arg)}
}

// Config holds the Redis connection settings.
type Config struct {
	Addr        string
	Password    string
	DB          int
	UniverseTTL time.Duration
	Timeout     time.Duration
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// ErrDisabled is returned by calls that need a live connection when no
// Redis address is configured.
var ErrDisabled = errors.New("redis: cache disabled")

// Cache wraps a go-redis client behind a circuit breaker.
type Cache struct {
	rdb     *goredis.Client
	cb      *CircuitBreaker
	ttl     time.Duration
	timeout time.Duration
	log     *slog.Logger
}

// New connects and pings Redis. An empty Addr returns (nil, nil): the
// scanner then runs without a cache.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
	})
	c := newCache(rdb, cfg)

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	c.log.Info("redis connected", "addr", cfg.Addr)
	return c, nil
}

func newCache(rdb *goredis.Client, cfg Config) *Cache {
	if cfg.UniverseTTL <= 0 {
		cfg.UniverseTTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	c := &Cache{
		rdb:     rdb,
		cb:      NewCircuitBreaker(3, 30*time.Second),
		ttl:     cfg.UniverseTTL,
		timeout: cfg.Timeout,
		log:     logger.OrDefault(cfg.Logger).With("component", "redis"),
	}
	if m := cfg.Metrics; m != nil {
		c.cb.OnStateChange = func(from, to State) {
			m.RedisCircuitBreakerState.Set(float64(to))
			if to == StateOpen {
				m.RedisCircuitBreakerTrips.Inc()
			}
		}
	}
	c.cb.OnStateChange = chainStateLog(c.cb.OnStateChange, c.log)
	return c
}

func chainStateLog(next func(from, to State), log *slog.Logger) func(from, to State) {
	return func(from, to State) {
		log.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
		if next != nil {
			next(from, to)
		}
	}
}

// Client exposes the underlying client for health probes. Nil when disabled.
func (c *Cache) Client() *goredis.Client {
	if c == nil {
		return nil
	}
	return c.rdb
}

// Enabled reports whether a Redis connection is configured.
func (c *Cache) Enabled() bool { return c != nil }

// Close releases the connection pool.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *Cache) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.cb.Execute(func() error {
		tctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return fn(tctx)
	})
}

// SaveUniverse stores the selected symbols with the universe TTL.
func (c *Cache) SaveUniverse(ctx context.Context, symbols []string) error {
	if c == nil {
		return nil
	}
	payload, err := json.Marshal(symbols)
	if err != nil {
		return fmt.Errorf("redis save universe: %w", err)
	}
	return c.do(ctx, func(ctx context.Context) error {
		return c.rdb.Set(ctx, KeyUniverse, payload, c.ttl).Err()
	})
}

// LoadUniverse returns the cached universe; ok is false on a miss.
func (c *Cache) LoadUniverse(ctx context.Context) (symbols []string, ok bool, err error) {
	if c == nil {
		return nil, false, nil
	}
	var raw []byte
	err = c.do(ctx, func(ctx context.Context) error {
		b, err := c.rdb.Get(ctx, KeyUniverse).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		raw = b
		return err
	})
	if err != nil || raw == nil {
		return nil, false, err
	}
	if err := json.Unmarshal(raw, &symbols); err != nil {
		return nil, false, fmt.Errorf("redis load universe: %w", err)
	}
	return symbols, len(symbols) > 0, nil
}

// DropUniverse removes the cached universe so the next refresh hits the exchange.
func (c *Cache) DropUniverse(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.do(ctx, func(ctx context.Context) error {
		return c.rdb.Del(ctx, KeyUniverse).Err()
	})
}

// MirrorSettings replaces the settings hash with the given snapshot.
func (c *Cache) MirrorSettings(ctx context.Context, settings map[string]string) error {
	if c == nil || len(settings) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(settings))
	for k, v := range settings {
		values[k] = v
	}
	return c.do(ctx, func(ctx context.Context) error {
		pipe := c.rdb.TxPipeline()
		pipe.Del(ctx, KeySettings)
		pipe.HSet(ctx, KeySettings, values)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// PublishSignal announces a newly accepted signal on ChannelSignals.
func (c *Cache) PublishSignal(ctx context.Context, s model.Signal) error {
	if c == nil {
		return nil
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis publish signal: %w", err)
	}
	return c.do(ctx, func(ctx context.Context) error {
		return c.rdb.Publish(ctx, ChannelSignals, payload).Err()
	})
}

// PublishCommand sends an admin command to running scanners and returns
// how many subscribers received it.
func (c *Cache) PublishCommand(ctx context.Context, cmd Command) (int64, error) {
	if c == nil {
		return 0, ErrDisabled
	}
	var n int64
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		n, err = c.rdb.Publish(ctx, ChannelCommands, cmd.String()).Result()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("redis publish command: %w", err)
	}
	return n, nil
}

// SubscribeCommands listens on ChannelCommands and calls handle for every
// message in order. Blocks until ctx is cancelled.
func (c *Cache) SubscribeCommands(ctx context.Context, handle func(context.Context, Command)) {
	if c == nil {
		return
	}
	pubsub := c.rdb.Subscribe(ctx, ChannelCommands)
	defer pubsub.Close()
	c.log.Info("subscribed to admin commands", "channel", ChannelCommands)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			cmd := ParseCommand(msg.Payload)
			c.log.Info("admin command received", "command", cmd.Name, "arg", cmd.Arg)
			handle(ctx, cmd)
		}
	}
}
