package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Jhon-Oliver2025/1Crypten/internal/logger"
	"github.com/Jhon-Oliver2025/1Crypten/internal/metrics"
)

const (
	defaultStreamURL = "wss://fstream.binance.com"
	markPriceStream  = "/ws/!markPrice@arr@1s"
	readTimeout      = 30 * time.Second
	pingInterval     = 15 * time.Second
	minBackoff       = time.Second
	maxBackoff       = 30 * time.Second
)

type markPriceEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

type pricePoint struct {
	price float64
	at    time.Time
}

// MarkPriceStream keeps the latest mark price of every futures symbol from
// the all-market mark-price websocket. It satisfies PriceSource.
type MarkPriceStream struct {
	url  string
	prom *metrics.Metrics
	log  *slog.Logger
	now  func() time.Time

	// after paces reconnects; tests replace it.
	after func(time.Duration) <-chan time.Time

	mu     sync.RWMutex
	prices map[string]pricePoint

	// Optional hooks
	OnConnect    func()
	OnDisconnect func()
}

var _ PriceSource = (*MarkPriceStream)(nil)

// NewMarkPriceStream creates a stream against baseURL (default
// wss://fstream.binance.com). Call Run to connect.
func NewMarkPriceStream(baseURL string, m *metrics.Metrics, log *slog.Logger) *MarkPriceStream {
	if baseURL == "" {
		baseURL = defaultStreamURL
	}
	return &MarkPriceStream{
		url:    strings.TrimRight(baseURL, "/") + markPriceStream,
		prom:   m,
		log:    logger.OrDefault(log).With(slog.String("component", "markprice")),
		now:    time.Now,
		after:  time.After,
		prices: make(map[string]pricePoint, 512),
	}
}

// Price returns the cached mark price when it is younger than maxAge.
func (s *MarkPriceStream) Price(symbol string, maxAge time.Duration) (float64, bool) {
	s.mu.RLock()
	p, ok := s.prices[symbol]
	s.mu.RUnlock()
	if !ok || s.now().Sub(p.at) > maxAge {
		return 0, false
	}
	return p.price, true
}

// Len returns how many symbols have a cached price.
func (s *MarkPriceStream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prices)
}

// Run connects and reconnects with exponential backoff until ctx is
// cancelled. A connection that was established resets the backoff, so
// only consecutive dial failures grow the delay.
func (s *MarkPriceStream) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		connected, err := s.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = minBackoff
		}
		s.log.Warn("mark-price stream disconnected, retrying",
			slog.String("error", fmt.Sprint(err)), slog.Duration("backoff", backoff))
		if s.prom != nil {
			s.prom.StreamReconnects.Inc()
		}
		select {
		case <-s.after(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

// consume reads one connection until it fails. connected reports whether
// the dial succeeded.
func (s *MarkPriceStream) consume(ctx context.Context) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	s.setConnected(true)
	defer s.setConnected(false)
	s.log.Info("mark-price stream connected", slog.String("url", s.url))

	conn.SetReadLimit(4 << 20)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-pingCtx.Done():
				// unblock ReadMessage on shutdown
				conn.Close()
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		if n, err := s.handleMessage(msg); err != nil {
			s.log.Debug("bad mark-price frame", slog.String("error", err.Error()), slog.Int("applied", n))
		}
	}
}

// handleMessage applies one frame: either an array of events or a single
// event. Returns how many prices were stored.
func (s *MarkPriceStream) handleMessage(msg []byte) (int, error) {
	var events []markPriceEvent
	if err := json.Unmarshal(msg, &events); err != nil {
		var one markPriceEvent
		if err2 := json.Unmarshal(msg, &one); err2 != nil {
			return 0, err
		}
		events = []markPriceEvent{one}
	}

	now := s.now()
	applied := 0
	var firstErr error
	s.mu.Lock()
	for _, ev := range events {
		if ev.Symbol == "" {
			continue
		}
		p, err := strconv.ParseFloat(ev.MarkPrice, 64)
		if err != nil || p <= 0 {
			if firstErr == nil {
				firstErr = fmt.Errorf("symbol %s: invalid mark price %q", ev.Symbol, ev.MarkPrice)
			}
			continue
		}
		s.prices[ev.Symbol] = pricePoint{price: p, at: now}
		applied++
	}
	s.mu.Unlock()
	return applied, firstErr
}

func (s *MarkPriceStream) setConnected(v bool) {
	if s.prom != nil {
		if v {
			s.prom.StreamConnected.Set(1)
		} else {
			s.prom.StreamConnected.Set(0)
		}
	}
	if v && s.OnConnect != nil {
		s.OnConnect()
	}
	if !v && s.OnDisconnect != nil {
		s.OnDisconnect()
	}
}
