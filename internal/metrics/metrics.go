package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal scanner.
type Metrics struct {
	// Scan pipeline
	ScanCycles        prometheus.Counter
	ScanDuration      prometheus.Histogram
	SymbolsEvaluated  prometheus.Counter
	SymbolsSkipped    *prometheus.CounterVec // labels: reason
	SignalsAccepted   prometheus.Counter
	SignalsRejected   *prometheus.CounterVec // labels: reason
	UniverseSize      prometheus.Gauge
	UniverseRefreshes *prometheus.CounterVec // labels: source=exchange|cache|fallback

	// Notification
	Notifications *prometheus.CounterVec // labels: result=sent|failed|gated

	// Exchange client
	ExchangeRequests *prometheus.CounterVec   // labels: endpoint, code
	ExchangeLatency  *prometheus.HistogramVec // labels: endpoint
	RateLimitWait    prometheus.Histogram

	// Mark-price stream
	StreamConnected  prometheus.Gauge
	StreamReconnects prometheus.Counter

	// Store
	StoreOpDuration  *prometheus.HistogramVec // labels: op
	OpenSignals      prometheus.Gauge
	MaintenanceRuns  *prometheus.CounterVec // labels: task
	SignalsPurged    *prometheus.CounterVec // labels: task
	OpenVariationPct *prometheus.GaugeVec   // labels: symbol

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics creates all collectors and registers them on reg.
// A nil reg registers on the process-wide default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ScanCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_cycles_total",
			Help: "Completed scan cycles",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_cycle_duration_seconds",
			Help:    "Wall time of one scan cycle",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		SymbolsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_symbols_evaluated_total",
			Help: "Symbols passed to the scorer",
		}),
		SymbolsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_symbols_skipped_total",
			Help: "Symbols skipped because of an exchange error or timeout",
		}, []string{"reason"}),
		SignalsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_signals_accepted_total",
			Help: "Signals newly inserted into the store",
		}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_signals_rejected_total",
			Help: "Candidate setups rejected (by reason)",
		}, []string{"reason"}),
		UniverseSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_universe_size",
			Help: "Symbols in the current scan universe",
		}),
		UniverseRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_universe_refreshes_total",
			Help: "Universe refreshes by source",
		}, []string{"source"}),

		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_notifications_total",
			Help: "Notification attempts by result",
		}, []string{"result"}),

		ExchangeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_exchange_requests_total",
			Help: "Exchange REST requests by endpoint and HTTP code",
		}, []string{"endpoint", "code"}),
		ExchangeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanner_exchange_request_duration_seconds",
			Help:    "Exchange REST latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		RateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a rate-limit token",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),

		StreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_markprice_stream_connected",
			Help: "Mark-price websocket connected (0/1)",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_markprice_stream_reconnects_total",
			Help: "Mark-price websocket reconnection attempts",
		}),

		StoreOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanner_store_op_duration_seconds",
			Help:    "SQLite signal store operation latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"op"}),
		OpenSignals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_open_signals",
			Help: "OPEN signals created today",
		}),
		MaintenanceRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_maintenance_runs_total",
			Help: "Maintenance task executions",
		}, []string{"task"}),
		SignalsPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_signals_removed_total",
			Help: "Signals removed from the active set by maintenance task",
		}, []string{"task"}),
		OpenVariationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scanner_open_signal_variation_pct",
			Help: "Current signed variation of each open signal",
		}, []string{"symbol"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.ScanCycles,
		m.ScanDuration,
		m.SymbolsEvaluated,
		m.SymbolsSkipped,
		m.SignalsAccepted,
		m.SignalsRejected,
		m.UniverseSize,
		m.UniverseRefreshes,
		m.Notifications,
		m.ExchangeRequests,
		m.ExchangeLatency,
		m.RateLimitWait,
		m.StreamConnected,
		m.StreamReconnects,
		m.StoreOpDuration,
		m.OpenSignals,
		m.MaintenanceRuns,
		m.SignalsPurged,
		m.OpenVariationPct,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// ObserveStoreOp records how long a store operation took.
// Usage: defer m.ObserveStoreOp("insert", time.Now())
func (m *Metrics) ObserveStoreOp(op string, start time.Time) {
	if m == nil {
		return
	}
	m.StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	SQLiteOK        bool      `json:"sqlite_ok"`
	RedisEnabled    bool      `json:"redis_enabled"`
	RedisConnected  bool      `json:"redis_connected"`
	StreamConnected bool      `json:"stream_connected"`
	LastCycleAt     time.Time `json:"last_cycle_at"`
	UniverseSize    int       `json:"universe_size"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// RecordCycle marks a completed scan cycle.
func (h *HealthStatus) RecordCycle(at time.Time, universeSize int) {
	h.mu.Lock()
	h.LastCycleAt = at
	h.UniverseSize = universeSize
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a ping and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.StreamConnected || (h.RedisEnabled && !h.RedisConnected) {
		overallStatus = "degraded"
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	lastCycle := ""
	if !h.LastCycleAt.IsZero() {
		lastCycle = h.LastCycleAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		StreamConnected bool    `json:"stream_connected"`
		LastCycleAt     string  `json:"last_cycle_at"`
		UniverseSize    int     `json:"universe_size"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		StreamConnected: h.StreamConnected,
		LastCycleAt:     lastCycle,
		UniverseSize:    h.UniverseSize,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics, /healthz and any extra
// routes mounted with Handle before Start.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
}

// NewServer creates a metrics and health server. A nil gatherer serves the
// default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		mux:  mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle mounts an extra route on the server mux.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
