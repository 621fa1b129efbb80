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

// Metrics holds all Prometheus metrics for the stream engine.
type Metrics struct {
	KlinesTotal       prometheus.Counter
	CandlesTotal      prometheus.Counter
	WSReconnects      prometheus.Counter
	HeartbeatTimeouts prometheus.Counter
	UnknownPairDrops  prometheus.Counter

	IndicatorsTotal prometheus.Counter
	IgnoredFrames   prometheus.Counter
	SQLiteInsertDur prometheus.Histogram

	// Broadcast backpressure
	BusDropsTotal  prometheus.Counter
	BusSubscribers prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		KlinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamengine_klines_total",
			Help: "Total kline updates received from the WebSocket",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamengine_candles_total",
			Help: "Total closed candles persisted",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamengine_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		HeartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamengine_heartbeat_timeouts_total",
			Help: "Connections force-closed after a missed pong deadline",
		}),
		UnknownPairDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamengine_unknown_pair_drops_total",
			Help: "Kline updates dropped for symbols outside the selection",
		}),
		IndicatorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamengine_indicators_total",
			Help: "Total indicator values computed",
		}),
		IgnoredFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamengine_ignored_frames_total",
			Help: "Inbound frames that were not kline updates",
		}),
		SQLiteInsertDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamengine_sqlite_insert_duration_seconds",
			Help:    "Candle insert latency",
			Buckets: prometheus.DefBuckets,
		}),
		BusDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamengine_bus_drops_total",
			Help: "Broadcast messages dropped for slow subscribers",
		}),
		BusSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamengine_bus_subscribers",
			Help: "Current broadcast bus subscriber count",
		}),
	}

	prometheus.MustRegister(
		m.KlinesTotal,
		m.CandlesTotal,
		m.WSReconnects,
		m.HeartbeatTimeouts,
		m.UnknownPairDrops,
		m.IndicatorsTotal,
		m.IgnoredFrames,
		m.SQLiteInsertDur,
		m.BusDropsTotal,
		m.BusSubscribers,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastKlineTime  time.Time `json:"last_kline_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	PairCount      int       `json:"pair_count"`

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

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastKlineTime(t time.Time) {
	h.mu.Lock()
	h.LastKlineTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetPairCount(n int) {
	h.mu.Lock()
	h.PairCount = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
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

// CheckSQLite runs a trivial query and records latency + health.
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

// StartLivenessChecker runs periodic dependency checks.
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

	if !h.WSConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.WSConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	klineAge := ""
	if !h.LastKlineTime.IsZero() {
		klineAge = time.Since(h.LastKlineTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		WSConnected     bool    `json:"ws_connected"`
		LastKlineTime   string  `json:"last_kline_time"`
		KlineAge        string  `json:"kline_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		PairCount       int     `json:"pair_count"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:     h.WSConnected,
		LastKlineTime:   h.LastKlineTime.Format(time.RFC3339),
		KlineAge:        klineAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		PairCount:       h.PairCount,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	mux    *http.ServeMux
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		mux:    mux,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handle registers an extra handler on the server's mux. Must be called
// before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
