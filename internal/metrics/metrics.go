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

// Metrics holds all Prometheus metrics for the snapshot engine.
type Metrics struct {
	BarEventsTotal prometheus.Counter
	CyclesTotal    prometheus.Counter
	CycleDur       prometheus.Histogram

	SnapshotsTotal   *prometheus.CounterVec // labels: scope
	CorrectionsTotal *prometheus.CounterVec // labels: violation
	DiagnosticsTotal *prometheus.CounterVec // labels: reason
	BiasTotal        *prometheus.CounterVec // labels: bias
	SuppressedTotal  prometheus.Counter
	RescalesTotal    prometheus.Counter

	// Sink plumbing
	SinkDropsTotal       *prometheus.CounterVec // labels: sink
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name
	RedisWriteDur        prometheus.Histogram
	SQLiteCommitDur      prometheus.Histogram

	// Event ring buffer overflow
	RingBufOverflow prometheus.Counter

	// Tracker checkpointing
	CheckpointsTotal prometheus.Counter

	// WebSocket gateway
	WSClients prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		BarEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapsig_bar_events_total",
			Help: "Total bar-close events consumed from the host bridge",
		}),
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapsig_cycles_total",
			Help: "Total engine cycles run",
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snapsig_cycle_duration_seconds",
			Help:    "Engine cycle latency per bar event",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),

		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapsig_snapshots_total",
			Help: "Snapshot records emitted (by scope)",
		}, []string{"scope"}),
		CorrectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapsig_corrections_total",
			Help: "Invariant corrections applied (by violation kind)",
		}, []string{"violation"}),
		DiagnosticsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapsig_diagnostics_total",
			Help: "Diagnostic records emitted (by reason)",
		}, []string{"reason"}),
		BiasTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapsig_bias_total",
			Help: "Bias records emitted (by classification)",
		}, []string{"bias"}),
		SuppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapsig_suppressed_total",
			Help: "Duplicate-bar cycles suppressed by the tracker",
		}),
		RescalesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapsig_rescales_total",
			Help: "Times the mis-scaling heuristic fired",
		}),

		SinkDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapsig_sink_drops_total",
			Help: "Records dropped for a slow sink subscriber",
		}, []string{"sink"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "snapsig_channel_saturation_pct",
			Help: "Sink channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snapsig_redis_write_duration_seconds",
			Help:    "Redis record write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snapsig_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapsig_ringbuf_overflow_total",
			Help: "Bar events dropped on ring buffer overflow",
		}),

		CheckpointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapsig_checkpoints_total",
			Help: "Tracker checkpoints persisted",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snapsig_ws_clients",
			Help: "Currently connected WebSocket subscribers",
		}),
	}

	prometheus.MustRegister(
		m.BarEventsTotal,
		m.CyclesTotal,
		m.CycleDur,
		m.SnapshotsTotal,
		m.CorrectionsTotal,
		m.DiagnosticsTotal,
		m.BiasTotal,
		m.SuppressedTotal,
		m.RescalesTotal,
		m.SinkDropsTotal,
		m.ChannelSaturationPct,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.RingBufOverflow,
		m.CheckpointsTotal,
		m.WSClients,
	)

	return m
}

// HealthStatus represents system health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastEventTime  time.Time `json:"last_event_time"`
	Feeds          []string  `json:"feeds"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(feeds []string) *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
		Feeds:     feeds,
	}
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
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

// CheckSQLite pings the database and records latency + health.
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
	if !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	eventAge := ""
	if !h.LastEventTime.IsZero() {
		eventAge = time.Since(h.LastEventTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		LastEventTime   string   `json:"last_event_time"`
		EventAge        string   `json:"event_age"`
		Feeds           []string `json:"feeds"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastEventTime:   h.LastEventTime.Format(time.RFC3339),
		EventAge:        eventAge,
		Feeds:           h.Feeds,
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
	srv    *http.Server
}

// NewServer creates a metrics and health server. Extra handlers (e.g. the
// WebSocket gateway) may be attached to the returned mux before Start.
func NewServer(addr string, health *HealthStatus) (*Server, *http.ServeMux) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}, mux
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
