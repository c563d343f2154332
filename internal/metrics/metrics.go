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

	"signal-edge/internal/model"
)

// Metrics holds all Prometheus metrics for the sweep pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Sweep metrics
	CombosTotal   *prometheus.CounterVec // labels: status=ok|failed
	EvalDur       prometheus.Histogram
	SweepDur      *prometheus.HistogramVec // labels: tf
	LastSweepUnix prometheus.Gauge

	// Bar accounting
	EligibleBars prometheus.Counter
	SkippedBars  prometheus.Counter
	SignalsTotal *prometheus.CounterVec // labels: side=buy|sell

	// Storage
	SQLiteCommitDur prometheus.Histogram
	CacheLookups    *prometheus.CounterVec // labels: result=hit|miss|error

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedPuts        prometheus.Gauge

	// Alerting and ingestion
	AlertsTotal      *prometheus.CounterVec // labels: notifier
	FetchedBarsTotal *prometheus.CounterVec // labels: tf
}

// NewMetrics creates the collectors and registers them on reg.
// Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CombosTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsistats_combinations_total",
			Help: "Parameter combinations evaluated, by outcome",
		}, []string{"status"}),
		EvalDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rsistats_evaluation_duration_seconds",
			Help:    "Latency of one threshold-pair evaluation",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		SweepDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rsistats_sweep_duration_seconds",
			Help:    "Latency of a full parameter sweep over one timeframe",
			Buckets: prometheus.DefBuckets,
		}, []string{"tf"}),
		LastSweepUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rsistats_last_sweep_timestamp_seconds",
			Help: "Unix time the last sweep finished",
		}),

		EligibleBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsistats_bars_eligible_total",
			Help: "Bars scored across all evaluations",
		}),
		SkippedBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsistats_bars_skipped_total",
			Help: "Eligible bars skipped because the entry close was zero",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsistats_signals_total",
			Help: "Triggered signals across all evaluations, by side",
		}, []string{"side"}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rsistats_sqlite_commit_duration_seconds",
			Help:    "SQLite transaction commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsistats_cache_lookups_total",
			Help: "Report cache lookups, by result",
		}, []string{"result"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rsistats_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsistats_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedPuts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rsistats_redis_buffered_puts",
			Help: "Report cache writes buffered while the Redis circuit breaker is open",
		}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsistats_alerts_total",
			Help: "Edge alerts delivered, by notifier",
		}, []string{"notifier"}),
		FetchedBarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsistats_fetched_bars_total",
			Help: "Bars downloaded from the exchange, by timeframe",
		}, []string{"tf"}),
	}

	reg.MustRegister(
		m.CombosTotal,
		m.EvalDur,
		m.SweepDur,
		m.LastSweepUnix,
		m.EligibleBars,
		m.SkippedBars,
		m.SignalsTotal,
		m.SQLiteCommitDur,
		m.CacheLookups,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedPuts,
		m.AlertsTotal,
		m.FetchedBarsTotal,
	)

	return m
}

// ObserveResult records one successful evaluation.
func (m *Metrics) ObserveResult(res *model.EvaluationResult, dur time.Duration) {
	if m == nil {
		return
	}
	m.CombosTotal.WithLabelValues("ok").Inc()
	m.EvalDur.Observe(dur.Seconds())
	m.EligibleBars.Add(float64(res.Stats.Eligible))
	m.SkippedBars.Add(float64(res.Stats.Skipped))
	m.SignalsTotal.WithLabelValues("buy").Add(float64(res.Stats.Buy))
	m.SignalsTotal.WithLabelValues("sell").Add(float64(res.Stats.Sell))
}

// ObserveFailure records one failed combination.
func (m *Metrics) ObserveFailure() {
	if m == nil {
		return
	}
	m.CombosTotal.WithLabelValues("failed").Inc()
}

// ObserveSweep records a finished sweep.
func (m *Metrics) ObserveSweep(timeframe string, dur time.Duration) {
	if m == nil {
		return
	}
	m.SweepDur.WithLabelValues(timeframe).Observe(dur.Seconds())
	m.LastSweepUnix.Set(float64(time.Now().Unix()))
}

// ObserveCache records a cache lookup result: "hit", "miss" or "error".
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveAlert records a delivered alert.
func (m *Metrics) ObserveAlert(notifier string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(notifier).Inc()
}

// ObserveFetch records downloaded bars.
func (m *Metrics) ObserveFetch(timeframe string, bars int) {
	if m == nil {
		return
	}
	m.FetchedBarsTotal.WithLabelValues(timeframe).Add(float64(bars))
}

// ObserveBuffered sets the number of cache writes waiting for Redis.
func (m *Metrics) ObserveBuffered(pending int) {
	if m == nil {
		return
	}
	m.RedisBufferedPuts.Set(float64(pending))
}

// ObserveCommit records one SQLite commit.
func (m *Metrics) ObserveCommit(dur time.Duration) {
	if m == nil {
		return
	}
	m.SQLiteCommitDur.Observe(dur.Seconds())
}

// HealthStatus represents the process health during long sweeps.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool `json:"redis_enabled"`
	RedisConnected bool `json:"redis_connected"`
	SQLiteEnabled  bool `json:"sqlite_enabled"`
	SQLiteOK       bool `json:"sqlite_ok"`

	SweepRunning   bool      `json:"sweep_running"`
	CurrentTF      string    `json:"current_tf"`
	CombosDone     int       `json:"combos_done"`
	CombosTotal    int       `json:"combos_total"`
	LastSweepAt    time.Time `json:"last_sweep_at"`
	LastSweepError string    `json:"last_sweep_error"`

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

// SweepStarted marks a sweep over tf with total combinations as running.
func (h *HealthStatus) SweepStarted(tf string, total int) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.SweepRunning = true
	h.CurrentTF = tf
	h.CombosDone = 0
	h.CombosTotal = total
	h.mu.Unlock()
}

// ComboDone advances the progress counter.
func (h *HealthStatus) ComboDone() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.CombosDone++
	h.mu.Unlock()
}

// SweepFinished records the end of the current sweep.
func (h *HealthStatus) SweepFinished(err error) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.SweepRunning = false
	h.LastSweepAt = time.Now()
	h.LastSweepError = ""
	if err != nil {
		h.LastSweepError = err.Error()
	}
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
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
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil clients are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	probe()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. Only enabled dependencies count.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if redisDown || sqliteDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && sqliteDown {
		overallStatus = "unhealthy"
	}

	lastSweep := ""
	if !h.LastSweepAt.IsZero() {
		lastSweep = h.LastSweepAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		SweepRunning    bool    `json:"sweep_running"`
		CurrentTF       string  `json:"current_tf,omitempty"`
		CombosDone      int     `json:"combos_done"`
		CombosTotal     int     `json:"combos_total"`
		LastSweepAt     string  `json:"last_sweep_at,omitempty"`
		LastSweepError  string  `json:"last_sweep_error,omitempty"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		SweepRunning:    h.SweepRunning,
		CurrentTF:       h.CurrentTF,
		CombosDone:      h.CombosDone,
		CombosTotal:     h.CombosTotal,
		LastSweepAt:     lastSweep,
		LastSweepError:  h.LastSweepError,
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

// NewServer creates a metrics and health server. gatherer is usually
// prometheus.DefaultGatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler exposes the route mux.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
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
