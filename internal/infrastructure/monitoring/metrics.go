package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/resilience"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing, so components can run without instrumentation.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Bridge metrics
	BridgeMessages  *prometheus.CounterVec
	BridgeMalformed prometheus.Counter
	BridgeCommands  *prometheus.CounterVec
	Injections      *prometheus.CounterVec

	// Tab metrics
	TabsOpen   prometheus.Gauge
	PageLoads  *prometheus.CounterVec
	PageFetch  *prometheus.HistogramVec
	AdsBlocked prometheus.Counter

	// Persistence metrics
	PersistWrites   *prometheus.CounterVec
	PersistDuration prometheus.Histogram

	// Download metrics
	Downloads     *prometheus.CounterVec
	DownloadBytes prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	startTime time.Time

	mu       sync.Mutex
	snapshot Snapshot
}

// Snapshot holds running totals for the JSON health endpoint.
type Snapshot struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	BridgeMessages  int64   `json:"bridge_messages"`
	InjectionFailed int64   `json:"injection_failed"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// NewMetrics registers every collector with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shell_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		BridgeMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_bridge_messages_total",
				Help: "Bridge messages received from content surfaces, by type",
			},
			[]string{"type"},
		),
		BridgeMalformed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shell_bridge_malformed_total",
				Help: "Bridge messages dropped because they could not be parsed",
			},
		),
		BridgeCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_bridge_commands_total",
				Help: "Commands sent to content surfaces, by op and outcome",
			},
			[]string{"op", "status"},
		),
		Injections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_injections_total",
				Help: "Instrumentation injection outcomes (injected, retry, verified, failed)",
			},
			[]string{"outcome"},
		),

		TabsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shell_tabs_open",
				Help: "Number of tabs with a live content surface",
			},
		),
		PageLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_page_loads_total",
				Help: "Page loads by outcome",
			},
			[]string{"outcome"},
		),
		PageFetch: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shell_page_fetch_seconds",
				Help:    "Time to fetch a page in the sandbox surface",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		AdsBlocked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shell_ads_blocked_total",
				Help: "Requests or elements removed by the ad blocker",
			},
		),

		PersistWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_persist_writes_total",
				Help: "Persisted state writes by status",
			},
			[]string{"status"},
		),
		PersistDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shell_persist_duration_seconds",
				Help:    "Time to encode and write the persisted state",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),

		Downloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_downloads_total",
				Help: "Downloads by terminal status",
			},
			[]string{"status"},
		),
		DownloadBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shell_download_bytes_total",
				Help: "Bytes written by the download manager",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shell_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shell_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
		BreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_breaker_transitions_total",
				Help: "Circuit breaker state changes by target state",
			},
			[]string{"name", "to"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "shell_uptime_seconds",
			Help: "Host uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordBridgeMessage counts an inbound bridge message by type.
func (m *Metrics) RecordBridgeMessage(msgType string) {
	if m == nil {
		return
	}
	m.BridgeMessages.WithLabelValues(msgType).Inc()
	m.mu.Lock()
	m.snapshot.BridgeMessages++
	m.mu.Unlock()
}

// RecordBridgeMalformed counts a dropped inbound message.
func (m *Metrics) RecordBridgeMalformed() {
	if m == nil {
		return
	}
	m.BridgeMalformed.Inc()
}

// RecordCommand counts an outbound command.
func (m *Metrics) RecordCommand(op string, err error) {
	if m == nil {
		return
	}
	m.BridgeCommands.WithLabelValues(op, statusOf(err)).Inc()
}

// RecordInjection counts a handshake outcome.
func (m *Metrics) RecordInjection(outcome string) {
	if m == nil {
		return
	}
	m.Injections.WithLabelValues(outcome).Inc()
	if outcome == "failed" {
		m.mu.Lock()
		m.snapshot.InjectionFailed++
		m.mu.Unlock()
	}
}

// SetTabsOpen sets the live surface gauge.
func (m *Metrics) SetTabsOpen(n int) {
	if m == nil {
		return
	}
	m.TabsOpen.Set(float64(n))
}

// RecordPageLoad counts a finished page load ("loaded" or "errored").
func (m *Metrics) RecordPageLoad(outcome string) {
	if m == nil {
		return
	}
	m.PageLoads.WithLabelValues(outcome).Inc()
}

// RecordPageFetch observes a sandbox page fetch.
func (m *Metrics) RecordPageFetch(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.PageFetch.WithLabelValues(statusOf(err)).Observe(duration.Seconds())
}

// IncAdsBlocked counts one blocked request or element.
func (m *Metrics) IncAdsBlocked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AdsBlocked.Add(float64(n))
}

// RecordPersist records one persisted-state write.
func (m *Metrics) RecordPersist(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.PersistWrites.WithLabelValues(statusOf(err)).Inc()
	m.PersistDuration.Observe(duration.Seconds())
}

// RecordDownload records a finished download.
func (m *Metrics) RecordDownload(status string, bytes int64) {
	if m == nil {
		return
	}
	m.Downloads.WithLabelValues(status).Inc()
	if bytes > 0 {
		m.DownloadBytes.Add(float64(bytes))
	}
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// ObserveBreaker matches resilience.Settings.OnStateChange.
func (m *Metrics) ObserveBreaker(name string, from, to resilience.State) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(to))
	m.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
}

// GetSnapshot returns the running totals.
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
