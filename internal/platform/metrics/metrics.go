package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the playback session.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	modeFlipsTotal       prometheus.Counter
	attachAttemptsTotal  prometheus.Counter
	attachFailuresTotal  prometheus.Counter
	detachesTotal        prometheus.Counter
	recoveriesTotal      *prometheus.CounterVec
	playerFailuresTotal  prometheus.Counter
	playbackMode         prometheus.Gauge
	consecutiveErrors    prometheus.Gauge
	framesRenderedTotal  prometheus.Counter
	renderedBytesTotal   prometheus.Counter
	heartbeatsTotal      prometheus.Counter
	heartbeatFailsTotal  prometheus.Counter
}

// New creates and registers Prometheus metrics for the playback session.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_control_requests_total",
		Help: "Total number of control API requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_control_errors_total",
		Help: "Total number of control API responses with error status (4xx or 5xx)",
	})
	modeFlipsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_mode_flips_total",
		Help: "Total number of live/historical mode transitions",
	})
	attachAttemptsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_consumer_attach_attempts_total",
		Help: "Total number of consumer attach negotiations started",
	})
	attachFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_consumer_attach_failures_total",
		Help: "Total number of consumer attach negotiations that failed",
	})
	detachesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_consumer_detaches_total",
		Help: "Total number of consumer detach operations issued",
	})
	recoveriesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_segment_recoveries_total",
		Help: "Total number of segment player recovery actions, by fault kind",
	}, []string{"fault"})
	playerFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_segment_failures_total",
		Help: "Total number of segment player terminal failures",
	})
	playbackMode := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playback_mode",
		Help: "Current playback mode (1 = live, 0 = historical)",
	})
	consecutiveErrors := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playback_segment_consecutive_errors",
		Help: "Current consecutive segment feed error count",
	})
	framesRenderedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_frames_rendered_total",
		Help: "Total number of frames written to the render surface",
	})
	renderedBytesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_rendered_bytes_total",
		Help: "Total payload bytes written to the render surface",
	})
	heartbeatsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_consumer_heartbeats_total",
		Help: "Total number of consumer heartbeats sent",
	})
	heartbeatFailsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_consumer_heartbeat_failures_total",
		Help: "Total number of consumer heartbeats that failed",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		modeFlipsTotal,
		attachAttemptsTotal,
		attachFailuresTotal,
		detachesTotal,
		recoveriesTotal,
		playerFailuresTotal,
		playbackMode,
		consecutiveErrors,
		framesRenderedTotal,
		renderedBytesTotal,
		heartbeatsTotal,
		heartbeatFailsTotal,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		errorsTotal:         errorsTotal,
		modeFlipsTotal:      modeFlipsTotal,
		attachAttemptsTotal: attachAttemptsTotal,
		attachFailuresTotal: attachFailuresTotal,
		detachesTotal:       detachesTotal,
		recoveriesTotal:     recoveriesTotal,
		playerFailuresTotal: playerFailuresTotal,
		playbackMode:        playbackMode,
		consecutiveErrors:   consecutiveErrors,
		framesRenderedTotal: framesRenderedTotal,
		renderedBytesTotal:  renderedBytesTotal,
		heartbeatsTotal:     heartbeatsTotal,
		heartbeatFailsTotal: heartbeatFailsTotal,
	}
}

// IncRequests increments the control API request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the control API error counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncModeFlips increments the mode transition counter.
func (m *Metrics) IncModeFlips() {
	m.modeFlipsTotal.Inc()
}

// IncAttachAttempts increments the attach negotiation counter.
func (m *Metrics) IncAttachAttempts() {
	m.attachAttemptsTotal.Inc()
}

// IncAttachFailures increments the failed attach negotiation counter.
func (m *Metrics) IncAttachFailures() {
	m.attachFailuresTotal.Inc()
}

// IncDetaches increments the detach counter.
func (m *Metrics) IncDetaches() {
	m.detachesTotal.Inc()
}

// IncRecoveries increments the recovery counter for the given fault kind.
func (m *Metrics) IncRecoveries(fault string) {
	m.recoveriesTotal.WithLabelValues(fault).Inc()
}

// IncPlayerFailures increments the terminal player failure counter.
func (m *Metrics) IncPlayerFailures() {
	m.playerFailuresTotal.Inc()
}

// SetLiveMode records the current playback mode.
func (m *Metrics) SetLiveMode(live bool) {
	if live {
		m.playbackMode.Set(1)
	} else {
		m.playbackMode.Set(0)
	}
}

// SetConsecutiveErrors records the current consecutive error count.
func (m *Metrics) SetConsecutiveErrors(n int) {
	m.consecutiveErrors.Set(float64(n))
}

// AddFrame records one rendered frame of the given payload size.
func (m *Metrics) AddFrame(bytes int) {
	m.framesRenderedTotal.Inc()
	m.renderedBytesTotal.Add(float64(bytes))
}

// IncHeartbeats increments the heartbeat counter.
func (m *Metrics) IncHeartbeats() {
	m.heartbeatsTotal.Inc()
}

// IncHeartbeatFailures increments the failed heartbeat counter.
func (m *Metrics) IncHeartbeatFailures() {
	m.heartbeatFailsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. current playback mode).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
