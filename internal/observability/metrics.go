package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parley"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions  prometheus.Gauge
	sessionsStarted prometheus.Counter
	sessionsReaped  prometheus.Counter

	turnTotal       *prometheus.CounterVec
	turnDuration    *prometheus.HistogramVec
	streamFragments *prometheus.CounterVec

	gatewayConnections prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "queue_size",
					Help:      "Current queued turns by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "enqueue_total",
					Help:      "Total enqueue operations.",
				},
				[]string{"lane_kind"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "dequeue_total",
					Help:      "Total completed queue tasks by status.",
				},
				[]string{"lane_kind", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "task_duration_seconds",
					Help:      "Queue task execution duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"lane_kind"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_sessions",
					Help:      "Current number of live chat sessions.",
				},
			),
			sessionsStarted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "sessions_started_total",
					Help:      "Total chat sessions started.",
				},
			),
			sessionsReaped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "sessions_reaped_total",
					Help:      "Total chat sessions ended by the idle reaper.",
				},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "turn_total",
					Help:      "Total conversational turns by provider, mode and status.",
				},
				[]string{"provider", "mode", "status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "turn_duration_seconds",
					Help:      "Turn duration in seconds by provider and mode.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider", "mode"},
			),
			streamFragments: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "stream_fragments_total",
					Help:      "Total streamed text fragments forwarded by provider.",
				},
				[]string{"provider"},
			),
			gatewayConnections: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "gateway_connections",
					Help:      "Current open WebSocket connections.",
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.sessionsStarted,
			m.sessionsReaped,
			m.turnTotal,
			m.turnDuration,
			m.streamFragments,
			m.gatewayConnections,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// laneKind keeps per-session lanes from exploding label cardinality.
func laneKind(lane string) string {
	if len(lane) > 8 && lane[:8] == "session-" {
		return "session"
	}
	return lane
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(laneKind(lane)).Inc()
	m.queueSize.WithLabelValues(laneKind(lane)).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(laneKind(lane)).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(laneKind(lane), statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(laneKind(lane)).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(laneKind(lane)).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionStarted() {
	getMetrics().sessionsStarted.Inc()
}

func RecordSessionsReaped(count int) {
	getMetrics().sessionsReaped.Add(float64(count))
}

// RecordTurn records one finished turn. mode is "complete" or "stream".
func RecordTurn(provider, mode string, duration time.Duration, success bool) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(provider, mode, statusLabel(success)).Inc()
	m.turnDuration.WithLabelValues(provider, mode).Observe(duration.Seconds())
}

func RecordStreamFragment(provider string) {
	getMetrics().streamFragments.WithLabelValues(provider).Inc()
}

func SetGatewayConnections(count int) {
	getMetrics().gatewayConnections.Set(float64(count))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
