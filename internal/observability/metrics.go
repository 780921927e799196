package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "edgerpc"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Dispatched calls by object type, method and outcome.",
		},
		[]string{"type", "method", "outcome"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Dispatched call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type", "method"},
	)
	rpcInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_in_flight",
			Help:      "Calls currently running.",
		},
	)
	connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections",
			Help:      "Open connections by transport.",
		},
		[]string{"transport"},
	)
	connectionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_rejected_total",
			Help:      "Connections refused before serving.",
		},
		[]string{"transport", "reason"},
	)
	envelopesThrottled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "envelopes_throttled_total",
			Help:      "Inbound envelopes delayed by the per-connection limiter.",
		},
		[]string{"transport"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			rpcCalls, rpcDuration, rpcInFlight,
			connections, connectionsRejected, envelopesThrottled,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordCall counts one finished call. outcome is "ok" or the error's wire name.
func RecordCall(typ, method, outcome string, duration time.Duration) {
	RegisterMetrics()
	rpcCalls.WithLabelValues(typ, method, outcome).Inc()
	rpcDuration.WithLabelValues(typ, method).Observe(duration.Seconds())
}

func ConnectionOpened(transport string) {
	RegisterMetrics()
	connections.WithLabelValues(transport).Inc()
}

func ConnectionClosed(transport string) {
	RegisterMetrics()
	connections.WithLabelValues(transport).Dec()
}

func RecordRejectedConnection(transport, reason string) {
	RegisterMetrics()
	connectionsRejected.WithLabelValues(transport, reason).Inc()
}

func RecordThrottled(transport string) {
	RegisterMetrics()
	envelopesThrottled.WithLabelValues(transport).Inc()
}
