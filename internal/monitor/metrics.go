package monitor

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"session-core/internal/gateway"
)

// Metrics holds the session core's Prometheus collectors on a private registry.
//
//	session_orders_total{session,result}    orders sent (result: filled|failed|skipped)
//	session_reconciliations_total{result}   reconciliation passes (ok|error)
//	session_loop_errors_total{kind}         loop iteration failures (upstream|internal|panic)
//	orphan_positions_total                  orphaned broker positions found at recovery
//	sessions_running                        sessions in RUNNING
//	session_equity{session}                 last reconciled equity
//	broker_call_seconds{op}                 broker call latency
//	gateway_pool_clients / _unhealthy       broker client pool size
//	http_requests_total{method,status}      API requests served
//	http_request_seconds{method}            API latency
type Metrics struct {
	registry *prometheus.Registry

	orders          *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	loopErrors      *prometheus.CounterVec
	brokerErrors    *prometheus.CounterVec
	orphans         prometheus.Counter
	running         prometheus.Gauge
	equity          *prometheus.GaugeVec
	brokerLatency   *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

// NewMetrics registers every collector. pool may be nil.
func NewMetrics(pool *gateway.Manager) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "session_orders_total", Help: "Orders sent by sessions"},
			[]string{"session", "result"},
		),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "session_reconciliations_total", Help: "Reconciliation passes"},
			[]string{"result"},
		),
		loopErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "session_loop_errors_total", Help: "Trading loop iteration failures"},
			[]string{"kind"},
		),
		brokerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "broker_call_errors_total", Help: "Failed broker calls"},
			[]string{"op"},
		),
		orphans: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "orphan_positions_total", Help: "Orphaned broker positions detected"},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "sessions_running", Help: "Sessions currently RUNNING"},
		),
		equity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "session_equity", Help: "Last reconciled account equity per session"},
			[]string{"session"},
		),
		brokerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "broker_call_seconds",
				Help:    "Broker call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "API requests served"},
			[]string{"method", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_seconds",
				Help:    "API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
	m.registry.MustRegister(
		m.orders, m.reconciliations, m.loopErrors, m.brokerErrors,
		m.orphans, m.running, m.equity, m.brokerLatency,
		m.httpRequests, m.httpLatency,
		prometheus.NewGoCollector(),
	)
	if pool != nil {
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{Name: "gateway_pool_clients", Help: "Pooled broker clients"},
				func() float64 { return float64(pool.Stats().TotalGateways) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{Name: "gateway_pool_unhealthy", Help: "Broker clients with an open circuit"},
				func() float64 { return float64(pool.Stats().UnhealthyCount) },
			),
		)
	}
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Order counts one order outcome.
func (m *Metrics) Order(sessionID, result string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(sessionID, result).Inc()
}

// Reconciled counts one reconciliation pass.
func (m *Metrics) Reconciled(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reconciliations.WithLabelValues(result).Inc()
}

// LoopError counts a failed loop iteration by kind.
func (m *Metrics) LoopError(kind string) {
	if m == nil {
		return
	}
	m.loopErrors.WithLabelValues(kind).Inc()
}

// Orphans adds n detected orphan positions.
func (m *Metrics) Orphans(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orphans.Add(float64(n))
}

// SetRunning sets the RUNNING session gauge.
func (m *Metrics) SetRunning(n int) {
	if m == nil {
		return
	}
	m.running.Set(float64(n))
}

// SetEquity records a session's reconciled equity.
func (m *Metrics) SetEquity(sessionID string, v float64) {
	if m == nil {
		return
	}
	m.equity.WithLabelValues(sessionID).Set(v)
}

// ForgetSession drops a deleted session's labelled series.
func (m *Metrics) ForgetSession(sessionID string) {
	if m == nil {
		return
	}
	m.equity.DeleteLabelValues(sessionID)
	m.orders.DeletePartialMatch(prometheus.Labels{"session": sessionID})
}

// ObserveBroker records one broker call; its signature matches oanda.Observer.
// Context cancellations are not counted as failures.
func (m *Metrics) ObserveBroker(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.brokerLatency.WithLabelValues(op).Observe(d.Seconds())
	if err != nil && !errors.Is(err, context.Canceled) {
		m.brokerErrors.WithLabelValues(op).Inc()
	}
}

// ObserveHTTP records one served API request.
func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method).Observe(d.Seconds())
}
