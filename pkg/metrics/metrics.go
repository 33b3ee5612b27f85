// Package metrics holds the Prometheus instruments of the wallet service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "custodial_wallet"

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	authAttemptsTotal   *prometheus.CounterVec
	ledgerOpsTotal      *prometheus.CounterVec
	ledgerAmountTotal   *prometheus.CounterVec
	webhooksTotal       *prometheus.CounterVec
	gatewayCallDuration *prometheus.HistogramVec
	apiKeysIssuedTotal  *prometheus.CounterVec
}

// New builds the instruments on a private registry, alongside the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by route, method and status.",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route and method.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		authAttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "attempts_total",
				Help:      "Authentication attempts by credential kind and result.",
			},
			[]string{"kind", "result"},
		),
		ledgerOpsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations by kind and result.",
			},
			[]string{"op", "result"},
		),
		ledgerAmountTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "amount_minor_total",
				Help:      "Sum of settled amounts in minor units by kind.",
			},
			[]string{"op"},
		),
		webhooksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Inbound payment webhooks by outcome.",
			},
			[]string{"outcome"},
		),
		gatewayCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "call_duration_seconds",
				Help:      "Outbound payment gateway call latency by result.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"result"},
		),
		apiKeysIssuedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "apikeys",
				Name:      "issued_total",
				Help:      "API keys issued by origin (create or rollover).",
			},
			[]string{"origin"},
		),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequestsTotal.WithLabelValues(route, method, statusClass(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAuth(kind string, err error) {
	if m == nil {
		return
	}
	m.authAttemptsTotal.WithLabelValues(kind, result(err)).Inc()
}

// ObserveLedger records one ledger operation; amount is only added on success.
func (m *Metrics) ObserveLedger(op string, amount int64, err error) {
	if m == nil {
		return
	}
	m.ledgerOpsTotal.WithLabelValues(op, result(err)).Inc()
	if err == nil && amount > 0 {
		m.ledgerAmountTotal.WithLabelValues(op).Add(float64(amount))
	}
}

func (m *Metrics) ObserveWebhook(outcome string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGatewayCall(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.gatewayCallDuration.WithLabelValues(result(err)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveKeyIssued(origin string) {
	if m == nil {
		return
	}
	m.apiKeysIssuedTotal.WithLabelValues(origin).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
