package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crowdcoin/internal/contract"
)

// Metrics is the process metrics registry. It doubles as the contract call
// observer.
type Metrics struct {
	registry          *prometheus.Registry
	contractCalls     *prometheus.CounterVec
	contractLatency   *prometheus.HistogramVec
	httpRequestsTotal *prometheus.CounterVec
}

var _ contract.Observer = (*Metrics)(nil)

func NewMetrics() *Metrics {
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdcoin_contract_calls_total",
		Help: "Contract calls and transactions by outcome",
	}, []string{"contract", "method", "kind", "result"})

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crowdcoin_contract_call_seconds",
		Help:    "Latency of contract calls, including time to mine for sends",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
	}, []string{"kind"})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdcoin_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})

	r := prometheus.NewRegistry()
	r.MustRegister(calls, latency, requests)

	return &Metrics{
		registry:          r,
		contractCalls:     calls,
		contractLatency:   latency,
		httpRequestsTotal: requests,
	}
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCall records one node round trip.
func (m *Metrics) ObserveCall(contractName, method, kind string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
		if k := contract.KindOf(err); k != "" {
			result = string(k)
		}
	}
	m.contractCalls.WithLabelValues(contractName, method, kind, result).Inc()
	m.contractLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) incRequest(route string, code int) {
	m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// trackSessions exposes the live session count. Only the first call wins.
func (m *Metrics) trackSessions(count func() int) {
	_ = m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "crowdcoin_active_sessions",
		Help: "Number of live browser sessions",
	}, func() float64 { return float64(count()) }))
}
