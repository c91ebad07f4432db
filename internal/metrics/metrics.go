// Package metrics exposes Prometheus collectors for the exchange transport,
// the detector, the transfer coordinator and the orchestrator.
package metrics

import (
	"net/http"
	"time"

	"cex-arbitrage-go/internal/apperror"
	"cex-arbitrage-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arbitrage"

// Metrics owns a private registry so tests can build several instances.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec

	detectorCycles        prometheus.Counter
	detectorDuration      prometheus.Histogram
	detectorOpportunities prometheus.Gauge
	detectorFailedSources prometheus.Gauge

	transfers        *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec

	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_requests_total",
			Help:      "Exchange REST calls by outcome.",
		}, []string{"exchange", "op", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_request_duration_seconds",
			Help:      "Exchange REST call latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"exchange", "op"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exchange_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"exchange"}),
		detectorCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_cycles_total",
			Help:      "Completed opportunity scans.",
		}),
		detectorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detector_cycle_duration_seconds",
			Help:      "Duration of one opportunity scan.",
			Buckets:   prometheus.DefBuckets,
		}),
		detectorOpportunities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "detector_opportunities",
			Help:      "Opportunities published by the last scan.",
		}),
		detectorFailedSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "detector_failed_sources",
			Help:      "Price sources that failed in the last scan.",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "On-chain transfers by network and outcome.",
		}, []string{"network", "outcome"}),
		transferDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Time from withdrawal to confirmed arrival.",
			Buckets:   []float64{30, 60, 120, 300, 480, 900, 1800},
		}, []string{"network"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Arbitrage executions by strategy, mode, status and error kind.",
		}, []string{"strategy", "mode", "status", "kind"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "End-to-end execution latency.",
			Buckets:   []float64{0.1, 1, 10, 60, 300, 900, 1800, 2700},
		}, []string{"strategy", "mode"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration, m.breakerState,
		m.detectorCycles, m.detectorDuration, m.detectorOpportunities, m.detectorFailedSources,
		m.transfers, m.transferDuration,
		m.executions, m.executionDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(exchange, op string, elapsed time.Duration, err error) {
	m.requests.WithLabelValues(exchange, op, outcome(err)).Inc()
	m.requestDuration.WithLabelValues(exchange, op).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveBreakerState(exchange string, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.breakerState.WithLabelValues(exchange).Set(v)
}

func (m *Metrics) ObserveDetectorCycle(elapsed time.Duration, opportunities int, failedSources int) {
	m.detectorCycles.Inc()
	m.detectorDuration.Observe(elapsed.Seconds())
	m.detectorOpportunities.Set(float64(opportunities))
	m.detectorFailedSources.Set(float64(failedSources))
}

func (m *Metrics) ObserveTransfer(network string, elapsed time.Duration, err error) {
	m.transfers.WithLabelValues(network, outcome(err)).Inc()
	if err == nil {
		m.transferDuration.WithLabelValues(network).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ObserveExecution(strategy string, mode models.Mode, status models.TradeStatus, kind string, elapsed time.Duration) {
	m.executions.WithLabelValues(strategy, string(mode), string(status), kind).Inc()
	m.executionDuration.WithLabelValues(strategy, string(mode)).Observe(elapsed.Seconds())
}

// outcome labels an error by its kind so cardinality stays bounded.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperror.KindOf(err))
}
