package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fin"

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type chainMetrics struct {
	transactions *prometheus.CounterVec
	applyLatency *prometheus.HistogramVec
	height       prometheus.Gauge
	custody      *prometheus.GaugeVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	chainMetricsOnce sync.Once
	chainRegistry    *chainMetrics
)

func label(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

// RPC returns the lazily-initialised registry recording JSON-RPC activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by namespace, method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by namespace, method and error kind.",
			}, []string{"module", "method", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by rate limiting or authentication.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records one JSON-RPC call. errKind is empty on success.
func (m *rpcMetrics) Observe(method, errKind string, duration time.Duration) {
	if m == nil {
		return
	}
	method = label(method, "unknown")
	module := method
	if prefix, _, ok := strings.Cut(method, "_"); ok {
		module = prefix
	}
	outcome := "success"
	if errKind != "" {
		outcome = "error"
		m.errors.WithLabelValues(module, method, errKind).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request. Reasons are stable strings such
// as "rate_limit" or "unauthorized".
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(label(reason, "unspecified")).Inc()
}

// Chain returns the registry tracking transaction execution.
func Chain() *chainMetrics {
	chainMetricsOnce.Do(func() {
		chainRegistry = &chainMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "chain",
				Name:      "transactions_total",
				Help:      "Applied transactions segmented by contract, method and receipt status.",
			}, []string{"contract", "method", "status"}),
			applyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "chain",
				Name:      "apply_duration_seconds",
				Help:      "Time spent executing and sealing a transaction.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"contract"}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "chain",
				Name:      "block_height",
				Help:      "Height of the last sealed block.",
			}),
			custody: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "escrow",
				Name:      "custody_units",
				Help:      "Token balance held by a contract in whole units.",
			}, []string{"contract"}),
		}
		prometheus.MustRegister(
			chainRegistry.transactions,
			chainRegistry.applyLatency,
			chainRegistry.height,
			chainRegistry.custody,
		)
	})
	return chainRegistry
}

// ObserveTransaction records one sealed transaction.
func (m *chainMetrics) ObserveTransaction(contract, method string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	contract = label(contract, "unknown")
	status := "success"
	if !success {
		status = "failed"
	}
	m.transactions.WithLabelValues(contract, label(method, "transfer"), status).Inc()
	m.applyLatency.WithLabelValues(contract).Observe(duration.Seconds())
}

func (m *chainMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

// SetCustody publishes the balance a contract holds, given in base units
// with the supplied number of decimals.
func (m *chainMetrics) SetCustody(contract string, amount *big.Int, decimals uint8) {
	if m == nil || amount == nil {
		return
	}
	value, _ := new(big.Float).Quo(
		new(big.Float).SetInt(amount),
		new(big.Float).SetFloat64(math.Pow10(int(decimals))),
	).Float64()
	m.custody.WithLabelValues(label(contract, "unknown")).Set(value)
}
