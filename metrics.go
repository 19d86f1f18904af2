package rpcrelay

import (
	"net/http"

	"github.com/bloXroute-Labs/rpcrelay/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v2"
)

const metricsNamespace = "rpcrelay"

// Metrics are process-lifetime usage counters. They are observational and
// are not used for billing.
type Metrics struct {
	registry *prometheus.Registry

	relayRequests  prometheus.Counter
	relaySuccess   prometheus.Counter
	cyclesCharged  prometheus.Counter
	cyclesRefunded prometheus.Counter
	cyclesWaived   prometheus.Counter
	relayErrors    *prometheus.CounterVec
	hostRequests   *prometheus.CounterVec
	relayDuration  prometheus.Histogram
	providers      prometheus.Gauge
	stableBytes    prometheus.Gauge

	hosts *xsync.MapOf[string, *xsync.Counter]
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		relayRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "relay_requests_total",
			Help:      "Relay attempts, accepted or not.",
		}),
		relaySuccess: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "relay_success_total",
			Help:      "Relays that returned an upstream response.",
		}),
		cyclesCharged: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_charged_total",
			Help:      "Cycles accepted from callers.",
		}),
		cyclesRefunded: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_refunded_total",
			Help:      "Offered cycles returned to callers.",
		}),
		cyclesWaived: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_waived_total",
			Help:      "Fees not charged because the caller relays for free.",
		}),
		relayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "relay_errors_total",
			Help:      "Failed relays by failure kind.",
		}, []string{"kind"}),
		hostRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "host_requests_total",
			Help:      "Successful relays by upstream host.",
		}, []string{"host"}),
		relayDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "relay_duration_seconds",
			Help:      "Time spent in the forwarded call.",
			Buckets:   prometheus.DefBuckets,
		}),
		providers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "providers",
			Help:      "Registered providers.",
		}),
		stableBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "stable_memory_bytes",
			Help:      "Size of the raw stable storage region.",
		}),
		hosts: xsync.NewMapOf[*xsync.Counter](),
	}
}

func (m *Metrics) RelayRequested() { m.relayRequests.Inc() }

func (m *Metrics) RelaySucceeded(host string) {
	m.relaySuccess.Inc()
	m.hostRequests.WithLabelValues(host).Inc()
	c, _ := m.hosts.LoadOrCompute(host, xsync.NewCounter)
	c.Inc()
}

func (m *Metrics) RelayFailed(kind ErrorKind) {
	m.relayErrors.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) Charged(v *uint256.Int) { m.cyclesCharged.Add(common.CyclesToFloat(v)) }
func (m *Metrics) Refunded(v *uint256.Int) { m.cyclesRefunded.Add(common.CyclesToFloat(v)) }
func (m *Metrics) Waived(v *uint256.Int) { m.cyclesWaived.Add(common.CyclesToFloat(v)) }

func (m *Metrics) ObserveForward(seconds float64) { m.relayDuration.Observe(seconds) }

func (m *Metrics) SetProviders(n int) { m.providers.Set(float64(n)) }
func (m *Metrics) SetStableBytes(n uint64) { m.stableBytes.Set(float64(n)) }
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// HostCounts is a snapshot of successful relays per upstream host.
func (m *Metrics) HostCounts() map[string]int64 {
	out := make(map[string]int64)
	m.hosts.Range(func(host string, c *xsync.Counter) bool {
		out[host] = c.Value()
		return true
	})
	return out
}

// Handler renders the registry in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
