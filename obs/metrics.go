package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	AdmitTotal     *prometheus.CounterVec // result=ADMITTED|SOLD_OUT|DUPLICATE_ORDER|NOT_STARTED|ENDED|error
	OutcomeTotal   *prometheus.CounterVec // outcome=persisted|replayed|duplicate|sold_out
	RecoveryTotal  *prometheus.CounterVec // result=drained|retry
	MalformedTotal prometheus.Counter

	LockTotal *prometheus.CounterVec // op=acquire|release, result=success|busy|fail

	CacheLookupTotal  *prometheus.CounterVec // strategy, result=hit|miss|null|stale
	CacheRebuildTotal *prometheus.CounterVec // result=ok|fail|rejected

	SinkErrorTotal *prometheus.CounterVec // sink

	OpLatencyMS *prometheus.HistogramVec // op=admit|handle
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AdmitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seckill_admit_total",
				Help: "Admission attempts by result",
			},
			[]string{"result"},
		),
		OutcomeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seckill_order_outcome_total",
				Help: "Settled tickets by outcome",
			},
			[]string{"outcome"},
		),
		RecoveryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seckill_recovery_total",
				Help: "Pending entry recovery passes by result",
			},
			[]string{"result"},
		),
		MalformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seckill_malformed_ticket_total",
			Help: "Stream entries that could not be decoded and were discarded",
		}),
		LockTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seckill_lock_total",
				Help: "Distributed lock operations by result",
			},
			[]string{"op", "result"},
		),
		CacheLookupTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seckill_cache_lookup_total",
				Help: "Cache lookups by strategy and result",
			},
			[]string{"strategy", "result"},
		),
		CacheRebuildTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seckill_cache_rebuild_total",
				Help: "Logical expiry rebuilds by result",
			},
			[]string{"result"},
		),
		SinkErrorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seckill_sink_error_total",
				Help: "Settlement sink failures",
			},
			[]string{"sink"},
		),
		OpLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seckill_op_latency_ms",
				Help:    "Latency of pipeline operations (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms .. ~2048ms
			},
			[]string{"op"},
		),
	}

	m.registry.MustRegister(
		m.AdmitTotal,
		m.OutcomeTotal,
		m.RecoveryTotal,
		m.MalformedTotal,
		m.LockTotal,
		m.CacheLookupTotal,
		m.CacheRebuildTotal,
		m.SinkErrorTotal,
		m.OpLatencyMS,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Admit(result string) {
	if m == nil {
		return
	}
	m.AdmitTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.OutcomeTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Recovery(result string) {
	if m == nil {
		return
	}
	m.RecoveryTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.MalformedTotal.Inc()
}

func (m *Metrics) Lock(op, result string) {
	if m == nil {
		return
	}
	m.LockTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) CacheLookup(strategy, result string) {
	if m == nil {
		return
	}
	m.CacheLookupTotal.WithLabelValues(strategy, result).Inc()
}

func (m *Metrics) CacheRebuild(result string) {
	if m == nil {
		return
	}
	m.CacheRebuildTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrorTotal.WithLabelValues(sink).Inc()
}

func (m *Metrics) ObserveMS(op string, ms float64) {
	if m == nil {
		return
	}
	m.OpLatencyMS.WithLabelValues(op).Observe(ms)
}
