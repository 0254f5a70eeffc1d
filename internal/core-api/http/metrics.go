package httpapi

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics agrupa os coletores do core-api; registrados no Registerer recebido
type Metrics struct {
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	decisions  *prometheus.CounterVec
	upsertRows *prometheus.CounterVec
	betWrites  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total", Help: "requests HTTP por rota e status",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "latência dos requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_decisions_total", Help: "decisões do rate limit (allowed|limited|error)",
		}, []string{"bucket", "scope", "outcome"}),
		upsertRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upsert_rows_total", Help: "linhas gravadas por upsert em lote",
		}, []string{"entity", "result"}),
		betWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bets_writes_total", Help: "gravações de bets (created|replayed)",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.requests, m.duration, m.decisions, m.upsertRows, m.betWrites)
	return m
}

func (m *Metrics) observeRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RateLimitDecision tem a assinatura de ratelimit.Gate.OnDecision
func (m *Metrics) RateLimitDecision(bucket, scope, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(bucket, scope, outcome).Inc()
}

func (m *Metrics) upserted(entity string, inserted, updated int) {
	if m == nil {
		return
	}
	m.upsertRows.WithLabelValues(entity, "inserted").Add(float64(inserted))
	m.upsertRows.WithLabelValues(entity, "updated").Add(float64(updated))
}

func (m *Metrics) betWritten(created bool) {
	if m == nil {
		return
	}
	outcome := "replayed"
	if created {
		outcome = "created"
	}
	m.betWrites.WithLabelValues(outcome).Inc()
}
