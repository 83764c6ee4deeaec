// Package metrics exposes Prometheus instrumentation for the signing
// service: request outcomes by error code, signing latency, worker
// recovery results and a per-status gauge of the pool.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/use-agent/xsign/models"
)

// Token lookup outcomes for RecordTokenLookup.
const (
	TokenCacheHit  = "cache_hit"
	TokenExtracted = "extracted"
	TokenFailed    = "failed"
)

// Metrics holds the registered collectors.
type Metrics struct {
	signRequests *prometheus.CounterVec
	signErrors   *prometheus.CounterVec
	signDuration prometheus.Histogram
	recoveries   *prometheus.CounterVec
	workers      *prometheus.GaugeVec
	tokenLookups *prometheus.CounterVec
}

// New creates the collectors and registers them with the default
// registry. Call once per process.
func New() *Metrics {
	return newWith(prometheus.DefaultRegisterer)
}

func newWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		signRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xsign_sign_requests_total",
				Help: "Signing requests by result",
			},
			[]string{"result"},
		),
		signErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xsign_sign_errors_total",
				Help: "Signing failures by error code",
			},
			[]string{"code"},
		),
		signDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "xsign_sign_duration_seconds",
				Help:    "End-to-end signing latency",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		recoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xsign_worker_recoveries_total",
				Help: "Worker recovery attempts by result",
			},
			[]string{"result"},
		),
		workers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "xsign_pool_workers",
				Help: "Workers in the pool by status",
			},
			[]string{"status"},
		),
		tokenLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xsign_token_lookups_total",
				Help: "xsec_token lookups by outcome",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(m.signRequests)
	reg.MustRegister(m.signErrors)
	reg.MustRegister(m.signDuration)
	reg.MustRegister(m.recoveries)
	reg.MustRegister(m.workers)
	reg.MustRegister(m.tokenLookups)

	return m
}

// ObserveSign records one signing request. A nil err counts as success;
// otherwise the error code is tracked so failure modes stay visible.
func (m *Metrics) ObserveSign(err error, d time.Duration) {
	if err == nil {
		m.signRequests.WithLabelValues("success").Inc()
	} else {
		m.signRequests.WithLabelValues("error").Inc()
		m.signErrors.WithLabelValues(models.CodeOf(err)).Inc()
	}
	m.signDuration.Observe(d.Seconds())
}

// RecordRecovery counts a finished worker recovery attempt.
func (m *Metrics) RecordRecovery(err error) {
	if err == nil {
		m.recoveries.WithLabelValues("recovered").Inc()
	} else {
		m.recoveries.WithLabelValues("failed").Inc()
	}
}

// RecordTokenLookup counts an xsec_token lookup outcome.
func (m *Metrics) RecordTokenLookup(outcome string) {
	m.tokenLookups.WithLabelValues(outcome).Inc()
}

// SetWorkers publishes the current per-status worker counts. Callers
// should include zero entries for statuses with no workers so stale
// gauge values are overwritten.
func (m *Metrics) SetWorkers(counts map[string]int) {
	for status, n := range counts {
		m.workers.WithLabelValues(status).Set(float64(n))
	}
}

// WatchPool polls snapshot on the given interval and publishes the
// counts until done is closed.
func (m *Metrics) WatchPool(done <-chan struct{}, interval time.Duration, snapshot func() map[string]int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.SetWorkers(snapshot())
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.SetWorkers(snapshot())
		}
	}
}

// Handler serves the default registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
