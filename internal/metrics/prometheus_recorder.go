package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	attemptDuration *prom.HistogramVec
	buildDuration   *prom.HistogramVec
	buildOutcome    *prom.CounterVec
	strategyTries   *prom.CounterVec
	retryExhausted  *prom.CounterVec
	activeJobs      prom.Gauge
	queueDepth      prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.attemptDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "nabla_runner",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of individual build attempts",
			Buckets:   prom.DefBuckets,
		}, []string{"build_system"})
		pr.buildDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "nabla_runner",
			Name:      "build_duration_seconds",
			Help:      "Total build duration across all attempts",
			Buckets:   prom.DefBuckets,
		}, []string{"build_system"})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "nabla_runner",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"})
		pr.strategyTries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "nabla_runner",
			Name:      "strategy_attempts_total",
			Help:      "Build attempts by strategy kind",
		}, []string{"kind"})
		pr.retryExhausted = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "nabla_runner",
			Name:      "retry_exhausted_total",
			Help:      "Builds whose strategy queue was exhausted",
		}, []string{"build_system"})
		pr.activeJobs = prom.NewGauge(prom.GaugeOpts{
			Namespace: "nabla_runner",
			Name:      "active_jobs",
			Help:      "Jobs currently running",
		})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "nabla_runner",
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker",
		})
		reg.MustRegister(pr.attemptDuration, pr.buildDuration, pr.buildOutcome,
			pr.strategyTries, pr.retryExhausted, pr.activeJobs, pr.queueDepth)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveAttemptDuration(system string, d time.Duration) {
	if p == nil || p.attemptDuration == nil {
		return
	}
	p.attemptDuration.WithLabelValues(system).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(system string, d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.WithLabelValues(system).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome OutcomeLabel) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncStrategyAttempt(kind string) {
	if p == nil || p.strategyTries == nil {
		return
	}
	p.strategyTries.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) IncRetryExhausted(system string) {
	if p == nil || p.retryExhausted == nil {
		return
	}
	p.retryExhausted.WithLabelValues(system).Inc()
}

func (p *PrometheusRecorder) SetActiveJobs(n int) {
	if p == nil || p.activeJobs == nil {
		return
	}
	p.activeJobs.Set(float64(n))
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

// HTTPHandler returns an http.Handler serving Prometheus metrics for
// the provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
