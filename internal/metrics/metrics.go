// Package metrics 远程执行相关的 Prometheus 指标。所有方法对 nil 接收者安全。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Attempts  *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	Retries   *prometheus.CounterVec
	Reconcile *prometheus.CounterVec
	LockWait  prometheus.Histogram
}

// New 创建并注册指标；reg 为 nil 时不注册(测试用)。
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vmctl",
			Name:      "remote_exec_attempts_total",
			Help:      "Remote execution attempts by action and outcome.",
		}, []string{"action", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vmctl",
			Name:      "remote_exec_duration_seconds",
			Help:      "Wall time of remote execution attempts.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"action"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vmctl",
			Name:      "operation_retries_total",
			Help:      "Retried start/stop attempts.",
		}, []string{"action"}),
		Reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vmctl",
			Name:      "reconciliations_total",
			Help:      "Post-command state reconciliation results.",
		}, []string{"action", "result"}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vmctl",
			Name:      "path_lock_wait_seconds",
			Help:      "Time spent waiting for the per-definition-path lock.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Attempts, m.Duration, m.Retries, m.Reconcile, m.LockWait)
	}
	return m
}

func (m *Metrics) ObserveAttempt(action, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(action, outcome).Inc()
	m.Duration.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) IncRetry(action string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(action).Inc()
}

func (m *Metrics) IncReconcile(action string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "mismatch"
	}
	m.Reconcile.WithLabelValues(action, result).Inc()
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.Observe(d.Seconds())
}

// Handler 暴露 /metrics
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RegisterMetrics 在 mux 上挂载 /metrics
func RegisterMetrics(mux *http.ServeMux, g prometheus.Gatherer) {
	mux.Handle("/metrics", Handler(g))
}
