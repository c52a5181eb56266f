package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "warmstart"

// Registry holds all application metrics.
// A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	// Lifecycle metrics
	CheckpointsTotal   *prometheus.CounterVec
	RestoresTotal      *prometheus.CounterVec
	RecoveriesTotal    prometheus.Counter
	CheckpointDuration prometheus.Histogram
	RestoreDuration    prometheus.Histogram

	// Hook metrics
	HookFailuresTotal *prometheus.CounterVec

	// Reconciliation metrics
	ConfigChangesTotal     prometheus.Counter
	DeadlinesAdjustedTotal prometheus.Counter
}

// NewRegistry creates a registry with every warmstart metric and the Go
// runtime/process collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		CheckpointsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "attempts_total",
			Help:      "Checkpoint attempts by outcome kind.",
		}, []string{"kind"}),
		RestoresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "restore",
			Name:      "attempts_total",
			Help:      "Restore attempts by outcome kind.",
		}, []string{"kind"}),
		RecoveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "restore",
			Name:      "recoveries_total",
			Help:      "Cold boots performed after a failed restore.",
		}),
		CheckpointDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "duration_seconds",
			Help:      "Time from checkpoint request to image written.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		RestoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "restore",
			Name:      "duration_seconds",
			Help:      "Time from restore request to running.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		HookFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hook",
			Name:      "failures_total",
			Help:      "Lifecycle hook failures by timing and layer.",
		}, []string{"timing", "layer"}),
		ConfigChangesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "changes_total",
			Help:      "Configuration values that changed across a restore.",
		}),
		DeadlinesAdjustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "deadlines_adjusted_total",
			Help:      "Timers re-armed after a restore.",
		}),
	}

	r.reg.MustRegister(
		r.CheckpointsTotal,
		r.RestoresTotal,
		r.RecoveriesTotal,
		r.CheckpointDuration,
		r.RestoreDuration,
		r.HookFailuresTotal,
		r.ConfigChangesTotal,
		r.DeadlinesAdjustedTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Prometheus returns the underlying registry so other components can
// register their own collectors.
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// MustRegister registers additional collectors.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	if r == nil {
		return
	}
	r.reg.MustRegister(cs...)
}

// ObserveCheckpoint records a finished checkpoint attempt.
func (r *Registry) ObserveCheckpoint(kind string, d time.Duration) {
	if r == nil {
		return
	}
	r.CheckpointsTotal.WithLabelValues(kind).Inc()
	r.CheckpointDuration.Observe(d.Seconds())
}

// ObserveRestore records a finished restore attempt.
func (r *Registry) ObserveRestore(kind string, d time.Duration) {
	if r == nil {
		return
	}
	r.RestoresTotal.WithLabelValues(kind).Inc()
	r.RestoreDuration.Observe(d.Seconds())
}

// IncRecovery records a recovery cold boot.
func (r *Registry) IncRecovery() {
	if r == nil {
		return
	}
	r.RecoveriesTotal.Inc()
}

// IncHookFailure records a failed hook.
func (r *Registry) IncHookFailure(timing, layer string) {
	if r == nil {
		return
	}
	r.HookFailuresTotal.WithLabelValues(timing, layer).Inc()
}

// AddConfigChanges records reconciled value changes.
func (r *Registry) AddConfigChanges(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.ConfigChangesTotal.Add(float64(n))
}

// AddDeadlinesAdjusted records re-armed timers.
func (r *Registry) AddDeadlinesAdjusted(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.DeadlinesAdjustedTotal.Add(float64(n))
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
