// Package metrics exposes Prometheus collectors for a counter session. Each
// Recorder owns its own registry so several sessions (or tests) never collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder groups the session collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	published        prometheus.Counter
	handoffFailures  prometheus.Counter
	currentValue     prometheus.Gauge
	commandsTotal    *prometheus.CounterVec
	lockoutsTotal    *prometheus.CounterVec
	watchdogExpiries prometheus.Counter
}

// New creates a Recorder with freshly registered collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "counter_published_total",
			Help: "Total number of snapshots applied by the presentation sink",
		}),
		handoffFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "counter_handoff_failures_total",
			Help: "Total number of publish hand-offs the sink failed to apply",
		}),
		currentValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "counter_value",
			Help: "Last value applied by the presentation sink",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counter_commands_total",
			Help: "Total number of external commands by name and result",
		}, []string{"command", "result"}),
		lockoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counter_lockouts_total",
			Help: "Total number of control lockouts by cause",
		}, []string{"cause"}),
		watchdogExpiries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "counter_watchdog_expiries_total",
			Help: "Total number of watchdog deadlines reached before an explicit stop",
		}),
	}
	r.registry.MustRegister(
		r.published,
		r.handoffFailures,
		r.currentValue,
		r.commandsTotal,
		r.lockoutsTotal,
		r.watchdogExpiries,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler returns an HTTP handler exposing the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Published records a snapshot applied by the sink.
func (r *Recorder) Published(value int64) {
	if r == nil {
		return
	}
	r.published.Inc()
	r.currentValue.Set(float64(value))
}

// HandoffFailed records a publish the sink did not apply.
func (r *Recorder) HandoffFailed() {
	if r == nil {
		return
	}
	r.handoffFailures.Inc()
}

// Command records an external command and whether it was accepted.
func (r *Recorder) Command(name string, accepted bool) {
	if r == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	r.commandsTotal.WithLabelValues(name, result).Inc()
}

// Lockout records a control lockout.
func (r *Recorder) Lockout(cause string) {
	if r == nil {
		return
	}
	r.lockoutsTotal.WithLabelValues(cause).Inc()
}

// WatchdogExpired records a watchdog deadline firing.
func (r *Recorder) WatchdogExpired() {
	if r == nil {
		return
	}
	r.watchdogExpiries.Inc()
}
