// Package metrics exports dispatch-loop counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/fixkme/plua/errs"
	g "github.com/fixkme/plua/framework/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "plua"

// Metrics owns a private registry so several runtimes (and tests) can
// live in one process.
type Metrics struct {
	reg *prometheus.Registry

	dispatched *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rejected   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dispatched_total",
				Help:      "Events handed to the script engine.",
			},
			[]string{"kind"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "callback_failures_total",
				Help:      "Dispatched events whose script invocation failed.",
			},
			[]string{"kind"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Time spent inside the script engine per event.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_rejected_total",
				Help:      "Submissions refused by the callback queue.",
			},
			[]string{"reason"},
		),
	}
	m.reg.MustRegister(
		m.dispatched, m.failures, m.duration, m.rejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Dispatched implements g.Observer.
func (m *Metrics) Dispatched(ev g.Event, elapsed time.Duration, err error) {
	kind := ev.Kind.String()
	m.dispatched.WithLabelValues(kind).Inc()
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if err != nil {
		m.failures.WithLabelValues(kind).Inc()
	}
}

// Rejected counts a failed submit by its error code.
func (m *Metrics) Rejected(err error) {
	if err == nil {
		return
	}
	m.rejected.WithLabelValues(reason(err)).Inc()
}

func reason(err error) string {
	switch errs.CodeOf(err) {
	case errs.ErrCode_SubmitAfterShutdown:
		return "shutdown"
	case errs.ErrCode_QueueFull:
		return "queue_full"
	}
	return "other"
}

// WatchTimers publishes the live timer count read from fn at scrape time.
func (m *Metrics) WatchTimers(fn func() int) {
	m.gauge("live_timers", "Timers waiting to expire.", fn)
}

// WatchQueue publishes the callback queue depth read from fn at scrape time.
func (m *Metrics) WatchQueue(fn func() int) {
	m.gauge("queue_depth", "Events waiting in the callback queue.", fn)
}

func (m *Metrics) gauge(name, help string, fn func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(fn()) },
	))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
