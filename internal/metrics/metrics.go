// Package metrics exposes the scheduler's Prometheus collectors.
//
// All recording methods are nil-safe so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "duesched"

type Metrics struct {
	eventsGenerated prometheus.Counter
	eventsExecuted  prometheus.Counter
	jobsAccumulated prometheus.Counter
	jobsRun         prometheus.Counter
	jobsFailed      prometheus.Counter
	executionLag    prometheus.Histogram
	batchSize       prometheus.Histogram
}

// New builds the collectors and registers them on reg (if non-nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_generated_total",
			Help: "Events created by the producer.",
		}),
		eventsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_executed_total",
			Help: "Due events executed and removed by the dispatcher.",
		}),
		jobsAccumulated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_accumulated_total",
			Help: "Jobs added to the pending batch while waiting for a due event.",
		}),
		jobsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_run_total",
			Help: "Job executions, successful or not.",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_failed_total",
			Help: "Job executions that returned an error or panicked.",
		}),
		executionLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "execution_lag_seconds",
			Help:    "Delay between an event's due time and its execution.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_jobs",
			Help:    "Jobs run per due event.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.eventsGenerated, m.eventsExecuted, m.jobsAccumulated,
			m.jobsRun, m.jobsFailed, m.executionLag, m.batchSize)
	}
	return m
}

// RegisterQueueDepth exports fn as the queue_depth gauge.
func RegisterQueueDepth(reg prometheus.Registerer, fn func() int) {
	if reg == nil || fn == nil {
		return
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "queue_depth",
		Help: "Events currently waiting in the queue.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) EventGenerated() {
	if m != nil {
		m.eventsGenerated.Inc()
	}
}

func (m *Metrics) EventExecuted(lag time.Duration) {
	if m == nil {
		return
	}
	m.eventsExecuted.Inc()
	if lag < 0 {
		lag = 0
	}
	m.executionLag.Observe(lag.Seconds())
}

func (m *Metrics) JobAccumulated() {
	if m != nil {
		m.jobsAccumulated.Inc()
	}
}

func (m *Metrics) JobRun(err error) {
	if m == nil {
		return
	}
	m.jobsRun.Inc()
	if err != nil {
		m.jobsFailed.Inc()
	}
}

func (m *Metrics) BatchRan(jobs int) {
	if m != nil && jobs > 0 {
		m.batchSize.Observe(float64(jobs))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
