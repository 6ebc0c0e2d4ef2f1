package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives job lifecycle measurements
type Recorder interface {
	JobEnqueued(queue, kind string)
	JobRejected(queue, kind string)
	JobRetried(queue, kind string)
	JobCompleted(queue, kind string, d time.Duration)
	JobFailed(queue, kind string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) JobEnqueued(string, string)                {}
func (nopRecorder) JobRejected(string, string)                {}
func (nopRecorder) JobRetried(string, string)                 {}
func (nopRecorder) JobCompleted(string, string, time.Duration) {}
func (nopRecorder) JobFailed(string, string, time.Duration)    {}

// Collector is the Prometheus Recorder
type Collector struct {
	enqueued *prometheus.CounterVec
	rejected *prometheus.CounterVec
	retried  *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers it with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_jobs_enqueued_total",
			Help: "Jobs accepted by a queue",
		}, []string{"queue", "kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_jobs_rejected_total",
			Help: "Jobs rejected because the queue buffer was full",
		}, []string{"queue", "kind"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_jobs_retried_total",
			Help: "Job attempts that failed and were scheduled again",
		}, []string{"queue", "kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_jobs_processed_total",
			Help: "Jobs that reached a terminal outcome",
		}, []string{"queue", "kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatekeeper_job_duration_seconds",
			Help:    "Time from first attempt to terminal outcome",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
	}

	reg.MustRegister(
		c.enqueued,
		c.rejected,
		c.retried,
		c.outcomes,
		c.duration,
	)

	return c
}

func (c *Collector) JobEnqueued(queue, kind string) {
	c.enqueued.WithLabelValues(queue, kind).Inc()
}

func (c *Collector) JobRejected(queue, kind string) {
	c.rejected.WithLabelValues(queue, kind).Inc()
}

func (c *Collector) JobRetried(queue, kind string) {
	c.retried.WithLabelValues(queue, kind).Inc()
}

func (c *Collector) JobCompleted(queue, kind string, d time.Duration) {
	c.outcomes.WithLabelValues(queue, kind, "completed").Inc()
	c.duration.WithLabelValues(queue).Observe(d.Seconds())
}

func (c *Collector) JobFailed(queue, kind string, d time.Duration) {
	c.outcomes.WithLabelValues(queue, kind, "failed").Inc()
	c.duration.WithLabelValues(queue).Observe(d.Seconds())
}

var _ Recorder = (*Collector)(nil)

// Outcomes exposes the terminal outcome counter
func (c *Collector) Outcomes() *prometheus.CounterVec {
	return c.outcomes
}
