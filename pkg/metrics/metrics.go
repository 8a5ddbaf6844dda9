// Package metrics exposes Curator's Prometheus metrics: id allocation,
// journal submit/apply latency, coordinator waits, and consumer lag.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Id Allocator
	GlobalIDsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curator_global_ids_issued_total",
		Help: "Total number of globalId values issued",
	})
	ContentIDsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curator_content_ids_issued_total",
		Help: "Total number of contentId values issued",
	})
	CommentIDsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curator_comment_ids_issued_total",
		Help: "Total number of commentId values issued",
	})

	// Content dedup
	ContentDedupHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curator_content_dedup_hits_total",
		Help: "Total number of putContent calls resolved to an existing row",
	})

	// Submitter / Coordinator
	SubmitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "curator_submit_duration_seconds",
		Help:    "Time to hand a journal message to the journal backend",
		Buckets: prometheus.DefBuckets,
	})
	CoordinatorWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curator_coordinator_wait_duration_seconds",
			Help:    "Time a submitting caller spent blocked on the Coordinator",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"}, // ok, error, timeout
	)
	PendingSlots = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "curator_coordinator_pending_slots",
		Help: "Number of Coordinator slots awaiting completion",
	})

	// Consumer / Sink
	ApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curator_apply_duration_seconds",
			Help:    "Time to apply a decoded journal message to local state",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"message_type"},
	)
	ApplyErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_apply_errors_total",
			Help: "Total number of apply-mode failures by message type and error kind",
		},
		[]string{"message_type", "kind"},
	)
	ConsumerLag = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "curator_consumer_lag",
		Help: "Estimated number of unconsumed journal records",
	})
	BootstrapDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "curator_bootstrap_duration_seconds",
		Help:    "Time from Consumer Loop start to READY",
		Buckets: prometheus.DefBuckets,
	})

	// Rule evaluation
	RuleEvalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "curator_rule_eval_duration_seconds",
		Help:    "Time spent invoking the rule evaluator before submission",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		GlobalIDsIssued,
		ContentIDsIssued,
		CommentIDsIssued,
		ContentDedupHits,
		SubmitDuration,
		CoordinatorWaitDuration,
		PendingSlots,
		ApplyDuration,
		ApplyErrorsTotal,
		ConsumerLag,
		BootstrapDuration,
		RuleEvalDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
