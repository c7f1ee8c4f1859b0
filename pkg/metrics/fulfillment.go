package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const outcomeOK = "ok"

// Fulfillment records state machine activity. A nil *Fulfillment is valid
// and records nothing.
type Fulfillment struct {
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	shortfalls  prometheus.Counter
}

// NewFulfillment registers the fulfillment metrics on the provided registerer.
func NewFulfillment(reg prometheus.Registerer) *Fulfillment {
	if reg == nil {
		return &Fulfillment{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "transitions_total",
		Help:      "State machine operations by action and outcome.",
	}, []string{"action", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fulfillment",
		Name:      "operation_duration_seconds",
		Help:      "Duration of state machine transactions in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action"})
	shortfalls := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "stock_shortfalls_total",
		Help:      "Reservation batches aborted for insufficient stock.",
	})
	reg.MustRegister(transitions, duration, shortfalls)
	return &Fulfillment{
		transitions: transitions,
		duration:    duration,
		shortfalls:  shortfalls,
	}
}

// Observe records one completed operation. outcome is empty on success or the
// error code otherwise.
func (f *Fulfillment) Observe(action, outcome string, elapsed time.Duration) {
	if f == nil || f.transitions == nil {
		return
	}
	if outcome == "" {
		outcome = outcomeOK
	}
	f.transitions.WithLabelValues(normalizeLabel(action), outcome).Inc()
	f.duration.WithLabelValues(normalizeLabel(action)).Observe(elapsed.Seconds())
}

func (f *Fulfillment) IncShortfall() {
	if f == nil || f.shortfalls == nil {
		return
	}
	f.shortfalls.Inc()
}

// Outbox records publisher throughput.
type Outbox struct {
	published *prometheus.CounterVec
	batch     prometheus.Histogram
}

func NewOutbox(reg prometheus.Registerer) *Outbox {
	if reg == nil {
		return &Outbox{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Subsystem: "outbox",
		Name:      "published_total",
		Help:      "Outbox rows handled by the publisher.",
	}, []string{"event_type", "result"})
	batch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fulfillment",
		Subsystem: "outbox",
		Name:      "batch_size",
		Help:      "Rows claimed per publisher poll.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
	})
	reg.MustRegister(published, batch)
	return &Outbox{published: published, batch: batch}
}

func (o *Outbox) ObserveBatch(size int) {
	if o == nil || o.batch == nil {
		return
	}
	o.batch.Observe(float64(size))
}

func (o *Outbox) IncPublished(eventType string, ok bool) {
	if o == nil || o.published == nil {
		return
	}
	result := "failed"
	if ok {
		result = "published"
	}
	o.published.WithLabelValues(normalizeLabel(eventType), result).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
