// Package metrics defines the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery results.
const (
	ResultSent    = "sent"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
	ResultGone    = "gone"
)

// Metrics groups the service's collectors.
type Metrics struct {
	Activities *prometheus.CounterVec
	Deliveries *prometheus.CounterVec
	Dropped    prometheus.Counter
	LoopTicks  prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Activities: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushbot",
			Name:      "activities_total",
			Help:      "Inbound chat activities by type.",
		}, []string{"type"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushbot",
			Name:      "push_deliveries_total",
			Help:      "Push notification attempts by result.",
		}, []string{"result"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pushbot",
			Name:      "push_dispatch_dropped_total",
			Help:      "Outgoing messages not queued because the dispatch queue was full.",
		}),
		LoopTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pushbot",
			Name:      "loop_ticks_total",
			Help:      "Proactive loop messages sent.",
		}),
	}
}
