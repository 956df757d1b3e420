package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/verwatch/verwatch/internal/check"
)

// PrometheusSink exports result-level metrics. It owns its collectors so it
// can be registered against a custom registry in tests.
type PrometheusSink struct {
	resultsTotal    *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	attemptsPerTask *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		resultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verwatch_results_delivered_total",
			Help: "Results delivered to the consumer, partitioned by source and outcome.",
		}, []string{"source", "outcome"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verwatch_result_failures_total",
			Help: "Failed results partitioned by classified error kind.",
		}, []string{"kind"}),
		attemptsPerTask: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verwatch_result_attempts",
			Help:    "Attempts consumed per finished task.",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		}, []string{"source"}),
	}
	for _, collector := range []prometheus.Collector{
		s.resultsTotal,
		s.failuresTotal,
		s.attemptsPerTask,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register result collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from one result.
func (s *PrometheusSink) Consume(_ context.Context, result check.Result) error {
	outcome := "failure"
	if result.Success {
		outcome = "success"
	} else {
		kind := string(result.ErrKind)
		if kind == "" {
			kind = string(check.KindUnknown)
		}
		s.failuresTotal.WithLabelValues(kind).Inc()
	}
	s.resultsTotal.WithLabelValues(result.SourceKind, outcome).Inc()
	if result.Attempts > 0 {
		s.attemptsPerTask.WithLabelValues(result.SourceKind).Observe(float64(result.Attempts))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
