package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusTracer exports event durations and failures as metrics.
type PrometheusTracer struct {
	methodDuration      *prometheus.HistogramVec
	instructionDuration *prometheus.HistogramVec
	failures            *prometheus.CounterVec
}

var _ Tracer = (*PrometheusTracer)(nil)

// NewPrometheusTracer creates the collectors and registers them with reg.
func NewPrometheusTracer(reg prometheus.Registerer) (*PrometheusTracer, error) {
	t := &PrometheusTracer{
		methodDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planexec_method_duration_seconds",
				Help:    "Duration of complete method executions, in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		instructionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planexec_instruction_duration_seconds",
				Help:    "Duration of a single kernel or delegate call, in seconds.",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
			},
			[]string{"kind", "name"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planexec_failures_total",
				Help: "Number of failed method executions, kernel calls and delegate calls.",
			},
			[]string{"kind", "name"},
		),
	}

	for _, c := range []prometheus.Collector{t.methodDuration, t.instructionDuration, t.failures} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return t, nil
}

func (t *PrometheusTracer) Begin(ev Event) Span {
	return StartSpan(ev)
}

func (t *PrometheusTracer) End(span Span, err error) {
	ev := span.Event
	name := ev.Name
	if ev.Kind == KindMethod {
		name = ev.Method
		t.methodDuration.WithLabelValues(ev.Method).Observe(span.Elapsed().Seconds())
	} else {
		t.instructionDuration.WithLabelValues(string(ev.Kind), ev.Name).Observe(span.Elapsed().Seconds())
	}
	if err != nil {
		t.failures.WithLabelValues(string(ev.Kind), name).Inc()
	}
}
