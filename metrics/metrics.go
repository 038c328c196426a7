// Package metrics exposes benchmark runs as prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weiihann/hddtest/bench"
)

// Collectors observes runners and mirrors their state into prometheus
// metrics. It implements bench.Observer.
type Collectors struct {
	gatherer prometheus.Gatherer

	progress *prometheus.GaugeVec
	state    *prometheus.GaugeVec
	samples  *prometheus.CounterVec
	errors   *prometheus.CounterVec
	value    *prometheus.GaugeVec
}

var _ bench.Observer = (*Collectors)(nil)

// New registers the hddtest collectors on reg. A nil reg uses a fresh
// private registry.
func New(reg *prometheus.Registry) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collectors{
		gatherer: reg,
		progress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hddtest_benchmark_progress_percent",
				Help: "Completion of the primary dataset",
			},
			[]string{"benchmark"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hddtest_benchmark_state",
				Help: "Runner state: 0 stopped, 1 starting, 2 started, 3 stopping",
			},
			[]string{"benchmark"},
		),
		samples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hddtest_samples_total",
				Help: "Samples drained from running benchmarks",
			},
			[]string{"benchmark"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hddtest_operation_errors_total",
				Help: "Failed storage primitives",
			},
			[]string{"benchmark", "op"},
		),
		value: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hddtest_sample_value",
				Help: "Last sample value per series",
			},
			[]string{"benchmark", "series"},
		),
	}

	for _, col := range []prometheus.Collector{c.progress, c.state, c.samples, c.errors, c.value} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler serves the registry in the prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collectors) StateChanged(kind bench.Kind, s bench.State) {
	c.state.WithLabelValues(kind.String()).Set(float64(s))
}

func (c *Collectors) Progress(kind bench.Kind, percent int) {
	c.progress.WithLabelValues(kind.String()).Set(float64(percent))
}

func (c *Collectors) Samples(kind bench.Kind, samples []bench.Sample) {
	name := kind.String()

	c.samples.WithLabelValues(name).Add(float64(len(samples)))

	for _, s := range samples {
		c.value.WithLabelValues(name, s.Series).Set(s.Y)
	}
}

func (c *Collectors) OperationError(kind bench.Kind, op string) {
	c.errors.WithLabelValues(kind.String(), op).Inc()
}
