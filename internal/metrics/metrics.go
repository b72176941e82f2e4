// Package metrics exposes solve counters for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Attempts     = "sel_solve_attempts_total"
	Solved       = "sel_solve_success_total"
	Failed       = "sel_solve_failures_total"
	Skipped      = "sel_images_skipped_total"
	ConfigErrors = "sel_config_errors_total"
	InFlight     = "sel_solves_in_flight"
	Duration     = "sel_solve_duration_seconds"
)

// Solve tracks solve outcomes. A nil *Solve is a no-op.
type Solve struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// New creates the collectors and registers them on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Solve {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	attempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: Attempts,
		Help: "Solve attempts started for eligible images.",
	})
	solved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: Solved,
		Help: "Solves that produced a WCS header.",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: Failed,
		Help: "Solves that failed or raised an error.",
	})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: Skipped,
		Help: "Saved images rejected by the eligibility gate.",
	})
	configErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: ConfigErrors,
		Help: "Save events aborted because the configured solver is unsupported.",
	})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: InFlight,
		Help: "Solves currently running.",
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    Duration,
		Help:    "Wall clock time of a solve attempt including header synthesis.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	reg.MustRegister(attempts, solved, failed, skipped, configErrors, inFlight, duration)

	return &Solve{
		counters: map[string]prometheus.Counter{
			Attempts:     attempts,
			Solved:       solved,
			Failed:       failed,
			Skipped:      skipped,
			ConfigErrors: configErrors,
		},
		gauges: map[string]prometheus.Gauge{
			InFlight: inFlight,
		},
		histos: map[string]prometheus.Observer{
			Duration: duration,
		},
	}
}

func (m *Solve) inc(name string) {
	if m == nil {
		return
	}
	if c, ok := m.counters[name]; ok {
		c.Inc()
	}
}

func (m *Solve) Skip()        { m.inc(Skipped) }
func (m *Solve) ConfigError() { m.inc(ConfigErrors) }

// Start records an attempt and returns the function that finishes it.
func (m *Solve) Start() func(ok bool, elapsed time.Duration) {
	if m == nil {
		return func(bool, time.Duration) {}
	}
	m.inc(Attempts)
	m.gauges[InFlight].Inc()
	return func(ok bool, elapsed time.Duration) {
		m.gauges[InFlight].Dec()
		if ok {
			m.inc(Solved)
		} else {
			m.inc(Failed)
		}
		m.histos[Duration].Observe(elapsed.Seconds())
	}
}

// Counter exposes a counter for inspection.
func (m *Solve) Counter(name string) prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.counters[name]
}
