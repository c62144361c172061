package scheduler

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fullvlad/lava-server/internal/store"
)

// Metrics holds the scheduler's Prometheus collectors.
type Metrics struct {
	cycles          prometheus.Counter
	cycleErrors     prometheus.Counter
	transientErrors prometheus.Counter
	cycleDuration   prometheus.Summary
	dispatchReady   prometheus.Gauge
	reservations    prometheus.Counter
	cancellations   prometheus.Counter
	completions     *prometheus.CounterVec
}

// NewMetrics creates the scheduler collectors and registers them on reg.
// A nil reg gets a private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lava",
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Number of job list cycles run.",
		}),
		cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lava",
			Subsystem: "scheduler",
			Name:      "cycle_errors_total",
			Help:      "Number of job list cycles that rolled back.",
		}),
		transientErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lava",
			Subsystem: "scheduler",
			Name:      "transient_db_errors_total",
			Help:      "Number of cycles that failed on a lost or busy database connection.",
		}),
		cycleDuration: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace:  "lava",
			Subsystem:  "scheduler",
			Name:       "cycle_duration_seconds",
			Help:       "Time spent in one job list cycle.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
		dispatchReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lava",
			Subsystem: "scheduler",
			Name:      "dispatch_ready_jobs",
			Help:      "Number of jobs returned by the last successful cycle.",
		}),
		reservations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lava",
			Subsystem: "scheduler",
			Name:      "reservations_total",
			Help:      "Number of devices reserved for jobs.",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lava",
			Subsystem: "scheduler",
			Name:      "cancellations_total",
			Help:      "Number of canceling jobs finished by this host.",
		}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lava",
			Subsystem: "scheduler",
			Name:      "completions_total",
			Help:      "Number of completed jobs by final status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.cycles,
		m.cycleErrors,
		m.transientErrors,
		m.cycleDuration,
		m.dispatchReady,
		m.reservations,
		m.cancellations,
		m.completions,
	)
	return m
}

func (m *Metrics) observeCycle(d time.Duration, ready int, err error) {
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
	if err != nil {
		m.cycleErrors.Inc()
		if errors.Is(err, store.ErrTransient) {
			m.transientErrors.Inc()
		}
		return
	}
	m.dispatchReady.Set(float64(ready))
}
