package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Solve outcome labels for the attempts counter.
const (
	SolveOutcomeConverged = "converged"
	SolveOutcomeDiverged  = "diverged"
	SolveOutcomeExhausted = "exhausted"
)

// Collector bundles Prometheus metrics for the compensation pipeline
// and provides a ready-to-serve /metrics handler.
type Collector struct {
	gatherer prometheus.Gatherer

	SolveAttempts     *prometheus.CounterVec
	SolveRetries      prometheus.Counter
	CompensationSteps *prometheus.CounterVec
	QInjected         prometheus.Histogram

	Violations      prometheus.Gauge
	GridBuses       prometheus.Gauge
	GridLoadedBuses prometheus.Gauge
}

// NewCollector registers the pipeline metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "powerflow_solve_attempts_total",
		Help: "Total power-flow solve attempts, labeled by outcome (converged, diverged, exhausted).",
	}, []string{"outcome"})
	attempts, err := registerCounterVec(reg, attempts, "powerflow_solve_attempts_total")
	if err != nil {
		return nil, err
	}

	retries, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "powerflow_solve_retries_total",
		Help: "Retries performed by the convergence guard after a diverged solve.",
	}), "powerflow_solve_retries_total")
	if err != nil {
		return nil, err
	}

	steps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compensation_steps_total",
		Help: "Per-bus compensation searches, labeled by terminal status.",
	}, []string{"status"})
	steps, err = registerCounterVec(reg, steps, "compensation_steps_total")
	if err != nil {
		return nil, err
	}

	qInjected, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "compensation_q_injected_mvar",
		Help:    "Reactive power injected per compensated bus, in MVar.",
		Buckets: []float64{5, 10, 25, 50, 75, 100, 150, 200},
	}), "compensation_q_injected_mvar")
	if err != nil {
		return nil, err
	}

	violations, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grid_voltage_violations",
		Help: "Buses currently below the violation threshold.",
	}), "grid_voltage_violations")
	if err != nil {
		return nil, err
	}
	buses, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grid_buses",
		Help: "Buses in the active network case.",
	}), "grid_buses")
	if err != nil {
		return nil, err
	}
	loaded, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grid_loaded_buses",
		Help: "Buses carrying a load record in the active network case.",
	}), "grid_loaded_buses")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:          gatherer,
		SolveAttempts:     attempts,
		SolveRetries:      retries,
		CompensationSteps: steps,
		QInjected:         qInjected,
		Violations:        violations,
		GridBuses:         buses,
		GridLoadedBuses:   loaded,
	}, nil
}

// ObserveSolve records one solve attempt outcome. Safe on a nil
// collector so core components can carry an optional handle.
func (c *Collector) ObserveSolve(outcome string) {
	if c == nil || c.SolveAttempts == nil {
		return
	}
	c.SolveAttempts.WithLabelValues(outcome).Inc()
}

// IncRetry records one guard retry.
func (c *Collector) IncRetry() {
	if c == nil || c.SolveRetries == nil {
		return
	}
	c.SolveRetries.Inc()
}

// ObserveStep records a finished per-bus search.
func (c *Collector) ObserveStep(status string, qInjectedMVAr float64) {
	if c == nil {
		return
	}
	if c.CompensationSteps != nil {
		c.CompensationSteps.WithLabelValues(status).Inc()
	}
	if c.QInjected != nil && qInjectedMVAr > 0 {
		c.QInjected.Observe(qInjectedMVAr)
	}
}

// SetViolations updates the violation gauge.
func (c *Collector) SetViolations(n int) {
	if c == nil || c.Violations == nil {
		return
	}
	c.Violations.Set(float64(n))
}

// SetGridCounts updates the case-size gauges.
func (c *Collector) SetGridCounts(buses, loadedBuses int) {
	if c == nil {
		return
	}
	if c.GridBuses != nil {
		c.GridBuses.Set(float64(buses))
	}
	if c.GridLoadedBuses != nil {
		c.GridLoadedBuses.Set(float64(loadedBuses))
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
