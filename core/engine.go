package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gridsignal/voltage-compensator/grid"
	"github.com/gridsignal/voltage-compensator/internal/logging"
	"github.com/gridsignal/voltage-compensator/internal/observability"
)

// DistanceEstimator supplies per-bus electrical distances from the
// slack, used by the optimal strategy's priority ordering. The bundled
// fast-decoupled solver implements it.
type DistanceEstimator interface {
	ElectricalDistances(net *grid.Network) (map[int]float64, error)
}

// Engine restores violating bus voltages by stepping up shunt
// injection per bus until the bus clears the threshold or the budget
// runs out. All strategies share the same per-bus search; they differ
// only in which buses they visit, in what order, and under what
// ceiling.
type Engine struct {
	Guard    *Guard
	Analyzer *Analyzer
	Params   Params

	Log     logging.Logger
	Metrics *observability.Collector
	Tracer  trace.Tracer

	// Priority orders buses for the optimal strategy. Nil gets
	// DeficitDistancePriority at the engine threshold.
	Priority PriorityFunc

	// Distance feeds electrical distances to Priority. Nil treats all
	// buses as equidistant, reducing priority to pure deficit order.
	Distance DistanceEstimator
}

// NewEngine wires an engine after validating params.
func NewEngine(guard *Guard, analyzer *Analyzer, params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		Guard:    guard,
		Analyzer: analyzer,
		Params:   params,
		Log:      logging.Noop(),
	}, nil
}

// searchState tracks why a per-bus search stopped.
type searchState int

const (
	searchCleared   searchState = iota // bus reached the threshold
	searchCeiling                      // injection budget spent
	searchStalled                      // backoff kept shrinking the step
	searchExhausted                    // guard spent its retry budget
)

// Apply runs one compensation pass with the given strategy and reports
// every per-bus search it performed. A bus that cannot be fixed is
// recorded as failed, not returned as an error; errors mean the run
// itself could not proceed.
func (e *Engine) Apply(ctx context.Context, net *grid.Network, strategy Strategy) (*CompensationResult, error) {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if err := e.Params.Validate(); err != nil {
		return nil, err
	}

	log := e.Log
	if log == nil {
		log = logging.Noop()
	}
	tracer := e.Tracer
	if tracer == nil {
		tracer = otel.Tracer("vcomp/core")
	}
	ctx, span := tracer.Start(ctx, "compensation.apply",
		trace.WithAttributes(attribute.String("strategy", string(strategy))))
	defer span.End()

	threshold := e.Params.threshold()

	baselineSol, err := e.Guard.Solve(ctx, net, Change{Kind: ChangeNone})
	if err != nil {
		return nil, err
	}
	violations := NewViolationSet(baselineSol, threshold)

	result := &CompensationResult{Strategy: strategy}
	if len(violations) == 0 {
		log.Info(ctx, "no violations, nothing to compensate",
			logging.Float64("threshold_pu", threshold))
		result.FinalViolations = violations
		result.Stats = e.Guard.Stats.Snapshot()
		return result, nil
	}
	log.Info(ctx, "starting compensation",
		logging.Any("strategy", string(strategy)),
		logging.Int("violations", len(violations)),
		logging.Int("weakest_bus", violations[0].BusID),
	)

	switch strategy {
	case StrategyTargeted:
		err = e.runTargeted(ctx, net, violations, result)
	case StrategyGlobal:
		err = e.runGlobal(ctx, net, violations, result)
	case StrategyOptimal:
		err = e.runOptimal(ctx, net, violations, result)
	}
	if err != nil {
		return nil, err
	}

	e.finishResult(ctx, net, log, result)
	return result, nil
}

// runTargeted compensates only the weakest bus of the baseline set.
func (e *Engine) runTargeted(ctx context.Context, net *grid.Network, violations ViolationSet, result *CompensationResult) error {
	weakest := violations[0]
	step, err := e.compensateBus(ctx, net, weakest.BusID, weakest.VoltagePU, e.Params.MaxQMVAr)
	if err != nil {
		return err
	}
	e.recordStep(result, step)
	return nil
}

// runGlobal walks the violation set weakest-first, re-solving between
// buses so that a neighbour fixed as a side effect is not compensated
// twice.
func (e *Engine) runGlobal(ctx context.Context, net *grid.Network, violations ViolationSet, result *CompensationResult) error {
	attempted := make(map[int]bool)
	current := violations
	for len(current) > 0 {
		var next *BusVoltageRecord
		for i := range current {
			if !attempted[current[i].BusID] {
				next = &current[i]
				break
			}
		}
		if next == nil {
			break
		}
		attempted[next.BusID] = true

		step, err := e.compensateBus(ctx, net, next.BusID, next.VoltagePU, e.Params.MaxQMVAr)
		if err != nil {
			return err
		}
		e.recordStep(result, step)

		refreshed, err := e.refreshViolations(ctx, net)
		if err != nil {
			return err
		}
		current = refreshed
	}
	return nil
}

// runOptimal orders the baseline set by priority score, deferring
// buses already within DeferEpsPU of the threshold, and applies the
// tighter per-bus ceiling. Violations left after the priority pass get
// one more weakest-first pass under the full ceiling before the run
// stops.
func (e *Engine) runOptimal(ctx context.Context, net *grid.Network, violations ViolationSet, result *CompensationResult) error {
	threshold := e.Params.threshold()
	priority := e.Priority
	if priority == nil {
		priority = DeficitDistancePriority(threshold)
	}

	distances := map[int]float64{}
	if e.Distance != nil {
		d, err := e.Distance.ElectricalDistances(net)
		if err == nil {
			distances = d
		}
	}

	deferred := func(rec BusVoltageRecord) bool {
		return threshold-rec.VoltagePU <= e.Params.DeferEpsPU
	}

	ordered := make(ViolationSet, len(violations))
	copy(ordered, violations)
	sort.SliceStable(ordered, func(i, j int) bool {
		if di, dj := deferred(ordered[i]), deferred(ordered[j]); di != dj {
			return dj
		}
		pi := priority(ordered[i], distances[ordered[i].BusID])
		pj := priority(ordered[j], distances[ordered[j].BusID])
		if pi != pj {
			return pi > pj
		}
		return ordered[i].BusID < ordered[j].BusID
	})

	perBusMax := e.Params.OptimalPerBusMaxQMVAr
	if perBusMax > e.Params.MaxQMVAr {
		perBusMax = e.Params.MaxQMVAr
	}

	for _, rec := range ordered {
		current, err := e.refreshViolations(ctx, net)
		if err != nil {
			return err
		}
		if !current.Contains(rec.BusID) {
			continue
		}
		var vNow float64
		for _, cr := range current {
			if cr.BusID == rec.BusID {
				vNow = cr.VoltagePU
				break
			}
		}
		step, err := e.compensateBus(ctx, net, rec.BusID, vNow, perBusMax)
		if err != nil {
			return err
		}
		e.recordStep(result, step)
	}

	// Whatever the priority pass could not clear gets one
	// weakest-first retry with the full budget.
	remaining, err := e.refreshViolations(ctx, net)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return nil
	}
	return e.runGlobal(ctx, net, remaining, result)
}

// compensateBus raises the shunt injection at bus in StepQMVAr
// increments until the bus clears the threshold or maxQ is spent. The
// injected figure is always read back from the network, so guard
// backoff shrinking a step is reflected honestly.
func (e *Engine) compensateBus(ctx context.Context, net *grid.Network, bus int, vBefore, maxQ float64) (CompensationStep, error) {
	log := e.Log
	if log == nil {
		log = logging.Noop()
	}
	tracer := e.Tracer
	if tracer == nil {
		tracer = otel.Tracer("vcomp/core")
	}
	ctx, span := tracer.Start(ctx, "compensation.bus_search",
		trace.WithAttributes(attribute.Int("bus", bus)))
	defer span.End()

	threshold := e.Params.threshold()
	shuntBase := net.ShuntQAt(bus)

	injected := 0.0
	vCurrent := vBefore
	state := searchCeiling

	// The search is bounded by the budget even if backoff interferes.
	maxIters := int(maxQ/e.Params.StepQMVAr) + 2
	for iter := 0; iter < maxIters; iter++ {
		target := injected + e.Params.StepQMVAr
		if target > maxQ+1e-9 {
			state = searchCeiling
			break
		}
		if err := net.SetShuntQ(bus, shuntBase+target); err != nil {
			return CompensationStep{}, err
		}

		sol, err := e.Guard.Solve(ctx, net, Change{Kind: ChangeShunt, BusID: bus})
		if err != nil {
			if errors.Is(err, ErrConvergenceExhausted) {
				// The guard rolled back to the last solvable state;
				// account only what actually stuck.
				injected = net.ShuntQAt(bus) - shuntBase
				state = searchExhausted
				break
			}
			return CompensationStep{}, err
		}

		bv, ok := sol.At(bus)
		if !ok {
			return CompensationStep{}, fmt.Errorf("%w: %d absent from solution", grid.ErrUnknownBus, bus)
		}

		actual := net.ShuntQAt(bus) - shuntBase
		if actual <= injected+1e-9 {
			// Backoff undid the increment; report what actually stuck.
			injected = actual
			vCurrent = bv.VoltagePU
			state = searchStalled
			break
		}
		injected = actual
		vCurrent = bv.VoltagePU
		log.Debug(ctx, "shunt step applied",
			logging.Int("bus", bus),
			logging.Float64("q_injected_mvar", injected),
			logging.Float64("voltage_pu", vCurrent),
		)

		if vCurrent >= threshold {
			state = searchCleared
			break
		}
	}

	step := CompensationStep{
		BusID:         bus,
		QInjectedMVAr: injected,
		VoltageBefore: vBefore,
		VoltageAfter:  vCurrent,
	}
	switch {
	case state == searchCleared:
		step.Status = StepSuccess
	case step.Improvement() > e.Params.ImprovementEpsPU:
		step.Status = StepLimitedImprovement
	default:
		step.Status = StepFailed
	}

	span.SetAttributes(
		attribute.Float64("q_injected_mvar", step.QInjectedMVAr),
		attribute.String("status", string(step.Status)),
	)
	log.Info(ctx, "bus search finished",
		logging.Int("bus", bus),
		logging.Any("status", string(step.Status)),
		logging.Float64("q_injected_mvar", step.QInjectedMVAr),
		logging.Float64("voltage_before_pu", step.VoltageBefore),
		logging.Float64("voltage_after_pu", step.VoltageAfter),
	)
	return step, nil
}

// refreshViolations re-solves without a pending change and
// reclassifies.
func (e *Engine) refreshViolations(ctx context.Context, net *grid.Network) (ViolationSet, error) {
	sol, err := e.Guard.Solve(ctx, net, Change{Kind: ChangeNone})
	if err != nil {
		return nil, err
	}
	return NewViolationSet(sol, e.Params.threshold()), nil
}

// recordStep appends a step to the result and accounts it.
func (e *Engine) recordStep(result *CompensationResult, step CompensationStep) {
	result.Steps = append(result.Steps, step)
	result.TotalQInjectedMVAr += step.QInjectedMVAr
	e.Guard.Stats.RecordStep(step.Status, step.QInjectedMVAr)
	e.Metrics.ObserveStep(string(step.Status), step.QInjectedMVAr)
}

// finishResult closes out a run with a final health check. A solve
// failure here degrades to the most recent classification instead of
// discarding the work already done.
func (e *Engine) finishResult(ctx context.Context, net *grid.Network, log logging.Logger, result *CompensationResult) {
	if health, err := e.Analyzer.AnalyzeChange(ctx, net, Change{Kind: ChangeNone}); err == nil {
		result.FinalViolations = health.Violations
	} else {
		log.Warn(ctx, "final health check failed, violation set may be stale",
			logging.Any("error", err.Error()))
	}
	result.Stats = e.Guard.Stats.Snapshot()
}
