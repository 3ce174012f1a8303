package core

import (
	"context"

	"github.com/gridsignal/voltage-compensator/grid"
	"github.com/gridsignal/voltage-compensator/internal/logging"
)

// Analyzer classifies a solved voltage profile against the violation
// threshold and identifies the weakest buses, weakest first.
type Analyzer struct {
	Guard *Guard

	// ThresholdPU is the violation cutoff; zero means
	// DefaultThresholdPU. Classification is strict: a bus sitting
	// exactly at the threshold is healthy.
	ThresholdPU float64

	Log logging.Logger
}

// Threshold returns the effective violation cutoff.
func (a *Analyzer) Threshold() float64 {
	if a.ThresholdPU > 0 {
		return a.ThresholdPU
	}
	return DefaultThresholdPU
}

// Analyze solves the network as-is and reports its health.
func (a *Analyzer) Analyze(ctx context.Context, net *grid.Network) (*Health, error) {
	return a.AnalyzeChange(ctx, net, Change{Kind: ChangeNone})
}

// AnalyzeChange solves the network after the caller applied lastChange
// and reports its health. The change flows through to the guard so a
// diverged solve backs off the right quantity.
func (a *Analyzer) AnalyzeChange(ctx context.Context, net *grid.Network, lastChange Change) (*Health, error) {
	log := a.Log
	if log == nil {
		log = logging.Noop()
	}

	sol, err := a.Guard.Solve(ctx, net, lastChange)
	if err != nil {
		return nil, err
	}

	threshold := a.Threshold()
	violations := NewViolationSet(sol, threshold)
	health := &Health{
		Violations:  violations,
		TotalBuses:  net.NumBuses(),
		LoadedBuses: len(net.LoadedBusIDs()),
	}
	if min, ok := sol.Min(); ok {
		health.WeakestBus = min.BusID
		health.MinVoltagePU = min.VoltagePU
	}

	a.Guard.Metrics.SetViolations(len(violations))
	a.Guard.Metrics.SetGridCounts(health.TotalBuses, health.LoadedBuses)

	if len(violations) > 0 {
		log.Info(ctx, "voltage violations detected",
			logging.Int("violations", len(violations)),
			logging.Int("weakest_bus", health.WeakestBus),
			logging.Float64("min_voltage_pu", health.MinVoltagePU),
			logging.Float64("threshold_pu", threshold),
		)
	} else {
		log.Debug(ctx, "all bus voltages healthy",
			logging.Float64("min_voltage_pu", health.MinVoltagePU),
			logging.Float64("threshold_pu", threshold),
		)
	}
	return health, nil
}
