package core

import (
	"context"
	"testing"

	"github.com/gridsignal/voltage-compensator/grid"
	"github.com/gridsignal/voltage-compensator/solver"
)

func newTestAnalyzer(t *testing.T, s solver.Solver) *Analyzer {
	t.Helper()
	g, err := NewGuard(s, DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	g.Stats = NewSessionStats()
	return &Analyzer{Guard: g}
}

func TestAnalyzeHealthy(t *testing.T) {
	net := guardNet(t)
	a := newTestAnalyzer(t, solverFunc(func(n *grid.Network) (solver.Solution, error) {
		return flatSolution(n, 1.01), nil
	}))

	health, err := a.Analyze(context.Background(), net)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(health.Violations) != 0 {
		t.Fatalf("violations = %v, want none", health.Violations)
	}
	if health.MinVoltagePU != 1.01 {
		t.Fatalf("min voltage = %g, want 1.01", health.MinVoltagePU)
	}
	if health.TotalBuses != 3 || health.LoadedBuses != 2 {
		t.Fatalf("health = %+v, want 3 buses, 2 loaded", health)
	}
}

func TestAnalyzeOrdersViolationsWeakestFirst(t *testing.T) {
	net := guardNet(t)
	a := newTestAnalyzer(t, solverFunc(func(n *grid.Network) (solver.Solution, error) {
		return solver.Solution{
			{BusID: 1, VoltagePU: 1.02},
			{BusID: 2, VoltagePU: 0.93},
			{BusID: 3, VoltagePU: 0.91},
		}, nil
	}))

	health, err := a.Analyze(context.Background(), net)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	got := health.Violations.BusIDs()
	if len(got) != 2 || got[0] != 3 || got[1] != 2 {
		t.Fatalf("violation order = %v, want [3 2] (weakest first)", got)
	}
	if health.WeakestBus != 3 || health.MinVoltagePU != 0.91 {
		t.Fatalf("weakest = (%d, %g), want (3, 0.91)", health.WeakestBus, health.MinVoltagePU)
	}
}

func TestAnalyzeTieBreaksByBusID(t *testing.T) {
	net := guardNet(t)
	a := newTestAnalyzer(t, solverFunc(func(n *grid.Network) (solver.Solution, error) {
		return solver.Solution{
			{BusID: 1, VoltagePU: 1.02},
			{BusID: 2, VoltagePU: 0.92},
			{BusID: 3, VoltagePU: 0.92},
		}, nil
	}))

	health, err := a.Analyze(context.Background(), net)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	got := health.Violations.BusIDs()
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("tied violations = %v, want [2 3]", got)
	}
	if health.WeakestBus != 2 {
		t.Fatalf("weakest = %d, want lowest bus ID on a tie", health.WeakestBus)
	}
}

func TestAnalyzeThresholdIsStrict(t *testing.T) {
	net := guardNet(t)
	a := newTestAnalyzer(t, solverFunc(func(n *grid.Network) (solver.Solution, error) {
		return solver.Solution{
			{BusID: 1, VoltagePU: 1.0},
			{BusID: 2, VoltagePU: 0.95}, // exactly at the threshold
			{BusID: 3, VoltagePU: 0.9499999},
		}, nil
	}))

	health, err := a.Analyze(context.Background(), net)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if health.Violations.Contains(2) {
		t.Fatal("a bus exactly at the threshold is healthy")
	}
	if !health.Violations.Contains(3) {
		t.Fatal("a bus just below the threshold violates")
	}
}

func TestAnalyzeCustomThreshold(t *testing.T) {
	net := guardNet(t)
	a := newTestAnalyzer(t, solverFunc(func(n *grid.Network) (solver.Solution, error) {
		return flatSolution(n, 0.96), nil
	}))
	a.ThresholdPU = 0.97

	health, err := a.Analyze(context.Background(), net)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(health.Violations) != 3 {
		t.Fatalf("violations = %d at threshold 0.97, want all 3 buses", len(health.Violations))
	}
}
