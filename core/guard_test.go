package core

import (
	"context"
	"errors"
	"testing"

	"github.com/gridsignal/voltage-compensator/grid"
	"github.com/gridsignal/voltage-compensator/model"
	"github.com/gridsignal/voltage-compensator/solver"
)

// solverFunc adapts a function to the Solver interface.
type solverFunc func(net *grid.Network) (solver.Solution, error)

func (f solverFunc) Solve(net *grid.Network) (solver.Solution, error) { return f(net) }

func diverged() error {
	return &solver.ConvergenceFailure{Sweeps: 1, Reason: "test"}
}

// guardNet is a slack plus two load buses; no branches because the
// stub solvers never look at topology.
func guardNet(t *testing.T) *grid.Network {
	t.Helper()
	n := grid.NewNetwork("guardtest", 100)
	for id, busType := range map[int]model.BusType{
		1: model.BusTypeSlack,
		2: model.BusTypeLoad,
		3: model.BusTypeLoad,
	} {
		if err := n.AddBus(&model.Bus{ID: id, Type: busType}); err != nil {
			t.Fatalf("AddBus(%d): %v", id, err)
		}
	}
	if err := n.SetLoad(2, 100, 50); err != nil {
		t.Fatalf("SetLoad: %v", err)
	}
	if err := n.SetLoad(3, 60, 30); err != nil {
		t.Fatalf("SetLoad: %v", err)
	}
	return n
}

func flatSolution(net *grid.Network, v float64) solver.Solution {
	out := make(solver.Solution, 0, net.NumBuses())
	for _, id := range net.BusIDs() {
		out = append(out, solver.BusVoltage{BusID: id, VoltagePU: v})
	}
	return out
}

func TestNewGuardRejectsBadPolicy(t *testing.T) {
	good := solverFunc(func(net *grid.Network) (solver.Solution, error) {
		return flatSolution(net, 1.0), nil
	})
	cases := []RetryPolicy{
		{MaxAttempts: 0, LoadBackoff: 0.7},
		{MaxAttempts: 3, LoadBackoff: 0},
		{MaxAttempts: 3, LoadBackoff: 1.0},
		{MaxAttempts: 3, LoadBackoff: 1.5},
	}
	for _, policy := range cases {
		if _, err := NewGuard(good, policy); !errors.Is(err, ErrParameterOutOfRange) {
			t.Fatalf("policy %+v: expected ErrParameterOutOfRange, got %v", policy, err)
		}
	}
	if _, err := NewGuard(good, DefaultRetryPolicy()); err != nil {
		t.Fatalf("default policy rejected: %v", err)
	}
}

func TestGuardSuccessFirstAttempt(t *testing.T) {
	net := guardNet(t)
	calls := 0
	g, err := NewGuard(solverFunc(func(n *grid.Network) (solver.Solution, error) {
		calls++
		return flatSolution(n, 1.0), nil
	}), DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	g.Stats = NewSessionStats()

	sol, err := g.Solve(context.Background(), net, Change{Kind: ChangeNone})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if calls != 1 {
		t.Fatalf("solver called %d times, want 1", calls)
	}
	if len(sol) != 3 {
		t.Fatalf("solution has %d buses, want 3", len(sol))
	}
	snap := g.Stats.Snapshot()
	if snap.NumSolves != 1 || snap.NumSolveFailures != 0 {
		t.Fatalf("stats = %+v, want one converged solve", snap)
	}
}

func TestGuardExhaustionRestoresEntryState(t *testing.T) {
	net := guardNet(t)
	calls := 0
	g, err := NewGuard(solverFunc(func(n *grid.Network) (solver.Solution, error) {
		calls++
		return nil, diverged()
	}), RetryPolicy{MaxAttempts: 3, LoadBackoff: 0.7})
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	g.Stats = NewSessionStats()

	_, err = g.Solve(context.Background(), net, Change{Kind: ChangeLoad, BusID: 2})
	if !errors.Is(err, ErrConvergenceExhausted) {
		t.Fatalf("expected ErrConvergenceExhausted, got %v", err)
	}
	var exhausted *ConvergenceExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ConvergenceExhaustedError, got %T", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", exhausted.Attempts)
	}
	if calls != 3 {
		t.Fatalf("solver called %d times, want exactly MaxAttempts", calls)
	}

	// No prior successful solve: the network must come back exactly as
	// it went in.
	p, q, _ := net.LoadAt(2)
	if p != 100 || q != 50 {
		t.Fatalf("load at 2 = (%g, %g) after exhaustion, want (100, 50)", p, q)
	}

	snap := g.Stats.Snapshot()
	if snap.NumSolveFailures != 3 || snap.NumSolveRetries != 2 || snap.NumSolveExhausted != 1 {
		t.Fatalf("stats = %+v, want 3 failures, 2 retries, 1 exhausted", snap)
	}
}

func TestGuardBackoffShrinksChange(t *testing.T) {
	net := guardNet(t)
	var seen []float64
	g, err := NewGuard(solverFunc(func(n *grid.Network) (solver.Solution, error) {
		p, _, _ := n.LoadAt(2)
		seen = append(seen, p)
		return nil, diverged()
	}), RetryPolicy{MaxAttempts: 3, LoadBackoff: 0.7})
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	_, err = g.Solve(context.Background(), net, Change{Kind: ChangeLoad, BusID: 2})
	if !errors.Is(err, ErrConvergenceExhausted) {
		t.Fatalf("expected ErrConvergenceExhausted, got %v", err)
	}

	// The backoff compounds against the entry state: 100, 70, 49.
	want := []float64{100, 70, 49}
	if len(seen) != len(want) {
		t.Fatalf("solver saw %v, want %v", seen, want)
	}
	for i := range want {
		if d := seen[i] - want[i]; d > 1e-9 || d < -1e-9 {
			t.Fatalf("attempt %d saw load %g, want %g", i+1, seen[i], want[i])
		}
	}
}

func TestGuardRecoversAfterBackoff(t *testing.T) {
	net := guardNet(t)
	g, err := NewGuard(solverFunc(func(n *grid.Network) (solver.Solution, error) {
		if p, _, _ := n.LoadAt(2); p > 80 {
			return nil, diverged()
		}
		return flatSolution(n, 0.97), nil
	}), DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	g.Stats = NewSessionStats()

	sol, err := g.Solve(context.Background(), net, Change{Kind: ChangeLoad, BusID: 2})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(sol) == 0 {
		t.Fatal("empty solution")
	}

	// The reduced load that converged stays committed.
	p, _, _ := net.LoadAt(2)
	if d := p - 70; d > 1e-9 || d < -1e-9 {
		t.Fatalf("committed load = %g, want 70", p)
	}
	snap := g.Stats.Snapshot()
	if snap.NumSolves != 1 || snap.NumSolveRetries != 1 {
		t.Fatalf("stats = %+v, want 1 solve and 1 retry", snap)
	}
}

func TestGuardRestoresLastGoodOnExhaustion(t *testing.T) {
	net := guardNet(t)
	healthy := true
	g, err := NewGuard(solverFunc(func(n *grid.Network) (solver.Solution, error) {
		if healthy {
			return flatSolution(n, 1.0), nil
		}
		return nil, diverged()
	}), DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	if _, err := g.Solve(context.Background(), net, Change{Kind: ChangeNone}); err != nil {
		t.Fatalf("baseline solve: %v", err)
	}

	// Stress the bus, then fail every attempt: the guard must roll all
	// the way back to the solvable baseline, not the stressed entry.
	healthy = false
	if err := net.ScaleLoad(2, 10); err != nil {
		t.Fatalf("ScaleLoad: %v", err)
	}
	_, err = g.Solve(context.Background(), net, Change{Kind: ChangeLoad, BusID: 2})
	if !errors.Is(err, ErrConvergenceExhausted) {
		t.Fatalf("expected ErrConvergenceExhausted, got %v", err)
	}
	p, _, _ := net.LoadAt(2)
	if p != 100 {
		t.Fatalf("load at 2 = %g after rollback, want last-known-good 100", p)
	}
}

func TestGuardStructuralErrorAbortsImmediately(t *testing.T) {
	net := guardNet(t)
	structural := errors.New("islanded bus")
	calls := 0
	g, err := NewGuard(solverFunc(func(n *grid.Network) (solver.Solution, error) {
		calls++
		return nil, structural
	}), DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	_, err = g.Solve(context.Background(), net, Change{Kind: ChangeNone})
	if !errors.Is(err, structural) {
		t.Fatalf("expected the structural error back, got %v", err)
	}
	if errors.Is(err, ErrConvergenceExhausted) {
		t.Fatal("structural errors must not be wrapped as exhaustion")
	}
	if calls != 1 {
		t.Fatalf("solver called %d times, want 1 (no retries)", calls)
	}
}

func TestGuardContextCancelled(t *testing.T) {
	net := guardNet(t)
	g, err := NewGuard(solverFunc(func(n *grid.Network) (solver.Solution, error) {
		t.Fatal("solver must not run with a cancelled context")
		return nil, nil
	}), DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Solve(ctx, net, Change{Kind: ChangeNone}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGuardGlobalBackoff(t *testing.T) {
	net := guardNet(t)
	var totals []float64
	g, err := NewGuard(solverFunc(func(n *grid.Network) (solver.Solution, error) {
		p, _ := n.TotalLoad()
		totals = append(totals, p)
		return nil, diverged()
	}), RetryPolicy{MaxAttempts: 2, LoadBackoff: 0.5})
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	_, err = g.Solve(context.Background(), net, Change{Kind: ChangeGlobalLoad})
	if !errors.Is(err, ErrConvergenceExhausted) {
		t.Fatalf("expected ErrConvergenceExhausted, got %v", err)
	}
	if len(totals) != 2 || totals[0] != 160 || totals[1] != 80 {
		t.Fatalf("totals seen = %v, want [160 80]", totals)
	}
}
