package solver

import (
	"math"
	"strings"
	"testing"

	"github.com/gridsignal/voltage-compensator/grid"
	"github.com/gridsignal/voltage-compensator/model"
)

// twoBusNet is a slack feeding one load bus over a single branch.
func twoBusNet(t *testing.T, pMW, qMVAr float64) *grid.Network {
	t.Helper()
	n := grid.NewNetwork("twobus", 100)
	if err := n.AddBus(&model.Bus{ID: 1, Type: model.BusTypeSlack}); err != nil {
		t.Fatalf("AddBus: %v", err)
	}
	if err := n.AddBus(&model.Bus{ID: 2, Type: model.BusTypeLoad}); err != nil {
		t.Fatalf("AddBus: %v", err)
	}
	if err := n.AddBranch(&model.Branch{FromBus: 1, ToBus: 2, ReactancePU: 0.1}); err != nil {
		t.Fatalf("AddBranch: %v", err)
	}
	if err := n.SetLoad(2, pMW, qMVAr); err != nil {
		t.Fatalf("SetLoad: %v", err)
	}
	return n
}

func TestSolveTwoBus(t *testing.T) {
	n := twoBusNet(t, 40, 20)
	sol, err := NewFastDecoupled().Solve(n)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	// V2 = (V1/x - q) / (1/x) = (10 - 0.2) / 10 with the slack held at
	// 1.0 p.u. and no series resistance.
	bv, ok := sol.At(2)
	if !ok {
		t.Fatal("bus 2 missing from solution")
	}
	if math.Abs(bv.VoltagePU-0.98) > 1e-6 {
		t.Fatalf("V2 = %.6f, want 0.98", bv.VoltagePU)
	}

	slack, ok := sol.At(1)
	if !ok || slack.VoltagePU != 1.0 {
		t.Fatalf("slack voltage = %+v, want pinned 1.0", slack)
	}
	if slack.AngleDeg != 0 {
		t.Fatalf("slack angle = %g, want 0", slack.AngleDeg)
	}
}

func TestShuntRaisesVoltage(t *testing.T) {
	n := twoBusNet(t, 40, 20)
	s := NewFastDecoupled()

	before, err := s.Solve(n)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if err := n.SetShuntQ(2, 20); err != nil {
		t.Fatalf("SetShuntQ: %v", err)
	}
	after, err := s.Solve(n)
	if err != nil {
		t.Fatalf("Solve with shunt: %v", err)
	}

	vb, _ := before.At(2)
	va, _ := after.At(2)
	if va.VoltagePU <= vb.VoltagePU {
		t.Fatalf("shunt did not raise voltage: %.4f -> %.4f", vb.VoltagePU, va.VoltagePU)
	}
}

func TestLoadLowersVoltage(t *testing.T) {
	n := twoBusNet(t, 40, 20)
	s := NewFastDecoupled()

	before, err := s.Solve(n)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if err := n.ScaleLoad(2, 2.0); err != nil {
		t.Fatalf("ScaleLoad: %v", err)
	}
	after, err := s.Solve(n)
	if err != nil {
		t.Fatalf("Solve with doubled load: %v", err)
	}

	vb, _ := before.At(2)
	va, _ := after.At(2)
	if va.VoltagePU >= vb.VoltagePU {
		t.Fatalf("extra load did not lower voltage: %.4f -> %.4f", vb.VoltagePU, va.VoltagePU)
	}
}

func TestVoltageCollapse(t *testing.T) {
	// 400 MVar over x=0.1 p.u. pulls the bus to 0.6 p.u., below the
	// collapse floor.
	n := twoBusNet(t, 0, 400)
	_, err := NewFastDecoupled().Solve(n)
	if err == nil {
		t.Fatal("expected a convergence failure")
	}
	if !IsConvergenceFailure(err) {
		t.Fatalf("expected ConvergenceFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "collapse") {
		t.Fatalf("error should name the collapse: %v", err)
	}
}

func TestPVBusHoldsSetpoint(t *testing.T) {
	n := twoBusNet(t, 40, 20)
	if err := n.AddBus(&model.Bus{ID: 3, Type: model.BusTypeGen}); err != nil {
		t.Fatalf("AddBus: %v", err)
	}
	if err := n.AddBranch(&model.Branch{FromBus: 2, ToBus: 3, ReactancePU: 0.2}); err != nil {
		t.Fatalf("AddBranch: %v", err)
	}
	if err := n.AddGenerator(&model.Generator{BusID: 3, VSetPU: 1.05}); err != nil {
		t.Fatalf("AddGenerator: %v", err)
	}

	sol, err := NewFastDecoupled().Solve(n)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	bv, _ := sol.At(3)
	if bv.VoltagePU != 1.05 {
		t.Fatalf("PV bus voltage = %.4f, want pinned 1.05", bv.VoltagePU)
	}
}

func TestIslandedBus(t *testing.T) {
	n := twoBusNet(t, 40, 20)
	if err := n.AddBus(&model.Bus{ID: 9, Type: model.BusTypeLoad}); err != nil {
		t.Fatalf("AddBus: %v", err)
	}

	_, err := NewFastDecoupled().Solve(n)
	if err == nil {
		t.Fatal("expected an island error")
	}
	if IsConvergenceFailure(err) {
		t.Fatalf("island should be a structural error, not a convergence failure: %v", err)
	}
}

func TestSolveNoSlack(t *testing.T) {
	n := grid.NewNetwork("noslack", 100)
	if err := n.AddBus(&model.Bus{ID: 1, Type: model.BusTypeLoad}); err != nil {
		t.Fatalf("AddBus: %v", err)
	}
	if _, err := NewFastDecoupled().Solve(n); err == nil {
		t.Fatal("expected an error for a network without a slack bus")
	}
}

func TestElectricalDistances(t *testing.T) {
	n := grid.NewNetwork("radial", 100)
	for id := 1; id <= 3; id++ {
		busType := model.BusTypeLoad
		if id == 1 {
			busType = model.BusTypeSlack
		}
		if err := n.AddBus(&model.Bus{ID: id, Type: busType}); err != nil {
			t.Fatalf("AddBus(%d): %v", id, err)
		}
	}
	if err := n.AddBranch(&model.Branch{FromBus: 1, ToBus: 2, ReactancePU: 0.1}); err != nil {
		t.Fatalf("AddBranch: %v", err)
	}
	if err := n.AddBranch(&model.Branch{FromBus: 2, ToBus: 3, ReactancePU: 0.2}); err != nil {
		t.Fatalf("AddBranch: %v", err)
	}

	dist, err := NewFastDecoupled().ElectricalDistances(n)
	if err != nil {
		t.Fatalf("ElectricalDistances: %v", err)
	}
	want := map[int]float64{1: 0, 2: 0.1, 3: 0.3}
	for id, d := range want {
		if math.Abs(dist[id]-d) > 1e-12 {
			t.Fatalf("dist[%d] = %g, want %g", id, dist[id], d)
		}
	}
}

func TestSweepBudgetExhausted(t *testing.T) {
	n := twoBusNet(t, 40, 20)
	s := &FastDecoupled{MaxSweeps: 1, TolerancePU: 1e-12}
	if _, err := s.Solve(n); !IsConvergenceFailure(err) {
		t.Fatalf("expected ConvergenceFailure on a one-sweep budget, got %v", err)
	}
}
