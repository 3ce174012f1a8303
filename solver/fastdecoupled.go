package solver

import (
	"fmt"
	"math"

	"github.com/gridsignal/voltage-compensator/grid"
)

// FastDecoupled is the bundled approximate AC power-flow solver. It
// splits the problem the way fast-decoupled load flow does: a DC-style
// angle sweep first (active flows), then a reactive/voltage sweep that
// applies series r·P + x·Q drops and shunt support at solved voltage.
// Both phases run Gauss-Seidel sweeps over the bus set and report a
// ConvergenceFailure when the sweep budget runs out or the voltage
// profile collapses.
//
// It is an estimator, not a transient-accurate solver: good enough to
// rank weak buses, respond monotonically to load and shunt changes,
// and diverge under the kind of extreme stress that breaks a real
// Newton-Raphson solve.
type FastDecoupled struct {
	// MaxSweeps bounds the Gauss-Seidel sweeps per phase. 0 = 500.
	MaxSweeps int
	// TolerancePU is the per-sweep max delta that counts as converged.
	// 0 = 1e-8.
	TolerancePU float64
	// CollapseFloorPU aborts the solve as divergent when any solved
	// voltage falls below it. 0 = 0.7 p.u.
	CollapseFloorPU float64
}

// NewFastDecoupled returns an estimator with default settings.
func NewFastDecoupled() *FastDecoupled {
	return &FastDecoupled{}
}

func (s *FastDecoupled) maxSweeps() int {
	if s.MaxSweeps > 0 {
		return s.MaxSweeps
	}
	return 500
}

func (s *FastDecoupled) tolerance() float64 {
	if s.TolerancePU > 0 {
		return s.TolerancePU
	}
	return 1e-8
}

func (s *FastDecoupled) collapseFloor() float64 {
	if s.CollapseFloorPU > 0 {
		return s.CollapseFloorPU
	}
	return 0.7
}

// edge is one adjacency entry: branch towards neighbour `to`.
type edge struct {
	to int
	r  float64
	x  float64
}

// Solve implements Solver.
func (s *FastDecoupled) Solve(net *grid.Network) (Solution, error) {
	if net == nil {
		return nil, fmt.Errorf("solve: nil network")
	}
	slack, err := net.SlackBus()
	if err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}
	busIDs := net.BusIDs()
	if len(busIDs) == 0 {
		return nil, fmt.Errorf("solve: empty network")
	}

	adj := adjacency(net)
	if err := checkReachable(busIDs, adj, slack); err != nil {
		return nil, err
	}

	base := net.MVABase()

	// Fixed-voltage buses: the slack plus every bus with a generator
	// voltage setpoint (PV buses hold their setpoint in this model).
	fixedV := map[int]float64{slack: 1.0}
	for _, id := range net.GeneratorBusIDs() {
		for _, g := range net.GeneratorsAt(id) {
			if g.VSetPU > 0 {
				fixedV[id] = g.VSetPU
				break
			}
		}
	}
	if v, ok := fixedV[slack]; !ok || v == 0 {
		fixedV[slack] = 1.0
	}

	// Net per-unit active injection per bus (generation minus demand).
	pInj := make(map[int]float64, len(busIDs))
	qLoad := make(map[int]float64, len(busIDs))
	shuntQ := make(map[int]float64, len(busIDs))
	for _, id := range busIDs {
		p, q, ok := net.LoadAt(id)
		if ok {
			pInj[id] -= p / base
			qLoad[id] = q / base
		}
		for _, g := range net.GeneratorsAt(id) {
			pInj[id] += g.PMW / base
		}
		shuntQ[id] = net.ShuntQAt(id) / base
	}

	theta, err := s.solveAngles(busIDs, adj, pInj, slack)
	if err != nil {
		return nil, err
	}

	volt, err := s.solveVoltages(busIDs, adj, theta, qLoad, shuntQ, fixedV)
	if err != nil {
		return nil, err
	}

	out := make(Solution, 0, len(busIDs))
	for _, id := range busIDs {
		out = append(out, BusVoltage{
			BusID:     id,
			VoltagePU: volt[id],
			AngleDeg:  theta[id] * 180.0 / math.Pi,
		})
	}
	sortByBus(out)
	return out, nil
}

// solveAngles runs the DC-style angle sweep. The slack angle is pinned
// at zero; every other bus balances active flows over its branches.
func (s *FastDecoupled) solveAngles(busIDs []int, adj map[int][]edge, pInj map[int]float64, slack int) (map[int]float64, error) {
	theta := make(map[int]float64, len(busIDs))

	for sweep := 0; sweep < s.maxSweeps(); sweep++ {
		maxDelta := 0.0
		for _, id := range busIDs {
			if id == slack {
				continue
			}
			num := pInj[id]
			den := 0.0
			for _, e := range adj[id] {
				num += theta[e.to] / e.x
				den += 1.0 / e.x
			}
			if den == 0 {
				continue
			}
			next := num / den
			if d := math.Abs(next - theta[id]); d > maxDelta {
				maxDelta = d
			}
			theta[id] = next
		}
		if maxDelta < s.tolerance() {
			return theta, nil
		}
	}
	return nil, &ConvergenceFailure{Sweeps: s.maxSweeps(), Reason: "angle sweep limit reached"}
}

// solveVoltages runs the reactive sweep. Fixed buses hold their
// setpoints; PQ buses balance reactive flows, with active flows
// contributing series-resistance drops and shunts injecting at solved
// voltage.
func (s *FastDecoupled) solveVoltages(busIDs []int, adj map[int][]edge, theta, qLoad, shuntQ, fixedV map[int]float64) (map[int]float64, error) {
	volt := make(map[int]float64, len(busIDs))
	for _, id := range busIDs {
		if v, ok := fixedV[id]; ok {
			volt[id] = v
		} else {
			volt[id] = 1.0
		}
	}

	floor := s.collapseFloor()
	for sweep := 0; sweep < s.maxSweeps(); sweep++ {
		maxDelta := 0.0
		for _, id := range busIDs {
			if _, ok := fixedV[id]; ok {
				continue
			}
			// Net reactive injection at this bus: shunt support at
			// solved voltage minus demand, plus the resistive drop
			// carried by active flows on attached branches.
			num := shuntQ[id]*volt[id]*volt[id] - qLoad[id]
			den := 0.0
			for _, e := range adj[id] {
				pFlow := (theta[id] - theta[e.to]) / e.x
				num += (e.r / e.x) * pFlow
				num += volt[e.to] / e.x
				den += 1.0 / e.x
			}
			if den == 0 {
				continue
			}
			next := num / den
			if next < floor {
				return nil, &ConvergenceFailure{
					Sweeps: sweep + 1,
					Reason: fmt.Sprintf("voltage collapse at bus %d (%.3f p.u.)", id, next),
				}
			}
			if d := math.Abs(next - volt[id]); d > maxDelta {
				maxDelta = d
			}
			volt[id] = next
		}
		if maxDelta < s.tolerance() {
			return volt, nil
		}
	}
	return nil, &ConvergenceFailure{Sweeps: s.maxSweeps(), Reason: "voltage sweep limit reached"}
}

// ElectricalDistances returns the shortest cumulative series reactance
// from the slack bus to every bus. The optimal compensation strategy
// uses this as its influence proxy: electrically remote buses respond
// more to local injection.
func (s *FastDecoupled) ElectricalDistances(net *grid.Network) (map[int]float64, error) {
	slack, err := net.SlackBus()
	if err != nil {
		return nil, err
	}
	busIDs := net.BusIDs()
	adj := adjacency(net)

	const inf = math.MaxFloat64
	dist := make(map[int]float64, len(busIDs))
	done := make(map[int]bool, len(busIDs))
	for _, id := range busIDs {
		dist[id] = inf
	}
	dist[slack] = 0

	for range busIDs {
		// Pick the closest unfinished bus; lowest ID wins ties so the
		// ordering is deterministic.
		best, bestD := -1, inf
		for _, id := range busIDs {
			if !done[id] && dist[id] < bestD {
				best, bestD = id, dist[id]
			}
		}
		if best < 0 {
			break
		}
		done[best] = true
		for _, e := range adj[best] {
			if d := bestD + e.x; d < dist[e.to] {
				dist[e.to] = d
			}
		}
	}
	return dist, nil
}

// adjacency builds the per-bus edge lists. Zero or negative reactances
// (ideal transformers in some case files) are clamped to a small
// positive value so sweep weights stay finite.
func adjacency(net *grid.Network) map[int][]edge {
	const minX = 1e-4
	adj := make(map[int][]edge)
	for _, br := range net.Branches() {
		x := math.Abs(br.ReactancePU)
		if x < minX {
			x = minX
		}
		r := math.Abs(br.ResistancePU)
		adj[br.FromBus] = append(adj[br.FromBus], edge{to: br.ToBus, r: r, x: x})
		adj[br.ToBus] = append(adj[br.ToBus], edge{to: br.FromBus, r: r, x: x})
	}
	return adj
}

// checkReachable verifies every bus has a path to the slack; islanded
// buses have no defined voltage in this model.
func checkReachable(busIDs []int, adj map[int][]edge, slack int) error {
	seen := map[int]bool{slack: true}
	queue := []int{slack}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range adj[id] {
			if !seen[e.to] {
				seen[e.to] = true
				queue = append(queue, e.to)
			}
		}
	}
	for _, id := range busIDs {
		if !seen[id] {
			return fmt.Errorf("solve: bus %d is islanded from slack bus %d", id, slack)
		}
	}
	return nil
}
