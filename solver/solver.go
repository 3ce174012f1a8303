package solver

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gridsignal/voltage-compensator/grid"
)

// Solver computes a steady-state voltage solution for a network. The
// compensation core treats implementations as a black box: the bundled
// estimator, a stub, or a bridge to an external power-flow engine all
// satisfy the same contract.
type Solver interface {
	Solve(net *grid.Network) (Solution, error)
}

// BusVoltage is the solved state of one bus.
type BusVoltage struct {
	BusID     int
	VoltagePU float64
	AngleDeg  float64
}

// Solution is a solved voltage profile, ordered by ascending bus ID.
type Solution []BusVoltage

// At returns the record for a bus, or ok=false if the bus was not part
// of the solve.
func (s Solution) At(bus int) (BusVoltage, bool) {
	for _, bv := range s {
		if bv.BusID == bus {
			return bv, true
		}
	}
	return BusVoltage{}, false
}

// Min returns the weakest bus in the solution. Ties resolve to the
// lowest bus ID; ok is false for an empty solution.
func (s Solution) Min() (BusVoltage, bool) {
	if len(s) == 0 {
		return BusVoltage{}, false
	}
	min := s[0]
	for _, bv := range s[1:] {
		if bv.VoltagePU < min.VoltagePU ||
			(bv.VoltagePU == min.VoltagePU && bv.BusID < min.BusID) {
			min = bv
		}
	}
	return min, true
}

// sortByBus orders a solution by ascending bus ID in place.
func sortByBus(s Solution) {
	sort.Slice(s, func(i, j int) bool { return s[i].BusID < s[j].BusID })
}

// ConvergenceFailure reports that the solver's iteration did not reach
// a stable solution. It is consumed by the retry guard and never
// reaches the compensation engine directly.
type ConvergenceFailure struct {
	Sweeps int
	Reason string
}

func (e *ConvergenceFailure) Error() string {
	return fmt.Sprintf("power flow did not converge after %d sweeps: %s", e.Sweeps, e.Reason)
}

// IsConvergenceFailure reports whether err is (or wraps) a solver
// convergence failure, as opposed to a structural problem with the
// case that no retry can fix.
func IsConvergenceFailure(err error) bool {
	var cf *ConvergenceFailure
	return errors.As(err, &cf)
}
