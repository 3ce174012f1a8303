// Package report renders analysis and compensation outcomes for the
// terminal, plus a JSON form for machine consumers.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/gridsignal/voltage-compensator/core"
)

// WriteHealth renders one health snapshot.
func WriteHealth(w io.Writer, health *core.Health, thresholdPU float64) error {
	fmt.Fprintf(w, "System health: %d buses, %d loaded\n", health.TotalBuses, health.LoadedBuses)
	fmt.Fprintf(w, "Weakest bus: %d at %.4f p.u. (threshold %.2f)\n",
		health.WeakestBus, health.MinVoltagePU, thresholdPU)
	if len(health.Violations) == 0 {
		fmt.Fprintln(w, "No voltage violations.")
		return nil
	}
	fmt.Fprintf(w, "Violations: %d\n", len(health.Violations))
	return writeViolations(w, health.Violations)
}

// WriteScenario renders what the stress injector did.
func WriteScenario(w io.Writer, sc *core.ScenarioDescriptor) error {
	if sc.Mode == core.ModeSkip {
		fmt.Fprintln(w, "Stress: skipped, case used as-is")
	} else if sc.Global {
		fmt.Fprintf(w, "Stress: %s, total load %.1f -> %.1f MW, %.1f -> %.1f MVar\n",
			sc.Mode, sc.PBeforeMW, sc.PAfterMW, sc.QBeforeMVAr, sc.QAfterMVAr)
	} else {
		fmt.Fprintf(w, "Stress: %s at bus %d, load %.1f -> %.1f MW, %.1f -> %.1f MVar\n",
			sc.Mode, sc.BusID, sc.PBeforeMW, sc.PAfterMW, sc.QBeforeMVAr, sc.QAfterMVAr)
	}
	if len(sc.Violations) == 0 {
		fmt.Fprintln(w, "No voltage violations after stress.")
		return nil
	}
	fmt.Fprintf(w, "Violations after stress: %d\n", len(sc.Violations))
	return writeViolations(w, sc.Violations)
}

// WriteResult renders a compensation run: one row per bus search, the
// totals, and the final system status line.
func WriteResult(w io.Writer, res *core.CompensationResult, thresholdPU float64) error {
	fmt.Fprintf(w, "Compensation strategy: %s\n", res.Strategy)
	if len(res.Steps) == 0 {
		fmt.Fprintln(w, "No compensation needed.")
	} else {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "BUS\tQ INJECTED (MVAr)\tV BEFORE\tV AFTER\tSTATUS")
		for _, st := range res.Steps {
			fmt.Fprintf(tw, "%d\t%.1f\t%.4f\t%.4f\t%s\n",
				st.BusID, st.QInjectedMVAr, st.VoltageBefore, st.VoltageAfter, st.Status)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(w, "Total reactive power injected: %.1f MVar\n", res.TotalQInjectedMVAr)
	}

	fmt.Fprintf(w, "Solves: %d converged, %d diverged, %d retries, %d exhausted\n",
		res.Stats.NumSolves, res.Stats.NumSolveFailures,
		res.Stats.NumSolveRetries, res.Stats.NumSolveExhausted)

	if len(res.FinalViolations) == 0 {
		fmt.Fprintf(w, "System status: HEALTHY (all buses at or above %.2f p.u.)\n", thresholdPU)
		return nil
	}
	fmt.Fprintf(w, "System status: DEGRADED (%d buses below %.2f p.u.)\n",
		len(res.FinalViolations), thresholdPU)
	return writeViolations(w, res.FinalViolations)
}

func writeViolations(w io.Writer, set core.ViolationSet) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUS\tVOLTAGE (p.u.)")
	for _, rec := range set {
		fmt.Fprintf(tw, "%d\t%.4f\n", rec.BusID, rec.VoltagePU)
	}
	return tw.Flush()
}

// jsonReport is the machine-readable envelope for one run.
type jsonReport struct {
	Scenario *core.ScenarioDescriptor `json:"scenario,omitempty"`
	Result   *core.CompensationResult `json:"result,omitempty"`
	Healthy  bool                     `json:"healthy"`
}

// WriteJSON emits the run as indented JSON.
func WriteJSON(w io.Writer, sc *core.ScenarioDescriptor, res *core.CompensationResult) error {
	rep := jsonReport{Scenario: sc, Result: res}
	if res != nil {
		rep.Healthy = len(res.FinalViolations) == 0
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
