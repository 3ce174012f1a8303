package core

import "fmt"

// Strategy selects how the engine walks the violation set.
type Strategy string

const (
	// StrategyTargeted compensates only the single weakest bus.
	StrategyTargeted Strategy = "targeted"

	// StrategyGlobal compensates every violating bus, weakest first,
	// re-solving between buses so fixed neighbours are skipped.
	StrategyGlobal Strategy = "global"

	// StrategyOptimal orders buses by priority (voltage deficit
	// discounted by electrical distance from the slack) and applies a
	// tighter per-bus budget.
	StrategyOptimal Strategy = "optimal"
)

// ParseStrategy maps a user-facing name onto a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case StrategyTargeted, StrategyGlobal, StrategyOptimal:
		return Strategy(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Params bounds the per-bus compensation search.
type Params struct {
	// ThresholdPU is the violation cutoff; zero means
	// DefaultThresholdPU.
	ThresholdPU float64

	// StepQMVAr is the shunt increment per search iteration.
	StepQMVAr float64

	// MaxQMVAr is the per-bus injection ceiling.
	MaxQMVAr float64

	// ImprovementEpsPU separates limited improvement from outright
	// failure when a search hits its ceiling.
	ImprovementEpsPU float64

	// DeferEpsPU pushes buses within this margin of the threshold to
	// the back of the optimal strategy's order.
	DeferEpsPU float64

	// OptimalPerBusMaxQMVAr is the tighter ceiling the optimal
	// strategy applies per bus.
	OptimalPerBusMaxQMVAr float64
}

// DefaultParams returns the stock search bounds.
func DefaultParams() Params {
	return Params{
		ThresholdPU:           DefaultThresholdPU,
		StepQMVAr:             5.0,
		MaxQMVAr:              150.0,
		ImprovementEpsPU:      1e-3,
		DeferEpsPU:            0.005,
		OptimalPerBusMaxQMVAr: 75.0,
	}
}

// Validate rejects unusable bounds. Values are never silently clamped.
func (p Params) Validate() error {
	if p.StepQMVAr <= 0 {
		return fmt.Errorf("%w: step %g MVar", ErrParameterOutOfRange, p.StepQMVAr)
	}
	if p.MaxQMVAr <= 0 {
		return fmt.Errorf("%w: ceiling %g MVar", ErrParameterOutOfRange, p.MaxQMVAr)
	}
	if p.StepQMVAr > p.MaxQMVAr {
		return fmt.Errorf("%w: step %g exceeds ceiling %g", ErrParameterOutOfRange, p.StepQMVAr, p.MaxQMVAr)
	}
	if p.ThresholdPU < 0 {
		return fmt.Errorf("%w: threshold %g", ErrParameterOutOfRange, p.ThresholdPU)
	}
	if p.ImprovementEpsPU < 0 {
		return fmt.Errorf("%w: improvement epsilon %g", ErrParameterOutOfRange, p.ImprovementEpsPU)
	}
	if p.DeferEpsPU < 0 {
		return fmt.Errorf("%w: defer epsilon %g", ErrParameterOutOfRange, p.DeferEpsPU)
	}
	if p.OptimalPerBusMaxQMVAr <= 0 {
		return fmt.Errorf("%w: optimal per-bus ceiling %g MVar", ErrParameterOutOfRange, p.OptimalPerBusMaxQMVAr)
	}
	return nil
}

// threshold returns the effective violation cutoff.
func (p Params) threshold() float64 {
	if p.ThresholdPU > 0 {
		return p.ThresholdPU
	}
	return DefaultThresholdPU
}

// PriorityFunc scores a violating bus for the optimal strategy. Higher
// scores compensate first.
type PriorityFunc func(rec BusVoltageRecord, electricalDistance float64) float64

// DeficitDistancePriority scores buses by voltage deficit discounted
// by electrical distance from the slack: a deep sag close to the
// source outranks a similar sag at the end of a long feeder.
func DeficitDistancePriority(thresholdPU float64) PriorityFunc {
	return func(rec BusVoltageRecord, electricalDistance float64) float64 {
		deficit := thresholdPU - rec.VoltagePU
		if deficit < 0 {
			deficit = 0
		}
		return deficit / (1.0 + electricalDistance)
	}
}
