// Package core implements the voltage compensation subsystem: the
// convergence guard around power-flow solves, weak-bus analysis,
// load-stress scenario injection, and the compensation engine itself.
package core

import (
	"sort"

	"github.com/gridsignal/voltage-compensator/solver"
)

// DefaultThresholdPU is the per-unit voltage below which a bus counts
// as a violation. Classification is strict (<).
const DefaultThresholdPU = 0.95

// BusVoltageRecord is the solved state of one bus, classified against
// the run's violation threshold. Rebuilt from scratch after every
// solve, never carried across solves.
type BusVoltageRecord struct {
	BusID       int
	VoltagePU   float64
	InViolation bool
}

// ViolationSet holds the buses below threshold, ordered by ascending
// voltage (weakest first), ties broken by ascending bus ID.
type ViolationSet []BusVoltageRecord

// NewViolationSet classifies a solution against threshold and returns
// the ordered violation set.
func NewViolationSet(sol solver.Solution, thresholdPU float64) ViolationSet {
	out := make(ViolationSet, 0)
	for _, bv := range sol {
		if bv.VoltagePU < thresholdPU {
			out = append(out, BusVoltageRecord{
				BusID:       bv.BusID,
				VoltagePU:   bv.VoltagePU,
				InViolation: true,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VoltagePU != out[j].VoltagePU {
			return out[i].VoltagePU < out[j].VoltagePU
		}
		return out[i].BusID < out[j].BusID
	})
	return out
}

// Contains reports whether the bus is still in the set.
func (v ViolationSet) Contains(bus int) bool {
	for _, rec := range v {
		if rec.BusID == bus {
			return true
		}
	}
	return false
}

// BusIDs returns the bus IDs in set order (weakest first).
func (v ViolationSet) BusIDs() []int {
	out := make([]int, 0, len(v))
	for _, rec := range v {
		out = append(out, rec.BusID)
	}
	return out
}

// Health is the analyzer's snapshot of system condition after one
// guarded solve.
type Health struct {
	WeakestBus   int
	MinVoltagePU float64
	Violations   ViolationSet
	TotalBuses   int
	LoadedBuses  int
}

// StepStatus is the terminal outcome of one per-bus compensation
// search.
type StepStatus string

const (
	StepSuccess            StepStatus = "success"
	StepLimitedImprovement StepStatus = "limited_improvement"
	StepFailed             StepStatus = "failed"
)

// CompensationStep records one per-bus search outcome. Immutable once
// appended to a result.
type CompensationStep struct {
	BusID         int
	QInjectedMVAr float64
	VoltageBefore float64
	VoltageAfter  float64
	Status        StepStatus
}

// Improvement returns the voltage gain of the step.
func (s CompensationStep) Improvement() float64 {
	return s.VoltageAfter - s.VoltageBefore
}

// CompensationResult aggregates one Engine.Apply call. It is returned
// to the caller and not retained by the engine.
type CompensationResult struct {
	Strategy           Strategy
	Steps              []CompensationStep
	TotalQInjectedMVAr float64
	FinalViolations    ViolationSet
	Stats              SessionSnapshot
}

// StressMode selects how the load-stress injector creates (or keeps)
// a weak-bus condition.
type StressMode string

const (
	ModeInteractive    StressMode = "interactive"
	ModeAutoWeakest    StressMode = "auto_weakest"
	ModeAutoRandom     StressMode = "auto_random"
	ModeGlobalIncrease StressMode = "global_increase"
	ModeSkip           StressMode = "skip"
)

// ScenarioDescriptor records what the stress injector did, for
// reporting. For global_increase the P/Q figures are system
// aggregates and Global is set.
type ScenarioDescriptor struct {
	Mode   StressMode
	BusID  int
	Global bool

	PBeforeMW   float64
	PAfterMW    float64
	QBeforeMVAr float64
	QAfterMVAr  float64

	Violations ViolationSet
}

// ChangeKind identifies which mutable quantity a network change
// touched, so the guard knows what to back off after a failed solve.
type ChangeKind int

const (
	ChangeNone ChangeKind = iota
	ChangeLoad
	ChangeShunt
	ChangeGlobalLoad
)

// Change describes the most recent mutation ahead of a guarded solve.
type Change struct {
	Kind  ChangeKind
	BusID int // unused for ChangeNone and ChangeGlobalLoad
}
