package core

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/gridsignal/voltage-compensator/grid"
	"github.com/gridsignal/voltage-compensator/internal/logging"
)

// Stock stress parameters drivers offer when the operator accepts the
// defaults. The injector itself never substitutes them: a request
// multiplier must be positive for the modes that consume it.
const (
	DefaultInteractiveMultiplier = 3.0
	DefaultInteractiveAddPMW     = 50.0
	DefaultInteractiveAddQMVAr   = 25.0

	DefaultGlobalMultiplier = 1.5
)

// Fixed auto_weakest parameters.
const (
	weakestMultiplier = 2.0
	weakestAddPMW     = 20.0
	weakestAddQMVAr   = 10.0
)

// Random-mode parameter ranges.
const (
	randomMultiplierMin = 1.5
	randomMultiplierMax = 2.5
	randomAddPMinMW     = 10.0
	randomAddPMaxMW     = 30.0
	randomAddQMinMVAr   = 5.0
	randomAddQMaxMVAr   = 15.0
)

// StressRequest selects a stress scenario.
type StressRequest struct {
	Mode StressMode

	// BusID targets a specific bus. Required for interactive mode,
	// ignored by the other modes.
	BusID int

	// Multiplier scales the existing load. Interactive and
	// global_increase require a positive value; the auto modes ignore
	// it and use their own parameters.
	Multiplier float64

	AddPMW   float64
	AddQMVAr float64
}

// Injector applies load-stress scenarios to a network so the
// compensation engine has a weak-bus condition to work against.
type Injector struct {
	Analyzer *Analyzer
	Log      logging.Logger

	// Rand drives auto_random bus and parameter selection. Nil gets a
	// time-seeded source; tests inject a fixed seed.
	Rand *rand.Rand
}

// Apply runs the requested scenario against net and reports what
// changed. The post-stress figures are read back from the network
// after the guarded solve, so any convergence backoff is reflected in
// the descriptor.
func (inj *Injector) Apply(ctx context.Context, net *grid.Network, req StressRequest) (*ScenarioDescriptor, error) {
	log := inj.Log
	if log == nil {
		log = logging.Noop()
	}
	if req.Multiplier < 0 {
		return nil, fmt.Errorf("%w: multiplier %g", ErrParameterOutOfRange, req.Multiplier)
	}

	switch req.Mode {
	case ModeInteractive:
		if req.Multiplier <= 0 {
			return nil, fmt.Errorf("%w: multiplier %g", ErrParameterOutOfRange, req.Multiplier)
		}
		return inj.stressBus(ctx, net, log, req.Mode, req.BusID, req.Multiplier, req.AddPMW, req.AddQMVAr)

	case ModeAutoWeakest:
		health, err := inj.Analyzer.Analyze(ctx, net)
		if err != nil {
			return nil, err
		}
		return inj.stressBus(ctx, net, log, req.Mode, health.WeakestBus,
			weakestMultiplier, weakestAddPMW, weakestAddQMVAr)

	case ModeAutoRandom:
		r := inj.rng()
		loaded := net.LoadedBusIDs()
		if len(loaded) == 0 {
			return nil, fmt.Errorf("%w: no loaded buses", grid.ErrUnknownBus)
		}
		bus := loaded[r.Intn(len(loaded))]
		mult := randomMultiplierMin + r.Float64()*(randomMultiplierMax-randomMultiplierMin)
		addP := randomAddPMinMW + r.Float64()*(randomAddPMaxMW-randomAddPMinMW)
		addQ := randomAddQMinMVAr + r.Float64()*(randomAddQMaxMVAr-randomAddQMinMVAr)
		return inj.stressBus(ctx, net, log, req.Mode, bus, mult, addP, addQ)

	case ModeGlobalIncrease:
		if req.Multiplier <= 0 {
			return nil, fmt.Errorf("%w: multiplier %g", ErrParameterOutOfRange, req.Multiplier)
		}
		return inj.stressGlobal(ctx, net, log, req.Multiplier)

	case ModeSkip:
		pBefore, qBefore := net.TotalLoad()
		health, err := inj.Analyzer.Analyze(ctx, net)
		if err != nil {
			return nil, err
		}
		pAfter, qAfter := net.TotalLoad()
		log.Info(ctx, "stress skipped, using case as-is",
			logging.Int("violations", len(health.Violations)),
		)
		return &ScenarioDescriptor{
			Mode:        ModeSkip,
			Global:      true,
			PBeforeMW:   pBefore,
			PAfterMW:    pAfter,
			QBeforeMVAr: qBefore,
			QAfterMVAr:  qAfter,
			Violations:  health.Violations,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
}

// stressBus applies newLoad = load*mult + add at one bus and solves.
func (inj *Injector) stressBus(ctx context.Context, net *grid.Network, log logging.Logger,
	mode StressMode, bus int, mult, addP, addQ float64) (*ScenarioDescriptor, error) {

	if !net.HasBus(bus) {
		return nil, fmt.Errorf("%w: %d", grid.ErrUnknownBus, bus)
	}

	pBefore, qBefore, _ := net.LoadAt(bus)
	newP := pBefore*mult + addP
	newQ := qBefore*mult + addQ
	if err := net.SetLoad(bus, newP, newQ); err != nil {
		return nil, err
	}
	log.Info(ctx, "applying bus stress",
		logging.Any("mode", string(mode)),
		logging.Int("bus", bus),
		logging.Float64("multiplier", mult),
		logging.Float64("add_p_mw", addP),
		logging.Float64("add_q_mvar", addQ),
	)

	health, err := inj.Analyzer.AnalyzeChange(ctx, net, Change{Kind: ChangeLoad, BusID: bus})
	if err != nil {
		return nil, err
	}
	pAfter, qAfter, _ := net.LoadAt(bus)
	return &ScenarioDescriptor{
		Mode:        mode,
		BusID:       bus,
		PBeforeMW:   pBefore,
		PAfterMW:    pAfter,
		QBeforeMVAr: qBefore,
		QAfterMVAr:  qAfter,
		Violations:  health.Violations,
	}, nil
}

// stressGlobal scales every load in the system and solves.
func (inj *Injector) stressGlobal(ctx context.Context, net *grid.Network, log logging.Logger,
	mult float64) (*ScenarioDescriptor, error) {

	pBefore, qBefore := net.TotalLoad()
	net.ScaleAllLoads(mult)
	log.Info(ctx, "applying global load increase",
		logging.Float64("multiplier", mult),
		logging.Float64("total_p_before_mw", pBefore),
	)

	health, err := inj.Analyzer.AnalyzeChange(ctx, net, Change{Kind: ChangeGlobalLoad})
	if err != nil {
		return nil, err
	}
	pAfter, qAfter := net.TotalLoad()
	return &ScenarioDescriptor{
		Mode:        ModeGlobalIncrease,
		Global:      true,
		PBeforeMW:   pBefore,
		PAfterMW:    pAfter,
		QBeforeMVAr: qBefore,
		QAfterMVAr:  qAfter,
		Violations:  health.Violations,
	}, nil
}

func (inj *Injector) rng() *rand.Rand {
	if inj.Rand != nil {
		return inj.Rand
	}
	inj.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	return inj.Rand
}
