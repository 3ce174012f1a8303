package core

import (
	"context"
	"fmt"
	"math"

	"github.com/gridsignal/voltage-compensator/grid"
	"github.com/gridsignal/voltage-compensator/internal/logging"
	"github.com/gridsignal/voltage-compensator/internal/observability"
	"github.com/gridsignal/voltage-compensator/solver"
)

// RetryPolicy bounds the guard's recovery behaviour after a diverged
// solve.
type RetryPolicy struct {
	// MaxAttempts is the total solve budget per guarded call,
	// including the first attempt.
	MaxAttempts int

	// LoadBackoff is the factor applied to the most recent change on
	// each retry. Must sit strictly between 0 and 1; repeated retries
	// compound it.
	LoadBackoff float64
}

// DefaultRetryPolicy returns the stock policy: three attempts, 0.7
// backoff per retry.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, LoadBackoff: 0.7}
}

// Validate rejects unusable policies.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts %d", ErrParameterOutOfRange, p.MaxAttempts)
	}
	if p.LoadBackoff <= 0 || p.LoadBackoff >= 1 {
		return fmt.Errorf("%w: load backoff %g", ErrParameterOutOfRange, p.LoadBackoff)
	}
	return nil
}

// Guard wraps a Solver with retry-and-back-off recovery. When a solve
// diverges it restores the network to the state it had on entry,
// shrinks the most recent change, and tries again; when the whole
// budget is spent it rolls the network back to the last state that is
// known to solve.
//
// A guard carries per-network state (the last-known-good snapshot), so
// each Network gets its own Guard.
type Guard struct {
	Solver solver.Solver
	Policy RetryPolicy

	Log     logging.Logger
	Metrics *observability.Collector
	Stats   *SessionStats

	lastGood *grid.Snapshot
}

// NewGuard builds a guard around s after validating the policy.
func NewGuard(s solver.Solver, policy RetryPolicy) (*Guard, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Guard{
		Solver: s,
		Policy: policy,
		Log:    logging.Noop(),
	}, nil
}

// Solve runs a guarded solve of net. lastChange names the mutation the
// caller applied just before this call, so the guard knows what to
// shrink when the solver diverges.
//
// On success the solved state becomes the new last-known-good. On a
// diverged solve the guard restores the entry state, scales the
// changed quantity by LoadBackoff (compounding across retries) and
// tries again. When every attempt diverges the network is rolled back
// to the last-known-good state (or the entry state when none exists
// yet) and a ConvergenceExhaustedError is returned. Errors that are
// not convergence failures abort immediately with the entry state
// restored; no retry can fix a structurally broken case.
func (g *Guard) Solve(ctx context.Context, net *grid.Network, lastChange Change) (solver.Solution, error) {
	log := g.Log
	if log == nil {
		log = logging.Noop()
	}

	entry := net.Snapshot()

	var lastErr error
	for attempt := 1; attempt <= g.Policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			net.RestoreSnapshot(entry)
			return nil, err
		}

		sol, err := g.Solver.Solve(net)
		if err == nil {
			g.Stats.IncSolve()
			g.Metrics.ObserveSolve(observability.SolveOutcomeConverged)
			g.lastGood = net.Snapshot()
			return sol, nil
		}

		if !solver.IsConvergenceFailure(err) {
			net.RestoreSnapshot(entry)
			return nil, err
		}

		lastErr = err
		g.Stats.IncSolveFailure()
		g.Metrics.ObserveSolve(observability.SolveOutcomeDiverged)
		log.Warn(ctx, "power flow diverged",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", g.Policy.MaxAttempts),
			logging.Any("error", err.Error()),
		)

		if attempt == g.Policy.MaxAttempts {
			break
		}

		// Restore the entry state and retry with the offending change
		// shrunk a little further each time.
		if err := net.RestoreSnapshot(entry); err != nil {
			return nil, err
		}
		factor := math.Pow(g.Policy.LoadBackoff, float64(attempt))
		if err := g.applyBackoff(net, lastChange, factor); err != nil {
			return nil, err
		}
		g.Stats.IncSolveRetry()
		g.Metrics.IncRetry()
		log.Info(ctx, "retrying with reduced change",
			logging.Int("attempt", attempt+1),
			logging.Float64("backoff_factor", factor),
		)
	}

	// Budget spent. Leave the network in a state that solves.
	restore := entry
	if g.lastGood != nil {
		restore = g.lastGood
	}
	if err := net.RestoreSnapshot(restore); err != nil {
		return nil, err
	}
	g.Stats.IncSolveExhausted()
	g.Metrics.ObserveSolve(observability.SolveOutcomeExhausted)
	log.Error(ctx, "convergence retries exhausted",
		logging.Int("attempts", g.Policy.MaxAttempts),
	)
	return nil, &ConvergenceExhaustedError{
		Attempts:   g.Policy.MaxAttempts,
		LastChange: lastChange,
		Cause:      lastErr,
	}
}

// applyBackoff shrinks the changed quantity in place. A ChangeNone
// retry re-runs the solver on an untouched network, which still helps
// when the previous failure came from an unlucky iteration budget.
func (g *Guard) applyBackoff(net *grid.Network, change Change, factor float64) error {
	switch change.Kind {
	case ChangeLoad:
		return net.ScaleLoad(change.BusID, factor)
	case ChangeShunt:
		return net.ScaleShunt(change.BusID, factor)
	case ChangeGlobalLoad:
		net.ScaleAllLoads(factor)
		return nil
	case ChangeNone:
		return nil
	default:
		return fmt.Errorf("%w: change kind %d", ErrParameterOutOfRange, change.Kind)
	}
}
