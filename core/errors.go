package core

import (
	"errors"
	"fmt"
)

var (
	// ErrParameterOutOfRange rejects non-positive step sizes, ceilings,
	// multipliers or retry budgets. Values are never silently clamped.
	ErrParameterOutOfRange = errors.New("parameter out of range")

	// ErrConvergenceExhausted marks a guard that spent its whole retry
	// budget without a converged solve. Match with errors.Is; the full
	// context lives on ConvergenceExhaustedError.
	ErrConvergenceExhausted = errors.New("convergence retries exhausted")

	// ErrUnknownStrategy rejects strategy names outside the known set.
	ErrUnknownStrategy = errors.New("unknown compensation strategy")

	// ErrUnknownMode rejects stress modes outside the known set.
	ErrUnknownMode = errors.New("unknown stress mode")
)

// ConvergenceExhaustedError reports that every retry attempt failed.
// The network has been restored to its last solvable state by the time
// the caller sees this error.
type ConvergenceExhaustedError struct {
	Attempts   int
	LastChange Change
	Cause      error
}

func (e *ConvergenceExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrConvergenceExhausted, e.Attempts, e.Cause)
}

func (e *ConvergenceExhaustedError) Is(target error) bool {
	return target == ErrConvergenceExhausted
}

func (e *ConvergenceExhaustedError) Unwrap() error { return e.Cause }
