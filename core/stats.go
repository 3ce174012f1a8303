package core

import "sync"

// SessionStats tracks in-memory counters for one compensation session.
// All counters are concurrency-safe so a status endpoint can read them
// while a run is in flight.
type SessionStats struct {
	mu sync.Mutex

	// Solver activity
	NumSolves         uint64
	NumSolveFailures  uint64
	NumSolveRetries   uint64
	NumSolveExhausted uint64

	// Compensation outcomes
	NumStepsSuccess uint64
	NumStepsLimited uint64
	NumStepsFailed  uint64

	TotalQInjectedMVAr float64
}

// NewSessionStats creates a SessionStats with all counters at zero.
func NewSessionStats() *SessionStats {
	return &SessionStats{}
}

// IncSolve increments the converged-solve counter.
func (s *SessionStats) IncSolve() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NumSolves++
}

// IncSolveFailure increments the failed-attempt counter.
func (s *SessionStats) IncSolveFailure() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NumSolveFailures++
}

// IncSolveRetry increments the retry counter.
func (s *SessionStats) IncSolveRetry() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NumSolveRetries++
}

// IncSolveExhausted increments the exhausted-budget counter.
func (s *SessionStats) IncSolveExhausted() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NumSolveExhausted++
}

// RecordStep accounts one per-bus search outcome.
func (s *SessionStats) RecordStep(status StepStatus, qInjectedMVAr float64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch status {
	case StepSuccess:
		s.NumStepsSuccess++
	case StepLimitedImprovement:
		s.NumStepsLimited++
	case StepFailed:
		s.NumStepsFailed++
	}
	if qInjectedMVAr > 0 {
		s.TotalQInjectedMVAr += qInjectedMVAr
	}
}

// SessionSnapshot is a point-in-time copy of the counters, safe to
// read without holding the mutex.
type SessionSnapshot struct {
	NumSolves          uint64
	NumSolveFailures   uint64
	NumSolveRetries    uint64
	NumSolveExhausted  uint64
	NumStepsSuccess    uint64
	NumStepsLimited    uint64
	NumStepsFailed     uint64
	TotalQInjectedMVAr float64
}

// Snapshot returns a copy of the current counter values.
func (s *SessionStats) Snapshot() SessionSnapshot {
	if s == nil {
		return SessionSnapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		NumSolves:          s.NumSolves,
		NumSolveFailures:   s.NumSolveFailures,
		NumSolveRetries:    s.NumSolveRetries,
		NumSolveExhausted:  s.NumSolveExhausted,
		NumStepsSuccess:    s.NumStepsSuccess,
		NumStepsLimited:    s.NumStepsLimited,
		NumStepsFailed:     s.NumStepsFailed,
		TotalQInjectedMVAr: s.TotalQInjectedMVAr,
	}
}
