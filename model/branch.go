package model

// Branch is a transmission line or transformer connecting two buses.
// Impedances are per-unit on the system MVA base.
type Branch struct {
	FromBus int
	ToBus   int
	Name    string

	ResistancePU float64 // series resistance r (p.u.)
	ReactancePU  float64 // series reactance x (p.u.)

	// RatingMVA caps apparent power flow; 0 = unlimited. Stored for
	// reporting, not enforced by the bundled estimator.
	RatingMVA float64
}
