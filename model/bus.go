package model

// BusType classifies a bus by its role in the power-flow problem.
type BusType int

const (
	BusTypeLoad BusType = iota // PQ bus: P and Q fixed, voltage solved
	BusTypeGen                 // PV bus: P and |V| fixed
	BusTypeSlack               // reference bus: |V| and angle fixed
)

// Bus represents a single electrical node in the network.
type Bus struct {
	ID   int
	Name string
	Type BusType

	// BaseKV is the nominal voltage level of the bus in kilovolts.
	// Per-unit quantities are expressed against this base.
	BaseKV float64

	// VMinPU / VMaxPU are the acceptable per-unit voltage band for
	// this bus. Zero values mean "use the system-wide defaults".
	VMinPU float64
	VMaxPU float64
}
