package model

// Load is the aggregate demand connected at a bus. The store keeps at
// most one Load per bus; case loaders fold multiple records together.
type Load struct {
	BusID int
	Name  string
	PMW   float64 // active power demand (MW)
	QMVAr float64 // reactive power demand (MVar)
}

// Generator is a generating unit at a bus. For voltage studies only
// the setpoint voltage and active injection matter.
type Generator struct {
	BusID    int
	Name     string
	PMW      float64 // scheduled active output (MW)
	VSetPU   float64 // voltage setpoint (per-unit)
	QMinMVAr float64
	QMaxMVAr float64
	IsSlack  bool
}

// Shunt is a controllable shunt element at a bus. Positive QMVAr is
// capacitive injection (raises local voltage), matching the sign
// convention used by the compensation engine.
type Shunt struct {
	BusID int
	Name  string
	QMVAr float64
}
