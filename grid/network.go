package grid

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gridsignal/voltage-compensator/model"
)

var (
	ErrUnknownBus   = errors.New("unknown bus")
	ErrBusExists    = errors.New("bus already exists")
	ErrBadBus       = errors.New("invalid bus")
	ErrBadBranch    = errors.New("invalid branch")
	ErrBadGenerator = errors.New("invalid generator")
	ErrNoSlackBus   = errors.New("network has no slack bus")
	ErrNilSnapshot  = errors.New("nil snapshot")
)

// Network is the mutable in-memory network model: buses, branches,
// generators, and the per-bus load and shunt values the compensation
// core mutates in place.
//
// NOTE: the store is concurrency-safe via an internal RWMutex so a
// metrics endpoint or a batch driver can read it while a run is in
// flight, as long as all access goes through these methods. A single
// compensation run is still one logical thread of control; concurrent
// runs must each work on their own Clone.
type Network struct {
	mu sync.RWMutex

	name    string
	mvaBase float64

	buses    map[int]*model.Bus
	loads    map[int]*model.Load
	shunts   map[int]*model.Shunt
	gens     map[int][]*model.Generator
	branches []*model.Branch
	slackBus int
	hasSlack bool
}

// NewNetwork creates an empty network. mvaBase is the system MVA base
// for per-unit impedances; 0 defaults to 100 MVA.
func NewNetwork(name string, mvaBase float64) *Network {
	if mvaBase <= 0 {
		mvaBase = 100.0
	}
	return &Network{
		name:    name,
		mvaBase: mvaBase,
		buses:   make(map[int]*model.Bus),
		loads:   make(map[int]*model.Load),
		shunts:  make(map[int]*model.Shunt),
		gens:    make(map[int][]*model.Generator),
	}
}

// Name returns the case name this network was built from.
func (n *Network) Name() string { return n.name }

// MVABase returns the system MVA base.
func (n *Network) MVABase() float64 { return n.mvaBase }

//
// ---------- Buses ----------
//

func (n *Network) AddBus(bus *model.Bus) error {
	if bus == nil || bus.ID <= 0 {
		return fmt.Errorf("%w", ErrBadBus)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.buses[bus.ID]; exists {
		return fmt.Errorf("%w: %d", ErrBusExists, bus.ID)
	}
	n.buses[bus.ID] = bus
	if bus.Type == model.BusTypeSlack {
		n.slackBus = bus.ID
		n.hasSlack = true
	}
	return nil
}

// Bus returns the bus record by ID, or nil if not found.
func (n *Network) Bus(id int) *model.Bus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.buses[id]
}

// HasBus reports whether the bus exists.
func (n *Network) HasBus(id int) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.buses[id]
	return ok
}

// BusIDs returns all bus IDs in ascending order.
func (n *Network) BusIDs() []int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]int, 0, len(n.buses))
	for id := range n.buses {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// NumBuses returns the number of buses.
func (n *Network) NumBuses() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.buses)
}

// SlackBus returns the slack bus ID, or ErrNoSlackBus when the case
// declared none.
func (n *Network) SlackBus() (int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.hasSlack {
		return 0, ErrNoSlackBus
	}
	return n.slackBus, nil
}

//
// ---------- Branches ----------
//

func (n *Network) AddBranch(br *model.Branch) error {
	if br == nil || br.FromBus == br.ToBus {
		return fmt.Errorf("%w", ErrBadBranch)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.buses[br.FromBus]; !ok {
		return fmt.Errorf("%w: branch references %d", ErrUnknownBus, br.FromBus)
	}
	if _, ok := n.buses[br.ToBus]; !ok {
		return fmt.Errorf("%w: branch references %d", ErrUnknownBus, br.ToBus)
	}
	n.branches = append(n.branches, br)
	return nil
}

// Branches returns a copy of the branch list.
func (n *Network) Branches() []model.Branch {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]model.Branch, 0, len(n.branches))
	for _, br := range n.branches {
		out = append(out, *br)
	}
	return out
}

//
// ---------- Generators ----------
//

func (n *Network) AddGenerator(gen *model.Generator) error {
	if gen == nil {
		return fmt.Errorf("%w", ErrBadGenerator)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.buses[gen.BusID]; !ok {
		return fmt.Errorf("%w: generator at %d", ErrUnknownBus, gen.BusID)
	}
	n.gens[gen.BusID] = append(n.gens[gen.BusID], gen)
	if gen.IsSlack {
		n.slackBus = gen.BusID
		n.hasSlack = true
	}
	return nil
}

// GeneratorsAt returns the generators at a bus (possibly empty).
func (n *Network) GeneratorsAt(bus int) []model.Generator {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]model.Generator, 0, len(n.gens[bus]))
	for _, g := range n.gens[bus] {
		out = append(out, *g)
	}
	return out
}

// GeneratorBusIDs returns the IDs of buses with at least one
// generator, ascending.
func (n *Network) GeneratorBusIDs() []int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]int, 0, len(n.gens))
	for id := range n.gens {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

//
// ---------- Loads ----------
//

// SetLoad sets the aggregate demand at a bus, creating the load record
// if none exists yet (new stress scenarios may load a previously
// unloaded bus).
func (n *Network) SetLoad(bus int, pMW, qMVAr float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.buses[bus]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBus, bus)
	}
	if ld, ok := n.loads[bus]; ok {
		ld.PMW = pMW
		ld.QMVAr = qMVAr
		return nil
	}
	n.loads[bus] = &model.Load{BusID: bus, PMW: pMW, QMVAr: qMVAr}
	return nil
}

// LoadAt returns the demand at a bus. ok is false when the bus carries
// no load record.
func (n *Network) LoadAt(bus int) (pMW, qMVAr float64, ok bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	ld, ok := n.loads[bus]
	if !ok {
		return 0, 0, false
	}
	return ld.PMW, ld.QMVAr, true
}

// ScaleLoad multiplies both P and Q at a bus by factor.
func (n *Network) ScaleLoad(bus int, factor float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	ld, ok := n.loads[bus]
	if !ok {
		return fmt.Errorf("%w: no load at %d", ErrUnknownBus, bus)
	}
	ld.PMW *= factor
	ld.QMVAr *= factor
	return nil
}

// ScaleAllLoads multiplies P and Q at every loaded bus by factor.
func (n *Network) ScaleAllLoads(factor float64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ld := range n.loads {
		ld.PMW *= factor
		ld.QMVAr *= factor
	}
}

// LoadedBusIDs returns the IDs of buses carrying a load record,
// ascending.
func (n *Network) LoadedBusIDs() []int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]int, 0, len(n.loads))
	for id := range n.loads {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// TotalLoad returns the system-wide aggregate demand.
func (n *Network) TotalLoad() (pMW, qMVAr float64) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ld := range n.loads {
		pMW += ld.PMW
		qMVAr += ld.QMVAr
	}
	return pMW, qMVAr
}

//
// ---------- Shunts ----------
//

// SetShuntQ sets the shunt injection at a bus, creating the shunt
// element if none exists. Positive Q is capacitive (voltage-raising).
func (n *Network) SetShuntQ(bus int, qMVAr float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.buses[bus]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBus, bus)
	}
	if sh, ok := n.shunts[bus]; ok {
		sh.QMVAr = qMVAr
		return nil
	}
	n.shunts[bus] = &model.Shunt{BusID: bus, QMVAr: qMVAr}
	return nil
}

// ShuntQAt returns the shunt injection at a bus; 0 when none exists.
func (n *Network) ShuntQAt(bus int) float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if sh, ok := n.shunts[bus]; ok {
		return sh.QMVAr
	}
	return 0
}

// ScaleShunt multiplies the shunt injection at a bus by factor.
func (n *Network) ScaleShunt(bus int, factor float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	sh, ok := n.shunts[bus]
	if !ok {
		return fmt.Errorf("%w: no shunt at %d", ErrUnknownBus, bus)
	}
	sh.QMVAr *= factor
	return nil
}

// ShuntBusIDs returns the IDs of buses with a shunt element, ascending.
func (n *Network) ShuntBusIDs() []int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]int, 0, len(n.shunts))
	for id := range n.shunts {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
