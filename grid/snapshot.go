package grid

import "github.com/gridsignal/voltage-compensator/model"

// Snapshot is a value copy of the mutable portion of a Network: loads
// and shunts. Topology (buses, branches, generators) is never mutated
// by the compensation core, so it is not captured.
type Snapshot struct {
	loads  map[int]model.Load
	shunts map[int]model.Shunt
}

// Snapshot captures the current load and shunt values.
func (n *Network) Snapshot() *Snapshot {
	n.mu.RLock()
	defer n.mu.RUnlock()

	s := &Snapshot{
		loads:  make(map[int]model.Load, len(n.loads)),
		shunts: make(map[int]model.Shunt, len(n.shunts)),
	}
	for id, ld := range n.loads {
		s.loads[id] = *ld
	}
	for id, sh := range n.shunts {
		s.shunts[id] = *sh
	}
	return s
}

// RestoreSnapshot replaces the network's loads and shunts with the
// snapshot's values. Load and shunt records created after the snapshot
// was taken are removed.
func (n *Network) RestoreSnapshot(s *Snapshot) error {
	if s == nil {
		return ErrNilSnapshot
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.loads = make(map[int]*model.Load, len(s.loads))
	for id, ld := range s.loads {
		cp := ld
		n.loads[id] = &cp
	}
	n.shunts = make(map[int]*model.Shunt, len(s.shunts))
	for id, sh := range s.shunts {
		cp := sh
		n.shunts[id] = &cp
	}
	return nil
}

// Clone returns a deep copy of the network. Batch drivers evaluating
// scenarios concurrently must give each scenario its own clone.
func (n *Network) Clone() *Network {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := NewNetwork(n.name, n.mvaBase)
	for id, b := range n.buses {
		cp := *b
		out.buses[id] = &cp
	}
	for id, ld := range n.loads {
		cp := *ld
		out.loads[id] = &cp
	}
	for id, sh := range n.shunts {
		cp := *sh
		out.shunts[id] = &cp
	}
	for id, gens := range n.gens {
		cps := make([]*model.Generator, 0, len(gens))
		for _, g := range gens {
			cp := *g
			cps = append(cps, &cp)
		}
		out.gens[id] = cps
	}
	for _, br := range n.branches {
		cp := *br
		out.branches = append(out.branches, &cp)
	}
	out.slackBus = n.slackBus
	out.hasSlack = n.hasSlack
	return out
}
