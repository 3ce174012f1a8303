package grid

import (
	"errors"
	"testing"
)

func TestSnapshotRestore(t *testing.T) {
	n := newTestNetwork(t)
	if err := n.SetShuntQ(3, 10); err != nil {
		t.Fatalf("SetShuntQ: %v", err)
	}

	snap := n.Snapshot()

	// Mutate loads, shunts, and create a record that did not exist at
	// snapshot time.
	n.ScaleAllLoads(5.0)
	if err := n.SetShuntQ(3, 99); err != nil {
		t.Fatalf("SetShuntQ: %v", err)
	}
	if err := n.SetLoad(1, 123, 45); err != nil {
		t.Fatalf("SetLoad: %v", err)
	}

	if err := n.RestoreSnapshot(snap); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}

	p, q, _ := n.LoadAt(2)
	if p != 40 || q != 20 {
		t.Fatalf("restored load at 2 = (%g, %g), want (40, 20)", p, q)
	}
	if got := n.ShuntQAt(3); got != 10 {
		t.Fatalf("restored shunt at 3 = %g, want 10", got)
	}
	if _, _, ok := n.LoadAt(1); ok {
		t.Fatal("load record created after snapshot should be removed on restore")
	}
}

func TestRestoreNilSnapshot(t *testing.T) {
	n := newTestNetwork(t)
	if err := n.RestoreSnapshot(nil); !errors.Is(err, ErrNilSnapshot) {
		t.Fatalf("expected ErrNilSnapshot, got %v", err)
	}
}

func TestSnapshotIsValueCopy(t *testing.T) {
	n := newTestNetwork(t)
	snap := n.Snapshot()

	n.ScaleAllLoads(2.0)

	if err := n.RestoreSnapshot(snap); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}
	p, _ := n.TotalLoad()
	if p != 100 {
		t.Fatalf("total P after restore = %g, want 100", p)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	n := newTestNetwork(t)
	clone := n.Clone()

	clone.ScaleAllLoads(10)
	if err := clone.SetShuntQ(2, 50); err != nil {
		t.Fatalf("SetShuntQ on clone: %v", err)
	}

	p, _ := n.TotalLoad()
	if p != 100 {
		t.Fatalf("original total P = %g after clone mutation, want 100", p)
	}
	if got := n.ShuntQAt(2); got != 0 {
		t.Fatalf("original shunt at 2 = %g after clone mutation, want 0", got)
	}

	if clone.NumBuses() != n.NumBuses() {
		t.Fatalf("clone has %d buses, want %d", clone.NumBuses(), n.NumBuses())
	}
	slack, err := clone.SlackBus()
	if err != nil || slack != 1 {
		t.Fatalf("clone slack = (%d, %v), want (1, nil)", slack, err)
	}
}
