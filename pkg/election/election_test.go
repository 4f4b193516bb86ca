package election

import (
	"sync"
	"testing"
	"time"

	"groupwire/internal/groupview"
	"groupwire/internal/peer"
	"groupwire/pkg/wire"
)

// fakeBus records every broadcast so tests can assert on the protocol
// traffic an Election produces without a real bus.Bus.
type fakeBus struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeBus) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeBus) count(kind wire.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, data := range f.sent {
		env, err := wire.Decode(data)
		if err == nil && env.Kind == kind {
			n++
		}
	}
	return n
}

func TestTriggerBecomesLeaderWhenNoHigherServers(t *testing.T) {
	gv := groupview.New(nil)
	tx := &fakeBus{}
	e := New(peer.ID(10), gv, tx)

	changes := make(chan ChangeEvent, 4)
	e.Subscribe(func(ev ChangeEvent) { changes <- ev })

	e.Trigger()

	select {
	case ev := <-changes:
		if !ev.Set || !ev.Self || ev.Leader != peer.ID(10) {
			t.Fatalf("unexpected change event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate leadership change with no higher servers known")
	}

	if !e.IsLeader() {
		t.Error("expected IsLeader() to be true")
	}
	if leader, set := e.CurrentLeader(); !set || leader != peer.ID(10) {
		t.Errorf("CurrentLeader() = %d, %v", leader, set)
	}
	if tx.count(wire.KindCoordinator) != 1 {
		t.Errorf("expected exactly one COORDINATOR broadcast, got %d", tx.count(wire.KindCoordinator))
	}
}

func TestTriggerIgnoresReentrantCalls(t *testing.T) {
	gv := groupview.New(nil)
	tx := &fakeBus{}
	e := New(peer.ID(10), gv, tx)

	done := make(chan struct{})
	e.Subscribe(func(ChangeEvent) { close(done) })

	e.Trigger()
	e.Trigger() // should be a no-op; electing is already true at this point in some races

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected leadership change")
	}
	if tx.count(wire.KindElection) < 1 {
		t.Error("expected at least one ELECTION broadcast")
	}
}

func TestHandleElectionFromLowerPeerRepliesOK(t *testing.T) {
	gv := groupview.New(nil)
	tx := &fakeBus{}
	e := New(peer.ID(10), gv, tx)

	e.HandleElection(peer.ID(3))

	// Give the background Trigger() goroutine time to broadcast OK and the
	// subsequent ELECTION (no higher servers known, so it'll self-elect too).
	deadline := time.Now().Add(2 * time.Second)
	for tx.count(wire.KindOK) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if tx.count(wire.KindOK) == 0 {
		t.Error("expected an OK reply to an ELECTION from a lower peer")
	}
}

func TestHandleElectionFromHigherPeerIsIgnored(t *testing.T) {
	gv := groupview.New(nil)
	tx := &fakeBus{}
	e := New(peer.ID(10), gv, tx)

	e.HandleElection(peer.ID(99))

	time.Sleep(50 * time.Millisecond)
	if tx.count(wire.KindOK) != 0 {
		t.Error("should not reply OK to an ELECTION from a higher peer")
	}
	if e.State() != Follower {
		t.Errorf("state = %v, want Follower", e.State())
	}
}

func TestHandleOKIsIgnoredOutsideElectionWindow(t *testing.T) {
	gv := groupview.New(nil)
	tx := &fakeBus{}
	e := New(peer.ID(10), gv, tx)

	e.HandleOK(peer.ID(3)) // no attempt in progress

	if e.State() != Follower {
		t.Errorf("state = %v, want Follower", e.State())
	}
}

func TestHandleCoordinatorAdoptsLeader(t *testing.T) {
	gv := groupview.New(nil)
	tx := &fakeBus{}
	e := New(peer.ID(10), gv, tx)

	changes := make(chan ChangeEvent, 1)
	e.Subscribe(func(ev ChangeEvent) { changes <- ev })

	e.HandleCoordinator(peer.ID(42))

	select {
	case ev := <-changes:
		if !ev.Set || ev.Self || ev.Leader != peer.ID(42) {
			t.Errorf("unexpected change event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a leader-change notification")
	}

	if leader, set := e.CurrentLeader(); !set || leader != peer.ID(42) {
		t.Errorf("CurrentLeader() = %d, %v", leader, set)
	}
	if e.IsLeader() {
		t.Error("should not consider self the leader after adopting another")
	}
}

func TestStepDownFromLeaderNotifies(t *testing.T) {
	gv := groupview.New(nil)
	tx := &fakeBus{}
	e := New(peer.ID(10), gv, tx)
	e.Trigger()

	deadline := time.Now().Add(2 * time.Second)
	for !e.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !e.IsLeader() {
		t.Fatal("setup: expected to become leader")
	}

	changes := make(chan ChangeEvent, 1)
	e.Subscribe(func(ev ChangeEvent) { changes <- ev })

	e.StepDown()

	select {
	case ev := <-changes:
		if ev.Set {
			t.Errorf("expected Set=false after stepping down, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a step-down notification")
	}
	if e.IsLeader() || e.State() != Follower {
		t.Error("expected Follower state with no leader after StepDown")
	}
}

func TestStepDownWhileFollowerIsQuiet(t *testing.T) {
	gv := groupview.New(nil)
	tx := &fakeBus{}
	e := New(peer.ID(10), gv, tx)

	called := false
	e.Subscribe(func(ChangeEvent) { called = true })

	e.StepDown()

	time.Sleep(20 * time.Millisecond)
	if called {
		t.Error("StepDown on a non-leader should not notify listeners")
	}
}

func TestHigherServersExcludesSelfAndLowerPeersAndClients(t *testing.T) {
	gv := groupview.New(nil)
	gv.Add(&peer.Peer{ID: 5, Kind: peer.KindServer})
	gv.Add(&peer.Peer{ID: 20, Kind: peer.KindServer})
	gv.Add(&peer.Peer{ID: 99, Kind: peer.KindClient}) // higher id but a client, doesn't count

	tx := &fakeBus{}
	e := New(peer.ID(10), gv, tx)

	higher := e.higherServers()
	if len(higher) != 1 || higher[0].ID != 20 {
		t.Errorf("higherServers() = %+v, want just peer 20", higher)
	}
}
