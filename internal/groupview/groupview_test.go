package groupview

import (
	"testing"
	"time"

	"groupwire/internal/peer"
)

func TestAddJoinedThenRefreshed(t *testing.T) {
	gv := New(nil)
	p := &peer.Peer{ID: 7, Kind: peer.KindServer, Address: "10.0.0.7:0", Hostname: "h7"}

	if result := gv.Add(p); result != Joined {
		t.Fatalf("first Add should return Joined, got %v", result)
	}
	if result := gv.Add(p); result != Refreshed {
		t.Fatalf("second Add of the same peer should return Refreshed, got %v", result)
	}
	if gv.Size() != 1 {
		t.Errorf("expected 1 peer, got %d", gv.Size())
	}
}

func TestAddFiresJoinEventAfterUnlock(t *testing.T) {
	gv := New(nil)
	events := make(chan Event, 1)
	gv.Subscribe(func(ev Event) { events <- ev })

	gv.Add(&peer.Peer{ID: 1, Kind: peer.KindClient})

	select {
	case ev := <-events:
		if ev.Kind != EventJoin || ev.Peer.ID != 1 {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for join event")
	}
}

func TestTouchRefreshesExistingPeerOnly(t *testing.T) {
	gv := New(nil)
	gv.Add(&peer.Peer{ID: 1, Kind: peer.KindClient})

	gv.Touch(999) // unknown peer, must be a no-op

	before := gv.Get(1).LastSeen
	time.Sleep(time.Millisecond)
	gv.Touch(1)
	after := gv.Get(1).LastSeen
	if !after.After(before) {
		t.Error("Touch should advance LastSeen for a known peer")
	}
}

func TestRemove(t *testing.T) {
	gv := New(nil)
	gv.Add(&peer.Peer{ID: 1, Kind: peer.KindClient})

	if !gv.Remove(1) {
		t.Error("Remove should report true for a known peer")
	}
	if gv.Remove(1) {
		t.Error("Remove should report false the second time")
	}
	if gv.Get(1) != nil {
		t.Error("removed peer should no longer be retrievable")
	}
}

func TestSnapshotFilters(t *testing.T) {
	gv := New(nil)
	gv.Add(&peer.Peer{ID: 1, Kind: peer.KindServer})
	gv.Add(&peer.Peer{ID: 2, Kind: peer.KindClient})

	servers := gv.Snapshot(ServersOnly)
	if len(servers) != 1 || servers[0].ID != 1 {
		t.Errorf("ServersOnly filter returned %+v", servers)
	}

	all := gv.Snapshot(AnyPeer)
	if len(all) != 2 {
		t.Errorf("AnyPeer filter returned %d peers, want 2", len(all))
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	gv := New(nil)
	gv.Add(&peer.Peer{ID: 1, Hostname: "original"})

	snap := gv.Snapshot(AnyPeer)
	snap[0].Hostname = "mutated"

	if gv.Get(1).Hostname != "original" {
		t.Error("mutating a snapshot entry should not affect the registry")
	}
}

func TestViewIDIncrementsOnMutation(t *testing.T) {
	gv := New(nil)
	start := gv.ViewID()
	gv.Add(&peer.Peer{ID: 1})
	if gv.ViewID() == start {
		t.Error("ViewID should advance after Add")
	}
	afterAdd := gv.ViewID()
	gv.Add(&peer.Peer{ID: 1}) // refresh, not a structural change
	if gv.ViewID() != afterAdd {
		t.Error("ViewID should not advance on a mere refresh")
	}
}

func TestCountByKind(t *testing.T) {
	gv := New(nil)
	gv.Add(&peer.Peer{ID: 1, Kind: peer.KindServer})
	gv.Add(&peer.Peer{ID: 2, Kind: peer.KindServer})
	gv.Add(&peer.Peer{ID: 3, Kind: peer.KindClient})

	counts := gv.CountByKind()
	if counts[peer.KindServer] != 2 || counts[peer.KindClient] != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}

func TestSweepEvictsStalePeers(t *testing.T) {
	// Seed a peer directly through New so its LastSeen is honored verbatim
	// (Add always stamps "now", which would defeat staleness testing).
	stale := &peer.Peer{ID: 1, Kind: peer.KindServer, LastSeen: time.Now().Add(-time.Hour)}
	gv := New(stale)

	events := make(chan Event, 1)
	gv.Subscribe(func(ev Event) { events <- ev })

	gv.sweep()

	select {
	case ev := <-events:
		if ev.Kind != EventTimeout || ev.Peer.ID != 1 {
			t.Errorf("unexpected sweep event: %+v", ev)
		}
	default:
		t.Fatal("sweep should have evicted the stale peer")
	}
	if gv.Get(1) != nil {
		t.Error("stale peer should have been removed")
	}
}

func TestListenerPanicDoesNotPropagate(t *testing.T) {
	gv := New(nil)
	gv.Subscribe(func(Event) { panic("boom") })

	done := make(chan struct{})
	go func() {
		gv.Add(&peer.Peer{ID: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Add should return even when a listener panics")
	}
}
