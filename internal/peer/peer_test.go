package peer

import (
	"testing"
	"time"
)

func TestNewIDDeterministic(t *testing.T) {
	a := NewID("10.0.0.5", "alice-laptop")
	b := NewID("10.0.0.5", "alice-laptop")
	if a != b {
		t.Errorf("NewID not deterministic: %d != %d", a, b)
	}

	c := NewID("10.0.0.6", "alice-laptop")
	if a == c {
		t.Errorf("different ip produced the same id: %d", a)
	}
}

func TestLivenessWindow(t *testing.T) {
	if LivenessWindow(KindServer) != ServerLivenessWindow {
		t.Errorf("server liveness window mismatch")
	}
	if LivenessWindow(KindClient) != ClientLivenessWindow {
		t.Errorf("client liveness window mismatch")
	}
	if LivenessWindow(KindUnknown) != ServerLivenessWindow {
		t.Errorf("unknown kind should default to the server window")
	}
}

func TestPeerActive(t *testing.T) {
	p := &Peer{ID: 1, Kind: KindServer, LastSeen: time.Now()}
	if !p.Active(time.Now()) {
		t.Error("freshly-seen peer should be active")
	}
	if p.Active(time.Now().Add(ServerLivenessWindow + time.Second)) {
		t.Error("peer silent past its liveness window should be inactive")
	}
}

func TestPeerTouchNeverMovesBackwards(t *testing.T) {
	now := time.Now()
	p := &Peer{ID: 1, LastSeen: now}
	p.Touch(now.Add(-time.Minute))
	if !p.LastSeen.Equal(now) {
		t.Errorf("Touch moved LastSeen backwards: %v", p.LastSeen)
	}
	p.Touch(now.Add(time.Minute))
	if !p.LastSeen.Equal(now.Add(time.Minute)) {
		t.Errorf("Touch did not advance LastSeen: %v", p.LastSeen)
	}
}

func TestPeerCloneIsIndependent(t *testing.T) {
	p := &Peer{ID: 1, Hostname: "a"}
	cp := p.Clone()
	cp.Hostname = "b"
	if p.Hostname == cp.Hostname {
		t.Error("Clone should not alias the original")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{KindServer: "server", KindClient: "client", KindUnknown: "unknown"}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
