package faultdetector

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"groupwire/internal/groupview"
	"groupwire/internal/peer"
	"groupwire/pkg/reliable"
	"groupwire/pkg/wire"
)

// TestMain guards every test in this package against goroutine leaks: a
// FaultDetector itself spawns none, but reliable.Manager and the fake
// leaderView below are exercised alongside it, and a leak in either would
// otherwise only surface as a flaky CI run much later.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

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

// fakeLeader is a scriptable double for the leaderView interface, standing
// in for *election.Election so these tests never import pkg/election (§9
// Design Notes: FD and LE never reference each other's internals).
type fakeLeader struct {
	mu       sync.Mutex
	leader   peer.ID
	set      bool
	isLeader bool
	triggers int
	steps    int
}

func (f *fakeLeader) IsLeader() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isLeader
}

func (f *fakeLeader) CurrentLeader() (peer.ID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leader, f.set
}

func (f *fakeLeader) Trigger() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
}

func (f *fakeLeader) StepDown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps++
	f.set = false
}

func (f *fakeLeader) triggerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers
}

func (f *fakeLeader) stepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.steps
}

func TestEmitHeartbeatSendsPlainHeartbeatOnly(t *testing.T) {
	tx := &fakeBus{}
	gv := groupview.New(nil)
	fd := New(peer.ID(1), peer.KindServer, gv, tx, nil, &fakeLeader{isLeader: false})

	fd.EmitHeartbeat()

	assert.Equal(t, 1, tx.count(wire.KindHeartbeat))
	assert.Equal(t, 0, tx.count(wire.KindLeaderHeartbeat))
}

func TestEmitHeartbeatAlsoSendsLeaderHeartbeatWhenLeader(t *testing.T) {
	tx := &fakeBus{}
	gv := groupview.New(nil)
	fd := New(peer.ID(1), peer.KindServer, gv, tx, nil, &fakeLeader{isLeader: true})

	fd.EmitHeartbeat()

	assert.Equal(t, 1, tx.count(wire.KindHeartbeat))
	assert.Equal(t, 1, tx.count(wire.KindLeaderHeartbeat))
}

func TestScanCrashesFiresOnCrashOnceThenReopensOnHeartbeat(t *testing.T) {
	tx := &fakeBus{}
	// GroupView.Add always stamps LastSeen as "now", so the only way to seed
	// a peer with a backdated LastSeen is via New's verbatim self-seed.
	stale := &peer.Peer{ID: 2, Kind: peer.KindServer, LastSeen: time.Now().Add(-CrashTimeout - time.Second)}
	gv := groupview.New(stale)

	fd := New(peer.ID(1), peer.KindServer, gv, tx, nil, &fakeLeader{})
	var crashed []peer.ID
	fd.OnCrash = func(id peer.ID) { crashed = append(crashed, id) }

	fd.ScanCrashes()
	fd.ScanCrashes() // re-scan while still silent must not re-fire

	require.Len(t, crashed, 1)
	assert.Equal(t, peer.ID(2), crashed[0])

	fd.HandleHeartbeat(peer.ID(2)) // reopens the peer and refreshes its LastSeen
	fd.ScanCrashes()
	assert.Len(t, crashed, 1, "a freshly-touched peer must not re-fire OnCrash")

	// Directly exercise reopen()'s contract: once cleared, the crashed set
	// holds nothing for this peer, so a later silence is a fresh episode.
	fd.mu.Lock()
	_, stillMarked := fd.crashed[peer.ID(2)]
	fd.mu.Unlock()
	assert.False(t, stillMarked, "HandleHeartbeat must clear the crashed flag")
}

func TestScanPartitionSuppressedDuringGracePeriod(t *testing.T) {
	tx := &fakeBus{}
	gv := groupview.New(nil)
	gv.Add(&peer.Peer{ID: 2, Kind: peer.KindServer})
	gv.Add(&peer.Peer{ID: 3, Kind: peer.KindServer})

	fd := New(peer.ID(1), peer.KindServer, gv, tx, nil, &fakeLeader{})
	// fd.startupTime defaults to time.Now() in New(), well inside the grace window.

	var partitioned bool
	fd.OnPartition = func(PartitionState) { partitioned = true }

	fd.ScanPartition()

	assert.False(t, fd.Partitioned())
	assert.False(t, partitioned)
	assert.Equal(t, 0, tx.count(wire.KindPartitionProbe), "no probes should be sent during the grace period")
}

func TestScanPartitionWithZeroKnownPeersIsNeverPartitioned(t *testing.T) {
	tx := &fakeBus{}
	gv := groupview.New(nil)
	fd := New(peer.ID(1), peer.KindServer, gv, tx, nil, &fakeLeader{})
	fd.startupTime = time.Now().Add(-StartupGracePeriod - time.Second)

	fd.ScanPartition()

	assert.False(t, fd.Partitioned())
}

func TestScanPartitionDeclaresPartitionWhenMajorityUnreachable(t *testing.T) {
	tx := &fakeBus{}
	gv := groupview.New(nil)
	gv.Add(&peer.Peer{ID: 2, Kind: peer.KindServer})
	gv.Add(&peer.Peer{ID: 3, Kind: peer.KindServer})

	leader := &fakeLeader{leader: 3, set: true}
	fd := New(peer.ID(1), peer.KindServer, gv, tx, nil, leader)
	fd.startupTime = time.Now().Add(-StartupGracePeriod - time.Second)

	var state PartitionState
	fd.OnPartition = func(s PartitionState) { state = s }

	// Run the scan in the background since it sleeps PartitionProbeTimeout
	// waiting for replies that, with no peer responding, never arrive.
	done := make(chan struct{})
	go func() {
		fd.ScanPartition()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(PartitionProbeTimeout + 2*time.Second):
		t.Fatal("ScanPartition did not return in time")
	}

	assert.True(t, fd.Partitioned())
	assert.True(t, state.InPartition)
	assert.Equal(t, 1, leader.stepCount(), "entering partition must step the leader down")
}

func TestHandlePartitionProbeMarksReachableAndEchoesUnsolicited(t *testing.T) {
	tx := &fakeBus{}
	gv := groupview.New(nil)
	fd := New(peer.ID(1), peer.KindServer, gv, tx, nil, &fakeLeader{})

	// An unsolicited probe directed at us: echo back with roles reversed.
	fd.HandlePartitionProbe(&wire.PartitionProbeMessage{SenderID: peer.ID(9), TargetID: peer.ID(1)})
	assert.Equal(t, 1, tx.count(wire.KindPartitionProbe))

	// A probe not addressed to us is ignored entirely.
	fd.HandlePartitionProbe(&wire.PartitionProbeMessage{SenderID: peer.ID(9), TargetID: peer.ID(77)})
	assert.Equal(t, 1, tx.count(wire.KindPartitionProbe))
}

func TestMonitorLeaderTriggersOnSilence(t *testing.T) {
	tx := &fakeBus{}
	gv := groupview.New(nil)
	leader := &fakeLeader{leader: peer.ID(2), set: true}
	fd := New(peer.ID(1), peer.KindServer, gv, tx, nil, leader)

	fd.HandleLeaderHeartbeat(peer.ID(2))
	fd.MonitorLeader()
	assert.Equal(t, 0, leader.triggerCount(), "a fresh heartbeat must not trigger an election")

	fd.mu.Lock()
	fd.lastLeaderHeartbeat = time.Now().Add(-LeaderHeartbeatTimeout - time.Second)
	fd.mu.Unlock()

	fd.MonitorLeader()
	assert.Equal(t, 1, leader.triggerCount(), "a silent leader past T_H must trigger a fresh election")
}

func TestMonitorLeaderSkipsClientsAndSelf(t *testing.T) {
	tx := &fakeBus{}
	gv := groupview.New(nil)

	clientLeader := &fakeLeader{leader: peer.ID(2), set: true}
	fdClient := New(peer.ID(1), peer.KindClient, gv, tx, nil, clientLeader)
	fdClient.MonitorLeader()
	assert.Equal(t, 0, clientLeader.triggerCount(), "clients never run the leader monitor")

	selfLeader := &fakeLeader{leader: peer.ID(1), set: true}
	fdSelf := New(peer.ID(1), peer.KindServer, gv, tx, nil, selfLeader)
	fdSelf.MonitorLeader()
	assert.Equal(t, 0, selfLeader.triggerCount(), "a node never monitors itself as leader")
}

func TestScanMessageTimeoutsDelegatesToReliableManager(t *testing.T) {
	tx := &fakeBus{}
	gv := groupview.New(nil)
	rm := reliable.New(peer.ID(1), tx, tx)
	fd := New(peer.ID(1), peer.KindServer, gv, tx, rm, &fakeLeader{})

	require.NoError(t, rm.Send("chat", "hi", nil))
	require.Equal(t, 1, rm.PendingCount())

	fd.ScanMessageTimeouts() // nothing due yet
	assert.Equal(t, 1, rm.PendingCount())
}
