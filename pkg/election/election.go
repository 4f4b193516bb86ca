// Package election implements the priority-based bully leader election
// state machine (§4.3). Grounded on the bully coordinator pattern in
// distribuidos-Coffee-Shop-Analysis-coordinator-service's
// internal/election/bully.go, adapted from its point-to-point TCP dialogue
// to this repo's broadcast datagram bus: ELECTION/OK/COORDINATOR are all
// multicast, so "send ELECTION to every server with higher PeerId" becomes
// "broadcast once; only higher-ID peers are expected to answer".
package election

import (
	"context"
	"sync"
	"time"

	"groupwire/internal/groupview"
	"groupwire/internal/peer"
	"groupwire/pkg/logger"
	"groupwire/pkg/wire"
)

// State is this node's position in the bully state machine.
type State int

const (
	Follower State = iota
	Candidate
	Leader
)

func (s State) String() string {
	switch s {
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "follower"
	}
}

// Timeouts per §4.3.
const (
	ElectionTimeout     = 5 * time.Second  // T_e
	CoordinatorTimeout  = 10 * time.Second // T_c
	LeaderHeartbeatTick = 3 * time.Second  // H_L
)

// Broadcaster is the subset of bus.Bus the election state machine needs.
type Broadcaster interface {
	Send(data []byte) error
}

// ChangeEvent is delivered whenever the believed leader changes.
type ChangeEvent struct {
	Leader peer.ID
	Set    bool
	Self   bool
}

// Listener observes leader changes.
type Listener func(ChangeEvent)

// Election is one node's bully state machine instance.
type Election struct {
	self peer.ID
	gv   *groupview.GroupView
	tx   Broadcaster

	mu          sync.Mutex
	state       State
	electing    bool
	leader      peer.ID
	leaderSet   bool
	okReceived  bool
	attemptGen  uint64
	heartbeatCancel context.CancelFunc

	listenersMu sync.RWMutex
	listeners   []Listener
}

// New builds an Election for self, reading membership from gv and
// broadcasting protocol messages over tx.
func New(self peer.ID, gv *groupview.GroupView, tx Broadcaster) *Election {
	return &Election{self: self, gv: gv, tx: tx, state: Follower}
}

// Subscribe registers a listener for leader-change events.
func (e *Election) Subscribe(l Listener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Election) notify(ev ChangeEvent) {
	e.listenersMu.RLock()
	ls := append([]Listener(nil), e.listeners...)
	e.listenersMu.RUnlock()
	for _, l := range ls {
		l(ev)
	}
}

// State returns the current FSM state.
func (e *Election) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsLeader reports whether this node currently believes itself the leader.
func (e *Election) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Leader
}

// CurrentLeader returns the believed leader and whether one is known.
func (e *Election) CurrentLeader() (peer.ID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader, e.leaderSet
}

// higherServers returns the set of known server peers with a PeerId greater
// than self, snapshotted under GV's lock (§4.3 Concurrency guards).
func (e *Election) higherServers() []*peer.Peer {
	var higher []*peer.Peer
	for _, p := range e.gv.Snapshot(groupview.ServersOnly) {
		if p.ID > e.self {
			higher = append(higher, p)
		}
	}
	return higher
}

// Trigger starts a new election attempt unless one is already in progress
// (§4.3 Concurrency guards: election_in_progress prevents reentrant
// elections).
func (e *Election) Trigger() {
	e.mu.Lock()
	if e.electing {
		e.mu.Unlock()
		return
	}
	e.electing = true
	e.state = Candidate
	e.okReceived = false
	e.attemptGen++
	gen := e.attemptGen
	e.mu.Unlock()

	go e.runAttempt(gen)
}

func (e *Election) runAttempt(gen uint64) {
	logger.Info("election: starting attempt as candidate %s", e.self)

	msg := wire.NewElection(wire.KindElection, e.self)
	if data, err := msg.Marshal(); err == nil {
		if err := e.tx.Send(data); err != nil {
			logger.Error("election: failed to broadcast ELECTION: %v", err)
		}
	}

	// Optimization grounded in the wait-for-higher-ids semantics: if no
	// known server currently outranks us, nobody will answer OK, so skip
	// straight to the T_e timeout instead of sleeping through it.
	if len(e.higherServers()) == 0 {
		e.becomeLeader(gen)
		return
	}

	timer := time.NewTimer(ElectionTimeout)
	defer timer.Stop()
	<-timer.C

	e.mu.Lock()
	if e.attemptGen != gen {
		e.mu.Unlock()
		return // superseded by a newer attempt (e.g. COORDINATOR arrived)
	}
	gotOK := e.okReceived
	e.mu.Unlock()

	if !gotOK {
		e.becomeLeader(gen)
		return
	}

	// An OK arrived: wait for COORDINATOR.
	coordTimer := time.NewTimer(CoordinatorTimeout)
	defer coordTimer.Stop()
	<-coordTimer.C

	e.mu.Lock()
	stillElecting := e.attemptGen == gen && e.electing
	e.mu.Unlock()

	if stillElecting {
		logger.Info("election: no COORDINATOR within %s, restarting election", CoordinatorTimeout)
		e.mu.Lock()
		e.attemptGen++
		newGen := e.attemptGen
		e.okReceived = false
		e.mu.Unlock()
		e.runAttempt(newGen)
	}
}

func (e *Election) becomeLeader(gen uint64) {
	e.mu.Lock()
	if e.attemptGen != gen {
		e.mu.Unlock()
		return
	}
	e.state = Leader
	e.electing = false
	e.leader = e.self
	e.leaderSet = true
	e.mu.Unlock()

	logger.Info("election: %s becomes leader", e.self)

	msg := wire.NewElection(wire.KindCoordinator, e.self)
	if data, err := msg.Marshal(); err == nil {
		if err := e.tx.Send(data); err != nil {
			logger.Error("election: failed to broadcast COORDINATOR: %v", err)
		}
	}

	e.startLeaderHeartbeat()
	e.notify(ChangeEvent{Leader: e.self, Set: true, Self: true})
}

func (e *Election) startLeaderHeartbeat() {
	e.mu.Lock()
	if e.heartbeatCancel != nil {
		e.heartbeatCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.heartbeatCancel = cancel
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(LeaderHeartbeatTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !e.IsLeader() {
					return
				}
				m := &wire.LeaderHeartbeatMessage{SenderID: e.self, Timestamp: time.Now()}
				if data, err := m.Marshal(); err == nil {
					_ = e.tx.Send(data)
				}
			}
		}
	}()
}

func (e *Election) stopLeaderHeartbeat() {
	e.mu.Lock()
	if e.heartbeatCancel != nil {
		e.heartbeatCancel()
		e.heartbeatCancel = nil
	}
	e.mu.Unlock()
}

// HandleElection processes an inbound ELECTION message (§4.3: "From FOLLOWER
// on receipt of ELECTION from lower-PeerId peer: respond OK and, unless
// already electing, start own election").
func (e *Election) HandleElection(senderID peer.ID) {
	if senderID == e.self {
		return
	}
	if senderID >= e.self {
		return
	}

	ok := wire.NewElection(wire.KindOK, e.self)
	if data, err := ok.Marshal(); err == nil {
		_ = e.tx.Send(data)
	}

	e.mu.Lock()
	alreadyElecting := e.electing
	e.mu.Unlock()
	if !alreadyElecting {
		e.Trigger()
	}
}

// HandleOK processes an inbound OK during our own election attempt.
func (e *Election) HandleOK(senderID peer.ID) {
	if senderID == e.self {
		return
	}
	e.mu.Lock()
	if e.electing && e.state == Candidate {
		e.okReceived = true
	}
	e.mu.Unlock()
}

// HandleCoordinator adopts the announced leader (§4.3: "From FOLLOWER on
// receipt of COORDINATOR: adopt announced leader ... reset
// election_in_progress"; §9: unknown senders are trusted by this rewrite's
// safe default). A COORDINATOR can arrive before its sender's own
// SERVER_ALIVE under packet reordering, so the sender is admitted to the
// group view here too, keeping §3's "current_leader, if set, is a member
// of the server subset of GV" invariant from a momentary gap rather than
// relying on a later discovery beacon to close it.
func (e *Election) HandleCoordinator(senderID peer.ID) {
	wasLeader := e.IsLeader()

	e.mu.Lock()
	e.attemptGen++ // invalidate any in-flight attempt waiting on COORDINATOR
	e.state = Follower
	e.electing = false
	e.leader = senderID
	e.leaderSet = true
	self := e.self
	e.mu.Unlock()

	if wasLeader && senderID != self {
		e.stopLeaderHeartbeat()
	}

	if senderID != self && e.gv.Get(senderID) == nil {
		e.gv.Add(&peer.Peer{ID: senderID, Kind: peer.KindServer})
	}

	logger.Info("election: adopting leader %s", senderID)
	e.notify(ChangeEvent{Leader: senderID, Set: true, Self: senderID == self})
}

// StepDown forces this node back to FOLLOWER with no known leader, used by
// the fault detector when partitioned or when the leader is detected lost
// (§4.3: "On loss of view majority, step down").
func (e *Election) StepDown() {
	e.mu.Lock()
	wasLeader := e.state == Leader
	e.state = Follower
	e.leaderSet = false
	e.leader = 0
	e.mu.Unlock()

	if wasLeader {
		e.stopLeaderHeartbeat()
		logger.Warn("election: %s stepping down from leader", e.self)
		e.notify(ChangeEvent{Set: false})
	}
}
