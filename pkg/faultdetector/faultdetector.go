// Package faultdetector implements the Fault Detector (§4.4): the
// heartbeat emitter/consumer, crash detector, partition detector with its
// startup grace period, and leader monitor, using the grace-period gate and
// majority-reachability arithmetic and the "scan, mark, notify" shape of the
// crash detector.
//
// Per §9 Design Notes ("break the cycle by exposing callback registration"),
// this package never imports pkg/election: it declares the minimal
// structural interface it needs (leaderView) and pkg/election's Election
// type satisfies it without either package referring to the other's
// internals.
package faultdetector

import (
	"sync"
	"time"

	"groupwire/internal/groupview"
	"groupwire/internal/peer"
	"groupwire/pkg/logger"
	"groupwire/pkg/reliable"
	"groupwire/pkg/wire"
)

// Timing per §4.4 and §3 PartitionState.
const (
	HeartbeatInterval      = 5 * time.Second  // H
	CrashScanInterval      = 5 * time.Second
	CrashTimeout           = 15 * time.Second // T_F
	PartitionScanInterval  = 10 * time.Second
	PartitionProbeTimeout  = 5 * time.Second
	StartupGracePeriod     = 30 * time.Second // T_g
	LeaderHeartbeatTimeout = 10 * time.Second // T_H
	LeaderMonitorInterval  = LeaderHeartbeatTimeout / 2
	MessageTimeoutScanInterval = 2 * time.Second
)

// Broadcaster sends to every peer on the bus.
type Broadcaster interface {
	Send(data []byte) error
}

// leaderView is the slice of *election.Election this package depends on.
type leaderView interface {
	IsLeader() bool
	CurrentLeader() (peer.ID, bool)
	Trigger()
	StepDown()
}

// PartitionState mirrors §3's PartitionState entity.
type PartitionState struct {
	KnownNodes       int
	ReachableNodes   int
	InPartition      bool
	PartitionStart   time.Time
	DetectionEnabled bool
	StartupTime      time.Time
}

// FaultDetector runs the four independent periodic sub-mechanisms of §4.4
// plus the §4.4 message-timeout loop (delegated to the reliable.Manager it
// is given).
type FaultDetector struct {
	self peer.ID
	kind peer.Kind
	gv   *groupview.GroupView
	tx   Broadcaster
	rm   *reliable.Manager
	le   leaderView

	startupTime time.Time

	mu                  sync.Mutex
	crashed             map[peer.ID]bool
	inPartition         bool
	partitionStart      time.Time
	awaitingProbe       map[peer.ID]bool
	reachableThisRound  map[peer.ID]bool
	lastLeaderHeartbeat time.Time
	leaderHeartbeatSeen bool

	OnCrash           func(peer.ID)
	OnPartition       func(PartitionState)
	OnPartitionHealed func(PartitionState)
	OnOmission        func(msgID string)
	OnByzantine       func(msgID string)
}

// New builds a FaultDetector for self. rm may be nil if the node does not
// use reliable messaging (message-timeout scanning is then a no-op).
func New(self peer.ID, kind peer.Kind, gv *groupview.GroupView, tx Broadcaster, rm *reliable.Manager, le leaderView) *FaultDetector {
	return &FaultDetector{
		self:          self,
		kind:          kind,
		gv:            gv,
		tx:            tx,
		rm:            rm,
		le:            le,
		startupTime:   time.Now(),
		crashed:       make(map[peer.ID]bool),
		awaitingProbe: make(map[peer.ID]bool),
	}
}

// --- heartbeat emitter (§4.4.1) ---

// EmitHeartbeat broadcasts HEARTBEAT, and additionally LEADER_HEARTBEAT if
// self is currently leader.
func (fd *FaultDetector) EmitHeartbeat() {
	hb := &wire.HeartbeatMessage{SenderID: fd.self, NodeType: fd.kind.String(), Timestamp: time.Now()}
	if data, err := hb.Marshal(); err == nil {
		if err := fd.tx.Send(data); err != nil {
			logger.Error("faultdetector: failed to send heartbeat: %v", err)
		}
	}

	if fd.le != nil && fd.le.IsLeader() {
		lhb := &wire.LeaderHeartbeatMessage{SenderID: fd.self, Timestamp: time.Now()}
		if data, err := lhb.Marshal(); err == nil {
			_ = fd.tx.Send(data)
		}
	}
}

// HandleHeartbeat touches the sender's GV entry; heartbeats are how clients
// (who never discovery-announce) stay alive in the view.
func (fd *FaultDetector) HandleHeartbeat(senderID peer.ID) {
	fd.gv.Touch(senderID)
	fd.reopen(senderID)
}

// HandleLeaderHeartbeat records the arrival time used by the leader
// monitor.
func (fd *FaultDetector) HandleLeaderHeartbeat(senderID peer.ID) {
	fd.mu.Lock()
	fd.lastLeaderHeartbeat = time.Now()
	fd.leaderHeartbeatSeen = true
	fd.mu.Unlock()
	fd.gv.Touch(senderID)
}

// --- crash detector (§4.4.2) ---

// ScanCrashes marks peers silent past CrashTimeout as failed, invoking
// OnCrash exactly once per failure episode.
func (fd *FaultDetector) ScanCrashes() {
	now := time.Now()
	for _, p := range fd.gv.Snapshot(groupview.AnyPeer) {
		if p.ID == fd.self {
			continue
		}
		silent := now.Sub(p.LastSeen) > CrashTimeout

		fd.mu.Lock()
		already := fd.crashed[p.ID]
		if silent && !already {
			fd.crashed[p.ID] = true
		}
		fd.mu.Unlock()

		if silent && !already {
			logger.Warn("faultdetector: peer %s crashed (silent since %s)", p.ID, p.LastSeen.Format(time.RFC3339))
			if fd.OnCrash != nil {
				fd.OnCrash(p.ID)
			}
		}
	}
}

// reopen clears a peer's crashed flag once it is heard from again (§4.4.2:
// "re-entry upon heartbeat resumption reopens the peer").
func (fd *FaultDetector) reopen(id peer.ID) {
	fd.mu.Lock()
	delete(fd.crashed, id)
	fd.mu.Unlock()
}

// --- partition detector (§4.4.3) ---

// ScanPartition runs one partition-probe round.
func (fd *FaultDetector) ScanPartition() {
	now := time.Now()
	if now.Sub(fd.startupTime) < StartupGracePeriod {
		fd.mu.Lock()
		fd.inPartition = false
		fd.mu.Unlock()
		return
	}

	knownPeers := fd.gv.Snapshot(groupview.AnyPeer)
	var targets []peer.ID
	for _, p := range knownPeers {
		if p.ID != fd.self {
			targets = append(targets, p.ID)
		}
	}
	if len(targets) == 0 {
		// "A node with |known servers| = 0 is by definition not partitioned."
		fd.mu.Lock()
		fd.inPartition = false
		fd.mu.Unlock()
		return
	}

	fd.mu.Lock()
	fd.awaitingProbe = make(map[peer.ID]bool, len(targets))
	for _, t := range targets {
		fd.awaitingProbe[t] = true
	}
	fd.reachableThisRound = make(map[peer.ID]bool, len(targets))
	fd.mu.Unlock()

	for _, t := range targets {
		probe := &wire.PartitionProbeMessage{SenderID: fd.self, TargetID: t, Timestamp: now}
		if data, err := probe.Marshal(); err == nil {
			_ = fd.tx.Send(data)
		}
	}

	time.Sleep(PartitionProbeTimeout)

	fd.mu.Lock()
	reachable := len(fd.reachableThisRound)
	known := len(targets) // other known peers, excluding self
	wasPartitioned := fd.inPartition
	nowPartitioned := reachable < (known+1)/2 && known >= 2
	fd.inPartition = nowPartitioned
	if nowPartitioned && !wasPartitioned {
		fd.partitionStart = now
	}
	state := PartitionState{
		KnownNodes:       known,
		ReachableNodes:   reachable,
		InPartition:      nowPartitioned,
		PartitionStart:   fd.partitionStart,
		DetectionEnabled: true,
		StartupTime:      fd.startupTime,
	}
	fd.mu.Unlock()

	switch {
	case nowPartitioned && !wasPartitioned:
		logger.Warn("faultdetector: entering partition, reachable=%d known=%d", reachable, known)
		if fd.le != nil {
			fd.le.StepDown()
		}
		if fd.OnPartition != nil {
			fd.OnPartition(state)
		}
	case !nowPartitioned && wasPartitioned:
		logger.Info("faultdetector: partition healed, reachable=%d known=%d", reachable, known)
		if fd.le != nil {
			fd.le.Trigger()
		}
		if fd.OnPartitionHealed != nil {
			fd.OnPartitionHealed(state)
		}
	}
}

// HandlePartitionProbe processes an inbound PARTITION_PROBE. If it is a
// response to a probe we are awaiting, it marks the sender reachable; if it
// is a fresh probe directed at us, it echoes back with roles reversed
// (§6: "Responder echoes with roles reversed if target_id == self").
func (fd *FaultDetector) HandlePartitionProbe(msg *wire.PartitionProbeMessage) {
	if msg.TargetID != fd.self {
		return
	}

	fd.mu.Lock()
	awaiting := fd.awaitingProbe[msg.SenderID]
	if awaiting {
		if fd.reachableThisRound == nil {
			fd.reachableThisRound = make(map[peer.ID]bool)
		}
		fd.reachableThisRound[msg.SenderID] = true
	}
	fd.mu.Unlock()

	if awaiting {
		return // this is the reply to our own outstanding probe
	}

	// A genuine probe directed at us: echo back with roles reversed.
	echo := &wire.PartitionProbeMessage{SenderID: fd.self, TargetID: msg.SenderID, Timestamp: time.Now()}
	if data, err := echo.Marshal(); err == nil {
		_ = fd.tx.Send(data)
	}
}

// Partitioned reports whether the detector currently believes this node is
// isolated.
func (fd *FaultDetector) Partitioned() bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.inPartition
}

// --- leader monitor (§4.4.4, servers only) ---

// MonitorLeader triggers a fresh election if the believed leader has gone
// silent past LeaderHeartbeatTimeout.
func (fd *FaultDetector) MonitorLeader() {
	if fd.kind != peer.KindServer || fd.le == nil {
		return
	}
	leaderID, set := fd.le.CurrentLeader()
	if !set {
		return
	}
	if leaderID == fd.self {
		return // we are the leader; nothing to monitor
	}

	fd.mu.Lock()
	seen := fd.leaderHeartbeatSeen
	last := fd.lastLeaderHeartbeat
	fd.mu.Unlock()

	if !seen {
		return // grant a grace window before the first heartbeat has to exist
	}
	if time.Since(last) > LeaderHeartbeatTimeout {
		logger.Warn("faultdetector: leader %s silent past %s, triggering election", leaderID, LeaderHeartbeatTimeout)
		fd.le.Trigger()
	}
}

// --- message-timeout loop (§4.4, distinct from the above) ---

// ScanMessageTimeouts delegates to the reliable manager's retransmit/OMISSION
// logic and sweeps its DeliveredSet.
func (fd *FaultDetector) ScanMessageTimeouts() {
	if fd.rm == nil {
		return
	}
	fd.rm.ScanTimeouts()
	fd.rm.SweepDelivered()
}
