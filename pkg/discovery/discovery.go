// Package discovery implements the Discovery Service (§4.2): bootstraps a
// node into the group and keeps membership fresh through STARTUP, RUNNING,
// and JOINING phases, with a beaconLoop/receiveLoop/cleanupLoop shape
// generalized from a single beacon-only announcement into the full phased
// bootstrap required here, wired onto internal/groupview and pkg/wire.
package discovery

import (
	"context"
	"sync"
	"time"

	"groupwire/internal/groupview"
	"groupwire/internal/peer"
	"groupwire/pkg/logger"
	"groupwire/pkg/wire"
)

// Phase is this node's position in the §4.2 bootstrap state machine.
type Phase int

const (
	PhaseStartup Phase = iota
	PhaseRunning
	PhaseJoining
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseJoining:
		return "joining"
	default:
		return "startup"
	}
}

// Timing per §4.2.
const (
	AliveInterval       = 10 * time.Second
	ProbeRounds         = 3
	ProbeRetryDelay     = 2 * time.Second
	ProbeInactivityWait = 5 * time.Second
	StartupBudget       = 15 * time.Second
	SettlingDelay       = 3 * time.Second
	pollTick            = 200 * time.Millisecond
)

// Broadcaster sends to every peer on the bus.
type Broadcaster interface {
	Send(data []byte) error
}

// leaderView is the slice of *election.Election Discovery depends on,
// declared locally so this package never imports pkg/election (§9 Design
// Notes).
type leaderView interface {
	Trigger()
	CurrentLeader() (peer.ID, bool)
}

// Discovery runs the bootstrap and steady-state presence protocol for one
// node.
type Discovery struct {
	self     peer.ID
	kind     peer.Kind
	ip       string
	hostname string

	gv *groupview.GroupView
	tx Broadcaster
	le leaderView

	mu           sync.Mutex
	phase        Phase
	startupTime  time.Time
	lastActivity time.Time

	OnStartupComplete func()
}

// New builds a Discovery for self. le may be nil for client nodes, which
// never drive elections.
func New(self peer.ID, kind peer.Kind, ip, hostname string, gv *groupview.GroupView, tx Broadcaster, le leaderView) *Discovery {
	return &Discovery{self: self, kind: kind, ip: ip, hostname: hostname, gv: gv, tx: tx, le: le, phase: PhaseStartup}
}

// Phase reports the current bootstrap phase.
func (d *Discovery) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

func (d *Discovery) setPhase(p Phase) {
	d.mu.Lock()
	d.phase = p
	d.mu.Unlock()
}

func (d *Discovery) touchActivity() {
	d.mu.Lock()
	d.lastActivity = time.Now()
	d.mu.Unlock()
}

// Run drives the STARTUP sequence to completion and then blocks, emitting
// periodic SERVER_ALIVE beacons, until ctx is cancelled. Intended to be
// launched once via internal/supervisor.Supervisor.Go.
func (d *Discovery) Run(ctx context.Context) error {
	d.runStartup(ctx)

	ticker := time.NewTicker(AliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.announceAlive("")
		}
	}
}

func (d *Discovery) runStartup(ctx context.Context) {
	d.mu.Lock()
	d.startupTime = time.Now()
	d.phase = PhaseStartup
	d.mu.Unlock()

	logger.Info("discovery: entering STARTUP for %s", d.self)
	d.announceAlive("startup")

	budget := time.Now().Add(StartupBudget)
	for round := 0; round < ProbeRounds; round++ {
		if ctx.Err() != nil {
			return
		}
		d.sendProbe()
		d.runProbeRound(ctx)

		if time.Now().After(budget) {
			break
		}
		if round < ProbeRounds-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(ProbeRetryDelay):
			}
		}
	}

	d.setPhase(PhaseRunning)
	logger.Info("discovery: %s transitioning to RUNNING", d.self)

	if d.OnStartupComplete != nil {
		d.OnStartupComplete()
	}
	d.scheduleFirstElection(ctx)
}

// runProbeRound waits for SERVER_RESPONSE/SERVER_ALIVE activity, resetting
// the inactivity window on each one, until ProbeInactivityWait passes with
// nothing new (§4.2 "Probe round").
func (d *Discovery) runProbeRound(ctx context.Context) {
	d.touchActivity()
	for {
		d.mu.Lock()
		deadline := d.lastActivity.Add(ProbeInactivityWait)
		d.mu.Unlock()

		if time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollTick):
		}
	}
}

// scheduleFirstElection honors the additional settling delay after
// startup_complete before the first election fires (§4.2).
func (d *Discovery) scheduleFirstElection(ctx context.Context) {
	if d.le == nil {
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(SettlingDelay):
	}
	if ctx.Err() != nil {
		return
	}
	d.le.Trigger()
}

// JoinBurst runs a short discovery burst for a late joiner (§4.2 JOINING)
// then returns to RUNNING. Intended to be invoked when a node observes it
// has zero known peers well after startup, or on explicit request.
func (d *Discovery) JoinBurst(ctx context.Context) {
	d.setPhase(PhaseJoining)
	logger.Info("discovery: %s running JOINING burst", d.self)
	d.sendProbe()
	d.runProbeRound(ctx)
	d.setPhase(PhaseRunning)
}

func (d *Discovery) announceAlive(phase string) {
	data := wire.EncodeServerAlive(d.ip, d.hostname, phase)
	if err := d.tx.Send(data); err != nil {
		logger.Error("discovery: failed to send SERVER_ALIVE: %v", err)
	}
}

func (d *Discovery) sendProbe() {
	data := wire.EncodeServerProbe(d.ip, d.self)
	if err := d.tx.Send(data); err != nil {
		logger.Error("discovery: failed to send SERVER_PROBE: %v", err)
	}
}

// admit applies the common "new peer observed" handling shared by
// HandleServerAlive and HandleServerResponse: add to GV, and if running and
// the new peer outranks the current leader, trigger an election (§4.2
// "Probe round").
func (d *Discovery) admit(senderID peer.ID, kind peer.Kind, addr, hostname string) {
	if senderID == d.self {
		return // self-announcements are suppressed
	}

	now := time.Now()
	p := &peer.Peer{ID: senderID, Kind: kind, Address: addr, Hostname: hostname, JoinTime: now, LastSeen: now}
	result := d.gv.Add(p)

	if result == groupview.Joined && d.Phase() == PhaseRunning && d.le != nil {
		if leaderID, set := d.le.CurrentLeader(); !set || senderID > leaderID {
			d.le.Trigger()
		}
	}
}

// HandleServerAlive processes an inbound SERVER_ALIVE announcement.
func (d *Discovery) HandleServerAlive(ip, hostname string) {
	senderID := peer.NewID(ip, hostname)
	d.admit(senderID, peer.KindServer, ip, hostname)
	d.touchActivity()
}

// HandleServerProbe processes an inbound SERVER_PROBE, replying with
// SERVER_RESPONSE unless it is our own probe echoed back by the multicast
// loopback (§6: "Self-probes are ignored by responder").
func (d *Discovery) HandleServerProbe(ip, serverID string) {
	sender, err := wire.ParseID(serverID)
	if err != nil {
		logger.Warn("discovery: malformed SERVER_PROBE server_id %q: %v", serverID, err)
		return
	}
	if sender == d.self {
		return
	}
	data := wire.EncodeServerResponse(d.hostname, d.ip)
	if err := d.tx.Send(data); err != nil {
		logger.Error("discovery: failed to send SERVER_RESPONSE: %v", err)
	}
}

// HandleServerResponse processes an inbound SERVER_RESPONSE.
func (d *Discovery) HandleServerResponse(hostname, ip string) {
	senderID := peer.NewID(ip, hostname)
	d.admit(senderID, peer.KindServer, ip, hostname)
	d.touchActivity()
}

// HandleClientHeartbeat admits or refreshes a client peer (clients never
// run STARTUP/probe rounds; their only presence signal is CLIENT_HEARTBEAT
// and join/leave).
func (d *Discovery) HandleClientHeartbeat(clientID string) {
	sender, err := wire.ParseID(clientID)
	if err != nil {
		logger.Warn("discovery: malformed CLIENT_HEARTBEAT client_id %q: %v", clientID, err)
		return
	}
	d.gv.Touch(sender)
}

// HandleJoin admits a joining client into the view.
func (d *Discovery) HandleJoin(clientID, group string) {
	sender, err := wire.ParseID(clientID)
	if err != nil {
		logger.Warn("discovery: malformed join client_id %q: %v", clientID, err)
		return
	}
	d.admit(sender, peer.KindClient, "", clientID)
}

// HandleLeave removes a client that announced it is leaving.
func (d *Discovery) HandleLeave(username, group string) {
	sender, err := wire.ParseID(username)
	if err != nil {
		// usernames in LEAVE are not guaranteed to be numeric ids in every
		// caller; fall back to a no-op rather than crash the ingress loop.
		return
	}
	d.gv.Remove(sender)
}
