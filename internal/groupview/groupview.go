// Package groupview implements the authoritative in-memory registry of known
// peers (§4.1 Group View): a single mutex-guarded map with listener dispatch
// after unlock and a periodic cleanup sweep, generalized into the shared GV
// used by discovery, election, and fault detection.
package groupview

import (
	"sync"
	"time"

	"groupwire/internal/peer"
	"groupwire/pkg/logger"
)

// EventKind identifies what happened to a peer.
type EventKind int

const (
	EventJoin EventKind = iota
	EventLeave
	EventTimeout
)

func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners after the registry mutex is released.
type Event struct {
	Kind EventKind
	Peer *peer.Peer
}

// Listener observes group view changes. Panics inside a listener are caught
// and logged; they never propagate to the caller that triggered the mutation.
type Listener func(Event)

// AddResult reports what Add did.
type AddResult int

const (
	Joined AddResult = iota
	Refreshed
)

// cleanupInterval is the §4.1 background scan period.
const cleanupInterval = 15 * time.Second

// GroupView is the authoritative registry of known peers. A single mutex
// guards the map; listener dispatch happens after the mutex is released to
// avoid reentrant deadlock (§4.1 Concurrency).
type GroupView struct {
	mu      sync.Mutex
	peers   map[peer.ID]*peer.Peer
	viewID  uint64
	running bool
	done    chan struct{}

	listenersMu sync.RWMutex
	listeners   []Listener
}

// New creates an empty group view seeded with the local peer.
func New(self *peer.Peer) *GroupView {
	gv := &GroupView{
		peers: make(map[peer.ID]*peer.Peer),
		done:  make(chan struct{}),
	}
	if self != nil {
		cp := self.Clone()
		gv.peers[cp.ID] = cp
		gv.viewID++
	}
	return gv
}

// Subscribe registers a listener for future add/remove/timeout events.
func (gv *GroupView) Subscribe(l Listener) {
	gv.listenersMu.Lock()
	defer gv.listenersMu.Unlock()
	gv.listeners = append(gv.listeners, l)
}

func (gv *GroupView) notify(ev Event) {
	gv.listenersMu.RLock()
	ls := append([]Listener(nil), gv.listeners...)
	gv.listenersMu.RUnlock()

	for _, l := range ls {
		func(l Listener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("group view listener panicked: %v", r)
				}
			}()
			l(ev)
		}(l)
	}
}

// Add inserts a newly observed peer or refreshes an existing one's
// LastSeen. Returns Joined for a new peer, Refreshed for an existing one.
func (gv *GroupView) Add(p *peer.Peer) AddResult {
	now := time.Now()

	gv.mu.Lock()
	existing, ok := gv.peers[p.ID]
	var result AddResult
	var snapshot *peer.Peer
	if ok {
		if existing.Address != p.Address {
			logger.Warn("peer %s re-announced from a different address (%s -> %s); possible PeerId collision",
				p.ID, existing.Address, p.Address)
		}
		existing.Touch(now)
		existing.Address = p.Address
		existing.Hostname = p.Hostname
		result = Refreshed
		snapshot = existing.Clone()
	} else {
		cp := p.Clone()
		if cp.JoinTime.IsZero() {
			cp.JoinTime = now
		}
		cp.LastSeen = now
		gv.peers[cp.ID] = cp
		gv.viewID++
		result = Joined
		snapshot = cp.Clone()
	}
	gv.mu.Unlock()

	if result == Joined {
		gv.notify(Event{Kind: EventJoin, Peer: snapshot})
	}
	return result
}

// Touch records contact from an already-known peer without altering
// address/hostname. No-op if the peer is unknown.
func (gv *GroupView) Touch(id peer.ID) {
	now := time.Now()
	gv.mu.Lock()
	p, ok := gv.peers[id]
	if ok {
		p.Touch(now)
	}
	gv.mu.Unlock()
}

// Remove deletes a peer unconditionally (a graceful leave), firing an
// EventLeave. Returns false if the peer was not known.
func (gv *GroupView) Remove(id peer.ID) bool {
	gv.mu.Lock()
	p, ok := gv.peers[id]
	if ok {
		delete(gv.peers, id)
		gv.viewID++
	}
	gv.mu.Unlock()

	if ok {
		gv.notify(Event{Kind: EventLeave, Peer: p.Clone()})
	}
	return ok
}

// Get returns a copy of the peer, or nil if unknown.
func (gv *GroupView) Get(id peer.ID) *peer.Peer {
	gv.mu.Lock()
	defer gv.mu.Unlock()
	p, ok := gv.peers[id]
	if !ok {
		return nil
	}
	return p.Clone()
}

// Filter selects peers for Snapshot.
type Filter func(*peer.Peer) bool

// AnyPeer matches every peer.
func AnyPeer(*peer.Peer) bool { return true }

// ServersOnly matches server-kind peers.
func ServersOnly(p *peer.Peer) bool { return p.Kind == peer.KindServer }

// Snapshot returns copies of every peer matching filter, taken under the
// registry lock so iteration elsewhere never races a concurrent mutation.
func (gv *GroupView) Snapshot(filter Filter) []*peer.Peer {
	if filter == nil {
		filter = AnyPeer
	}
	gv.mu.Lock()
	defer gv.mu.Unlock()

	out := make([]*peer.Peer, 0, len(gv.peers))
	for _, p := range gv.peers {
		if filter(p) {
			out = append(out, p.Clone())
		}
	}
	return out
}

// CountByKind returns the number of known peers of each kind.
func (gv *GroupView) CountByKind() map[peer.Kind]int {
	gv.mu.Lock()
	defer gv.mu.Unlock()

	counts := make(map[peer.Kind]int, 2)
	for _, p := range gv.peers {
		counts[p.Kind]++
	}
	return counts
}

// ViewID returns the current monotonically increasing view identifier.
func (gv *GroupView) ViewID() uint64 {
	gv.mu.Lock()
	defer gv.mu.Unlock()
	return gv.viewID
}

// Size returns the total number of known peers.
func (gv *GroupView) Size() int {
	gv.mu.Lock()
	defer gv.mu.Unlock()
	return len(gv.peers)
}

// StartCleanup launches the background timer that scans for and evicts
// peers past their liveness window, firing EventTimeout. It is idempotent
// and safe to call once per GroupView lifetime.
func (gv *GroupView) StartCleanup() {
	gv.mu.Lock()
	if gv.running {
		gv.mu.Unlock()
		return
	}
	gv.running = true
	gv.mu.Unlock()

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gv.done:
				return
			case <-ticker.C:
				gv.sweep()
			}
		}
	}()
}

func (gv *GroupView) sweep() {
	now := time.Now()

	gv.mu.Lock()
	var expired []*peer.Peer
	for id, p := range gv.peers {
		if !p.Active(now) {
			expired = append(expired, p.Clone())
			delete(gv.peers, id)
		}
	}
	if len(expired) > 0 {
		gv.viewID++
	}
	gv.mu.Unlock()

	for _, p := range expired {
		logger.Debug("group view: evicting %s (%s), silent since %s", p.ID, p.Kind, p.LastSeen.Format(time.RFC3339))
		gv.notify(Event{Kind: EventTimeout, Peer: p})
	}
}

// Stop halts the cleanup timer. Safe to call multiple times.
func (gv *GroupView) Stop() {
	gv.mu.Lock()
	if !gv.running {
		gv.mu.Unlock()
		return
	}
	gv.running = false
	gv.mu.Unlock()
	close(gv.done)
}
