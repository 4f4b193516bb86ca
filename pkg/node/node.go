// Package node wires the §4 components around one shared datagram bus,
// owning the single ingress receive loop that decodes each inbound datagram
// exactly once (pkg/wire) and dispatches it by Kind to whichever component
// owns that concern (§9 Design Notes: "a tagged-variant decoded once at
// ingress ... no component imports another's internals"). It is the
// node-level glue so cmd/server and cmd/client can both build a Node from a
// Config and call Start/Stop without duplicating the wiring.
package node

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"groupwire/internal/groupview"
	"groupwire/internal/peer"
	"groupwire/internal/supervisor"
	"groupwire/pkg/bus"
	"groupwire/pkg/chat"
	"groupwire/pkg/discovery"
	"groupwire/pkg/election"
	"groupwire/pkg/faultdetector"
	"groupwire/pkg/logger"
	"groupwire/pkg/metrics"
	"groupwire/pkg/reliable"
	"groupwire/pkg/wire"
)

// Config configures a single node's membership/coordination substrate.
// Username and Group are only meaningful for client nodes.
type Config struct {
	Kind          peer.Kind
	Username      string
	Group         string
	MulticastAddr string
	TTL           int
}

// Node owns every §4 component for one process: the shared bus connection,
// the group view, and whichever of election/discovery/fault-detector/
// reliable-messaging/chat apply to this node's kind.
type Node struct {
	self     peer.ID
	kind     peer.Kind
	hostname string
	ip       string
	group    string

	bus     *bus.Bus
	gv      *groupview.GroupView
	metrics *metrics.Registry

	election *election.Election // nil for clients: only servers run the bully algorithm (§4.3)
	fd       *faultdetector.FaultDetector
	disco    *discovery.Discovery
	rm       *reliable.Manager
	chat     *chat.ChatService // nil for servers: chat is the external collaborator (§1), not part of the coordination plane

	sup *supervisor.Supervisor
}

// New builds a Node but does not start any network activity.
func New(cfg Config) (*Node, error) {
	if cfg.MulticastAddr == "" {
		cfg.MulticastAddr = bus.DefaultAddress
	}
	if cfg.TTL <= 0 {
		cfg.TTL = bus.DefaultTTL
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	ip := localIP()
	self := peer.NewID(ip, hostname)

	b, err := bus.New(cfg.MulticastAddr, cfg.TTL)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	now := time.Now()
	selfPeer := &peer.Peer{ID: self, Kind: cfg.Kind, Address: ip, Hostname: hostname, JoinTime: now, LastSeen: now}
	gv := groupview.New(selfPeer)
	reg := metrics.New()
	rm := reliable.New(self, b, b)

	var el *election.Election
	if cfg.Kind == peer.KindServer {
		el = election.New(self, gv, b)
	}

	var disco *discovery.Discovery
	if cfg.Kind == peer.KindServer {
		disco = discovery.New(self, cfg.Kind, ip, hostname, gv, b, el)
	}

	var fd *faultdetector.FaultDetector
	if el != nil {
		fd = faultdetector.New(self, cfg.Kind, gv, b, rm, el)
	} else {
		fd = faultdetector.New(self, cfg.Kind, gv, b, rm, nil)
	}

	var cs *chat.ChatService
	if cfg.Kind == peer.KindClient {
		username := cfg.Username
		if username == "" {
			username = hostname
		}
		cs = chat.NewChatService(self, username, cfg.Group, gv, rm)
	}

	n := &Node{
		self: self, kind: cfg.Kind, hostname: hostname, ip: ip, group: cfg.Group,
		bus: b, gv: gv, metrics: reg,
		election: el, fd: fd, disco: disco, rm: rm, chat: cs,
	}
	n.wireCallbacks()
	return n, nil
}

// localIP makes a best-effort guess at a routable IPv4 address, used only to
// populate the advisory IP field carried in SERVER_ALIVE/SERVER_PROBE (§6
// notes these are "good enough for debugging"; the receiver's observed
// source address is authoritative for delivery).
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return "127.0.0.1"
}

// wireCallbacks connects the components' callback fields to each other and
// to the metrics registry, without any of them importing one another.
func (n *Node) wireCallbacks() {
	n.gv.Subscribe(func(ev groupview.Event) {
		n.metrics.GroupViewSize.Set(float64(n.gv.Size()))
	})

	if n.election != nil {
		n.election.Subscribe(func(ev election.ChangeEvent) {
			if ev.Set {
				n.metrics.CurrentLeader.Set(float64(ev.Leader))
			} else {
				n.metrics.CurrentLeader.Set(0)
			}
		})
	}

	n.fd.OnCrash = func(id peer.ID) {
		n.metrics.Crash.Inc()
	}
	n.fd.OnPartition = func(state faultdetector.PartitionState) {
		n.metrics.Partition.Inc()
		n.metrics.InPartition.Set(1)
	}
	n.fd.OnPartitionHealed = func(state faultdetector.PartitionState) {
		n.metrics.InPartition.Set(0)
	}
	n.fd.OnOmission = func(msgID string) {
		n.metrics.Omission.Inc()
	}
	n.fd.OnByzantine = func(msgID string) {
		n.metrics.Byzantine.Inc()
	}

	// The reliable manager is what actually observes OMISSION/BYZANTINE;
	// delegate through the fault detector so it stays the single taxonomy
	// owner (§7) even though detection happens inside pkg/reliable.
	n.rm.OnOmission = func(msgID string) {
		if n.fd.OnOmission != nil {
			n.fd.OnOmission(msgID)
		}
	}
	n.rm.OnByzantine = func(msgID string) {
		if n.fd.OnByzantine != nil {
			n.fd.OnByzantine(msgID)
		}
	}
	if n.chat != nil {
		n.rm.OnDeliver = n.chat.HandleDelivered
	}
}

// Chat returns the chat collaborator, or nil for server nodes.
func (n *Node) Chat() *chat.ChatService { return n.chat }

// Self returns this node's own peer identity.
func (n *Node) Self() peer.ID { return n.self }

// Leader reports the currently known leader, if any. Only servers track
// election state; clients always report unset.
func (n *Node) Leader() (peer.ID, bool) {
	if n.election == nil {
		return 0, false
	}
	return n.election.CurrentLeader()
}

// Peers returns a snapshot of every known peer.
func (n *Node) Peers() []*peer.Peer {
	return n.gv.Snapshot(groupview.AnyPeer)
}

// Metrics exposes the node's Prometheus registry, e.g. for an HTTP handler.
func (n *Node) Metrics() *metrics.Registry { return n.metrics }

// clientHeartbeatInterval mirrors discovery.AliveInterval: clients carry no
// STARTUP/probe machinery of their own (§4.2), so a plain periodic beacon at
// the same cadence keeps them from aging out of peers' group views.
const clientHeartbeatInterval = discovery.AliveInterval

// Start opens the bus, launches the background loops appropriate to this
// node's kind, and returns once they are all scheduled. It does not block;
// call Stop to shut down.
func (n *Node) Start(ctx context.Context) error {
	if err := n.bus.Start(); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	n.gv.StartCleanup()

	n.sup = supervisor.New(ctx)
	n.sup.Go(n.receiveLoop)

	n.sup.Every(faultdetector.HeartbeatInterval, func(ctx context.Context) { n.fd.EmitHeartbeat() })
	n.sup.Every(faultdetector.CrashScanInterval, func(ctx context.Context) { n.fd.ScanCrashes() })
	n.sup.Every(faultdetector.PartitionScanInterval, func(ctx context.Context) { n.fd.ScanPartition() })
	n.sup.Every(faultdetector.LeaderMonitorInterval, func(ctx context.Context) { n.fd.MonitorLeader() })
	n.sup.Every(faultdetector.MessageTimeoutScanInterval, func(ctx context.Context) { n.fd.ScanMessageTimeouts() })

	switch n.kind {
	case peer.KindServer:
		n.sup.Go(func(ctx context.Context) error { return n.disco.Run(ctx) })
	case peer.KindClient:
		if err := n.bus.Send(wire.EncodeJoin(n.self.String(), n.group)); err != nil {
			logger.Error("node: failed to send join: %v", err)
		}
		n.sup.Every(clientHeartbeatInterval, func(ctx context.Context) {
			if err := n.bus.Send(wire.EncodeClientHeartbeat(n.self.String())); err != nil {
				logger.Error("node: failed to send client heartbeat: %v", err)
			}
		})
		if n.chat != nil {
			if err := n.chat.NotifyJoin(); err != nil {
				logger.Warn("node: chat join notification failed: %v", err)
			}
		}
	}

	logger.Info("node: %s (%s) started on %s", n.self, n.kind, n.bus.LocalAddr())
	return nil
}

// receiveLoop is the single point where raw datagrams become decoded
// Envelopes (pkg/wire) and get dispatched. Nothing else in the process reads
// from the bus.
func (n *Node) receiveLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		data, addr, err := n.bus.Receive(1 * time.Second)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("node: bus receive error: %v", err)
			continue
		}

		env, err := wire.Decode(data)
		if err != nil {
			n.metrics.Byzantine.Inc()
			logger.Warn("node: dropping malformed datagram from %s: %v", addr, err)
			continue
		}
		n.dispatch(env, addr)
	}
}

// dispatch routes one decoded Envelope to the component that owns its Kind.
func (n *Node) dispatch(env *wire.Envelope, addr *net.UDPAddr) {
	switch env.Kind {
	case wire.KindServerAlive:
		if n.disco != nil {
			n.disco.HandleServerAlive(env.Text.IP, env.Text.Hostname)
		}
	case wire.KindServerProbe:
		if n.disco != nil {
			n.disco.HandleServerProbe(env.Text.IP, env.Text.ServerID)
		}
	case wire.KindServerResponse:
		if n.disco != nil {
			n.disco.HandleServerResponse(env.Text.Hostname, env.Text.IP)
		}
	case wire.KindClientHeartbeat:
		if n.disco != nil {
			n.disco.HandleClientHeartbeat(env.Text.ClientID)
		} else if id, err := wire.ParseID(env.Text.ClientID); err == nil {
			n.gv.Touch(id)
		}
	case wire.KindJoin:
		if n.disco != nil {
			n.disco.HandleJoin(env.Text.ClientID, env.Text.Group)
		} else if id, err := wire.ParseID(env.Text.ClientID); id != n.self && err == nil {
			n.gv.Add(&peer.Peer{ID: id, Kind: peer.KindClient, JoinTime: time.Now(), LastSeen: time.Now()})
		}
	case wire.KindLeave:
		if n.disco != nil {
			n.disco.HandleLeave(env.Text.ClientID, env.Text.Group)
		} else if id, err := wire.ParseID(env.Text.ClientID); err == nil {
			n.gv.Remove(id)
		}
	case wire.KindElection:
		if n.election != nil {
			n.election.HandleElection(env.Election.SenderID)
		}
	case wire.KindOK:
		if n.election != nil {
			n.election.HandleOK(env.Election.SenderID)
		}
	case wire.KindCoordinator:
		if n.election != nil {
			n.election.HandleCoordinator(env.Election.SenderID)
		}
	case wire.KindReliable:
		n.rm.Receive(env.Reliable, addr)
	case wire.KindAck:
		n.rm.HandleAck(env.Ack.MsgID)
	case wire.KindHeartbeat:
		n.fd.HandleHeartbeat(env.Heartbeat.SenderID)
	case wire.KindLeaderHeartbeat:
		n.fd.HandleLeaderHeartbeat(env.LeaderHeartbeat.SenderID)
	case wire.KindPartitionProbe:
		n.fd.HandlePartitionProbe(env.PartitionProbe)
	case wire.KindStatus:
		// status is a manual diagnostic probe; a running node does not
		// reply to it and leaves the datagram unanswered.
	default:
		logger.Warn("node: unhandled datagram kind %q from %s", env.Kind, addr)
	}
}

// Stop announces departure (clients only) and shuts every background loop
// down, bounded by ctx.
func (n *Node) Stop(ctx context.Context) error {
	if n.kind == peer.KindClient {
		if err := n.bus.Send(wire.EncodeLeave(n.self.String(), n.group)); err != nil {
			logger.Error("node: failed to send leave: %v", err)
		}
		if n.chat != nil {
			if err := n.chat.Stop(); err != nil {
				logger.Warn("node: chat stop: %v", err)
			}
		}
	}

	n.gv.Stop()

	var supErr error
	if n.sup != nil {
		supErr = n.sup.Stop(ctx)
	}
	if err := n.bus.Stop(); err != nil && supErr == nil {
		supErr = err
	}
	return supErr
}
