// Command discovery-test is a standalone diagnostic for the discovery
// protocol (§4.2) only: no election, fault detection, or chat, just the
// bootstrap/probe/alive exchange and the resulting group view. It is useful
// for checking multicast reachability between hosts before running full
// server/client nodes: event handlers, periodic status, and interactive
// "peers"/"help" commands, wired onto internal/groupview and pkg/discovery.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"groupwire/internal/groupview"
	"groupwire/internal/peer"
	"groupwire/pkg/bus"
	"groupwire/pkg/discovery"
	"groupwire/pkg/logger"
	"groupwire/pkg/wire"
)

func main() {
	var (
		multicast = flag.String("multicast", bus.DefaultAddress, "multicast address for the datagram bus")
		debug     = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()
	logger.SetDebug(*debug)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	ip := localIP()
	self := peer.NewID(ip, hostname)

	fmt.Printf("discovery-test: id=%s host=%s ip=%s multicast=%s\n", self, hostname, ip, *multicast)
	fmt.Println("commands: peers, help, ctrl-c to quit")

	b, err := bus.New(*multicast, bus.DefaultTTL)
	if err != nil {
		log.Fatalf("failed to build bus: %v", err)
	}
	if err := b.Start(); err != nil {
		log.Fatalf("failed to start bus: %v", err)
	}
	defer b.Stop()

	now := time.Now()
	gv := groupview.New(&peer.Peer{ID: self, Kind: peer.KindServer, Address: ip, Hostname: hostname, JoinTime: now, LastSeen: now})
	gv.StartCleanup()
	defer gv.Stop()

	gv.Subscribe(func(ev groupview.Event) {
		switch ev.Kind {
		case groupview.EventJoin:
			fmt.Printf("PEER JOINED: %s (%s) at %s\n", ev.Peer.ID, ev.Peer.Kind, ev.Peer.Address)
		case groupview.EventLeave:
			fmt.Printf("PEER LEFT: %s\n", ev.Peer.ID)
		case groupview.EventTimeout:
			fmt.Printf("PEER TIMED OUT: %s\n", ev.Peer.ID)
		}
	})

	disco := discovery.New(self, peer.KindServer, ip, hostname, gv, b, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go receiveLoop(ctx, b, disco)
	go func() { _ = disco.Run(ctx) }()
	go statusTicker(ctx, gv)
	go interactiveCommands(ctx, gv)

	<-ctx.Done()
	fmt.Println("shutting down...")
}

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

func receiveLoop(ctx context.Context, b *bus.Bus, disco *discovery.Discovery) {
	for {
		if ctx.Err() != nil {
			return
		}
		data, addr, err := b.Receive(1 * time.Second)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Error("discovery-test: receive error: %v", err)
			continue
		}
		env, err := wire.Decode(data)
		if err != nil {
			logger.Warn("discovery-test: dropping malformed datagram from %s: %v", addr, err)
			continue
		}
		switch env.Kind {
		case wire.KindServerAlive:
			disco.HandleServerAlive(env.Text.IP, env.Text.Hostname)
		case wire.KindServerProbe:
			disco.HandleServerProbe(env.Text.IP, env.Text.ServerID)
		case wire.KindServerResponse:
			disco.HandleServerResponse(env.Text.Hostname, env.Text.IP)
		}
	}
}

func statusTicker(ctx context.Context, gv *groupview.GroupView) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peers := gv.Snapshot(groupview.AnyPeer)
			fmt.Printf("\nSTATUS: %d peers known\n", len(peers))
			now := time.Now()
			for _, p := range peers {
				fmt.Printf("  - %s (%s) active=%v\n", p.ID, p.Kind, p.Active(now))
			}
			fmt.Println()
		}
	}
}

func interactiveCommands(ctx context.Context, gv *groupview.GroupView) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch scanner.Text() {
		case "peers", "p":
			peers := gv.Snapshot(groupview.AnyPeer)
			fmt.Printf("\nall peers (%d):\n", len(peers))
			now := time.Now()
			for _, p := range peers {
				fmt.Printf("  - %s (%s) - %s - last seen %s ago\n", p.ID, p.Kind, p.Address, now.Sub(p.LastSeen).Round(time.Second))
			}
			fmt.Println()
		case "help", "h":
			fmt.Println("\ncommands:\n  peers, p - show all peers\n  help, h  - show this help\n  ctrl-c   - quit")
		}
	}
}
