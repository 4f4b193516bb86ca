// Package bus implements the Datagram Bus (§2, §6): an abstract best-effort
// broadcast channel over UDP multicast. It carries no protocol logic of its
// own — callers hand it bytes and get bytes back, tagged with the sender's
// address. It is a general-purpose bus any component (discovery, election,
// fault detection, reliable messaging) can share, rather than a hardcoded
// discovery-only socket.
package bus

import (
	"fmt"
	"net"
	"syscall"
	"time"
)

// Default wire parameters (§6 External Interfaces).
const (
	DefaultAddress  = "224.1.1.1:5008"
	DefaultTTL      = 2
	MaxDatagramSize = 10240
)

// Bus is a multicast datagram channel. Every peer both sends and listens on
// it (§6).
type Bus struct {
	groupAddr *net.UDPAddr
	conn      *net.UDPConn
	localAddr *net.UDPAddr
	ttl       int
}

// New validates addr as an IPv4 multicast address and prepares a Bus. Call
// Start to actually open the socket.
func New(addr string, ttl int) (*Bus, error) {
	resolved, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("invalid multicast address %s: %w", addr, err)
	}
	if !resolved.IP.IsMulticast() {
		return nil, fmt.Errorf("address %s is not a multicast address", resolved.IP)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Bus{groupAddr: resolved, ttl: ttl}, nil
}

// Start opens the multicast socket and enables loopback, so peers on the
// same host see each other's datagrams — essential for local development and
// the boundary-scenario tests in §8.
func (b *Bus) Start() error {
	conn, err := net.ListenMulticastUDP("udp4", nil, b.groupAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on multicast address: %w", err)
	}
	b.conn = conn
	b.localAddr = conn.LocalAddr().(*net.UDPAddr)

	if rawConn, err := conn.SyscallConn(); err == nil {
		_ = rawConn.Control(func(fd uintptr) {
			_ = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_MULTICAST_LOOP, 1)
			_ = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_MULTICAST_TTL, b.ttl)
		})
	}
	return nil
}

// Stop closes the socket, forcing any blocked Receive to error (§5
// cancellation model).
func (b *Bus) Stop() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// Send broadcasts data to the multicast group.
func (b *Bus) Send(data []byte) error {
	if b.conn == nil {
		return fmt.Errorf("bus not started")
	}
	if len(data) > MaxDatagramSize {
		return fmt.Errorf("datagram too large: %d bytes (max %d)", len(data), MaxDatagramSize)
	}
	_, err := b.conn.WriteToUDP(data, b.groupAddr)
	if err != nil {
		return fmt.Errorf("failed to send datagram: %w", err)
	}
	return nil
}

// SendTo unicasts data to a specific address over the same socket used for
// multicast — the §9 redesign flag that ACKs travel point-to-point instead
// of back through the multicast group.
func (b *Bus) SendTo(addr *net.UDPAddr, data []byte) error {
	if b.conn == nil {
		return fmt.Errorf("bus not started")
	}
	if len(data) > MaxDatagramSize {
		return fmt.Errorf("datagram too large: %d bytes (max %d)", len(data), MaxDatagramSize)
	}
	_, err := b.conn.WriteToUDP(data, addr)
	if err != nil {
		return fmt.Errorf("failed to send unicast datagram: %w", err)
	}
	return nil
}

// Receive blocks up to timeout for one inbound datagram, returning its
// payload and the sender's address. A timeout is reported as a *net.OpError
// satisfying net.Error.Timeout(); callers treat that as "nothing arrived",
// not a fault.
func (b *Bus) Receive(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	if b.conn == nil {
		return nil, nil, fmt.Errorf("bus not started")
	}
	if err := b.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	buf := make([]byte, MaxDatagramSize)
	n, sender, err := b.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, sender, err
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, sender, nil
}

// LocalAddr returns the bound local UDP address, or nil before Start.
func (b *Bus) LocalAddr() *net.UDPAddr {
	return b.localAddr
}
