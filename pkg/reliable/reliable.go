// Package reliable implements the Reliable Messaging layer (§4.5): sequence
// numbers, checksums, acknowledgements, duplicate suppression, and bounded
// retransmits over the unreliable datagram bus. The message/ack shape
// follows a ReliableMessage/checksum design (sender + type + payload +
// timestamp hashed) built onto the JSON envelope in pkg/wire and
// github.com/google/uuid for msg_id generation.
package reliable

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"groupwire/internal/peer"
	"groupwire/pkg/logger"
	"groupwire/pkg/wire"
)

// Timing per §4.4 message-timeout loop and §3 DeliveredSet.
const (
	RetryWindow  = 5 * time.Second // retransmit if no ACK after this long
	MaxRetries   = 3
	DeliveredTTL = 2 * MaxRetries * RetryWindow // §3: "2x the message-retry window"
)

// PendingMessage tracks one outbound reliable send awaiting ACK (§3).
type PendingMessage struct {
	Message    *wire.ReliableMessage
	Targets    []peer.ID
	FirstTx    time.Time
	RetryCount int
}

// Broadcaster sends to every peer on the bus.
type Broadcaster interface {
	Send(data []byte) error
}

// Unicaster sends to one specific address (used for ACKs, §9 redesign).
type Unicaster interface {
	SendTo(addr *net.UDPAddr, data []byte) error
}

// DeliverFunc is invoked exactly once per distinct msg_id, after checksum
// verification and duplicate suppression.
type DeliverFunc func(senderID peer.ID, msgType, payload string)

// OmissionFunc is invoked when a pending message exhausts its retries
// without an ACK.
type OmissionFunc func(msgID string)

// ByzantineFunc is invoked when an inbound reliable message fails checksum
// verification.
type ByzantineFunc func(msgID string)

// Manager owns PendingMessage and DeliveredSet state for one node (§3
// Ownership: "RM owns PendingMessage and DeliveredSet").
type Manager struct {
	self peer.ID
	tx   Broadcaster
	ux   Unicaster

	mu        sync.Mutex
	pending   map[string]*PendingMessage
	delivered map[string]time.Time
	seq       uint64

	OnDeliver   DeliverFunc
	OnOmission  OmissionFunc
	OnByzantine ByzantineFunc
}

// New builds a Manager for self, broadcasting via tx and unicasting ACKs
// via ux (typically the same *bus.Bus for both).
func New(self peer.ID, tx Broadcaster, ux Unicaster) *Manager {
	return &Manager{
		self:      self,
		tx:        tx,
		ux:        ux,
		pending:   make(map[string]*PendingMessage),
		delivered: make(map[string]time.Time),
	}
}

func checksum(senderID peer.ID, msgType, payload string, ts time.Time) string {
	data := fmt.Sprintf("%s%s%s%s", senderID, msgType, payload, ts.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:16]
}

// Send creates a PendingMessage, stamps it with a fresh UUID, monotonic
// per-sender sequence number, and integrity checksum, stores it, and
// broadcasts the envelope (§4.5 Send).
func (m *Manager) Send(msgType, payload string, targets []peer.ID) error {
	now := time.Now()
	seq := atomic.AddUint64(&m.seq, 1)

	msg := &wire.ReliableMessage{
		MsgID:       uuid.NewString(),
		SenderID:    m.self,
		MsgType:     msgType,
		Payload:     payload,
		Timestamp:   now,
		SequenceNum: seq,
	}
	msg.Checksum = checksum(msg.SenderID, msg.MsgType, msg.Payload, msg.Timestamp)

	m.mu.Lock()
	m.pending[msg.MsgID] = &PendingMessage{Message: msg, Targets: targets, FirstTx: now}
	m.mu.Unlock()

	return m.transmit(msg, targets)
}

func (m *Manager) transmit(msg *wire.ReliableMessage, targets []peer.ID) error {
	env := &wire.ReliableEnvelope{Message: msg, Targets: targets}
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal reliable envelope: %w", err)
	}
	if err := m.tx.Send(data); err != nil {
		return fmt.Errorf("failed to broadcast reliable envelope: %w", err)
	}
	return nil
}

// Receive processes an inbound reliable envelope (§4.5 Receive steps 2-4;
// step 1, envelope decode, already happened at ingress in pkg/wire).
func (m *Manager) Receive(env *wire.ReliableEnvelope, senderAddr *net.UDPAddr) {
	msg := env.Message

	m.mu.Lock()
	_, seen := m.delivered[msg.MsgID]
	m.mu.Unlock()

	if seen {
		m.sendAck(msg.MsgID, senderAddr)
		return
	}

	expected := checksum(msg.SenderID, msg.MsgType, msg.Payload, msg.Timestamp)
	if expected != msg.Checksum {
		logger.Warn("reliable: checksum mismatch from %s for msg %s", msg.SenderID, msg.MsgID)
		if m.OnByzantine != nil {
			m.OnByzantine(msg.MsgID)
		}
		return
	}

	m.mu.Lock()
	m.delivered[msg.MsgID] = time.Now()
	m.mu.Unlock()

	m.sendAck(msg.MsgID, senderAddr)

	if m.OnDeliver != nil {
		m.OnDeliver(msg.SenderID, msg.MsgType, msg.Payload)
	}
}

func (m *Manager) sendAck(msgID string, senderAddr *net.UDPAddr) {
	if m.ux == nil || senderAddr == nil {
		return
	}
	ack := &wire.AckMessage{MsgID: msgID, SenderID: m.self}
	data, err := ack.Marshal()
	if err != nil {
		logger.Error("reliable: failed to marshal ACK: %v", err)
		return
	}
	if err := m.ux.SendTo(senderAddr, data); err != nil {
		logger.Error("reliable: failed to send ACK to %s: %v", senderAddr, err)
	}
}

// HandleAck removes the acknowledged message from the pending set (§4.5 ACK
// handling).
func (m *Manager) HandleAck(msgID string) {
	m.mu.Lock()
	delete(m.pending, msgID)
	m.mu.Unlock()
}

// ScanTimeouts is the §4.4 message-timeout loop: retransmit pending
// messages past RetryWindow, and declare OMISSION once retries are
// exhausted. Intended to be called on a 2s tick by the fault detector.
func (m *Manager) ScanTimeouts() {
	now := time.Now()

	type retransmission struct {
		msg     *wire.ReliableMessage
		targets []peer.ID
		attempt int
	}
	var toRetransmit []retransmission
	var omitted []string

	m.mu.Lock()
	for id, pm := range m.pending {
		if now.Sub(pm.FirstTx) <= RetryWindow {
			continue
		}
		if pm.RetryCount >= MaxRetries {
			delete(m.pending, id)
			omitted = append(omitted, id)
			continue
		}
		pm.RetryCount++
		pm.FirstTx = now
		toRetransmit = append(toRetransmit, retransmission{msg: pm.Message, targets: pm.Targets, attempt: pm.RetryCount})
	}
	m.mu.Unlock()

	for _, r := range toRetransmit {
		logger.Debug("reliable: retransmitting %s (attempt %d)", r.msg.MsgID, r.attempt)
		if err := m.transmit(r.msg, r.targets); err != nil {
			logger.Error("reliable: retransmit failed: %v", err)
		}
	}
	for _, id := range omitted {
		logger.Warn("reliable: message %s exhausted retries, declaring OMISSION", id)
		if m.OnOmission != nil {
			m.OnOmission(id)
		}
	}
}

// SweepDelivered expires DeliveredSet entries older than DeliveredTTL (§3:
// "Entries expire after 2x message-retry window").
func (m *Manager) SweepDelivered() {
	cutoff := time.Now().Add(-DeliveredTTL)
	m.mu.Lock()
	for id, seenAt := range m.delivered {
		if seenAt.Before(cutoff) {
			delete(m.delivered, id)
		}
	}
	m.mu.Unlock()
}

// PendingCount reports how many sends are still awaiting ACK (used by
// status replies and tests).
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// HasDelivered reports whether a msg_id has already been delivered upstream
// (used by idempotence tests).
func (m *Manager) HasDelivered(msgID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.delivered[msgID]
	return ok
}
