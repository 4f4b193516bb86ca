// Package wire implements the §6 message catalog as a single tagged-variant
// decoder at ingress (§9 Design Notes: "replace ad-hoc prefix matching with a
// tagged-variant decoded once"). Every inbound datagram is decoded exactly
// once into an Envelope and routed by Kind; nothing downstream re-parses raw
// bytes.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"groupwire/internal/peer"
)

// Kind tags the decoded variant.
type Kind string

const (
	KindServerAlive        Kind = "SERVER_ALIVE"
	KindServerProbe         Kind = "SERVER_PROBE"
	KindServerResponse      Kind = "SERVER_RESPONSE"
	KindServerProbeCapable  Kind = "SERVER_PROBE_CAPABLE"
	KindClientHeartbeat     Kind = "CLIENT_HEARTBEAT"
	KindJoin                Kind = "join"
	KindLeave               Kind = "leave"
	KindStatus              Kind = "status"
	KindElection            Kind = "ELECTION"
	KindOK                  Kind = "OK"
	KindCoordinator         Kind = "COORDINATOR"
	KindReliable            Kind = "RELIABLE_MSG"
	KindAck                 Kind = "ACK"
	KindHeartbeat           Kind = "HEARTBEAT"
	KindLeaderHeartbeat     Kind = "LEADER_HEARTBEAT"
	KindPartitionProbe      Kind = "PARTITION_PROBE"
)

// TextMessage holds the fields used by the colon-delimited plain-text
// messages (§6 table, everything above the JSON messages).
type TextMessage struct {
	Kind     Kind
	IP       string
	Hostname string
	ServerID string
	ClientID string
	Group    string
	Phase    string
}

// ElectionMessage covers ELECTION, OK, and COORDINATOR — identical shape,
// distinguished by Type (§6: "Same for OK, COORDINATOR").
type ElectionMessage struct {
	Type     string  `json:"type"`
	SenderID peer.ID `json:"sender_id"`
}

// ReliableMessage is the payload carried inside a reliable envelope.
type ReliableMessage struct {
	MsgID       string    `json:"msg_id"`
	SenderID    peer.ID   `json:"sender_id"`
	MsgType     string    `json:"msg_type"`
	Payload     string    `json:"payload"`
	Timestamp   time.Time `json:"timestamp"`
	SequenceNum uint64    `json:"sequence_num"`
	Checksum    string    `json:"checksum"`
}

// ReliableEnvelope wraps a ReliableMessage for transmission, optionally
// scoped to specific targets.
type ReliableEnvelope struct {
	Type    string           `json:"type"`
	Message *ReliableMessage `json:"message"`
	Targets []peer.ID        `json:"target_nodes,omitempty"`
}

// AckMessage acknowledges receipt of a reliable envelope.
type AckMessage struct {
	Type     string  `json:"type"`
	MsgID    string  `json:"msg_id"`
	SenderID peer.ID `json:"sender_id"`
}

// HeartbeatMessage is the plain liveness heartbeat (§4.4.1).
type HeartbeatMessage struct {
	Type      string    `json:"type"`
	SenderID  peer.ID   `json:"sender_id"`
	NodeType  string    `json:"node_type"`
	Timestamp time.Time `json:"timestamp"`
}

// LeaderHeartbeatMessage is emitted only by the current leader.
type LeaderHeartbeatMessage struct {
	Type      string    `json:"type"`
	SenderID  peer.ID   `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

// PartitionProbeMessage is both the probe and its echoed response; the
// responder swaps SenderID/TargetID (§6 note).
type PartitionProbeMessage struct {
	Type      string    `json:"type"`
	SenderID  peer.ID   `json:"sender_id"`
	TargetID  peer.ID   `json:"target_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the decoded form of any inbound datagram. Exactly one of the
// typed fields is non-nil, matching Kind.
type Envelope struct {
	Kind            Kind
	Text            *TextMessage
	Election        *ElectionMessage
	Reliable        *ReliableEnvelope
	Ack             *AckMessage
	Heartbeat       *HeartbeatMessage
	LeaderHeartbeat *LeaderHeartbeatMessage
	PartitionProbe  *PartitionProbeMessage
}

// Decode parses a raw datagram into an Envelope. JSON messages (those
// beginning with '{') are dispatched by their "type" field; everything else
// is treated as colon-delimited plain text and dispatched by its first
// token. Malformed input returns an error; callers count it as BYZANTINE and
// drop it (§7) rather than aborting.
func Decode(data []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty datagram")
	}
	if trimmed[0] == '{' {
		return decodeJSON(trimmed)
	}
	return decodeText(trimmed)
}

func decodeJSON(data []byte) (*Envelope, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("malformed json envelope: %w", err)
	}

	switch probe.Type {
	case string(KindElection), string(KindOK), string(KindCoordinator):
		var m ElectionMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s message: %w", probe.Type, err)
		}
		return &Envelope{Kind: Kind(probe.Type), Election: &m}, nil
	case string(KindReliable):
		var m ReliableEnvelope
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed reliable envelope: %w", err)
		}
		if m.Message == nil {
			return nil, fmt.Errorf("reliable envelope missing message")
		}
		return &Envelope{Kind: KindReliable, Reliable: &m}, nil
	case string(KindAck):
		var m AckMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed ack: %w", err)
		}
		return &Envelope{Kind: KindAck, Ack: &m}, nil
	case string(KindHeartbeat):
		var m HeartbeatMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed heartbeat: %w", err)
		}
		return &Envelope{Kind: KindHeartbeat, Heartbeat: &m}, nil
	case string(KindLeaderHeartbeat):
		var m LeaderHeartbeatMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed leader heartbeat: %w", err)
		}
		return &Envelope{Kind: KindLeaderHeartbeat, LeaderHeartbeat: &m}, nil
	case string(KindPartitionProbe):
		var m PartitionProbeMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed partition probe: %w", err)
		}
		return &Envelope{Kind: KindPartitionProbe, PartitionProbe: &m}, nil
	default:
		return nil, fmt.Errorf("unknown json message type %q", probe.Type)
	}
}

func decodeText(data []byte) (*Envelope, error) {
	parts := strings.Split(string(data), ":")
	head := parts[0]

	switch Kind(head) {
	case KindServerAlive:
		if len(parts) < 3 {
			return nil, fmt.Errorf("malformed SERVER_ALIVE: %q", data)
		}
		tm := &TextMessage{Kind: KindServerAlive, IP: parts[1], Hostname: parts[2]}
		if len(parts) > 3 {
			tm.Phase = parts[3]
		}
		return &Envelope{Kind: KindServerAlive, Text: tm}, nil
	case KindServerProbe:
		if len(parts) < 3 {
			return nil, fmt.Errorf("malformed SERVER_PROBE: %q", data)
		}
		return &Envelope{Kind: KindServerProbe, Text: &TextMessage{Kind: KindServerProbe, IP: parts[1], ServerID: parts[2]}}, nil
	case KindServerResponse:
		if len(parts) < 3 {
			return nil, fmt.Errorf("malformed SERVER_RESPONSE: %q", data)
		}
		return &Envelope{Kind: KindServerResponse, Text: &TextMessage{Kind: KindServerResponse, Hostname: parts[1], IP: parts[2]}}, nil
	case KindServerProbeCapable:
		if len(parts) < 4 {
			return nil, fmt.Errorf("malformed SERVER_PROBE_CAPABLE: %q", data)
		}
		return &Envelope{Kind: KindServerProbeCapable, Text: &TextMessage{Kind: KindServerProbeCapable, IP: parts[1], Hostname: parts[2], ServerID: parts[3]}}, nil
	case KindClientHeartbeat:
		if len(parts) < 2 {
			return nil, fmt.Errorf("malformed CLIENT_HEARTBEAT: %q", data)
		}
		return &Envelope{Kind: KindClientHeartbeat, Text: &TextMessage{Kind: KindClientHeartbeat, ClientID: parts[1]}}, nil
	case KindJoin:
		tm := &TextMessage{Kind: KindJoin}
		if len(parts) > 1 {
			tm.ClientID = parts[1]
		}
		if len(parts) > 2 {
			tm.Group = parts[2]
		}
		return &Envelope{Kind: KindJoin, Text: tm}, nil
	case KindLeave:
		if len(parts) < 2 {
			return nil, fmt.Errorf("malformed leave: %q", data)
		}
		tm := &TextMessage{Kind: KindLeave, ClientID: parts[1]}
		if len(parts) > 2 {
			tm.Group = parts[2]
		}
		return &Envelope{Kind: KindLeave, Text: tm}, nil
	case KindStatus:
		return &Envelope{Kind: KindStatus, Text: &TextMessage{Kind: KindStatus}}, nil
	default:
		return nil, fmt.Errorf("unrecognized message: %q", data)
	}
}

// Encode helpers — one per text message the sender side constructs.

func EncodeServerAlive(ip, hostname, phase string) []byte {
	if phase == "" {
		return []byte(fmt.Sprintf("%s:%s:%s", KindServerAlive, ip, hostname))
	}
	return []byte(fmt.Sprintf("%s:%s:%s:%s", KindServerAlive, ip, hostname, phase))
}

func EncodeServerProbe(ip string, serverID peer.ID) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", KindServerProbe, ip, serverID))
}

func EncodeServerResponse(hostname, ip string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", KindServerResponse, hostname, ip))
}

func EncodeClientHeartbeat(clientID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", KindClientHeartbeat, clientID))
}

func EncodeJoin(clientID, group string) []byte {
	if group == "" {
		return []byte(fmt.Sprintf("join:%s", clientID))
	}
	return []byte(fmt.Sprintf("join:%s:%s", clientID, group))
}

func EncodeLeave(username, group string) []byte {
	if group == "" {
		return []byte(fmt.Sprintf("leave:%s", username))
	}
	return []byte(fmt.Sprintf("leave:%s:%s", username, group))
}

func EncodeStatus() []byte {
	return []byte("status")
}

// JSON encode helpers set Type for callers so construction sites can't
// forget it.

func (m *ElectionMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

func NewElection(kind Kind, sender peer.ID) *ElectionMessage {
	return &ElectionMessage{Type: string(kind), SenderID: sender}
}

func (m *ReliableEnvelope) Marshal() ([]byte, error) {
	m.Type = string(KindReliable)
	return json.Marshal(m)
}

func (m *AckMessage) Marshal() ([]byte, error) {
	m.Type = string(KindAck)
	return json.Marshal(m)
}

func (m *HeartbeatMessage) Marshal() ([]byte, error) {
	m.Type = string(KindHeartbeat)
	return json.Marshal(m)
}

func (m *LeaderHeartbeatMessage) Marshal() ([]byte, error) {
	m.Type = string(KindLeaderHeartbeat)
	return json.Marshal(m)
}

func (m *PartitionProbeMessage) Marshal() ([]byte, error) {
	m.Type = string(KindPartitionProbe)
	return json.Marshal(m)
}

// ParseID parses a decimal PeerId, the inverse of peer.ID.String(), used when
// text messages carry an id as a string field.
func ParseID(s string) (peer.ID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid peer id %q: %w", s, err)
	}
	return peer.ID(v), nil
}
