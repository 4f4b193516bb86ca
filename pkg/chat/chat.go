// Package chat is the external chat collaborator (§1 Overview: "supports
// an external chat-like application") layered atop the reliable messaging
// component rather than a parallel TCP connection manager — every node
// already shares one multicast bus and one retry/ack machinery
// (pkg/reliable), so a second mesh would just duplicate what RM already
// provides. It keeps the service shape (Start/SendMessage/GetMessages/
// GetStatus/Stop) and a peer-to-peer notify pattern, built on
// groupwire/pkg/reliable.Manager.
package chat

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"groupwire/internal/groupview"
	"groupwire/internal/peer"
	"groupwire/pkg/logger"
)

// reliableSender is the slice of *reliable.Manager this package depends on.
type reliableSender interface {
	Send(msgType, payload string, targets []peer.ID) error
}

// ChatService bridges human-authored chat content onto the group's
// reliable messaging channel.
type ChatService struct {
	self  peer.ID
	group string

	usernameMu sync.RWMutex
	username   string

	gv *groupview.GroupView
	rm reliableSender

	sequence uint64
	history  *MessageHistory
	incoming chan *Message
}

// NewChatService builds a ChatService for self, scoped to one chat group
// (§6: `client [username] [group]`). rm's OnDeliver callback must be wired
// to (*ChatService).HandleDelivered by the caller (typically node-level
// wiring): the node's single ingress loop hands reliable envelopes to RM,
// and RM delivers their payloads only through that callback.
func NewChatService(self peer.ID, username, group string, gv *groupview.GroupView, rm reliableSender) *ChatService {
	return &ChatService{
		self:     self,
		group:    group,
		username: username,
		gv:       gv,
		rm:       rm,
		history:  NewMessageHistory(1000),
		incoming: make(chan *Message, 100),
	}
}

func (cs *ChatService) nextSequence() uint64 {
	return atomic.AddUint64(&cs.sequence, 1)
}

// Username returns the current display name.
func (cs *ChatService) Username() string {
	cs.usernameMu.RLock()
	defer cs.usernameMu.RUnlock()
	return cs.username
}

// SetUsername changes the display name attached to future outbound
// messages. Unlike PeerId, the username is cosmetic and carries no
// membership semantics, so changing it never touches the group view.
func (cs *ChatService) SetUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	cs.usernameMu.Lock()
	cs.username = username
	cs.usernameMu.Unlock()
	return nil
}

// targets returns every currently known peer other than self, servers and
// clients alike.
func (cs *ChatService) targets() []peer.ID {
	peers := cs.gv.Snapshot(groupview.AnyPeer)
	ids := make([]peer.ID, 0, len(peers))
	for _, p := range peers {
		if p.ID != cs.self {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// SendMessage broadcasts a chat message to every known peer via reliable
// messaging.
func (cs *ChatService) SendMessage(content string) error {
	if content == "" {
		return fmt.Errorf("cannot send empty message")
	}
	msg := NewChatMessage(cs.self.String(), cs.Username(), content, cs.nextSequence())
	return cs.publish(MessageTypeChat, msg)
}

// NotifyJoin announces this node's presence to the chat layer.
func (cs *ChatService) NotifyJoin() error {
	msg := NewJoinMessage(cs.self.String(), cs.Username(), cs.nextSequence())
	return cs.publish(MessageTypeJoin, msg)
}

// NotifyLeave announces this node is leaving the chat layer.
func (cs *ChatService) NotifyLeave() error {
	msg := NewLeaveMessage(cs.self.String(), cs.Username(), cs.nextSequence())
	return cs.publish(MessageTypeLeave, msg)
}

func (cs *ChatService) publish(msgType MessageType, msg *Message) error {
	msg.RoomID = cs.group
	payload, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize %s message: %w", msgType, err)
	}
	if err := cs.rm.Send(string(msgType), string(payload), cs.targets()); err != nil {
		return fmt.Errorf("failed to publish %s message: %w", msgType, err)
	}
	if cs.history.AddMessage(msg) {
		cs.deliverLocal(msg)
	}
	return nil
}

// HandleDelivered is wired as reliable.Manager.OnDeliver: it decodes the
// chat payload, dedupes against history, and forwards to the UI channel.
func (cs *ChatService) HandleDelivered(senderID peer.ID, msgType, payload string) {
	if senderID == cs.self {
		return // our own message already went to history via publish
	}
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		logger.Warn("chat: failed to decode %s payload from %s: %v", msgType, senderID, err)
		return
	}
	if cs.history.AddMessage(&msg) {
		cs.deliverLocal(&msg)
	}
}

func (cs *ChatService) deliverLocal(msg *Message) {
	if !msg.IsUserVisible() {
		return
	}
	select {
	case cs.incoming <- msg:
	default:
		logger.Warn("chat: UI message buffer full, dropping message from %s", msg.Username)
	}
}

// GetMessages returns the channel the UI reads from to display incoming
// chat activity.
func (cs *ChatService) GetMessages() <-chan *Message {
	return cs.incoming
}

// History returns the message history store, e.g. for the TUI's scrollback.
func (cs *ChatService) History() *MessageHistory {
	return cs.history
}

// GetPeers returns every other peer known to the group view, servers and
// clients alike — this is the GV's own membership, not a chat-private
// roster, so a server elected leader or a silent peer aging out is visible
// to the UI exactly as GV sees it.
func (cs *ChatService) GetPeers() []*peer.Peer {
	return cs.gv.Snapshot(func(p *peer.Peer) bool { return p.ID != cs.self })
}

// Status summarizes this node's chat-layer state.
type Status struct {
	Username      string
	Self          peer.ID
	Group         string
	KnownPeers    int
	MessagesSent  uint64
	MessagesTotal int
}

// GetStatus reports current service status.
func (cs *ChatService) GetStatus() Status {
	return Status{
		Username:      cs.Username(),
		Self:          cs.self,
		Group:         cs.group,
		KnownPeers:    len(cs.GetPeers()),
		MessagesSent:  atomic.LoadUint64(&cs.sequence),
		MessagesTotal: cs.history.GetMessageCount(),
	}
}

// Stop announces departure and closes the UI channel. The caller is
// responsible for stopping the underlying reliable.Manager/bus.
func (cs *ChatService) Stop() error {
	err := cs.NotifyLeave()
	close(cs.incoming)
	return err
}
