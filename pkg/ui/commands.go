package ui

import (
	"time"

	"groupwire/internal/peer"
	"groupwire/pkg/chat"

	tea "github.com/charmbracelet/bubbletea"
)

// Event messages that Update() handles.
type IncomingMessageMsg struct {
	Message *chat.Message
}

// MessageHistoryMsg carries existing chat history loaded on startup.
type MessageHistoryMsg struct {
	Messages []*chat.Message
}

type PeerUpdateMsg struct {
	Peers []*peer.Peer
}

type StatusUpdateMsg struct {
	Status  string
	IsError bool
}

// ListenForMessages bridges ChatService's delivery channel into Bubble Tea.
func ListenForMessages(chatService *chat.ChatService) tea.Cmd {
	return func() tea.Msg {
		select {
		case msg, ok := <-chatService.GetMessages():
			if !ok {
				return nil
			}
			return IncomingMessageMsg{Message: msg}
		case <-time.After(100 * time.Millisecond):
			return nil
		}
	}
}

// LoadMessageHistory loads existing message history from ChatService.
func LoadMessageHistory(chatService *chat.ChatService) tea.Cmd {
	return func() tea.Msg {
		messages := chatService.History().GetRecentMessages(500)
		return MessageHistoryMsg{Messages: messages}
	}
}

func SendMessageCmd(chatService *chat.ChatService, content string) tea.Cmd {
	return func() tea.Msg {
		err := chatService.SendMessage(content)
		if err != nil {
			return StatusUpdateMsg{Status: "Error: " + err.Error(), IsError: true}
		}
		return StatusUpdateMsg{Status: "Message sent", IsError: false}
	}
}

func UpdatePeers(chatService *chat.ChatService) tea.Cmd {
	return func() tea.Msg {
		peers := chatService.GetPeers()
		return PeerUpdateMsg{Peers: peers}
	}
}

func PeriodicPeerUpdate() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return struct{}{}
	})
}
