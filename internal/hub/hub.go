package hub

import (
	"encoding/json"
	"log"
	"sync"
)

// Client is one connected display session. Role decides which snapshot
// variant it receives: doctor and secretary get full records, display gets
// the redacted public view.
type Client struct {
	ID   string
	Role string
	Send chan []byte
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action string `json:"action"`
	Role   string `json:"role"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateRole(client *Client, role string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Role = role
}

// Broadcast delivers payload to every client whose role is in roles.
// Slow clients are skipped, not waited on; the next snapshot supersedes
// the dropped one anyway.
func (h *Hub) Broadcast(payload []byte, roles ...string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !roleMatch(client.Role, roles) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop snapshot for client %s", client.ID)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func roleMatch(role string, roles []string) bool {
	if role == "" {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
