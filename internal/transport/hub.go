// Package transport keeps the live websocket connections and the named groups
// they belong to.
package transport

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Client struct {
	ID     string
	UserID string

	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	groups    map[string]struct{} // guarded by Hub.mu
}

// NewClient wraps conn with a fresh connection id. conn may be nil for
// connections that are only read through Outbound.
func NewClient(userID string, conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 32
	}
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, buffer),
		groups: make(map[string]struct{}),
	}
}

func (c *Client) Conn() *websocket.Conn { return c.conn }

// Outbound is drained by the write pump.
func (c *Client) Outbound() <-chan []byte { return c.send }

func (c *Client) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client            // connID -> client
	groups  map[string]map[string]*Client // group -> connID -> client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]*Client),
	}
}

func (h *Hub) Add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

// Remove drops the connection from the hub and from every group. It reports
// false if the connection was already gone, so disconnect handling runs once
// per connection.
func (h *Hub) Remove(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return false
	}
	for group := range client.groups {
		h.leaveLocked(client, group)
	}
	delete(h.clients, connID)
	client.closeSend()
	return true
}

func (h *Hub) SendTo(connID string, payload []byte) bool {
	h.mu.Lock()
	client := h.clients[connID]
	h.mu.Unlock()

	if client == nil {
		return false
	}
	if !client.trySend(payload) {
		client.closeConn()
		return false
	}
	return true
}

func (h *Hub) JoinGroup(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*Client)
		h.groups[group] = members
	}
	members[connID] = client
	client.groups[group] = struct{}{}
}

func (h *Hub) LeaveGroup(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.clients[connID]; ok {
		h.leaveLocked(client, group)
	}
}

// BroadcastToGroup sends payload to every member of group except the listed
// connections and returns how many accepted it.
func (h *Hub) BroadcastToGroup(group string, payload []byte, except ...string) int {
	h.mu.Lock()
	var clients []*Client
	if members, ok := h.groups[group]; ok {
		clients = make([]*Client, 0, len(members))
	outer:
		for connID, client := range members {
			for _, skip := range except {
				if skip == connID {
					continue outer
				}
			}
			clients = append(clients, client)
		}
	}
	h.mu.Unlock()

	delivered := 0
	for _, client := range clients {
		if !client.trySend(payload) {
			client.closeConn()
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) GroupSize(group string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[group])
}

func (h *Hub) leaveLocked(client *Client, group string) {
	delete(client.groups, group)
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, client.ID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}
