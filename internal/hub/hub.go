// Package hub tracks room membership and fans events out to clients.
package hub

import (
	"sync"

	"github.com/PrajwalMundargi/codetogether-backend/internal/metrics"
)

// Hub holds the per-room member lists. Fan-out is fire-and-forget: a
// client that cannot keep up is dropped, never blocking the room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string][]*Client
	users map[string]*Client
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		rooms: make(map[string][]*Client),
		users: make(map[string]*Client),
	}
}

// Register makes a connected client addressable by user ID.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.users[c.ID] = c
	h.mu.Unlock()
}

// Unregister removes a client from the user table.
func (h *Hub) Unregister(userID string) {
	h.mu.Lock()
	delete(h.users, userID)
	h.mu.Unlock()
}

// Join adds a client to a room's member list. Re-joins by the same user
// collapse onto the existing entry.
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users[c.ID] = c
	members := h.rooms[room]
	for i, m := range members {
		if m.ID == c.ID {
			members[i] = c
			return
		}
	}
	h.rooms[room] = append(members, c)
	metrics.SetRoomMembers(room, len(h.rooms[room]))
}

// Leave removes a user from a room and returns the remaining member count.
func (h *Hub) Leave(room, userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[room]
	for i, m := range members {
		if m.ID == userID {
			h.rooms[room] = append(members[:i], members[i+1:]...)
			break
		}
	}
	n := len(h.rooms[room])
	if n == 0 {
		delete(h.rooms, room)
	}
	metrics.SetRoomMembers(room, n)
	return n
}

// MemberCount returns the number of members in a room.
func (h *Hub) MemberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// IsMember reports whether a user belongs to a room.
func (h *Hub) IsMember(room, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, m := range h.rooms[room] {
		if m.ID == userID {
			return true
		}
	}
	return false
}

// Members returns a snapshot of a room's member list in join order.
func (h *Hub) Members(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, len(h.rooms[room]))
	copy(out, h.rooms[room])
	return out
}

// Broadcast sends one event to every member of a room.
func (h *Hub) Broadcast(room, event string, payload any) {
	h.broadcast(room, "", event, payload)
}

// BroadcastExcept sends one event to every member of a room but one.
func (h *Hub) BroadcastExcept(room, exceptID, event string, payload any) {
	h.broadcast(room, exceptID, event, payload)
}

func (h *Hub) broadcast(room, exceptID, event string, payload any) {
	members := h.Members(room)
	if len(members) == 0 {
		return
	}
	metrics.RecordBroadcast(event)
	for _, m := range members {
		if m.ID == exceptID {
			continue
		}
		_ = m.Send(event, payload)
	}
}

// SendTo delivers one event to a single user's private channel.
func (h *Hub) SendTo(userID, event string, payload any) {
	h.mu.RLock()
	c, ok := h.users[userID]
	h.mu.RUnlock()
	if ok {
		_ = c.Send(event, payload)
	}
}
