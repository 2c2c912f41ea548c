package realtime

import (
	"sync"
)

const (
	userRoomPrefix         = "user:"
	conversationRoomPrefix = "conv:"
)

func UserRoom(userID string) string { return userRoomPrefix + userID }

func ConversationRoom(conversationID string) string { return conversationRoomPrefix + conversationID }

// Hub tracks room membership of live connections on this instance.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*conn]struct{}
	conns map[*conn]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*conn]struct{}),
		conns: make(map[*conn]map[string]struct{}),
	}
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		h.conns[c] = make(map[string]struct{})
	}
}

func (h *Hub) join(c *conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined, ok := h.conns[c]
	if !ok {
		joined = make(map[string]struct{})
		h.conns[c] = joined
	}
	joined[room] = struct{}{}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*conn]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

// leave reports whether c was in the room.
func (h *Hub) leave(c *conn, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *conn, room string) bool {
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, in := members[c]; !in {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if joined, ok := h.conns[c]; ok {
		delete(joined, room)
	}
	return true
}

// unregister removes c from every room and returns the rooms it was in.
func (h *Hub) unregister(c *conn) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined := h.conns[c]
	rooms := make([]string, 0, len(joined))
	for room := range joined {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		h.leaveLocked(c, room)
	}
	delete(h.conns, c)
	return rooms
}

func (h *Hub) inRoom(c *conn, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

// broadcast enqueues payload on every member except skip. Slow members are dropped by their
// own queue and never block the caller.
func (h *Hub) broadcast(room string, payload []byte, skip *conn) int {
	return h.fanout(room, payload, func(c *conn) bool { return c == skip })
}

// broadcastExceptUser skips every connection of userID, including their other tabs.
func (h *Hub) broadcastExceptUser(room string, payload []byte, userID string) int {
	return h.fanout(room, payload, func(c *conn) bool { return c.userID() == userID })
}

func (h *Hub) fanout(room string, payload []byte, skip func(*conn) bool) int {
	h.mu.RLock()
	members := make([]*conn, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if !skip(c) {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range members {
		if c.enqueue(payload) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
