package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"duochat/internal/observability"
)

// client wraps a websocket connection with a write lock, since broadcasts
// and the read loop's direct replies may write concurrently.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains the live websocket connections per room.
type Hub struct {
	rooms map[string]map[string]*client // room id -> conn id -> client
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*client)}
}

// Add registers a connection under a room.
func (h *Hub) Add(roomID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*client)
	}
	h.rooms[roomID][connID] = &client{conn: conn}
}

// Remove drops a connection; empty rooms are pruned.
func (h *Hub) Remove(roomID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[roomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// SendTo delivers an event to a single connection in a room.
func (h *Hub) SendTo(roomID, connID string, event any) {
	h.mu.RLock()
	cl := h.rooms[roomID][connID]
	h.mu.RUnlock()
	if cl == nil {
		return
	}
	if err := cl.send(event); err != nil {
		log.Printf("websocket write error: %v", err)
		cl.conn.Close()
		h.Remove(roomID, connID)
		observability.IncWSEvent("ws_error")
	}
}

// Broadcast sends an event to every connection in the room. exceptConnID may
// be empty to reach everyone.
func (h *Hub) Broadcast(roomID, exceptConnID string, event any) {
	h.mu.RLock()
	conns := make(map[string]*client, len(h.rooms[roomID]))
	for id, cl := range h.rooms[roomID] {
		conns[id] = cl
	}
	h.mu.RUnlock()

	for id, cl := range conns {
		if id == exceptConnID {
			continue
		}
		if err := cl.send(event); err != nil {
			log.Printf("websocket write error: %v", err)
			cl.conn.Close()
			h.Remove(roomID, id)
			observability.IncWSEvent("ws_error")
		}
	}
}

// takeRoom removes and returns every connection bound to the room, used for
// the destroy fan-out so each connection is notified exactly once.
func (h *Hub) takeRoom(roomID string) map[string]*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.rooms[roomID]
	delete(h.rooms, roomID)
	return conns
}
