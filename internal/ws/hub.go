package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Room names the per-PIN broadcast groups. Role rooms receive shaped
// payloads; RoomAll carries the role-independent events.
type Room string

const (
	RoomAll        Room = "all"
	RoomPlayers    Room = "players"
	RoomModerators Room = "moderators"
	RoomPanels     Room = "panels"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler consumes parsed client events and socket teardowns. The hub
// calls it from each connection's read goroutine.
type Handler interface {
	HandleMessage(c *Client, msg WSMessage)
	HandleDisconnect(c *Client)
}

// Hub owns every live socket and the per-PIN room topology.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[Room]map[string]*Client

	handler        Handler
	maxConnections int
}

func NewHub(maxConnections int) *Hub {
	return &Hub{
		clients:        make(map[string]*Client),
		rooms:          make(map[string]map[Room]map[string]*Client),
		maxConnections: maxConnections,
	}
}

// SetHandler wires the protocol in. Must be called before serving.
func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

// HandleWebSocket upgrades an HTTP request into a managed socket.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] upgrade error: %v", err)
		return
	}

	client := newClient(h, conn, uuid.NewString())
	if !h.add(client) {
		log.Printf("[WS] connection cap reached, rejecting socket %s", client.socketID)
		payload, _ := json.Marshal(map[string]interface{}{
			"type": EventConnectionRejected,
			"data": errorPayload{Message: MsgServerFull},
		})
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, payload)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server full"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// add admits a socket unless the global cap is reached.
func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxConnections > 0 && len(h.clients) >= h.maxConnections {
		return false
	}
	h.clients[c.socketID] = c
	return true
}

// drop tears a socket down exactly once: the protocol gets its
// disconnect callback first, then the maps let go. The channel close
// happens under the client's send mutex so an in-flight trySend can
// never hit a closed channel.
func (h *Hub) drop(c *Client) {
	c.teardown.Do(func() {
		if h.handler != nil {
			h.handler.HandleDisconnect(c)
		}
		h.mu.Lock()
		delete(h.clients, c.socketID)
		h.leaveRoomsLocked(c)
		h.mu.Unlock()

		c.sendMu.Lock()
		c.closed = true
		close(c.send)
		c.sendMu.Unlock()
	})
}

// CloseSocket force-closes a connection, typically one displaced by a
// reconnect. The read pump finishes the teardown.
func (h *Hub) CloseSocket(socketID, reason string) {
	h.mu.RLock()
	c, ok := h.clients[socketID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if c.conn == nil {
		h.drop(c)
		return
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait))
	c.conn.Close()
}

// JoinRoom puts a socket into a role room and the PIN's combined room.
// A socket switching games leaves its previous rooms first.
func (h *Hub) JoinRoom(pin string, room Room, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.pin != "" && c.pin != pin {
		h.leaveRoomsLocked(c)
	}
	c.pin = pin

	pinRooms, ok := h.rooms[pin]
	if !ok {
		pinRooms = make(map[Room]map[string]*Client)
		h.rooms[pin] = pinRooms
	}
	for _, r := range []Room{room, RoomAll} {
		members, ok := pinRooms[r]
		if !ok {
			members = make(map[string]*Client)
			pinRooms[r] = members
		}
		members[c.socketID] = c
	}
}

// LeaveRooms removes a socket from every room of its current PIN.
func (h *Hub) LeaveRooms(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomsLocked(c)
}

func (h *Hub) leaveRoomsLocked(c *Client) {
	if c.pin == "" {
		return
	}
	pinRooms, ok := h.rooms[c.pin]
	if ok {
		for r, members := range pinRooms {
			delete(members, c.socketID)
			if len(members) == 0 {
				delete(pinRooms, r)
			}
		}
		if len(pinRooms) == 0 {
			delete(h.rooms, c.pin)
		}
	}
	c.pin = ""
}

// Broadcast sends one event to every socket in a room.
func (h *Hub) Broadcast(pin string, room Room, event string, data interface{}) {
	payload, err := json.Marshal(struct {
		Type string      `json:"type"`
		Data interface{} `json:"data,omitempty"`
	}{event, data})
	if err != nil {
		log.Printf("[WS] failed to marshal %s for game %s: %v", event, pin, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	pinRooms, ok := h.rooms[pin]
	if !ok {
		return
	}
	for _, c := range pinRooms[room] {
		if !c.trySend(payload) {
			log.Printf("[WS] socket %s in game %s closing or buffer full, dropping %s", c.socketID, pin, event)
		}
	}
}

// SendToSocket delivers one event to a single socket by id.
func (h *Hub) SendToSocket(socketID, event string, data interface{}) {
	h.mu.RLock()
	c, ok := h.clients[socketID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	c.sendEvent(event, data)
}

// ForEach visits a snapshot of all connected sockets.
func (h *Hub) ForEach(f func(c *Client)) {
	h.mu.RLock()
	snapshot := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	for _, c := range snapshot {
		f(c)
	}
}

// ConnectionCount returns the number of admitted sockets.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount returns the population of one room.
func (h *Hub) RoomCount(pin string, room Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[pin][room])
}
