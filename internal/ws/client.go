package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 65536
	sendBuffer     = 256
)

// WSMessage is the wire envelope in both directions.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client is one connected WebSocket socket.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	socketID string
	pin      string // set while the socket is in a game's rooms
	send     chan []byte
	sendMu   sync.Mutex
	closed   bool // guarded by sendMu; set when send is closed
	teardown sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, socketID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		socketID: socketID,
		send:     make(chan []byte, sendBuffer),
	}
}

// SocketID returns the connection's identifier.
func (c *Client) SocketID() string {
	return c.socketID
}

// sendEvent queues one event for the socket and reports whether it was
// accepted. A full buffer or a torn-down socket drops the message
// rather than blocking or panicking the caller.
func (c *Client) sendEvent(event string, data interface{}) bool {
	payload, err := json.Marshal(struct {
		Type string      `json:"type"`
		Data interface{} `json:"data,omitempty"`
	}{event, data})
	if err != nil {
		log.Printf("[WS] failed to marshal %s for socket %s: %v", event, c.socketID, err)
		return false
	}
	if !c.trySend(payload) {
		log.Printf("[WS] socket %s closing or buffer full, dropping %s", c.socketID, event)
		return false
	}
	return true
}

// trySend queues one raw frame unless the socket is torn down. sendMu
// serializes sends against the channel close in drop; callers need no
// hub lock.
func (c *Client) trySend(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// readPump reads client events until the connection dies, then tears
// the socket down.
func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] read error for socket %s: %v", c.socketID, err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if handler := c.hub.handler; handler != nil {
			handler.HandleMessage(c, msg)
		}
	}
}

// writePump drains the send channel and keeps the connection alive with
// control pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] write error for socket %s: %v", c.socketID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
