// Package fanout holds the live websocket connections for this process and
// forwards bus events to whichever of their recipients are connected here,
// generalising the teacher's tenant/server-keyed WebSocketManager to a
// single recipient-id key (player or team UUID).
package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"islandctl/src/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is the JSON payload fanned out to a connection.
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Connection is one live websocket, registered under one recipient id.
type Connection struct {
	id          string
	recipientID string
	conn        *websocket.Conn
	send        chan []byte
	registry    *Registry
}

// Registry holds zero-or-more connections per recipient id, guarded by a
// single RWMutex, matching the teacher's connection-map pattern.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	byRecipient map[string][]*Connection
	log         logging.Logger
}

func NewRegistry(log logging.Logger) *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		byRecipient: make(map[string][]*Connection),
		log:         log,
	}
}

// Upgrade promotes an HTTP request to a websocket connection registered
// under recipientID, and starts its read/write pumps.
func (r *Registry) Upgrade(w http.ResponseWriter, req *http.Request, recipientID, connectionID string) error {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return err
	}
	c := &Connection{
		id:          connectionID,
		recipientID: recipientID,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		registry:    r,
	}
	r.register(c)
	go c.writePump()
	go c.readPump()
	return nil
}

func (r *Registry) register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[c.id] = c
	r.byRecipient[c.recipientID] = append(r.byRecipient[c.recipientID], c)
}

func (r *Registry) unregister(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, c.id)
	peers := r.byRecipient[c.recipientID]
	for i, p := range peers {
		if p.id == c.id {
			r.byRecipient[c.recipientID] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	if len(r.byRecipient[c.recipientID]) == 0 {
		delete(r.byRecipient, c.recipientID)
	}
}

// Send delivers event to every live connection registered under
// recipientID. It never blocks: a connection whose send buffer is full is
// dropped rather than stalling delivery to everyone else.
func (r *Registry) Send(recipientID string, eventType string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		r.log.Warn(context.Background(), "fanout: marshal event failed", logging.String("event_type", eventType), logging.Err(err))
		return
	}
	payload, err := json.Marshal(Event{Type: eventType, Timestamp: time.Now().UTC(), Data: raw})
	if err != nil {
		return
	}

	r.mu.RLock()
	peers := make([]*Connection, len(r.byRecipient[recipientID]))
	copy(peers, r.byRecipient[recipientID])
	r.mu.RUnlock()

	for _, c := range peers {
		select {
		case c.send <- payload:
		default:
			r.log.Warn(context.Background(), "fanout: dropping connection with full send buffer", logging.String("connection_id", c.id))
			go r.closeConnection(c)
		}
	}
}

func (r *Registry) closeConnection(c *Connection) {
	r.unregister(c)
	close(c.send)
}

// ConnectionCount reports the number of live connections for recipientID.
func (r *Registry) ConnectionCount(recipientID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRecipient[recipientID])
}

func (c *Connection) readPump() {
	defer func() {
		c.registry.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Connection) writePump() {
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
