package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Event names sent to clients
const (
	EventSessionStarted = "session.started"
	EventChatMessage    = "message"
	EventToken          = "token"
	EventUpdate         = "update"
	EventError          = "error"
	EventShutdown       = "server.shutdown"
)

// Frame types accepted from clients
const (
	FrameMessage = "message"
)

// Frame is an inbound client frame
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// EventMessage represents a server-initiated event
type EventMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Seq       int64       `json:"seq"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
	Session   string      `json:"session_id,omitempty"`
}

// TextData is the payload of message, token and update events
type TextData struct {
	Text string `json:"text"`
}

// ErrorData is the payload of error events
type ErrorData struct {
	Message string `json:"message"`
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress"`
	Idle         bool      `json:"idle"`
	Accepted     int       `json:"acceptedLastMinute"`
	Pending      int       `json:"pending"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID           string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string
	RateLimiter  *ClientRateLimiter

	sessionMu sync.RWMutex
	sessionID string

	writeMu      sync.Mutex
	writeTimeout time.Duration
	seq          int64
}

// SessionID returns the chat session bound to this connection
func (c *Client) SessionID() string {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.sessionID
}

func (c *Client) setSessionID(id string) {
	c.sessionMu.Lock()
	c.sessionID = id
	c.sessionMu.Unlock()
}

// Send stamps msg with the next sequence number and writes it. Writes are
// serialized, so sequence numbers reach the client in order.
func (c *Client) Send(msg EventMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	msg.Type = "event"
	msg.Seq = atomic.AddInt64(&c.seq, 1)
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	if msg.Session == "" {
		msg.Session = c.SessionID()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.Conn.WriteMessage(websocket.TextMessage, payload)
}
