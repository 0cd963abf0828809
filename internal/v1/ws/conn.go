package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ludostacked/backend/internal/v1/logging"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// wsConnection is the slice of *websocket.Conn the manager needs. Tests
// substitute mocks that simulate slow or broken peers.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one websocket connection tracked by the manager. UserID is empty
// until the connection authenticates; RoomID until it subscribes to a room.
type Conn struct {
	ID string

	ws   wsConnection
	send chan []byte

	mu       sync.Mutex
	userID   string
	roomID   string
	lastSeen time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id string, ws wsConnection) *Conn {
	return &Conn{
		ID:       id,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		lastSeen: time.Now(),
		done:     make(chan struct{}),
	}
}

func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Conn) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// enqueue queues a frame without blocking. A full buffer means the consumer
// cannot keep up; the frame is dropped and false returned so the manager can
// close the connection.
func (c *Conn) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

// close sends a close frame with the given code and tears the socket down.
// Safe to call more than once.
func (c *Conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		frame := websocket.FormatCloseMessage(code, reason)
		if err := c.ws.WriteControl(websocket.CloseMessage, frame, deadline); err != nil {
			logging.Warn(context.Background(), "close frame write failed",
				zap.String("connection_id", c.ID), zap.Error(err))
		}
		_ = c.ws.Close()
	})
}

// writePump drains the send channel onto the socket with a ping ticker to
// keep intermediaries from cutting the connection.
func (c *Conn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Warn(context.Background(), "websocket write failed",
					zap.String("connection_id", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
