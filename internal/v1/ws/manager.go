package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/ludostacked/backend/internal/v1/logging"
	"github.com/ludostacked/backend/internal/v1/metrics"
)

// ConnCounter tracks per-user connection counts. Satisfied by the cache
// service; nil when Redis is disabled.
type ConnCounter interface {
	ConnIncr(ctx context.Context, userID string) (int64, error)
	ConnDecr(ctx context.Context, userID string) (int64, error)
}

// DisconnectCleaner releases a user's room resources when their last
// connection drops. Satisfied by the room service.
type DisconnectCleaner interface {
	DisconnectCleanup(ctx context.Context, roomID, userID string) error
}

var (
	ErrConnNotFound         = errors.New("connection not found")
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
)

// Manager tracks every live connection and fans messages out to connections,
// users and rooms. One mutex guards the three maps; per-connection state has
// its own lock.
type Manager struct {
	mu          sync.Mutex
	connections map[string]*Conn
	userConns   map[string]set.Set[string]
	roomConns   map[string]set.Set[string]

	counter ConnCounter
	cleaner DisconnectCleaner

	heartbeatInterval time.Duration
	idleTimeout       time.Duration

	reaperStarted bool
	stopReaper    chan struct{}
	reaperDone    chan struct{}
}

// NewManager wires a connection manager. counter may be nil when Redis is
// disabled; cleaner may be nil in tests.
func NewManager(counter ConnCounter, cleaner DisconnectCleaner, heartbeatInterval, idleTimeout time.Duration) *Manager {
	return &Manager{
		connections:       make(map[string]*Conn),
		userConns:         make(map[string]set.Set[string]),
		roomConns:         make(map[string]set.Set[string]),
		counter:           counter,
		cleaner:           cleaner,
		heartbeatInterval: heartbeatInterval,
		idleTimeout:       idleTimeout,
		stopReaper:        make(chan struct{}),
		reaperDone:        make(chan struct{}),
	}
}

// Register adds an unauthenticated connection and returns its handle.
func (m *Manager) Register(ws wsConnection) *Conn {
	conn := newConn(uuid.NewString(), ws)

	m.mu.Lock()
	m.connections[conn.ID] = conn
	m.mu.Unlock()

	metrics.IncConnection()
	return conn
}

// Authenticate binds a verified user to a connection. Authenticating twice on
// the same connection is a protocol error.
func (m *Manager) Authenticate(ctx context.Context, connID, userID string) error {
	m.mu.Lock()
	conn, ok := m.connections[connID]
	if !ok {
		m.mu.Unlock()
		return ErrConnNotFound
	}

	conn.mu.Lock()
	if conn.userID != "" {
		conn.mu.Unlock()
		m.mu.Unlock()
		return ErrAlreadyAuthenticated
	}
	conn.userID = userID
	conn.mu.Unlock()

	if m.userConns[userID] == nil {
		m.userConns[userID] = set.New[string]()
	}
	m.userConns[userID].Insert(connID)
	m.mu.Unlock()

	if m.counter != nil {
		if _, err := m.counter.ConnIncr(ctx, userID); err != nil {
			logging.Warn(ctx, "connection counter increment failed",
				zap.String("connection_id", connID), zap.Error(err))
		}
	}
	return nil
}

// SubscribeToRoom attaches a connection to a room's fanout. A connection
// follows at most one room; subscribing again moves it.
func (m *Manager) SubscribeToRoom(connID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return ErrConnNotFound
	}

	conn.mu.Lock()
	prev := conn.roomID
	conn.roomID = roomID
	conn.mu.Unlock()

	if prev != "" && m.roomConns[prev] != nil {
		m.roomConns[prev].Delete(connID)
		if m.roomConns[prev].Len() == 0 {
			delete(m.roomConns, prev)
		}
	}
	if m.roomConns[roomID] == nil {
		m.roomConns[roomID] = set.New[string]()
	}
	m.roomConns[roomID].Insert(connID)
	return nil
}

// UnsubscribeFromRoom detaches a connection from its room.
func (m *Manager) UnsubscribeFromRoom(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return
	}
	conn.mu.Lock()
	roomID := conn.roomID
	conn.roomID = ""
	conn.mu.Unlock()

	if roomID != "" && m.roomConns[roomID] != nil {
		m.roomConns[roomID].Delete(connID)
		if m.roomConns[roomID].Len() == 0 {
			delete(m.roomConns, roomID)
		}
	}
}

// Heartbeat refreshes a connection's idle clock.
func (m *Manager) Heartbeat(connID string) {
	m.mu.Lock()
	conn, ok := m.connections[connID]
	m.mu.Unlock()
	if ok {
		conn.touch()
	}
}

// Disconnect removes a connection from every map, decrements the user's
// connection count and, when the last connection for the user drops, releases
// the user's room resources. Idempotent.
func (m *Manager) Disconnect(ctx context.Context, connID string, code int, reason string) {
	m.mu.Lock()
	conn, ok := m.connections[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.connections, connID)

	conn.mu.Lock()
	userID, roomID := conn.userID, conn.roomID
	conn.mu.Unlock()

	otherConns := false
	if userID != "" && m.userConns[userID] != nil {
		m.userConns[userID].Delete(connID)
		if m.userConns[userID].Len() == 0 {
			delete(m.userConns, userID)
		} else {
			otherConns = true
		}
	}
	if roomID != "" && m.roomConns[roomID] != nil {
		m.roomConns[roomID].Delete(connID)
		if m.roomConns[roomID].Len() == 0 {
			delete(m.roomConns, roomID)
		}
	}
	m.mu.Unlock()

	conn.close(code, reason)
	metrics.DecConnection()

	if userID == "" {
		return
	}

	// The shared counter covers connections on other instances; the local
	// map covers this one.
	remaining := int64(0)
	if otherConns {
		remaining = 1
	}
	if m.counter != nil {
		var err error
		remaining, err = m.counter.ConnDecr(ctx, userID)
		if err != nil {
			logging.Warn(ctx, "connection counter decrement failed",
				zap.String("connection_id", connID), zap.Error(err))
		}
	}
	if remaining == 0 && roomID != "" && m.cleaner != nil {
		if err := m.cleaner.DisconnectCleanup(ctx, roomID, userID); err != nil {
			logging.Warn(ctx, "disconnect cleanup failed",
				zap.String("room_id", roomID), zap.Error(err))
		}
	}
}

// SendToConnection marshals once and queues the frame. A slow consumer whose
// buffer is full gets closed with 1001.
func (m *Manager) SendToConnection(connID string, msg *ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	conn, ok := m.connections[connID]
	m.mu.Unlock()
	if !ok {
		return ErrConnNotFound
	}
	m.deliver(conn, data)
	return nil
}

// SendToUser sends to every connection the user holds.
func (m *Manager) SendToUser(userID string, msg *ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, conn := range m.snapshot(m.userConnIDs(userID)) {
		m.deliver(conn, data)
	}
}

// SendToRoom fans a message out to every connection subscribed to the room,
// optionally excluding one connection (usually the sender).
func (m *Manager) SendToRoom(roomID string, msg *ServerMessage, excludeConnID string) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, conn := range m.snapshot(m.roomConnIDs(roomID)) {
		if conn.ID == excludeConnID {
			continue
		}
		m.deliver(conn, data)
	}
}

func (m *Manager) deliver(conn *Conn, data []byte) {
	if !conn.enqueue(data) {
		logging.Warn(context.Background(), "send buffer full, dropping connection",
			zap.String("connection_id", conn.ID))
		go m.Disconnect(context.Background(), conn.ID, websocketGoingAway, "slow consumer")
	}
}

const websocketGoingAway = 1001

func (m *Manager) userConnIDs(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userConns[userID] == nil {
		return nil
	}
	return m.userConns[userID].UnsortedList()
}

func (m *Manager) roomConnIDs(roomID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.roomConns[roomID] == nil {
		return nil
	}
	return m.roomConns[roomID].UnsortedList()
}

func (m *Manager) snapshot(ids []string) []*Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := make([]*Conn, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

// ConnCount reports the number of tracked connections.
func (m *Manager) ConnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

// StartReaper launches the background sweep that closes idle connections.
func (m *Manager) StartReaper() {
	m.mu.Lock()
	if m.reaperStarted {
		m.mu.Unlock()
		return
	}
	m.reaperStarted = true
	m.mu.Unlock()

	go func() {
		defer close(m.reaperDone)
		ticker := time.NewTicker(m.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.reapIdle()
			case <-m.stopReaper:
				return
			}
		}
	}()
}

func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var idle []string
	for id, conn := range m.connections {
		if conn.idleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		logging.Info(context.Background(), "reaping idle connection", zap.String("connection_id", id))
		m.Disconnect(context.Background(), id, websocketGoingAway, "idle timeout")
	}
}

// Shutdown stops the reaper and closes every connection.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	started := m.reaperStarted
	m.mu.Unlock()

	select {
	case <-m.stopReaper:
	default:
		close(m.stopReaper)
	}
	if started {
		<-m.reaperDone
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(ctx, id, websocketGoingAway, "server shutting down")
	}
}
