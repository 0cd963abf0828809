package ws

import (
	"errors"
	"sync"
	"time"
)

// mockConn is a scriptable wsConnection. Reads block on the inbox channel;
// writes are recorded for assertions.
type mockConn struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool

	inbox chan mockFrame
}

type mockFrame struct {
	messageType int
	data        []byte
	err         error
}

func newMockConn() *mockConn {
	return &mockConn{inbox: make(chan mockFrame, 16)}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	frame, ok := <-m.inbox
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return frame.messageType, frame.data, frame.err
}

func (m *mockConn) WriteMessage(_ int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("write on closed connection")
	}
	m.writes = append(m.writes, append([]byte(nil), data...))
	return nil
}

func (m *mockConn) WriteControl(int, []byte, time.Time) error { return nil }
func (m *mockConn) SetReadLimit(int64)                        {}
func (m *mockConn) SetWriteDeadline(time.Time) error          { return nil }

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.inbox)
	}
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
