package ws

import (
	"context"
	"fmt"

	"github.com/ludostacked/backend/internal/v1/game"
	"github.com/ludostacked/backend/internal/v1/room"
)

// HandlerContext carries everything a handler may need for one message.
// UserID is empty until the connection authenticates.
type HandlerContext struct {
	ConnID  string
	UserID  string
	Msg     ClientMessage
	Manager *Manager
	Rooms   *room.Service
	Engine  *game.Engine
}

// HandlerResult tells the dispatcher what to send where. Reply goes to the
// sender; Broadcast fans out to RoomID, excluding the sender when ExcludeSelf
// is set. A non-zero CloseCode closes the connection after the reply.
type HandlerResult struct {
	Reply       *ServerMessage
	Broadcast   *ServerMessage
	RoomID      string
	ExcludeSelf bool
	CloseCode   int
	CloseReason string
}

// HandlerFunc processes one client message.
type HandlerFunc func(ctx context.Context, hc *HandlerContext) (HandlerResult, error)

// Registry maps message types to handlers. Populated once at startup.
type Registry struct {
	handlers map[MessageType]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[MessageType]HandlerFunc)}
}

// Register binds a handler. Registering the same type twice is a programming
// error and panics.
func (r *Registry) Register(t MessageType, h HandlerFunc) {
	if _, exists := r.handlers[t]; exists {
		panic(fmt.Sprintf("handler for %q registered twice", t))
	}
	r.handlers[t] = h
}

// Lookup returns the handler for a type, or nil.
func (r *Registry) Lookup(t MessageType) HandlerFunc {
	return r.handlers[t]
}
