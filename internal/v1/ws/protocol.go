// Package ws implements the realtime surface: the websocket endpoint, the
// connection manager and the message handlers. Frames are JSON text messages
// with a small envelope; everything else is rejected before parsing.
package ws

import "encoding/json"

// MessageType is the closed set of envelope types on the wire.
type MessageType string

const (
	// Client to server.
	TypeAuthenticate MessageType = "authenticate"
	TypePing         MessageType = "ping"
	TypeCreateRoom   MessageType = "create_room"
	TypeJoinRoom     MessageType = "join_room"
	TypeToggleReady  MessageType = "toggle_ready"
	TypeLeaveRoom    MessageType = "leave_room"
	TypeStartGame    MessageType = "start_game"
	TypeGameAction   MessageType = "game_action"

	// Server to client.
	TypeConnected       MessageType = "connected"
	TypeAuthenticated   MessageType = "authenticated"
	TypePong            MessageType = "pong"
	TypeError           MessageType = "error"
	TypeCreateRoomOK    MessageType = "create_room_ok"
	TypeCreateRoomError MessageType = "create_room_error"
	TypeJoinRoomOK      MessageType = "join_room_ok"
	TypeJoinRoomError   MessageType = "join_room_error"
	TypeRoomUpdated     MessageType = "room_updated"
	TypeRoomClosed      MessageType = "room_closed"
	TypeGameStarted     MessageType = "game_started"
	TypeGameEvents      MessageType = "game_events"
	TypeGameState       MessageType = "game_state"
	TypeGameError       MessageType = "game_error"
)

// knownTypes lets the read loop distinguish unknown types (protocol error)
// from known types that simply have no handler (logged and ignored).
var knownTypes = map[MessageType]bool{
	TypeAuthenticate: true, TypePing: true, TypeCreateRoom: true,
	TypeJoinRoom: true, TypeToggleReady: true, TypeLeaveRoom: true,
	TypeStartGame: true, TypeGameAction: true,
	TypeConnected: true, TypeAuthenticated: true, TypePong: true,
	TypeError: true, TypeCreateRoomOK: true, TypeCreateRoomError: true,
	TypeJoinRoomOK: true, TypeJoinRoomError: true, TypeRoomUpdated: true,
	TypeRoomClosed: true, TypeGameStarted: true, TypeGameEvents: true,
	TypeGameState: true, TypeGameError: true,
}

// Websocket close codes in the application range.
const (
	CloseAuthFailed       = 4001
	CloseAuthExpired      = 4002
	CloseRoomNotFound     = 4003
	CloseRoomAccessDenied = 4004
	CloseAuthTimeout      = 4005
)

// Frame limits and per-connection message rate.
const (
	maxFrameBytes     = 65536
	messagesPerWindow = 10
)

// ClientMessage is the envelope clients send.
type ClientMessage struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is the envelope the server sends.
type ServerMessage struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Payload   any         `json:"payload,omitempty"`
}

// ErrorPayload is the body of error, create_room_error, join_room_error and
// game_error messages.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorMessage(t MessageType, requestID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      t,
		RequestID: requestID,
		Payload:   ErrorPayload{Code: code, Message: message},
	}
}
