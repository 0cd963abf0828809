package room

import "errors"

// Room lifecycle statuses.
const (
	StatusOpen         = "open"
	StatusReadyToStart = "ready_to_start"
	StatusInGame       = "in_game"
	StatusClosed       = "closed"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrRoomClosed       = errors.New("room is closed")
	ErrRoomInGame       = errors.New("room is already in a game")
	ErrNotSeated        = errors.New("user holds no seat in this room")
	ErrNotHost          = errors.New("only the host can do this")
	ErrPlayersNotReady  = errors.New("need at least two players, all ready")
	ErrInvalidRoomState = errors.New("room is in the wrong state for this")
	ErrInvalidParams    = errors.New("invalid room parameters")
)

// ErrorCode maps a service error to the wire code clients receive.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return "ROOM_NOT_FOUND"
	case errors.Is(err, ErrRoomFull):
		return "ROOM_FULL"
	case errors.Is(err, ErrRoomClosed):
		return "ROOM_CLOSED"
	case errors.Is(err, ErrRoomInGame):
		return "ROOM_IN_GAME"
	case errors.Is(err, ErrNotSeated):
		return "NOT_SEATED"
	case errors.Is(err, ErrNotHost):
		return "NOT_HOST"
	case errors.Is(err, ErrPlayersNotReady):
		return "PLAYERS_NOT_READY"
	case errors.Is(err, ErrInvalidRoomState):
		return "INVALID_ROOM_STATE"
	case errors.Is(err, ErrInvalidParams):
		return "VALIDATION_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
