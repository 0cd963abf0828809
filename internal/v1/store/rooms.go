package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

// roomCodePattern is the only shape a join code may take.
var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// ValidRoomCode reports whether code can possibly name a room.
func ValidRoomCode(code string) bool {
	return roomCodePattern.MatchString(code)
}

// CreateRoomParams are the arguments to the create_room RPC.
type CreateRoomParams struct {
	UserID        string          `json:"p_user_id"`
	RequestID     string          `json:"p_request_id"`
	Visibility    string          `json:"p_visibility"`
	MaxPlayers    int             `json:"p_max_players"`
	RulesetID     string          `json:"p_ruleset_id"`
	RulesetConfig json.RawMessage `json:"p_ruleset_config,omitempty"`
}

// CreateRoomResult is the typed create_room / find_or_create_room response.
// Cached is true when the RPC replayed an earlier request_id.
type CreateRoomResult struct {
	RoomID    string `json:"room_id"`
	Code      string `json:"code"`
	SeatIndex int    `json:"seat_index"`
	IsHost    bool   `json:"is_host"`
	Cached    bool   `json:"cached"`
	Version   int64  `json:"version"`
}

// SeatRecord is the durable shape of one seat.
type SeatRecord struct {
	UserID    string `json:"user_id"`
	Ready     bool   `json:"ready"`
	Connected bool   `json:"connected"`
}

// RoomRecord is the durable shape of a room row.
type RoomRecord struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	Status        string          `json:"status"`
	Visibility    string          `json:"visibility"`
	HostID        string          `json:"host_id"`
	MaxPlayers    int             `json:"max_players"`
	RulesetID     string          `json:"ruleset_id"`
	RulesetConfig json.RawMessage `json:"ruleset_config,omitempty"`
	Version       int64           `json:"version"`
}

// CreateRoom creates a private room. Idempotent by request id: a replayed
// request returns the originally created room with Cached=true.
func (c *Client) CreateRoom(ctx context.Context, p CreateRoomParams) (CreateRoomResult, error) {
	var result CreateRoomResult
	if err := c.rpc(ctx, "create_room", p, &result); err != nil {
		return CreateRoomResult{}, fmt.Errorf("create_room: %w", err)
	}
	return result, nil
}

// FindOrCreateRoom joins an open public room or creates one. Used for
// public matchmaking.
func (c *Client) FindOrCreateRoom(ctx context.Context, p CreateRoomParams) (CreateRoomResult, error) {
	var result CreateRoomResult
	if err := c.rpc(ctx, "find_or_create_room", p, &result); err != nil {
		return CreateRoomResult{}, fmt.Errorf("find_or_create_room: %w", err)
	}
	return result, nil
}

type updateSeatParams struct {
	RoomID          string      `json:"p_room_id"`
	SeatIndex       int         `json:"p_seat_index"`
	Seat            *SeatRecord `json:"p_seat"` // nil clears the seat
	ExpectedVersion int64       `json:"p_expected_version"`
}

type versionResult struct {
	Version int64 `json:"version"`
}

// UpdateSeat persists one seat under an optimistic lock. A concurrent writer
// that bumped the version first surfaces as ErrVersionConflict. Passing a nil
// seat clears it.
func (c *Client) UpdateSeat(ctx context.Context, roomID string, seatIndex int, seat *SeatRecord, expectedVersion int64) (int64, error) {
	var result versionResult
	err := c.rpc(ctx, "update_seat", updateSeatParams{
		RoomID:          roomID,
		SeatIndex:       seatIndex,
		Seat:            seat,
		ExpectedVersion: expectedVersion,
	}, &result)
	if err != nil {
		return 0, fmt.Errorf("update_seat: %w", err)
	}
	return result.Version, nil
}

type setStatusParams struct {
	RoomID          string `json:"p_room_id"`
	Status          string `json:"p_status"`
	ExpectedVersion int64  `json:"p_expected_version"`
}

// SetStatus transitions the room lifecycle status under an optimistic lock
// and returns the new version.
func (c *Client) SetStatus(ctx context.Context, roomID, status string, expectedVersion int64) (int64, error) {
	var result versionResult
	err := c.rpc(ctx, "set_room_status", setStatusParams{
		RoomID:          roomID,
		Status:          status,
		ExpectedVersion: expectedVersion,
	}, &result)
	if err != nil {
		return 0, fmt.Errorf("set_room_status: %w", err)
	}
	return result.Version, nil
}

// FindByCode resolves a join code to a room row. The code is validated
// locally before any upstream call.
func (c *Client) FindByCode(ctx context.Context, code string) (RoomRecord, error) {
	if !ValidRoomCode(code) {
		return RoomRecord{}, fmt.Errorf("find_room_by_code: %w: bad code %q", ErrNotFound, code)
	}

	var result RoomRecord
	err := c.rpc(ctx, "find_room_by_code", map[string]string{"p_code": code}, &result)
	if err != nil {
		return RoomRecord{}, fmt.Errorf("find_room_by_code: %w", err)
	}
	return result, nil
}

type seatExistsResult struct {
	Exists    bool `json:"exists"`
	SeatIndex int  `json:"seat_index"`
}

// SeatExists reports whether the user already holds a seat in the room.
func (c *Client) SeatExists(ctx context.Context, roomID, userID string) (bool, int, error) {
	var result seatExistsResult
	err := c.rpc(ctx, "seat_exists", map[string]string{
		"p_room_id": roomID,
		"p_user_id": userID,
	}, &result)
	if err != nil {
		return false, 0, fmt.Errorf("seat_exists: %w", err)
	}
	return result.Exists, result.SeatIndex, nil
}
