// Package room drives the room lifecycle: create, join, ready, start, leave.
// The durable store is the system of record; the Redis cache is authoritative
// for live rooms and every mutation goes cache-first with a store write-through.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ludostacked/backend/internal/v1/cache"
	"github.com/ludostacked/backend/internal/v1/game"
	"github.com/ludostacked/backend/internal/v1/logging"
	"github.com/ludostacked/backend/internal/v1/metrics"
	"github.com/ludostacked/backend/internal/v1/store"
)

// Store is the slice of the durable store the room service needs.
type Store interface {
	CreateRoom(ctx context.Context, p store.CreateRoomParams) (store.CreateRoomResult, error)
	FindOrCreateRoom(ctx context.Context, p store.CreateRoomParams) (store.CreateRoomResult, error)
	UpdateSeat(ctx context.Context, roomID string, seatIndex int, seat *store.SeatRecord, expectedVersion int64) (int64, error)
	SetStatus(ctx context.Context, roomID, status string, expectedVersion int64) (int64, error)
	FindByCode(ctx context.Context, code string) (store.RoomRecord, error)
}

// Seat is the cached shape of one seat. An empty UserID means the seat is
// free.
type Seat struct {
	UserID    string `json:"user_id,omitempty"`
	Ready     bool   `json:"ready,omitempty"`
	Connected bool   `json:"connected,omitempty"`
}

// Occupied reports whether a user holds the seat.
func (s Seat) Occupied() bool { return s.UserID != "" }

// Snapshot is the full client-visible view of a room.
type Snapshot struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	Status        string          `json:"status"`
	Visibility    string          `json:"visibility"`
	HostID        string          `json:"host_id"`
	MaxPlayers    int             `json:"max_players"`
	RulesetID     string          `json:"ruleset_id,omitempty"`
	RulesetConfig json.RawMessage `json:"ruleset_config,omitempty"`
	Version       int64           `json:"version"`
	Seats         []Seat          `json:"seats"`
	Present       []string        `json:"present,omitempty"`
}

// CreateParams are the inputs for Create and FindOrCreate.
type CreateParams struct {
	UserID        string
	RequestID     string
	Visibility    string
	MaxPlayers    int
	RulesetID     string
	RulesetConfig json.RawMessage
}

// CreateResult is the outcome of Create/FindOrCreate. Cached is true when the
// request id replayed an earlier create.
type CreateResult struct {
	Snapshot  *Snapshot
	SeatIndex int
	IsHost    bool
	Cached    bool
}

// JoinResult is the outcome of Join.
type JoinResult struct {
	Snapshot      *Snapshot
	SeatIndex     int
	AlreadySeated bool
}

// LeaveResult reports whether the leave closed the room.
type LeaveResult struct {
	Closed   bool
	Snapshot *Snapshot
}

// Service coordinates the store, the cache and the game engine.
type Service struct {
	store  Store
	cache  *cache.Service
	engine *game.Engine
}

// NewService wires a room service.
func NewService(st Store, c *cache.Service, e *game.Engine) *Service {
	return &Service{store: st, cache: c, engine: e}
}

// Create makes a private room with the caller as host on seat 0. Replays of
// the same request id return the original room with Cached set.
func (s *Service) Create(ctx context.Context, p CreateParams) (*CreateResult, error) {
	return s.create(ctx, p, s.store.CreateRoom)
}

// FindOrCreate joins an open public room, creating one when none is open.
func (s *Service) FindOrCreate(ctx context.Context, p CreateParams) (*CreateResult, error) {
	p.Visibility = "public"
	return s.create(ctx, p, s.store.FindOrCreateRoom)
}

func (s *Service) create(ctx context.Context, p CreateParams, op func(context.Context, store.CreateRoomParams) (store.CreateRoomResult, error)) (*CreateResult, error) {
	if p.MaxPlayers < 2 || p.MaxPlayers > 4 {
		return nil, fmt.Errorf("%w: max_players must be between 2 and 4", ErrInvalidParams)
	}
	if p.Visibility == "" {
		p.Visibility = "private"
	}

	result, err := op(ctx, store.CreateRoomParams{
		UserID:        p.UserID,
		RequestID:     p.RequestID,
		Visibility:    p.Visibility,
		MaxPlayers:    p.MaxPlayers,
		RulesetID:     p.RulesetID,
		RulesetConfig: p.RulesetConfig,
	})
	if err != nil {
		return nil, err
	}

	// A replayed create must not clobber live cache state.
	if result.Cached {
		if snap, err := s.SnapshotOf(ctx, result.RoomID); err == nil {
			return &CreateResult{
				Snapshot:  snap,
				SeatIndex: result.SeatIndex,
				IsHost:    result.IsHost,
				Cached:    true,
			}, nil
		}
	}

	meta := cache.RoomMeta{
		ID:            result.RoomID,
		Code:          result.Code,
		Status:        StatusOpen,
		Visibility:    p.Visibility,
		HostID:        p.UserID,
		MaxPlayers:    p.MaxPlayers,
		RulesetID:     p.RulesetID,
		RulesetConfig: p.RulesetConfig,
		Version:       result.Version,
	}
	seats := make([][]byte, p.MaxPlayers)
	hostSeat, _ := json.Marshal(Seat{UserID: p.UserID, Connected: true})
	seats[result.SeatIndex] = hostSeat

	if err := s.cache.WriteRoom(ctx, meta, seats); err != nil {
		return nil, fmt.Errorf("cache room %s: %w", result.RoomID, err)
	}
	metrics.ActiveRooms.Inc()

	snap, err := s.SnapshotOf(ctx, result.RoomID)
	if err != nil {
		return nil, err
	}
	return &CreateResult{
		Snapshot:  snap,
		SeatIndex: result.SeatIndex,
		IsHost:    result.IsHost,
		Cached:    result.Cached,
	}, nil
}

// JoinByCode resolves a join code and joins the room.
func (s *Service) JoinByCode(ctx context.Context, code, userID string) (*JoinResult, error) {
	record, err := s.store.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return s.Join(ctx, record.ID, userID)
}

// Join claims a seat in two phases: reserve in the cache first, then persist
// to the store, rolling back the reservation when the durable write fails.
// A user who already holds a seat gets the same seat back with the version
// bumped. Once the game is running only seated users may re-join; their
// re-join just flips the connected flag.
func (s *Service) Join(ctx context.Context, roomID, userID string) (*JoinResult, error) {
	meta, err := s.meta(ctx, roomID)
	if err != nil {
		return nil, err
	}
	switch meta.Status {
	case StatusClosed:
		return nil, ErrRoomClosed
	case StatusInGame:
		return s.rejoinInGame(ctx, roomID, meta, userID)
	}

	seatJSON, _ := json.Marshal(Seat{UserID: userID, Connected: true})
	seatIndex, _, already, err := s.cache.ClaimSeat(ctx, roomID, userID, seatJSON, meta.MaxPlayers)
	if errors.Is(err, cache.ErrRoomFull) {
		return nil, ErrRoomFull
	}
	if err != nil {
		return nil, err
	}

	_, err = s.store.UpdateSeat(ctx, roomID, seatIndex,
		&store.SeatRecord{UserID: userID, Connected: true}, meta.Version)
	if err != nil {
		if !already {
			if _, rbErr := s.cache.ClearSeat(ctx, roomID, seatIndex); rbErr != nil {
				logging.Error(ctx, "seat reservation rollback failed",
					zap.String("room_id", roomID), zap.Int("seat", seatIndex), zap.Error(rbErr))
			}
		}
		return nil, err
	}

	if err := s.cache.PresenceAdd(ctx, roomID, userID); err != nil {
		logging.Warn(ctx, "presence add failed", zap.String("room_id", roomID), zap.Error(err))
	}

	snap, err := s.SnapshotOf(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &JoinResult{Snapshot: snap, SeatIndex: seatIndex, AlreadySeated: already}, nil
}

// rejoinInGame lets an already-seated user back into a running game. The
// seat is untouched apart from the connected flag.
func (s *Service) rejoinInGame(ctx context.Context, roomID string, meta cache.RoomMeta, userID string) (*JoinResult, error) {
	seatIndex, _, err := s.findSeat(ctx, roomID, meta.MaxPlayers, userID)
	if err != nil {
		if errors.Is(err, ErrNotSeated) {
			return nil, ErrRoomInGame
		}
		return nil, err
	}

	if _, err := s.cache.SetSeatBool(ctx, roomID, seatIndex, "connected", true); err != nil {
		return nil, err
	}
	if err := s.cache.PresenceAdd(ctx, roomID, userID); err != nil {
		logging.Warn(ctx, "presence add failed", zap.String("room_id", roomID), zap.Error(err))
	}

	snap, err := s.SnapshotOf(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &JoinResult{Snapshot: snap, SeatIndex: seatIndex, AlreadySeated: true}, nil
}

// ToggleReady flips the caller's ready flag and recomputes the lobby status:
// at least two seated players all ready moves the room to ready_to_start,
// anything less reverts it to open.
func (s *Service) ToggleReady(ctx context.Context, roomID, userID string) (*Snapshot, error) {
	meta, err := s.meta(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if meta.Status != StatusOpen && meta.Status != StatusReadyToStart {
		return nil, ErrInvalidRoomState
	}

	seatIndex, seat, err := s.findSeat(ctx, roomID, meta.MaxPlayers, userID)
	if err != nil {
		return nil, err
	}

	ready, version, err := s.cache.ToggleSeatBool(ctx, roomID, seatIndex, "ready")
	if err != nil {
		return nil, err
	}

	seat.Ready = ready
	_, err = s.store.UpdateSeat(ctx, roomID, seatIndex,
		&store.SeatRecord{UserID: seat.UserID, Ready: seat.Ready, Connected: seat.Connected}, meta.Version)
	if err != nil {
		logging.Warn(ctx, "durable seat update failed after ready toggle",
			zap.String("room_id", roomID), zap.Error(err))
	}

	if err := s.recomputeLobbyStatus(ctx, roomID, meta, version); err != nil {
		return nil, err
	}
	return s.SnapshotOf(ctx, roomID)
}

// recomputeLobbyStatus moves the room between open and ready_to_start based
// on the current seats.
func (s *Service) recomputeLobbyStatus(ctx context.Context, roomID string, meta cache.RoomMeta, version int64) error {
	seats, err := s.seats(ctx, roomID, meta.MaxPlayers)
	if err != nil {
		return err
	}

	desired := StatusOpen
	if allSeatedReady(seats) {
		desired = StatusReadyToStart
	}
	if desired == meta.Status {
		return nil
	}
	return s.syncStatus(ctx, roomID, desired, meta.Version, version)
}

// allSeatedReady reports whether at least two seats are occupied and every
// occupied seat is ready.
func allSeatedReady(seats []Seat) bool {
	occupied := 0
	for _, seat := range seats {
		if !seat.Occupied() {
			continue
		}
		if !seat.Ready {
			return false
		}
		occupied++
	}
	return occupied >= 2
}

// syncStatus writes a status transition to the store and the cache. The
// store write is best-effort: the cache is authoritative for live rooms.
func (s *Service) syncStatus(ctx context.Context, roomID, status string, storeVersion, cacheVersion int64) error {
	if _, err := s.store.SetStatus(ctx, roomID, status, storeVersion); err != nil {
		logging.Warn(ctx, "durable status transition failed",
			zap.String("room_id", roomID), zap.String("status", status), zap.Error(err))
	}
	return s.cache.SetStatus(ctx, roomID, status, cacheVersion+1)
}

// StartGame transitions the room to in_game and opens the first turn. Host
// only, and only from ready_to_start: an open room still has unready
// players.
func (s *Service) StartGame(ctx context.Context, roomID, userID string) (*Snapshot, *game.GameState, []game.Event, error) {
	meta, err := s.meta(ctx, roomID)
	if err != nil {
		return nil, nil, nil, err
	}
	switch meta.Status {
	case StatusReadyToStart:
	case StatusOpen:
		return nil, nil, nil, ErrPlayersNotReady
	case StatusInGame:
		return nil, nil, nil, ErrRoomInGame
	default:
		return nil, nil, nil, ErrInvalidRoomState
	}
	if meta.HostID != userID {
		return nil, nil, nil, ErrNotHost
	}

	seats, err := s.seats(ctx, roomID, meta.MaxPlayers)
	if err != nil {
		return nil, nil, nil, err
	}
	if !allSeatedReady(seats) {
		return nil, nil, nil, ErrPlayersNotReady
	}
	var players []string
	for _, seat := range seats {
		if seat.Occupied() {
			players = append(players, seat.UserID)
		}
	}

	var ruleset game.Ruleset
	if len(meta.RulesetConfig) > 0 {
		if err := json.Unmarshal(meta.RulesetConfig, &ruleset); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: bad ruleset config: %v", ErrInvalidParams, err)
		}
	}

	result := s.engine.Process(s.engine.NewGame(roomID, players, ruleset),
		game.Action{Type: game.ActionStartGame}, userID)
	if !result.Success {
		return nil, nil, nil, fmt.Errorf("start game rejected: %s", result.ErrorCode)
	}
	raw, err := result.State.Marshal()
	if err != nil {
		return nil, nil, nil, err
	}

	version, err := s.store.SetStatus(ctx, roomID, StatusInGame, meta.Version)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := s.cache.SetStatus(ctx, roomID, StatusInGame, version); err != nil {
		return nil, nil, nil, err
	}
	if err := s.cache.SetGameState(ctx, roomID, raw); err != nil {
		return nil, nil, nil, err
	}

	logging.Info(ctx, "game started",
		zap.String("room_id", roomID), zap.Int("players", len(players)))

	snap, err := s.SnapshotOf(ctx, roomID)
	if err != nil {
		return nil, nil, nil, err
	}
	return snap, result.State, result.Events, nil
}

// Leave removes the caller from the room. The host leaving closes the room
// from any state; a player leaving clears the seat, resets every seated
// player's ready flag and reverts a ready_to_start room to open.
func (s *Service) Leave(ctx context.Context, roomID, userID string) (*LeaveResult, error) {
	meta, err := s.meta(ctx, roomID)
	if err != nil {
		return nil, err
	}

	seatIndex, _, err := s.findSeat(ctx, roomID, meta.MaxPlayers, userID)
	if err != nil {
		return nil, err
	}

	if meta.HostID == userID {
		return s.close(ctx, roomID, meta.Version)
	}

	version, err := s.cache.ClearSeat(ctx, roomID, seatIndex)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateSeat(ctx, roomID, seatIndex, nil, meta.Version); err != nil {
		logging.Warn(ctx, "durable seat clear failed on leave",
			zap.String("room_id", roomID), zap.Error(err))
	}
	if err := s.cache.PresenceRemove(ctx, roomID, userID); err != nil {
		logging.Warn(ctx, "presence remove failed", zap.String("room_id", roomID), zap.Error(err))
	}

	if err := s.resetReadiness(ctx, roomID, meta, version); err != nil {
		return nil, err
	}

	seats, err := s.seats(ctx, roomID, meta.MaxPlayers)
	if err != nil {
		return nil, err
	}
	occupied := 0
	for _, seat := range seats {
		if seat.Occupied() {
			occupied++
		}
	}
	if occupied == 0 && meta.Status != StatusInGame {
		return s.close(ctx, roomID, meta.Version)
	}

	snap, err := s.SnapshotOf(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &LeaveResult{Snapshot: snap}, nil
}

// resetReadiness clears every seated player's ready flag and reverts a
// ready_to_start room to open. A departure or disconnect always voids the
// lobby consensus.
func (s *Service) resetReadiness(ctx context.Context, roomID string, meta cache.RoomMeta, version int64) error {
	if meta.Status != StatusOpen && meta.Status != StatusReadyToStart {
		return nil
	}

	seats, err := s.seats(ctx, roomID, meta.MaxPlayers)
	if err != nil {
		return err
	}
	for i, seat := range seats {
		if !seat.Occupied() || !seat.Ready {
			continue
		}
		v, err := s.cache.SetSeatBool(ctx, roomID, i, "ready", false)
		if err != nil && !errors.Is(err, cache.ErrSeatEmpty) {
			return err
		}
		if v > version {
			version = v
		}
		if _, err := s.store.UpdateSeat(ctx, roomID, i,
			&store.SeatRecord{UserID: seat.UserID, Ready: false, Connected: seat.Connected}, meta.Version); err != nil {
			logging.Warn(ctx, "durable ready reset failed",
				zap.String("room_id", roomID), zap.Int("seat", i), zap.Error(err))
		}
	}

	if meta.Status == StatusReadyToStart {
		return s.syncStatus(ctx, roomID, StatusOpen, meta.Version, version)
	}
	return nil
}

func (s *Service) close(ctx context.Context, roomID string, version int64) (*LeaveResult, error) {
	if _, err := s.store.SetStatus(ctx, roomID, StatusClosed, version); err != nil {
		logging.Warn(ctx, "durable close failed", zap.String("room_id", roomID), zap.Error(err))
	}
	if err := s.cache.DeleteRoom(ctx, roomID); err != nil {
		return nil, err
	}
	metrics.ActiveRooms.Dec()
	logging.Info(ctx, "room closed", zap.String("room_id", roomID))
	return &LeaveResult{Closed: true}, nil
}

// FinishGame closes a played-out room. The cache keys survive so late
// readers still see the final state until the next cleanup.
func (s *Service) FinishGame(ctx context.Context, roomID string) error {
	meta, err := s.meta(ctx, roomID)
	if err != nil {
		return err
	}
	version, err := s.store.SetStatus(ctx, roomID, StatusClosed, meta.Version)
	if err != nil {
		logging.Warn(ctx, "durable close failed", zap.String("room_id", roomID), zap.Error(err))
		version = meta.Version + 1
	}
	metrics.ActiveRooms.Dec()
	return s.cache.SetStatus(ctx, roomID, StatusClosed, version)
}

// DisconnectCleanup marks the user's seat disconnected and drops presence.
// Like a leave it voids the lobby's ready consensus, but the seat stays
// held for a reconnect. Called when the user's last websocket connection
// goes away.
func (s *Service) DisconnectCleanup(ctx context.Context, roomID, userID string) error {
	meta, err := s.meta(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return nil
		}
		return err
	}

	seatIndex, _, err := s.findSeat(ctx, roomID, meta.MaxPlayers, userID)
	if err == nil {
		version, err := s.cache.SetSeatBool(ctx, roomID, seatIndex, "connected", false)
		if err != nil && !errors.Is(err, cache.ErrSeatEmpty) {
			logging.Warn(ctx, "seat disconnect flag failed",
				zap.String("room_id", roomID), zap.Error(err))
		}
		if err := s.resetReadiness(ctx, roomID, meta, version); err != nil {
			logging.Warn(ctx, "ready reset failed on disconnect",
				zap.String("room_id", roomID), zap.Error(err))
		}
	}
	return s.cache.PresenceRemove(ctx, roomID, userID)
}

// GameState loads the cached engine state for the room, nil when no game is
// running.
func (s *Service) GameState(ctx context.Context, roomID string) (*game.GameState, error) {
	raw, err := s.cache.GetGameState(ctx, roomID)
	if err != nil || raw == nil {
		return nil, err
	}
	return game.Unmarshal(raw)
}

// SaveGameState persists the engine state back to the cache.
func (s *Service) SaveGameState(ctx context.Context, roomID string, state *game.GameState) error {
	raw, err := state.Marshal()
	if err != nil {
		return err
	}
	return s.cache.SetGameState(ctx, roomID, raw)
}

// SnapshotOf builds the client view of a room from the cache.
func (s *Service) SnapshotOf(ctx context.Context, roomID string) (*Snapshot, error) {
	meta, err := s.meta(ctx, roomID)
	if err != nil {
		return nil, err
	}
	seats, err := s.seats(ctx, roomID, meta.MaxPlayers)
	if err != nil {
		return nil, err
	}
	present, err := s.cache.PresenceMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:            meta.ID,
		Code:          meta.Code,
		Status:        meta.Status,
		Visibility:    meta.Visibility,
		HostID:        meta.HostID,
		MaxPlayers:    meta.MaxPlayers,
		RulesetID:     meta.RulesetID,
		RulesetConfig: meta.RulesetConfig,
		Version:       meta.Version,
		Seats:         seats,
		Present:       present,
	}, nil
}

func (s *Service) meta(ctx context.Context, roomID string) (cache.RoomMeta, error) {
	meta, err := s.cache.ReadRoomMeta(ctx, roomID)
	if errors.Is(err, cache.ErrRoomNotCached) {
		return cache.RoomMeta{}, ErrRoomNotFound
	}
	return meta, err
}

func (s *Service) seats(ctx context.Context, roomID string, maxPlayers int) ([]Seat, error) {
	raw, err := s.cache.ReadSeats(ctx, roomID, maxPlayers)
	if err != nil {
		return nil, err
	}
	seats := make([]Seat, len(raw))
	for i, blob := range raw {
		if err := json.Unmarshal(blob, &seats[i]); err != nil {
			return nil, fmt.Errorf("seat %d corrupt: %w", i, err)
		}
	}
	return seats, nil
}

func (s *Service) findSeat(ctx context.Context, roomID string, maxPlayers int, userID string) (int, Seat, error) {
	seats, err := s.seats(ctx, roomID, maxPlayers)
	if err != nil {
		return 0, Seat{}, err
	}
	for i, seat := range seats {
		if seat.UserID == userID {
			return i, seat, nil
		}
	}
	return 0, Seat{}, ErrNotSeated
}
