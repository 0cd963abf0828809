// Package cache implements the Redis room cache: room meta, seat hashes,
// presence sets and per-user connection counters. The cache is authoritative
// for live rooms; the durable store is the system of record.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ludostacked/backend/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
)

// Key schema. Every live room owns exactly three keys; deleting a room
// removes all of them.
//
//	room:{id}:meta      hash   id, code, status, visibility, host_id,
//	                           max_players, ruleset_id, ruleset_config,
//	                           version, game_state
//	room:{id}:seats     hash   seat:0 .. seat:{max-1}, "{}" when empty
//	room:{id}:presence  set    user ids, TTL 300s refreshed on write
//	ws:user:{id}:conn_count    integer counter
const presenceTTL = 300 * time.Second

var (
	// ErrRoomNotCached is returned when a room has no meta hash in Redis.
	ErrRoomNotCached = errors.New("room not in cache")
	// ErrSeatEmpty is returned when a seat mutation targets an empty seat.
	ErrSeatEmpty = errors.New("seat is empty")
	// ErrRoomFull is returned by ClaimSeat when no seat is free.
	ErrRoomFull = errors.New("no free seat")
)

// RoomMeta mirrors the room:{id}:meta hash.
type RoomMeta struct {
	ID            string
	Code          string
	Status        string
	Visibility    string
	HostID        string
	MaxPlayers    int
	RulesetID     string
	RulesetConfig json.RawMessage
	Version       int64
}

// Service handles all interaction with the Redis cache.
type Service struct {
	client *redis.Client
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a robust Redis connection and verifies it with a ping.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Service{client: rdb}, nil
}

// NewServiceWithClient wraps an existing client. Used by tests with miniredis.
func NewServiceWithClient(client *redis.Client) *Service {
	return &Service{client: client}
}

func metaKey(roomID string) string      { return "room:" + roomID + ":meta" }
func seatsKey(roomID string) string     { return "room:" + roomID + ":seats" }
func presenceKey(roomID string) string  { return "room:" + roomID + ":presence" }
func connCountKey(userID string) string { return "ws:user:" + userID + ":conn_count" }

func seatField(index int) string { return "seat:" + strconv.Itoa(index) }

// observe records operation metrics for the cache.
func observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RedisOperationsTotal.WithLabelValues(op, status).Inc()
	metrics.RedisOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// claimSeatScript atomically claims the first free seat for a user, or finds
// the seat the user already holds. Either way the room version is bumped, so
// an idempotent re-join still produces version+1.
// Returns {seatIndex, newVersion, alreadySeated} or {-1, 0, 0} when full.
var claimSeatScript = redis.NewScript(`
local seatsKey = KEYS[1]
local metaKey = KEYS[2]
local userId = ARGV[1]
local seatJson = ARGV[2]
local maxPlayers = tonumber(ARGV[3])

for i = 0, maxPlayers - 1 do
  local raw = redis.call("HGET", seatsKey, "seat:" .. i)
  if raw and raw ~= "{}" then
    local seat = cjson.decode(raw)
    if seat.user_id == userId then
      local version = redis.call("HINCRBY", metaKey, "version", 1)
      return {i, version, 1}
    end
  end
end

for i = 0, maxPlayers - 1 do
  local raw = redis.call("HGET", seatsKey, "seat:" .. i)
  if not raw or raw == "{}" then
    redis.call("HSET", seatsKey, "seat:" .. i, seatJson)
    local version = redis.call("HINCRBY", metaKey, "version", 1)
    return {i, version, 0}
  end
end

return {-1, 0, 0}
`)

// mutateSeatScript reads a seat JSON object, sets or toggles one boolean
// field, writes it back and bumps the room version in the same call.
// Returns {newValue, newVersion} or {-1, 0} when the seat is empty.
var mutateSeatScript = redis.NewScript(`
local seatsKey = KEYS[1]
local metaKey = KEYS[2]
local field = "seat:" .. ARGV[1]
local name = ARGV[2]
local mode = ARGV[3]

local raw = redis.call("HGET", seatsKey, field)
if not raw or raw == "{}" then
  return {-1, 0}
end

local seat = cjson.decode(raw)
if mode == "toggle" then
  seat[name] = not seat[name]
else
  seat[name] = (ARGV[4] == "1")
end

redis.call("HSET", seatsKey, field, cjson.encode(seat))
local version = redis.call("HINCRBY", metaKey, "version", 1)
if seat[name] then
  return {1, version}
end
return {0, version}
`)

// clearSeatScript empties a seat and bumps the room version.
var clearSeatScript = redis.NewScript(`
local seatsKey = KEYS[1]
local metaKey = KEYS[2]
local field = "seat:" .. ARGV[1]

redis.call("HSET", seatsKey, field, "{}")
return redis.call("HINCRBY", metaKey, "version", 1)
`)

// WriteRoom writes meta and seats in one pipeline, replacing previous state.
func (s *Service) WriteRoom(ctx context.Context, meta RoomMeta, seats [][]byte) (err error) {
	defer func(start time.Time) { observe("write_room", start, err) }(time.Now())

	rulesetConfig := string(meta.RulesetConfig)
	if rulesetConfig == "" {
		rulesetConfig = "{}"
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, metaKey(meta.ID),
		"id", meta.ID,
		"code", meta.Code,
		"status", meta.Status,
		"visibility", meta.Visibility,
		"host_id", meta.HostID,
		"max_players", meta.MaxPlayers,
		"ruleset_id", meta.RulesetID,
		"ruleset_config", rulesetConfig,
		"version", meta.Version,
	)
	for i := 0; i < meta.MaxPlayers; i++ {
		seat := []byte("{}")
		if i < len(seats) && len(seats[i]) > 0 {
			seat = seats[i]
		}
		pipe.HSet(ctx, seatsKey(meta.ID), seatField(i), seat)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ReadRoomMeta loads the meta hash for a room.
func (s *Service) ReadRoomMeta(ctx context.Context, roomID string) (meta RoomMeta, err error) {
	defer func(start time.Time) { observe("read_room", start, err) }(time.Now())

	fields, err := s.client.HGetAll(ctx, metaKey(roomID)).Result()
	if err != nil {
		return RoomMeta{}, err
	}
	if len(fields) == 0 {
		return RoomMeta{}, ErrRoomNotCached
	}

	meta = RoomMeta{
		ID:         fields["id"],
		Code:       fields["code"],
		Status:     fields["status"],
		Visibility: fields["visibility"],
		HostID:     fields["host_id"],
		RulesetID:  fields["ruleset_id"],
	}
	if raw := fields["ruleset_config"]; raw != "" && raw != "{}" {
		meta.RulesetConfig = json.RawMessage(raw)
	}
	meta.MaxPlayers, _ = strconv.Atoi(fields["max_players"])
	meta.Version, _ = strconv.ParseInt(fields["version"], 10, 64)
	return meta, nil
}

// ReadSeats returns seat JSON objects ordered by seat index.
// Empty seats come back as "{}".
func (s *Service) ReadSeats(ctx context.Context, roomID string, maxPlayers int) (seats [][]byte, err error) {
	defer func(start time.Time) { observe("read_seats", start, err) }(time.Now())

	fields := make([]string, maxPlayers)
	for i := range fields {
		fields[i] = seatField(i)
	}
	values, err := s.client.HMGet(ctx, seatsKey(roomID), fields...).Result()
	if err != nil {
		return nil, err
	}

	seats = make([][]byte, maxPlayers)
	for i, v := range values {
		if str, ok := v.(string); ok && str != "" {
			seats[i] = []byte(str)
		} else {
			seats[i] = []byte("{}")
		}
	}
	return seats, nil
}

// DeleteRoom removes all three room keys.
func (s *Service) DeleteRoom(ctx context.Context, roomID string) (err error) {
	defer func(start time.Time) { observe("delete_room", start, err) }(time.Now())

	return s.client.Del(ctx, metaKey(roomID), seatsKey(roomID), presenceKey(roomID)).Err()
}

// ClaimSeat reserves the first free seat for a user, idempotently returning
// the existing seat when the user is already seated. The room version is
// bumped in both cases.
func (s *Service) ClaimSeat(ctx context.Context, roomID, userID string, seatJSON []byte, maxPlayers int) (seatIndex int, version int64, alreadySeated bool, err error) {
	defer func(start time.Time) { observe("claim_seat", start, err) }(time.Now())

	res, err := claimSeatScript.Run(ctx, s.client,
		[]string{seatsKey(roomID), metaKey(roomID)},
		userID, string(seatJSON), maxPlayers,
	).Int64Slice()
	if err != nil {
		return 0, 0, false, err
	}
	if len(res) != 3 {
		return 0, 0, false, fmt.Errorf("unexpected claim seat result: %v", res)
	}
	if res[0] < 0 {
		return 0, 0, false, ErrRoomFull
	}
	return int(res[0]), res[1], res[2] == 1, nil
}

// SetSeatBool sets a boolean field on an occupied seat and bumps the version.
func (s *Service) SetSeatBool(ctx context.Context, roomID string, seatIndex int, field string, value bool) (version int64, err error) {
	defer func(start time.Time) { observe("set_seat_bool", start, err) }(time.Now())

	arg := "0"
	if value {
		arg = "1"
	}
	res, err := mutateSeatScript.Run(ctx, s.client,
		[]string{seatsKey(roomID), metaKey(roomID)},
		seatIndex, field, "set", arg,
	).Int64Slice()
	if err != nil {
		return 0, err
	}
	if len(res) != 2 || res[0] < 0 {
		return 0, ErrSeatEmpty
	}
	return res[1], nil
}

// ToggleSeatBool flips a boolean field on an occupied seat, bumps the version
// and returns the new value.
func (s *Service) ToggleSeatBool(ctx context.Context, roomID string, seatIndex int, field string) (newValue bool, version int64, err error) {
	defer func(start time.Time) { observe("toggle_seat_bool", start, err) }(time.Now())

	res, err := mutateSeatScript.Run(ctx, s.client,
		[]string{seatsKey(roomID), metaKey(roomID)},
		seatIndex, field, "toggle", "",
	).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 || res[0] < 0 {
		return false, 0, ErrSeatEmpty
	}
	return res[0] == 1, res[1], nil
}

// ClearSeat empties a seat and bumps the version. Used both for leaves and
// for rolling back a reservation whose durable write failed.
func (s *Service) ClearSeat(ctx context.Context, roomID string, seatIndex int) (version int64, err error) {
	defer func(start time.Time) { observe("clear_seat", start, err) }(time.Now())

	return clearSeatScript.Run(ctx, s.client,
		[]string{seatsKey(roomID), metaKey(roomID)},
		seatIndex,
	).Int64()
}

// SetStatus mirrors a durable status transition into the cache. The version
// comes from the store, which owns monotonicity.
func (s *Service) SetStatus(ctx context.Context, roomID, status string, version int64) (err error) {
	defer func(start time.Time) { observe("set_status", start, err) }(time.Now())

	return s.client.HSet(ctx, metaKey(roomID), "status", status, "version", version).Err()
}

// SetGameState stores the serialized engine state on the meta hash.
func (s *Service) SetGameState(ctx context.Context, roomID string, state []byte) (err error) {
	defer func(start time.Time) { observe("set_game_state", start, err) }(time.Now())

	return s.client.HSet(ctx, metaKey(roomID), "game_state", state).Err()
}

// GetGameState loads the serialized engine state, nil when absent.
func (s *Service) GetGameState(ctx context.Context, roomID string) (state []byte, err error) {
	defer func(start time.Time) { observe("get_game_state", start, err) }(time.Now())

	raw, err := s.client.HGet(ctx, metaKey(roomID), "game_state").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(raw), nil
}

// PresenceAdd adds a user to the room presence set and refreshes its TTL.
func (s *Service) PresenceAdd(ctx context.Context, roomID, userID string) (err error) {
	defer func(start time.Time) { observe("presence_add", start, err) }(time.Now())

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, presenceKey(roomID), userID)
	pipe.Expire(ctx, presenceKey(roomID), presenceTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// PresenceRemove removes a user from the room presence set.
func (s *Service) PresenceRemove(ctx context.Context, roomID, userID string) (err error) {
	defer func(start time.Time) { observe("presence_remove", start, err) }(time.Now())

	return s.client.SRem(ctx, presenceKey(roomID), userID).Err()
}

// PresenceMembers returns the user ids currently present in the room.
func (s *Service) PresenceMembers(ctx context.Context, roomID string) (members []string, err error) {
	defer func(start time.Time) { observe("presence_members", start, err) }(time.Now())

	return s.client.SMembers(ctx, presenceKey(roomID)).Result()
}

// ConnIncr increments the per-user connection counter.
func (s *Service) ConnIncr(ctx context.Context, userID string) (count int64, err error) {
	defer func(start time.Time) { observe("conn_incr", start, err) }(time.Now())

	return s.client.Incr(ctx, connCountKey(userID)).Result()
}

// ConnDecr decrements the per-user connection counter, deleting the key when
// it reaches zero. Returns the remaining count, never negative.
func (s *Service) ConnDecr(ctx context.Context, userID string) (count int64, err error) {
	defer func(start time.Time) { observe("conn_decr", start, err) }(time.Now())

	count, err = s.client.Decr(ctx, connCountKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	if count <= 0 {
		_ = s.client.Del(ctx, connCountKey(userID)).Err()
		return 0, nil
	}
	return count, nil
}

// Ping checks Redis connectivity. Used by the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

// Close gracefully shuts down the Redis connection
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
