package cache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewServiceWithClient(client), mr
}

func seatJSON(userID string) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"user_id":   userID,
		"ready":     false,
		"connected": true,
	})
	return b
}

func testMeta() RoomMeta {
	return RoomMeta{
		ID:         "room-1",
		Code:       "ABC123",
		Status:     "waiting",
		Visibility: "private",
		HostID:     "host-user",
		MaxPlayers: 4,
		RulesetID:  "classic",
		Version:    1,
	}
}

func TestWriteRoom_ReadBack(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.WriteRoom(ctx, testMeta(), [][]byte{seatJSON("host-user")}))

	meta, err := s.ReadRoomMeta(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", meta.Code)
	assert.Equal(t, "waiting", meta.Status)
	assert.Equal(t, "host-user", meta.HostID)
	assert.Equal(t, 4, meta.MaxPlayers)
	assert.Equal(t, int64(1), meta.Version)

	seats, err := s.ReadSeats(ctx, "room-1", 4)
	require.NoError(t, err)
	require.Len(t, seats, 4)
	assert.Contains(t, string(seats[0]), "host-user")
	assert.Equal(t, "{}", string(seats[1]))
	assert.Equal(t, "{}", string(seats[3]))
}

func TestReadRoomMeta_NotCached(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.ReadRoomMeta(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRoomNotCached)
}

func TestClaimSeat_FillsInOrder(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRoom(ctx, testMeta(), [][]byte{seatJSON("host-user")}))

	idx, version, already, err := s.ClaimSeat(ctx, "room-1", "user-2", seatJSON("user-2"), 4)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, int64(2), version)
	assert.False(t, already)

	idx, version, already, err = s.ClaimSeat(ctx, "room-1", "user-3", seatJSON("user-3"), 4)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.Equal(t, int64(3), version)
	assert.False(t, already)
}

func TestClaimSeat_IdempotentRejoin(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRoom(ctx, testMeta(), [][]byte{seatJSON("host-user")}))

	idx1, v1, _, err := s.ClaimSeat(ctx, "room-1", "user-2", seatJSON("user-2"), 4)
	require.NoError(t, err)

	// Same user again: same seat, version bumped once more
	idx2, v2, already, err := s.ClaimSeat(ctx, "room-1", "user-2", seatJSON("user-2"), 4)
	require.NoError(t, err)
	assert.Equal(t, idx1, idx2)
	assert.Equal(t, v1+1, v2)
	assert.True(t, already)
}

func TestClaimSeat_RoomFull(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	meta := testMeta()
	meta.MaxPlayers = 2
	require.NoError(t, s.WriteRoom(ctx, meta, [][]byte{seatJSON("host-user"), seatJSON("user-2")}))

	_, _, _, err := s.ClaimSeat(ctx, "room-1", "user-3", seatJSON("user-3"), 2)
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestToggleSeatBool_Ready(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRoom(ctx, testMeta(), [][]byte{seatJSON("host-user")}))

	ready, v1, err := s.ToggleSeatBool(ctx, "room-1", 0, "ready")
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, int64(2), v1)

	ready, v2, err := s.ToggleSeatBool(ctx, "room-1", 0, "ready")
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Equal(t, v1+1, v2)
}

func TestToggleSeatBool_EmptySeat(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRoom(ctx, testMeta(), [][]byte{seatJSON("host-user")}))

	_, _, err := s.ToggleSeatBool(ctx, "room-1", 2, "ready")
	assert.ErrorIs(t, err, ErrSeatEmpty)
}

func TestSetSeatBool_Connected(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRoom(ctx, testMeta(), [][]byte{seatJSON("host-user")}))

	_, err := s.SetSeatBool(ctx, "room-1", 0, "connected", false)
	require.NoError(t, err)

	seats, err := s.ReadSeats(ctx, "room-1", 4)
	require.NoError(t, err)

	var seat map[string]interface{}
	require.NoError(t, json.Unmarshal(seats[0], &seat))
	assert.Equal(t, false, seat["connected"])
	assert.Equal(t, "host-user", seat["user_id"])
}

func TestClearSeat(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRoom(ctx, testMeta(), [][]byte{seatJSON("host-user"), seatJSON("user-2")}))

	version, err := s.ClearSeat(ctx, "room-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	seats, err := s.ReadSeats(ctx, "room-1", 4)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(seats[1]))
}

func TestDeleteRoom_RemovesAllKeys(t *testing.T) {
	s, mr := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRoom(ctx, testMeta(), [][]byte{seatJSON("host-user")}))
	require.NoError(t, s.PresenceAdd(ctx, "room-1", "host-user"))

	require.NoError(t, s.DeleteRoom(ctx, "room-1"))

	assert.False(t, mr.Exists("room:room-1:meta"))
	assert.False(t, mr.Exists("room:room-1:seats"))
	assert.False(t, mr.Exists("room:room-1:presence"))
}

func TestPresence_AddRemoveMembers(t *testing.T) {
	s, mr := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.PresenceAdd(ctx, "room-1", "user-1"))
	require.NoError(t, s.PresenceAdd(ctx, "room-1", "user-2"))

	members, err := s.PresenceMembers(ctx, "room-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, members)

	// TTL must be refreshed on write
	ttl := mr.TTL("room:room-1:presence")
	assert.Equal(t, presenceTTL, ttl)

	require.NoError(t, s.PresenceRemove(ctx, "room-1", "user-1"))
	members, err = s.PresenceMembers(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-2"}, members)
}

func TestConnCounter_DeletesAtZero(t *testing.T) {
	s, mr := newTestService(t)
	ctx := context.Background()

	count, err := s.ConnIncr(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = s.ConnIncr(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = s.ConnDecr(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = s.ConnDecr(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.False(t, mr.Exists("ws:user:user-1:conn_count"))
}

func TestConnDecr_NeverNegative(t *testing.T) {
	s, mr := newTestService(t)

	count, err := s.ConnDecr(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.False(t, mr.Exists("ws:user:user-1:conn_count"))
}

func TestGameState_RoundTrip(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRoom(ctx, testMeta(), nil))

	state, err := s.GetGameState(ctx, "room-1")
	require.NoError(t, err)
	assert.Nil(t, state)

	require.NoError(t, s.SetGameState(ctx, "room-1", []byte(`{"phase":"playing"}`)))

	state, err = s.GetGameState(ctx, "room-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"playing"}`, string(state))
}

func TestSetStatus_MirrorsStoreVersion(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRoom(ctx, testMeta(), nil))

	require.NoError(t, s.SetStatus(ctx, "room-1", "playing", 7))

	meta, err := s.ReadRoomMeta(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "playing", meta.Status)
	assert.Equal(t, int64(7), meta.Version)
}
