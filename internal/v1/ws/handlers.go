package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ludostacked/backend/internal/v1/auth"
	"github.com/ludostacked/backend/internal/v1/game"
	"github.com/ludostacked/backend/internal/v1/logging"
	"github.com/ludostacked/backend/internal/v1/metrics"
	"github.com/ludostacked/backend/internal/v1/room"
)

// DefaultRegistry wires the production handler set.
func DefaultRegistry(verifier auth.TokenVerifier) *Registry {
	r := NewRegistry()
	r.Register(TypeAuthenticate, authenticateHandler(verifier))
	r.Register(TypePing, pingHandler)
	r.Register(TypeCreateRoom, createRoomHandler)
	r.Register(TypeJoinRoom, joinRoomHandler)
	r.Register(TypeToggleReady, toggleReadyHandler)
	r.Register(TypeLeaveRoom, leaveRoomHandler)
	r.Register(TypeStartGame, startGameHandler)
	r.Register(TypeGameAction, gameActionHandler)
	return r
}

type authenticatePayload struct {
	Token string `json:"token"`
}

type roomPayload struct {
	RoomID string `json:"room_id"`
}

type createRoomPayload struct {
	Visibility    string          `json:"visibility,omitempty"`
	MaxPlayers    int             `json:"max_players"`
	RulesetID     string          `json:"ruleset_id,omitempty"`
	RulesetConfig json.RawMessage `json:"ruleset_config,omitempty"`
}

type joinRoomPayload struct {
	RoomID string `json:"room_id,omitempty"`
	Code   string `json:"code,omitempty"`
}

type gameActionPayload struct {
	RoomID string      `json:"room_id"`
	Action game.Action `json:"action"`
}

func authenticateHandler(verifier auth.TokenVerifier) HandlerFunc {
	return func(ctx context.Context, hc *HandlerContext) (HandlerResult, error) {
		if hc.UserID != "" {
			return HandlerResult{
				Reply: errorMessage(TypeError, hc.Msg.RequestID, "ALREADY_AUTHENTICATED", "connection is already authenticated"),
			}, nil
		}

		var p authenticatePayload
		if err := json.Unmarshal(hc.Msg.Payload, &p); err != nil {
			return HandlerResult{
				Reply: errorMessage(TypeError, hc.Msg.RequestID, "VALIDATION_ERROR", "authenticate payload malformed"),
			}, nil
		}

		// A failed verify is answered in-band and the socket stays open: the
		// client may retry with a fresh token until the auth timer fires.
		claims, err := verifier.Verify(p.Token)
		if err != nil {
			reason := auth.ReasonOf(err)
			metrics.AuthFailures.WithLabelValues(string(reason)).Inc()

			code := "AUTH_FAILED"
			if reason == auth.FailureExpired {
				code = "AUTH_EXPIRED"
			}
			return HandlerResult{
				Reply: errorMessage(TypeError, hc.Msg.RequestID, code, "token rejected: "+string(reason)),
			}, nil
		}

		if err := hc.Manager.Authenticate(ctx, hc.ConnID, claims.Subject); err != nil {
			if errors.Is(err, ErrAlreadyAuthenticated) {
				return HandlerResult{
					Reply: errorMessage(TypeError, hc.Msg.RequestID, "ALREADY_AUTHENTICATED", "connection is already authenticated"),
				}, nil
			}
			return HandlerResult{}, err
		}

		logging.Info(ctx, "connection authenticated", zap.String("connection_id", hc.ConnID))
		return HandlerResult{
			Reply: &ServerMessage{
				Type:      TypeAuthenticated,
				RequestID: hc.Msg.RequestID,
				Payload: map[string]string{
					"user_id":       claims.Subject,
					"connection_id": hc.ConnID,
				},
			},
		}, nil
	}
}

func pingHandler(_ context.Context, hc *HandlerContext) (HandlerResult, error) {
	hc.Manager.Heartbeat(hc.ConnID)
	return HandlerResult{
		Reply: &ServerMessage{
			Type:      TypePong,
			RequestID: hc.Msg.RequestID,
			Payload:   map[string]int64{"ts": time.Now().UnixMilli()},
		},
	}, nil
}

func createRoomHandler(ctx context.Context, hc *HandlerContext) (HandlerResult, error) {
	if hc.Msg.RequestID == "" {
		return HandlerResult{
			Reply: errorMessage(TypeCreateRoomError, "", "VALIDATION_ERROR", "create_room needs a request_id"),
		}, nil
	}

	var p createRoomPayload
	if err := json.Unmarshal(hc.Msg.Payload, &p); err != nil {
		return HandlerResult{
			Reply: errorMessage(TypeCreateRoomError, hc.Msg.RequestID, "VALIDATION_ERROR", "create_room payload malformed"),
		}, nil
	}

	params := room.CreateParams{
		UserID:        hc.UserID,
		RequestID:     hc.Msg.RequestID,
		Visibility:    p.Visibility,
		MaxPlayers:    p.MaxPlayers,
		RulesetID:     p.RulesetID,
		RulesetConfig: p.RulesetConfig,
	}

	// Public rooms go through matchmaking: join an open room or open one.
	var res *room.CreateResult
	var err error
	if p.Visibility == "public" {
		res, err = hc.Rooms.FindOrCreate(ctx, params)
	} else {
		res, err = hc.Rooms.Create(ctx, params)
	}
	if err != nil {
		return HandlerResult{
			Reply: errorMessage(TypeCreateRoomError, hc.Msg.RequestID, room.ErrorCode(err), err.Error()),
		}, nil
	}

	if err := hc.Manager.SubscribeToRoom(hc.ConnID, res.Snapshot.ID); err != nil {
		return HandlerResult{}, err
	}
	return HandlerResult{
		Reply: &ServerMessage{
			Type:      TypeCreateRoomOK,
			RequestID: hc.Msg.RequestID,
			Payload: map[string]any{
				"room":       res.Snapshot,
				"seat_index": res.SeatIndex,
				"is_host":    res.IsHost,
				"cached":     res.Cached,
			},
		},
	}, nil
}

func joinRoomHandler(ctx context.Context, hc *HandlerContext) (HandlerResult, error) {
	if hc.Msg.RequestID == "" {
		return HandlerResult{
			Reply: errorMessage(TypeJoinRoomError, "", "VALIDATION_ERROR", "join_room needs a request_id"),
		}, nil
	}

	var p joinRoomPayload
	if err := json.Unmarshal(hc.Msg.Payload, &p); err != nil || (p.RoomID == "" && p.Code == "") {
		return HandlerResult{
			Reply: errorMessage(TypeJoinRoomError, hc.Msg.RequestID, "VALIDATION_ERROR", "join_room needs a room_id or code"),
		}, nil
	}

	var res *room.JoinResult
	var err error
	if p.RoomID != "" {
		res, err = hc.Rooms.Join(ctx, p.RoomID, hc.UserID)
	} else {
		res, err = hc.Rooms.JoinByCode(ctx, p.Code, hc.UserID)
	}
	if err != nil {
		return HandlerResult{
			Reply: errorMessage(TypeJoinRoomError, hc.Msg.RequestID, room.ErrorCode(err), err.Error()),
		}, nil
	}

	if err := hc.Manager.SubscribeToRoom(hc.ConnID, res.Snapshot.ID); err != nil {
		return HandlerResult{}, err
	}
	return HandlerResult{
		Reply: &ServerMessage{
			Type:      TypeJoinRoomOK,
			RequestID: hc.Msg.RequestID,
			Payload: map[string]any{
				"room":           res.Snapshot,
				"seat_index":     res.SeatIndex,
				"already_seated": res.AlreadySeated,
			},
		},
		Broadcast:   &ServerMessage{Type: TypeRoomUpdated, Payload: map[string]any{"room": res.Snapshot}},
		RoomID:      res.Snapshot.ID,
		ExcludeSelf: true,
	}, nil
}

func toggleReadyHandler(ctx context.Context, hc *HandlerContext) (HandlerResult, error) {
	var p roomPayload
	if err := json.Unmarshal(hc.Msg.Payload, &p); err != nil || p.RoomID == "" {
		return HandlerResult{
			Reply: errorMessage(TypeError, hc.Msg.RequestID, "VALIDATION_ERROR", "toggle_ready needs a room_id"),
		}, nil
	}

	snap, err := hc.Rooms.ToggleReady(ctx, p.RoomID, hc.UserID)
	if err != nil {
		return HandlerResult{
			Reply: errorMessage(TypeError, hc.Msg.RequestID, room.ErrorCode(err), err.Error()),
		}, nil
	}

	update := &ServerMessage{Type: TypeRoomUpdated, Payload: map[string]any{"room": snap}}
	return HandlerResult{
		Reply:       &ServerMessage{Type: TypeRoomUpdated, RequestID: hc.Msg.RequestID, Payload: map[string]any{"room": snap}},
		Broadcast:   update,
		RoomID:      snap.ID,
		ExcludeSelf: true,
	}, nil
}

func leaveRoomHandler(ctx context.Context, hc *HandlerContext) (HandlerResult, error) {
	var p roomPayload
	if err := json.Unmarshal(hc.Msg.Payload, &p); err != nil || p.RoomID == "" {
		return HandlerResult{
			Reply: errorMessage(TypeError, hc.Msg.RequestID, "VALIDATION_ERROR", "leave_room needs a room_id"),
		}, nil
	}

	res, err := hc.Rooms.Leave(ctx, p.RoomID, hc.UserID)
	if err != nil {
		return HandlerResult{
			Reply: errorMessage(TypeError, hc.Msg.RequestID, room.ErrorCode(err), err.Error()),
		}, nil
	}

	defer hc.Manager.UnsubscribeFromRoom(hc.ConnID)

	if res.Closed {
		payload := map[string]string{"room_id": p.RoomID, "reason": "host_left"}
		closed := &ServerMessage{Type: TypeRoomClosed, Payload: payload}
		return HandlerResult{
			Reply:       &ServerMessage{Type: TypeRoomClosed, RequestID: hc.Msg.RequestID, Payload: payload},
			Broadcast:   closed,
			RoomID:      p.RoomID,
			ExcludeSelf: true,
		}, nil
	}

	update := &ServerMessage{Type: TypeRoomUpdated, Payload: map[string]any{"room": res.Snapshot}}
	return HandlerResult{
		Reply:       &ServerMessage{Type: TypeRoomUpdated, RequestID: hc.Msg.RequestID, Payload: map[string]any{"room": res.Snapshot}},
		Broadcast:   update,
		RoomID:      p.RoomID,
		ExcludeSelf: true,
	}, nil
}

func startGameHandler(ctx context.Context, hc *HandlerContext) (HandlerResult, error) {
	var p roomPayload
	if err := json.Unmarshal(hc.Msg.Payload, &p); err != nil || p.RoomID == "" {
		return HandlerResult{
			Reply: errorMessage(TypeError, hc.Msg.RequestID, "VALIDATION_ERROR", "start_game needs a room_id"),
		}, nil
	}

	snap, state, events, err := hc.Rooms.StartGame(ctx, p.RoomID, hc.UserID)
	if err != nil {
		return HandlerResult{
			Reply: errorMessage(TypeError, hc.Msg.RequestID, room.ErrorCode(err), err.Error()),
		}, nil
	}

	started := &ServerMessage{
		Type:    TypeGameStarted,
		Payload: map[string]any{"room": snap, "state": state, "events": events},
	}
	return HandlerResult{
		Reply:     &ServerMessage{Type: TypeGameStarted, RequestID: hc.Msg.RequestID, Payload: map[string]any{"room": snap, "state": state, "events": events}},
		Broadcast: started,
		RoomID:    p.RoomID,
		// The starter gets the correlated reply; everyone else the broadcast.
		ExcludeSelf: true,
	}, nil
}

func gameActionHandler(ctx context.Context, hc *HandlerContext) (HandlerResult, error) {
	var p gameActionPayload
	if err := json.Unmarshal(hc.Msg.Payload, &p); err != nil || p.RoomID == "" {
		return HandlerResult{
			Reply: errorMessage(TypeGameError, hc.Msg.RequestID, "VALIDATION_ERROR", "game_action needs a room_id and action"),
		}, nil
	}

	state, err := hc.Rooms.GameState(ctx, p.RoomID)
	if err != nil {
		return HandlerResult{}, err
	}
	if state == nil {
		metrics.GameActions.WithLabelValues(string(p.Action.Type), "error").Inc()
		return HandlerResult{
			Reply: errorMessage(TypeGameError, hc.Msg.RequestID, game.ErrCodeGameNotStarted, "no game running in this room"),
		}, nil
	}

	result := hc.Engine.Process(state, p.Action, hc.UserID)
	if !result.Success {
		metrics.GameActions.WithLabelValues(string(p.Action.Type), "rejected").Inc()
		return HandlerResult{
			Reply: errorMessage(TypeGameError, hc.Msg.RequestID, result.ErrorCode, result.ErrorMessage),
		}, nil
	}

	if err := hc.Rooms.SaveGameState(ctx, p.RoomID, result.State); err != nil {
		return HandlerResult{}, err
	}
	metrics.GameActions.WithLabelValues(string(p.Action.Type), "success").Inc()

	if result.State.Phase == game.PhaseFinished {
		if err := hc.Rooms.FinishGame(ctx, p.RoomID); err != nil {
			logging.Warn(ctx, "finish transition failed", zap.String("room_id", p.RoomID), zap.Error(err))
		}
	}

	return HandlerResult{
		Reply: &ServerMessage{
			Type:      TypeGameState,
			RequestID: hc.Msg.RequestID,
			Payload:   map[string]any{"room_id": p.RoomID, "state": result.State},
		},
		Broadcast: &ServerMessage{
			Type:    TypeGameEvents,
			Payload: map[string]any{"room_id": p.RoomID, "events": result.Events},
		},
		RoomID: p.RoomID,
	}, nil
}
