package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/ludostacked/backend/internal/v1/game"
	"github.com/ludostacked/backend/internal/v1/logging"
	"github.com/ludostacked/backend/internal/v1/metrics"
	"github.com/ludostacked/backend/internal/v1/room"
)

// ConnectGate lets the endpoint consult connect rate limits before upgrading.
type ConnectGate interface {
	CheckWebSocket(c *gin.Context) bool
}

// Endpoint upgrades websocket requests and runs the per-connection read loop.
// The upgrade is accept-first: authentication happens in-band afterwards, with
// a timer closing connections that never authenticate.
type Endpoint struct {
	manager  *Manager
	registry *Registry
	rooms    *room.Service
	engine   *game.Engine

	connectGate ConnectGate
	msgLimiter  *limiter.Limiter
	authTimeout time.Duration
	upgrader    websocket.Upgrader
}

// NewEndpoint wires the websocket endpoint. connectGate may be nil.
func NewEndpoint(manager *Manager, registry *Registry, rooms *room.Service, engine *game.Engine, connectGate ConnectGate, allowedOrigins []string, authTimeout time.Duration) *Endpoint {
	return &Endpoint{
		manager:  manager,
		registry: registry,
		rooms:    rooms,
		engine:   engine,

		connectGate: connectGate,
		msgLimiter: limiter.New(memory.NewStore(), limiter.Rate{
			Period: time.Second,
			Limit:  messagesPerWindow,
		}),
		authTimeout: authTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
			WriteBufferPool: &sync.Pool{
				New: func() any { return make([]byte, 4096) },
			},
		},
	}
}

// originChecker matches scheme and host against the allow list. Requests
// without an Origin header (non-browser clients) pass.
func originChecker(allowedOrigins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, allowed := range allowedOrigins {
			allowedURL, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
				return true
			}
		}
		return false
	}
}

// ServeWs handles GET /ws.
func (e *Endpoint) ServeWs(c *gin.Context) {
	if e.connectGate != nil && !e.connectGate.CheckWebSocket(c) {
		return
	}

	socket, err := e.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	conn := e.manager.Register(socket)
	go conn.writePump(e.manager.heartbeatInterval)

	_ = e.manager.SendToConnection(conn.ID, &ServerMessage{
		Type:    TypeConnected,
		Payload: map[string]string{"connection_id": conn.ID},
	})

	authTimer := time.AfterFunc(e.authTimeout, func() {
		if conn.UserID() == "" {
			logging.Info(context.Background(), "closing unauthenticated connection",
				zap.String("connection_id", conn.ID))
			e.manager.Disconnect(context.Background(), conn.ID, CloseAuthTimeout, "authentication timeout")
		}
	})

	go e.readLoop(conn, authTimer)
}

func (e *Endpoint) readLoop(conn *Conn, authTimer *time.Timer) {
	defer func() {
		authTimer.Stop()
		e.manager.Disconnect(context.Background(), conn.ID, websocketGoingAway, "connection closed")
	}()

	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		conn.touch()

		// Gates answer in-band and drop the frame; the connection stays up.
		if len(data) > maxFrameBytes {
			e.reply(conn, errorMessage(TypeError, "", "MESSAGE_TOO_LARGE", "message exceeds 65536 bytes"))
			continue
		}

		if messageType == websocket.BinaryMessage && !utf8.Valid(data) {
			e.reply(conn, errorMessage(TypeError, "", "INVALID_MESSAGE", "binary frames must carry UTF-8 JSON"))
			continue
		}

		if e.overMessageRate(conn) {
			metrics.RateLimitExceeded.WithLabelValues("websocket_message", "connection").Inc()
			e.reply(conn, errorMessage(TypeError, "", "RATE_LIMITED", "too many messages, slow down"))
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			e.reply(conn, errorMessage(TypeError, "", "INVALID_JSON", "malformed JSON"))
			continue
		}
		if !knownTypes[msg.Type] {
			e.reply(conn, errorMessage(TypeError, msg.RequestID, "INVALID_MESSAGE", "unknown message type"))
			continue
		}

		handler := e.registry.Lookup(msg.Type)
		if handler == nil {
			logging.Info(context.Background(), "ignoring unhandled message type",
				zap.String("connection_id", conn.ID), zap.String("type", string(msg.Type)))
			continue
		}

		userID := conn.UserID()
		if userID == "" && msg.Type != TypeAuthenticate && msg.Type != TypePing {
			e.reply(conn, errorMessage(TypeError, msg.RequestID, "AUTH_FAILED", "authenticate first"))
			continue
		}

		if done := e.dispatch(conn, userID, msg); done {
			return
		}
	}
}

func (e *Endpoint) dispatch(conn *Conn, userID string, msg ClientMessage) (closed bool) {
	start := time.Now()

	ctx := context.WithValue(context.Background(), logging.ConnectionIDKey, conn.ID)
	if userID != "" {
		ctx = context.WithValue(ctx, logging.UserIDKey, userID)
	}

	result, err := e.registry.Lookup(msg.Type)(ctx, &HandlerContext{
		ConnID:  conn.ID,
		UserID:  userID,
		Msg:     msg,
		Manager: e.manager,
		Rooms:   e.rooms,
		Engine:  e.engine,
	})

	status := "success"
	if err != nil {
		status = "error"
		logging.Error(ctx, "handler failed", zap.String("type", string(msg.Type)), zap.Error(err))
		e.reply(conn, errorMessage(TypeError, msg.RequestID, "INTERNAL_ERROR", "something went wrong"))
	}
	metrics.MessagesProcessed.WithLabelValues(string(msg.Type), status).Inc()
	metrics.MessageProcessingDuration.WithLabelValues(string(msg.Type)).Observe(time.Since(start).Seconds())
	if err != nil {
		return false
	}

	if result.Reply != nil {
		e.reply(conn, result.Reply)
	}
	if result.Broadcast != nil && result.RoomID != "" {
		exclude := ""
		if result.ExcludeSelf {
			exclude = conn.ID
		}
		e.manager.SendToRoom(result.RoomID, result.Broadcast, exclude)
	}
	if result.CloseCode != 0 {
		e.manager.Disconnect(ctx, conn.ID, result.CloseCode, result.CloseReason)
		return true
	}
	return false
}

func (e *Endpoint) overMessageRate(conn *Conn) bool {
	lctx, err := e.msgLimiter.Get(context.Background(), conn.ID)
	if err != nil {
		// Fail open: the in-memory store should never error.
		return false
	}
	return lctx.Reached
}

func (e *Endpoint) reply(conn *Conn, msg *ServerMessage) {
	if err := e.manager.SendToConnection(conn.ID, msg); err != nil &&
		!errors.Is(err, ErrConnNotFound) {
		logging.Warn(context.Background(), "reply failed", zap.String("connection_id", conn.ID), zap.Error(err))
	}
}
