// Package httpapi exposes the REST surface: profile reads and writes plus
// room create/join for clients that set up a room before opening a socket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ludostacked/backend/internal/v1/auth"
	"github.com/ludostacked/backend/internal/v1/logging"
	"github.com/ludostacked/backend/internal/v1/room"
	"github.com/ludostacked/backend/internal/v1/store"
)

// ProfileStore is the slice of the durable store the profile endpoints need.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (store.Profile, error)
	UpdateProfile(ctx context.Context, userID string, update store.ProfileUpdate) (store.Profile, error)
}

// Handler serves the authenticated REST endpoints.
type Handler struct {
	rooms    *room.Service
	profiles ProfileStore
}

func NewHandler(rooms *room.Service, profiles ProfileStore) *Handler {
	return &Handler{rooms: rooms, profiles: profiles}
}

// RegisterRoutes mounts the API under /api/v1. Every route requires a
// verified token; roomsLimit additionally throttles the room mutations.
func (h *Handler) RegisterRoutes(r gin.IRouter, authRequired gin.HandlerFunc, roomsLimit gin.HandlerFunc) {
	api := r.Group("/api/v1", authRequired)

	api.GET("/auth/me", h.Me)
	api.GET("/profile", h.GetProfile)
	api.PATCH("/profile", h.UpdateProfile)

	roomsGroup := api.Group("/rooms")
	if roomsLimit != nil {
		roomsGroup.Use(roomsLimit)
	}
	roomsGroup.POST("", h.CreateRoom)
	roomsGroup.POST("/join", h.JoinRoom)
}

// Me echoes the verified token claims.
func (h *Handler) Me(c *gin.Context) {
	claims := auth.ClaimsFrom(c)
	c.JSON(http.StatusOK, gin.H{
		"user_id": claims.Subject,
		"email":   claims.Email,
		"role":    claims.Role,
	})
}

// GetProfile returns the caller's profile row.
func (h *Handler) GetProfile(c *gin.Context) {
	claims := auth.ClaimsFrom(c)

	profile, err := h.profiles.GetProfile(c.Request.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		logging.Error(c.Request.Context(), "profile read failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "profile store unavailable"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UpdateProfile patches the caller's display name or avatar.
func (h *Handler) UpdateProfile(c *gin.Context) {
	claims := auth.ClaimsFrom(c)

	var update store.ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if update.DisplayName == nil && update.AvatarURL == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	profile, err := h.profiles.UpdateProfile(c.Request.Context(), claims.Subject, update)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		logging.Error(c.Request.Context(), "profile update failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "profile store unavailable"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

type createRoomRequest struct {
	RequestID     string          `json:"request_id" binding:"required"`
	Visibility    string          `json:"visibility"`
	MaxPlayers    int             `json:"max_players"`
	RulesetID     string          `json:"ruleset_id"`
	RulesetConfig json.RawMessage `json:"ruleset_config"`
}

// CreateRoom creates a room over HTTP. Replays of the same request_id return
// 200 with the original room instead of 201.
func (h *Handler) CreateRoom(c *gin.Context) {
	claims := auth.ClaimsFrom(c)

	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request_id is required"})
		return
	}

	params := room.CreateParams{
		UserID:        claims.Subject,
		RequestID:     req.RequestID,
		Visibility:    req.Visibility,
		MaxPlayers:    req.MaxPlayers,
		RulesetID:     req.RulesetID,
		RulesetConfig: req.RulesetConfig,
	}

	// Public rooms go through matchmaking: join an open room or open one.
	var result *room.CreateResult
	var err error
	if req.Visibility == "public" {
		result, err = h.rooms.FindOrCreate(c.Request.Context(), params)
	} else {
		result, err = h.rooms.Create(c.Request.Context(), params)
	}
	if err != nil {
		h.roomError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Cached {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"room":       result.Snapshot,
		"seat_index": result.SeatIndex,
		"is_host":    result.IsHost,
	})
}

type joinRoomRequest struct {
	RoomID string `json:"room_id"`
	Code   string `json:"code"`
}

// JoinRoom joins by room id or code.
func (h *Handler) JoinRoom(c *gin.Context) {
	claims := auth.ClaimsFrom(c)

	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.RoomID == "" && req.Code == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id or code is required"})
		return
	}

	var result *room.JoinResult
	var err error
	if req.RoomID != "" {
		result, err = h.rooms.Join(c.Request.Context(), req.RoomID, claims.Subject)
	} else {
		result, err = h.rooms.JoinByCode(c.Request.Context(), req.Code, claims.Subject)
	}
	if err != nil {
		h.roomError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room":       result.Snapshot,
		"seat_index": result.SeatIndex,
	})
}

func (h *Handler) roomError(c *gin.Context, err error) {
	code := room.ErrorCode(err)
	status := http.StatusConflict
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, room.ErrInvalidParams):
		status = http.StatusBadRequest
	case code == "INTERNAL_ERROR":
		logging.Error(c.Request.Context(), "room operation failed", zap.Error(err))
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
