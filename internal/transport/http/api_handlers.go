package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quasarchat/quasar-server/internal/auth"
	"github.com/quasarchat/quasar-server/internal/store"
	"github.com/quasarchat/quasar-server/internal/voice"
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	authService *auth.Service
	voice       *voice.Registry
	directory   store.Directory
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, voiceReg *voice.Registry, directory store.Directory, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		voice:       voiceReg,
		directory:   directory,
		log:         logger,
	}
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Login validates credentials and issues the WebSocket access token.
// POST /api/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to login user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("username", req.Username).Msg("user logged in")
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// VoiceMembers returns the live participant list for a voice channel,
// straight from memory: presence display without an open connection.
// GET /api/channels/:id/voice/members
func (h *APIHandlers) VoiceMembers(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
		return
	}
	c.JSON(http.StatusOK, h.voice.Participants(channelID))
}

// ServerVoicePresence maps every occupied voice channel of a server to its
// participants.
// GET /api/servers/:id/voice-presence
func (h *APIHandlers) ServerVoicePresence(c *gin.Context) {
	serverID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "server not found"})
		return
	}

	channelIDs, err := h.directory.VoiceChannelIDs(c.Request.Context(), serverID)
	if err != nil {
		h.log.Error().Err(err).Stringer("server_id", serverID).Msg("voice channel lookup")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make(map[string][]voice.State)
	for _, id := range channelIDs {
		if participants := h.voice.Participants(id); len(participants) > 0 {
			out[id.String()] = participants
		}
	}
	c.JSON(http.StatusOK, out)
}
