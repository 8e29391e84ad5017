package http

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quasarchat/quasar-server/internal/core"
	"github.com/quasarchat/quasar-server/internal/presence"
	"github.com/quasarchat/quasar-server/internal/store"
	"github.com/quasarchat/quasar-server/internal/voice"
)

// Authenticator resolves a connection token (query parameter, since the
// transport cannot carry custom headers) to a user ID.
type Authenticator interface {
	Authenticate(token string) (uuid.UUID, error)
}

// WSHandlers bridges WebSocket connections to the broadcast registry, the
// voice registry and the presence coordinator.
type WSHandlers struct {
	registry  *core.Registry
	voice     *voice.Registry
	presence  *presence.Coordinator
	authn     Authenticator
	directory store.Directory
	heartbeat time.Duration
	log       *zerolog.Logger
}

// NewWSHandlers builds the WebSocket handler set.
func NewWSHandlers(
	registry *core.Registry,
	voiceReg *voice.Registry,
	coordinator *presence.Coordinator,
	authn Authenticator,
	directory store.Directory,
	heartbeat time.Duration,
	logger *zerolog.Logger,
) *WSHandlers {
	return &WSHandlers{
		registry:  registry,
		voice:     voiceReg,
		presence:  coordinator,
		authn:     authn,
		directory: directory,
		heartbeat: heartbeat,
		log:       logger,
	}
}

// accept upgrades the connection, then authenticates the token query
// parameter. Rejections close the socket with StatusInvalidToken; close
// codes are application-level, so the handshake completes first.
func (h *WSHandlers) accept(c *gin.Context) (*wsConn, uuid.UUID, bool) {
	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return nil, uuid.Nil, false
	}
	conn := &wsConn{ws: ws}

	userID, err := h.authn.Authenticate(c.Query("token"))
	if err != nil {
		_ = conn.Close(core.StatusInvalidToken, "invalid or expired token")
		return nil, uuid.Nil, false
	}
	return conn, userID, true
}

// ChannelWS subscribes to a text channel's events (message.*, reaction.*,
// typing).
// GET /ws/channels/:id?token=...
func (h *WSHandlers) ChannelWS(c *gin.Context) {
	conn, userID, ok := h.accept(c)
	if !ok {
		return
	}
	defer conn.ws.CloseNow()

	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		_ = conn.Close(core.StatusNotFound, "channel not found")
		return
	}

	room := core.ChannelRoom(channelID)
	h.registry.Join(room, conn)
	defer h.registry.Leave(room, conn)

	h.readLoop(c.Request.Context(), conn, loopOptions{
		userID:     userID,
		typingRoom: room,
		channelID:  channelID,
	})
	_ = conn.ws.Close(websocket.StatusNormalClosure, "closing")
}

// ServerWS subscribes to server-level events (membership, roles, voice
// occupancy). Membership is checked once at connect time.
// GET /ws/servers/:id?token=...
func (h *WSHandlers) ServerWS(c *gin.Context) {
	conn, userID, ok := h.accept(c)
	if !ok {
		return
	}
	defer conn.ws.CloseNow()

	serverID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		_ = conn.Close(core.StatusNotFound, "server not found")
		return
	}

	member, err := h.directory.IsServerMember(c.Request.Context(), serverID, userID)
	if err != nil {
		h.log.Error().Err(err).Stringer("server_id", serverID).Msg("membership lookup")
		_ = conn.ws.Close(websocket.StatusInternalError, "membership lookup failed")
		return
	}
	if !member {
		_ = conn.Close(core.StatusNotMember, "not a member of this server")
		return
	}

	room := core.ServerRoom(serverID)
	h.registry.Join(room, conn)
	defer h.registry.Leave(room, conn)

	h.readLoop(c.Request.Context(), conn, loopOptions{userID: userID})
	_ = conn.ws.Close(websocket.StatusNormalClosure, "closing")
}

// PersonalWS subscribes to a user's personal events (DMs, friend requests,
// status changes). Personal connections carry the heartbeat: a client that
// stays silent past the timeout is treated as disconnected. Cleanup and the
// presence transition run exactly once on every exit path.
// GET /ws/me?token=...
func (h *WSHandlers) PersonalWS(c *gin.Context) {
	conn, userID, ok := h.accept(c)
	if !ok {
		return
	}
	defer conn.ws.CloseNow()

	ctx := c.Request.Context()
	room := core.UserRoom(userID)

	h.registry.Join(room, conn)
	defer func() {
		// The request context dies with the connection; teardown still has
		// to reach the store and the remaining subscribers.
		cleanupCtx := context.WithoutCancel(ctx)
		h.registry.Leave(room, conn)
		h.presence.HandleDisconnect(cleanupCtx, userID)
	}()

	h.presence.HandleConnect(ctx, userID)

	h.readLoop(ctx, conn, loopOptions{
		userID:    userID,
		heartbeat: h.heartbeat,
	})
	_ = conn.ws.Close(websocket.StatusNormalClosure, "closing")
}

// loopOptions selects what a connection's receive loop reacts to.
type loopOptions struct {
	userID uuid.UUID
	// typingRoom, when set, re-broadcasts typing indicators to the room,
	// excluding the sender.
	typingRoom string
	channelID  uuid.UUID
	// heartbeat, when positive, bounds each read; expiry means disconnect.
	heartbeat time.Duration
}

// typingData is the payload of a re-broadcast typing indicator.
type typingData struct {
	UserID    uuid.UUID `json:"user_id"`
	ChannelID uuid.UUID `json:"channel_id"`
}

// readLoop drains inbound frames until the connection closes, errors, or the
// heartbeat lapses. Recognized control messages are ping and typing; anything
// else, malformed input included, is ignored without error.
func (h *WSHandlers) readLoop(ctx context.Context, conn *wsConn, opts loopOptions) {
	for {
		readCtx := ctx
		var cancel context.CancelFunc
		if opts.heartbeat > 0 {
			readCtx, cancel = context.WithTimeout(ctx, opts.heartbeat)
		}
		_, data, err := conn.ws.Read(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				h.log.Debug().Stringer("user_id", opts.userID).Msg("heartbeat timeout")
			}
			return
		}
		h.handleControl(ctx, conn, opts, data)
	}
}

func (h *WSHandlers) handleControl(ctx context.Context, conn *wsConn, opts loopOptions, data []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "ping":
		payload, err := core.NewEvent(core.EventPong, nil).Payload()
		if err != nil {
			return
		}
		if err := conn.Send(ctx, payload); err != nil {
			h.log.Debug().Err(err).Stringer("user_id", opts.userID).Msg("pong send failed")
		}
	case "typing":
		if opts.typingRoom == "" {
			return
		}
		h.registry.BroadcastExcept(ctx, opts.typingRoom, conn, core.NewEvent(core.EventTyping, typingData{
			UserID:    opts.userID,
			ChannelID: opts.channelID,
		}))
	}
}
