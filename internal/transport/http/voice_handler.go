package http

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quasarchat/quasar-server/internal/core"
	"github.com/quasarchat/quasar-server/internal/store"
	"github.com/quasarchat/quasar-server/internal/voice"
)

// voiceChannelEvent mirrors a voice join/leave into the owning server room so
// members not in the call can render channel occupancy.
type voiceChannelEvent struct {
	ChannelID   uuid.UUID    `json:"channel_id"`
	Participant *voice.State `json:"participant,omitempty"`
	UserID      *uuid.UUID   `json:"user_id,omitempty"`
}

// VoiceWS joins a voice channel: signaling relay plus state-change fan-out.
// Channel existence, kind and membership are verified once, before any
// registry state is created.
// GET /ws/voice/:id?token=...
func (h *WSHandlers) VoiceWS(c *gin.Context) {
	conn, userID, ok := h.accept(c)
	if !ok {
		return
	}
	defer conn.ws.CloseNow()

	ctx := c.Request.Context()

	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		_ = conn.Close(core.StatusNotFound, "channel not found")
		return
	}

	channel, err := h.directory.Channel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		_ = conn.Close(core.StatusNotFound, "channel not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Stringer("channel_id", channelID).Msg("channel lookup")
		_ = conn.ws.Close(websocket.StatusInternalError, "channel lookup failed")
		return
	}
	if channel.Kind != store.ChannelVoice {
		_ = conn.Close(core.StatusWrongKind, "channel is not a voice channel")
		return
	}

	member, err := h.directory.IsServerMember(ctx, channel.ServerID, userID)
	if err != nil {
		h.log.Error().Err(err).Stringer("server_id", channel.ServerID).Msg("membership lookup")
		_ = conn.ws.Close(websocket.StatusInternalError, "membership lookup failed")
		return
	}
	if !member {
		_ = conn.Close(core.StatusNotMember, "not a member of this server")
		return
	}

	serverRoom := core.ServerRoom(channel.ServerID)

	state := h.voice.Connect(ctx, channelID, userID, conn)
	h.registry.Broadcast(ctx, serverRoom, core.NewEvent(core.EventVoiceUserJoined, voiceChannelEvent{
		ChannelID:   channelID,
		Participant: &state,
	}))

	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		h.voice.Disconnect(cleanupCtx, channelID, userID)
		h.registry.Broadcast(cleanupCtx, serverRoom, core.NewEvent(core.EventVoiceUserLeft, voiceChannelEvent{
			ChannelID: channelID,
			UserID:    &userID,
		}))
	}()

	h.voiceLoop(ctx, conn, channelID, userID)
	_ = conn.ws.Close(websocket.StatusNormalClosure, "closing")
}

// voiceLoop dispatches inbound voice messages: the three signaling kinds are
// relayed verbatim to one peer, the four state kinds are broadcast to the
// room, and everything else is ignored without error.
func (h *WSHandlers) voiceLoop(ctx context.Context, conn *wsConn, channelID, userID uuid.UUID) {
	for {
		_, data, err := conn.ws.Read(ctx)
		if err != nil {
			return
		}

		var msg map[string]json.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		var msgType string
		if err := json.Unmarshal(msg["type"], &msgType); err != nil {
			continue
		}

		switch msgType {
		case "offer", "answer", "ice_candidate":
			var to uuid.UUID
			if err := json.Unmarshal(msg["to"], &to); err != nil {
				continue
			}
			h.voice.Relay(ctx, channelID, userID, to, msg)

		case "mute":
			if val, ok := boolField(msg, "is_muted"); ok {
				h.voice.UpdateState(ctx, channelID, userID, voice.StateUpdate{IsMuted: &val})
			}
		case "deafen":
			if val, ok := boolField(msg, "is_deafened"); ok {
				h.voice.UpdateState(ctx, channelID, userID, voice.StateUpdate{IsDeafened: &val})
			}
		case "screen_share":
			if val, ok := boolField(msg, "enabled"); ok {
				h.voice.UpdateState(ctx, channelID, userID, voice.StateUpdate{IsSharingScreen: &val})
			}
		case "webcam":
			if val, ok := boolField(msg, "enabled"); ok {
				h.voice.UpdateState(ctx, channelID, userID, voice.StateUpdate{IsSharingWebcam: &val})
			}
		}
	}
}

func boolField(msg map[string]json.RawMessage, key string) (bool, bool) {
	raw, ok := msg[key]
	if !ok {
		return false, false
	}
	var val bool
	if err := json.Unmarshal(raw, &val); err != nil {
		return false, false
	}
	return val, true
}
