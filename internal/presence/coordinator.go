package presence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quasarchat/quasar-server/internal/core"
)

// Status is a user's externally visible state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusDND     Status = "dnd"
	StatusOffline Status = "offline"
)

// StatusStore is the durable side of presence. The coordinator reads and
// writes it only at connect/disconnect edges, never per message.
type StatusStore interface {
	// VisibleStatus is the status currently shown to other users.
	VisibleStatus(ctx context.Context, userID uuid.UUID) (Status, error)
	SetVisibleStatus(ctx context.Context, userID uuid.UUID, status Status) error
	// PreferredStatus is the status the user last chose. Preferring offline
	// is invisible mode.
	PreferredStatus(ctx context.Context, userID uuid.UUID) (Status, error)
	// HideStatus reports whether the user suppresses outward visibility
	// entirely; observers then always see offline.
	HideStatus(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Roster resolves who must learn about a user's status change: every server
// the user belongs to and every accepted friend.
type Roster interface {
	ServerIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	FriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// StatusChange is the payload of a user.status_changed event.
type StatusChange struct {
	UserID uuid.UUID `json:"user_id"`
	Status Status    `json:"status"`
}

// Coordinator reconciles a user's durable status with the liveness of their
// personal connections.
type Coordinator struct {
	registry *core.Registry
	store    StatusStore
	roster   Roster
	log      *zerolog.Logger
}

// NewCoordinator wires the coordinator to the broadcast registry and its
// external collaborators.
func NewCoordinator(registry *core.Registry, store StatusStore, roster Roster, logger *zerolog.Logger) *Coordinator {
	return &Coordinator{
		registry: registry,
		store:    store,
		roster:   roster,
		log:      logger,
	}
}

// HandleConnect runs after a personal connection joins the user's room.
// The first connection restores the preferred status, unless that preference
// is offline (invisible mode), which restores nothing and tells no one.
func (c *Coordinator) HandleConnect(ctx context.Context, userID uuid.UUID) {
	visible, err := c.store.VisibleStatus(ctx, userID)
	if err != nil {
		c.log.Error().Err(err).Stringer("user_id", userID).Msg("read visible status")
		return
	}
	if visible != StatusOffline {
		// Another device is already online; nothing to restore.
		return
	}

	preferred, err := c.store.PreferredStatus(ctx, userID)
	if err != nil {
		c.log.Error().Err(err).Stringer("user_id", userID).Msg("read preferred status")
		return
	}
	if preferred == StatusOffline {
		return
	}

	if err := c.store.SetVisibleStatus(ctx, userID, preferred); err != nil {
		c.log.Error().Err(err).Stringer("user_id", userID).Msg("restore status")
		return
	}
	c.broadcastChange(ctx, userID, preferred)
}

// HandleDisconnect runs after a personal connection leaves the user's room,
// whether by close or heartbeat timeout. The membership check is against the
// live registry, so a near-simultaneous reconnect on another device keeps the
// user online.
func (c *Coordinator) HandleDisconnect(ctx context.Context, userID uuid.UUID) {
	if c.registry.RoomSize(core.UserRoom(userID)) > 0 {
		return
	}

	visible, err := c.store.VisibleStatus(ctx, userID)
	if err != nil {
		c.log.Error().Err(err).Stringer("user_id", userID).Msg("read visible status")
		return
	}
	if visible == StatusOffline {
		return
	}

	// The durable preferred status is untouched here; only an explicit user
	// action changes it, so a later reconnect restores the prior choice.
	if err := c.store.SetVisibleStatus(ctx, userID, StatusOffline); err != nil {
		c.log.Error().Err(err).Stringer("user_id", userID).Msg("set offline")
		return
	}
	c.broadcastChange(ctx, userID, StatusOffline)
}

// broadcastChange tells the user's own connections about the new status, then
// fans the event out to server rooms and friends' personal rooms with a
// single serialization. Outward fan-out is suppressed when the hide flag is
// set: observers see offline no matter what the true status is.
func (c *Coordinator) broadcastChange(ctx context.Context, userID uuid.UUID, status Status) {
	ev := core.NewEvent(core.EventStatusChanged, StatusChange{UserID: userID, Status: status})

	c.registry.Broadcast(ctx, core.UserRoom(userID), ev)

	hidden, err := c.store.HideStatus(ctx, userID)
	if err != nil {
		c.log.Error().Err(err).Stringer("user_id", userID).Msg("read hide flag")
		return
	}
	if hidden {
		return
	}

	rooms, err := c.outwardRooms(ctx, userID)
	if err != nil {
		c.log.Error().Err(err).Stringer("user_id", userID).Msg("resolve presence audience")
		return
	}
	c.registry.BroadcastToMany(ctx, rooms, ev)

	c.log.Debug().
		Stringer("user_id", userID).
		Str("status", string(status)).
		Int("rooms", len(rooms)).
		Msg("presence broadcast")
}

func (c *Coordinator) outwardRooms(ctx context.Context, userID uuid.UUID) ([]string, error) {
	serverIDs, err := c.roster.ServerIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("server ids: %w", err)
	}
	friendIDs, err := c.roster.FriendIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("friend ids: %w", err)
	}

	rooms := make([]string, 0, len(serverIDs)+len(friendIDs))
	for _, id := range serverIDs {
		rooms = append(rooms, core.ServerRoom(id))
	}
	for _, id := range friendIDs {
		rooms = append(rooms, core.UserRoom(id))
	}
	return rooms, nil
}
