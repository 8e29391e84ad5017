package voice

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quasarchat/quasar-server/internal/core"
)

// Participant is a user's ephemeral membership in a voice channel. It exists
// only while the connection is open and is never persisted: voice presence
// resets on process restart.
type Participant struct {
	UserID          uuid.UUID
	Conn            core.Conn
	IsMuted         bool
	IsDeafened      bool
	IsSharingScreen bool
	IsSharingWebcam bool
}

// State is the wire representation of a participant.
type State struct {
	UserID          uuid.UUID `json:"user_id"`
	IsMuted         bool      `json:"is_muted"`
	IsDeafened      bool      `json:"is_deafened"`
	IsSharingScreen bool      `json:"is_sharing_screen"`
	IsSharingWebcam bool      `json:"is_sharing_webcam"`
}

func (p *Participant) state() State {
	return State{
		UserID:          p.UserID,
		IsMuted:         p.IsMuted,
		IsDeafened:      p.IsDeafened,
		IsSharingScreen: p.IsSharingScreen,
		IsSharingWebcam: p.IsSharingWebcam,
	}
}

// StateUpdate carries the flags present in a partial state-change message.
// Nil fields are left untouched.
type StateUpdate struct {
	IsMuted         *bool
	IsDeafened      *bool
	IsSharingScreen *bool
	IsSharingWebcam *bool
}

// Registry tracks who is present in each voice channel and relays signaling
// between participants. Mutation is guarded by one mutex; broadcasts send on
// a snapshot taken under the lock, never while holding it.
type Registry struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]map[uuid.UUID]*Participant
	log   *zerolog.Logger
}

// NewRegistry constructs an empty voice registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		rooms: make(map[uuid.UUID]map[uuid.UUID]*Participant),
		log:   logger,
	}
}

// Connect registers a participant with default flags, sends the joiner the
// full current member list (including itself) and announces the join to
// everyone else in the channel. Returns the newcomer's state for mirroring
// to the owning server room.
func (r *Registry) Connect(ctx context.Context, channelID, userID uuid.UUID, conn core.Conn) State {
	p := &Participant{UserID: userID, Conn: conn}

	r.mu.Lock()
	room, ok := r.rooms[channelID]
	if !ok {
		room = make(map[uuid.UUID]*Participant)
		r.rooms[channelID] = room
	}
	room[userID] = p
	members := make([]State, 0, len(room))
	for _, other := range room {
		members = append(members, other.state())
	}
	r.mu.Unlock()

	r.log.Debug().Stringer("channel_id", channelID).Stringer("user_id", userID).Msg("voice joined")

	r.send(ctx, conn, core.NewEvent(core.EventVoiceMembers, members))
	r.broadcast(ctx, channelID, userID, core.NewEvent(core.EventVoiceUserJoined, p.state()))
	return p.state()
}

// Disconnect removes the participant and announces the departure to everyone
// still in the channel. The room itself is dropped once empty.
func (r *Registry) Disconnect(ctx context.Context, channelID, userID uuid.UUID) {
	r.mu.Lock()
	if room, ok := r.rooms[channelID]; ok {
		delete(room, userID)
		if len(room) == 0 {
			delete(r.rooms, channelID)
		}
	}
	r.mu.Unlock()

	r.log.Debug().Stringer("channel_id", channelID).Stringer("user_id", userID).Msg("voice left")

	r.broadcast(ctx, channelID, uuid.Nil, core.NewEvent(core.EventVoiceUserLeft, map[string]uuid.UUID{
		"user_id": userID,
	}))
}

// UpdateState applies the flags present in upd and broadcasts the
// participant's full state to every participant, the actor included, so all
// of a user's devices converge.
func (r *Registry) UpdateState(ctx context.Context, channelID, userID uuid.UUID, upd StateUpdate) {
	r.mu.Lock()
	p, ok := r.rooms[channelID][userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if upd.IsMuted != nil {
		p.IsMuted = *upd.IsMuted
	}
	if upd.IsDeafened != nil {
		p.IsDeafened = *upd.IsDeafened
	}
	if upd.IsSharingScreen != nil {
		p.IsSharingScreen = *upd.IsSharingScreen
	}
	if upd.IsSharingWebcam != nil {
		p.IsSharingWebcam = *upd.IsSharingWebcam
	}
	st := p.state()
	r.mu.Unlock()

	r.broadcast(ctx, channelID, uuid.Nil, core.NewEvent(core.EventVoiceStateChanged, st))
}

// Relay forwards a signaling payload (offer, answer, ICE candidate) to one
// named peer in the same channel. The sender identity is attached
// server-side; a client-supplied "from" is overwritten. A missing peer is an
// expected race with disconnect and is silently dropped.
func (r *Registry) Relay(ctx context.Context, channelID, fromUser, toUser uuid.UUID, payload map[string]json.RawMessage) {
	r.mu.Lock()
	target, ok := r.rooms[channelID][toUser]
	r.mu.Unlock()
	if !ok {
		return
	}

	from, err := json.Marshal(fromUser)
	if err != nil {
		return
	}
	forwarded := make(map[string]json.RawMessage, len(payload)+1)
	for k, v := range payload {
		forwarded[k] = v
	}
	forwarded["from"] = from

	buf, err := json.Marshal(forwarded)
	if err != nil {
		r.log.Error().Err(err).Msg("encode relay payload")
		return
	}
	if err := target.Conn.Send(ctx, buf); err != nil {
		r.log.Debug().Err(err).Stringer("to", toUser).Msg("relay send failed")
	}
}

// Participants returns a snapshot of the channel's current members, for REST
// presence queries that have no open connection.
func (r *Registry) Participants(channelID uuid.UUID) []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[channelID]
	out := make([]State, 0, len(room))
	for _, p := range room {
		out = append(out, p.state())
	}
	return out
}

// ActiveChannels lists every voice channel with at least one participant.
func (r *Registry) ActiveChannels() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]uuid.UUID, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	return out
}

// send delivers one event to a single connection, best effort.
func (r *Registry) send(ctx context.Context, conn core.Conn, ev *core.Event) {
	payload, err := ev.Payload()
	if err != nil {
		r.log.Error().Err(err).Str("event", string(ev.Type)).Msg("encode event")
		return
	}
	if err := conn.Send(ctx, payload); err != nil {
		r.log.Debug().Err(err).Str("event", string(ev.Type)).Msg("voice send failed")
	}
}

// broadcast delivers ev to every participant in the channel except skipUser
// (uuid.Nil to include everyone). The event is encoded once for the room.
func (r *Registry) broadcast(ctx context.Context, channelID, skipUser uuid.UUID, ev *core.Event) {
	r.mu.Lock()
	room := r.rooms[channelID]
	conns := make([]core.Conn, 0, len(room))
	for uid, p := range room {
		if uid == skipUser {
			continue
		}
		conns = append(conns, p.Conn)
	}
	r.mu.Unlock()

	payload, err := ev.Payload()
	if err != nil {
		r.log.Error().Err(err).Str("event", string(ev.Type)).Msg("encode event")
		return
	}
	for _, conn := range conns {
		if err := conn.Send(ctx, payload); err != nil {
			r.log.Debug().Err(err).Str("event", string(ev.Type)).Msg("voice send failed")
		}
	}
}
