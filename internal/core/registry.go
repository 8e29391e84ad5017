package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Registry owns the mapping from room key to the set of live connections
// subscribed to it. One instance is created at startup and shared by every
// connection handler.
//
// Membership mutation happens under a single mutex; critical sections are
// O(1) map operations. Broadcasts copy the membership out under the lock and
// perform all network sends with the lock released.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]map[Conn]struct{}
	log   *zerolog.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		rooms: make(map[string]map[Conn]struct{}),
		log:   logger,
	}
}

// Join registers conn under room, creating the room on first use.
// Idempotent per (room, conn) pair. The transport handshake must already
// have been accepted by the caller.
func (r *Registry) Join(room string, conn Conn) {
	r.mu.Lock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[Conn]struct{})
		r.rooms[room] = members
	}
	members[conn] = struct{}{}
	total := len(members)
	r.mu.Unlock()

	r.log.Debug().Str("room", room).Int("members", total).Msg("ws joined room")
}

// Leave removes conn from room. The room entry itself is dropped once it has
// no members, so churn never leaks empty rooms. Safe to call repeatedly.
func (r *Registry) Leave(room string, conn Conn) {
	r.mu.Lock()
	if members, ok := r.rooms[room]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	r.mu.Unlock()

	r.log.Debug().Str("room", room).Msg("ws left room")
}

// RoomSize reports the current number of connections in room.
func (r *Registry) RoomSize(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}

// snapshot copies a room's membership so sends happen outside the lock.
func (r *Registry) snapshot(room string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return nil
	}
	conns := make([]Conn, 0, len(members))
	for c := range members {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast serializes ev once and delivers it to every connection currently
// in room. A failed send never aborts delivery to the rest; the offending
// connection is pruned from the room instead.
func (r *Registry) Broadcast(ctx context.Context, room string, ev *Event) {
	r.BroadcastExcept(ctx, room, nil, ev)
}

// BroadcastExcept is Broadcast skipping one connection, used to avoid echoing
// a sender's own action back to itself.
func (r *Registry) BroadcastExcept(ctx context.Context, room string, skip Conn, ev *Event) {
	payload, err := ev.Payload()
	if err != nil {
		r.log.Error().Err(err).Str("event", string(ev.Type)).Msg("encode event")
		return
	}

	var dead []Conn
	for _, conn := range r.snapshot(room) {
		if conn == skip {
			continue
		}
		if err := conn.Send(ctx, payload); err != nil {
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		r.log.Debug().Str("room", room).Str("event", string(ev.Type)).Msg("pruning dead connection")
		r.Leave(room, conn)
	}
}

// BroadcastToMany serializes ev once and fans it out across several rooms,
// for events that must reach N independent rooms without re-encoding per room.
func (r *Registry) BroadcastToMany(ctx context.Context, rooms []string, ev *Event) {
	payload, err := ev.Payload()
	if err != nil {
		r.log.Error().Err(err).Str("event", string(ev.Type)).Msg("encode event")
		return
	}

	type member struct {
		room string
		conn Conn
	}
	var dead []member
	for _, room := range rooms {
		for _, conn := range r.snapshot(room) {
			if err := conn.Send(ctx, payload); err != nil {
				dead = append(dead, member{room, conn})
			}
		}
	}
	for _, m := range dead {
		r.log.Debug().Str("room", m.room).Str("event", string(ev.Type)).Msg("pruning dead connection")
		r.Leave(m.room, m.conn)
	}
}
