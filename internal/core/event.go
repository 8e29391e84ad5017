package core

import (
	"encoding/json"
	"sync"
)

// EventType names one fact in the system. The set is closed: new kinds are
// added here so publishers and subscribers cannot drift apart.
type EventType string

const (
	// Channel events
	EventMessageCreated  EventType = "message.created"
	EventMessageUpdated  EventType = "message.updated"
	EventMessageDeleted  EventType = "message.deleted"
	EventReactionAdded   EventType = "reaction.added"
	EventReactionRemoved EventType = "reaction.removed"
	EventTyping          EventType = "typing"

	// Server events
	EventMemberJoined EventType = "server.member_joined"
	EventMemberLeft   EventType = "server.member_left"
	EventRoleCreated  EventType = "role.created"
	EventRoleUpdated  EventType = "role.updated"
	EventRoleDeleted  EventType = "role.deleted"

	// Personal events
	EventDMCreated             EventType = "dm.created"
	EventFriendRequestReceived EventType = "friend_request.received"
	EventFriendRequestAccepted EventType = "friend_request.accepted"
	EventFriendRequestDeclined EventType = "friend_request.declined"
	EventStatusChanged         EventType = "user.status_changed"

	// Voice events
	EventVoiceMembers      EventType = "voice.members"
	EventVoiceUserJoined   EventType = "voice.user_joined"
	EventVoiceUserLeft     EventType = "voice.user_left"
	EventVoiceStateChanged EventType = "voice.state_changed"

	// Control
	EventPong EventType = "pong"
)

// Event is an immutable {type, data} envelope. The wire form is produced at
// most once per event, no matter how many connections it fans out to.
type Event struct {
	Type EventType
	Data any

	once    sync.Once
	payload []byte
	err     error
}

// NewEvent wraps a domain fact into a broadcastable envelope.
func NewEvent(t EventType, data any) *Event {
	return &Event{Type: t, Data: data}
}

type envelope struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// Payload returns the serialized envelope, encoding it on first use.
func (e *Event) Payload() ([]byte, error) {
	e.once.Do(func() {
		e.payload, e.err = json.Marshal(envelope{Type: e.Type, Data: e.Data})
	})
	return e.payload, e.err
}
