package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("not found")
)

// User is the directory's view of an account. Presence fields are durable;
// their liveness counterpart is derived from registry membership.
type User struct {
	ID              uuid.UUID
	Username        string
	PasswordHash    string
	Status          string // currently visible status
	PreferredStatus string // status the user last chose
	HideStatus      bool   // observers always see offline when set
	CreatedAt       time.Time
}

// ChannelKind distinguishes text channels from voice channels.
type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelVoice ChannelKind = "voice"
)

// Channel is a server's text or voice channel.
type Channel struct {
	ID       uuid.UUID
	ServerID uuid.UUID
	Name     string
	Kind     ChannelKind
}

// Directory is the membership-lookup collaborator the realtime layer gates
// connections with. It is consulted once at connect time, not per message.
type Directory interface {
	UserByUsername(ctx context.Context, username string) (*User, error)
	Channel(ctx context.Context, id uuid.UUID) (*Channel, error)
	IsServerMember(ctx context.Context, serverID, userID uuid.UUID) (bool, error)
	VoiceChannelIDs(ctx context.Context, serverID uuid.UUID) ([]uuid.UUID, error)
	Close() error
}
