package core

import "github.com/google/uuid"

// Room keys are derived here and nowhere else, so publishers and subscribers
// always agree on the exact string for a given entity.

// ChannelRoom is the broadcast group for a text channel's events.
func ChannelRoom(channelID uuid.UUID) string {
	return "channel:" + channelID.String()
}

// ServerRoom is the broadcast group for server-level events
// (membership, roles, voice occupancy).
func ServerRoom(serverID uuid.UUID) string {
	return "server:" + serverID.String()
}

// UserRoom is a user's personal broadcast group (DMs, friend requests,
// status changes). One user may hold several connections here.
func UserRoom(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// VoiceRoom is the broadcast group for a voice channel's participants.
func VoiceRoom(channelID uuid.UUID) string {
	return "voice:" + channelID.String()
}
