package core

import "context"

// StatusCode is an application-level close code sent to a client when its
// connection is rejected or torn down.
type StatusCode int

const (
	// StatusInvalidToken signals an invalid or expired credential.
	StatusInvalidToken StatusCode = 4001
	// StatusNotMember signals the user is not a member of the requested server.
	StatusNotMember StatusCode = 4003
	// StatusNotFound signals the requested resource does not exist.
	StatusNotFound StatusCode = 4004
	// StatusWrongKind signals the resource is not of the expected kind,
	// e.g. signaling on a text channel.
	StatusWrongKind StatusCode = 4005
)

// Conn is one live duplex channel to a client process. A Conn may be
// registered in several rooms at once; the transport layer owns the
// underlying socket and guarantees Leave runs on every exit path.
type Conn interface {
	// Send writes one text frame. Safe for concurrent use.
	Send(ctx context.Context, payload []byte) error
	// Close tears down the transport with an application close code.
	Close(code StatusCode, reason string) error
}
