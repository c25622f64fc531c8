package core

import (
	"context"

	"github.com/avesler/huddle/internal/media"
)

// EventHandler consumes one raw relay frame of a given event type.
type EventHandler func(data []byte)

// Relay is the client-side view of the signal relay. Handlers are
// registered once, at coordinator construction, and dispatched by event
// type; Emit is fire-and-forget.
type Relay interface {
	// ConnID is the identity the relay assigned to this connection.
	ConnID() ConnID
	// Emit sends one payload; the payload carries its own event type.
	Emit(payload any) error
	// Handle registers the handler for an event type, replacing any
	// previous one. Register before frames start flowing.
	Handle(event string, fn EventHandler)
	Close() error
}

// PeerSession is one negotiated point-to-point media connection.
// Initiator sessions start negotiation in Start; receiver sessions wait
// for the first remote signal. Signals after Destroy are ignored.
type PeerSession interface {
	Start(ctx context.Context) error
	// Signal feeds a remote negotiation payload in.
	Signal(sig SessionSignal) error
	// OnSignal sets the sink for locally produced payloads (to relay).
	OnSignal(fn func(SessionSignal))
	// OnStream fires once the remote media arrives.
	OnStream(fn func(*media.RemoteStream))
	// OnClosed fires on irrecoverable failure or remote close.
	OnClosed(fn func())
	Destroy()
}

// SessionFactory builds peer sessions toward a remote connection id.
// The local stream is attached by reference; sessions never stop it.
type SessionFactory interface {
	NewSession(remote ConnID, initiator bool, local *media.LocalStream) (PeerSession, error)
}

// Devices acquires the local capture stream. Acquisition is the one
// long-running step coordinators await; ctx bounds it.
type Devices interface {
	Acquire(ctx context.Context, withVideo bool) (*media.LocalStream, error)
}
