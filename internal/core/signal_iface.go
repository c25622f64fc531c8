package core

// Frame is a raw wire payload.
type Frame []byte

// ConnID is the relay-assigned, transport-session-scoped identity.
// It is not stable across reconnects; peer sessions are keyed by the
// ConnID that was active at negotiation time.
type ConnID string

// SignalConn abstracts one relay-side transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type SignalConn interface {
	TrySend(Frame) error
	Close()
}
