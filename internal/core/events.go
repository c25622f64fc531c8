package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/avesler/huddle/internal/domain"
)

// Relay event names. The relay routes these without interpreting call
// semantics; both the server and the client adapter dispatch on them.
const (
	EventWelcome         = "welcome"
	EventJoinRoom        = "join-room"
	EventCallUser        = "call-user"
	EventCallAccepted    = "call-accepted"
	EventICECandidate    = "ice-candidate"
	EventJoinVoice       = "join-voice"
	EventUserJoinedVoice = "user-joined-voice"
	EventVoiceSignal     = "voice-signal"
	EventLeaveVoice      = "leave-voice"
	EventUserLeftVoice   = "user-left-voice"
	EventError           = "error"
	EventPing            = "ping"
	EventPong            = "pong"
)

// Envelope is the minimal frame every relay message starts from.
type Envelope struct {
	Type string `json:"type"`
}

// SessionSignal is one opaque negotiation payload between two peer
// sessions: either a session description or a trickled ICE candidate.
type SessionSignal struct {
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Welcome carries the connection id the relay assigned at upgrade.
// It is the first frame on every connection.
type Welcome struct {
	Type string `json:"type"`
	ID   ConnID `json:"id"`
}

// JoinRoom binds the connection id to a stable user identity for routing.
type JoinRoom struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
}

// CallUser opens a 1:1 call. Call type is mandatory; the relay stamps
// FromConnID with the sender's connection id before forwarding.
type CallUser struct {
	Type       string          `json:"type"`
	TargetID   ConnID          `json:"targetId"`
	FromConnID ConnID          `json:"fromConnectionId"`
	CallerName string          `json:"callerName"`
	CallType   domain.CallType `json:"callType"`
	Offer      SessionSignal   `json:"offer"`
}

// CallAccepted returns the callee's answer. TargetID is routing-only.
type CallAccepted struct {
	Type       string        `json:"type"`
	TargetID   ConnID        `json:"targetId"`
	FromConnID ConnID        `json:"fromConnectionId"`
	Answer     SessionSignal `json:"answer"`
}

// ICECandidate trickles a 1:1 call candidate to the other side.
type ICECandidate struct {
	Type       string                  `json:"type"`
	TargetID   ConnID                  `json:"targetId"`
	FromConnID ConnID                  `json:"fromConnectionId"`
	Candidate  webrtc.ICECandidateInit `json:"candidate"`
}

// JoinVoice announces room membership to the relay.
type JoinVoice struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
	PeerID ConnID        `json:"peerId"`
}

// UserJoinedVoice is fanned out to existing members of the room.
type UserJoinedVoice struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
	PeerID ConnID        `json:"peerId"`
}

// VoiceSignalMeta labels a mesh signal with the sender's user identity.
type VoiceSignalMeta struct {
	UserID domain.UserID `json:"userId"`
}

// VoiceSignal carries one mesh negotiation payload to one member.
// CallerID is the sender's connection id, stamped by the relay.
type VoiceSignal struct {
	Type     string          `json:"type"`
	TargetID ConnID          `json:"targetId"`
	CallerID ConnID          `json:"callerId"`
	Signal   SessionSignal   `json:"signal"`
	Metadata VoiceSignalMeta `json:"metadata"`
}

// LeaveVoice announces departure from a room.
type LeaveVoice struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
}

// UserLeftVoice is fanned out to the remaining members.
type UserLeftVoice struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
}

// ErrorEvent reports a rejected client action (bad payload, rate limit).
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
