// Package voice manages membership in at most one multi-party voice
// room: a full mesh of pairwise peer sessions, one per other member.
//
// The mesh protocol has no explicit roles. Whoever is already in the
// room initiates toward a newcomer; whoever receives a voice-signal for
// an unknown connection id answers it. Session existence, not event
// type, decides which path runs, which keeps concurrent joins from
// producing duplicate or missing sessions.
package voice

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avesler/huddle/internal/core"
	"github.com/avesler/huddle/internal/domain"
	"github.com/avesler/huddle/internal/media"
)

// Participant is one remote member of the current room. The inbound
// stream stays nil until negotiation with that member completes.
type Participant struct {
	Conn    core.ConnID
	User    domain.UserID
	Session core.PeerSession
	Stream  *media.RemoteStream
}

type Coordinator struct {
	relay    core.Relay
	devices  core.Devices
	sessions core.SessionFactory
	controls *media.Controls
	userID   domain.UserID

	mu     sync.Mutex
	ctx    context.Context
	roomID domain.RoomID
	parts  map[core.ConnID]*Participant
	byUser map[domain.UserID]core.ConnID
	local  *media.LocalStream

	videoOn bool

	onJoined func(Participant)
	onLeft   func(Participant)
}

// New wires the coordinator and registers its relay handlers once.
func New(relay core.Relay, devices core.Devices, sessions core.SessionFactory, controls *media.Controls, userID domain.UserID) *Coordinator {
	c := &Coordinator{
		relay:    relay,
		devices:  devices,
		sessions: sessions,
		controls: controls,
		userID:   userID,
		ctx:      context.Background(),
		parts:    make(map[core.ConnID]*Participant),
		byUser:   make(map[domain.UserID]core.ConnID),
	}
	relay.Handle(core.EventUserJoinedVoice, c.handleUserJoined)
	relay.Handle(core.EventVoiceSignal, c.handleVoiceSignal)
	relay.Handle(core.EventUserLeftVoice, c.handleUserLeft)
	return c
}

// OnParticipantJoined and OnParticipantLeft are UI hooks; set before use.
func (c *Coordinator) OnParticipantJoined(fn func(Participant)) { c.onJoined = fn }
func (c *Coordinator) OnParticipantLeft(fn func(Participant))   { c.onLeft = fn }

// SetVideo controls whether the next Join acquires a camera track.
func (c *Coordinator) SetVideo(on bool) {
	c.mu.Lock()
	c.videoOn = on
	c.mu.Unlock()
}

func (c *Coordinator) RoomID() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Participants snapshots the current membership set.
func (c *Coordinator) Participants() []Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Participant, 0, len(c.parts))
	for _, p := range c.parts {
		out = append(out, *p)
	}
	return out
}

// Join enters a voice room. Joining the current room is a no-op; being
// in a different room tears that membership down completely first.
// Sessions are never created here, only reactively as events arrive.
func (c *Coordinator) Join(ctx context.Context, roomID domain.RoomID) error {
	c.mu.Lock()
	if c.roomID == roomID {
		c.mu.Unlock()
		log.Debug().Str("module", "voice").Str("room", string(roomID)).Msg("already in room")
		return nil
	}
	if c.roomID != "" {
		c.leaveLocked()
	}
	withVideo := c.videoOn
	c.mu.Unlock()

	stream, err := c.devices.Acquire(ctx, withVideo)
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("room", string(roomID)).Msg("media acquisition failed, join aborted")
		return nil
	}

	c.mu.Lock()
	c.ctx = ctx
	c.local = stream
	c.roomID = roomID
	c.controls.Attach(stream)
	c.mu.Unlock()

	c.emit(core.JoinVoice{
		Type:   core.EventJoinVoice,
		RoomID: roomID,
		UserID: c.userID,
		PeerID: c.relay.ConnID(),
	})
	log.Info().Str("module", "voice").Str("room", string(roomID)).Msg("joined voice channel")
	return nil
}

// Leave exits the current room: announces departure, destroys every
// peer session, then stops the local tracks exactly once. Idempotent.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaveLocked()
}

func (c *Coordinator) leaveLocked() {
	if c.roomID == "" {
		return
	}
	c.emit(core.LeaveVoice{
		Type:   core.EventLeaveVoice,
		RoomID: c.roomID,
		UserID: c.userID,
	})
	for conn, p := range c.parts {
		p.Session.Destroy()
		delete(c.parts, conn)
		delete(c.byUser, p.User)
	}
	if c.local != nil {
		c.local.Stop()
		c.local = nil
	}
	c.controls.Detach()
	log.Info().Str("module", "voice").Str("room", string(c.roomID)).Msg("left voice channel")
	c.roomID = ""
}

// handleUserJoined runs the initiator path: the local endpoint is
// already a member, so it opens the session toward the newcomer.
func (c *Coordinator) handleUserJoined(data []byte) {
	p, err := core.Decode[core.UserJoinedVoice](data)
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Msg("bad user-joined-voice payload")
		return
	}
	if p.PeerID == c.relay.ConnID() {
		return
	}

	c.mu.Lock()
	if c.roomID == "" {
		c.mu.Unlock()
		return
	}
	if _, exists := c.parts[p.PeerID]; exists {
		// A voice-signal beat the join event here; the session stands.
		c.mu.Unlock()
		return
	}
	part, sess, err := c.addParticipantLocked(p.PeerID, p.UserID, true)
	ctx := c.ctx
	c.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(p.PeerID)).Msg("initiator session create failed")
		return
	}

	log.Info().Str("module", "voice").Str("peer", string(p.PeerID)).Str("user", string(p.UserID)).Msg("member joined, initiating")
	if err := sess.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(p.PeerID)).Msg("initiator session start failed")
		c.removeByConn(p.PeerID)
		return
	}
	c.notifyJoined(part)
}

// handleVoiceSignal runs both mesh paths: an existing session consumes
// the payload (the answer path for sessions we initiated); a missing
// session means we are the receiver and must answer.
func (c *Coordinator) handleVoiceSignal(data []byte) {
	p, err := core.Decode[core.VoiceSignal](data)
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Msg("bad voice-signal payload")
		return
	}

	c.mu.Lock()
	if c.roomID == "" {
		// Teardown already ran; in-flight signals are dropped.
		c.mu.Unlock()
		return
	}
	if part, ok := c.parts[p.CallerID]; ok {
		sess := part.Session
		c.mu.Unlock()
		if err := sess.Signal(p.Signal); err != nil {
			log.Error().Err(err).Str("module", "voice").Str("peer", string(p.CallerID)).Msg("apply remote signal")
		}
		return
	}

	part, sess, err := c.addParticipantLocked(p.CallerID, p.Metadata.UserID, false)
	ctx := c.ctx
	c.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(p.CallerID)).Msg("receiver session create failed")
		return
	}

	log.Info().Str("module", "voice").Str("peer", string(p.CallerID)).Str("user", string(p.Metadata.UserID)).Msg("first signal from peer, answering")
	if err := sess.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(p.CallerID)).Msg("receiver session start failed")
		c.removeByConn(p.CallerID)
		return
	}
	if err := sess.Signal(p.Signal); err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(p.CallerID)).Msg("apply initial signal")
	}
	c.notifyJoined(part)
}

func (c *Coordinator) handleUserLeft(data []byte) {
	p, err := core.Decode[core.UserLeftVoice](data)
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Msg("bad user-left-voice payload")
		return
	}

	c.mu.Lock()
	conn, ok := c.byUser[p.UserID]
	if !ok {
		c.mu.Unlock()
		return
	}
	part := c.parts[conn]
	delete(c.parts, conn)
	delete(c.byUser, p.UserID)
	c.mu.Unlock()

	part.Session.Destroy()
	log.Info().Str("module", "voice").Str("peer", string(conn)).Str("user", string(p.UserID)).Msg("member left")
	c.notifyLeft(*part)
}

// addParticipantLocked creates and registers the session for a peer.
// Caller holds c.mu and the dispatch existence check has already run.
func (c *Coordinator) addParticipantLocked(conn core.ConnID, user domain.UserID, initiator bool) (Participant, core.PeerSession, error) {
	sess, err := c.sessions.NewSession(conn, initiator, c.local)
	if err != nil {
		return Participant{}, nil, err
	}
	part := &Participant{Conn: conn, User: user, Session: sess}
	c.parts[conn] = part
	c.byUser[user] = conn

	target := conn
	sess.OnSignal(func(sig core.SessionSignal) {
		c.emit(core.VoiceSignal{
			Type:     core.EventVoiceSignal,
			TargetID: target,
			CallerID: c.relay.ConnID(),
			Signal:   sig,
			Metadata: core.VoiceSignalMeta{UserID: c.userID},
		})
	})
	sess.OnStream(func(rs *media.RemoteStream) {
		c.mu.Lock()
		if cur, ok := c.parts[target]; ok {
			cur.Stream = rs
		}
		c.mu.Unlock()
	})
	sess.OnClosed(func() {
		// One failed session must not drag its siblings down.
		log.Warn().Str("module", "voice").Str("peer", string(target)).Msg("peer session closed")
		c.removeByConn(target)
	})
	return *part, sess, nil
}

func (c *Coordinator) removeByConn(conn core.ConnID) {
	c.mu.Lock()
	part, ok := c.parts[conn]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.parts, conn)
	if cur, mapped := c.byUser[part.User]; mapped && cur == conn {
		delete(c.byUser, part.User)
	}
	c.mu.Unlock()

	part.Session.Destroy()
	c.notifyLeft(*part)
}

func (c *Coordinator) emit(payload any) {
	if err := c.relay.Emit(payload); err != nil {
		log.Error().Err(err).Str("module", "voice").Msg("relay emit")
	}
}

func (c *Coordinator) notifyJoined(p Participant) {
	if c.onJoined != nil {
		c.onJoined(p)
	}
}

func (c *Coordinator) notifyLeft(p Participant) {
	if c.onLeft != nil {
		c.onLeft(p)
	}
}
