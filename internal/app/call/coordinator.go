// Package call manages the single 1:1 call of the local endpoint: its
// state machine, the caller/callee identity and the one peer session
// behind it.
package call

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avesler/huddle/internal/core"
	"github.com/avesler/huddle/internal/domain"
	"github.com/avesler/huddle/internal/media"
)

type State int

const (
	StateIdle State = iota
	StateOutgoing
	StateIncoming
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoing:
		return "outgoing"
	case StateIncoming:
		return "incoming"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

var (
	ErrBusy       = errors.New("call already in progress")
	ErrNoIncoming = errors.New("no incoming call to answer")
)

// Coordinator owns every field of the active call; it is constructible
// and disposable on its own, with fakes behind each interface.
type Coordinator struct {
	relay    core.Relay
	devices  core.Devices
	sessions core.SessionFactory
	controls *media.Controls
	userID   domain.UserID

	mu           sync.Mutex
	state        State
	callType     domain.CallType
	role         domain.CallRole
	remoteUser   string
	remoteConn   core.ConnID
	pendingOffer *core.SessionSignal
	pendingCands []webrtc.ICECandidateInit
	session      core.PeerSession
	local        *media.LocalStream
	remoteStream *media.RemoteStream

	onState func(State)
}

// New wires the coordinator and registers its relay handlers once.
func New(relay core.Relay, devices core.Devices, sessions core.SessionFactory, controls *media.Controls, userID domain.UserID) *Coordinator {
	c := &Coordinator{
		relay:    relay,
		devices:  devices,
		sessions: sessions,
		controls: controls,
		userID:   userID,
		state:    StateIdle,
	}
	relay.Handle(core.EventCallUser, c.handleCallUser)
	relay.Handle(core.EventCallAccepted, c.handleCallAccepted)
	relay.Handle(core.EventICECandidate, c.handleCandidate)
	return c
}

// OnStateChange sets the UI notification hook. Set before use.
func (c *Coordinator) OnStateChange(fn func(State)) { c.onState = fn }

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) RemoteUser() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteUser
}

// RemoteStream is nil until the remote media arrives.
func (c *Coordinator) RemoteStream() *media.RemoteStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteStream
}

// StartCall places a 1:1 call. Valid only from idle. Media acquisition
// failure leaves the call stalled in outgoing; EndCall recovers.
func (c *Coordinator) StartCall(ctx context.Context, target core.ConnID, targetUser string, t domain.CallType) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateOutgoing
	c.role = domain.RoleCaller
	c.callType = t
	c.remoteConn = target
	c.remoteUser = targetUser
	c.mu.Unlock()
	c.notify(StateOutgoing)

	log.Info().Str("module", "call").Str("target", string(target)).Str("call_type", string(t)).Msg("starting call")

	stream, err := c.devices.Acquire(ctx, t.WithVideo())
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("media acquisition failed, call stalled")
		return nil
	}

	c.mu.Lock()
	if c.state != StateOutgoing {
		// EndCall won the race while we were acquiring.
		c.mu.Unlock()
		stream.Stop()
		return nil
	}
	c.local = stream
	c.controls.Attach(stream)

	sess, err := c.sessions.NewSession(target, true, stream)
	if err != nil {
		c.mu.Unlock()
		log.Error().Err(err).Str("module", "call").Msg("session create failed")
		return nil
	}
	c.session = sess
	c.mu.Unlock()

	c.wireSession(sess, target, t)
	if err := sess.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("session start failed")
	}
	return nil
}

// wireSession binds signaling output to the relay. The first SDP the
// caller's session produces goes out as call-user; the callee's as
// call-accepted. Candidates trickle as ice-candidate either way.
func (c *Coordinator) wireSession(sess core.PeerSession, target core.ConnID, t domain.CallType) {
	role := c.role
	var sdpOnce sync.Once
	sess.OnSignal(func(sig core.SessionSignal) {
		switch {
		case sig.SDP != nil && role == domain.RoleCaller:
			sdpOnce.Do(func() {
				c.emit(core.CallUser{
					Type:       core.EventCallUser,
					TargetID:   target,
					FromConnID: c.relay.ConnID(),
					CallerName: string(c.userID),
					CallType:   t,
					Offer:      sig,
				})
			})
		case sig.SDP != nil:
			sdpOnce.Do(func() {
				c.emit(core.CallAccepted{
					Type:       core.EventCallAccepted,
					TargetID:   target,
					FromConnID: c.relay.ConnID(),
					Answer:     sig,
				})
			})
		case sig.Candidate != nil:
			c.emit(core.ICECandidate{
				Type:       core.EventICECandidate,
				TargetID:   target,
				FromConnID: c.relay.ConnID(),
				Candidate:  *sig.Candidate,
			})
		}
	})
	sess.OnStream(func(rs *media.RemoteStream) {
		c.mu.Lock()
		c.remoteStream = rs
		c.mu.Unlock()
	})
	sess.OnClosed(func() {
		log.Info().Str("module", "call").Msg("peer session closed, ending call")
		c.EndCall()
	})
}

// AnswerCall accepts the pending incoming call.
func (c *Coordinator) AnswerCall(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIncoming {
		c.mu.Unlock()
		return ErrNoIncoming
	}
	caller := c.remoteConn
	t := c.callType
	offer := c.pendingOffer
	c.mu.Unlock()

	stream, err := c.devices.Acquire(ctx, t.WithVideo())
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("media acquisition failed, answer stalled")
		return nil
	}

	c.mu.Lock()
	if c.state != StateIncoming {
		c.mu.Unlock()
		stream.Stop()
		return nil
	}
	c.local = stream
	c.controls.Attach(stream)

	sess, err := c.sessions.NewSession(caller, false, stream)
	if err != nil {
		c.mu.Unlock()
		log.Error().Err(err).Str("module", "call").Msg("session create failed")
		return nil
	}
	c.session = sess
	queued := c.pendingCands
	c.pendingCands = nil
	c.state = StateConnected
	c.mu.Unlock()

	c.wireSession(sess, caller, t)
	if err := sess.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("session start failed")
	}
	if offer != nil {
		if err := sess.Signal(*offer); err != nil {
			log.Error().Err(err).Str("module", "call").Msg("apply stored offer")
		}
	}
	for _, ci := range queued {
		cand := ci
		if err := sess.Signal(core.SessionSignal{Candidate: &cand}); err != nil {
			log.Error().Err(err).Str("module", "call").Msg("apply queued candidate")
		}
	}
	c.notify(StateConnected)
	return nil
}

// EndCall is the escape hatch: reachable from every state, idempotent,
// stops the local tracks exactly once after the session is destroyed.
func (c *Coordinator) EndCall() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	sess := c.session
	stream := c.local
	c.session = nil
	c.local = nil
	c.remoteStream = nil
	c.pendingOffer = nil
	c.pendingCands = nil
	c.remoteConn = ""
	c.remoteUser = ""
	c.state = StateIdle
	c.mu.Unlock()

	if sess != nil {
		sess.Destroy()
	}
	if stream != nil {
		stream.Stop()
	}
	c.controls.Detach()
	log.Info().Str("module", "call").Msg("call ended")
	c.notify(StateIdle)
}

func (c *Coordinator) handleCallUser(data []byte) {
	p, err := core.Decode[core.CallUser](data)
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("bad call-user payload")
		return
	}
	if _, err := domain.ParseCallType(string(p.CallType)); err != nil {
		log.Error().Str("module", "call").Str("call_type", string(p.CallType)).Msg("call-user without valid call type, rejected")
		return
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		log.Warn().Str("module", "call").Str("from", string(p.FromConnID)).Msg("incoming call while busy, ignored")
		return
	}
	offer := p.Offer
	c.state = StateIncoming
	c.role = domain.RoleCallee
	c.callType = p.CallType
	c.remoteConn = p.FromConnID
	c.remoteUser = p.CallerName
	c.pendingOffer = &offer
	c.mu.Unlock()

	log.Info().Str("module", "call").Str("from", string(p.FromConnID)).Str("caller", p.CallerName).Msg("incoming call")
	c.notify(StateIncoming)
}

func (c *Coordinator) handleCallAccepted(data []byte) {
	p, err := core.Decode[core.CallAccepted](data)
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("bad call-accepted payload")
		return
	}

	c.mu.Lock()
	if c.state != StateOutgoing || c.session == nil {
		st := c.state
		c.mu.Unlock()
		log.Warn().Str("module", "call").Str("state", st.String()).Msg("call-accepted out of state, ignored")
		return
	}
	sess := c.session
	c.state = StateConnected
	c.mu.Unlock()

	if err := sess.Signal(p.Answer); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("apply answer")
	}
	c.notify(StateConnected)
}

func (c *Coordinator) handleCandidate(data []byte) {
	p, err := core.Decode[core.ICECandidate](data)
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("bad ice-candidate payload")
		return
	}

	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	sess := c.session
	if sess == nil {
		// Callee has not answered yet; hold the candidate for the session.
		c.pendingCands = append(c.pendingCands, p.Candidate)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	cand := p.Candidate
	if err := sess.Signal(core.SessionSignal{Candidate: &cand}); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("apply candidate")
	}
}

func (c *Coordinator) emit(payload any) {
	if err := c.relay.Emit(payload); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("relay emit")
	}
}

func (c *Coordinator) notify(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}
