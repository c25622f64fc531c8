package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avesler/huddle/internal/core"
	"github.com/avesler/huddle/internal/media"
)

// NegotiationState tracks a session from creation to teardown.
type NegotiationState int32

const (
	StateNew NegotiationState = iota
	StateSignaling
	StateConnected
	StateClosed
	StateFailed
)

func (s NegotiationState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateSignaling:
		return "signaling"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Session wraps a single point-to-point PeerConnection. The initiator
// flag only decides whether Start proactively creates the offer or the
// session waits for one through Signal.
type Session struct {
	pc        *webrtc.PeerConnection
	remote    core.ConnID
	initiator bool
	local     *media.LocalStream
	logger    zerolog.Logger

	state     atomic.Int32
	destroyed atomic.Bool
	closeOnce sync.Once
	cancel    context.CancelFunc

	mu         sync.Mutex
	haveRemote bool
	pending    []webrtc.ICECandidateInit
	stream     *media.RemoteStream

	onSignal func(core.SessionSignal)
	onStream func(*media.RemoteStream)
	onClosed func()
}

func newSession(pc *webrtc.PeerConnection, remote core.ConnID, initiator bool, local *media.LocalStream) *Session {
	s := &Session{
		pc:        pc,
		remote:    remote,
		initiator: initiator,
		local:     local,
		logger:    log.With().Str("module", "rtc").Str("remote", string(remote)).Bool("initiator", initiator).Logger(),
	}
	s.state.Store(int32(StateNew))
	return s
}

func (s *Session) State() NegotiationState { return NegotiationState(s.state.Load()) }
func (s *Session) Initiator() bool         { return s.initiator }
func (s *Session) Remote() core.ConnID     { return s.remote }

func (s *Session) OnSignal(fn func(core.SessionSignal))  { s.onSignal = fn }
func (s *Session) OnStream(fn func(*media.RemoteStream)) { s.onStream = fn }
func (s *Session) OnClosed(fn func())                    { s.onClosed = fn }

// Start attaches the shared local tracks, wires PeerConnection callbacks
// and, for the initiator, creates and emits the offer.
func (s *Session) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.local != nil {
		for _, t := range s.local.Tracks() {
			if _, err := s.pc.AddTrack(t.Local()); err != nil {
				cancel()
				return err
			}
		}
	}

	s.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		s.emit(core.SessionSignal{Candidate: &ci})
	})

	s.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.logger.Info().Str("kind", track.Kind().String()).Str("track_id", track.ID()).Msg("OnTrack received")
		s.mu.Lock()
		first := s.stream == nil
		if first {
			s.stream = media.NewRemoteStream(string(s.remote))
		}
		stream := s.stream
		s.mu.Unlock()

		if first && s.onStream != nil {
			s.onStream(stream)
		}
		stream.AddTrack(ctx, track, s.logger)
	})

	s.pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		s.logger.Debug().Str("ice_state", st.String()).Msg("ICE state")
	})

	s.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.logger.Info().Str("peer_connection_state", st.String()).Msg("peer state")
		switch st {
		case webrtc.PeerConnectionStateConnected:
			s.state.Store(int32(StateConnected))
		case webrtc.PeerConnectionStateFailed:
			s.state.Store(int32(StateFailed))
			s.fireClosed()
			cancel()
		case webrtc.PeerConnectionStateClosed:
			s.state.CompareAndSwap(int32(StateConnected), int32(StateClosed))
			s.fireClosed()
			cancel()
		}
	})

	if s.initiator {
		offer, err := s.pc.CreateOffer(nil)
		if err != nil {
			cancel()
			return err
		}
		if err := s.pc.SetLocalDescription(offer); err != nil {
			cancel()
			return err
		}
		s.state.Store(int32(StateSignaling))
		s.emit(core.SessionSignal{SDP: &offer})
	}

	return nil
}

// Signal applies a remote payload. Payloads for a destroyed session are
// silently dropped; candidates arriving before the remote description
// are queued and flushed once it lands.
func (s *Session) Signal(sig core.SessionSignal) error {
	if s.destroyed.Load() || s.State() == StateClosed || s.State() == StateFailed {
		s.logger.Debug().Msg("signal after teardown ignored")
		return nil
	}

	if sig.SDP != nil {
		return s.applyDescription(*sig.SDP)
	}
	if sig.Candidate != nil {
		return s.applyCandidate(*sig.Candidate)
	}
	s.logger.Warn().Msg("empty session signal")
	return nil
}

func (s *Session) applyDescription(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	s.state.CompareAndSwap(int32(StateNew), int32(StateSignaling))

	s.mu.Lock()
	s.haveRemote = true
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, ci := range queued {
		if err := s.pc.AddICECandidate(ci); err != nil {
			s.logger.Error().Err(err).Msg("queued candidate")
		}
	}

	// Receiver path: an inbound offer means we produce the answer.
	if desc.Type == webrtc.SDPTypeOffer {
		answer, err := s.pc.CreateAnswer(nil)
		if err != nil {
			return err
		}
		if err := s.pc.SetLocalDescription(answer); err != nil {
			return err
		}
		s.emit(core.SessionSignal{SDP: &answer})
	}
	return nil
}

func (s *Session) applyCandidate(ci webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if !s.haveRemote {
		s.pending = append(s.pending, ci)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.pc.AddICECandidate(ci)
}

// Destroy tears the connection down. It never touches the shared local
// stream and never fires OnClosed; the closed event is reserved for
// remote close and failure.
func (s *Session) Destroy() {
	if !s.destroyed.CompareAndSwap(false, true) {
		return
	}
	s.state.Store(int32(StateClosed))
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.pc.Close(); err != nil {
		s.logger.Error().Err(err).Msg("close error")
	} else {
		s.logger.Info().Msg("session destroyed")
	}
}

func (s *Session) emit(sig core.SessionSignal) {
	if s.onSignal != nil {
		s.onSignal(sig)
	}
}

func (s *Session) fireClosed() {
	if s.destroyed.Load() {
		return
	}
	s.closeOnce.Do(func() {
		if s.onClosed != nil {
			s.onClosed()
		}
	})
}
