package media

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// RemoteStream drains one peer's inbound tracks so playback can consume
// them. Tracks arrive asynchronously after negotiation completes; the
// reader loop for each runs until the owning session's ctx is canceled.
type RemoteStream struct {
	peer string

	mu     sync.RWMutex
	tracks map[string]*webrtc.TrackRemote

	packets  atomic.Uint64
	onPacket func(kind TrackKind, pkt *rtp.Packet)
}

func NewRemoteStream(peer string) *RemoteStream {
	return &RemoteStream{
		peer:   peer,
		tracks: make(map[string]*webrtc.TrackRemote),
	}
}

func (r *RemoteStream) Peer() string { return r.peer }

// OnPacket sets the playback sink. Set it before AddTrack.
func (r *RemoteStream) OnPacket(fn func(kind TrackKind, pkt *rtp.Packet)) {
	r.onPacket = fn
}

// PacketCount reports how many RTP packets arrived across all tracks.
func (r *RemoteStream) PacketCount() uint64 { return r.packets.Load() }

func (r *RemoteStream) TrackCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracks)
}

// AddTrack registers an inbound track and starts its reader loop.
func (r *RemoteStream) AddTrack(ctx context.Context, track *webrtc.TrackRemote, logger zerolog.Logger) {
	r.mu.Lock()
	r.tracks[track.ID()] = track
	r.mu.Unlock()

	kind := KindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = KindVideo
	}
	go r.loop(ctx, kind, track, logger)
}

// loop reads RTP packets from the track and hands them to the sink.
func (r *RemoteStream) loop(ctx context.Context, kind TrackKind, track *webrtc.TrackRemote, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Str("peer", r.peer).Msg("remote stream ctx done")
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Str("peer", r.peer).Msg("remote stream read RTP, stopping")
			r.mu.Lock()
			delete(r.tracks, track.ID())
			r.mu.Unlock()
			return
		}
		r.packets.Add(1)
		if r.onPacket != nil {
			r.onPacket(kind, pkt)
		}
	}
}
