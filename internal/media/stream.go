package media

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// LocalStream is the one capture shared by every peer session of a call
// or voice room. It is owned by the coordinator that acquired it; peer
// sessions only hold track references and must never stop it themselves.
type LocalStream struct {
	mu      sync.Mutex
	audio   *Track
	video   *Track
	stopped bool
}

func NewLocalStream(audio, video *Track) *LocalStream {
	return &LocalStream{audio: audio, video: video}
}

func (s *LocalStream) Audio() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// Video returns nil when the stream was acquired audio-only.
func (s *LocalStream) Video() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

// Tracks returns the non-nil tracks for outbound attachment.
func (s *LocalStream) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Track, 0, 2)
	if s.audio != nil {
		out = append(out, s.audio)
	}
	if s.video != nil {
		out = append(out, s.video)
	}
	return out
}

func (s *LocalStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop stops every track exactly once. Safe to call repeatedly.
func (s *LocalStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	audio, video := s.audio, s.video
	s.mu.Unlock()

	if audio != nil {
		audio.Stop()
	}
	if video != nil {
		video.Stop()
	}
	log.Debug().Str("module", "media").Msg("local stream stopped")
}
