package media

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Controls are the mute/video toggles shared by the call and voice room
// coordinators. Whichever coordinator currently owns a live stream
// attaches it here; toggles without a stream are no-ops.
type Controls struct {
	mu     sync.Mutex
	stream *LocalStream
}

func NewControls() *Controls {
	return &Controls{}
}

func (c *Controls) Attach(s *LocalStream) {
	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()
}

func (c *Controls) Detach() {
	c.mu.Lock()
	c.stream = nil
	c.mu.Unlock()
}

// Muted reports whether the audio track is currently disabled.
func (c *Controls) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil || c.stream.Audio() == nil {
		return false
	}
	return !c.stream.Audio().Enabled()
}

// ToggleMute flips the audio track's enabled flag and reports the new
// muted state. Without a stream it reports false and does nothing.
func (c *Controls) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return false
	}
	audio := c.stream.Audio()
	if audio == nil {
		return false
	}
	audio.SetEnabled(!audio.Enabled())
	muted := !audio.Enabled()
	log.Info().Str("module", "media").Bool("muted", muted).Msg("toggle mute")
	return muted
}

// ToggleVideo flips the video track's enabled flag and reports whether
// video is now on. Adding a video track mid-session is not supported, so
// a stream acquired without video stays a no-op here.
func (c *Controls) ToggleVideo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return false
	}
	video := c.stream.Video()
	if video == nil {
		return false
	}
	video.SetEnabled(!video.Enabled())
	on := video.Enabled()
	log.Info().Str("module", "media").Bool("video", on).Msg("toggle video")
	return on
}
