package media

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const sampleInterval = 20 * time.Millisecond

// silentOpusFrame is a minimal valid opus frame (TOC byte + zero-length
// payload) used by the static pump between real capture backends.
var silentOpusFrame = []byte{0xf8, 0xff, 0xfe}

// StaticDevices fabricates sample tracks driven by a silence pump. Real
// device capture lives behind the same Acquire shape; the signaling
// subsystem only needs tracks with enable/stop semantics.
type StaticDevices struct{}

func NewStaticDevices() *StaticDevices {
	return &StaticDevices{}
}

// Acquire builds a LocalStream with a microphone track and, when asked,
// a camera track. It is the one long-running acquisition step callers
// await; ctx aborts it.
func (d *StaticDevices) Acquire(ctx context.Context, withVideo bool) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID := "local-" + uuid.NewString()

	audioTL, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", streamID,
	)
	if err != nil {
		return nil, err
	}
	audio := NewTrack(KindAudio, audioTL)
	go pump(audio, audioTL, silentOpusFrame)

	var video *Track
	if withVideo {
		videoTL, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", streamID,
		)
		if err != nil {
			audio.Stop()
			return nil, err
		}
		video = NewTrack(KindVideo, videoTL)
		go pump(video, videoTL, nil)
	}

	log.Info().Str("module", "media").Str("stream", streamID).Bool("video", withVideo).Msg("local media acquired")
	return NewLocalStream(audio, video), nil
}

// pump writes one sample per interval until the track is stopped,
// skipping writes while the track is disabled (muted).
func pump(t *Track, dst *webrtc.TrackLocalStaticSample, frame []byte) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.Done():
			return
		case <-ticker.C:
			if !t.Enabled() {
				continue
			}
			if len(frame) == 0 {
				continue
			}
			if err := dst.WriteSample(media.Sample{Data: frame, Duration: sampleInterval}); err != nil {
				log.Debug().Err(err).Str("module", "media").Str("kind", string(t.Kind())).Msg("pump write")
			}
		}
	}
}
