// Package media owns the local capture stream, the mute/video controls
// and the inbound per-peer stream readers. It has no knowledge of
// signaling; coordinators attach its tracks to peer sessions by reference.
package media

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// Track pairs a pion local track with enabled/stopped flags.
// Enabled is the mute toggle; a disabled track stays negotiated but the
// capture pump writes nothing into it. Stop is terminal and idempotent.
type Track struct {
	kind    TrackKind
	local   webrtc.TrackLocal
	enabled atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
}

func NewTrack(kind TrackKind, local webrtc.TrackLocal) *Track {
	t := &Track{
		kind:  kind,
		local: local,
		done:  make(chan struct{}),
	}
	t.enabled.Store(true)
	return t
}

func (t *Track) Kind() TrackKind          { return t.kind }
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool      { return t.enabled.Load() }
func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }

func (t *Track) Stopped() bool { return t.stopped.Load() }

// Stop marks the track stopped and releases its pump, exactly once.
func (t *Track) Stop() {
	if t.stopped.CompareAndSwap(false, true) {
		close(t.done)
	}
}

// Done is closed when the track is stopped; capture pumps select on it.
func (t *Track) Done() <-chan struct{} { return t.done }
