package rtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/avesler/huddle/internal/core"
	"github.com/avesler/huddle/internal/media"
)

// Factory builds peer sessions from one shared webrtc.API so every
// session logs through the same pion logger factory.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
}

func NewFactory(iceServers []webrtc.ICEServer) *Factory {
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory()}
	if len(iceServers) == 0 {
		iceServers = DefaultICEServers()
	}
	return &Factory{
		api: webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		cfg: webrtc.Configuration{ICEServers: iceServers},
	}
}

func (f *Factory) NewSession(remote core.ConnID, initiator bool, local *media.LocalStream) (core.PeerSession, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	return newSession(pc, remote, initiator, local), nil
}
