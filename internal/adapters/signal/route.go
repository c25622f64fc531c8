package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/avesler/huddle/internal/core"
	"github.com/avesler/huddle/internal/domain"
)

// handleJoinRoom binds a stable user identity to the connection id so
// targeted routing can be labeled for display on the far side.
func (ctl *Controller) handleJoinRoom(id core.ConnID, c *WsConn, data []byte) {
	p, err := core.Decode[core.JoinRoom](data)
	if err != nil || p.UserID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join-room payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if err := domain.ValidateUsername(string(p.UserID)); err != nil {
		ctl.sendError(c, "invalid_user")
		return
	}
	if !ctl.Registry.SetUser(id, p.UserID) {
		ctl.sendError(c, "unknown_connection")
	}
}

// forward routes a targeted payload to its destination connection with
// the sender's connection id stamped in. The signaling body itself is
// never interpreted here.
func (ctl *Controller) forward(from core.ConnID, event string, data []byte) {
	payload, target, err := stampSender(from, event, data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", event).Msg("bad targeted payload")
		return
	}
	if target == "" {
		log.Warn().Str("module", "signal").Str("type", event).Msg("targeted payload without targetId")
		return
	}

	dst, ok := ctl.Registry.Conn(target)
	if !ok {
		// Fire-and-forget: the target may have disconnected mid-flight.
		log.Warn().Str("module", "signal").Str("type", event).Str("target", string(target)).Msg("target not connected, dropped")
		return
	}
	if err := ctl.sendOrKick(target, dst, payload); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("target", string(target)).Msg("forward failed")
	}
}

// stampSender rewrites the sender identity field of a targeted event.
func stampSender(from core.ConnID, event string, data []byte) (any, core.ConnID, error) {
	switch event {
	case core.EventCallUser:
		p, err := core.Decode[core.CallUser](data)
		if err != nil {
			return nil, "", err
		}
		p.FromConnID = from
		return p, p.TargetID, nil
	case core.EventCallAccepted:
		p, err := core.Decode[core.CallAccepted](data)
		if err != nil {
			return nil, "", err
		}
		p.FromConnID = from
		return p, p.TargetID, nil
	case core.EventICECandidate:
		p, err := core.Decode[core.ICECandidate](data)
		if err != nil {
			return nil, "", err
		}
		p.FromConnID = from
		return p, p.TargetID, nil
	case core.EventVoiceSignal:
		p, err := core.Decode[core.VoiceSignal](data)
		if err != nil {
			return nil, "", err
		}
		p.CallerID = from
		return p, p.TargetID, nil
	}
	return nil, "", nil
}
