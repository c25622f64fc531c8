package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/avesler/huddle/internal/app"
	"github.com/avesler/huddle/internal/core"
)

// handleJoinVoice adds the connection to a room and tells the existing
// members so they can start initiating peer sessions toward it.
func (ctl *Controller) handleJoinVoice(id core.ConnID, c *WsConn, data []byte) {
	p, err := core.Decode[core.JoinVoice](data)
	if err != nil || p.RoomID == "" || p.UserID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join-voice payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(p.UserID) {
		log.Warn().Str("module", "signal").Str("user", string(p.UserID)).Msg("join rate limited")
		ctl.sendError(c, "rate_limited")
		return
	}

	// join-voice doubles as identity binding for clients that skipped
	// the explicit join-room step.
	ctl.Registry.SetUser(id, p.UserID)

	// JoinRoom snapshots the prior membership under its own lock;
	// a separate MembersOfRoom call here would let two concurrent
	// joins both miss each other and leave the pair sessionless.
	existing, ok := ctl.Registry.JoinRoom(id, p.RoomID)
	if !ok {
		ctl.sendError(c, "unknown_connection")
		return
	}

	log.Info().Str("module", "signal").Str("conn_id", string(id)).Str("room", string(p.RoomID)).Str("user", string(p.UserID)).Msg("join voice")
	ctl.broadcast(existing, core.UserJoinedVoice{
		Type:   core.EventUserJoinedVoice,
		UserID: p.UserID,
		PeerID: id,
	})
}

func (ctl *Controller) handleLeaveVoice(id core.ConnID, data []byte) {
	p, err := core.Decode[core.LeaveVoice](data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad leave-voice payload")
		return
	}
	room, ok := ctl.Registry.LeaveRoom(id)
	if !ok {
		return
	}
	user, _ := ctl.Registry.UserOf(id)
	if user == "" {
		user = p.UserID
	}

	log.Info().Str("module", "signal").Str("conn_id", string(id)).Str("room", string(room)).Msg("leave voice")
	ctl.broadcast(ctl.Registry.MembersOfRoom(room), core.UserLeftVoice{
		Type:   core.EventUserLeftVoice,
		UserID: user,
	})
}

// handleDisconnect mirrors leave-voice for connections that just drop.
func (ctl *Controller) handleDisconnect(id core.ConnID) {
	room, user, ok := ctl.Registry.Unbind(id)
	if !ok || room == "" {
		return
	}
	log.Info().Str("module", "signal").Str("conn_id", string(id)).Str("room", string(room)).Msg("disconnect while in voice")
	ctl.broadcast(ctl.Registry.MembersOfRoom(room), core.UserLeftVoice{
		Type:   core.EventUserLeftVoice,
		UserID: user,
	})
}

// broadcast fans a payload out to a membership snapshot. A member whose
// send queue is full gets kicked rather than stalling the room.
func (ctl *Controller) broadcast(members []app.MemberSnap, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	for _, m := range members {
		if err := m.Conn.TrySend(b); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("conn_id", string(m.ID)).Msg("broadcast drop, kicking")
			ctl.kick(m.ID)
		}
	}
}

// sendOrKick delivers one payload; a slow connection gets kicked so its
// pumps unwind through the disconnect path.
func (ctl *Controller) sendOrKick(id core.ConnID, conn core.SignalConn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := conn.TrySend(b); err != nil {
		ctl.kick(id)
		return err
	}
	return nil
}

func (ctl *Controller) kick(id core.ConnID) {
	ctl.Registry.Cancel(id)
	if conn, ok := ctl.Registry.Conn(id); ok {
		conn.Close()
	}
}
