package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avesler/huddle/internal/core"
)

const defaultPingPeriod = 54 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *WsConn) {
	period := ctl.PingPeriod
	if period <= 0 {
		period = defaultPingPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, id core.ConnID, c *WsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn_id", string(id)).Msg("readPump closing")
		ctl.handleDisconnect(id)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn_id", string(id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn_id", string(id)).Msg("readPump read error")
				return
			}
			ctl.handleFrame(id, c, data)
		}
	}
}

func (ctl *Controller) handleFrame(id core.ConnID, c *WsConn, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case core.EventJoinRoom:
		ctl.handleJoinRoom(id, c, data)
	case core.EventCallUser, core.EventCallAccepted, core.EventICECandidate, core.EventVoiceSignal:
		ctl.forward(id, env.Type, data)
	case core.EventJoinVoice:
		ctl.handleJoinVoice(id, c, data)
	case core.EventLeaveVoice:
		ctl.handleLeaveVoice(id, data)
	case core.EventPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) sendJSON(c core.SignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c core.SignalConn, msg string) {
	ctl.sendJSON(c, core.ErrorEvent{Type: core.EventError, Error: msg})
}
