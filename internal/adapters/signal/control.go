package signal

import "github.com/avesler/huddle/internal/core"

func (ctl *Controller) handlePing(c *WsConn) {
	ctl.sendJSON(c, core.Envelope{Type: core.EventPong})
}
