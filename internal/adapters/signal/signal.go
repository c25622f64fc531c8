// Package signal is the relay server's websocket controller. It assigns
// a connection id at upgrade, routes targeted payloads by connection id
// and fans out voice-room membership events. Payload bodies stay opaque.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avesler/huddle/internal/app"
	"github.com/avesler/huddle/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Registry *app.Registry
	Limiter  *JoinRateLimiter

	// ReadLimit caps the size of inbound frames; PingPeriod drives
	// keepalive pings from the write pump. Zero keeps the websocket
	// default limit and the default ping cadence respectively.
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewController(reg *app.Registry, limiter *JoinRateLimiter) *Controller {
	return &Controller{Registry: reg, Limiter: limiter}
}

// WsConn is one websocket endpoint with a buffered outbound queue.
type WsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request, assigns a fresh connection id and
// runs the pumps. The id is sent first so the client can identify
// itself in outgoing signaling payloads.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	id := core.ConnID(uuid.NewString())
	conn := &WsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	log.Info().Str("module", "signal").Str("conn_id", string(id)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(id, conn, cancel)
	ctl.sendJSON(conn, core.Welcome{Type: core.EventWelcome, ID: id})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, id, conn)
}
