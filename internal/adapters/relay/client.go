// Package relay implements the client side of the signal relay link:
// one websocket connection, a buffered write pump and a read pump that
// dispatches frames through a table keyed by event type. The table is
// filled once, when coordinators are constructed, and never rebound.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avesler/huddle/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("relay connection closed")
)

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
	helloTimeout = 10 * time.Second
)

type Client struct {
	conn *websocket.Conn
	id   core.ConnID
	send chan core.Frame

	hmu      sync.RWMutex
	handlers map[string]core.EventHandler

	mu     sync.RWMutex
	closed bool
}

// Dial connects to the relay and blocks until the welcome frame with the
// assigned connection id arrives. Call Start to begin dispatching.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("relay dial: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("relay welcome: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var hello core.Welcome
	if err := json.Unmarshal(data, &hello); err != nil || hello.Type != core.EventWelcome || hello.ID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("relay welcome: bad frame %q", data)
	}

	log.Info().Str("module", "relay").Str("conn_id", string(hello.ID)).Msg("connected to relay")
	return &Client{
		conn:     conn,
		id:       hello.ID,
		send:     make(chan core.Frame, sendBuffer),
		handlers: make(map[string]core.EventHandler),
	}, nil
}

func (c *Client) ConnID() core.ConnID { return c.id }

// Handle registers the handler for an event type, replacing any
// previous one. Register everything before Start.
func (c *Client) Handle(event string, fn core.EventHandler) {
	c.hmu.Lock()
	c.handlers[event] = fn
	c.hmu.Unlock()
}

// Start launches the read and write pumps. They stop when ctx is done
// or the connection drops.
func (c *Client) Start(ctx context.Context) {
	go c.writePump(ctx)
	go c.readPump(ctx)
}

func (c *Client) Emit(payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("relay emit: %w", err)
	}
	return c.trySend(b)
}

func (c *Client) trySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "relay").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		log.Info().Str("module", "relay").Msg("readPump closing")
		_ = c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Warn().Err(err).Str("module", "relay").Msg("readPump read error")
				return
			}
			c.dispatch(data)
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad json frame")
		return
	}
	c.hmu.RLock()
	fn, ok := c.handlers[env.Type]
	c.hmu.RUnlock()
	if !ok {
		log.Warn().Str("module", "relay").Str("type", env.Type).Msg("unhandled event")
		return
	}
	fn(data)
}
