package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/danmaku/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Conn is a client-side WebSocket transport.
// It implements core.Conn.
type Conn struct {
	conn         *websocket.Conn
	send         chan core.Frame
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool

	// only one terminal callback per connection
	finish sync.Once
}

var _ core.Conn = (*Conn)(nil)

func newConn(ws *websocket.Conn, opts Options) *Conn {
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	return &Conn{
		conn:         ws,
		send:         make(chan core.Frame, opts.SendBuffer),
		writeTimeout: opts.WriteTimeout,
	}
}

func (c *Conn) Start(h core.ConnHandlers) {
	go c.writePump(h)
	go c.readPump(h)
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Close is idempotent and never blocks: the close frame and the socket
// teardown happen in the background, since a write pump stuck on a slow
// peer holds the write lock. No handler fires after a local Close.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	go func() {
		deadline := time.Now().Add(c.writeTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.conn.Close()
	}()
}

func (c *Conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Conn) writePump(h core.ConnHandlers) {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			c.fail(h, err)
			return
		}
		if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
			c.fail(h, err)
			return
		}
	}
	log.Debug().Str("module", "ws").Msg("writePump channel closed")
}

func (c *Conn) readPump(h core.ConnHandlers) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(h, err)
			return
		}
		if c.isClosed() {
			return
		}
		if h.OnFrame != nil {
			h.OnFrame(core.Frame(data))
		}
	}
}

// fail releases the socket and reports the first terminal condition,
// unless the connection was already closed locally.
func (c *Conn) fail(h core.ConnHandlers, err error) {
	c.finish.Do(func() {
		local := c.isClosed()
		c.Close()
		if local {
			return
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			log.Info().Str("module", "ws").Int("code", ce.Code).Str("reason", ce.Text).Msg("remote closed")
			if h.OnClose != nil {
				h.OnClose(ce.Code, ce.Text)
			}
			return
		}
		log.Warn().Err(err).Str("module", "ws").Msg("transport error")
		if h.OnError != nil {
			h.OnError(err)
		}
	})
}
