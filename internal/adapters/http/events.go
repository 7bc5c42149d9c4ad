package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/danmaku/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	streamBuffer      = 64
	writeWait         = 5 * time.Second
	defaultPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is the wire shape of a relayed event.
type envelope struct {
	Type core.Topic `json:"type"`
	Data any        `json:"data"`
}

// eventType names an event by its most specific topic, e.g. "danmaku"
// rather than "data" for a chat message.
func eventType(e core.Event) core.Topic {
	topics := e.Topics()
	return topics[len(topics)-1]
}

func wrap(e core.Event) envelope {
	return envelope{Type: eventType(e), Data: core.Payload(e)}
}

type eventStreams struct {
	sess       Session
	ctx        context.Context
	readLimit  int64
	pingPeriod time.Duration
}

func (s *eventStreams) handleWS(c *gin.Context) {
	sid := c.GetString("client_token")
	topics := topicsOf(c)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "adapters.http").Str("sid", sid).Interface("topics", topics).Msg("event stream opened")

	events, unsubscribe := s.sess.Subscribe(streamBuffer, topics...)
	ctx, cancel := context.WithCancel(s.ctx)

	go s.writePump(ctx, sid, ws, events, unsubscribe)
	go s.readPump(sid, ws, cancel)
}

func (s *eventStreams) period() time.Duration {
	if s.pingPeriod <= 0 {
		return defaultPingPeriod
	}
	return s.pingPeriod
}

func (s *eventStreams) writePump(ctx context.Context, sid string, ws *websocket.Conn, events <-chan core.Event, unsubscribe func()) {
	ticker := time.NewTicker(s.period())
	defer func() {
		ticker.Stop()
		unsubscribe()
		_ = ws.Close()
		log.Info().Str("module", "adapters.http").Str("sid", sid).Msg("event stream closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "session terminated")
				_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			data, err := json.Marshal(wrap(e))
			if err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("event marshal")
				continue
			}
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Str("sid", sid).Msg("event write")
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump only drains control frames; the stream is one-way.
func (s *eventStreams) readPump(sid string, ws *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	pongWait := s.period() * 10 / 9
	if s.readLimit > 0 {
		ws.SetReadLimit(s.readLimit)
	}
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			log.Debug().Err(err).Str("module", "adapters.http").Str("sid", sid).Msg("event stream read ended")
			return
		}
	}
}

func (s *eventStreams) handleSSE(c *gin.Context) {
	events, unsubscribe := s.sess.Subscribe(streamBuffer, topicsOf(c)...)
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(io.Writer) bool {
		select {
		case e, ok := <-events:
			if !ok {
				return false
			}
			env := wrap(e)
			c.SSEvent(string(env.Type), env)
			return true
		case <-c.Request.Context().Done():
			return false
		case <-s.ctx.Done():
			return false
		}
	})
}
