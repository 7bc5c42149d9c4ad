// Package ws is the WebSocket transport used to reach the broadcast endpoint.
package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/danmaku/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	SendBuffer       int
}

func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        1 << 20,
		SendBuffer:       32,
	}
}

type Dialer struct {
	dialer *websocket.Dialer
	opts   Options
}

var _ core.Dialer = (*Dialer)(nil)

func NewDialer(opts Options) *Dialer {
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = opts.HandshakeTimeout
	return &Dialer{dialer: &d, opts: opts}
}

func (d *Dialer) Dial(ctx context.Context, url string) (core.Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	log.Info().Str("module", "ws").Str("url", url).Msg("connected")
	return newConn(ws, d.opts), nil
}
