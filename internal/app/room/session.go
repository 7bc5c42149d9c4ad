package room

import (
	"context"

	"github.com/dkeye/danmaku/internal/core"
	"github.com/dkeye/danmaku/internal/domain"
)

// Everything in this file runs on the loop goroutine.

func (s *Service) connect() error {
	if s.terminated.Load() {
		return ErrTerminated
	}
	if s.conn != nil || s.dialing {
		return ErrAlreadyConnected
	}
	s.timers[timerReconnect].stop()

	s.connGen++
	gen := s.connGen
	s.dialing = true
	s.setState(Connecting)

	url := s.opts.Endpoint.URL(s.tls)
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.DialTimeout)
	s.cancelDial = cancel
	s.logger.Info().Str("url", url).Uint64("gen", gen).Msg("connecting")

	go func() {
		conn, err := s.deps.Dialer.Dial(ctx, url)
		cancel()
		if !s.post(func() { s.onDialed(gen, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()

	if s.opts.Fans {
		s.fetchFans()
	}
	return nil
}

func (s *Service) onDialed(gen uint64, conn core.Conn, err error) {
	if gen != s.connGen || s.terminated.Load() {
		if conn != nil {
			conn.Close()
		}
		return
	}
	s.dialing = false
	s.cancelDial = nil
	if err != nil {
		s.logger.Warn().Err(err).Msg("dial failed")
		s.bus.Publish(core.ErrorEvent{Err: err})
		s.reconnect()
		return
	}

	s.conn = conn
	conn.Start(core.ConnHandlers{
		OnFrame: func(f core.Frame) {
			s.post(func() { s.onFrame(gen, f) })
		},
		OnClose: func(code int, reason string) {
			s.post(func() { s.onClose(gen, code, reason) })
		},
		OnError: func(err error) {
			s.post(func() { s.onError(gen, err) })
		},
	})
	s.onOpen()
}

func (s *Service) onOpen() {
	s.sendJoinRoom()
	s.bus.Publish(core.ConnectEvent{})
}

func (s *Service) onFrame(gen uint64, f core.Frame) {
	if gen != s.connGen || s.conn == nil {
		return
	}
	for _, m := range s.deps.Codec.Decode(f) {
		switch m.Kind {
		case domain.KindConnected:
			s.setState(Joined)
			s.logger.Info().Int64("room", int64(s.Info().ID)).Msg("joined")
			s.sendHeartbeat()
		case domain.KindGift:
			s.gifts.add(m)
		}
		s.bus.Publish(core.MessageEvent{Message: m})
		// A handler above may have torn the connection down.
		if gen != s.connGen {
			return
		}
	}
}

func (s *Service) onClose(gen uint64, code int, reason string) {
	if gen != s.connGen {
		return
	}
	s.conn = nil
	s.logger.Info().Int("code", code).Str("reason", reason).Msg("transport closed")
	s.bus.Publish(core.CloseEvent{Code: code, Reason: reason})
	if !s.terminated.Load() {
		s.reconnect()
	}
}

func (s *Service) onError(gen uint64, err error) {
	if gen != s.connGen {
		return
	}
	s.conn = nil
	s.logger.Warn().Err(err).Msg("transport error")
	s.bus.Publish(core.ErrorEvent{Err: err})
	if !s.terminated.Load() {
		s.reconnect()
	}
}

func (s *Service) reconnect() {
	s.disconnect()
	s.setState(Closing)
	s.logger.Info().Dur("delay", s.opts.ReconnectDelay).Msg("reconnect scheduled")
	s.timers[timerReconnect].reset(s.post, s.opts.ReconnectDelay, func() {
		if err := s.connect(); err != nil {
			s.logger.Warn().Err(err).Msg("reconnect skipped")
		}
	})
}

// disconnect stops every timer, flushes pending gift bundles and closes
// the transport. Callbacks from the old transport are ignored afterwards.
func (s *Service) disconnect() {
	for i := range s.timers {
		s.timers[i].stop()
	}
	s.gifts.flush()
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	s.dialing = false
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connGen++
}

func (s *Service) terminate() {
	if s.terminated.Swap(true) {
		return
	}
	s.disconnect()
	s.setState(Terminated)
	s.cancel()
	s.bus.Close()
	s.stopped = true
	s.logger.Info().Msg("terminated")
}

// active reports whether a transport is live, being dialled or about to
// be redialled.
func (s *Service) active() bool {
	return s.conn != nil || s.dialing || s.timers[timerReconnect].pending()
}

func (s *Service) sendJoinRoom() {
	if s.conn == nil {
		return
	}
	frame := s.deps.Codec.EncodeJoin(s.Info().ID, s.opts.UserID)
	if err := s.conn.TrySend(frame); err != nil {
		s.logger.Warn().Err(err).Msg("join send failed")
	}
}

// sendHeartbeat sends one keep-alive and schedules the next.
func (s *Service) sendHeartbeat() {
	if s.conn == nil {
		return
	}
	if err := s.conn.TrySend(s.deps.Codec.EncodeHeartbeat()); err != nil {
		s.logger.Warn().Err(err).Msg("heartbeat send failed")
	}
	s.timers[timerHeartbeat].reset(s.post, s.opts.HeartbeatInterval, s.sendHeartbeat)
}
