// Package room keeps one live-room session alive: it connects to the
// broadcast endpoint, joins the room, keeps the connection beating,
// reconnects after drops, polls the audience roster and coalesces gift
// bursts before publishing everything on an event bus.
//
// All session state is owned by a single loop goroutine. Transport
// callbacks, timers and public calls are turned into closures posted to
// that loop, so no two of them ever run concurrently.
package room

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dkeye/danmaku/internal/core"
	"github.com/dkeye/danmaku/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const inboxSize = 256

var (
	ErrTerminated       = errors.New("session terminated")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrNoResolver       = errors.New("no room resolver configured")
	ErrInvalidRoomRef   = errors.New("direct mode needs a numeric room id")
)

type Deps struct {
	Dialer   core.Dialer
	Codec    core.Codec
	Resolver core.RoomResolver
	Fans     core.FansSource
}

type Service struct {
	opts   Options
	deps   Deps
	bus    *Bus
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	inbox     chan func()
	done      chan struct{}
	startOnce sync.Once

	state      atomic.Int32
	terminated atomic.Bool

	infoMu sync.RWMutex
	info   domain.Room

	// Owned by the loop goroutine.
	stopped    bool
	conn       core.Conn
	connGen    uint64
	dialing    bool
	cancelDial context.CancelFunc
	tls        bool
	timers     [timerKinds]timer
	gifts      *aggregator
	roster     *roster
}

func NewService(opts Options, deps Deps) *Service {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		opts:   opts,
		deps:   deps,
		bus:    NewBus(),
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan func(), inboxSize),
		done:   make(chan struct{}),
		tls:    opts.TLS,
		roster: newRoster(),
		info: domain.Room{
			Ref:    opts.Ref,
			Anchor: domain.User{ID: opts.AnchorID},
		},
	}
	if id, err := strconv.ParseInt(opts.Ref, 10, 64); err == nil {
		s.info.ID = domain.RoomID(id)
	}
	s.logger = log.With().
		Str("module", "app.room").
		Str("ref", opts.Ref).
		Int64("uid", int64(opts.UserID)).
		Logger()
	s.gifts = newAggregator(opts.GiftQuietPeriod, s.post, func(m domain.Message) {
		s.bus.Publish(core.GiftBundleEvent{Message: m})
	})
	return s
}

// Init resolves the room (unless in direct mode) and connects. A
// resolution failure is returned as is and never retried here.
func (s *Service) Init(ctx context.Context) error {
	if s.terminated.Load() {
		return ErrTerminated
	}
	if s.opts.Direct {
		if s.Info().ID == 0 {
			return fmt.Errorf("%w: %q", ErrInvalidRoomRef, s.opts.Ref)
		}
		return s.Connect()
	}
	if s.deps.Resolver == nil {
		return fmt.Errorf("%w: %w", core.ErrResolution, ErrNoResolver)
	}
	room, err := s.deps.Resolver.Resolve(ctx, s.opts.Ref)
	if err != nil {
		if !errors.Is(err, core.ErrResolution) {
			err = fmt.Errorf("%w: %w", core.ErrResolution, err)
		}
		s.logger.Error().Err(err).Msg("init failed")
		return err
	}
	s.infoMu.Lock()
	s.info = *room
	s.infoMu.Unlock()
	s.logger.Info().Int64("room", int64(room.ID)).Str("title", room.Title).Msg("room resolved")
	return s.Connect()
}

// Connect opens the transport. Calling it while a transport is live or
// being dialled returns ErrAlreadyConnected.
func (s *Service) Connect() error {
	return s.call(s.connect)
}

// Reconnect tears everything down and connects again after the
// reconnect delay. A second call restarts the delay.
func (s *Service) Reconnect() {
	s.call(func() error {
		if s.terminated.Load() {
			return ErrTerminated
		}
		s.reconnect()
		return nil
	})
}

// Disconnect cancels every timer and closes the transport. Safe to call
// when already disconnected.
func (s *Service) Disconnect() {
	s.call(func() error {
		s.disconnect()
		if !s.terminated.Load() {
			s.setState(Idle)
		}
		return nil
	})
}

// Terminate stops the session for good. It is idempotent.
func (s *Service) Terminate() {
	s.call(func() error {
		s.terminate()
		return nil
	})
}

// UseTLS switches between the plain and encrypted endpoint. A change
// forces a reconnect of an active session.
func (s *Service) UseTLS(use bool) {
	s.call(func() error {
		if s.tls == use {
			return nil
		}
		s.tls = use
		if sw, ok := s.deps.Resolver.(core.SchemeSwitcher); ok {
			sw.UseTLS(use)
		}
		if sw, ok := s.deps.Fans.(core.SchemeSwitcher); ok {
			sw.UseTLS(use)
		}
		s.logger.Info().Bool("tls", use).Msg("transport variant switched")
		if s.active() && !s.terminated.Load() {
			s.reconnect()
		}
		return nil
	})
}

func (s *Service) Info() domain.Room {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return s.info
}

func (s *Service) UserID() domain.UserID { return s.opts.UserID }

func (s *Service) State() State { return State(s.state.Load()) }

// Admins lists the room's moderators.
func (s *Service) Admins(ctx context.Context) ([]domain.Admin, error) {
	if s.deps.Resolver == nil {
		return nil, ErrNoResolver
	}
	return s.deps.Resolver.Admins(ctx, s.Info().ID)
}

// Subscribe registers for events on the given topics (all when none).
func (s *Service) Subscribe(buffer int, topics ...core.Topic) (<-chan core.Event, func()) {
	return s.bus.Subscribe(buffer, topics...)
}

// Done is closed once the session has terminated.
func (s *Service) Done() <-chan struct{} { return s.done }

func (s *Service) ensureLoop() {
	s.startOnce.Do(func() { go s.run() })
}

func (s *Service) run() {
	for fn := range s.inbox {
		fn()
		if s.stopped {
			break
		}
	}
	close(s.done)
	// Late arrivals only release resources: every handler checks for
	// termination first.
	for {
		select {
		case fn := <-s.inbox:
			fn()
		default:
			return
		}
	}
}

// post queues fn on the loop. It reports false once the loop has exited.
func (s *Service) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (s *Service) call(fn func() error) error {
	s.ensureLoop()
	res := make(chan error, 1)
	if !s.post(func() { res <- fn() }) {
		return ErrTerminated
	}
	select {
	case err := <-res:
		return err
	case <-s.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrTerminated
		}
	}
}

func (s *Service) setState(st State) {
	if old := State(s.state.Swap(int32(st))); old != st {
		s.logger.Debug().Str("from", old.String()).Str("to", st.String()).Msg("state")
	}
}
