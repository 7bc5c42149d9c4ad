package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/danmaku/internal/adapters/api"
	router "github.com/dkeye/danmaku/internal/adapters/http"
	"github.com/dkeye/danmaku/internal/adapters/ws"
	"github.com/dkeye/danmaku/internal/app/room"
	"github.com/dkeye/danmaku/internal/config"
	"github.com/dkeye/danmaku/internal/core"
	"github.com/dkeye/danmaku/internal/domain"
	"github.com/dkeye/danmaku/internal/protocol"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	client := api.NewClient(api.Options{
		Host:     cfg.API.Host,
		FansHost: cfg.API.FansHost,
		Timeout:  cfg.API.Timeout,
		TLS:      cfg.Room.TLS,
	})
	sess := room.NewService(room.Options{
		Ref:      cfg.Room.Ref,
		Direct:   cfg.Room.Direct,
		AnchorID: domain.UserID(cfg.Room.AnchorID),
		UserID:   domain.UserID(cfg.Room.UserID),
		Fans:     cfg.Room.Fans,
		TLS:      cfg.Room.TLS,
		Endpoint: room.Endpoint{
			Host:    cfg.Endpoint.Host,
			Port:    cfg.Endpoint.Port,
			TLSPort: cfg.Endpoint.TLSPort,
			Path:    cfg.Endpoint.Path,
		},
		ReconnectDelay:    cfg.Timing.Reconnect,
		HeartbeatInterval: cfg.Timing.Heartbeat,
		GiftQuietPeriod:   cfg.Timing.GiftQuiet,
		FansPollInterval:  cfg.Timing.FansPoll,
		FetchTimeout:      cfg.API.Timeout,
	}, room.Deps{
		Dialer:   ws.NewDialer(ws.DefaultOptions()),
		Codec:    protocol.NewCodec(),
		Resolver: client,
		Fans:     client,
	})

	events, _ := sess.Subscribe(256)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router.SetupRouter(ctx, cfg, sess),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("danmaku relay started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return sess.Init(gctx)
	})

	g.Go(func() error {
		logEvents(events)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		sess.Terminate()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

// logEvents prints the session's event stream until it closes.
func logEvents(events <-chan core.Event) {
	l := log.With().Str("module", "main").Logger()
	for e := range events {
		switch ev := e.(type) {
		case core.ConnectEvent:
			l.Info().Msg("connected")
		case core.CloseEvent:
			l.Warn().Int("code", ev.Code).Str("reason", ev.Reason).Msg("connection closed")
		case core.ErrorEvent:
			l.Warn().Err(ev.Err).Msg("connection error")
		case core.MessageEvent:
			logMessage(l, ev.Message)
		case core.GiftBundleEvent:
			m := ev.Message
			l.Info().Str("user", userName(m.User)).Str("gift", m.Gift.Name).Int64("count", m.Gift.Count).Msg("gift bundle")
		case core.FansEvent:
			if len(ev.Update.NewIDs) > 0 {
				l.Info().Int64("total", ev.Update.Total).Interface("new", ev.Update.NewIDs).Msg("new fans")
			}
		}
	}
}

func logMessage(l zerolog.Logger, m domain.Message) {
	switch m.Kind {
	case domain.KindDanmaku:
		l.Info().Str("user", userName(m.User)).Str("text", m.Content).Msg("danmaku")
	case domain.KindSuperChat:
		l.Info().Str("user", userName(m.User)).Int64("price", m.Price).Str("text", m.Content).Msg("super chat")
	case domain.KindGuard:
		l.Info().Str("user", userName(m.User)).Int64("level", m.Level).Msg("guard")
	case domain.KindWelcome:
		l.Debug().Str("user", userName(m.User)).Msg("welcome")
	case domain.KindBlock:
		l.Info().Str("user", userName(m.User)).Msg("user blocked")
	case domain.KindOnline:
		l.Debug().Int64("online", m.Online).Msg("online")
	case domain.KindUnknown:
		l.Debug().Str("cmd", m.Cmd).Msg("unhandled command")
	}
}

func userName(u *domain.User) string {
	if u == nil {
		return ""
	}
	return u.Name
}
