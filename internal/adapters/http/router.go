// Package http exposes the running room session to local clients: room
// info and control endpoints plus live event streams over WebSocket and
// server-sent events.
package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/danmaku/internal/app/room"
	"github.com/dkeye/danmaku/internal/config"
	"github.com/dkeye/danmaku/internal/core"
	"github.com/dkeye/danmaku/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session is the part of room.Service the relay needs.
type Session interface {
	Info() domain.Room
	UserID() domain.UserID
	State() room.State
	Admins(ctx context.Context) ([]domain.Admin, error)
	Reconnect()
	UseTLS(bool)
	Subscribe(buffer int, topics ...core.Topic) (<-chan core.Event, func())
}

var _ Session = (*room.Service)(nil)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

const (
	controlLimit  = 5
	controlWindow = 10 * time.Second
)

type roomView struct {
	domain.Room
	UserID domain.UserID `json:"user_id"`
	State  string        `json:"state"`
}

type tlsRequest struct {
	Enabled *bool `json:"enabled"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, sess Session) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("DanmakuSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Str("room", sess.Info().Ref).Msg("router setup")

	api := r.Group("/api")

	api.GET("/room", func(c *gin.Context) {
		c.JSON(http.StatusOK, roomView{
			Room:   sess.Info(),
			UserID: sess.UserID(),
			State:  sess.State().String(),
		})
	})

	api.GET("/room/admins", func(c *gin.Context) {
		admins, err := sess.Admins(c.Request.Context())
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, room.ErrNoResolver) {
				status = http.StatusNotImplemented
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"admins": admins})
	})

	control := api.Group("/room")
	control.Use(NewControlRateLimiter(controlLimit, controlWindow).Middleware())

	control.POST("/reconnect", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("reconnect requested")
		sess.Reconnect()
		c.JSON(http.StatusAccepted, gin.H{"state": sess.State().String()})
	})

	control.POST("/tls", func(c *gin.Context) {
		var req tlsRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid enabled"})
			return
		}
		sess.UseTLS(*req.Enabled)
		c.JSON(http.StatusOK, gin.H{"tls": *req.Enabled})
	})

	streams := &eventStreams{
		sess:       sess,
		ctx:        ctx,
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
	}
	api.GET("/ws/events", streams.handleWS)
	api.GET("/events", streams.handleSSE)

	return r
}

// topicsOf reads ?topic=a&topic=b or ?topic=a,b. No topic means all.
func topicsOf(c *gin.Context) []core.Topic {
	var out []core.Topic
	for _, raw := range c.QueryArray("topic") {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, core.Topic(t))
			}
		}
	}
	return out
}
