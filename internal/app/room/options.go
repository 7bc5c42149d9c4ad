package room

import (
	"fmt"
	"time"

	"github.com/dkeye/danmaku/internal/domain"
)

const (
	DefaultReconnectDelay    = 3 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultGiftQuietPeriod   = 3 * time.Second
	DefaultFansPollInterval  = 5 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	DefaultFetchTimeout      = 5 * time.Second
)

// Endpoint is the fixed broadcast server, reachable over ws or wss.
type Endpoint struct {
	Host    string
	Port    int
	TLSPort int
	Path    string
}

func DefaultEndpoint() Endpoint {
	return Endpoint{
		Host:    "broadcastlv.chat.bilibili.com",
		Port:    2244,
		TLSPort: 2245,
		Path:    "sub",
	}
}

func (e Endpoint) URL(tls bool) string {
	if tls {
		return fmt.Sprintf("wss://%s:%d/%s", e.Host, e.TLSPort, e.Path)
	}
	return fmt.Sprintf("ws://%s:%d/%s", e.Host, e.Port, e.Path)
}

type Options struct {
	// Ref is the room reference. In direct mode it must be the numeric
	// room id and resolution is skipped.
	Ref    string
	Direct bool
	// AnchorID seeds the host id in direct mode, where nothing resolves it.
	AnchorID domain.UserID
	// UserID zero means a random guest id.
	UserID domain.UserID
	Fans   bool
	TLS    bool

	Endpoint Endpoint

	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	GiftQuietPeriod   time.Duration
	FansPollInterval  time.Duration
	DialTimeout       time.Duration
	FetchTimeout      time.Duration
}

func (o *Options) applyDefaults() {
	if o.Endpoint == (Endpoint{}) {
		o.Endpoint = DefaultEndpoint()
	}
	if o.UserID == 0 {
		o.UserID = domain.NewGuestUserID()
	}
	setDefault(&o.ReconnectDelay, DefaultReconnectDelay)
	setDefault(&o.HeartbeatInterval, DefaultHeartbeatInterval)
	setDefault(&o.GiftQuietPeriod, DefaultGiftQuietPeriod)
	setDefault(&o.FansPollInterval, DefaultFansPollInterval)
	setDefault(&o.DialTimeout, DefaultDialTimeout)
	setDefault(&o.FetchTimeout, DefaultFetchTimeout)
}

func setDefault(d *time.Duration, v time.Duration) {
	if *d <= 0 {
		*d = v
	}
}
